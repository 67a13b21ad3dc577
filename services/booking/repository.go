package booking

import (
	"context"
	"errors"
	"time"

	"fieldops-dispatch/pkg/repository"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

// Repository holds the job queries. Every status write is a conditional
// update; the bool result reports whether this caller's write won.
type Repository struct {
	db   *gorm.DB
	jobs repository.Repository[Job]
}

func NewRepository(db *gorm.DB) *Repository {
	return &Repository{
		db:   db,
		jobs: repository.ProvideStore[Job](db),
	}
}

func (r *Repository) WithTrx(tx *gorm.DB) *Repository {
	if tx == nil {
		return r
	}
	return NewRepository(tx)
}

func (r *Repository) Create(ctx context.Context, job *Job) error {
	return r.jobs.Create(ctx, job)
}

// FindByID returns nil, nil when the job does not exist.
func (r *Repository) FindByID(ctx context.Context, id snowflake.ID) (*Job, error) {
	return r.jobs.FindOne(ctx, &Job{ID: id})
}

func (r *Repository) cas(ctx context.Context, scope func(*gorm.DB) *gorm.DB, updates map[string]any) (bool, error) {
	res := scope(r.db.WithContext(ctx).Model(&Job{})).Updates(updates)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

// MarkBroadcasted moves a requested job to broadcasted. An already
// broadcasted job keeps its original broadcasted_at.
func (r *Repository) MarkBroadcasted(ctx context.Context, id snowflake.ID, now time.Time) (bool, error) {
	return r.cas(ctx, func(db *gorm.DB) *gorm.DB {
		return db.Where("id = ? AND status = ?", id, StatusRequested)
	}, map[string]any{
		"status":         StatusBroadcasted,
		"broadcasted_at": now,
	})
}

// Assign is the first-accept-wins write: it only succeeds while the job is
// open and unassigned.
func (r *Repository) Assign(ctx context.Context, id, technicianID snowflake.ID, now time.Time) (bool, error) {
	return r.cas(ctx, func(db *gorm.DB) *gorm.DB {
		return db.Where("id = ? AND technician_id IS NULL AND status IN ?", id, OpenStatuses)
	}, map[string]any{
		"technician_id": technicianID,
		"status":        StatusAccepted,
		"assigned_at":   now,
	})
}

// Advance moves the job one step along the technician path.
func (r *Repository) Advance(ctx context.Context, id, technicianID snowflake.ID, from, to Status, now time.Time) (bool, error) {
	updates := map[string]any{"status": to}
	if to == StatusCompleted {
		updates["completed_at"] = now
	}
	return r.cas(ctx, func(db *gorm.DB) *gorm.DB {
		return db.Where("id = ? AND technician_id = ? AND status = ?", id, technicianID, from)
	}, updates)
}

func (r *Repository) Cancel(ctx context.Context, id, customerID snowflake.ID, now time.Time) (bool, error) {
	return r.cas(ctx, func(db *gorm.DB) *gorm.DB {
		return db.Where("id = ? AND customer_id = ? AND status IN ?", id, customerID, CancellableStatuses)
	}, map[string]any{
		"status":       StatusCancelled,
		"cancelled_at": now,
	})
}

func (r *Repository) SetWorkImages(ctx context.Context, id, technicianID snowflake.ID, before, after string) (bool, error) {
	updates := map[string]any{}
	if before != "" {
		updates["before_image"] = before
	}
	if after != "" {
		updates["after_image"] = after
	}
	return r.cas(ctx, func(db *gorm.DB) *gorm.DB {
		return db.Where("id = ? AND technician_id = ? AND status IN ?", id, technicianID, ActiveStatuses)
	}, updates)
}

// MarkPaid records the verified payment once.
func (r *Repository) MarkPaid(ctx context.Context, id snowflake.ID, paidAmount int64, paymentRef string) (bool, error) {
	return r.cas(ctx, func(db *gorm.DB) *gorm.DB {
		return db.Where("id = ? AND payment_status = ?", id, PaymentPending)
	}, map[string]any{
		"payment_status": PaymentPaid,
		"paid_amount":    paidAmount,
		"payment_ref":    paymentRef,
	})
}

// MarkSettlementEligible advances pending -> eligible; it never moves a
// settled job backwards.
func (r *Repository) MarkSettlementEligible(ctx context.Context, id snowflake.ID) (bool, error) {
	return r.cas(ctx, func(db *gorm.DB) *gorm.DB {
		return db.Where("id = ? AND settlement_status = ?", id, SettlementPending)
	}, map[string]any{"settlement_status": SettlementEligible})
}

func (r *Repository) MarkSettled(ctx context.Context, id snowflake.ID, now time.Time) (bool, error) {
	return r.cas(ctx, func(db *gorm.DB) *gorm.DB {
		return db.Where("id = ? AND settlement_status <> ?", id, SettlementSettled)
	}, map[string]any{
		"settlement_status": SettlementSettled,
		"settled_at":        now,
	})
}

// ActiveJob returns the job the technician currently holds, if any.
func (r *Repository) ActiveJob(ctx context.Context, technicianID snowflake.ID) (*Job, error) {
	var job Job
	err := r.db.WithContext(ctx).
		Where("technician_id = ? AND status IN ?", technicianID, ActiveStatuses).
		Order("assigned_at DESC").
		Take(&job).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &job, nil
}

// FindOpen returns the jobs with the given ids that are still unassigned and
// in one of statuses (open statuses by default).
func (r *Repository) FindOpen(ctx context.Context, ids []snowflake.ID, statuses ...Status) ([]*Job, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	if len(statuses) == 0 {
		statuses = OpenStatuses
	}
	var jobs []*Job
	err := r.db.WithContext(ctx).
		Where("id IN ? AND technician_id IS NULL AND status IN ?", ids, statuses).
		Find(&jobs).Error
	return jobs, err
}
