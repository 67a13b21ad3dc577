package broadcast

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type Repository struct {
	db *gorm.DB
}

func NewRepository(db *gorm.DB) *Repository {
	return &Repository{db: db}
}

func (r *Repository) WithTrx(tx *gorm.DB) *Repository {
	if tx == nil {
		return r
	}
	return &Repository{db: tx}
}

// Insert creates the offer unless the pair already exists. It reports
// whether a new row was written.
func (r *Repository) Insert(ctx context.Context, b *Broadcast) (bool, error) {
	res := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "job_id"}, {Name: "technician_id"}},
			DoNothing: true,
		}).
		Create(b)
	if res.Error != nil {
		return false, res.Error
	}
	if res.RowsAffected == 0 {
		return false, nil
	}
	// mysql renders DoNothing as ON DUPLICATE KEY UPDATE, which counts the
	// existing row as affected under clientFoundRows
	return r.owns(ctx, b)
}

// owns reports whether the stored row for b's pair is b itself.
func (r *Repository) owns(ctx context.Context, b *Broadcast) (bool, error) {
	stored, err := r.Find(ctx, b.JobID, b.TechnicianID)
	if err != nil {
		return false, err
	}
	return stored != nil && stored.ID == b.ID, nil
}

// Find returns nil, nil when the technician was never offered the job.
func (r *Repository) Find(ctx context.Context, jobID, technicianID snowflake.ID) (*Broadcast, error) {
	var b Broadcast
	err := r.db.WithContext(ctx).
		Where("job_id = ? AND technician_id = ?", jobID, technicianID).
		Take(&b).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &b, nil
}

func (r *Repository) CountForJob(ctx context.Context, jobID snowflake.ID) (int64, error) {
	var n int64
	err := r.db.WithContext(ctx).Model(&Broadcast{}).Where("job_id = ?", jobID).Count(&n).Error
	return n, err
}

// Respond moves a sent offer to status.
func (r *Repository) Respond(ctx context.Context, jobID, technicianID snowflake.ID, status Status, now time.Time) (bool, error) {
	res := r.db.WithContext(ctx).Model(&Broadcast{}).
		Where("job_id = ? AND technician_id = ? AND status = ?", jobID, technicianID, StatusSent).
		Updates(map[string]any{"status": status, "responded_at": now})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

// ExpireOpen expires every sent offer of the job except the one held by
// keep (zero keeps none) and returns the technicians that held them.
func (r *Repository) ExpireOpen(ctx context.Context, jobID, keep snowflake.ID, now time.Time) ([]snowflake.ID, error) {
	q := func() *gorm.DB {
		db := r.db.WithContext(ctx).Model(&Broadcast{}).
			Where("job_id = ? AND status = ?", jobID, StatusSent)
		if keep != 0 {
			db = db.Where("technician_id <> ?", keep)
		}
		return db
	}

	var holders []snowflake.ID
	if err := q().Order("technician_id").Pluck("technician_id", &holders).Error; err != nil {
		return nil, err
	}
	if len(holders) == 0 {
		return nil, nil
	}

	if err := q().Where("technician_id IN ?", holders).
		Updates(map[string]any{"status": StatusExpired, "responded_at": now}).Error; err != nil {
		return nil, err
	}
	return holders, nil
}

// Live returns the technician's sent offers that have not expired at now.
// Offers without an expiry count as live for fallbackAge after sending.
func (r *Repository) Live(ctx context.Context, technicianID snowflake.ID, now time.Time, fallbackAge time.Duration) ([]*Broadcast, error) {
	var out []*Broadcast
	err := r.db.WithContext(ctx).
		Where("technician_id = ? AND status = ?", technicianID, StatusSent).
		Where("((expires_at IS NOT NULL AND expires_at > ?) OR (expires_at IS NULL AND sent_at >= ?))", now, now.Add(-fallbackAge)).
		Order("sent_at DESC").
		Order("id DESC").
		Find(&out).Error
	return out, err
}
