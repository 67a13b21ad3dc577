package settlement

import (
	"context"
	"crypto/rand"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"fieldops-dispatch/pkg/config"
	"fieldops-dispatch/pkg/db/option"
	"fieldops-dispatch/pkg/db/pagination"
	"fieldops-dispatch/pkg/errutil"
	"fieldops-dispatch/pkg/featureflags"
	"fieldops-dispatch/pkg/repository"
	"fieldops-dispatch/pkg/task"
	"fieldops-dispatch/pkg/taskname"
	"fieldops-dispatch/services/booking"
	"fieldops-dispatch/services/technician"

	"github.com/bwmarrin/snowflake"
	"github.com/hibiken/asynq"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

var tracer = otel.Tracer("fieldops-dispatch/settlement")

var settlementsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "dispatch_settlements_total",
	Help: "Settlement evaluations by outcome reason.",
}, []string{"reason"})

// errAlreadyCredited aborts the settlement transaction when the unique
// ledger key was taken by a concurrent caller.
var errAlreadyCredited = errors.New("job already credited")

// maxChainAttempts bounds how often a credit is rebuilt on a moved chain head.
const maxChainAttempts = 5

type Engine struct {
	db            *gorm.DB
	node          *snowflake.Node
	jobs          *booking.Repository
	entries       repository.Repository[LedgerEntry]
	flags         featureflags.FeatureFlag
	enqueuer      task.Enqueuer
	transactional bool
	now           func() time.Time
}

type Params struct {
	fx.In

	DB       *gorm.DB
	Node     *snowflake.Node
	Config   *config.Config           `optional:"true"`
	Flags    featureflags.FeatureFlag `optional:"true"`
	Enqueuer task.Enqueuer            `optional:"true"`
}

func NewEngine(p Params) *Engine {
	transactional := true
	if p.Config != nil {
		transactional = p.Config.Settlement.Transactional
	}
	flags := p.Flags
	if flags == nil {
		flags = featureflags.Static{}
	}
	return &Engine{
		db:            p.DB,
		node:          p.Node,
		jobs:          booking.NewRepository(p.DB),
		entries:       repository.ProvideStore[LedgerEntry](p.DB),
		flags:         flags,
		enqueuer:      p.Enqueuer,
		transactional: transactional,
		now:           func() time.Time { return time.Now().UTC() },
	}
}

// Transactional reports whether the ledger insert, balance increment and job
// update are applied as one unit for technicianID.
func (e *Engine) Transactional(ctx context.Context, technicianID snowflake.ID) bool {
	if !e.transactional {
		return false
	}
	return e.flags.Enabled(ctx, featureflags.SettlementTransactional, technicianID.String(), true)
}

// Settle credits the technician's wallet for jobID at most once, however
// often and however concurrently it is called.
func (e *Engine) Settle(ctx context.Context, jobID snowflake.ID) (*Result, error) {
	ctx, span := tracer.Start(ctx, "settlement.Settle")
	defer span.End()

	zapLog := zap.L().With(
		zap.String("trace_id", span.SpanContext().TraceID().String()),
		zap.String("job_id", jobID.String()),
	)

	if jobID <= 0 {
		return nil, errutil.BadRequest("invalid job id", nil)
	}

	job, err := e.jobs.FindByID(ctx, jobID)
	if err != nil {
		zapLog.Error("failed to load job", zap.Error(err))
		return nil, err
	}
	if job == nil {
		return nil, errutil.NotFound("job not found", nil)
	}

	res, err := e.settle(ctx, job)
	if err != nil {
		zapLog.Error("settlement failed", zap.Error(err))
		return nil, err
	}

	settlementsTotal.WithLabelValues(string(res.Reason)).Inc()
	span.SetAttributes(attribute.String("settlement.reason", string(res.Reason)))
	zapLog.Info("settlement evaluated", zap.Bool("settled", res.Settled), zap.String("reason", string(res.Reason)))
	return res, nil
}

func (e *Engine) settle(ctx context.Context, job *booking.Job) (*Result, error) {
	res := &Result{JobID: job.ID}

	if job.SettlementStatus == booking.SettlementSettled {
		res.Settled, res.Reason = true, ReasonAlreadySettled
		return res, nil
	}

	paid := job.PaymentStatus == booking.PaymentPaid
	if !paid || job.Status != booking.StatusCompleted || job.TechnicianID == nil {
		if paid && job.SettlementStatus == booking.SettlementPending {
			if _, err := e.jobs.MarkSettlementEligible(ctx, job.ID); err != nil {
				return nil, err
			}
		}
		res.Reason = ReasonNotEligible
		return res, nil
	}

	if job.TechnicianAmount <= 0 {
		if job.SettlementStatus == booking.SettlementPending {
			if _, err := e.jobs.MarkSettlementEligible(ctx, job.ID); err != nil {
				return nil, err
			}
		}
		res.Reason = ReasonInvalidTechnicianAmount
		return res, nil
	}

	res.Amount = job.TechnicianAmount
	if e.Transactional(ctx, *job.TechnicianID) {
		return e.settleTransactional(ctx, job, res)
	}
	return e.settleSequential(ctx, job, res)
}

// settleTransactional applies ledger insert, balance increment and job update
// in one transaction. The technician row is locked first so the hash chain
// and the existence check are serialized per technician.
func (e *Engine) settleTransactional(ctx context.Context, job *booking.Job, res *Result) (*Result, error) {
	techID := *job.TechnicianID
	now := e.now()

	var credited *LedgerEntry
	err := e.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var p technician.Profile
		if err := tx.Scopes(option.LockingUpdate).Select("id").Where("id = ?", techID).Take(&p).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return errutil.NotFound("technician not found", err)
			}
			return err
		}

		existing, err := e.entries.WithTrx(tx).FindOne(ctx, creditKey(job.ID))
		if err != nil {
			return err
		}
		if existing != nil {
			_, err := e.jobs.WithTrx(tx).MarkSettled(ctx, job.ID, now)
			return err
		}

		entry, err := e.newCredit(ctx, tx, job, now)
		if err != nil {
			return err
		}
		if err := e.entries.WithTrx(tx).Create(ctx, entry); err != nil {
			if errors.Is(err, gorm.ErrDuplicatedKey) {
				return errAlreadyCredited
			}
			return err
		}
		if err := incrementBalance(ctx, tx, techID, entry.Amount); err != nil {
			return err
		}
		if _, err := e.jobs.WithTrx(tx).MarkSettled(ctx, job.ID, now); err != nil {
			return err
		}
		credited = entry
		return nil
	})
	if errors.Is(err, errAlreadyCredited) {
		// the duplicate may be a chain link taken by a writer outside the lock
		existing, ferr := e.entries.FindOne(ctx, creditKey(job.ID))
		if ferr != nil {
			return nil, ferr
		}
		if existing == nil {
			return nil, errutil.Conflict("ledger head moved, retry settlement", err)
		}
		if _, err := e.jobs.MarkSettled(ctx, job.ID, now); err != nil {
			return nil, err
		}
		res.Settled, res.Reason = true, ReasonAlreadyCredited
		return res, nil
	}
	if err != nil {
		return nil, err
	}

	res.Settled = true
	if credited == nil {
		res.Reason = ReasonAlreadyCredited
		return res, nil
	}
	res.Reason = ReasonSettledTransactional
	res.EntryID = &credited.ID
	return res, nil
}

// settleSequential is used where multi-statement transactions are disabled.
// The unique ledger keys are the only guards: a taken credit key means another
// caller credited the job, so only the job status is advanced.
func (e *Engine) settleSequential(ctx context.Context, job *booking.Job, res *Result) (*Result, error) {
	techID := *job.TechnicianID
	now := e.now()

	entry, err := e.appendCredit(ctx, job, func() (*LedgerEntry, error) {
		return e.newCredit(ctx, e.db, job, now)
	})
	if errors.Is(err, errAlreadyCredited) {
		if _, err := e.jobs.MarkSettled(ctx, job.ID, now); err != nil {
			return nil, err
		}
		res.Settled, res.Reason = true, ReasonAlreadyCredited
		return res, nil
	}
	if err != nil {
		return nil, err
	}

	if err := incrementBalance(ctx, e.db, techID, entry.Amount); err != nil {
		return nil, err
	}
	if _, err := e.jobs.MarkSettled(ctx, job.ID, now); err != nil {
		return nil, err
	}

	res.Settled, res.Reason = true, ReasonSettledSequential
	res.EntryID = &entry.ID
	return res, nil
}

// appendCredit inserts the entry returned by build. When the insert collides
// on the chain link, another entry took the head first and the credit is
// rebuilt on the new head; a collision on the credit key returns
// errAlreadyCredited.
func (e *Engine) appendCredit(ctx context.Context, job *booking.Job, build func() (*LedgerEntry, error)) (*LedgerEntry, error) {
	for attempt := 0; attempt < maxChainAttempts; attempt++ {
		entry, err := build()
		if err != nil {
			return nil, err
		}

		err = e.entries.Create(ctx, entry)
		if err == nil {
			return entry, nil
		}
		if !errors.Is(err, gorm.ErrDuplicatedKey) {
			return nil, err
		}

		existing, err := e.entries.FindOne(ctx, creditKey(job.ID))
		if err != nil {
			return nil, err
		}
		if existing != nil {
			return nil, errAlreadyCredited
		}
		zap.L().Debug("ledger head moved, rebuilding credit",
			zap.String("job_id", job.ID.String()),
			zap.Int("attempt", attempt+1))
	}
	return nil, errutil.Conflict("ledger head moved, retry settlement", nil)
}

func creditKey(jobID snowflake.ID) *LedgerEntry {
	return &LedgerEntry{JobID: &jobID, Type: EntryCredit, Source: SourceJob}
}

// newCredit builds the job credit chained onto the technician's last entry.
func (e *Engine) newCredit(ctx context.Context, db *gorm.DB, job *booking.Job, now time.Time) (*LedgerEntry, error) {
	techID := *job.TechnicianID

	last, err := e.entries.WithTrx(db).FindOne(ctx, &LedgerEntry{TechnicianID: techID},
		option.WithSortBy(option.QuerySortBy{SortBy: "id", OrderBy: "desc", Allow: map[string]bool{"id": true}}))
	if err != nil {
		return nil, err
	}
	previous := genesisHash
	if last != nil {
		previous = last.Hash
	}

	txID, err := generateTransactionID(now)
	if err != nil {
		return nil, err
	}

	meta, _ := json.Marshal(map[string]any{
		"job_code":              job.Code,
		"base_amount":           job.BaseAmount,
		"commission_amount":     job.CommissionAmount,
		"commission_percentage": job.CommissionPercentage,
	})

	jobID := job.ID
	entry := &LedgerEntry{
		ID:            e.node.Generate(),
		TechnicianID:  techID,
		JobID:         &jobID,
		Type:          EntryCredit,
		Source:        SourceJob,
		Amount:        job.TechnicianAmount,
		PaymentRef:    job.PaymentRef,
		TransactionID: txID,
		Note:          "Earnings for " + job.Code,
		Metadata:      datatypes.JSON(meta),
		PreviousHash:  previous,
		// millisecond precision survives every supported column type
		CreatedAt: now.Truncate(time.Millisecond),
	}
	entry.Hash = entry.GenerateHash()
	return entry, nil
}

func incrementBalance(ctx context.Context, db *gorm.DB, technicianID snowflake.ID, amount int64) error {
	res := db.WithContext(ctx).Model(&technician.Profile{}).
		Where("id = ?", technicianID).
		Update("wallet_balance", gorm.Expr("wallet_balance + ?", amount))
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return errutil.NotFound("technician not found", nil)
	}
	return nil
}

func generateTransactionID(now time.Time) (string, error) {
	r := make([]byte, 3)
	if _, err := rand.Read(r); err != nil {
		return "", err
	}
	return fmt.Sprintf("%s-%s", now.Format("20060102"), strings.ToUpper(fmt.Sprintf("%x", r))), nil
}

// Trigger evaluates settlement and logs the outcome. Failures are queued for
// retry when a task client is configured.
func (e *Engine) Trigger(ctx context.Context, jobID snowflake.ID) {
	if _, err := e.Settle(ctx, jobID); err != nil {
		zap.L().Warn("settlement trigger failed", zap.String("job_id", jobID.String()), zap.Error(err))
		e.scheduleRetry(ctx, jobID)
	}
}

// RetryPayload is the settlement:retry task payload.
type RetryPayload struct {
	JobID snowflake.ID `json:"job_id"`
}

func (e *Engine) scheduleRetry(ctx context.Context, jobID snowflake.ID) {
	if e.enqueuer == nil {
		return
	}
	t, err := task.NewJSONTask(taskname.SettlementRetry, RetryPayload{JobID: jobID},
		asynq.TaskID("settlement:"+jobID.String()),
		asynq.Queue(task.QueueCritical),
		asynq.MaxRetry(10),
	)
	if err != nil {
		zap.L().Error("failed to build settlement retry task", zap.Error(err))
		return
	}
	if _, err := e.enqueuer.Enqueue(ctx, t); err != nil {
		zap.L().Error("failed to enqueue settlement retry", zap.String("job_id", jobID.String()), zap.Error(err))
	}
}

// Wallet returns the technician's stored balance and ledger size.
func (e *Engine) Wallet(ctx context.Context, technicianID snowflake.ID) (*Wallet, error) {
	var p technician.Profile
	err := e.db.WithContext(ctx).Select("id", "wallet_balance", "total_jobs_completed").
		Where("id = ?", technicianID).Take(&p).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, errutil.NotFound("technician not found", nil)
	}
	if err != nil {
		return nil, err
	}

	n, err := e.entries.Count(ctx, &LedgerEntry{TechnicianID: technicianID})
	if err != nil {
		return nil, err
	}

	return &Wallet{
		TechnicianID:       technicianID,
		Balance:            p.WalletBalance,
		TotalJobsCompleted: p.TotalJobsCompleted,
		Entries:            n,
	}, nil
}

// ListEntries pages through the technician's ledger, newest first.
func (e *Engine) ListEntries(ctx context.Context, technicianID snowflake.ID, page pagination.Pagination) ([]*LedgerEntry, *pagination.PageInfo, error) {
	entries, err := e.entries.Find(ctx, &LedgerEntry{TechnicianID: technicianID}, option.ApplyPagination(page))
	if err != nil {
		zap.L().Error("failed to list ledger entries", zap.String("technician_id", technicianID.String()), zap.Error(err))
		return nil, nil, err
	}

	data, info := pagination.Trim(entries, page.Limit, func(le *LedgerEntry) string { return le.ID.String() })
	return data, info, nil
}

func (e *Engine) chain(ctx context.Context, technicianID snowflake.ID) ([]*LedgerEntry, error) {
	return e.entries.Find(ctx, &LedgerEntry{TechnicianID: technicianID},
		option.WithSortBy(option.QuerySortBy{SortBy: "id", OrderBy: "asc", Allow: map[string]bool{"id": true}}))
}

// VerifyChain recomputes every hash of the technician's ledger and checks
// each entry points at its predecessor.
func (e *Engine) VerifyChain(ctx context.Context, technicianID snowflake.ID) (*ChainReport, error) {
	ctx, span := tracer.Start(ctx, "settlement.VerifyChain")
	defer span.End()

	entries, err := e.chain(ctx, technicianID)
	if err != nil {
		return nil, err
	}

	report := &ChainReport{TechnicianID: technicianID, Valid: true, Entries: len(entries)}
	lastHash := genesisHash
	for _, entry := range entries {
		if entry.Hash != entry.GenerateHash() || entry.PreviousHash != lastHash {
			id := entry.ID
			report.Valid, report.BrokenAt = false, &id
			zap.L().Warn("ledger chain broken",
				zap.String("technician_id", technicianID.String()),
				zap.String("entry_id", id.String()))
			break
		}
		lastHash = entry.Hash
	}
	return report, nil
}

// Reconcile sums the ledger and compares it with the stored balance.
func (e *Engine) Reconcile(ctx context.Context, technicianID snowflake.ID) (*Reconciliation, error) {
	wallet, err := e.Wallet(ctx, technicianID)
	if err != nil {
		return nil, err
	}

	entries, err := e.chain(ctx, technicianID)
	if err != nil {
		return nil, err
	}

	var sum int64
	for _, entry := range entries {
		sum += entry.Signed()
	}

	r := &Reconciliation{
		TechnicianID:  technicianID,
		WalletBalance: wallet.Balance,
		LedgerBalance: sum,
		Drift:         wallet.Balance - sum,
	}
	r.Consistent = r.Drift == 0
	if !r.Consistent {
		zap.L().Warn("wallet drift detected",
			zap.String("technician_id", technicianID.String()),
			zap.Int64("drift", r.Drift))
	}
	return r, nil
}
