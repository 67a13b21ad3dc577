package settlement

import (
	"context"
	"sync"
	"testing"
	"time"

	"fieldops-dispatch/pkg/config"
	"fieldops-dispatch/pkg/db/pagination"
	"fieldops-dispatch/pkg/errutil"
	"fieldops-dispatch/pkg/featureflags"
	"fieldops-dispatch/services/booking"
	"fieldops-dispatch/services/technician"
	"fieldops-dispatch/services/testutil"
	"fieldops-dispatch/services/testutil/fixture"

	"github.com/bwmarrin/snowflake"
	"github.com/hibiken/asynq"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

func init() {
	zap.ReplaceGlobals(zap.NewNop())
}

const tech = snowflake.ID(7)

var t0 = time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)

type enqueuerMock struct {
	mu    sync.Mutex
	tasks []*asynq.Task
}

func (m *enqueuerMock) Enqueue(_ context.Context, t *asynq.Task, _ ...asynq.Option) (*asynq.TaskInfo, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.tasks = append(m.tasks, t)
	return &asynq.TaskInfo{}, nil
}

func newEngine(t *testing.T, transactional bool) (*Engine, *gorm.DB) {
	t.Helper()
	db := testutil.NewTestDB(t, append(fixture.Models(), Models()...)...)
	node, err := snowflake.NewNode(1)
	require.NoError(t, err)

	cfg := &config.Config{}
	cfg.Settlement.Transactional = transactional
	e := NewEngine(Params{DB: db, Node: node, Config: cfg})
	e.now = func() time.Time { return t0 }
	fixture.Technician(t, db, tech, nil)
	return e, db
}

func completedJob(t *testing.T, db *gorm.DB, id snowflake.ID, opts ...fixture.JobOption) *booking.Job {
	t.Helper()
	base := []fixture.JobOption{
		fixture.Status(booking.StatusCompleted),
		fixture.AssignedTo(tech),
		fixture.Payment(booking.PaymentPaid),
		fixture.Amounts(600, 450),
	}
	return fixture.Job(t, db, id, 500, append(base, opts...)...)
}

func balance(t *testing.T, db *gorm.DB) int64 {
	t.Helper()
	var p technician.Profile
	require.NoError(t, db.Select("wallet_balance").Where("id = ?", tech).Take(&p).Error)
	return p.WalletBalance
}

func credits(t *testing.T, db *gorm.DB, jobID snowflake.ID) int64 {
	t.Helper()
	var n int64
	require.NoError(t, db.Model(&LedgerEntry{}).Where("job_id = ?", jobID).Count(&n).Error)
	return n
}

func jobOf(t *testing.T, db *gorm.DB, id snowflake.ID) *booking.Job {
	t.Helper()
	j, err := booking.NewRepository(db).FindByID(context.Background(), id)
	require.NoError(t, err)
	return j
}

func TestSettleCreditsOnce(t *testing.T) {
	for _, transactional := range []bool{true, false} {
		t.Run(map[bool]string{true: "transactional", false: "sequential"}[transactional], func(t *testing.T) {
			e, db := newEngine(t, transactional)
			ctx := context.Background()
			completedJob(t, db, 100)

			res, err := e.Settle(ctx, 100)
			require.NoError(t, err)
			require.True(t, res.Settled)
			if transactional {
				require.Equal(t, ReasonSettledTransactional, res.Reason)
			} else {
				require.Equal(t, ReasonSettledSequential, res.Reason)
			}
			require.Equal(t, int64(450), res.Amount)
			require.NotNil(t, res.EntryID)

			res, err = e.Settle(ctx, 100)
			require.NoError(t, err)
			require.Equal(t, &Result{JobID: 100, Settled: true, Reason: ReasonAlreadySettled}, res)

			require.Equal(t, int64(450), balance(t, db))
			require.Equal(t, int64(1), credits(t, db, 100))

			job := jobOf(t, db, 100)
			require.Equal(t, booking.SettlementSettled, job.SettlementStatus)
			require.NotNil(t, job.SettledAt)
		})
	}
}

func TestSettleConcurrentCallersCreditOnce(t *testing.T) {
	for _, transactional := range []bool{true, false} {
		t.Run(map[bool]string{true: "transactional", false: "sequential"}[transactional], func(t *testing.T) {
			e, db := newEngine(t, transactional)
			completedJob(t, db, 100)

			var wg sync.WaitGroup
			for i := 0; i < 8; i++ {
				wg.Add(1)
				go func() {
					defer wg.Done()
					res, err := e.Settle(context.Background(), 100)
					require.NoError(t, err)
					require.True(t, res.Settled)
				}()
			}
			wg.Wait()

			require.Equal(t, int64(450), balance(t, db))
			require.Equal(t, int64(1), credits(t, db, 100))
		})
	}
}

func TestSettleDuplicateLedgerKeyOnlyAdvancesJob(t *testing.T) {
	for _, transactional := range []bool{true, false} {
		t.Run(map[bool]string{true: "transactional", false: "sequential"}[transactional], func(t *testing.T) {
			e, db := newEngine(t, transactional)
			completedJob(t, db, 100)

			// another caller credited the job but crashed before marking it
			jobID := snowflake.ID(100)
			prior := &LedgerEntry{ID: 1, TechnicianID: tech, JobID: &jobID, Type: EntryCredit, Source: SourceJob, Amount: 450, PreviousHash: genesisHash, CreatedAt: t0}
			prior.Hash = prior.GenerateHash()
			require.NoError(t, db.Create(prior).Error)

			res, err := e.Settle(context.Background(), 100)
			require.NoError(t, err)
			require.Equal(t, ReasonAlreadyCredited, res.Reason)
			require.True(t, res.Settled)

			require.Zero(t, balance(t, db))
			require.Equal(t, booking.SettlementSettled, jobOf(t, db, 100).SettlementStatus)
		})
	}
}

func TestSettleNotEligible(t *testing.T) {
	e, db := newEngine(t, true)
	ctx := context.Background()

	fixture.Job(t, db, 100, 500, fixture.Status(booking.StatusInProgress), fixture.AssignedTo(tech), fixture.Payment(booking.PaymentPaid))
	fixture.Job(t, db, 101, 500, fixture.Status(booking.StatusCompleted), fixture.AssignedTo(tech))

	res, err := e.Settle(ctx, 100)
	require.NoError(t, err)
	require.False(t, res.Settled)
	require.Equal(t, ReasonNotEligible, res.Reason)
	require.Equal(t, booking.SettlementEligible, jobOf(t, db, 100).SettlementStatus)

	res, err = e.Settle(ctx, 101)
	require.NoError(t, err)
	require.Equal(t, ReasonNotEligible, res.Reason)
	require.Equal(t, booking.SettlementPending, jobOf(t, db, 101).SettlementStatus)

	require.Zero(t, balance(t, db))
}

func TestSettleInvalidInput(t *testing.T) {
	e, db := newEngine(t, true)
	ctx := context.Background()
	completedJob(t, db, 100, fixture.Amounts(600, 0))

	res, err := e.Settle(ctx, 100)
	require.NoError(t, err)
	require.Equal(t, ReasonInvalidTechnicianAmount, res.Reason)
	require.False(t, res.Settled)
	require.Equal(t, booking.SettlementEligible, jobOf(t, db, 100).SettlementStatus)
	require.Zero(t, credits(t, db, 100))

	_, err = e.Settle(ctx, 0)
	require.True(t, errutil.IsStatus(err, errutil.StatusBadRequest))

	_, err = e.Settle(ctx, 404)
	require.True(t, errutil.IsStatus(err, errutil.StatusNotFound))
}

func TestFeatureFlagDisablesTransactions(t *testing.T) {
	e, db := newEngine(t, true)
	e.flags = featureflags.Static{featureflags.SettlementTransactional: false}
	completedJob(t, db, 100)

	require.False(t, e.Transactional(context.Background(), tech))

	res, err := e.Settle(context.Background(), 100)
	require.NoError(t, err)
	require.Equal(t, ReasonSettledSequential, res.Reason)
}

func TestChainVerifyAndReconcile(t *testing.T) {
	e, db := newEngine(t, true)
	ctx := context.Background()

	for i := snowflake.ID(100); i < 103; i++ {
		completedJob(t, db, i)
		_, err := e.Settle(ctx, i)
		require.NoError(t, err)
	}

	report, err := e.VerifyChain(ctx, tech)
	require.NoError(t, err)
	require.True(t, report.Valid)
	require.Equal(t, 3, report.Entries)

	r, err := e.Reconcile(ctx, tech)
	require.NoError(t, err)
	require.True(t, r.Consistent)
	require.Equal(t, int64(1350), r.LedgerBalance)

	w, err := e.Wallet(ctx, tech)
	require.NoError(t, err)
	require.Equal(t, int64(1350), w.Balance)
	require.Equal(t, int64(3), w.Entries)

	entries, err := e.chain(ctx, tech)
	require.NoError(t, err)
	require.NoError(t, db.Model(&LedgerEntry{}).Where("id = ?", entries[1].ID).Update("amount", 9999).Error)

	report, err = e.VerifyChain(ctx, tech)
	require.NoError(t, err)
	require.False(t, report.Valid)
	require.Equal(t, entries[1].ID, *report.BrokenAt)

	r, err = e.Reconcile(ctx, tech)
	require.NoError(t, err)
	require.False(t, r.Consistent)
	require.Equal(t, int64(1350-(450+9999+450)), r.Drift)
}

func TestListEntriesPages(t *testing.T) {
	e, db := newEngine(t, true)
	ctx := context.Background()

	for i := snowflake.ID(100); i < 105; i++ {
		completedJob(t, db, i)
		_, err := e.Settle(ctx, i)
		require.NoError(t, err)
	}

	page, info, err := e.ListEntries(ctx, tech, pagination.Pagination{Limit: 3})
	require.NoError(t, err)
	require.Len(t, page, 3)
	require.True(t, info.HasMore)
	require.Equal(t, snowflake.ID(104), *page[0].JobID)

	rest, info, err := e.ListEntries(ctx, tech, pagination.Pagination{Limit: 3, Cursor: info.NextCursor})
	require.NoError(t, err)
	require.Len(t, rest, 2)
	require.False(t, info.HasMore)
	require.Equal(t, snowflake.ID(100), *rest[1].JobID)
}

func TestTriggerQueuesRetryOnFailure(t *testing.T) {
	e, db := newEngine(t, true)
	enq := &enqueuerMock{}
	e.enqueuer = enq
	completedJob(t, db, 100)

	e.Trigger(context.Background(), 100)
	require.Empty(t, enq.tasks)
	require.Equal(t, int64(450), balance(t, db))

	e.Trigger(context.Background(), 404)
	require.Len(t, enq.tasks, 1)
	require.Equal(t, "settlement:retry", enq.tasks[0].Type())
}

func TestLedgerChainCannotFork(t *testing.T) {
	e, db := newEngine(t, false)
	ctx := context.Background()
	first := completedJob(t, db, 100)
	second := completedJob(t, db, 101)

	// both credits read the head before either is written
	a, err := e.newCredit(ctx, db, first, t0)
	require.NoError(t, err)
	b, err := e.newCredit(ctx, db, second, t0)
	require.NoError(t, err)
	require.Equal(t, a.PreviousHash, b.PreviousHash)

	require.NoError(t, db.Create(a).Error)
	require.ErrorIs(t, db.Create(b).Error, gorm.ErrDuplicatedKey)

	report, err := e.VerifyChain(ctx, tech)
	require.NoError(t, err)
	require.True(t, report.Valid)
}

func TestAppendCreditRebuildsOnMovedHead(t *testing.T) {
	e, db := newEngine(t, false)
	ctx := context.Background()
	first := completedJob(t, db, 100)
	second := completedJob(t, db, 101)

	stale, err := e.newCredit(ctx, db, second, t0)
	require.NoError(t, err)

	res, err := e.Settle(ctx, first.ID)
	require.NoError(t, err)
	require.Equal(t, ReasonSettledSequential, res.Reason)

	builds := 0
	entry, err := e.appendCredit(ctx, second, func() (*LedgerEntry, error) {
		builds++
		if builds == 1 {
			return stale, nil
		}
		return e.newCredit(ctx, db, second, t0)
	})
	require.NoError(t, err)
	require.Equal(t, 2, builds)

	head, err := e.entries.FindOne(ctx, creditKey(first.ID))
	require.NoError(t, err)
	require.Equal(t, head.Hash, entry.PreviousHash)

	report, err := e.VerifyChain(ctx, tech)
	require.NoError(t, err)
	require.True(t, report.Valid)
	require.Equal(t, 2, report.Entries)

	// the job is credited now, so a further attempt reports it
	_, err = e.appendCredit(ctx, second, func() (*LedgerEntry, error) {
		return e.newCredit(ctx, db, second, t0)
	})
	require.ErrorIs(t, err, errAlreadyCredited)
}
