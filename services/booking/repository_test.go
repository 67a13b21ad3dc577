package booking

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"fieldops-dispatch/services/technician"
	"fieldops-dispatch/services/testutil"

	"github.com/bwmarrin/snowflake"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

func init() {
	zap.ReplaceGlobals(zap.NewNop())
}

var t0 = time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)

func newTestDB(t *testing.T) *gorm.DB {
	return testutil.NewTestDB(t, append(technician.Models(), &Job{})...)
}

func seedJob(t *testing.T, db *gorm.DB, id snowflake.ID, mutate ...func(*Job)) *Job {
	t.Helper()
	j := &Job{
		ID:               id,
		Code:             "JOB-" + id.String(),
		CustomerID:       900,
		ServiceID:        500,
		BaseAmount:       1000,
		CommissionAmount: 200,
		TechnicianAmount: 800,
		Latitude:         12.97,
		Longitude:        77.59,
		HasLocation:      true,
		Status:           StatusRequested,
		PaymentStatus:    PaymentPending,
		SettlementStatus: SettlementPending,
	}
	for _, m := range mutate {
		m(j)
	}
	require.NoError(t, db.Create(j).Error)
	return j
}

func TestAssignFirstWriterWins(t *testing.T) {
	db := newTestDB(t)
	repo := NewRepository(db)
	seedJob(t, db, 1, func(j *Job) { j.Status = StatusBroadcasted })

	var wins atomic.Int32
	var wg sync.WaitGroup
	for i := 1; i <= 8; i++ {
		wg.Add(1)
		go func(techID snowflake.ID) {
			defer wg.Done()
			won, err := repo.Assign(context.Background(), 1, techID, t0)
			require.NoError(t, err)
			if won {
				wins.Add(1)
			}
		}(snowflake.ID(100 + i))
	}
	wg.Wait()

	require.Equal(t, int32(1), wins.Load())

	job, err := repo.FindByID(context.Background(), 1)
	require.NoError(t, err)
	require.Equal(t, StatusAccepted, job.Status)
	require.NotNil(t, job.TechnicianID)
	require.NotNil(t, job.AssignedAt)
}

func TestAssignRefusesClosedJobs(t *testing.T) {
	db := newTestDB(t)
	repo := NewRepository(db)
	ctx := context.Background()

	seedJob(t, db, 1, func(j *Job) { j.Status = StatusCancelled })
	won, err := repo.Assign(ctx, 1, 101, t0)
	require.NoError(t, err)
	require.False(t, won)

	won, err = repo.Assign(ctx, 404, 101, t0)
	require.NoError(t, err)
	require.False(t, won)
}

func TestMarkBroadcastedOnlyFromRequested(t *testing.T) {
	db := newTestDB(t)
	repo := NewRepository(db)
	ctx := context.Background()
	seedJob(t, db, 1)

	won, err := repo.MarkBroadcasted(ctx, 1, t0)
	require.NoError(t, err)
	require.True(t, won)

	won, err = repo.MarkBroadcasted(ctx, 1, t0.Add(time.Minute))
	require.NoError(t, err)
	require.False(t, won)

	job, err := repo.FindByID(ctx, 1)
	require.NoError(t, err)
	require.Equal(t, StatusBroadcasted, job.Status)
	require.True(t, job.BroadcastedAt.Equal(t0))
}

func TestAdvanceRequiresExactPredecessor(t *testing.T) {
	db := newTestDB(t)
	repo := NewRepository(db)
	ctx := context.Background()
	tech := snowflake.ID(101)
	seedJob(t, db, 1, func(j *Job) { j.Status = StatusAccepted; j.TechnicianID = &tech })

	won, err := repo.Advance(ctx, 1, tech, StatusOnTheWay, StatusReached, t0)
	require.NoError(t, err)
	require.False(t, won)

	won, err = repo.Advance(ctx, 1, 202, StatusAccepted, StatusOnTheWay, t0)
	require.NoError(t, err)
	require.False(t, won)

	won, err = repo.Advance(ctx, 1, tech, StatusAccepted, StatusOnTheWay, t0)
	require.NoError(t, err)
	require.True(t, won)
}

func TestSettlementStatusNeverMovesBackwards(t *testing.T) {
	db := newTestDB(t)
	repo := NewRepository(db)
	ctx := context.Background()
	seedJob(t, db, 1)

	won, err := repo.MarkSettled(ctx, 1, t0)
	require.NoError(t, err)
	require.True(t, won)

	won, err = repo.MarkSettled(ctx, 1, t0)
	require.NoError(t, err)
	require.False(t, won)

	won, err = repo.MarkSettlementEligible(ctx, 1)
	require.NoError(t, err)
	require.False(t, won)
}

func TestMarkPaidOnce(t *testing.T) {
	db := newTestDB(t)
	repo := NewRepository(db)
	ctx := context.Background()
	seedJob(t, db, 1)

	won, err := repo.MarkPaid(ctx, 1, 1000, "pay_1")
	require.NoError(t, err)
	require.True(t, won)

	won, err = repo.MarkPaid(ctx, 1, 5, "pay_2")
	require.NoError(t, err)
	require.False(t, won)

	job, err := repo.FindByID(ctx, 1)
	require.NoError(t, err)
	require.Equal(t, PaymentPaid, job.PaymentStatus)
	require.Equal(t, int64(1000), job.PaidAmount)
	require.Equal(t, "pay_1", job.PaymentRef)
}

func TestActiveJobAndFindOpen(t *testing.T) {
	db := newTestDB(t)
	repo := NewRepository(db)
	ctx := context.Background()
	tech := snowflake.ID(101)

	seedJob(t, db, 1, func(j *Job) { j.Status = StatusBroadcasted })
	seedJob(t, db, 2, func(j *Job) { j.Status = StatusInProgress; j.TechnicianID = &tech; at := t0; j.AssignedAt = &at })
	seedJob(t, db, 3, func(j *Job) { j.Status = StatusCancelled })

	active, err := repo.ActiveJob(ctx, tech)
	require.NoError(t, err)
	require.NotNil(t, active)
	require.Equal(t, snowflake.ID(2), active.ID)

	none, err := repo.ActiveJob(ctx, 202)
	require.NoError(t, err)
	require.Nil(t, none)

	open, err := repo.FindOpen(ctx, []snowflake.ID{1, 2, 3})
	require.NoError(t, err)
	require.Len(t, open, 1)
	require.Equal(t, snowflake.ID(1), open[0].ID)

	open, err = repo.FindOpen(ctx, []snowflake.ID{1}, StatusRequested)
	require.NoError(t, err)
	require.Empty(t, open)
}
