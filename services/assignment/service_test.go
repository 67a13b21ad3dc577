package assignment

import (
	"context"
	"sync"
	"testing"
	"time"

	"fieldops-dispatch/pkg/errutil"
	"fieldops-dispatch/services/booking"
	"fieldops-dispatch/services/broadcast"
	"fieldops-dispatch/services/notification"
	"fieldops-dispatch/services/testutil"
	"fieldops-dispatch/services/testutil/fixture"

	"github.com/bwmarrin/snowflake"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

func init() {
	zap.ReplaceGlobals(zap.NewNop())
}

var now = time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)

func newResolver(t *testing.T) (*Resolver, *gorm.DB, *notification.Recorder) {
	t.Helper()
	db := testutil.NewTestDB(t, append(fixture.Models(), broadcast.Models()...)...)
	rec := &notification.Recorder{}
	r := NewResolver(Params{DB: db, Notifier: rec})
	r.now = func() time.Time { return now }
	return r, db, rec
}

func offer(t *testing.T, db *gorm.DB, jobID snowflake.ID, techs ...snowflake.ID) {
	t.Helper()
	expires := now.Add(10 * time.Minute)
	repo := broadcast.NewRepository(db)
	for _, tech := range techs {
		ok, err := repo.Insert(context.Background(), &broadcast.Broadcast{
			ID:           jobID*100 + tech,
			JobID:        jobID,
			TechnicianID: tech,
			Status:       broadcast.StatusSent,
			SentAt:       now.Add(-time.Minute),
			ExpiresAt:    &expires,
		})
		require.NoError(t, err)
		require.True(t, ok)
	}
}

func status(t *testing.T, db *gorm.DB, jobID, tech snowflake.ID) broadcast.Status {
	t.Helper()
	b, err := broadcast.NewRepository(db).Find(context.Background(), jobID, tech)
	require.NoError(t, err)
	require.NotNil(t, b)
	return b.Status
}

func TestAcceptFirstWinsLaterConflicts(t *testing.T) {
	r, db, rec := newResolver(t)
	ctx := context.Background()
	job := fixture.Job(t, db, 100, 500, fixture.Status(booking.StatusBroadcasted))
	offer(t, db, 100, 1, 2, 3)

	won, err := r.Accept(ctx, 100, 1)
	require.NoError(t, err)
	require.Equal(t, booking.StatusAccepted, won.Status)
	require.True(t, won.AssignedTo(1))
	require.NotNil(t, won.AssignedAt)

	_, err = r.Accept(ctx, 100, 2)
	require.True(t, errutil.IsStatus(err, errutil.StatusConflict))
	taken, ok := errutil.As(err)
	require.True(t, ok)
	require.Equal(t, "job already taken", taken.Message)

	require.Equal(t, broadcast.StatusAccepted, status(t, db, 100, 1))
	require.Equal(t, broadcast.StatusExpired, status(t, db, 100, 2))
	require.Equal(t, broadcast.StatusExpired, status(t, db, 100, 3))

	require.Equal(t, []snowflake.ID{job.CustomerID}, rec.Recipients(notification.EventJobAccepted))
	require.Equal(t, []snowflake.ID{2, 3}, rec.Recipients(notification.EventJobTaken))
}

func TestAcceptConcurrentExactlyOneWinner(t *testing.T) {
	r, db, _ := newResolver(t)
	fixture.Job(t, db, 100, 500, fixture.Status(booking.StatusBroadcasted))

	techs := []snowflake.ID{1, 2, 3, 4, 5, 6, 7, 8}
	offer(t, db, 100, techs...)

	var (
		mu        sync.Mutex
		winners   []snowflake.ID
		conflicts int
		wg        sync.WaitGroup
	)
	for _, tech := range techs {
		wg.Add(1)
		go func(tech snowflake.ID) {
			defer wg.Done()
			_, err := r.Accept(context.Background(), 100, tech)
			mu.Lock()
			defer mu.Unlock()
			if err == nil {
				winners = append(winners, tech)
				return
			}
			if errutil.IsStatus(err, errutil.StatusConflict) {
				conflicts++
			}
		}(tech)
	}
	wg.Wait()

	require.Len(t, winners, 1)
	require.Equal(t, len(techs)-1, conflicts)

	job, err := booking.NewRepository(db).FindByID(context.Background(), 100)
	require.NoError(t, err)
	require.True(t, job.AssignedTo(winners[0]))
	require.Equal(t, broadcast.StatusAccepted, status(t, db, 100, winners[0]))

	var accepted int64
	require.NoError(t, db.Model(&broadcast.Broadcast{}).Where("job_id = ? AND status = ?", 100, broadcast.StatusAccepted).Count(&accepted).Error)
	require.Equal(t, int64(1), accepted)
}

func TestAcceptWithoutOfferIsForbidden(t *testing.T) {
	r, db, _ := newResolver(t)
	fixture.Job(t, db, 100, 500, fixture.Status(booking.StatusBroadcasted))

	_, err := r.Accept(context.Background(), 100, 9)
	require.True(t, errutil.IsStatus(err, errutil.StatusForbidden))

	job, err := booking.NewRepository(db).FindByID(context.Background(), 100)
	require.NoError(t, err)
	require.Nil(t, job.TechnicianID)
}

func TestAcceptExpiredOfferConflicts(t *testing.T) {
	r, db, _ := newResolver(t)
	fixture.Job(t, db, 100, 500, fixture.Status(booking.StatusBroadcasted))
	offer(t, db, 100, 1)

	r.now = func() time.Time { return now.Add(11 * time.Minute) }
	_, err := r.Accept(context.Background(), 100, 1)
	require.True(t, errutil.IsStatus(err, errutil.StatusConflict))
}

func TestAcceptCancelledJobConflicts(t *testing.T) {
	r, db, _ := newResolver(t)
	fixture.Job(t, db, 100, 500, fixture.Status(booking.StatusCancelled))
	offer(t, db, 100, 1)

	_, err := r.Accept(context.Background(), 100, 1)
	require.True(t, errutil.IsStatus(err, errutil.StatusConflict))
	require.Equal(t, broadcast.StatusSent, status(t, db, 100, 1))
}
