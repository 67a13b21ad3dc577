package assignment

import (
	"context"
	"time"

	"fieldops-dispatch/pkg/errutil"
	"fieldops-dispatch/services/booking"
	"fieldops-dispatch/services/broadcast"
	"fieldops-dispatch/services/notification"

	"github.com/bwmarrin/snowflake"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var tracer = otel.Tracer("fieldops-dispatch/assignment")

var acceptsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "dispatch_accept_attempts_total",
	Help: "Job accept attempts by outcome.",
}, []string{"outcome"})

// Resolver decides which technician gets a job when several accept it.
type Resolver struct {
	db         *gorm.DB
	jobs       *booking.Repository
	broadcasts *broadcast.Repository
	notifier   notification.Notifier
	now        func() time.Time
}

type Params struct {
	fx.In

	DB       *gorm.DB
	Notifier notification.Notifier
}

func NewResolver(p Params) *Resolver {
	return &Resolver{
		db:         p.DB,
		jobs:       booking.NewRepository(p.DB),
		broadcasts: broadcast.NewRepository(p.DB),
		notifier:   p.Notifier,
		now:        func() time.Time { return time.Now().UTC() },
	}
}

// Accept assigns jobID to technicianID if the technician holds an open
// offer and nobody accepted first. The assignment is a single conditional
// update, so exactly one of any number of concurrent callers wins; the
// rest get a conflict.
func (r *Resolver) Accept(ctx context.Context, jobID, technicianID snowflake.ID) (*booking.Job, error) {
	ctx, span := tracer.Start(ctx, "assignment.Accept")
	defer span.End()

	span.SetAttributes(
		attribute.String("job.id", jobID.String()),
		attribute.String("technician.id", technicianID.String()),
	)
	zapLog := zap.L().With(
		zap.String("trace_id", span.SpanContext().TraceID().String()),
		zap.String("job_id", jobID.String()),
		zap.String("technician_id", technicianID.String()),
	)

	if jobID <= 0 || technicianID <= 0 {
		return nil, errutil.BadRequest("invalid job or technician id", nil)
	}

	now := r.now()

	offer, err := r.broadcasts.Find(ctx, jobID, technicianID)
	if err != nil {
		zapLog.Error("failed to load broadcast", zap.Error(err))
		return nil, err
	}
	if offer == nil {
		acceptsTotal.WithLabelValues("not_offered").Inc()
		return nil, errutil.Forbidden("job was not offered to you", nil)
	}
	if !offer.Open(now) {
		// The winner expires every other offer, so a closed offer on an
		// assigned job is a lost race.
		job, err := r.jobs.FindByID(ctx, jobID)
		if err != nil {
			return nil, err
		}
		if job != nil && job.TechnicianID != nil && !job.AssignedTo(technicianID) {
			acceptsTotal.WithLabelValues("conflict").Inc()
			return nil, errutil.Conflict("job already taken", nil)
		}
		acceptsTotal.WithLabelValues("closed").Inc()
		return nil, errutil.Conflict("job offer is no longer available", nil)
	}

	var losers []snowflake.ID
	err = r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		won, err := r.jobs.WithTrx(tx).Assign(ctx, jobID, technicianID, now)
		if err != nil {
			return err
		}
		if !won {
			return errutil.Conflict("job already taken", nil)
		}

		broadcasts := r.broadcasts.WithTrx(tx)
		if _, err := broadcasts.Respond(ctx, jobID, technicianID, broadcast.StatusAccepted, now); err != nil {
			return err
		}
		losers, err = broadcasts.ExpireOpen(ctx, jobID, technicianID, now)
		return err
	})
	if err != nil {
		if booking.IsConflict(err) {
			acceptsTotal.WithLabelValues("conflict").Inc()
			zapLog.Info("accept lost the race")
			return nil, err
		}
		zapLog.Error("accept failed", zap.Error(err))
		return nil, err
	}

	job, err := r.jobs.FindByID(ctx, jobID)
	if err != nil {
		return nil, err
	}

	acceptsTotal.WithLabelValues("won").Inc()
	zapLog.Info("job accepted", zap.Int("expired_offers", len(losers)))

	r.notifier.NotifyCustomer(ctx, job.CustomerID, notification.EventJobAccepted, job.ID, map[string]any{
		"technician_id": technicianID.String(),
	})
	if len(losers) > 0 {
		r.notifier.NotifyTechnicians(ctx, losers, notification.EventJobTaken, job.ID, nil)
	}

	return job, nil
}
