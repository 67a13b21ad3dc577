package location

import (
	"context"
	"time"

	"fieldops-dispatch/pkg/config"
	"fieldops-dispatch/pkg/errutil"
	"fieldops-dispatch/pkg/geo"
	"fieldops-dispatch/services/technician"

	"github.com/bwmarrin/snowflake"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

var tracer = otel.Tracer("fieldops-dispatch/location")

// Rematcher offers the pending jobs near a technician to that technician.
type Rematcher interface {
	BroadcastPendingJobs(ctx context.Context, technicianID snowflake.ID) (int, error)
}

// UpdateResult reports what a position report changed.
type UpdateResult struct {
	Stored        bool    `json:"stored"`
	MovedMeters   float64 `json:"moved_meters"`
	Rematched     bool    `json:"rematched"`
	JobsBroadcast int     `json:"jobs_broadcast"`
}

type Service struct {
	technicians *technician.Repository
	rematcher   Rematcher
	dispatch    config.Dispatch
	group       singleflight.Group
	now         func() time.Time
}

type Params struct {
	fx.In

	Technicians *technician.Repository
	Rematcher   Rematcher
	Config      *config.Config `optional:"true"`
}

func NewService(p Params) *Service {
	dispatch := config.DefaultDispatch()
	if p.Config != nil {
		dispatch = p.Config.Dispatch
	}
	return &Service{
		technicians: p.Technicians,
		rematcher:   p.Rematcher,
		dispatch:    dispatch,
		now:         func() time.Time { return time.Now().UTC() },
	}
}

// HandleUpdate applies a position report. The point is stored only when it
// moved more than the threshold or none was stored yet; rematching runs at
// most once per window per technician regardless of the write.
func (s *Service) HandleUpdate(ctx context.Context, technicianID snowflake.ID, point geo.Point) (*UpdateResult, error) {
	ctx, span := tracer.Start(ctx, "location.HandleUpdate")
	defer span.End()

	zapLog := zap.L().With(
		zap.String("trace_id", span.SpanContext().TraceID().String()),
		zap.String("technician_id", technicianID.String()),
	)

	if !point.Valid() {
		return nil, errutil.BadRequest("coordinates out of range", nil,
			errutil.WithDetails(errutil.Detail{Field: "latitude", Message: "must be within [-90,90]/[-180,180]"}))
	}

	p, err := s.technicians.FindByID(ctx, technicianID)
	if err != nil {
		return nil, err
	}
	if p == nil {
		return nil, errutil.NotFound("technician not found", nil)
	}

	res := &UpdateResult{MovedMeters: -1}
	now := s.now()

	last, located := p.Point()
	if located {
		res.MovedMeters = geo.Distance(last, point)
	}
	if !located || res.MovedMeters > s.dispatch.MoveThresholdMeter {
		if err := s.technicians.UpdateLocation(ctx, technicianID, point, now); err != nil {
			zapLog.Error("failed to store location", zap.Error(err))
			return nil, err
		}
		res.Stored = true
	}

	res.Rematched, res.JobsBroadcast = s.rematch(ctx, technicianID, now)

	span.SetAttributes(
		attribute.Bool("location.stored", res.Stored),
		attribute.Bool("location.rematched", res.Rematched),
	)
	return res, nil
}

// SetAvailability switches the technician online or offline. Going online
// runs the same gated rematch as a position report.
func (s *Service) SetAvailability(ctx context.Context, technicianID snowflake.ID, online bool) (*UpdateResult, error) {
	ctx, span := tracer.Start(ctx, "location.SetAvailability")
	defer span.End()

	p, err := s.technicians.FindByID(ctx, technicianID)
	if err != nil {
		return nil, err
	}
	if p == nil {
		return nil, errutil.NotFound("technician not found", nil)
	}

	if online {
		if r := technician.Evaluate(p, p.KYC); !r.CanWork() {
			return nil, errutil.Forbidden("technician not eligible to go online", nil,
				errutil.WithDetails(errutil.Detail{Field: "state", Message: string(r.State)}))
		}
	}

	if err := s.technicians.SetOnline(ctx, technicianID, online); err != nil {
		return nil, err
	}

	res := &UpdateResult{MovedMeters: -1}
	if online {
		res.Rematched, res.JobsBroadcast = s.rematch(ctx, technicianID, s.now())
	}
	return res, nil
}

// rematch stamps last_matching_at before matching so that near-simultaneous
// reports cannot both run it. Failures are logged; a position report never
// fails because of matching.
func (s *Service) rematch(ctx context.Context, technicianID snowflake.ID, now time.Time) (bool, int) {
	zapLog := zap.L().With(zap.String("technician_id", technicianID.String()))

	v, _, _ := s.group.Do(technicianID.String(), func() (any, error) {
		won, err := s.technicians.StampMatching(ctx, technicianID, now, s.dispatch.RematchWindow)
		if err != nil {
			zapLog.Error("failed to stamp matching window", zap.Error(err))
			return rematchResult{}, nil
		}
		if !won {
			return rematchResult{}, nil
		}

		n, err := s.rematcher.BroadcastPendingJobs(ctx, technicianID)
		if err != nil {
			zapLog.Error("pending job broadcast failed", zap.Error(err))
		}
		return rematchResult{ran: true, broadcast: n}, nil
	})

	r := v.(rematchResult)
	return r.ran, r.broadcast
}

type rematchResult struct {
	ran       bool
	broadcast int
}
