package broadcast

import (
	"context"
	"math"
	"time"

	"fieldops-dispatch/pkg/config"
	"fieldops-dispatch/pkg/errutil"
	"fieldops-dispatch/pkg/geo"
	"fieldops-dispatch/services/booking"
	"fieldops-dispatch/services/matching"
	"fieldops-dispatch/services/notification"
	"fieldops-dispatch/services/technician"

	"github.com/bwmarrin/snowflake"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var tracer = otel.Tracer("fieldops-dispatch/broadcast")

var offersTotal = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "dispatch_broadcast_offers_total",
	Help: "Job offers written by fan-out, by trigger.",
}, []string{"trigger"})

type Service struct {
	repo        *Repository
	jobs        *booking.Repository
	technicians *technician.Repository
	matcher     *matching.Matcher
	notifier    notification.Notifier
	node        *snowflake.Node
	dispatch    config.Dispatch
	now         func() time.Time
}

type ServiceParams struct {
	fx.In

	DB          *gorm.DB
	Node        *snowflake.Node
	Config      *config.Config `optional:"true"`
	Technicians *technician.Repository
	Matcher     *matching.Matcher
	Notifier    notification.Notifier
}

func NewService(p ServiceParams) *Service {
	dispatch := config.DefaultDispatch()
	if p.Config != nil {
		dispatch = p.Config.Dispatch
	}
	return &Service{
		repo:        NewRepository(p.DB),
		jobs:        booking.NewRepository(p.DB),
		technicians: p.Technicians,
		matcher:     p.Matcher,
		notifier:    p.Notifier,
		node:        p.Node,
		dispatch:    dispatch,
		now:         func() time.Time { return time.Now().UTC() },
	}
}

func (s *Service) Repository() *Repository {
	return s.repo
}

// FanOut offers job to every matched technician. Pairs that were already
// offered are skipped silently; only new offers are notified. The job moves
// to broadcasted once at least one offer exists.
func (s *Service) FanOut(ctx context.Context, job *booking.Job, matches []matching.Match, trigger string) ([]snowflake.ID, error) {
	ctx, span := tracer.Start(ctx, "broadcast.FanOut")
	defer span.End()

	zapLog := zap.L().With(
		zap.String("trace_id", span.SpanContext().TraceID().String()),
		zap.String("job_id", job.ID.String()),
		zap.String("trigger", trigger),
	)

	if len(matches) == 0 {
		return nil, nil
	}

	now := s.now()
	var expiresAt *time.Time
	if s.dispatch.BroadcastTTL > 0 {
		at := now.Add(s.dispatch.BroadcastTTL)
		expiresAt = &at
	}

	created := make([]snowflake.ID, 0, len(matches))
	distances := make(map[snowflake.ID]float64, len(matches))
	for _, m := range matches {
		ok, err := s.repo.Insert(ctx, &Broadcast{
			ID:             s.node.Generate(),
			JobID:          job.ID,
			TechnicianID:   m.Technician.ID,
			Status:         StatusSent,
			DistanceMeters: m.DistanceMeters,
			SentAt:         now,
			ExpiresAt:      expiresAt,
		})
		if err != nil {
			zapLog.Error("failed to insert broadcast", zap.String("technician_id", m.Technician.ID.String()), zap.Error(err))
			return created, err
		}
		if ok {
			created = append(created, m.Technician.ID)
			distances[m.Technician.ID] = m.DistanceMeters
		}
	}

	if _, err := s.jobs.MarkBroadcasted(ctx, job.ID, now); err != nil {
		zapLog.Error("failed to mark job broadcasted", zap.Error(err))
		return created, err
	}

	offersTotal.WithLabelValues(trigger).Add(float64(len(created)))
	span.SetAttributes(attribute.Int("broadcast.created", len(created)))

	// one message per technician so each carries its own distance
	for _, id := range created {
		s.notifier.NotifyTechnicians(ctx, []snowflake.ID{id}, notification.EventNewJob, job.ID, offerData(job, distances[id]))
	}

	zapLog.Info("job fanned out", zap.Int("matched", len(matches)), zap.Int("created", len(created)))
	return created, nil
}

func offerData(job *booking.Job, distanceMeters float64) map[string]any {
	data := map[string]any{
		"code":       job.Code,
		"service_id": job.ServiceID.String(),
		"earnings":   job.TechnicianAmount,
		"city":       job.Address.City,
	}
	if distanceMeters >= 0 {
		data["distance_km"] = km(distanceMeters)
	}
	return data
}

func km(meters float64) float64 {
	return math.Round(meters/10) / 100
}

// DispatchJob runs new-job matching for jobID and fans it out. It returns
// how many technicians were newly offered the job.
func (s *Service) DispatchJob(ctx context.Context, jobID snowflake.ID) (int, error) {
	ctx, span := tracer.Start(ctx, "broadcast.DispatchJob")
	defer span.End()

	job, err := s.jobs.FindByID(ctx, jobID)
	if err != nil {
		return 0, err
	}
	if job == nil {
		return 0, errutil.NotFound("job not found", nil)
	}
	if job.TechnicianID != nil || (job.Status != booking.StatusRequested && job.Status != booking.StatusBroadcasted) {
		return 0, nil
	}

	c := matching.CriteriaForJob(job)
	c.Limit = s.dispatch.MatchLimit
	res, err := s.matcher.FindTechnicians(ctx, c)
	if err != nil {
		return 0, err
	}

	zap.L().Debug("new job matched",
		zap.String("job_id", job.ID.String()),
		zap.String("tier", string(res.Tier)),
		zap.Int("count", len(res.Matches)))

	created, err := s.FanOut(ctx, job, res.Matches, "new_job")
	return len(created), err
}

// BroadcastPendingJobs offers the open jobs near a technician to that
// technician. The technician must be ready, located and skilled.
func (s *Service) BroadcastPendingJobs(ctx context.Context, technicianID snowflake.ID) (int, error) {
	ctx, span := tracer.Start(ctx, "broadcast.BroadcastPendingJobs")
	defer span.End()

	p, err := s.technicians.FindByID(ctx, technicianID)
	if err != nil {
		return 0, err
	}
	if !technician.Evaluate(p, kycOf(p)).Eligible {
		return 0, nil
	}
	point, ok := p.Point()
	if !ok {
		return 0, nil
	}
	serviceIDs := p.ServiceIDs()
	if len(serviceIDs) == 0 {
		return 0, nil
	}

	pending, err := s.matcher.FindPendingJobs(ctx, serviceIDs, point, s.dispatch.SearchRadiusMeters, s.dispatch.PendingJobLimit)
	if err != nil {
		return 0, err
	}

	total := 0
	for _, pj := range pending {
		created, err := s.FanOut(ctx, pj.Job, []matching.Match{{Technician: p, DistanceMeters: pj.DistanceMeters}}, "rematch")
		if err != nil {
			return total, err
		}
		total += len(created)
	}

	span.SetAttributes(attribute.Int("broadcast.pending", len(pending)), attribute.Int("broadcast.created", total))
	return total, nil
}

// CloseOffers expires every open offer of the job.
func (s *Service) CloseOffers(ctx context.Context, jobID snowflake.ID) ([]snowflake.ID, error) {
	return s.repo.ExpireOpen(ctx, jobID, 0, s.now())
}

// Reject declines an open offer. Rejecting twice is a conflict.
func (s *Service) Reject(ctx context.Context, jobID, technicianID snowflake.ID) error {
	b, err := s.repo.Find(ctx, jobID, technicianID)
	if err != nil {
		return err
	}
	if b == nil {
		return errutil.Forbidden("job was not offered to you", nil)
	}

	ok, err := s.repo.Respond(ctx, jobID, technicianID, StatusRejected, s.now())
	if err != nil {
		return err
	}
	if !ok {
		return errutil.Conflict("offer is no longer open", nil)
	}
	return nil
}

// LiveJobs is the technician's feed of open offers, newest first. It is
// empty while the technician holds an active job or is not activated.
func (s *Service) LiveJobs(ctx context.Context, technicianID snowflake.ID) ([]LiveJob, error) {
	ctx, span := tracer.Start(ctx, "broadcast.LiveJobs")
	defer span.End()

	live := []LiveJob{}

	p, err := s.technicians.FindByID(ctx, technicianID)
	if err != nil {
		return nil, err
	}
	if !technician.Evaluate(p, kycOf(p)).Activated() {
		return live, nil
	}

	active, err := s.jobs.ActiveJob(ctx, technicianID)
	if err != nil {
		return nil, err
	}
	if active != nil {
		return live, nil
	}

	offers, err := s.repo.Live(ctx, technicianID, s.now(), s.dispatch.FeedFallbackAge)
	if err != nil {
		return nil, err
	}
	if len(offers) == 0 {
		return live, nil
	}

	ids := make([]snowflake.ID, 0, len(offers))
	for _, b := range offers {
		ids = append(ids, b.JobID)
	}
	jobs, err := s.jobs.FindOpen(ctx, ids, booking.StatusBroadcasted)
	if err != nil {
		return nil, err
	}
	byID := make(map[snowflake.ID]*booking.Job, len(jobs))
	for _, j := range jobs {
		byID[j.ID] = j
	}

	techPoint, techLocated := p.Point()
	for _, b := range offers {
		job, ok := byID[b.JobID]
		if !ok {
			continue
		}

		distance := b.DistanceMeters
		if jobPoint, ok := job.Point(); ok && techLocated {
			distance = geo.Distance(techPoint, jobPoint)
		}

		entry := LiveJob{
			JobID:            job.ID,
			Code:             job.Code,
			ServiceID:        job.ServiceID,
			Address:          job.Address,
			FaultProblem:     job.FaultProblem,
			Earnings:         job.TechnicianAmount,
			BaseAmount:       job.BaseAmount,
			SentAt:           b.SentAt,
			ExpiresAt:        b.ExpiresAt,
			JobCreatedAt:     job.CreatedAt,
			BroadcastID:      b.ID,
			ScheduledAt:      job.ScheduledAt,
			CustomerLocation: job.HasLocation,
		}
		if distance >= 0 {
			entry.DistanceKM = km(distance)
		}
		live = append(live, entry)
	}

	span.SetAttributes(attribute.Int("feed.size", len(live)))
	return live, nil
}

func kycOf(p *technician.Profile) *technician.KYC {
	if p == nil {
		return nil
	}
	return p.KYC
}
