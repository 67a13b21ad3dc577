package booking

import (
	"context"
	"strings"
	"time"

	"fieldops-dispatch/pkg/config"
	"fieldops-dispatch/pkg/errutil"
	"fieldops-dispatch/pkg/geo"
	"fieldops-dispatch/pkg/sequence"
	"fieldops-dispatch/services/notification"
	"fieldops-dispatch/services/technician"

	"github.com/bwmarrin/snowflake"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var tracer = otel.Tracer("fieldops-dispatch/booking")

// Dispatcher runs new-job matching and fan-out and returns how many
// technicians were offered the job.
type Dispatcher interface {
	DispatchJob(ctx context.Context, jobID snowflake.ID) (int, error)
}

// OfferCloser expires the open offers of a job and returns the technicians
// that held one.
type OfferCloser interface {
	CloseOffers(ctx context.Context, jobID snowflake.ID) ([]snowflake.ID, error)
}

// SettlementTrigger evaluates settlement for a job. Failures are handled and
// logged by the implementation.
type SettlementTrigger interface {
	Trigger(ctx context.Context, jobID snowflake.ID)
}

type Service struct {
	db          *gorm.DB
	node        *snowflake.Node
	repo        *Repository
	technicians *technician.Repository
	sequence    sequence.Generator
	notifier    notification.Notifier
	dispatcher  Dispatcher
	offers      OfferCloser
	settlement  SettlementTrigger
	dispatch    config.Dispatch
	now         func() time.Time
}

type ServiceParams struct {
	fx.In

	DB          *gorm.DB
	Node        *snowflake.Node
	Config      *config.Config
	Technicians *technician.Repository
	Notifier    notification.Notifier
	Sequence    sequence.Generator `optional:"true"`
	Dispatcher  Dispatcher         `optional:"true"`
	Offers      OfferCloser        `optional:"true"`
	Settlement  SettlementTrigger  `optional:"true"`
}

func NewService(p ServiceParams) *Service {
	dispatch := config.DefaultDispatch()
	if p.Config != nil {
		dispatch = p.Config.Dispatch
	}
	return &Service{
		db:          p.DB,
		node:        p.Node,
		repo:        NewRepository(p.DB),
		technicians: p.Technicians,
		sequence:    p.Sequence,
		notifier:    p.Notifier,
		dispatcher:  p.Dispatcher,
		offers:      p.Offers,
		settlement:  p.Settlement,
		dispatch:    dispatch,
		now:         func() time.Time { return time.Now().UTC() },
	}
}

func (s *Service) Repository() *Repository {
	return s.repo
}

type CreateJobParams struct {
	CustomerID           snowflake.ID `json:"customer_id"`
	ServiceID            snowflake.ID `json:"service_id" binding:"required"`
	BaseAmount           int64        `json:"base_amount" binding:"gte=0"`
	CommissionPercentage float64      `json:"commission_percentage" binding:"gte=0,lte=100"`
	CommissionAmount     int64        `json:"commission_amount" binding:"gte=0"`
	TechnicianAmount     int64        `json:"technician_amount" binding:"gte=0"`
	Latitude             *float64     `json:"latitude"`
	Longitude            *float64     `json:"longitude"`
	LocationType         LocationType `json:"location_type"`
	Address              Address      `json:"address"`
	SearchRadiusMeters   float64      `json:"search_radius_meters" binding:"gte=0"`
	FaultProblem         string       `json:"fault_problem"`
	ScheduledAt          *time.Time   `json:"scheduled_at"`
}

// CreateResult carries the created job and how many technicians were
// offered it.
type CreateResult struct {
	Job     *Job   `json:"job"`
	Offered int    `json:"offered"`
	Message string `json:"message"`
}

// CreateJob inserts a requested job and runs new-job dispatch. A job nobody
// matched stays requested and is not an error.
func (s *Service) CreateJob(ctx context.Context, p CreateJobParams) (*CreateResult, error) {
	ctx, span := tracer.Start(ctx, "booking.CreateJob")
	defer span.End()

	if p.CustomerID <= 0 {
		return nil, errutil.BadRequest("invalid customer id", nil)
	}
	if p.ServiceID <= 0 {
		return nil, errutil.BadRequest("invalid service id", nil)
	}
	if p.TechnicianAmount > p.BaseAmount {
		return nil, errutil.BadRequest("technician amount exceeds base amount", nil)
	}

	job := &Job{
		ID:                   s.node.Generate(),
		CustomerID:           p.CustomerID,
		ServiceID:            p.ServiceID,
		BaseAmount:           p.BaseAmount,
		CommissionPercentage: p.CommissionPercentage,
		CommissionAmount:     p.CommissionAmount,
		TechnicianAmount:     p.TechnicianAmount,
		LocationType:         p.LocationType,
		Address:              normalizeAddress(p.Address),
		SearchRadiusMeters:   p.SearchRadiusMeters,
		FaultProblem:         strings.TrimSpace(p.FaultProblem),
		ScheduledAt:          p.ScheduledAt,
		Status:               StatusRequested,
		PaymentStatus:        PaymentPending,
		SettlementStatus:     SettlementPending,
	}
	if job.LocationType == "" {
		job.LocationType = LocationSaved
	}
	if p.Latitude != nil && p.Longitude != nil {
		pt := geo.Point{Lat: *p.Latitude, Lng: *p.Longitude}
		if !pt.Valid() {
			return nil, errutil.BadRequest("coordinates out of range", nil,
				errutil.WithDetails(errutil.Detail{Field: "latitude", Message: "must be within [-90,90]/[-180,180]"}))
		}
		job.Latitude, job.Longitude, job.HasLocation = pt.Lat, pt.Lng, true
	}

	job.Code = "JOB-" + job.ID.Base36()
	if s.sequence != nil {
		if code, err := s.sequence.NextJobCode(ctx); err == nil {
			job.Code = code
		} else {
			zap.L().Warn("sequence unavailable, using id based job code", zap.Error(err))
		}
	}

	if err := s.repo.Create(ctx, job); err != nil {
		zap.L().Error("failed to create job", zap.Error(err))
		return nil, err
	}
	span.SetAttributes(attribute.String("job.id", job.ID.String()))

	result := &CreateResult{Job: job, Message: "created, awaiting technicians"}
	if s.dispatcher == nil {
		return result, nil
	}

	offered, err := s.dispatcher.DispatchJob(ctx, job.ID)
	if err != nil {
		// the job exists; matching is retried when technicians move or come online
		zap.L().Error("new job dispatch failed", zap.String("job_id", job.ID.String()), zap.Error(err))
		return result, nil
	}

	result.Offered = offered
	if offered > 0 {
		result.Message = "broadcasted to technicians"
		if fresh, err := s.repo.FindByID(ctx, job.ID); err == nil && fresh != nil {
			result.Job = fresh
		}
	}
	return result, nil
}

func normalizeAddress(a Address) Address {
	a.Name = strings.TrimSpace(a.Name)
	a.Phone = strings.TrimSpace(a.Phone)
	a.AddressLine = strings.TrimSpace(a.AddressLine)
	a.City = strings.TrimSpace(a.City)
	a.State = strings.TrimSpace(a.State)
	a.Pincode = strings.TrimSpace(a.Pincode)
	return a
}

// Get returns the job or NotFound.
func (s *Service) Get(ctx context.Context, id snowflake.ID) (*Job, error) {
	if id <= 0 {
		return nil, errutil.BadRequest("invalid job id", nil)
	}
	job, err := s.repo.FindByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if job == nil {
		return nil, errutil.NotFound("job not found", nil)
	}
	return job, nil
}

// AdvanceStatus moves an assigned job one step along
// accepted -> on_the_way -> reached -> in_progress -> completed.
func (s *Service) AdvanceStatus(ctx context.Context, jobID, technicianID snowflake.ID, next Status) (*Job, error) {
	ctx, span := tracer.Start(ctx, "booking.AdvanceStatus")
	defer span.End()

	zapLog := zap.L().With(
		zap.String("trace_id", span.SpanContext().TraceID().String()),
		zap.String("job_id", jobID.String()),
		zap.String("technician_id", technicianID.String()),
		zap.String("next", string(next)),
	)

	from, ok := Predecessor(next)
	if !ok {
		return nil, errutil.BadRequest("invalid status update", nil,
			errutil.WithDetails(errutil.Detail{Field: "status", Message: "must be one of on_the_way, reached, in_progress, completed"}))
	}

	job, err := s.Get(ctx, jobID)
	if err != nil {
		return nil, err
	}
	if !job.AssignedTo(technicianID) {
		return nil, errutil.Forbidden("job is not assigned to you", nil)
	}

	profile, err := s.technicians.FindByID(ctx, technicianID)
	if err != nil {
		return nil, err
	}
	readiness := technician.Evaluate(profile, kycOf(profile))
	if !readiness.CanWork() {
		return nil, errutil.Forbidden("technician not eligible to work", nil, reasonDetails(readiness.Reasons)...)
	}

	if job.Status != from {
		return nil, errutil.Conflict("invalid status transition", nil,
			errutil.WithDetails(errutil.Detail{Field: "status", Message: string(job.Status) + " -> " + string(next)}))
	}
	if next == StatusCompleted && (job.BeforeImage == "" || job.AfterImage == "") {
		return nil, errutil.UnprocessableEntity("before and after work images are required to complete the job", nil)
	}

	now := s.now()
	won, err := s.repo.Advance(ctx, jobID, technicianID, from, next, now)
	if err != nil {
		zapLog.Error("failed to advance job", zap.Error(err))
		return nil, err
	}
	if !won {
		return nil, errutil.Conflict("job status changed concurrently", nil)
	}

	if next == StatusCompleted {
		if err := s.db.WithContext(ctx).Model(&technician.Profile{}).
			Where("id = ?", technicianID).
			Update("total_jobs_completed", gorm.Expr("total_jobs_completed + 1")).Error; err != nil {
			zapLog.Warn("failed to bump completed job counter", zap.Error(err))
		}
	}

	job, err = s.Get(ctx, jobID)
	if err != nil {
		return nil, err
	}

	s.notifier.NotifyCustomer(ctx, job.CustomerID, notification.EventJobStatus, job.ID, map[string]any{"status": job.Status})

	if next == StatusCompleted && s.settlement != nil {
		s.settlement.Trigger(ctx, job.ID)
		if fresh, err := s.repo.FindByID(ctx, job.ID); err == nil && fresh != nil {
			job = fresh
		}
	}

	zapLog.Info("job status advanced")
	return job, nil
}

type WorkImages struct {
	BeforeImage string `json:"before_image"`
	AfterImage  string `json:"after_image"`
}

// AttachWorkImages records references to uploaded before/after images.
func (s *Service) AttachWorkImages(ctx context.Context, jobID, technicianID snowflake.ID, images WorkImages) (*Job, error) {
	images.BeforeImage = strings.TrimSpace(images.BeforeImage)
	images.AfterImage = strings.TrimSpace(images.AfterImage)
	if images.BeforeImage == "" && images.AfterImage == "" {
		return nil, errutil.BadRequest("no image provided", nil)
	}

	job, err := s.Get(ctx, jobID)
	if err != nil {
		return nil, err
	}
	if !job.AssignedTo(technicianID) {
		return nil, errutil.Forbidden("job is not assigned to you", nil)
	}
	if job.Status == StatusCompleted {
		return nil, errutil.Conflict("cannot upload images after job completion", nil)
	}

	won, err := s.repo.SetWorkImages(ctx, jobID, technicianID, images.BeforeImage, images.AfterImage)
	if err != nil {
		return nil, err
	}
	if !won {
		return nil, errutil.Conflict("job is no longer active", nil)
	}
	return s.Get(ctx, jobID)
}

// Cancel cancels a job on behalf of its customer before work has started.
func (s *Service) Cancel(ctx context.Context, jobID, customerID snowflake.ID) (*Job, error) {
	ctx, span := tracer.Start(ctx, "booking.Cancel")
	defer span.End()

	job, err := s.Get(ctx, jobID)
	if err != nil {
		return nil, err
	}
	if job.CustomerID != customerID {
		return nil, errutil.Forbidden("not your booking", nil)
	}
	switch {
	case job.Status == StatusCancelled:
		return nil, errutil.Conflict("booking already cancelled", nil)
	case job.Status == StatusCompleted:
		return nil, errutil.Conflict("completed booking cannot be cancelled", nil)
	case Started(job.Status):
		return nil, errutil.Conflict("booking cannot be cancelled after the technician has started", nil)
	}

	won, err := s.repo.Cancel(ctx, jobID, customerID, s.now())
	if err != nil {
		return nil, err
	}
	if !won {
		return nil, errutil.Conflict("booking changed concurrently", nil)
	}

	var offered []snowflake.ID
	if s.offers != nil {
		offered, err = s.offers.CloseOffers(ctx, jobID)
		if err != nil {
			zap.L().Warn("failed to close offers of cancelled job", zap.String("job_id", jobID.String()), zap.Error(err))
		}
	}

	notify := offered
	if job.TechnicianID != nil {
		notify = append(notify, *job.TechnicianID)
	}
	if len(notify) > 0 {
		s.notifier.NotifyTechnicians(ctx, notify, notification.EventJobCancelled, jobID, nil)
	}

	return s.Get(ctx, jobID)
}

// ConfirmPayment consumes the payment-verified signal and evaluates
// settlement. A repeated signal only re-runs the evaluation.
func (s *Service) ConfirmPayment(ctx context.Context, jobID snowflake.ID, paidAmount int64, paymentRef string) (*Job, error) {
	ctx, span := tracer.Start(ctx, "booking.ConfirmPayment")
	defer span.End()

	if paidAmount < 0 {
		return nil, errutil.BadRequest("invalid paid amount", nil)
	}

	job, err := s.Get(ctx, jobID)
	if err != nil {
		return nil, err
	}
	if job.PaymentStatus == PaymentRefunded {
		return nil, errutil.Conflict("payment already refunded", nil)
	}
	if job.Status == StatusCancelled {
		return nil, errutil.Conflict("booking is cancelled", nil)
	}

	if _, err := s.repo.MarkPaid(ctx, jobID, paidAmount, paymentRef); err != nil {
		return nil, err
	}

	if s.settlement != nil {
		s.settlement.Trigger(ctx, jobID)
	}
	return s.Get(ctx, jobID)
}

func kycOf(p *technician.Profile) *technician.KYC {
	if p == nil {
		return nil
	}
	return p.KYC
}

func reasonDetails(reasons []string) []errutil.Option {
	details := make([]errutil.Detail, 0, len(reasons))
	for _, r := range reasons {
		details = append(details, errutil.Detail{Field: "reason", Message: r})
	}
	return []errutil.Option{errutil.WithDetails(details...)}
}

// IsConflict reports whether err is a lost race or invalid transition.
func IsConflict(err error) bool {
	return errutil.IsStatus(err, errutil.StatusConflict)
}
