package technician

import (
	"context"

	"fieldops-dispatch/pkg/errutil"

	"github.com/bwmarrin/snowflake"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type Service struct {
	repo *Repository
}

type ServiceParams struct {
	fx.In
	DB *gorm.DB
}

func NewService(p ServiceParams) *Service {
	return &Service{repo: NewRepository(p.DB)}
}

func (s *Service) Repository() *Repository {
	return s.repo
}

// Get returns the profile or a NotFound error.
func (s *Service) Get(ctx context.Context, id snowflake.ID) (*Profile, error) {
	if id <= 0 {
		return nil, errutil.BadRequest("invalid technician id", nil)
	}

	p, err := s.repo.FindByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if p == nil {
		return nil, errutil.NotFound("technician not found", nil)
	}
	return p, nil
}

// Eligibility evaluates the technician's readiness. A missing technician is
// reported as a readiness result, not an error.
func (s *Service) Eligibility(ctx context.Context, id snowflake.ID) (Readiness, error) {
	span := trace.SpanFromContext(ctx)
	zapLog := zap.L().With(
		zap.String("trace_id", span.SpanContext().TraceID().String()),
		zap.String("technician_id", id.String()),
	)

	if id <= 0 {
		return Evaluate(nil, nil), nil
	}

	p, err := s.repo.FindByID(ctx, id)
	if err != nil {
		zapLog.Error("failed to load technician", zap.Error(err))
		return Readiness{}, err
	}
	if p == nil {
		return Evaluate(nil, nil), nil
	}
	return Evaluate(p, p.KYC), nil
}

// SetSkills normalizes service references at ingestion and replaces the
// technician's skill set.
func (s *Service) SetSkills(ctx context.Context, id snowflake.ID, refs []string) ([]Skill, error) {
	skills := make([]Skill, 0, len(refs))
	seen := make(map[snowflake.ID]bool, len(refs))
	for _, ref := range refs {
		sid, err := ParseServiceRef(ref)
		if err != nil {
			return nil, errutil.BadRequest("invalid service reference", err,
				errutil.WithDetails(errutil.Detail{Field: "skills", Message: ref}))
		}
		if seen[sid] {
			continue
		}
		seen[sid] = true
		skills = append(skills, Skill{ServiceID: sid})
	}

	if _, err := s.Get(ctx, id); err != nil {
		return nil, err
	}
	if err := s.repo.ReplaceSkills(ctx, id, skills); err != nil {
		return nil, err
	}
	return skills, nil
}
