package matching

import (
	"context"
	"sort"
	"strings"

	"fieldops-dispatch/pkg/config"
	"fieldops-dispatch/pkg/geo"
	"fieldops-dispatch/services/booking"
	"fieldops-dispatch/services/technician"

	"github.com/bwmarrin/snowflake"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var tracer = otel.Tracer("fieldops-dispatch/matching")

// Tier names the stage that produced a match result.
type Tier string

const (
	TierNone    Tier = "none"
	TierGeo     Tier = "geo"
	TierPincode Tier = "pincode"
	TierCity    Tier = "city"
	TierState   Tier = "state"
)

type Address struct {
	Pincode string
	City    string
	State   string
}

// Criteria describes the job a technician is being matched to.
type Criteria struct {
	ServiceID    snowflake.ID
	Point        *geo.Point
	Address      Address
	RadiusMeters float64
	Limit        int
}

// CriteriaForJob builds the matching criteria of a stored job.
func CriteriaForJob(job *booking.Job) Criteria {
	c := Criteria{
		ServiceID:    job.ServiceID,
		RadiusMeters: job.SearchRadiusMeters,
		Address: Address{
			Pincode: job.Address.Pincode,
			City:    job.Address.City,
			State:   job.Address.State,
		},
	}
	if pt, ok := job.Point(); ok {
		c.Point = &pt
	}
	return c
}

type Match struct {
	Technician *technician.Profile
	// DistanceMeters is negative when either side has no stored location.
	DistanceMeters float64
}

type Result struct {
	Tier    Tier
	Matches []Match
}

func (r *Result) TechnicianIDs() []snowflake.ID {
	ids := make([]snowflake.ID, 0, len(r.Matches))
	for _, m := range r.Matches {
		ids = append(ids, m.Technician.ID)
	}
	return ids
}

type PendingJob struct {
	Job            *booking.Job
	DistanceMeters float64
}

type Matcher struct {
	db       *gorm.DB
	dispatch config.Dispatch
}

type Params struct {
	fx.In

	DB     *gorm.DB
	Config *config.Config `optional:"true"`
}

func NewMatcher(p Params) *Matcher {
	dispatch := config.DefaultDispatch()
	if p.Config != nil {
		dispatch = p.Config.Dispatch
	}
	return &Matcher{db: p.DB, dispatch: dispatch}
}

// eligible restricts a technician_profiles query to ready technicians
// holding the service skill.
func (m *Matcher) eligible(ctx context.Context, serviceID snowflake.ID) *gorm.DB {
	return m.db.WithContext(ctx).
		Model(&technician.Profile{}).
		Select("technician_profiles.*").
		Joins("JOIN technician_kycs ON technician_kycs.technician_id = technician_profiles.id").
		Joins("JOIN technician_skills ON technician_skills.technician_id = technician_profiles.id AND technician_skills.service_id = ?", serviceID).
		Where("technician_kycs.verification_status = ? AND technician_kycs.bank_verified = ?", technician.KYCApproved, true).
		Where("technician_profiles.work_status = ?", technician.WorkStatusApproved).
		Where("technician_profiles.profile_complete = ? AND technician_profiles.training_completed = ?", true, true).
		Where("technician_profiles.is_online = ?", true)
}

// FindTechnicians returns ready technicians for the criteria: nearest first
// within the radius, else the first non-empty of pincode, city and state.
func (m *Matcher) FindTechnicians(ctx context.Context, c Criteria) (*Result, error) {
	ctx, span := tracer.Start(ctx, "matching.FindTechnicians")
	defer span.End()

	if c.RadiusMeters <= 0 {
		c.RadiusMeters = m.dispatch.SearchRadiusMeters
	}
	if c.Limit <= 0 {
		c.Limit = m.dispatch.MatchLimit
	}

	zapLog := zap.L().With(
		zap.String("trace_id", span.SpanContext().TraceID().String()),
		zap.String("service_id", c.ServiceID.String()),
	)

	if c.Point != nil && c.Point.Valid() {
		matches, err := m.withinRadius(ctx, c)
		if err != nil {
			zapLog.Error("geo match failed", zap.Error(err))
			return nil, err
		}
		if len(matches) > 0 {
			span.SetAttributes(attribute.String("match.tier", string(TierGeo)), attribute.Int("match.count", len(matches)))
			return &Result{Tier: TierGeo, Matches: matches}, nil
		}
	}

	tiers := []struct {
		tier  Tier
		value string
		where string
	}{
		{TierPincode, strings.TrimSpace(c.Address.Pincode), "TRIM(technician_profiles.pincode) = ?"},
		{TierCity, strings.ToLower(strings.TrimSpace(c.Address.City)), "LOWER(TRIM(technician_profiles.city)) = ?"},
		{TierState, strings.ToLower(strings.TrimSpace(c.Address.State)), "LOWER(TRIM(technician_profiles.state)) = ?"},
	}
	for _, tier := range tiers {
		if tier.value == "" {
			continue
		}

		var profiles []*technician.Profile
		if err := m.eligible(ctx, c.ServiceID).
			Where(tier.where, tier.value).
			Order("technician_profiles.id").
			Limit(c.Limit).
			Find(&profiles).Error; err != nil {
			zapLog.Error("fallback match failed", zap.String("tier", string(tier.tier)), zap.Error(err))
			return nil, err
		}
		if len(profiles) == 0 {
			continue
		}

		span.SetAttributes(attribute.String("match.tier", string(tier.tier)), attribute.Int("match.count", len(profiles)))
		return &Result{Tier: tier.tier, Matches: withDistance(profiles, c.Point)}, nil
	}

	span.SetAttributes(attribute.String("match.tier", string(TierNone)))
	return &Result{Tier: TierNone}, nil
}

func (m *Matcher) withinRadius(ctx context.Context, c Criteria) ([]Match, error) {
	box := geo.BoundingBox(*c.Point, c.RadiusMeters)

	var profiles []*technician.Profile
	if err := m.eligible(ctx, c.ServiceID).
		Where("technician_profiles.has_location = ?", true).
		Scopes(inBox("technician_profiles.latitude", "technician_profiles.longitude", box)).
		Find(&profiles).Error; err != nil {
		return nil, err
	}

	matches := make([]Match, 0, len(profiles))
	for _, p := range profiles {
		pt, _ := p.Point()
		d := geo.Distance(*c.Point, pt)
		if d > c.RadiusMeters {
			continue
		}
		matches = append(matches, Match{Technician: p, DistanceMeters: d})
	}

	sort.SliceStable(matches, func(i, j int) bool {
		return matches[i].DistanceMeters < matches[j].DistanceMeters
	})
	if len(matches) > c.Limit {
		matches = matches[:c.Limit]
	}
	return matches, nil
}

// inBox filters rows whose coordinates fall inside box, splitting the
// longitude range when the box wraps at the antimeridian.
func inBox(latColumn, lngColumn string, box geo.Box) func(*gorm.DB) *gorm.DB {
	return func(db *gorm.DB) *gorm.DB {
		db = db.Where(latColumn+" BETWEEN ? AND ?", box.MinLat, box.MaxLat)
		if box.CrossesAntimeridian() {
			return db.Where("("+lngColumn+" >= ? OR "+lngColumn+" <= ?)", box.MinLng, box.MaxLng)
		}
		return db.Where(lngColumn+" BETWEEN ? AND ?", box.MinLng, box.MaxLng)
	}
}

func withDistance(profiles []*technician.Profile, from *geo.Point) []Match {
	matches := make([]Match, 0, len(profiles))
	for _, p := range profiles {
		d := -1.0
		if pt, ok := p.Point(); ok && from != nil && from.Valid() {
			d = geo.Distance(*from, pt)
		}
		matches = append(matches, Match{Technician: p, DistanceMeters: d})
	}
	return matches
}

// FindPendingJobs returns open, unassigned, located jobs for any of the
// services within radius of point, nearest first.
func (m *Matcher) FindPendingJobs(ctx context.Context, serviceIDs []snowflake.ID, point geo.Point, radius float64, limit int) ([]PendingJob, error) {
	ctx, span := tracer.Start(ctx, "matching.FindPendingJobs")
	defer span.End()

	if len(serviceIDs) == 0 || !point.Valid() {
		return nil, nil
	}
	if radius <= 0 {
		radius = m.dispatch.SearchRadiusMeters
	}
	if limit <= 0 {
		limit = m.dispatch.PendingJobLimit
	}

	box := geo.BoundingBox(point, radius)

	var jobs []*booking.Job
	if err := m.db.WithContext(ctx).
		Where("technician_id IS NULL AND status IN ?", booking.OpenStatuses).
		Where("service_id IN ?", serviceIDs).
		Where("has_location = ?", true).
		Scopes(inBox("latitude", "longitude", box)).
		Find(&jobs).Error; err != nil {
		zap.L().Error("pending job query failed", zap.Error(err))
		return nil, err
	}

	pending := make([]PendingJob, 0, len(jobs))
	for _, j := range jobs {
		pt, _ := j.Point()
		d := geo.Distance(point, pt)
		if d > radius {
			continue
		}
		pending = append(pending, PendingJob{Job: j, DistanceMeters: d})
	}

	sort.SliceStable(pending, func(i, k int) bool {
		return pending[i].DistanceMeters < pending[k].DistanceMeters
	})
	if len(pending) > limit {
		pending = pending[:limit]
	}

	span.SetAttributes(attribute.Int("pending.count", len(pending)))
	return pending, nil
}
