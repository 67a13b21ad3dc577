package technician

import (
	"context"
	"testing"
	"time"

	"fieldops-dispatch/pkg/errutil"
	"fieldops-dispatch/pkg/geo"
	"fieldops-dispatch/services/testutil"

	"github.com/bwmarrin/snowflake"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

func init() {
	zap.ReplaceGlobals(zap.NewNop())
}

func newTestDB(t *testing.T) *gorm.DB {
	return testutil.NewTestDB(t, Models()...)
}

func seedProfile(t *testing.T, db *gorm.DB, p *Profile, k *KYC) {
	t.Helper()
	require.NoError(t, db.Create(p).Error)
	if k != nil {
		require.NoError(t, db.Create(k).Error)
	}
}

func TestFindByIDLoadsSkillsAndKYC(t *testing.T) {
	db := newTestDB(t)
	repo := NewRepository(db)

	seedProfile(t, db, readyProfile(), &KYC{ID: 10, TechnicianID: 1, VerificationStatus: KYCApproved, BankVerified: true})
	require.NoError(t, repo.ReplaceSkills(context.Background(), 1, []Skill{{ServiceID: 500}, {ServiceID: 501}}))

	p, err := repo.FindByID(context.Background(), 1)
	require.NoError(t, err)
	require.NotNil(t, p)
	require.Len(t, p.Skills, 2)
	require.NotNil(t, p.KYC)
	require.True(t, Evaluate(p, p.KYC).Eligible)

	missing, err := repo.FindByID(context.Background(), 99)
	require.NoError(t, err)
	require.Nil(t, missing)
}

func TestStampMatchingWindow(t *testing.T) {
	db := newTestDB(t)
	repo := NewRepository(db)
	seedProfile(t, db, readyProfile(), nil)

	now := time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)
	ctx := context.Background()

	won, err := repo.StampMatching(ctx, 1, now, 30*time.Second)
	require.NoError(t, err)
	require.True(t, won)

	won, err = repo.StampMatching(ctx, 1, now.Add(10*time.Second), 30*time.Second)
	require.NoError(t, err)
	require.False(t, won)

	won, err = repo.StampMatching(ctx, 1, now.Add(31*time.Second), 30*time.Second)
	require.NoError(t, err)
	require.True(t, won)
}

func TestUpdateLocationMarksOnline(t *testing.T) {
	db := newTestDB(t)
	repo := NewRepository(db)
	p := readyProfile()
	p.IsOnline = false
	seedProfile(t, db, p, nil)

	now := time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)
	require.NoError(t, repo.UpdateLocation(context.Background(), 1, geo.Point{Lat: 12.97, Lng: 77.59}, now))

	got, err := repo.FindByID(context.Background(), 1)
	require.NoError(t, err)
	require.True(t, got.IsOnline)
	pt, ok := got.Point()
	require.True(t, ok)
	require.InDelta(t, 12.97, pt.Lat, 1e-9)
}

func TestMigrateLegacySkills(t *testing.T) {
	db := newTestDB(t)

	mixed := readyProfile()
	mixed.LegacySkills = datatypes.JSON(`["500", 501, {"serviceId": "502", "experienceYears": 3}, "not-an-id"]`)
	seedProfile(t, db, mixed, nil)

	clean := readyProfile()
	clean.ID = 2
	seedProfile(t, db, clean, nil)

	large := readyProfile()
	large.ID = 3
	large.LegacySkills = datatypes.JSON(`[1234567890123456789, {"serviceId": 1234567890123456790, "experienceYears": 2}]`)
	seedProfile(t, db, large, nil)

	n, err := MigrateLegacySkills(context.Background(), db)
	require.NoError(t, err)
	require.Equal(t, 2, n)

	var big []Skill
	require.NoError(t, db.Where("technician_id = ?", 3).Order("service_id").Find(&big).Error)
	require.Len(t, big, 2)
	require.Equal(t, snowflake.ID(1234567890123456789), big[0].ServiceID)
	require.Equal(t, snowflake.ID(1234567890123456790), big[1].ServiceID)
	require.Equal(t, 2, big[1].ExperienceYears)

	var skills []Skill
	require.NoError(t, db.Where("technician_id = ?", 1).Order("service_id").Find(&skills).Error)
	require.Len(t, skills, 3)
	require.EqualValues(t, 500, skills[0].ServiceID)
	require.Equal(t, 3, skills[2].ExperienceYears)

	// rerun is a no-op
	n, err = MigrateLegacySkills(context.Background(), db)
	require.NoError(t, err)
	require.Zero(t, n)
}

func TestServiceEligibility(t *testing.T) {
	db := newTestDB(t)
	svc := NewService(ServiceParams{DB: db})
	seedProfile(t, db, readyProfile(), &KYC{ID: 10, TechnicianID: 1, VerificationStatus: KYCPending})

	r, err := svc.Eligibility(context.Background(), 1)
	require.NoError(t, err)
	require.Equal(t, StateAwaitingKYC, r.State)
	require.Equal(t, KYCPending, r.KYCStatus)

	r, err = svc.Eligibility(context.Background(), 404)
	require.NoError(t, err)
	require.Equal(t, []string{ReasonNotFound}, r.Reasons)
}

func TestServiceSetSkills(t *testing.T) {
	db := newTestDB(t)
	svc := NewService(ServiceParams{DB: db})
	seedProfile(t, db, readyProfile(), nil)

	skills, err := svc.SetSkills(context.Background(), 1, []string{"700", " 700", "701"})
	require.NoError(t, err)
	require.Len(t, skills, 2)

	_, err = svc.SetSkills(context.Background(), 1, []string{"plumbing"})
	require.True(t, errutil.IsStatus(err, errutil.StatusBadRequest))

	_, err = svc.SetSkills(context.Background(), 77, []string{"700"})
	require.True(t, errutil.IsStatus(err, errutil.StatusNotFound))
}
