// Package fixture seeds technicians and jobs for the dispatch package tests.
package fixture

import (
	"testing"
	"time"

	"fieldops-dispatch/services/booking"
	"fieldops-dispatch/services/technician"

	"github.com/bwmarrin/snowflake"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

// Models lists the technician and booking tables.
func Models() []any {
	return append(technician.Models(), &booking.Job{})
}

// TechnicianOption customizes a seeded technician before insert.
type TechnicianOption func(p *technician.Profile, k *technician.KYC)

func Offline() TechnicianOption {
	return func(p *technician.Profile, _ *technician.KYC) { p.IsOnline = false }
}

func At(lat, lng float64) TechnicianOption {
	return func(p *technician.Profile, _ *technician.KYC) {
		p.Latitude, p.Longitude, p.HasLocation = lat, lng, true
	}
}

func NoLocation() TechnicianOption {
	return func(p *technician.Profile, _ *technician.KYC) {
		p.Latitude, p.Longitude, p.HasLocation = 0, 0, false
	}
}

func Area(city, state, pincode string) TechnicianOption {
	return func(p *technician.Profile, _ *technician.KYC) {
		p.City, p.State, p.Pincode = city, state, pincode
	}
}

func KYCStatus(s technician.KYCStatus) TechnicianOption {
	return func(_ *technician.Profile, k *technician.KYC) { k.VerificationStatus = s }
}

func WorkStatus(s technician.WorkStatus) TechnicianOption {
	return func(p *technician.Profile, _ *technician.KYC) { p.WorkStatus = s }
}

func LastMatching(at time.Time) TechnicianOption {
	return func(p *technician.Profile, _ *technician.KYC) { p.LastMatchingAt = &at }
}

// Technician inserts an approved, online technician with approved KYC, a
// verified bank account and the given skills.
func Technician(t *testing.T, db *gorm.DB, id snowflake.ID, serviceIDs []snowflake.ID, opts ...TechnicianOption) *technician.Profile {
	t.Helper()

	p := &technician.Profile{
		ID:                id,
		UserID:            id + 10000,
		Name:              "tech-" + id.String(),
		Latitude:          12.9716,
		Longitude:         77.5946,
		HasLocation:       true,
		City:              "Bengaluru",
		State:             "Karnataka",
		Pincode:           "560001",
		WorkStatus:        technician.WorkStatusApproved,
		IsOnline:          true,
		TrainingCompleted: true,
		ProfileComplete:   true,
	}
	k := &technician.KYC{
		ID:                 id + 20000,
		TechnicianID:       id,
		VerificationStatus: technician.KYCApproved,
		BankVerified:       true,
	}
	for _, opt := range opts {
		opt(p, k)
	}

	require.NoError(t, db.Create(p).Error)
	require.NoError(t, db.Create(k).Error)

	for _, sid := range serviceIDs {
		require.NoError(t, db.Create(&technician.Skill{TechnicianID: id, ServiceID: sid}).Error)
	}
	return p
}

// JobOption customizes a seeded job before insert.
type JobOption func(j *booking.Job)

func JobAt(lat, lng float64) JobOption {
	return func(j *booking.Job) {
		j.Latitude, j.Longitude, j.HasLocation = lat, lng, true
	}
}

func JobArea(city, state, pincode string) JobOption {
	return func(j *booking.Job) {
		j.Address.City, j.Address.State, j.Address.Pincode = city, state, pincode
		j.Latitude, j.Longitude, j.HasLocation = 0, 0, false
	}
}

func Status(s booking.Status) JobOption {
	return func(j *booking.Job) { j.Status = s }
}

func AssignedTo(technicianID snowflake.ID) JobOption {
	return func(j *booking.Job) { j.TechnicianID = &technicianID }
}

func Amounts(base, technicianAmount int64) JobOption {
	return func(j *booking.Job) {
		j.BaseAmount = base
		j.TechnicianAmount = technicianAmount
		j.CommissionAmount = base - technicianAmount
	}
}

func Payment(s booking.PaymentStatus) JobOption {
	return func(j *booking.Job) { j.PaymentStatus = s }
}

func Settlement(s booking.SettlementStatus) JobOption {
	return func(j *booking.Job) { j.SettlementStatus = s }
}

// Job inserts a requested job near the default technician location.
func Job(t *testing.T, db *gorm.DB, id, serviceID snowflake.ID, opts ...JobOption) *booking.Job {
	t.Helper()

	j := &booking.Job{
		ID:                 id,
		Code:               "JOB-" + id.String(),
		CustomerID:         id + 30000,
		ServiceID:          serviceID,
		BaseAmount:         1000,
		CommissionAmount:   200,
		TechnicianAmount:   800,
		Latitude:           12.9750,
		Longitude:          77.5990,
		HasLocation:        true,
		LocationType:       booking.LocationSaved,
		SearchRadiusMeters: 10000,
		Status:             booking.StatusRequested,
		PaymentStatus:      booking.PaymentPending,
		SettlementStatus:   booking.SettlementPending,
		CreatedAt:          time.Now().UTC(),
	}
	for _, opt := range opts {
		opt(j)
	}

	require.NoError(t, db.Create(j).Error)
	return j
}
