package technician

import (
	"time"

	"fieldops-dispatch/pkg/geo"

	"github.com/bwmarrin/snowflake"
	"gorm.io/datatypes"
)

type WorkStatus string

const (
	WorkStatusPending   WorkStatus = "pending"
	WorkStatusTrained   WorkStatus = "trained"
	WorkStatusApproved  WorkStatus = "approved"
	WorkStatusSuspended WorkStatus = "suspended"
	WorkStatusDeleted   WorkStatus = "deleted"
)

type KYCStatus string

const (
	KYCNotSubmitted KYCStatus = "not_submitted"
	KYCPending      KYCStatus = "pending"
	KYCApproved     KYCStatus = "approved"
	KYCRejected     KYCStatus = "rejected"
)

// Profile is the technician row maintained by onboarding. Dispatch writes
// only location, availability, last_matching_at and wallet_balance.
type Profile struct {
	ID                 snowflake.ID   `gorm:"column:id;primaryKey;autoIncrement:false" json:"id"`
	UserID             snowflake.ID   `gorm:"column:user_id;index" json:"user_id"`
	Name               string         `gorm:"column:name" json:"name"`
	Phone              string         `gorm:"column:phone" json:"-"`
	Latitude           float64        `gorm:"column:latitude" json:"latitude"`
	Longitude          float64        `gorm:"column:longitude" json:"longitude"`
	HasLocation        bool           `gorm:"column:has_location" json:"has_location"`
	City               string         `gorm:"column:city" json:"city"`
	State              string         `gorm:"column:state" json:"state"`
	Pincode            string         `gorm:"column:pincode;index" json:"pincode"`
	WorkStatus         WorkStatus     `gorm:"column:work_status;type:varchar(20);index" json:"work_status"`
	IsOnline           bool           `gorm:"column:is_online" json:"is_online"`
	TrainingCompleted  bool           `gorm:"column:training_completed" json:"training_completed"`
	ProfileComplete    bool           `gorm:"column:profile_complete" json:"profile_complete"`
	WalletBalance      int64          `gorm:"column:wallet_balance" json:"wallet_balance"`
	TotalJobsCompleted int64          `gorm:"column:total_jobs_completed" json:"total_jobs_completed"`
	LastLocationAt     *time.Time     `gorm:"column:last_location_at" json:"last_location_at,omitempty"`
	LastMatchingAt     *time.Time     `gorm:"column:last_matching_at" json:"last_matching_at,omitempty"`
	LegacySkills       datatypes.JSON `gorm:"column:legacy_skills" json:"-"`
	CreatedAt          time.Time      `gorm:"column:created_at" json:"created_at"`
	UpdatedAt          time.Time      `gorm:"column:updated_at" json:"updated_at"`

	Skills []Skill `gorm:"foreignKey:TechnicianID;references:ID" json:"skills,omitempty"`
	KYC    *KYC    `gorm:"foreignKey:TechnicianID;references:ID" json:"kyc,omitempty"`
}

func (Profile) TableName() string { return "technician_profiles" }

// Point returns the last stored location; ok is false when none was stored.
func (p *Profile) Point() (geo.Point, bool) {
	if p == nil || !p.HasLocation {
		return geo.Point{}, false
	}
	return geo.Point{Lat: p.Latitude, Lng: p.Longitude}, true
}

func (p *Profile) ServiceIDs() []snowflake.ID {
	ids := make([]snowflake.ID, 0, len(p.Skills))
	for _, s := range p.Skills {
		ids = append(ids, s.ServiceID)
	}
	return ids
}

// Skill is the normalized technician to service link.
type Skill struct {
	TechnicianID    snowflake.ID `gorm:"column:technician_id;primaryKey;autoIncrement:false" json:"-"`
	ServiceID       snowflake.ID `gorm:"column:service_id;primaryKey;autoIncrement:false;index" json:"service_id"`
	ExperienceYears int          `gorm:"column:experience_years" json:"experience_years"`
	CreatedAt       time.Time    `gorm:"column:created_at" json:"-"`
}

func (Skill) TableName() string { return "technician_skills" }

type KYC struct {
	ID                 snowflake.ID `gorm:"column:id;primaryKey;autoIncrement:false" json:"id"`
	TechnicianID       snowflake.ID `gorm:"column:technician_id;uniqueIndex" json:"technician_id"`
	VerificationStatus KYCStatus    `gorm:"column:verification_status;type:varchar(20)" json:"verification_status"`
	BankVerified       bool         `gorm:"column:bank_verified" json:"bank_verified"`
	CreatedAt          time.Time    `gorm:"column:created_at" json:"created_at"`
	UpdatedAt          time.Time    `gorm:"column:updated_at" json:"updated_at"`
}

func (KYC) TableName() string { return "technician_kycs" }

// Models lists the tables owned by this package, in migration order.
func Models() []any {
	return []any{&Profile{}, &Skill{}, &KYC{}}
}
