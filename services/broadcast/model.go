package broadcast

import (
	"time"

	"fieldops-dispatch/services/booking"

	"github.com/bwmarrin/snowflake"
)

type Status string

const (
	StatusSent     Status = "sent"
	StatusAccepted Status = "accepted"
	StatusRejected Status = "rejected"
	StatusExpired  Status = "expired"
)

// Broadcast is one job offer to one technician. (job_id, technician_id) is
// unique, which makes fan-out idempotent.
type Broadcast struct {
	ID             snowflake.ID `gorm:"column:id;primaryKey;autoIncrement:false" json:"id"`
	JobID          snowflake.ID `gorm:"column:job_id;uniqueIndex:idx_job_broadcasts_pair,priority:1" json:"job_id"`
	TechnicianID   snowflake.ID `gorm:"column:technician_id;uniqueIndex:idx_job_broadcasts_pair,priority:2;index" json:"technician_id"`
	Status         Status       `gorm:"column:status;type:varchar(20);index" json:"status"`
	DistanceMeters float64      `gorm:"column:distance_meters" json:"distance_meters"`
	SentAt         time.Time    `gorm:"column:sent_at" json:"sent_at"`
	ExpiresAt      *time.Time   `gorm:"column:expires_at" json:"expires_at,omitempty"`
	RespondedAt    *time.Time   `gorm:"column:responded_at" json:"responded_at,omitempty"`
	CreatedAt      time.Time    `gorm:"column:created_at" json:"created_at"`
	UpdatedAt      time.Time    `gorm:"column:updated_at" json:"updated_at"`
}

func (Broadcast) TableName() string { return "job_broadcasts" }

// Open reports whether the offer can still be accepted at now.
func (b *Broadcast) Open(now time.Time) bool {
	if b.Status != StatusSent {
		return false
	}
	return b.ExpiresAt == nil || b.ExpiresAt.After(now)
}

// LiveJob is one entry of the technician's live feed.
type LiveJob struct {
	JobID            snowflake.ID    `json:"job_id"`
	Code             string          `json:"code"`
	ServiceID        snowflake.ID    `json:"service_id"`
	Address          booking.Address `json:"address"`
	FaultProblem     string          `json:"fault_problem,omitempty"`
	DistanceKM       float64         `json:"distance_km"`
	Earnings         int64           `json:"earnings"`
	BaseAmount       int64           `json:"base_amount"`
	SentAt           time.Time       `json:"sent_at"`
	ExpiresAt        *time.Time      `json:"expires_at,omitempty"`
	JobCreatedAt     time.Time       `json:"job_created_at"`
	BroadcastID      snowflake.ID    `json:"broadcast_id"`
	ScheduledAt      *time.Time      `json:"scheduled_at,omitempty"`
	CustomerLocation bool            `json:"has_location"`
}

func Models() []any {
	return []any{&Broadcast{}}
}
