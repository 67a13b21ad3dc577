package notification

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
)

type Audience string

const (
	AudienceTechnician Audience = "technician"
	AudienceCustomer   Audience = "customer"
)

type Event string

const (
	EventNewJob       Event = "job:new"
	EventJobTaken     Event = "job:taken"
	EventJobAccepted  Event = "job_accepted"
	EventJobStatus    Event = "job:status"
	EventJobCancelled Event = "job:cancelled"
)

// Message is one notification for one recipient.
type Message struct {
	Audience    Audience       `json:"audience"`
	RecipientID snowflake.ID   `json:"recipient_id"`
	Event       Event          `json:"event"`
	JobID       snowflake.ID   `json:"job_id"`
	Data        map[string]any `json:"data,omitempty"`
	CreatedAt   time.Time      `json:"created_at"`
}

// Notifier hands notifications to the delivery collaborator. Calls never
// fail the caller: delivery problems are logged and retried downstream.
type Notifier interface {
	NotifyTechnicians(ctx context.Context, technicianIDs []snowflake.ID, event Event, jobID snowflake.ID, data map[string]any)
	NotifyCustomer(ctx context.Context, customerID snowflake.ID, event Event, jobID snowflake.ID, data map[string]any)
}
