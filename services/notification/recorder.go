package notification

import (
	"context"
	"sync"

	"github.com/bwmarrin/snowflake"
)

// Recorder is an in-memory Notifier for tests and local runs.
type Recorder struct {
	mu       sync.Mutex
	Messages []Message
}

func (r *Recorder) NotifyTechnicians(_ context.Context, technicianIDs []snowflake.ID, event Event, jobID snowflake.ID, data map[string]any) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, id := range technicianIDs {
		r.Messages = append(r.Messages, Message{Audience: AudienceTechnician, RecipientID: id, Event: event, JobID: jobID, Data: data})
	}
}

func (r *Recorder) NotifyCustomer(_ context.Context, customerID snowflake.ID, event Event, jobID snowflake.ID, data map[string]any) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.Messages = append(r.Messages, Message{Audience: AudienceCustomer, RecipientID: customerID, Event: event, JobID: jobID, Data: data})
}

// Recipients returns the recipients of event, in notification order.
func (r *Recorder) Recipients(event Event) []snowflake.ID {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []snowflake.ID
	for _, m := range r.Messages {
		if m.Event == event {
			out = append(out, m.RecipientID)
		}
	}
	return out
}
