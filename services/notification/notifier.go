package notification

import (
	"context"
	"fmt"
	"time"

	"fieldops-dispatch/pkg/task"
	"fieldops-dispatch/pkg/taskname"

	"github.com/bwmarrin/snowflake"
	"github.com/hibiken/asynq"
	"go.uber.org/zap"
)

// TaskNotifier enqueues one asynq task per recipient. The task id makes a
// repeated event for the same job, recipient and status a no-op.
type TaskNotifier struct {
	enqueuer task.Enqueuer
	now      func() time.Time
}

func NewTaskNotifier(enqueuer task.Enqueuer) *TaskNotifier {
	return &TaskNotifier{enqueuer: enqueuer, now: time.Now}
}

func (n *TaskNotifier) NotifyTechnicians(ctx context.Context, technicianIDs []snowflake.ID, event Event, jobID snowflake.ID, data map[string]any) {
	for _, id := range technicianIDs {
		n.enqueue(ctx, Message{Audience: AudienceTechnician, RecipientID: id, Event: event, JobID: jobID, Data: data})
	}
}

func (n *TaskNotifier) NotifyCustomer(ctx context.Context, customerID snowflake.ID, event Event, jobID snowflake.ID, data map[string]any) {
	n.enqueue(ctx, Message{Audience: AudienceCustomer, RecipientID: customerID, Event: event, JobID: jobID, Data: data})
}

func (n *TaskNotifier) enqueue(ctx context.Context, msg Message) {
	msg.CreatedAt = n.now().UTC()
	zapLog := zap.L().With(
		zap.String("event", string(msg.Event)),
		zap.String("job_id", msg.JobID.String()),
		zap.String("recipient_id", msg.RecipientID.String()),
	)

	t, err := task.NewJSONTask(taskname.NotificationDispatch, msg)
	if err != nil {
		zapLog.Error("failed to build notification task", zap.Error(err))
		return
	}

	if _, err := n.enqueuer.Enqueue(ctx, t,
		asynq.Queue(task.QueueDefault),
		asynq.TaskID(taskID(msg)),
		asynq.MaxRetry(5),
		asynq.Retention(time.Hour),
	); err != nil {
		zapLog.Warn("failed to enqueue notification", zap.Error(err))
	}
}

// taskID identifies one delivery. Status events repeat per job, so the
// status they carry is part of the id.
func taskID(msg Message) string {
	id := fmt.Sprintf("%s:%s:%s:%s", msg.Event, msg.JobID, msg.Audience, msg.RecipientID)
	if msg.Event == EventJobStatus {
		if status, ok := msg.Data["status"]; ok {
			id += ":" + fmt.Sprint(status)
		}
	}
	return id
}
