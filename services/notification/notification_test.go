package notification

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"fieldops-dispatch/pkg/task"
	"fieldops-dispatch/pkg/taskname"

	"github.com/alicebob/miniredis/v2"
	"github.com/bwmarrin/snowflake"
	"github.com/hibiken/asynq"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func init() {
	zap.ReplaceGlobals(zap.NewNop())
}

type enqueuerMock struct {
	tasks []*asynq.Task
	err   error
}

func (m *enqueuerMock) Enqueue(_ context.Context, t *asynq.Task, _ ...asynq.Option) (*asynq.TaskInfo, error) {
	if m.err != nil {
		return nil, m.err
	}
	m.tasks = append(m.tasks, t)
	return &asynq.TaskInfo{}, nil
}

func TestTaskNotifierOneTaskPerRecipient(t *testing.T) {
	enq := &enqueuerMock{}
	n := NewTaskNotifier(enq)

	n.NotifyTechnicians(context.Background(), []snowflake.ID{1, 2, 3}, EventNewJob, 42, map[string]any{"earnings": 450})
	n.NotifyCustomer(context.Background(), 9, EventJobAccepted, 42, nil)

	require.Len(t, enq.tasks, 4)
	for _, tk := range enq.tasks {
		require.Equal(t, taskname.NotificationDispatch, tk.Type())
	}

	var msg Message
	require.NoError(t, json.Unmarshal(enq.tasks[3].Payload(), &msg))
	require.Equal(t, AudienceCustomer, msg.Audience)
	require.EqualValues(t, 9, msg.RecipientID)
	require.EqualValues(t, 42, msg.JobID)
}

func TestTaskNotifierSwallowsEnqueueErrors(t *testing.T) {
	n := NewTaskNotifier(&enqueuerMock{err: errors.New("redis down")})
	require.NotPanics(t, func() {
		n.NotifyCustomer(context.Background(), 9, EventJobAccepted, 42, nil)
	})
}

func TestDispatcherPublishesOnRecipientChannel(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	ctx := context.Background()
	sub := rdb.Subscribe(ctx, "notify:technician:7")
	t.Cleanup(func() { _ = sub.Close() })
	_, err := sub.Receive(ctx)
	require.NoError(t, err)

	tk, err := task.NewJSONTask(taskname.NotificationDispatch, Message{
		Audience:    AudienceTechnician,
		RecipientID: 7,
		Event:       EventJobTaken,
		JobID:       42,
	})
	require.NoError(t, err)

	d := NewDispatcher(rdb)
	require.NoError(t, d.HandleDispatchTask(ctx, tk))

	select {
	case m := <-sub.Channel():
		var got Message
		require.NoError(t, json.Unmarshal([]byte(m.Payload), &got))
		require.Equal(t, EventJobTaken, got.Event)
		require.EqualValues(t, 42, got.JobID)
	case <-time.After(2 * time.Second):
		t.Fatal("no message published")
	}
}

func TestDispatcherRejectsIncompleteMessage(t *testing.T) {
	d := NewDispatcher(nil)
	tk, err := task.NewJSONTask(taskname.NotificationDispatch, Message{Event: EventJobTaken})
	require.NoError(t, err)

	err = d.HandleDispatchTask(context.Background(), tk)
	require.ErrorIs(t, err, asynq.SkipRetry)
}

func TestChannel(t *testing.T) {
	require.Equal(t, "notify:customer:5", Channel(Message{Audience: AudienceCustomer, RecipientID: 5}))
	require.Equal(t, "notify:technician:5", Channel(Message{Audience: AudienceTechnician, RecipientID: 5}))
}

type countingEnqueuer struct {
	task.Enqueuer
	queued int
}

func (c *countingEnqueuer) Enqueue(ctx context.Context, t *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error) {
	info, err := c.Enqueuer.Enqueue(ctx, t, opts...)
	if info != nil {
		c.queued++
	}
	return info, err
}

func TestTaskNotifierQueuesEveryStatusChange(t *testing.T) {
	mr := miniredis.RunT(t)
	client := asynq.NewClient(asynq.RedisClientOpt{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	enq := &countingEnqueuer{Enqueuer: task.NewEnqueuer(client)}
	n := NewTaskNotifier(enq)
	ctx := context.Background()

	for _, status := range []string{"on_the_way", "reached", "in_progress", "completed"} {
		n.NotifyCustomer(ctx, 9, EventJobStatus, 42, map[string]any{"status": status})
	}
	require.Equal(t, 4, enq.queued)

	// the same status again is a duplicate delivery
	n.NotifyCustomer(ctx, 9, EventJobStatus, 42, map[string]any{"status": "completed"})
	n.NotifyCustomer(ctx, 9, EventJobAccepted, 42, nil)
	n.NotifyCustomer(ctx, 9, EventJobAccepted, 42, nil)
	require.Equal(t, 5, enq.queued)
}
