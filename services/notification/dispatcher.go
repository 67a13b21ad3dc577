package notification

import (
	"context"
	"encoding/json"
	"fmt"

	"fieldops-dispatch/pkg/rediskey"
	"fieldops-dispatch/pkg/task"

	"github.com/hibiken/asynq"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// Dispatcher is the worker side: it publishes each message on the
// recipient's Redis channel, where the realtime gateway picks it up.
type Dispatcher struct {
	rdb *redis.Client
}

func NewDispatcher(rdb *redis.Client) *Dispatcher {
	return &Dispatcher{rdb: rdb}
}

// Channel returns the pub/sub channel a message is published on.
func Channel(msg Message) string {
	if msg.Audience == AudienceCustomer {
		return rediskey.CustomerChannel(msg.RecipientID.String())
	}
	return rediskey.TechnicianChannel(msg.RecipientID.String())
}

func (d *Dispatcher) Publish(ctx context.Context, msg Message) error {
	b, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	return d.rdb.Publish(ctx, Channel(msg), b).Err()
}

func (d *Dispatcher) HandleDispatchTask(ctx context.Context, t *asynq.Task) error {
	var msg Message
	if err := task.Decode(t, &msg); err != nil {
		return err
	}
	if msg.RecipientID == 0 || msg.Event == "" {
		return fmt.Errorf("notification without recipient or event: %w", asynq.SkipRetry)
	}

	if err := d.Publish(ctx, msg); err != nil {
		zap.L().Warn("failed to publish notification",
			zap.String("event", string(msg.Event)),
			zap.String("recipient_id", msg.RecipientID.String()),
			zap.Error(err))
		return err
	}
	return nil
}
