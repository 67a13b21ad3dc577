package settlement

import (
	"context"
	"fmt"

	"fieldops-dispatch/pkg/errutil"
	"fieldops-dispatch/pkg/task"
	"fieldops-dispatch/services/booking"

	"github.com/hibiken/asynq"
	"go.uber.org/zap"
)

// TaskHandler consumes the payment and retry tasks on the worker.
type TaskHandler struct {
	engine   *Engine
	bookings *booking.Service
}

func NewTaskHandler(engine *Engine, bookings *booking.Service) *TaskHandler {
	return &TaskHandler{engine: engine, bookings: bookings}
}

// HandlePaymentVerified applies a payment-verified signal. Redelivery is
// harmless: the payment write is conditional and settlement idempotent.
func (h *TaskHandler) HandlePaymentVerified(ctx context.Context, t *asynq.Task) error {
	var p booking.PaymentVerified
	if err := task.Decode(t, &p); err != nil {
		return err
	}
	if p.JobID <= 0 {
		return fmt.Errorf("payment signal without job id: %w", asynq.SkipRetry)
	}

	if _, err := h.bookings.ConfirmPayment(ctx, p.JobID, p.PaidAmount, p.PaymentRef); err != nil {
		if permanent(err) {
			zap.L().Warn("dropping payment signal", zap.String("job_id", p.JobID.String()), zap.Error(err))
			return fmt.Errorf("%v: %w", err, asynq.SkipRetry)
		}
		return err
	}
	return nil
}

func (h *TaskHandler) HandleSettlementRetry(ctx context.Context, t *asynq.Task) error {
	var p RetryPayload
	if err := task.Decode(t, &p); err != nil {
		return err
	}

	res, err := h.engine.Settle(ctx, p.JobID)
	if err != nil {
		if permanent(err) {
			return fmt.Errorf("%v: %w", err, asynq.SkipRetry)
		}
		return err
	}
	zap.L().Info("settlement retry finished",
		zap.String("job_id", p.JobID.String()),
		zap.String("reason", string(res.Reason)))
	return nil
}

// permanent reports errors a retry cannot fix.
func permanent(err error) bool {
	be, ok := errutil.As(err)
	if !ok {
		return false
	}
	switch be.Code {
	case errutil.StatusBadRequest, errutil.StatusNotFound, errutil.StatusConflict, errutil.StatusForbidden:
		return true
	}
	return false
}
