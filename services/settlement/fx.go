package settlement

import (
	"fieldops-dispatch/pkg/taskname"
	"fieldops-dispatch/services/booking"

	"github.com/hibiken/asynq"
	"go.uber.org/fx"
)

var Module = fx.Module("settlement.engine",
	fx.Provide(
		NewEngine,
		func(e *Engine) booking.SettlementTrigger { return e },
	),
)

var Gateway = fx.Module("settlement.gateway",
	fx.Invoke(registerRoutes),
)

// Worker registers the payment and retry task handlers.
var Worker = fx.Module("settlement.worker",
	fx.Provide(NewTaskHandler),
	fx.Invoke(registerHandlers),
)

func registerHandlers(mux *asynq.ServeMux, h *TaskHandler) {
	mux.HandleFunc(taskname.PaymentVerified, h.HandlePaymentVerified)
	mux.HandleFunc(taskname.SettlementRetry, h.HandleSettlementRetry)
}
