package notification

import (
	"fieldops-dispatch/pkg/taskname"

	"github.com/hibiken/asynq"
	"go.uber.org/fx"
)

// Module provides the producer side used by the API.
var Module = fx.Module("notification.notifier",
	fx.Provide(
		fx.Annotate(NewTaskNotifier, fx.As(new(Notifier))),
	),
)

// Worker registers the delivery handler on the asynq mux.
var Worker = fx.Module("notification.worker",
	fx.Provide(NewDispatcher),
	fx.Invoke(registerHandlers),
)

func registerHandlers(mux *asynq.ServeMux, d *Dispatcher) {
	mux.HandleFunc(taskname.NotificationDispatch, d.HandleDispatchTask)
}
