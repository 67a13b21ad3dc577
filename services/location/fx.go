package location

import (
	"fieldops-dispatch/services/broadcast"

	"go.uber.org/fx"
)

var Module = fx.Module("location",
	fx.Provide(
		NewService,
		func(s *broadcast.Service) Rematcher { return s },
	),
)

var Gateway = fx.Module("location.gateway",
	fx.Invoke(registerRoutes),
)
