package assignment

import "go.uber.org/fx"

var Module = fx.Module("assignment",
	fx.Provide(NewResolver),
)

var Gateway = fx.Module("assignment.gateway",
	fx.Invoke(registerRoutes),
)
