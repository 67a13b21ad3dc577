package technician

import "go.uber.org/fx"

var Module = fx.Module("technician.service",
	fx.Provide(NewService),
	fx.Provide(func(s *Service) *Repository { return s.Repository() }),
)

var Gateway = fx.Module("technician.gateway",
	fx.Invoke(registerRoutes),
)
