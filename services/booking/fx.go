package booking

import "go.uber.org/fx"

var Module = fx.Module("booking.service",
	fx.Provide(NewService),
	fx.Provide(func(s *Service) *Repository { return s.Repository() }),
)

var Gateway = fx.Module("booking.gateway",
	fx.Invoke(registerRoutes),
)
