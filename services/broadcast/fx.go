package broadcast

import (
	"fieldops-dispatch/services/booking"

	"go.uber.org/fx"
)

var Module = fx.Module("broadcast.service",
	fx.Provide(
		NewService,
		func(s *Service) booking.Dispatcher { return s },
		func(s *Service) booking.OfferCloser { return s },
	),
)

var Gateway = fx.Module("broadcast.gateway",
	fx.Invoke(registerRoutes),
)
