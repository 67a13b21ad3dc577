package httpapi

import (
	"net/http"

	"fieldops-dispatch/pkg/config"
	"fieldops-dispatch/pkg/health"
	"fieldops-dispatch/pkg/middleware"

	"github.com/casbin/casbin/v2"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var Module = fx.Module("httpapi",
	fx.Provide(
		NewEngine,
		middleware.NewEnforcer,
		NewRouter,
		func(e *gin.Engine) http.Handler { return e },
	),
	fx.Invoke(registerHealthEndpoint),
)

// Router exposes the authenticated /v1 group to the service modules.
type Router struct {
	V1       *gin.RouterGroup
	Enforcer *casbin.Enforcer
}

// Authorize is shorthand for middleware.Authorize with the router's enforcer.
func (r *Router) Authorize(obj, act string) gin.HandlerFunc {
	return middleware.Authorize(r.Enforcer, obj, act)
}

func NewEngine(cfg *config.Config) *gin.Engine {
	if cfg.AppEnv == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	engine := gin.New()
	engine.Use(gin.Recovery(), accessLog(), middleware.Error())
	return engine
}

func NewRouter(cfg *config.Config, engine *gin.Engine, enforcer *casbin.Enforcer) *Router {
	return &Router{
		V1:       engine.Group("/v1", middleware.Auth(cfg.Auth.JWTSecret, cfg.Auth.Issuer)),
		Enforcer: enforcer,
	}
}

func registerHealthEndpoint(engine *gin.Engine, h health.HealthService) {
	engine.GET("/healthz", h.Liveness)
	engine.GET("/readyz", h.Readiness)
	engine.GET("/metrics", gin.WrapH(promhttp.Handler()))
}

func accessLog() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		fields := []zap.Field{
			zap.String("method", c.Request.Method),
			zap.String("path", c.FullPath()),
			zap.Int("status", c.Writer.Status()),
		}
		if sc := trace.SpanFromContext(c.Request.Context()).SpanContext(); sc.IsValid() {
			fields = append(fields, zap.String("trace_id", sc.TraceID().String()))
		}
		zap.L().Debug("http request", fields...)
	}
}
