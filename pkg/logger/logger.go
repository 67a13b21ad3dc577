package logger

import (
	"fieldops-dispatch/pkg/config"

	"go.uber.org/fx"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var Module = fx.Module("zap",
	fx.Provide(
		New,
	),
)

type ConfigParams struct {
	fx.In
	Cfg *config.Config
}

func New(p ConfigParams) *zap.Logger {
	log := zap.Must(build(p.Cfg))

	if p.Cfg != nil {
		log = log.With(baseFields(p.Cfg)...)
	}

	zap.ReplaceGlobals(log)

	return log
}

func build(cfg *config.Config) (*zap.Logger, error) {
	if cfg == nil || cfg.AppEnv != "production" {
		return zap.NewDevelopment()
	}

	zc := zap.NewProductionConfig()
	zc.EncoderConfig.TimeKey = "timestamp"
	zc.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	zc.EncoderConfig.StacktraceKey = "stacktrace"
	zc.EncoderConfig.LevelKey = "severity"
	zc.EncoderConfig.EncodeLevel = zapcore.CapitalLevelEncoder
	zc.EncoderConfig.CallerKey = "caller"
	zc.EncoderConfig.EncodeCaller = zapcore.ShortCallerEncoder
	zc.Encoding = "json"
	zc.OutputPaths = []string{"stdout"}
	zc.ErrorOutputPaths = []string{"stderr"}
	return zc.Build()
}

// baseFields tag every line with the process identity. node_id is the
// snowflake node, so ids in a log line can be traced to the writer.
func baseFields(cfg *config.Config) []zap.Field {
	fields := []zap.Field{
		zap.String("env", cfg.AppEnv),
		zap.String("service_name", cfg.AppName),
		zap.Int64("node_id", cfg.NodeID),
	}
	if cfg.AppVersion != "" {
		fields = append(fields, zap.String("version", cfg.AppVersion))
	}
	if cfg.AppNamespace != "" {
		fields = append(fields, zap.String("namespace", cfg.AppNamespace))
	}
	return fields
}
