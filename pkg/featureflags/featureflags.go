package featureflags

import (
	"context"

	"fieldops-dispatch/pkg/config"

	"github.com/Flagsmith/flagsmith-go-client/v2"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

// Flag names evaluated by the dispatch services.
const (
	SettlementTransactional = "settlement_transactional"
)

var Module = fx.Module("featureflags", fx.Provide(ProvideFeatureFlag))

type FeatureFlag interface {
	// Enabled reports the flag state for identifier, or fallback when the
	// flag service is not configured or unreachable.
	Enabled(ctx context.Context, feature, identifier string, fallback bool) bool
}

type featureflag struct {
	client *flagsmith.Client
}

type FeatureParams struct {
	fx.In
	Config *config.Config
}

func ProvideFeatureFlag(p FeatureParams) FeatureFlag {
	if p.Config.Flagsmith.ApiKey == "" {
		return &featureflag{}
	}

	opts := []flagsmith.Option{
		flagsmith.WithAnalytics(),
	}
	if p.Config.Flagsmith.Addr != "" {
		opts = append(opts, flagsmith.WithBaseURL(p.Config.Flagsmith.Addr))
	}

	return &featureflag{
		client: flagsmith.NewClient(p.Config.Flagsmith.ApiKey, opts...),
	}
}

func (s *featureflag) Enabled(ctx context.Context, feature, identifier string, fallback bool) bool {
	if s.client == nil {
		return fallback
	}

	var (
		flags flagsmith.Flags
		err   error
	)
	if identifier == "" {
		flags, err = s.client.GetEnvironmentFlags()
	} else {
		flags, err = s.client.GetIdentityFlags(identifier, nil)
	}
	if err != nil {
		zap.L().Warn("failed to fetch feature flags", zap.String("feature", feature), zap.Error(err))
		return fallback
	}

	enabled, err := flags.IsFeatureEnabled(feature)
	if err != nil {
		return fallback
	}
	return enabled
}

// Static is a FeatureFlag with fixed answers, used where no flag service is wired.
type Static map[string]bool

func (s Static) Enabled(_ context.Context, feature, _ string, fallback bool) bool {
	if v, ok := s[feature]; ok {
		return v
	}
	return fallback
}
