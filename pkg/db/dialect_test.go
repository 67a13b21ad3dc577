package db

import (
	"testing"

	"fieldops-dispatch/pkg/config"

	"github.com/stretchr/testify/require"
)

func TestDialect(t *testing.T) {
	cfg := &config.Config{}
	cfg.Database.Host = "localhost"
	cfg.Database.Port = "5432"
	cfg.Database.DBNAME = "dispatch"

	for _, typ := range []string{"", "postgres", "mysql", "sqlite"} {
		cfg.Database.Type = typ
		d, err := Dialect(cfg)
		require.NoError(t, err, typ)
		require.NotNil(t, d)
	}

	cfg.Database.Type = "oracle"
	_, err := Dialect(cfg)
	require.Error(t, err)
}

func TestExtractDBNameFromDSN(t *testing.T) {
	require.Equal(t, "dispatch", extractDBNameFromDSN("host=x dbname=dispatch sslmode=disable"))
	require.Equal(t, "unknown", extractDBNameFromDSN("host=x"))
}
