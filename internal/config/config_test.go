package config

import (
	"testing"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/stretchr/testify/require"
)

func TestParseDefaults(t *testing.T) {
	t.Setenv("JWT_SECRET", "s3cret")
	t.Setenv("STORE", "memory")

	var cfg Config
	require.NoError(t, env.Parse(&cfg))
	require.NoError(t, cfg.Validate())
	require.Equal(t, "8083", cfg.Port)
	require.Equal(t, time.Minute, cfg.SweepInterval)
	require.Equal(t, 720*time.Hour, cfg.Retention)
}

func TestValidateRejectsUnknownStore(t *testing.T) {
	cfg := Config{Store: "mongo", JWTSecret: "x", SweepInterval: time.Second}
	require.Error(t, cfg.Validate())
}

func TestValidateRequiresSecret(t *testing.T) {
	cfg := Config{Store: "memory", SweepInterval: time.Second}
	require.Error(t, cfg.Validate())
}
