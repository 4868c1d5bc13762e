package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	t.Setenv("JWT_SECRET", "test-secret")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "8080", cfg.Port)
	assert.Equal(t, 5, cfg.SettleMaxAttempts)
	assert.Equal(t, 20*time.Millisecond, cfg.SettleBackoff)
	assert.Equal(t, 30*24*time.Hour, cfg.CaptureTTL)
	assert.Zero(t, cfg.TrustedProxyHops)
	assert.Equal(t, []string{"http://localhost:3000"}, cfg.CORSAllowedOrigins)
}

func TestLoad_Overrides(t *testing.T) {
	t.Setenv("JWT_SECRET", "test-secret")
	t.Setenv("PORT", "9090")
	t.Setenv("TRUSTED_PROXY_HOPS", "2")
	t.Setenv("SETTLE_MAX_ATTEMPTS", "8")
	t.Setenv("CAPTURE_TTL", "48h")
	t.Setenv("SIGNUP_RATE_RPS", "1.5")
	t.Setenv("CORS_ALLOWED_ORIGINS", "https://a.example.com, https://b.example.com,")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "9090", cfg.Port)
	assert.Equal(t, 2, cfg.TrustedProxyHops)
	assert.Equal(t, 8, cfg.SettleMaxAttempts)
	assert.Equal(t, 48*time.Hour, cfg.CaptureTTL)
	assert.Equal(t, 1.5, cfg.SignupRateRPS)
	assert.Equal(t, []string{"https://a.example.com", "https://b.example.com"}, cfg.CORSAllowedOrigins)
}

func TestLoad_Invalid(t *testing.T) {
	cases := map[string]map[string]string{
		"missing jwt secret": {"JWT_SECRET": ""},
		"zero attempts":      {"JWT_SECRET": "x", "SETTLE_MAX_ATTEMPTS": "0"},
		"bad ttl":            {"JWT_SECRET": "x", "CAPTURE_TTL": "forever"},
		"bad proxy hops":     {"JWT_SECRET": "x", "TRUSTED_PROXY_HOPS": "maybe"},
		"negative hops":      {"JWT_SECRET": "x", "TRUSTED_PROXY_HOPS": "-1"},
	}
	for name, env := range cases {
		t.Run(name, func(t *testing.T) {
			for k, v := range env {
				t.Setenv(k, v)
			}
			_, err := Load()
			assert.Error(t, err)
		})
	}
}
