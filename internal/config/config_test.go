package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"rdpgate/internal/constants"
)

const secret = "0123456789abcdef"

func lookup(vars map[string]string) func(string) string {
	return func(k string) string { return vars[k] }
}

func TestDefaults(t *testing.T) {
	cfg, err := FromLookup(lookup(map[string]string{"RDPGATE_TOKEN_SECRET": secret}))
	require.NoError(t, err)

	assert.Equal(t, "0.0.0.0:8080", cfg.Addr())
	assert.Equal(t, constants.DefaultMaxSessions, cfg.MaxSessions)
	assert.Equal(t, 15*time.Minute, cfg.IdleTimeout)
	assert.Equal(t, 30*time.Second, cfg.HeartbeatInterval)
	assert.Equal(t, constants.BackendModeAuto, cfg.Backend)
	assert.False(t, cfg.TLSEnabled())
	assert.Empty(t, cfg.AllowedOrigins)
}

func TestOverrides(t *testing.T) {
	cfg, err := FromLookup(lookup(map[string]string{
		"RDPGATE_TOKEN_SECRET":       secret,
		"RDPGATE_PORT":               "9443",
		"RDPGATE_MAX_SESSIONS":       "1",
		"RDPGATE_IDLE_TIMEOUT":       "90s",
		"RDPGATE_BACKEND":            "MOCK",
		"RDPGATE_AGENT_E2EE":         "true",
		"RDPGATE_ALLOWED_ORIGINS":    "https://a.example, ,https://b.example",
		"RDPGATE_TRUSTED_PROXIES":    "10.0.0.0/8",
		"RDPGATE_MAX_AUTH_FAILURES":  "3",
		"RDPGATE_REDIS_HOST":         "redis",
		"RDPGATE_HEARTBEAT_INTERVAL": "5s",
	}))
	require.NoError(t, err)

	assert.Equal(t, "9443", cfg.Port)
	assert.Equal(t, 1, cfg.MaxSessions)
	assert.Equal(t, 90*time.Second, cfg.IdleTimeout)
	assert.Equal(t, 5*time.Second, cfg.HeartbeatInterval)
	assert.Equal(t, constants.BackendModeMock, cfg.Backend)
	assert.True(t, cfg.AgentE2EE)
	assert.Equal(t, []string{"https://a.example", "https://b.example"}, cfg.AllowedOrigins)
	assert.Equal(t, []string{"10.0.0.0/8"}, cfg.TrustedProxies)
	assert.Equal(t, 3, cfg.MaxAuthFailures)
	assert.Equal(t, "6379", cfg.RedisPort)
}

func TestInvalid(t *testing.T) {
	tests := []struct {
		name string
		vars map[string]string
	}{
		{"missing secret", map[string]string{}},
		{"short secret", map[string]string{"RDPGATE_TOKEN_SECRET": "short"}},
		{"port out of range", map[string]string{"RDPGATE_TOKEN_SECRET": secret, "RDPGATE_PORT": "70000"}},
		{"zero sessions", map[string]string{"RDPGATE_TOKEN_SECRET": secret, "RDPGATE_MAX_SESSIONS": "0"}},
		{"bad duration", map[string]string{"RDPGATE_TOKEN_SECRET": secret, "RDPGATE_IDLE_TIMEOUT": "soon"}},
		{"bad int", map[string]string{"RDPGATE_TOKEN_SECRET": secret, "RDPGATE_MAX_SESSIONS": "ten"}},
		{"bad bool", map[string]string{"RDPGATE_TOKEN_SECRET": secret, "RDPGATE_AUDIT": "maybe"}},
		{"unknown backend", map[string]string{"RDPGATE_TOKEN_SECRET": secret, "RDPGATE_BACKEND": "vnc"}},
		{"cert without key", map[string]string{"RDPGATE_TOKEN_SECRET": secret, "RDPGATE_TLS_CERT": "c.pem"}},
		{"bad cidr", map[string]string{"RDPGATE_TOKEN_SECRET": secret, "RDPGATE_TRUSTED_PROXIES": "10.0.0.1"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := FromLookup(lookup(tt.vars))
			assert.ErrorIs(t, err, ErrInvalidConfig)
		})
	}
}
