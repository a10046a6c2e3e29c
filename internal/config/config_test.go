package config

import (
	"testing"
	"time"

	"github.com/bananalabs-oss/retro/internal/retro"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	t.Setenv("SERVICE_TOKEN", "secret")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "0.0.0.0:8004", cfg.Addr())
	assert.Equal(t, "sqlite://retro.db", cfg.DatabaseURL)
	assert.Equal(t, "secret", cfg.ServiceToken)
	assert.Equal(t, []string{"*"}, cfg.AllowedOrigins)
	assert.Equal(t, retro.DefaultPolicy(), cfg.Policy)
	assert.Equal(t, time.Minute, cfg.SweepInterval)
	assert.Equal(t, uint32(65536), cfg.Argon2Memory)
	assert.Equal(t, uint32(3), cfg.Argon2Iterations)
	assert.Equal(t, uint8(1), cfg.Argon2Parallelism)
	assert.Equal(t, 20.0, cfg.WSRateLimit)
	assert.Equal(t, 40, cfg.WSRateBurst)
}

func TestLoad_Overrides(t *testing.T) {
	t.Setenv("SERVICE_TOKEN", "secret")
	t.Setenv("PORT", "9000")
	t.Setenv("ALLOWED_ORIGINS", "https://a.example, https://b.example,")
	t.Setenv("CARD_EDIT_POLICY", "creation-and-discussion")
	t.Setenv("DISCONNECT_POLICY", "retain")
	t.Setenv("ON_EMPTY_ROOM", "delete-after(15m)")
	t.Setenv("ROOM_SWEEP_INTERVAL", "30s")
	t.Setenv("ARGON2_PARALLELISM", "4")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "0.0.0.0:9000", cfg.Addr())
	assert.Equal(t, []string{"https://a.example", "https://b.example"}, cfg.AllowedOrigins)
	assert.True(t, cfg.Policy.AllowDiscussionEdits)
	assert.False(t, cfg.Policy.RemoveOnDisconnect)
	assert.Equal(t, retro.Retention{DeleteEmpty: true, After: 15 * time.Minute}, cfg.Policy.Retention)
	assert.Equal(t, 30*time.Second, cfg.SweepInterval)
	assert.Equal(t, uint8(4), cfg.Argon2Parallelism)
}

func TestLoad_Invalid(t *testing.T) {
	tests := map[string]string{
		"CARD_EDIT_POLICY":    "sometimes",
		"DISCONNECT_POLICY":   "vanish",
		"ON_EMPTY_ROOM":       "delete-after(soon)",
		"ROOM_SWEEP_INTERVAL": "-1s",
		"ARGON2_PARALLELISM":  "300",
		"WS_RATE_LIMIT":       "fast",
	}
	for key, value := range tests {
		t.Run(key, func(t *testing.T) {
			t.Setenv("SERVICE_TOKEN", "secret")
			t.Setenv(key, value)

			_, err := Load()
			assert.Error(t, err)
		})
	}
}

func TestDatabaseDisplay(t *testing.T) {
	cfg := Config{DatabaseURL: "postgres://retro:hunter2@db:5432/retro?sslmode=disable"}
	assert.Equal(t, "postgres://retro:xxxxx@db:5432/retro?sslmode=disable", cfg.DatabaseDisplay())

	cfg.DatabaseURL = "sqlite://retro.db"
	assert.Equal(t, "sqlite://retro.db", cfg.DatabaseDisplay())
}
