package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestLoadDefaults(t *testing.T) {
	for _, k := range []string{"PORT", "SESSION_STORE", "MONGO_DB", "REDIS_ADDR", "REDIS_URI", "REDIS_URL", "POSTCODE_CACHE_TTL", "GCS_PUBLIC_READ", "WS_ALLOWED_ORIGINS", "JOURNAL_WORKERS", "ENGINE_IDLE_TTL"} {
		t.Setenv(k, "")
	}

	cfg := Load()
	assert.Equal(t, "8080", cfg.Port)
	assert.Equal(t, "mongo", cfg.SessionStore)
	assert.Equal(t, "jointcheck", cfg.MongoDB)
	assert.Equal(t, "https://api.postcodes.io", cfg.PostcodeAPIURL)
	assert.Equal(t, 24*time.Hour, cfg.PostcodeCacheTTL)
	assert.True(t, cfg.GCSPublicRead)
	assert.Equal(t, 2, cfg.JournalWorkers)
	assert.Equal(t, 30*time.Minute, cfg.EngineIdleTTL)
	assert.Empty(t, cfg.RedisAddr)
	assert.Nil(t, cfg.AllowedOrigins)
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("SESSION_STORE", "Memory")
	t.Setenv("REDIS_ADDR", "")
	t.Setenv("REDIS_URL", "redis://cache:6379/0")
	t.Setenv("POSTCODE_CACHE_TTL", "90m")
	t.Setenv("GCS_PUBLIC_READ", "false")
	t.Setenv("WS_ALLOWED_ORIGINS", "https://a.example, ,https://b.example")
	t.Setenv("JOURNAL_WORKERS", "nope")
	t.Setenv("ENGINE_IDLE_TTL", "5m")

	cfg := Load()
	assert.Equal(t, "memory", cfg.SessionStore)
	assert.Equal(t, "redis://cache:6379/0", cfg.RedisAddr)
	assert.Equal(t, 90*time.Minute, cfg.PostcodeCacheTTL)
	assert.False(t, cfg.GCSPublicRead)
	assert.Equal(t, []string{"https://a.example", "https://b.example"}, cfg.AllowedOrigins)
	assert.Equal(t, 2, cfg.JournalWorkers)
	assert.Equal(t, 5*time.Minute, cfg.EngineIdleTTL)
}
