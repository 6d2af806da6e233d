package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("PORT", "9090")
	t.Setenv("DEBUG_ROUTES", "true")
	t.Setenv("TOKEN_TTL", "not-a-duration")

	cfg := Load()

	assert.Equal(t, "9090", cfg.Port)
	assert.True(t, cfg.DebugRoutes)
	assert.Equal(t, 72*time.Hour, cfg.TokenTTL)
	assert.Equal(t, "whispr.events", cfg.AMQPExchange)
}

func TestDevelopment(t *testing.T) {
	t.Setenv("ENVIRONMENT", "development")
	assert.True(t, Load().Development())
}
