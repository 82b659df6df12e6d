package logger

import (
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
)

func TestGetLogLevel(t *testing.T) {
	t.Setenv("LOG_LEVEL", "")
	t.Setenv("HARVEST_ENVIRONMENT", "production")
	assert.Equal(t, zerolog.InfoLevel, getLogLevel())

	t.Setenv("HARVEST_ENVIRONMENT", "development")
	assert.Equal(t, zerolog.DebugLevel, getLogLevel())

	t.Setenv("LOG_LEVEL", "warn")
	assert.Equal(t, zerolog.WarnLevel, getLogLevel())

	t.Setenv("LOG_LEVEL", "loud")
	assert.Equal(t, zerolog.InfoLevel, getLogLevel())
}

func TestScopedLoggers(t *testing.T) {
	t.Setenv("LOG_LEVEL", "error")
	Init()

	assert.NotNil(t, ForSource("midland-hk"))
	assert.NotNil(t, ForComponent("fetch").WithField("domain", "example.com"))
	assert.False(t, IsDebugEnabled())

	// Printf helpers must not panic below the active level
	Info("harvest %s", "started")
	Warn("skipped %d sources", 2)
}
