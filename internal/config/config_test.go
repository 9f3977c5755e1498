// internal/config/config_test.go
package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestLoadDefaults(t *testing.T) {
	cfg := Load()

	assert.Equal(t, "8080", cfg.Port)
	assert.Equal(t, "info", cfg.LogLevel)
	assert.Equal(t, 4, cfg.CodeLength)
	assert.Equal(t, 2*time.Minute, cfg.GraceWindow)
	assert.Equal(t, 60, cfg.SubmitSeconds)
	assert.Equal(t, 5, cfg.CategoriesPerRound)
	assert.Equal(t, 90, cfg.DrawSeconds)
	assert.Empty(t, cfg.AIBaseURL)
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("PORT", "9999")
	t.Setenv("SESSION_CODE_LENGTH", "6")
	t.Setenv("SESSION_GRACE_WINDOW", "5m")
	t.Setenv("CATEGORIES_SUBMIT_SEC", "30")
	t.Setenv("AI_BASE_URL", "http://ai.local")

	cfg := Load()

	assert.Equal(t, "9999", cfg.Port)
	assert.Equal(t, 6, cfg.CodeLength)
	assert.Equal(t, 5*time.Minute, cfg.GraceWindow)
	assert.Equal(t, 30, cfg.SubmitSeconds)
	assert.Equal(t, "http://ai.local", cfg.AIBaseURL)
}

func TestMalformedValuesFallBack(t *testing.T) {
	t.Setenv("SESSION_CODE_LENGTH", "four")
	t.Setenv("SESSION_GRACE_WINDOW", "soon")

	cfg := Load()

	assert.Equal(t, 4, cfg.CodeLength)
	assert.Equal(t, 2*time.Minute, cfg.GraceWindow)
}
