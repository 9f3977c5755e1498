package config

import (
	"os"
	"strconv"
	"time"
)

// Config holds all runtime settings, loaded from environment variables.
// Defaults are chosen so the hub runs with no configuration at all.
type Config struct {
	Port     string
	LogLevel string

	// Session lifecycle
	CodeLength    int
	GraceWindow   time.Duration // how long an empty session survives before sweep
	SweepInterval time.Duration

	// Categories game pacing (seconds)
	SubmitSeconds      int
	RevealSeconds      int
	VoteSeconds        int
	ResultDwellSeconds int
	CategoriesPerRound int
	PointsPerWord      int

	// Sketch game pacing
	DrawSeconds int

	// External collaborator endpoint. Empty disables AI-backed features.
	AIBaseURL string
	AITimeout time.Duration
}

func Load() Config {
	return Config{
		Port:     getEnv("PORT", "8080"),
		LogLevel: getEnv("LOG_LEVEL", "info"),

		CodeLength:    getEnvInt("SESSION_CODE_LENGTH", 4),
		GraceWindow:   getEnvDuration("SESSION_GRACE_WINDOW", 2*time.Minute),
		SweepInterval: getEnvDuration("SESSION_SWEEP_INTERVAL", 30*time.Second),

		SubmitSeconds:      getEnvInt("CATEGORIES_SUBMIT_SEC", 60),
		RevealSeconds:      getEnvInt("CATEGORIES_REVEAL_SEC", 10),
		VoteSeconds:        getEnvInt("CATEGORIES_VOTE_SEC", 20),
		ResultDwellSeconds: getEnvInt("CATEGORIES_DWELL_SEC", 5),
		CategoriesPerRound: getEnvInt("CATEGORIES_PER_ROUND", 5),
		PointsPerWord:      getEnvInt("CATEGORIES_POINTS_PER_WORD", 10),

		DrawSeconds: getEnvInt("SKETCH_DRAW_SEC", 90),

		AIBaseURL: os.Getenv("AI_BASE_URL"),
		AITimeout: getEnvDuration("AI_TIMEOUT", 15*time.Second),
	}
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return fallback
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}
