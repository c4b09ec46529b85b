package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestApplyDefaults(t *testing.T) {
	var c AppConfig
	applyDefaults(&c)

	assert.Equal(t, "8080", c.AppPort)
	assert.Equal(t, "release", c.GinMode)
	assert.Equal(t, []string{"*"}, c.AllowedOrigins)
	assert.Equal(t, 1200, c.DefaultRating)
	assert.Equal(t, 0, c.RatingFloor)
	assert.Equal(t, 20, c.PenaltyPoints)
	assert.Equal(t, 10, c.AlgoBonusPoints)
	assert.Equal(t, 0, c.CheckinRewardPoints)
	assert.Equal(t, 120, c.DailyGoalMinutes)
	assert.Equal(t, 60, c.LeaveMakeupPerDay)
	assert.Equal(t, "2025-03-01", c.PenaltyStartDate)
	assert.Equal(t, 4, c.BusinessDayCutoffHour)
	assert.Equal(t, 72, c.UploadTTLHours)
}

func TestLoadJSONConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	require.NoError(t, os.WriteFile(path, []byte(`{
		"app": {"AppPort": "9000", "JWTSecret": "s3cret"},
		"gin": {"Mode": "debug"},
		"redis": {"RedisHost": "redis.internal", "RedisPort": 6380},
		"rating": {
			"DefaultRating": 1000,
			"RatingFloor": 100,
			"PenaltyPoints": 25,
			"PenaltyStartDate": "2025-09-01",
			"BusinessDayCutoffHour": 5
		}
	}`), 0o600))

	var c AppConfig
	require.NoError(t, loadJSONConfig(path, &c))
	applyDefaults(&c)

	assert.Equal(t, "9000", c.AppPort)
	assert.Equal(t, "s3cret", c.JWTSecret)
	assert.Equal(t, "debug", c.GinMode)
	assert.Equal(t, "redis.internal", c.RedisHost)
	assert.Equal(t, 6380, c.RedisPort)
	assert.Equal(t, 1000, c.DefaultRating)
	assert.Equal(t, 100, c.RatingFloor)
	assert.Equal(t, 25, c.PenaltyPoints)
	assert.Equal(t, "2025-09-01", c.PenaltyStartDate)
	assert.Equal(t, 5, c.BusinessDayCutoffHour)
	// untouched groups keep their defaults
	assert.Equal(t, 10, c.AlgoBonusPoints)
	assert.Equal(t, 120, c.DailyGoalMinutes)
}

func TestLoadJSONConfigMissingFileIsIgnored(t *testing.T) {
	var c AppConfig
	assert.NoError(t, loadJSONConfig(filepath.Join(t.TempDir(), "missing.json"), &c))
}

func TestLoadJSONConfigInvalidJSON(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	require.NoError(t, os.WriteFile(path, []byte("{not json"), 0o600))
	var c AppConfig
	assert.Error(t, loadJSONConfig(path, &c))
}

func TestApplyEnvOverrides(t *testing.T) {
	t.Setenv("RATING_PENALTY_POINTS", "30")
	t.Setenv("RATING_FLOOR", "50")
	t.Setenv("BUSINESS_DAY_CUTOFF_HOUR", "6")
	t.Setenv("PENALTY_START_DATE", "2026-01-01")
	t.Setenv("ALLOWED_ORIGINS", "https://a.example, https://b.example")

	var c AppConfig
	applyDefaults(&c)
	applyEnvOverrides(&c)

	assert.Equal(t, 30, c.PenaltyPoints)
	assert.Equal(t, 50, c.RatingFloor)
	assert.Equal(t, 6, c.BusinessDayCutoffHour)
	assert.Equal(t, "2026-01-01", c.PenaltyStartDate)
	assert.Equal(t, []string{"https://a.example", "https://b.example"}, c.AllowedOrigins)
}

func TestPenaltyStart(t *testing.T) {
	c := AppConfig{PenaltyStartDate: "2025-03-01"}
	want := time.Date(2025, 3, 1, 0, 0, 0, 0, time.Local)
	assert.True(t, c.PenaltyStart().Equal(want))

	assert.True(t, AppConfig{PenaltyStartDate: "not-a-date"}.PenaltyStart().IsZero())
}
