package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaultsForRoundEngine(t *testing.T) {
	t.Setenv("SERVICE_NAME", "round-engine")
	t.Setenv("GROUPS", "g1, g2")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "8085", cfg.HTTPPort)
	assert.Equal(t, "9100", cfg.MetricsPort)
	assert.Equal(t, "round_events", cfg.TopicRoundEvents)
	assert.Equal(t, "draw_results", cfg.TopicDrawResults)
	assert.Equal(t, 210*time.Second, cfg.Round.Length)
	assert.Equal(t, []time.Duration{40 * time.Second, 20 * time.Second}, cfg.Round.WarnOffsets)
	assert.Equal(t, 35, cfg.RateLimit.MaxRequests)
	assert.Equal(t, 1100*time.Millisecond, cfg.RateLimit.MinInterval)
	assert.Len(t, cfg.Groups, 2)
	assert.Equal(t, int64(480), cfg.SettleRetention)

	anchor, err := cfg.Round.AnchorTime()
	require.NoError(t, err)
	assert.Equal(t, time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC), anchor.UTC())
}

func TestLoadRejectsBadDuration(t *testing.T) {
	t.Setenv("ROUND_LENGTH", "three minutes")
	_, err := Load()
	assert.Error(t, err)
}

func TestLoadTiersWithoutFile(t *testing.T) {
	specs, err := LoadTiers("  ")
	require.NoError(t, err)
	assert.Nil(t, specs)

	_, err = LoadTiers("/does/not/exist.yaml")
	assert.Error(t, err)
}
