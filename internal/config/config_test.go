package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestLoad tests environment driven configuration.
//
// WHY: The drift threshold and freshness window change suggestion output, so
// defaults and overrides must be read exactly once from the environment.
func TestLoad(t *testing.T) {
	t.Run("uses defaults when environment is empty", func(t *testing.T) {
		t.Setenv("DRIFT_THRESHOLD", "")
		t.Setenv("METRICS_FRESHNESS", "")
		t.Setenv("SERVER_PORT", "")

		cfg, err := Load()
		require.NoError(t, err)

		assert.Equal(t, 0.05, cfg.Engine.DriftThreshold)
		assert.Equal(t, 5*time.Minute, cfg.Engine.MetricsFreshness)
		assert.Equal(t, 1, cfg.Engine.FreePortfolioLimit)
		assert.Equal(t, "localhost:5001", cfg.Server.Addr)
		assert.Equal(t, 5, cfg.Regeneration.MaxAttempts)
	})

	t.Run("reads overrides", func(t *testing.T) {
		t.Setenv("DRIFT_THRESHOLD", "0.1")
		t.Setenv("METRICS_FRESHNESS", "30s")
		t.Setenv("CORS_ALLOWED_ORIGINS", "http://a.test, http://b.test")

		cfg, err := Load()
		require.NoError(t, err)

		assert.Equal(t, 0.1, cfg.Engine.DriftThreshold)
		assert.Equal(t, 30*time.Second, cfg.Engine.MetricsFreshness)
		assert.Equal(t, []string{"http://a.test", "http://b.test"}, cfg.CORS.AllowedOrigins)
	})

	t.Run("rejects malformed values", func(t *testing.T) {
		t.Setenv("METRICS_FRESHNESS", "soon")

		_, err := Load()
		assert.Error(t, err)
	})

	t.Run("rejects out of range threshold", func(t *testing.T) {
		t.Setenv("DRIFT_THRESHOLD", "1.5")

		_, err := Load()
		assert.Error(t, err)
	})
}
