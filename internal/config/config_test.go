package config

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestNewAppliesDefaults(t *testing.T) {
	cfg, err := New()
	require.NoError(t, err)
	require.Equal(t, 8080, cfg.HTTPPort)
	require.Equal(t, 0.30, cfg.IdleUtilization)
	require.Equal(t, 0.60, cfg.HardFallbackUtilization)
	require.True(t, cfg.AutosaveEnabled)
	require.NotEmpty(t, cfg.DeepKeywords)
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("HEARTH_HTTP_PORT", "9091")
	t.Setenv("HEARTH_TOP_K", "7")
	t.Setenv("HEARTH_EMBED_PROVIDER", "hash")

	cfg, err := New()
	require.NoError(t, err)
	require.Equal(t, 9091, cfg.HTTPPort)
	require.Equal(t, 7, cfg.TopK)
	require.Equal(t, "hash", cfg.EmbedProvider)
}

func TestResolveDefaultsRejectsBadThresholds(t *testing.T) {
	cfg := NewForTesting()
	cfg.HardFallbackUtilization = 0.1 // below idle threshold
	require.Error(t, cfg.ResolveDefaults())

	cfg = NewForTesting()
	cfg.MinScore = 1.5
	require.Error(t, cfg.ResolveDefaults())

	cfg = NewForTesting()
	cfg.EmbedProvider = "openai"
	require.Error(t, cfg.ResolveDefaults())
}
