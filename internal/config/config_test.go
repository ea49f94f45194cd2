package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefault_DocumentedValues(t *testing.T) {
	cfg := Default()
	assert.Equal(t, 400, cfg.Chunk.TokenLimit)
	assert.Equal(t, 1600, cfg.Chunk.CharLimit)
	assert.Equal(t, 75, cfg.Chunk.OverlapTokens)
	assert.Equal(t, 300, cfg.Chunk.OverlapChars)
	assert.Equal(t, 100_000, cfg.RemoteTokenBudget)
	assert.Equal(t, 3, cfg.TokenCharRatio)
	assert.Equal(t, 5*time.Minute, cfg.HotWindow)
	assert.Equal(t, 24*time.Hour, cfg.WarmWindow)
	assert.Equal(t, 30*time.Minute, cfg.MaxWarmWait)
	assert.Equal(t, 2*time.Second, cfg.HotCheckInterval)
	assert.Equal(t, 60*time.Second, cfg.ImportFrequency)
	assert.Equal(t, 5, cfg.MaxColdPerCycle)
	assert.Equal(t, 0.3, cfg.DecayWeight)
	assert.Equal(t, 90, cfg.DecayScaleDays)
	assert.Equal(t, 15, cfg.MaxToolOutputs)
	assert.Equal(t, 500, cfg.MaxToolOutputChars)
}

func TestLoad_YAMLOverridesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	body := `
log_roots:
  - /var/log/conversations
embedding_provider: remote
chunk:
  token_limit: 200
hot_window: 10m
`
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, []string{"/var/log/conversations"}, cfg.LogRoots)
	assert.Equal(t, "remote", cfg.EmbeddingProvider)
	assert.Equal(t, 200, cfg.Chunk.TokenLimit)
	assert.Equal(t, 10*time.Minute, cfg.HotWindow)
	// Untouched keys keep their defaults.
	assert.Equal(t, 1600, cfg.Chunk.CharLimit)
}

func TestLoad_EnvOverridesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	body := `
vector_store_url: http://file-host:6334
chunk:
  token_limit: 200
enable_memory_decay: true
hot_window: 10m
`
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))

	t.Setenv("VECTOR_STORE_URL", "http://env-host:6334")
	t.Setenv("CHUNK_TOKEN_LIMIT", "123")
	t.Setenv("ENABLE_MEMORY_DECAY", "false")
	t.Setenv("HOT_WINDOW", "90s")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "http://env-host:6334", cfg.VectorStoreURL)
	assert.Equal(t, 123, cfg.Chunk.TokenLimit)
	assert.False(t, cfg.EnableMemoryDecay)
	assert.Equal(t, 90*time.Second, cfg.HotWindow)
}

func TestLoad_MissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	require.NoError(t, err)
	assert.Equal(t, 400, cfg.Chunk.TokenLimit)
}
