package config_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/becomeliminal/nim-companion/config"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := config.Load("")
	require.NoError(t, err)

	assert.Equal(t, ":8000", cfg.Server.Addr)
	assert.Equal(t, config.BackendChromem, cfg.Memory.Backend)
	assert.Equal(t, 20, cfg.Memory.ShortTermTurns)
	assert.Equal(t, 3, cfg.Memory.SearchLimit)
	assert.Equal(t, "text-embedding-004", cfg.Embedding.Model)
	assert.Equal(t, 10*time.Second, cfg.Embedding.Timeout)
	assert.Equal(t, time.Second, cfg.Live.RecoveryDelay)
	assert.Equal(t, 10*time.Second, cfg.Live.DialTimeout)
	assert.Equal(t, "gemini-2.5-flash-native-audio-preview-09-2025", cfg.Live.Model)
	assert.Equal(t, "info", cfg.Log.Level)
}

func TestLoad_FileOverridesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "companion.yml")
	require.NoError(t, os.WriteFile(path, []byte(`
memory:
  backend: memory
  short_term_turns: 8
live:
  recovery_delay: 250ms
`), 0o600))

	cfg, err := config.Load(path)
	require.NoError(t, err)
	assert.Equal(t, config.BackendMemory, cfg.Memory.Backend)
	assert.Equal(t, 8, cfg.Memory.ShortTermTurns)
	assert.Equal(t, 250*time.Millisecond, cfg.Live.RecoveryDelay)
	assert.Equal(t, 3, cfg.Memory.SearchLimit)
}

func TestLoad_EnvOverridesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "companion.yml")
	require.NoError(t, os.WriteFile(path, []byte("log:\n  level: warn\n"), 0o600))
	t.Setenv("COMPANION_LOG_LEVEL", "debug")
	t.Setenv("COMPANION_KEYS_ANTHROPIC_API_KEY", "sk-test")

	cfg, err := config.Load(path)
	require.NoError(t, err)
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, "sk-test", cfg.Keys.AnthropicAPIKey)
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := config.Load(filepath.Join(t.TempDir(), "nope.yml"))
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	t.Setenv("COMPANION_MEMORY_BACKEND", "postgres")
	t.Setenv("COMPANION_EMBEDDING_PROVIDER", "word2vec")

	_, err := config.Load("")
	require.Error(t, err)
	assert.ErrorContains(t, err, "postgres.dsn")
	assert.ErrorContains(t, err, "embedding.provider")
}
