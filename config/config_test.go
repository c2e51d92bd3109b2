package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("LLM_PROVIDER", "")
	t.Setenv("STORE_BACKEND", "")
	t.Setenv("CHAT_TOP_K", "")

	cfg := Load()

	assert.Equal(t, ProviderOpenAI, cfg.LLM.Provider)
	assert.Equal(t, StoreSQLite, cfg.Store.Backend)
	assert.Equal(t, 5, cfg.Chat.TopK)
	assert.Equal(t, 1536, cfg.Embeddings.Dimension)
	assert.Equal(t, "imperial", cfg.Weather.Units)
	assert.NoError(t, cfg.Validate())
}

func TestLoadEnvOverrides(t *testing.T) {
	t.Setenv("LLM_PROVIDER", ProviderOllama)
	t.Setenv("LLM_MODEL", "")
	t.Setenv("CHAT_TOP_K", "3")
	t.Setenv("NEO4J_ENABLED", "true")
	t.Setenv("INGEST_RPS", "not-a-number")

	cfg := Load()

	assert.Equal(t, ProviderOllama, cfg.LLM.Provider)
	assert.Equal(t, 3, cfg.Chat.TopK)
	assert.True(t, cfg.Neo4j.Enabled)
	assert.Equal(t, float64(5), cfg.Ingest.RequestsPerSecond)
}

func TestLoadFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	content := `
llm:
  provider: anthropic
embeddings:
  provider: gemini
store:
  backend: memory
chat:
  profile: orgs-agent
log_level: debug
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	t.Setenv("LLM_PROVIDER", "")
	t.Setenv("STORE_BACKEND", "")
	t.Setenv("CHAT_PROFILE", "")
	t.Setenv("LOG_LEVEL", "")

	cfg, err := LoadFile(path)
	require.NoError(t, err)

	assert.Equal(t, ProviderAnthropic, cfg.LLM.Provider)
	assert.Equal(t, "claude-3-5-haiku-latest", cfg.LLM.Model)
	assert.Equal(t, "text-embedding-004", cfg.Embeddings.Model)
	assert.Equal(t, 768, cfg.Embeddings.Dimension)
	assert.Equal(t, StoreMemory, cfg.Store.Backend)
	assert.Equal(t, "orgs-agent", cfg.Chat.Profile)
	assert.True(t, cfg.Debug())
}

func TestLoadFileRejectsUnknownBackend(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("store:\n  backend: qdrant\n"), 0o600))
	t.Setenv("STORE_BACKEND", "")

	_, err := LoadFile(path)
	assert.ErrorContains(t, err, "unknown store backend")
}

func TestLoadFileMissing(t *testing.T) {
	_, err := LoadFile(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}
