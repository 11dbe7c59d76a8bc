package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_MissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "missing.toml"))
	require.NoError(t, err)

	assert.Equal(t, "8080", cfg.Server.Port)
	assert.Equal(t, float64(5), cfg.Server.RateLimit)
	assert.Equal(t, int64(100), cfg.Credits.Tiers["free"])
	assert.Equal(t, 10, cfg.Context.MaxDepth)
	assert.Equal(t, "lpa", cfg.Context.Detector)
	assert.Equal(t, 30*time.Minute, cfg.Cache.TTLDuration())
}

func TestLoad_FileAndEnvOverride(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	data := `
[server]
port = "9000"

[llm]
provider = "openai"
model = "gpt-4o-mini"

[ledger]
backend = "memory"
default_tier = "creator"

[credits.tiers]
creator = 750

[cache]
ttl = "5m"
`
	require.NoError(t, os.WriteFile(path, []byte(data), 0o600))

	t.Setenv("LLM_MODEL", "gpt-4o")
	t.Setenv("CONTEXT_MAX_DEPTH", "4")
	t.Setenv("CONTEXT_DETECTOR", "components")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "9000", cfg.Server.Port)
	assert.Equal(t, "openai", cfg.LLM.Provider)
	assert.Equal(t, "gpt-4o", cfg.LLM.Model)
	assert.Equal(t, 4, cfg.Context.MaxDepth)
	assert.Equal(t, "components", cfg.Context.Detector)
	assert.Equal(t, int64(750), cfg.Credits.Tiers["creator"])
	assert.Equal(t, 5*time.Minute, cfg.Cache.TTLDuration())
}

func TestValidate(t *testing.T) {
	cfg := Default()
	cfg.Ledger.Backend = "postgres"
	assert.Error(t, cfg.Validate())

	cfg = Default()
	cfg.Cache.Backend = "redis"
	assert.Error(t, cfg.Validate())

	cfg = Default()
	cfg.Ledger.DefaultTier = "platinum"
	assert.Error(t, cfg.Validate())

	cfg = Default()
	cfg.Context.Detector = "louvain"
	assert.ErrorContains(t, cfg.Validate(), "louvain")

	cfg = Default()
	cfg.Context.Detector = "components"
	assert.NoError(t, cfg.Validate())

	assert.NoError(t, Default().Validate())
}
