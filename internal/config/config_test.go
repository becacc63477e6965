package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("FINLEDGER_CONFIG", filepath.Join(t.TempDir(), "missing.toml"))

	cfg, err := Load()
	require.NoError(t, err)
	require.NotEmpty(t, cfg.Database.Path)
	require.Equal(t, "EUR", cfg.Import.DefaultCurrency)
	require.InDelta(t, 0.85, cfg.Import.DescriptionSimilarity, 0.0001)
	require.Equal(t, "heuristic", cfg.LLM.Provider)
	require.Equal(t, 8000, cfg.LLM.TimeoutMS)
	require.Positive(t, cfg.Worker.Count)
	require.Positive(t, cfg.Worker.QueueSize)
}

func TestLoadConfigFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.toml")
	require.NoError(t, os.WriteFile(path, []byte(`
[database]
path = "/tmp/custom.db"

[import]
default_currency = "USD"
description_similarity = 0.9
`), 0o644))
	t.Setenv("FINLEDGER_CONFIG", path)

	cfg, err := Load()
	require.NoError(t, err)
	require.Equal(t, "/tmp/custom.db", cfg.Database.Path)
	require.Equal(t, "USD", cfg.Import.DefaultCurrency)
	require.InDelta(t, 0.9, cfg.Import.DescriptionSimilarity, 0.0001)
	require.Equal(t, "heuristic", cfg.LLM.Provider, "unset keys keep defaults")
}

func TestResolveAPIKeyPrefersEnv(t *testing.T) {
	t.Setenv("FINLEDGER_TEST_KEY", "from-env")
	c := LLMConfig{APIKeyEnv: "FINLEDGER_TEST_KEY", APIKey: "from-file"}
	require.Equal(t, "from-env", c.ResolveAPIKey())

	c = LLMConfig{APIKeyEnv: "FINLEDGER_UNSET_KEY", APIKey: "from-file"}
	require.Equal(t, "from-file", c.ResolveAPIKey())
}
