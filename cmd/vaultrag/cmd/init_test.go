package cmd

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Aman-CERP/vaultrag/configs"
	"github.com/Aman-CERP/vaultrag/internal/config"
)

func TestInitCmd_WritesTemplate(t *testing.T) {
	// Given: a vault without a config
	t.Setenv("HOME", t.TempDir())
	t.Setenv("XDG_CONFIG_HOME", "")
	dir := t.TempDir()

	// When: running init
	out, err := runCmd(t, "--vault", dir, "init")

	// Then: the template is written and loads with the defaults
	require.NoError(t, err)
	assert.Contains(t, out, "Wrote")
	data, err := os.ReadFile(filepath.Join(dir, ".vaultrag.yaml"))
	require.NoError(t, err)
	assert.Equal(t, configs.VaultConfigTemplate, string(data))

	cfg, err := config.Load(dir)
	require.NoError(t, err)
	assert.Equal(t, "ollama", cfg.Embeddings.Provider)
	assert.Equal(t, []string{config.BackendOmnisearch, config.BackendLocal}, cfg.Backends)
	assert.Contains(t, cfg.Corpus.Exclude, "Templates/")
}

func TestInitCmd_KeepsExistingConfig(t *testing.T) {
	dir := newTestVault(t)

	out, err := runCmd(t, "--vault", dir, "init")
	require.NoError(t, err)
	assert.Contains(t, out, "already exists")

	data, err := os.ReadFile(filepath.Join(dir, ".vaultrag.yaml"))
	require.NoError(t, err)
	assert.Equal(t, testVaultConfig, string(data))
}

func TestInitCmd_Force(t *testing.T) {
	dir := newTestVault(t)

	_, err := runCmd(t, "--vault", dir, "init", "--force")
	require.NoError(t, err)

	data, err := os.ReadFile(filepath.Join(dir, ".vaultrag.yaml"))
	require.NoError(t, err)
	assert.Equal(t, configs.VaultConfigTemplate, string(data))
}
