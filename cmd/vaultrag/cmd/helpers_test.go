package cmd

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

const testVaultConfig = `backends: [local]
embeddings:
  provider: static
search:
  top_k: 5
  threshold: 0.01
store:
  backend: sqlite
`

// newTestVault creates a vault with two notes on unrelated topics and a
// config using the offline static provider. HOME points at a temp dir so
// logs and user config stay out of the real home.
func newTestVault(t *testing.T) string {
	t.Helper()
	t.Setenv("HOME", t.TempDir())
	t.Setenv("XDG_CONFIG_HOME", "")

	dir := t.TempDir()
	writeNote(t, dir, ".vaultrag.yaml", testVaultConfig)
	writeNote(t, dir, "Garden/log.md", `---
tags: [garden]
---
# Garden Log

## Spring

Planted tomatoes and basil. The tomatoes need staking and daily watering.
`)
	writeNote(t, dir, "Work/standup.md", `# Standup

## Sprint

Deploy pipeline review, sprint planning and retro notes for the release.
`)
	return dir
}

func writeNote(t *testing.T, root, rel, content string) {
	t.Helper()
	path := filepath.Join(root, filepath.FromSlash(rel))
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

// runCmd executes the root command with args and returns stdout.
func runCmd(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := NewRootCmd()
	stdout, stderr := new(bytes.Buffer), new(bytes.Buffer)
	cmd.SetOut(stdout)
	cmd.SetErr(stderr)
	cmd.SetArgs(args)
	t.Cleanup(func() { _ = stopLogging(nil, nil) })

	err := cmd.Execute()
	return stdout.String(), err
}

// indexVault runs a plain-output index of dir and fails the test on error.
func indexVault(t *testing.T, dir string) string {
	t.Helper()
	out, err := runCmd(t, "--vault", dir, "index", "--no-tui")
	require.NoError(t, err)
	return out
}
