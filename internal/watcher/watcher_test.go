package watcher

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestOperation_String(t *testing.T) {
	tests := []struct {
		op   Operation
		want string
	}{
		{OpCreate, "CREATE"},
		{OpModify, "MODIFY"},
		{OpDelete, "DELETE"},
		{OpRename, "RENAME"},
		{OpGitignoreChange, "GITIGNORE_CHANGE"},
		{OpConfigChange, "CONFIG_CHANGE"},
		{Operation(99), "UNKNOWN"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, tt.op.String())
	}
}

func TestOptions_WithDefaults(t *testing.T) {
	o := Options{DebounceWindow: 50 * time.Millisecond}.WithDefaults()

	assert.Equal(t, 50*time.Millisecond, o.DebounceWindow)
	assert.Equal(t, 5*time.Second, o.PollInterval)
	assert.Equal(t, 256, o.EventBufferSize)
	assert.Equal(t, DefaultConfigFiles, o.ConfigFiles)
	assert.NotNil(t, o.Logger)
}

func TestReserved(t *testing.T) {
	tests := []struct {
		path string
		want bool
	}{
		{".obsidian/workspace.json", true},
		{".obsidian", true},
		{".trash/old.md", true},
		{".vaultrag/index.db", true},
		{".git/HEAD", true},
		{".gitignore", false},
		{"Notes/.obsidian-tips.md", false},
		{"Daily/2026-03-01.md", false},
	}
	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			assert.Equal(t, tt.want, reserved(tt.path))
		})
	}
}

func TestOptions_IsConfigFile(t *testing.T) {
	o := DefaultOptions()
	assert.True(t, o.isConfigFile(".vaultrag.yaml"))
	assert.True(t, o.isConfigFile(".vaultrag.yml"))
	assert.False(t, o.isConfigFile("vaultrag.md"))
}
