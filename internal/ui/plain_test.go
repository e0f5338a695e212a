package ui

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newPlain() (*PlainRenderer, *bytes.Buffer) {
	buf := &bytes.Buffer{}
	return NewPlainRenderer(NewConfig(buf)), buf
}

func TestPlainRenderer_Lifecycle(t *testing.T) {
	r, _ := newPlain()
	require.NoError(t, r.Start(context.Background()))
	assert.NoError(t, r.Stop())
}

func TestPlainRenderer_UpdateProgress(t *testing.T) {
	// Given: a plain renderer
	r, buf := newPlain()

	// When: reporting a scan message and a note
	r.UpdateProgress(ProgressEvent{Stage: StageScanning, Message: "listing vault"})
	r.UpdateProgress(ProgressEvent{Stage: StageIndexing, Current: 1, Total: 3, Document: "Garden/log.md"})

	// Then: both lines are written with stage tags
	out := buf.String()
	assert.Contains(t, out, "[SCAN] listing vault\n")
	assert.Contains(t, out, "[INDEX] 1/3 - Garden/log.md\n")
}

func TestPlainRenderer_ThrottlesLargeRuns(t *testing.T) {
	// Given: a run over 1000 notes
	r, buf := newPlain()

	// When: every note reports progress
	for i := 1; i <= 1000; i++ {
		r.UpdateProgress(ProgressEvent{Stage: StageIndexing, Current: i, Total: 1000, Document: "n.md"})
	}

	// Then: roughly one line per percent is written, including the last
	lines := strings.Count(buf.String(), "\n")
	assert.LessOrEqual(t, lines, 101)
	assert.Contains(t, buf.String(), "[INDEX] 1000/1000")
}

func TestPlainRenderer_AddError(t *testing.T) {
	r, buf := newPlain()

	r.AddError(ErrorEvent{Document: "bad.md", Err: errors.New("embedding failed")})
	r.AddError(ErrorEvent{Err: errors.New("slow provider"), IsWarn: true})

	assert.Contains(t, buf.String(), "ERROR: bad.md: embedding failed\n")
	assert.Contains(t, buf.String(), "WARN: slow provider\n")
}

func TestPlainRenderer_Complete(t *testing.T) {
	// Given: a finished run with failures and pruned notes
	r, buf := newPlain()

	// When: completing
	r.Complete(CompletionStats{
		Notes: 10, Indexed: 4, Skipped: 5, Failed: 1, Pruned: 2, Chunks: 12,
		Duration: 1500 * time.Millisecond,
		Embedder: EmbedderInfo{Provider: "ollama", Model: "nomic-embed-text", Dimensions: 768},
	})

	// Then: the summary covers every count
	out := buf.String()
	assert.Contains(t, out, "Complete: 10 notes (4 indexed, 5 unchanged), 12 chunks in 1.5s")
	assert.Contains(t, out, "Failed: 1 notes")
	assert.Contains(t, out, "Pruned: 2 notes")
	assert.Contains(t, out, "Embedder: ollama (nomic-embed-text, 768 dims)")
}

func TestPlainRenderer_CompleteOmitsEmptySections(t *testing.T) {
	r, buf := newPlain()

	r.Complete(CompletionStats{Notes: 1, Indexed: 1, Chunks: 1})

	assert.NotContains(t, buf.String(), "Failed")
	assert.NotContains(t, buf.String(), "Pruned")
	assert.NotContains(t, buf.String(), "Embedder")
}
