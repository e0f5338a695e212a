package mcp

import (
	"context"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Aman-CERP/vaultrag/internal/corpus"
	"github.com/Aman-CERP/vaultrag/internal/search"
)

func TestServer_ListResources(t *testing.T) {
	// Given: a server over two notes
	env := newTestEnv(t, &stubBackend{})

	// When: listing resources
	res, err := env.session.ListResources(context.Background(), nil)
	require.NoError(t, err)

	// Then: the status resource and every note are listed
	uris := make([]string, 0, len(res.Resources))
	for _, r := range res.Resources {
		uris = append(uris, r.URI)
	}
	assert.ElementsMatch(t, []string{
		statusURI,
		"note:///Garden/log.md",
		"note:///Work/standup.md",
	}, uris)
}

func TestServer_ReadNoteResource(t *testing.T) {
	env := newTestEnv(t, &stubBackend{})

	res, err := env.session.ReadResource(context.Background(), &mcp.ReadResourceParams{URI: "note:///Garden/log.md"})

	require.NoError(t, err)
	require.Len(t, res.Contents, 1)
	assert.Equal(t, "text/markdown", res.Contents[0].MIMEType)
	assert.Contains(t, res.Contents[0].Text, "Planted tomatoes")
}

func TestServer_ReadStatusResource(t *testing.T) {
	env := newTestEnv(t, &stubBackend{})

	res, err := env.session.ReadResource(context.Background(), &mcp.ReadResourceParams{URI: statusURI})
	require.NoError(t, err)
	require.Len(t, res.Contents, 1)

	var out StatsOutput
	require.NoError(t, json.Unmarshal([]byte(res.Contents[0].Text), &out))
	assert.True(t, out.Enabled)
	assert.Equal(t, "/vault", out.Vault)
}

func TestNoteURI_RoundTrip(t *testing.T) {
	tests := []string{
		"Garden/log.md",
		"My Notes/Weekly review.md",
		"Café/crème brûlée.md",
	}
	for _, rel := range tests {
		t.Run(rel, func(t *testing.T) {
			uri := NoteURI(rel)
			assert.True(t, strings.HasPrefix(uri, "note:///"))
			assert.NotContains(t, uri, " ")

			got, ok := notePath(uri)
			require.True(t, ok)
			assert.Equal(t, rel, got)
		})
	}
}

func TestNotePath_Rejects(t *testing.T) {
	for _, uri := range []string{"file:///a.md", "note:///", "::bad"} {
		_, ok := notePath(uri)
		assert.False(t, ok, uri)
	}
}

func TestReadNote(t *testing.T) {
	orch := search.NewOrchestrator(nil, search.Settings{})
	notes := corpus.NewMemorySource(
		&corpus.MemDocument{Path: "small.md", Text: "hello", Modified: time.Now()},
		&corpus.MemDocument{Path: "huge.md", Text: strings.Repeat("x", MaxResourceSize+1), Modified: time.Now()},
	)
	srv, err := NewServer(orch, Options{Notes: notes})
	require.NoError(t, err)
	ctx := context.Background()

	text, err := srv.readNote(ctx, "small.md")
	require.NoError(t, err)
	assert.Equal(t, "hello", text)

	tests := []struct {
		name string
		path string
		code int
	}{
		{"too large", "huge.md", ErrCodeNoteTooLarge},
		{"missing", "gone.md", ErrCodeNoteNotFound},
		{"traversal", "../etc/passwd", ErrCodeInvalidParams},
		{"absolute", "/etc/passwd", ErrCodeInvalidParams},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := srv.readNote(ctx, tt.path)
			require.Error(t, err)
			assert.Equal(t, tt.code, MapError(err).Code)
		})
	}
}

func TestReadNote_NoSource(t *testing.T) {
	srv, err := NewServer(search.NewOrchestrator(nil, search.Settings{}), Options{})
	require.NoError(t, err)

	_, err = srv.readNote(context.Background(), "a.md")
	require.Error(t, err)
	assert.Equal(t, ErrCodeUnavailable, MapError(err).Code)
	assert.Error(t, srv.RegisterResources(context.Background()))
}

func TestIsValidPath(t *testing.T) {
	tests := []struct {
		path string
		want bool
	}{
		{"Garden/log.md", true},
		{"a..b.md", true},
		{"", false},
		{"/abs.md", false},
		{"../up.md", false},
		{"Garden/../../up.md", false},
		{`C:\notes\a.md`, false},
		{"C:notes.md", false},
	}
	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			assert.Equal(t, tt.want, isValidPath(tt.path))
		})
	}
}
