package corpus

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, root, rel, content string) {
	t.Helper()
	path := filepath.Join(root, filepath.FromSlash(rel))
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

func ids(docs []Document) []string {
	out := make([]string, len(docs))
	for i, d := range docs {
		out[i] = d.ID()
	}
	return out
}

func TestFSSource_ListsNotesSorted(t *testing.T) {
	// Given: a vault with notes, hidden folders and other files
	root := t.TempDir()
	writeFile(t, root, "b.md", "# B")
	writeFile(t, root, "a.md", "# A")
	writeFile(t, root, "Projects/plan.markdown", "# Plan")
	writeFile(t, root, ".obsidian/workspace.md", "hidden")
	writeFile(t, root, ".trash/deleted.md", "gone")
	writeFile(t, root, "image.png", "png")
	writeFile(t, root, "notes.txt", "text")

	src, err := NewFSSource(FSOptions{Root: root})
	require.NoError(t, err)

	// When: listing
	docs, err := src.List(context.Background())
	require.NoError(t, err)

	// Then: only markdown notes, forward-slash ids, sorted
	assert.Equal(t, []string{"Projects/plan.markdown", "a.md", "b.md"}, ids(docs))
}

func TestFSSource_RespectsGitignore(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, ".gitignore", "Private/\n*.draft.md\n")
	writeFile(t, root, "Private/diary.md", "secret")
	writeFile(t, root, "idea.draft.md", "draft")
	writeFile(t, root, "Work/.gitignore", "scratch.md\n")
	writeFile(t, root, "Work/scratch.md", "scratch")
	writeFile(t, root, "Work/report.md", "report")
	writeFile(t, root, "public.md", "hello")

	src, err := NewFSSource(FSOptions{Root: root, RespectGitignore: true})
	require.NoError(t, err)

	docs, err := src.List(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"Work/report.md", "public.md"}, ids(docs))

	// Without the flag everything is listed.
	all, err := NewFSSource(FSOptions{Root: root})
	require.NoError(t, err)
	docs, err = all.List(context.Background())
	require.NoError(t, err)
	assert.Len(t, docs, 5)
}

func TestFSSource_SkipsLargeAndBinaryFiles(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, "small.md", "ok")
	writeFile(t, root, "large.md", string(make([]byte, 2048)))
	writeFile(t, root, "binary.md", "abc\x00def")

	src, err := NewFSSource(FSOptions{Root: root, MaxFileSize: 1024})
	require.NoError(t, err)

	docs, err := src.List(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"small.md"}, ids(docs))
}

func TestFSSource_DocumentReadAndOutline(t *testing.T) {
	root := t.TempDir()
	text := "---\ntags: [garden, health]\n---\n# Garden\n\nTomatoes #summer\n\n## Beds\nRaised.\n"
	writeFile(t, root, "garden.md", text)
	mod := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	require.NoError(t, os.Chtimes(filepath.Join(root, "garden.md"), mod, mod))

	src, err := NewFSSource(FSOptions{Root: root})
	require.NoError(t, err)

	doc, err := src.Get(context.Background(), "garden.md")
	require.NoError(t, err)
	assert.True(t, mod.Equal(doc.ModTime()))

	got, err := doc.Read(context.Background())
	require.NoError(t, err)
	assert.Equal(t, text, got)

	outline, err := doc.Outline(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"garden", "health", "summer"}, outline.Tags)
	require.Len(t, outline.Headings, 2)
	assert.Equal(t, "Garden", outline.Headings[0].Title)
	assert.Equal(t, 4, outline.Headings[0].Line)
	assert.Equal(t, 2, outline.Headings[1].Level)
}

func TestFSSource_Get(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, "dir/note.md", "x")
	writeFile(t, root, "dir/data.json", "{}")

	src, err := NewFSSource(FSOptions{Root: root})
	require.NoError(t, err)
	ctx := context.Background()

	doc, err := src.Get(ctx, "dir/note.md")
	require.NoError(t, err)
	assert.Equal(t, "dir/note.md", doc.ID())

	_, err = src.Get(ctx, "dir/missing.md")
	assert.True(t, errors.Is(err, ErrNotFound))

	_, err = src.Get(ctx, "dir/data.json")
	assert.True(t, errors.Is(err, ErrNotFound))

	_, err = src.Get(ctx, "../outside.md")
	assert.Error(t, err)
}

func TestFSSource_IncludesAndRelPath(t *testing.T) {
	root := t.TempDir()
	src, err := NewFSSource(FSOptions{Root: root})
	require.NoError(t, err)

	assert.True(t, src.Includes("notes/a.md"))
	assert.True(t, src.Includes("notes/A.MD"))
	assert.False(t, src.Includes(".obsidian/a.md"))
	assert.False(t, src.Includes("notes/a.txt"))

	id, ok := src.RelPath(filepath.Join(src.Root(), "notes", "a.md"))
	assert.True(t, ok)
	assert.Equal(t, "notes/a.md", id)

	_, ok = src.RelPath(filepath.Dir(src.Root()))
	assert.False(t, ok)
}

func TestFSSource_RejectsMissingRoot(t *testing.T) {
	_, err := NewFSSource(FSOptions{Root: filepath.Join(t.TempDir(), "nope")})
	assert.Error(t, err)
}

func TestFSSource_CancelledList(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, "a.md", "x")
	src, err := NewFSSource(FSOptions{Root: root})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = src.List(ctx)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestParseOutline_Tags(t *testing.T) {
	tests := []struct {
		name string
		text string
		want []string
	}{
		{
			name: "frontmatter list",
			text: "---\ntags:\n  - work\n  - '#urgent'\n---\nbody",
			want: []string{"urgent", "work"},
		},
		{
			name: "frontmatter string",
			text: "---\ntags: work, home reading\n---\nbody",
			want: []string{"home", "reading", "work"},
		},
		{
			name: "singular key",
			text: "---\ntag: solo\n---\n",
			want: []string{"solo"},
		},
		{
			name: "inline tags deduplicated",
			text: "Met about #project/alpha and #project/alpha again, see #ideas",
			want: []string{"ideas", "project/alpha"},
		},
		{
			name: "headings and issue numbers are not tags",
			text: "# Heading\nFixed #42 today",
			want: []string{},
		},
		{
			name: "code is ignored",
			text: "```\n#include <stdio.h>\n```\nuse `#notatag` here #real",
			want: []string{"real"},
		},
		{
			name: "malformed frontmatter ignored",
			text: "---\ntags: [unclosed\n---\n#inline",
			want: []string{"inline"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ParseOutline(tt.text).Tags)
		})
	}
}

func TestMemorySource(t *testing.T) {
	ctx := context.Background()
	src := NewMemorySource(
		&MemDocument{Path: "b.md", Text: "# B\n#tag"},
		&MemDocument{Path: "a.md", Text: "A"},
	)

	docs, err := src.List(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"a.md", "b.md"}, ids(docs))

	doc, err := src.Get(ctx, "b.md")
	require.NoError(t, err)
	outline, err := doc.Outline(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"tag"}, outline.Tags)
	assert.Len(t, outline.Headings, 1)

	src.Remove("b.md")
	_, err = src.Get(ctx, "b.md")
	assert.ErrorIs(t, err, ErrNotFound)

	failing := &MemDocument{Path: "x.md", ReadErr: errors.New("disk")}
	_, err = failing.Read(ctx)
	assert.Error(t, err)
}
