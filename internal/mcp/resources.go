package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"path"
	"strings"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/Aman-CERP/vaultrag/internal/corpus"
)

// MaxResourceSize is the maximum note size served as a resource (1MB).
const MaxResourceSize = 1024 * 1024

// maxListedNotes bounds how many notes RegisterResources lists. Notes
// beyond it remain readable through the note template.
const maxListedNotes = 5000

const (
	statusURI    = "vaultrag://status"
	noteScheme   = "note"
	noteTemplate = "note:///{+path}"
)

// registerResources registers the status resource and, when notes are
// available, the note template.
func (s *Server) registerResources() {
	s.mcp.AddResource(&mcp.Resource{
		Name:        "status",
		URI:         statusURI,
		Description: "Index statistics and indexing progress",
		MIMEType:    "application/json",
	}, s.handleStatusResource)

	if s.notes == nil {
		return
	}
	s.mcp.AddResourceTemplate(&mcp.ResourceTemplate{
		Name:        "note",
		URITemplate: noteTemplate,
		Description: "A vault note by its vault-relative path",
		MIMEType:    "text/markdown",
	}, s.handleNoteResource)
}

// RegisterResources lists the vault notes and registers each as a
// resource so clients can browse them. Call it before serving.
func (s *Server) RegisterResources(ctx context.Context) error {
	if s.notes == nil {
		return errors.New("no note source configured")
	}

	docs, err := s.notes.List(ctx)
	if err != nil {
		return fmt.Errorf("failed to list notes: %w", err)
	}
	if len(docs) > maxListedNotes {
		s.logger.Warn("note_resources_truncated",
			slog.Int("notes", len(docs)),
			slog.Int("listed", maxListedNotes))
		docs = docs[:maxListedNotes]
	}

	for _, d := range docs {
		s.mcp.AddResource(&mcp.Resource{
			Name:        path.Base(d.ID()),
			URI:         NoteURI(d.ID()),
			Description: d.ID(),
			MIMEType:    "text/markdown",
		}, s.handleNoteResource)
	}

	s.logger.Info("note_resources_registered", slog.Int("count", len(docs)))
	return nil
}

// NoteURI returns the resource URI of a vault-relative note path.
func NoteURI(rel string) string {
	return (&url.URL{Scheme: noteScheme, Path: "/" + rel}).String()
}

// notePath extracts the vault-relative path from a note URI.
func notePath(uri string) (string, bool) {
	u, err := url.Parse(uri)
	if err != nil || u.Scheme != noteScheme {
		return "", false
	}
	rel := strings.TrimPrefix(u.Path, "/")
	return rel, rel != ""
}

func (s *Server) handleNoteResource(ctx context.Context, req *mcp.ReadResourceRequest) (*mcp.ReadResourceResult, error) {
	rel, ok := notePath(req.Params.URI)
	if !ok {
		return nil, NewResourceNotFoundError(req.Params.URI)
	}

	text, err := s.readNote(ctx, rel)
	if err != nil {
		return nil, err
	}

	return &mcp.ReadResourceResult{
		Contents: []*mcp.ResourceContents{{
			URI:      req.Params.URI,
			MIMEType: "text/markdown",
			Text:     text,
		}},
	}, nil
}

func (s *Server) handleStatusResource(ctx context.Context, req *mcp.ReadResourceRequest) (*mcp.ReadResourceResult, error) {
	data, err := json.MarshalIndent(s.stats(ctx), "", "  ")
	if err != nil {
		return nil, MapError(err)
	}
	return &mcp.ReadResourceResult{
		Contents: []*mcp.ResourceContents{{
			URI:      req.Params.URI,
			MIMEType: "application/json",
			Text:     string(data),
		}},
	}, nil
}

// readNote returns the text of the note at rel, validating the path and
// the size.
func (s *Server) readNote(ctx context.Context, rel string) (string, error) {
	if s.notes == nil {
		return "", &MCPError{Code: ErrCodeUnavailable, Message: "notes are not available from this server"}
	}
	if !isValidPath(rel) {
		return "", NewInvalidParamsError(fmt.Sprintf("invalid path: %s", rel))
	}

	doc, err := s.notes.Get(ctx, rel)
	if errors.Is(err, corpus.ErrNotFound) {
		return "", &MCPError{Code: ErrCodeNoteNotFound, Message: fmt.Sprintf("note not found: %s", rel)}
	}
	if err != nil {
		return "", MapError(err)
	}

	text, err := doc.Read(ctx)
	if err != nil {
		return "", MapError(err)
	}
	if len(text) > MaxResourceSize {
		return "", &MCPError{
			Code:    ErrCodeNoteTooLarge,
			Message: fmt.Sprintf("note too large: %d bytes (max %d)", len(text), MaxResourceSize),
		}
	}
	return text, nil
}

// isValidPath reports whether p is a vault-relative path that stays inside
// the vault.
func isValidPath(p string) bool {
	if p == "" || strings.HasPrefix(p, "/") || strings.Contains(p, "\\") {
		return false
	}
	// Windows drive letters
	if len(p) >= 2 && p[1] == ':' {
		return false
	}
	for _, part := range strings.Split(p, "/") {
		if part == ".." {
			return false
		}
	}
	return true
}
