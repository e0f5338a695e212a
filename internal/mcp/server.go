package mcp

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/Aman-CERP/vaultrag/internal/async"
	"github.com/Aman-CERP/vaultrag/internal/config"
	"github.com/Aman-CERP/vaultrag/internal/corpus"
	"github.com/Aman-CERP/vaultrag/internal/search"
	"github.com/Aman-CERP/vaultrag/pkg/version"
)

// maxResults caps the limit a client may ask for.
const maxResults = 50

// NoteSource lists vault notes and reads them by path.
type NoteSource interface {
	corpus.Source
	corpus.Getter
}

// Options are the optional collaborators of a Server.
type Options struct {
	// Jobs runs reindex requests. Nil disables the reindex tool.
	Jobs *async.BackgroundIndexer

	// Notes backs note resources and find_related by path. Nil disables both.
	Notes NoteSource

	Config *config.Config

	// Root is the vault directory reported by index_stats.
	Root string

	Logger *slog.Logger
}

// Server is the MCP server for vaultrag.
// It exposes the search orchestrator to AI clients as tools and the vault
// notes as resources.
type Server struct {
	mcp    *mcp.Server
	orch   *search.Orchestrator
	jobs   *async.BackgroundIndexer
	notes  NoteSource
	config *config.Config
	root   string
	logger *slog.Logger

	mu sync.RWMutex
	// baseCtx outlives single requests; reindex jobs run under it.
	baseCtx context.Context
}

// NewServer creates a new MCP server around orch.
func NewServer(orch *search.Orchestrator, opts Options) (*Server, error) {
	if orch == nil {
		return nil, errors.New("search orchestrator is required")
	}
	cfg := opts.Config
	if cfg == nil {
		cfg = config.NewConfig()
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	s := &Server{
		orch:    orch,
		jobs:    opts.Jobs,
		notes:   opts.Notes,
		config:  cfg,
		root:    opts.Root,
		logger:  logger,
		baseCtx: context.Background(),
	}

	s.mcp = mcp.NewServer(
		&mcp.Implementation{
			Name:    version.Name,
			Version: version.Version,
		},
		nil,
	)

	s.registerTools()
	s.registerResources()

	return s, nil
}

// MCPServer returns the underlying MCP server instance.
func (s *Server) MCPServer() *mcp.Server {
	return s.mcp
}

// registerTools registers all tools with the MCP server.
func (s *Server) registerTools() {
	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        "search",
		Description: "Search the vault by meaning. Returns the most relevant note passages with their heading path and a relevance score.",
	}, s.handleSearch)

	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        "find_related",
		Description: "Find notes related to a piece of text or to an existing note given by path.",
	}, s.handleFindRelated)

	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        "get_context",
		Description: "Gather the passages most relevant to a question as one block of text, ready to be placed in a prompt.",
	}, s.handleGetContext)

	count := 3
	if s.jobs != nil {
		mcp.AddTool(s.mcp, &mcp.Tool{
			Name:        "reindex",
			Description: "Start rebuilding the local vault index in the background. Use force to re-embed every note.",
		}, s.handleReindex)
		count++
	}

	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        "index_stats",
		Description: "Report which search backend is active, how many notes and passages are indexed, and the progress of any indexing job.",
	}, s.handleStats)
	count++

	s.logger.Debug("mcp_tools_registered", slog.Int("count", count))
}

func (s *Server) handleSearch(ctx context.Context, _ *mcp.CallToolRequest, input SearchInput) (
	*mcp.CallToolResult,
	SearchOutput,
	error,
) {
	if strings.TrimSpace(input.Query) == "" {
		return nil, SearchOutput{}, NewInvalidParamsError("query cannot be empty or whitespace only")
	}

	start := time.Now()
	requestID := generateRequestID()
	opts := &search.Options{
		TopK:         clampLimit(input.Limit, 0, 1, maxResults),
		Threshold:    input.Threshold,
		Hybrid:       input.Hybrid,
		FolderPrefix: input.Folder,
	}

	results := s.orch.Search(ctx, input.Query, opts)

	s.logger.Info("search_completed",
		slog.String("request_id", requestID),
		slog.String("query", snippet(input.Query, 80)),
		slog.String("backend", s.orch.ActiveBackend()),
		slog.Int("result_count", len(results)),
		slog.Duration("duration", time.Since(start)))

	return textResult(FormatResults(input.Query, results)), toOutput(results), nil
}

func (s *Server) handleFindRelated(ctx context.Context, _ *mcp.CallToolRequest, input RelatedInput) (
	*mcp.CallToolResult,
	SearchOutput,
	error,
) {
	content := input.Content
	title := snippet(content, 40)
	if strings.TrimSpace(content) == "" {
		if input.Path == "" {
			return nil, SearchOutput{}, NewInvalidParamsError("content or path is required")
		}
		text, err := s.readNote(ctx, input.Path)
		if err != nil {
			return nil, SearchOutput{}, err
		}
		content, title = text, input.Path
	}

	limit := clampLimit(input.Limit, s.defaultTopK(), 1, maxResults)
	start := time.Now()

	// One extra result leaves room for the source note, which is dropped.
	results := s.orch.FindRelated(ctx, content, limit+1)
	if input.Path != "" {
		kept := results[:0]
		for _, r := range results {
			if r.DocumentID != input.Path {
				kept = append(kept, r)
			}
		}
		results = kept
	}
	if len(results) > limit {
		results = results[:limit]
	}

	s.logger.Info("find_related_completed",
		slog.String("request_id", generateRequestID()),
		slog.String("path", input.Path),
		slog.Int("result_count", len(results)),
		slog.Duration("duration", time.Since(start)))

	return textResult(FormatResults(title, results)), toOutput(results), nil
}

func (s *Server) handleGetContext(ctx context.Context, _ *mcp.CallToolRequest, input ContextInput) (
	*mcp.CallToolResult,
	ContextOutput,
	error,
) {
	if strings.TrimSpace(input.Query) == "" {
		return nil, ContextOutput{}, NewInvalidParamsError("query cannot be empty or whitespace only")
	}

	text := s.orch.GetContextForQuery(ctx, input.Query, &search.Options{
		TopK:         clampLimit(input.Limit, 0, 1, maxResults),
		FolderPrefix: input.Folder,
	})

	s.logger.Info("get_context_completed",
		slog.String("request_id", generateRequestID()),
		slog.Int("context_chars", len(text)))

	if text == "" {
		return textResult(fmt.Sprintf("No relevant notes found for %q", input.Query)), ContextOutput{}, nil
	}
	return textResult(text), ContextOutput{Context: text}, nil
}

func (s *Server) handleReindex(_ context.Context, _ *mcp.CallToolRequest, input ReindexInput) (
	*mcp.CallToolResult,
	ReindexOutput,
	error,
) {
	s.mu.RLock()
	base := s.baseCtx
	s.mu.RUnlock()

	// The job must outlive this request.
	jobID, err := s.jobs.Start(base, input.Force)
	if errors.Is(err, async.ErrJobRunning) {
		snap := s.jobs.Status()
		out := ReindexOutput{
			JobID:   snap.JobID,
			Status:  string(async.StatusRunning),
			Message: fmt.Sprintf("indexing already in progress (%d/%d notes)", snap.Current, snap.Total),
		}
		return textResult(out.Message), out, nil
	}
	if err != nil {
		return nil, ReindexOutput{}, MapError(err)
	}

	s.logger.Info("reindex_started", slog.String("job_id", jobID), slog.Bool("force", input.Force))

	out := ReindexOutput{
		JobID:   jobID,
		Status:  string(async.StatusRunning),
		Message: "indexing started; call index_stats for progress",
	}
	return textResult(out.Message), out, nil
}

func (s *Server) handleStats(ctx context.Context, _ *mcp.CallToolRequest, _ StatsInput) (
	*mcp.CallToolResult,
	StatsOutput,
	error,
) {
	return nil, s.stats(ctx), nil
}

// stats collects index_stats output. A missing local index is reported in
// Error rather than failing the call.
func (s *Server) stats(ctx context.Context) StatsOutput {
	out := StatsOutput{
		Enabled:           s.orch.Settings().Enabled,
		ActiveBackend:     s.orch.ActiveBackend(),
		Vault:             s.root,
		EmbeddingProvider: s.config.Embeddings.Provider,
		EmbeddingModel:    s.config.Embeddings.Model,
	}

	st, err := s.orch.Stats(ctx)
	if err != nil {
		out.Error = MapError(err).Message
	} else if st != nil {
		out.Documents = st.Documents
		out.Chunks = st.Chunks
		out.Dimensions = st.Dimensions
		out.Store = st.Backend
		if !st.LastUpdated.IsZero() {
			out.LastUpdated = st.LastUpdated.Format(time.RFC3339)
		}
	}

	if s.jobs != nil {
		snap := s.jobs.Status()
		out.Indexing = &snap
	}
	return out
}

func (s *Server) defaultTopK() int {
	if k := s.orch.Settings().TopK; k > 0 {
		return k
	}
	return search.DefaultTopK
}

// Serve starts the server with the specified transport and blocks until
// ctx is done.
func (s *Server) Serve(ctx context.Context, transport, addr string) error {
	s.mu.Lock()
	s.baseCtx = ctx
	s.mu.Unlock()

	s.logger.Info("mcp_server_starting",
		slog.String("transport", transport),
		slog.String("addr", addr))

	var err error
	switch transport {
	case "", "stdio":
		err = s.mcp.Run(ctx, &mcp.StdioTransport{})
	case "http":
		err = s.serveHTTP(ctx, addr)
	default:
		return fmt.Errorf("unknown transport: %s (supported: stdio, http)", transport)
	}

	if err != nil && !errors.Is(err, context.Canceled) {
		s.logger.Error("mcp_server_stopped", slog.String("error", err.Error()))
		return err
	}
	s.logger.Info("mcp_server_stopped")
	return nil
}

func (s *Server) serveHTTP(ctx context.Context, addr string) error {
	handler := mcp.NewStreamableHTTPHandler(func(_ *http.Request) *mcp.Server {
		return s.mcp
	}, nil)

	httpServer := &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = httpServer.Shutdown(shutdownCtx)
	}()

	if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Close stops any running indexing job.
func (s *Server) Close() error {
	if s.jobs != nil {
		s.jobs.Stop()
	}
	return nil
}

func textResult(text string) *mcp.CallToolResult {
	return &mcp.CallToolResult{Content: []mcp.Content{&mcp.TextContent{Text: text}}}
}

// generateRequestID creates a short unique request ID for log correlation.
func generateRequestID() string {
	b := make([]byte, 4)
	_, _ = rand.Read(b)
	return hex.EncodeToString(b)
}
