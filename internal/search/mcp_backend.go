package search

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"os/exec"
	"strings"
	"sync"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/Aman-CERP/vaultrag/internal/config"
	vrerrors "github.com/Aman-CERP/vaultrag/internal/errors"
	"github.com/Aman-CERP/vaultrag/pkg/version"
)

// DefaultMCPTool is the tool called when none is configured.
const DefaultMCPTool = "search"

// DefaultMCPTimeout bounds connecting and listing tools during a probe.
const DefaultMCPTimeout = 3 * time.Second

// MCPConfig configures an MCPBackend. Exactly one of Command, URL or
// Transport should be set.
type MCPConfig struct {
	// Command and Args launch a server speaking MCP over stdio.
	Command string
	Args    []string

	// URL is a streamable HTTP endpoint.
	URL string

	// Transport overrides Command and URL. It is called for every new
	// connection.
	Transport func() (mcp.Transport, error)

	// Tool is the search tool name. Default "search".
	Tool string

	Timeout    time.Duration
	HTTPClient *http.Client
	Logger     *slog.Logger
}

// MCPBackend calls the search tool of another MCP server. The session is
// opened lazily and dropped after any failure so the next call reconnects.
type MCPBackend struct {
	cfg     MCPConfig
	client  *mcp.Client
	breaker *vrerrors.CircuitBreaker
	logger  *slog.Logger

	mu      sync.Mutex
	session *mcp.ClientSession
}

var _ Backend = (*MCPBackend)(nil)

// NewMCPBackend creates the adapter. It does not start or contact the server.
func NewMCPBackend(cfg MCPConfig) (*MCPBackend, error) {
	if cfg.Transport == nil && cfg.Command == "" && cfg.URL == "" {
		return nil, vrerrors.ConfigError("mcp backend needs a command or url", nil).
			WithSuggestion("set mcp_backend.command or mcp_backend.url")
	}
	if cfg.Tool == "" {
		cfg.Tool = DefaultMCPTool
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultMCPTimeout
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &MCPBackend{
		cfg: cfg,
		client: mcp.NewClient(&mcp.Implementation{
			Name:    version.Name,
			Version: version.Version,
		}, nil),
		breaker: vrerrors.NewCircuitBreaker(config.BackendMCP),
		logger:  logger,
	}, nil
}

// Name implements Backend.
func (m *MCPBackend) Name() string { return config.BackendMCP }

// Available connects if needed and checks that the server lists the tool.
func (m *MCPBackend) Available(ctx context.Context) (ok bool) {
	defer func() {
		if r := recover(); r != nil {
			ok = false
		}
	}()

	probeCtx, cancel := context.WithTimeout(ctx, m.cfg.Timeout)
	defer cancel()

	session, err := m.connect(probeCtx)
	if err != nil {
		m.logger.Debug("mcp_backend_unavailable", slog.String("error", err.Error()))
		return false
	}
	tools, err := session.ListTools(probeCtx, &mcp.ListToolsParams{})
	if err != nil {
		m.logger.Debug("mcp_backend_list_tools_failed", slog.String("error", err.Error()))
		m.drop(session)
		return false
	}
	for _, t := range tools.Tools {
		if t.Name == m.cfg.Tool {
			return true
		}
	}
	m.logger.Debug("mcp_backend_tool_missing", slog.String("tool", m.cfg.Tool))
	return false
}

// Search implements Backend.
func (m *MCPBackend) Search(ctx context.Context, query string, opts Options) ([]Result, error) {
	if opts.TopK <= 0 {
		return []Result{}, nil
	}

	res, err := vrerrors.CircuitExecute(m.breaker, func() (*mcp.CallToolResult, error) {
		session, err := m.connect(ctx)
		if err != nil {
			return nil, err
		}
		res, err := session.CallTool(ctx, &mcp.CallToolParams{
			Name:      m.cfg.Tool,
			Arguments: map[string]any{"query": query, "limit": opts.TopK},
		})
		if err != nil {
			m.drop(session)
			return nil, err
		}
		if res.IsError {
			return nil, vrerrors.New(vrerrors.ErrCodeSearchFailed, "tool returned an error: "+textOf(res), nil)
		}
		return res, nil
	})
	if err != nil {
		return nil, vrerrors.New(vrerrors.ErrCodeSearchFailed, "mcp search failed", err).
			WithDetail("tool", m.cfg.Tool)
	}

	threshold := opts.threshold()
	var results []Result
	for _, r := range parseToolResult(res) {
		if opts.FolderPrefix != "" && !strings.HasPrefix(r.DocumentID, opts.FolderPrefix) {
			continue
		}
		if r.Score < threshold {
			continue
		}
		results = append(results, r)
		if len(results) == opts.TopK {
			break
		}
	}
	if results == nil {
		results = []Result{}
	}
	return results, nil
}

// Close ends the session, stopping a launched server process.
func (m *MCPBackend) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.session == nil {
		return nil
	}
	err := m.session.Close()
	m.session = nil
	return err
}

func (m *MCPBackend) connect(ctx context.Context) (*mcp.ClientSession, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.session != nil {
		return m.session, nil
	}

	transport, err := m.transport()
	if err != nil {
		return nil, err
	}
	session, err := m.client.Connect(ctx, transport, nil)
	if err != nil {
		return nil, vrerrors.UnavailableError("failed to connect to mcp server", err)
	}
	m.session = session
	m.logger.Info("mcp_backend_connected", slog.String("tool", m.cfg.Tool))
	return session, nil
}

func (m *MCPBackend) drop(session *mcp.ClientSession) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.session == session {
		_ = session.Close()
		m.session = nil
	}
}

func (m *MCPBackend) transport() (mcp.Transport, error) {
	switch {
	case m.cfg.Transport != nil:
		return m.cfg.Transport()
	case m.cfg.Command != "":
		return &mcp.CommandTransport{Command: exec.Command(m.cfg.Command, m.cfg.Args...)}, nil
	default:
		return &mcp.StreamableClientTransport{Endpoint: m.cfg.URL, HTTPClient: m.cfg.HTTPClient}, nil
	}
}

// parseToolResult extracts results from structured content when present,
// else from JSON text blocks, else treats each text block as one result.
// Servers disagree on field names, so several spellings are accepted.
func parseToolResult(res *mcp.CallToolResult) []Result {
	if res.StructuredContent != nil {
		if raw, err := json.Marshal(res.StructuredContent); err == nil {
			if results, ok := parseResultJSON(raw); ok {
				return results
			}
		}
	}

	var texts []string
	for _, c := range res.Content {
		tc, ok := c.(*mcp.TextContent)
		if !ok {
			continue
		}
		if results, ok := parseResultJSON([]byte(tc.Text)); ok {
			return results
		}
		if strings.TrimSpace(tc.Text) != "" {
			texts = append(texts, tc.Text)
		}
	}

	results := make([]Result, len(texts))
	for i, t := range texts {
		results[i] = Result{Content: strings.TrimSpace(t), Score: rankScore(i, len(texts))}
	}
	return results
}

// toolHit accepts the field names common search tools use.
type toolHit struct {
	DocumentID string   `json:"document_id"`
	FilePath   string   `json:"file_path"`
	Path       string   `json:"path"`
	ID         string   `json:"id"`
	Content    string   `json:"content"`
	Text       string   `json:"text"`
	Excerpt    string   `json:"excerpt"`
	Score      *float64 `json:"score"`
	Breadcrumb []string `json:"breadcrumb"`
	Tags       []string `json:"tags"`
}

func parseResultJSON(raw []byte) ([]Result, bool) {
	raw = []byte(strings.TrimSpace(string(raw)))
	if len(raw) == 0 {
		return nil, false
	}

	var hits []toolHit
	if raw[0] == '[' {
		if err := json.Unmarshal(raw, &hits); err != nil {
			return nil, false
		}
	} else {
		var wrapped struct {
			Results []toolHit `json:"results"`
		}
		if err := json.Unmarshal(raw, &wrapped); err != nil || wrapped.Results == nil {
			return nil, false
		}
		hits = wrapped.Results
	}

	results := make([]Result, len(hits))
	for i, h := range hits {
		score := rankScore(i, len(hits))
		if h.Score != nil {
			score = *h.Score
		}
		results[i] = Result{
			DocumentID: firstNonEmpty(h.DocumentID, h.FilePath, h.Path, h.ID),
			Content:    firstNonEmpty(h.Content, h.Text, h.Excerpt),
			Score:      score,
			Breadcrumb: h.Breadcrumb,
			Tags:       h.Tags,
		}
	}
	return results, true
}

// rankScore gives unscored results descending scores in (0, 1].
func rankScore(i, n int) float64 {
	return 1 - float64(i)/float64(n)
}

func textOf(res *mcp.CallToolResult) string {
	var parts []string
	for _, c := range res.Content {
		if tc, ok := c.(*mcp.TextContent); ok {
			parts = append(parts, tc.Text)
		}
	}
	return strings.Join(parts, " ")
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}
