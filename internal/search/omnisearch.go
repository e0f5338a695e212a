package search

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/Aman-CERP/vaultrag/internal/config"
	vrerrors "github.com/Aman-CERP/vaultrag/internal/errors"
	"github.com/Aman-CERP/vaultrag/pkg/version"
)

// DefaultOmnisearchTimeout bounds availability probes.
const DefaultOmnisearchTimeout = 2 * time.Second

// OmnisearchConfig configures an OmnisearchBackend.
type OmnisearchConfig struct {
	URL     string
	Timeout time.Duration
	Client  *http.Client
	Logger  *slog.Logger
}

// OmnisearchBackend queries a running Omnisearch HTTP server. It has no
// native relatedness lookup, so the orchestrator falls back to a content
// prefix search.
type OmnisearchBackend struct {
	baseURL string
	timeout time.Duration
	client  *http.Client
	breaker *vrerrors.CircuitBreaker
	logger  *slog.Logger
}

var _ Backend = (*OmnisearchBackend)(nil)

// omnisearchHit is one element of the /search response.
type omnisearchHit struct {
	Score      float64  `json:"score"`
	Vault      string   `json:"vault"`
	Path       string   `json:"path"`
	Basename   string   `json:"basename"`
	FoundWords []string `json:"foundWords"`
	Excerpt    string   `json:"excerpt"`
}

// NewOmnisearchBackend creates the adapter. It does not contact the server.
func NewOmnisearchBackend(cfg OmnisearchConfig) (*OmnisearchBackend, error) {
	if strings.TrimSpace(cfg.URL) == "" {
		return nil, vrerrors.ConfigError("omnisearch url is required", nil)
	}
	if _, err := url.Parse(cfg.URL); err != nil {
		return nil, vrerrors.ConfigError("invalid omnisearch url", err).WithDetail("url", cfg.URL)
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = DefaultOmnisearchTimeout
	}
	client := cfg.Client
	if client == nil {
		client = &http.Client{}
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &OmnisearchBackend{
		baseURL: strings.TrimRight(cfg.URL, "/"),
		timeout: timeout,
		client:  client,
		breaker: vrerrors.NewCircuitBreaker(config.BackendOmnisearch),
		logger:  logger,
	}, nil
}

// Name implements Backend.
func (o *OmnisearchBackend) Name() string { return config.BackendOmnisearch }

// Available sends an empty query and reports whether the server answered.
func (o *OmnisearchBackend) Available(ctx context.Context) (ok bool) {
	defer func() {
		if r := recover(); r != nil {
			ok = false
		}
	}()

	probeCtx, cancel := context.WithTimeout(ctx, o.timeout)
	defer cancel()

	if _, err := o.query(probeCtx, ""); err != nil {
		o.logger.Debug("omnisearch_unavailable", slog.String("error", err.Error()))
		return false
	}
	return true
}

// Search implements Backend. Scores are divided by the top score so the
// best hit is 1.0 and thresholds are comparable with cosine scores.
func (o *OmnisearchBackend) Search(ctx context.Context, query string, opts Options) ([]Result, error) {
	if opts.TopK <= 0 {
		return []Result{}, nil
	}

	hits, err := vrerrors.CircuitExecute(o.breaker, func() ([]omnisearchHit, error) {
		return o.query(ctx, query)
	})
	if err != nil {
		return nil, vrerrors.New(vrerrors.ErrCodeSearchFailed, "omnisearch query failed", err).
			WithDetail("url", o.baseURL)
	}

	sort.SliceStable(hits, func(i, j int) bool { return hits[i].Score > hits[j].Score })
	top := 0.0
	if len(hits) > 0 {
		top = hits[0].Score
	}

	threshold := opts.threshold()
	results := make([]Result, 0, min(len(hits), opts.TopK))
	for _, h := range hits {
		if len(results) == opts.TopK {
			break
		}
		if opts.FolderPrefix != "" && !strings.HasPrefix(h.Path, opts.FolderPrefix) {
			continue
		}
		score := 0.0
		if top > 0 {
			score = h.Score / top
		}
		if score < threshold {
			continue
		}
		results = append(results, Result{
			DocumentID: h.Path,
			Content:    cleanExcerpt(h.Excerpt),
			Score:      score,
		})
	}
	return results, nil
}

func (o *OmnisearchBackend) query(ctx context.Context, q string) ([]omnisearchHit, error) {
	endpoint := o.baseURL + "/search?q=" + url.QueryEscape(q)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", version.UserAgent())

	resp, err := o.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("omnisearch returned status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var hits []omnisearchHit
	if err := json.NewDecoder(resp.Body).Decode(&hits); err != nil {
		return nil, fmt.Errorf("decode omnisearch response: %w", err)
	}
	return hits, nil
}

var (
	breakTag = regexp.MustCompile(`(?i)<br\s*/?>`)
	anyTag   = regexp.MustCompile(`<[^>]+>`)
)

// cleanExcerpt turns Omnisearch's highlighted HTML excerpt into plain text.
func cleanExcerpt(s string) string {
	s = breakTag.ReplaceAllString(s, "\n")
	s = anyTag.ReplaceAllString(s, "")
	return strings.TrimSpace(s)
}
