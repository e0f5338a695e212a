// Package lifecycle prepares a local Ollama server for embedding: it
// lists installed models and pulls the configured one when missing.
package lifecycle

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/Aman-CERP/vaultrag/internal/embed"
	"github.com/Aman-CERP/vaultrag/pkg/version"
)

// PullProgress is one status line from a model pull.
type PullProgress struct {
	Status    string
	Digest    string
	Total     int64
	Completed int64
	Percent   float64 // 0-100, 0 when the size is unknown
}

// ModelNotFoundError reports a model that is not installed.
type ModelNotFoundError struct {
	Model string
}

func (e *ModelNotFoundError) Error() string {
	return fmt.Sprintf("model %s is not installed; run 'vaultrag doctor --fix' or 'ollama pull %s'", e.Model, e.Model)
}

// Ollama talks to the management endpoints of an Ollama server.
type Ollama struct {
	host   string
	client *http.Client
}

// NewOllama creates a client for host, defaulting to the local server.
func NewOllama(host string) *Ollama {
	if host == "" {
		host = embed.DefaultOllamaHost
	}
	return &Ollama{
		host:   strings.TrimRight(host, "/"),
		client: &http.Client{Timeout: 5 * time.Second},
	}
}

// Host returns the server address.
func (o *Ollama) Host() string {
	return o.host
}

// ListModels returns the names of the installed models.
func (o *Ollama) ListModels(ctx context.Context) ([]string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, o.host+"/api/tags", nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("User-Agent", version.UserAgent())

	resp, err := o.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to Ollama at %s: %w", o.host, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return nil, fmt.Errorf("unexpected status %d: %s", resp.StatusCode, body)
	}

	var result struct {
		Models []struct {
			Name string `json:"name"`
		} `json:"models"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}

	models := make([]string, len(result.Models))
	for i, m := range result.Models {
		models[i] = m.Name
	}
	return models, nil
}

// HasModel reports whether model is installed. A name without a tag
// matches any tag of that model; "nomic-embed-text" matches
// "nomic-embed-text:latest".
func (o *Ollama) HasModel(ctx context.Context, model string) (bool, error) {
	models, err := o.ListModels(ctx)
	if err != nil {
		return false, err
	}
	return matchModel(models, model), nil
}

func matchModel(installed []string, model string) bool {
	want := strings.ToLower(model)
	wantBase, _, tagged := strings.Cut(want, ":")
	for _, name := range installed {
		name = strings.ToLower(name)
		if name == want {
			return true
		}
		if base, _, _ := strings.Cut(name, ":"); !tagged && base == wantBase {
			return true
		}
	}
	return false
}

// PullModel downloads model, reporting each streamed status line to
// progress. An installed model returns immediately.
func (o *Ollama) PullModel(ctx context.Context, model string, progress func(PullProgress)) error {
	has, err := o.HasModel(ctx, model)
	if err != nil {
		return err
	}
	if has {
		return nil
	}

	body, err := json.Marshal(map[string]any{"name": model, "stream": true})
	if err != nil {
		return fmt.Errorf("failed to marshal request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, o.host+"/api/pull", bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", version.UserAgent())

	// Pulls stream for minutes; only ctx bounds them.
	resp, err := (&http.Client{Transport: o.client.Transport}).Do(req)
	if err != nil {
		return fmt.Errorf("failed to start pull: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return fmt.Errorf("pull failed with status %d: %s", resp.StatusCode, msg)
	}

	scanner := bufio.NewScanner(resp.Body)
	for scanner.Scan() {
		if err := ctx.Err(); err != nil {
			return err
		}
		var line struct {
			Status    string `json:"status"`
			Digest    string `json:"digest"`
			Total     int64  `json:"total"`
			Completed int64  `json:"completed"`
			Error     string `json:"error"`
		}
		if err := json.Unmarshal(scanner.Bytes(), &line); err != nil {
			continue
		}
		if line.Error != "" {
			return fmt.Errorf("pull failed: %s", line.Error)
		}
		if progress != nil {
			p := PullProgress{Status: line.Status, Digest: line.Digest, Total: line.Total, Completed: line.Completed}
			if line.Total > 0 {
				p.Percent = float64(line.Completed) / float64(line.Total) * 100
			}
			progress(p)
		}
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("error reading pull response: %w", err)
	}
	return nil
}

// EnsureModel returns a ModelNotFoundError when model is missing and
// pull is false, and pulls it otherwise.
func (o *Ollama) EnsureModel(ctx context.Context, model string, pull bool, progress func(PullProgress)) error {
	has, err := o.HasModel(ctx, model)
	if err != nil {
		return err
	}
	if has {
		return nil
	}
	if !pull {
		return &ModelNotFoundError{Model: model}
	}
	return o.PullModel(ctx, model, progress)
}
