package embed

import (
	"encoding/json"
	"math"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	vrerrors "github.com/Aman-CERP/vaultrag/internal/errors"
)

// vectorMagnitude computes the magnitude of a vector
func vectorMagnitude(v []float32) float64 {
	var sum float64
	for _, val := range v {
		sum += float64(val) * float64(val)
	}
	return math.Sqrt(sum)
}

// cosineSimilarity computes cosine similarity between two vectors
func cosineSimilarity(a, b []float32) float64 {
	if len(a) != len(b) {
		return 0
	}
	var dotProduct, magA, magB float64
	for i := range a {
		dotProduct += float64(a[i]) * float64(b[i])
		magA += float64(a[i]) * float64(a[i])
		magB += float64(b[i]) * float64(b[i])
	}
	if magA == 0 || magB == 0 {
		return 0
	}
	return dotProduct / (math.Sqrt(magA) * math.Sqrt(magB))
}

// fakeOllama is a scriptable /api/embed and /api/tags server.
type fakeOllama struct {
	t      *testing.T
	server *httptest.Server

	mu     sync.Mutex
	inputs [][]string
	models []string
	dims   int
	// fail decides the status for a request; 0 means success.
	fail func(input []string) int
}

func newFakeOllama(t *testing.T) *fakeOllama {
	t.Helper()
	f := &fakeOllama{t: t, dims: 3, models: []string{"nomic-embed-text:latest"}}

	mux := http.NewServeMux()
	mux.HandleFunc("/api/tags", func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		resp := OllamaModelListResponse{}
		for _, m := range f.models {
			resp.Models = append(resp.Models, OllamaModelInfo{Name: m})
		}
		f.mu.Unlock()
		_ = json.NewEncoder(w).Encode(resp)
	})
	mux.HandleFunc("/api/embed", func(w http.ResponseWriter, r *http.Request) {
		var req OllamaEmbedRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}

		f.mu.Lock()
		f.inputs = append(f.inputs, req.Input)
		fail, dims := f.fail, f.dims
		f.mu.Unlock()

		if fail != nil {
			if status := fail(req.Input); status != 0 {
				http.Error(w, "scripted failure", status)
				return
			}
		}

		resp := OllamaEmbedResponse{Model: req.Model}
		for _, in := range req.Input {
			vec := make([]float64, dims)
			vec[0] = float64(len(in))
			vec[dims-1] = 1
			resp.Embeddings = append(resp.Embeddings, vec)
		}
		_ = json.NewEncoder(w).Encode(resp)
	})

	f.server = httptest.NewServer(mux)
	t.Cleanup(f.server.Close)
	return f
}

func (f *fakeOllama) requests() [][]string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([][]string(nil), f.inputs...)
}

// config returns a fast, non-retrying configuration pointed at the fake.
func (f *fakeOllama) config() OllamaConfig {
	cfg := DefaultOllamaConfig()
	cfg.Host = f.server.URL
	cfg.Dimensions = f.dims
	cfg.Timeout = 2 * time.Second
	cfg.AvailabilityTimeout = 500 * time.Millisecond
	cfg.Retry = vrerrors.RetryConfig{MaxRetries: 0, InitialDelay: time.Millisecond, Multiplier: 2}
	return cfg
}

func containsAny(input []string, needle string) bool {
	for _, in := range input {
		if strings.Contains(in, needle) {
			return true
		}
	}
	return false
}
