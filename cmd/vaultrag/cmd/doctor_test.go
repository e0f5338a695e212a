package cmd

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDoctorCmd_HealthyVault(t *testing.T) {
	// Given: a vault using the offline static provider
	dir := newTestVault(t)

	// When: running the checks
	out, err := runCmd(t, "--vault", dir, "doctor")

	// Then: the local backend serves searches and nothing is critical
	require.NoError(t, err)
	assert.Contains(t, out, "[PASS] vault")
	assert.Contains(t, out, "[PASS] embedder")
	assert.Contains(t, out, "local will serve searches")
	assert.NotContains(t, out, "Status: FAILED")
}

func TestDoctorCmd_JSON(t *testing.T) {
	dir := newTestVault(t)

	out, err := runCmd(t, "--vault", dir, "doctor", "--json")
	require.NoError(t, err)

	var report struct {
		Status string `json:"status"`
		Checks []struct {
			Name   string `json:"name"`
			Status string `json:"status"`
		} `json:"checks"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &report))
	assert.NotEqual(t, "failed", report.Status)
	assert.NotEmpty(t, report.Checks)
}

// fakeOllamaServer has no models until one is pulled.
func fakeOllamaServer(t *testing.T) *httptest.Server {
	t.Helper()
	var (
		mu     sync.Mutex
		models []map[string]string
	)
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/tags", func(w http.ResponseWriter, _ *http.Request) {
		mu.Lock()
		defer mu.Unlock()
		_ = json.NewEncoder(w).Encode(map[string]any{"models": models})
	})
	mux.HandleFunc("POST /api/pull", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("{\"status\":\"pulling manifest\"}\n{\"status\":\"success\"}\n"))
		mu.Lock()
		models = append(models, map[string]string{"name": "nomic-embed-text:latest"})
		mu.Unlock()
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func ollamaVault(t *testing.T) string {
	t.Helper()
	dir := newTestVault(t)
	srv := fakeOllamaServer(t)
	writeNote(t, dir, ".vaultrag.yaml", "backends: [local]\nembeddings:\n  provider: ollama\n  model: nomic-embed-text\n  endpoint: "+srv.URL+"\n")
	return dir
}

func TestDoctorCmd_ReportsMissingModel(t *testing.T) {
	dir := ollamaVault(t)

	out, _ := runCmd(t, "--vault", dir, "doctor")

	assert.Contains(t, out, "model nomic-embed-text is not installed")
	assert.Contains(t, out, "vaultrag doctor --fix")
}

func TestDoctorCmd_FixPullsModel(t *testing.T) {
	dir := ollamaVault(t)

	out, _ := runCmd(t, "--vault", dir, "doctor", "--fix")

	assert.Contains(t, out, "Ensuring nomic-embed-text is available")
	assert.Contains(t, out, "pulling manifest")
	assert.Contains(t, out, "success")
	assert.NotContains(t, out, "is not installed")
}
