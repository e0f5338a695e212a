package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	vrerrors "github.com/Aman-CERP/vaultrag/internal/errors"
)

// Backend names accepted in the backends priority list.
const (
	BackendLocal      = "local"
	BackendOmnisearch = "omnisearch"
	BackendMCP        = "mcp"
)

// Defaults for settings where zero is a meaningful value.
const (
	DefaultOverlapTokens = 64
	DefaultThreshold     = 0.3
)

// Config represents the complete vaultrag configuration.
type Config struct {
	Version int `yaml:"version" json:"version"`

	// Enabled turns retrieval on or off. Nil means enabled.
	Enabled *bool `yaml:"enabled,omitempty" json:"enabled,omitempty"`

	// Backends is the search backend priority list. The first available
	// backend wins and stays selected until settings change.
	Backends []string `yaml:"backends" json:"backends"`

	Corpus     CorpusConfig     `yaml:"corpus" json:"corpus"`
	Embeddings EmbeddingsConfig `yaml:"embeddings" json:"embeddings"`
	Chunking   ChunkingConfig   `yaml:"chunking" json:"chunking"`
	Search     SearchConfig     `yaml:"search" json:"search"`
	Store      StoreConfig      `yaml:"store" json:"store"`
	Omnisearch OmnisearchConfig `yaml:"omnisearch" json:"omnisearch"`
	MCPBackend MCPBackendConfig `yaml:"mcp_backend" json:"mcp_backend"`
	Server     ServerConfig     `yaml:"server" json:"server"`

	// Telemetry keeps local query statistics under the data directory.
	// Nil means enabled. Nothing leaves the machine.
	Telemetry *bool `yaml:"telemetry,omitempty" json:"telemetry,omitempty"`
}

// CorpusConfig configures which documents are indexed.
type CorpusConfig struct {
	// Root is the vault directory. Relative paths resolve against the
	// directory passed to Load.
	Root       string   `yaml:"root" json:"root"`
	Extensions []string `yaml:"extensions" json:"extensions"`

	// Exclude lists folder prefixes or gitignore-style patterns.
	Exclude []string `yaml:"exclude" json:"exclude"`

	WatchDebounce string `yaml:"watch_debounce" json:"watch_debounce"`
}

// EmbeddingsConfig configures the embedding provider.
type EmbeddingsConfig struct {
	// Provider is "ollama", "openai" or "static".
	Provider string `yaml:"provider" json:"provider"`
	// Endpoint is the Ollama host or the OpenAI-compatible base URL.
	// Empty uses the provider default.
	Endpoint   string `yaml:"endpoint" json:"endpoint"`
	Model      string `yaml:"model" json:"model"`
	APIKey     string `yaml:"api_key" json:"-"`
	Dimensions int    `yaml:"dimensions" json:"dimensions"`
	BatchSize  int    `yaml:"batch_size" json:"batch_size"`
	Timeout    string `yaml:"timeout" json:"timeout"`

	// RateLimit caps cloud requests per second (0 = unlimited).
	RateLimit float64 `yaml:"rate_limit" json:"rate_limit"`

	// CacheSize is the number of query embeddings kept in memory.
	CacheSize int `yaml:"cache_size" json:"cache_size"`
}

// ChunkingConfig configures how documents are split.
type ChunkingConfig struct {
	// Strategy is "heading", "fixed" or "smart".
	Strategy  string `yaml:"strategy" json:"strategy"`
	MaxTokens int    `yaml:"max_tokens" json:"max_tokens"`
	// OverlapTokens is shared between fixed windows. Nil means 64; 0 turns
	// overlap off.
	OverlapTokens *int `yaml:"overlap_tokens,omitempty" json:"overlap_tokens,omitempty"`
}

// SearchConfig holds the per-call defaults merged into every search.
type SearchConfig struct {
	TopK int `yaml:"top_k" json:"top_k"`

	// Threshold drops results scoring below it. Nil means 0.3; 0 is no
	// floor.
	Threshold *float64 `yaml:"threshold,omitempty" json:"threshold,omitempty"`

	// Hybrid fuses keyword and vector rankings. Nil means false.
	Hybrid *bool `yaml:"hybrid,omitempty" json:"hybrid,omitempty"`

	// RRFConstant is the RRF fusion smoothing parameter (k).
	RRFConstant int `yaml:"rrf_constant" json:"rrf_constant"`

	// RelatedPrefixChars bounds the query text used by related-document
	// lookups on backends without a native relatedness call.
	RelatedPrefixChars int `yaml:"related_prefix_chars" json:"related_prefix_chars"`
}

// StoreConfig configures local persistence.
type StoreConfig struct {
	// Backend is "sqlite" or "badger".
	Backend string `yaml:"backend" json:"backend"`
	// SearchMode is "exact" or "hnsw".
	SearchMode string `yaml:"search_mode" json:"search_mode"`
	// BM25Backend is "sqlite" or "bleve"; only used when hybrid search is on.
	BM25Backend string `yaml:"bm25_backend" json:"bm25_backend"`
	// DataDir holds the index files. Relative paths resolve against the vault root.
	DataDir string `yaml:"data_dir" json:"data_dir"`
}

// OmnisearchConfig configures the Omnisearch HTTP backend.
type OmnisearchConfig struct {
	URL     string `yaml:"url" json:"url"`
	Timeout string `yaml:"timeout" json:"timeout"`
}

// MCPBackendConfig configures an external MCP server used as a search backend.
// Either Command or URL must be set for the backend to be built.
type MCPBackendConfig struct {
	Command string   `yaml:"command" json:"command"`
	Args    []string `yaml:"args" json:"args"`
	URL     string   `yaml:"url" json:"url"`
	Tool    string   `yaml:"tool" json:"tool"`
}

// ServerConfig configures the MCP server and logging.
type ServerConfig struct {
	Transport string `yaml:"transport" json:"transport"`

	// Addr is the listen address for the http transport.
	Addr     string `yaml:"addr" json:"addr"`
	LogLevel string `yaml:"log_level" json:"log_level"`
}

// defaultExcludePatterns are always excluded.
var defaultExcludePatterns = []string{
	".obsidian/",
	".trash/",
	".git/",
	".vaultrag/",
}

// NewConfig creates a new Config with sensible defaults.
func NewConfig() *Config {
	return &Config{
		Version:  1,
		Backends: []string{BackendOmnisearch, BackendLocal},
		Corpus: CorpusConfig{
			Root:          ".",
			Extensions:    []string{".md"},
			Exclude:       append([]string(nil), defaultExcludePatterns...),
			WatchDebounce: "500ms",
		},
		Embeddings: EmbeddingsConfig{
			Provider:  "ollama",
			Model:     "nomic-embed-text",
			BatchSize: 32,
			Timeout:   "60s",
			CacheSize: 1000,
		},
		Chunking: ChunkingConfig{
			Strategy:      "smart",
			MaxTokens:     512,
			OverlapTokens: ptr(DefaultOverlapTokens),
		},
		Search: SearchConfig{
			TopK:               5,
			Threshold:          ptr(DefaultThreshold),
			RRFConstant:        60,
			RelatedPrefixChars: 500,
		},
		Store: StoreConfig{
			Backend:     "sqlite",
			SearchMode:  "exact",
			BM25Backend: "sqlite",
			DataDir:     ".vaultrag",
		},
		Omnisearch: OmnisearchConfig{
			URL:     "http://localhost:51361",
			Timeout: "2s",
		},
		MCPBackend: MCPBackendConfig{
			Tool: "search",
		},
		Server: ServerConfig{
			Transport: "stdio",
			Addr:      "127.0.0.1:8765",
			LogLevel:  "info",
		},
	}
}

// IsEnabled reports whether retrieval is turned on.
func (c *Config) IsEnabled() bool {
	return c.Enabled == nil || *c.Enabled
}

// TelemetryEnabled reports whether query statistics are recorded.
func (c *Config) TelemetryEnabled() bool {
	return c.Telemetry == nil || *c.Telemetry
}

// ChunkOverlap returns the overlap between fixed chunking windows.
func (c *Config) ChunkOverlap() int {
	if c.Chunking.OverlapTokens == nil {
		return DefaultOverlapTokens
	}
	return *c.Chunking.OverlapTokens
}

// SearchThreshold returns the default score floor for searches.
func (c *Config) SearchThreshold() float64 {
	if c.Search.Threshold == nil {
		return DefaultThreshold
	}
	return *c.Search.Threshold
}

// HybridEnabled reports whether hybrid search is the default.
func (c *Config) HybridEnabled() bool {
	return c.Search.Hybrid != nil && *c.Search.Hybrid
}

// EmbeddingTimeout parses Embeddings.Timeout, falling back to 60s.
func (c *Config) EmbeddingTimeout() time.Duration {
	return parseDuration(c.Embeddings.Timeout, 60*time.Second)
}

// OmnisearchTimeout parses Omnisearch.Timeout, falling back to 2s.
func (c *Config) OmnisearchTimeout() time.Duration {
	return parseDuration(c.Omnisearch.Timeout, 2*time.Second)
}

// WatchDebounce parses Corpus.WatchDebounce, falling back to 500ms.
func (c *Config) WatchDebounce() time.Duration {
	return parseDuration(c.Corpus.WatchDebounce, 500*time.Millisecond)
}

// ResolveDataDir returns the absolute index directory for a vault root.
func (c *Config) ResolveDataDir(vaultRoot string) string {
	if filepath.IsAbs(c.Store.DataDir) {
		return c.Store.DataDir
	}
	return filepath.Join(vaultRoot, c.Store.DataDir)
}

func parseDuration(s string, fallback time.Duration) time.Duration {
	if s == "" {
		return fallback
	}
	d, err := time.ParseDuration(s)
	if err != nil || d <= 0 {
		return fallback
	}
	return d
}

// GetUserConfigPath returns the path to the user/global configuration file.
// It follows XDG Base Directory specification:
//   - $XDG_CONFIG_HOME/vaultrag/config.yaml (if XDG_CONFIG_HOME is set)
//   - ~/.config/vaultrag/config.yaml (default)
func GetUserConfigPath() string {
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		return filepath.Join(xdg, "vaultrag", "config.yaml")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(os.TempDir(), ".config", "vaultrag", "config.yaml")
	}
	return filepath.Join(home, ".config", "vaultrag", "config.yaml")
}

// loadUserConfig returns nil config and nil error if the file doesn't exist.
func loadUserConfig() (*Config, error) {
	configPath := GetUserConfigPath()
	if !fileExists(configPath) {
		return nil, nil
	}

	var cfg Config
	if err := readYAML(configPath, &cfg); err != nil {
		return nil, fmt.Errorf("failed to load user config from %s: %w", configPath, err)
	}
	return &cfg, nil
}

// Load loads configuration for the vault in dir.
// It applies configuration in order of increasing precedence:
//  1. Hardcoded defaults
//  2. User/global config (~/.config/vaultrag/config.yaml)
//  3. Project config (.vaultrag.yaml in the vault root)
//  4. Environment variables (VAULTRAG_*)
func Load(dir string) (*Config, error) {
	cfg := NewConfig()

	if userCfg, err := loadUserConfig(); err != nil {
		return nil, err
	} else if userCfg != nil {
		cfg.mergeWith(userCfg)
	}

	if err := cfg.loadFromFile(dir); err != nil {
		return nil, err
	}

	cfg.applyEnvOverrides()

	if !filepath.IsAbs(cfg.Corpus.Root) {
		cfg.Corpus.Root = filepath.Join(dir, cfg.Corpus.Root)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// loadFromFile merges .vaultrag.yaml (or .vaultrag.yml) from dir if present.
func (c *Config) loadFromFile(dir string) error {
	for _, name := range []string{".vaultrag.yaml", ".vaultrag.yml"} {
		path := filepath.Join(dir, name)
		if !fileExists(path) {
			continue
		}
		var parsed Config
		if err := readYAML(path, &parsed); err != nil {
			return err
		}
		c.mergeWith(&parsed)
		return nil
	}
	return nil
}

func readYAML(path string, out *Config) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, out); err != nil {
		return vrerrors.New(vrerrors.ErrCodeConfigInvalid,
			fmt.Sprintf("failed to parse config file %s", path), err)
	}
	return nil
}

// mergeWith merges non-zero values from other into c.
func (c *Config) mergeWith(other *Config) {
	if other.Version != 0 {
		c.Version = other.Version
	}
	if other.Enabled != nil {
		c.Enabled = other.Enabled
	}
	if other.Telemetry != nil {
		c.Telemetry = other.Telemetry
	}
	if len(other.Backends) > 0 {
		c.Backends = other.Backends
	}

	// Corpus
	if other.Corpus.Root != "" {
		c.Corpus.Root = other.Corpus.Root
	}
	if len(other.Corpus.Extensions) > 0 {
		c.Corpus.Extensions = other.Corpus.Extensions
	}
	if len(other.Corpus.Exclude) > 0 {
		// Merge with defaults rather than replace
		c.Corpus.Exclude = append(c.Corpus.Exclude, other.Corpus.Exclude...)
	}
	if other.Corpus.WatchDebounce != "" {
		c.Corpus.WatchDebounce = other.Corpus.WatchDebounce
	}

	// Embeddings
	e := other.Embeddings
	if e.Provider != "" {
		c.Embeddings.Provider = e.Provider
	}
	if e.Endpoint != "" {
		c.Embeddings.Endpoint = e.Endpoint
	}
	if e.Model != "" {
		c.Embeddings.Model = e.Model
	}
	if e.APIKey != "" {
		c.Embeddings.APIKey = e.APIKey
	}
	if e.Dimensions != 0 {
		c.Embeddings.Dimensions = e.Dimensions
	}
	if e.BatchSize != 0 {
		c.Embeddings.BatchSize = e.BatchSize
	}
	if e.Timeout != "" {
		c.Embeddings.Timeout = e.Timeout
	}
	if e.RateLimit != 0 {
		c.Embeddings.RateLimit = e.RateLimit
	}
	if e.CacheSize != 0 {
		c.Embeddings.CacheSize = e.CacheSize
	}

	// Chunking
	if other.Chunking.Strategy != "" {
		c.Chunking.Strategy = other.Chunking.Strategy
	}
	if other.Chunking.MaxTokens != 0 {
		c.Chunking.MaxTokens = other.Chunking.MaxTokens
	}
	if other.Chunking.OverlapTokens != nil {
		c.Chunking.OverlapTokens = other.Chunking.OverlapTokens
	}

	// Search
	if other.Search.TopK != 0 {
		c.Search.TopK = other.Search.TopK
	}
	if other.Search.Threshold != nil {
		c.Search.Threshold = other.Search.Threshold
	}
	if other.Search.Hybrid != nil {
		c.Search.Hybrid = other.Search.Hybrid
	}
	if other.Search.RRFConstant != 0 {
		c.Search.RRFConstant = other.Search.RRFConstant
	}
	if other.Search.RelatedPrefixChars != 0 {
		c.Search.RelatedPrefixChars = other.Search.RelatedPrefixChars
	}

	// Store
	if other.Store.Backend != "" {
		c.Store.Backend = other.Store.Backend
	}
	if other.Store.SearchMode != "" {
		c.Store.SearchMode = other.Store.SearchMode
	}
	if other.Store.BM25Backend != "" {
		c.Store.BM25Backend = other.Store.BM25Backend
	}
	if other.Store.DataDir != "" {
		c.Store.DataDir = other.Store.DataDir
	}

	// External backends
	if other.Omnisearch.URL != "" {
		c.Omnisearch.URL = other.Omnisearch.URL
	}
	if other.Omnisearch.Timeout != "" {
		c.Omnisearch.Timeout = other.Omnisearch.Timeout
	}
	if other.MCPBackend.Command != "" {
		c.MCPBackend.Command = other.MCPBackend.Command
		c.MCPBackend.Args = other.MCPBackend.Args
	}
	if other.MCPBackend.URL != "" {
		c.MCPBackend.URL = other.MCPBackend.URL
	}
	if other.MCPBackend.Tool != "" {
		c.MCPBackend.Tool = other.MCPBackend.Tool
	}

	// Server
	if other.Server.Transport != "" {
		c.Server.Transport = other.Server.Transport
	}
	if other.Server.Addr != "" {
		c.Server.Addr = other.Server.Addr
	}
	if other.Server.LogLevel != "" {
		c.Server.LogLevel = other.Server.LogLevel
	}
}

// applyEnvOverrides applies VAULTRAG_* environment variable overrides.
func (c *Config) applyEnvOverrides() {
	if v := os.Getenv("VAULTRAG_ENABLED"); v != "" {
		enabled := parseBool(v)
		c.Enabled = &enabled
	}
	if v := os.Getenv("VAULTRAG_TELEMETRY"); v != "" {
		telemetry := parseBool(v)
		c.Telemetry = &telemetry
	}
	if v := os.Getenv("VAULTRAG_BACKENDS"); v != "" {
		c.Backends = splitList(v)
	}
	if v := os.Getenv("VAULTRAG_EMBEDDINGS_PROVIDER"); v != "" {
		c.Embeddings.Provider = v
	}
	if v := os.Getenv("VAULTRAG_EMBEDDINGS_MODEL"); v != "" {
		c.Embeddings.Model = v
	}
	if v := os.Getenv("VAULTRAG_EMBEDDINGS_ENDPOINT"); v != "" {
		c.Embeddings.Endpoint = v
	}
	// OPENAI_API_KEY is honoured so existing shells work without extra setup.
	if v := os.Getenv("OPENAI_API_KEY"); v != "" && c.Embeddings.APIKey == "" {
		c.Embeddings.APIKey = v
	}
	if v := os.Getenv("VAULTRAG_API_KEY"); v != "" {
		c.Embeddings.APIKey = v
	}
	if v := os.Getenv("VAULTRAG_CHUNK_STRATEGY"); v != "" {
		c.Chunking.Strategy = v
	}
	if v := os.Getenv("VAULTRAG_TOP_K"); v != "" {
		if k, err := strconv.Atoi(v); err == nil && k > 0 {
			c.Search.TopK = k
		}
	}
	if v := os.Getenv("VAULTRAG_THRESHOLD"); v != "" {
		if f, err := strconv.ParseFloat(strings.TrimSpace(v), 64); err == nil {
			c.Search.Threshold = &f
		}
	}
	if v := os.Getenv("VAULTRAG_HYBRID"); v != "" {
		hybrid := parseBool(v)
		c.Search.Hybrid = &hybrid
	}
	if v := os.Getenv("VAULTRAG_DATA_DIR"); v != "" {
		c.Store.DataDir = v
	}
	if v := os.Getenv("VAULTRAG_LOG_LEVEL"); v != "" {
		c.Server.LogLevel = v
	}
}

func ptr[T any](v T) *T { return &v }

func parseBool(s string) bool {
	s = strings.ToLower(strings.TrimSpace(s))
	return s == "true" || s == "1" || s == "yes"
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// Validate validates the configuration and returns an ERR_102 error if invalid.
func (c *Config) Validate() error {
	invalid := func(format string, args ...any) error {
		return vrerrors.ConfigError(fmt.Sprintf(format, args...), nil)
	}

	validBackends := map[string]bool{BackendLocal: true, BackendOmnisearch: true, BackendMCP: true}
	for _, b := range c.Backends {
		if !validBackends[strings.ToLower(b)] {
			return invalid("backends: unknown backend %q (want local, omnisearch or mcp)", b)
		}
	}

	validProviders := map[string]bool{"ollama": true, "openai": true, "static": true}
	if !validProviders[strings.ToLower(c.Embeddings.Provider)] {
		return invalid("embeddings.provider must be 'ollama', 'openai' or 'static', got %q", c.Embeddings.Provider)
	}
	if c.Embeddings.Dimensions < 0 {
		return invalid("embeddings.dimensions must be non-negative, got %d", c.Embeddings.Dimensions)
	}
	if c.Embeddings.BatchSize < 0 {
		return invalid("embeddings.batch_size must be non-negative, got %d", c.Embeddings.BatchSize)
	}
	if c.Embeddings.RateLimit < 0 {
		return invalid("embeddings.rate_limit must be non-negative, got %f", c.Embeddings.RateLimit)
	}

	switch strings.ToLower(c.Chunking.Strategy) {
	case "heading", "fixed", "smart":
	default:
		return invalid("chunking.strategy must be 'heading', 'fixed' or 'smart', got %q", c.Chunking.Strategy)
	}
	if c.Chunking.MaxTokens <= 0 {
		return invalid("chunking.max_tokens must be positive, got %d", c.Chunking.MaxTokens)
	}
	if o := c.ChunkOverlap(); o < 0 || o >= c.Chunking.MaxTokens {
		return invalid("chunking.overlap_tokens must be in [0, max_tokens), got %d", o)
	}

	if c.Search.TopK <= 0 {
		return invalid("search.top_k must be positive, got %d", c.Search.TopK)
	}
	if t := c.SearchThreshold(); t < -1 || t > 1 {
		return invalid("search.threshold must be between -1 and 1, got %f", t)
	}
	if c.Search.RRFConstant <= 0 {
		return invalid("search.rrf_constant must be positive, got %d", c.Search.RRFConstant)
	}

	switch strings.ToLower(c.Store.Backend) {
	case "sqlite", "badger":
	default:
		return invalid("store.backend must be 'sqlite' or 'badger', got %q", c.Store.Backend)
	}
	switch strings.ToLower(c.Store.SearchMode) {
	case "exact", "hnsw":
	default:
		return invalid("store.search_mode must be 'exact' or 'hnsw', got %q", c.Store.SearchMode)
	}
	switch strings.ToLower(c.Store.BM25Backend) {
	case "sqlite", "bleve":
	default:
		return invalid("store.bm25_backend must be 'sqlite' or 'bleve', got %q", c.Store.BM25Backend)
	}

	validTransports := map[string]bool{"stdio": true, "http": true}
	if !validTransports[strings.ToLower(c.Server.Transport)] {
		return invalid("server.transport must be 'stdio' or 'http', got %q", c.Server.Transport)
	}
	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[strings.ToLower(c.Server.LogLevel)] {
		return invalid("server.log_level must be 'debug', 'info', 'warn', or 'error', got %q", c.Server.LogLevel)
	}

	return nil
}

// WriteYAML writes the configuration to a YAML file.
func (c *Config) WriteYAML(path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

// fileExists checks if a file exists and is not a directory.
func fileExists(path string) bool {
	info, err := os.Stat(path)
	if err != nil {
		return false
	}
	return !info.IsDir()
}
