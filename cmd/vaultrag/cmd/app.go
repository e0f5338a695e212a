package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"sync"

	"github.com/Aman-CERP/vaultrag/internal/chunk"
	"github.com/Aman-CERP/vaultrag/internal/config"
	"github.com/Aman-CERP/vaultrag/internal/corpus"
	"github.com/Aman-CERP/vaultrag/internal/embed"
	"github.com/Aman-CERP/vaultrag/internal/index"
	"github.com/Aman-CERP/vaultrag/internal/logging"
	"github.com/Aman-CERP/vaultrag/internal/search"
	"github.com/Aman-CERP/vaultrag/internal/store"
	"github.com/Aman-CERP/vaultrag/internal/telemetry"
)

// app holds everything a command needs to index or search one vault.
type app struct {
	cfg     *config.Config
	root    string // absolute vault root
	dataDir string
	logger  *slog.Logger

	source   *corpus.FSSource
	embedder embed.Embedder
	store    *store.Store
	keyword  store.KeywordIndex
	indexer  *index.Indexer
	orch     *search.Orchestrator

	queries   *telemetry.SQLiteStore // nil when telemetry is off
	telemetry *telemetry.Recorder

	// writes serializes corpus jobs and watcher batches on the index.
	writes sync.Mutex

	closers []func() error
}

// loadConfig resolves the vault directory, loads its configuration and
// installs the logger. Debug mode logs to stderr as well as the log file.
func loadConfig(dir string) (*config.Config, error) {
	abs, err := filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve vault path: %w", err)
	}
	info, err := os.Stat(abs)
	if err != nil {
		return nil, fmt.Errorf("vault not found: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("vault is not a directory: %s", abs)
	}

	cfg, err := config.Load(abs)
	if err != nil {
		return nil, err
	}

	if loggingCleanup == nil {
		logCfg := logging.DefaultConfig()
		logCfg.Level = cfg.Server.LogLevel
		if debugMode {
			logCfg.Level = "debug"
			logCfg.WriteToStderr = true
		}
		cleanup, err := logging.SetupDefault(logCfg)
		if err != nil {
			return nil, fmt.Errorf("failed to set up logging: %w", err)
		}
		loggingCleanup = cleanup
	}
	return cfg, nil
}

// openApp builds the indexing pipeline and the search orchestrator for
// cfg. External backends are created only when listed in cfg.Backends;
// the local backend is always present because reindexing and stats go
// through it.
func openApp(ctx context.Context, cfg *config.Config) (_ *app, err error) {
	a := &app{
		cfg:    cfg,
		root:   cfg.Corpus.Root,
		logger: slog.Default(),
	}
	a.dataDir = cfg.ResolveDataDir(a.root)
	defer func() {
		if err != nil {
			_ = a.Close()
		}
	}()

	if err := os.MkdirAll(a.dataDir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	a.source, err = corpus.NewFSSource(corpus.FSOptions{
		Root:             a.root,
		Extensions:       cfg.Corpus.Extensions,
		RespectGitignore: true,
		Logger:           a.logger,
	})
	if err != nil {
		return nil, err
	}

	provider, err := embed.ParseProvider(cfg.Embeddings.Provider)
	if err != nil {
		return nil, err
	}
	a.embedder, err = embed.NewEmbedder(provider, embed.Options{
		Endpoint:   cfg.Embeddings.Endpoint,
		Model:      cfg.Embeddings.Model,
		APIKey:     cfg.Embeddings.APIKey,
		Dimensions: cfg.Embeddings.Dimensions,
		BatchSize:  cfg.Embeddings.BatchSize,
		Timeout:    cfg.EmbeddingTimeout(),
		RateLimit:  cfg.Embeddings.RateLimit,
		CacheSize:  cfg.Embeddings.CacheSize,
		Logger:     a.logger,
	})
	if err != nil {
		return nil, err
	}
	a.closers = append(a.closers, a.embedder.Close)

	a.store, err = store.Open(ctx, cfg.Store.Backend, a.dataDir, cfg.Store.SearchMode, a.logger)
	if err != nil {
		return nil, err
	}
	a.closers = append(a.closers, a.store.Close)

	if cfg.HybridEnabled() {
		a.keyword, err = store.OpenKeywordIndex(a.dataDir, cfg.Store.BM25Backend, store.DefaultKeywordConfig(), a.logger)
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, a.keyword.Close)
	}

	chunker, err := chunk.New(chunk.Config{
		Strategy:      chunk.Strategy(cfg.Chunking.Strategy),
		MaxTokens:     cfg.Chunking.MaxTokens,
		OverlapTokens: cfg.ChunkOverlap(),
	})
	if err != nil {
		return nil, err
	}

	a.indexer, err = index.New(index.Dependencies{
		Source:   a.source,
		Chunker:  chunker,
		Embedder: a.embedder,
		Store:    a.store,
		Keyword:  a.keyword,
		Exclude:  cfg.Corpus.Exclude,
		Logger:   a.logger,
	})
	if err != nil {
		return nil, err
	}

	backends, err := a.buildBackends()
	if err != nil {
		return nil, err
	}
	opts := []search.Option{search.WithLogger(a.logger)}
	if cfg.TelemetryEnabled() {
		if rec := a.openTelemetry(ctx); rec != nil {
			opts = append(opts, search.WithObserver(rec))
		}
	}
	a.orch = search.NewOrchestrator(backends, search.SettingsFromConfig(cfg), opts...)
	return a, nil
}

// openTelemetry opens the query statistics store. Queries still work
// without it, so failures are only logged.
func (a *app) openTelemetry(ctx context.Context) *telemetry.Recorder {
	st, err := telemetry.OpenSQLiteStore(ctx, filepath.Join(a.dataDir, telemetry.DefaultFileName))
	if err != nil {
		a.logger.Warn("telemetry_open_failed", slog.String("error", err.Error()))
		return nil
	}
	a.closers = append(a.closers, st.Close)

	tcfg := telemetry.DefaultConfig()
	tcfg.Logger = a.logger
	a.queries = st
	a.telemetry = telemetry.NewRecorder(st, tcfg)
	// Closed before the store so the final flush lands.
	a.closers = append(a.closers, a.telemetry.Close)
	return a.telemetry
}

func (a *app) buildBackends() ([]search.Backend, error) {
	cfg := a.cfg
	local := search.NewLocalBackend(a.indexer, search.LocalConfig{
		Keyword:     a.keyword,
		RRFConstant: cfg.Search.RRFConstant,
		Logger:      a.logger,
	})
	backends := []search.Backend{local}

	if slices.Contains(cfg.Backends, config.BackendOmnisearch) && cfg.Omnisearch.URL != "" {
		omni, err := search.NewOmnisearchBackend(search.OmnisearchConfig{
			URL:     cfg.Omnisearch.URL,
			Timeout: cfg.OmnisearchTimeout(),
			Logger:  a.logger,
		})
		if err != nil {
			return nil, err
		}
		backends = append(backends, omni)
	}

	mb := cfg.MCPBackend
	if slices.Contains(cfg.Backends, config.BackendMCP) && (mb.Command != "" || mb.URL != "") {
		remote, err := search.NewMCPBackend(search.MCPConfig{
			Command: mb.Command,
			Args:    mb.Args,
			URL:     mb.URL,
			Tool:    mb.Tool,
			Logger:  a.logger,
		})
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, remote.Close)
		backends = append(backends, remote)
	}
	return backends, nil
}

// Close releases the store, keyword index, embedder and backend
// connections in reverse order of creation.
func (a *app) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}

// openVault is loadConfig followed by openApp.
func openVault(ctx context.Context) (*app, error) {
	cfg, err := loadConfig(vaultDir)
	if err != nil {
		return nil, err
	}
	return openApp(ctx, cfg)
}
