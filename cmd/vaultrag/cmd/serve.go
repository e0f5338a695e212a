package cmd

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/Aman-CERP/vaultrag/internal/async"
	"github.com/Aman-CERP/vaultrag/internal/config"
	"github.com/Aman-CERP/vaultrag/internal/mcp"
)

func newServeCmd() *cobra.Command {
	var (
		transport string
		addr      string
		watch     bool
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the MCP server",
		Long: `Start an MCP server exposing the vault to AI assistants.

Tools: search, find_related, get_context, reindex and index_stats.
Every note is also readable as a note:/// resource.

With the stdio transport nothing but protocol messages is written to
stdout; logs go to ~/.vaultrag/logs/ (and stderr with --debug).`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			cfg, err := loadConfig(vaultDir)
			if err != nil {
				return err
			}
			if !cmd.Flags().Changed("transport") {
				transport = cfg.Server.Transport
			}
			if !cmd.Flags().Changed("addr") {
				addr = cfg.Server.Addr
			}
			return runServe(ctx, cfg, transport, addr, watch)
		},
	}

	cmd.Flags().StringVar(&transport, "transport", "stdio", "Transport: stdio or http")
	cmd.Flags().StringVar(&addr, "addr", "127.0.0.1:8765", "Listen address for the http transport")
	cmd.Flags().BoolVar(&watch, "watch", true, "Keep the index up to date while serving")

	return cmd
}

func runServe(ctx context.Context, cfg *config.Config, transport, addr string, watch bool) error {
	a, err := openApp(ctx, cfg)
	if err != nil {
		return err
	}
	defer func() { _ = a.Close() }()

	jobs := async.NewBackgroundIndexer(a.orch, async.IndexerConfig{
		DataDir:   a.dataDir,
		WriteLock: &a.writes,
		Logger:    a.logger,
	})
	srv, err := mcp.NewServer(a.orch, mcp.Options{
		Jobs:   jobs,
		Notes:  a.source,
		Config: cfg,
		Root:   a.root,
		Logger: a.logger,
	})
	if err != nil {
		return err
	}
	defer func() { _ = srv.Close() }()

	if err := srv.RegisterResources(ctx); err != nil {
		a.logger.Warn("note_resources_failed", slog.String("error", err.Error()))
	}

	if watch {
		w, err := startWatching(ctx, a)
		if err != nil {
			// Serving still works against the existing index.
			a.logger.Warn("watch_start_failed", slog.String("error", err.Error()))
		} else {
			defer func() { _ = w.Stop() }()
		}
	}

	a.logger.Info("mcp_server_starting",
		slog.String("transport", transport),
		slog.String("vault", a.root))
	return srv.Serve(ctx, transport, addr)
}
