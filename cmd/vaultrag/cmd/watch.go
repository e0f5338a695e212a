package cmd

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/Aman-CERP/vaultrag/internal/config"
	"github.com/Aman-CERP/vaultrag/internal/index"
	"github.com/Aman-CERP/vaultrag/internal/output"
	"github.com/Aman-CERP/vaultrag/internal/search"
	"github.com/Aman-CERP/vaultrag/internal/watcher"
)

func newWatchCmd() *cobra.Command {
	var polling bool

	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Keep the index up to date as notes change",
		Long: `Watch the vault and re-index notes as they are created, edited,
renamed or deleted. Changes to .gitignore or .vaultrag.yaml trigger an
incremental pass over the whole vault.

Runs until interrupted.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			a, err := openVault(ctx)
			if err != nil {
				return err
			}
			defer func() { _ = a.Close() }()

			out := output.New(cmd.OutOrStdout())
			w, err := newVaultWatcher(a, polling)
			if err != nil {
				return err
			}
			out.Statusf("👀", "Watching %s (%s mode, Ctrl+C to stop)", a.root, w.Mode())

			done := consumeEvents(ctx, a, w)
			err = w.Start(ctx, a.root)
			_ = w.Stop()
			<-done

			if err != nil && !errors.Is(err, context.Canceled) {
				return err
			}
			out.Status("", "Stopped.")
			return nil
		},
	}

	cmd.Flags().BoolVar(&polling, "polling", false, "Poll the vault instead of using file system notifications")

	return cmd
}

func newVaultWatcher(a *app, polling bool) (*watcher.Watcher, error) {
	return watcher.New(watcher.Options{
		DebounceWindow: a.cfg.WatchDebounce(),
		IgnorePatterns: a.cfg.Corpus.Exclude,
		ForcePolling:   polling,
		Logger:         a.logger,
	})
}

// startWatching runs a watcher for the vault in the background. The
// returned watcher must be stopped by the caller.
func startWatching(ctx context.Context, a *app) (*watcher.Watcher, error) {
	w, err := newVaultWatcher(a, false)
	if err != nil {
		return nil, err
	}
	consumeEvents(ctx, a, w)
	go func() {
		if err := w.Start(ctx, a.root); err != nil && !errors.Is(err, context.Canceled) {
			a.logger.Warn("watcher_stopped", slog.String("error", err.Error()))
		}
	}()
	return w, nil
}

// consumeEvents applies watcher batches to the index until the watcher's
// channels close. A config change also reloads the search settings. The
// returned channel closes when consumption ends.
func consumeEvents(ctx context.Context, a *app, w *watcher.Watcher) <-chan struct{} {
	coord := index.NewCoordinator(a.indexer, a.source, a.logger,
		index.WithWriteLock(&a.writes),
		index.WithDataDir(a.dataDir))
	done := make(chan struct{})

	go func() {
		defer close(done)
		events, errs := w.Events(), w.Errors()
		for events != nil || errs != nil {
			select {
			case batch, ok := <-events:
				if !ok {
					events = nil
					continue
				}
				if hasConfigChange(batch) {
					reloadSettings(a)
				}
				if err := coord.HandleEvents(ctx, batch); err != nil && !errors.Is(err, context.Canceled) {
					a.logger.Warn("watch_batch_failed", slog.String("error", err.Error()))
				}
			case err, ok := <-errs:
				if !ok {
					errs = nil
					continue
				}
				a.logger.Warn("watcher_error", slog.String("error", err.Error()))
			}
		}
	}()
	return done
}

func hasConfigChange(batch []watcher.FileEvent) bool {
	for _, ev := range batch {
		if ev.Operation == watcher.OpConfigChange {
			return true
		}
	}
	return false
}

// reloadSettings rereads the vault config and pushes the new defaults to
// the orchestrator, which drops its cached backend choice. An invalid
// file keeps the current settings.
func reloadSettings(a *app) {
	cfg, err := config.Load(a.root)
	if err != nil {
		a.logger.Warn("config_reload_failed", slog.String("error", err.Error()))
		return
	}
	a.orch.UpdateSettings(search.SettingsFromConfig(cfg))
	a.logger.Info("config_reloaded", slog.Bool("enabled", cfg.IsEnabled()))
}
