package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/Aman-CERP/vaultrag/internal/async"
	"github.com/Aman-CERP/vaultrag/internal/index"
	"github.com/Aman-CERP/vaultrag/internal/profiling"
	"github.com/Aman-CERP/vaultrag/internal/ui"
)

// pollInterval is how often the index command samples job progress.
const pollInterval = 100 * time.Millisecond

func newIndexCmd() *cobra.Command {
	var (
		noTUI      bool
		force      bool
		profileDir string
		withTrace  bool
	)

	cmd := &cobra.Command{
		Use:   "index",
		Short: "Index the vault for semantic search",
		Long: `Index every note in the vault: split it into chunks, embed them,
and store the vectors under the data directory.

Notes that have not changed since the last run are skipped. Notes that
were deleted from the vault are pruned from the index.

Use --force to clear the index and rebuild from scratch, for example
after switching embedding models.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			// Ctrl+C cancels the run between notes
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			var prof *profiling.Session
			if profileDir != "" {
				var err error
				if prof, err = profiling.Start(profileDir, withTrace); err != nil {
					return err
				}
			}

			err := runIndex(ctx, cmd.OutOrStdout(), force, noTUI)
			if prof != nil {
				if perr := prof.Stop(); perr != nil {
					slog.Warn("profile_write_failed", slog.String("error", perr.Error()))
				}
				_, _ = fmt.Fprintf(cmd.OutOrStdout(), "Profiles written to %s\n", profileDir)
			}
			return err
		},
	}

	cmd.Flags().BoolVar(&noTUI, "no-tui", false, "Disable TUI mode, use plain text output")
	cmd.Flags().BoolVar(&force, "force", false, "Clear the existing index and rebuild from scratch")
	cmd.Flags().StringVar(&profileDir, "profile", "", "Write CPU, heap and allocs profiles into this directory")
	cmd.Flags().BoolVar(&withTrace, "trace", false, "With --profile, also record an execution trace")

	return cmd
}

func runIndex(ctx context.Context, out io.Writer, force, noTUI bool) error {
	a, err := openVault(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = a.Close() }()

	renderer := ui.NewRenderer(ui.NewConfig(out,
		ui.WithForcePlain(noTUI),
		ui.WithVaultDir(a.root),
	))
	if err := renderer.Start(ctx); err != nil {
		return fmt.Errorf("failed to start progress display: %w", err)
	}
	defer func() { _ = renderer.Stop() }()

	if async.HasIncompleteRun(a.dataDir) {
		renderer.AddError(ui.ErrorEvent{
			Err:    errors.New("previous run was interrupted; unchanged notes will be skipped"),
			IsWarn: true,
		})
	}
	if !force {
		if model, _, err := a.indexer.IndexedModel(ctx); err == nil && model != "" && model != a.embedder.ModelName() {
			renderer.AddError(ui.ErrorEvent{
				Err:    fmt.Errorf("index was built with %s, now embedding with %s; consider --force", model, a.embedder.ModelName()),
				IsWarn: true,
			})
		}
	}
	renderer.UpdateProgress(ui.ProgressEvent{Stage: ui.StageScanning, Message: "listing notes in " + a.root})

	jobs := async.NewBackgroundIndexer(a.orch, async.IndexerConfig{
		DataDir:   a.dataDir,
		WriteLock: &a.writes,
		Logger:    a.logger,
	})
	if _, err := jobs.Start(ctx, force); err != nil {
		return err
	}

	result, err := followJob(ctx, jobs, renderer)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			slog.Info("index_cancelled_by_user")
			return fmt.Errorf("indexing cancelled")
		}
		renderer.AddError(ui.ErrorEvent{Err: err})
		return err
	}

	renderer.UpdateProgress(ui.ProgressEvent{Stage: ui.StagePruning, Message: fmt.Sprintf("pruned %d notes", result.Pruned)})
	renderer.Complete(completionStats(result, a))
	return nil
}

// followJob feeds job progress to the renderer until the job ends.
func followJob(ctx context.Context, jobs *async.BackgroundIndexer, renderer ui.Renderer) (*index.Result, error) {
	done := make(chan struct{})
	var (
		result *index.Result
		err    error
	)
	go func() {
		defer close(done)
		result, err = jobs.Wait()
	}()

	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	last := -1
	report := func() {
		snap := jobs.Status()
		if snap.Total == 0 || snap.Current == last {
			return
		}
		last = snap.Current
		renderer.UpdateProgress(ui.ProgressEvent{
			Stage:    ui.StageIndexing,
			Current:  snap.Current,
			Total:    snap.Total,
			Document: snap.Document,
		})
	}

	for {
		select {
		case <-done:
			report()
			if result != nil && result.Failed > 0 {
				renderer.AddError(ui.ErrorEvent{Err: fmt.Errorf("%d notes failed to index; see the log for details", result.Failed)})
			}
			return result, err
		case <-ticker.C:
			report()
		case <-ctx.Done():
			// The job watches ctx too; wait for it to stop between notes.
			<-done
			return result, ctx.Err()
		}
	}
}

func completionStats(r *index.Result, a *app) ui.CompletionStats {
	return ui.CompletionStats{
		Notes:    r.Documents,
		Indexed:  r.Indexed,
		Skipped:  r.Skipped,
		Failed:   r.Failed,
		Pruned:   r.Pruned,
		Chunks:   r.Chunks,
		Duration: r.Duration,
		Embedder: ui.EmbedderInfo{
			Provider:   a.cfg.Embeddings.Provider,
			Model:      a.embedder.ModelName(),
			Dimensions: a.embedder.Dimensions(),
		},
	}
}
