package cmd

import (
	"context"
	"io/fs"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"github.com/Aman-CERP/vaultrag/internal/async"
	"github.com/Aman-CERP/vaultrag/internal/telemetry"
	"github.com/Aman-CERP/vaultrag/internal/ui"
)

// queryWindowDays is how far back stats looks at recorded queries.
const queryWindowDays = 30

func newStatsCmd() *cobra.Command {
	var jsonOutput bool

	cmd := &cobra.Command{
		Use:   "stats",
		Short: "Show index statistics and embedding provider status",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := openVault(cmd.Context())
			if err != nil {
				return err
			}
			defer func() { _ = a.Close() }()

			info, err := collectStatus(cmd.Context(), a)
			if err != nil {
				return err
			}

			r := ui.NewStatusRenderer(cmd.OutOrStdout(), !ui.IsTTY(cmd.OutOrStdout()) || ui.DetectNoColor())
			if jsonOutput {
				return r.RenderJSON(info)
			}
			return r.Render(info)
		},
	}

	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output statistics as JSON")

	return cmd
}

// collectStatus gathers index statistics from the local backend.
func collectStatus(ctx context.Context, a *app) (ui.StatusInfo, error) {
	stats, err := a.orch.Stats(ctx)
	if err != nil {
		return ui.StatusInfo{}, err
	}

	info := ui.StatusInfo{
		Vault:          a.root,
		Enabled:        a.cfg.IsEnabled(),
		Backends:       a.cfg.Backends,
		Notes:          stats.Documents,
		Chunks:         stats.Chunks,
		Dimensions:     stats.Dimensions,
		Store:          stats.Backend,
		LastUpdated:    stats.LastUpdated,
		DataSize:       dirSize(a.dataDir),
		Provider:       a.cfg.Embeddings.Provider,
		Model:          a.embedder.ModelName(),
		ProviderStatus: "offline",
		Interrupted:    async.HasIncompleteRun(a.dataDir),
	}
	if a.embedder.Available(ctx) {
		info.ProviderStatus = "ready"
	}
	if model, _, err := a.indexer.IndexedModel(ctx); err == nil {
		info.IndexedModel = model
	}
	if a.queries != nil {
		info.Queries = collectQueries(ctx, a)
	}
	return info, nil
}

// collectQueries reads the last queryWindowDays of query statistics.
func collectQueries(ctx context.Context, a *app) *ui.QueryStats {
	from := time.Now().AddDate(0, 0, -queryWindowDays).Format(time.DateOnly)
	sum, err := a.queries.Summary(ctx, from, 5, 5)
	if err != nil {
		a.logger.Warn("telemetry_summary_failed", slog.String("error", err.Error()))
		return nil
	}
	return queryStats(sum)
}

func queryStats(sum *telemetry.Summary) *ui.QueryStats {
	q := &ui.QueryStats{
		Days:        queryWindowDays,
		Total:       sum.Total,
		ZeroResults: sum.ZeroResults,
		Since:       sum.Since,
	}
	for _, t := range sum.TopTerms {
		q.TopTerms = append(q.TopTerms, t.Term)
	}
	for _, m := range sum.Misses {
		q.Misses = append(q.Misses, m.Query)
	}
	return q
}

// dirSize sums the sizes of the regular files under dir. Unreadable
// entries are skipped.
func dirSize(dir string) int64 {
	var total int64
	_ = filepath.WalkDir(dir, func(_ string, d fs.DirEntry, err error) error {
		if err != nil || d.IsDir() {
			return nil
		}
		if info, err := d.Info(); err == nil {
			total += info.Size()
		}
		return nil
	})
	return total
}
