package cmd

import (
	"context"
	"encoding/json"
	"errors"
	"io"

	"github.com/spf13/cobra"

	"github.com/Aman-CERP/vaultrag/internal/embed"
	"github.com/Aman-CERP/vaultrag/internal/lifecycle"
	"github.com/Aman-CERP/vaultrag/internal/output"
	"github.com/Aman-CERP/vaultrag/internal/preflight"
)

func newDoctorCmd() *cobra.Command {
	var (
		verbose    bool
		jsonOutput bool
		fix        bool
	)

	cmd := &cobra.Command{
		Use:   "doctor",
		Short: "Check that the vault can be indexed and searched",
		Long: `Run preflight checks against the vault: directory access, free
disk space, file descriptor limits, the embedding provider and every
configured search backend.

With --fix, a missing Ollama embedding model is pulled first.

Exits with an error when a required check fails.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			a, err := openVault(ctx)
			if err != nil {
				return err
			}
			defer func() { _ = a.Close() }()

			progressOut := cmd.OutOrStdout()
			if jsonOutput {
				progressOut = io.Discard
			}
			ensureOllamaModel(ctx, a, fix, output.New(progressOut))

			target := preflight.Target{
				Vault:    a.root,
				DataDir:  a.dataDir,
				Embedder: preflight.ProbeFunc(a.cfg.Embeddings.Provider+" ("+a.embedder.ModelName()+")", a.embedder.Available),
			}
			for _, b := range a.orch.Backends() {
				target.Backends = append(target.Backends, b)
			}

			checker := preflight.New(
				preflight.WithOutput(cmd.OutOrStdout()),
				preflight.WithVerbose(verbose),
			)
			results := checker.RunAll(ctx, target)

			if jsonOutput {
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				if err := enc.Encode(map[string]any{
					"status": checker.SummaryStatus(results),
					"checks": results,
				}); err != nil {
					return err
				}
			} else {
				checker.PrintResults(results)
			}

			if checker.HasCriticalFailures(results) {
				return errors.New("preflight checks failed")
			}
			return nil
		},
	}

	cmd.Flags().BoolVarP(&verbose, "verbose", "v", false, "Show details for each check")
	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output results as JSON")
	cmd.Flags().BoolVar(&fix, "fix", false, "Pull the embedding model if Ollama does not have it")

	return cmd
}

// ensureOllamaModel checks that Ollama has the configured model and
// pulls it when fix is set. Failures are warnings; an unreachable server
// is reported by the embedder check.
func ensureOllamaModel(ctx context.Context, a *app, fix bool, out *output.Writer) {
	if a.cfg.Embeddings.Provider != string(embed.ProviderOllama) {
		return
	}
	ollama := lifecycle.NewOllama(a.cfg.Embeddings.Endpoint)
	model := a.embedder.ModelName()

	if fix {
		out.Statusf("⬇️ ", "Ensuring %s is available on %s", model, ollama.Host())
	}
	last := ""
	err := ollama.EnsureModel(ctx, model, fix, func(p lifecycle.PullProgress) {
		if p.Status == last {
			return
		}
		last = p.Status
		out.Status("", p.Status)
	})

	var notFound *lifecycle.ModelNotFoundError
	switch {
	case err == nil:
	case errors.As(err, &notFound):
		out.Warning(notFound.Error())
	case fix:
		out.Warningf("could not pull %s: %v", model, err)
	}
}
