package cmd

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/Aman-CERP/vaultrag/internal/output"
	"github.com/Aman-CERP/vaultrag/internal/search"
)

// snippetRunes bounds the text shown per hit in text output.
const snippetRunes = 300

func newSearchCmd() *cobra.Command {
	var (
		limit      int
		folder     string
		threshold  float64
		hybrid     bool
		jsonOutput bool
	)

	cmd := &cobra.Command{
		Use:   "search <query>",
		Short: "Search the vault by meaning",
		Long: `Search the vault for notes related to a natural-language query.

The query is sent to the first available backend in the configured
priority list. Flags override the configured defaults for this call.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			query := strings.Join(args, " ")
			if strings.TrimSpace(query) == "" {
				return fmt.Errorf("query cannot be empty")
			}

			a, err := openVault(cmd.Context())
			if err != nil {
				return err
			}
			defer func() { _ = a.Close() }()

			opts := &search.Options{TopK: limit, FolderPrefix: folder}
			if cmd.Flags().Changed("threshold") {
				opts.Threshold = search.Float(threshold)
			}
			if cmd.Flags().Changed("hybrid") {
				opts.Hybrid = search.Bool(hybrid)
			}

			results := a.orch.Search(cmd.Context(), query, opts)
			return printResults(cmd.OutOrStdout(), a, query, results, jsonOutput)
		},
	}

	cmd.Flags().IntVarP(&limit, "limit", "n", 0, "Maximum number of results (default from config)")
	cmd.Flags().StringVar(&folder, "folder", "", "Only return notes under this folder")
	cmd.Flags().Float64Var(&threshold, "threshold", 0, "Minimum similarity score")
	cmd.Flags().BoolVar(&hybrid, "hybrid", false, "Fuse keyword and vector rankings")
	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output results as JSON")

	return cmd
}

// printResults writes results as JSON or as ranked hits. An empty result
// set explains the likely cause instead of printing nothing.
func printResults(out io.Writer, a *app, title string, results []search.Result, jsonOutput bool) error {
	if jsonOutput {
		if results == nil {
			results = []search.Result{}
		}
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(results)
	}

	w := output.New(out)
	if len(results) == 0 {
		switch {
		case !a.cfg.IsEnabled():
			w.Warning("Semantic search is disabled (set enabled: true in .vaultrag.yaml)")
		case a.orch.ActiveBackend() == "":
			w.Warning("No search backend is available; run 'vaultrag stats' to check the embedding provider")
		default:
			w.Statusf("🔍", "No notes found for %q", title)
		}
		return nil
	}

	w.Statusf("🔍", "%d results for %q (backend: %s)", len(results), title, a.orch.ActiveBackend())
	w.Newline()
	for i, r := range results {
		w.Hit(i+1, r.DocumentID, r.Score, hitDetail(r), output.Snippet(r.Content, snippetRunes))
	}
	return nil
}

// hitDetail joins the heading breadcrumb and tags of a result.
func hitDetail(r search.Result) string {
	var parts []string
	if len(r.Breadcrumb) > 0 {
		parts = append(parts, strings.Join(r.Breadcrumb, " > "))
	}
	if len(r.Tags) > 0 {
		parts = append(parts, "#"+strings.Join(r.Tags, " #"))
	}
	return strings.Join(parts, "  ")
}
