package cmd

import (
	"encoding/json"
	"errors"
	"strings"

	"github.com/spf13/cobra"

	"github.com/Aman-CERP/vaultrag/internal/output"
	"github.com/Aman-CERP/vaultrag/internal/validation"
)

func newEvalCmd() *cobra.Command {
	var (
		jsonOutput bool
		topK       int
	)

	cmd := &cobra.Command{
		Use:   "eval <queries.yaml>",
		Short: "Check search quality against a suite of known queries",
		Long: `Run every query in a YAML suite and report whether the expected
notes appear in the top results. Use it to compare embedding models,
chunking settings or thresholds on your own vault.

Each positive query lists the note paths (or folder prefixes ending in
"/") it should find. Negative queries only need to return without error.

Exits with an error when any query fails.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			suite, err := validation.LoadSuite(args[0])
			if err != nil {
				return err
			}
			if cmd.Flags().Changed("top-k") {
				suite.TopK = topK
			}

			a, err := openVault(cmd.Context())
			if err != nil {
				return err
			}
			defer func() { _ = a.Close() }()

			report, err := validation.Run(cmd.Context(), a.orch, suite)
			if err != nil {
				return err
			}

			if jsonOutput {
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				if err := enc.Encode(report); err != nil {
					return err
				}
			} else {
				printReport(output.New(cmd.OutOrStdout()), report)
			}

			if !report.OK() {
				return errors.New("some queries failed")
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output the report as JSON")
	cmd.Flags().IntVarP(&topK, "top-k", "k", validation.DefaultTopK, "How deep each query may match")

	return cmd
}

func printReport(out *output.Writer, r *validation.Report) {
	for _, res := range r.Queries {
		if res.Passed {
			out.Successf("%s: %q found at #%d", res.Spec.ID, res.Spec.Query, res.MatchedAt)
			continue
		}
		out.Errorf("%s: %q missed %s", res.Spec.ID, res.Spec.Query, strings.Join(res.Spec.Expected, ", "))
		if res.Error != "" {
			out.Status("", res.Error)
		} else if len(res.TopResults) > 0 {
			out.Status("", "got: "+strings.Join(res.TopResults, ", "))
		}
	}
	for _, res := range r.Negative {
		if !res.Passed {
			out.Errorf("%s: %q failed: %s", res.Spec.ID, res.Spec.Query, res.Error)
		}
	}

	out.Newline()
	out.Statusf("📊", "Hits: %d/%d (%.0f%%) within top %d, MRR %.2f",
		r.Passed, r.Total, r.HitRate()*100, r.TopK, r.MRR)
	if r.NegTotal > 0 {
		out.Statusf("", "Negative: %d/%d", r.NegPassed, r.NegTotal)
	}
}
