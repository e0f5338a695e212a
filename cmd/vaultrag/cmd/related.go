package cmd

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/Aman-CERP/vaultrag/internal/corpus"
)

func newRelatedCmd() *cobra.Command {
	var (
		limit      int
		jsonOutput bool
	)

	cmd := &cobra.Command{
		Use:   "related <note>",
		Short: "Find notes related to a note",
		Long: `Find notes whose content is close to the given note.

The note is a vault-relative path such as "Projects/roadmap.md". Chunks
from the note itself are left out of the results.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			rel := args[0]

			a, err := openVault(ctx)
			if err != nil {
				return err
			}
			defer func() { _ = a.Close() }()

			doc, err := a.source.Get(ctx, rel)
			if errors.Is(err, corpus.ErrNotFound) {
				return fmt.Errorf("note not found: %s", rel)
			}
			if err != nil {
				return err
			}
			content, err := doc.Read(ctx)
			if err != nil {
				return fmt.Errorf("failed to read %s: %w", rel, err)
			}

			if limit <= 0 {
				limit = a.orch.Settings().TopK
			}
			results := a.orch.FindRelated(ctx, content, limit+1)
			kept := results[:0]
			for _, r := range results {
				if r.DocumentID != rel {
					kept = append(kept, r)
				}
			}
			if len(kept) > limit {
				kept = kept[:limit]
			}
			return printResults(cmd.OutOrStdout(), a, rel, kept, jsonOutput)
		},
	}

	cmd.Flags().IntVarP(&limit, "limit", "n", 0, "Maximum number of results (default from config)")
	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output results as JSON")

	return cmd
}
