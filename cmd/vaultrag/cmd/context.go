package cmd

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/Aman-CERP/vaultrag/internal/search"
)

func newContextCmd() *cobra.Command {
	var (
		limit  int
		folder string
	)

	cmd := &cobra.Command{
		Use:   "context <query>",
		Short: "Print vault context for a query, ready to paste into a prompt",
		Long: `Search the vault and print the matching chunks as one Markdown
block, each under a "### note > heading" header.

Nothing is printed when no note matches.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			query := strings.Join(args, " ")

			a, err := openVault(cmd.Context())
			if err != nil {
				return err
			}
			defer func() { _ = a.Close() }()

			text := a.orch.GetContextForQuery(cmd.Context(), query, &search.Options{TopK: limit, FolderPrefix: folder})
			if text == "" {
				return nil
			}
			_, err = fmt.Fprintln(cmd.OutOrStdout(), text)
			return err
		},
	}

	cmd.Flags().IntVarP(&limit, "limit", "n", 0, "Maximum number of chunks (default from config)")
	cmd.Flags().StringVar(&folder, "folder", "", "Only use notes under this folder")

	return cmd
}
