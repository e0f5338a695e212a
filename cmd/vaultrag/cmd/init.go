package cmd

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/Aman-CERP/vaultrag/configs"
	"github.com/Aman-CERP/vaultrag/internal/config"
	"github.com/Aman-CERP/vaultrag/internal/output"
)

// configFileName is the vault config written by init.
const configFileName = ".vaultrag.yaml"

func newInitCmd() *cobra.Command {
	var force bool

	cmd := &cobra.Command{
		Use:   "init",
		Short: "Write a commented .vaultrag.yaml into the vault",
		Long: `Create .vaultrag.yaml in the vault root with the common settings
active and every other setting documented with its default.

An existing file is kept unless --force is given.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			root, err := filepath.Abs(vaultDir)
			if err != nil {
				return fmt.Errorf("failed to resolve vault path: %w", err)
			}
			if info, err := os.Stat(root); err != nil || !info.IsDir() {
				return fmt.Errorf("vault not found: %s", root)
			}

			out := output.New(cmd.OutOrStdout())
			path := filepath.Join(root, configFileName)
			if _, err := os.Stat(path); err == nil && !force {
				out.Warningf("%s already exists; use --force to overwrite", path)
				return nil
			} else if err != nil && !errors.Is(err, fs.ErrNotExist) {
				return err
			}

			if err := os.WriteFile(path, []byte(configs.VaultConfigTemplate), 0o644); err != nil {
				return fmt.Errorf("failed to write config: %w", err)
			}
			// Catch a template that no longer matches the config schema.
			if _, err := config.Load(root); err != nil {
				return fmt.Errorf("written config does not load: %w", err)
			}

			out.Successf("Wrote %s", path)
			out.Status("", "Next: 'vaultrag doctor' to check the setup, then 'vaultrag index'.")
			return nil
		},
	}

	cmd.Flags().BoolVar(&force, "force", false, "Overwrite an existing .vaultrag.yaml")

	return cmd
}
