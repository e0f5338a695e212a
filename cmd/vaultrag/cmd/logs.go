package cmd

import (
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"regexp"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/Aman-CERP/vaultrag/internal/logging"
	"github.com/Aman-CERP/vaultrag/internal/ui"
)

func newLogsCmd() *cobra.Command {
	var (
		follow  bool
		lines   int
		level   string
		filter  string
		noColor bool
		logFile string
	)

	cmd := &cobra.Command{
		Use:   "logs",
		Short: "Show vaultrag logs",
		Long: `Show the last lines of the vaultrag log, or follow it as new entries
are written (like 'tail -f').

Examples:
  vaultrag logs                    # last 50 lines
  vaultrag logs -f                 # follow
  vaultrag logs --level warn       # warnings and errors only
  vaultrag logs --filter embed     # lines matching a regex`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if logFile == "" {
				logFile = filepath.Join(logging.DefaultLogDir(), "vaultrag.log")
			}
			var pattern *regexp.Regexp
			if filter != "" {
				var err error
				if pattern, err = regexp.Compile(filter); err != nil {
					return fmt.Errorf("invalid filter pattern: %w", err)
				}
			}

			out := cmd.OutOrStdout()
			viewer := logging.NewViewer(logging.ViewerConfig{
				Level:   level,
				Pattern: pattern,
				NoColor: noColor || !ui.IsTTY(out) || ui.DetectNoColor(),
			}, out)
			_, _ = fmt.Fprintf(cmd.ErrOrStderr(), "Log file: %s\n---\n", logFile)

			if !follow {
				entries, err := viewer.Tail(logFile, lines)
				if err != nil {
					return err
				}
				viewer.Print(entries)
				return nil
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			entries := make(chan logging.LogEntry, 100)
			errCh := make(chan error, 1)
			go func() { errCh <- viewer.Follow(ctx, logFile, entries) }()
			for {
				select {
				case e := <-entries:
					_, _ = fmt.Fprintln(out, viewer.FormatEntry(e))
				case err := <-errCh:
					return err
				}
			}
		},
	}

	cmd.Flags().BoolVarP(&follow, "follow", "f", false, "Follow log output")
	cmd.Flags().IntVarP(&lines, "lines", "n", 50, "Number of lines to show")
	cmd.Flags().StringVar(&level, "level", "", "Minimum level: debug, info, warn or error")
	cmd.Flags().StringVar(&filter, "filter", "", "Only show lines matching this regex")
	cmd.Flags().BoolVar(&noColor, "no-color", false, "Disable colored output")
	cmd.Flags().StringVar(&logFile, "file", "", "Log file (default ~/.vaultrag/logs/vaultrag.log)")

	return cmd
}
