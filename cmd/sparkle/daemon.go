package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/sparkle-tasks/sparkle/internal/daemon"
	"github.com/sparkle-tasks/sparkle/internal/gitops"
)

var daemonCmd = &cobra.Command{
	Use:   "daemon",
	Short: "Run the sparkle daemon in the foreground",
	Long: `Run the daemon that owns the event store: it serves the HTTP API
and the web UI, schedules commits, and fetches remote changes.

Other sparkle commands launch it automatically; run it directly for a
fixed port or to keep it alive without clients.

Timeout modes:
  default     shut down 60s after the last client disconnects
  api         shut down after 300s, for CLI-only usage
  keep-alive  never shut down on idle

Examples:
  sparkle daemon
  sparkle daemon --port 4517 --timeout-mode keep-alive
`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		port, _ := cmd.Flags().GetInt("port")
		mode, _ := cmd.Flags().GetString("timeout-mode")
		staticDir, _ := cmd.Flags().GetString("static-dir")
		noBrowser, _ := cmd.Flags().GetBool("no-browser")

		timeout := daemon.TimeoutMode(mode)
		switch timeout {
		case daemon.TimeoutDefault, daemon.TimeoutAPI, daemon.TimeoutKeepAlive:
		default:
			return fmt.Errorf("unknown timeout mode %q (default|api|keep-alive)", mode)
		}

		cwd, err := os.Getwd()
		if err != nil {
			return err
		}
		repoRoot, err := gitops.RepoRoot(cmd.Context(), cwd)
		if err != nil {
			return err
		}

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		return daemon.Run(ctx, daemon.Options{
			RepoRoot:    repoRoot,
			Port:        port,
			Timeout:     timeout,
			Version:     version,
			StaticDir:   staticDir,
			OpenBrowser: !noBrowser,
		})
	},
}

func init() {
	daemonCmd.Flags().Int("port", 0, "Fixed port (0 = configured or ephemeral)")
	daemonCmd.Flags().String("timeout-mode", "default", "No-client shutdown mode: default|api|keep-alive")
	daemonCmd.Flags().String("static-dir", "", "Serve the web UI from this directory")
	daemonCmd.Flags().Bool("no-browser", false, "Never open a browser on handoff")
	rootCmd.AddCommand(daemonCmd)
}
