package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/sparkle-tasks/sparkle/internal/daemon"
)

var browserCmd = &cobra.Command{
	Use:   "browser",
	Short: "Open the web UI",
	Long:  `Ensure the daemon is running, then open its UI in the default browser.`,
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := ensureDaemon(cmd.Context())
		if err != nil {
			return err
		}
		daemon.OpenBrowser(c.base + "/")
		fmt.Printf("opened %s/\n", c.base)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(browserCmd)
}
