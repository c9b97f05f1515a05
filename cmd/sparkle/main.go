package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// version is stamped at build time via -ldflags.
var version = "dev"

var rootCmd = &cobra.Command{
	Use:   "sparkle",
	Short: "Shared tasks on a git branch",
	Long: `Sparkle turns a branch of your repository into a shared task store.

Every change is one small event file; git moves the files between
clones and a local daemon folds them into live task state.

Run 'sparkle setup' once per repository, then use the commands below.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		return cmd.Help()
	},
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		if errors.Is(err, errDaemonUnreachable) {
			os.Exit(2)
		}
		os.Exit(1)
	}
}
