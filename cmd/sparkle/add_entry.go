package main

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"
)

var addEntryCmd = &cobra.Command{
	Use:   "add-entry <itemId>",
	Short: "Append an entry from stdin",
	Long: `Read entry text from standard input and append it to the item.

Examples:
  echo "deployed the fix" | sparkle add-entry 00073319
  sparkle add-entry 00073319 < notes.md
`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		asJSON, _ := cmd.Flags().GetBool("json")

		data, err := io.ReadAll(os.Stdin)
		if err != nil {
			return fmt.Errorf("reading stdin: %w", err)
		}
		text := strings.TrimSpace(string(data))
		if text == "" {
			return fmt.Errorf("entry text on stdin is empty")
		}

		c, err := ensureDaemon(cmd.Context())
		if err != nil {
			return err
		}
		if err := c.post("/api/addEntry", map[string]any{"itemId": args[0], "text": text}, nil); err != nil {
			return err
		}
		if asJSON {
			return printJSON(map[string]any{"ok": true, "itemId": args[0]})
		}
		fmt.Println("entry added")
		return nil
	},
}

func init() {
	addEntryCmd.Flags().Bool("json", false, "Output raw JSON")
	rootCmd.AddCommand(addEntryCmd)
}
