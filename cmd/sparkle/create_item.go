package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

var createItemCmd = &cobra.Command{
	Use:   "create-item \"<tagline>\"",
	Short: "Create a new item",
	Long: `Create an item with the given tagline and print its id.

Examples:
  sparkle create-item "Fix login bug"
  sparkle create-item "Fix login bug" --entry "seen on staging"
  sparkle create-item "Fix login bug" --json
`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		asJSON, _ := cmd.Flags().GetBool("json")
		entry, _ := cmd.Flags().GetString("entry")

		c, err := ensureDaemon(cmd.Context())
		if err != nil {
			return err
		}
		var resp struct {
			ItemID string         `json:"itemId"`
			Item   map[string]any `json:"item"`
		}
		body := map[string]any{"tagline": args[0]}
		if entry != "" {
			body["initialEntry"] = entry
		}
		if err := c.post("/api/createItem", body, &resp); err != nil {
			return err
		}
		if asJSON {
			return printJSON(resp)
		}
		fmt.Println(resp.ItemID)
		return nil
	},
}

func init() {
	createItemCmd.Flags().Bool("json", false, "Output raw JSON")
	createItemCmd.Flags().String("entry", "", "Attach an initial entry")
	rootCmd.AddCommand(createItemCmd)
}
