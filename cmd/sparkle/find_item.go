package main

import (
	"fmt"
	"net/url"

	"github.com/spf13/cobra"

	"github.com/sparkle-tasks/sparkle/internal/types"
)

var findItemCmd = &cobra.Command{
	Use:   "find-item <substring>",
	Short: "List items matching a substring",
	Long: `Search item ids and taglines case-insensitively.

Examples:
  sparkle find-item login
  sparkle find-item login --json
`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		asJSON, _ := cmd.Flags().GetBool("json")

		c, err := ensureDaemon(cmd.Context())
		if err != nil {
			return err
		}
		var resp struct {
			Items []types.Aggregate `json:"items"`
		}
		if err := c.get("/api/allItems?search="+url.QueryEscape(args[0]), &resp); err != nil {
			return err
		}
		if asJSON {
			return printJSON(resp.Items)
		}
		if len(resp.Items) == 0 {
			fmt.Println("no matching items")
			return nil
		}
		for _, item := range resp.Items {
			ignored := ""
			if item.Ignored {
				ignored = styled(mutedStyle, "  (ignored)")
			}
			fmt.Printf("%s  [%s]  %s%s\n",
				styled(idStyle, item.ItemID), statusStyled(item.Status), item.Tagline, ignored)
		}
		return nil
	},
}

func init() {
	findItemCmd.Flags().Bool("json", false, "Output raw JSON")
	rootCmd.AddCommand(findItemCmd)
}
