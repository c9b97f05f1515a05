package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/sparkle-tasks/sparkle/internal/types"
)

// itemDetails mirrors the /api/getItemDetails response.
type itemDetails struct {
	types.Aggregate
	Viewer  types.Person `json:"viewer"`
	Pending bool         `json:"pending"`
}

var catCmd = &cobra.Command{
	Use:   "cat <itemId>",
	Short: "Pretty-print one item",
	Long: `Print the current state of one item: tagline, status, links,
monitors, taker, and all entries.

Examples:
  sparkle cat 00073319
  sparkle cat 00073319 --json
`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		asJSON, _ := cmd.Flags().GetBool("json")

		c, err := ensureDaemon(cmd.Context())
		if err != nil {
			return err
		}
		var details itemDetails
		if err := c.post("/api/getItemDetails", map[string]any{"itemId": args[0]}, &details); err != nil {
			return err
		}
		if asJSON {
			return printJSON(details)
		}
		printItem(&details)
		return nil
	},
}

func printItem(d *itemDetails) {
	fmt.Printf("%s  %s\n", styled(idStyle, d.ItemID), styled(taglineStyle, d.Tagline))
	fmt.Printf("%s %s", styled(labelStyle, "status:"), statusStyled(d.Status))
	if d.Ignored {
		fmt.Printf("  %s", styled(mutedStyle, "(ignored)"))
	}
	if d.Pending {
		fmt.Printf("  %s", styled(openStyle, "(ready to work)"))
	}
	fmt.Println()

	if d.TakenBy != nil {
		marker := ""
		if d.TakenBy.Name == d.Viewer.Name && d.TakenBy.Email == d.Viewer.Email {
			marker = " (you)"
		}
		fmt.Printf("%s %s%s\n", styled(labelStyle, "taken by:"), d.TakenBy.Name, marker)
	}
	if len(d.Monitors) > 0 {
		names := make([]string, len(d.Monitors))
		for i, m := range d.Monitors {
			names[i] = m.Name
		}
		fmt.Printf("%s %s\n", styled(labelStyle, "monitors:"), strings.Join(names, ", "))
	}
	if len(d.Dependencies) > 0 {
		fmt.Printf("%s %s\n", styled(labelStyle, "needs:"), strings.Join(d.Dependencies, ", "))
	}
	if len(d.Dependents) > 0 {
		fmt.Printf("%s %s\n", styled(labelStyle, "needed by:"), strings.Join(d.Dependents, ", "))
	}

	if len(d.Entries) > 0 {
		fmt.Println()
		for _, entry := range d.Entries {
			fmt.Printf("%s\n", styled(mutedStyle, fmt.Sprintf("— %s (%s)", entry.Person.Name, entry.Person.Timestamp)))
			fmt.Print(renderMarkdown(entry.Text))
			fmt.Println()
		}
	}
}

func init() {
	catCmd.Flags().Bool("json", false, "Output raw JSON")
	rootCmd.AddCommand(catCmd)
}
