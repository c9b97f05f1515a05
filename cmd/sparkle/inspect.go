package main

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/spf13/cobra"

	"github.com/sparkle-tasks/sparkle/internal/graph"
)

var inspectCmd = &cobra.Command{
	Use:   "inspect <itemId>",
	Short: "Show the dependency graph around an item",
	Long: `Walk the dependency graph in both directions from the given item
and print it as an indented tree: positive depth is what the item
needs (transitively), negative depth is what needs it.

Examples:
  sparkle inspect 00073319
  sparkle inspect 00073319 --json
`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		asJSON, _ := cmd.Flags().GetBool("json")

		c, err := ensureDaemon(cmd.Context())
		if err != nil {
			return err
		}
		var resp struct {
			Nodes []graph.DagNode `json:"nodes"`
		}
		if err := c.get("/api/dag?referenceId="+url.QueryEscape(args[0]), &resp); err != nil {
			return err
		}
		if asJSON {
			return printJSON(resp.Nodes)
		}
		printDag(resp.Nodes)
		return nil
	},
}

func printDag(nodes []graph.DagNode) {
	for _, node := range nodes {
		depth := node.Depth
		if depth < 0 {
			depth = -depth
		}
		indent := strings.Repeat("  ", depth)

		arrow := ""
		switch {
		case node.Depth > 0:
			arrow = "needs "
		case node.Depth < 0:
			arrow = "needed by "
		}

		line := fmt.Sprintf("%s%s%s  %s [%s]",
			indent, styled(mutedStyle, arrow), styled(idStyle, node.Item),
			node.Tagline, statusStyled(node.Status))
		if node.Full == nil {
			line += styled(mutedStyle, "  (seen above)")
		}
		fmt.Println(line)
	}
}

func init() {
	inspectCmd.Flags().Bool("json", false, "Output raw JSON")
	rootCmd.AddCommand(inspectCmd)
}
