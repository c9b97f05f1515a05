package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

var alterCmd = &cobra.Command{
	Use:   "alter <itemId> <field> <value>",
	Short: "Change one aspect of an item",
	Long: `Mutate a single field of an item.

Fields and values:
  tagline         the new tagline text
  status          any allowed status name (e.g. incomplete, completed)
  monitoring      on | off           start or stop monitoring as yourself
  visibility      visible | ignored  show or hide in default listings
  responsibility  mine | nobody      take the item or surrender it

Examples:
  sparkle alter 00073319 status completed
  sparkle alter 00073319 monitoring on
  sparkle alter 00073319 visibility ignored
  sparkle alter 00073319 responsibility mine
`,
	Args: cobra.ExactArgs(3),
	RunE: func(cmd *cobra.Command, args []string) error {
		asJSON, _ := cmd.Flags().GetBool("json")
		itemID, field, value := args[0], args[1], args[2]

		path, body, err := alterRequest(itemID, field, value)
		if err != nil {
			return err
		}

		c, err := ensureDaemon(cmd.Context())
		if err != nil {
			return err
		}
		if err := c.post(path, body, nil); err != nil {
			return err
		}
		if asJSON {
			return printJSON(map[string]any{"ok": true, "itemId": itemID, "field": field, "value": value})
		}
		fmt.Printf("%s %s -> %s\n", itemID, field, value)
		return nil
	},
}

// alterRequest maps a field/value pair onto the daemon endpoint it
// drives.
func alterRequest(itemID, field, value string) (path string, body map[string]any, err error) {
	body = map[string]any{"itemId": itemID}
	switch field {
	case "tagline":
		body["tagline"] = value
		return "/api/alterTagline", body, nil
	case "status":
		body["status"] = value
		return "/api/updateStatus", body, nil
	case "monitoring":
		switch value {
		case "on":
			return "/api/addMonitor", body, nil
		case "off":
			return "/api/removeMonitor", body, nil
		}
		return "", nil, fmt.Errorf("monitoring takes on|off, got %q", value)
	case "visibility":
		switch value {
		case "ignored":
			return "/api/ignoreItem", body, nil
		case "visible":
			return "/api/unignoreItem", body, nil
		}
		return "", nil, fmt.Errorf("visibility takes visible|ignored, got %q", value)
	case "responsibility":
		switch value {
		case "mine":
			return "/api/takeItem", body, nil
		case "nobody":
			return "/api/surrenderItem", body, nil
		}
		return "", nil, fmt.Errorf("responsibility takes mine|nobody, got %q", value)
	}
	return "", nil, fmt.Errorf("unknown field %q (tagline|status|monitoring|visibility|responsibility)", field)
}

func init() {
	alterCmd.Flags().Bool("json", false, "Output raw JSON")
	rootCmd.AddCommand(alterCmd)
}
