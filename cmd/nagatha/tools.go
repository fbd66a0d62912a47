package cli

import (
	"fmt"
	"net/url"
	"os"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/azcoigreach/nagatha-assistant-sub002/internal/tools"
)

// ToolsCmd creates the tools listing command
func ToolsCmd() *cobra.Command {
	var message string
	var budget int

	cmd := &cobra.Command{
		Use:   "tools",
		Short: "List the tool catalog",
		Long: `List every available tool, or pass --message to see the subset
the selector would hand an agent for that message.`,
		Run: func(cmd *cobra.Command, args []string) {
			client, err := newAPIClient()
			if err != nil {
				fmt.Fprintf(os.Stderr, "Error: %v\n", err)
				os.Exit(1)
			}

			path := "/tools"
			if message != "" {
				q := url.Values{}
				q.Set("message", message)
				if budget > 0 {
					q.Set("budget", strconv.Itoa(budget))
				}
				path += "?" + q.Encode()
			}

			var catalog []tools.Descriptor
			if err := client.get(path, &catalog); err != nil {
				fmt.Fprintf(os.Stderr, "Error: %v\n", err)
				os.Exit(1)
			}

			if len(catalog) == 0 {
				fmt.Println("No tools available.")
				return
			}
			for _, d := range catalog {
				origin := string(d.Origin)
				if d.Source != "" {
					origin = d.Source
				}
				fmt.Printf("  %-24s %-10s %s\n", d.Name, origin, d.Description)
			}
		},
	}

	cmd.Flags().StringVarP(&message, "message", "m", "", "select tools relevant to this message")
	cmd.Flags().IntVarP(&budget, "budget", "b", 0, "max tools to select (default: configured budget)")
	return cmd
}
