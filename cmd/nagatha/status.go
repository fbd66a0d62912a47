package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/azcoigreach/nagatha-assistant-sub002/internal/assistant"
)

// StatusCmd creates the status command
func StatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show plugin, server, and session status",
		Run: func(cmd *cobra.Command, args []string) {
			client, err := newAPIClient()
			if err != nil {
				fmt.Fprintf(os.Stderr, "Error: %v\n", err)
				os.Exit(1)
			}

			var st assistant.Status
			if err := client.get("/status", &st); err != nil {
				fmt.Fprintf(os.Stderr, "Error: %v\n", err)
				os.Exit(1)
			}
			printStatus(st)
		},
	}
}

func printStatus(st assistant.Status) {
	fmt.Printf("Tools in catalog: %d\n", st.Tools)
	fmt.Printf("Events delivered: %d\n", st.Events)

	fmt.Println("\nPlugins:")
	if len(st.Plugins) == 0 {
		fmt.Println("  (none)")
	}
	for _, p := range st.Plugins {
		line := fmt.Sprintf("  %-12s %-8s %d commands", p.Name, p.State, len(p.Commands))
		if p.LastErr != "" {
			line += "  (" + p.LastErr + ")"
		}
		fmt.Println(line)
	}

	fmt.Println("\nServers:")
	if len(st.Servers) == 0 {
		fmt.Println("  (none)")
	}
	for _, s := range st.Servers {
		state := "available"
		if !s.Available {
			state = fmt.Sprintf("unavailable (%d failures)", s.Failures)
		}
		fmt.Printf("  %-12s %-32s %s, %d tools, %d connections\n",
			s.Name, s.URL, state, s.Tools, len(s.Connections))
	}

	fmt.Println("\nSessions:")
	if len(st.Sessions) == 0 {
		fmt.Println("  (none)")
	}
	for _, s := range st.Sessions {
		fmt.Printf("  %-20s user=%-10s interfaces=%v last=%s\n",
			s.ID, s.UserID, s.Interfaces, s.LastActivity.Format("15:04:05"))
	}
}
