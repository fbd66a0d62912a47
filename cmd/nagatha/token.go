package cli

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/azcoigreach/nagatha-assistant-sub002/internal/server"
)

// TokenCmd creates the token command
func TokenCmd() *cobra.Command {
	var subject string
	var ttl time.Duration

	cmd := &cobra.Command{
		Use:   "token",
		Short: "Issue an API token",
		Long: `Issue a bearer token signed with the configured auth secret.

Export it as NAGATHA_TOKEN so the other commands can authenticate.`,
		Run: func(cmd *cobra.Command, args []string) {
			cfg, err := currentConfig()
			if err != nil {
				fmt.Fprintf(os.Stderr, "Error: %v\n", err)
				os.Exit(1)
			}
			if cfg.HTTP.AuthSecret == "" {
				fmt.Fprintln(os.Stderr, "Error: no auth secret configured; the API is open")
				os.Exit(1)
			}

			token, err := server.IssueToken(cfg.HTTP.AuthSecret, subject, ttl)
			if err != nil {
				fmt.Fprintf(os.Stderr, "Error: %v\n", err)
				os.Exit(1)
			}
			fmt.Println(token)
		},
	}

	cmd.Flags().StringVar(&subject, "subject", "cli", "token subject claim")
	cmd.Flags().DurationVar(&ttl, "ttl", 24*time.Hour, "token lifetime")
	return cmd
}
