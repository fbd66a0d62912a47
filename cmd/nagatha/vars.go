package cli

import (
	"github.com/spf13/cobra"

	"github.com/azcoigreach/nagatha-assistant-sub002/internal/config"
)

// Version is stamped at release time.
const Version = "1.0.0"

// Shared CLI flags (used across multiple command files)
var (
	cfgFile  string
	addrFlag string
	verbose  bool
)

// Cfg holds the loaded configuration (set by main)
var Cfg *config.Config

// SetupRootCmd configures the root command with all subcommands and flags
func SetupRootCmd(c *config.Config) *cobra.Command {
	Cfg = c

	rootCmd := &cobra.Command{
		Use:   "nagatha",
		Short: "Nagatha - personal assistant tool orchestrator",
		Long: `Nagatha runs plugins and remote tool servers behind one catalog.

Just type 'nagatha' to start the orchestrator with its HTTP and
websocket surfaces. The other commands talk to a running instance.`,
		Run: func(cmd *cobra.Command, args []string) {
			RunServe()
		},
	}

	// Global flags
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: platform data directory)")
	rootCmd.PersistentFlags().StringVar(&addrFlag, "addr", "", "address of a running instance (default: from config)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose output")

	// Add commands
	rootCmd.AddCommand(ServeCmd())
	rootCmd.AddCommand(StatusCmd())
	rootCmd.AddCommand(ToolsCmd())
	rootCmd.AddCommand(InvokeCmd())
	rootCmd.AddCommand(TokenCmd())
	rootCmd.AddCommand(VersionCmd())

	return rootCmd
}

// currentConfig applies the --config override lazily so subcommands pick it
// up no matter the flag order.
func currentConfig() (*config.Config, error) {
	if cfgFile == "" {
		return Cfg, nil
	}
	return config.LoadFrom(cfgFile)
}
