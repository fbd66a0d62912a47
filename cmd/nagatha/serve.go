package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/azcoigreach/nagatha-assistant-sub002/internal/assistant"
	"github.com/azcoigreach/nagatha-assistant-sub002/internal/logging"
	"github.com/azcoigreach/nagatha-assistant-sub002/internal/server"
)

const shutdownGrace = 15 * time.Second

// ServeCmd creates the serve command
func ServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the orchestrator",
		Long:  `Start the plugin manager, tool-server pools, session reaper, and the HTTP/websocket surface.`,
		Run: func(cmd *cobra.Command, args []string) {
			RunServe()
		},
	}
}

// RunServe runs the orchestrator until SIGINT/SIGTERM.
func RunServe() {
	if verbose {
		logging.SetDebug(true)
	}

	cfg, err := currentConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Handle Ctrl+C
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		fmt.Printf("\nReceived signal: %v - shutting down...\n", sig)
		cancel()
	}()

	a, err := assistant.New(cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	if err := a.Start(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: failed to start: %v\n", err)
		os.Exit(1)
	}

	var srv *server.Server
	if cfg.HTTP.Addr != "" {
		srv = server.New(a, cfg.HTTP)
		srv.Start()
	}

	printStartupBanner(cfg.HTTP.Addr, cfg.DataDir, len(a.Catalog()))

	<-ctx.Done()

	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), shutdownGrace)
	defer cancelShutdown()
	if srv != nil {
		srv.Shutdown(shutdownCtx)
	}
	a.Shutdown(shutdownCtx)
	fmt.Println("Nagatha stopped.")
}

func printStartupBanner(addr, dataDir string, toolCount int) {
	fmt.Println()
	fmt.Println("  Nagatha is running")
	fmt.Println()
	if addr != "" {
		fmt.Printf("  API:       http://%s/api/v1\n", addr)
		fmt.Printf("  Websocket: ws://%s/ws\n", addr)
	}
	fmt.Printf("  Tools:     %d available\n", toolCount)
	fmt.Printf("  Data:      %s\n", dataDir)
	fmt.Println()
	fmt.Println("  Press Ctrl+C to stop")
	fmt.Println()
}
