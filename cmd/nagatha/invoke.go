package cli

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/azcoigreach/nagatha-assistant-sub002/internal/tools"
)

// InvokeCmd creates the invoke command
func InvokeCmd() *cobra.Command {
	var argsJSON string
	var session string
	var kvArgs []string

	cmd := &cobra.Command{
		Use:   "invoke <command>",
		Short: "Invoke a tool by name",
		Long: `Invoke a plugin command or remote tool through a running instance.

Arguments can be passed as repeated key=value pairs or as a JSON object:

  nagatha invoke echo --arg message=hello
  nagatha invoke memory_set --args '{"key":"name","value":"Ada"}'`,
		Args: cobra.ExactArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			toolArgs, err := buildArgs(argsJSON, kvArgs)
			if err != nil {
				fmt.Fprintf(os.Stderr, "Error: %v\n", err)
				os.Exit(1)
			}

			client, err := newAPIClient()
			if err != nil {
				fmt.Fprintf(os.Stderr, "Error: %v\n", err)
				os.Exit(1)
			}

			body := map[string]any{
				"command": args[0],
				"args":    toolArgs,
			}
			if session != "" {
				body["session_id"] = session
			}

			var res tools.Result
			if err := client.post("/invoke", body, &res); err != nil {
				fmt.Fprintf(os.Stderr, "Error: %v\n", err)
				os.Exit(1)
			}
			if res.IsError {
				fmt.Fprintf(os.Stderr, "Tool error: %s\n", res.Content)
				os.Exit(1)
			}
			fmt.Println(res.Content)
		},
	}

	cmd.Flags().StringVar(&argsJSON, "args", "", "tool arguments as a JSON object")
	cmd.Flags().StringArrayVar(&kvArgs, "arg", nil, "tool argument as key=value (repeatable)")
	cmd.Flags().StringVarP(&session, "session", "s", "", "session to attribute the call to")
	return cmd
}

func buildArgs(argsJSON string, kvArgs []string) (map[string]any, error) {
	out := map[string]any{}
	if argsJSON != "" {
		if err := json.Unmarshal([]byte(argsJSON), &out); err != nil {
			return nil, fmt.Errorf("invalid --args JSON: %w", err)
		}
	}
	for _, kv := range kvArgs {
		key, value, ok := strings.Cut(kv, "=")
		if !ok || key == "" {
			return nil, fmt.Errorf("invalid --arg %q, want key=value", kv)
		}
		out[key] = value
	}
	return out, nil
}
