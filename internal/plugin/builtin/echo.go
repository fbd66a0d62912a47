package builtin

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/azcoigreach/nagatha-assistant-sub002/internal/plugin"
	"github.com/azcoigreach/nagatha-assistant-sub002/internal/tools"
)

// Echo repeats its input back. Mostly useful for wiring checks.
type Echo struct{}

func (e *Echo) Name() string    { return "echo" }
func (e *Echo) Version() string { return "1.0.0" }

func (e *Echo) Setup(ctx context.Context, cfg map[string]string) error { return nil }
func (e *Echo) Teardown(ctx context.Context) error                    { return nil }

func (e *Echo) Commands() []plugin.Command {
	return []plugin.Command{
		{
			Name:        "echo",
			Description: "Echo a message back, unchanged",
			Schema:      json.RawMessage(`{"type":"object","properties":{"message":{"type":"string","description":"Text to echo back"}},"required":["message"]}`),
		},
	}
}

func (e *Echo) Invoke(ctx context.Context, command string, args map[string]any) (*tools.Result, error) {
	switch command {
	case "echo":
		message, err := requireString(args, "message")
		if err != nil {
			return nil, err
		}
		return tools.Text("%s", message), nil
	}
	return nil, fmt.Errorf("unhandled command %q", command)
}
