package builtin

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/azcoigreach/nagatha-assistant-sub002/internal/plugin"
	"github.com/azcoigreach/nagatha-assistant-sub002/internal/store"
	"github.com/azcoigreach/nagatha-assistant-sub002/internal/tools"
)

// Memory remembers facts across conversations, backed by the SQLite store.
type Memory struct {
	store *store.Store
}

func (m *Memory) Name() string    { return "memory" }
func (m *Memory) Version() string { return "1.0.0" }

func (m *Memory) Setup(ctx context.Context, cfg map[string]string) error {
	if m.store == nil {
		return fmt.Errorf("memory plugin needs a store")
	}
	return nil
}

func (m *Memory) Teardown(ctx context.Context) error { return nil }

func (m *Memory) Commands() []plugin.Command {
	return []plugin.Command{
		{
			Name:        "memory_get",
			Description: "Recall a remembered value by key, e.g. the user's name or a preference",
			Schema:      json.RawMessage(`{"type":"object","properties":{"key":{"type":"string","description":"What to recall"}},"required":["key"]}`),
		},
		{
			Name:        "memory_set",
			Description: "Remember a value under a key for later recall",
			Schema:      json.RawMessage(`{"type":"object","properties":{"key":{"type":"string"},"value":{"type":"string"}},"required":["key","value"]}`),
		},
		{
			Name:        "memory_forget",
			Description: "Forget a remembered key",
			Schema:      json.RawMessage(`{"type":"object","properties":{"key":{"type":"string"}},"required":["key"]}`),
		},
	}
}

func (m *Memory) Invoke(ctx context.Context, command string, args map[string]any) (*tools.Result, error) {
	switch command {
	case "memory_get":
		key, err := requireString(args, "key")
		if err != nil {
			return nil, err
		}
		value, ok, err := m.store.GetMemory(ctx, key)
		if err != nil {
			return nil, err
		}
		if !ok {
			return tools.Text("nothing stored under %q", key), nil
		}
		return tools.Text("%s", value), nil

	case "memory_set":
		key, err := requireString(args, "key")
		if err != nil {
			return nil, err
		}
		value, err := requireString(args, "value")
		if err != nil {
			return nil, err
		}
		if err := m.store.SetMemory(ctx, key, value); err != nil {
			return nil, err
		}
		return tools.Text("remembered %q", key), nil

	case "memory_forget":
		key, err := requireString(args, "key")
		if err != nil {
			return nil, err
		}
		if err := m.store.DeleteMemory(ctx, key); err != nil {
			return nil, err
		}
		return tools.Text("forgot %q", key), nil
	}
	return nil, fmt.Errorf("unhandled command %q", command)
}
