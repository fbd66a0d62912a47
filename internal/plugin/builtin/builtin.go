// Package builtin holds the plugins that ship with the assistant.
package builtin

import (
	"fmt"

	"github.com/azcoigreach/nagatha-assistant-sub002/internal/plugin"
	"github.com/azcoigreach/nagatha-assistant-sub002/internal/store"
)

// All returns factories for every built-in plugin, in load order.
func All(st *store.Store) []plugin.Factory {
	return []plugin.Factory{
		{Name: "echo", New: func() plugin.Plugin { return &Echo{} }},
		{Name: "time", New: func() plugin.Plugin { return &Clock{} }},
		{Name: "memory", New: func() plugin.Plugin { return &Memory{store: st} }},
		{Name: "notes", New: func() plugin.Plugin { return &Notes{store: st} }},
		{Name: "weather", New: func() plugin.Plugin { return &Weather{} }},
	}
}

// argString pulls a string argument out of a decoded JSON object.
func argString(args map[string]any, key string) string {
	if args == nil {
		return ""
	}
	if v, ok := args[key].(string); ok {
		return v
	}
	return ""
}

// argInt pulls an integer argument; JSON numbers decode as float64.
func argInt(args map[string]any, key string) (int, bool) {
	if args == nil {
		return 0, false
	}
	switch v := args[key].(type) {
	case float64:
		return int(v), true
	case int:
		return v, true
	case int64:
		return int(v), true
	}
	return 0, false
}

// requireString returns an error when a required argument is missing.
func requireString(args map[string]any, key string) (string, error) {
	v := argString(args, key)
	if v == "" {
		return "", fmt.Errorf("missing required argument %q", key)
	}
	return v, nil
}
