// Package tools defines the shared vocabulary of the orchestration core:
// tool descriptors, invocation results, and the typed error taxonomy used
// across the plugin manager, the tool-server manager, and the selector.
package tools

import (
	"encoding/json"
	"fmt"
)

// Origin identifies which side of the core a catalog entry came from.
type Origin string

const (
	OriginPlugin Origin = "plugin"
	OriginRemote Origin = "remote_server"
)

// Descriptor describes one invokable tool. Descriptors are immutable once
// published into a catalog; a refresh replaces whole slices, never entries.
type Descriptor struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	Schema      json.RawMessage `json:"schema,omitempty"`
	Source      string          `json:"source"`
	Origin      Origin          `json:"origin"`
}

// Result is the outcome of a plugin command or a remote tool call.
// IsError marks a domain-level failure the tool itself reported, as opposed
// to an infrastructure error returned alongside.
type Result struct {
	Content string `json:"content"`
	IsError bool   `json:"is_error"`
}

// Text returns a successful text result.
func Text(format string, args ...any) *Result {
	if len(args) == 0 {
		return &Result{Content: format}
	}
	return &Result{Content: fmt.Sprintf(format, args...)}
}

// Fail returns a tool-reported failure result.
func Fail(format string, args ...any) *Result {
	if len(args) == 0 {
		return &Result{Content: format, IsError: true}
	}
	return &Result{Content: fmt.Sprintf(format, args...), IsError: true}
}

// Merge combines plugin-sourced and remote-sourced descriptors into one
// deduplicated catalog. Plugin entries come first in registration order and
// win name collisions; remote entries keep their snapshot order. The result
// is a fresh slice, safe to hand out to concurrent readers.
func Merge(plugin, remote []Descriptor) []Descriptor {
	merged := make([]Descriptor, 0, len(plugin)+len(remote))
	seen := make(map[string]bool, len(plugin)+len(remote))
	for _, d := range plugin {
		if seen[d.Name] {
			continue
		}
		seen[d.Name] = true
		merged = append(merged, d)
	}
	for _, d := range remote {
		if seen[d.Name] {
			continue
		}
		seen[d.Name] = true
		merged = append(merged, d)
	}
	return merged
}

// Names returns the descriptor names in order, mostly for logs and tests.
func Names(catalog []Descriptor) []string {
	names := make([]string, len(catalog))
	for i, d := range catalog {
		names[i] = d.Name
	}
	return names
}
