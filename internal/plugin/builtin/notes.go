package builtin

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/azcoigreach/nagatha-assistant-sub002/internal/markdown"
	"github.com/azcoigreach/nagatha-assistant-sub002/internal/plugin"
	"github.com/azcoigreach/nagatha-assistant-sub002/internal/store"
	"github.com/azcoigreach/nagatha-assistant-sub002/internal/tools"
)

// Notes keeps markdown notes in the SQLite store.
type Notes struct {
	store *store.Store
}

func (n *Notes) Name() string    { return "notes" }
func (n *Notes) Version() string { return "1.0.0" }

func (n *Notes) Setup(ctx context.Context, cfg map[string]string) error {
	if n.store == nil {
		return fmt.Errorf("notes plugin needs a store")
	}
	return nil
}

func (n *Notes) Teardown(ctx context.Context) error { return nil }

func (n *Notes) Commands() []plugin.Command {
	return []plugin.Command{
		{
			Name:        "notes_create",
			Description: "Write a new note with a title and a markdown body",
			Schema:      json.RawMessage(`{"type":"object","properties":{"title":{"type":"string"},"body":{"type":"string","description":"Markdown content"}},"required":["title"]}`),
		},
		{
			Name:        "notes_list",
			Description: "List saved notes, newest first",
			Schema:      json.RawMessage(`{"type":"object","properties":{"limit":{"type":"integer","description":"Maximum notes to return"}}}`),
		},
		{
			Name:        "notes_render",
			Description: "Render a note's markdown body as HTML",
			Schema:      json.RawMessage(`{"type":"object","properties":{"id":{"type":"integer"}},"required":["id"]}`),
		},
	}
}

func (n *Notes) Invoke(ctx context.Context, command string, args map[string]any) (*tools.Result, error) {
	switch command {
	case "notes_create":
		title, err := requireString(args, "title")
		if err != nil {
			return nil, err
		}
		id, err := n.store.CreateNote(ctx, title, argString(args, "body"))
		if err != nil {
			return nil, err
		}
		return tools.Text("saved note %d: %s", id, title), nil

	case "notes_list":
		limit, _ := argInt(args, "limit")
		notes, err := n.store.ListNotes(ctx, limit)
		if err != nil {
			return nil, err
		}
		if len(notes) == 0 {
			return tools.Text("no notes yet"), nil
		}
		var b strings.Builder
		for _, note := range notes {
			fmt.Fprintf(&b, "%d. %s (%s)\n", note.ID, note.Title, note.CreatedAt.Format("2006-01-02"))
		}
		return tools.Text("%s", strings.TrimRight(b.String(), "\n")), nil

	case "notes_render":
		id, ok := argInt(args, "id")
		if !ok {
			return nil, fmt.Errorf("missing required argument %q", "id")
		}
		note, err := n.store.GetNote(ctx, int64(id))
		if err != nil {
			return nil, err
		}
		return tools.Text("%s", markdown.Render(note.Body)), nil
	}
	return nil, fmt.Errorf("unhandled command %q", command)
}
