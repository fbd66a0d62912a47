package builtin

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/azcoigreach/nagatha-assistant-sub002/internal/plugin"
	"github.com/azcoigreach/nagatha-assistant-sub002/internal/tools"
)

// Clock answers date and time questions.
type Clock struct{}

func (c *Clock) Name() string    { return "time" }
func (c *Clock) Version() string { return "1.0.0" }

func (c *Clock) Setup(ctx context.Context, cfg map[string]string) error { return nil }
func (c *Clock) Teardown(ctx context.Context) error                    { return nil }

func (c *Clock) Commands() []plugin.Command {
	return []plugin.Command{
		{
			Name:        "time_now",
			Description: "Current time, optionally in a specific IANA timezone",
			Schema:      json.RawMessage(`{"type":"object","properties":{"timezone":{"type":"string","description":"IANA timezone, e.g. Europe/Amsterdam"}}}`),
		},
		{
			Name:        "time_today",
			Description: "Today's date",
			Schema:      json.RawMessage(`{"type":"object","properties":{}}`),
		},
	}
}

func (c *Clock) Invoke(ctx context.Context, command string, args map[string]any) (*tools.Result, error) {
	switch command {
	case "time_now":
		now := time.Now()
		if tz := argString(args, "timezone"); tz != "" {
			loc, err := time.LoadLocation(tz)
			if err != nil {
				return nil, fmt.Errorf("unknown timezone %q", tz)
			}
			now = now.In(loc)
		}
		return tools.Text("%s", now.Format(time.RFC1123)), nil
	case "time_today":
		return tools.Text("%s", time.Now().Format("Monday, 2 January 2006")), nil
	}
	return nil, fmt.Errorf("unhandled command %q", command)
}
