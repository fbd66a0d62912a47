package builtin

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/azcoigreach/nagatha-assistant-sub002/internal/plugin"
	"github.com/azcoigreach/nagatha-assistant-sub002/internal/secrets"
	"github.com/azcoigreach/nagatha-assistant-sub002/internal/tools"
)

const defaultWeatherEndpoint = "https://api.openweathermap.org/data/2.5/weather"

// Weather fetches current conditions from an OpenWeatherMap-compatible API.
// Setup fails when no API key is configured, leaving the plugin in ERROR
// while the rest keep running.
type Weather struct {
	apiKey   string
	endpoint string
	client   *http.Client
}

func (w *Weather) Name() string    { return "weather" }
func (w *Weather) Version() string { return "1.0.0" }

func (w *Weather) Setup(ctx context.Context, cfg map[string]string) error {
	key := cfg["api_key"]
	if key == "" {
		resolved, err := secrets.Get("weather_api_key")
		if err != nil {
			return tools.E(tools.CodeConfiguration, "weather.setup",
				"no api_key configured and none in the secret store: %v", err)
		}
		key = resolved
	}
	w.apiKey = key
	w.endpoint = cfg["endpoint"]
	if w.endpoint == "" {
		w.endpoint = defaultWeatherEndpoint
	}
	w.client = &http.Client{Timeout: 10 * time.Second}
	return nil
}

func (w *Weather) Teardown(ctx context.Context) error {
	if w.client != nil {
		w.client.CloseIdleConnections()
	}
	return nil
}

func (w *Weather) SettingsManifest() []plugin.SettingsField {
	return []plugin.SettingsField{
		{
			Key:      "api_key",
			Title:    "API key",
			Type:     plugin.FieldPassword,
			Required: true,
			Secret:   true,
		},
		{
			Key:         "endpoint",
			Title:       "API endpoint",
			Description: "OpenWeatherMap-compatible endpoint",
			Type:        plugin.FieldURL,
			Default:     defaultWeatherEndpoint,
		},
	}
}

func (w *Weather) Commands() []plugin.Command {
	return []plugin.Command{
		{
			Name:        "weather_get",
			Description: "Current weather conditions and temperature for a location",
			Schema:      json.RawMessage(`{"type":"object","properties":{"location":{"type":"string","description":"City name, e.g. Utrecht"}},"required":["location"]}`),
		},
	}
}

func (w *Weather) Invoke(ctx context.Context, command string, args map[string]any) (*tools.Result, error) {
	switch command {
	case "weather_get":
		location, err := requireString(args, "location")
		if err != nil {
			return nil, err
		}
		return w.current(ctx, location)
	}
	return nil, fmt.Errorf("unhandled command %q", command)
}

func (w *Weather) current(ctx context.Context, location string) (*tools.Result, error) {
	query := url.Values{}
	query.Set("q", location)
	query.Set("appid", w.apiKey)
	query.Set("units", "metric")

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, w.endpoint+"?"+query.Encode(), nil)
	if err != nil {
		return nil, err
	}
	resp, err := w.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("weather request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return tools.Fail("no weather data for %q", location), nil
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("weather service returned %s", resp.Status)
	}

	var payload struct {
		Name    string `json:"name"`
		Weather []struct {
			Description string `json:"description"`
		} `json:"weather"`
		Main struct {
			Temp     float64 `json:"temp"`
			Humidity int     `json:"humidity"`
		} `json:"main"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return nil, fmt.Errorf("decode weather response: %w", err)
	}

	description := "unknown conditions"
	if len(payload.Weather) > 0 {
		description = payload.Weather[0].Description
	}
	name := payload.Name
	if name == "" {
		name = location
	}
	return tools.Text("%s: %s, %.1f°C, humidity %d%%",
		name, description, payload.Main.Temp, payload.Main.Humidity), nil
}
