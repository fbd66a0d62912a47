package cli

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/azcoigreach/nagatha-assistant-sub002/internal/httputil"
	"github.com/azcoigreach/nagatha-assistant-sub002/internal/secrets"
)

// apiClient talks to a running instance's HTTP surface.
type apiClient struct {
	base  string
	token string
	http  *http.Client
}

func newAPIClient() (*apiClient, error) {
	cfg, err := currentConfig()
	if err != nil {
		return nil, err
	}
	addr := cfg.HTTP.Addr
	if addrFlag != "" {
		addr = addrFlag
	}
	if addr == "" {
		return nil, fmt.Errorf("no HTTP address configured; set http.addr or pass --addr")
	}

	// NAGATHA_TOKEN env var or the keyring, either works.
	token, err := secrets.Get("token")
	if err != nil {
		token = ""
	}

	return &apiClient{
		base:  "http://" + addr + "/api/v1",
		token: token,
		http:  &http.Client{Timeout: 60 * time.Second},
	}, nil
}

func (c *apiClient) get(path string, out any) error {
	req, err := http.NewRequest(http.MethodGet, c.base+path, nil)
	if err != nil {
		return err
	}
	return c.do(req, out)
}

func (c *apiClient) post(path string, body, out any) error {
	var rd bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&rd).Encode(body); err != nil {
			return err
		}
	}
	req, err := http.NewRequest(http.MethodPost, c.base+path, &rd)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	return c.do(req, out)
}

func (c *apiClient) do(req *http.Request, out any) error {
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("is nagatha running? %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		var envelope httputil.ErrorResponse
		if err := json.NewDecoder(resp.Body).Decode(&envelope); err == nil && envelope.Message != "" {
			return fmt.Errorf("%s", envelope.Message)
		}
		return fmt.Errorf("unexpected status %s", resp.Status)
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}
