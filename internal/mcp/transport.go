package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	sdk "github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/azcoigreach/nagatha-assistant-sub002/internal/config"
	"github.com/azcoigreach/nagatha-assistant-sub002/internal/tools"
)

const (
	clientName    = "nagatha"
	clientVersion = "1.0.0"

	// dialTimeout bounds session establishment; tool calls carry their own
	// deadlines.
	dialTimeout = 30 * time.Second

	// keepAlive lets the SDK detect dead sessions between our health checks.
	keepAlive = 30 * time.Second
)

// SDKDialer opens MCP sessions over streamable HTTP using the official SDK.
type SDKDialer struct {
	// HTTPClient is used for all requests. Defaults to http.DefaultClient.
	HTTPClient *http.Client
}

// NewSDKDialer returns a dialer with a default HTTP client.
func NewSDKDialer() *SDKDialer {
	return &SDKDialer{HTTPClient: &http.Client{}}
}

// Dial establishes a session with the server and performs the MCP handshake.
func (d *SDKDialer) Dial(ctx context.Context, server config.ServerConfig) (RemoteConn, error) {
	httpClient := d.HTTPClient
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	if len(server.Headers) > 0 {
		httpClient = &http.Client{
			Transport: &headerTransport{base: httpClient.Transport, headers: server.Headers},
			Timeout:   httpClient.Timeout,
		}
	}

	transport := &sdk.StreamableClientTransport{
		Endpoint:   server.URL,
		HTTPClient: httpClient,
	}

	client := sdk.NewClient(&sdk.Implementation{
		Name:    clientName,
		Version: clientVersion,
	}, &sdk.ClientOptions{
		KeepAlive: keepAlive,
	})

	dialCtx, cancel := context.WithTimeout(ctx, dialTimeout)
	defer cancel()

	session, err := client.Connect(dialCtx, transport, nil)
	if err != nil {
		return nil, fmt.Errorf("connect to %s: %w", server.Name, err)
	}
	return &sdkConn{session: session}, nil
}

// headerTransport adds configured headers (auth tokens and the like) to
// every request.
type headerTransport struct {
	base    http.RoundTripper
	headers map[string]string
}

func (t *headerTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	clone := req.Clone(req.Context())
	for k, v := range t.headers {
		clone.Header.Set(k, v)
	}
	base := t.base
	if base == nil {
		base = http.DefaultTransport
	}
	return base.RoundTrip(clone)
}

// sdkConn adapts an SDK client session to RemoteConn.
type sdkConn struct {
	session *sdk.ClientSession
}

func (c *sdkConn) ListTools(ctx context.Context) ([]tools.Descriptor, error) {
	result, err := c.session.ListTools(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("list tools: %w", err)
	}
	descs := make([]tools.Descriptor, 0, len(result.Tools))
	for _, t := range result.Tools {
		var schema json.RawMessage
		if t.InputSchema != nil {
			schema, _ = json.Marshal(t.InputSchema)
		}
		descs = append(descs, tools.Descriptor{
			Name:        t.Name,
			Description: t.Description,
			Schema:      schema,
		})
	}
	return descs, nil
}

func (c *sdkConn) CallTool(ctx context.Context, name string, args map[string]any) (*tools.Result, error) {
	result, err := c.session.CallTool(ctx, &sdk.CallToolParams{
		Name:      name,
		Arguments: args,
	})
	if err != nil {
		return nil, err
	}

	var parts []string
	for _, content := range result.Content {
		if tc, ok := content.(*sdk.TextContent); ok && tc.Text != "" {
			parts = append(parts, tc.Text)
		}
	}
	return &tools.Result{
		Content: strings.Join(parts, "\n"),
		IsError: result.IsError,
	}, nil
}

func (c *sdkConn) Ping(ctx context.Context) error {
	return c.session.Ping(ctx, nil)
}

func (c *sdkConn) Close() error {
	return c.session.Close()
}
