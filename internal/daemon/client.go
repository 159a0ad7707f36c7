package daemon

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"strings"

	"github.com/atmosphere-mesh/corenode/internal/dispatch"
	"github.com/atmosphere-mesh/corenode/internal/router"
)

// Client connects to a running daemon via its Unix socket.
type Client struct {
	httpClient *http.Client
	socketPath string
	authToken  string
}

// NewClient creates a new daemon client. It reads the auth cookie
// automatically from the cookie file next to the socket.
func NewClient(socketPath, cookiePath string) (*Client, error) {
	if _, err := os.Stat(socketPath); os.IsNotExist(err) {
		return nil, fmt.Errorf("%w: %s", ErrDaemonNotRunning, socketPath)
	}

	token, err := os.ReadFile(cookiePath)
	if err != nil {
		return nil, fmt.Errorf("failed to read daemon cookie: %w", err)
	}

	return &Client{
		socketPath: socketPath,
		authToken:  strings.TrimSpace(string(token)),
		httpClient: &http.Client{
			Transport: &http.Transport{
				DialContext: func(ctx context.Context, _, _ string) (net.Conn, error) {
					var d net.Dialer
					return d.DialContext(ctx, "unix", socketPath)
				},
			},
		},
	}, nil
}

func (c *Client) do(method, path string, body io.Reader) ([]byte, int, error) {
	req, err := http.NewRequest(method, "http://daemon"+path, body)
	if err != nil {
		return nil, 0, err
	}
	req.Header.Set("Authorization", "Bearer "+c.authToken)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to connect to daemon: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, resp.StatusCode, err
	}
	return data, resp.StatusCode, nil
}

func (c *Client) doJSON(method, path string, body io.Reader, target any) error {
	data, status, err := c.do(method, path, body)
	if err != nil {
		return err
	}

	if status >= 400 {
		var errResp ErrorResponse
		if json.Unmarshal(data, &errResp) == nil && errResp.Error != "" {
			return fmt.Errorf("daemon: %s", errResp.Error)
		}
		return fmt.Errorf("daemon returned HTTP %d", status)
	}

	if target == nil {
		return nil
	}
	var raw struct {
		Data json.RawMessage `json:"data"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return json.Unmarshal(raw.Data, target)
}

func jsonBody(v any) (io.Reader, error) {
	if v == nil {
		return nil, nil
	}
	data, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return strings.NewReader(string(data)), nil
}

// Status returns the daemon's status.
func (c *Client) Status() (*StatusResponse, error) {
	var resp StatusResponse
	if err := c.doJSON("GET", "/v1/status", nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Peers returns the list of peers the node currently considers active.
func (c *Client) Peers() ([]PeerInfo, error) {
	var resp []PeerInfo
	if err := c.doJSON("GET", "/v1/peers", nil, &resp); err != nil {
		return nil, err
	}
	return resp, nil
}

// Capabilities returns every capability known to the node's gradient
// table.
func (c *Client) Capabilities() ([]CapabilityInfo, error) {
	var resp []CapabilityInfo
	if err := c.doJSON("GET", "/v1/capabilities", nil, &resp); err != nil {
		return nil, err
	}
	return resp, nil
}

// Route asks the daemon to score query against constraints without
// dispatching a request.
func (c *Client) Route(query string, constraints router.Constraints) (*router.Decision, error) {
	req := RouteRequest{
		Query:        query,
		MaxLatencyMs: constraints.MaxLatencyMs,
		PreferLocal:  constraints.PreferLocal,
		Features:     constraints.RequiredFeatures,
	}
	body, err := jsonBody(req)
	if err != nil {
		return nil, err
	}
	var resp router.Decision
	if err := c.doJSON("POST", "/v1/route", body, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Dispatch routes and dispatches a chat/inference request.
func (c *Client) Dispatch(query string, constraints router.Constraints, prompt string, messages []dispatch.Message, timeoutSeconds int64) (*DispatchResponse, error) {
	return c.dispatch("/v1/dispatch", query, constraints, prompt, messages, timeoutSeconds)
}

// DispatchTool routes and dispatches a tool-call request.
func (c *Client) DispatchTool(query string, constraints router.Constraints, prompt string, messages []dispatch.Message, timeoutSeconds int64) (*DispatchResponse, error) {
	return c.dispatch("/v1/dispatch/tool", query, constraints, prompt, messages, timeoutSeconds)
}

func (c *Client) dispatch(path, query string, constraints router.Constraints, prompt string, messages []dispatch.Message, timeoutSeconds int64) (*DispatchResponse, error) {
	req := DispatchRequest{
		Query:          query,
		MaxLatencyMs:   constraints.MaxLatencyMs,
		PreferLocal:    constraints.PreferLocal,
		Features:       constraints.RequiredFeatures,
		Prompt:         prompt,
		Messages:       messages,
		TimeoutSeconds: timeoutSeconds,
	}
	body, err := jsonBody(req)
	if err != nil {
		return nil, err
	}
	var resp DispatchResponse
	if err := c.doJSON("POST", path, body, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Invite asks the daemon to mint a portable invite token.
func (c *Client) Invite(wideAreaURL string, ttlSeconds int64) (string, error) {
	body, err := jsonBody(InviteRequest{WideAreaURL: wideAreaURL, TTLSeconds: ttlSeconds})
	if err != nil {
		return "", err
	}
	var resp InviteResponse
	if err := c.doJSON("POST", "/v1/invite", body, &resp); err != nil {
		return "", err
	}
	return resp.Token, nil
}

// Join asks the daemon to adopt a new mesh from an invite token.
func (c *Client) Join(token string) error {
	body, err := jsonBody(JoinRequest{Token: token})
	if err != nil {
		return err
	}
	return c.doJSON("POST", "/v1/join", body, nil)
}

// Shutdown requests the daemon to shut down gracefully.
func (c *Client) Shutdown() error {
	return c.doJSON("POST", "/v1/shutdown", nil, nil)
}
