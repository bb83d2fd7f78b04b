// Package control is the client side of the daemon's loopback control API.
// The polarisctl commands are built on it.
package control

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/polarisvpn/polaris-linux/pkg/daemon/endpoints"
)

// ErrDaemonNotRunning is returned when the control API cannot be reached.
var ErrDaemonNotRunning = errors.New("polarisd is not running")

// APIError carries the error message returned by the control API.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return e.Message
}

// Client talks to the control API over loopback HTTP.
type Client struct {
	baseURL string
	http    *http.Client
}

// New returns a client for the control API at addr, e.g. "127.0.0.1:6572".
func New(addr string) *Client {
	return &Client{
		baseURL: "http://" + addr,
		http:    &http.Client{Timeout: 30 * time.Second},
	}
}

// Ping reports whether the daemon is up.
func (c *Client) Ping(ctx context.Context) error {
	var resp endpoints.StatusResponse
	return c.do(ctx, http.MethodGet, "/", nil, &resp)
}

// Version returns the daemon version.
func (c *Client) Version(ctx context.Context) (string, error) {
	var resp endpoints.StatusResponse
	if err := c.do(ctx, http.MethodGet, "/", nil, &resp); err != nil {
		return "", err
	}
	return resp.Version, nil
}

// Login authenticates. It reports whether a second factor is still needed.
func (c *Client) Login(ctx context.Context, username, password string) (bool, error) {
	var resp endpoints.LoginResponse
	err := c.do(ctx, http.MethodPost, "/session/login",
		endpoints.LoginRequest{Username: username, Password: password}, &resp)
	if err != nil {
		return false, err
	}
	return resp.TwoFactorRequired, nil
}

// SubmitSecondFactor completes a two factor login.
func (c *Client) SubmitSecondFactor(ctx context.Context, code string) error {
	var resp endpoints.LoginResponse
	return c.do(ctx, http.MethodPost, "/session/2fa",
		endpoints.SecondFactorRequest{Code: code}, &resp)
}

// Logout removes the stored session.
func (c *Client) Logout(ctx context.Context) error {
	return c.do(ctx, http.MethodPost, "/session/logout", nil, nil)
}

// Session returns the login state.
func (c *Client) Session(ctx context.Context) (*endpoints.SessionResponse, error) {
	var resp endpoints.SessionResponse
	if err := c.do(ctx, http.MethodGet, "/session", nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Servers returns the server list, optionally filtered by a search query.
func (c *Client) Servers(ctx context.Context, search string) (*endpoints.ServersResponse, error) {
	path := "/servers"
	if search != "" {
		path += "?search=" + search
	}
	var resp endpoints.ServersResponse
	if err := c.do(ctx, http.MethodGet, path, nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// RefreshServers forces a server list refresh.
func (c *Client) RefreshServers(ctx context.Context) error {
	return c.do(ctx, http.MethodPost, "/servers/refresh", nil, nil)
}

// Connect starts a connection to the given target.
func (c *Client) Connect(ctx context.Context, target string) error {
	return c.do(ctx, http.MethodPost, "/connection/connect",
		endpoints.ConnectRequest{Target: target}, nil)
}

// Disconnect tears the tunnel down.
func (c *Client) Disconnect(ctx context.Context) error {
	return c.do(ctx, http.MethodPost, "/connection/disconnect", nil, nil)
}

// Connection returns the connection status.
func (c *Client) Connection(ctx context.Context) (*endpoints.ConnectionResponse, error) {
	var resp endpoints.ConnectionResponse
	if err := c.do(ctx, http.MethodGet, "/connection", nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Settings returns the user settings.
func (c *Client) Settings(ctx context.Context) (*endpoints.SettingsBody, error) {
	var resp endpoints.SettingsBody
	if err := c.do(ctx, http.MethodGet, "/settings", nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// UpdateSettings replaces the user settings.
func (c *Client) UpdateSettings(ctx context.Context, body endpoints.SettingsBody) error {
	return c.do(ctx, http.MethodPut, "/settings", body, nil)
}

func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	var reqBody *bytes.Buffer
	if body != nil {
		reqBody = &bytes.Buffer{}
		if err := json.NewEncoder(reqBody).Encode(body); err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
	} else {
		reqBody = bytes.NewBuffer(nil)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reqBody)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrDaemonNotRunning, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		var apiErr endpoints.ErrorResponse
		if err := json.NewDecoder(resp.Body).Decode(&apiErr); err != nil || apiErr.Error == "" {
			return &APIError{StatusCode: resp.StatusCode, Message: resp.Status}
		}
		return &APIError{StatusCode: resp.StatusCode, Message: apiErr.Error}
	}

	if out != nil && resp.StatusCode != http.StatusNoContent {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("decode response: %w", err)
		}
	}
	return nil
}
