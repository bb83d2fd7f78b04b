// Package api implements the client for the VPN REST API: authentication,
// server list and loads, client configuration, certificates and feature
// flags.
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/polarisvpn/polaris-linux/pkg/serverlist"
)

const (
	userAgent = "polaris-linux"

	// maxRetries bounds retries of idempotent requests on transient
	// failures before the error is surfaced to the caller.
	maxRetries = 3
)

// Client talks to the VPN REST API. It is safe for concurrent use.
type Client struct {
	baseURL string
	http    *http.Client

	mu          sync.RWMutex
	uid         string
	accessToken string
}

// New returns a client for the API at baseURL.
func New(baseURL string, timeout time.Duration) *Client {
	return &Client{
		baseURL: baseURL,
		http:    &http.Client{Timeout: timeout},
	}
}

// SetAuth installs the session identifiers sent with authenticated requests.
func (c *Client) SetAuth(uid, accessToken string) {
	c.mu.Lock()
	c.uid = uid
	c.accessToken = accessToken
	c.mu.Unlock()
}

// ClearAuth drops the session identifiers.
func (c *Client) ClearAuth() {
	c.SetAuth("", "")
}

// Login submits the username and password. On a wrong password the returned
// error is ErrWrongCredentials. When the account has two-factor
// authentication enabled the result has TwoFactorRequired set and the
// session is only partially authenticated until SubmitSecondFactor succeeds.
func (c *Client) Login(ctx context.Context, username, password string) (*AuthResult, error) {
	body := map[string]string{"username": username, "password": password}

	var result AuthResult
	if err := c.do(ctx, http.MethodPost, "/auth", body, &result); err != nil {
		return nil, err
	}

	c.SetAuth(result.UID, result.AccessToken)
	return &result, nil
}

// SubmitSecondFactor submits a one-time code for the partially authenticated
// session. An incorrect code yields ErrInvalidSecondFactor.
func (c *Client) SubmitSecondFactor(ctx context.Context, code string) (*AuthResult, error) {
	body := map[string]string{"code": code}

	var result AuthResult
	if err := c.do(ctx, http.MethodPost, "/auth/2fa", body, &result); err != nil {
		return nil, err
	}

	c.SetAuth(result.UID, result.AccessToken)
	return &result, nil
}

// RefreshSession exchanges the refresh token for a fresh token pair. A
// revoked or expired refresh token yields ErrSessionExpired.
func (c *Client) RefreshSession(ctx context.Context, refreshToken string) (*AuthResult, error) {
	body := map[string]string{"refresh_token": refreshToken}

	var result AuthResult
	if err := c.do(ctx, http.MethodPost, "/auth/refresh", body, &result); err != nil {
		return nil, err
	}

	c.SetAuth(result.UID, result.AccessToken)
	return &result, nil
}

// Logout invalidates the session server side and drops the local auth state.
// The local state is dropped even if the API call fails.
func (c *Client) Logout(ctx context.Context) error {
	err := c.do(ctx, http.MethodDelete, "/auth", nil, nil)
	c.ClearAuth()
	return err
}

// GetLogicals fetches the full logical server list.
func (c *Client) GetLogicals(ctx context.Context) ([]serverlist.LogicalServer, error) {
	var resp logicalsResponse
	if err := c.doWithRetry(ctx, http.MethodGet, "/vpn/logicals", nil, &resp); err != nil {
		return nil, err
	}

	servers := make([]serverlist.LogicalServer, 0, len(resp.LogicalServers))
	for _, p := range resp.LogicalServers {
		servers = append(servers, serverlist.LogicalServer(p))
	}
	return servers, nil
}

// GetLoads fetches the current server loads.
func (c *Client) GetLoads(ctx context.Context) ([]serverlist.ServerLoad, error) {
	var resp loadsResponse
	if err := c.doWithRetry(ctx, http.MethodGet, "/vpn/loads", nil, &resp); err != nil {
		return nil, err
	}

	loads := make([]serverlist.ServerLoad, 0, len(resp.Loads))
	for _, p := range resp.Loads {
		loads = append(loads, serverlist.ServerLoad(p))
	}
	return loads, nil
}

// GetClientConfig fetches the client configuration document.
func (c *Client) GetClientConfig(ctx context.Context) (*ClientConfig, error) {
	var cfg ClientConfig
	if err := c.doWithRetry(ctx, http.MethodGet, "/vpn/clientconfig", nil, &cfg); err != nil {
		return nil, err
	}
	cfg.FetchedAt = time.Now()
	return &cfg, nil
}

// GetCertificate fetches a fresh client certificate.
func (c *Client) GetCertificate(ctx context.Context) (*Certificate, error) {
	var resp certificateResponse
	if err := c.doWithRetry(ctx, http.MethodGet, "/vpn/certificate", nil, &resp); err != nil {
		return nil, err
	}
	return &Certificate{
		Certificate: resp.Certificate,
		IssuedAt:    time.Unix(resp.IssuedAt, 0),
		ExpiresAt:   time.Unix(resp.ExpiresAt, 0),
	}, nil
}

// GetFeatureFlags fetches the feature flags document.
func (c *Client) GetFeatureFlags(ctx context.Context) (FeatureFlags, error) {
	var resp featuresResponse
	if err := c.doWithRetry(ctx, http.MethodGet, "/features", nil, &resp); err != nil {
		return nil, err
	}
	return FeatureFlags(resp.Features), nil
}

// doWithRetry performs an idempotent request, retrying transient failures
// with capped exponential backoff.
func (c *Client) doWithRetry(ctx context.Context, method, path string, body, out any) error {
	op := func() error {
		err := c.do(ctx, method, path, body, out)
		if err != nil && !IsTransient(err) {
			return backoff.Permanent(err)
		}
		return err
	}

	policy := backoff.WithContext(
		backoff.WithMaxRetries(backoff.NewExponentialBackOff(), maxRetries),
		ctx,
	)
	return backoff.Retry(op, policy)
}

func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode request body: %w", err)
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return err
	}
	req.Header.Set("User-Agent", userAgent)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	c.mu.RLock()
	if c.accessToken != "" {
		req.Header.Set("Authorization", "Bearer "+c.accessToken)
	}
	if c.uid != "" {
		req.Header.Set("X-Session-UID", c.uid)
	}
	c.mu.RUnlock()

	resp, err := c.http.Do(req)
	if err != nil {
		return unreachable(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 500 {
		return fmt.Errorf("%w: status %d", ErrUnavailable, resp.StatusCode)
	}

	if resp.StatusCode >= 400 {
		return decodeError(resp)
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response body: %w", err)
	}
	return nil
}

func decodeError(resp *http.Response) error {
	apiErr := &Error{Status: resp.StatusCode}
	data, err := io.ReadAll(io.LimitReader(resp.Body, 1<<16))
	if err == nil && len(data) > 0 {
		_ = json.Unmarshal(data, apiErr)
	}

	// Map known codes onto the sentinels so callers get the canonical
	// user-visible messages.
	switch apiErr.Code {
	case CodeWrongCredentials:
		return ErrWrongCredentials
	case CodeInvalidSecondFactor:
		return ErrInvalidSecondFactor
	case CodeSessionExpired:
		return ErrSessionExpired
	}

	if apiErr.Message == "" {
		apiErr.Message = fmt.Sprintf("unexpected status %d", resp.StatusCode)
	}
	return apiErr
}
