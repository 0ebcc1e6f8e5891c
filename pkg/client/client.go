// Package client is a typed HTTP client for the grid control-plane API.
package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// Client talks to a grid daemon over HTTP.
type Client struct {
	baseURL string
	client  *http.Client
	logger  *slog.Logger
}

// Config holds client configuration.
type Config struct {
	BaseURL string        // e.g. http://127.0.0.1:9670/api
	Timeout time.Duration // per-request bound (default 30s)
	Logger  *slog.Logger  // optional logger for client operations
}

// DefaultConfig returns the default client configuration, pointing at a
// local daemon on the default listen address.
func DefaultConfig() Config {
	return Config{
		BaseURL: "http://127.0.0.1:9670/api",
		Timeout: 30 * time.Second,
	}
}

// New creates a grid API client.
func New(config Config) *Client {
	if config.BaseURL == "" {
		config.BaseURL = DefaultConfig().BaseURL
	}
	if config.Timeout == 0 {
		config.Timeout = DefaultConfig().Timeout
	}
	if config.Logger == nil {
		config.Logger = slog.Default()
	}
	return &Client{
		baseURL: strings.TrimRight(config.BaseURL, "/"),
		logger:  config.Logger,
		client:  &http.Client{Timeout: config.Timeout},
	}
}

// IsReachable checks whether a daemon answers on the configured base URL.
func (c *Client) IsReachable(ctx context.Context) bool {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/status", nil)
	if err != nil {
		return false
	}
	resp, err := c.client.Do(req)
	if err != nil {
		c.logger.Debug("daemon unreachable", "error", err)
		return false
	}
	defer func() { _ = resp.Body.Close() }()
	return resp.StatusCode != http.StatusNotFound
}

// Install installs a single service.
func (c *Client) Install(ctx context.Context, name string) error {
	c.logger.Debug("installing service", "name", name)
	return c.do(ctx, http.MethodPost, "/install?name="+url.QueryEscape(name), nil)
}

// InstallAll installs every service in the daemon's roster.
func (c *Client) InstallAll(ctx context.Context) error {
	return c.do(ctx, http.MethodPost, "/install", nil)
}

// Start starts a single service and returns its post-launch status.
func (c *Client) Start(ctx context.Context, name string) (Status, error) {
	c.logger.Debug("starting service", "name", name)
	var st Status
	err := c.do(ctx, http.MethodPost, "/start?name="+url.QueryEscape(name), &st)
	return st, err
}

// StartAll starts every service in the daemon's roster.
func (c *Client) StartAll(ctx context.Context) error {
	return c.do(ctx, http.MethodPost, "/start", nil)
}

// Stop stops a single service. The outcome is returned even when the stop
// fails, so callers can distinguish a timeout from a transport error.
func (c *Client) Stop(ctx context.Context, name string) (StopOutcome, error) {
	c.logger.Debug("stopping service", "name", name)
	var out StopOutcome
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/stop?name="+url.QueryEscape(name), nil)
	if err != nil {
		return out, fmt.Errorf("create request: %w", err)
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return out, fmt.Errorf("do request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		if resp.StatusCode != http.StatusOK {
			return out, fmt.Errorf("HTTP %d", resp.StatusCode)
		}
		return out, fmt.Errorf("decode response: %w", err)
	}
	if out.Error != "" {
		return out, errors.New(out.Error)
	}
	if resp.StatusCode != http.StatusOK {
		return out, fmt.Errorf("HTTP %d", resp.StatusCode)
	}
	return out, nil
}

// StopAll stops every service in the daemon's roster.
func (c *Client) StopAll(ctx context.Context) error {
	return c.do(ctx, http.MethodPost, "/stop", nil)
}

// Status fetches the status of a single service.
func (c *Client) Status(ctx context.Context, name string) (Status, error) {
	var st Status
	err := c.do(ctx, http.MethodGet, "/status?name="+url.QueryEscape(name), &st)
	return st, err
}

// StatusAll fetches the status of every service, in roster order.
func (c *Client) StatusAll(ctx context.Context) ([]Status, error) {
	var sts []Status
	err := c.do(ctx, http.MethodGet, "/status", &sts)
	return sts, err
}

// Bootstrap asks the daemon to stop everything, wipe the deploy area,
// reinstall and restart the full roster.
func (c *Client) Bootstrap(ctx context.Context) error {
	c.logger.Debug("bootstrapping grid")
	return c.do(ctx, http.MethodPost, "/bootstrap", nil)
}

// Reconcile asks the daemon to refresh registry liveness once.
func (c *Client) Reconcile(ctx context.Context) error {
	return c.do(ctx, http.MethodPost, "/reconcile", nil)
}

// do performs a request against the API and decodes the response into out
// when out is non-nil.
func (c *Client) do(ctx context.Context, method, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, nil)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	resp, err := c.client.Do(req)
	if err != nil {
		c.logger.Debug("request failed", "method", method, "path", path, "error", err)
		return fmt.Errorf("do request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return c.apiError(resp)
	}
	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("decode response: %w", err)
		}
	}
	return nil
}

// apiError turns a non-200 response into an error, folding batch failures
// into a readable summary.
func (c *Client) apiError(resp *http.Response) error {
	var body struct {
		Error    string    `json:"error"`
		Failures []Failure `json:"failures"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return fmt.Errorf("HTTP %d", resp.StatusCode)
	}
	if body.Error != "" {
		return errors.New(body.Error)
	}
	if len(body.Failures) > 0 {
		parts := make([]string, 0, len(body.Failures))
		for _, f := range body.Failures {
			parts = append(parts, f.Name+": "+f.Error)
		}
		return fmt.Errorf("%d failed: %s", len(body.Failures), strings.Join(parts, "; "))
	}
	return fmt.Errorf("HTTP %d", resp.StatusCode)
}
