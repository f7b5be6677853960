// Package breakout is a Go client for the breakout trader's status API.
package breakout

import (
	"context"
	"fmt"
	"time"

	"github.com/go-resty/resty/v2"
)

// Client talks to a running breakout-trader.
type Client struct {
	baseURL string
	http    *resty.Client
}

// NewClient creates a client for the daemon at baseURL.
func NewClient(baseURL string) *Client {
	return &Client{
		baseURL: baseURL,
		http: resty.New().
			SetBaseURL(baseURL).
			SetTimeout(30 * time.Second).
			SetHeader("Accept", "application/json"),
	}
}

// Status retrieves the engine state and today's picks.
func (c *Client) Status(ctx context.Context) (*Status, error) {
	var out Status
	if err := c.get(ctx, "/api/status", &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Picks retrieves today's picks.
func (c *Client) Picks(ctx context.Context) ([]Pick, error) {
	var out []Pick
	if err := c.get(ctx, "/api/picks", &out); err != nil {
		return nil, err
	}
	return out, nil
}

// Positions retrieves current positions.
func (c *Client) Positions(ctx context.Context) ([]Position, error) {
	var out []Position
	if err := c.get(ctx, "/api/positions", &out); err != nil {
		return nil, err
	}
	return out, nil
}

// Account retrieves account information.
func (c *Client) Account(ctx context.Context) (*Account, error) {
	var out Account
	if err := c.get(ctx, "/api/account", &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) get(ctx context.Context, path string, out any) error {
	var apiErr ErrorResponse
	resp, err := c.http.R().
		SetContext(ctx).
		SetResult(out).
		SetError(&apiErr).
		Get(path)
	if err != nil {
		return fmt.Errorf("GET %s: %w", path, err)
	}
	if resp.IsError() {
		if apiErr.Error != "" {
			return fmt.Errorf("GET %s: %s: %s", path, resp.Status(), apiErr.Error)
		}
		return fmt.Errorf("GET %s: %s", path, resp.Status())
	}
	return nil
}
