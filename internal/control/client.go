package control

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"

	"github.com/nanonet/nanonet/internal/engine"
)

// Client talks to a running daemon over its control socket.
type Client struct {
	http *http.Client
}

func NewClient(sockFile string) *Client {
	return &Client{
		http: &http.Client{
			Timeout: 5 * time.Second,
			Transport: &http.Transport{
				DialContext: func(ctx context.Context, _, _ string) (net.Conn, error) {
					var d net.Dialer
					return d.DialContext(ctx, "unix", sockFile)
				},
			},
		},
	}
}

func (c *Client) GetConfig(ctx context.Context) (engine.Config, error) {
	var cfg engine.Config
	err := c.do(ctx, http.MethodGet, "/config", nil, &cfg)
	return cfg, err
}

func (c *Client) SetConfig(ctx context.Context, cfg engine.Config) error {
	return c.do(ctx, http.MethodPut, "/config", cfg, nil)
}

func (c *Client) GetStats(ctx context.Context) (engine.StatsSnapshot, error) {
	var st engine.StatsSnapshot
	err := c.do(ctx, http.MethodGet, "/stats", nil, &st)
	return st, err
}

func (c *Client) ResetStats(ctx context.Context) error {
	return c.do(ctx, http.MethodPost, "/stats/reset", nil, nil)
}

func (c *Client) FlushConnections(ctx context.Context) (int, error) {
	var out struct {
		Flushed int `json:"flushed"`
	}
	err := c.do(ctx, http.MethodPost, "/connections/flush", nil, &out)
	return out.Flushed, err
}

func (c *Client) Status(ctx context.Context) (string, error) {
	return c.text(ctx, "/status")
}

func (c *Client) Debug(ctx context.Context) (string, error) {
	return c.text(ctx, "/debug")
}

func (c *Client) do(ctx context.Context, method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			return err
		}
		body = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, "http://nanonet"+path, body)
	if err != nil {
		return err
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		var apiErr struct {
			Error string `json:"error"`
		}
		if derr := json.NewDecoder(resp.Body).Decode(&apiErr); derr == nil && apiErr.Error != "" {
			return fmt.Errorf("%s %s: %s", method, path, apiErr.Error)
		}
		return fmt.Errorf("%s %s: HTTP %d", method, path, resp.StatusCode)
	}
	if out != nil {
		return json.NewDecoder(resp.Body).Decode(out)
	}
	return nil
}

func (c *Client) text(ctx context.Context, path string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, "http://nanonet"+path, nil)
	if err != nil {
		return "", err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("GET %s: HTTP %d", path, resp.StatusCode)
	}
	b, err := io.ReadAll(resp.Body)
	return string(b), err
}
