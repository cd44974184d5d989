// Package engineclient implements the HTTP RPCs the dispatcher and
// process runtime use to drive an inference engine: ping, fill, generate,
// and free_context.
package engineclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math/rand"
	"net/http"
	"time"

	"github.com/parrotrun/parrot/internal/config"
	"github.com/parrotrun/parrot/internal/dispatcher"
	"github.com/parrotrun/parrot/internal/graph"
)

// Client talks to exactly one engine's HTTP address.
type Client struct {
	addr   string
	client *http.Client
	cfg    config.EngineClientConfig
}

// New creates a Client bound to addr, configured with cfg's timeout and
// retry/backoff policy.
func New(addr string, cfg config.EngineClientConfig) *Client {
	return &Client{
		addr:   addr,
		client: &http.Client{Timeout: cfg.RequestTimeout},
		cfg:    cfg,
	}
}

// PingResponse is the engine's reply to ping.
type PingResponse struct {
	Pong        bool                  `json:"pong"`
	RuntimeInfo dispatcher.RuntimeInfo `json:"runtime_info"`
}

// FillRequest delivers already-resolved tokens/text into an engine-side
// context for a PlaceholderFill or ConstantFill node.
type FillRequest struct {
	ContextID int    `json:"context_id"`
	Text      string `json:"text"`
}

// GenerateRequest asks an engine to produce tokens for a PlaceholderGen
// node's context.
type GenerateRequest struct {
	ContextID      int                  `json:"context_id"`
	SamplingConfig graph.SamplingConfig `json:"sampling_config"`
}

// GenerateResponse carries the engine's generated text.
type GenerateResponse struct {
	Text string `json:"text"`
}

// Ping checks engine liveness and fetches fresh runtime info. Retried per
// the client's backoff policy; a final failure means the caller should
// mark the engine dead.
func (c *Client) Ping(ctx context.Context) (PingResponse, error) {
	var resp PingResponse
	err := c.doJSON(ctx, http.MethodPost, "/ping", nil, &resp)
	return resp, err
}

// Fill delivers text into an engine-side context.
func (c *Client) Fill(ctx context.Context, contextID int, text string) error {
	return c.doJSON(ctx, http.MethodPost, "/fill", FillRequest{ContextID: contextID, Text: text}, nil)
}

// Generate requests token generation for a context and returns the
// produced text.
func (c *Client) Generate(ctx context.Context, contextID int, sc graph.SamplingConfig) (GenerateResponse, error) {
	var resp GenerateResponse
	err := c.doJSON(ctx, http.MethodPost, "/generate", GenerateRequest{ContextID: contextID, SamplingConfig: sc}, &resp)
	return resp, err
}

// FreeContext releases an engine-side context once its thread is done.
func (c *Client) FreeContext(ctx context.Context, contextID int) error {
	return c.doJSON(ctx, http.MethodPost, "/free_context", map[string]int{"context_id": contextID}, nil)
}

// doJSON posts body (if non-nil) to path and decodes the response into
// out (if non-nil), retrying every failed attempt (transport error or any
// status >= 400) with exponential backoff
// bounded by cfg.MaxRetries/BackoffMax. Graph operations and SV sets are
// never retried — only this network boundary is.
func (c *Client) doJSON(ctx context.Context, method, path string, body, out any) error {
	var lastErr error

	maxAttempts := c.cfg.MaxRetries + 1
	if maxAttempts < 1 {
		maxAttempts = 1
	}

	for attempt := 0; attempt < maxAttempts; attempt++ {
		if attempt > 0 {
			backoff := c.backoff(attempt)
			select {
			case <-time.After(backoff):
			case <-ctx.Done():
				return ctx.Err()
			}
		}

		err := c.attempt(ctx, method, path, body, out)
		if err == nil {
			return nil
		}
		lastErr = err
	}

	return fmt.Errorf("engine %s: %w", c.addr, lastErr)
}

func (c *Client) attempt(ctx context.Context, method, path string, body, out any) error {
	var reqBody io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		reqBody = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.addr+path, reqBody)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	if reqBody != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode >= 400 {
		return fmt.Errorf("engine error (%d): %s", resp.StatusCode, string(respBody))
	}

	if out == nil || len(respBody) == 0 {
		return nil
	}
	return json.Unmarshal(respBody, out)
}

func (c *Client) backoff(attempt int) time.Duration {
	base := c.cfg.BackoffBase
	if base <= 0 {
		base = 100 * time.Millisecond
	}
	max := c.cfg.BackoffMax
	if max <= 0 {
		max = 5 * time.Second
	}

	d := base * time.Duration(1<<uint(attempt-1))
	if d > max {
		d = max
	}
	jitter := time.Duration(rand.Int63n(int64(d)/4 + 1))
	return d + jitter
}
