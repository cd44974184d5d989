// Package parrotclient is a thin HTTP client for the OS surface
// implemented by internal/api: register_vm, vm_heartbeat, submit_call,
// placeholder_fetch, register_engine, and engine_heartbeat. It gives VM
// runtimes, engine adapters, and integration tests a single place to
// reach for instead of hand-rolling HTTP against the wire format.
package parrotclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/parrotrun/parrot/internal/dispatcher"
	"github.com/parrotrun/parrot/internal/pcore"
	"github.com/parrotrun/parrot/internal/process"
)

// Client wraps HTTP calls to a parrotd OS surface.
type Client struct {
	baseURL string
	client  *http.Client
}

// New creates a Client bound to baseURL (e.g. "http://localhost:9494").
func New(baseURL string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Client{
		baseURL: baseURL,
		client:  &http.Client{Timeout: timeout},
	}
}

// APIError is returned when the OS surface responds with its error
// envelope ({error, traceback}); Traceback is only populated for
// InternalErrors on the server side.
type APIError struct {
	StatusCode int
	Message    string
	Traceback  string
}

func (e *APIError) Error() string {
	if e.Traceback != "" {
		return fmt.Sprintf("parrotd: %s\n%s", e.Message, e.Traceback)
	}
	return fmt.Sprintf("parrotd: %s", e.Message)
}

type errorEnvelope struct {
	Error     string `json:"error"`
	Traceback string `json:"traceback,omitempty"`
}

func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	var reqBody io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		reqBody = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reqBody)
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
		var env errorEnvelope
		_ = json.Unmarshal(respBody, &env)
		return &APIError{StatusCode: resp.StatusCode, Message: env.Error, Traceback: env.Traceback}
	}

	if out == nil || len(respBody) == 0 {
		return nil
	}
	return json.Unmarshal(respBody, out)
}

// RegisterVM registers a new VM process and returns its pid.
func (c *Client) RegisterVM(ctx context.Context) (int, error) {
	var resp struct {
		Pid int `json:"pid"`
	}
	if err := c.do(ctx, http.MethodPost, "/register_vm", nil, &resp); err != nil {
		return 0, err
	}
	return resp.Pid, nil
}

// VMHeartbeat refreshes pid's liveness and returns its runtime info.
func (c *Client) VMHeartbeat(ctx context.Context, pid int) (pcore.VMRuntimeInfo, error) {
	req := struct {
		Pid int `json:"pid"`
	}{Pid: pid}
	var resp pcore.VMRuntimeInfo
	if err := c.do(ctx, http.MethodPost, "/vm_heartbeat", req, &resp); err != nil {
		return pcore.VMRuntimeInfo{}, err
	}
	return resp, nil
}

// SubmitCall submits call under pid's namespace. The returned *int is the
// assigned thread id for a semantic call, nil for a native call (which
// runs to completion inline on the server).
func (c *Client) SubmitCall(ctx context.Context, pid int, call *process.Call) (*int, error) {
	req := struct {
		Pid  int          `json:"pid"`
		Call process.Call `json:"call"`
	}{Pid: pid, Call: *call}
	var resp struct {
		Tid *int `json:"tid,omitempty"`
	}
	if err := c.do(ctx, http.MethodPost, "/submit_call", req, &resp); err != nil {
		return nil, err
	}
	return resp.Tid, nil
}

// PlaceholderFetch blocks (server-side) until placeholderID's value is
// ready, or the request context is done.
func (c *Client) PlaceholderFetch(ctx context.Context, pid, placeholderID int) (string, error) {
	req := struct {
		Pid           int `json:"pid"`
		PlaceholderID int `json:"placeholder_id"`
	}{Pid: pid, PlaceholderID: placeholderID}
	var resp struct {
		Content string `json:"content"`
	}
	if err := c.do(ctx, http.MethodPost, "/placeholder_fetch", req, &resp); err != nil {
		return "", err
	}
	return resp.Content, nil
}

// RegisterEngine enrolls a new engine and returns its assigned id.
func (c *Client) RegisterEngine(ctx context.Context, reg pcore.EngineRegistration) (int, error) {
	req := struct {
		EngineConfig pcore.EngineRegistration `json:"engine_config"`
	}{EngineConfig: reg}
	var resp struct {
		EngineID int `json:"engine_id"`
	}
	if err := c.do(ctx, http.MethodPost, "/register_engine", req, &resp); err != nil {
		return 0, err
	}
	return resp.EngineID, nil
}

// EngineHeartbeat refreshes an engine's liveness and load snapshot.
func (c *Client) EngineHeartbeat(ctx context.Context, engineID int, name string, info dispatcher.RuntimeInfo) error {
	req := struct {
		EngineID    int                    `json:"engine_id"`
		EngineName  string                 `json:"engine_name"`
		RuntimeInfo dispatcher.RuntimeInfo `json:"runtime_info"`
	}{EngineID: engineID, EngineName: name, RuntimeInfo: info}
	return c.do(ctx, http.MethodPost, "/engine_heartbeat", req, nil)
}
