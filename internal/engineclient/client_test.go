package engineclient

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/parrotrun/parrot/internal/config"
	"github.com/parrotrun/parrot/internal/graph"
)

func testConfig() config.EngineClientConfig {
	return config.EngineClientConfig{
		RequestTimeout: time.Second,
		MaxRetries:     2,
		BackoffBase:    time.Millisecond,
		BackoffMax:     10 * time.Millisecond,
	}
}

func TestPingSuccess(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/ping" {
			t.Fatalf("unexpected path %s", r.URL.Path)
		}
		w.Write([]byte(`{"pong": true, "runtime_info": {"num_running_jobs": 3}}`))
	}))
	defer srv.Close()

	c := New(srv.URL, testConfig())
	resp, err := c.Ping(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if !resp.Pong || resp.RuntimeInfo.NumRunningJobs != 3 {
		t.Fatalf("unexpected response: %+v", resp)
	}
}

func TestGenerateRetriesThenSucceeds(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := atomic.AddInt32(&calls, 1)
		if n < 2 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		w.Write([]byte(`{"text": "hello"}`))
	}))
	defer srv.Close()

	c := New(srv.URL, testConfig())
	resp, err := c.Generate(context.Background(), 1, graph.SamplingConfig{})
	if err != nil {
		t.Fatal(err)
	}
	if resp.Text != "hello" {
		t.Fatalf("expected hello, got %q", resp.Text)
	}
	if calls < 2 {
		t.Fatalf("expected at least 2 calls, got %d", calls)
	}
}

func TestGenerateExhaustsRetries(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	c := New(srv.URL, testConfig())
	_, err := c.Generate(context.Background(), 1, graph.SamplingConfig{})
	if err == nil {
		t.Fatal("expected error after exhausting retries")
	}
}

func TestFreeContext(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/free_context" {
			t.Fatalf("unexpected path %s", r.URL.Path)
		}
		w.Write([]byte(`{}`))
	}))
	defer srv.Close()

	c := New(srv.URL, testConfig())
	if err := c.FreeContext(context.Background(), 7); err != nil {
		t.Fatal(err)
	}
}
