package parrotclient

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/parrotrun/parrot/internal/dispatcher"
	"github.com/parrotrun/parrot/internal/graph"
	"github.com/parrotrun/parrot/internal/pcore"
	"github.com/parrotrun/parrot/internal/process"
)

func TestRegisterVMAndHeartbeat(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/register_vm":
			w.Write([]byte(`{"pid": 7}`))
		case "/vm_heartbeat":
			w.Write([]byte(`{"memory_used_mb": 12, "num_threads": 1, "num_tokens_generated": 0}`))
		default:
			t.Fatalf("unexpected path %s", r.URL.Path)
		}
	}))
	defer srv.Close()

	c := New(srv.URL, 0)
	pid, err := c.RegisterVM(context.Background())
	if err != nil || pid != 7 {
		t.Fatalf("got pid %d, err %v", pid, err)
	}

	info, err := c.VMHeartbeat(context.Background(), pid)
	if err != nil || info.NumThreads != 1 {
		t.Fatalf("got %+v, err %v", info, err)
	}
}

func TestSubmitCallAndPlaceholderFetch(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/submit_call":
			w.Write([]byte(`{"tid": 3}`))
		case "/placeholder_fetch":
			w.Write([]byte(`{"content": "World"}`))
		default:
			t.Fatalf("unexpected path %s", r.URL.Path)
		}
	}))
	defer srv.Close()

	c := New(srv.URL, 0)
	call := &process.Call{
		Body: "Hello {{out}}",
		Params: []process.CallParam{
			{Name: "out", Kind: graph.PlaceholderOutput},
		},
	}
	tid, err := c.SubmitCall(context.Background(), 1, call)
	if err != nil || tid == nil || *tid != 3 {
		t.Fatalf("got tid %v, err %v", tid, err)
	}

	content, err := c.PlaceholderFetch(context.Background(), 1, 0)
	if err != nil || content != "World" {
		t.Fatalf("got %q, err %v", content, err)
	}
}

func TestRegisterEngineAndHeartbeat(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/register_engine":
			w.Write([]byte(`{"engine_id": 5}`))
		case "/engine_heartbeat":
			w.Write([]byte(`{}`))
		default:
			t.Fatalf("unexpected path %s", r.URL.Path)
		}
	}))
	defer srv.Close()

	c := New(srv.URL, 0)
	id, err := c.RegisterEngine(context.Background(), pcore.EngineRegistration{Name: "e1", Addr: "http://e1"})
	if err != nil || id != 5 {
		t.Fatalf("got id %d, err %v", id, err)
	}

	if err := c.EngineHeartbeat(context.Background(), id, "e1", dispatcher.RuntimeInfo{NumRunningJobs: 2}); err != nil {
		t.Fatal(err)
	}
}

func TestErrorEnvelopeSurfacesAsAPIError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		w.Write([]byte(`{"error": "unknown pid 99"}`))
	}))
	defer srv.Close()

	c := New(srv.URL, 0)
	_, err := c.PlaceholderFetch(context.Background(), 99, 0)
	if err == nil {
		t.Fatal("expected an error")
	}
	var apiErr *APIError
	if !errors.As(err, &apiErr) || apiErr.Message != "unknown pid 99" {
		t.Fatalf("expected APIError with message, got %v", err)
	}
}
