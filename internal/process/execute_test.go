package process

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/parrotrun/parrot/internal/config"
	"github.com/parrotrun/parrot/internal/engineclient"
	"github.com/parrotrun/parrot/internal/graph"
)

func testEngineClientConfig() config.EngineClientConfig {
	return config.EngineClientConfig{
		RequestTimeout: time.Second,
		MaxRetries:     1,
		BackoffBase:    time.Millisecond,
		BackoffMax:     5 * time.Millisecond,
	}
}

func TestExecuteConstantThenGenSetsSV(t *testing.T) {
	var filled string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/fill":
			filled = "filled"
			w.Write([]byte(`{}`))
		case "/generate":
			w.Write([]byte(`{"text": "World"}`))
		case "/free_context":
			w.Write([]byte(`{}`))
		default:
			t.Fatalf("unexpected path %s", r.URL.Path)
		}
	}))
	defer srv.Close()

	g := graph.New()
	p := New(1, g)

	call := &Call{
		Body: "Hello {{out}}",
		Params: []CallParam{
			{Name: "out", Kind: graph.PlaceholderOutput},
		},
	}
	thread, err := p.MakeThread(call)
	if err != nil {
		t.Fatal(err)
	}

	client := engineclient.New(srv.URL, testEngineClientConfig())
	if err := p.ExecuteTask(context.Background(), thread, thread.GenTask(), "e1", client); err != nil {
		t.Fatal(err)
	}

	if filled != "filled" {
		t.Fatal("expected the constant prefix to be filled into the engine context")
	}
	if thread.State != ThreadDone {
		t.Fatalf("expected ThreadDone, got %v", thread.State)
	}

	got, err := p.PlaceholderFetch(context.Background(), 0)
	if err != nil || got != "World" {
		t.Fatalf("got %q, %v", got, err)
	}
}

// TestExecuteTaskReturnsEngineErrorWithoutFailingThread covers the
// boundary spec.md §7 draws: ExecuteTask surfaces an engine RPC failure
// to its caller but does not itself decide the thread's fate — PCore
// owns the retry-or-fail decision (marking the engine dead and
// re-queueing elsewhere, or failing the thread once retries are
// exhausted), never the execution step.
func TestExecuteTaskReturnsEngineErrorWithoutFailingThread(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	g := graph.New()
	p := New(1, g)

	call := &Call{
		Body: "Hello {{out}}",
		Params: []CallParam{
			{Name: "out", Kind: graph.PlaceholderOutput},
		},
	}
	thread, err := p.MakeThread(call)
	if err != nil {
		t.Fatal(err)
	}

	client := engineclient.New(srv.URL, testEngineClientConfig())
	if err := p.ExecuteTask(context.Background(), thread, thread.GenTask(), "e1", client); err == nil {
		t.Fatal("expected an engine error")
	}

	if thread.State == ThreadFailed {
		t.Fatal("ExecuteTask must not fail the thread itself; that decision belongs to PCore")
	}
}

// TestExecuteTaskHandlesMultipleNonAdjacentOutputs covers the canonical
// two-output call ("{{joke}} ... {{explanation}}") that previously hung
// forever: a Thread now tracks every GenTask it owns, and each is
// executed independently as it becomes ready.
func TestExecuteTaskHandlesMultipleNonAdjacentOutputs(t *testing.T) {
	var fills []string
	generateCalls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/fill":
			var req struct {
				Text string `json:"text"`
			}
			_ = json.NewDecoder(r.Body).Decode(&req)
			fills = append(fills, req.Text)
			w.Write([]byte(`{}`))
		case "/generate":
			generateCalls++
			if generateCalls == 1 {
				w.Write([]byte(`{"text": "why did the chicken cross the road"}`))
			} else {
				w.Write([]byte(`{"text": "it is a pun about commitment"}`))
			}
		case "/free_context":
			w.Write([]byte(`{}`))
		default:
			t.Fatalf("unexpected path %s", r.URL.Path)
		}
	}))
	defer srv.Close()

	g := graph.New()
	p := New(1, g)

	call := &Call{
		Body: "Tell me a joke: {{joke}} Now explain it: {{explanation}}",
		Params: []CallParam{
			{Name: "joke", Kind: graph.PlaceholderOutput},
			{Name: "explanation", Kind: graph.PlaceholderOutput},
		},
	}
	thread, err := p.MakeThread(call)
	if err != nil {
		t.Fatal(err)
	}
	if len(thread.GenTasks()) != 2 {
		t.Fatalf("expected 2 GenTasks for two non-adjacent outputs, got %d", len(thread.GenTasks()))
	}

	client := engineclient.New(srv.URL, testEngineClientConfig())

	jokeTask := thread.GenTasks()[0]
	if err := p.ExecuteTask(context.Background(), thread, jokeTask, "e1", client); err != nil {
		t.Fatal(err)
	}
	if thread.State != ThreadQueued {
		t.Fatalf("expected ThreadQueued after the first of two outputs resolves, got %v", thread.State)
	}

	explanationTask := thread.GenTasks()[1]
	if err := p.ExecuteTask(context.Background(), thread, explanationTask, "e1", client); err != nil {
		t.Fatal(err)
	}
	if thread.State != ThreadDone {
		t.Fatalf("expected ThreadDone once both outputs resolve, got %v", thread.State)
	}

	joke, err := p.PlaceholderFetch(context.Background(), 0)
	if err != nil || joke != "why did the chicken cross the road" {
		t.Fatalf("got %q, %v", joke, err)
	}
	explanation, err := p.PlaceholderFetch(context.Background(), 1)
	if err != nil || explanation != "it is a pun about commitment" {
		t.Fatalf("got %q, %v", explanation, err)
	}

	if len(fills) < 3 {
		t.Fatalf("expected the second execution to refill the constant prefix and the first output's resolved text, got %v", fills)
	}
}
