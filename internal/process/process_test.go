package process

import (
	"context"
	"errors"
	"testing"

	"github.com/parrotrun/parrot/internal/graph"
	"github.com/parrotrun/parrot/internal/parrotos"
)

func strPtr(s string) *string { return &s }

// TestSingleConstantThenGen covers spec.md §8 scenario 1: a call body
// "Hello {{out}}" becomes a ConstantFill followed by a PlaceholderGen, and
// the gen task is ready the instant the process submits it.
func TestSingleConstantThenGen(t *testing.T) {
	g := graph.New()
	proc := New(1, g)

	call := &Call{
		Body: "Hello {{out}}",
		Params: []CallParam{
			{Name: "out", Kind: graph.PlaceholderOutput},
		},
	}

	thread, err := proc.MakeThread(call)
	if err != nil {
		t.Fatal(err)
	}
	if len(thread.Nodes) != 2 {
		t.Fatalf("expected 2 nodes, got %d", len(thread.Nodes))
	}

	task, ok := g.GetReadyTask()
	if !ok {
		t.Fatal("expected the gen task to be ready once its constant prefix resolves")
	}
	if task.ThreadID != thread.TID {
		t.Fatalf("ready task belongs to thread %d, want %d", task.ThreadID, thread.TID)
	}

	if err := proc.PlaceholderSet(context.Background(), 0, "World"); err != nil {
		t.Fatal(err)
	}
	got, err := proc.PlaceholderFetch(context.Background(), 0)
	if err != nil || got != "World" {
		t.Fatalf("got %q, %v", got, err)
	}
}

// TestChainedCallsAcrossProcess covers scenario 2: a first call's output
// variable is referenced by name in a second call submitted to the same
// process, exercising namespace rewriting end to end.
func TestChainedCallsAcrossProcess(t *testing.T) {
	g := graph.New()
	proc := New(1, g)

	callA := &Call{
		Body:   "{{x}}",
		Params: []CallParam{{Name: "x", Kind: graph.PlaceholderOutput}},
	}
	threadA, err := proc.MakeThread(callA)
	if err != nil {
		t.Fatal(err)
	}

	taskA, ok := g.GetReadyTask()
	if !ok || taskA.ThreadID != threadA.TID {
		t.Fatal("call A's gen task should be immediately ready")
	}
	g.MarkDispatched(taskA)

	sv, err := g.GetSV(taskA.SVID)
	if err != nil {
		t.Fatal(err)
	}
	if err := sv.Set("42"); err != nil {
		t.Fatal(err)
	}

	// Call B references "x" by name with no explicit var_id: rewriteCall
	// must resolve it against the process namespace populated by call A.
	callB := &Call{
		Body: "got {{x}} then {{y}}",
		Params: []CallParam{
			{Name: "x", Kind: graph.PlaceholderInput},
			{Name: "y", Kind: graph.PlaceholderOutput},
		},
	}
	threadB, err := proc.MakeThread(callB)
	if err != nil {
		t.Fatal(err)
	}

	taskB, ok := g.GetReadyTask()
	if !ok || taskB.ThreadID != threadB.TID {
		t.Fatal("call B's gen task should be ready once x resolved before submission")
	}

	// The fill node for "x" must share call A's SV, not a fresh one.
	var fillNode *graph.Node
	for _, n := range threadB.Nodes {
		if n.Kind() == graph.KindPlaceholderFill {
			fillNode = n
		}
	}
	if fillNode == nil {
		t.Fatal("expected a PlaceholderFill node for x in call B")
	}
	if fillNode.SVID() != taskA.SVID {
		t.Fatalf("call B's x fill should reuse call A's SV %d, got %d", taskA.SVID, fillNode.SVID())
	}
}

// TestOutputAdjacencyRejected covers scenario 6: two output placeholders
// with no literal text between them must fail at submission time.
func TestOutputAdjacencyRejected(t *testing.T) {
	g := graph.New()
	proc := New(1, g)

	call := &Call{
		Body: "{{a}}{{b}}",
		Params: []CallParam{
			{Name: "a", Kind: graph.PlaceholderOutput},
			{Name: "b", Kind: graph.PlaceholderOutput},
		},
	}

	_, err := proc.MakeThread(call)
	if !errors.Is(err, parrotos.ErrOutputAdjacency) {
		t.Fatalf("expected ErrOutputAdjacency, got %v", err)
	}
}

func TestPlaceholderFetchUnknownID(t *testing.T) {
	g := graph.New()
	proc := New(1, g)
	_, err := proc.PlaceholderFetch(context.Background(), 99)
	if !errors.Is(err, parrotos.ErrUnknownPlaceholder) {
		t.Fatalf("expected ErrUnknownPlaceholder, got %v", err)
	}
}

func TestMarkDeadFailsFutureSubmissions(t *testing.T) {
	g := graph.New()
	proc := New(1, g)
	proc.MarkDead()

	_, err := proc.MakeThread(&Call{Body: "hi"})
	if !errors.Is(err, parrotos.ErrDeadProcess) {
		t.Fatalf("expected ErrDeadProcess, got %v", err)
	}
}

func TestConstantInputPlaceholder(t *testing.T) {
	g := graph.New()
	proc := New(1, g)

	call := &Call{
		Body: "say {{greeting}} to {{name}} -> {{out}}",
		Params: []CallParam{
			{Name: "greeting", Kind: graph.PlaceholderInput, ConstValue: strPtr("hello")},
			{Name: "name", Kind: graph.PlaceholderInput, ConstValue: strPtr("world")},
			{Name: "out", Kind: graph.PlaceholderOutput},
		},
	}
	thread, err := proc.MakeThread(call)
	if err != nil {
		t.Fatal(err)
	}

	task, ok := g.GetReadyTask()
	if !ok || task.ThreadID != thread.TID {
		t.Fatal("a call whose only inputs are constants should be immediately ready")
	}
}
