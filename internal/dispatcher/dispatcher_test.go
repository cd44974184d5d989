package dispatcher

import (
	"testing"

	"github.com/parrotrun/parrot/internal/graph"
	"github.com/parrotrun/parrot/internal/process"
)

func makeOutputThread(t *testing.T, g *graph.Graph, proc *process.Process, name string, models []string) *process.Thread {
	t.Helper()
	call := &process.Call{
		Body:   "{{" + name + "}}",
		Params: []process.CallParam{{Name: name, Kind: graph.PlaceholderOutput}},
		Models: models,
	}
	thread, err := proc.MakeThread(call)
	if err != nil {
		t.Fatal(err)
	}
	return thread
}

// TestDispatchAssignsLowestLoadEngine covers scenario 2/4's selection
// rule: among eligible live engines, the one with fewer running jobs
// wins.
func TestDispatchAssignsLowestLoadEngine(t *testing.T) {
	g := graph.New()
	proc := process.New(1, g)
	thread := makeOutputThread(t, g, proc, "out", nil)

	d := New(PolicyFIFO)
	e1 := NewEngine(1, "e1", "http://e1", nil)
	e1.Touch(RuntimeInfo{NumRunningJobs: 5})
	e2 := NewEngine(2, "e2", "http://e2", nil)
	e2.Touch(RuntimeInfo{NumRunningJobs: 1})
	d.RegisterEngine(e1)
	d.RegisterEngine(e2)

	d.PushThread(proc, thread)
	dispatched := d.Dispatch(g)
	if len(dispatched) != 1 {
		t.Fatalf("expected 1 dispatched thread, got %d", len(dispatched))
	}
	if *dispatched[0].Thread.EngineID != 2 {
		t.Fatalf("expected engine 2 (lowest load), got %d", *dispatched[0].Thread.EngineID)
	}
	if dispatched[0].Thread.State != process.ThreadDispatched {
		t.Fatalf("expected state DISPATCHED, got %v", dispatched[0].Thread.State)
	}
}

// TestDispatchAtMostOnce ensures a dispatched thread never reappears in a
// later cycle.
func TestDispatchAtMostOnce(t *testing.T) {
	g := graph.New()
	proc := process.New(1, g)
	thread := makeOutputThread(t, g, proc, "out", nil)

	d := New(PolicyFIFO)
	e1 := NewEngine(1, "e1", "http://e1", nil)
	e1.Touch(RuntimeInfo{})
	d.RegisterEngine(e1)
	d.PushThread(proc, thread)

	first := d.Dispatch(g)
	if len(first) != 1 {
		t.Fatalf("expected 1 dispatched thread on first cycle, got %d", len(first))
	}
	second := d.Dispatch(g)
	if len(second) != 0 {
		t.Fatalf("expected 0 dispatched threads on second cycle, got %d", len(second))
	}
}

// TestDispatchDropsDeadProcessThread covers the "thread whose process is
// dead is dropped with a logged discard" invariant.
func TestDispatchDropsDeadProcessThread(t *testing.T) {
	g := graph.New()
	proc := process.New(1, g)
	thread := makeOutputThread(t, g, proc, "out", nil)

	d := New(PolicyFIFO)
	e1 := NewEngine(1, "e1", "http://e1", nil)
	e1.Touch(RuntimeInfo{})
	d.RegisterEngine(e1)
	d.PushThread(proc, thread)

	proc.MarkDead()
	dispatched := d.Dispatch(g)
	if len(dispatched) != 0 {
		t.Fatalf("expected no dispatch for a dead process's thread, got %d", len(dispatched))
	}
	if d.QueueDepth(1) != 0 {
		t.Fatal("dead process's thread should have been popped, not left queued")
	}
}

// TestDispatchWaitsForUnreadyChain ensures an unready gen task stays
// queued rather than being (mis-)dispatched.
func TestDispatchWaitsForUnreadyChain(t *testing.T) {
	g := graph.New()
	proc := process.New(1, g)

	genAThread := makeOutputThread(t, g, proc, "x", nil)
	d := New(PolicyFIFO)
	e1 := NewEngine(1, "e1", "http://e1", nil)
	e1.Touch(RuntimeInfo{})
	d.RegisterEngine(e1)
	d.PushThread(proc, genAThread)
	dispatched := d.Dispatch(g)
	if len(dispatched) != 1 {
		t.Fatal("call A should dispatch immediately, no predecessors")
	}

	// Call B references x (unresolved) then outputs y; its gen task isn't
	// ready until x is set.
	xID := genAThread.GenTask().SVID
	callB := &process.Call{
		Body: "{{x}} {{y}}",
		Params: []process.CallParam{
			{Name: "x", Kind: graph.PlaceholderInput, VarID: &xID},
			{Name: "y", Kind: graph.PlaceholderOutput},
		},
	}
	threadB, err := proc.MakeThread(callB)
	if err != nil {
		t.Fatal(err)
	}
	d.PushThread(proc, threadB)

	dispatched = d.Dispatch(g)
	if len(dispatched) != 0 {
		t.Fatal("call B should not dispatch before x resolves")
	}

	sv, _ := g.GetSV(xID)
	if err := sv.Set("42"); err != nil {
		t.Fatal(err)
	}

	dispatched = d.Dispatch(g)
	if len(dispatched) != 1 || dispatched[0].Thread.TID != threadB.TID {
		t.Fatal("call B should dispatch once x resolves")
	}
}

// TestDispatchHandlesMultipleGenTasksAcrossCycles covers the canonical
// two-output call: a thread owning two non-adjacent GenTasks stays at the
// head of its queue and is reconsidered each cycle, dispatching its first
// task, then (once that task's SV is set and the thread is requeued) its
// second — never dropping the second task the way a single-genTask field
// once did.
func TestDispatchHandlesMultipleGenTasksAcrossCycles(t *testing.T) {
	g := graph.New()
	proc := process.New(1, g)

	call := &process.Call{
		Body: "Tell me a joke: {{joke}} Now explain it: {{explanation}}",
		Params: []process.CallParam{
			{Name: "joke", Kind: graph.PlaceholderOutput},
			{Name: "explanation", Kind: graph.PlaceholderOutput},
		},
	}
	thread, err := proc.MakeThread(call)
	if err != nil {
		t.Fatal(err)
	}
	if len(thread.GenTasks()) != 2 {
		t.Fatalf("expected 2 GenTasks, got %d", len(thread.GenTasks()))
	}

	d := New(PolicyFIFO)
	e1 := NewEngine(1, "e1", "http://e1", nil)
	e1.Touch(RuntimeInfo{})
	d.RegisterEngine(e1)
	d.PushThread(proc, thread)

	first := d.Dispatch(g)
	if len(first) != 1 || first[0].Task != thread.GenTasks()[0] {
		t.Fatalf("expected the first GenTask dispatched alone, got %+v", first)
	}

	// The thread's first task is still DISPATCHED (ExecuteTask hasn't run
	// in this unit test), so a second cycle must not reconsider it yet.
	again := d.Dispatch(g)
	if len(again) != 0 {
		t.Fatalf("expected no dispatch while the first task is still in flight, got %d", len(again))
	}

	// Simulate ExecuteTask completing the first task and requeueing the
	// thread for its second.
	sv, err := g.GetSV(thread.GenTasks()[0].SVID)
	if err != nil {
		t.Fatal(err)
	}
	if err := sv.Set("why did the chicken cross the road"); err != nil {
		t.Fatal(err)
	}
	g.RemoveTask(thread.GenTasks()[0])
	thread.EngineID = nil
	thread.State = process.ThreadQueued
	d.PushThread(proc, thread)

	second := d.Dispatch(g)
	if len(second) != 1 || second[0].Task != thread.GenTasks()[1] {
		t.Fatalf("expected the second GenTask dispatched once the first resolves, got %+v", second)
	}
}

// TestCapabilityMatchedFiltersIneligibleEngines ensures a model-specific
// thread only matches engines admitting that model family.
func TestCapabilityMatchedFiltersIneligibleEngines(t *testing.T) {
	g := graph.New()
	proc := process.New(1, g)
	thread := makeOutputThread(t, g, proc, "out", []string{"llama-7b"})

	d := New(PolicyCapabilityMatched)
	generalist := NewEngine(1, "generalist", "http://g", nil)
	generalist.Touch(RuntimeInfo{})
	specialist := NewEngine(2, "specialist", "http://s", []string{"llama-7b"})
	specialist.Touch(RuntimeInfo{})
	mismatched := NewEngine(3, "mismatched", "http://m", []string{"gpt2"})
	mismatched.Touch(RuntimeInfo{})

	d.RegisterEngine(generalist)
	d.RegisterEngine(specialist)
	d.RegisterEngine(mismatched)
	d.PushThread(proc, thread)

	dispatched := d.Dispatch(g)
	if len(dispatched) != 1 {
		t.Fatal("expected exactly one dispatch")
	}
	if *dispatched[0].Thread.EngineID == 3 {
		t.Fatal("thread must not be dispatched to an engine missing its model family")
	}
}
