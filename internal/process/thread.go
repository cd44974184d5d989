package process

import "github.com/parrotrun/parrot/internal/graph"

// ThreadState tracks a thread through dispatch.
type ThreadState int

const (
	ThreadQueued ThreadState = iota
	ThreadDispatched
	ThreadRunning
	ThreadDone
	ThreadFailed
)

func (s ThreadState) String() string {
	switch s {
	case ThreadQueued:
		return "QUEUED"
	case ThreadDispatched:
		return "DISPATCHED"
	case ThreadRunning:
		return "RUNNING"
	case ThreadDone:
		return "DONE"
	case ThreadFailed:
		return "FAILED"
	default:
		return "UNKNOWN"
	}
}

// Thread is the OS-level unit of work corresponding to one submitted
// semantic call: a chain of graph nodes owned by one process.
type Thread struct {
	TID      int
	Pid      int
	Nodes    []*graph.Node
	Models   []string // eligible model families, from the submitting call
	EngineID *int
	State    ThreadState

	// genTasks holds every PlaceholderGen task this thread owns, in the
	// order their nodes were inserted. A call body with two non-adjacent
	// output placeholders — e.g. "{{joke}} ... {{explanation}}" — produces
	// one GenTask per output; a pure fill/native call has none.
	genTasks []*graph.GenTask
}

// GenTask returns the thread's first GenTask, or nil if the call had no
// output placeholder (a pure fill/native call). Convenience accessor for
// callers that only care whether the thread has any generative work at
// all; threads with multiple outputs should use GenTasks.
func (t *Thread) GenTask() *graph.GenTask {
	if len(t.genTasks) == 0 {
		return nil
	}
	return t.genTasks[0]
}

// GenTasks returns every PlaceholderGen task the thread owns, in chain
// order.
func (t *Thread) GenTasks() []*graph.GenTask { return t.genTasks }

// HasGenTasks reports whether the thread owns any PlaceholderGen task.
func (t *Thread) HasGenTasks() bool { return len(t.genTasks) > 0 }

// NextPendingGenTask returns the earliest GenTask this thread owns that g
// has not yet marked dispatched, or nil once every task has been. Chain
// order guarantees a later task's prefix can never resolve before an
// earlier one's SV is set, so this is always the correct next task to
// consider for dispatch.
func (t *Thread) NextPendingGenTask(g *graph.Graph) *graph.GenTask {
	for _, gt := range t.genTasks {
		if !g.TaskDispatched(gt) {
			return gt
		}
	}
	return nil
}

// HasRemainingGenTasks reports whether any of the thread's GenTasks have
// not yet completed — RemoveTask clears a task's bookkeeping once its SV
// is set, so a task's absence from g means it is done, not merely
// dispatched. ExecuteTask uses this (rather than the dispatched flag) to
// decide whether a thread with multiple outputs still has work left.
func (t *Thread) HasRemainingGenTasks(g *graph.Graph) bool {
	for _, gt := range t.genTasks {
		if _, ok := g.GenTaskForNode(gt.NodeID); ok {
			return true
		}
	}
	return false
}
