// Package graph implements the static dataflow graph: fill/gen nodes
// linked to semantic variables, ready-task discovery, and deadlock
// detection. The Graph owns two flat arenas (nodes, SVs) keyed by integer
// index; every cross-reference between a Node and an SV is an index into
// one of those arenas rather than a pointer, so cyclic references never
// need a garbage collector's help to resolve.
package graph

import (
	"sync"

	"github.com/parrotrun/parrot/internal/parrotos"
)

// GenTask is the runnable unit anchored at a PlaceholderGen node. It is
// ready when every node in its edge_a prefix chain is either a constant or
// bound to a resolved SV.
type GenTask struct {
	NodeID      int
	ThreadID    int
	SVID        int
	Placeholder PlaceholderRef
	dispatched  bool
}

// InsertSpec describes one node to insert, as parsed from a call body by
// the process package.
type InsertSpec struct {
	Kind        Kind
	Text        string // ConstantFill literal text
	Placeholder PlaceholderRef
	ThreadID    int
}

// Graph is the static dataflow graph shared by every process. It is safe
// for concurrent use; callers driven from the single-threaded PCore loop
// need no external locking, but request handlers may also call InsertNode
// and SV.Set directly from goroutines ahead of the loop.
type Graph struct {
	mu sync.Mutex

	nodes []*Node
	svs   []*SV

	lastNodeOfThread map[int]int // threadID -> last inserted node id, for edge_a chaining
	genTasks         map[int]*GenTask // nodeID -> GenTask, for every PlaceholderGen inserted
}

// New creates an empty Graph.
func New() *Graph {
	return &Graph{
		lastNodeOfThread: make(map[int]int),
		genTasks:         make(map[int]*GenTask),
	}
}

func (g *Graph) allocSV(name string) *SV {
	sv := newSV(len(g.svs), name)
	g.svs = append(g.svs, sv)
	return sv
}

// GetSV looks up an SV by id. Returns ErrUnknownVariable if out of range.
func (g *Graph) GetSV(id int) (*SV, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if id < 0 || id >= len(g.svs) {
		return nil, parrotos.UserErrorf(parrotos.ErrUnknownVariable, "unknown variable id %d", id)
	}
	return g.svs[id], nil
}

// InsertNode assigns an id_in_graph, binds an SV, and links the node into
// its thread's edge_a chain, per the per-kind insert semantics in
// SPEC_FULL.md §4.4. Returns the inserted Node, whose SVID() is the
// caller's handle for future PlaceholderRef.VarID references (e.g. a
// PlaceholderGen's SV reused by a later call's PlaceholderFill).
func (g *Graph) InsertNode(spec InsertSpec) (*Node, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	var sv *SV

	switch spec.Kind {
	case KindConstantFill:
		sv = g.allocSV("constant")
		// A constant is resolved the instant it is inserted: there is no
		// engine round-trip to wait on.
		if err := sv.Set(spec.Text); err != nil {
			return nil, err
		}

	case KindPlaceholderFill:
		ph := spec.Placeholder
		switch {
		case ph.ConstValue != nil:
			sv = g.allocSV(ph.Name)
			if err := sv.Set(*ph.ConstValue); err != nil {
				return nil, err
			}
		case ph.VarID != nil:
			if *ph.VarID < 0 || *ph.VarID >= len(g.svs) {
				return nil, parrotos.UserErrorf(parrotos.ErrUnknownVariable, "unknown variable id %d referenced by placeholder %q", *ph.VarID, ph.Name)
			}
			sv = g.svs[*ph.VarID]
		default:
			sv = g.allocSV(ph.Name)
		}

	case KindPlaceholderGen:
		ph := spec.Placeholder
		sv = g.allocSV(ph.Name)

	default:
		return nil, parrotos.UserErrorf(parrotos.ErrParseFailed, "unknown node kind %d", spec.Kind)
	}

	node := &Node{
		id:          len(g.nodes),
		kind:        spec.Kind,
		text:        spec.Text,
		placeholder: spec.Placeholder,
		svID:        sv.ID(),
		edgeAPrev:   -1,
		edgeANext:   -1,
		threadID:    spec.ThreadID,
	}
	g.nodes = append(g.nodes, node)

	if prevID, ok := g.lastNodeOfThread[spec.ThreadID]; ok {
		node.edgeAPrev = prevID
		g.nodes[prevID].edgeANext = node.id
	}
	g.lastNodeOfThread[spec.ThreadID] = node.id

	if spec.Kind == KindConstantFill || spec.Kind == KindPlaceholderFill {
		sv.addConsumer(node.id)
	} else {
		sv.setProducer(node.id)
		g.genTasks[node.id] = &GenTask{
			NodeID:      node.id,
			ThreadID:    node.threadID,
			SVID:        sv.ID(),
			Placeholder: spec.Placeholder,
		}
	}

	return node, nil
}

// isChainResolved walks the edge_a chain backward from n, returning true
// only if every node on the path is a constant or bound to a ready SV.
func (g *Graph) isChainResolved(n *Node) bool {
	cur := n
	for cur != nil {
		if cur.kind != KindConstantFill {
			if !g.svs[cur.svID].Ready() {
				return false
			}
		}
		if cur.edgeAPrev < 0 {
			return true
		}
		cur = g.nodes[cur.edgeAPrev]
	}
	return true
}

// GetReadyTask returns the lowest id_in_graph GenTask whose prefix chain
// is fully resolved and which has not yet been handed out. Returns
// (nil, false) if none qualify.
func (g *Graph) GetReadyTask() (*GenTask, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()

	var best *GenTask
	for id := 0; id < len(g.nodes); id++ {
		task, ok := g.genTasks[id]
		if !ok || task.dispatched {
			continue
		}
		if g.taskReadyLocked(task) {
			best = task
			break
		}
	}
	if best == nil {
		return nil, false
	}
	return best, true
}

// TaskReady reports whether task's prefix chain is fully resolved, for
// callers (the dispatcher) that need to check readiness of one specific
// task rather than scan for the lowest-id ready one.
func (g *Graph) TaskReady(task *GenTask) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.taskReadyLocked(task)
}

func (g *Graph) taskReadyLocked(task *GenTask) bool {
	if task.dispatched {
		return false
	}
	node := g.nodes[task.NodeID]
	if node.edgeAPrev < 0 {
		return true
	}
	return g.isChainResolved(g.nodes[node.edgeAPrev])
}

// MarkDispatched flags a GenTask as handed out, so GetReadyTask never
// returns it again — the at-most-once dispatch invariant (spec.md §8.3).
func (g *Graph) MarkDispatched(task *GenTask) {
	g.mu.Lock()
	defer g.mu.Unlock()
	task.dispatched = true
}

// UnmarkDispatched resets a GenTask's dispatched flag, letting a later
// Dispatch cycle reselect it. PCore calls this when the engine a task was
// assigned to fails mid-flight: the task is re-queued for dispatch to a
// different eligible engine rather than failing its owning process
// outright (spec.md §7).
func (g *Graph) UnmarkDispatched(task *GenTask) {
	g.mu.Lock()
	defer g.mu.Unlock()
	task.dispatched = false
}

// TaskDispatched reports whether task has already been handed out by a
// prior Dispatch cycle.
func (g *Graph) TaskDispatched(task *GenTask) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return task.dispatched
}

// RemoveTask drops a GenTask's bookkeeping once its thread has completed
// or been torn down. The underlying node and SV remain in their arenas;
// only the dispatch-tracking entry is removed.
func (g *Graph) RemoveTask(task *GenTask) {
	g.mu.Lock()
	defer g.mu.Unlock()
	delete(g.genTasks, task.NodeID)
}

// PendingTaskCount returns the number of GenTasks not yet dispatched.
// PCore uses this alongside GetReadyTask to detect deadlock: a non-zero
// pending count with no ready task and nothing in flight elsewhere means
// the graph can never make progress.
func (g *Graph) PendingTaskCount() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	n := 0
	for _, t := range g.genTasks {
		if !t.dispatched {
			n++
		}
	}
	return n
}

// GenTaskForNode returns the GenTask anchored at nodeID, if one is still
// tracked (it is removed once dispatched and reclaimed via RemoveTask).
func (g *Graph) GenTaskForNode(nodeID int) (*GenTask, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	t, ok := g.genTasks[nodeID]
	return t, ok
}

// InDegree reports in_degree(n) = [edge_a_prev?] + [edge_b_prev?], the
// invariant spec.md §8.5 requires to land in {0,1,2}.
func (g *Graph) InDegree(n *Node) int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return n.inDegree(g)
}
