package dispatcher

import (
	"sort"
	"sync"
	"time"

	"github.com/parrotrun/parrot/internal/graph"
	"github.com/parrotrun/parrot/internal/logging"
	"github.com/parrotrun/parrot/internal/process"
)

// Policy selects how threads from different processes compete for
// engines in one dispatch cycle. Within a process, FIFO order always
// applies — this only governs the cross-process tie-break.
type Policy string

const (
	PolicyFIFO              Policy = "fifo"
	PolicyShortestFirst     Policy = "shortest_first"
	PolicyCapabilityMatched Policy = "capability_matched"
)

// StalenessWindow is how old an engine's last-seen timestamp may be
// before the dispatcher pings it for fresh runtime info ahead of
// selection.
const StalenessWindow = 2 * time.Second

type queuedThread struct {
	thread *process.Thread
	proc   *process.Process
	seq    int64
}

// Dispatcher assigns ready, queued threads to live, eligible engines.
// Queueing is FIFO per process; candidates from different processes are
// ordered by the configured cross-process Policy.
type Dispatcher struct {
	mu      sync.Mutex
	policy  Policy
	queues  map[int][]*queuedThread // pid -> FIFO queue
	engines map[int]*Engine
	nextSeq int64

	// PingEngine refreshes one engine's runtime info ahead of selection,
	// e.g. by calling its HTTP ping endpoint. Nil disables probing.
	PingEngine func(*Engine)
}

// New creates a Dispatcher for the given cross-process policy.
func New(policy Policy) *Dispatcher {
	return &Dispatcher{
		policy:  policy,
		queues:  make(map[int][]*queuedThread),
		engines: make(map[int]*Engine),
	}
}

// RegisterEngine adds a newly enrolled engine to the selection pool.
func (d *Dispatcher) RegisterEngine(e *Engine) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.engines[e.ID] = e
}

// RemoveEngine drops an engine, e.g. once PCore sweeps it as dead.
func (d *Dispatcher) RemoveEngine(id int) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.engines, id)
}

// Engines returns a snapshot of the registered engine pool.
func (d *Dispatcher) Engines() []*Engine {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]*Engine, 0, len(d.engines))
	for _, e := range d.engines {
		out = append(out, e)
	}
	return out
}

// PushThread enqueues a thread with an output placeholder to dispatch.
// Native calls never reach the dispatcher (they run inline via
// Process.ExecuteNativeCall), and PCore does not push a semantic call
// whose thread has no GenTask.
func (d *Dispatcher) PushThread(proc *process.Process, t *process.Thread) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.nextSeq++
	d.queues[proc.Pid()] = append(d.queues[proc.Pid()], &queuedThread{thread: t, proc: proc, seq: d.nextSeq})
}

// QueueDepth reports how many threads remain queued for pid.
func (d *Dispatcher) QueueDepth(pid int) int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.queues[pid])
}

// Dispatched pairs a thread with the specific GenTask assigned an engine
// this cycle. A thread with multiple non-adjacent output placeholders
// (e.g. "{{joke}} ... {{explanation}}") owns several GenTasks and appears
// once per task across however many cycles it takes each to become ready.
type Dispatched struct {
	Thread *process.Thread
	Task   *graph.GenTask
}

// Dispatch runs one selection cycle against g, assigning each ready,
// eligible thread's next pending GenTask an engine and returning the set
// dispatched this cycle. A GenTask is returned from Dispatch at most once
// across its lifetime; threads belonging to a dead process are dropped
// silently (logged) rather than dispatched. A thread stays at the head of
// its process's FIFO queue — blocking that process's later calls, as
// spec.md's stateful-context-chain model requires — until every GenTask
// it owns has been dispatched.
func (d *Dispatcher) Dispatch(g *graph.Graph) []Dispatched {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.PingEngine != nil {
		now := time.Now()
		for _, e := range d.engines {
			if e.Dead() {
				continue
			}
			if now.Sub(e.LastSeen()) > StalenessWindow {
				d.PingEngine(e)
			}
		}
	}

	candidates := d.collectHeadsLocked()
	d.order(candidates)

	var dispatched []Dispatched
	for _, c := range candidates {
		// A thread already has a task in flight (dispatched or running)
		// from an earlier cycle; leave it at the head until that
		// completes rather than considering its next task early.
		if c.thread.State == process.ThreadDispatched || c.thread.State == process.ThreadRunning {
			continue
		}

		task := c.thread.NextPendingGenTask(g)
		if task == nil {
			// No GenTask at all, or every one already dispatched; this
			// thread has nothing left for the dispatcher to do.
			d.popHeadLocked(c.proc.Pid())
			continue
		}
		if !g.TaskReady(task) {
			continue
		}

		eng := d.selectEngineLocked(c.thread.Models)
		if eng == nil {
			continue
		}

		id := eng.ID
		c.thread.EngineID = &id
		c.thread.State = process.ThreadDispatched
		g.MarkDispatched(task)
		if c.thread.NextPendingGenTask(g) == nil {
			d.popHeadLocked(c.proc.Pid())
		}
		dispatched = append(dispatched, Dispatched{Thread: c.thread, Task: task})
	}

	return dispatched
}

// collectHeadsLocked returns one candidate per process — the head of its
// FIFO queue — dropping (and permanently popping) any head belonging to
// a now-dead process first.
func (d *Dispatcher) collectHeadsLocked() []*queuedThread {
	var heads []*queuedThread
	for pid, q := range d.queues {
		for len(q) > 0 {
			head := q[0]
			if head.proc.Dead() {
				logging.Op().Info("dropping queued thread for dead process", "pid", pid, "tid", head.thread.TID)
				q = q[1:]
				d.queues[pid] = q
				continue
			}
			heads = append(heads, head)
			break
		}
	}
	return heads
}

func (d *Dispatcher) popHeadLocked(pid int) {
	q := d.queues[pid]
	if len(q) == 0 {
		return
	}
	d.queues[pid] = q[1:]
}

// order sorts candidates per the configured cross-process policy.
// Submission order (seq) is always the final tie-break, so FIFO ordering
// within a process is preserved regardless of policy.
func (d *Dispatcher) order(candidates []*queuedThread) {
	switch d.policy {
	case PolicyShortestFirst:
		sort.SliceStable(candidates, func(i, j int) bool {
			li, lj := len(candidates[i].thread.Nodes), len(candidates[j].thread.Nodes)
			if li != lj {
				return li < lj
			}
			return candidates[i].seq < candidates[j].seq
		})
	case PolicyCapabilityMatched:
		sort.SliceStable(candidates, func(i, j int) bool {
			ei, ej := d.eligibleCountLocked(candidates[i].thread.Models), d.eligibleCountLocked(candidates[j].thread.Models)
			if ei != ej {
				return ei < ej // most-constrained threads get first pick
			}
			return candidates[i].seq < candidates[j].seq
		})
	default: // PolicyFIFO
		sort.SliceStable(candidates, func(i, j int) bool {
			return candidates[i].seq < candidates[j].seq
		})
	}
}

func (d *Dispatcher) eligibleCountLocked(models []string) int {
	n := 0
	for _, e := range d.engines {
		if d.engineEligibleLocked(e, models) {
			n++
		}
	}
	return n
}

func (d *Dispatcher) engineEligibleLocked(e *Engine, models []string) bool {
	if e.Dead() {
		return false
	}
	if time.Since(e.LastSeen()) > StalenessWindow*2 {
		return false
	}
	return e.Admits(models)
}

// selectEngineLocked picks the eligible engine with the lowest projected
// load: fewest running jobs, tie-broken by cache memory used, tie-broken
// by id.
func (d *Dispatcher) selectEngineLocked(models []string) *Engine {
	var best *Engine
	var bestInfo RuntimeInfo
	for _, e := range d.engines {
		if !d.engineEligibleLocked(e, models) {
			continue
		}
		info := e.RuntimeInfo()
		if best == nil ||
			info.NumRunningJobs < bestInfo.NumRunningJobs ||
			(info.NumRunningJobs == bestInfo.NumRunningJobs && info.CacheMemUsedPercent < bestInfo.CacheMemUsedPercent) ||
			(info.NumRunningJobs == bestInfo.NumRunningJobs && info.CacheMemUsedPercent == bestInfo.CacheMemUsedPercent && e.ID < best.ID) {
			best = e
			bestInfo = info
		}
	}
	return best
}
