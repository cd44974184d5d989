// Package process implements the per-VM Process abstraction: namespace
// rewriting, thread creation from a parsed call body, placeholder
// set/fetch, and thread monitoring. A Process exclusively owns its
// Placeholders and Threads; it shares the Graph with every other process
// registered against the same PCore.
package process

import (
	"context"
	"sync"

	"github.com/parrotrun/parrot/internal/graph"
	"github.com/parrotrun/parrot/internal/parrotos"
)

// Process is the per-VM owner of placeholders, namespace rewrites, and
// thread submission.
type Process struct {
	pid int
	g   *graph.Graph

	mu              sync.Mutex
	placeholdersMap map[int]*Placeholder
	nextPlaceholder int
	threads         map[int]*Thread
	nextThreadID    int
	nextContextID   int
	namespace       map[string]int // name -> SV id, for cross-call variable reuse within this VM

	dead bool
	bad  bool
	err  error
}

// New creates a Process bound to the shared Graph.
func New(pid int, g *graph.Graph) *Process {
	return &Process{
		pid:             pid,
		g:               g,
		placeholdersMap: make(map[int]*Placeholder),
		threads:         make(map[int]*Thread),
		namespace:       make(map[string]int),
	}
}

// Pid returns the process's VM id.
func (p *Process) Pid() int { return p.pid }

// Live reports !dead && !bad, per spec.md §3.
func (p *Process) Live() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return !p.dead && !p.bad
}

// Dead reports whether the process has been torn down.
func (p *Process) Dead() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.dead
}

// MarkDead flags the process dead; every later CheckLive fails with
// ErrDeadProcess. It does not wake a PlaceholderFetch already blocked on
// its SV: that call returns only when the SV resolves (and then reports
// ErrDeadProcess from its post-wait liveness check) or its ctx is done.
func (p *Process) MarkDead() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.dead {
		return
	}
	p.dead = true
}

// MarkBad flags the process bad with a captured exception. The next
// check_process call re-raises it to the requesting VM.
func (p *Process) MarkBad(err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.bad {
		return
	}
	p.bad = true
	p.err = err
}

// CheckLive fails with ErrDeadProcess if dead, or re-raises bad_exception
// if bad. Called at the top of every handler that touches process state.
func (p *Process) CheckLive() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.dead {
		return parrotos.UserErrorf(parrotos.ErrDeadProcess, "process %d is dead", p.pid)
	}
	if p.bad {
		return p.err
	}
	return nil
}

func (p *Process) rewriteCall(call *Call) *Call {
	rewritten := &Call{Body: call.Body, Models: call.Models}
	for _, param := range call.Params {
		if param.Kind == graph.PlaceholderInput && param.ConstValue == nil && param.VarID == nil {
			if id, ok := p.namespace[param.Name]; ok {
				vid := id
				param.VarID = &vid
			}
		}
		rewritten.Params = append(rewritten.Params, param)
	}
	return rewritten
}

// MakeThread rewrites call against the process namespace, parses its body
// into a chain of ConstantFill/PlaceholderFill/PlaceholderGen nodes,
// inserts them into the shared Graph, and returns the resulting Thread
// queued in state QUEUED.
func (p *Process) MakeThread(call *Call) (*Thread, error) {
	p.mu.Lock()
	if p.dead || p.bad {
		p.mu.Unlock()
		return nil, parrotos.UserErrorf(parrotos.ErrDeadProcess, "process %d cannot submit calls", p.pid)
	}
	rewritten := p.rewriteCall(call)
	tid := p.nextThreadID
	p.nextThreadID++
	p.mu.Unlock()

	pieces, err := parseBody(rewritten)
	if err != nil {
		return nil, err
	}

	thread := &Thread{TID: tid, Pid: p.pid, State: ThreadQueued, Models: rewritten.Models}

	for _, piece := range pieces {
		switch piece.kind {
		case pieceConstant:
			node, err := p.g.InsertNode(graph.InsertSpec{Kind: graph.KindConstantFill, Text: piece.text, ThreadID: tid})
			if err != nil {
				return nil, err
			}
			thread.Nodes = append(thread.Nodes, node)

		case piecePlaceholder:
			param := piece.placeholder
			var kind graph.Kind
			if param.Kind == graph.PlaceholderOutput {
				kind = graph.KindPlaceholderGen
			} else {
				kind = graph.KindPlaceholderFill
			}
			node, err := p.g.InsertNode(graph.InsertSpec{
				Kind: kind,
				Placeholder: graph.PlaceholderRef{
					Name:           param.Name,
					ConstValue:     param.ConstValue,
					VarID:          param.VarID,
					SamplingConfig: param.SamplingConfig,
					Kind:           param.Kind,
				},
				ThreadID: tid,
			})
			if err != nil {
				return nil, err
			}
			thread.Nodes = append(thread.Nodes, node)
			if kind == graph.KindPlaceholderGen {
				if gt, ok := p.g.GenTaskForNode(node.ID()); ok {
					thread.genTasks = append(thread.genTasks, gt)
				}
			}

			p.registerPlaceholder(param, node)
		}
	}

	p.mu.Lock()
	p.threads[tid] = thread
	p.mu.Unlock()

	return thread, nil
}

func (p *Process) registerPlaceholder(param CallParam, node *graph.Node) {
	p.mu.Lock()
	defer p.mu.Unlock()

	id := p.nextPlaceholder
	p.nextPlaceholder++

	ph := &Placeholder{
		ID:             id,
		Name:           param.Name,
		ConstValue:     param.ConstValue,
		VarID:          intPtr(node.SVID()),
		SamplingConfig: param.SamplingConfig,
		Kind:           param.Kind,
	}
	p.placeholdersMap[id] = ph
	p.namespace[param.Name] = node.SVID()
}

func intPtr(i int) *int { return &i }

// allocContextID hands out a fresh engine-side context id for one
// GenTask execution attempt. Each dispatch attempt gets its own context
// (rather than reusing one per thread) since a thread's later GenTask, or
// a retried attempt after an engine failure, may land on a different
// engine than an earlier attempt did. The pid is folded in so two
// processes sharing the same engine never collide on context id.
func (p *Process) allocContextID() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.nextContextID++
	return p.pid*1_000_000 + p.nextContextID
}

// PlaceholderSet sets the placeholder's underlying SV to content. Fails
// with AlreadySet if the SV has already been written, per spec.md's
// one-shot write invariant.
func (p *Process) PlaceholderSet(ctx context.Context, phID int, content string) error {
	ph, err := p.lookupPlaceholder(phID)
	if err != nil {
		return err
	}

	if err := p.CheckLive(); err != nil {
		return err
	}

	sv, err := p.g.GetSV(*ph.VarID)
	if err != nil {
		return err
	}
	return sv.Set(content)
}

// PlaceholderFetch blocks until the placeholder's underlying SV is ready
// (or ctx is done), rechecking process health since it may have gone bad
// while the fetch was waiting.
func (p *Process) PlaceholderFetch(ctx context.Context, phID int) (string, error) {
	ph, err := p.lookupPlaceholder(phID)
	if err != nil {
		return "", err
	}

	if err := p.CheckLive(); err != nil {
		return "", err
	}

	sv, err := p.g.GetSV(*ph.VarID)
	if err != nil {
		return "", err
	}
	content, err := sv.Get(ctx)
	if err != nil {
		return "", err
	}
	if err := p.CheckLive(); err != nil {
		return "", err
	}
	return content, nil
}

func (p *Process) lookupPlaceholder(phID int) (*Placeholder, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	ph, ok := p.placeholdersMap[phID]
	if !ok {
		return nil, parrotos.UserErrorf(parrotos.ErrUnknownPlaceholder, "unknown placeholder id %d for pid %d", phID, p.pid)
	}
	return ph, nil
}

// Threads returns a snapshot of the process's threads.
func (p *Process) Threads() []*Thread {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]*Thread, 0, len(p.threads))
	for _, t := range p.threads {
		out = append(out, t)
	}
	return out
}

// MonitorThreads reclaims threads that have finished, one way or another.
// A FAILED thread does not poison the owning process: per spec.md §7, an
// ordinary engine RPC failure marks the engine dead and re-queues the
// thread elsewhere, and a permanently stuck thread (deadlock, or retries
// exhausted) has already had its own semantic variables failed directly
// via FailTask/FailThread — so by the time a thread reaches FAILED here,
// every other waiter in this process is unaffected and nothing further
// needs to happen beyond dropping its bookkeeping.
func (p *Process) MonitorThreads() {
	p.mu.Lock()
	defer p.mu.Unlock()

	for tid, t := range p.threads {
		switch t.State {
		case ThreadDone, ThreadFailed:
			delete(p.threads, tid)
		}
	}
}

// RequeueThread resets a thread for another dispatch attempt after the
// engine it was assigned to fails mid-flight. Its current GenTask must
// already have been unmarked dispatched (Graph.UnmarkDispatched) by the
// caller so a later Dispatch cycle can reselect it.
func (p *Process) RequeueThread(t *Thread) {
	p.mu.Lock()
	defer p.mu.Unlock()
	t.EngineID = nil
	t.State = ThreadQueued
}

// FailTask marks t FAILED and fails task's own semantic variable with
// err, waking any blocked PlaceholderFetch caller without touching the
// rest of the process — used once a thread's dispatch retries are
// exhausted after repeated engine failures (spec.md §7, ErrNoEligibleEngine).
func (p *Process) FailTask(t *Thread, task *graph.GenTask, err error) {
	p.mu.Lock()
	t.State = ThreadFailed
	p.mu.Unlock()

	if sv, svErr := p.g.GetSV(task.SVID); svErr == nil {
		_ = sv.SetError(err)
	}
	p.g.RemoveTask(task)
}

// FailThread marks t FAILED and fails every semantic variable produced by
// its GenTasks with err — used by deadlock detection, where the thread's
// chain can never make further progress regardless of retries. Tasks that
// already resolved are left alone: SetError is a no-op once a SV is set.
func (p *Process) FailThread(t *Thread, err error) {
	p.mu.Lock()
	t.State = ThreadFailed
	tasks := append([]*graph.GenTask(nil), t.genTasks...)
	p.mu.Unlock()

	for _, task := range tasks {
		if sv, svErr := p.g.GetSV(task.SVID); svErr == nil {
			_ = sv.SetError(err)
		}
		p.g.RemoveTask(task)
	}
}
