// Package pcore implements the OS-layer coordinator: VM/engine
// registration, heartbeat bookkeeping, call submission, and the main
// expire/sweep/dispatch/monitor loop.
package pcore

import (
	"context"
	"sync"
	"time"

	"github.com/parrotrun/parrot/internal/config"
	"github.com/parrotrun/parrot/internal/dispatcher"
	"github.com/parrotrun/parrot/internal/engineclient"
	"github.com/parrotrun/parrot/internal/graph"
	"github.com/parrotrun/parrot/internal/idpool"
	"github.com/parrotrun/parrot/internal/logging"
	"github.com/parrotrun/parrot/internal/parrotos"
	"github.com/parrotrun/parrot/internal/process"
)

// VMRuntimeInfo is returned from vm_heartbeat.
type VMRuntimeInfo struct {
	MemoryUsedMB       int64 `json:"memory_used_mb"`
	NumThreads         int   `json:"num_threads"`
	NumTokensGenerated int64 `json:"num_tokens_generated"`
}

// EngineRegistration is the config a caller posts to register_engine.
type EngineRegistration struct {
	Name   string   `json:"name"`
	Addr   string   `json:"addr"`
	Models []string `json:"models"`
}

// PCore is the OS-layer coordinator: it owns every Process and Engine,
// the shared Graph, the Dispatcher, and the id pools backing pid/engine
// allocation.
type PCore struct {
	cfg config.Config

	mu             sync.Mutex
	processes      map[int]*process.Process
	procLastSeen   map[int]time.Time
	engines        map[int]*dispatcher.Engine
	engineClients  map[int]*engineclient.Client
	engineLastSeen map[int]time.Time

	// taskAttempts counts dispatch attempts per GenTask across engine RPC
	// failures, so a thread is only failed with ErrNoEligibleEngine once
	// it has exhausted cfg.Dispatcher.MaxDispatchRetries re-queues.
	taskAttempts map[*graph.GenTask]int

	pidPool    *idpool.Pool
	enginePool *idpool.Pool

	g          *graph.Graph
	dispatcher *dispatcher.Dispatcher
}

// New creates a PCore wired from cfg. The returned PCore owns no
// background goroutine until Run is called.
func New(cfg config.Config) *PCore {
	d := dispatcher.New(dispatcher.Policy(cfg.Dispatcher.CrossProcessPolicy))

	pc := &PCore{
		cfg:            cfg,
		processes:      make(map[int]*process.Process),
		procLastSeen:   make(map[int]time.Time),
		engines:        make(map[int]*dispatcher.Engine),
		engineClients:  make(map[int]*engineclient.Client),
		engineLastSeen: make(map[int]time.Time),
		taskAttempts:   make(map[*graph.GenTask]int),
		pidPool:        idpool.New(cfg.IDPool.MaxProcesses),
		enginePool:     idpool.New(cfg.IDPool.MaxEngines),
		g:              graph.New(),
		dispatcher:     d,
	}

	d.PingEngine = pc.pingEngine
	return pc
}

// RegisterVM allocates a pid and creates its owning Process.
func (pc *PCore) RegisterVM() (int, error) {
	pc.mu.Lock()
	defer pc.mu.Unlock()

	pid, err := pc.pidPool.Allocate()
	if err != nil {
		return 0, err
	}
	pc.processes[pid] = process.New(pid, pc.g)
	pc.procLastSeen[pid] = time.Now()
	logging.Op().Info("VM registered", "pid", pid)
	return pid, nil
}

// RegisterEngine allocates an engine id and enrolls it with the
// dispatcher.
func (pc *PCore) RegisterEngine(reg EngineRegistration) (int, error) {
	pc.mu.Lock()
	defer pc.mu.Unlock()

	id, err := pc.enginePool.Allocate()
	if err != nil {
		return 0, err
	}
	eng := dispatcher.NewEngine(id, reg.Name, reg.Addr, reg.Models)
	pc.engines[id] = eng
	pc.engineClients[id] = engineclient.New(reg.Addr, pc.cfg.EngineClient)
	pc.engineLastSeen[id] = time.Now()
	pc.dispatcher.RegisterEngine(eng)
	logging.Op().Info("engine registered", "engine_id", id, "name", reg.Name, "addr", reg.Addr)
	return id, nil
}

// checkProcess fails with ErrUnknownPid or ErrDeadProcess, or re-raises a
// captured bad_exception, mirroring the original pcore.py's
// _check_process gate run at the top of every VM-facing handler.
func (pc *PCore) checkProcess(pid int) (*process.Process, error) {
	proc, ok := pc.processes[pid]
	if !ok {
		return nil, parrotos.UserErrorf(parrotos.ErrUnknownPid, "unknown pid %d", pid)
	}
	if err := proc.CheckLive(); err != nil {
		return nil, err
	}
	return proc, nil
}

// VMHeartbeat refreshes a VM's liveness and reports its current load.
func (pc *PCore) VMHeartbeat(pid int) (VMRuntimeInfo, error) {
	pc.mu.Lock()
	defer pc.mu.Unlock()

	proc, err := pc.checkProcess(pid)
	if err != nil {
		return VMRuntimeInfo{}, err
	}
	pc.procLastSeen[pid] = time.Now()

	info := VMRuntimeInfo{NumThreads: len(proc.Threads())}
	return info, nil
}

// EngineHeartbeat refreshes an engine's liveness and load snapshot.
func (pc *PCore) EngineHeartbeat(engineID int, info dispatcher.RuntimeInfo) error {
	pc.mu.Lock()
	defer pc.mu.Unlock()

	eng, ok := pc.engines[engineID]
	if !ok {
		return parrotos.UserErrorf(parrotos.ErrUnknownEngine, "unknown engine_id %d", engineID)
	}
	eng.Touch(info)
	pc.engineLastSeen[engineID] = time.Now()
	return nil
}

// SubmitSemanticCall rewrites call against pid's namespace, converts it
// to a thread, and pushes that thread onto the dispatcher's queue.
func (pc *PCore) SubmitSemanticCall(pid int, call *process.Call) (*process.Thread, error) {
	pc.mu.Lock()
	proc, err := pc.checkProcess(pid)
	pc.mu.Unlock()
	if err != nil {
		return nil, err
	}

	thread, err := proc.MakeThread(call)
	if err != nil {
		return nil, err
	}
	if thread.GenTask() != nil {
		pc.dispatcher.PushThread(proc, thread)
	}
	logging.Op().Info("call submitted", "pid", pid, "tid", thread.TID)
	return thread, nil
}

// SubmitNativeCall rewrites call against pid's namespace and executes it
// immediately as a fast-path, stateless computation.
func (pc *PCore) SubmitNativeCall(pid int, call *process.Call) error {
	pc.mu.Lock()
	proc, err := pc.checkProcess(pid)
	pc.mu.Unlock()
	if err != nil {
		return err
	}
	return proc.ExecuteNativeCall(call)
}

// PlaceholderSet forwards to the owning process.
func (pc *PCore) PlaceholderSet(ctx context.Context, pid, phID int, content string) error {
	pc.mu.Lock()
	proc, err := pc.checkProcess(pid)
	pc.mu.Unlock()
	if err != nil {
		return err
	}
	return proc.PlaceholderSet(ctx, phID, content)
}

// PlaceholderFetch forwards to the owning process.
func (pc *PCore) PlaceholderFetch(ctx context.Context, pid, phID int) (string, error) {
	pc.mu.Lock()
	proc, err := pc.checkProcess(pid)
	pc.mu.Unlock()
	if err != nil {
		return "", err
	}
	return proc.PlaceholderFetch(ctx, phID)
}

func (pc *PCore) pingEngine(e *dispatcher.Engine) {
	pc.mu.Lock()
	client, ok := pc.engineClients[e.ID]
	pc.mu.Unlock()
	if !ok {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), pc.cfg.EngineClient.RequestTimeout)
	defer cancel()

	resp, err := client.Ping(ctx)
	if err != nil || !resp.Pong {
		e.MarkDead()
		return
	}
	e.Touch(resp.RuntimeInfo)

	pc.mu.Lock()
	pc.engineLastSeen[e.ID] = time.Now()
	pc.mu.Unlock()
}

// checkExpired marks processes/engines whose last-seen time exceeds the
// configured heartbeat timeout as dead.
func (pc *PCore) checkExpired() {
	pc.mu.Lock()
	defer pc.mu.Unlock()

	now := time.Now()
	for pid, last := range pc.procLastSeen {
		if now.Sub(last) > pc.cfg.PCore.VMHeartbeatTimeout {
			pc.processes[pid].MarkDead()
		}
	}
	for id, last := range pc.engineLastSeen {
		if now.Sub(last) > pc.cfg.PCore.EngineHeartbeatTimeout {
			pc.engines[id].MarkDead()
		}
	}
}

// sweepDeadClients removes dead processes and engines, returning their
// ids to the pools.
func (pc *PCore) sweepDeadClients() {
	pc.mu.Lock()
	defer pc.mu.Unlock()

	for pid, proc := range pc.processes {
		if !proc.Dead() {
			continue
		}
		delete(pc.processes, pid)
		delete(pc.procLastSeen, pid)
		pc.pidPool.Free(pid)
		logging.Op().Info("VM disconnected", "pid", pid)
	}

	for id, eng := range pc.engines {
		if !eng.Dead() {
			continue
		}
		delete(pc.engines, id)
		delete(pc.engineClients, id)
		delete(pc.engineLastSeen, id)
		pc.dispatcher.RemoveEngine(id)
		pc.enginePool.Free(id)
		logging.Op().Info("engine disconnected", "engine_id", id, "name", eng.Name)
	}
}

// liveProcesses snapshots the current process set for monitor_threads,
// run outside the main mutex since each Process guards its own state.
func (pc *PCore) liveProcesses() []*process.Process {
	pc.mu.Lock()
	defer pc.mu.Unlock()
	out := make([]*process.Process, 0, len(pc.processes))
	for _, p := range pc.processes {
		out = append(out, p)
	}
	return out
}

// tick runs one iteration of the main loop: check_expired,
// sweep_dead_clients, dispatch, monitor_threads, detect_deadlock.
func (pc *PCore) tick() {
	pc.checkExpired()
	pc.sweepDeadClients()

	dispatched := pc.dispatcher.Dispatch(pc.g)
	for _, d := range dispatched {
		pc.beginExecution(d.Thread, d.Task)
	}

	for _, p := range pc.liveProcesses() {
		p.MonitorThreads()
	}

	pc.detectDeadlock()
}

// beginExecution looks up the task's owning process and its assigned
// engine's client, then hands the GenTask off to run in its own goroutine
// — spec.md §4.7 step 3, "instruct the owning Process to begin
// execution." The main loop never blocks on an engine round-trip. On an
// engine RPC failure the engine (never the process) is marked dead, and
// the thread is re-queued to a different engine on the next natural
// dispatch cycle, bounded by cfg.Dispatcher.MaxDispatchRetries before it
// is failed with ErrNoEligibleEngine (spec.md §7).
func (pc *PCore) beginExecution(t *process.Thread, task *graph.GenTask) {
	pc.mu.Lock()
	proc, ok := pc.processes[t.Pid]
	var client *engineclient.Client
	var eng *dispatcher.Engine
	var engineName string
	if t.EngineID != nil {
		client = pc.engineClients[*t.EngineID]
		if e, found := pc.engines[*t.EngineID]; found {
			eng = e
			engineName = e.Name
		}
	}
	pc.mu.Unlock()

	if !ok || client == nil {
		logging.Op().Error("cannot begin execution: missing process or engine client", "tid", t.TID, "pid", t.Pid)
		return
	}

	logging.Op().Debug("thread dispatched", "tid", t.TID, "pid", t.Pid, "engine_id", *t.EngineID)
	go pc.runAndHandleFailure(proc, t, task, eng, engineName, client)
}

// runAndHandleFailure drives one GenTask through ExecuteTask and, on an
// engine RPC error, decides whether to re-queue the thread for another
// engine or give up and fail it, per the retry policy above.
func (pc *PCore) runAndHandleFailure(proc *process.Process, t *process.Thread, task *graph.GenTask, eng *dispatcher.Engine, engineName string, client *engineclient.Client) {
	err := proc.ExecuteTask(context.Background(), t, task, engineName, client)
	if err == nil {
		return
	}

	if eng != nil {
		eng.MarkDead()
	}

	pc.mu.Lock()
	pc.taskAttempts[task]++
	attempts := pc.taskAttempts[task]
	maxRetries := pc.cfg.Dispatcher.MaxDispatchRetries
	pc.mu.Unlock()

	if attempts <= maxRetries {
		logging.Op().Info("engine failed, re-queueing thread", "tid", t.TID, "pid", t.Pid, "attempt", attempts, "err", err)
		pc.g.UnmarkDispatched(task)
		proc.RequeueThread(t)
		pc.dispatcher.PushThread(proc, t)
		return
	}

	logging.Op().Error("thread exhausted dispatch retries", "tid", t.TID, "pid", t.Pid, "attempts", attempts, "err", err)
	proc.FailTask(t, task, parrotos.UserErrorf(parrotos.ErrNoEligibleEngine, "tid %d: no eligible engine after %d attempts: %v", t.TID, attempts, err))

	pc.mu.Lock()
	delete(pc.taskAttempts, task)
	pc.mu.Unlock()
}

// anyThreadInFlight reports whether any live process has a thread
// currently dispatched to or running on an engine — deadlock detection
// must never fire while such a thread could still resolve the graph.
func (pc *PCore) anyThreadInFlight() bool {
	for _, p := range pc.liveProcesses() {
		for _, t := range p.Threads() {
			if t.State == process.ThreadDispatched || t.State == process.ThreadRunning {
				return true
			}
		}
	}
	return false
}

// detectDeadlock fails every queued, stuck thread with ErrDeadlock once
// the graph can provably never make further progress: pending GenTasks
// remain, none is ready, and nothing is in flight to resolve one (spec.md
// §4.4, §8 scenario 5 — a placeholder whose var_id producer never fires).
func (pc *PCore) detectDeadlock() {
	if pc.g.PendingTaskCount() == 0 {
		return
	}
	if _, ready := pc.g.GetReadyTask(); ready {
		return
	}
	if pc.anyThreadInFlight() {
		return
	}

	for _, p := range pc.liveProcesses() {
		for _, t := range p.Threads() {
			if t.State != process.ThreadQueued || !t.HasGenTasks() {
				continue
			}
			logging.Op().Error("deadlock detected, failing stuck thread", "tid", t.TID, "pid", p.Pid())
			p.FailThread(t, parrotos.InternalErrorf(parrotos.ErrDeadlock, "thread %d deadlocked: no task ready and nothing in flight", t.TID))
		}
	}
}

// Run drives the main loop at OS_LOOP_INTERVAL until ctx is done.
func (pc *PCore) Run(ctx context.Context) {
	interval := pc.cfg.PCore.LoopInterval
	if interval <= 0 {
		interval = 100 * time.Microsecond
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			pc.tick()
		}
	}
}
