// Package dispatcher implements the thread dispatcher: per-process FIFO
// queues, a pluggable cross-process policy, and engine health/load-based
// selection.
package dispatcher

import (
	"sync"
	"time"
)

// RuntimeInfo mirrors an inference engine's self-reported load, forwarded
// verbatim from engine_heartbeat and ping responses.
type RuntimeInfo struct {
	NumCachedTokens     int64   `json:"num_cached_tokens"`
	NumRunningJobs      int     `json:"num_running_jobs"`
	CacheMemUsedPercent float64 `json:"cache_mem_used_percent"`
}

// Engine is the dispatcher's view of a registered inference engine. Only
// the PCore loop mutates Dead/RuntimeInfo/LastSeen; the dispatcher reads
// snapshots under the engine's own mutex.
type Engine struct {
	mu sync.Mutex

	ID       int
	Name     string
	Addr     string
	Models   []string // model families this engine can serve

	dead        bool
	runtimeInfo RuntimeInfo
	lastSeen    time.Time
}

// NewEngine constructs a live Engine, last seen now.
func NewEngine(id int, name, addr string, models []string) *Engine {
	return &Engine{ID: id, Name: name, Addr: addr, Models: models, lastSeen: time.Now()}
}

// Touch refreshes last-seen and the engine's reported runtime info,
// called on both engine_heartbeat and a successful ping.
func (e *Engine) Touch(info RuntimeInfo) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.runtimeInfo = info
	e.lastSeen = time.Now()
	e.dead = false
}

// MarkDead flags the engine dead, e.g. after a failed ping.
func (e *Engine) MarkDead() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.dead = true
}

// Dead reports the engine's liveness.
func (e *Engine) Dead() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.dead
}

// LastSeen reports the last successful heartbeat or ping time.
func (e *Engine) LastSeen() time.Time {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.lastSeen
}

// RuntimeInfo returns the engine's last-reported load snapshot.
func (e *Engine) RuntimeInfo() RuntimeInfo {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.runtimeInfo
}

// Admits reports whether this engine's config can serve the given model
// families. An engine with no declared Models admits anything: an empty
// allow-list means unrestricted, not empty.
func (e *Engine) Admits(models []string) bool {
	if len(e.Models) == 0 {
		return true
	}
	for _, want := range models {
		ok := false
		for _, have := range e.Models {
			if have == want {
				ok = true
				break
			}
		}
		if !ok {
			return false
		}
	}
	return true
}
