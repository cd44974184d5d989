package graph

import (
	"context"
	"sync"

	"github.com/parrotrun/parrot/internal/parrotos"
)

// SV is a semantic variable: a one-shot write, many-reader latch carrying
// the text produced for one placeholder slot. At most one producer ever
// calls Set; once set, Content is immutable and every concurrent Get
// observes the identical text.
type SV struct {
	id   int
	name string

	mu          sync.Mutex
	producerID  int // index of the producing node in the owning Graph's node arena, -1 if none
	consumerIDs []int

	content string
	err     error
	ready   *latch
}

func newSV(id int, name string) *SV {
	return &SV{
		id:         id,
		name:       name,
		producerID: -1,
		ready:      newLatch(),
	}
}

// ID returns the SV's arena index.
func (v *SV) ID() int { return v.id }

// Name returns the SV's human label.
func (v *SV) Name() string { return v.name }

// Set stores text and wakes every waiter. Returns ErrAlreadySet if the SV
// was already set; this is the only failure mode, and it is an internal
// invariant violation since the graph insert logic is responsible for
// never producing a node twice for the same SV.
func (v *SV) Set(text string) error {
	v.mu.Lock()
	if v.ready.isSet() {
		v.mu.Unlock()
		return parrotos.InternalErrorf(parrotos.ErrAlreadySet, "semantic variable %q (id %d) already set", v.name, v.id)
	}
	v.content = text
	v.mu.Unlock()

	// fire outside the lock: waiters must never observe content before
	// the write that produced it, but they also must not run inline
	// inside the critical section that wrote it.
	v.ready.fire()
	return nil
}

// SetError fails the SV with err and wakes every waiter instead of
// delivering content, used when the thread that was going to produce this
// SV's value exhausts its dispatch retries or is caught in a deadlock —
// a specific stuck chain fails its own waiters without requiring the
// owning process to be marked bad (spec.md §7). Like Set, it is one-shot.
func (v *SV) SetError(err error) error {
	v.mu.Lock()
	if v.ready.isSet() {
		v.mu.Unlock()
		return parrotos.InternalErrorf(parrotos.ErrAlreadySet, "semantic variable %q (id %d) already set", v.name, v.id)
	}
	v.err = err
	v.mu.Unlock()

	v.ready.fire()
	return nil
}

// Get suspends the caller until the SV is ready, then returns its content,
// or the error SetError recorded if the SV was failed instead of set. It
// returns ctx's error if ctx is cancelled first.
func (v *SV) Get(ctx context.Context) (string, error) {
	select {
	case <-v.ready.waitChan():
		v.mu.Lock()
		defer v.mu.Unlock()
		if v.err != nil {
			return "", v.err
		}
		return v.content, nil
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

// Ready reports whether Set or SetError has been called, without blocking.
func (v *SV) Ready() bool {
	return v.ready.isSet()
}

func (v *SV) setProducer(nodeID int) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.producerID = nodeID
}

func (v *SV) addConsumer(nodeID int) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.consumerIDs = append(v.consumerIDs, nodeID)
}

func (v *SV) producer() int {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.producerID
}

func (v *SV) consumers() []int {
	v.mu.Lock()
	defer v.mu.Unlock()
	out := make([]int, len(v.consumerIDs))
	copy(out, v.consumerIDs)
	return out
}
