package process

import (
	"context"
	"fmt"
	"time"

	"github.com/parrotrun/parrot/internal/engineclient"
	"github.com/parrotrun/parrot/internal/graph"
	"github.com/parrotrun/parrot/internal/logging"
)

// ExecuteTask drives one of a dispatched thread's GenTasks to completion
// against the engine client bound to its currently assigned engine:
// filling every node ahead of task's Gen node into a fresh engine-side
// context, generating text for it, and setting its semantic variable. A
// thread with multiple non-adjacent output placeholders owns multiple
// GenTasks, each dispatched and executed independently as it becomes
// ready. PCore calls this once per GenTask returned from
// Dispatcher.Dispatch, per spec.md §4.7 step 3 ("instruct the owning
// Process to begin execution"); on failure it returns the error to the
// caller instead of touching thread/process state itself, since an
// engine RPC failure's retry-or-fail decision belongs to PCore (spec.md
// §7), not to the execution step.
func (p *Process) ExecuteTask(ctx context.Context, t *Thread, task *graph.GenTask, engineName string, client *engineclient.Client) error {
	p.mu.Lock()
	t.State = ThreadRunning
	p.mu.Unlock()

	start := time.Now()
	contextID := p.allocContextID()

	err := p.runTaskChain(ctx, t, task, contextID, client)

	if err == nil {
		p.mu.Lock()
		if t.HasRemainingGenTasks(p.g) {
			t.State = ThreadQueued
		} else {
			t.State = ThreadDone
		}
		p.mu.Unlock()
	}

	go client.FreeContext(context.Background(), contextID)

	var engineID int
	if t.EngineID != nil {
		engineID = *t.EngineID
	}
	errStr := ""
	if err != nil {
		errStr = err.Error()
	}
	logging.Default().Log(&logging.ThreadLog{
		ThreadID:   fmt.Sprintf("%d", t.TID),
		Pid:        t.Pid,
		EngineID:   engineID,
		EngineName: engineName,
		DurationMs: time.Since(start).Milliseconds(),
		Success:    err == nil,
		Error:      errStr,
	})

	return err
}

// runTaskChain fills every node up to and including task's Gen node into
// a fresh engine context, generates at the Gen node, and sets its SV.
// Nodes belonging to a different GenTask in the same thread — an earlier
// output the chain already resolved — are re-filled as ordinary context,
// the same as a PlaceholderFill, since each dispatch attempt gets its own
// context and may land on a different engine than an earlier attempt or
// an earlier GenTask in the same thread did.
func (p *Process) runTaskChain(ctx context.Context, t *Thread, task *graph.GenTask, contextID int, client *engineclient.Client) error {
	for _, node := range t.Nodes {
		switch node.Kind() {
		case graph.KindConstantFill:
			if err := client.Fill(ctx, contextID, node.Text()); err != nil {
				return err
			}

		case graph.KindPlaceholderFill:
			sv, err := p.g.GetSV(node.SVID())
			if err != nil {
				return err
			}
			text, err := sv.Get(ctx)
			if err != nil {
				return err
			}
			if err := client.Fill(ctx, contextID, text); err != nil {
				return err
			}

		case graph.KindPlaceholderGen:
			if node.ID() != task.NodeID {
				sv, err := p.g.GetSV(node.SVID())
				if err != nil {
					return err
				}
				text, err := sv.Get(ctx)
				if err != nil {
					return err
				}
				if err := client.Fill(ctx, contextID, text); err != nil {
					return err
				}
				continue
			}

			resp, err := client.Generate(ctx, contextID, node.Placeholder().SamplingConfig)
			if err != nil {
				return err
			}
			sv, err := p.g.GetSV(node.SVID())
			if err != nil {
				return err
			}
			if err := sv.Set(resp.Text); err != nil {
				return err
			}
			p.g.RemoveTask(task)
			return nil
		}
	}
	return nil
}
