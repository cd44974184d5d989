package process

import (
	"context"
	"strings"

	"github.com/parrotrun/parrot/internal/graph"
	"github.com/parrotrun/parrot/internal/parrotos"
)

// NativeFunc is a short, stateless computation over resolved string
// arguments, the Go analogue of the original runtime's sandboxed Python
// native call body. Go has no equivalent to executing caller-supplied
// Python inline, so a native call's Body names a function from a small
// built-in registry instead of carrying template text.
type NativeFunc func(args map[string]string) (string, error)

var nativeFuncs = map[string]NativeFunc{
	"concat": func(args map[string]string) (string, error) {
		var b strings.Builder
		for _, v := range args {
			b.WriteString(v)
		}
		return b.String(), nil
	},
	"uppercase": func(args map[string]string) (string, error) {
		return strings.ToUpper(args["text"]), nil
	},
	"trim": func(args map[string]string) (string, error) {
		return strings.TrimSpace(args["text"]), nil
	},
}

// ExecuteNativeCall rewrites call against the process namespace, resolves
// every input argument (blocking on any that reference a not-yet-ready
// variable), runs the named built-in function, and binds the result to
// the call's output placeholder, if any. Unlike MakeThread, this runs
// synchronously and touches no dispatcher.
func (p *Process) ExecuteNativeCall(call *Call) error {
	if err := p.CheckLive(); err != nil {
		return err
	}

	rewritten := p.rewriteCall(call)

	args := make(map[string]string)
	var output *CallParam
	for i := range rewritten.Params {
		param := rewritten.Params[i]
		switch param.Kind {
		case graph.PlaceholderInput:
			val, err := p.resolveInputValue(param)
			if err != nil {
				return err
			}
			args[param.Name] = val
		case graph.PlaceholderOutput:
			output = &rewritten.Params[i]
		}
	}

	fn, ok := nativeFuncs[rewritten.Body]
	if !ok {
		return parrotos.UserErrorf(parrotos.ErrParseFailed, "unknown native function %q", rewritten.Body)
	}
	result, err := fn(args)
	if err != nil {
		return err
	}
	if output == nil {
		return nil
	}

	p.mu.Lock()
	tid := p.nextThreadID
	p.nextThreadID++
	p.mu.Unlock()

	node, err := p.g.InsertNode(graph.InsertSpec{Kind: graph.KindConstantFill, Text: result, ThreadID: tid})
	if err != nil {
		return err
	}
	p.registerPlaceholder(*output, node)
	return nil
}

func (p *Process) resolveInputValue(param CallParam) (string, error) {
	if param.ConstValue != nil {
		return *param.ConstValue, nil
	}
	if param.VarID == nil {
		return "", parrotos.UserErrorf(parrotos.ErrParseFailed, "native call input %q has no bound value", param.Name)
	}
	sv, err := p.g.GetSV(*param.VarID)
	if err != nil {
		return "", err
	}
	return sv.Get(context.Background())
}
