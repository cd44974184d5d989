package process

import (
	"github.com/parrotrun/parrot/internal/graph"
)

// Placeholder is a named argument site of a submitted semantic call. Input
// placeholders are bound to caller-supplied text (constant or a
// previously produced variable); output placeholders are bound to a fresh
// SV a PlaceholderGen node produces into. Its VarID is always resolved by
// the time MakeThread returns the placeholder's id to the caller, since
// nodes are inserted into the graph eagerly rather than on dispatch.
// placeholder_fetch blocks on the SV's own readiness latch and
// placeholder_set writes the SV directly without blocking; a placeholder
// has no separate start signal.
type Placeholder struct {
	ID             int
	Name           string
	ConstValue     *string
	VarID          *int
	SamplingConfig graph.SamplingConfig
	Kind           graph.PlaceholderKind
}

func (p *Placeholder) ref() graph.PlaceholderRef {
	return graph.PlaceholderRef{
		Name:           p.Name,
		ConstValue:     p.ConstValue,
		VarID:          p.VarID,
		SamplingConfig: p.SamplingConfig,
		Kind:           p.Kind,
	}
}
