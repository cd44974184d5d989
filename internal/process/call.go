package process

import "github.com/parrotrun/parrot/internal/graph"

// CallParam describes one argument site named in a Call's body template.
// Exactly one of ConstValue or VarID should be set for an Input parameter
// with a caller-supplied value; leaving both nil on an Input means "bind
// to whatever SV this name already resolves to in the process namespace";
// if the namespace has no such entry yet, MakeThread binds the name to a
// fresh SV that only PlaceholderSet can fill. ExecuteNativeCall rejects
// such an input with ErrParseFailed.
type CallParam struct {
	Name           string                `json:"name"`
	Kind           graph.PlaceholderKind `json:"kind"`
	ConstValue     *string               `json:"const_value,omitempty"`
	VarID          *int                  `json:"var_id,omitempty"`
	SamplingConfig graph.SamplingConfig  `json:"sampling_config"`
}

// Call is a semantic function invocation as submitted by a VM: a prompt
// template body containing `{{name}}` placeholder references, plus the
// parameter bindings for every name the body mentions.
type Call struct {
	Body   string      `json:"body"`
	Params []CallParam `json:"params,omitempty"`
	// Models lists the model families the call is eligible to run
	// against; the dispatcher filters engines by this set.
	Models []string `json:"models,omitempty"`
	// Native routes the call through ExecuteNativeCall instead of
	// MakeThread; Body then names a registry entry rather than a
	// placeholder template.
	Native bool `json:"native,omitempty"`
}

func (c *Call) param(name string) (CallParam, bool) {
	for _, p := range c.Params {
		if p.Name == name {
			return p, true
		}
	}
	return CallParam{}, false
}
