package graph

import (
	"encoding/json"
	"fmt"
)

// PlaceholderKind distinguishes an input argument site from an output one.
type PlaceholderKind int

const (
	PlaceholderInput PlaceholderKind = iota
	PlaceholderOutput
)

func (k PlaceholderKind) String() string {
	if k == PlaceholderOutput {
		return "output"
	}
	return "input"
}

// MarshalJSON renders a placeholder kind as the string a submit_call caller
// writes in a call's params, rather than its internal int encoding.
func (k PlaceholderKind) MarshalJSON() ([]byte, error) {
	return json.Marshal(k.String())
}

// UnmarshalJSON accepts "input"/"output", case-insensitively.
func (k *PlaceholderKind) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	switch s {
	case "input", "Input", "INPUT":
		*k = PlaceholderInput
	case "output", "Output", "OUTPUT":
		*k = PlaceholderOutput
	default:
		return fmt.Errorf("unknown placeholder kind %q", s)
	}
	return nil
}

// SamplingConfig controls how a PlaceholderGen node's engine call samples
// tokens. Mirrors the fields an inference engine actually consumes; see
// SPEC_FULL.md §4.8.
type SamplingConfig struct {
	MaxGenLength  int      `json:"max_gen_length"`
	Temperature   float64  `json:"temperature"`
	TopP          float64  `json:"top_p"`
	StopSequences []string `json:"stop_sequences,omitempty"`
}

// PlaceholderRef is the subset of a Process's Placeholder that the graph
// needs to decide SV binding on insert. Process owns the richer
// Placeholder (with its id and start_event); it builds a PlaceholderRef
// per node when it parses a call body.
type PlaceholderRef struct {
	Name           string
	ConstValue     *string
	VarID          *int
	SamplingConfig SamplingConfig
	Kind           PlaceholderKind
}

// Kind tags which variant a Node is, so callers can switch without a type
// assertion chain.
type Kind int

const (
	KindConstantFill Kind = iota
	KindPlaceholderFill
	KindPlaceholderGen
)

// Node is one element of a thread's edge_a chain. Shared fields live here;
// kind-specific data lives in Text/Placeholder depending on Kind.
//
// id and sv are assigned by Graph.InsertNode; edgeAPrev/edgeANext link the
// intra-call chain in submission order. edge_b (the SV's producer/consumer
// relationship) is derived, not stored here — SV.producer()/consumers()
// answer that question.
type Node struct {
	id   int
	kind Kind

	// ConstantFill
	text string

	// PlaceholderFill / PlaceholderGen
	placeholder PlaceholderRef

	svID int

	edgeAPrev int // index of the previous node in this node's thread chain, -1 if first
	edgeANext int // index of the next node in this node's thread chain, -1 if last

	threadID int
}

// ID returns the node's arena index, assigned on insert.
func (n *Node) ID() int { return n.id }

// Kind reports which tagged variant this node is.
func (n *Node) Kind() Kind { return n.kind }

// SVID returns the index of the SV this node is bound to.
func (n *Node) SVID() int { return n.svID }

// Text returns the literal text for a ConstantFill node.
func (n *Node) Text() string { return n.text }

// Placeholder returns the placeholder reference for a Fill/Gen node.
func (n *Node) Placeholder() PlaceholderRef { return n.placeholder }

// ThreadID returns the id of the thread this node belongs to.
func (n *Node) ThreadID() int { return n.threadID }

// inDegree computes in_degree(n) = [edge_a_prev?] + [edge_b_prev?], per
// spec.md §3/§8's invariant that it must land in {0,1,2}.
func (n *Node) inDegree(g *Graph) int {
	degree := 0
	if n.edgeAPrev >= 0 {
		degree++
	}
	if sv := g.svs[n.svID]; sv.producer() >= 0 && sv.producer() != n.id {
		degree++
	}
	return degree
}
