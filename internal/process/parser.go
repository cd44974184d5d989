package process

import (
	"regexp"

	"github.com/parrotrun/parrot/internal/graph"
	"github.com/parrotrun/parrot/internal/parrotos"
)

// placeholderPattern matches `{{name}}` references in a call body, the
// same template syntax semantic functions use throughout the call chain.
var placeholderPattern = regexp.MustCompile(`\{\{[a-zA-Z_][a-zA-Z0-9_]*\}\}`)

// pieceKind tags one parsed segment of a call body.
type pieceKind int

const (
	pieceConstant pieceKind = iota
	piecePlaceholder
)

type bodyPiece struct {
	kind        pieceKind
	text        string // pieceConstant
	placeholder CallParam // piecePlaceholder
}

// parseBody splits a call body into an ordered sequence of literal chunks
// and placeholder references, failing with ParseFailed if a referenced
// name is absent from call.Params, and with OutputAdjacency if two output
// placeholders sit next to each other with no literal text between them —
// there would be no way to tell where the first generation ends and the
// second begins.
func parseBody(call *Call) ([]bodyPiece, error) {
	var pieces []bodyPiece

	matches := placeholderPattern.FindAllStringIndex(call.Body, -1)
	lastPos := 0
	lastWasOutput := false
	sawAnyPlaceholder := false

	for _, m := range matches {
		start, end := m[0], m[1]
		chunk := call.Body[lastPos:start]

		name := call.Body[start+2 : end-2]
		param, ok := call.param(name)
		if !ok {
			return nil, parrotos.UserErrorf(parrotos.ErrParseFailed, "placeholder %q not present in params_map", name)
		}

		if chunk != "" {
			pieces = append(pieces, bodyPiece{kind: pieceConstant, text: chunk})
			lastWasOutput = false
		} else if sawAnyPlaceholder && lastWasOutput && param.Kind == graph.PlaceholderOutput {
			return nil, parrotos.UserErrorf(parrotos.ErrOutputAdjacency, "output placeholders %q are adjacent with no intervening text", name)
		}

		pieces = append(pieces, bodyPiece{kind: piecePlaceholder, placeholder: param})
		lastWasOutput = param.Kind == graph.PlaceholderOutput
		sawAnyPlaceholder = true
		lastPos = end
	}

	if lastPos < len(call.Body) {
		pieces = append(pieces, bodyPiece{kind: pieceConstant, text: call.Body[lastPos:]})
	}

	return pieces, nil
}
