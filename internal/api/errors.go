package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/parrotrun/parrot/internal/logging"
	"github.com/parrotrun/parrot/internal/parrotos"
)

// errorEnvelope is the JSON body of every failed OS HTTP surface response,
// per spec.md §6: `{error, traceback?}`. traceback is only populated for
// InternalErrors, mirroring the original's distinction between a caller
// mistake (just the message) and a server-side invariant violation (worth
// a full error chain for whoever is paged).
type errorEnvelope struct {
	Error     string `json:"error"`
	Traceback string `json:"traceback,omitempty"`
}

// writeJSON encodes v as the response body with status code.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if v != nil {
		_ = json.NewEncoder(w).Encode(v)
	}
}

// writeError logs err against requestID and writes the HTTP 500 error
// envelope spec.md §6 fixes for every failed OS route.
func writeError(w http.ResponseWriter, requestID string, err error) {
	env := errorEnvelope{Error: err.Error()}
	if parrotos.IsInternalError(err) {
		env.Traceback = traceback(err)
		logging.Op().Error("internal error", "request_id", requestID, "error", err.Error())
	} else {
		logging.Op().Warn("user error", "request_id", requestID, "error", err.Error())
	}
	writeJSON(w, http.StatusInternalServerError, env)
}

// traceback renders the full errors.Unwrap chain, since Go has no
// exception traceback to forward the way the original Python runtime does.
func traceback(err error) string {
	var b []byte
	for err != nil {
		if len(b) > 0 {
			b = append(b, '\n')
		}
		b = append(b, []byte(err.Error())...)
		err = errors.Unwrap(err)
	}
	return string(b)
}
