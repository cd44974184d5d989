package api

import (
	"encoding/json"
	"net/http"

	"github.com/google/uuid"

	"github.com/parrotrun/parrot/internal/parrotos"
	"github.com/parrotrun/parrot/internal/pcore"
)

// handler binds the OS HTTP surface (spec.md §6) to one PCore instance.
type handler struct {
	pc *pcore.PCore
}

// RegisterRoutes wires every OS route onto mux, one Handler type per
// surface with a RegisterRoutes method.
func (h *handler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("POST /register_vm", h.registerVM)
	mux.HandleFunc("POST /vm_heartbeat", h.vmHeartbeat)
	mux.HandleFunc("POST /submit_call", h.submitCall)
	mux.HandleFunc("POST /placeholder_fetch", h.placeholderFetch)
	mux.HandleFunc("POST /register_engine", h.registerEngine)
	mux.HandleFunc("POST /engine_heartbeat", h.engineHeartbeat)
}

// decode reads and decodes the JSON request body into v, writing a 500
// error envelope and returning false on failure. A malformed body from a
// VM is itself a ParseFailed UserError, not worth a distinct status code
// since spec.md §6 fixes every OS route failure as HTTP 500.
func decode(w http.ResponseWriter, r *http.Request, requestID string, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeError(w, requestID, parrotos.UserErrorf(parrotos.ErrParseFailed, "malformed request body: %v", err))
		return false
	}
	return true
}

func (h *handler) registerVM(w http.ResponseWriter, r *http.Request) {
	requestID := uuid.New().String()[:8]

	pid, err := h.pc.RegisterVM()
	if err != nil {
		writeError(w, requestID, err)
		return
	}
	writeJSON(w, http.StatusOK, registerVMResponse{Pid: pid})
}

func (h *handler) vmHeartbeat(w http.ResponseWriter, r *http.Request) {
	requestID := uuid.New().String()[:8]

	var req vmHeartbeatRequest
	if !decode(w, r, requestID, &req) {
		return
	}

	info, err := h.pc.VMHeartbeat(req.Pid)
	if err != nil {
		writeError(w, requestID, err)
		return
	}
	writeJSON(w, http.StatusOK, info)
}

func (h *handler) submitCall(w http.ResponseWriter, r *http.Request) {
	requestID := uuid.New().String()[:8]

	var req submitCallRequest
	if !decode(w, r, requestID, &req) {
		return
	}

	if req.Call.Native {
		if err := h.pc.SubmitNativeCall(req.Pid, &req.Call); err != nil {
			writeError(w, requestID, err)
			return
		}
		writeJSON(w, http.StatusOK, submitCallResponse{})
		return
	}

	thread, err := h.pc.SubmitSemanticCall(req.Pid, &req.Call)
	if err != nil {
		writeError(w, requestID, err)
		return
	}
	tid := thread.TID
	writeJSON(w, http.StatusOK, submitCallResponse{Tid: &tid})
}

func (h *handler) placeholderFetch(w http.ResponseWriter, r *http.Request) {
	requestID := uuid.New().String()[:8]

	var req placeholderFetchRequest
	if !decode(w, r, requestID, &req) {
		return
	}

	content, err := h.pc.PlaceholderFetch(r.Context(), req.Pid, req.PlaceholderID)
	if err != nil {
		writeError(w, requestID, err)
		return
	}
	writeJSON(w, http.StatusOK, placeholderFetchResponse{Content: content})
}

func (h *handler) registerEngine(w http.ResponseWriter, r *http.Request) {
	requestID := uuid.New().String()[:8]

	var req registerEngineRequest
	if !decode(w, r, requestID, &req) {
		return
	}

	id, err := h.pc.RegisterEngine(req.EngineConfig)
	if err != nil {
		writeError(w, requestID, err)
		return
	}
	writeJSON(w, http.StatusOK, registerEngineResponse{EngineID: id})
}

func (h *handler) engineHeartbeat(w http.ResponseWriter, r *http.Request) {
	requestID := uuid.New().String()[:8]

	var req engineHeartbeatRequest
	if !decode(w, r, requestID, &req) {
		return
	}

	if err := h.pc.EngineHeartbeat(req.EngineID, req.RuntimeInfo); err != nil {
		writeError(w, requestID, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{})
}
