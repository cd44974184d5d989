package api

import (
	"github.com/parrotrun/parrot/internal/dispatcher"
	"github.com/parrotrun/parrot/internal/pcore"
	"github.com/parrotrun/parrot/internal/process"
)

// registerVMResponse is the body of POST /register_vm.
type registerVMResponse struct {
	Pid int `json:"pid"`
}

// vmHeartbeatRequest is the body of POST /vm_heartbeat.
type vmHeartbeatRequest struct {
	Pid int `json:"pid"`
}

// submitCallRequest is the body of POST /submit_call. Call is the wire
// form of process.Call; the dispatch path (ExecuteNativeCall vs
// MakeThread) is chosen by Call.Native.
type submitCallRequest struct {
	Pid  int          `json:"pid"`
	Call process.Call `json:"call"`
}

// submitCallResponse reports the thread id a semantic call was assigned;
// empty for native calls, which run to completion inline.
type submitCallResponse struct {
	Tid *int `json:"tid,omitempty"`
}

// placeholderFetchRequest is the body of POST /placeholder_fetch.
type placeholderFetchRequest struct {
	Pid           int `json:"pid"`
	PlaceholderID int `json:"placeholder_id"`
}

// placeholderFetchResponse is the body of the response.
type placeholderFetchResponse struct {
	Content string `json:"content"`
}

// registerEngineRequest is the body of POST /register_engine.
type registerEngineRequest struct {
	EngineConfig pcore.EngineRegistration `json:"engine_config"`
}

// registerEngineResponse is the body of the response.
type registerEngineResponse struct {
	EngineID int `json:"engine_id"`
}

// engineHeartbeatRequest is the body of POST /engine_heartbeat.
type engineHeartbeatRequest struct {
	EngineID    int                    `json:"engine_id"`
	EngineName  string                 `json:"engine_name"`
	RuntimeInfo dispatcher.RuntimeInfo `json:"runtime_info"`
}
