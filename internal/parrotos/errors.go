// Package parrotos holds the error taxonomy shared by every OS-layer
// component: the graph, the process table, the dispatcher, and PCore
// itself. Two families exist. UserErrors are caused by the calling VM and
// are returned to it verbatim. InternalErrors are invariant violations;
// they are returned to the caller as well, and internal/api adds a
// traceback of the unwrap chain to the response for them. There is no
// strict or lenient mode: an InternalError neither terminates the server
// nor marks the offending process bad.
package parrotos

import (
	"errors"
	"fmt"
)

var (
	errUser     = errors.New("user")
	errInternal = errors.New("internal")
)

// classifiedError pairs a specific sentinel (what errors.Is/As callers
// match against) with its family, so IsUserError/IsInternalError can
// classify an error without every call site re-declaring the family.
type classifiedError struct {
	family   error
	specific error
	msg      string
}

func (e *classifiedError) Error() string { return e.msg }
func (e *classifiedError) Unwrap() error { return e.specific }

// IsUserError reports whether err belongs to the UserError family.
func IsUserError(err error) bool {
	var ce *classifiedError
	return errors.As(err, &ce) && ce.family == errUser
}

// IsInternalError reports whether err belongs to the InternalError family.
func IsInternalError(err error) bool {
	var ce *classifiedError
	return errors.As(err, &ce) && ce.family == errInternal
}

// UserError sentinels — caused by the caller, surfaced to the VM as-is.
var (
	ErrUnknownPid         = errors.New("unknown pid")
	ErrDeadProcess        = errors.New("process is dead")
	ErrUnknownPlaceholder = errors.New("unknown placeholder")
	ErrUnknownEngine      = errors.New("unknown engine")
	ErrUnknownVariable    = errors.New("unknown variable")
	ErrParseFailed        = errors.New("call body parse failed")
	ErrOutputAdjacency    = errors.New("two output placeholders are adjacent")
)

// InternalError sentinels — fatal invariant violations.
var (
	ErrPoolExhausted = errors.New("pool exhausted")
	ErrInvalidFree   = errors.New("invalid free")
	ErrAlreadySet    = errors.New("semantic variable already set")
	ErrDeadlock      = errors.New("deadlock: no ready task and nothing in flight")
)

// ErrNoEligibleEngine is raised when a thread exhausts its dispatch
// retries without finding a live, capable engine. PCore reports it to the
// submitting VM wrapped with UserErrorf, so it classifies as a UserError.
var ErrNoEligibleEngine = errors.New("no eligible engine for thread")

// UserErrorf wraps one of the UserError sentinels above with call-specific
// detail, preserving errors.Is(result, sentinel) and IsUserError(result).
func UserErrorf(sentinel error, format string, args ...any) error {
	return &classifiedError{family: errUser, specific: sentinel, msg: fmt.Sprintf(format, args...)}
}

// InternalErrorf wraps one of the InternalError sentinels above with
// call-specific detail, preserving errors.Is(result, sentinel) and
// IsInternalError(result).
func InternalErrorf(sentinel error, format string, args ...any) error {
	return &classifiedError{family: errInternal, specific: sentinel, msg: fmt.Sprintf(format, args...)}
}
