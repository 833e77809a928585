// Package execerror implements the dispatcher's structured error model
// (spec.md §7): four kinds of failure, only one of which (a panic crossing
// the runtime boundary) is ever recovered.
package execerror

import "fmt"

// Kind is an externally observable error code (spec.md §6).
type Kind uint16

const (
	// KindUnspecified is the zero value; never returned deliberately.
	KindUnspecified Kind = iota
	// KindIncorrectRuntime: no runtime hosts the given runtime id.
	KindIncorrectRuntime
	// KindIncorrectInstanceID: no running instance owns the given id.
	KindIncorrectInstanceID
	// KindServiceIDExists: start_service called with an id already running.
	KindServiceIDExists
	// KindArtifactNotDeployed: start_service referenced an unregistered artifact.
	KindArtifactNotDeployed
	// KindInvalidArtifactID: ArtifactID failed validation (spec.md §3).
	KindInvalidArtifactID
	// KindInvalidInstanceSpec: InstanceSpec failed validation.
	KindInvalidInstanceSpec
	// KindInvalidSignature: a transaction's signature did not verify against
	// its claimed author; rejected before the dispatcher routes it anywhere.
	KindInvalidSignature
	// KindPanic: service code panicked; caught at the runtime boundary and
	// converted to a deterministic execution error (spec.md §7 kind 4).
	KindPanic
	// KindService: a deterministic error returned by service logic itself,
	// namespaced by RuntimeID and a service-local Code (spec.md §6 "per-runtime
	// error ranges").
	KindService
)

// String renders the kind the way it is logged and surfaced in test
// assertions.
func (k Kind) String() string {
	switch k {
	case KindIncorrectRuntime:
		return "IncorrectRuntime"
	case KindIncorrectInstanceID:
		return "IncorrectInstanceId"
	case KindServiceIDExists:
		return "ServiceIdExists"
	case KindArtifactNotDeployed:
		return "ArtifactNotDeployed"
	case KindInvalidArtifactID:
		return "InvalidArtifactId"
	case KindInvalidInstanceSpec:
		return "InvalidInstanceSpec"
	case KindInvalidSignature:
		return "InvalidSignature"
	case KindPanic:
		return "Panic"
	case KindService:
		return "Service"
	default:
		return "Unspecified"
	}
}

// Error is a deterministic execution error: every honest replica that
// executes the same transaction against the same pre-state produces a
// byte-identical Error (or none at all).
type Error struct {
	Kind        Kind
	RuntimeID   uint32 // meaningful only for KindService
	Code        uint16 // service-local code within RuntimeID's namespace, for KindService
	Description string
}

func (e *Error) Error() string {
	if e.Kind == KindService {
		return fmt.Sprintf("%s: runtime %d code %d: %s", e.Kind, e.RuntimeID, e.Code, e.Description)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Description)
}

// New builds a precondition-kind Error (dispatcher-level validation failure,
// spec.md §7 kind 1 — returned immediately, no state mutation).
func New(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Description: fmt.Sprintf(format, args...)}
}

// Service builds a deterministic service-execution error (spec.md §7 kind 2).
func Service(runtimeID uint32, code uint16, format string, args ...any) *Error {
	return &Error{Kind: KindService, RuntimeID: runtimeID, Code: code, Description: fmt.Sprintf(format, args...)}
}

// FromPanic converts a recovered panic value into a KindPanic Error
// (spec.md §7 kind 4). It never converts a Fatal: those are rethrown by
// Recover so they reach the one place allowed to halt the node.
func FromPanic(r any) *Error {
	return &Error{Kind: KindPanic, Description: fmt.Sprintf("panic: %v", r)}
}

// Is lets callers match a specific Kind via errors.Is(err, execerror.Kind...).
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Kind == t.Kind
}
