// Package exec implements the per-call execution context (spec.md §4.3):
// the immutable (fork, caller) pair every runtime call receives, plus the
// queue of deferred Actions service logic buffers instead of mutating the
// dispatcher directly.
package exec

import (
	"github.com/nspcc-dev/dispatchernode/pkg/runtime"
	"github.com/nspcc-dev/dispatchernode/pkg/storage"
)

// ActionKind tags the variant an Action carries.
type ActionKind uint8

const (
	// ActionRegisterArtifact requests the dispatcher register a
	// previously (or speculatively) deployed artifact.
	ActionRegisterArtifact ActionKind = iota
	// ActionStartService requests the dispatcher allocate an instance id
	// and start a new service instance.
	ActionStartService
)

// Action is a dispatcher-administrative effect buffered during a call and
// replayed, in FIFO order, only after the top-level call returns (spec.md
// §4.2.3, §4.3) — never during the call itself, which would alias the
// dispatcher against the fork it is currently mutating.
type Action struct {
	Kind ActionKind

	// Valid for ActionRegisterArtifact.
	Artifact runtime.ArtifactID
	Spec     []byte

	// Valid for ActionStartService.
	InstanceName string
	Constructor  []byte
}

// Context is the per-call record every Runtime.Execute/ConfigureService
// invocation receives. Fork is the only mutable channel; Caller is fixed for
// the lifetime of the call. Actions accumulates deferred dispatcher effects,
// mirroring the original's Mailbox.
type Context struct {
	Fork   *storage.Fork
	Caller runtime.Caller

	actions []Action
}

// NewContext builds a fresh Context for a top-level or reentrant call.
func NewContext(fork *storage.Fork, caller runtime.Caller) *Context {
	return &Context{Fork: fork, Caller: caller}
}

// PushAction buffers a deferred dispatcher action. Order is preserved
// per-call (FIFO), per spec.md §5 "Ordering guarantees".
func (c *Context) PushAction(a Action) {
	c.actions = append(c.actions, a)
}

// Actions returns the actions buffered so far without clearing them.
func (c *Context) Actions() []Action {
	return c.actions
}

// Take returns and clears the buffered actions, for the dispatcher to
// replay after the top-level call returns (spec.md §4.2.3 step 3).
func (c *Context) Take() []Action {
	a := c.actions
	c.actions = nil
	return a
}
