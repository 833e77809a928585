// Package host defines the Runtime capability set (spec.md §4.1): the
// polymorphic contract every execution environment — native Go services,
// and in principle foreign-language ones — implements behind one interface,
// keyed by runtime id in the dispatcher's registry.
package host

import (
	"github.com/nspcc-dev/dispatchernode/pkg/crypto"
	"github.com/nspcc-dev/dispatchernode/pkg/runtime"
	"github.com/nspcc-dev/dispatchernode/pkg/runtime/exec"
	"github.com/nspcc-dev/dispatchernode/pkg/storage"
)

// ArtifactInfo is whatever a runtime wants external callers to know about a
// deployed artifact. It is opaque beyond existence: is_deployed is defined
// as artifact_info(id).is_some() (spec.md §4.1).
type ArtifactInfo struct {
	Version string
}

// IndexCoordinates names a single Merkleized index contributed to the global
// state hash, stable across versions so two honest nodes aggregate
// byte-identically (spec.md §4.2.6).
type IndexCoordinates struct {
	Owner string // "dispatcher", or the owning service's name, e.g. "wallet"
	Index string // index name within the owner, e.g. "wallets"
}

// StateHashEntry pairs one contributed index with its current root hash.
type StateHashEntry struct {
	Coordinates IndexCoordinates
	Hash        crypto.Hash
}

// StateHashAggregator is everything one runtime contributes to the global
// state hash: its own indices plus each hosted instance's (spec.md §4.1).
type StateHashAggregator struct {
	Runtime   []StateHashEntry
	Instances map[uint32][]StateHashEntry
}

// Caller identifies who invoked a call (a transaction author, another
// service, or the blockchain itself); re-exported so implementers don't need
// to import pkg/runtime separately for this common case.
type Caller = runtime.Caller

// Context is the per-call execution context (spec.md §4.3).
type Context = exec.Context

// Dispatcher is the subset of dispatcher behaviour a Runtime needs to make
// reentrant calls (spec.md §4.2.3 "Reentrancy contract"). It is satisfied by
// *dispatcher.Dispatcher; defined here, rather than in package dispatcher,
// so that host implementations (pkg/runtime/native) do not need to import
// the dispatcher package and create a cycle.
type Dispatcher interface {
	Call(ctx *Context, info runtime.CallInfo, args []byte) error
}

// DeployResult is delivered on the channel returned by Runtime.DeployArtifact
// once an asynchronous deployment completes.
type DeployResult struct {
	Err error

	// CorrelationID identifies the coalesced deploy request this result
	// belongs to, for tying together the log lines of a single deploy
	// across its async lifetime (request, concurrent coalesced callers,
	// completion).
	CorrelationID string
}

// Sender lets a runtime's AfterCommit hook request further deployments
// without blocking on them (spec.md §4.2.4). Requests are buffered and
// drained by the dispatcher immediately after AfterCommit returns.
type Sender interface {
	RequestDeployArtifact(artifact runtime.ArtifactID, spec []byte, andThen func())
}

// Runtime is the capability set every execution environment implements
// (spec.md §4.1).
type Runtime interface {
	// ID reports the runtime id this environment hosts.
	ID() uint32

	// DeployArtifact is asynchronous because a runtime may have to fetch or
	// compile code; idempotent for an already-deployed artifact. The
	// returned channel carries exactly one DeployResult.
	DeployArtifact(artifact runtime.ArtifactID, spec []byte) <-chan DeployResult

	// StartService brings an instance into memory; must be idempotent
	// across restart.
	StartService(spec runtime.InstanceSpec) error

	// StopService releases in-memory resources. The persistent record is
	// removed by the dispatcher, not the runtime.
	StopService(spec runtime.InstanceSpec) error

	// ConfigureService runs one-shot initialisation against fork. Any panic
	// is caught and converted to a structured error by the runtime's own
	// implementation (it must use execerror.Recover internally).
	ConfigureService(fork *storage.Fork, spec runtime.InstanceSpec, params []byte) error

	// Execute is the hot path: route a call to the hosted instance. May
	// re-enter the dispatcher via d.Call for inter-service calls.
	Execute(d Dispatcher, ctx *Context, info runtime.CallInfo, args []byte) error

	// StateHashes reports every index this runtime and its instances
	// contribute, for global state aggregation.
	StateHashes(snapshot storage.Snapshot) StateHashAggregator

	// BeforeCommit lets the runtime write to fork ahead of block commit.
	BeforeCommit(fork *storage.Fork) error

	// AfterCommit hands the runtime a read-only snapshot once the block has
	// committed, plus a Sender for speculative deploy requests.
	AfterCommit(snapshot storage.Snapshot, sender Sender)

	// ArtifactInfo is a membership test: nil means not deployed.
	ArtifactInfo(id runtime.ArtifactID) *ArtifactInfo
}

// IsDeployed is the artifact_info(id).is_some() convenience spec.md §4.1
// names explicitly.
func IsDeployed(r Runtime, id runtime.ArtifactID) bool {
	return r.ArtifactInfo(id) != nil
}
