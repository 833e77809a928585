// Package dispatcher implements the service runtime dispatcher (spec.md
// §4.2): the runtime registry, the two-phase deploy/register pipeline,
// transaction routing with reentrancy, commit hooks, restore-from-snapshot,
// and state-hash aggregation.
package dispatcher

import (
	"fmt"
	"sort"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/nspcc-dev/dispatchernode/pkg/crypto"
	"github.com/nspcc-dev/dispatchernode/pkg/debug"
	"github.com/nspcc-dev/dispatchernode/pkg/dispatcher/schema"
	"github.com/nspcc-dev/dispatchernode/pkg/execerror"
	"github.com/nspcc-dev/dispatchernode/pkg/runtime"
	"github.com/nspcc-dev/dispatchernode/pkg/runtime/exec"
	"github.com/nspcc-dev/dispatchernode/pkg/runtime/host"
	"github.com/nspcc-dev/dispatchernode/pkg/storage"
)

type deployFuture struct {
	done          chan struct{}
	result        host.DeployResult
	correlationID string
}

type deployRequest struct {
	artifact runtime.ArtifactID
	spec     []byte
	andThen  func()
}

// Dispatcher owns the runtime registry and routes every transaction and
// administrative call to the runtime that hosts it.
type Dispatcher struct {
	mu            sync.RWMutex
	runtimes      map[uint32]host.Runtime
	runtimeOrder  []uint32 // registration order, for AfterCommit fan-out
	runtimeLookup map[uint32]uint32
	pending       map[string]*deployFuture
	modified      bool
	afterCommit   []deployRequest

	log *zap.Logger
}

// New builds an empty Dispatcher. log may be nil in tests.
func New(log *zap.Logger) *Dispatcher {
	if log == nil {
		log = zap.NewNop()
	}
	return &Dispatcher{
		runtimes:      make(map[uint32]host.Runtime),
		runtimeLookup: make(map[uint32]uint32),
		pending:       make(map[string]*deployFuture),
		log:           log,
	}
}

// AddRuntime registers r under its own ID. Intended to be called once per
// environment at node construction, before any block is processed.
func (d *Dispatcher) AddRuntime(r host.Runtime) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, exists := d.runtimes[r.ID()]; !exists {
		d.runtimeOrder = append(d.runtimeOrder, r.ID())
	}
	d.runtimes[r.ID()] = r
}

func (d *Dispatcher) lookupRuntime(id uint32) (host.Runtime, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	r, ok := d.runtimes[id]
	return r, ok
}

// Modified reports whether any state-mutating call has happened since
// construction (or the last ResetModified).
func (d *Dispatcher) Modified() bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.modified
}

// ResetModified clears the modified flag, typically once per committed
// block after the caller has inspected it.
func (d *Dispatcher) ResetModified() {
	d.mu.Lock()
	d.modified = false
	d.mu.Unlock()
}

func (d *Dispatcher) markModified() {
	d.mu.Lock()
	d.modified = true
	d.mu.Unlock()
}

// DeployArtifact dispatches to the runtime hosting artifact.RuntimeID. It
// fails immediately with KindIncorrectRuntime if no runtime hosts it.
// Concurrent deploys of the same artifact are coalesced onto one in-flight
// future (spec.md §12 "pending-deploy bookkeeping"). DeployArtifact never
// touches persistent state (spec.md §4.2.1).
func (d *Dispatcher) DeployArtifact(artifact runtime.ArtifactID, spec []byte) <-chan host.DeployResult {
	out := make(chan host.DeployResult, 1)
	if err := artifact.Validate(); err != nil {
		out <- host.DeployResult{Err: err}
		close(out)
		return out
	}
	rt, ok := d.lookupRuntime(artifact.RuntimeID)
	if !ok {
		deploysTotal.WithLabelValues("incorrect_runtime").Inc()
		out <- host.DeployResult{Err: execerror.New(execerror.KindIncorrectRuntime, "no runtime hosts runtime id %d", artifact.RuntimeID)}
		close(out)
		return out
	}

	key := string(artifact.Encode())
	d.mu.Lock()
	future, exists := d.pending[key]
	if !exists {
		future = &deployFuture{done: make(chan struct{}), correlationID: uuid.NewString()}
		d.pending[key] = future
	}
	d.mu.Unlock()

	if !exists {
		d.log.Debug("deploy_artifact started", zap.String("artifact", artifact.String()), zap.String("correlation_id", future.correlationID))
		go func() {
			res := <-rt.DeployArtifact(artifact, spec)
			res.CorrelationID = future.correlationID
			future.result = res
			close(future.done)
			d.mu.Lock()
			delete(d.pending, key)
			d.mu.Unlock()
			if res.Err != nil {
				deploysTotal.WithLabelValues("error").Inc()
				d.log.Warn("deploy_artifact failed", zap.String("artifact", artifact.String()), zap.String("correlation_id", future.correlationID), zap.Error(res.Err))
			} else {
				deploysTotal.WithLabelValues("ok").Inc()
				d.log.Debug("deploy_artifact completed", zap.String("artifact", artifact.String()), zap.String("correlation_id", future.correlationID))
			}
		}()
	}
	go func() {
		<-future.done
		out <- future.result
		close(out)
	}()
	return out
}

// RegisterArtifact requires the artifact to be deployed in memory already
// (debug-asserted, spec.md §4.2.1) and writes the deployment spec to fork.
// Registering the same (artifact, spec) pair twice is a no-op the second
// time (spec.md §8 idempotence).
func (d *Dispatcher) RegisterArtifact(fork *storage.Fork, artifact runtime.ArtifactID, spec []byte) error {
	rt, ok := d.lookupRuntime(artifact.RuntimeID)
	if !ok {
		registersTotal.WithLabelValues("incorrect_runtime").Inc()
		return execerror.New(execerror.KindIncorrectRuntime, "no runtime hosts runtime id %d", artifact.RuntimeID)
	}
	debug.Assert(host.IsDeployed(rt, artifact), fmt.Sprintf("register_artifact: %s must already be deployed", artifact))

	sc := schema.New(fork)
	sc.PutArtifact(artifact, spec)
	d.markModified()
	registersTotal.WithLabelValues("ok").Inc()
	return nil
}

// DeployAndRegisterArtifact awaits the deploy future synchronously and then
// registers — the convenience composition spec.md §4.2.1 names explicitly.
func (d *Dispatcher) DeployAndRegisterArtifact(fork *storage.Fork, artifact runtime.ArtifactID, spec []byte) error {
	res := <-d.DeployArtifact(artifact, spec)
	if res.Err != nil {
		return res.Err
	}
	return d.RegisterArtifact(fork, artifact, spec)
}

// StartService brings an instance into memory and configures it inside a
// panic boundary (spec.md §4.2.2). On configuration failure it stops the
// service; if that stop itself fails, it raises a Fatal — the persistent
// and in-memory views would otherwise diverge.
func (d *Dispatcher) StartService(fork *storage.Fork, spec runtime.InstanceSpec, constructor []byte) error {
	if err := spec.Validate(); err != nil {
		return err
	}
	d.mu.RLock()
	_, exists := d.runtimeLookup[spec.ID]
	d.mu.RUnlock()
	if exists {
		return execerror.New(execerror.KindServiceIDExists, "service id %d is already running", spec.ID)
	}

	rt, ok := d.lookupRuntime(spec.Artifact.RuntimeID)
	if !ok {
		return execerror.New(execerror.KindIncorrectRuntime, "no runtime hosts runtime id %d", spec.Artifact.RuntimeID)
	}
	sc := schema.New(fork)
	if _, deployed := sc.GetArtifact(spec.Artifact); !deployed {
		return execerror.New(execerror.KindArtifactNotDeployed, "artifact %s is not registered", spec.Artifact)
	}

	if err := rt.StartService(spec); err != nil {
		return err
	}

	var confErr error
	func() {
		defer execerror.Recover(&confErr)
		confErr = rt.ConfigureService(fork, spec, constructor)
	}()
	if confErr != nil {
		if stopErr := rt.StopService(spec); stopErr != nil {
			execerror.Raise("stop_service failed after configure_service failure for "+spec.Name, stopErr)
		}
		return confErr
	}

	d.mu.Lock()
	d.runtimeLookup[spec.ID] = spec.Artifact.RuntimeID
	running := len(d.runtimeLookup)
	d.mu.Unlock()
	sc.PutInstance(spec)
	d.markModified()
	instancesRunning.Set(float64(running))
	return nil
}

// AddBuiltinService deploys a builtin (spec.ID < BuiltinIDCeiling)
// service with an empty deployment spec and starts it. It is only callable
// during genesis processing (spec.md §4.2.2) — the isGenesis flag is the
// node's own record of which block is currently being processed, not a
// debug assertion, so the guard is enforced identically in every build
// (spec.md §9 open question (a), resolved in SPEC_FULL.md §12).
func (d *Dispatcher) AddBuiltinService(fork *storage.Fork, spec runtime.InstanceSpec, constructor []byte, isGenesis bool) error {
	if !spec.IsBuiltin() {
		return execerror.New(execerror.KindInvalidInstanceSpec, "instance id %d is not in the reserved builtin range [0,%d)", spec.ID, runtime.BuiltinIDCeiling)
	}
	if !isGenesis {
		return execerror.New(execerror.KindInvalidInstanceSpec, "builtin service %s may only be added during genesis", spec.Name)
	}
	if err := d.DeployAndRegisterArtifact(fork, spec.Artifact, nil); err != nil {
		return err
	}
	return d.StartService(fork, spec, constructor)
}

// Execute is the top-level transaction entry point (spec.md §4.2.3): it
// verifies tx's signature, builds the execution context, routes the call,
// then replays any deferred actions the call buffered, in FIFO order. A
// transaction whose signature does not verify against its claimed author is
// rejected before any runtime sees it — the dispatcher never trusts an
// unverified transaction (spec.md §3/§6). Any failure — of verification, of
// the call itself, or of a deferred action — means the transaction's fork
// must be discarded by the caller; Execute never discards it itself, since
// the fork's lifetime is owned by the block processor.
func (d *Dispatcher) Execute(fork *storage.Fork, txHash crypto.Hash, tx runtime.Verified[runtime.AnyTx]) error {
	if !exec.CheckVerified(tx) {
		callsTotal.WithLabelValues("bad_signature").Inc()
		return execerror.New(execerror.KindInvalidSignature, "transaction signature does not verify for author %s", tx.Author)
	}
	ctx := exec.NewContext(fork, runtime.TransactionCaller(tx.Author, txHash))
	if err := d.Call(ctx, tx.Payload.CallInfo, tx.Payload.Arguments); err != nil {
		callsTotal.WithLabelValues("error").Inc()
		return err
	}

	actions := ctx.Take()
	if len(actions) > 0 {
		d.markModified()
	}
	for _, a := range actions {
		if err := d.applyAction(fork, a); err != nil {
			callsTotal.WithLabelValues("action_error").Inc()
			return err
		}
	}
	callsTotal.WithLabelValues("ok").Inc()
	return nil
}

// Call routes info to the runtime hosting info.InstanceID. It satisfies
// host.Dispatcher so runtimes can call back in for inter-service calls
// (spec.md §4.2.3 "Reentrancy contract"): the dispatcher is immutably
// borrowed during Call, the fork inside ctx is the only mutation channel.
func (d *Dispatcher) Call(ctx *exec.Context, info runtime.CallInfo, args []byte) error {
	d.mu.RLock()
	rid, ok := d.runtimeLookup[info.InstanceID]
	d.mu.RUnlock()
	if !ok {
		return execerror.New(execerror.KindIncorrectInstanceID, "no running instance with id %d", info.InstanceID)
	}
	rt, ok := d.lookupRuntime(rid)
	if !ok {
		// Invariant 1 (spec.md §3) violated: a fatal inconsistency, not a
		// reachable precondition failure.
		execerror.Raise(fmt.Sprintf("instance %d maps to runtime %d, which is not registered", info.InstanceID, rid), nil)
	}
	return rt.Execute(d, ctx, info, args)
}

func (d *Dispatcher) applyAction(fork *storage.Fork, a exec.Action) error {
	switch a.Kind {
	case exec.ActionRegisterArtifact:
		return d.RegisterArtifact(fork, a.Artifact, a.Spec)
	case exec.ActionStartService:
		id := schema.New(fork).AssignInstanceID()
		spec := runtime.InstanceSpec{ID: id, Name: a.InstanceName, Artifact: a.Artifact}
		return d.StartService(fork, spec, a.Constructor)
	default:
		execerror.Raise(fmt.Sprintf("unknown deferred action kind %d", a.Kind), nil)
		return nil
	}
}

// BeforeCommit fans out to every runtime in registration order, letting
// each write to fork ahead of block commit (spec.md §4.2.4). The first
// error aborts the remaining fan-out and is returned to the caller, who
// discards the block's fork.
func (d *Dispatcher) BeforeCommit(fork *storage.Fork) error {
	d.mu.RLock()
	order := append([]uint32(nil), d.runtimeOrder...)
	d.mu.RUnlock()
	for _, id := range order {
		rt, ok := d.lookupRuntime(id)
		if !ok {
			continue
		}
		if err := rt.BeforeCommit(fork); err != nil {
			return fmt.Errorf("before_commit: runtime %d: %w", id, err)
		}
	}
	return nil
}

// RequestDeployArtifact implements host.Sender: AfterCommit hooks buffer
// speculative deploy requests here instead of deploying inline.
func (d *Dispatcher) RequestDeployArtifact(artifact runtime.ArtifactID, spec []byte, andThen func()) {
	d.mu.Lock()
	d.afterCommit = append(d.afterCommit, deployRequest{artifact: artifact, spec: spec, andThen: andThen})
	d.mu.Unlock()
}

// AfterCommit hands every runtime, in registration order, a read-only
// snapshot and this Dispatcher as the Sender, then drains whatever deploy
// requests were buffered. Drained deploy failures are logged, never fatal;
// andThen fires on success only (spec.md §4.2.4).
func (d *Dispatcher) AfterCommit(snapshot storage.Snapshot) {
	d.mu.RLock()
	order := append([]uint32(nil), d.runtimeOrder...)
	d.mu.RUnlock()
	for _, id := range order {
		rt, ok := d.lookupRuntime(id)
		if !ok {
			continue
		}
		rt.AfterCommit(snapshot, d)
	}

	d.mu.Lock()
	reqs := d.afterCommit
	d.afterCommit = nil
	d.mu.Unlock()
	for _, r := range reqs {
		res := <-d.DeployArtifact(r.artifact, r.spec)
		if res.Err != nil {
			d.log.Warn("speculative after_commit deploy failed",
				zap.Stringer("artifact", r.artifact),
				zap.Error(res.Err))
			continue
		}
		if r.andThen != nil {
			r.andThen()
		}
	}
}

// RestoreFromSnapshot replays deployment and restart against every runtime
// from the persisted dispatcher schema (spec.md §4.2.5). It awaits every
// deployment synchronously; a failure here means the node must not start,
// so it is returned, never swallowed.
func (d *Dispatcher) RestoreFromSnapshot(snapshot storage.Snapshot) error {
	sc := schema.New(storage.ReadOnly(snapshot))

	var deployErr error
	sc.IterateArtifacts(func(artifact runtime.ArtifactID, spec []byte) bool {
		res := <-d.DeployArtifact(artifact, spec)
		if res.Err != nil {
			deployErr = fmt.Errorf("restore: deploy %s: %w", artifact, res.Err)
			return false
		}
		return true
	})
	if deployErr != nil {
		return deployErr
	}

	var startErr error
	sc.IterateInstances(func(spec runtime.InstanceSpec) bool {
		rt, ok := d.lookupRuntime(spec.Artifact.RuntimeID)
		if !ok {
			startErr = execerror.New(execerror.KindIncorrectRuntime, "restore: instance %s references unregistered runtime %d", spec.Name, spec.Artifact.RuntimeID)
			return false
		}
		if err := rt.StartService(spec); err != nil {
			startErr = fmt.Errorf("restore: start %s: %w", spec.Name, err)
			return false
		}
		d.mu.Lock()
		d.runtimeLookup[spec.ID] = spec.Artifact.RuntimeID
		d.mu.Unlock()
		return true
	})
	return startErr
}

// StateHash aggregates the dispatcher's own indices and every runtime's
// contributed indices into one ordered list, lexicographic by coordinates
// within each owner partition (spec.md §4.2.6).
func (d *Dispatcher) StateHash(snapshot storage.Snapshot) []host.StateHashEntry {
	sc := schema.New(storage.ReadOnly(snapshot))
	entries := []host.StateHashEntry{
		{Coordinates: host.IndexCoordinates{Owner: "dispatcher", Index: "artifacts"}, Hash: sc.ArtifactsObjectHash()},
		{Coordinates: host.IndexCoordinates{Owner: "dispatcher", Index: "service_instances"}, Hash: sc.InstancesObjectHash()},
	}

	d.mu.RLock()
	ids := make([]uint32, 0, len(d.runtimes))
	for id := range d.runtimes {
		ids = append(ids, id)
	}
	d.mu.RUnlock()
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	for _, id := range ids {
		rt, ok := d.lookupRuntime(id)
		if !ok {
			continue
		}
		agg := rt.StateHashes(snapshot)
		entries = append(entries, agg.Runtime...)
		instIDs := make([]uint32, 0, len(agg.Instances))
		for iid := range agg.Instances {
			instIDs = append(instIDs, iid)
		}
		sort.Slice(instIDs, func(i, j int) bool { return instIDs[i] < instIDs[j] })
		for _, iid := range instIDs {
			entries = append(entries, agg.Instances[iid]...)
		}
	}

	sort.SliceStable(entries, func(i, j int) bool {
		if entries[i].Coordinates.Owner != entries[j].Coordinates.Owner {
			return entries[i].Coordinates.Owner < entries[j].Coordinates.Owner
		}
		return entries[i].Coordinates.Index < entries[j].Coordinates.Index
	})
	return entries
}

// IsRunning reports whether an instance id is currently routable.
func (d *Dispatcher) IsRunning(instanceID uint32) bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	_, ok := d.runtimeLookup[instanceID]
	return ok
}

// RuntimeOf returns the runtime id hosting instanceID, if running.
func (d *Dispatcher) RuntimeOf(instanceID uint32) (uint32, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	rid, ok := d.runtimeLookup[instanceID]
	return rid, ok
}
