// Package native implements a runtime that hosts Go services compiled
// directly into the node binary, the way the dispatcher's own builtin
// contracts would be hosted (spec.md §4.4, §4.5 describe two such services:
// a wallet ledger and a configuration propose/vote service). Unlike a VM
// runtime, "deploying" an artifact here only checks that a factory for its
// name was registered at startup; there is nothing to fetch or compile.
package native

import (
	"sync"

	"go.uber.org/zap"

	"github.com/nspcc-dev/dispatchernode/pkg/execerror"
	"github.com/nspcc-dev/dispatchernode/pkg/runtime"
	"github.com/nspcc-dev/dispatchernode/pkg/runtime/exec"
	"github.com/nspcc-dev/dispatchernode/pkg/runtime/host"
	"github.com/nspcc-dev/dispatchernode/pkg/storage"
)

// Service is the interface a native-runtime-hosted service implements.
// Initialize and Call run inside the runtime's own panic boundary (the
// Runtime recovers, the Service does not need to).
type Service interface {
	// Initialize runs the service's one-shot constructor logic against fork.
	Initialize(ctx *exec.Context, params []byte) error

	// Call routes a transaction to the service's method set. d is the
	// dispatcher, for services that need to make a reentrant call.
	Call(d host.Dispatcher, ctx *exec.Context, methodID uint32, args []byte) error

	// BeforeCommit lets the service write to fork ahead of block commit,
	// e.g. to advance an internal height counter.
	BeforeCommit(fork *storage.Fork) error

	// StateHashes reports the Merkleized indices this service instance owns.
	StateHashes(snapshot storage.Snapshot) []host.StateHashEntry
}

// Factory builds a fresh Service bound to instanceID. Registered once per
// artifact name at node construction time.
type Factory func(instanceID uint32) Service

// Runtime hosts Service instances under a single runtime id.
type Runtime struct {
	id uint32

	mu        sync.RWMutex
	factories map[string]Factory
	deployed  map[string]string // artifact.Encode() -> version
	instances map[uint32]Service
	names     map[uint32]string // instanceID -> artifact name; StopService clears the entry

	log *zap.Logger
}

// New constructs an empty native Runtime hosting runtime id id.
func New(id uint32, log *zap.Logger) *Runtime {
	if log == nil {
		log = zap.NewNop()
	}
	return &Runtime{
		id:        id,
		factories: make(map[string]Factory),
		deployed:  make(map[string]string),
		instances: make(map[uint32]Service),
		names:     make(map[uint32]string),
		log:       log,
	}
}

// Register binds artifactName to a Factory. Must be called before any
// DeployArtifact referencing that name; intended as startup-time wiring in
// cmd/dispatchernode, not something service code does at runtime.
func (r *Runtime) Register(artifactName string, f Factory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.factories[artifactName] = f
}

// ID implements host.Runtime.
func (r *Runtime) ID() uint32 { return r.id }

// DeployArtifact implements host.Runtime. Native deployment is synchronous
// and always resolves on the returned channel before this call returns; it
// is asynchronous only in shape, to satisfy the polymorphic contract every
// runtime shares (spec.md §4.1).
func (r *Runtime) DeployArtifact(artifact runtime.ArtifactID, spec []byte) <-chan host.DeployResult {
	out := make(chan host.DeployResult, 1)
	defer close(out)

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.factories[artifact.Name]; !ok {
		out <- host.DeployResult{Err: execerror.New(execerror.KindInvalidArtifactID, "native runtime %d: no service factory registered for %q", r.id, artifact.Name)}
		return out
	}
	r.deployed[string(artifact.Encode())] = artifact.Version
	out <- host.DeployResult{}
	return out
}

// ArtifactInfo implements host.Runtime.
func (r *Runtime) ArtifactInfo(id runtime.ArtifactID) *host.ArtifactInfo {
	r.mu.RLock()
	defer r.mu.RUnlock()
	version, ok := r.deployed[string(id.Encode())]
	if !ok {
		return nil
	}
	return &host.ArtifactInfo{Version: version}
}

// StartService implements host.Runtime.
func (r *Runtime) StartService(spec runtime.InstanceSpec) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.instances[spec.ID]; exists {
		return execerror.New(execerror.KindServiceIDExists, "native runtime %d: instance %d already started", r.id, spec.ID)
	}
	factory, ok := r.factories[spec.Artifact.Name]
	if !ok {
		return execerror.New(execerror.KindInvalidArtifactID, "native runtime %d: no service factory registered for %q", r.id, spec.Artifact.Name)
	}
	r.instances[spec.ID] = factory(spec.ID)
	r.names[spec.ID] = spec.Artifact.Name
	return nil
}

// StopService implements host.Runtime.
func (r *Runtime) StopService(spec runtime.InstanceSpec) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.instances, spec.ID)
	delete(r.names, spec.ID)
	return nil
}

func (r *Runtime) lookup(instanceID uint32) (Service, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.instances[instanceID]
	return s, ok
}

// ConfigureService implements host.Runtime, running the service's
// constructor inside a panic boundary (spec.md §5 "Panics crossing the
// runtime boundary are caught by configure_service and execute wrappers").
func (r *Runtime) ConfigureService(fork *storage.Fork, spec runtime.InstanceSpec, params []byte) (err error) {
	svc, ok := r.lookup(spec.ID)
	if !ok {
		return execerror.New(execerror.KindIncorrectInstanceID, "native runtime %d: instance %d not started", r.id, spec.ID)
	}
	defer execerror.Recover(&err)
	ctx := exec.NewContext(fork, runtime.BlockchainCaller)
	return svc.Initialize(ctx, params)
}

// Execute implements host.Runtime, the hot path for every transaction.
func (r *Runtime) Execute(d host.Dispatcher, ctx *exec.Context, info runtime.CallInfo, args []byte) (err error) {
	svc, ok := r.lookup(info.InstanceID)
	if !ok {
		return execerror.New(execerror.KindIncorrectInstanceID, "native runtime %d: no running instance %d", r.id, info.InstanceID)
	}
	defer execerror.Recover(&err)
	return svc.Call(d, ctx, info.MethodID, args)
}

// BeforeCommit implements host.Runtime, fanning out to every hosted
// instance in ascending instance-id order for deterministic log/metric
// ordering across replicas.
func (r *Runtime) BeforeCommit(fork *storage.Fork) error {
	for _, id := range r.instanceIDsSorted() {
		svc, ok := r.lookup(id)
		if !ok {
			continue
		}
		if err := svc.BeforeCommit(fork); err != nil {
			return err
		}
	}
	return nil
}

// AfterCommit implements host.Runtime. Native services in this module have
// no speculative deploy needs, so this is a no-op fan-out point reserved
// for future services.
func (r *Runtime) AfterCommit(snapshot storage.Snapshot, sender host.Sender) {}

// StateHashes implements host.Runtime.
func (r *Runtime) StateHashes(snapshot storage.Snapshot) host.StateHashAggregator {
	instances := make(map[uint32][]host.StateHashEntry)
	for _, id := range r.instanceIDsSorted() {
		svc, ok := r.lookup(id)
		if !ok {
			continue
		}
		instances[id] = svc.StateHashes(snapshot)
	}
	return host.StateHashAggregator{Instances: instances}
}

func (r *Runtime) instanceIDsSorted() []uint32 {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ids := make([]uint32, 0, len(r.instances))
	for id := range r.instances {
		ids = append(ids, id)
	}
	for i := 1; i < len(ids); i++ {
		for j := i; j > 0 && ids[j-1] > ids[j]; j-- {
			ids[j-1], ids[j] = ids[j], ids[j-1]
		}
	}
	return ids
}
