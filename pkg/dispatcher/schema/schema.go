// Package schema implements the dispatcher's persistent index (spec.md §3,
// §6): deployed artifacts, running instances, and the instance-id allocator,
// Merkle-aggregated into the dispatcher's share of the global state hash.
package schema

import (
	"encoding/binary"

	"github.com/nspcc-dev/dispatchernode/pkg/crypto"
	"github.com/nspcc-dev/dispatchernode/pkg/merkle"
	"github.com/nspcc-dev/dispatchernode/pkg/runtime"
	"github.com/nspcc-dev/dispatchernode/pkg/storage"
)

// FirstAllocatedID is the first id the instance allocator hands out,
// matching spec.md §3's "next_instance_id ... starting at 1024".
const FirstAllocatedID uint32 = 1024

var bytesCodec = merkle.Codec[[]byte]{
	Encode: func(b []byte) []byte { return b },
	Decode: func(b []byte) []byte { return b },
}

// Schema wraps a storage.Store (typically a *storage.Fork during block
// execution, or the raw backing store when reading a snapshot) with the
// dispatcher's three persistent indices.
type Schema struct {
	store     storage.Store
	artifacts *merkle.Map[[]byte]
	instances *merkle.Map[[]byte]
}

// New opens the dispatcher schema over store.
func New(store storage.Store) *Schema {
	return &Schema{
		store:     store,
		artifacts: merkle.NewMap[[]byte](store, storage.PrefixArtifacts.Bytes(), bytesCodec),
		instances: merkle.NewMap[[]byte](store, storage.PrefixServiceInstances.Bytes(), bytesCodec),
	}
}

// PutArtifact records spec as the deployment spec for artifact. Idempotent:
// writing the same (artifact, spec) pair twice leaves one record (spec.md §8
// idempotence).
func (s *Schema) PutArtifact(artifact runtime.ArtifactID, spec []byte) {
	s.artifacts.Put(artifact.Encode(), spec)
}

// GetArtifact returns the deployment spec for artifact, if registered.
func (s *Schema) GetArtifact(artifact runtime.ArtifactID) ([]byte, bool) {
	return s.artifacts.Get(artifact.Encode())
}

// IterateArtifacts visits every registered artifact, decoding the
// ArtifactID key; malformed keys are skipped rather than propagated, since
// they can only arise from a corrupted store (not a reachable spec.md
// condition).
func (s *Schema) IterateArtifacts(f func(artifact runtime.ArtifactID, spec []byte) bool) {
	s.artifacts.Iterate(func(k []byte, v []byte) bool {
		a, err := runtime.DecodeArtifactID(k)
		if err != nil {
			return true
		}
		return f(a, v)
	})
}

// PutInstance records spec under its name.
func (s *Schema) PutInstance(spec runtime.InstanceSpec) {
	s.instances.Put([]byte(spec.Name), spec.Encode())
}

// GetInstanceByName looks up a running instance's spec by name.
func (s *Schema) GetInstanceByName(name string) (runtime.InstanceSpec, bool) {
	b, ok := s.instances.Get([]byte(name))
	if !ok {
		return runtime.InstanceSpec{}, false
	}
	spec, err := runtime.DecodeInstanceSpec(b)
	if err != nil {
		return runtime.InstanceSpec{}, false
	}
	return spec, true
}

// DeleteInstance removes the persistent record for name (used by
// stop_service's administrative half, which the dispatcher — not the
// runtime — performs).
func (s *Schema) DeleteInstance(name string) {
	s.instances.Delete([]byte(name))
}

// IterateInstances visits every persisted instance.
func (s *Schema) IterateInstances(f func(spec runtime.InstanceSpec) bool) {
	s.instances.Iterate(func(_ []byte, v []byte) bool {
		spec, err := runtime.DecodeInstanceSpec(v)
		if err != nil {
			return true
		}
		return f(spec)
	})
}

func nextIDKey() []byte {
	return storage.PrefixNextInstanceID.Bytes()
}

// NextInstanceID returns the next id to be handed out without consuming it.
func (s *Schema) NextInstanceID() uint32 {
	v, err := s.store.Get(nextIDKey())
	if err != nil || len(v) != 8 {
		return FirstAllocatedID
	}
	return uint32(binary.LittleEndian.Uint64(v))
}

// AssignInstanceID atomically increments next_instance_id on the fork and
// returns the id just allocated (spec.md §4.3).
func (s *Schema) AssignInstanceID() uint32 {
	id := s.NextInstanceID()
	var b [8]byte
	binary.LittleEndian.PutUint64(b[:], uint64(id)+1)
	_ = s.store.Put(nextIDKey(), b[:])
	return id
}

// ObjectHash aggregates the dispatcher's own Merkle-indexed collections into
// a single hash (spec.md §2 "Dispatcher schema").
func (s *Schema) ObjectHash() crypto.Hash {
	a := s.artifacts.ObjectHash()
	i := s.instances.ObjectHash()
	buf := make([]byte, 0, 2*crypto.HashSize)
	buf = append(buf, a[:]...)
	buf = append(buf, i[:]...)
	return crypto.SumTagged('D', buf)
}

// ArtifactsObjectHash exposes the artifacts index root on its own, for
// state-hash aggregation coordinates (spec.md §4.2.6).
func (s *Schema) ArtifactsObjectHash() crypto.Hash { return s.artifacts.ObjectHash() }

// InstancesObjectHash exposes the service_instances index root on its own.
func (s *Schema) InstancesObjectHash() crypto.Hash { return s.instances.ObjectHash() }
