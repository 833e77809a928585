package schema_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/nspcc-dev/dispatchernode/pkg/dispatcher/schema"
	"github.com/nspcc-dev/dispatchernode/pkg/runtime"
	"github.com/nspcc-dev/dispatchernode/pkg/storage"
)

func walletArtifact() runtime.ArtifactID {
	return runtime.ArtifactID{RuntimeID: 1, Name: "wallet", Version: "1.0.0"}
}

func TestPutGetArtifactIsIdempotent(t *testing.T) {
	s := schema.New(storage.NewMemoryStore())
	artifact := walletArtifact()

	s.PutArtifact(artifact, []byte("spec-v1"))
	s.PutArtifact(artifact, []byte("spec-v1"))

	got, ok := s.GetArtifact(artifact)
	require.True(t, ok)
	require.Equal(t, []byte("spec-v1"), got)

	var count int
	s.IterateArtifacts(func(a runtime.ArtifactID, spec []byte) bool {
		count++
		return true
	})
	require.Equal(t, 1, count)
}

func TestGetArtifactMissing(t *testing.T) {
	s := schema.New(storage.NewMemoryStore())
	_, ok := s.GetArtifact(walletArtifact())
	require.False(t, ok)
}

func TestPutInstanceAndGetByName(t *testing.T) {
	s := schema.New(storage.NewMemoryStore())
	spec := runtime.InstanceSpec{ID: 10, Name: "wallet-1", Artifact: walletArtifact()}
	s.PutInstance(spec)

	got, ok := s.GetInstanceByName("wallet-1")
	require.True(t, ok)
	require.Equal(t, spec, got)

	_, ok = s.GetInstanceByName("no-such-instance")
	require.False(t, ok)
}

func TestDeleteInstanceRemovesRecord(t *testing.T) {
	s := schema.New(storage.NewMemoryStore())
	spec := runtime.InstanceSpec{ID: 10, Name: "wallet-1", Artifact: walletArtifact()}
	s.PutInstance(spec)
	s.DeleteInstance("wallet-1")

	_, ok := s.GetInstanceByName("wallet-1")
	require.False(t, ok)
}

func TestIterateInstancesVisitsAll(t *testing.T) {
	s := schema.New(storage.NewMemoryStore())
	s.PutInstance(runtime.InstanceSpec{ID: 10, Name: "wallet-1", Artifact: walletArtifact()})
	s.PutInstance(runtime.InstanceSpec{ID: 11, Name: "reconfig-1", Artifact: walletArtifact()})

	var names []string
	s.IterateInstances(func(spec runtime.InstanceSpec) bool {
		names = append(names, spec.Name)
		return true
	})
	require.ElementsMatch(t, []string{"wallet-1", "reconfig-1"}, names)
}

func TestAssignInstanceIDAllocatesSequentially(t *testing.T) {
	s := schema.New(storage.NewMemoryStore())
	require.Equal(t, schema.FirstAllocatedID, s.NextInstanceID())

	first := s.AssignInstanceID()
	second := s.AssignInstanceID()

	require.Equal(t, schema.FirstAllocatedID, first)
	require.Equal(t, schema.FirstAllocatedID+1, second)
	require.Equal(t, schema.FirstAllocatedID+2, s.NextInstanceID())
}

func TestObjectHashChangesWithArtifactsAndInstances(t *testing.T) {
	s := schema.New(storage.NewMemoryStore())
	empty := s.ObjectHash()

	s.PutArtifact(walletArtifact(), []byte("spec-v1"))
	afterArtifact := s.ObjectHash()
	require.NotEqual(t, empty, afterArtifact)

	s.PutInstance(runtime.InstanceSpec{ID: 10, Name: "wallet-1", Artifact: walletArtifact()})
	afterInstance := s.ObjectHash()
	require.NotEqual(t, afterArtifact, afterInstance)
}

func TestArtifactsAndInstancesObjectHashAreIndependent(t *testing.T) {
	s := schema.New(storage.NewMemoryStore())
	beforeArtifacts := s.ArtifactsObjectHash()
	beforeInstances := s.InstancesObjectHash()

	s.PutInstance(runtime.InstanceSpec{ID: 10, Name: "wallet-1", Artifact: walletArtifact()})

	require.Equal(t, beforeArtifacts, s.ArtifactsObjectHash())
	require.NotEqual(t, beforeInstances, s.InstancesObjectHash())
}
