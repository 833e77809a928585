// Package testchain provides fixtures shared by this module's test suites:
// deterministic keypairs, a wired dispatcher hosting the wallet and
// reconfig services, and a genesis configuration, so individual package
// tests don't each re-derive the same wiring.
package testchain

import (
	"sync"

	"go.uber.org/zap"

	"github.com/nspcc-dev/dispatchernode/pkg/crypto"
	"github.com/nspcc-dev/dispatchernode/pkg/dispatcher"
	"github.com/nspcc-dev/dispatchernode/pkg/runtime"
	"github.com/nspcc-dev/dispatchernode/pkg/runtime/native"
	"github.com/nspcc-dev/dispatchernode/pkg/services/reconfig"
	"github.com/nspcc-dev/dispatchernode/pkg/services/wallet"
	"github.com/nspcc-dev/dispatchernode/pkg/storage"
)

// NativeRuntimeID is the runtime id every fixture registers the native
// runtime under.
const NativeRuntimeID uint32 = 1

// WalletInstanceID and ReconfigInstanceID are the fixed builtin instance ids
// the fixtures start wallet/reconfig under.
const (
	WalletInstanceID   uint32 = 10
	ReconfigInstanceID uint32 = 11
)

// Keys deterministically derives n ed25519 keypairs from a fixed seed so
// tests can assert on a stable validator set across runs.
func Keys(n int) []crypto.PrivateKey {
	out := make([]crypto.PrivateKey, n)
	for i := 0; i < n; i++ {
		seed := make([]byte, 32)
		seed[0] = byte(i + 1)
		out[i] = crypto.PrivateKeyFromSeed(seed)
	}
	return out
}

// PublicKeys projects each private key's public half.
func PublicKeys(keys []crypto.PrivateKey) []crypto.PublicKey {
	out := make([]crypto.PublicKey, len(keys))
	for i, k := range keys {
		out[i] = k.Public()
	}
	return out
}

// Chain bundles a dispatcher with its backing store for a test scenario.
type Chain struct {
	Dispatcher *dispatcher.Dispatcher
	Runtime    *native.Runtime
	Store      storage.Store
}

// initMetricsOnce guards dispatcher.InitMetrics, which registers collectors
// and must run only once per process however many fixtures a test builds.
var initMetricsOnce sync.Once

// New builds a fresh in-memory dispatcher with the native runtime hosting
// wallet and reconfig registered, but nothing deployed or started yet.
func New() *Chain {
	log := zap.NewNop()
	initMetricsOnce.Do(dispatcher.InitMetrics)
	d := dispatcher.New(log)
	rt := native.New(NativeRuntimeID, log)
	rt.Register(wallet.ArtifactName, wallet.NewFactory(NativeRuntimeID))
	rt.Register(reconfig.ArtifactName, reconfig.NewFactory(NativeRuntimeID))
	d.AddRuntime(rt)
	return &Chain{Dispatcher: d, Runtime: rt, Store: storage.NewMemoryStore()}
}

// WalletArtifact and ReconfigArtifact are the ArtifactIDs fixtures deploy.
func WalletArtifact() runtime.ArtifactID {
	return runtime.ArtifactID{RuntimeID: NativeRuntimeID, Name: wallet.ArtifactName, Version: "1.0.0"}
}

func ReconfigArtifact() runtime.ArtifactID {
	return runtime.ArtifactID{RuntimeID: NativeRuntimeID, Name: reconfig.ArtifactName, Version: "1.0.0"}
}

// Bootstrap deploys and starts both builtin services against fork, seeding
// reconfig's genesis configuration with validators. It does not commit fork;
// callers can keep writing to it before committing.
func (c *Chain) Bootstrap(fork *storage.Fork, validators []crypto.PublicKey) error {
	walletSpec := runtime.InstanceSpec{ID: WalletInstanceID, Name: "wallet", Artifact: WalletArtifact()}
	if err := c.Dispatcher.AddBuiltinService(fork, walletSpec, nil, true); err != nil {
		return err
	}

	genesisCfg := reconfig.Config{Validators: validators, ActualFrom: 0, PreviousConfigHash: crypto.Hash{}}
	reconfigSpec := runtime.InstanceSpec{ID: ReconfigInstanceID, Name: "reconfig", Artifact: ReconfigArtifact()}
	return c.Dispatcher.AddBuiltinService(fork, reconfigSpec, genesisCfg.Encode(), true)
}
