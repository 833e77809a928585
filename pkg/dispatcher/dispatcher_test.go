package dispatcher_test

import (
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/nspcc-dev/dispatchernode/internal/testchain"
	"github.com/nspcc-dev/dispatchernode/pkg/crypto"
	"github.com/nspcc-dev/dispatchernode/pkg/execerror"
	"github.com/nspcc-dev/dispatchernode/pkg/runtime"
	"github.com/nspcc-dev/dispatchernode/pkg/services/wallet"
	"github.com/nspcc-dev/dispatchernode/pkg/storage"
)

func TestDeployRegisterStart(t *testing.T) {
	c := testchain.New()
	fork := storage.NewFork(c.Store)

	res := <-c.Dispatcher.DeployArtifact(testchain.WalletArtifact(), nil)
	require.NoError(t, res.Err)

	require.NoError(t, c.Dispatcher.RegisterArtifact(fork, testchain.WalletArtifact(), nil))
	// Registering twice is idempotent.
	require.NoError(t, c.Dispatcher.RegisterArtifact(fork, testchain.WalletArtifact(), nil))

	spec := runtime.InstanceSpec{ID: testchain.WalletInstanceID, Name: "wallet", Artifact: testchain.WalletArtifact()}
	require.NoError(t, c.Dispatcher.StartService(fork, spec, nil))
	require.True(t, c.Dispatcher.IsRunning(testchain.WalletInstanceID))

	// Starting a second instance under the same id is rejected.
	err := c.Dispatcher.StartService(fork, spec, nil)
	require.Error(t, err)
	var execErr *execerror.Error
	require.ErrorAs(t, err, &execErr)
	require.Equal(t, execerror.KindServiceIDExists, execErr.Kind)
}

func TestStartServiceRejectsUndeployedArtifact(t *testing.T) {
	c := testchain.New()
	fork := storage.NewFork(c.Store)
	spec := runtime.InstanceSpec{ID: testchain.WalletInstanceID, Name: "wallet", Artifact: testchain.WalletArtifact()}

	err := c.Dispatcher.StartService(fork, spec, nil)
	require.Error(t, err)
	var execErr *execerror.Error
	require.ErrorAs(t, err, &execErr)
	require.Equal(t, execerror.KindArtifactNotDeployed, execErr.Kind)
}

func TestExecuteRoutesToHostedInstance(t *testing.T) {
	c := testchain.New()
	fork := storage.NewFork(c.Store)
	require.NoError(t, c.Bootstrap(fork, testchain.PublicKeys(testchain.Keys(4))))

	signer, err := crypto.GenerateKey()
	require.NoError(t, err)
	txHash := crypto.Sum([]byte("create-wallet-tx"))

	tx := runtime.AnyTx{
		CallInfo:  runtime.CallInfo{InstanceID: testchain.WalletInstanceID, MethodID: wallet.MethodCreateWallet},
		Arguments: createWalletArgs(signer, "signer-wallet"),
	}
	require.NoError(t, c.Dispatcher.Execute(fork, txHash, runtime.NewVerifiedTx(tx, signer)))
	require.True(t, c.Dispatcher.Modified())
}

func TestExecuteRejectsUnknownInstance(t *testing.T) {
	c := testchain.New()
	fork := storage.NewFork(c.Store)
	signer, err := crypto.GenerateKey()
	require.NoError(t, err)

	tx := runtime.AnyTx{CallInfo: runtime.CallInfo{InstanceID: 9999, MethodID: 0}}
	err = c.Dispatcher.Execute(fork, crypto.Hash{}, runtime.NewVerifiedTx(tx, signer))
	require.Error(t, err)
	var execErr *execerror.Error
	require.ErrorAs(t, err, &execErr)
	require.Equal(t, execerror.KindIncorrectInstanceID, execErr.Kind)
}

func TestRestoreFromSnapshotReplaysDeployAndStart(t *testing.T) {
	c := testchain.New()
	fork := storage.NewFork(c.Store)
	require.NoError(t, c.Bootstrap(fork, testchain.PublicKeys(testchain.Keys(4))))
	_, err := fork.Commit()
	require.NoError(t, err)

	fresh := testchain.New()
	fresh.Store = c.Store
	snapshot := storage.NewFork(c.Store)
	require.NoError(t, fresh.Dispatcher.RestoreFromSnapshot(snapshot))
	require.True(t, fresh.Dispatcher.IsRunning(testchain.WalletInstanceID))
	require.True(t, fresh.Dispatcher.IsRunning(testchain.ReconfigInstanceID))
}

func TestStateHashChangesOnMutation(t *testing.T) {
	c := testchain.New()
	fork := storage.NewFork(c.Store)
	require.NoError(t, c.Bootstrap(fork, testchain.PublicKeys(testchain.Keys(4))))
	_, err := fork.Commit()
	require.NoError(t, err)

	before := c.Dispatcher.StateHash(storage.NewFork(c.Store))

	signer, err := crypto.GenerateKey()
	require.NoError(t, err)
	fork2 := storage.NewFork(c.Store)
	tx := runtime.AnyTx{
		CallInfo:  runtime.CallInfo{InstanceID: testchain.WalletInstanceID, MethodID: wallet.MethodCreateWallet},
		Arguments: createWalletArgs(signer, "signer-wallet"),
	}
	require.NoError(t, c.Dispatcher.Execute(fork2, crypto.Sum([]byte("tx")), runtime.NewVerifiedTx(tx, signer)))
	_, err = fork2.Commit()
	require.NoError(t, err)

	after := c.Dispatcher.StateHash(storage.NewFork(c.Store))
	require.NotEqual(t, before, after)
}

func createWalletArgs(owner crypto.PrivateKey, name string) []byte {
	pub := owner.Public()
	var nameLen [2]byte
	binary.BigEndian.PutUint16(nameLen[:], uint16(len(name)))
	args := append(append([]byte{}, pub[:]...), nameLen[:]...)
	return append(args, name...)
}
