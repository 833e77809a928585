package wallet_test

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

func setup(t *testing.T) (*testchain.Chain, crypto.PrivateKey) {
	t.Helper()
	c := testchain.New()
	fork := storage.NewFork(c.Store)
	require.NoError(t, c.Bootstrap(fork, testchain.PublicKeys(testchain.Keys(4))))
	_, err := fork.Commit()
	require.NoError(t, err)

	owner, err := crypto.GenerateKey()
	require.NoError(t, err)
	return c, owner
}

func createWallet(t *testing.T, c *testchain.Chain, owner crypto.PrivateKey) {
	t.Helper()
	fork := storage.NewFork(c.Store)
	tx := runtime.AnyTx{
		CallInfo:  runtime.CallInfo{InstanceID: testchain.WalletInstanceID, MethodID: wallet.MethodCreateWallet},
		Arguments: createWalletArgs(owner, "owner-wallet"),
	}
	require.NoError(t, c.Dispatcher.Execute(fork, crypto.Sum([]byte("create")), runtime.NewVerifiedTx(tx, owner)))
	_, err := fork.Commit()
	require.NoError(t, err)
}

func createWalletArgs(owner crypto.PrivateKey, name string) []byte {
	var nameLen [2]byte
	binary.BigEndian.PutUint16(nameLen[:], uint16(len(name)))
	args := append(pub(owner), nameLen[:]...)
	return append(args, name...)
}

func amountArgs(owner crypto.PrivateKey, amount uint64) []byte {
	var b [8]byte
	binary.BigEndian.PutUint64(b[:], amount)
	return append(pub(owner), b[:]...)
}

func pub(k crypto.PrivateKey) []byte {
	p := k.Public()
	return p[:]
}

func TestCreateWalletThenIncreaseAndDecrease(t *testing.T) {
	c, owner := setup(t)
	createWallet(t, c, owner)

	sc := wallet.New(storage.ReadOnly(storage.NewFork(c.Store)))
	w, ok := sc.Get(owner.Public())
	require.True(t, ok)
	require.Equal(t, owner.Public(), w.PubKey)
	require.Equal(t, "owner-wallet", w.Name)
	require.Equal(t, uint64(0), w.Balance)
	require.Equal(t, uint64(1), w.HistoryLen)

	fork := storage.NewFork(c.Store)
	tx := runtime.AnyTx{
		CallInfo:  runtime.CallInfo{InstanceID: testchain.WalletInstanceID, MethodID: wallet.MethodIncreaseWalletBalance},
		Arguments: amountArgs(owner, 100),
	}
	require.NoError(t, c.Dispatcher.Execute(fork, crypto.Sum([]byte("inc")), runtime.NewVerifiedTx(tx, owner)))
	_, err := fork.Commit()
	require.NoError(t, err)

	sc = wallet.New(storage.ReadOnly(storage.NewFork(c.Store)))
	w, _ = sc.Get(owner.Public())
	require.Equal(t, "owner-wallet", w.Name)
	require.Equal(t, uint64(100), w.Balance)
	require.Equal(t, uint64(2), w.HistoryLen)
	require.Len(t, sc.History(owner.Public()), 2)

	fork2 := storage.NewFork(c.Store)
	decTx := runtime.AnyTx{
		CallInfo:  runtime.CallInfo{InstanceID: testchain.WalletInstanceID, MethodID: wallet.MethodDecreaseWalletBalance},
		Arguments: amountArgs(owner, 40),
	}
	require.NoError(t, c.Dispatcher.Execute(fork2, crypto.Sum([]byte("dec")), runtime.NewVerifiedTx(decTx, owner)))
	_, err = fork2.Commit()
	require.NoError(t, err)

	sc = wallet.New(storage.ReadOnly(storage.NewFork(c.Store)))
	w, _ = sc.Get(owner.Public())
	require.Equal(t, uint64(60), w.Balance)
	require.Equal(t, uint64(3), w.HistoryLen)
	require.Len(t, sc.History(owner.Public()), 3)
}

func TestCreateWalletRejectsDuplicate(t *testing.T) {
	c, owner := setup(t)
	createWallet(t, c, owner)

	fork := storage.NewFork(c.Store)
	tx := runtime.AnyTx{
		CallInfo:  runtime.CallInfo{InstanceID: testchain.WalletInstanceID, MethodID: wallet.MethodCreateWallet},
		Arguments: createWalletArgs(owner, "owner-wallet"),
	}
	err := c.Dispatcher.Execute(fork, crypto.Sum([]byte("dup")), runtime.NewVerifiedTx(tx, owner))
	require.Error(t, err)
	var execErr *execerror.Error
	require.ErrorAs(t, err, &execErr)
	require.Equal(t, execerror.KindService, execErr.Kind)
}

func TestDecreaseRejectsInsufficientBalance(t *testing.T) {
	c, owner := setup(t)
	createWallet(t, c, owner)

	fork := storage.NewFork(c.Store)
	tx := runtime.AnyTx{
		CallInfo:  runtime.CallInfo{InstanceID: testchain.WalletInstanceID, MethodID: wallet.MethodDecreaseWalletBalance},
		Arguments: amountArgs(owner, 1),
	}
	err := c.Dispatcher.Execute(fork, crypto.Sum([]byte("bad")), runtime.NewVerifiedTx(tx, owner))
	require.Error(t, err)
	var execErr *execerror.Error
	require.ErrorAs(t, err, &execErr)
	require.Equal(t, execerror.KindService, execErr.Kind)
}

func TestChangeBalanceRejectsUnknownWallet(t *testing.T) {
	c, _ := bootstrapOnly(t)
	other, err := crypto.GenerateKey()
	require.NoError(t, err)

	fork := storage.NewFork(c.Store)
	tx := runtime.AnyTx{
		CallInfo:  runtime.CallInfo{InstanceID: testchain.WalletInstanceID, MethodID: wallet.MethodIncreaseWalletBalance},
		Arguments: amountArgs(other, 1),
	}
	err = c.Dispatcher.Execute(fork, crypto.Sum([]byte("nf")), runtime.NewVerifiedTx(tx, other))
	require.Error(t, err)
	var execErr *execerror.Error
	require.ErrorAs(t, err, &execErr)
	require.Equal(t, execerror.KindService, execErr.Kind)
}

func bootstrapOnly(t *testing.T) (*testchain.Chain, crypto.PrivateKey) {
	t.Helper()
	c := testchain.New()
	fork := storage.NewFork(c.Store)
	require.NoError(t, c.Bootstrap(fork, testchain.PublicKeys(testchain.Keys(4))))
	_, err := fork.Commit()
	require.NoError(t, err)
	owner, err := crypto.GenerateKey()
	require.NoError(t, err)
	return c, owner
}
