package reconfig_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/nspcc-dev/dispatchernode/internal/testchain"
	"github.com/nspcc-dev/dispatchernode/pkg/crypto"
	"github.com/nspcc-dev/dispatchernode/pkg/execerror"
	"github.com/nspcc-dev/dispatchernode/pkg/runtime"
	"github.com/nspcc-dev/dispatchernode/pkg/services/reconfig"
	"github.com/nspcc-dev/dispatchernode/pkg/storage"
)

func bootstrapFourValidators(t *testing.T) (*testchain.Chain, []crypto.PrivateKey) {
	t.Helper()
	c := testchain.New()
	keys := testchain.Keys(4)
	fork := storage.NewFork(c.Store)
	require.NoError(t, c.Bootstrap(fork, testchain.PublicKeys(keys)))
	_, err := fork.Commit()
	require.NoError(t, err)
	return c, keys
}

func proposeTx(cfg reconfig.Config) runtime.AnyTx {
	return runtime.AnyTx{
		CallInfo:  runtime.CallInfo{InstanceID: testchain.ReconfigInstanceID, MethodID: reconfig.MethodPropose},
		Arguments: cfg.Encode(),
	}
}

func voteTx(cfgHash crypto.Hash, sig crypto.Signature) runtime.AnyTx {
	args := append(append([]byte{}, cfgHash[:]...), sig[:]...)
	return runtime.AnyTx{
		CallInfo:  runtime.CallInfo{InstanceID: testchain.ReconfigInstanceID, MethodID: reconfig.MethodVote},
		Arguments: args,
	}
}

// TestMajorityScheduling exercises spec.md §8 scenario 5: four validators,
// three votes insufficient, the fourth commits the configuration.
func TestMajorityScheduling(t *testing.T) {
	c, keys := bootstrapFourValidators(t)
	newValidators := testchain.PublicKeys(testchain.Keys(5))

	sc := reconfig.New(storage.ReadOnly(storage.NewFork(c.Store)))
	actualHash := sc.ActualConfigHash()

	cfg := reconfig.Config{Validators: newValidators, ActualFrom: 10, PreviousConfigHash: actualHash}
	cfgHash := cfg.Hash()

	proposeFork := storage.NewFork(c.Store)
	require.NoError(t, c.Dispatcher.Execute(proposeFork, crypto.Sum([]byte("propose")), runtime.NewVerifiedTx(proposeTx(cfg), keys[0])))
	_, err := proposeFork.Commit()
	require.NoError(t, err)

	// Three of four votes: not yet a majority (ceil(2*4/3)+1 = 4).
	for i := 0; i < 3; i++ {
		sig := keys[i].Sign(cfgHash[:])
		fork := storage.NewFork(c.Store)
		require.NoError(t, c.Dispatcher.Execute(fork, crypto.Sum([]byte{byte(i)}), runtime.NewVerifiedTx(voteTx(cfgHash, sig), keys[i])))
		_, err := fork.Commit()
		require.NoError(t, err)
	}
	sc = reconfig.New(storage.ReadOnly(storage.NewFork(c.Store)))
	require.True(t, sc.FollowingConfigHash().IsZero(), "three of four votes must not yet schedule")

	// Fourth vote reaches the Byzantine majority and schedules it.
	sig := keys[3].Sign(cfgHash[:])
	fork := storage.NewFork(c.Store)
	require.NoError(t, c.Dispatcher.Execute(fork, crypto.Sum([]byte("vote4")), runtime.NewVerifiedTx(voteTx(cfgHash, sig), keys[3])))
	_, err = fork.Commit()
	require.NoError(t, err)

	sc = reconfig.New(storage.ReadOnly(storage.NewFork(c.Store)))
	require.Equal(t, cfgHash, sc.FollowingConfigHash())
}

func TestProposeRejectsNonValidator(t *testing.T) {
	c, _ := bootstrapFourValidators(t)
	outsider, err := crypto.GenerateKey()
	require.NoError(t, err)

	sc := reconfig.New(storage.ReadOnly(storage.NewFork(c.Store)))
	cfg := reconfig.Config{Validators: testchain.PublicKeys(testchain.Keys(3)), ActualFrom: 5, PreviousConfigHash: sc.ActualConfigHash()}

	fork := storage.NewFork(c.Store)
	err = c.Dispatcher.Execute(fork, crypto.Sum([]byte("x")), runtime.NewVerifiedTx(proposeTx(cfg), outsider))
	require.Error(t, err)
	var execErr *execerror.Error
	require.ErrorAs(t, err, &execErr)
	require.Equal(t, execerror.KindService, execErr.Kind)
}

func TestProposeRejectsStalePreviousHash(t *testing.T) {
	c, keys := bootstrapFourValidators(t)
	cfg := reconfig.Config{
		Validators:         testchain.PublicKeys(testchain.Keys(3)),
		ActualFrom:         5,
		PreviousConfigHash: crypto.Sum([]byte("not-the-actual-hash")),
	}
	fork := storage.NewFork(c.Store)
	err := c.Dispatcher.Execute(fork, crypto.Sum([]byte("x")), runtime.NewVerifiedTx(proposeTx(cfg), keys[0]))
	require.Error(t, err)
}

func TestPromotionOnHeight(t *testing.T) {
	c, keys := bootstrapFourValidators(t)
	newValidators := testchain.PublicKeys(testchain.Keys(2))

	sc := reconfig.New(storage.ReadOnly(storage.NewFork(c.Store)))
	cfg := reconfig.Config{Validators: newValidators, ActualFrom: 1, PreviousConfigHash: sc.ActualConfigHash()}
	cfgHash := cfg.Hash()

	fork := storage.NewFork(c.Store)
	require.NoError(t, c.Dispatcher.Execute(fork, crypto.Sum([]byte("p")), runtime.NewVerifiedTx(proposeTx(cfg), keys[0])))
	_, err := fork.Commit()
	require.NoError(t, err)

	for i := 0; i < 4; i++ {
		sig := keys[i].Sign(cfgHash[:])
		vf := storage.NewFork(c.Store)
		require.NoError(t, c.Dispatcher.Execute(vf, crypto.Sum([]byte{byte(10 + i)}), runtime.NewVerifiedTx(voteTx(cfgHash, sig), keys[i])))
		_, err := vf.Commit()
		require.NoError(t, err)
	}

	// Advancing to height 1 in BeforeCommit promotes the following config.
	commitFork := storage.NewFork(c.Store)
	require.NoError(t, c.Dispatcher.BeforeCommit(commitFork))
	_, err = commitFork.Commit()
	require.NoError(t, err)

	sc = reconfig.New(storage.ReadOnly(storage.NewFork(c.Store)))
	require.Equal(t, cfgHash, sc.ActualConfigHash())
	require.True(t, sc.FollowingConfigHash().IsZero())
}
