package crypto_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/nspcc-dev/dispatchernode/pkg/crypto"
)

func TestSignVerifyRoundTrip(t *testing.T) {
	key, err := crypto.GenerateKey()
	require.NoError(t, err)
	payload := []byte("a transaction payload")
	sig := key.Sign(payload)
	require.True(t, crypto.Verify(key.Public(), payload, sig))
	require.False(t, crypto.Verify(key.Public(), []byte("tampered"), sig))
}

func TestPrivateKeyFromSeedIsDeterministic(t *testing.T) {
	seed := make([]byte, 32)
	seed[0] = 7
	a := crypto.PrivateKeyFromSeed(seed)
	b := crypto.PrivateKeyFromSeed(seed)
	require.Equal(t, a.Public(), b.Public())
}

func TestPublicKeyBase58RoundTrip(t *testing.T) {
	key, err := crypto.GenerateKey()
	require.NoError(t, err)
	encoded := key.Public().String()
	decoded, err := crypto.PublicKeyFromBase58(encoded)
	require.NoError(t, err)
	require.Equal(t, key.Public(), decoded)
}

func TestPublicKeyFromBase58RejectsMalformed(t *testing.T) {
	_, err := crypto.PublicKeyFromBase58("not-base58-key-material")
	require.Error(t, err)
}

func TestSumTaggedDiffersByTag(t *testing.T) {
	payload := []byte("same bytes")
	require.NotEqual(t, crypto.SumTagged('C', payload), crypto.SumTagged('R', payload))
}

func TestHashFromBytesRoundTrip(t *testing.T) {
	h := crypto.Sum([]byte("hello"))
	require.Equal(t, h, crypto.HashFromBytes(h[:]))
}

func TestHashIsZero(t *testing.T) {
	require.True(t, crypto.Hash{}.IsZero())
	require.False(t, crypto.Sum([]byte("x")).IsZero())
}
