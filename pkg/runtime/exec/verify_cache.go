package exec

import (
	lru "github.com/hashicorp/golang-lru"

	"github.com/nspcc-dev/dispatchernode/pkg/crypto"
	"github.com/nspcc-dev/dispatchernode/pkg/runtime"
)

// verifiedCacheSize bounds the memoized-verification cache. A block-proposer
// rebroadcast or a replica replaying the same transaction from several
// neighbors re-checks an identical (author, payload, signature) triple; the
// cache turns every repeat after the first into a map lookup instead of a
// fresh ed25519 verification.
const verifiedCacheSize = 4096

var verifiedCache, _ = lru.New(verifiedCacheSize)

func verifiedCacheKey(author crypto.PublicKey, payload []byte, sig crypto.Signature) crypto.Hash {
	buf := make([]byte, 0, len(author)+len(payload)+len(sig))
	buf = append(buf, author[:]...)
	buf = append(buf, payload...)
	buf = append(buf, sig[:]...)
	return crypto.SumTagged('V', buf)
}

// CheckVerified reports whether tx's signature verifies, memoizing the
// result in the package's verified-signature cache so a transaction
// re-checked across a reentrant replay or a rebroadcast pays the ed25519
// verification cost at most once.
func CheckVerified[T runtime.Encodable](tx runtime.Verified[T]) bool {
	key := verifiedCacheKey(tx.Author, tx.Payload.Encode(), tx.Signature)
	if v, ok := verifiedCache.Get(key); ok {
		return v.(bool)
	}
	ok := tx.Verify()
	verifiedCache.Add(key, ok)
	return ok
}
