package storage

// KeyPrefix tags the top-level namespace a key belongs to. Prefixes are
// chosen once and never reused (spec.md §6): two honest nodes on the same
// block height must produce byte-identical state hashes, which requires the
// key layout to be a fixed, explicit contract rather than derived from type
// reflection.
type KeyPrefix byte

const (
	// PrefixArtifacts is the dispatcher's artifacts index.
	PrefixArtifacts KeyPrefix = 0x01
	// PrefixServiceInstances is the dispatcher's service_instances index.
	PrefixServiceInstances KeyPrefix = 0x02
	// PrefixNextInstanceID stores the dispatcher's instance-id allocator.
	PrefixNextInstanceID KeyPrefix = 0x03
	// PrefixWallets is the wallet service's proof-map of wallets.
	PrefixWallets KeyPrefix = 0x04
	// PrefixWalletHistory is the wallet service's per-wallet proof-list
	// of transaction hashes, keyed by PrefixWalletHistory + pub_key.
	PrefixWalletHistory KeyPrefix = 0x05
	// PrefixProposeData is the reconfig service's proof-map of proposals.
	PrefixProposeData KeyPrefix = 0x06
	// PrefixConfigHashByOrdinal is the reconfig service's commit-order list.
	PrefixConfigHashByOrdinal KeyPrefix = 0x07
	// PrefixVotesByConfigHash is the reconfig service's per-proposal vote
	// list, keyed by PrefixVotesByConfigHash + cfg_hash.
	PrefixVotesByConfigHash KeyPrefix = 0x08
)

// Bytes returns the single-byte encoding of the prefix.
func (p KeyPrefix) Bytes() []byte {
	return []byte{byte(p)}
}

// Key concatenates the prefix with suffix, the standard way every schema in
// this module derives its storage keys.
func (p KeyPrefix) Key(suffix []byte) []byte {
	out := make([]byte, 0, 1+len(suffix))
	out = append(out, byte(p))
	out = append(out, suffix...)
	return out
}
