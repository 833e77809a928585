// Package reconfig implements the propose/vote chain-configuration demo
// service (spec.md §4.5): validators propose a new configuration, other
// validators vote on it, and once a Byzantine majority of votes is reached
// the candidate becomes the chain's following configuration.
package reconfig

import (
	"encoding/binary"
	"errors"

	"github.com/nspcc-dev/dispatchernode/pkg/crypto"
	"github.com/nspcc-dev/dispatchernode/pkg/merkle"
	"github.com/nspcc-dev/dispatchernode/pkg/storage"
)

// errTruncatedConfig is what spec.md §4.5 means by "cfg parses" failing.
var errTruncatedConfig = errors.New("reconfig: truncated or malformed config bytes")

// Config is the chain configuration a Propose transaction carries: the
// validator set effective from ActualFrom onward, chained to its
// predecessor by hash.
type Config struct {
	Validators         []crypto.PublicKey
	ActualFrom         uint64
	PreviousConfigHash crypto.Hash
}

// Encode produces the canonical bytes hashed to form a config hash and
// persisted as part of Propose.
func (c Config) Encode() []byte {
	buf := make([]byte, 0, 8+crypto.HashSize+4+len(c.Validators)*crypto.PublicKeySize)
	var b8 [8]byte
	binary.BigEndian.PutUint64(b8[:], c.ActualFrom)
	buf = append(buf, b8[:]...)
	buf = append(buf, c.PreviousConfigHash[:]...)
	var n [4]byte
	binary.BigEndian.PutUint32(n[:], uint32(len(c.Validators)))
	buf = append(buf, n[:]...)
	for _, v := range c.Validators {
		buf = append(buf, v[:]...)
	}
	return buf
}

// DecodeConfig is the inverse of Config.Encode. An error return is what
// spec.md §4.5 means by "cfg parses" failing.
func DecodeConfig(b []byte) (Config, error) {
	if len(b) < 8+crypto.HashSize+4 {
		return Config{}, errTruncatedConfig
	}
	var c Config
	c.ActualFrom = binary.BigEndian.Uint64(b[:8])
	off := 8
	c.PreviousConfigHash = crypto.HashFromBytes(b[off : off+crypto.HashSize])
	off += crypto.HashSize
	n := binary.BigEndian.Uint32(b[off : off+4])
	off += 4
	if len(b[off:]) != int(n)*crypto.PublicKeySize {
		return Config{}, errTruncatedConfig
	}
	c.Validators = make([]crypto.PublicKey, n)
	for i := range c.Validators {
		copy(c.Validators[i][:], b[off:off+crypto.PublicKeySize])
		off += crypto.PublicKeySize
	}
	return c, nil
}

// Hash computes the config hash used as the key into propose_data and
// config_hash_by_ordinal.
func (c Config) Hash() crypto.Hash {
	return crypto.SumTagged('C', c.Encode())
}

// Propose is the persisted payload of a Propose transaction.
type Propose struct {
	From crypto.PublicKey
	Cfg  Config
}

func (p Propose) encode() []byte {
	buf := make([]byte, 0, crypto.PublicKeySize+len(p.Cfg.Encode()))
	buf = append(buf, p.From[:]...)
	buf = append(buf, p.Cfg.Encode()...)
	return buf
}

func decodePropose(b []byte) (Propose, error) {
	if len(b) < crypto.PublicKeySize {
		return Propose{}, errTruncatedConfig
	}
	var p Propose
	copy(p.From[:], b[:crypto.PublicKeySize])
	cfg, err := DecodeConfig(b[crypto.PublicKeySize:])
	if err != nil {
		return Propose{}, err
	}
	p.Cfg = cfg
	return p, nil
}

// ProposeData is the persistent record for one accepted Propose (spec.md
// §4.5): the proposal itself, the running object hash of its vote list, and
// the list's fixed size (the previous configuration's validator count).
type ProposeData struct {
	Propose Propose
	// PrevValidators is a snapshot of the validator set in effect when
	// this proposal was accepted: it sizes and indexes the vote list, and
	// must not change even if the actual configuration later does.
	PrevValidators   []crypto.PublicKey
	VotesHistoryHash crypto.Hash
	NumVotes         uint32
}

var proposeDataCodec = merkle.Codec[ProposeData]{
	Encode: func(d ProposeData) []byte {
		buf := make([]byte, 0)
		p := d.Propose.encode()
		var pl [4]byte
		binary.BigEndian.PutUint32(pl[:], uint32(len(p)))
		buf = append(buf, pl[:]...)
		buf = append(buf, p...)
		var nval [4]byte
		binary.BigEndian.PutUint32(nval[:], uint32(len(d.PrevValidators)))
		buf = append(buf, nval[:]...)
		for _, v := range d.PrevValidators {
			buf = append(buf, v[:]...)
		}
		buf = append(buf, d.VotesHistoryHash[:]...)
		var nv [4]byte
		binary.BigEndian.PutUint32(nv[:], d.NumVotes)
		buf = append(buf, nv[:]...)
		return buf
	},
	Decode: func(b []byte) ProposeData {
		var d ProposeData
		if len(b) < 4 {
			return d
		}
		pl := binary.BigEndian.Uint32(b[:4])
		off := 4
		if off+int(pl) > len(b) {
			return d
		}
		p, err := decodePropose(b[off : off+int(pl)])
		if err != nil {
			return d
		}
		d.Propose = p
		off += int(pl)
		if off+4 > len(b) {
			return d
		}
		nval := binary.BigEndian.Uint32(b[off : off+4])
		off += 4
		if off+int(nval)*crypto.PublicKeySize > len(b) {
			return d
		}
		d.PrevValidators = make([]crypto.PublicKey, nval)
		for i := range d.PrevValidators {
			copy(d.PrevValidators[i][:], b[off:off+crypto.PublicKeySize])
			off += crypto.PublicKeySize
		}
		if off+crypto.HashSize+4 > len(b) {
			return d
		}
		d.VotesHistoryHash = crypto.HashFromBytes(b[off : off+crypto.HashSize])
		off += crypto.HashSize
		d.NumVotes = binary.BigEndian.Uint32(b[off : off+4])
		return d
	},
}

var hashCodec = merkle.Codec[crypto.Hash]{
	Encode: func(h crypto.Hash) []byte { return h[:] },
	Decode: func(b []byte) crypto.Hash { return crypto.HashFromBytes(b) },
}

// sentinelVote is the "no vote cast" marker pre-filled by PreSize.
var sentinelVote = crypto.Signature{}

// isSentinel reports whether sig is the unvoted sentinel.
func isSentinel(sig crypto.Signature) bool {
	return sig == sentinelVote
}

var sigCodec = merkle.Codec[crypto.Signature]{
	Encode: func(s crypto.Signature) []byte { return s[:] },
	Decode: func(b []byte) crypto.Signature {
		var s crypto.Signature
		copy(s[:], b)
		return s
	},
}

// reserved admin key tags, stored under config_hash_by_ordinal's own prefix
// but past a tag byte (0x02) the merkle.List implementation never touches
// (it only ever addresses tag 0x00 for length and 0x01 for items), so these
// never appear in that list's Len, Get or ObjectHash.
const (
	adminTag           byte = 0x02
	adminActualCfgHash byte = 0x01
	adminFollowingHash byte = 0x02
	adminHeight        byte = 0x03
)

func adminKey(sub byte) []byte {
	k := storage.PrefixConfigHashByOrdinal.Bytes()
	return append(k, adminTag, sub)
}

// Schema wraps a storage.Store with the reconfig service's persistent
// indices: propose_data_by_config_hash (0x06), config_hash_by_ordinal
// (0x07), and votes_by_config_hash[cfg_hash] (0x08).
type Schema struct {
	store       storage.Store
	proposeData *merkle.Map[ProposeData]
	ordinal     *merkle.List[crypto.Hash]
}

// New opens the reconfig schema over store.
func New(store storage.Store) *Schema {
	return &Schema{
		store:       store,
		proposeData: merkle.NewMap[ProposeData](store, storage.PrefixProposeData.Bytes(), proposeDataCodec),
		ordinal:     merkle.NewList[crypto.Hash](store, storage.PrefixConfigHashByOrdinal.Bytes(), hashCodec),
	}
}

func (s *Schema) votes(cfgHash crypto.Hash) *merkle.List[crypto.Signature] {
	prefix := storage.PrefixVotesByConfigHash.Key(cfgHash[:])
	return merkle.NewList[crypto.Signature](s.store, prefix, sigCodec)
}

// GetProposeData returns the persisted record for cfgHash, if any.
func (s *Schema) GetProposeData(cfgHash crypto.Hash) (ProposeData, bool) {
	return s.proposeData.Get(cfgHash[:])
}

// Votes returns the current vote list for cfgHash.
func (s *Schema) Votes(cfgHash crypto.Hash) []crypto.Signature {
	v := s.votes(cfgHash)
	n := v.Len()
	out := make([]crypto.Signature, n)
	for i := uint64(0); i < n; i++ {
		out[i] = v.Get(i)
	}
	return out
}

// PutPropose stores a freshly accepted proposal: pre-sizes its vote list to
// len(validators) with the sentinel, records ProposeData, and appends
// cfgHash to the ordinal list (spec.md §4.5 "On accept").
func (s *Schema) PutPropose(cfgHash crypto.Hash, propose Propose, validators []crypto.PublicKey) {
	v := s.votes(cfgHash)
	v.PreSize(uint64(len(validators)), sentinelVote)
	s.proposeData.Put(cfgHash[:], ProposeData{
		Propose:          propose,
		PrevValidators:   validators,
		VotesHistoryHash: v.ObjectHash(),
		NumVotes:         uint32(len(validators)),
	})
	s.ordinal.Append(cfgHash)
}

// RecordVote overwrites the sentinel at validatorIndex with sig and
// reroots VotesHistoryHash, unless a real vote is already present there
// (first vote wins, spec.md §4.5 "double-vote is a no-op"). Reports whether
// the vote was actually recorded.
func (s *Schema) RecordVote(cfgHash crypto.Hash, validatorIndex uint32, sig crypto.Signature) bool {
	v := s.votes(cfgHash)
	if !isSentinel(v.Get(uint64(validatorIndex))) {
		return false
	}
	v.Set(uint64(validatorIndex), sig)

	pd, _ := s.GetProposeData(cfgHash)
	pd.VotesHistoryHash = v.ObjectHash()
	s.proposeData.Put(cfgHash[:], pd)
	return true
}

// VoteCount returns the number of non-sentinel entries in cfgHash's vote
// list.
func (s *Schema) VoteCount(cfgHash crypto.Hash) uint32 {
	v := s.votes(cfgHash)
	n := v.Len()
	var count uint32
	for i := uint64(0); i < n; i++ {
		if !isSentinel(v.Get(i)) {
			count++
		}
	}
	return count
}

// LastScheduled returns the config hash most recently appended to
// config_hash_by_ordinal (a Propose-accepted one, or the genesis hash that
// Bootstrap appends), the zero hash if the list is empty.
func (s *Schema) LastScheduled() crypto.Hash {
	n := s.ordinal.Len()
	if n == 0 {
		return crypto.Hash{}
	}
	return s.ordinal.Get(n - 1)
}

// ActualConfigHash returns the config hash currently in effect.
func (s *Schema) ActualConfigHash() crypto.Hash {
	v, err := s.store.Get(adminKey(adminActualCfgHash))
	if err != nil || len(v) != crypto.HashSize {
		return crypto.Hash{}
	}
	return crypto.HashFromBytes(v)
}

func (s *Schema) setActualConfigHash(h crypto.Hash) {
	_ = s.store.Put(adminKey(adminActualCfgHash), h[:])
}

// FollowingConfigHash returns the config hash committed via majority vote
// but not yet in effect, the zero hash if none is scheduled.
func (s *Schema) FollowingConfigHash() crypto.Hash {
	v, err := s.store.Get(adminKey(adminFollowingHash))
	if err != nil || len(v) != crypto.HashSize {
		return crypto.Hash{}
	}
	return crypto.HashFromBytes(v)
}

func (s *Schema) setFollowingConfigHash(h crypto.Hash) {
	_ = s.store.Put(adminKey(adminFollowingHash), h[:])
}

// Height returns the current block height as tracked by this service's own
// BeforeCommit counter.
func (s *Schema) Height() uint64 {
	v, err := s.store.Get(adminKey(adminHeight))
	if err != nil || len(v) != 8 {
		return 0
	}
	return binary.BigEndian.Uint64(v)
}

func (s *Schema) setHeight(h uint64) {
	var b [8]byte
	binary.BigEndian.PutUint64(b[:], h)
	_ = s.store.Put(adminKey(adminHeight), b[:])
}

// ActualConfig resolves and decodes the currently active configuration, if
// one has been seeded (via Bootstrap at genesis).
func (s *Schema) ActualConfig() (Config, bool) {
	h := s.ActualConfigHash()
	if h.IsZero() {
		return Config{}, false
	}
	pd, ok := s.GetProposeData(h)
	if !ok {
		return Config{}, false
	}
	return pd.Propose.Cfg, true
}

// Bootstrap seeds the genesis configuration as already-actual, bypassing
// the normal propose/vote path (there is no prior validator set to vote
// with at genesis).
func (s *Schema) Bootstrap(cfg Config) crypto.Hash {
	h := cfg.Hash()
	s.proposeData.Put(h[:], ProposeData{Propose: Propose{Cfg: cfg}, VotesHistoryHash: crypto.Hash{}, NumVotes: 0})
	s.ordinal.Append(h)
	s.setActualConfigHash(h)
	return h
}

// PromoteIfDue moves the following configuration to actual once height has
// reached its ActualFrom, clearing the following slot (spec.md §4.5
// "committed as the following configuration" followed, here, by its
// eventual activation).
func (s *Schema) PromoteIfDue(height uint64) {
	following := s.FollowingConfigHash()
	if following.IsZero() {
		return
	}
	pd, ok := s.GetProposeData(following)
	if !ok {
		return
	}
	if height >= pd.Propose.Cfg.ActualFrom {
		s.setActualConfigHash(following)
		s.setFollowingConfigHash(crypto.Hash{})
	}
}

// Schedule marks cfgHash as the following configuration once its majority
// vote has been reached.
func (s *Schema) Schedule(cfgHash crypto.Hash) {
	s.setFollowingConfigHash(cfgHash)
}

// ObjectHash is the reconfig indices' contribution to the global state
// hash: propose_data and config_hash_by_ordinal, the two Merkleized
// collections (the admin keys are deliberately excluded — they are derived
// bookkeeping, not part of the externally audited contract).
func (s *Schema) ObjectHash() crypto.Hash {
	a := s.proposeData.ObjectHash()
	b := s.ordinal.ObjectHash()
	buf := make([]byte, 0, 2*crypto.HashSize)
	buf = append(buf, a[:]...)
	buf = append(buf, b[:]...)
	return crypto.SumTagged('R', buf)
}

func (s *Schema) advanceHeight() uint64 {
	h := s.Height() + 1
	s.setHeight(h)
	return h
}

// AdvanceHeightAndPromote bumps the service's own height counter by one and
// promotes the following configuration to actual if its ActualFrom height
// has now been reached. Called once per block from BeforeCommit.
func (s *Schema) AdvanceHeightAndPromote() {
	h := s.advanceHeight()
	s.PromoteIfDue(h)
}
