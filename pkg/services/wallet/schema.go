// Package wallet implements the cryptocurrency ledger demo service (spec.md
// §4.4): create a wallet, then increase or decrease its balance, each
// mutation appending to the wallet's own transaction-hash history and
// rerooting the history's object hash into the wallet's own record so the
// two can never observably drift apart.
package wallet

import (
	"encoding/binary"

	"github.com/nspcc-dev/dispatchernode/pkg/crypto"
	"github.com/nspcc-dev/dispatchernode/pkg/merkle"
	"github.com/nspcc-dev/dispatchernode/pkg/storage"
)

// InitialBalance is credited to a wallet on create_wallet.
const InitialBalance uint64 = 0

// Wallet is the persistent record spec.md §3 names directly: the owning
// public key and a display name alongside balance plus the length and
// object hash of this wallet's history list, kept in lock step with the
// list itself (spec.md §8 quantified invariant).
type Wallet struct {
	PubKey      crypto.PublicKey
	Name        string
	Balance     uint64
	HistoryLen  uint64
	HistoryHash crypto.Hash
}

var walletCodec = merkle.Codec[Wallet]{
	Encode: func(w Wallet) []byte {
		buf := make([]byte, 0, crypto.PublicKeySize+2+len(w.Name)+16+crypto.HashSize)
		buf = append(buf, w.PubKey[:]...)
		var nameLen [2]byte
		binary.BigEndian.PutUint16(nameLen[:], uint16(len(w.Name)))
		buf = append(buf, nameLen[:]...)
		buf = append(buf, w.Name...)
		var rest [16]byte
		binary.BigEndian.PutUint64(rest[0:8], w.Balance)
		binary.BigEndian.PutUint64(rest[8:16], w.HistoryLen)
		buf = append(buf, rest[:]...)
		buf = append(buf, w.HistoryHash[:]...)
		return buf
	},
	Decode: func(b []byte) Wallet {
		var w Wallet
		if len(b) < crypto.PublicKeySize+2 {
			return w
		}
		off := 0
		copy(w.PubKey[:], b[off:off+crypto.PublicKeySize])
		off += crypto.PublicKeySize
		nameLen := int(binary.BigEndian.Uint16(b[off : off+2]))
		off += 2
		if len(b) < off+nameLen+16+crypto.HashSize {
			return Wallet{}
		}
		w.Name = string(b[off : off+nameLen])
		off += nameLen
		w.Balance = binary.BigEndian.Uint64(b[off : off+8])
		w.HistoryLen = binary.BigEndian.Uint64(b[off+8 : off+16])
		off += 16
		w.HistoryHash = crypto.HashFromBytes(b[off:])
		return w
	},
}

var hashCodec = merkle.Codec[crypto.Hash]{
	Encode: func(h crypto.Hash) []byte { return h[:] },
	Decode: func(b []byte) crypto.Hash { return crypto.HashFromBytes(b) },
}

// Schema wraps a storage.Store with the wallet service's two persistent
// indices: `wallets` (prefix 0x04) and `wallet_history[key]` (prefix 0x05).
type Schema struct {
	store   storage.Store
	wallets *merkle.Map[Wallet]
}

// New opens the wallet schema over store.
func New(store storage.Store) *Schema {
	return &Schema{
		store:   store,
		wallets: merkle.NewMap[Wallet](store, storage.PrefixWallets.Bytes(), walletCodec),
	}
}

func (s *Schema) history(key crypto.PublicKey) *merkle.List[crypto.Hash] {
	prefix := storage.PrefixWalletHistory.Key(key[:])
	return merkle.NewList[crypto.Hash](s.store, prefix, hashCodec)
}

// Get returns the wallet record for key, if one exists.
func (s *Schema) Get(key crypto.PublicKey) (Wallet, bool) {
	return s.wallets.Get(key[:])
}

// History returns the full append-order transaction history for key.
func (s *Schema) History(key crypto.PublicKey) []crypto.Hash {
	h := s.history(key)
	n := h.Len()
	out := make([]crypto.Hash, n)
	for i := uint64(0); i < n; i++ {
		out[i] = h.Get(i)
	}
	return out
}

// appendAndReroot appends txHash to key's history and writes a Wallet
// record whose HistoryLen/HistoryHash reflect the list's new state,
// maintaining the invariant spec.md §4.4 and §8 both require. name is
// carried forward unchanged on every mutation after create_wallet sets it.
func (s *Schema) appendAndReroot(key crypto.PublicKey, name string, balance uint64, txHash crypto.Hash) {
	h := s.history(key)
	h.Append(txHash)
	s.wallets.Put(key[:], Wallet{
		PubKey:      key,
		Name:        name,
		Balance:     balance,
		HistoryLen:  h.Len(),
		HistoryHash: h.ObjectHash(),
	})
}

// ObjectHash is the wallets index root contributed to the global state hash.
func (s *Schema) ObjectHash() crypto.Hash {
	return s.wallets.ObjectHash()
}
