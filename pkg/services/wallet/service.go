package wallet

import (
	"encoding/binary"
	"math"

	"github.com/nspcc-dev/dispatchernode/pkg/crypto"
	"github.com/nspcc-dev/dispatchernode/pkg/execerror"
	"github.com/nspcc-dev/dispatchernode/pkg/runtime"
	"github.com/nspcc-dev/dispatchernode/pkg/runtime/exec"
	"github.com/nspcc-dev/dispatchernode/pkg/runtime/host"
	"github.com/nspcc-dev/dispatchernode/pkg/runtime/native"
	"github.com/nspcc-dev/dispatchernode/pkg/storage"
)

// Method ids routed by CallInfo.MethodID.
const (
	MethodCreateWallet          uint32 = 0
	MethodIncreaseWalletBalance uint32 = 1
	MethodDecreaseWalletBalance uint32 = 2
)

// Service-local error codes, namespaced by the hosting runtime's id
// (spec.md §6 "per-runtime error ranges").
const (
	codeUnknownMethod  uint16 = 1
	codeWalletExists   uint16 = 2
	codeWalletNotFound uint16 = 3
	codeInsufficient   uint16 = 4
	codeMalformedArgs  uint16 = 5
)

// ArtifactName is the name every ArtifactID deploying this service carries.
const ArtifactName = "wallet"

// Service implements native.Service for the wallet ledger.
type Service struct {
	instanceID uint32
	runtimeID  uint32
}

// NewFactory builds a native.Factory producing Service instances that
// report errors under runtimeID's namespace.
func NewFactory(runtimeID uint32) native.Factory {
	return func(instanceID uint32) native.Service {
		return &Service{instanceID: instanceID, runtimeID: runtimeID}
	}
}

// Initialize implements native.Service. The wallet ledger needs no genesis
// parameters; it starts empty.
func (s *Service) Initialize(ctx *exec.Context, params []byte) error {
	return nil
}

// BeforeCommit implements native.Service; the wallet ledger has no
// per-block bookkeeping.
func (s *Service) BeforeCommit(fork *storage.Fork) error {
	return nil
}

// Call implements native.Service.
func (s *Service) Call(d host.Dispatcher, ctx *exec.Context, methodID uint32, args []byte) error {
	switch methodID {
	case MethodCreateWallet:
		return s.createWallet(ctx, args)
	case MethodIncreaseWalletBalance:
		return s.changeBalance(ctx, args, true)
	case MethodDecreaseWalletBalance:
		return s.changeBalance(ctx, args, false)
	default:
		return execerror.Service(s.runtimeID, codeUnknownMethod, "wallet: unknown method id %d", methodID)
	}
}

// StateHashes implements native.Service.
func (s *Service) StateHashes(snapshot storage.Snapshot) []host.StateHashEntry {
	sc := New(storage.ReadOnly(snapshot))
	return []host.StateHashEntry{
		{
			Coordinates: host.IndexCoordinates{Owner: "wallet", Index: "wallets"},
			Hash:        sc.ObjectHash(),
		},
	}
}

func callerTxHash(ctx *exec.Context) crypto.Hash {
	if ctx.Caller.Kind == runtime.CallerTransaction {
		return ctx.Caller.TxHash
	}
	return crypto.Hash{}
}

// decodeKeyAndAmount reads a 32-byte public key followed by an 8-byte
// big-endian amount, the shared wire shape of the two balance-change calls.
func decodeKeyAndAmount(args []byte) (crypto.PublicKey, uint64, bool) {
	if len(args) != crypto.PublicKeySize+8 {
		return crypto.PublicKey{}, 0, false
	}
	var key crypto.PublicKey
	copy(key[:], args[:crypto.PublicKeySize])
	amount := binary.BigEndian.Uint64(args[crypto.PublicKeySize:])
	return key, amount, true
}

// decodeKeyAndName reads a 32-byte public key followed by a 2-byte
// big-endian length-prefixed name, the wire shape of create_wallet
// (spec.md §4.4 "create_wallet(key, name, tx_hash)").
func decodeKeyAndName(args []byte) (crypto.PublicKey, string, bool) {
	if len(args) < crypto.PublicKeySize+2 {
		return crypto.PublicKey{}, "", false
	}
	var key crypto.PublicKey
	copy(key[:], args[:crypto.PublicKeySize])
	off := crypto.PublicKeySize
	nameLen := int(binary.BigEndian.Uint16(args[off : off+2]))
	off += 2
	if len(args) != off+nameLen {
		return crypto.PublicKey{}, "", false
	}
	return key, string(args[off:]), true
}

func (s *Service) createWallet(ctx *exec.Context, args []byte) error {
	key, name, ok := decodeKeyAndName(args)
	if !ok {
		return execerror.Service(s.runtimeID, codeMalformedArgs, "wallet: create_wallet expects a %d-byte key plus a length-prefixed name", crypto.PublicKeySize)
	}

	sc := New(ctx.Fork)
	if _, exists := sc.Get(key); exists {
		return execerror.Service(s.runtimeID, codeWalletExists, "wallet: %s already exists", key)
	}
	sc.appendAndReroot(key, name, InitialBalance, callerTxHash(ctx))
	return nil
}

func (s *Service) changeBalance(ctx *exec.Context, args []byte, increase bool) error {
	key, amount, ok := decodeKeyAndAmount(args)
	if !ok {
		return execerror.Service(s.runtimeID, codeMalformedArgs, "wallet: expected %d-byte key + 8-byte amount", crypto.PublicKeySize)
	}
	sc := New(ctx.Fork)
	w, exists := sc.Get(key)
	if !exists {
		return execerror.Service(s.runtimeID, codeWalletNotFound, "wallet: %s does not exist", key)
	}

	var newBalance uint64
	if increase {
		if w.Balance > math.MaxUint64-amount {
			execerror.Raise("wallet: increase_wallet_balance overflow for "+key.String(), nil)
		}
		newBalance = w.Balance + amount
	} else {
		if amount > w.Balance {
			return execerror.Service(s.runtimeID, codeInsufficient, "wallet: %s has insufficient balance for decrease of %d", key, amount)
		}
		newBalance = w.Balance - amount
	}
	sc.appendAndReroot(key, w.Name, newBalance, callerTxHash(ctx))
	return nil
}
