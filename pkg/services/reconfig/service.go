package reconfig

import (
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
	MethodPropose uint32 = 0
	MethodVote    uint32 = 1
)

// Service-local error codes, namespaced by the hosting runtime's id. Picked
// from a disjoint range from the wallet service's so both can share one
// native runtime id without code collisions (spec.md §6 "per-runtime error
// ranges" is scoped by runtime, not by service; within one runtime the
// services agree on non-overlapping sub-ranges).
const (
	codeUnknownMethod      uint16 = 101
	codeMalformedArgs      uint16 = 102
	codeCfgParseFailed     uint16 = 103
	codePrevHashMismatch   uint16 = 104
	codeActualFromTooEarly uint16 = 105
	codeNotValidator       uint16 = 106
	codeFollowingScheduled uint16 = 107
	codeProposeNotFound    uint16 = 108
	codeNotFuture          uint16 = 109
)

// ArtifactName is the name every ArtifactID deploying this service carries.
const ArtifactName = "reconfig"

// Service implements native.Service for the propose/vote configuration
// state machine.
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

// Initialize implements native.Service: params is the encoded genesis
// Config, bootstrapped as already-actual since there is no prior validator
// set to run a propose/vote round against.
func (s *Service) Initialize(ctx *exec.Context, params []byte) error {
	cfg, err := DecodeConfig(params)
	if err != nil {
		return execerror.Service(s.runtimeID, codeCfgParseFailed, "reconfig: genesis config: %v", err)
	}
	New(ctx.Fork).Bootstrap(cfg)
	return nil
}

// BeforeCommit implements native.Service: advances this service's height
// counter and activates a scheduled configuration whose time has come.
func (s *Service) BeforeCommit(fork *storage.Fork) error {
	New(fork).AdvanceHeightAndPromote()
	return nil
}

// Call implements native.Service.
func (s *Service) Call(d host.Dispatcher, ctx *exec.Context, methodID uint32, args []byte) error {
	switch methodID {
	case MethodPropose:
		return s.propose(ctx, args)
	case MethodVote:
		return s.vote(ctx, args)
	default:
		return execerror.Service(s.runtimeID, codeUnknownMethod, "reconfig: unknown method id %d", methodID)
	}
}

// StateHashes implements native.Service.
func (s *Service) StateHashes(snapshot storage.Snapshot) []host.StateHashEntry {
	sc := New(storage.ReadOnly(snapshot))
	return []host.StateHashEntry{
		{
			Coordinates: host.IndexCoordinates{Owner: "reconfig", Index: "configuration"},
			Hash:        sc.ObjectHash(),
		},
	}
}

func callerAuthor(ctx *exec.Context) (crypto.PublicKey, bool) {
	if ctx.Caller.Kind != runtime.CallerTransaction {
		return crypto.PublicKey{}, false
	}
	return ctx.Caller.Author, true
}

func validatorIndex(validators []crypto.PublicKey, who crypto.PublicKey) (uint32, bool) {
	for i, v := range validators {
		if v == who {
			return uint32(i), true
		}
	}
	return 0, false
}

// byzantineMajority is the smallest vote count that cannot be contradicted
// by the remaining honest supermajority assumption, spec.md §4.5:
// ceil(2*N/3) + 1.
func byzantineMajority(n uint32) uint32 {
	return (2*n+2)/3 + 1
}

func (s *Service) propose(ctx *exec.Context, args []byte) error {
	from, ok := callerAuthor(ctx)
	if !ok {
		return execerror.Service(s.runtimeID, codeNotValidator, "reconfig: propose must be submitted as a signed transaction")
	}
	cfg, err := DecodeConfig(args)
	if err != nil {
		return execerror.Service(s.runtimeID, codeCfgParseFailed, "reconfig: propose: %v", err)
	}

	sc := New(ctx.Fork)
	cfgHash := cfg.Hash()
	if _, exists := sc.GetProposeData(cfgHash); exists {
		return nil // idempotent: identical proposal already accepted
	}

	if !sc.FollowingConfigHash().IsZero() {
		return execerror.Service(s.runtimeID, codeFollowingScheduled, "reconfig: a following configuration is already scheduled")
	}

	actualCfg, ok := sc.ActualConfig()
	if !ok {
		execerror.Raise("reconfig: no actual configuration bootstrapped", nil)
	}
	if _, isValidator := validatorIndex(actualCfg.Validators, from); !isValidator {
		return execerror.Service(s.runtimeID, codeNotValidator, "reconfig: %s is not in the actual validator set", from)
	}
	if cfg.PreviousConfigHash != sc.ActualConfigHash() {
		return execerror.Service(s.runtimeID, codePrevHashMismatch, "reconfig: propose's previous_cfg_hash does not match the actual configuration")
	}
	height := sc.Height()
	if cfg.ActualFrom <= height {
		return execerror.Service(s.runtimeID, codeActualFromTooEarly, "reconfig: actual_from %d is not after current height %d", cfg.ActualFrom, height)
	}

	sc.PutPropose(cfgHash, Propose{From: from, Cfg: cfg}, actualCfg.Validators)
	return nil
}

func (s *Service) vote(ctx *exec.Context, args []byte) error {
	from, ok := callerAuthor(ctx)
	if !ok {
		return execerror.Service(s.runtimeID, codeNotValidator, "reconfig: vote must be submitted as a signed transaction")
	}
	if len(args) != crypto.HashSize+64 {
		return execerror.Service(s.runtimeID, codeMalformedArgs, "reconfig: vote expects a %d-byte config hash plus a 64-byte signature", crypto.HashSize)
	}
	cfgHash := crypto.HashFromBytes(args[:crypto.HashSize])
	var sig crypto.Signature
	copy(sig[:], args[crypto.HashSize:])

	sc := New(ctx.Fork)
	pd, exists := sc.GetProposeData(cfgHash)
	if !exists {
		return execerror.Service(s.runtimeID, codeProposeNotFound, "reconfig: no proposal for config hash %s", cfgHash)
	}
	if !sc.FollowingConfigHash().IsZero() {
		return execerror.Service(s.runtimeID, codeFollowingScheduled, "reconfig: a following configuration is already scheduled")
	}
	idx, isValidator := validatorIndex(pd.PrevValidators, from)
	if !isValidator {
		return execerror.Service(s.runtimeID, codeNotValidator, "reconfig: %s is not in the proposal's validator set", from)
	}
	if pd.Propose.Cfg.ActualFrom <= sc.Height() {
		return execerror.Service(s.runtimeID, codeNotFuture, "reconfig: proposal for config hash %s is no longer future-dated", cfgHash)
	}

	if !sc.RecordVote(cfgHash, idx, sig) {
		return nil // double vote: first vote wins, not an error
	}
	if sc.VoteCount(cfgHash) >= byzantineMajority(pd.NumVotes) {
		sc.Schedule(cfgHash)
	}
	return nil
}
