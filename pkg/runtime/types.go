// Package runtime defines the polymorphic contract every execution
// environment implements (spec.md §4.1), and the identifiers that flow
// through it: ArtifactID, InstanceSpec, Caller, CallInfo.
package runtime

import (
	"encoding/binary"
	"fmt"
	"regexp"
	"strings"

	"github.com/nspcc-dev/dispatchernode/pkg/crypto"
	"github.com/nspcc-dev/dispatchernode/pkg/execerror"
)

// BuiltinIDCeiling is the exclusive upper bound of reserved builtin instance
// ids (spec.md §3): [0, BuiltinIDCeiling) may only be created at genesis.
const BuiltinIDCeiling uint32 = 1024

var artifactNameRE = regexp.MustCompile(`^[a-z0-9.\-]+$`)

// ArtifactID uniquely identifies deployable code (spec.md §3).
type ArtifactID struct {
	RuntimeID uint32
	Name      string
	Version   string // optional semver string; "" means unversioned
}

// Validate checks the structural invariants spec.md §3 requires: non-empty
// name, lowercase/dot/dash only, and — if present — a parseable version.
func (a ArtifactID) Validate() error {
	if a.Name == "" {
		return execerror.New(execerror.KindInvalidArtifactID, "artifact name must not be empty")
	}
	if !artifactNameRE.MatchString(a.Name) {
		return execerror.New(execerror.KindInvalidArtifactID, "artifact name %q must be lowercase ascii, dots and dashes only", a.Name)
	}
	if a.Version != "" {
		if err := validateSemver(a.Version); err != nil {
			return execerror.New(execerror.KindInvalidArtifactID, "artifact %q: %v", a.Name, err)
		}
	}
	return nil
}

// String renders a canonical display form, e.g. "2:wallet:1.0.0".
func (a ArtifactID) String() string {
	if a.Version == "" {
		return fmt.Sprintf("%d:%s", a.RuntimeID, a.Name)
	}
	return fmt.Sprintf("%d:%s:%s", a.RuntimeID, a.Name, a.Version)
}

// Encode produces the canonical bytes used both as the artifacts map key and
// wherever an ArtifactID must hash deterministically.
func (a ArtifactID) Encode() []byte {
	var buf []byte
	var rid [4]byte
	binary.BigEndian.PutUint32(rid[:], a.RuntimeID)
	buf = append(buf, rid[:]...)
	buf = append(buf, byte(len(a.Name)))
	buf = append(buf, a.Name...)
	buf = append(buf, byte(len(a.Version)))
	buf = append(buf, a.Version...)
	return buf
}

// DecodeArtifactID is the inverse of ArtifactID.Encode.
func DecodeArtifactID(b []byte) (ArtifactID, error) {
	if len(b) < 5 {
		return ArtifactID{}, fmt.Errorf("runtime: truncated ArtifactID")
	}
	rid := binary.BigEndian.Uint32(b[:4])
	off := 4
	nameLen := int(b[off])
	off++
	if off+nameLen > len(b) {
		return ArtifactID{}, fmt.Errorf("runtime: truncated ArtifactID name")
	}
	name := string(b[off : off+nameLen])
	off += nameLen
	if off >= len(b) {
		return ArtifactID{}, fmt.Errorf("runtime: truncated ArtifactID version length")
	}
	verLen := int(b[off])
	off++
	if off+verLen > len(b) {
		return ArtifactID{}, fmt.Errorf("runtime: truncated ArtifactID version")
	}
	version := string(b[off : off+verLen])
	return ArtifactID{RuntimeID: rid, Name: name, Version: version}, nil
}

func validateSemver(v string) error {
	parts := strings.Split(v, ".")
	if len(parts) != 3 {
		return fmt.Errorf("version %q is not in major.minor.patch form", v)
	}
	for _, p := range parts {
		if p == "" {
			return fmt.Errorf("version %q has an empty component", v)
		}
		for _, c := range p {
			if c < '0' || c > '9' {
				return fmt.Errorf("version %q has a non-numeric component", v)
			}
		}
	}
	return nil
}

// InstanceSpec uniquely identifies a running service instance (spec.md §3).
type InstanceSpec struct {
	ID       uint32
	Name     string
	Artifact ArtifactID
}

// Validate checks basic structural invariants on the spec.
func (s InstanceSpec) Validate() error {
	if s.Name == "" {
		return execerror.New(execerror.KindInvalidInstanceSpec, "instance name must not be empty")
	}
	return s.Artifact.Validate()
}

// IsBuiltin reports whether s.ID falls in the reserved builtin range.
func (s InstanceSpec) IsBuiltin() bool {
	return s.ID < BuiltinIDCeiling
}

// Encode produces the canonical bytes stored as the service_instances value.
func (s InstanceSpec) Encode() []byte {
	var buf []byte
	var id [4]byte
	binary.BigEndian.PutUint32(id[:], s.ID)
	buf = append(buf, id[:]...)
	buf = append(buf, byte(len(s.Name)))
	buf = append(buf, s.Name...)
	buf = append(buf, s.Artifact.Encode()...)
	return buf
}

// DecodeInstanceSpec is the inverse of InstanceSpec.Encode.
func DecodeInstanceSpec(b []byte) (InstanceSpec, error) {
	if len(b) < 5 {
		return InstanceSpec{}, fmt.Errorf("runtime: truncated InstanceSpec")
	}
	id := binary.BigEndian.Uint32(b[:4])
	off := 4
	nameLen := int(b[off])
	off++
	if off+nameLen > len(b) {
		return InstanceSpec{}, fmt.Errorf("runtime: truncated InstanceSpec name")
	}
	name := string(b[off : off+nameLen])
	off += nameLen
	artifact, err := DecodeArtifactID(b[off:])
	if err != nil {
		return InstanceSpec{}, err
	}
	return InstanceSpec{ID: id, Name: name, Artifact: artifact}, nil
}

// CallerKind tags the variant a Caller carries.
type CallerKind uint8

const (
	// CallerTransaction is a signed, externally submitted transaction.
	CallerTransaction CallerKind = iota
	// CallerService is another service, calling in via reentrancy.
	CallerService
	// CallerBlockchain is the system itself (genesis, tests).
	CallerBlockchain
)

// Caller identifies who is invoking a call (spec.md §3).
type Caller struct {
	Kind      CallerKind
	Author    crypto.PublicKey // set iff Kind == CallerTransaction
	TxHash    crypto.Hash      // set iff Kind == CallerTransaction
	ServiceID uint32           // set iff Kind == CallerService
}

// TransactionCaller builds a Caller for a verified, authored transaction.
func TransactionCaller(author crypto.PublicKey, txHash crypto.Hash) Caller {
	return Caller{Kind: CallerTransaction, Author: author, TxHash: txHash}
}

// ServiceCaller builds a Caller for an inter-service reentrant call.
func ServiceCaller(serviceID uint32) Caller {
	return Caller{Kind: CallerService, ServiceID: serviceID}
}

// BlockchainCaller is the singleton Caller used only at genesis and in tests.
var BlockchainCaller = Caller{Kind: CallerBlockchain}

// CallInfo is the routing target of a call (spec.md §3).
type CallInfo struct {
	InstanceID uint32
	MethodID   uint32
}

// AnyTx is a routed call plus its opaque argument bytes (spec.md §3).
type AnyTx struct {
	CallInfo  CallInfo
	Arguments []byte
}

// Encode produces the canonical bytes a transaction's signature covers:
// instance id, method id, then the opaque argument payload.
func (tx AnyTx) Encode() []byte {
	buf := make([]byte, 8, 8+len(tx.Arguments))
	binary.BigEndian.PutUint32(buf[0:4], tx.CallInfo.InstanceID)
	binary.BigEndian.PutUint32(buf[4:8], tx.CallInfo.MethodID)
	return append(buf, tx.Arguments...)
}

// Encodable is the payload constraint Verified accepts: its canonical byte
// encoding is what the signature actually covers.
type Encodable interface {
	Encode() []byte
}

// Verified binds a payload to the (author, signature) pair that authorized
// it. The dispatcher only ever dispatches Verified[AnyTx] values whose
// signature has already been checked via Verify (spec.md §6): a signature
// failure is a pre-dispatch reject and such transactions never reach
// Execute's routing logic.
type Verified[T Encodable] struct {
	Payload   T
	Author    crypto.PublicKey
	Signature crypto.Signature
}

// Verify reports whether Signature actually covers Payload under Author —
// "the dispatcher never trusts an unverified transaction" (spec.md §3/§6).
func (v Verified[T]) Verify() bool {
	return crypto.Verify(v.Author, v.Payload.Encode(), v.Signature)
}

// NewVerifiedTx signs payload with signer and returns a Verified[AnyTx]
// ready to submit to Dispatcher.Execute.
func NewVerifiedTx(payload AnyTx, signer crypto.PrivateKey) Verified[AnyTx] {
	return Verified[AnyTx]{
		Payload:   payload,
		Author:    signer.Public(),
		Signature: signer.Sign(payload.Encode()),
	}
}
