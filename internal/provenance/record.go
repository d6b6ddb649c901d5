// Package provenance maintains the append-only, hash-linked, signed log of
// installation actions for a trust scope.
//
// Every record links to the hash of its predecessor and carries a
// signature by the authorizing identity, so altering, reordering, or
// deleting any historical record invalidates every subsequent link. No
// record is ever rewritten; corrections are expressed as new records.
package provenance

import (
	"crypto/ed25519"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/ZebulonRouseFrantzich/provenant/internal/digest"
)

// ErrSigningFailed indicates that the authorizing identity could not
// produce a signature for a record.
var ErrSigningFailed = errors.New("cannot sign provenance record")

// Action is the kind of installation action a record attests to.
type Action string

const (
	ActionInstall   Action = "install"
	ActionUpgrade   Action = "upgrade"
	ActionUninstall Action = "uninstall"
)

// ParseAction parses an action name.
func ParseAction(s string) (Action, error) {
	switch Action(s) {
	case ActionInstall, ActionUpgrade, ActionUninstall:
		return Action(s), nil
	default:
		return "", fmt.Errorf("unknown action: %q", s)
	}
}

// genesisPrev is the fixed sentinel that the first record of every chain
// links to.
var genesisPrev = digest.Sum([]byte("provenant/genesis/v1"))

// GenesisPrev returns the sentinel previous-hash of record zero.
func GenesisPrev() digest.Digest {
	return genesisPrev
}

// Authority is the identity that authorized an action and signs its
// record. Signer is nil when the private key is not held locally, in
// which case appends fail with ErrSigningFailed.
type Authority struct {
	// Name identifies the authority, e.g. a machine id or a certificate
	// subject.
	Name string

	// Kind names the identity variant, e.g. "dev-machine".
	Kind string

	// PublicKey is the public half of the signing key. It is embedded in
	// every record so chain verification is self-contained.
	PublicKey ed25519.PublicKey

	Signer digest.Signer
}

// Record is one immutable entry in a provenance chain.
type Record struct {
	// Index is the record's position in the chain, starting at zero.
	Index uint64 `json:"index"`

	// Prev is the hash of the preceding record, or the genesis sentinel
	// for record zero.
	Prev digest.Digest `json:"prev"`

	Action Action `json:"action"`

	// Binary is the content hash of the affected binary.
	Binary digest.Digest `json:"binary"`

	// Replaced is the digest an upgrade tombstoned in the same commit,
	// or zero. Recording it makes the chain self-contained: the tree can
	// be rebuilt from the records alone.
	Replaced digest.Digest `json:"replaced"`

	// TreeRoot is the scope's integrity tree root after this action.
	TreeRoot digest.Digest `json:"tree_root"`

	// Authorizer and AuthorizerKind describe the authorizing identity.
	Authorizer     string `json:"authorizer"`
	AuthorizerKind string `json:"authorizer_kind"`

	// PublicKey is the Ed25519 key that produced Signature.
	PublicKey []byte `json:"public_key"`

	Timestamp time.Time `json:"timestamp"`

	// Signature covers all preceding fields via signingPayload.
	Signature []byte `json:"signature"`
}

// signingPayload renders every field except the signature as canonical
// text. The encoding must stay byte-stable across releases: chains signed
// by old builds are verified by new ones.
func (r *Record) signingPayload() []byte {
	var b strings.Builder
	fmt.Fprintf(&b, "provenant/record/v1\n")
	fmt.Fprintf(&b, "index: %d\n", r.Index)
	fmt.Fprintf(&b, "prev: %s\n", r.Prev)
	fmt.Fprintf(&b, "action: %s\n", r.Action)
	fmt.Fprintf(&b, "binary: %s\n", r.Binary)
	fmt.Fprintf(&b, "replaced: %s\n", r.Replaced)
	fmt.Fprintf(&b, "root: %s\n", r.TreeRoot)
	fmt.Fprintf(&b, "authorizer: %s %s\n", r.AuthorizerKind, r.Authorizer)
	fmt.Fprintf(&b, "key: %x\n", r.PublicKey)
	fmt.Fprintf(&b, "time: %s\n", r.Timestamp.UTC().Format(time.RFC3339Nano))
	return []byte(b.String())
}

// Clone returns a copy whose byte slices share no backing arrays with
// the receiver, so callers can hold or mutate it without reaching into
// chain state.
func (r Record) Clone() Record {
	r.PublicKey = append([]byte(nil), r.PublicKey...)
	r.Signature = append([]byte(nil), r.Signature...)
	return r
}

// Hash returns the record's chain-link hash, covering both the payload
// and the signature.
func (r *Record) Hash() digest.Digest {
	payload := r.signingPayload()
	buf := make([]byte, 0, len(payload)+len(r.Signature))
	buf = append(buf, payload...)
	buf = append(buf, r.Signature...)
	return digest.Sum(buf)
}

// VerifySignature reports whether the record's signature is valid for its
// embedded public key.
func (r *Record) VerifySignature() bool {
	return digest.Verify(r.PublicKey, r.signingPayload(), r.Signature)
}
