package binary

import (
	"crypto/x509"

	"github.com/ZebulonRouseFrantzich/provenant/internal/capability"
	"github.com/ZebulonRouseFrantzich/provenant/internal/digest"
)

// Kind names the identity variant attached to a binary.
type Kind string

const (
	// KindUnsigned marks a binary with no identity.
	KindUnsigned Kind = "unsigned"
	// KindEntity marks a binary signed through a certificate chain.
	KindEntity Kind = "entity"
	// KindDev marks a binary signed with a machine-local key.
	KindDev Kind = "dev-machine"
)

// Identity is the authorship claim attached to a binary. Exactly one
// variant exists per binary; a nil Identity means unsigned.
type Identity interface {
	Kind() Kind
}

// EntityIdentity is a portable identity rooted in an external certificate
// authority. Chain is ordered leaf first.
type EntityIdentity struct {
	Chain []*x509.Certificate

	// Signature is the leaf key's signature over the binary's content
	// digest.
	Signature []byte
}

// Kind returns KindEntity.
func (e *EntityIdentity) Kind() Kind { return KindEntity }

// DevIdentity is a machine-local identity. It is valid only on the
// machine named by MachineID; re-presenting it elsewhere is treated as a
// different, unverified identity.
type DevIdentity struct {
	MachineID string

	// Signature is the machine key's signature over the binary's content
	// digest.
	Signature []byte
}

// Kind returns KindDev.
func (d *DevIdentity) Kind() Kind { return KindDev }

// Binary is a candidate executable presented for installation or upgrade.
// Immutable once hashed; its identity is its content digest.
type Binary struct {
	// Content is the opaque executable bytes.
	Content []byte

	// Scope is the trust scope the binary is installed under, supplied by
	// the sandbox runtime.
	Scope string

	// Requested is the capability set the binary declares.
	Requested capability.Set

	// Identity is the attached authorship claim; nil means unsigned.
	Identity Identity
}

// Digest returns the binary's content hash.
func (b *Binary) Digest() digest.Digest {
	return digest.Sum(b.Content)
}

// IdentityKind returns the binary's identity variant, KindUnsigned for a
// nil identity.
func (b *Binary) IdentityKind() Kind {
	if b.Identity == nil {
		return KindUnsigned
	}
	return b.Identity.Kind()
}

// Grant is the verifier's positive outcome: the verified identity and the
// capabilities the binary is entitled to use.
type Grant struct {
	Kind Kind

	// Subject identifies the verified signer: the leaf certificate's
	// common name, the machine id, or empty for unsigned binaries.
	Subject string

	// Granted is the capability set resolved for the binary. Always a
	// superset of the binary's request when verification succeeds.
	Granted capability.Set
}
