package binary

import (
	"crypto/ed25519"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/asn1"
	"errors"
	"fmt"

	"github.com/ZebulonRouseFrantzich/provenant/internal/capability"
	"github.com/ZebulonRouseFrantzich/provenant/internal/digest"
	"github.com/ZebulonRouseFrantzich/provenant/internal/service"
)

var (
	// ErrSignatureMismatch indicates the signature over the binary's
	// content digest does not verify.
	ErrSignatureMismatch = errors.New("binary signature does not verify")

	// ErrUntrustedRoot indicates the certificate chain does not reach any
	// configured trusted root.
	ErrUntrustedRoot = errors.New("certificate chain does not reach a trusted root")

	// ErrExpiredCertificate indicates a certificate in the chain is
	// outside its validity window.
	ErrExpiredCertificate = errors.New("certificate outside its validity window")

	// ErrForeignMachineIdentity indicates a dev-signed identity produced
	// on a different machine. Dev-signed trust is non-portable; this is a
	// hard refusal.
	ErrForeignMachineIdentity = errors.New("dev-signed identity belongs to a different machine")

	// ErrCapabilityDenied indicates the binary requested a capability its
	// identity is not entitled to.
	ErrCapabilityDenied = errors.New("requested capability not entitled")

	// ErrSignatureRequired indicates an unsigned binary requested a
	// nonempty capability set.
	ErrSignatureRequired = errors.New("unsigned binaries may not request capabilities")
)

// capabilityExtensionOID identifies the certificate extension that
// carries the capability set an entity-signed binary is entitled to.
var capabilityExtensionOID = asn1.ObjectIdentifier{1, 3, 6, 1, 4, 1, 55738, 1, 1}

// CapabilityExtension encodes caps as the certificate extension read back
// by the verifier. Used when issuing leaf certificates.
func CapabilityExtension(caps capability.Set) pkix.Extension {
	return pkix.Extension{
		Id:    capabilityExtensionOID,
		Value: []byte(caps.String()),
	}
}

// certCapabilities extracts the entitled capability set from a leaf
// certificate. A certificate without the extension entitles nothing.
func certCapabilities(cert *x509.Certificate) capability.Set {
	for _, ext := range cert.Extensions {
		if ext.Id.Equal(capabilityExtensionOID) {
			return capability.ParseList(string(ext.Value))
		}
	}
	return nil
}

// Verifier validates binary identities and resolves capability grants.
// It holds the root-of-trust certificates from the boot handoff, the
// local machine identity, and the machine-wide capability set.
type Verifier struct {
	roots     *x509.CertPool
	machine   *Machine
	localCaps capability.Set
	clock     service.Clock
}

// NewVerifier creates a verifier. roots may be an empty pool, in which
// case every entity-signed binary fails with ErrUntrustedRoot. machine
// may be nil on hosts with no local signing identity, in which case every
// dev-signed binary is foreign. A nil clock means system time.
func NewVerifier(roots *x509.CertPool, machine *Machine, localCaps capability.Set, clock service.Clock) *Verifier {
	if roots == nil {
		roots = x509.NewCertPool()
	}
	if clock == nil {
		clock = service.RealClock{}
	}
	return &Verifier{
		roots:     roots,
		machine:   machine,
		localCaps: localCaps,
		clock:     clock,
	}
}

// Verify resolves the binary's identity variant, validates it, and
// resolves the capability set it is entitled to request. It has no side
// effects; failures are returned as the sentinel errors above.
func (v *Verifier) Verify(b *Binary) (*Grant, error) {
	switch id := b.Identity.(type) {
	case nil:
		return v.verifyUnsigned(b)
	case *EntityIdentity:
		return v.verifyEntity(b, id)
	case *DevIdentity:
		return v.verifyDev(b, id)
	default:
		return nil, fmt.Errorf("unknown identity variant %T", b.Identity)
	}
}

// verifyUnsigned gates unsigned binaries: the empty capability set only.
func (v *Verifier) verifyUnsigned(b *Binary) (*Grant, error) {
	if !b.Requested.Empty() {
		return nil, fmt.Errorf("%w: requested %s", ErrSignatureRequired, b.Requested)
	}
	return &Grant{Kind: KindUnsigned}, nil
}

// verifyEntity walks the certificate chain to a trusted root, checks the
// leaf signature over the binary digest, and applies the subset check
// against the capabilities encoded in the leaf certificate.
func (v *Verifier) verifyEntity(b *Binary, id *EntityIdentity) (*Grant, error) {
	if len(id.Chain) == 0 {
		return nil, fmt.Errorf("%w: empty certificate chain", ErrUntrustedRoot)
	}
	leaf := id.Chain[0]

	intermediates := x509.NewCertPool()
	for _, cert := range id.Chain[1:] {
		intermediates.AddCert(cert)
	}

	opts := x509.VerifyOptions{
		Roots:         v.roots,
		Intermediates: intermediates,
		CurrentTime:   v.clock.Now(),
		KeyUsages:     []x509.ExtKeyUsage{x509.ExtKeyUsageAny},
	}
	if _, err := leaf.Verify(opts); err != nil {
		var invalid x509.CertificateInvalidError
		if errors.As(err, &invalid) && invalid.Reason == x509.Expired {
			return nil, fmt.Errorf("%w: %v", ErrExpiredCertificate, err)
		}
		var unknown x509.UnknownAuthorityError
		if errors.As(err, &unknown) {
			return nil, fmt.Errorf("%w: %v", ErrUntrustedRoot, err)
		}
		return nil, fmt.Errorf("%w: %v", ErrUntrustedRoot, err)
	}

	pub, ok := leaf.PublicKey.(ed25519.PublicKey)
	if !ok {
		return nil, fmt.Errorf("%w: leaf certificate key is %T, not Ed25519", ErrSignatureMismatch, leaf.PublicKey)
	}
	d := b.Digest()
	if !digest.Verify(pub, d.Bytes(), id.Signature) {
		return nil, fmt.Errorf("%w: leaf signature over %s", ErrSignatureMismatch, d)
	}

	entitled := certCapabilities(leaf)
	if !b.Requested.SubsetOf(entitled) {
		return nil, fmt.Errorf("%w: requested %s, certificate entitles %s", ErrCapabilityDenied, b.Requested, entitled)
	}

	return &Grant{
		Kind:    KindEntity,
		Subject: leaf.Subject.CommonName,
		Granted: b.Requested,
	}, nil
}

// verifyDev checks a machine-local identity. The machine id must match
// this machine exactly, and the signature must verify against the local
// key only. A dev-signed binary is entitled to the full local capability
// set.
func (v *Verifier) verifyDev(b *Binary, id *DevIdentity) (*Grant, error) {
	if v.machine == nil || id.MachineID != v.machine.ID {
		return nil, fmt.Errorf("%w: identity machine %q", ErrForeignMachineIdentity, id.MachineID)
	}

	d := b.Digest()
	if !digest.Verify(v.machine.Public(), d.Bytes(), id.Signature) {
		return nil, fmt.Errorf("%w: machine signature over %s", ErrSignatureMismatch, d)
	}

	if !b.Requested.SubsetOf(v.localCaps) {
		return nil, fmt.Errorf("%w: requested %s, machine grants %s", ErrCapabilityDenied, b.Requested, v.localCaps)
	}

	return &Grant{
		Kind:    KindDev,
		Subject: v.machine.ID,
		Granted: v.localCaps,
	}, nil
}
