package digest

import (
	"crypto/ed25519"
	"errors"
)

// ErrKeyUnavailable indicates that a private key could not be accessed for
// signing. Callers should surface this as a signing failure, never retry
// silently.
var ErrKeyUnavailable = errors.New("signing key unavailable")

// Signer produces signatures over messages with a held private key.
type Signer interface {
	// Sign signs message. It fails with ErrKeyUnavailable if the private
	// key cannot be accessed.
	Sign(message []byte) ([]byte, error)

	// Public returns the public half of the signing key.
	Public() ed25519.PublicKey
}

// KeySigner signs with an in-memory Ed25519 private key.
type KeySigner struct {
	priv ed25519.PrivateKey
}

// NewKeySigner wraps an Ed25519 private key as a Signer.
func NewKeySigner(priv ed25519.PrivateKey) *KeySigner {
	return &KeySigner{priv: priv}
}

// Sign signs message with the wrapped key.
func (s *KeySigner) Sign(message []byte) ([]byte, error) {
	if s == nil || len(s.priv) != ed25519.PrivateKeySize {
		return nil, ErrKeyUnavailable
	}
	return ed25519.Sign(s.priv, message), nil
}

// Public returns the public half of the wrapped key.
func (s *KeySigner) Public() ed25519.PublicKey {
	if s == nil || len(s.priv) != ed25519.PrivateKeySize {
		return nil
	}
	return s.priv.Public().(ed25519.PublicKey)
}

// Verify reports whether sig is a valid signature of message by pub.
// It returns false on malformed input and never panics.
func Verify(pub ed25519.PublicKey, message, sig []byte) bool {
	if len(pub) != ed25519.PublicKeySize || len(sig) != ed25519.SignatureSize {
		return false
	}
	return ed25519.Verify(pub, message, sig)
}
