// Package digest provides the content hashing and signing primitives that
// the integrity tree, provenance chain, and identity verifier build on.
//
// A Digest is the identity of a binary: two binaries with the same digest
// are the same binary. Digests are SHA-256 and render as 64-character
// lowercase hex strings.
package digest

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
)

// Size is the width of a Digest in bytes.
const Size = sha256.Size

// HexLen is the length of the hex string form of a Digest.
const HexLen = Size * 2

// Digest is a fixed-width SHA-256 content hash.
type Digest [Size]byte

// Sum hashes data and returns its Digest.
func Sum(data []byte) Digest {
	return sha256.Sum256(data)
}

// String returns the lowercase hex form of the digest.
func (d Digest) String() string {
	return hex.EncodeToString(d[:])
}

// Bytes returns the digest as a byte slice.
func (d Digest) Bytes() []byte {
	return d[:]
}

// IsZero reports whether the digest is the all-zero value.
func (d Digest) IsZero() bool {
	return d == Digest{}
}

// BadLengthError reports a digest string of the wrong length.
type BadLengthError struct {
	Length int
}

func (e *BadLengthError) Error() string {
	return fmt.Sprintf("bad length of digest string; expected %d chars, found %d", HexLen, e.Length)
}

// BadCharError reports a non-hexadecimal character in a digest string.
type BadCharError struct {
	Char rune
}

func (e *BadCharError) Error() string {
	return fmt.Sprintf("bad character in digest string; %q is not hexadecimal", e.Char)
}

// Parse decodes a 64-character hex string into a Digest.
// It returns *BadLengthError or *BadCharError on malformed input.
func Parse(s string) (Digest, error) {
	if len(s) != HexLen {
		return Digest{}, &BadLengthError{Length: len(s)}
	}
	for _, r := range s {
		if !isHex(r) {
			return Digest{}, &BadCharError{Char: r}
		}
	}

	var d Digest
	if _, err := hex.Decode(d[:], []byte(s)); err != nil {
		// Unreachable after the character check above, but decode errors
		// must never escape as anything other than a parse error.
		return Digest{}, &BadCharError{Char: rune(s[0])}
	}
	return d, nil
}

func isHex(r rune) bool {
	switch {
	case r >= '0' && r <= '9':
		return true
	case r >= 'a' && r <= 'f':
		return true
	case r >= 'A' && r <= 'F':
		return true
	}
	return false
}
