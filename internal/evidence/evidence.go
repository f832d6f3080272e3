// Package evidence turns report URLs into the fixed-width fingerprints the
// ledger stores as evidence hashes.
package evidence

import (
	"encoding/hex"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"unicode"

	"github.com/ethereum/go-ethereum/crypto"
)

// ErrInvalidInput is returned for URLs that cannot be fingerprinted.
var ErrInvalidInput = errors.New("invalid evidence input")

// Size is the fingerprint width in bytes.
const Size = 32

// Scheme names a fingerprint derivation.
type Scheme string

const (
	// SchemeKeccak hashes the UTF-8 URL bytes with keccak256, the same value
	// Solidity computes for keccak256(abi.encodePacked(url)).
	SchemeKeccak Scheme = "keccak256"
	// SchemePadded stores the raw URL bytes right-padded with zeros. Only
	// URLs of at most 32 bytes can be represented.
	SchemePadded Scheme = "ascii-padded"
)

// ParseScheme returns the scheme with the given name.
func ParseScheme(s string) (Scheme, error) {
	switch Scheme(s) {
	case SchemeKeccak, SchemePadded:
		return Scheme(s), nil
	}
	return "", fmt.Errorf("%w: unknown scheme %q", ErrInvalidInput, s)
}

// Fingerprint is a 32-byte evidence hash.
type Fingerprint [Size]byte

// Hex returns the 0x-prefixed lowercase hex encoding.
func (f Fingerprint) Hex() string {
	return "0x" + hex.EncodeToString(f[:])
}

func (f Fingerprint) String() string { return f.Hex() }

// IsZero reports whether every byte is zero.
func (f Fingerprint) IsZero() bool {
	return f == Fingerprint{}
}

// ParseFingerprint decodes a 0x-prefixed 64 character hex string.
func ParseFingerprint(s string) (Fingerprint, error) {
	var f Fingerprint
	raw := strings.TrimPrefix(strings.TrimPrefix(s, "0x"), "0X")
	if len(raw) != Size*2 {
		return f, fmt.Errorf("%w: fingerprint must be %d hex characters", ErrInvalidInput, Size*2)
	}
	if _, err := hex.Decode(f[:], []byte(raw)); err != nil {
		return f, fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}
	return f, nil
}

// ValidateURL checks that s is an absolute http(s) URL with a host.
func ValidateURL(s string) error {
	if s == "" {
		return fmt.Errorf("%w: url is required", ErrInvalidInput)
	}
	for _, r := range s {
		if unicode.IsSpace(r) || unicode.IsControl(r) {
			return fmt.Errorf("%w: url contains whitespace or control characters", ErrInvalidInput)
		}
	}
	u, err := url.Parse(s)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("%w: url scheme must be http or https", ErrInvalidInput)
	}
	if u.Host == "" {
		return fmt.Errorf("%w: url has no host", ErrInvalidInput)
	}
	return nil
}

// Encode validates raw and derives its fingerprint under scheme. The URL is
// used byte for byte so anyone holding it can recompute the fingerprint.
func Encode(scheme Scheme, raw string) (Fingerprint, error) {
	var f Fingerprint
	if err := ValidateURL(raw); err != nil {
		return f, err
	}

	switch scheme {
	case SchemeKeccak:
		return Fingerprint(crypto.Keccak256Hash([]byte(raw))), nil
	case SchemePadded:
		if len(raw) > Size {
			return f, fmt.Errorf("%w: url is %d bytes, %s holds at most %d", ErrInvalidInput, len(raw), scheme, Size)
		}
		copy(f[:], raw)
		return f, nil
	default:
		return f, fmt.Errorf("%w: unknown scheme %q", ErrInvalidInput, scheme)
	}
}
