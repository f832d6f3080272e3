package evm

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
)

// ErrCodeMismatch is returned when deployed code differs from the pinned hash.
var ErrCodeMismatch = errors.New("deployed code does not match")

// StripMetadata removes the CBOR metadata solc appends to runtime code.
// The final two bytes hold the big-endian length of the CBOR map that
// precedes them; code without a plausible trailer is returned unchanged.
func StripMetadata(code []byte) []byte {
	if len(code) < 2 {
		return code
	}
	n := int(binary.BigEndian.Uint16(code[len(code)-2:]))
	start := len(code) - 2 - n
	if n == 0 || start < 0 {
		return code
	}
	// CBOR map headers with 1 to 3 entries (ipfs, solc, experimental).
	switch code[start] {
	case 0xa1, 0xa2, 0xa3:
		return code[:start]
	}
	return code
}

// CodeHash is the keccak256 of runtime code without its metadata trailer,
// so rebuilds from different source paths hash the same.
func CodeHash(code []byte) common.Hash {
	return crypto.Keccak256Hash(StripMetadata(code))
}

// CheckDeployed confirms a contract exists at address and, when
// expectedHash is set, that its code hash matches.
func (c *Client) CheckDeployed(ctx context.Context, address common.Address, expectedHash string) error {
	code, err := c.GetDeployedBytecode(ctx, address)
	if err != nil {
		return err
	}
	if len(code) == 0 {
		return fmt.Errorf("%w: no code at %s", ErrCodeMismatch, address.Hex())
	}
	if expectedHash == "" {
		return nil
	}
	got := CodeHash(code)
	if !strings.EqualFold(got.Hex(), expectedHash) {
		return fmt.Errorf("%w: %s has code hash %s, expected %s", ErrCodeMismatch, address.Hex(), got.Hex(), expectedHash)
	}
	return nil
}
