// Package validation provides input validation for reportchain.
package validation

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"golang.org/x/mod/semver"
)

const zeroAddress = "0x0000000000000000000000000000000000000000"

// ValidateAddress validates an Ethereum address
func ValidateAddress(addr string) error {
	if len(addr) != 42 {
		return errors.New("invalid address length: must be 42 characters (0x + 40 hex)")
	}
	if !strings.HasPrefix(addr, "0x") && !strings.HasPrefix(addr, "0X") {
		return errors.New("invalid address: must start with 0x")
	}
	for _, c := range addr[2:] {
		isDigit := c >= '0' && c <= '9'
		isLowerHex := c >= 'a' && c <= 'f'
		isUpperHex := c >= 'A' && c <= 'F'
		if !isDigit && !isLowerHex && !isUpperHex {
			return errors.New("invalid address: contains non-hex characters")
		}
	}
	return nil
}

// ValidateWallet validates an address that names a real party. The zero
// address is reserved for self-reports and cannot be accused or rewarded.
func ValidateWallet(addr string) error {
	if addr == "" {
		return errors.New("wallet address is required")
	}
	if err := ValidateAddress(addr); err != nil {
		return err
	}
	if strings.EqualFold(addr, zeroAddress) {
		return errors.New("the zero address is not a wallet")
	}
	return nil
}

// ValidateReportID parses a ledger report index.
func ValidateReportID(s string) (uint64, error) {
	if s == "" {
		return 0, errors.New("report id is required")
	}
	id, err := strconv.ParseUint(s, 10, 64)
	if errors.Is(err, strconv.ErrRange) {
		return 0, fmt.Errorf("invalid report id %q: out of range", s)
	}
	if err != nil {
		return 0, fmt.Errorf("invalid report id %q: must be a non-negative integer", s)
	}
	return id, nil
}

// ValidateVersion validates a semantic version string
func ValidateVersion(v string) error {
	normalized := strings.TrimPrefix(v, "v")
	if normalized == "" {
		return errors.New("version cannot be empty")
	}

	// semver library expects version to start with 'v'
	if !semver.IsValid("v" + normalized) {
		return errors.New("invalid semver version: must be in format X.Y.Z or X.Y.Z-prerelease")
	}

	// semver.IsValid accepts "v1" and "v1.2"; require all three parts
	mainPart := strings.SplitN(strings.SplitN(normalized, "+", 2)[0], "-", 2)[0]
	if strings.Count(mainPart, ".") < 2 {
		return errors.New("invalid semver version: must be in format X.Y.Z (major.minor.patch)")
	}
	return nil
}

// NormalizeVersion normalizes a version string (strips leading 'v')
func NormalizeVersion(v string) string {
	return strings.TrimPrefix(v, "v")
}

// CompareVersions compares two versions
// Returns -1 if v1 < v2, 0 if v1 == v2, 1 if v1 > v2
func CompareVersions(v1, v2 string) int {
	return semver.Compare("v"+NormalizeVersion(v1), "v"+NormalizeVersion(v2))
}

// CompatibleVersions reports whether a client and server agree on the API.
// Both must be valid and share a major version; on major version zero the
// minor version must match as well. "dev" builds are always compatible.
func CompatibleVersions(client, server string) (bool, error) {
	if client == "dev" || server == "dev" {
		return true, nil
	}
	if err := ValidateVersion(client); err != nil {
		return false, fmt.Errorf("client version: %w", err)
	}
	if err := ValidateVersion(server); err != nil {
		return false, fmt.Errorf("server version: %w", err)
	}

	c, s := "v"+NormalizeVersion(client), "v"+NormalizeVersion(server)
	if semver.Major(c) != semver.Major(s) {
		return false, nil
	}
	if semver.Major(c) == "v0" && semver.MajorMinor(c) != semver.MajorMinor(s) {
		return false, nil
	}
	return true, nil
}
