package storage

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strconv"
	"strings"

	"github.com/google/uuid"
)

// generateID generates a new UUID
func generateID() string {
	return uuid.New().String()
}

// generateAPIKey generates a new API key
func generateAPIKey() string {
	b := make([]byte, 24)
	_, _ = rand.Read(b)
	return fmt.Sprintf("rc_key_%s", hex.EncodeToString(b))
}

// hashAPIKey hashes an API key for storage
func hashAPIKey(key string) string {
	h := sha256.Sum256([]byte(key))
	return hex.EncodeToString(h[:])
}

// SubmissionKey is the idempotency key for a submission: the same evidence
// for the same wallet and kind maps to one journal row.
func SubmissionKey(kind SubmissionKind, evidenceHex, wallet string) string {
	return fmt.Sprintf("%s:%s:%s", kind, strings.ToLower(evidenceHex), strings.ToLower(wallet))
}

func stateStrings(states []SubmissionState) []string {
	out := make([]string, len(states))
	for i, s := range states {
		out[i] = string(s)
	}
	return out
}

// parseCursor reads a journal sequence cursor; empty means from the newest.
func parseCursor(cursor string) (int64, error) {
	if cursor == "" {
		return 0, nil
	}
	seq, err := strconv.ParseInt(cursor, 10, 64)
	if err != nil || seq <= 0 {
		return 0, fmt.Errorf("invalid cursor %q", cursor)
	}
	return seq, nil
}
