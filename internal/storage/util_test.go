package storage

import (
	"strings"
	"testing"
)

func TestSubmissionKey(t *testing.T) {
	tests := []struct {
		name     string
		kind     SubmissionKind
		evidence string
		wallet   string
		want     string
	}{
		{"accusation", KindAccusation, "0xAB", "0xCD", "accusation:0xab:0xcd"},
		{"self", KindSelfReport, "0xab", "0xcd", "self:0xab:0xcd"},
		{"checksummed wallet", KindSelfReport, "0x01", "0x5aAeb6053F3E94C9b9A09f33669435E7Ef1BeAed", "self:0x01:0x5aaeb6053f3e94c9b9a09f33669435e7ef1beaed"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := SubmissionKey(tt.kind, tt.evidence, tt.wallet); got != tt.want {
				t.Errorf("SubmissionKey() = %v, want %v", got, tt.want)
			}
		})
	}

	if SubmissionKey(KindAccusation, "0x01", "0x02") == SubmissionKey(KindSelfReport, "0x01", "0x02") {
		t.Error("accusation and self-report keys must differ")
	}
}

func TestParseCursor(t *testing.T) {
	tests := []struct {
		cursor  string
		want    int64
		wantErr bool
	}{
		{"", 0, false},
		{"1", 1, false},
		{"42", 42, false},
		{"0", 0, true},
		{"-3", 0, true},
		{"abc", 0, true},
	}
	for _, tt := range tests {
		got, err := parseCursor(tt.cursor)
		if (err != nil) != tt.wantErr {
			t.Errorf("parseCursor(%q) error = %v, wantErr %v", tt.cursor, err, tt.wantErr)
			continue
		}
		if got != tt.want {
			t.Errorf("parseCursor(%q) = %v, want %v", tt.cursor, got, tt.want)
		}
	}
}

func TestGenerateAPIKey(t *testing.T) {
	a, b := generateAPIKey(), generateAPIKey()
	if !strings.HasPrefix(a, "rc_key_") {
		t.Errorf("key %q lacks prefix", a)
	}
	if a == b {
		t.Error("keys must be random")
	}
	if hashAPIKey(a) == hashAPIKey(b) || hashAPIKey(a) != hashAPIKey(a) {
		t.Error("hash must be deterministic and distinct")
	}
	if len(hashAPIKey(a)) != 64 {
		t.Errorf("hash length = %d, want 64", len(hashAPIKey(a)))
	}
}
