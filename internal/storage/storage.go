package storage

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/pendergraft/reportchain/internal/config"
)

// SubmissionStore is the submission journal. It records every ledger
// submission the service dispatches so a repeated request cannot append a
// second report and a failed reward can be retried on its own.
type SubmissionStore interface {
	// ReserveSubmission claims s.Key in state pending. A failed row with the
	// same key is revived; any other existing row yields ErrDuplicate along
	// with that row.
	ReserveSubmission(ctx context.Context, s *Submission) (*Submission, error)
	// TransitionSubmission applies update if the row is in one of from.
	TransitionSubmission(ctx context.Context, key string, from []SubmissionState, update SubmissionUpdate) error
	GetSubmission(ctx context.Context, key string) (*Submission, error)
	ListSubmissions(ctx context.Context, filter SubmissionFilter, pagination PaginationParams) (*PaginatedResult[Submission], error)
}

// APIKeyStore handles API key operations
type APIKeyStore interface {
	CreateAPIKey(ctx context.Context, name string) (key string, err error)
	ValidateAPIKey(ctx context.Context, key string) (*APIKey, error)
	ListAPIKeys(ctx context.Context) ([]APIKey, error)
	RevokeAPIKey(ctx context.Context, id string) error
}

// Store combines all storage interfaces with lifecycle methods.
// Domain services define their own minimal interfaces based on their actual usage.
type Store interface {
	SubmissionStore
	APIKeyStore

	// Lifecycle
	Ping(ctx context.Context) error
	Close() error
	Migrate(ctx context.Context) error
}

// SubmissionKind distinguishes accusations from self-reports.
type SubmissionKind string

const (
	KindAccusation SubmissionKind = "accusation"
	KindSelfReport SubmissionKind = "self"
)

// SubmissionState is a journal row's position in the submission workflow.
type SubmissionState string

const (
	// StatePending: reserved, ledger transaction not yet confirmed.
	StatePending SubmissionState = "pending"
	// StateFailed: nothing reached the ledger; the key may be reserved again.
	StateFailed SubmissionState = "failed"
	// StateUnknown: a transaction was broadcast but its receipt was not seen.
	StateUnknown SubmissionState = "unknown"
	// StateRewardPending: ledger confirmed, reward registration in flight.
	StateRewardPending SubmissionState = "reward_pending"
	// StatePartial: ledger confirmed, reward registration failed.
	StatePartial SubmissionState = "partial"
	// StateCommitted: every step confirmed.
	StateCommitted SubmissionState = "committed"
)

// Submission is a journal row.
type Submission struct {
	Seq           int64
	ID            string
	Key           string
	Kind          SubmissionKind
	URL           string
	Wallet        string // accused wallet for accusations, reporter for self-reports
	EvidenceHash  string
	State         SubmissionState
	LedgerTxHash  string
	LedgerBlock   uint64
	LedgerGasUsed uint64
	RewardTxHash  string
	LastError     string
	CreatedAt     string
	UpdatedAt     string
}

// SubmissionUpdate changes a row's state. Empty or zero fields keep the
// stored value, except LastError which is always overwritten.
type SubmissionUpdate struct {
	State         SubmissionState
	LedgerTxHash  string
	LedgerBlock   uint64
	LedgerGasUsed uint64
	RewardTxHash  string
	LastError     string
}

// SubmissionFilter narrows ListSubmissions.
type SubmissionFilter struct {
	Kind  SubmissionKind
	State SubmissionState
}

// APIKey represents an API key
type APIKey struct {
	ID         string
	Name       string
	KeyHash    string
	CreatedAt  string
	LastUsedAt string
	RevokedAt  string
}

// PaginationParams contains pagination options
type PaginationParams struct {
	Limit  int
	Cursor string
}

// PaginatedResult contains paginated results
type PaginatedResult[T any] struct {
	Data       []T
	HasMore    bool
	NextCursor string
}

// New creates a new store based on configuration
func New(cfg config.StorageConfig, logger *slog.Logger) (Store, error) {
	switch cfg.Type {
	case "sqlite":
		return NewSQLiteStore(cfg.SQLite.Path, logger)
	case "postgres":
		return NewPostgresStore(cfg.Postgres.URL, logger)
	default:
		return nil, fmt.Errorf("unknown storage type: %s", cfg.Type)
	}
}
