package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	_ "modernc.org/sqlite"
)

// SQLiteStore implements Store using SQLite
type SQLiteStore struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewSQLiteStore creates a new SQLite store
func NewSQLiteStore(path string, logger *slog.Logger) (*SQLiteStore, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("creating data directory: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	// WAL lets the listing endpoints read while a submission is being journaled.
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		return nil, fmt.Errorf("enabling WAL mode: %w", err)
	}
	if _, err := db.Exec("PRAGMA busy_timeout=5000"); err != nil {
		return nil, fmt.Errorf("setting busy timeout: %w", err)
	}

	return &SQLiteStore{db: db, logger: logger}, nil
}

// Close closes the database connection
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// Ping checks the database is reachable
func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Migrate runs database migrations
func (s *SQLiteStore) Migrate(ctx context.Context) error {
	schema := `
	CREATE TABLE IF NOT EXISTS submissions (
		seq INTEGER PRIMARY KEY AUTOINCREMENT,
		id TEXT NOT NULL UNIQUE,
		submission_key TEXT NOT NULL UNIQUE,
		kind TEXT NOT NULL,
		url TEXT NOT NULL,
		wallet TEXT NOT NULL,
		evidence_hash TEXT NOT NULL,
		state TEXT NOT NULL,
		ledger_tx_hash TEXT NOT NULL DEFAULT '',
		ledger_block INTEGER NOT NULL DEFAULT 0,
		ledger_gas_used INTEGER NOT NULL DEFAULT 0,
		reward_tx_hash TEXT NOT NULL DEFAULT '',
		last_error TEXT NOT NULL DEFAULT '',
		created_at TEXT DEFAULT (datetime('now')),
		updated_at TEXT DEFAULT (datetime('now'))
	);

	CREATE TABLE IF NOT EXISTS api_keys (
		id TEXT PRIMARY KEY,
		key_hash TEXT NOT NULL UNIQUE,
		name TEXT NOT NULL,
		created_at TEXT DEFAULT (datetime('now')),
		last_used_at TEXT,
		revoked_at TEXT
	);

	CREATE INDEX IF NOT EXISTS idx_submissions_state ON submissions(state);
	`

	_, err := s.db.ExecContext(ctx, schema)
	return err
}

const sqliteSubmissionColumns = `seq, id, submission_key, kind, url, wallet, evidence_hash, state,
	ledger_tx_hash, ledger_block, ledger_gas_used, reward_tx_hash, last_error, created_at, updated_at`

// ReserveSubmission claims a submission key
func (s *SQLiteStore) ReserveSubmission(ctx context.Context, sub *Submission) (*Submission, error) {
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO submissions (id, submission_key, kind, url, wallet, evidence_hash, state)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(submission_key) DO NOTHING`,
		generateID(), sub.Key, sub.Kind, sub.URL, sub.Wallet, sub.EvidenceHash, StatePending,
	)
	if err != nil {
		return nil, err
	}
	if n, _ := res.RowsAffected(); n == 1 {
		return s.GetSubmission(ctx, sub.Key)
	}

	res, err = s.db.ExecContext(ctx, `
		UPDATE submissions SET state = ?, last_error = '', updated_at = datetime('now')
		WHERE submission_key = ? AND state = ?`,
		StatePending, sub.Key, StateFailed,
	)
	if err != nil {
		return nil, err
	}
	if n, _ := res.RowsAffected(); n == 1 {
		return s.GetSubmission(ctx, sub.Key)
	}

	existing, err := s.GetSubmission(ctx, sub.Key)
	if err != nil {
		return nil, err
	}
	return existing, ErrDuplicate
}

// TransitionSubmission moves a submission between states
func (s *SQLiteStore) TransitionSubmission(ctx context.Context, key string, from []SubmissionState, update SubmissionUpdate) error {
	if len(from) == 0 {
		return errors.New("transition needs at least one source state")
	}
	placeholders := strings.TrimSuffix(strings.Repeat("?, ", len(from)), ", ")
	query := `
		UPDATE submissions SET
			state = ?,
			ledger_tx_hash = COALESCE(NULLIF(?, ''), ledger_tx_hash),
			ledger_block = COALESCE(NULLIF(?, 0), ledger_block),
			ledger_gas_used = COALESCE(NULLIF(?, 0), ledger_gas_used),
			reward_tx_hash = COALESCE(NULLIF(?, ''), reward_tx_hash),
			last_error = ?,
			updated_at = datetime('now')
		WHERE submission_key = ? AND state IN (` + placeholders + `)`

	args := []any{update.State, update.LedgerTxHash, int64(update.LedgerBlock), int64(update.LedgerGasUsed), update.RewardTxHash, update.LastError, key}
	for _, st := range stateStrings(from) {
		args = append(args, st)
	}

	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: %s not in %v", ErrStateConflict, key, from)
	}
	return nil
}

// GetSubmission returns the journal row for key
func (s *SQLiteStore) GetSubmission(ctx context.Context, key string) (*Submission, error) {
	row := s.db.QueryRowContext(ctx, "SELECT "+sqliteSubmissionColumns+" FROM submissions WHERE submission_key = ?", key)
	sub, err := scanSQLiteSubmission(row)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	return sub, err
}

// ListSubmissions lists journal rows newest first
func (s *SQLiteStore) ListSubmissions(ctx context.Context, filter SubmissionFilter, pagination PaginationParams) (*PaginatedResult[Submission], error) {
	seq, err := parseCursor(pagination.Cursor)
	if err != nil {
		return nil, err
	}

	var where []string
	var args []any
	if seq > 0 {
		where = append(where, "seq < ?")
		args = append(args, seq)
	}
	if filter.Kind != "" {
		where = append(where, "kind = ?")
		args = append(args, filter.Kind)
	}
	if filter.State != "" {
		where = append(where, "state = ?")
		args = append(args, filter.State)
	}

	query := "SELECT " + sqliteSubmissionColumns + " FROM submissions"
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY seq DESC LIMIT ?"
	args = append(args, pagination.Limit+1)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var subs []Submission
	for rows.Next() {
		sub, err := scanSQLiteSubmission(rows)
		if err != nil {
			return nil, err
		}
		subs = append(subs, *sub)
	}

	hasMore := len(subs) > pagination.Limit
	if hasMore {
		subs = subs[:pagination.Limit]
	}
	var nextCursor string
	if hasMore && len(subs) > 0 {
		nextCursor = strconv.FormatInt(subs[len(subs)-1].Seq, 10)
	}

	return &PaginatedResult[Submission]{Data: subs, HasMore: hasMore, NextCursor: nextCursor}, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSQLiteSubmission(row rowScanner) (*Submission, error) {
	var sub Submission
	var block, gas int64
	err := row.Scan(
		&sub.Seq, &sub.ID, &sub.Key, &sub.Kind, &sub.URL, &sub.Wallet, &sub.EvidenceHash, &sub.State,
		&sub.LedgerTxHash, &block, &gas, &sub.RewardTxHash, &sub.LastError, &sub.CreatedAt, &sub.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	sub.LedgerBlock = uint64(block)
	sub.LedgerGasUsed = uint64(gas)
	return &sub, nil
}

// CreateAPIKey creates a new API key
func (s *SQLiteStore) CreateAPIKey(ctx context.Context, name string) (string, error) {
	key := generateAPIKey()
	_, err := s.db.ExecContext(ctx, "INSERT INTO api_keys (id, key_hash, name, created_at) VALUES (?, ?, ?, datetime('now'))", generateID(), hashAPIKey(key), name)
	if err != nil {
		return "", err
	}
	return key, nil
}

// ValidateAPIKey validates an API key
func (s *SQLiteStore) ValidateAPIKey(ctx context.Context, key string) (*APIKey, error) {
	var ak APIKey
	err := s.db.QueryRowContext(ctx, "SELECT id, key_hash, name, created_at FROM api_keys WHERE key_hash = ? AND revoked_at IS NULL", hashAPIKey(key)).Scan(
		&ak.ID, &ak.KeyHash, &ak.Name, &ak.CreatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	_, _ = s.db.ExecContext(ctx, "UPDATE api_keys SET last_used_at = datetime('now') WHERE id = ?", ak.ID)
	return &ak, nil
}

// ListAPIKeys lists all active API keys
func (s *SQLiteStore) ListAPIKeys(ctx context.Context) ([]APIKey, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT id, name, created_at, last_used_at FROM api_keys WHERE revoked_at IS NULL ORDER BY created_at")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var keys []APIKey
	for rows.Next() {
		var k APIKey
		var lastUsed sql.NullString
		if err := rows.Scan(&k.ID, &k.Name, &k.CreatedAt, &lastUsed); err != nil {
			return nil, err
		}
		k.LastUsedAt = lastUsed.String
		keys = append(keys, k)
	}
	return keys, rows.Err()
}

// RevokeAPIKey revokes an API key
func (s *SQLiteStore) RevokeAPIKey(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, "UPDATE api_keys SET revoked_at = datetime('now') WHERE id = ? AND revoked_at IS NULL", id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}
