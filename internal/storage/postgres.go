package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
)

const pgTimeFormat = "2006-01-02 15:04:05"

// PostgresStore implements Store using PostgreSQL
type PostgresStore struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewPostgresStore creates a new Postgres store
func NewPostgresStore(url string, logger *slog.Logger) (*PostgresStore, error) {
	db, err := sql.Open("pgx", url)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("pinging database: %w", err)
	}

	return &PostgresStore{db: db, logger: logger}, nil
}

// NewPostgresStoreFromDB wraps an open connection pool.
func NewPostgresStoreFromDB(db *sql.DB, logger *slog.Logger) *PostgresStore {
	return &PostgresStore{db: db, logger: logger}
}

// Close closes the database connection
func (s *PostgresStore) Close() error {
	return s.db.Close()
}

// Ping checks the database is reachable
func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Migrate runs database migrations
func (s *PostgresStore) Migrate(ctx context.Context) error {
	schema := `
	CREATE TABLE IF NOT EXISTS submissions (
		seq BIGSERIAL PRIMARY KEY,
		id UUID NOT NULL UNIQUE,
		submission_key TEXT NOT NULL UNIQUE,
		kind TEXT NOT NULL,
		url TEXT NOT NULL,
		wallet TEXT NOT NULL,
		evidence_hash TEXT NOT NULL,
		state TEXT NOT NULL,
		ledger_tx_hash TEXT NOT NULL DEFAULT '',
		ledger_block BIGINT NOT NULL DEFAULT 0,
		ledger_gas_used BIGINT NOT NULL DEFAULT 0,
		reward_tx_hash TEXT NOT NULL DEFAULT '',
		last_error TEXT NOT NULL DEFAULT '',
		created_at TIMESTAMPTZ DEFAULT NOW(),
		updated_at TIMESTAMPTZ DEFAULT NOW()
	);

	CREATE TABLE IF NOT EXISTS api_keys (
		id UUID PRIMARY KEY,
		key_hash TEXT NOT NULL UNIQUE,
		name TEXT NOT NULL,
		created_at TIMESTAMPTZ DEFAULT NOW(),
		last_used_at TIMESTAMPTZ,
		revoked_at TIMESTAMPTZ
	);

	CREATE INDEX IF NOT EXISTS idx_submissions_state ON submissions(state);
	`

	_, err := s.db.ExecContext(ctx, schema)
	return err
}

const pgSubmissionColumns = `seq, id, submission_key, kind, url, wallet, evidence_hash, state,
	ledger_tx_hash, ledger_block, ledger_gas_used, reward_tx_hash, last_error, created_at, updated_at`

// ReserveSubmission claims a submission key
func (s *PostgresStore) ReserveSubmission(ctx context.Context, sub *Submission) (*Submission, error) {
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO submissions (id, submission_key, kind, url, wallet, evidence_hash, state)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (submission_key) DO NOTHING`,
		generateID(), sub.Key, string(sub.Kind), sub.URL, sub.Wallet, sub.EvidenceHash, string(StatePending),
	)
	if err != nil {
		return nil, err
	}
	if n, _ := res.RowsAffected(); n == 1 {
		return s.GetSubmission(ctx, sub.Key)
	}

	res, err = s.db.ExecContext(ctx, `
		UPDATE submissions SET state = $1, last_error = '', updated_at = NOW()
		WHERE submission_key = $2 AND state = $3`,
		string(StatePending), sub.Key, string(StateFailed),
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
func (s *PostgresStore) TransitionSubmission(ctx context.Context, key string, from []SubmissionState, update SubmissionUpdate) error {
	if len(from) == 0 {
		return errors.New("transition needs at least one source state")
	}

	args := []any{string(update.State), update.LedgerTxHash, int64(update.LedgerBlock), int64(update.LedgerGasUsed), update.RewardTxHash, update.LastError, key}
	placeholders := make([]string, len(from))
	for i, st := range stateStrings(from) {
		args = append(args, st)
		placeholders[i] = "$" + strconv.Itoa(len(args))
	}

	query := `
		UPDATE submissions SET
			state = $1,
			ledger_tx_hash = COALESCE(NULLIF($2, ''), ledger_tx_hash),
			ledger_block = COALESCE(NULLIF($3::BIGINT, 0), ledger_block),
			ledger_gas_used = COALESCE(NULLIF($4::BIGINT, 0), ledger_gas_used),
			reward_tx_hash = COALESCE(NULLIF($5, ''), reward_tx_hash),
			last_error = $6,
			updated_at = NOW()
		WHERE submission_key = $7 AND state IN (` + strings.Join(placeholders, ", ") + `)`

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
func (s *PostgresStore) GetSubmission(ctx context.Context, key string) (*Submission, error) {
	row := s.db.QueryRowContext(ctx, "SELECT "+pgSubmissionColumns+" FROM submissions WHERE submission_key = $1", key)
	sub, err := scanPostgresSubmission(row)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	return sub, err
}

// ListSubmissions lists journal rows newest first
func (s *PostgresStore) ListSubmissions(ctx context.Context, filter SubmissionFilter, pagination PaginationParams) (*PaginatedResult[Submission], error) {
	seq, err := parseCursor(pagination.Cursor)
	if err != nil {
		return nil, err
	}

	var where []string
	var args []any
	add := func(clause string, v any) {
		args = append(args, v)
		where = append(where, fmt.Sprintf(clause, len(args)))
	}
	if seq > 0 {
		add("seq < $%d", seq)
	}
	if filter.Kind != "" {
		add("kind = $%d", string(filter.Kind))
	}
	if filter.State != "" {
		add("state = $%d", string(filter.State))
	}

	query := "SELECT " + pgSubmissionColumns + " FROM submissions"
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	args = append(args, pagination.Limit+1)
	query += fmt.Sprintf(" ORDER BY seq DESC LIMIT $%d", len(args))

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var subs []Submission
	for rows.Next() {
		sub, err := scanPostgresSubmission(rows)
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

func scanPostgresSubmission(row rowScanner) (*Submission, error) {
	var sub Submission
	var block, gas int64
	var createdAt, updatedAt time.Time
	err := row.Scan(
		&sub.Seq, &sub.ID, &sub.Key, &sub.Kind, &sub.URL, &sub.Wallet, &sub.EvidenceHash, &sub.State,
		&sub.LedgerTxHash, &block, &gas, &sub.RewardTxHash, &sub.LastError, &createdAt, &updatedAt,
	)
	if err != nil {
		return nil, err
	}
	sub.LedgerBlock = uint64(block)
	sub.LedgerGasUsed = uint64(gas)
	sub.CreatedAt = createdAt.UTC().Format(pgTimeFormat)
	sub.UpdatedAt = updatedAt.UTC().Format(pgTimeFormat)
	return &sub, nil
}

// CreateAPIKey creates a new API key
func (s *PostgresStore) CreateAPIKey(ctx context.Context, name string) (string, error) {
	key := generateAPIKey()
	_, err := s.db.ExecContext(ctx, "INSERT INTO api_keys (id, key_hash, name) VALUES ($1, $2, $3)", generateID(), hashAPIKey(key), name)
	if err != nil {
		return "", err
	}
	return key, nil
}

// ValidateAPIKey validates an API key
func (s *PostgresStore) ValidateAPIKey(ctx context.Context, key string) (*APIKey, error) {
	var ak APIKey
	var createdAt time.Time
	err := s.db.QueryRowContext(ctx, "SELECT id, key_hash, name, created_at FROM api_keys WHERE key_hash = $1 AND revoked_at IS NULL", hashAPIKey(key)).Scan(
		&ak.ID, &ak.KeyHash, &ak.Name, &createdAt,
	)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	ak.CreatedAt = createdAt.UTC().Format(pgTimeFormat)
	_, _ = s.db.ExecContext(ctx, "UPDATE api_keys SET last_used_at = NOW() WHERE id = $1", ak.ID)
	return &ak, nil
}

// ListAPIKeys lists all active API keys
func (s *PostgresStore) ListAPIKeys(ctx context.Context) ([]APIKey, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT id, name, created_at, last_used_at FROM api_keys WHERE revoked_at IS NULL ORDER BY created_at")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var keys []APIKey
	for rows.Next() {
		var k APIKey
		var createdAt time.Time
		var lastUsed sql.NullTime
		if err := rows.Scan(&k.ID, &k.Name, &createdAt, &lastUsed); err != nil {
			return nil, err
		}
		k.CreatedAt = createdAt.UTC().Format(pgTimeFormat)
		if lastUsed.Valid {
			k.LastUsedAt = lastUsed.Time.UTC().Format(pgTimeFormat)
		}
		keys = append(keys, k)
	}
	return keys, rows.Err()
}

// RevokeAPIKey revokes an API key
func (s *PostgresStore) RevokeAPIKey(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, "UPDATE api_keys SET revoked_at = NOW() WHERE id = $1 AND revoked_at IS NULL", id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}
