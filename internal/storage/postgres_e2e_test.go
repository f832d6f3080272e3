//go:build e2e

package storage

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"
)

func TestPostgresStore_Container(t *testing.T) {
	ctx := context.Background()

	container, err := postgres.RunContainer(ctx,
		testcontainers.WithImage("postgres:16-alpine"),
		postgres.WithDatabase("reportchain"),
		postgres.WithUsername("reportchain"),
		postgres.WithPassword("reportchain"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(30*time.Second)),
	)
	require.NoError(t, err)
	t.Cleanup(func() { _ = container.Terminate(ctx) })

	dsn, err := container.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)

	store, err := NewPostgresStore(dsn, slog.New(slog.NewTextHandler(io.Discard, nil)))
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	require.NoError(t, store.Migrate(ctx))
	require.NoError(t, store.Migrate(ctx), "migrations are idempotent")

	sub := testSubmission(KindSelfReport, "http://a.io", "0x4444444444444444444444444444444444444444")

	got, err := store.ReserveSubmission(ctx, sub)
	require.NoError(t, err)
	assert.Equal(t, StatePending, got.State)

	_, err = store.ReserveSubmission(ctx, sub)
	assert.True(t, errors.Is(err, ErrDuplicate))

	require.NoError(t, store.TransitionSubmission(ctx, sub.Key, []SubmissionState{StatePending},
		SubmissionUpdate{State: StatePartial, LedgerTxHash: "0xfeed", LedgerBlock: 42, LastError: "reward failed"}))
	require.NoError(t, store.TransitionSubmission(ctx, sub.Key, []SubmissionState{StatePartial},
		SubmissionUpdate{State: StateCommitted, RewardTxHash: "0xbeef"}))

	got, err = store.GetSubmission(ctx, sub.Key)
	require.NoError(t, err)
	assert.Equal(t, StateCommitted, got.State)
	assert.Equal(t, "0xfeed", got.LedgerTxHash)
	assert.Equal(t, "0xbeef", got.RewardTxHash)
	assert.Empty(t, got.LastError)

	page, err := store.ListSubmissions(ctx, SubmissionFilter{Kind: KindSelfReport}, PaginationParams{Limit: 10})
	require.NoError(t, err)
	assert.Len(t, page.Data, 1)

	key, err := store.CreateAPIKey(ctx, "ops")
	require.NoError(t, err)
	ak, err := store.ValidateAPIKey(ctx, key)
	require.NoError(t, err)
	require.NoError(t, store.RevokeAPIKey(ctx, ak.ID))
	_, err = store.ValidateAPIKey(ctx, key)
	assert.ErrorIs(t, err, ErrNotFound)
}
