package main

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pendergraft/reportchain/internal/storage"
)

func testStore(t *testing.T) *storage.SQLiteStore {
	t.Helper()
	store, err := storage.NewSQLiteStore(filepath.Join(t.TempDir(), "admin.db"), slog.New(slog.NewTextHandler(io.Discard, nil)))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	require.NoError(t, store.Migrate(context.Background()))
	return store
}

func TestRunKeysRevoke_ByPrefix(t *testing.T) {
	ctx := context.Background()
	store := testStore(t)

	key, err := store.CreateAPIKey(ctx, "moderator")
	require.NoError(t, err)
	keys, err := store.ListAPIKeys(ctx)
	require.NoError(t, err)
	require.Len(t, keys, 1)

	assert.Error(t, runKeysRevoke(ctx, store, "nope"))
	require.NoError(t, runKeysRevoke(ctx, store, keys[0].ID[:8]))

	_, err = store.ValidateAPIKey(ctx, key)
	assert.Error(t, err)
}

func TestRunKeysCreate_WritesFile(t *testing.T) {
	ctx := context.Background()
	store := testStore(t)
	out := filepath.Join(t.TempDir(), "keys", "moderator.txt")

	require.NoError(t, runKeysCreate(ctx, store, "moderator", out, false, false))

	keys, err := store.ListAPIKeys(ctx)
	require.NoError(t, err)
	assert.Len(t, keys, 1)
	assert.FileExists(t, out)
}

func TestRunJournalList(t *testing.T) {
	ctx := context.Background()
	store := testStore(t)

	for i := range 3 {
		wallet := fmt.Sprintf("0x%040d", i+1)
		evidence := fmt.Sprintf("0x%064d", i+1)
		_, err := store.ReserveSubmission(ctx, &storage.Submission{
			Key:          storage.SubmissionKey(storage.KindSelfReport, evidence, wallet),
			Kind:         storage.KindSelfReport,
			URL:          "http://a.io",
			Wallet:       wallet,
			EvidenceHash: evidence,
		})
		require.NoError(t, err)
	}

	var out bytes.Buffer
	require.NoError(t, runJournalList(ctx, store, &out, storage.SubmissionFilter{}, 2))
	lines := strings.Split(strings.TrimSpace(out.String()), "\n")
	assert.Len(t, lines, 3, out.String())
	assert.Contains(t, lines[1], "pending")

	out.Reset()
	require.NoError(t, runJournalList(ctx, store, &out, storage.SubmissionFilter{State: storage.StateCommitted}, 10))
	assert.Contains(t, out.String(), "No submissions found")
}
