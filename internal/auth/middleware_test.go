package auth

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pendergraft/reportchain/internal/storage"
)

type mockAPIKeyStore struct {
	keys map[string]*storage.APIKey
	err  error
}

func (m *mockAPIKeyStore) CreateAPIKey(ctx context.Context, name string) (string, error) {
	return "", nil
}

func (m *mockAPIKeyStore) ValidateAPIKey(ctx context.Context, key string) (*storage.APIKey, error) {
	if m.err != nil {
		return nil, m.err
	}
	if apiKey, ok := m.keys[key]; ok {
		return apiKey, nil
	}
	return nil, storage.ErrNotFound
}

func (m *mockAPIKeyStore) ListAPIKeys(ctx context.Context) ([]storage.APIKey, error) {
	return nil, nil
}

func (m *mockAPIKeyStore) RevokeAPIKey(ctx context.Context, id string) error {
	return nil
}

func statusOnly(w http.ResponseWriter, status int, code, message string) {
	w.WriteHeader(status)
}

func TestMiddleware(t *testing.T) {
	store := &mockAPIKeyStore{
		keys: map[string]*storage.APIKey{
			"rc_key_valid": {ID: "key-123", Name: "reviewer"},
		},
	}

	tests := []struct {
		name       string
		header     string
		value      string
		wantStatus int
		wantActor  string
	}{
		{"x-api-key", "X-API-Key", "rc_key_valid", http.StatusOK, "reviewer"},
		{"bearer", "Authorization", "Bearer rc_key_valid", http.StatusOK, "reviewer"},
		{"invalid", "X-API-Key", "rc_key_invalid", http.StatusUnauthorized, ""},
		{"basic auth is ignored", "Authorization", "Basic cmM6a2V5", http.StatusUnauthorized, ""},
		{"missing", "", "", http.StatusUnauthorized, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var actor string
			handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				actor = Actor(r.Context())
				w.WriteHeader(http.StatusOK)
			})

			req := httptest.NewRequest(http.MethodPost, "/api/v1/reports/0/verify", nil)
			if tt.header != "" {
				req.Header.Set(tt.header, tt.value)
			}
			rec := httptest.NewRecorder()
			Middleware(store, statusOnly)(handler).ServeHTTP(rec, req)

			assert.Equal(t, tt.wantStatus, rec.Code)
			assert.Equal(t, tt.wantActor, actor)
		})
	}
}

func TestMiddleware_StoreFailure(t *testing.T) {
	store := &mockAPIKeyStore{err: errors.New("database is locked")}
	called := false
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { called = true })

	req := httptest.NewRequest(http.MethodPost, "/", nil)
	req.Header.Set("X-API-Key", "rc_key_valid")
	rec := httptest.NewRecorder()
	Middleware(store, statusOnly)(handler).ServeHTTP(rec, req)

	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.False(t, called)
}

func TestActor(t *testing.T) {
	assert.Equal(t, "anonymous", Actor(context.Background()))

	ctx := WithAPIKey(context.Background(), &storage.APIKey{Name: "ops"})
	key := GetAPIKeyFromContext(ctx)
	require.NotNil(t, key)
	assert.Equal(t, "ops", Actor(ctx))
}
