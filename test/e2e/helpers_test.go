//go:build e2e

package e2e

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/pendergraft/reportchain/internal/chains"
	"github.com/pendergraft/reportchain/internal/classifier"
	"github.com/pendergraft/reportchain/internal/config"
	"github.com/pendergraft/reportchain/internal/evidence"
	"github.com/pendergraft/reportchain/internal/ledger"
	"github.com/pendergraft/reportchain/internal/reports/domain"
	"github.com/pendergraft/reportchain/internal/rewards"
	"github.com/pendergraft/reportchain/internal/server"
	"github.com/pendergraft/reportchain/internal/storage"
	"github.com/pendergraft/reportchain/pkg/client"
)

// TestContext holds shared test infrastructure
type TestContext struct {
	PostgresContainer *postgres.PostgresContainer
	ConnString        string
	Classifier        *httptest.Server
	Chain             *fakeChain
	TestServer        *httptest.Server
	Store             storage.Store
}

// setupPostgresE starts a Postgres container and returns the connection string
func setupPostgresE(ctx context.Context) (*postgres.PostgresContainer, string, error) {
	postgresContainer, err := postgres.RunContainer(ctx,
		testcontainers.WithImage("postgres:16-alpine"),
		postgres.WithDatabase("reportchain"),
		postgres.WithUsername("reportchain"),
		postgres.WithPassword("reportchain"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(30*time.Second)),
	)
	if err != nil {
		return nil, "", fmt.Errorf("failed to start postgres container: %w", err)
	}

	connString, err := postgresContainer.ConnectionString(ctx, "sslmode=disable")
	if err != nil {
		_ = postgresContainer.Terminate(ctx)
		return nil, "", fmt.Errorf("failed to get postgres connection string: %w", err)
	}

	return postgresContainer, connString, nil
}

// startClassifier serves verdicts keyed on the URL: anything containing
// "benign" is benign, anything containing "down" fails.
func startClassifier() *httptest.Server {
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body struct {
			URL string `json:"url"`
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		switch {
		case strings.Contains(body.URL, "down"):
			w.WriteHeader(http.StatusServiceUnavailable)
		case strings.Contains(body.URL, "benign"):
			json.NewEncoder(w).Encode(map[string]any{"prediction": classifier.Benign, "score": 0.02})
		default:
			json.NewEncoder(w).Encode(map[string]any{"prediction": "phishing", "score": 0.97})
		}
	}))
}

// startServerE wires the real report service over the fake chain and a
// Postgres-backed journal.
func startServerE(connString, classifierURL string, chain *fakeChain) (*httptest.Server, storage.Store, error) {
	cfg := &config.Config{
		Storage:   config.StorageConfig{Type: "postgres", Postgres: config.PostgresConfig{URL: connString}},
		Auth:      config.AuthConfig{Type: "api-key"},
		RateLimit: config.RateLimitConfig{Enabled: false},
		Security:  config.SecurityConfig{MaxBodySizeKB: 64},
		CORS:      config.CORSConfig{AllowedOrigins: []string{"*"}},
	}

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn}))

	store, err := storage.New(cfg.Storage, logger)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create store: %w", err)
	}
	if err := store.Migrate(context.Background()); err != nil {
		store.Close()
		return nil, nil, fmt.Errorf("failed to migrate: %w", err)
	}

	svc := domain.NewService(
		classifier.New(classifierURL, 5*time.Second, logger),
		ledger.NewGateway(chain, ledger.GasLimits{}, logger),
		rewards.NewGateway(chain.Rewards(), 0, logger),
		store,
		evidence.SchemePadded,
		logger,
	)
	srv := server.New(cfg, store, domain.LoggingMiddleware(logger)(svc), logger,
		server.WithVersion("v1.0.0"),
		server.WithReadinessCheck("marketplace", func(context.Context) error { return nil }),
	)

	return httptest.NewServer(srv.Handler()), store, nil
}

// createTestAPIKey creates a reviewer key in the store
func createTestAPIKey(t *testing.T, store storage.Store, name string) string {
	t.Helper()
	key, err := store.CreateAPIKey(context.Background(), name+"-"+uuid.NewString()[:8])
	require.NoError(t, err)
	return key
}

func newClient(srv *httptest.Server, apiKey string) *client.Client {
	return client.New(srv.URL, apiKey)
}

// uniqueURL returns a URL short enough for the padded fingerprint scheme.
func uniqueURL(prefix string) string {
	return fmt.Sprintf("http://%s-%s.io", prefix, uuid.NewString()[:6])
}

func assertHTTPError(t *testing.T, err error, code string) {
	t.Helper()
	require.Error(t, err)
	var apiErr *client.APIError
	require.True(t, errors.As(err, &apiErr), "expected *client.APIError, got %T: %v", err, err)
	require.Equal(t, code, apiErr.Code)
}

type fakeReport struct {
	domain   string
	accused  common.Address
	reporter common.Address
	evidence [32]byte
	ts       uint64
	status   uint8
}

// fakeChain is an in-memory marketplace contract. It answers the same
// methods the ABI exposes with the same Go types the ABI decoder yields.
type fakeChain struct {
	mu           sync.Mutex
	signer       common.Address
	reports      []fakeReport
	bannedWallet map[common.Address]bool
	blocks       uint64
	failRewards  bool
	rewarded     map[[32]byte]common.Address
}

func newFakeChain() *fakeChain {
	return &fakeChain{
		signer:       common.HexToAddress("0x00000000000000000000000000000000000000aa"),
		bannedWallet: map[common.Address]bool{},
		rewarded:     map[[32]byte]common.Address{},
	}
}

func (c *fakeChain) From() common.Address { return c.signer }

func (c *fakeChain) receipt() *chains.Receipt {
	c.blocks++
	return &chains.Receipt{
		TxHash:      fmt.Sprintf("0x%064x", c.blocks),
		BlockNumber: c.blocks,
		GasUsed:     21000,
	}
}

func (c *fakeChain) Call(ctx context.Context, method string, args ...any) ([]any, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	switch method {
	case "totalReports":
		return []any{big.NewInt(int64(len(c.reports)))}, nil
	case "owner":
		return []any{c.signer}, nil
	case "getReport":
		i := args[0].(*big.Int).Uint64()
		if i >= uint64(len(c.reports)) {
			return nil, fmt.Errorf("%w: execution reverted", chains.ErrRejected)
		}
		r := c.reports[i]
		return []any{r.domain, r.accused, r.reporter, r.evidence, new(big.Int).SetUint64(r.ts), r.status}, nil
	case "isWalletBanned":
		return []any{c.bannedWallet[args[0].(common.Address)]}, nil
	case "isUrlBanned":
		return []any{false}, nil
	}
	return nil, fmt.Errorf("%w: unknown method %s", chains.ErrMalformed, method)
}

func (c *fakeChain) Transact(ctx context.Context, gasLimit uint64, method string, args ...any) (*chains.Receipt, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	switch method {
	case "submitReport":
		c.reports = append(c.reports, fakeReport{
			domain:   args[0].(string),
			accused:  args[1].(common.Address),
			reporter: c.signer,
			evidence: args[2].([32]byte),
			ts:       uint64(time.Now().Unix()),
		})
		return c.receipt(), nil
	case "setReportStatus":
		i := args[0].(*big.Int).Uint64()
		c.reports[i].status = args[1].(uint8)
		return c.receipt(), nil
	}
	return nil, fmt.Errorf("%w: unknown method %s", chains.ErrRejected, method)
}

func (c *fakeChain) setFailRewards(fail bool) {
	c.mu.Lock()
	c.failRewards = fail
	c.mu.Unlock()
}

// Rewards returns the rewards contract view of the chain.
func (c *fakeChain) Rewards() rewards.Backend { return fakeRewards{c} }

type fakeRewards struct{ c *fakeChain }

func (r fakeRewards) Transact(ctx context.Context, gasLimit uint64, method string, args ...any) (*chains.Receipt, error) {
	r.c.mu.Lock()
	defer r.c.mu.Unlock()

	if r.c.failRewards {
		return nil, fmt.Errorf("%w: execution reverted: paused", chains.ErrRejected)
	}
	r.c.rewarded[args[1].([32]byte)] = args[0].(common.Address)
	return r.c.receipt(), nil
}
