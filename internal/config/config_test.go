package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "sqlite", cfg.Storage.Type)
	assert.Equal(t, "http://localhost:5000/predict", cfg.Classifier.URL)
	assert.Equal(t, uint64(300000), cfg.Chain.SubmitGasLimit)
	assert.Equal(t, uint64(100000), cfg.Chain.StatusGasLimit)
	assert.Equal(t, "ascii-padded", cfg.Evidence.SelfReportScheme)
	assert.Equal(t, []string{"http://localhost:5173"}, cfg.CORS.AllowedOrigins)
	assert.True(t, cfg.Security.FilterEnabled)
	assert.Equal(t, 64, cfg.Security.MaxBodySizeKB)
}

func TestLoad_SecurityFilterToggle(t *testing.T) {
	t.Setenv("SECURITY_FILTER_ENABLED", "false")
	cfg, err := Load()
	require.NoError(t, err)
	assert.False(t, cfg.Security.FilterEnabled)
}

func TestLoad_LegacyChainVariables(t *testing.T) {
	t.Setenv("ALCHEMY_URL", "https://eth-sepolia.example/v2/key")
	t.Setenv("CONTRACT_ADDRESS", "0x00000000000000000000000000000000000000aa")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "https://eth-sepolia.example/v2/key", cfg.Chain.RPCURL)
	assert.Equal(t, "0x00000000000000000000000000000000000000aa", cfg.Chain.MarketplaceAddress)

	t.Setenv("CHAIN_RPC_URL", "http://localhost:8545")
	cfg, err = Load()
	require.NoError(t, err)
	assert.Equal(t, "http://localhost:8545", cfg.Chain.RPCURL)
}

func TestLoad_DatabaseURLSelectsPostgres(t *testing.T) {
	t.Setenv("DATABASE_URL", "postgres://localhost/reportchain")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "postgres", cfg.Storage.Type)
}

func TestValidate(t *testing.T) {
	t.Setenv("CHAIN_RPC_URL", "http://localhost:8545")
	t.Setenv("PRIVATE_KEY", "0x01")
	t.Setenv("MARKETPLACE_ADDRESS", "0x00000000000000000000000000000000000000aa")
	t.Setenv("REWARDS_ADDRESS", "0x00000000000000000000000000000000000000bb")

	cfg, err := Load()
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())

	cfg.Chain.PrivateKey = ""
	cfg.Auth.Type = "oauth"
	err = cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "PRIVATE_KEY")
	assert.Contains(t, err.Error(), "AUTH_TYPE")
}

func TestValidate_TimeoutsCoverSubmission(t *testing.T) {
	t.Setenv("CHAIN_RPC_URL", "http://localhost:8545")
	t.Setenv("PRIVATE_KEY", "0x01")
	t.Setenv("MARKETPLACE_ADDRESS", "0x00000000000000000000000000000000000000aa")
	t.Setenv("REWARDS_ADDRESS", "0x00000000000000000000000000000000000000bb")

	cfg, err := Load()
	require.NoError(t, err)
	// 10s classifier + 2 * (3*15s + 120s)
	assert.Equal(t, 340*time.Second, cfg.SubmissionBudget())
	assert.Greater(t, time.Duration(cfg.Server.RequestTimeout)*time.Second, cfg.SubmissionBudget())

	cfg.Server.RequestTimeout = 140
	cfg.Server.WriteTimeout = 150
	err = cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "SERVER_REQUEST_TIMEOUT")
	assert.Contains(t, err.Error(), "SERVER_WRITE_TIMEOUT")

	cfg.Server.RequestTimeout = 0
	cfg.Server.WriteTimeout = 0
	assert.NoError(t, cfg.Validate(), "zero disables both limits")

	t.Setenv("CHAIN_RECEIPT_TIMEOUT_SECONDS", "60")
	cfg, err = Load()
	require.NoError(t, err)
	assert.NoError(t, cfg.Validate())
}
