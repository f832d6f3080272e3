package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all configuration for the server
type Config struct {
	Server     ServerConfig
	Storage    StorageConfig
	Auth       AuthConfig
	Logging    LoggingConfig
	RateLimit  RateLimitConfig
	Security   SecurityConfig
	Proxy      ProxyConfig
	CORS       CORSConfig
	Metrics    MetricsConfig
	Tracing    TracingConfig
	Classifier ClassifierConfig
	Chain      ChainConfig
	Evidence   EvidenceConfig
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Port           int
	Host           string
	ReadTimeout    int // seconds
	WriteTimeout   int // seconds
	IdleTimeout    int // seconds
	RequestTimeout int // seconds
}

// StorageConfig holds storage configuration
type StorageConfig struct {
	Type     string // "sqlite" or "postgres"
	Postgres PostgresConfig
	SQLite   SQLiteConfig
}

// PostgresConfig holds Postgres connection settings
type PostgresConfig struct {
	URL string
}

// SQLiteConfig holds SQLite settings
type SQLiteConfig struct {
	Path string
}

// AuthConfig holds authentication settings
type AuthConfig struct {
	Type string // "none" or "api-key"
}

// LoggingConfig holds logging settings
type LoggingConfig struct {
	Level  string
	Format string // "text" or "json"
}

// RateLimitConfig holds rate limiting settings.
// SubmitRPM applies to the report submission endpoints on top of the
// global per-IP limit. When RedisURL is set the submission limit is shared
// across replicas.
type RateLimitConfig struct {
	Enabled        bool
	RequestsPerMin int
	BurstSize      int
	CleanupMinutes int
	SubmitRPM      int
	SubmitBurst    int
	RedisURL       string
}

// SecurityConfig holds request hardening settings
type SecurityConfig struct {
	FilterEnabled bool
	MaxBodySizeKB int
}

// ProxyConfig holds trusted proxy settings for X-Forwarded-For handling
type ProxyConfig struct {
	TrustProxy     bool
	TrustedProxies []string // CIDR notation
}

// CORSConfig holds cross-origin settings for the browser frontend
type CORSConfig struct {
	AllowedOrigins []string
}

// MetricsConfig holds prometheus settings
type MetricsConfig struct {
	Enabled     bool
	ServiceName string
}

// TracingConfig holds OpenTelemetry settings
type TracingConfig struct {
	Enabled      bool
	OTLPEndpoint string
	Insecure     bool
	SampleRate   float64
	Environment  string
}

// ClassifierConfig holds the classification oracle endpoint
type ClassifierConfig struct {
	URL            string
	TimeoutSeconds int
}

// ChainConfig holds ledger and rewards contract settings
type ChainConfig struct {
	RPCURL                string
	ChainID               int64
	PrivateKey            string
	MarketplaceAddress    string
	RewardsAddress        string
	MarketplaceCodeHash   string // optional keccak256 of the expected runtime code
	SubmitGasLimit        uint64
	StatusGasLimit        uint64
	RewardGasLimit        uint64
	CallTimeoutSeconds    int
	ReceiptTimeoutSeconds int
}

// EvidenceConfig selects fingerprint schemes
type EvidenceConfig struct {
	SelfReportScheme string
}

// Load loads configuration from environment variables. A .env file in the
// working directory is read first when present; real environment variables
// take precedence over it.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("loading .env: %w", err)
	}

	cfg := &Config{
		Server: ServerConfig{
			Port:           getEnvInt("PORT", 3001),
			Host:           getEnv("HOST", "0.0.0.0"),
			ReadTimeout:    getEnvInt("SERVER_READ_TIMEOUT", 30),
			WriteTimeout:   getEnvInt("SERVER_WRITE_TIMEOUT", 375),
			IdleTimeout:    getEnvInt("SERVER_IDLE_TIMEOUT", 120),
			RequestTimeout: getEnvInt("SERVER_REQUEST_TIMEOUT", 360),
		},
		Storage: StorageConfig{
			Type: getEnv("STORAGE_TYPE", "sqlite"),
			Postgres: PostgresConfig{
				URL: getEnv("DATABASE_URL", ""),
			},
			SQLite: SQLiteConfig{
				Path: getEnv("SQLITE_PATH", "./data/reportchain.db"),
			},
		},
		Auth: AuthConfig{
			Type: getEnv("AUTH_TYPE", "none"),
		},
		Logging: LoggingConfig{
			Level:  getEnv("LOG_LEVEL", "info"),
			Format: getEnv("LOG_FORMAT", "json"),
		},
		RateLimit: RateLimitConfig{
			Enabled:        getEnvBool("RATE_LIMIT_ENABLED", true),
			RequestsPerMin: getEnvInt("RATE_LIMIT_RPM", 300),
			BurstSize:      getEnvInt("RATE_LIMIT_BURST", 50),
			CleanupMinutes: getEnvInt("RATE_LIMIT_CLEANUP_MINUTES", 10),
			SubmitRPM:      getEnvInt("RATE_LIMIT_SUBMIT_RPM", 20),
			SubmitBurst:    getEnvInt("RATE_LIMIT_SUBMIT_BURST", 5),
			RedisURL:       getEnv("REDIS_URL", ""),
		},
		Security: SecurityConfig{
			FilterEnabled: getEnvBool("SECURITY_FILTER_ENABLED", true),
			MaxBodySizeKB: getEnvInt("SECURITY_MAX_BODY_SIZE_KB", 64),
		},
		Proxy: ProxyConfig{
			TrustProxy:     getEnvBool("TRUST_PROXY", false),
			TrustedProxies: getEnvStringSlice("TRUSTED_PROXIES", []string{"10.0.0.0/8", "172.16.0.0/12", "192.168.0.0/16"}),
		},
		CORS: CORSConfig{
			AllowedOrigins: getEnvStringSlice("CORS_ALLOWED_ORIGINS", []string{"http://localhost:5173"}),
		},
		Metrics: MetricsConfig{
			Enabled:     getEnvBool("METRICS_ENABLED", true),
			ServiceName: getEnv("METRICS_SERVICE_NAME", "reportchain"),
		},
		Tracing: TracingConfig{
			Enabled:      getEnvBool("TRACING_ENABLED", false),
			OTLPEndpoint: getEnv("OTEL_EXPORTER_OTLP_ENDPOINT", "localhost:4317"),
			Insecure:     getEnvBool("OTEL_EXPORTER_OTLP_INSECURE", false),
			SampleRate:   getEnvFloat("TRACING_SAMPLE_RATE", 1.0),
			Environment:  getEnv("ENVIRONMENT", "development"),
		},
		Classifier: ClassifierConfig{
			URL:            getEnv("CLASSIFIER_URL", "http://localhost:5000/predict"),
			TimeoutSeconds: getEnvInt("CLASSIFIER_TIMEOUT_SECONDS", 10),
		},
		Chain: ChainConfig{
			RPCURL:                getEnvFirst([]string{"CHAIN_RPC_URL", "ALCHEMY_URL"}, ""),
			ChainID:               int64(getEnvInt("CHAIN_ID", 11155111)),
			PrivateKey:            getEnv("PRIVATE_KEY", ""),
			MarketplaceAddress:    getEnvFirst([]string{"MARKETPLACE_ADDRESS", "CONTRACT_ADDRESS"}, ""),
			RewardsAddress:        getEnv("REWARDS_ADDRESS", ""),
			MarketplaceCodeHash:   getEnv("MARKETPLACE_CODE_HASH", ""),
			SubmitGasLimit:        getEnvUint64("CHAIN_SUBMIT_GAS_LIMIT", 300000),
			StatusGasLimit:        getEnvUint64("CHAIN_STATUS_GAS_LIMIT", 100000),
			RewardGasLimit:        getEnvUint64("CHAIN_REWARD_GAS_LIMIT", 300000),
			CallTimeoutSeconds:    getEnvInt("CHAIN_CALL_TIMEOUT_SECONDS", 15),
			ReceiptTimeoutSeconds: getEnvInt("CHAIN_RECEIPT_TIMEOUT_SECONDS", 120),
		},
		Evidence: EvidenceConfig{
			SelfReportScheme: getEnv("SELF_REPORT_EVIDENCE_SCHEME", "ascii-padded"),
		},
	}

	// If DATABASE_URL is set, default to postgres
	if cfg.Storage.Postgres.URL != "" && cfg.Storage.Type == "sqlite" {
		cfg.Storage.Type = "postgres"
	}

	return cfg, nil
}

// Validate reports settings the server cannot start without.
func (c *Config) Validate() error {
	var errs []error
	if c.Chain.RPCURL == "" {
		errs = append(errs, errors.New("CHAIN_RPC_URL (or ALCHEMY_URL) is required"))
	}
	if c.Chain.PrivateKey == "" {
		errs = append(errs, errors.New("PRIVATE_KEY is required"))
	}
	if c.Chain.MarketplaceAddress == "" {
		errs = append(errs, errors.New("MARKETPLACE_ADDRESS (or CONTRACT_ADDRESS) is required"))
	}
	if c.Chain.RewardsAddress == "" {
		errs = append(errs, errors.New("REWARDS_ADDRESS is required"))
	}
	if c.Chain.ChainID <= 0 {
		errs = append(errs, fmt.Errorf("CHAIN_ID must be positive, got %d", c.Chain.ChainID))
	}
	if c.Classifier.TimeoutSeconds <= 0 || c.Chain.CallTimeoutSeconds <= 0 || c.Chain.ReceiptTimeoutSeconds <= 0 {
		errs = append(errs, errors.New("timeouts must be positive"))
	}
	budget := int(c.SubmissionBudget() / time.Second)
	if c.Server.RequestTimeout > 0 && c.Server.RequestTimeout < budget {
		errs = append(errs, fmt.Errorf("SERVER_REQUEST_TIMEOUT (%ds) is shorter than the %ds a self-report can take", c.Server.RequestTimeout, budget))
	}
	if c.Server.WriteTimeout > 0 && (c.Server.WriteTimeout <= budget || c.Server.WriteTimeout <= c.Server.RequestTimeout) {
		errs = append(errs, fmt.Errorf("SERVER_WRITE_TIMEOUT (%ds) must exceed the request timeout and the %ds submission budget", c.Server.WriteTimeout, budget))
	}
	switch c.Storage.Type {
	case "sqlite", "postgres":
	default:
		errs = append(errs, fmt.Errorf("unsupported STORAGE_TYPE %q", c.Storage.Type))
	}
	switch c.Auth.Type {
	case "none", "api-key":
	default:
		errs = append(errs, fmt.Errorf("unsupported AUTH_TYPE %q", c.Auth.Type))
	}
	return errors.Join(errs...)
}

// SubmissionBudget is the longest a self-report can run: the classifier
// call, then two transactions. Each transaction spends up to a call timeout
// on simulation, on signing and on the broadcast, then waits for its receipt.
func (c *Config) SubmissionBudget() time.Duration {
	tx := 3*c.Chain.CallTimeoutSeconds + c.Chain.ReceiptTimeoutSeconds
	return time.Duration(c.Classifier.TimeoutSeconds+2*tx) * time.Second
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvFirst returns the first non-empty variable, so legacy names keep working.
func getEnvFirst(keys []string, defaultValue string) string {
	for _, key := range keys {
		if value := os.Getenv(key); value != "" {
			return value
		}
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.Atoi(value); err == nil {
			return i
		}
	}
	return defaultValue
}

func getEnvUint64(key string, defaultValue uint64) uint64 {
	if value := os.Getenv(key); value != "" {
		if u, err := strconv.ParseUint(value, 10, 64); err == nil {
			return u
		}
	}
	return defaultValue
}

func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		return strings.ToLower(value) == "true" || value == "1"
	}
	return defaultValue
}

func getEnvStringSlice(key string, defaultValue []string) []string {
	if value := os.Getenv(key); value != "" {
		parts := strings.Split(value, ",")
		result := make([]string, 0, len(parts))
		for _, p := range parts {
			if trimmed := strings.TrimSpace(p); trimmed != "" {
				result = append(result, trimmed)
			}
		}
		if len(result) > 0 {
			return result
		}
	}
	return defaultValue
}
