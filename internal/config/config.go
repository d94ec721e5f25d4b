// Package config loads process configuration from the environment.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Store drivers.
const (
	DriverFile     = "file"
	DriverPostgres = "postgres"
)

// Config is the process configuration.
type Config struct {
	Env      string
	Port     string
	LogLevel string

	DataDir      string
	StoreDriver  string
	DatabaseURL  string
	SettingsFile string
	CatalogFiles []string

	ProviderAuthURL      string
	ProviderBaseURL      string
	ProviderSandboxURL   string
	ProviderRatePerSec   float64
	ArtifactPollAttempts int
	ArtifactPollInterval time.Duration

	// WorkerEnabled runs the emission worker inside the API process.
	// Disable it when cmd/worker drains the pool instead.
	WorkerEnabled   bool
	WorkerInterval  time.Duration
	WorkerBatchSize int
	ClaimTTL        time.Duration

	RemoteSyncURL   string
	RemoteSyncToken string
	// EmitReceived makes this node emit pending entries replicated to it.
	EmitReceived bool
	// PeerTokenHash is the bcrypt hash accepted on /fiscal/receive.
	PeerTokenHash string
	// JWTSecret enables bearer auth on the admin API when set.
	JWTSecret string

	LegacySnapshotVersion int

	// Fallback emitters used when the settings file has no routing section.
	DefaultNFCeCNPJ string
	DefaultNFSeCNPJ string
}

// Development reports whether the process runs in development mode.
func (c *Config) Development() bool { return c.Env == "development" }

// PoolPath is the fiscal pool JSON file of the file driver.
func (c *Config) PoolPath() string { return filepath.Join(c.DataDir, "fiscal", "pool.json") }

// Load reads .env files (when present) and the environment.
// Variables already set in the environment take precedence.
func Load(envFiles ...string) (*Config, error) {
	if len(envFiles) == 0 {
		envFiles = []string{".env"}
	}
	for _, f := range envFiles {
		if err := godotenv.Load(f); err != nil && !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("load %s: %w", f, err)
		}
	}

	var p parser
	dataDir := getEnv("DATA_DIR", "data")
	cfg := &Config{
		Env:      getEnv("APP_ENV", "development"),
		Port:     getEnv("APP_PORT", "8080"),
		LogLevel: getEnv("LOG_LEVEL", "info"),

		DataDir:      dataDir,
		StoreDriver:  getEnv("STORE_DRIVER", DriverFile),
		DatabaseURL:  getEnv("DATABASE_URL", ""),
		SettingsFile: getEnv("FISCAL_SETTINGS_FILE", filepath.Join(dataDir, "fiscal", "integrations.json")),
		CatalogFiles: filepath.SplitList(getEnv("CATALOG_FILE", filepath.Join(dataDir, "products.json"))),

		ProviderAuthURL:      getEnv("PROVIDER_AUTH_URL", "https://auth.nuvemfiscal.com.br/oauth/token"),
		ProviderBaseURL:      getEnv("PROVIDER_BASE_URL", "https://api.nuvemfiscal.com.br"),
		ProviderSandboxURL:   getEnv("PROVIDER_SANDBOX_URL", "https://api.sandbox.nuvemfiscal.com.br"),
		ProviderRatePerSec:   p.float("PROVIDER_RATE_PER_SEC", 5),
		ArtifactPollAttempts: p.int("ARTIFACT_POLL_ATTEMPTS", 5),
		ArtifactPollInterval: p.duration("ARTIFACT_POLL_INTERVAL", 2*time.Second),

		WorkerEnabled:   p.bool("WORKER_ENABLED", true),
		EmitReceived:    p.bool("EMIT_RECEIVED", false),
		WorkerInterval:  p.duration("WORKER_INTERVAL", 10*time.Second),
		WorkerBatchSize: p.int("WORKER_BATCH_SIZE", 10),
		ClaimTTL:        p.duration("CLAIM_TTL", 5*time.Minute),

		RemoteSyncURL:   getEnv("REMOTE_SYNC_URL", ""),
		RemoteSyncToken: getEnv("REMOTE_SYNC_TOKEN", ""),
		PeerTokenHash:   getEnv("PEER_TOKEN_HASH", ""),
		JWTSecret:       getEnv("JWT_SECRET", ""),

		LegacySnapshotVersion: p.int("LEGACY_SNAPSHOT_VERSION", 2),

		DefaultNFCeCNPJ: getEnv("DEFAULT_NFCE_CNPJ", ""),
		DefaultNFSeCNPJ: getEnv("DEFAULT_NFSE_CNPJ", ""),
	}
	if p.err != nil {
		return nil, p.err
	}
	return cfg, cfg.Validate()
}

// Validate checks cross-field constraints.
func (c *Config) Validate() error {
	switch c.StoreDriver {
	case DriverFile:
	case DriverPostgres:
		if c.DatabaseURL == "" {
			return errors.New("DATABASE_URL is required when STORE_DRIVER=postgres")
		}
	default:
		return fmt.Errorf("unknown STORE_DRIVER %q", c.StoreDriver)
	}
	if c.WorkerBatchSize < 1 {
		return fmt.Errorf("WORKER_BATCH_SIZE must be positive, got %d", c.WorkerBatchSize)
	}
	if c.ArtifactPollAttempts < 1 {
		return fmt.Errorf("ARTIFACT_POLL_ATTEMPTS must be positive, got %d", c.ArtifactPollAttempts)
	}
	if c.RemoteSyncURL != "" && c.RemoteSyncToken == "" {
		return errors.New("REMOTE_SYNC_TOKEN is required when REMOTE_SYNC_URL is set")
	}
	return nil
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok && value != "" {
		return value
	}
	return fallback
}

// parser keeps the first conversion error.
type parser struct {
	err error
}

func (p *parser) int(key string, fallback int) int {
	raw := getEnv(key, "")
	if raw == "" {
		return fallback
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		p.fail(key, raw, err)
		return fallback
	}
	return v
}

func (p *parser) bool(key string, fallback bool) bool {
	raw := getEnv(key, "")
	if raw == "" {
		return fallback
	}
	v, err := strconv.ParseBool(raw)
	if err != nil {
		p.fail(key, raw, err)
		return fallback
	}
	return v
}

func (p *parser) float(key string, fallback float64) float64 {
	raw := getEnv(key, "")
	if raw == "" {
		return fallback
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		p.fail(key, raw, err)
		return fallback
	}
	return v
}

func (p *parser) duration(key string, fallback time.Duration) time.Duration {
	raw := getEnv(key, "")
	if raw == "" {
		return fallback
	}
	v, err := time.ParseDuration(raw)
	if err != nil {
		p.fail(key, raw, err)
		return fallback
	}
	return v
}

func (p *parser) fail(key, raw string, err error) {
	if p.err == nil {
		p.err = fmt.Errorf("invalid %s %q: %w", key, raw, err)
	}
}
