// Package config loads runtime settings from the environment, optionally
// overlaid by a YAML file.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	DatabaseURL   string `yaml:"database_url"`
	AllowUnsigned bool   `yaml:"allow_unsigned"`
	BatchSize     int    `yaml:"batch_size"`
	MetricsAddr   string `yaml:"metrics_addr"`
	LogJSON       bool   `yaml:"log_json"`

	Ledger        LedgerConfig        `yaml:"ledger"`
	ObjectStore   ObjectStoreConfig   `yaml:"object_store"`
	Embedding     EmbeddingConfig     `yaml:"embedding"`
	Decomposition DecompositionConfig `yaml:"decomposition"`
}

type LedgerConfig struct {
	GatewayURL string `yaml:"gateway_url"`
	// Cache is "memory" or "redis".
	Cache    string `yaml:"cache"`
	RedisURL string `yaml:"redis_url"`
}

type ObjectStoreConfig struct {
	// Backend is "dev", "s3", or "ledger".
	Backend     string `yaml:"backend"`
	DevDir      string `yaml:"dev_dir"`
	S3Endpoint  string `yaml:"s3_endpoint"`
	S3Bucket    string `yaml:"s3_bucket"`
	S3AccessKey string `yaml:"s3_access_key"`
	S3SecretKey string `yaml:"s3_secret_key"`
	S3UseSSL    bool   `yaml:"s3_use_ssl"`
}

type EmbeddingConfig struct {
	APIKey      string        `yaml:"api_key"`
	Model       string        `yaml:"model"`
	Dimensions  int           `yaml:"dimensions"`
	MaxChars    int           `yaml:"max_chars"`
	BatchSize   int           `yaml:"batch_size"`
	Idle        time.Duration `yaml:"idle"`
	WorkerID    string        `yaml:"worker_id"`
	MaxAttempts int           `yaml:"max_attempts"`
}

type DecompositionConfig struct {
	BatchSize   int           `yaml:"batch_size"`
	Idle        time.Duration `yaml:"idle"`
	WorkerID    string        `yaml:"worker_id"`
	MaxAttempts int           `yaml:"max_attempts"`
}

// FromEnv reads every setting from the environment, falling back to
// defaults for unset or unparsable values.
func FromEnv() Config {
	return Config{
		DatabaseURL:   getenv("DATABASE_URL", getenv("WOFI_DATABASE_URL", "wofi.db")),
		AllowUnsigned: getenvBool("WOFI_INDEXER_ALLOW_UNSIGNED", getenvBool("WOFI_STORE_ALLOW_UNSIGNED", false)),
		BatchSize:     getenvInt("WOFI_INDEXER_BATCH_SIZE", 50),
		MetricsAddr:   getenv("WOFI_METRICS_ADDR", ""),
		LogJSON:       getenvBool("WOFI_LOG_JSON", false),
		Ledger: LedgerConfig{
			GatewayURL: getenv("ARWEAVE_GATEWAY_URL", "https://arweave.net"),
			Cache:      getenv("WOFI_LEDGER_CACHE", "memory"),
			RedisURL:   getenv("REDIS_URL", "redis://localhost:6379/0"),
		},
		ObjectStore: ObjectStoreConfig{
			Backend:     getenv("WOFI_STORE_BACKEND", "dev"),
			DevDir:      getenv("WOFI_DEVSTORE_DIR", ".wofi/objects"),
			S3Endpoint:  getenv("WOFI_S3_ENDPOINT", "localhost:9000"),
			S3Bucket:    getenv("WOFI_S3_BUCKET", "wofi"),
			S3AccessKey: getenv("WOFI_S3_ACCESS_KEY", ""),
			S3SecretKey: getenv("WOFI_S3_SECRET_KEY", ""),
			S3UseSSL:    getenvBool("WOFI_S3_USE_SSL", false),
		},
		Embedding: EmbeddingConfig{
			APIKey:      getenv("WOFI_OPENAI_API_KEY", getenv("OPENAI_API_KEY", "")),
			Model:       getenv("WOFI_EMBEDDING_MODEL", "text-embedding-3-large"),
			Dimensions:  getenvInt("WOFI_EMBEDDING_DIMENSIONS", 3072),
			MaxChars:    getenvInt("WOFI_EMBEDDING_MAX_CHARS", 8000),
			BatchSize:   getenvInt("WOFI_EMBEDDING_BATCH_SIZE", 1),
			Idle:        getenvDuration("WOFI_EMBEDDING_IDLE_MS", time.Second),
			WorkerID:    getenv("WOFI_EMBEDDING_WORKER_ID", ""),
			MaxAttempts: getenvInt("WOFI_EMBEDDING_MAX_ATTEMPTS", 5),
		},
		Decomposition: DecompositionConfig{
			BatchSize:   getenvInt("WOFI_DECOMPOSITION_BATCH_SIZE", 1),
			Idle:        getenvDuration("WOFI_DECOMPOSITION_IDLE_MS", time.Second),
			WorkerID:    getenv("WOFI_DECOMPOSITION_WORKER_ID", ""),
			MaxAttempts: getenvInt("WOFI_DECOMPOSITION_MAX_ATTEMPTS", 5),
		},
	}
}

// Load reads the environment and overlays the YAML file at path. An empty
// path falls back to WOFI_CONFIG; when both are empty only the environment
// is used. Keys present in the file win over the environment.
func Load(path string) (Config, error) {
	cfg := FromEnv()
	if path == "" {
		path = os.Getenv("WOFI_CONFIG")
	}
	if path == "" {
		return cfg, cfg.Validate()
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("parse config file %s: %w", path, err)
	}
	return cfg, cfg.Validate()
}

// Validate rejects settings no component can run with.
func (c Config) Validate() error {
	var problems []string
	if c.DatabaseURL == "" {
		problems = append(problems, "database_url is required")
	}
	if c.BatchSize <= 0 {
		problems = append(problems, "batch_size must be positive")
	}
	switch c.Ledger.Cache {
	case "memory", "redis":
	default:
		problems = append(problems, fmt.Sprintf("ledger.cache must be memory or redis, got %q", c.Ledger.Cache))
	}
	switch c.ObjectStore.Backend {
	case "dev", "s3", "ledger":
	default:
		problems = append(problems, fmt.Sprintf("object_store.backend must be dev, s3, or ledger, got %q", c.ObjectStore.Backend))
	}
	if c.Embedding.Dimensions <= 0 {
		problems = append(problems, "embedding.dimensions must be positive")
	}
	if c.Embedding.MaxChars <= 0 {
		problems = append(problems, "embedding.max_chars must be positive")
	}
	if len(problems) > 0 {
		return fmt.Errorf("invalid config: %s", strings.Join(problems, "; "))
	}
	return nil
}

func getenv(key, fallback string) string {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	return value
}

func getenvInt(key string, fallback int) int {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return fallback
	}
	return parsed
}

func getenvBool(key string, fallback bool) bool {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	parsed, err := strconv.ParseBool(value)
	if err != nil {
		return fallback
	}
	return parsed
}

// getenvDuration accepts a Go duration ("1.5s") or a bare integer of
// milliseconds.
func getenvDuration(key string, fallback time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	if ms, err := strconv.Atoi(value); err == nil {
		return time.Duration(ms) * time.Millisecond
	}
	parsed, err := time.ParseDuration(value)
	if err != nil {
		return fallback
	}
	return parsed
}
