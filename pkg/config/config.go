package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joeshaw/envdecode"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// ServerConfig controls the inbound job-submission HTTP API.
type ServerConfig struct {
	Host         string `json:"host" env:"SERVER_HOST"`
	Port         int    `json:"port" env:"SERVER_PORT"`
	SharedSecret string `json:"shared_secret" env:"SERVER_SHARED_SECRET"`
}

// DatabaseConfig controls persistence.
type DatabaseConfig struct {
	Driver          string `json:"driver" env:"DATABASE_DRIVER"`
	DSN             string `json:"dsn" env:"DATABASE_DSN"`
	Host            string `json:"host" env:"DATABASE_HOST"`
	Port            int    `json:"port" env:"DATABASE_PORT"`
	User            string `json:"user" env:"DATABASE_USER"`
	Password        string `json:"password" env:"DATABASE_PASSWORD"`
	Name            string `json:"name" env:"DATABASE_NAME"`
	SSLMode         string `json:"sslmode" env:"DATABASE_SSLMODE"`
	MaxOpenConns    int    `json:"max_open_conns" env:"DATABASE_MAX_OPEN_CONNS"`
	MaxIdleConns    int    `json:"max_idle_conns" env:"DATABASE_MAX_IDLE_CONNS"`
	ConnMaxLifetime int    `json:"conn_max_lifetime" env:"DATABASE_CONN_MAX_LIFETIME"`
	MigrateOnStart  bool   `json:"migrate_on_start" yaml:"migrate_on_start" env:"DATABASE_MIGRATE_ON_START"`
}

// LoggingConfig controls application logging.
type LoggingConfig struct {
	Level      string `json:"level" env:"LOG_LEVEL"`
	Format     string `json:"format" env:"LOG_FORMAT"`
	Output     string `json:"output" env:"LOG_OUTPUT"`
	FilePrefix string `json:"file_prefix" env:"LOG_FILE_PREFIX"`
}

// EngineConfig controls ingestion-engine-wide defaults that individual
// adapters may override.
type EngineConfig struct {
	DefaultMaxConcurrency   int    `json:"default_max_concurrency" env:"ENGINE_DEFAULT_MAX_CONCURRENCY"`
	DefaultMaxRetries       int    `json:"default_max_retries" env:"ENGINE_DEFAULT_MAX_RETRIES"`
	DefaultRateLimitMillis  int    `json:"default_rate_limit_ms" env:"ENGINE_DEFAULT_RATE_LIMIT_MS"`
	DefaultConnectTimeoutMs int    `json:"default_connect_timeout_ms" env:"ENGINE_DEFAULT_CONNECT_TIMEOUT_MS"`
	DefaultTotalTimeoutMs   int    `json:"default_total_timeout_ms" env:"ENGINE_DEFAULT_TOTAL_TIMEOUT_MS"`
	MaxConcurrentTargets    int    `json:"max_concurrent_targets" env:"ENGINE_MAX_CONCURRENT_TARGETS"`
	BatchSize               int    `json:"batch_size" env:"ENGINE_BATCH_SIZE"`
	ExportDir               string `json:"export_dir" env:"ENGINE_EXPORT_DIR"`
	RuleSeederMinRows       int64  `json:"rule_seeder_min_rows" env:"ENGINE_RULE_SEEDER_MIN_ROWS"`
	RuleSeederSkewCV        float64
	LPRegistryPath           string `json:"lp_registry_path" env:"ENGINE_LP_REGISTRY_PATH"`
	FORegistryPath           string `json:"fo_registry_path" env:"ENGINE_FO_REGISTRY_PATH"`
}

// SourcesConfig holds per-source API credentials, keyed by the adapter's
// source tag (e.g. "eia", "fred", "sec_edgar"). Resolved once at client
// construction time, never mutated afterward.
type SourcesConfig struct {
	APIKeys      map[string]string `json:"api_keys"`
	UserAgents   map[string]string `json:"user_agents"`
}

// RedisConfig configures the optional distributed rate-limit coordinator.
type RedisConfig struct {
	Addr     string `json:"addr" env:"REDIS_ADDR"`
	Password string `json:"password" env:"REDIS_PASSWORD"`
	DB       int    `json:"db" env:"REDIS_DB"`
}

// Config is the top-level configuration structure.
type Config struct {
	Server  ServerConfig  `json:"server"`
	Database DatabaseConfig `json:"database"`
	Logging LoggingConfig `json:"logging"`
	Engine  EngineConfig  `json:"engine"`
	Sources SourcesConfig `json:"sources"`
	Redis   RedisConfig   `json:"redis"`
}

// New returns a configuration populated with defaults.
func New() *Config {
	return &Config{
		Server: ServerConfig{
			Host: "0.0.0.0",
			Port: 8080,
		},
		Database: DatabaseConfig{
			Driver:          "postgres",
			MaxOpenConns:    10,
			MaxIdleConns:    5,
			ConnMaxLifetime: 300,
			MigrateOnStart:  true,
		},
		Logging: LoggingConfig{
			Level:      "info",
			Format:     "text",
			Output:     "stdout",
			FilePrefix: "ingestion-engine",
		},
		Engine: EngineConfig{
			DefaultMaxConcurrency:   3,
			DefaultMaxRetries:       3,
			DefaultRateLimitMillis:  0,
			DefaultConnectTimeoutMs: 10_000,
			DefaultTotalTimeoutMs:   60_000,
			MaxConcurrentTargets:    4,
			BatchSize:               1000,
			ExportDir:               "exports",
			RuleSeederMinRows:       50,
			RuleSeederSkewCV:        1.5,
			LPRegistryPath:          "registries/lp_targets.json",
			FORegistryPath:          "registries/fo_targets.json",
		},
		Sources: SourcesConfig{
			APIKeys:    map[string]string{},
			UserAgents: map[string]string{},
		},
	}
}

// ConnectionString builds a PostgreSQL connection string using host parameters.
func (c DatabaseConfig) ConnectionString() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Name, c.SSLMode,
	)
}

// ConnectTimeout returns the engine default connect timeout as a duration.
func (e EngineConfig) ConnectTimeout() time.Duration {
	return time.Duration(e.DefaultConnectTimeoutMs) * time.Millisecond
}

// TotalTimeout returns the engine default total timeout as a duration.
func (e EngineConfig) TotalTimeout() time.Duration {
	return time.Duration(e.DefaultTotalTimeoutMs) * time.Millisecond
}

// RateLimitInterval returns the engine default per-host rate-limit interval.
func (e EngineConfig) RateLimitInterval() time.Duration {
	return time.Duration(e.DefaultRateLimitMillis) * time.Millisecond
}

// Load loads configuration from file (if present) and environment variables.
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := New()

	if path := strings.TrimSpace(os.Getenv("CONFIG_FILE")); path != "" {
		if err := loadFromFile(path, cfg); err != nil {
			return nil, err
		}
	} else {
		_ = loadFromFile("configs/config.yaml", cfg)
	}

	if err := envdecode.Decode(cfg); err != nil {
		// envdecode returns an error when no tagged fields are present in the
		// environment; treat that case as "no overrides" so local runs work
		// without exporting vars.
		if !strings.Contains(err.Error(), "none of the target fields were set") {
			return nil, fmt.Errorf("decode env: %w", err)
		}
	}

	applyDatabaseURLOverride(cfg)
	applySourceAPIKeys(cfg)
	cfg.normalize()

	return cfg, nil
}

// LoadFile reads configuration from a YAML file.
func LoadFile(path string) (*Config, error) {
	cfg := New()
	if err := loadFromFile(path, cfg); err != nil {
		return nil, err
	}
	applyDatabaseURLOverride(cfg)
	applySourceAPIKeys(cfg)
	cfg.normalize()
	return cfg, nil
}

func loadFromFile(path string, cfg *Config) error {
	expanded, err := filepath.Abs(path)
	if err != nil {
		return err
	}
	data, err := os.ReadFile(expanded)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	var generic map[string]any
	if err := yaml.Unmarshal(data, &generic); err != nil {
		return err
	}
	// Re-encode as JSON so the file's keys follow the structs' json tags
	// (batch_size, max_concurrent_targets, ...).
	encoded, err := json.Marshal(generic)
	if err != nil {
		return err
	}
	return json.Unmarshal(encoded, cfg)
}

// LoadConfig loads configuration from a JSON file, applying the same
// DATABASE_URL and per-source API key overrides as Load.
func LoadConfig(path string) (*Config, error) {
	cfg := New()
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, err
	}
	applyDatabaseURLOverride(cfg)
	applySourceAPIKeys(cfg)
	cfg.normalize()
	return cfg, nil
}

// applyDatabaseURLOverride mirrors cmd/ingestion-server: DATABASE_URL overrides
// any file-based DSN to reduce setup friction in containerized deployments.
func applyDatabaseURLOverride(cfg *Config) {
	if cfg == nil {
		return
	}
	if dsn := strings.TrimSpace(os.Getenv("DATABASE_URL")); dsn != "" {
		cfg.Database.DSN = dsn
	}
}

// applySourceAPIKeys pulls SOURCE_<NAME>_API_KEY environment variables into
// cfg.Sources.APIKeys so adapters resolve their key without a config-file
// entry per source. This keeps secrets out of the YAML file entirely.
func applySourceAPIKeys(cfg *Config) {
	if cfg == nil {
		return
	}
	if cfg.Sources.APIKeys == nil {
		cfg.Sources.APIKeys = map[string]string{}
	}
	for _, env := range os.Environ() {
		kv := strings.SplitN(env, "=", 2)
		if len(kv) != 2 {
			continue
		}
		key, val := kv[0], kv[1]
		if !strings.HasPrefix(key, "SOURCE_") || !strings.HasSuffix(key, "_API_KEY") {
			continue
		}
		source := strings.ToLower(strings.TrimSuffix(strings.TrimPrefix(key, "SOURCE_"), "_API_KEY"))
		if source == "" || val == "" {
			continue
		}
		cfg.Sources.APIKeys[source] = val
	}
}

func (c *Config) normalize() {
	if c == nil {
		return
	}
	if c.Engine.DefaultMaxConcurrency <= 0 {
		c.Engine.DefaultMaxConcurrency = 3
	}
	if c.Engine.DefaultMaxRetries <= 0 {
		c.Engine.DefaultMaxRetries = 3
	}
	if c.Engine.MaxConcurrentTargets <= 0 {
		c.Engine.MaxConcurrentTargets = 4
	}
	if c.Engine.BatchSize <= 0 {
		c.Engine.BatchSize = 1000
	}
}
