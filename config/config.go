package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"lotledger/internal/adapters/logger" // Import the logger package for LogLevel
	"lotledger/internal/domain"
)

// Supported storage drivers.
const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

// Config holds all application configuration.
type Config struct {
	// Database
	DBDriver     string        // sqlite or postgres
	DBPath       string        // SQLite file
	DatabaseURL  string        // PostgreSQL connection string
	LockTimeout  time.Duration // Bound on waiting for another unit's locks
	MaxOpenConns int

	// Ledger
	DefaultPolicy domain.AllocationPolicy // Used for imported sells without a method

	// Logging
	LogLevel  logger.LogLevel // Use the LogLevel type from the logger adapter
	LogFormat string          // text or json

	// Tracing
	TracingEnabled bool
}

// fileConfig is the optional YAML file named by LEDGER_CONFIG_FILE.
// Its values act as defaults; environment variables take precedence.
type fileConfig struct {
	Database struct {
		Driver        string `yaml:"driver"`
		Path          string `yaml:"path"`
		URL           string `yaml:"url"`
		LockTimeoutMS int    `yaml:"lock_timeout_ms"`
		MaxOpenConns  int    `yaml:"max_open_conns"`
	} `yaml:"database"`
	Ledger struct {
		DefaultPolicy string `yaml:"default_policy"`
	} `yaml:"ledger"`
	Log struct {
		Level  string `yaml:"level"`
		Format string `yaml:"format"`
	} `yaml:"log"`
	Tracing struct {
		Enabled *bool `yaml:"enabled"`
	} `yaml:"tracing"`
}

func loadFile(path string) (*fileConfig, error) {
	fc := &fileConfig{}
	if path == "" {
		return fc, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file '%s': %w", path, err)
	}
	if err := yaml.Unmarshal(data, fc); err != nil {
		return nil, fmt.Errorf("failed to parse config file '%s': %w", path, err)
	}
	return fc, nil
}

// LoadConfig loads configuration from the optional YAML file and environment variables (.env file).
func LoadConfig() (*Config, error) {
	// Load .env file, but don't fail if it doesn't exist (allow pure env vars)
	_ = godotenv.Load()

	fc, err := loadFile(os.Getenv("LEDGER_CONFIG_FILE"))
	if err != nil {
		return nil, err
	}

	cfg := &Config{}
	var errs []string // Collect validation errors

	// Database
	cfg.DBDriver = strings.ToLower(getEnv("DB_DRIVER", orDefault(fc.Database.Driver, DriverSQLite)))
	cfg.DBPath = getEnv("DB_PATH", orDefault(fc.Database.Path, "./data/lotledger.db"))
	cfg.DatabaseURL = getEnv("DATABASE_URL", fc.Database.URL)
	switch cfg.DBDriver {
	case DriverSQLite:
		if cfg.DBPath == "" {
			errs = append(errs, "DB_PATH must be set")
		}
	case DriverPostgres:
		if cfg.DatabaseURL == "" {
			errs = append(errs, "DATABASE_URL must be set when DB_DRIVER=postgres")
		}
	default:
		errs = append(errs, fmt.Sprintf("DB_DRIVER must be %q or %q, got %q", DriverSQLite, DriverPostgres, cfg.DBDriver))
	}

	lockTimeoutMS, err := getEnvAsIntRequired("LOCK_TIMEOUT_MS", orDefaultInt(fc.Database.LockTimeoutMS, 5000))
	if err != nil {
		errs = append(errs, fmt.Sprintf("invalid LOCK_TIMEOUT_MS: %v", err))
	} else if lockTimeoutMS <= 0 {
		errs = append(errs, "LOCK_TIMEOUT_MS must be positive")
	}
	cfg.LockTimeout = time.Duration(lockTimeoutMS) * time.Millisecond

	cfg.MaxOpenConns, err = getEnvAsIntRequired("DB_MAX_OPEN_CONNS", orDefaultInt(fc.Database.MaxOpenConns, 4))
	if err != nil {
		errs = append(errs, fmt.Sprintf("invalid DB_MAX_OPEN_CONNS: %v", err))
	} else if cfg.MaxOpenConns <= 0 {
		errs = append(errs, "DB_MAX_OPEN_CONNS must be positive")
	}

	// Ledger
	policy, err := domain.ParseAllocationPolicy(getEnv("DEFAULT_POLICY", orDefault(fc.Ledger.DefaultPolicy, string(domain.FIFO))))
	if err != nil {
		errs = append(errs, fmt.Sprintf("invalid DEFAULT_POLICY: %v", err))
	}
	cfg.DefaultPolicy = policy

	// Logging
	logLevelStr := getEnv("LOG_LEVEL", orDefault(fc.Log.Level, "INFO"))
	cfg.LogLevel = logger.ParseLevel(logLevelStr) // Use the parser from the logger package
	cfg.LogFormat = strings.ToLower(getEnv("LOG_FORMAT", orDefault(fc.Log.Format, "text")))
	if cfg.LogFormat != "text" && cfg.LogFormat != "json" {
		errs = append(errs, "LOG_FORMAT must be text or json")
	}

	// Tracing
	tracingDefault := false
	if fc.Tracing.Enabled != nil {
		tracingDefault = *fc.Tracing.Enabled
	}
	cfg.TracingEnabled = getEnvAsBool("TRACING_ENABLED", tracingDefault)

	// Combine validation errors
	if len(errs) > 0 {
		return nil, fmt.Errorf("configuration validation failed: %s", strings.Join(errs, "; "))
	}

	return cfg, nil
}

// --- Env Var Helpers ---

func getEnv(key, defaultValue string) string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	return value
}

func getEnvAsIntRequired(key string, defaultValue int) (int, error) {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		// Use default if env var is not set at all
		return defaultValue, nil
	}
	value, err := strconv.Atoi(valueStr)
	if err != nil {
		// Return error if env var is set but invalid
		return 0, fmt.Errorf("invalid integer value '%s' for key %s: %w", valueStr, key, err)
	}
	return value, nil
}

func getEnvAsBool(key string, defaultValue bool) bool {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.ParseBool(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

func orDefault(value, def string) string {
	if value == "" {
		return def
	}
	return value
}

func orDefaultInt(value, def int) int {
	if value == 0 {
		return def
	}
	return value
}
