package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"lotledger/internal/adapters/logger"
	"lotledger/internal/domain"
)

var configKeys = []string{
	"LEDGER_CONFIG_FILE", "DB_DRIVER", "DB_PATH", "DATABASE_URL", "LOCK_TIMEOUT_MS",
	"DB_MAX_OPEN_CONNS", "DEFAULT_POLICY", "LOG_LEVEL", "LOG_FORMAT", "TRACING_ENABLED",
}

// clearEnv blanks every key the loader reads; empty values fall back to defaults.
func clearEnv(t *testing.T) {
	t.Helper()
	for _, k := range configKeys {
		t.Setenv(k, "")
	}
}

func TestLoadConfig_Defaults(t *testing.T) {
	clearEnv(t)

	cfg, err := LoadConfig()
	require.NoError(t, err)
	assert.Equal(t, DriverSQLite, cfg.DBDriver)
	assert.Equal(t, "./data/lotledger.db", cfg.DBPath)
	assert.Equal(t, 5*time.Second, cfg.LockTimeout)
	assert.Equal(t, 4, cfg.MaxOpenConns)
	assert.Equal(t, domain.FIFO, cfg.DefaultPolicy)
	assert.Equal(t, logger.LevelInfo, cfg.LogLevel)
	assert.Equal(t, "text", cfg.LogFormat)
	assert.False(t, cfg.TracingEnabled)
}

func TestLoadConfig_Env(t *testing.T) {
	clearEnv(t)
	t.Setenv("DB_DRIVER", "postgres")
	t.Setenv("DATABASE_URL", "postgres://ledger@localhost/ledger")
	t.Setenv("LOCK_TIMEOUT_MS", "750")
	t.Setenv("DEFAULT_POLICY", "lifo")
	t.Setenv("LOG_LEVEL", "debug")
	t.Setenv("LOG_FORMAT", "JSON")
	t.Setenv("TRACING_ENABLED", "true")

	cfg, err := LoadConfig()
	require.NoError(t, err)
	assert.Equal(t, DriverPostgres, cfg.DBDriver)
	assert.Equal(t, 750*time.Millisecond, cfg.LockTimeout)
	assert.Equal(t, domain.LIFO, cfg.DefaultPolicy)
	assert.Equal(t, logger.LevelDebug, cfg.LogLevel)
	assert.Equal(t, "json", cfg.LogFormat)
	assert.True(t, cfg.TracingEnabled)
}

func TestLoadConfig_ValidationErrors(t *testing.T) {
	tests := []struct {
		name string
		env  map[string]string
		want string
	}{
		{"unknown driver", map[string]string{"DB_DRIVER": "mysql"}, "DB_DRIVER"},
		{"postgres without url", map[string]string{"DB_DRIVER": "postgres"}, "DATABASE_URL"},
		{"bad lock timeout", map[string]string{"LOCK_TIMEOUT_MS": "soon"}, "LOCK_TIMEOUT_MS"},
		{"zero lock timeout", map[string]string{"LOCK_TIMEOUT_MS": "0"}, "LOCK_TIMEOUT_MS must be positive"},
		{"bad policy", map[string]string{"DEFAULT_POLICY": "HIFO"}, "DEFAULT_POLICY"},
		{"bad log format", map[string]string{"LOG_FORMAT": "xml"}, "LOG_FORMAT"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			clearEnv(t)
			for k, v := range tt.env {
				t.Setenv(k, v)
			}
			_, err := LoadConfig()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestLoadConfig_FileOverlay(t *testing.T) {
	clearEnv(t)
	path := filepath.Join(t.TempDir(), "ledger.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
database:
  path: /var/lib/lotledger/ledger.db
  lock_timeout_ms: 2000
ledger:
  default_policy: LIFO
log:
  level: warn
tracing:
  enabled: true
`), 0o644))
	t.Setenv("LEDGER_CONFIG_FILE", path)
	t.Setenv("LOCK_TIMEOUT_MS", "300")

	cfg, err := LoadConfig()
	require.NoError(t, err)
	assert.Equal(t, "/var/lib/lotledger/ledger.db", cfg.DBPath)
	assert.Equal(t, 300*time.Millisecond, cfg.LockTimeout, "environment wins over the file")
	assert.Equal(t, domain.LIFO, cfg.DefaultPolicy)
	assert.Equal(t, logger.LevelWarn, cfg.LogLevel)
	assert.True(t, cfg.TracingEnabled)
}

func TestLoadConfig_MissingFile(t *testing.T) {
	clearEnv(t)
	t.Setenv("LEDGER_CONFIG_FILE", filepath.Join(t.TempDir(), "absent.yaml"))
	_, err := LoadConfig()
	assert.Error(t, err)
}
