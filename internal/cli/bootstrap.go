package cli

import (
	"context"
	"fmt"

	"lotledger/config"
	"lotledger/internal/adapters/logger"
	"lotledger/internal/adapters/postgres"
	"lotledger/internal/adapters/sqlite"
	"lotledger/internal/app"
	"lotledger/internal/ledger"
	"lotledger/internal/ports"
	"lotledger/internal/trace"
)

// Runtime is everything a command needs once the application is wired.
type Runtime struct {
	Config  *config.Config
	Logger  ports.Logger
	Service *app.LedgerService
	closers []func() error
}

// Close releases the runtime's resources in reverse order of acquisition.
func (r *Runtime) Close() {
	for i := len(r.closers) - 1; i >= 0; i-- {
		if err := r.closers[i](); err != nil {
			r.Logger.Error(context.Background(), err, "Error during shutdown")
		}
	}
}

// Bootstrap builds a Runtime. Commands receive it so tests can substitute their own wiring.
type Bootstrap func(ctx context.Context) (*Runtime, error)

// repository is what the service needs from a storage adapter.
type repository interface {
	ports.Store
	ports.QueryRepository
}

// DefaultBootstrap wires the application from configuration.
func DefaultBootstrap(ctx context.Context) (*Runtime, error) {
	// 1. Load Configuration
	cfg, err := config.LoadConfig()
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ports.ErrConfigurationError, err)
	}
	return Wire(ctx, cfg)
}

// Swapped in tests.
var (
	newLogger   = defaultLogger
	initTracing = trace.Init
)

// defaultLogger picks the logger adapter for cfg and returns its flush function, if any.
func defaultLogger(cfg *config.Config) (ports.Logger, func() error, error) {
	if cfg.LogFormat == "json" {
		zl, err := logger.NewZapLogger(cfg.LogLevel)
		if err != nil {
			return nil, nil, err
		}
		return zl, func() error { _ = zl.Sync(); return nil }, nil
	}
	return logger.NewStdLogger(cfg.LogLevel), nil, nil
}

// Wire builds a Runtime from an already loaded configuration.
// On failure everything acquired so far is released.
func Wire(ctx context.Context, cfg *config.Config) (_ *Runtime, err error) {
	// 2. Initialize Logger
	appLogger, flush, err := newLogger(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize logger: %w", err)
	}
	rt := &Runtime{Config: cfg, Logger: appLogger}
	if flush != nil {
		rt.closers = append(rt.closers, flush)
	}
	defer func() {
		if err != nil {
			rt.Close()
		}
	}()
	appLogger.Debug(ctx, "Logger initialized", map[string]interface{}{"level": cfg.LogLevel.String(), "format": cfg.LogFormat})

	// 3. Initialize Tracing
	if err := initTracing(cfg.TracingEnabled); err != nil {
		appLogger.Error(ctx, err, "Failed to initialize tracing")
		return nil, fmt.Errorf("failed to initialize tracing: %w", err)
	}
	rt.closers = append(rt.closers, func() error { return trace.Shutdown(context.Background()) })
	appLogger.Debug(ctx, "Tracing initialized", map[string]interface{}{"enabled": trace.Enabled()})

	// 4. Initialize Repository (Database Adapter)
	repo, err := openRepository(ctx, cfg, appLogger)
	if err != nil {
		appLogger.Error(ctx, err, "Failed to initialize database repository", map[string]interface{}{"driver": cfg.DBDriver})
		return nil, err
	}
	rt.closers = append(rt.closers, repo.Close)
	appLogger.Debug(ctx, "Database repository initialized", map[string]interface{}{"driver": cfg.DBDriver})

	// 5. Initialize Ledger and Application Service
	l, err := ledger.New(appLogger)
	if err != nil {
		return nil, err
	}
	svc, err := app.NewLedgerService(appLogger, repo, repo, l)
	if err != nil {
		return nil, err
	}
	rt.Service = svc
	return rt, nil
}

func openRepository(ctx context.Context, cfg *config.Config, log ports.Logger) (repository, error) {
	switch cfg.DBDriver {
	case config.DriverPostgres:
		return postgres.NewRepository(ctx, postgres.Config{
			DatabaseURL: cfg.DatabaseURL,
			Logger:      log,
			LockTimeout: cfg.LockTimeout,
			MaxConns:    int32(cfg.MaxOpenConns),
		})
	case config.DriverSQLite:
		return sqlite.NewRepository(sqlite.Config{
			DBPath:       cfg.DBPath,
			Logger:       log,
			LockTimeout:  cfg.LockTimeout,
			MaxOpenConns: cfg.MaxOpenConns,
		})
	default:
		return nil, fmt.Errorf("%w: unsupported DB_DRIVER %q", ports.ErrConfigurationError, cfg.DBDriver)
	}
}
