package cli

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/redis/go-redis/v9"

	"github.com/roach88/safeguard/internal/audit"
	"github.com/roach88/safeguard/internal/clock"
	"github.com/roach88/safeguard/internal/config"
	"github.com/roach88/safeguard/internal/ledger"
	"github.com/roach88/safeguard/internal/risk"
	"github.com/roach88/safeguard/internal/store"
)

// app is the set of components built from a Config. Commands take the
// pieces they need and Close releases everything in reverse order.
type app struct {
	cfg      *config.Config
	logger   *slog.Logger
	store    *store.Store
	recorder *audit.Recorder
	backend  ledger.Backend
	ledger   *ledger.Ledger
	gate     *risk.Gate

	closers []func(context.Context) error
}

// openApp builds every component.
func openApp(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*app, error) {
	return openParts(ctx, cfg, logger, (*app).openStore, (*app).openRecorder, (*app).openLedger, (*app).openGate)
}

// openAuditApp builds only the store and the audit recorder.
func openAuditApp(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*app, error) {
	return openParts(ctx, cfg, logger, (*app).openStore, (*app).openRecorder)
}

func openParts(ctx context.Context, cfg *config.Config, logger *slog.Logger, parts ...func(*app, context.Context) error) (*app, error) {
	a := &app{cfg: cfg, logger: logger}
	for _, open := range parts {
		if err := open(a, ctx); err != nil {
			_ = a.Close(context.Background())
			return nil, err
		}
	}
	return a, nil
}

func (a *app) openStore(context.Context) error {
	st, err := store.Open(a.cfg.Store.Path)
	if err != nil {
		return fmt.Errorf("open store %s: %w", a.cfg.Store.Path, err)
	}
	a.store = st
	a.closers = append(a.closers, func(context.Context) error { return st.Close() })
	a.logger.Info("store ready", "path", a.cfg.Store.Path)
	return nil
}

func (a *app) openRecorder(context.Context) error {
	var sink audit.Sink = audit.NewStoreSink(a.store)
	if a.cfg.Audit.Sink == "file" {
		fs, err := audit.OpenFileSink(a.cfg.Audit.FilePath)
		if err != nil {
			return fmt.Errorf("open audit file: %w", err)
		}
		a.closers = append(a.closers, func(context.Context) error { return fs.Close() })
		sink = fs
	}
	a.recorder = audit.NewRecorder(sink,
		audit.WithLogger(a.logger),
		audit.WithBuffer(a.cfg.Audit.Buffer),
		audit.WithWriteTimeout(a.cfg.Audit.WriteTimeout),
	)
	a.closers = append(a.closers, a.recorder.Close)
	return nil
}

func (a *app) openLedger(ctx context.Context) error {
	lc := a.cfg.Ledger
	switch lc.Backend {
	case "redis":
		client := redis.NewClient(&redis.Options{Addr: lc.RedisAddr})
		a.closers = append(a.closers, func(context.Context) error { return client.Close() })
		if err := client.Ping(ctx).Err(); err != nil {
			return fmt.Errorf("redis %s: %w", lc.RedisAddr, err)
		}
		prefix := lc.RedisPrefix
		if prefix == "" {
			prefix = ledger.DefaultRedisPrefix
		}
		a.backend = ledger.NewRedisBackend(client, prefix, lc.Retention)
	default:
		a.backend = ledger.NewSQLiteBackend(a.store)
	}
	a.logger.Info("ledger ready", "backend", lc.Backend)
	a.ledger = ledger.New(a.backend,
		ledger.WithRecorder(a.recorder),
		ledger.WithLogger(a.logger),
		ledger.WithDefaultTTL(lc.TTL),
		ledger.WithOperationTimeout(lc.OperationTimeout),
	)
	return nil
}

func (a *app) openGate(ctx context.Context) error {
	rc := a.cfg.Risk
	opts := []risk.Option{
		risk.WithRecorder(a.recorder),
		risk.WithLogger(a.logger),
		risk.WithBreakerRetryAfter(rc.BreakerRetryAfter),
	}
	if rc.Persist {
		opts = append(opts, risk.WithPersistence(a.store))
	}
	a.gate = risk.NewGate(risk.NewState(a.cfg.Limits(), a.cfg.Location(), clock.Real{}.Now()), opts...)
	if rc.Persist {
		if err := a.gate.Restore(ctx); err != nil {
			return fmt.Errorf("restore risk state: %w", err)
		}
	}
	return nil
}

func (a *app) reaper() *ledger.Reaper {
	return ledger.NewReaper(a.backend, clock.Real{}, a.cfg.Ledger.Retention, a.logger)
}

// Close releases resources in reverse order of acquisition.
func (a *app) Close(ctx context.Context) error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](ctx); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}
