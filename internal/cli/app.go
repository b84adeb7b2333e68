package cli

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"go.uber.org/multierr"

	"github.com/roach88/shipsure/internal/config"
	"github.com/roach88/shipsure/internal/engine"
	"github.com/roach88/shipsure/internal/ledger"
	"github.com/roach88/shipsure/internal/metrics"
	"github.com/roach88/shipsure/internal/oracle"
	"github.com/roach88/shipsure/internal/policy"
	"github.com/roach88/shipsure/internal/store"
)

// app holds the process-wide resources a command needs. Open it with
// openApp and always Close it.
type app struct {
	cfg    config.Config
	mirror *store.Store
	book   *ledger.Book
	rec    *metrics.Recorder

	closers []func() error
}

// openApp opens the mirror and the ledger book. An unreachable mirror is a
// command error.
func openApp(ctx context.Context, cfg config.Config) (*app, error) {
	dialect, err := store.ParseDialect(cfg.Mirror.Dialect)
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "invalid mirror dialect", err)
	}

	slog.Debug("opening mirror", "dialect", cfg.Mirror.Dialect)
	mirror, err := store.OpenDialect(dialect, cfg.Mirror.DSN)
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "failed to open mirror", err)
	}
	if err := mirror.Ping(ctx); err != nil {
		_ = mirror.Close()
		return nil, WrapExitError(ExitCommandError, "mirror unreachable", err)
	}

	slog.Debug("opening ledger", "path", cfg.Ledger.Path)
	book, err := ledger.Open(cfg.Ledger.Path, cfg.Ledger.Owner)
	if err != nil {
		_ = mirror.Close()
		return nil, WrapExitError(ExitCommandError, "failed to open ledger", err)
	}

	a := &app{cfg: cfg, mirror: mirror, book: book}
	a.closers = append(a.closers, book.Close, mirror.Close)
	return a, nil
}

// Close releases everything opened by the app, most recent first.
func (a *app) Close() error {
	var err error
	for i := len(a.closers) - 1; i >= 0; i-- {
		err = multierr.Append(err, a.closers[i]())
	}
	a.closers = nil
	return err
}

// newOracle builds the configured oracle. statusOverride, when set, replaces
// it with a fixed source reporting that status.
func (a *app) newOracle(statusOverride string) (oracle.Oracle, error) {
	if statusOverride != "" {
		st, err := policy.ParseShipmentStatus(statusOverride)
		if err != nil {
			return nil, WrapExitError(ExitCommandError, "invalid --status", err)
		}
		return oracle.Always(st, time.Now), nil
	}

	var o oracle.Oracle
	switch a.cfg.Oracle.Kind {
	case "http":
		o = oracle.NewHTTPClient(a.cfg.Oracle.URL, a.cfg.Oracle.APIKey, a.cfg.Oracle.Timeout)
	default:
		o = oracle.NewSimulator(a.cfg.Oracle.Seed, time.Now)
	}

	if a.cfg.Oracle.CacheTTL > 0 {
		cached := oracle.NewCached(o, a.cfg.Oracle.CacheTTL)
		if c, ok := cached.(*oracle.Cached); ok {
			a.closers = append(a.closers, func() error {
				c.Close()
				return nil
			})
		}
		o = cached
	}
	return o, nil
}

// newEngine binds the configured oracle identity to the ledger and builds
// the engine. The identity must match the ledger's authorised oracle.
func (a *app) newEngine(ctx context.Context, o oracle.Oracle) (*engine.Engine, error) {
	authorised, err := a.book.Oracle(ctx)
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "failed to read ledger oracle", err)
	}
	if authorised != a.cfg.Ledger.Oracle {
		return nil, NewExitError(ExitCommandError, fmt.Sprintf(
			"configured oracle %q is not the ledger's authorised oracle %q", a.cfg.Ledger.Oracle, authorised))
	}

	eng, err := engine.New(a.mirror, a.book.As(a.cfg.Ledger.Oracle), o,
		engine.WithConcurrency(a.cfg.Engine.Concurrency),
		engine.WithItemDelay(a.cfg.Engine.ItemDelay),
		engine.WithCallTimeout(a.cfg.Engine.CallTimeout),
		engine.WithMetrics(a.rec),
	)
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "failed to build engine", err)
	}
	return eng, nil
}

// errorCode maps an error to a JSON error code.
func errorCode(err error) string {
	var exitErr *ExitError
	switch {
	case errors.Is(err, store.ErrNotFound), errors.Is(err, ledger.ErrPolicyNotFound):
		return ErrCodeNotFound
	case ledger.IsRejected(err):
		return ErrCodeRejected
	case errors.As(err, &exitErr) && exitErr.Code == ExitCommandError:
		return ErrCodeConfig
	case errors.As(err, &exitErr) && exitErr.Code == ExitFailure:
		return ErrCodeFailed
	default:
		return ErrCodeGeneric
	}
}
