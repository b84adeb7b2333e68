package cli

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"go.uber.org/multierr"

	"github.com/roach88/shipsure/internal/api"
	"github.com/roach88/shipsure/internal/metrics"
	"github.com/roach88/shipsure/internal/scheduler"
)

// ServeOptions holds flags for the serve command.
type ServeOptions struct {
	*RootOptions
	Addr string

	// ready, when set, is called once the scheduler has started (for testing).
	ready func()
}

// NewServeCommand creates the serve command.
func NewServeCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ServeOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the reconciliation scheduler and admin server",
		Long: `Run reconciliation cycles on the configured interval and serve the admin
HTTP surface until SIGINT or SIGTERM.

The first cycle runs immediately. On shutdown the server stops accepting
requests and the in-flight cycle is allowed to finish.

Example:
  shipsure serve --config ./shipsure.yaml
  shipsure serve --addr :9090 --verbose`,
		Args: noArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Addr, "addr", "", "admin listen address (overrides http.addr)")

	return cmd
}

func runServe(opts *ServeOptions, cmd *cobra.Command) (err error) {
	cfg, err := opts.setup(cmd)
	if err != nil {
		return err
	}
	if opts.Addr != "" {
		cfg.HTTP.Addr = opts.Addr
	}

	parentCtx := cmd.Context()
	if parentCtx == nil {
		parentCtx = context.Background()
	}
	ctx, stop := signal.NotifyContext(parentCtx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := openApp(ctx, cfg)
	if err != nil {
		return err
	}
	defer func() {
		err = multierr.Append(err, a.Close())
	}()
	a.rec = metrics.Default()

	orc, err := a.newOracle("")
	if err != nil {
		return err
	}
	eng, err := a.newEngine(ctx, orc)
	if err != nil {
		return err
	}

	sched := scheduler.New(eng, cfg.Engine.Interval, scheduler.WithExpirySweep(cfg.Engine.ExpirySweep))
	if err := sched.Start(ctx); err != nil {
		return WrapExitError(ExitCommandError, "failed to start scheduler", err)
	}
	defer sched.Stop()

	srv := api.New(sched, a.mirror, a.book.As(cfg.Ledger.Owner),
		api.WithCORS(cfg.HTTP.CORSOrigins),
		api.WithMetrics(a.rec, prometheus.DefaultGatherer),
	)

	slog.Info("shipsure serving",
		"addr", cfg.HTTP.Addr,
		"interval", cfg.Engine.Interval,
		"oracle", cfg.Oracle.Kind,
		"oracle_identity", cfg.Ledger.Oracle,
	)
	if opts.ready != nil {
		opts.ready()
	}

	if err := srv.ListenAndServe(ctx, cfg.HTTP.Addr); err != nil {
		return WrapExitError(ExitFailure, "admin server error", err)
	}

	slog.Info("shutting down")
	return nil
}
