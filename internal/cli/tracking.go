package cli

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/multierr"

	"github.com/roach88/shipsure/internal/policy"
)

// NewTrackingCommand creates the tracking command.
func NewTrackingCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "tracking <shipmentId>",
		Short: "Show a shipment's tracking history, newest first",
		Args:  exactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runTracking(rootOpts, args[0], cmd)
		},
	}
}

func runTracking(opts *RootOptions, shipmentID string, cmd *cobra.Command) (err error) {
	cfg, err := opts.setup(cmd)
	if err != nil {
		return err
	}
	ctx := commandContext(cmd)

	a, err := openApp(ctx, cfg)
	if err != nil {
		return err
	}
	defer func() {
		err = multierr.Append(err, a.Close())
	}()

	entries, err := a.mirror.Tracking(ctx, shipmentID)
	if err != nil {
		return WrapExitError(ExitFailure, "failed to read tracking", err)
	}

	f := opts.formatter(cmd)
	if f.Format == "json" {
		if entries == nil {
			entries = []policy.TrackingEntry{}
		}
		return f.Success(entries)
	}

	if len(entries) == 0 {
		fmt.Fprintf(f.Writer, "No tracking entries for %s\n", shipmentID)
		return nil
	}
	for _, e := range entries {
		fmt.Fprintf(f.Writer, "%s  %-9s  %s  %s\n", e.Timestamp.Format(time.RFC3339), e.Status, e.Location, e.Note)
	}
	return nil
}

// NewStatsCommand creates the stats command.
func NewStatsCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Show tracking and claim counts from the mirror",
		Args:  noArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runStats(rootOpts, cmd)
		},
	}
}

func runStats(opts *RootOptions, cmd *cobra.Command) (err error) {
	cfg, err := opts.setup(cmd)
	if err != nil {
		return err
	}
	ctx := commandContext(cmd)

	a, err := openApp(ctx, cfg)
	if err != nil {
		return err
	}
	defer func() {
		err = multierr.Append(err, a.Close())
	}()

	st, err := a.mirror.Stats(ctx)
	if err != nil {
		return WrapExitError(ExitFailure, "failed to read stats", err)
	}

	f := opts.formatter(cmd)
	if f.Format == "json" {
		return f.Success(st)
	}
	fmt.Fprintf(f.Writer, "Tracking entries: %d (in transit %d, delivered %d, damaged %d, lost %d)\n",
		st.TotalTrackings, st.InTransit, st.Delivered, st.Damaged, st.Lost)
	fmt.Fprintf(f.Writer, "Claims: %d\n", st.TotalClaims)
	fmt.Fprintf(f.Writer, "Active policies: %d\n", st.ActivePolicies)
	return nil
}
