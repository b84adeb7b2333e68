package cli

import (
	"context"
	"fmt"
	"io"

	"github.com/spf13/cobra"
	"go.uber.org/multierr"

	"github.com/roach88/shipsure/internal/engine"
)

// NewCycleCommand creates the cycle command.
func NewCycleCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "cycle",
		Short: "Run one reconciliation cycle",
		Long: `Check every active, in-transit policy once and print the batch result.

Exits 1 if any shipment failed or the cycle aborted.

Example:
  shipsure cycle
  shipsure cycle --format json`,
		Args: noArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runCycle(rootOpts, cmd)
		},
	}
}

func runCycle(opts *RootOptions, cmd *cobra.Command) (err error) {
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

	orc, err := a.newOracle("")
	if err != nil {
		return err
	}
	eng, err := a.newEngine(ctx, orc)
	if err != nil {
		return err
	}

	batch, err := eng.RunCycle(ctx)
	if err != nil {
		return WrapExitError(ExitFailure, "cycle aborted", err)
	}

	f := opts.formatter(cmd)
	if f.Format == "json" {
		if err := f.SuccessForCycle(batch.CycleID, batch); err != nil {
			return err
		}
	} else {
		printBatch(f.Writer, batch)
	}

	if batch.Failed > 0 {
		return WrapExitError(ExitFailure, fmt.Sprintf("%d shipment(s) failed", batch.Failed), batch.Err())
	}
	return nil
}

func printBatch(w io.Writer, batch engine.BatchResult) {
	fmt.Fprintf(w, "Cycle %s: checked %d, succeeded %d, skipped %d, failed %d, claims paid %d\n",
		batch.CycleID, batch.TotalChecked, batch.Succeeded, batch.Skipped, batch.Failed, batch.ClaimsPaid)
	for _, r := range batch.Results {
		fmt.Fprintf(w, "  %s\n", formatResult(r))
	}
}

func formatResult(r engine.ShipmentResult) string {
	line := fmt.Sprintf("%s: %s", r.ShipmentID, r.Outcome)
	if r.Observed {
		line = fmt.Sprintf("%s: %s (%s)", r.ShipmentID, r.Status, r.Outcome)
	}
	if r.ClaimCreated {
		line += ", claim created"
	}
	if r.LedgerTx != "" {
		line += ", ledger tx " + r.LedgerTx
	}
	if r.Err != nil {
		line += fmt.Sprintf(" [%s] %v", r.Class(), r.Err)
	}
	return line
}

func commandContext(cmd *cobra.Command) context.Context {
	if ctx := cmd.Context(); ctx != nil {
		return ctx
	}
	return context.Background()
}
