package cli

import (
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/multierr"

	"github.com/roach88/shipsure/internal/engine"
)

// CheckOptions holds flags for the check command.
type CheckOptions struct {
	*RootOptions
	Status string
}

// NewCheckCommand creates the check command.
func NewCheckCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &CheckOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "check <shipmentId>",
		Short: "Check one shipment now",
		Long: `Observe one shipment and reconcile it through the same path as a cycle.

--status reports the given status instead of asking the configured oracle,
for manual updates.

Example:
  shipsure check SHIP100
  shipsure check SHIP100 --status Damaged`,
		Args: exactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runCheck(opts, args[0], cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Status, "status", "", "report this status (InTransit|Delivered|Damaged|Lost)")

	return cmd
}

func runCheck(opts *CheckOptions, shipmentID string, cmd *cobra.Command) (err error) {
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

	orc, err := a.newOracle(opts.Status)
	if err != nil {
		return err
	}
	eng, err := a.newEngine(ctx, orc)
	if err != nil {
		return err
	}

	f := opts.formatter(cmd)
	f.VerboseLog("checking %s", shipmentID)

	res, err := eng.CheckShipment(ctx, shipmentID)
	if err != nil {
		return WrapExitError(ExitFailure, "check failed", err)
	}

	if f.Format == "json" {
		if err := f.Success(res); err != nil {
			return err
		}
	} else {
		fmt.Fprintln(f.Writer, formatResult(res))
	}

	if res.Outcome == engine.OutcomeError {
		return WrapExitError(ExitFailure, "check failed", res.Err)
	}
	return nil
}
