package cli

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"
	"go.uber.org/multierr"
)

// NewExpireCommand creates the expire command.
func NewExpireCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "expire",
		Short: "Expire active policies past their end time",
		Long: `Move every active, unclaimed policy whose end time has passed to Expired,
on the ledger first and then in the mirror.

Example:
  shipsure expire`,
		Args: noArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runExpire(rootOpts, cmd)
		},
	}
}

func runExpire(opts *RootOptions, cmd *cobra.Command) (err error) {
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

	res, err := eng.SweepExpired(ctx)
	if err != nil {
		return WrapExitError(ExitFailure, "expiry sweep failed", err)
	}

	f := opts.formatter(cmd)
	if f.Format == "json" {
		if err := f.Success(res); err != nil {
			return err
		}
	} else {
		fmt.Fprintf(f.Writer, "Expired %d, skipped %d, failed %d\n", len(res.Expired), len(res.Skipped), len(res.Failed))
		if len(res.Expired) > 0 {
			fmt.Fprintf(f.Writer, "  expired: %s\n", strings.Join(res.Expired, ", "))
		}
		if len(res.Failed) > 0 {
			fmt.Fprintf(f.Writer, "  failed: %s\n", strings.Join(res.Failed, ", "))
		}
	}

	if res.Err() != nil {
		return WrapExitError(ExitFailure, fmt.Sprintf("%d policy(ies) failed to expire", len(res.Failed)), res.Err())
	}
	return nil
}
