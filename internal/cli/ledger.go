package cli

import (
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/multierr"

	"github.com/roach88/shipsure/internal/policy"
)

// NewLedgerCommand creates the ledger command group. Its subcommands act as
// the configured owner.
func NewLedgerCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "ledger",
		Short: "Inspect and administer the ledger",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "info",
		Short: "Show ledger totals, owner, oracle and reserve",
		Args:  noArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runLedger(rootOpts, cmd, ledgerInfo)
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "fund <amount>",
		Short: "Add to the payout reserve",
		Args:  exactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runLedger(rootOpts, cmd, func(a *app, cmd *cobra.Command, f *OutputFormatter) error {
				return ledgerFund(a, cmd, f, args[0])
			})
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "set-oracle <identity>",
		Short: "Authorise a new oracle identity",
		Args:  exactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runLedger(rootOpts, cmd, func(a *app, cmd *cobra.Command, f *OutputFormatter) error {
				return ledgerSetOracle(a, cmd, f, args[0])
			})
		},
	})

	return cmd
}

func runLedger(opts *RootOptions, cmd *cobra.Command, fn func(*app, *cobra.Command, *OutputFormatter) error) (err error) {
	cfg, err := opts.setup(cmd)
	if err != nil {
		return err
	}

	a, err := openApp(commandContext(cmd), cfg)
	if err != nil {
		return err
	}
	defer func() {
		err = multierr.Append(err, a.Close())
	}()

	return fn(a, cmd, opts.formatter(cmd))
}

func ledgerInfo(a *app, cmd *cobra.Command, f *OutputFormatter) error {
	info, err := a.book.As(a.cfg.Ledger.Owner).Info(commandContext(cmd))
	if err != nil {
		return WrapExitError(ExitFailure, "failed to read ledger", err)
	}
	if f.Format == "json" {
		return f.Success(info)
	}
	fmt.Fprintf(f.Writer, "Owner:    %s\n", info.Owner)
	fmt.Fprintf(f.Writer, "Oracle:   %s\n", info.Oracle)
	fmt.Fprintf(f.Writer, "Reserve:  %s\n", info.Balance)
	fmt.Fprintf(f.Writer, "Policies: %d, claims: %d\n", info.TotalPolicies, info.TotalClaims)
	return nil
}

func ledgerFund(a *app, cmd *cobra.Command, f *OutputFormatter, raw string) error {
	amount, err := policy.ParseAmount(raw)
	if err != nil {
		return WrapExitError(ExitCommandError, "invalid amount", err)
	}
	receipt, err := a.book.Fund(commandContext(cmd), a.cfg.Ledger.Owner, amount)
	if err != nil {
		return WrapExitError(ExitFailure, "ledger rejected funding", err)
	}
	if f.Format == "json" {
		return f.Success(map[string]any{"amount": amount, "ledgerTx": receipt.TxHash})
	}
	fmt.Fprintf(f.Writer, "Funded %s (tx %s)\n", amount, receipt.TxHash)
	return nil
}

func ledgerSetOracle(a *app, cmd *cobra.Command, f *OutputFormatter, identity string) error {
	receipt, err := a.book.SetOracle(commandContext(cmd), a.cfg.Ledger.Owner, identity)
	if err != nil {
		return WrapExitError(ExitFailure, "ledger rejected oracle change", err)
	}
	if f.Format == "json" {
		return f.Success(map[string]any{"oracle": identity, "ledgerTx": receipt.TxHash})
	}
	fmt.Fprintf(f.Writer, "Oracle set to %s (tx %s)\n", identity, receipt.TxHash)
	return nil
}
