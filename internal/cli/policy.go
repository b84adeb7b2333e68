package cli

import (
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/multierr"

	"github.com/roach88/shipsure/internal/ledger"
	"github.com/roach88/shipsure/internal/policy"
	"github.com/roach88/shipsure/internal/store"
)

// PolicyCreateOptions holds flags for policy create.
type PolicyCreateOptions struct {
	*RootOptions
	Holder   string
	Coverage string
	Premium  string
	Duration time.Duration
}

// NewPolicyCommand creates the policy command group.
func NewPolicyCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "policy",
		Short: "Create and inspect policies",
	}
	cmd.AddCommand(newPolicyCreateCommand(rootOpts))
	cmd.AddCommand(newPolicyShowCommand(rootOpts))
	cmd.AddCommand(newPolicySyncCommand(rootOpts))
	return cmd
}

func newPolicyCreateCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &PolicyCreateOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "create <shipmentId>",
		Short: "Insure a shipment",
		Long: `Create a policy on the ledger and project it into the mirror.

The premium defaults to 2% of coverage; pass --premium to send a different
amount (the ledger rejects a mismatch).

Example:
  shipsure policy create SHIP100 --holder 0xholder --coverage 2.0 --duration 720h`,
		Args: exactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runPolicyCreate(opts, args[0], cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Holder, "holder", "", "policy holder identity (required)")
	cmd.Flags().StringVar(&opts.Coverage, "coverage", "", "coverage amount (required)")
	cmd.Flags().StringVar(&opts.Premium, "premium", "", "premium paid (default 2% of coverage)")
	cmd.Flags().DurationVar(&opts.Duration, "duration", 30*24*time.Hour, "policy duration")
	_ = cmd.MarkFlagRequired("holder")
	_ = cmd.MarkFlagRequired("coverage")

	return cmd
}

func runPolicyCreate(opts *PolicyCreateOptions, shipmentID string, cmd *cobra.Command) (err error) {
	coverage, err := policy.ParseAmount(opts.Coverage)
	if err != nil {
		return WrapExitError(ExitCommandError, "invalid --coverage", err)
	}
	premium := policy.Premium(coverage)
	if opts.Premium != "" {
		if premium, err = policy.ParseAmount(opts.Premium); err != nil {
			return WrapExitError(ExitCommandError, "invalid --premium", err)
		}
	}

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

	p, receipt, err := a.book.CreatePolicy(ctx, opts.Holder, shipmentID, coverage, opts.Duration, premium)
	if err != nil {
		return WrapExitError(ExitFailure, "ledger rejected policy", err)
	}
	if _, err := a.mirror.UpsertPolicy(ctx, p); err != nil {
		return WrapExitError(ExitFailure,
			"policy created on ledger but mirror write failed; run 'shipsure policy sync "+shipmentID+"'", err)
	}

	f := opts.formatter(cmd)
	if f.Format == "json" {
		return f.Success(map[string]any{"policy": p, "ledgerTx": receipt.TxHash})
	}
	printPolicy(f.Writer, p)
	fmt.Fprintf(f.Writer, "  ledger tx:  %s\n", receipt.TxHash)
	return nil
}

func newPolicyShowCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "show <shipmentId>",
		Short: "Show a policy from the mirror and the ledger",
		Args:  exactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runPolicyShow(rootOpts, args[0], cmd)
		},
	}
}

func newPolicySyncCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "sync <shipmentId>",
		Short: "Project a ledger policy missing from the mirror",
		Long: `Copy an Active ledger policy into the mirror so reconciliation picks it up.
A policy already in the mirror is left as is.`,
		Args: exactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runPolicySync(rootOpts, args[0], cmd)
		},
	}
}

func runPolicySync(opts *RootOptions, shipmentID string, cmd *cobra.Command) (err error) {
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

	p, err := a.book.As(cfg.Ledger.Owner).ReadPolicyByShipment(ctx, shipmentID)
	if err != nil {
		return WrapExitError(ExitFailure, "failed to read ledger", err)
	}
	if p.Status != policy.Active {
		return NewExitError(ExitFailure, fmt.Sprintf("ledger policy for %s is %s, only Active policies are synced", shipmentID, p.Status))
	}
	inserted, err := a.mirror.UpsertPolicy(ctx, p)
	if err != nil {
		return WrapExitError(ExitFailure, "mirror write failed", err)
	}

	f := opts.formatter(cmd)
	if f.Format == "json" {
		return f.Success(map[string]any{"policy": p, "inserted": inserted})
	}
	if inserted {
		fmt.Fprintf(f.Writer, "Synced policy %d for %s into the mirror\n", p.PolicyID, shipmentID)
	} else {
		fmt.Fprintf(f.Writer, "Policy %d for %s already in the mirror\n", p.PolicyID, shipmentID)
	}
	return nil
}

type policyDetail struct {
	Mirror *policy.Policy `json:"mirror,omitempty"`
	Ledger *policy.Policy `json:"ledger,omitempty"`
	Claims []policy.Claim `json:"claims"`
	InSync bool           `json:"inSync"`
}

func runPolicyShow(opts *RootOptions, shipmentID string, cmd *cobra.Command) (err error) {
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

	var detail policyDetail
	mp, merr := a.mirror.ReadPolicy(ctx, shipmentID)
	switch {
	case merr == nil:
		detail.Mirror = &mp
	case !errors.Is(merr, store.ErrNotFound):
		return WrapExitError(ExitFailure, "failed to read mirror", merr)
	}
	lp, lerr := a.book.As(cfg.Ledger.Owner).ReadPolicyByShipment(ctx, shipmentID)
	switch {
	case lerr == nil:
		detail.Ledger = &lp
	case !errors.Is(lerr, ledger.ErrPolicyNotFound):
		return WrapExitError(ExitFailure, "failed to read ledger", lerr)
	}
	if detail.Mirror == nil && detail.Ledger == nil {
		return WrapExitError(ExitFailure, "no policy for shipment "+shipmentID, ledger.ErrPolicyNotFound)
	}

	detail.Claims, err = a.mirror.ListClaims(ctx, shipmentID)
	if err != nil {
		return WrapExitError(ExitFailure, "failed to read claims", err)
	}
	detail.InSync = detail.Mirror != nil && detail.Ledger != nil &&
		detail.Mirror.Status == detail.Ledger.Status &&
		detail.Mirror.ClaimProcessed == detail.Ledger.ClaimProcessed

	f := opts.formatter(cmd)
	if f.Format == "json" {
		return f.Success(detail)
	}

	switch {
	case detail.Mirror != nil:
		printPolicy(f.Writer, *detail.Mirror)
	default:
		printPolicy(f.Writer, *detail.Ledger)
	}
	if detail.Ledger == nil {
		fmt.Fprintln(f.Writer, "  ledger:     missing")
	} else if !detail.InSync {
		fmt.Fprintf(f.Writer, "  ledger:     %s (mirror out of sync)\n", detail.Ledger.Status)
	}
	for _, c := range detail.Claims {
		fmt.Fprintf(f.Writer, "  claim %d:    %s to %s at %s\n",
			c.ClaimID, c.ClaimAmount, c.Claimant, c.Timestamp.Format(time.RFC3339))
	}
	return nil
}

func printPolicy(w io.Writer, p policy.Policy) {
	fmt.Fprintf(w, "Policy %d for %s\n", p.PolicyID, p.ShipmentID)
	fmt.Fprintf(w, "  holder:     %s\n", p.Holder)
	fmt.Fprintf(w, "  coverage:   %s (premium %s)\n", p.CoverageAmount, p.Premium)
	fmt.Fprintf(w, "  period:     %s to %s\n", p.StartTime.Format(time.RFC3339), p.EndTime.Format(time.RFC3339))
	fmt.Fprintf(w, "  status:     %s, shipment %s\n", p.Status, p.ShipmentStatus)
}
