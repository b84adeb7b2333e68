package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"go.uber.org/multierr"

	"github.com/roach88/shipsure/internal/ledger"
	"github.com/roach88/shipsure/internal/policy"
)

// SweepExpired moves Active, unclaimed policies past their end time to
// Expired: ledger first, then mirror. A policy the ledger already settled
// as Claimed is left for reconcile, which applies the claim instead.
//
// Returns an error only if the due set cannot be loaded.
func (e *Engine) SweepExpired(ctx context.Context) (ExpiryResult, error) {
	now := e.now()
	res := ExpiryResult{Expired: []string{}, Skipped: []string{}, Failed: []string{}}

	callCtx, cancel := e.call(ctx)
	due, err := e.mirror.DuePolicies(callCtx, now)
	cancel()
	if err != nil {
		return res, fmt.Errorf("expiry sweep: load due policies: %w", err)
	}

	for _, ref := range due {
		if ctx.Err() != nil {
			res.Failed = append(res.Failed, ref.ShipmentID)
			res.err = multierr.Append(res.err, newError(CodeTransient, ref.ShipmentID, ErrCycleCancelled))
			continue
		}

		expired, err := e.expireOne(ctx, ref, now)
		switch {
		case err != nil:
			res.Failed = append(res.Failed, ref.ShipmentID)
			res.err = multierr.Append(res.err, err)
			slog.Warn("expiry failed",
				"shipment_id", ref.ShipmentID,
				"error", err,
			)
		case expired:
			res.Expired = append(res.Expired, ref.ShipmentID)
			e.metrics.RecordExpired()
			slog.Info("policy expired", "shipment_id", ref.ShipmentID)
		default:
			res.Skipped = append(res.Skipped, ref.ShipmentID)
		}
	}
	return res, nil
}

func (e *Engine) expireOne(ctx context.Context, ref policy.PolicyRef, now time.Time) (bool, error) {
	callCtx, cancel := e.call(ctx)
	defer cancel()

	start := time.Now()
	_, err := e.ledger.Expire(callCtx, ref.ShipmentID, now)
	e.metrics.RecordLedgerCall("expire", err == nil, time.Since(start))

	switch {
	case err == nil:
	case errors.Is(err, ledger.ErrPolicyTerminal):
		lp, rerr := e.ledger.ReadPolicyByShipment(callCtx, ref.ShipmentID)
		if rerr != nil {
			return false, newError(CodeTransient, ref.ShipmentID, rerr)
		}
		if lp.Status != policy.Expired {
			return false, nil
		}
	case errors.Is(err, ledger.ErrNotDue):
		return false, nil
	case ledger.IsRejected(err):
		return false, newError(CodeRejected, ref.ShipmentID, err)
	default:
		return false, newError(CodeTransient, ref.ShipmentID, err)
	}

	ok, err := e.mirror.MarkExpired(callCtx, ref.ShipmentID)
	if err != nil {
		return false, newError(CodeInconsistent, ref.ShipmentID, err)
	}
	return ok, nil
}
