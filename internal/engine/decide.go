package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/roach88/shipsure/internal/ledger"
	"github.com/roach88/shipsure/internal/policy"
	"github.com/roach88/shipsure/internal/store"
)

// reconcile is the single decision function for one shipment. RunCycle and
// CheckShipment both call it; nothing else decides transitions.
func (e *Engine) reconcile(ctx context.Context, ref policy.PolicyRef) ShipmentResult {
	res := ShipmentResult{ShipmentID: ref.ShipmentID, PolicyID: ref.PolicyID}
	defer func() {
		e.metrics.RecordShipment(string(res.Outcome), res.Class())
		if res.ClaimCreated {
			e.metrics.RecordClaim()
		}
	}()

	// Step 1: observe
	obs := e.observe(ctx, ref.ShipmentID)
	if obs.Outcome != policy.Observed {
		res.Outcome = OutcomeError
		res.Err = newError(CodeTransient, ref.ShipmentID, fmt.Errorf("oracle unavailable: %w", obs.Err))
		slog.Warn("oracle unavailable",
			"shipment_id", ref.ShipmentID,
			"error", obs.Err,
		)
		return res
	}
	if !obs.Status.Valid() {
		res.Outcome = OutcomeSkipped
		res.Err = newError(CodeRejected, ref.ShipmentID, fmt.Errorf("oracle: %w", policy.ErrInvalidStatus))
		return res
	}
	// the mirror write is keyed on the shipment the ledger settles
	obs.ShipmentID = ref.ShipmentID
	res.Observed = true
	res.Status = obs.Status

	// Step 2: ledger first for transitions that move funds
	var opts store.ApplyOptions
	if obs.Status.Terminal() {
		receipt, err := e.submit(ctx, ref.ShipmentID, obs.Status)
		switch {
		case err == nil:
			opts.LedgerTx = receipt.TxHash
			res.LedgerTx = receipt.TxHash
			slog.Info("ledger settled shipment",
				"shipment_id", ref.ShipmentID,
				"status", obs.Status.String(),
				"tx", receipt.TxHash,
				"claim_paid", receipt.ClaimPaid,
				"payout", receipt.Payout.String(),
			)
		case errors.Is(err, ledger.ErrPolicyTerminal):
			txHash, done, skip := e.settled(ctx, ref.ShipmentID, obs.Status)
			if skip {
				res.Outcome = done.Outcome
				res.Err = done.Err
				return res
			}
			opts.LedgerTx = txHash
			res.LedgerTx = txHash
		case ledger.IsRejected(err):
			res.Outcome = OutcomeSkipped
			res.Err = newError(CodeRejected, ref.ShipmentID, err)
			slog.Error("ledger rejected status update",
				"shipment_id", ref.ShipmentID,
				"status", obs.Status.String(),
				"error", err,
			)
			return res
		default:
			res.Outcome = OutcomeError
			res.Err = newError(CodeTransient, ref.ShipmentID, err)
			slog.Warn("ledger call failed, will retry next cycle",
				"shipment_id", ref.ShipmentID,
				"error", err,
			)
			return res
		}
	}

	// Step 3: mirror
	mirrorCall := e.call
	if obs.Status.Terminal() {
		mirrorCall = e.settleCall
	}
	callCtx, cancel := mirrorCall(ctx)
	applied, err := e.mirror.ApplyObservation(callCtx, obs, opts)
	cancel()
	if err != nil {
		res.Outcome = OutcomeError
		if obs.Status.Terminal() {
			res.Err = newError(CodeInconsistent, ref.ShipmentID, err)
			slog.Warn("mirror write failed after ledger settlement",
				"shipment_id", ref.ShipmentID,
				"status", obs.Status.String(),
				"tx", res.LedgerTx,
				"error", err,
			)
		} else {
			res.Err = newError(CodeTransient, ref.ShipmentID, err)
			slog.Warn("mirror write failed",
				"shipment_id", ref.ShipmentID,
				"error", err,
			)
		}
		return res
	}

	res.Outcome = OutcomeSuccess
	res.ClaimCreated = applied.ClaimCreated
	if applied.ClaimCreated {
		slog.Info("claim recorded",
			"shipment_id", ref.ShipmentID,
			"claim_id", applied.Claim.ClaimID,
			"amount", applied.Claim.ClaimAmount.String(),
		)
	}
	return res
}

// settled handles a ledger that reports the policy already terminal. A
// ledger-Claimed policy is applied to the mirror, with the settling tx hash,
// so an earlier failed mirror write converges. Any other terminal ledger
// state must not produce a mirror claim: an Expired ledger policy is expired
// in the mirror and the shipment is skipped.
func (e *Engine) settled(ctx context.Context, shipmentID string, status policy.ShipmentStatus) (string, ShipmentResult, bool) {
	callCtx, cancel := e.call(ctx)
	defer cancel()

	lp, err := e.ledger.ReadPolicyByShipment(callCtx, shipmentID)
	if err != nil {
		return "", ShipmentResult{
			Outcome: OutcomeError,
			Err:     newError(CodeTransient, shipmentID, fmt.Errorf("read ledger policy: %w", err)),
		}, true
	}

	if lp.Status == policy.Claimed {
		txHash, err := e.ledger.ClaimTx(callCtx, shipmentID)
		if err != nil {
			slog.Warn("settling tx not found, mirror claim will have no ledger reference",
				"shipment_id", shipmentID,
				"error", err,
			)
		}
		slog.Info("ledger policy already claimed, applying to mirror",
			"shipment_id", shipmentID,
			"status", status.String(),
			"tx", txHash,
		)
		return txHash, ShipmentResult{}, false
	}

	if lp.Status == policy.Expired {
		if _, err := e.mirror.MarkExpired(callCtx, shipmentID); err != nil {
			slog.Warn("mirror expiry failed", "shipment_id", shipmentID, "error", err)
		}
	}
	return "", ShipmentResult{
		Outcome: OutcomeSkipped,
		Err:     newError(CodeRejected, shipmentID, fmt.Errorf("ledger policy is %s: %w", lp.Status, ledger.ErrPolicyTerminal)),
	}, true
}

func (e *Engine) observe(ctx context.Context, shipmentID string) policy.Observation {
	callCtx, cancel := e.call(ctx)
	defer cancel()

	start := time.Now()
	obs := e.oracle.Observe(callCtx, shipmentID)
	e.metrics.RecordOracleCall(obs.Outcome.String(), time.Since(start))
	return obs
}

func (e *Engine) submit(ctx context.Context, shipmentID string, status policy.ShipmentStatus) (ledger.Receipt, error) {
	callCtx, cancel := e.call(ctx)
	defer cancel()

	start := time.Now()
	receipt, err := e.ledger.SubmitStatusUpdate(callCtx, shipmentID, status)
	e.metrics.RecordLedgerCall("submit_status_update", err == nil, time.Since(start))
	return receipt, err
}
