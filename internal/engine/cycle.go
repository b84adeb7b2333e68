package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/roach88/shipsure/internal/policy"
)

// ErrCycleCancelled is recorded for shipments a cancelled cycle never started.
var ErrCycleCancelled = errors.New("cycle cancelled before shipment was checked")

// RunCycle checks every policy awaiting a check. Shipments are processed
// independently with bounded concurrency; results keep the fetch order.
//
// Returns an error only if the batch cannot be loaded or ctx is done before
// any shipment starts. Per-shipment failures are in the BatchResult.
func (e *Engine) RunCycle(ctx context.Context) (BatchResult, error) {
	started := time.Now()
	batch := BatchResult{
		CycleID:   e.ids.Generate(),
		StartedAt: e.now().UTC(),
		Results:   []ShipmentResult{},
	}

	if err := ctx.Err(); err != nil {
		e.metrics.RecordCycle(true, time.Since(started))
		return batch, fmt.Errorf("cycle %s: %w", batch.CycleID, err)
	}

	callCtx, cancel := e.call(ctx)
	refs, err := e.mirror.ActivePoliciesAwaitingCheck(callCtx)
	cancel()
	if err != nil {
		e.metrics.RecordCycle(true, time.Since(started))
		return batch, fmt.Errorf("cycle %s: load active policies: %w", batch.CycleID, err)
	}

	slog.Info("cycle starting",
		"cycle_id", batch.CycleID,
		"policies", len(refs),
	)

	batch.Results = e.runBatch(ctx, refs)
	batch.tally()
	e.metrics.RecordCycle(false, time.Since(started))

	slog.Info("cycle complete",
		"cycle_id", batch.CycleID,
		"checked", batch.TotalChecked,
		"succeeded", batch.Succeeded,
		"skipped", batch.Skipped,
		"failed", batch.Failed,
		"claims_paid", batch.ClaimsPaid,
		"duration", time.Since(started),
	)
	return batch, nil
}

func (e *Engine) runBatch(ctx context.Context, refs []policy.PolicyRef) []ShipmentResult {
	results := make([]ShipmentResult, len(refs))
	sem := semaphore.NewWeighted(int64(e.concurrency))
	var wg sync.WaitGroup

	for i, ref := range refs {
		if i > 0 && e.itemDelay > 0 {
			if !sleep(ctx, e.itemDelay) {
				markCancelled(results[i:], refs[i:])
				break
			}
		}
		if err := sem.Acquire(ctx, 1); err != nil {
			markCancelled(results[i:], refs[i:])
			break
		}

		wg.Add(1)
		go func(i int, ref policy.PolicyRef) {
			defer wg.Done()
			defer sem.Release(1)
			results[i] = e.reconcile(ctx, ref)
		}(i, ref)
	}

	wg.Wait()
	return results
}

func markCancelled(results []ShipmentResult, refs []policy.PolicyRef) {
	for i, ref := range refs {
		results[i] = ShipmentResult{
			ShipmentID: ref.ShipmentID,
			PolicyID:   ref.PolicyID,
			Outcome:    OutcomeError,
			Err:        newError(CodeTransient, ref.ShipmentID, ErrCycleCancelled),
		}
	}
}

// sleep waits d or until ctx is done. Returns false if ctx ended first.
func sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}

// CheckShipment runs the same decision as a cycle for one shipment.
//
// Returns an error if the mirror has no policy for the shipment. A policy
// that is no longer Active is reported as skipped without observing.
func (e *Engine) CheckShipment(ctx context.Context, shipmentID string) (ShipmentResult, error) {
	callCtx, cancel := e.call(ctx)
	p, err := e.mirror.ReadPolicy(callCtx, shipmentID)
	cancel()
	if err != nil {
		return ShipmentResult{}, fmt.Errorf("check %s: %w", shipmentID, err)
	}

	if p.Status != policy.Active || p.ClaimProcessed {
		slog.Info("check skipped, policy not active",
			"shipment_id", shipmentID,
			"policy_status", p.Status.String(),
		)
		res := ShipmentResult{
			ShipmentID: shipmentID,
			PolicyID:   p.PolicyID,
			Observed:   true,
			Status:     p.ShipmentStatus,
			Outcome:    OutcomeSkipped,
		}
		e.metrics.RecordShipment(string(res.Outcome), "")
		return res, nil
	}

	return e.reconcile(ctx, p.Ref()), nil
}
