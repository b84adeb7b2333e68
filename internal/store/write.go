package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/roach88/shipsure/internal/policy"
)

// UpsertPolicy projects a ledger policy into the mirror.
// Uses ON CONFLICT(shipment_id) DO NOTHING: the first projection wins and
// later calls never rewrite an existing row. Returns whether a row was inserted.
func (s *Store) UpsertPolicy(ctx context.Context, p policy.Policy) (bool, error) {
	if p.ShipmentID == "" {
		return false, fmt.Errorf("upsert policy: empty shipment id")
	}

	result, err := s.db.ExecContext(ctx, s.rebind(`
		INSERT INTO policies
		(policy_id, shipment_id, holder, coverage_amount, premium,
		 start_time, end_time, status, shipment_status, claim_processed, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(shipment_id) DO NOTHING
	`),
		p.PolicyID,
		p.ShipmentID,
		p.Holder,
		p.CoverageAmount,
		p.Premium,
		toUnixNano(p.StartTime),
		toUnixNano(p.EndTime),
		p.Status.String(),
		p.ShipmentStatus.String(),
		p.ClaimProcessed,
		toUnixNano(s.now()),
	)
	if err != nil {
		return false, fmt.Errorf("upsert policy %s: %w", p.ShipmentID, err)
	}

	n, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("upsert policy %s: rows affected: %w", p.ShipmentID, err)
	}
	return n > 0, nil
}

// ApplyOptions carries settlement context for ApplyObservation.
type ApplyOptions struct {
	// LedgerTx is the hash of the ledger transaction that settled the
	// claim, recorded on the claim row when one is created.
	LedgerTx string
}

// ApplyResult reports what ApplyObservation changed.
type ApplyResult struct {
	TrackingID    int64
	StatusUpdated bool
	ClaimCreated  bool
	Claim         *policy.Claim
}

// ApplyObservation records one oracle observation in a single transaction:
//
//  1. Append a tracking row (always, including duplicates and no-ops).
//  2. Update shipment_status while the policy is Active and unclaimed.
//  3. For Damaged/Lost, flip the policy to Claimed with a conditional update
//     guarded by claim_processed = false, and insert the claim row only if
//     that update affected one row.
//
// Re-applying the same terminal observation creates no second claim and no
// second status flip; zero affected rows is not an error.
//
// Returns ErrNotFound if the mirror has no policy for the shipment.
func (s *Store) ApplyObservation(ctx context.Context, obs policy.Observation, opts ApplyOptions) (ApplyResult, error) {
	if obs.Outcome != policy.Observed {
		return ApplyResult{}, fmt.Errorf("apply observation %s: outcome is %s", obs.ShipmentID, obs.Outcome)
	}
	if !obs.Status.Valid() {
		return ApplyResult{}, fmt.Errorf("apply observation %s: %w", obs.ShipmentID, policy.ErrInvalidStatus)
	}

	obs = obs.Normalized()
	now := s.now()
	observedAt := obs.Timestamp
	if observedAt.IsZero() {
		observedAt = now
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return ApplyResult{}, fmt.Errorf("apply observation %s: begin tx: %w", obs.ShipmentID, err)
	}
	defer tx.Rollback() // No-op if committed

	var (
		policyID uint64
		holder   string
		coverage policy.Amount
	)
	err = tx.QueryRowContext(ctx, s.rebind(`
		SELECT policy_id, holder, coverage_amount FROM policies WHERE shipment_id = ?
	`), obs.ShipmentID).Scan(&policyID, &holder, &coverage)
	if err != nil {
		return ApplyResult{}, notFound(err, "policy for shipment", obs.ShipmentID)
	}

	var res ApplyResult

	// Step 1: tracking log
	err = tx.QueryRowContext(ctx, s.rebind(`
		INSERT INTO tracking (shipment_id, status, location, note, timestamp)
		VALUES (?, ?, ?, ?, ?)
		RETURNING id
	`),
		obs.ShipmentID,
		obs.Status.String(),
		obs.Location,
		obs.Note,
		toUnixNano(observedAt),
	).Scan(&res.TrackingID)
	if err != nil {
		return ApplyResult{}, fmt.Errorf("apply observation %s: insert tracking: %w", obs.ShipmentID, err)
	}

	// Step 2: shipment status, only while the policy is still open
	result, err := tx.ExecContext(ctx, s.rebind(`
		UPDATE policies SET shipment_status = ?, updated_at = ?
		WHERE shipment_id = ? AND status = ? AND claim_processed = ?
	`),
		obs.Status.String(),
		toUnixNano(now),
		obs.ShipmentID,
		policy.Active.String(),
		false,
	)
	if err != nil {
		return ApplyResult{}, fmt.Errorf("apply observation %s: update shipment status: %w", obs.ShipmentID, err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return ApplyResult{}, fmt.Errorf("apply observation %s: rows affected: %w", obs.ShipmentID, err)
	}
	res.StatusUpdated = n > 0

	// Step 3: conditional claim flip
	if obs.Status.Terminal() {
		result, err := tx.ExecContext(ctx, s.rebind(`
			UPDATE policies SET status = ?, claim_processed = ?, updated_at = ?
			WHERE shipment_id = ? AND claim_processed = ? AND status = ?
		`),
			policy.Claimed.String(),
			true,
			toUnixNano(now),
			obs.ShipmentID,
			false,
			policy.Active.String(),
		)
		if err != nil {
			return ApplyResult{}, fmt.Errorf("apply observation %s: claim flip: %w", obs.ShipmentID, err)
		}
		flipped, err := result.RowsAffected()
		if err != nil {
			return ApplyResult{}, fmt.Errorf("apply observation %s: rows affected: %w", obs.ShipmentID, err)
		}

		if flipped == 1 {
			claim := policy.Claim{
				PolicyID:    policyID,
				ShipmentID:  obs.ShipmentID,
				Claimant:    holder,
				ClaimAmount: coverage,
				Timestamp:   observedAt.UTC(),
				Approved:    true,
				Processed:   true,
				LedgerTx:    opts.LedgerTx,
			}
			err = tx.QueryRowContext(ctx, s.rebind(`
				INSERT INTO claims
				(policy_id, shipment_id, claimant, claim_amount, timestamp, approved, processed, ledger_tx)
				VALUES (?, ?, ?, ?, ?, ?, ?, ?)
				RETURNING claim_id
			`),
				claim.PolicyID,
				claim.ShipmentID,
				claim.Claimant,
				claim.ClaimAmount,
				toUnixNano(claim.Timestamp),
				claim.Approved,
				claim.Processed,
				claim.LedgerTx,
			).Scan(&claim.ClaimID)
			if err != nil {
				return ApplyResult{}, fmt.Errorf("apply observation %s: insert claim: %w", obs.ShipmentID, err)
			}
			res.ClaimCreated = true
			res.Claim = &claim
		}
	}

	if err := tx.Commit(); err != nil {
		return ApplyResult{}, fmt.Errorf("apply observation %s: commit: %w", obs.ShipmentID, err)
	}

	return res, nil
}

// MarkExpired moves an Active, unclaimed policy to Expired.
// Returns false when the guard did not match (already terminal or claimed).
func (s *Store) MarkExpired(ctx context.Context, shipmentID string) (bool, error) {
	result, err := s.db.ExecContext(ctx, s.rebind(`
		UPDATE policies SET status = ?, updated_at = ?
		WHERE shipment_id = ? AND status = ? AND claim_processed = ?
	`),
		policy.Expired.String(),
		toUnixNano(s.now()),
		shipmentID,
		policy.Active.String(),
		false,
	)
	if err != nil {
		return false, fmt.Errorf("mark expired %s: %w", shipmentID, err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("mark expired %s: rows affected: %w", shipmentID, err)
	}
	if n == 0 {
		if _, err := s.ReadPolicy(ctx, shipmentID); errors.Is(err, ErrNotFound) {
			return false, err
		}
	}
	return n > 0, nil
}

// DuePolicies returns Active, unclaimed policies whose end time is at or
// before now, ordered by policy_id.
func (s *Store) DuePolicies(ctx context.Context, now time.Time) ([]policy.PolicyRef, error) {
	rows, err := s.db.QueryContext(ctx, s.rebind(`
		SELECT policy_id, shipment_id, holder, coverage_amount, status
		FROM policies
		WHERE status = ? AND claim_processed = ? AND end_time <= ?
		ORDER BY policy_id ASC
	`), policy.Active.String(), false, toUnixNano(now))
	if err != nil {
		return nil, fmt.Errorf("query due policies: %w", err)
	}
	return collectRefs(rows)
}

func collectRefs(rows *sql.Rows) ([]policy.PolicyRef, error) {
	defer rows.Close()

	refs := []policy.PolicyRef{}
	for rows.Next() {
		var (
			ref    policy.PolicyRef
			status string
		)
		if err := rows.Scan(&ref.PolicyID, &ref.ShipmentID, &ref.Holder, &ref.CoverageAmount, &status); err != nil {
			return nil, fmt.Errorf("scan policy ref: %w", err)
		}
		st, err := policy.ParsePolicyStatus(status)
		if err != nil {
			return nil, fmt.Errorf("scan policy ref %s: %w", ref.ShipmentID, err)
		}
		ref.Status = st
		refs = append(refs, ref)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate policy refs: %w", err)
	}
	return refs, nil
}
