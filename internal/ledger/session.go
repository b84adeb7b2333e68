package ledger

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/roach88/shipsure/internal/policy"
)

// session is a Book bound to one caller identity.
type session struct {
	book   *Book
	caller string
}

var _ Ledger = (*session)(nil)

// SubmitStatusUpdate implements Ledger.
//
// Rejects callers other than the oracle, invalid statuses, unknown shipments
// and policies that are no longer Active. For Damaged or Lost it flips the
// policy to Claimed, records the claim and debits the payout in the same
// transaction.
func (s *session) SubmitStatusUpdate(ctx context.Context, shipmentID string, status policy.ShipmentStatus) (Receipt, error) {
	op := "update shipment status " + shipmentID
	return s.book.write(ctx, op, s.caller, func(tx *sql.Tx, r *Receipt) error {
		r.ShipmentID = shipmentID
		r.Status = status

		if err := requireMeta(ctx, tx, metaOracle, s.caller, ErrUnauthorized); err != nil {
			return err
		}
		if !status.Valid() {
			return ErrInvalidStatus
		}

		var (
			policyID uint64
			holder   string
			coverage policy.Amount
			current  string
		)
		err := tx.QueryRowContext(ctx, `
			SELECT policy_id, holder, coverage_amount, status
			FROM ledger_policies WHERE shipment_id = ?
		`, shipmentID).Scan(&policyID, &holder, &coverage, &current)
		if errors.Is(err, sql.ErrNoRows) {
			return ErrPolicyNotFound
		}
		if err != nil {
			return err
		}
		if current != policy.Active.String() {
			return ErrPolicyTerminal
		}

		_, err = tx.ExecContext(ctx, `
			UPDATE ledger_policies SET shipment_status = ?
			WHERE policy_id = ? AND status = ?
		`, status.String(), policyID, policy.Active.String())
		if err != nil {
			return err
		}
		r.Events = append(r.Events, Event{
			Kind:       EventShipmentStatusUpdated,
			PolicyID:   policyID,
			ShipmentID: shipmentID,
			Status:     status,
		})

		if !status.Terminal() {
			return nil
		}

		res, err := tx.ExecContext(ctx, `
			UPDATE ledger_policies SET status = ?, claim_processed = ?
			WHERE policy_id = ? AND status = ? AND claim_processed = ?
		`, policy.Claimed.String(), true, policyID, policy.Active.String(), false)
		if err != nil {
			return err
		}
		n, err := res.RowsAffected()
		if err != nil {
			return err
		}
		if n != 1 {
			return ErrPolicyTerminal
		}

		if err := adjustBalance(ctx, tx, coverage, true); err != nil {
			return err
		}

		var claimID uint64
		err = tx.QueryRowContext(ctx, `
			INSERT INTO ledger_claims (policy_id, claimant, claim_amount, timestamp, block_number)
			VALUES (?, ?, ?, ?, ?)
			RETURNING claim_id
		`, policyID, holder, coverage, s.book.now().UnixNano(), r.BlockNumber).Scan(&claimID)
		if err != nil {
			return err
		}

		r.Events = append(r.Events, Event{
			Kind:       EventClaimApproved,
			PolicyID:   policyID,
			ClaimID:    claimID,
			ShipmentID: shipmentID,
			Status:     status,
			Amount:     coverage,
			Identity:   holder,
		})
		r.ClaimPaid = true
		r.Payout = coverage
		return nil
	})
}

// Expire implements Ledger. The caller must be the oracle or the owner.
func (s *session) Expire(ctx context.Context, shipmentID string, now time.Time) (Receipt, error) {
	op := "expire policy " + shipmentID
	return s.book.write(ctx, op, s.caller, func(tx *sql.Tx, r *Receipt) error {
		r.ShipmentID = shipmentID

		owner, err := getMeta(ctx, tx, metaOwner)
		if err != nil {
			return err
		}
		oracle, err := getMeta(ctx, tx, metaOracle)
		if err != nil {
			return err
		}
		if s.caller != oracle && s.caller != owner {
			return ErrUnauthorized
		}

		var (
			policyID  uint64
			current   string
			shipment  string
			endTime   int64
			processed bool
		)
		err = tx.QueryRowContext(ctx, `
			SELECT policy_id, status, shipment_status, end_time, claim_processed
			FROM ledger_policies WHERE shipment_id = ?
		`, shipmentID).Scan(&policyID, &current, &shipment, &endTime, &processed)
		if errors.Is(err, sql.ErrNoRows) {
			return ErrPolicyNotFound
		}
		if err != nil {
			return err
		}
		if current != policy.Active.String() || processed {
			return ErrPolicyTerminal
		}
		if endTime > now.UnixNano() {
			return ErrNotDue
		}
		if r.Status, err = policy.ParseShipmentStatus(shipment); err != nil {
			return err
		}

		res, err := tx.ExecContext(ctx, `
			UPDATE ledger_policies SET status = ?
			WHERE policy_id = ? AND status = ? AND claim_processed = ?
		`, policy.Expired.String(), policyID, policy.Active.String(), false)
		if err != nil {
			return err
		}
		if n, err := res.RowsAffected(); err != nil {
			return err
		} else if n != 1 {
			return ErrPolicyTerminal
		}

		r.Events = append(r.Events, Event{
			Kind:       EventPolicyExpired,
			PolicyID:   policyID,
			ShipmentID: shipmentID,
			Status:     r.Status,
		})
		return nil
	})
}

const ledgerPolicyColumns = `policy_id, shipment_id, holder, coverage_amount, premium,
	start_time, end_time, status, shipment_status, claim_processed`

func scanLedgerPolicy(row *sql.Row) (policy.Policy, error) {
	var (
		p              policy.Policy
		start, end     int64
		status, shipSt string
	)
	err := row.Scan(&p.PolicyID, &p.ShipmentID, &p.Holder, &p.CoverageAmount, &p.Premium,
		&start, &end, &status, &shipSt, &p.ClaimProcessed)
	if err != nil {
		return policy.Policy{}, err
	}
	p.StartTime = time.Unix(0, start).UTC()
	p.EndTime = time.Unix(0, end).UTC()
	if p.Status, err = policy.ParsePolicyStatus(status); err != nil {
		return policy.Policy{}, err
	}
	if p.ShipmentStatus, err = policy.ParseShipmentStatus(shipSt); err != nil {
		return policy.Policy{}, err
	}
	return p, nil
}

// ReadPolicy implements Ledger.
func (s *session) ReadPolicy(ctx context.Context, policyID uint64) (policy.Policy, error) {
	row := s.book.db.QueryRowContext(ctx, `SELECT `+ledgerPolicyColumns+` FROM ledger_policies WHERE policy_id = ?`, policyID)
	p, err := scanLedgerPolicy(row)
	if errors.Is(err, sql.ErrNoRows) {
		return policy.Policy{}, fmt.Errorf("read policy %d: %w", policyID, ErrPolicyNotFound)
	}
	if err != nil {
		return policy.Policy{}, wrapDB(fmt.Sprintf("read policy %d", policyID), err)
	}
	return p, nil
}

// ReadPolicyByShipment implements Ledger.
func (s *session) ReadPolicyByShipment(ctx context.Context, shipmentID string) (policy.Policy, error) {
	row := s.book.db.QueryRowContext(ctx, `SELECT `+ledgerPolicyColumns+` FROM ledger_policies WHERE shipment_id = ?`, shipmentID)
	p, err := scanLedgerPolicy(row)
	if errors.Is(err, sql.ErrNoRows) {
		return policy.Policy{}, fmt.Errorf("read policy %s: %w", shipmentID, ErrPolicyNotFound)
	}
	if err != nil {
		return policy.Policy{}, wrapDB("read policy "+shipmentID, err)
	}
	return p, nil
}

// ClaimTx implements Ledger.
func (s *session) ClaimTx(ctx context.Context, shipmentID string) (string, error) {
	var txHash string
	err := s.book.db.QueryRowContext(ctx, `
		SELECT b.tx_hash
		FROM ledger_claims c
		JOIN ledger_policies p ON p.policy_id = c.policy_id
		JOIN ledger_blocks b ON b.block_number = c.block_number
		WHERE p.shipment_id = ?
	`, shipmentID).Scan(&txHash)
	if errors.Is(err, sql.ErrNoRows) {
		return "", fmt.Errorf("claim tx %s: %w", shipmentID, ErrClaimNotFound)
	}
	if err != nil {
		return "", wrapDB("claim tx "+shipmentID, err)
	}
	return txHash, nil
}

// UserPolicies implements Ledger.
func (s *session) UserPolicies(ctx context.Context, holder string) ([]uint64, error) {
	rows, err := s.book.db.QueryContext(ctx, `
		SELECT policy_id FROM ledger_policies WHERE holder = ? ORDER BY policy_id ASC
	`, holder)
	if err != nil {
		return nil, wrapDB("user policies", err)
	}
	defer rows.Close()

	ids := []uint64{}
	for rows.Next() {
		var id uint64
		if err := rows.Scan(&id); err != nil {
			return nil, wrapDB("user policies", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, wrapDB("user policies", err)
	}
	return ids, nil
}

// ReadTotals implements Ledger.
func (s *session) ReadTotals(ctx context.Context) (Totals, error) {
	var t Totals
	err := s.book.db.QueryRowContext(ctx, `
		SELECT (SELECT COUNT(*) FROM ledger_policies), (SELECT COUNT(*) FROM ledger_claims)
	`).Scan(&t.TotalPolicies, &t.TotalClaims)
	if err != nil {
		return Totals{}, wrapDB("read totals", err)
	}
	return t, nil
}

// Info implements Ledger.
func (s *session) Info(ctx context.Context) (Info, error) {
	totals, err := s.ReadTotals(ctx)
	if err != nil {
		return Info{}, err
	}

	info := Info{Totals: totals}
	rows, err := s.book.db.QueryContext(ctx, `SELECT key, value FROM ledger_meta`)
	if err != nil {
		return Info{}, wrapDB("read info", err)
	}
	defer rows.Close()

	for rows.Next() {
		var key, value string
		if err := rows.Scan(&key, &value); err != nil {
			return Info{}, wrapDB("read info", err)
		}
		switch key {
		case metaOwner:
			info.Owner = value
		case metaOracle:
			info.Oracle = value
		case metaBalance:
			if info.Balance, err = policy.ParseAmount(value); err != nil {
				return Info{}, fmt.Errorf("corrupt ledger balance %q: %w", value, err)
			}
		}
	}
	if err := rows.Err(); err != nil {
		return Info{}, wrapDB("read info", err)
	}
	return info, nil
}
