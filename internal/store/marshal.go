package store

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/roach88/shipsure/internal/policy"
)

// Timestamps are stored as Unix nanoseconds so SQLite and Postgres order
// them identically.
func toUnixNano(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixNano()
}

func fromUnixNano(n int64) time.Time {
	if n == 0 {
		return time.Time{}
	}
	return time.Unix(0, n).UTC()
}

// rowScanner is satisfied by *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

const policyColumns = `policy_id, shipment_id, holder, coverage_amount, premium,
		start_time, end_time, status, shipment_status, claim_processed`

func scanPolicy(row rowScanner) (policy.Policy, error) {
	var (
		p              policy.Policy
		start, end     int64
		status, shipSt string
	)
	err := row.Scan(
		&p.PolicyID,
		&p.ShipmentID,
		&p.Holder,
		&p.CoverageAmount,
		&p.Premium,
		&start,
		&end,
		&status,
		&shipSt,
		&p.ClaimProcessed,
	)
	if err != nil {
		return policy.Policy{}, err
	}

	p.StartTime = fromUnixNano(start)
	p.EndTime = fromUnixNano(end)
	if p.Status, err = policy.ParsePolicyStatus(status); err != nil {
		return policy.Policy{}, fmt.Errorf("scan policy %s: %w", p.ShipmentID, err)
	}
	if p.ShipmentStatus, err = policy.ParseShipmentStatus(shipSt); err != nil {
		return policy.Policy{}, fmt.Errorf("scan policy %s: %w", p.ShipmentID, err)
	}
	return p, nil
}

const claimColumns = `claim_id, policy_id, shipment_id, claimant, claim_amount,
		timestamp, approved, processed, ledger_tx`

func scanClaim(row rowScanner) (policy.Claim, error) {
	var (
		c  policy.Claim
		ts int64
	)
	err := row.Scan(
		&c.ClaimID,
		&c.PolicyID,
		&c.ShipmentID,
		&c.Claimant,
		&c.ClaimAmount,
		&ts,
		&c.Approved,
		&c.Processed,
		&c.LedgerTx,
	)
	if err != nil {
		return policy.Claim{}, err
	}
	c.Timestamp = fromUnixNano(ts)
	return c, nil
}

const trackingColumns = `id, shipment_id, status, location, note, timestamp`

func scanTracking(row rowScanner) (policy.TrackingEntry, error) {
	var (
		e      policy.TrackingEntry
		status string
		ts     int64
	)
	if err := row.Scan(&e.ID, &e.ShipmentID, &status, &e.Location, &e.Note, &ts); err != nil {
		return policy.TrackingEntry{}, err
	}
	var err error
	if e.Status, err = policy.ParseShipmentStatus(status); err != nil {
		return policy.TrackingEntry{}, fmt.Errorf("scan tracking %d: %w", e.ID, err)
	}
	e.Timestamp = fromUnixNano(ts)
	return e, nil
}

// notFound maps sql.ErrNoRows to ErrNotFound with context.
func notFound(err error, what, id string) error {
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("%s %q: %w", what, id, ErrNotFound)
	}
	return fmt.Errorf("read %s %q: %w", what, id, err)
}
