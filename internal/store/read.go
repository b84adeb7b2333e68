package store

import (
	"context"
	"fmt"

	"github.com/roach88/shipsure/internal/policy"
)

// ActivePoliciesAwaitingCheck returns Active, unclaimed policies whose shipment
// is still InTransit, ordered by policy_id so batches are reproducible.
func (s *Store) ActivePoliciesAwaitingCheck(ctx context.Context) ([]policy.PolicyRef, error) {
	rows, err := s.db.QueryContext(ctx, s.rebind(`
		SELECT policy_id, shipment_id, holder, coverage_amount, status
		FROM policies
		WHERE status = ? AND shipment_status = ? AND claim_processed = ?
		ORDER BY policy_id ASC
	`), policy.Active.String(), policy.InTransit.String(), false)
	if err != nil {
		return nil, fmt.Errorf("query active policies: %w", err)
	}
	return collectRefs(rows)
}

// ReadPolicy returns the mirrored policy for a shipment.
// Returns ErrNotFound if there is none.
func (s *Store) ReadPolicy(ctx context.Context, shipmentID string) (policy.Policy, error) {
	row := s.db.QueryRowContext(ctx, s.rebind(`
		SELECT `+policyColumns+`
		FROM policies WHERE shipment_id = ?
	`), shipmentID)
	p, err := scanPolicy(row)
	if err != nil {
		return policy.Policy{}, notFound(err, "policy for shipment", shipmentID)
	}
	return p, nil
}

// ListClaims returns claims ordered by claim_id. An empty shipmentID lists
// every claim.
func (s *Store) ListClaims(ctx context.Context, shipmentID string) ([]policy.Claim, error) {
	query := `SELECT ` + claimColumns + ` FROM claims`
	var args []any
	if shipmentID != "" {
		query += ` WHERE shipment_id = ?`
		args = append(args, shipmentID)
	}
	query += ` ORDER BY claim_id ASC`

	rows, err := s.db.QueryContext(ctx, s.rebind(query), args...)
	if err != nil {
		return nil, fmt.Errorf("query claims: %w", err)
	}
	defer rows.Close()

	claims := []policy.Claim{}
	for rows.Next() {
		c, err := scanClaim(rows)
		if err != nil {
			return nil, fmt.Errorf("scan claim: %w", err)
		}
		claims = append(claims, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate claims: %w", err)
	}
	return claims, nil
}

// Tracking returns the tracking history of a shipment, newest first.
// Ties on timestamp are broken by id so the order is deterministic.
func (s *Store) Tracking(ctx context.Context, shipmentID string) ([]policy.TrackingEntry, error) {
	rows, err := s.db.QueryContext(ctx, s.rebind(`
		SELECT `+trackingColumns+`
		FROM tracking
		WHERE shipment_id = ?
		ORDER BY timestamp DESC, id DESC
	`), shipmentID)
	if err != nil {
		return nil, fmt.Errorf("query tracking %s: %w", shipmentID, err)
	}
	defer rows.Close()

	entries := []policy.TrackingEntry{}
	for rows.Next() {
		e, err := scanTracking(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate tracking %s: %w", shipmentID, err)
	}
	return entries, nil
}

// Stats summarizes the mirror.
type Stats struct {
	TotalTrackings int64 `json:"totalTrackings"`
	InTransit      int64 `json:"inTransit"`
	Delivered      int64 `json:"delivered"`
	Damaged        int64 `json:"damaged"`
	Lost           int64 `json:"lost"`
	TotalClaims    int64 `json:"totalClaims"`
	ActivePolicies int64 `json:"activePolicies"`
}

// Stats counts tracking rows by status, claims, and active policies.
func (s *Store) Stats(ctx context.Context) (Stats, error) {
	var st Stats

	rows, err := s.db.QueryContext(ctx, `SELECT status, COUNT(*) FROM tracking GROUP BY status`)
	if err != nil {
		return Stats{}, fmt.Errorf("query tracking stats: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			status string
			n      int64
		)
		if err := rows.Scan(&status, &n); err != nil {
			return Stats{}, fmt.Errorf("scan tracking stats: %w", err)
		}
		st.TotalTrackings += n
		switch status {
		case policy.InTransit.String():
			st.InTransit = n
		case policy.Delivered.String():
			st.Delivered = n
		case policy.Damaged.String():
			st.Damaged = n
		case policy.Lost.String():
			st.Lost = n
		}
	}
	if err := rows.Err(); err != nil {
		return Stats{}, fmt.Errorf("iterate tracking stats: %w", err)
	}

	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM claims`).Scan(&st.TotalClaims); err != nil {
		return Stats{}, fmt.Errorf("count claims: %w", err)
	}
	if err := s.db.QueryRowContext(ctx, s.rebind(`
		SELECT COUNT(*) FROM policies WHERE status = ? AND claim_processed = ?
	`), policy.Active.String(), false).Scan(&st.ActivePolicies); err != nil {
		return Stats{}, fmt.Errorf("count active policies: %w", err)
	}
	return st, nil
}
