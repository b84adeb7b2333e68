package store

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/roach88/shipsure/internal/policy"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestUpsertPolicy_FirstWriteWins(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	p := createTestPolicy(1, "SHIP-001", "1000")
	inserted, err := s.UpsertPolicy(ctx, p)
	require.NoError(t, err)
	assert.True(t, inserted)

	p.Holder = "0xsomeoneelse"
	inserted, err = s.UpsertPolicy(ctx, p)
	require.NoError(t, err)
	assert.False(t, inserted)

	got, err := s.ReadPolicy(ctx, "SHIP-001")
	require.NoError(t, err)
	assert.Equal(t, "0xholder", got.Holder)
	assert.Equal(t, "1000", got.CoverageAmount.String())
	assert.Equal(t, "20", got.Premium.String())
	assert.Equal(t, policy.Active, got.Status)
	assert.Equal(t, policy.InTransit, got.ShipmentStatus)
	assert.False(t, got.ClaimProcessed)
	assert.True(t, got.EndTime.Equal(p.EndTime))
}

func TestUpsertPolicy_EmptyShipment(t *testing.T) {
	s := createTestStore(t)
	_, err := s.UpsertPolicy(context.Background(), createTestPolicy(1, "", "1"))
	assert.Error(t, err)
}

func TestApplyObservation_NonTerminal(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()
	seedPolicy(t, s, createTestPolicy(1, "SHIP-001", "1000"))

	res, err := s.ApplyObservation(ctx, observe("SHIP-001", policy.Delivered), ApplyOptions{})
	require.NoError(t, err)
	assert.NotZero(t, res.TrackingID)
	assert.True(t, res.StatusUpdated)
	assert.False(t, res.ClaimCreated)
	assert.Nil(t, res.Claim)

	got, err := s.ReadPolicy(ctx, "SHIP-001")
	require.NoError(t, err)
	assert.Equal(t, policy.Delivered, got.ShipmentStatus)
	assert.Equal(t, policy.Active, got.Status)
	assert.False(t, got.ClaimProcessed)

	claims, err := s.ListClaims(ctx, "SHIP-001")
	require.NoError(t, err)
	assert.Empty(t, claims)
}

func TestApplyObservation_TerminalCreatesClaim(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()
	seedPolicy(t, s, createTestPolicy(7, "SHIP-007", "2.5"))

	res, err := s.ApplyObservation(ctx, observe("SHIP-007", policy.Damaged), ApplyOptions{LedgerTx: "0xabc"})
	require.NoError(t, err)
	require.True(t, res.ClaimCreated)
	require.NotNil(t, res.Claim)
	assert.NotZero(t, res.Claim.ClaimID)
	assert.Equal(t, uint64(7), res.Claim.PolicyID)
	assert.Equal(t, "0xholder", res.Claim.Claimant)
	assert.Equal(t, "2.5", res.Claim.ClaimAmount.String())
	assert.True(t, res.Claim.Approved)
	assert.True(t, res.Claim.Processed)
	assert.Equal(t, "0xabc", res.Claim.LedgerTx)

	got, err := s.ReadPolicy(ctx, "SHIP-007")
	require.NoError(t, err)
	assert.Equal(t, policy.Claimed, got.Status)
	assert.Equal(t, policy.Damaged, got.ShipmentStatus)
	assert.True(t, got.ClaimProcessed)

	claims, err := s.ListClaims(ctx, "SHIP-007")
	require.NoError(t, err)
	require.Len(t, claims, 1)
	assert.Equal(t, res.Claim.ClaimID, claims[0].ClaimID)
	assert.True(t, claims[0].Timestamp.Equal(testNow))
}

func TestApplyObservation_ReplayIsIdempotent(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()
	seedPolicy(t, s, createTestPolicy(1, "SHIP-001", "1000"))

	first, err := s.ApplyObservation(ctx, observe("SHIP-001", policy.Lost), ApplyOptions{LedgerTx: "0x1"})
	require.NoError(t, err)
	require.True(t, first.ClaimCreated)

	for i := 0; i < 3; i++ {
		again, err := s.ApplyObservation(ctx, observe("SHIP-001", policy.Lost), ApplyOptions{LedgerTx: "0x2"})
		require.NoError(t, err)
		assert.False(t, again.ClaimCreated)
		assert.False(t, again.StatusUpdated)
		assert.NotZero(t, again.TrackingID)
	}

	claims, err := s.ListClaims(ctx, "SHIP-001")
	require.NoError(t, err)
	require.Len(t, claims, 1)
	assert.Equal(t, "0x1", claims[0].LedgerTx)

	// Every observation is logged, including the duplicates.
	entries, err := s.Tracking(ctx, "SHIP-001")
	require.NoError(t, err)
	assert.Len(t, entries, 4)
}

func TestApplyObservation_ConcurrentTerminalSingleClaim(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()
	seedPolicy(t, s, createTestPolicy(1, "SHIP-001", "1000"))

	const workers = 8
	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		created int
	)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			res, err := s.ApplyObservation(ctx, observe("SHIP-001", policy.Damaged), ApplyOptions{})
			assert.NoError(t, err)
			if res.ClaimCreated {
				mu.Lock()
				created++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, created)
	claims, err := s.ListClaims(ctx, "SHIP-001")
	require.NoError(t, err)
	assert.Len(t, claims, 1)
}

func TestApplyObservation_AfterClaimDoesNotChangeStatus(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()
	seedPolicy(t, s, createTestPolicy(1, "SHIP-001", "1000"))

	_, err := s.ApplyObservation(ctx, observe("SHIP-001", policy.Damaged), ApplyOptions{})
	require.NoError(t, err)

	res, err := s.ApplyObservation(ctx, observe("SHIP-001", policy.Delivered), ApplyOptions{})
	require.NoError(t, err)
	assert.False(t, res.StatusUpdated)

	got, err := s.ReadPolicy(ctx, "SHIP-001")
	require.NoError(t, err)
	assert.Equal(t, policy.Damaged, got.ShipmentStatus)
	assert.Equal(t, policy.Claimed, got.Status)
}

func TestApplyObservation_UnknownShipment(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	_, err := s.ApplyObservation(ctx, observe("SHIP-404", policy.Delivered), ApplyOptions{})
	assert.ErrorIs(t, err, ErrNotFound)

	entries, err := s.Tracking(ctx, "SHIP-404")
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestApplyObservation_RejectsUnavailable(t *testing.T) {
	s := createTestStore(t)
	seedPolicy(t, s, createTestPolicy(1, "SHIP-001", "1000"))

	obs := policy.UnavailableObservation("SHIP-001", assert.AnError)
	_, err := s.ApplyObservation(context.Background(), obs, ApplyOptions{})
	assert.Error(t, err)
}

func TestApplyObservation_FallbackTimestamp(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()
	seedPolicy(t, s, createTestPolicy(1, "SHIP-001", "1000"))

	obs := observe("SHIP-001", policy.InTransit)
	obs.Timestamp = time.Time{}
	_, err := s.ApplyObservation(ctx, obs, ApplyOptions{})
	require.NoError(t, err)

	entries, err := s.Tracking(ctx, "SHIP-001")
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.True(t, entries[0].Timestamp.Equal(testNow))
}

func TestTracking_AppendOnly(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()
	seedPolicy(t, s, createTestPolicy(1, "SHIP-001", "1000"))

	_, err := s.ApplyObservation(ctx, observe("SHIP-001", policy.InTransit), ApplyOptions{})
	require.NoError(t, err)

	_, err = s.db.Exec(`UPDATE tracking SET status = 'Lost'`)
	assert.ErrorContains(t, err, "append-only")

	_, err = s.db.Exec(`DELETE FROM tracking`)
	assert.ErrorContains(t, err, "append-only")
}

func TestPolicies_StatusMonotonic(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()
	seedPolicy(t, s, createTestPolicy(1, "SHIP-001", "1000"))

	_, err := s.ApplyObservation(ctx, observe("SHIP-001", policy.Lost), ApplyOptions{})
	require.NoError(t, err)

	_, err = s.db.Exec(`UPDATE policies SET status = 'Active' WHERE shipment_id = 'SHIP-001'`)
	assert.ErrorContains(t, err, "terminal")

	_, err = s.db.Exec(`UPDATE policies SET claim_processed = 0 WHERE shipment_id = 'SHIP-001'`)
	assert.ErrorContains(t, err, "cannot be reset")

	_, err = s.db.Exec(`UPDATE claims SET claim_amount = '0'`)
	assert.ErrorContains(t, err, "immutable")
}

func TestMarkExpired(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()
	seedPolicy(t, s, createTestPolicy(1, "SHIP-001", "1000"))
	seedPolicy(t, s, createTestPolicy(2, "SHIP-002", "1000"))

	_, err := s.ApplyObservation(ctx, observe("SHIP-002", policy.Lost), ApplyOptions{})
	require.NoError(t, err)

	ok, err := s.MarkExpired(ctx, "SHIP-001")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = s.MarkExpired(ctx, "SHIP-001")
	require.NoError(t, err)
	assert.False(t, ok, "second expiry is a no-op")

	ok, err = s.MarkExpired(ctx, "SHIP-002")
	require.NoError(t, err)
	assert.False(t, ok, "claimed policy never expires")

	_, err = s.MarkExpired(ctx, "SHIP-404")
	assert.ErrorIs(t, err, ErrNotFound)

	got, err := s.ReadPolicy(ctx, "SHIP-001")
	require.NoError(t, err)
	assert.Equal(t, policy.Expired, got.Status)
}

func TestDuePolicies(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	due := createTestPolicy(1, "SHIP-DUE", "1")
	due.EndTime = testNow.Add(-time.Minute)
	seedPolicy(t, s, due)

	edge := createTestPolicy(2, "SHIP-EDGE", "1")
	edge.EndTime = testNow
	seedPolicy(t, s, edge)

	seedPolicy(t, s, createTestPolicy(3, "SHIP-LATER", "1"))

	refs, err := s.DuePolicies(ctx, testNow)
	require.NoError(t, err)
	require.Len(t, refs, 2)
	assert.Equal(t, "SHIP-DUE", refs[0].ShipmentID)
	assert.Equal(t, "SHIP-EDGE", refs[1].ShipmentID)
}
