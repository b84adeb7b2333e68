package ledger

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/shipsure/internal/policy"
)

const (
	testOwner  = "0xowner"
	testOracle = "0xoracle"
	testHolder = "0xholder"
)

var testNow = time.Date(2025, 3, 14, 9, 0, 0, 0, time.UTC)

// createTestBook opens a ledger in a temp dir with the oracle configured and
// a reserve of 100.
func createTestBook(t *testing.T) *Book {
	t.Helper()
	b, err := Open(filepath.Join(t.TempDir(), "ledger.db"), testOwner, WithClock(func() time.Time { return testNow }))
	require.NoError(t, err)
	t.Cleanup(func() { b.Close() })

	ctx := context.Background()
	_, err = b.SetOracle(ctx, testOwner, testOracle)
	require.NoError(t, err)
	_, err = b.Fund(ctx, testOwner, policy.MustAmount("100"))
	require.NoError(t, err)
	return b
}

func createTestPolicy(t *testing.T, b *Book, shipmentID, coverage string) policy.Policy {
	t.Helper()
	amt := policy.MustAmount(coverage)
	p, _, err := b.CreatePolicy(context.Background(), testHolder, shipmentID, amt, 30*24*time.Hour, policy.Premium(amt))
	require.NoError(t, err)
	return p
}

func balance(t *testing.T, b *Book) string {
	t.Helper()
	info, err := b.As(testOwner).Info(context.Background())
	require.NoError(t, err)
	return info.Balance.String()
}

func TestOpen_RequiresOwner(t *testing.T) {
	_, err := Open(filepath.Join(t.TempDir(), "ledger.db"), "")
	assert.Error(t, err)
}

func TestOpen_OwnerMismatch(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ledger.db")
	b, err := Open(path, testOwner)
	require.NoError(t, err)
	require.NoError(t, b.Close())

	_, err = Open(path, "0xintruder")
	assert.ErrorContains(t, err, "does not match")

	b, err = Open(path, testOwner)
	require.NoError(t, err)
	b.Close()
}

func TestOpen_OracleDefaultsToOwner(t *testing.T) {
	b, err := Open(filepath.Join(t.TempDir(), "ledger.db"), testOwner)
	require.NoError(t, err)
	defer b.Close()

	oracle, err := b.Oracle(context.Background())
	require.NoError(t, err)
	assert.Equal(t, testOwner, oracle)
}

func TestCreatePolicy_PremiumAndIDs(t *testing.T) {
	b := createTestBook(t)

	p1 := createTestPolicy(t, b, "SHIP-001", "1.0")
	p2 := createTestPolicy(t, b, "SHIP-002", "2.0")

	assert.Equal(t, uint64(1), p1.PolicyID)
	assert.Equal(t, uint64(2), p2.PolicyID)
	assert.Equal(t, "0.02", p1.Premium.String())
	assert.Equal(t, policy.Active, p1.Status)
	assert.Equal(t, policy.InTransit, p1.ShipmentStatus)
	assert.True(t, p1.EndTime.Equal(testNow.Add(30*24*time.Hour)))
	assert.Equal(t, "100.06", balance(t, b))

	got, err := b.As(testHolder).ReadPolicy(context.Background(), 1)
	require.NoError(t, err)
	assert.Equal(t, "SHIP-001", got.ShipmentID)
	assert.Equal(t, "0.02", got.Premium.String())
}

func TestCreatePolicy_Rejections(t *testing.T) {
	b := createTestBook(t)
	ctx := context.Background()
	createTestPolicy(t, b, "SHIP-001", "1")

	one := policy.MustAmount("1")

	_, _, err := b.CreatePolicy(ctx, testHolder, "SHIP-001", one, time.Hour, policy.Premium(one))
	assert.ErrorIs(t, err, ErrShipmentInsured)
	assert.ErrorContains(t, err, "shipment already insured")

	_, _, err = b.CreatePolicy(ctx, testHolder, "SHIP-002", one, time.Hour, policy.MustAmount("0.01"))
	assert.ErrorIs(t, err, ErrPremiumMismatch)

	_, _, err = b.CreatePolicy(ctx, testHolder, "SHIP-003", policy.MustAmount("0"), time.Hour, policy.MustAmount("0"))
	assert.ErrorIs(t, err, ErrInvalidCoverage)

	_, _, err = b.CreatePolicy(ctx, testHolder, "SHIP-004", one, 0, policy.Premium(one))
	assert.ErrorIs(t, err, ErrInvalidDuration)

	totals, err := b.As(testHolder).ReadTotals(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint64(1), totals.TotalPolicies)
}

func TestSubmitStatusUpdate_OnlyOracle(t *testing.T) {
	b := createTestBook(t)
	createTestPolicy(t, b, "SHIP-001", "1")

	_, err := b.As(testHolder).SubmitStatusUpdate(context.Background(), "SHIP-001", policy.Damaged)
	assert.ErrorIs(t, err, ErrUnauthorized)
	assert.ErrorContains(t, err, "only oracle can call this function")
	assert.True(t, IsRejected(err))

	p, err := b.As(testHolder).ReadPolicyByShipment(context.Background(), "SHIP-001")
	require.NoError(t, err)
	assert.Equal(t, policy.Active, p.Status)
	assert.Equal(t, policy.InTransit, p.ShipmentStatus)
}

func TestSubmitStatusUpdate_InvalidStatusAndUnknown(t *testing.T) {
	b := createTestBook(t)
	createTestPolicy(t, b, "SHIP-001", "1")
	oracle := b.As(testOracle)

	_, err := oracle.SubmitStatusUpdate(context.Background(), "SHIP-001", policy.ShipmentStatus(9))
	assert.ErrorIs(t, err, ErrInvalidStatus)

	_, err = oracle.SubmitStatusUpdate(context.Background(), "SHIP-404", policy.Delivered)
	assert.ErrorIs(t, err, ErrPolicyNotFound)
}

func TestSubmitStatusUpdate_Delivered(t *testing.T) {
	b := createTestBook(t)
	createTestPolicy(t, b, "SHIP-001", "1")
	ctx := context.Background()

	r, err := b.As(testOracle).SubmitStatusUpdate(ctx, "SHIP-001", policy.Delivered)
	require.NoError(t, err)
	assert.False(t, r.ClaimPaid)
	require.Len(t, r.Events, 1)
	assert.Equal(t, EventShipmentStatusUpdated, r.Events[0].Kind)
	_, ok := r.Claim()
	assert.False(t, ok)

	p, err := b.As(testOracle).ReadPolicyByShipment(ctx, "SHIP-001")
	require.NoError(t, err)
	assert.Equal(t, policy.Delivered, p.ShipmentStatus)
	assert.Equal(t, policy.Active, p.Status)
}

func TestSubmitStatusUpdate_DamagedPaysOnce(t *testing.T) {
	b := createTestBook(t)
	createTestPolicy(t, b, "SHIP100", "2.0")
	oracle := b.As(testOracle)
	ctx := context.Background()

	r, err := oracle.SubmitStatusUpdate(ctx, "SHIP100", policy.Damaged)
	require.NoError(t, err)
	assert.True(t, r.ClaimPaid)
	assert.Equal(t, "2", r.Payout.String())

	claim, ok := r.Claim()
	require.True(t, ok)
	assert.Equal(t, uint64(1), claim.ClaimID)
	assert.Equal(t, uint64(1), claim.PolicyID)
	assert.Equal(t, "2", claim.Amount.String())
	assert.Equal(t, testHolder, claim.Identity)

	p, err := oracle.ReadPolicyByShipment(ctx, "SHIP100")
	require.NoError(t, err)
	assert.Equal(t, policy.Claimed, p.Status)
	assert.True(t, p.ClaimProcessed)
	assert.Equal(t, "98.04", balance(t, b))

	_, err = oracle.SubmitStatusUpdate(ctx, "SHIP100", policy.Lost)
	assert.ErrorIs(t, err, ErrPolicyTerminal)
	assert.False(t, IsRejected(err))
	assert.Equal(t, "98.04", balance(t, b))

	totals, err := oracle.ReadTotals(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint64(1), totals.TotalClaims)
}

func TestSubmitStatusUpdate_ConcurrentTerminalPaysOnce(t *testing.T) {
	b := createTestBook(t)
	createTestPolicy(t, b, "SHIP-001", "1")
	oracle := b.As(testOracle)

	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		paid int
	)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			r, err := oracle.SubmitStatusUpdate(context.Background(), "SHIP-001", policy.Lost)
			if err == nil && r.ClaimPaid {
				mu.Lock()
				paid++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, paid)
}

func TestSubmitStatusUpdate_InsufficientReserveRollsBack(t *testing.T) {
	b, err := Open(filepath.Join(t.TempDir(), "ledger.db"), testOwner)
	require.NoError(t, err)
	defer b.Close()
	ctx := context.Background()

	createTestPolicy(t, b, "SHIP-001", "10")

	_, err = b.As(testOwner).SubmitStatusUpdate(ctx, "SHIP-001", policy.Lost)
	assert.ErrorIs(t, err, ErrInsufficientReserve)

	p, err := b.As(testOwner).ReadPolicyByShipment(ctx, "SHIP-001")
	require.NoError(t, err)
	assert.Equal(t, policy.Active, p.Status)
	assert.Equal(t, policy.InTransit, p.ShipmentStatus)
	assert.False(t, p.ClaimProcessed)
}

func TestSetOracle_OwnerOnly(t *testing.T) {
	b := createTestBook(t)
	ctx := context.Background()
	createTestPolicy(t, b, "SHIP-001", "1")

	_, err := b.SetOracle(ctx, testHolder, "0xnew")
	assert.ErrorIs(t, err, ErrNotOwner)

	_, err = b.SetOracle(ctx, testOwner, "0xnew")
	require.NoError(t, err)

	_, err = b.As(testOracle).SubmitStatusUpdate(ctx, "SHIP-001", policy.Delivered)
	assert.ErrorIs(t, err, ErrUnauthorized)

	_, err = b.As("0xnew").SubmitStatusUpdate(ctx, "SHIP-001", policy.Delivered)
	assert.NoError(t, err)
}

func TestExpire(t *testing.T) {
	b := createTestBook(t)
	ctx := context.Background()
	p := createTestPolicy(t, b, "SHIP-001", "1")
	oracle := b.As(testOracle)

	_, err := oracle.Expire(ctx, "SHIP-001", testNow)
	assert.ErrorIs(t, err, ErrNotDue)

	_, err = b.As(testHolder).Expire(ctx, "SHIP-001", p.EndTime)
	assert.ErrorIs(t, err, ErrUnauthorized)

	r, err := oracle.Expire(ctx, "SHIP-001", p.EndTime)
	require.NoError(t, err)
	require.Len(t, r.Events, 1)
	assert.Equal(t, EventPolicyExpired, r.Events[0].Kind)

	got, err := oracle.ReadPolicyByShipment(ctx, "SHIP-001")
	require.NoError(t, err)
	assert.Equal(t, policy.Expired, got.Status)

	_, err = oracle.Expire(ctx, "SHIP-001", p.EndTime)
	assert.ErrorIs(t, err, ErrPolicyTerminal)

	_, err = oracle.SubmitStatusUpdate(ctx, "SHIP-001", policy.Lost)
	assert.ErrorIs(t, err, ErrPolicyTerminal)
}

func TestReceipt_TxHashAndBlocks(t *testing.T) {
	b := createTestBook(t)
	createTestPolicy(t, b, "SHIP-001", "1")
	createTestPolicy(t, b, "SHIP-002", "1")
	oracle := b.As(testOracle)
	ctx := context.Background()

	r1, err := oracle.SubmitStatusUpdate(ctx, "SHIP-001", policy.InTransit)
	require.NoError(t, err)
	r2, err := oracle.SubmitStatusUpdate(ctx, "SHIP-002", policy.InTransit)
	require.NoError(t, err)

	assert.Greater(t, r2.BlockNumber, r1.BlockNumber)
	assert.Len(t, r1.TxHash, 66)
	assert.NotEqual(t, r1.TxHash, r2.TxHash)

	want, err := txHash("SHIP-001", policy.InTransit, r1.BlockNumber)
	require.NoError(t, err)
	assert.Equal(t, want, r1.TxHash)
}

func TestUserPoliciesAndInfo(t *testing.T) {
	b := createTestBook(t)
	ctx := context.Background()
	createTestPolicy(t, b, "SHIP-001", "1")
	createTestPolicy(t, b, "SHIP-002", "1")

	ids, err := b.As(testHolder).UserPolicies(ctx, testHolder)
	require.NoError(t, err)
	assert.Equal(t, []uint64{1, 2}, ids)

	none, err := b.As(testHolder).UserPolicies(ctx, "0xnobody")
	require.NoError(t, err)
	assert.Empty(t, none)

	info, err := b.As(testHolder).Info(ctx)
	require.NoError(t, err)
	assert.Equal(t, testOwner, info.Owner)
	assert.Equal(t, testOracle, info.Oracle)
	assert.Equal(t, uint64(2), info.TotalPolicies)
	assert.Equal(t, "100.04", info.Balance.String())
}

func TestClaimTx(t *testing.T) {
	b := createTestBook(t)
	createTestPolicy(t, b, "SHIP-1", "2")
	createTestPolicy(t, b, "SHIP-2", "2")
	l := b.As(testOracle)
	ctx := context.Background()

	_, err := l.SubmitStatusUpdate(ctx, "SHIP-1", policy.InTransit)
	require.NoError(t, err)
	r, err := l.SubmitStatusUpdate(ctx, "SHIP-1", policy.Lost)
	require.NoError(t, err)

	txHash, err := l.ClaimTx(ctx, "SHIP-1")
	require.NoError(t, err)
	assert.Equal(t, r.TxHash, txHash)

	_, err = l.ClaimTx(ctx, "SHIP-2")
	assert.ErrorIs(t, err, ErrClaimNotFound)
	_, err = l.ClaimTx(ctx, "NOPE")
	assert.ErrorIs(t, err, ErrClaimNotFound)
}
