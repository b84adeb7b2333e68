package engine

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/roach88/shipsure/internal/ledger"
	"github.com/roach88/shipsure/internal/oracle"
	"github.com/roach88/shipsure/internal/policy"
	"github.com/roach88/shipsure/internal/store"
	"github.com/roach88/shipsure/internal/testutil"
)

const (
	testOwner  = "0xowner"
	testOracle = "0xoracle"
	testHolder = "0xholder"
)

var testStart = time.Date(2025, 3, 14, 9, 0, 0, 0, time.UTC)

// testEnv wires a real ledger book, a real SQLite mirror and a scripted
// oracle around one engine.
type testEnv struct {
	clock  *testutil.FakeClock
	book   *ledger.Book
	ledger ledger.Ledger
	mirror *store.Store
	oracle *oracle.Fixed
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	dir := t.TempDir()
	clock := testutil.NewFakeClock(testStart)

	book, err := ledger.Open(filepath.Join(dir, "ledger.db"), testOwner, ledger.WithClock(clock.Now))
	require.NoError(t, err)
	t.Cleanup(func() { book.Close() })

	ctx := context.Background()
	_, err = book.SetOracle(ctx, testOwner, testOracle)
	require.NoError(t, err)
	_, err = book.Fund(ctx, testOwner, policy.MustAmount("1000"))
	require.NoError(t, err)

	mirror, err := store.Open(filepath.Join(dir, "mirror.db"), store.WithClock(clock.Now))
	require.NoError(t, err)
	t.Cleanup(func() { mirror.Close() })

	return &testEnv{
		clock:  clock,
		book:   book,
		ledger: book.As(testOracle),
		mirror: mirror,
		oracle: oracle.NewFixed(clock.Now),
	}
}

// insure creates the policy on the ledger and projects it into the mirror.
func (env *testEnv) insure(t *testing.T, shipmentID, coverage string) policy.Policy {
	t.Helper()
	amt := policy.MustAmount(coverage)
	p, _, err := env.book.CreatePolicy(context.Background(), testHolder, shipmentID, amt, 30*24*time.Hour, policy.Premium(amt))
	require.NoError(t, err)
	inserted, err := env.mirror.UpsertPolicy(context.Background(), p)
	require.NoError(t, err)
	require.True(t, inserted)
	return p
}

func (env *testEnv) engine(t *testing.T, opts ...Option) *Engine {
	t.Helper()
	return env.engineWith(t, env.mirror, env.ledger, env.oracle, opts...)
}

func (env *testEnv) engineWith(t *testing.T, m Mirror, l ledger.Ledger, o oracle.Oracle, opts ...Option) *Engine {
	t.Helper()
	base := []Option{
		WithClock(env.clock.Now),
		WithCycleIDs(testutil.NewSequentialIDs("cycle")),
		WithCallTimeout(time.Second),
	}
	e, err := New(m, l, o, append(base, opts...)...)
	require.NoError(t, err)
	return e
}

func (env *testEnv) mirrorPolicy(t *testing.T, shipmentID string) policy.Policy {
	t.Helper()
	p, err := env.mirror.ReadPolicy(context.Background(), shipmentID)
	require.NoError(t, err)
	return p
}

func (env *testEnv) ledgerPolicy(t *testing.T, shipmentID string) policy.Policy {
	t.Helper()
	p, err := env.ledger.ReadPolicyByShipment(context.Background(), shipmentID)
	require.NoError(t, err)
	return p
}

// failingLedger wraps a Ledger and fails SubmitStatusUpdate with err while
// err is set.
type failingLedger struct {
	ledger.Ledger
	mu    sync.Mutex
	err   error
	calls int
}

func (f *failingLedger) SubmitStatusUpdate(ctx context.Context, shipmentID string, status policy.ShipmentStatus) (ledger.Receipt, error) {
	f.mu.Lock()
	f.calls++
	err := f.err
	f.mu.Unlock()
	if err != nil {
		return ledger.Receipt{}, err
	}
	return f.Ledger.SubmitStatusUpdate(ctx, shipmentID, status)
}

// cancellingLedger commits SubmitStatusUpdate, then cancels the caller's
// context, as a shutdown signal landing right after the ledger write would.
type cancellingLedger struct {
	ledger.Ledger
	cancel context.CancelFunc
}

func (c *cancellingLedger) SubmitStatusUpdate(ctx context.Context, shipmentID string, status policy.ShipmentStatus) (ledger.Receipt, error) {
	r, err := c.Ledger.SubmitStatusUpdate(ctx, shipmentID, status)
	c.cancel()
	return r, err
}

// failingMirror wraps a Mirror and fails ApplyObservation while failApply
// is set.
type failingMirror struct {
	Mirror
	mu        sync.Mutex
	failApply bool
	failLoad  bool
}

var errMirrorDown = errors.New("mirror unavailable")

func (f *failingMirror) ApplyObservation(ctx context.Context, obs policy.Observation, opts store.ApplyOptions) (store.ApplyResult, error) {
	f.mu.Lock()
	fail := f.failApply
	f.mu.Unlock()
	if fail {
		return store.ApplyResult{}, errMirrorDown
	}
	return f.Mirror.ApplyObservation(ctx, obs, opts)
}

func (f *failingMirror) ActivePoliciesAwaitingCheck(ctx context.Context) ([]policy.PolicyRef, error) {
	if f.failLoad {
		return nil, errMirrorDown
	}
	return f.Mirror.ActivePoliciesAwaitingCheck(ctx)
}

func (f *failingMirror) setFailApply(v bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failApply = v
}
