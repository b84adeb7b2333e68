package harness

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/multierr"

	"github.com/roach88/shipsure/internal/engine"
	"github.com/roach88/shipsure/internal/ledger"
	"github.com/roach88/shipsure/internal/oracle"
	"github.com/roach88/shipsure/internal/policy"
	"github.com/roach88/shipsure/internal/store"
	"github.com/roach88/shipsure/internal/testutil"
)

// Identities used on the scenario ledger.
const (
	Owner       = "0xowner"
	OracleIdent = "0xoracle"
)

// Epoch is the fake clock's start time for every scenario.
var Epoch = time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)

// Harness holds one scenario's wiring.
type Harness struct {
	clock  *testutil.FakeClock
	book   *ledger.Book
	mirror *store.Store
	oracle *oracle.Fixed
	engine *engine.Engine
}

// Run executes a scenario and returns the result.
//
// Each scenario runs against fresh in-memory ledger and mirror databases.
// A non-nil error means the scenario could not be set up; failed
// expectations are reported in Result.Errors.
func Run(scenario *Scenario) (res *Result, err error) {
	h, err := newHarness()
	if err != nil {
		return nil, err
	}
	defer func() {
		err = multierr.Append(err, h.Close())
	}()

	ctx := context.Background()
	if err := h.setup(ctx, scenario); err != nil {
		return nil, fmt.Errorf("failed to execute setup: %w", err)
	}

	result := NewResult()
	for i, step := range scenario.Flow {
		summary, err := h.execute(ctx, step)
		if err != nil {
			return nil, fmt.Errorf("flow[%d] %s: %w", i, step.Step, err)
		}
		result.addTrace(step.Step, summary)
		for _, msg := range matchSubset(step.Expect, summary) {
			result.AddError(fmt.Sprintf("flow[%d] %s: %s", i, step.Step, msg))
		}
	}

	actx := &AssertionContext{
		Ctx:      ctx,
		Mirror:   h.mirror,
		Ledger:   h.book.As(Owner),
		Oracle:   h.oracle,
		Policies: scenario.Policies,
	}
	for _, msg := range EvaluateAssertions(scenario.Assertions, actx) {
		result.AddError(msg)
	}
	return result, nil
}

func newHarness() (*Harness, error) {
	clock := testutil.NewFakeClock(Epoch)

	book, err := ledger.Open(":memory:", Owner, ledger.WithClock(clock.Now))
	if err != nil {
		return nil, fmt.Errorf("failed to create ledger: %w", err)
	}
	mirror, err := store.Open(":memory:", store.WithClock(clock.Now))
	if err != nil {
		book.Close()
		return nil, fmt.Errorf("failed to create mirror: %w", err)
	}

	orc := oracle.NewFixed(clock.Now)
	eng, err := engine.New(mirror, book.As(OracleIdent), orc,
		engine.WithClock(clock.Now),
		engine.WithCycleIDs(testutil.NewSequentialIDs("cycle")),
	)
	if err != nil {
		book.Close()
		mirror.Close()
		return nil, err
	}

	return &Harness{clock: clock, book: book, mirror: mirror, oracle: orc, engine: eng}, nil
}

// Close releases the scenario databases.
func (h *Harness) Close() error {
	return multierr.Combine(h.mirror.Close(), h.book.Close())
}

func (h *Harness) setup(ctx context.Context, s *Scenario) error {
	if _, err := h.book.SetOracle(ctx, Owner, OracleIdent); err != nil {
		return err
	}
	if s.Reserve != "" {
		if _, err := h.book.Fund(ctx, Owner, policy.MustAmount(s.Reserve)); err != nil {
			return err
		}
	}

	for _, ps := range s.Policies {
		holder := ps.Holder
		if holder == "" {
			holder = DefaultHolder
		}
		duration := ps.Duration
		if duration == 0 {
			duration = DefaultDuration
		}
		coverage := policy.MustAmount(ps.Coverage)
		p, _, err := h.book.CreatePolicy(ctx, holder, ps.Shipment, coverage, duration, policy.Premium(coverage))
		if err != nil {
			return err
		}
		if _, err := h.mirror.UpsertPolicy(ctx, p); err != nil {
			return err
		}
	}

	for shipment, steps := range s.Oracle {
		for _, st := range steps {
			if st.Error != "" {
				h.oracle.Fail(shipment, errors.New(st.Error))
				continue
			}
			status, err := policy.ParseShipmentStatus(st.Status)
			if err != nil {
				return err
			}
			h.oracle.Statuses(shipment, status)
		}
	}
	return nil
}

// execute runs one step and returns its summary.
func (h *Harness) execute(ctx context.Context, step Step) (map[string]any, error) {
	switch step.Step {
	case StepCycle:
		batch, err := h.engine.RunCycle(ctx)
		if err != nil {
			return nil, err
		}
		return summarizeBatch(batch), nil

	case StepCheck:
		res, err := h.engine.CheckShipment(ctx, step.Shipment)
		if err != nil {
			return nil, err
		}
		return summarizeShipment(res), nil

	case StepExpire:
		res, err := h.engine.SweepExpired(ctx)
		if err != nil {
			return nil, err
		}
		return map[string]any{
			"expired": toAnySlice(res.Expired),
			"skipped": toAnySlice(res.Skipped),
			"failed":  toAnySlice(res.Failed),
		}, nil

	case StepAdvance:
		now := h.clock.Advance(step.Duration)
		return map[string]any{"now": now.Format(time.RFC3339)}, nil

	default:
		return nil, fmt.Errorf("unknown step %q", step.Step)
	}
}

func summarizeBatch(b engine.BatchResult) map[string]any {
	results := make([]any, len(b.Results))
	for i, r := range b.Results {
		results[i] = summarizeShipment(r)
	}
	return map[string]any{
		"cycleId":      b.CycleID,
		"totalChecked": b.TotalChecked,
		"succeeded":    b.Succeeded,
		"skipped":      b.Skipped,
		"failed":       b.Failed,
		"claimsPaid":   b.ClaimsPaid,
		"results":      results,
	}
}

// summarizeShipment leaves out the ledger tx hash and error text so
// summaries stay comparable across runs.
func summarizeShipment(r engine.ShipmentResult) map[string]any {
	m := map[string]any{
		"shipmentId":   r.ShipmentID,
		"outcome":      string(r.Outcome),
		"claimCreated": r.ClaimCreated,
	}
	if r.Observed {
		m["status"] = r.Status.String()
	}
	if c := r.Class(); c != "" {
		m["class"] = c
	}
	return m
}

func toAnySlice(ss []string) []any {
	out := make([]any, len(ss))
	for i, s := range ss {
		out[i] = s
	}
	return out
}
