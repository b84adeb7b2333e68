package harness

import (
	"context"
	"fmt"
	"sort"

	"github.com/roach88/shipsure/internal/ledger"
	"github.com/roach88/shipsure/internal/oracle"
	"github.com/roach88/shipsure/internal/policy"
	"github.com/roach88/shipsure/internal/store"
)

// AssertionContext provides what assertions read from.
type AssertionContext struct {
	Ctx      context.Context
	Mirror   *store.Store
	Ledger   ledger.Ledger
	Oracle   *oracle.Fixed
	Policies []PolicySetup
}

// AssertionError is returned when an assertion fails.
type AssertionError struct {
	Type     string // Assertion type for categorization
	Subject  string // Shipment or layer the assertion was about
	Expected string // Human-readable expected outcome
	Actual   string // Human-readable actual outcome
}

// Error implements the error interface.
func (e *AssertionError) Error() string {
	if e.Subject != "" {
		return fmt.Sprintf("assertion %s (%s): expected %s, got %s", e.Type, e.Subject, e.Expected, e.Actual)
	}
	return fmt.Sprintf("assertion %s: expected %s, got %s", e.Type, e.Expected, e.Actual)
}

// EvaluateAssertions runs every assertion and returns the failure messages.
func EvaluateAssertions(assertions []Assertion, actx *AssertionContext) []string {
	var errs []string
	for i, a := range assertions {
		if err := evaluate(a, actx); err != nil {
			errs = append(errs, fmt.Sprintf("assertions[%d]: %v", i, err))
		}
	}
	return errs
}

func evaluate(a Assertion, actx *AssertionContext) error {
	switch a.Type {
	case AssertPolicyState:
		return assertPolicyState(a, actx)
	case AssertClaims:
		return assertClaims(a, actx)
	case AssertTracking:
		return assertTracking(a, actx)
	case AssertReserve:
		return assertReserve(a, actx)
	case AssertInSync:
		return assertInSync(actx)
	case AssertOracleCalls:
		if got := actx.Oracle.Calls(a.Shipment); got != a.Count {
			return &AssertionError{Type: a.Type, Subject: a.Shipment,
				Expected: fmt.Sprintf("%d call(s)", a.Count), Actual: fmt.Sprintf("%d", got)}
		}
		return nil
	default:
		return fmt.Errorf("unknown assertion type %q", a.Type)
	}
}

// policyFields is the comparable view of a policy.
func policyFields(p policy.Policy) map[string]any {
	return map[string]any{
		"status":         p.Status.String(),
		"shipmentStatus": p.ShipmentStatus.String(),
		"claimProcessed": p.ClaimProcessed,
	}
}

func assertPolicyState(a Assertion, actx *AssertionContext) error {
	layers := []string{"mirror", "ledger"}
	if a.Layer != "" && a.Layer != "both" {
		layers = []string{a.Layer}
	}

	for _, layer := range layers {
		var (
			p   policy.Policy
			err error
		)
		if layer == "mirror" {
			p, err = actx.Mirror.ReadPolicy(actx.Ctx, a.Shipment)
		} else {
			p, err = actx.Ledger.ReadPolicyByShipment(actx.Ctx, a.Shipment)
		}
		if err != nil {
			return fmt.Errorf("read %s policy %s: %w", layer, a.Shipment, err)
		}
		if msgs := matchSubset(a.Expect, policyFields(p)); len(msgs) > 0 {
			return &AssertionError{Type: a.Type, Subject: layer + " " + a.Shipment,
				Expected: fmt.Sprint(a.Expect), Actual: fmt.Sprint(policyFields(p))}
		}
	}
	return nil
}

func assertClaims(a Assertion, actx *AssertionContext) error {
	claims, err := actx.Mirror.ListClaims(actx.Ctx, a.Shipment)
	if err != nil {
		return err
	}
	if len(claims) != a.Count {
		return &AssertionError{Type: a.Type, Subject: a.Shipment,
			Expected: fmt.Sprintf("%d claim(s)", a.Count), Actual: fmt.Sprintf("%d", len(claims))}
	}
	if a.Amount == "" {
		return nil
	}
	want := policy.MustAmount(a.Amount)
	for _, c := range claims {
		if !c.ClaimAmount.Equal(want) {
			return &AssertionError{Type: a.Type, Subject: a.Shipment,
				Expected: "amount " + want.String(), Actual: c.ClaimAmount.String()}
		}
	}
	return nil
}

func assertTracking(a Assertion, actx *AssertionContext) error {
	entries, err := actx.Mirror.Tracking(actx.Ctx, a.Shipment)
	if err != nil {
		return err
	}
	n := 0
	for _, e := range entries {
		if a.Status == "" || e.Status.String() == a.Status {
			n++
		}
	}
	if n != a.Count {
		what := "tracking entries"
		if a.Status != "" {
			what = a.Status + " " + what
		}
		return &AssertionError{Type: a.Type, Subject: a.Shipment,
			Expected: fmt.Sprintf("%d %s", a.Count, what), Actual: fmt.Sprintf("%d", n)}
	}
	return nil
}

func assertReserve(a Assertion, actx *AssertionContext) error {
	info, err := actx.Ledger.Info(actx.Ctx)
	if err != nil {
		return err
	}
	want := policy.MustAmount(a.Amount)
	if !info.Balance.Equal(want) {
		return &AssertionError{Type: a.Type, Expected: want.String(), Actual: info.Balance.String()}
	}
	return nil
}

func assertInSync(actx *AssertionContext) error {
	for _, ps := range actx.Policies {
		mp, err := actx.Mirror.ReadPolicy(actx.Ctx, ps.Shipment)
		if err != nil {
			return err
		}
		lp, err := actx.Ledger.ReadPolicyByShipment(actx.Ctx, ps.Shipment)
		if err != nil {
			return err
		}
		if mp.Status != lp.Status || mp.ClaimProcessed != lp.ClaimProcessed {
			return &AssertionError{Type: AssertInSync, Subject: ps.Shipment,
				Expected: fmt.Sprintf("ledger %s claimProcessed=%t", lp.Status, lp.ClaimProcessed),
				Actual:   fmt.Sprintf("mirror %s claimProcessed=%t", mp.Status, mp.ClaimProcessed)}
		}
	}
	return nil
}

// matchSubset compares each expected key against actual by printed value,
// which equates YAML ints with Go ints and YAML lists with []any.
// Returns one message per mismatch, in key order.
func matchSubset(expected, actual map[string]any) []string {
	keys := make([]string, 0, len(expected))
	for k := range expected {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var msgs []string
	for _, k := range keys {
		got, ok := actual[k]
		if !ok {
			msgs = append(msgs, fmt.Sprintf("%s: not present in result", k))
			continue
		}
		if fmt.Sprint(expected[k]) != fmt.Sprint(got) {
			msgs = append(msgs, fmt.Sprintf("%s: expected %v, got %v", k, expected[k], got))
		}
	}
	return msgs
}
