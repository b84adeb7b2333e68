package engine

import (
	"encoding/json"
	"time"

	"go.uber.org/multierr"

	"github.com/roach88/shipsure/internal/policy"
)

// Outcome is the per-shipment result of a check.
type Outcome string

const (
	OutcomeSuccess Outcome = "success"
	OutcomeSkipped Outcome = "skipped"
	OutcomeError   Outcome = "error"
)

// ShipmentResult reports what happened to one shipment.
type ShipmentResult struct {
	ShipmentID string
	PolicyID   uint64

	// Observed is false when the oracle was unavailable or the shipment was
	// skipped before observing. Status is only meaningful when true.
	Observed bool
	Status   policy.ShipmentStatus

	Outcome      Outcome
	Err          error
	ClaimCreated bool
	LedgerTx     string
}

// Success reports whether the check completed.
func (r ShipmentResult) Success() bool {
	return r.Outcome == OutcomeSuccess
}

// Class returns the error class, or "" when there is no error.
func (r ShipmentResult) Class() string {
	if r.Err == nil {
		return ""
	}
	for _, code := range []ErrorCode{CodeTransient, CodeRejected, CodeInconsistent, CodeConfig} {
		if hasCode(r.Err, code) {
			return code.Class()
		}
	}
	return ""
}

type shipmentResultJSON struct {
	ShipmentID   string `json:"shipmentId"`
	Status       string `json:"status,omitempty"`
	Error        string `json:"error,omitempty"`
	Success      bool   `json:"success"`
	Outcome      string `json:"outcome"`
	Class        string `json:"class,omitempty"`
	ClaimCreated bool   `json:"claimCreated,omitempty"`
	LedgerTx     string `json:"ledgerTx,omitempty"`
}

// MarshalJSON renders {shipmentId, status|error, success} plus detail fields.
func (r ShipmentResult) MarshalJSON() ([]byte, error) {
	out := shipmentResultJSON{
		ShipmentID:   r.ShipmentID,
		Success:      r.Success(),
		Outcome:      string(r.Outcome),
		Class:        r.Class(),
		ClaimCreated: r.ClaimCreated,
		LedgerTx:     r.LedgerTx,
	}
	if r.Observed {
		out.Status = r.Status.String()
	}
	if r.Err != nil {
		out.Error = r.Err.Error()
	}
	return json.Marshal(out)
}

// BatchResult is the outcome of one reconciliation cycle.
type BatchResult struct {
	CycleID      string           `json:"cycleId"`
	StartedAt    time.Time        `json:"startedAt"`
	Results      []ShipmentResult `json:"results"`
	TotalChecked int              `json:"totalChecked"`
	Succeeded    int              `json:"succeeded"`
	Skipped      int              `json:"skipped"`
	Failed       int              `json:"failed"`
	ClaimsPaid   int              `json:"claimsPaid"`
}

// tally fills the counters from Results.
func (b *BatchResult) tally() {
	b.TotalChecked = len(b.Results)
	b.Succeeded, b.Skipped, b.Failed, b.ClaimsPaid = 0, 0, 0, 0
	for _, r := range b.Results {
		switch r.Outcome {
		case OutcomeSuccess:
			b.Succeeded++
		case OutcomeSkipped:
			b.Skipped++
		default:
			b.Failed++
		}
		if r.ClaimCreated {
			b.ClaimsPaid++
		}
	}
}

// Err combines the per-shipment errors, or returns nil if there were none.
func (b BatchResult) Err() error {
	var err error
	for _, r := range b.Results {
		err = multierr.Append(err, r.Err)
	}
	return err
}

// ExpiryResult is the outcome of one expiry sweep.
type ExpiryResult struct {
	Expired []string `json:"expired"`
	Skipped []string `json:"skipped"`
	Failed  []string `json:"failed"`
	err     error
}

// Err combines the per-policy failures of the sweep.
func (r ExpiryResult) Err() error {
	return r.err
}
