package ledger

import (
	"context"
	"time"

	"github.com/roach88/shipsure/internal/policy"
)

// Ledger is a caller-bound handle on the authoritative ledger.
type Ledger interface {
	// SubmitStatusUpdate records an oracle status for a shipment. On Damaged
	// or Lost for an Active policy it also approves and pays the claim.
	SubmitStatusUpdate(ctx context.Context, shipmentID string, status policy.ShipmentStatus) (Receipt, error)

	// Expire moves an Active, unclaimed policy past its end time to Expired.
	Expire(ctx context.Context, shipmentID string, now time.Time) (Receipt, error)

	ReadPolicy(ctx context.Context, policyID uint64) (policy.Policy, error)
	ReadPolicyByShipment(ctx context.Context, shipmentID string) (policy.Policy, error)

	// ClaimTx returns the hash of the transaction that paid a shipment's
	// claim, or ErrClaimNotFound.
	ClaimTx(ctx context.Context, shipmentID string) (string, error)
	UserPolicies(ctx context.Context, holder string) ([]uint64, error)
	ReadTotals(ctx context.Context) (Totals, error)
	Info(ctx context.Context) (Info, error)
}

// EventKind names a ledger event.
type EventKind string

const (
	EventPolicyCreated         EventKind = "PolicyCreated"
	EventShipmentStatusUpdated EventKind = "ShipmentStatusUpdated"
	EventClaimApproved         EventKind = "ClaimApproved"
	EventPolicyExpired         EventKind = "PolicyExpired"
	EventOracleUpdated         EventKind = "OracleUpdated"
	EventFunded                EventKind = "Funded"
)

// Event is one entry in a receipt's event log. Only the fields relevant to
// the kind are set.
type Event struct {
	Kind       EventKind             `json:"kind"`
	PolicyID   uint64                `json:"policyId,omitempty"`
	ClaimID    uint64                `json:"claimId,omitempty"`
	ShipmentID string                `json:"shipmentId,omitempty"`
	Status     policy.ShipmentStatus `json:"status"`
	Amount     policy.Amount         `json:"amount"`
	Identity   string                `json:"identity,omitempty"`
}

// Receipt describes a committed ledger transaction.
type Receipt struct {
	TxHash      string                `json:"txHash"`
	BlockNumber uint64                `json:"blockNumber"`
	ShipmentID  string                `json:"shipmentId"`
	Status      policy.ShipmentStatus `json:"status"`
	Events      []Event               `json:"events"`
	ClaimPaid   bool                  `json:"claimPaid"`
	Payout      policy.Amount         `json:"payout"`
}

// Claim returns the ClaimApproved event, if the receipt has one.
func (r Receipt) Claim() (Event, bool) {
	for _, e := range r.Events {
		if e.Kind == EventClaimApproved {
			return e, true
		}
	}
	return Event{}, false
}

// Totals are the ledger's running counters.
type Totals struct {
	TotalPolicies uint64 `json:"totalPolicies"`
	TotalClaims   uint64 `json:"totalClaims"`
}

// Info is the ledger summary exposed on the admin surface.
type Info struct {
	Totals
	Owner   string        `json:"owner"`
	Oracle  string        `json:"oracleAddress"`
	Balance policy.Amount `json:"balance"`
}
