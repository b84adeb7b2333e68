package policy

import "time"

// Policy is one insured shipment. PolicyID is assigned by the ledger and
// ShipmentID is globally unique and immutable.
type Policy struct {
	PolicyID       uint64         `json:"policyId"`
	ShipmentID     string         `json:"shipmentId"`
	Holder         string         `json:"holder"`
	CoverageAmount Amount         `json:"coverageAmount"`
	Premium        Amount         `json:"premium"`
	StartTime      time.Time      `json:"startTime"`
	EndTime        time.Time      `json:"endTime"`
	Status         PolicyStatus   `json:"status"`
	ShipmentStatus ShipmentStatus `json:"shipmentStatus"`
	ClaimProcessed bool           `json:"claimProcessed"`
}

// Ref returns the subset of the policy the reconciliation batch iterates.
func (p Policy) Ref() PolicyRef {
	return PolicyRef{
		PolicyID:       p.PolicyID,
		ShipmentID:     p.ShipmentID,
		Holder:         p.Holder,
		CoverageAmount: p.CoverageAmount,
		Status:         p.Status,
	}
}

// PolicyRef identifies a policy awaiting a status check.
type PolicyRef struct {
	PolicyID       uint64       `json:"policyId"`
	ShipmentID     string       `json:"shipmentId"`
	Holder         string       `json:"holder"`
	CoverageAmount Amount       `json:"coverageAmount"`
	Status         PolicyStatus `json:"status"`
}

// Claim is a settled payout. It is created together with the policy's
// Claimed transition and never modified afterwards.
type Claim struct {
	ClaimID     uint64    `json:"claimId"`
	PolicyID    uint64    `json:"policyId"`
	ShipmentID  string    `json:"shipmentId"`
	Claimant    string    `json:"claimant"`
	ClaimAmount Amount    `json:"claimAmount"`
	Timestamp   time.Time `json:"timestamp"`
	Approved    bool      `json:"approved"`
	Processed   bool      `json:"processed"`
	LedgerTx    string    `json:"ledgerTx,omitempty"`
}

// TrackingEntry is one oracle observation in the append-only audit log.
type TrackingEntry struct {
	ID         int64          `json:"id"`
	ShipmentID string         `json:"shipmentId"`
	Status     ShipmentStatus `json:"status"`
	Location   string         `json:"location"`
	Note       string         `json:"note"`
	Timestamp  time.Time      `json:"timestamp"`
}

// Outcome says whether the oracle produced a usable observation.
type Outcome int

const (
	// Observed means Status and the metadata fields are populated.
	Observed Outcome = iota
	// Unavailable means the oracle could not be reached; Err holds the cause.
	Unavailable
)

func (o Outcome) String() string {
	if o == Unavailable {
		return "unavailable"
	}
	return "observed"
}

// Observation is the oracle payload for a single shipment.
type Observation struct {
	ShipmentID string         `json:"shipmentId"`
	Status     ShipmentStatus `json:"status"`
	Location   string         `json:"location"`
	Note       string         `json:"note"`
	Timestamp  time.Time      `json:"timestamp"`
	Outcome    Outcome        `json:"-"`
	Err        error          `json:"-"`
}

// UnavailableObservation builds the explicit failure outcome for a shipment.
func UnavailableObservation(shipmentID string, err error) Observation {
	return Observation{ShipmentID: shipmentID, Outcome: Unavailable, Err: err}
}

// Normalized returns a copy with NFC-normalized location and note.
func (o Observation) Normalized() Observation {
	o.Location = NormalizeText(o.Location)
	o.Note = NormalizeText(o.Note)
	return o
}

// StatusNote is the default human note for a status.
func StatusNote(s ShipmentStatus) string {
	switch s {
	case InTransit:
		return "Hàng hóa đang trong quá trình vận chuyển"
	case Delivered:
		return "Hàng hóa đã được giao thành công"
	case Damaged:
		return "Hàng hóa bị hỏng trong quá trình vận chuyển"
	case Lost:
		return "Hàng hóa bị mất trong quá trình vận chuyển"
	default:
		return "Không có ghi chú"
	}
}
