package engine

import (
	"errors"
	"fmt"
)

// ErrorCode classifies a reconciliation failure.
type ErrorCode string

const (
	// CodeTransient marks failures retried on the next cycle.
	CodeTransient ErrorCode = "TRANSIENT"

	// CodeRejected marks calls the ledger refused.
	CodeRejected ErrorCode = "REJECTED"

	// CodeInconsistent marks a mirror write that failed after the ledger settled.
	CodeInconsistent ErrorCode = "INCONSISTENT"

	// CodeConfig marks missing or invalid engine wiring.
	CodeConfig ErrorCode = "CONFIG"
)

// Class is the lowercase form used in results and metrics.
func (c ErrorCode) Class() string {
	switch c {
	case CodeTransient:
		return "transient"
	case CodeRejected:
		return "rejected"
	case CodeInconsistent:
		return "inconsistent"
	case CodeConfig:
		return "config"
	default:
		return ""
	}
}

// ReconcileError is a classified failure for one shipment.
type ReconcileError struct {
	Code       ErrorCode
	ShipmentID string
	Err        error
}

func (e *ReconcileError) Error() string {
	if e.ShipmentID != "" {
		return fmt.Sprintf("%s: shipment %s: %v", e.Code, e.ShipmentID, e.Err)
	}
	return fmt.Sprintf("%s: %v", e.Code, e.Err)
}

func (e *ReconcileError) Unwrap() error {
	return e.Err
}

func newError(code ErrorCode, shipmentID string, err error) *ReconcileError {
	return &ReconcileError{Code: code, ShipmentID: shipmentID, Err: err}
}

func hasCode(err error, code ErrorCode) bool {
	var re *ReconcileError
	if errors.As(err, &re) {
		return re.Code == code
	}
	return false
}

// IsTransient returns true if err is a transient reconciliation failure.
func IsTransient(err error) bool { return hasCode(err, CodeTransient) }

// IsRejected returns true if the ledger refused the shipment's update.
func IsRejected(err error) bool { return hasCode(err, CodeRejected) }

// IsInconsistent returns true if the ledger settled but the mirror did not.
func IsInconsistent(err error) bool { return hasCode(err, CodeInconsistent) }

// IsConfigError returns true if the engine is misconfigured.
func IsConfigError(err error) bool { return hasCode(err, CodeConfig) }
