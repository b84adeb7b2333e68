package ledger

import (
	"context"
	"errors"
	"fmt"

	"github.com/mattn/go-sqlite3"

	"github.com/roach88/shipsure/internal/policy"
)

var (
	ErrUnauthorized        = errors.New("only oracle can call this function")
	ErrNotOwner            = errors.New("caller is not the owner")
	ErrInvalidStatus       = policy.ErrInvalidStatus
	ErrPolicyTerminal      = errors.New("policy not active")
	ErrPolicyNotFound      = errors.New("policy not found")
	ErrClaimNotFound       = errors.New("claim not found")
	ErrShipmentInsured     = errors.New("shipment already insured")
	ErrPremiumMismatch     = errors.New("incorrect premium amount")
	ErrInvalidCoverage     = errors.New("coverage must be positive")
	ErrInvalidDuration     = errors.New("duration must be positive")
	ErrInsufficientReserve = errors.New("insufficient balance for payout")
	ErrNotDue              = errors.New("policy has not reached its end time")
)

// TransientError marks a failure worth retrying on a later cycle.
type TransientError struct {
	Op  string
	Err error
}

func (e *TransientError) Error() string {
	return fmt.Sprintf("%s: transient: %v", e.Op, e.Err)
}

func (e *TransientError) Unwrap() error {
	return e.Err
}

// IsTransient reports whether err is retryable. Context cancellation and
// deadline errors count as transient.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	var te *TransientError
	if errors.As(err, &te) {
		return true
	}
	return errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled)
}

// IsRejected reports whether err is a definitive refusal by the ledger.
func IsRejected(err error) bool {
	for _, target := range []error{
		ErrUnauthorized,
		ErrNotOwner,
		ErrInvalidStatus,
		ErrPolicyNotFound,
		ErrShipmentInsured,
		ErrPremiumMismatch,
		ErrInvalidCoverage,
		ErrInvalidDuration,
		ErrInsufficientReserve,
		ErrNotDue,
	} {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}

// wrapDB classifies a database error. Busy and locked SQLite errors and
// context errors become TransientError; everything else is returned wrapped.
func wrapDB(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return &TransientError{Op: op, Err: err}
	}
	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) {
		switch sqliteErr.Code {
		case sqlite3.ErrBusy, sqlite3.ErrLocked:
			return &TransientError{Op: op, Err: err}
		}
	}
	return fmt.Errorf("%s: %w", op, err)
}
