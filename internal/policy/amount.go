package policy

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"math/big"

	"github.com/shopspring/decimal"
)

// Scale is the number of fractional digits carried by an Amount.
const Scale = 18

// Premium rule shared by the ledger and the mirror.
const (
	PremiumNumerator   = 2
	PremiumDenominator = 100
)

// Amount is a non-negative fixed-point quantity of funds.
// The zero value is a valid zero amount.
type Amount struct {
	d decimal.Decimal
}

// ParseAmount parses a decimal string such as "2.0" or "0.02".
// Values finer than 1e-18 or below zero are rejected.
func ParseAmount(raw string) (Amount, error) {
	d, err := decimal.NewFromString(raw)
	if err != nil {
		return Amount{}, fmt.Errorf("parse amount %q: %w", raw, err)
	}
	if d.IsNegative() {
		return Amount{}, fmt.Errorf("parse amount %q: negative", raw)
	}
	if !d.Equal(d.Truncate(Scale)) {
		return Amount{}, fmt.Errorf("parse amount %q: more than %d fractional digits", raw, Scale)
	}
	return Amount{d: d}, nil
}

// MustAmount is like ParseAmount but panics on error.
// Use only in tests or with constant inputs.
func MustAmount(raw string) Amount {
	a, err := ParseAmount(raw)
	if err != nil {
		panic(err)
	}
	return a
}

// AmountFromUnits builds an Amount from a count of 1e-18 base units.
func AmountFromUnits(units *big.Int) Amount {
	return Amount{d: decimal.NewFromBigInt(units, -Scale)}
}

// Units returns the amount as an integer count of base units.
func (a Amount) Units() *big.Int {
	return a.d.Shift(Scale).BigInt()
}

// Premium returns the premium owed for a coverage amount, computed in
// integer base units with truncating division.
func Premium(coverage Amount) Amount {
	units := coverage.Units()
	units.Mul(units, big.NewInt(PremiumNumerator))
	units.Quo(units, big.NewInt(PremiumDenominator))
	return AmountFromUnits(units)
}

func (a Amount) String() string { return a.d.String() }

// Decimal exposes the underlying decimal value.
func (a Amount) Decimal() decimal.Decimal { return a.d }

func (a Amount) Equal(b Amount) bool { return a.d.Equal(b.d) }
func (a Amount) Cmp(b Amount) int    { return a.d.Cmp(b.d) }
func (a Amount) IsZero() bool        { return a.d.IsZero() }
func (a Amount) IsPositive() bool    { return a.d.IsPositive() }
func (a Amount) Add(b Amount) Amount { return Amount{d: a.d.Add(b.d)} }

// Sub returns a-b. Callers check Cmp first; a negative result is not an Amount.
func (a Amount) Sub(b Amount) Amount { return Amount{d: a.d.Sub(b.d)} }

// Value implements driver.Valuer. Amounts are persisted as decimal strings
// so that SQLite TEXT and Postgres NUMERIC columns both round-trip exactly.
func (a Amount) Value() (driver.Value, error) {
	return a.d.String(), nil
}

// Scan implements sql.Scanner.
func (a *Amount) Scan(src any) error {
	var d decimal.Decimal
	if err := d.Scan(src); err != nil {
		return fmt.Errorf("scan amount: %w", err)
	}
	a.d = d
	return nil
}

// MarshalJSON encodes the amount as a JSON string to avoid float loss.
func (a Amount) MarshalJSON() ([]byte, error) {
	return json.Marshal(a.d.String())
}

// UnmarshalJSON accepts either a JSON string or a JSON number.
func (a *Amount) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		s = string(data)
	}
	parsed, err := ParseAmount(s)
	if err != nil {
		return err
	}
	*a = parsed
	return nil
}
