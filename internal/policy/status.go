package policy

import (
	"errors"
	"fmt"
	"strings"
)

// ErrInvalidStatus is returned when a status value is outside its enum.
var ErrInvalidStatus = errors.New("invalid status")

// ShipmentStatus is the physical condition of a shipment as reported by the
// oracle. The numeric values match the ledger's wire encoding.
type ShipmentStatus uint8

const (
	InTransit ShipmentStatus = 0
	Delivered ShipmentStatus = 1
	Damaged   ShipmentStatus = 2
	Lost      ShipmentStatus = 3
)

var shipmentStatusNames = [...]string{"InTransit", "Delivered", "Damaged", "Lost"}

// ShipmentStatuses lists every shipment status in wire order.
var ShipmentStatuses = []ShipmentStatus{InTransit, Delivered, Damaged, Lost}

func (s ShipmentStatus) String() string {
	if int(s) < len(shipmentStatusNames) {
		return shipmentStatusNames[s]
	}
	return fmt.Sprintf("ShipmentStatus(%d)", uint8(s))
}

// Valid reports whether s is one of the four defined values.
func (s ShipmentStatus) Valid() bool {
	return int(s) < len(shipmentStatusNames)
}

// Terminal reports whether s triggers claim settlement.
func (s ShipmentStatus) Terminal() bool {
	return s == Damaged || s == Lost
}

// MarshalText implements encoding.TextMarshaler.
func (s ShipmentStatus) MarshalText() ([]byte, error) {
	if !s.Valid() {
		return nil, fmt.Errorf("%w: %d", ErrInvalidStatus, uint8(s))
	}
	return []byte(s.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (s *ShipmentStatus) UnmarshalText(text []byte) error {
	parsed, err := ParseShipmentStatus(string(text))
	if err != nil {
		return err
	}
	*s = parsed
	return nil
}

// ParseShipmentStatus parses a status name, case-insensitively.
func ParseShipmentStatus(raw string) (ShipmentStatus, error) {
	name := strings.TrimSpace(raw)
	for i, n := range shipmentStatusNames {
		if strings.EqualFold(n, name) {
			return ShipmentStatus(i), nil
		}
	}
	return 0, fmt.Errorf("%w: shipment status %q", ErrInvalidStatus, raw)
}

// PolicyStatus is the lifecycle state of an insurance policy.
type PolicyStatus uint8

const (
	Active    PolicyStatus = 0
	Claimed   PolicyStatus = 1
	Expired   PolicyStatus = 2
	Cancelled PolicyStatus = 3
)

var policyStatusNames = [...]string{"Active", "Claimed", "Expired", "Cancelled"}

func (s PolicyStatus) String() string {
	if int(s) < len(policyStatusNames) {
		return policyStatusNames[s]
	}
	return fmt.Sprintf("PolicyStatus(%d)", uint8(s))
}

// Valid reports whether s is one of the four defined values.
func (s PolicyStatus) Valid() bool {
	return int(s) < len(policyStatusNames)
}

// MarshalText implements encoding.TextMarshaler.
func (s PolicyStatus) MarshalText() ([]byte, error) {
	if !s.Valid() {
		return nil, fmt.Errorf("%w: %d", ErrInvalidStatus, uint8(s))
	}
	return []byte(s.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (s *PolicyStatus) UnmarshalText(text []byte) error {
	parsed, err := ParsePolicyStatus(string(text))
	if err != nil {
		return err
	}
	*s = parsed
	return nil
}

// ParsePolicyStatus parses a policy status name, case-insensitively.
func ParsePolicyStatus(raw string) (PolicyStatus, error) {
	name := strings.TrimSpace(raw)
	for i, n := range policyStatusNames {
		if strings.EqualFold(n, name) {
			return PolicyStatus(i), nil
		}
	}
	return 0, fmt.Errorf("%w: policy status %q", ErrInvalidStatus, raw)
}

// CanTransition reports whether a policy may move from one status to another.
// Only Active has outgoing edges; nothing returns to Active.
func CanTransition(from, to PolicyStatus) bool {
	if from != Active {
		return false
	}
	return to == Claimed || to == Expired || to == Cancelled
}
