// Package oracle adapts shipment status feeds.
//
// An Oracle never fails for a well-formed shipment id: transport problems
// come back as an Observation with Outcome Unavailable and Err set, and every
// Observed status is one of the four ShipmentStatus values.
package oracle

import (
	"context"

	"github.com/roach88/shipsure/internal/policy"
)

// Oracle reports the current condition of a shipment.
type Oracle interface {
	Observe(ctx context.Context, shipmentID string) policy.Observation
}

// Func adapts a plain function to Oracle.
type Func func(ctx context.Context, shipmentID string) policy.Observation

func (f Func) Observe(ctx context.Context, shipmentID string) policy.Observation {
	return f(ctx, shipmentID)
}
