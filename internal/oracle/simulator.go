package oracle

import (
	"context"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/roach88/shipsure/internal/policy"
)

// Locations the simulator reports shipments at.
var Locations = []string{
	"Hà Nội",
	"TP. Hồ Chí Minh",
	"Đà Nẵng",
	"Singapore",
	"Bangkok",
}

// Status weights out of 100.
const (
	weightDelivered = 85
	weightDamaged   = 10
	weightLost      = 5
)

// Simulator is a seeded random oracle for development and demos.
type Simulator struct {
	mu  sync.Mutex
	rng *rand.Rand
	now func() time.Time
}

// NewSimulator creates a simulator. The same seed yields the same sequence
// of observations.
func NewSimulator(seed uint64, now func() time.Time) *Simulator {
	if now == nil {
		now = time.Now
	}
	return &Simulator{
		rng: rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15)),
		now: now,
	}
}

// Observe draws a status weighted 85% Delivered, 10% Damaged, 5% Lost.
func (s *Simulator) Observe(ctx context.Context, shipmentID string) policy.Observation {
	if err := ctx.Err(); err != nil {
		return policy.UnavailableObservation(shipmentID, err)
	}

	s.mu.Lock()
	roll := s.rng.IntN(weightDelivered + weightDamaged + weightLost)
	loc := Locations[s.rng.IntN(len(Locations))]
	s.mu.Unlock()

	var status policy.ShipmentStatus
	switch {
	case roll < weightDelivered:
		status = policy.Delivered
	case roll < weightDelivered+weightDamaged:
		status = policy.Damaged
	default:
		status = policy.Lost
	}

	return policy.Observation{
		ShipmentID: shipmentID,
		Status:     status,
		Location:   loc,
		Note:       policy.StatusNote(status),
		Timestamp:  s.now().UTC(),
		Outcome:    policy.Observed,
	}
}
