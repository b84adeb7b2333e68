package oracle

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/roach88/shipsure/internal/policy"
)

// ErrNoScript is the Unavailable cause for a shipment Fixed has nothing
// queued for.
var ErrNoScript = errors.New("no scripted observation")

// Step is one scripted response: a status, or a failure when Err is set.
type Step struct {
	Status policy.ShipmentStatus
	Err    error
}

// Fixed replays scripted observations per shipment. The last step of a
// script repeats once the queue is drained.
type Fixed struct {
	mu       sync.Mutex
	scripts  map[string][]Step
	fallback *Step
	calls    map[string]int
	now      func() time.Time
	location string
}

// NewFixed creates an empty scripted oracle.
func NewFixed(now func() time.Time) *Fixed {
	if now == nil {
		now = time.Now
	}
	return &Fixed{
		scripts:  make(map[string][]Step),
		calls:    make(map[string]int),
		now:      now,
		location: "Singapore",
	}
}

// Always returns a Fixed that reports status for every shipment.
func Always(status policy.ShipmentStatus, now func() time.Time) *Fixed {
	f := NewFixed(now)
	f.fallback = &Step{Status: status}
	return f
}

// Script queues steps for a shipment.
func (f *Fixed) Script(shipmentID string, steps ...Step) *Fixed {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.scripts[shipmentID] = append(f.scripts[shipmentID], steps...)
	return f
}

// Statuses queues plain statuses for a shipment.
func (f *Fixed) Statuses(shipmentID string, statuses ...policy.ShipmentStatus) *Fixed {
	steps := make([]Step, len(statuses))
	for i, s := range statuses {
		steps[i] = Step{Status: s}
	}
	return f.Script(shipmentID, steps...)
}

// Fail queues a transport failure for a shipment.
func (f *Fixed) Fail(shipmentID string, err error) *Fixed {
	return f.Script(shipmentID, Step{Err: err})
}

// Calls reports how many times a shipment was observed.
func (f *Fixed) Calls(shipmentID string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[shipmentID]
}

func (f *Fixed) Observe(ctx context.Context, shipmentID string) policy.Observation {
	if err := ctx.Err(); err != nil {
		return policy.UnavailableObservation(shipmentID, err)
	}

	f.mu.Lock()
	f.calls[shipmentID]++
	var step Step
	queue := f.scripts[shipmentID]
	switch {
	case len(queue) > 1:
		step = queue[0]
		f.scripts[shipmentID] = queue[1:]
	case len(queue) == 1:
		step = queue[0]
	case f.fallback != nil:
		step = *f.fallback
	default:
		f.mu.Unlock()
		return policy.UnavailableObservation(shipmentID, fmt.Errorf("%s: %w", shipmentID, ErrNoScript))
	}
	f.mu.Unlock()

	if step.Err != nil {
		return policy.UnavailableObservation(shipmentID, step.Err)
	}
	return policy.Observation{
		ShipmentID: shipmentID,
		Status:     step.Status,
		Location:   f.location,
		Note:       policy.StatusNote(step.Status),
		Timestamp:  f.now().UTC(),
		Outcome:    policy.Observed,
	}
}
