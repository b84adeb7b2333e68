// Package scheduler drives reconciliation cycles on a fixed interval and
// serves on-demand shipment checks through the same engine.
package scheduler

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/roach88/shipsure/internal/engine"
)

var (
	// ErrStopped is returned by operations attempted after Stop.
	ErrStopped = errors.New("scheduler stopped")

	// ErrAlreadyStarted is returned by a second Start.
	ErrAlreadyStarted = errors.New("scheduler already started")
)

// Runner is the engine surface the scheduler drives. Implemented by
// *engine.Engine.
type Runner interface {
	RunCycle(ctx context.Context) (engine.BatchResult, error)
	CheckShipment(ctx context.Context, shipmentID string) (engine.ShipmentResult, error)
	SweepExpired(ctx context.Context) (engine.ExpiryResult, error)
}

var _ Runner = (*engine.Engine)(nil)

// Scheduler runs one cycle on Start and then one per interval.
//
// Thread-safety: all methods are safe for concurrent use. At most one cycle
// runs at a time; a tick that fires while a cycle is in flight is skipped.
type Scheduler struct {
	runner      Runner
	interval    time.Duration
	sweepExpiry bool
	onCycle     func(engine.BatchResult, error)

	cycleMu sync.Mutex // held while a cycle runs

	mu      sync.Mutex
	started bool
	stopped bool
	stop    chan struct{}
	wg      sync.WaitGroup
}

// Option configures a Scheduler.
type Option func(*Scheduler)

// WithExpirySweep runs Runner.SweepExpired after every cycle.
func WithExpirySweep(enabled bool) Option {
	return func(s *Scheduler) {
		s.sweepExpiry = enabled
	}
}

// WithCycleHook calls fn after every cycle, scheduled or manual.
func WithCycleHook(fn func(engine.BatchResult, error)) Option {
	return func(s *Scheduler) {
		s.onCycle = fn
	}
}

// New creates a stopped scheduler.
func New(runner Runner, interval time.Duration, opts ...Option) *Scheduler {
	s := &Scheduler{
		runner:   runner,
		interval: interval,
		stop:     make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Start runs a cycle immediately and then one every interval, until Stop
// is called or ctx is done. It returns without waiting for the first cycle.
func (s *Scheduler) Start(ctx context.Context) error {
	if s.interval <= 0 {
		return errors.New("scheduler interval must be positive")
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	switch {
	case s.stopped:
		return ErrStopped
	case s.started:
		return ErrAlreadyStarted
	}
	s.started = true

	s.wg.Add(1)
	go s.loop(ctx)

	slog.Info("scheduler started", "interval", s.interval, "expiry_sweep", s.sweepExpiry)
	return nil
}

func (s *Scheduler) loop(ctx context.Context) {
	defer s.wg.Done()

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	s.tick(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-s.stop:
			return
		case <-ticker.C:
			s.tick(ctx)
		}
	}
}

// tick runs a cycle unless one is already in flight. The cycle does not
// inherit ctx's cancellation: cancelling ctx ends the loop, and a cycle that
// has started runs to completion before Stop returns.
func (s *Scheduler) tick(ctx context.Context) {
	if !s.cycleMu.TryLock() {
		slog.Warn("previous cycle still running, skipping tick")
		return
	}
	defer s.cycleMu.Unlock()
	s.runCycle(context.WithoutCancel(ctx))
}

// runCycle must be called with cycleMu held.
func (s *Scheduler) runCycle(ctx context.Context) (engine.BatchResult, error) {
	batch, err := s.runner.RunCycle(ctx)
	if err != nil {
		slog.Error("cycle failed", "error", err)
	}
	if s.onCycle != nil {
		s.onCycle(batch, err)
	}

	if s.sweepExpiry && err == nil {
		res, serr := s.runner.SweepExpired(ctx)
		switch {
		case serr != nil:
			slog.Error("expiry sweep failed", "error", serr)
		case res.Err() != nil:
			slog.Warn("expiry sweep had failures",
				"expired", len(res.Expired),
				"failed", len(res.Failed),
				"error", res.Err(),
			)
		case len(res.Expired) > 0:
			slog.Info("expiry sweep complete", "expired", len(res.Expired))
		}
	}
	return batch, err
}

// enter registers an operation so Stop waits for it.
func (s *Scheduler) enter() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		return ErrStopped
	}
	s.wg.Add(1)
	return nil
}

// RunOnce runs a cycle now, waiting for any in-flight cycle to finish first.
func (s *Scheduler) RunOnce(ctx context.Context) (engine.BatchResult, error) {
	if err := s.enter(); err != nil {
		return engine.BatchResult{}, err
	}
	defer s.wg.Done()

	s.cycleMu.Lock()
	defer s.cycleMu.Unlock()
	return s.runCycle(ctx)
}

// Check runs an on-demand check for one shipment. It may overlap a cycle;
// the ledger and the mirror's conditional update keep the result correct.
func (s *Scheduler) Check(ctx context.Context, shipmentID string) (engine.ShipmentResult, error) {
	if err := s.enter(); err != nil {
		return engine.ShipmentResult{}, err
	}
	defer s.wg.Done()
	return s.runner.CheckShipment(ctx, shipmentID)
}

// Stop prevents new cycles and checks, then waits for in-flight ones to
// complete. Safe to call more than once.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if !s.stopped {
		s.stopped = true
		close(s.stop)
	}
	s.mu.Unlock()

	s.wg.Wait()
	slog.Info("scheduler stopped")
}
