package engine

import (
	"context"
	"errors"
	"time"

	"github.com/roach88/shipsure/internal/ledger"
	"github.com/roach88/shipsure/internal/metrics"
	"github.com/roach88/shipsure/internal/oracle"
	"github.com/roach88/shipsure/internal/policy"
	"github.com/roach88/shipsure/internal/store"
)

// Mirror is the engine's view of the mirror store. Implemented by
// *store.Store.
type Mirror interface {
	ActivePoliciesAwaitingCheck(ctx context.Context) ([]policy.PolicyRef, error)
	ReadPolicy(ctx context.Context, shipmentID string) (policy.Policy, error)
	ApplyObservation(ctx context.Context, obs policy.Observation, opts store.ApplyOptions) (store.ApplyResult, error)
	DuePolicies(ctx context.Context, now time.Time) ([]policy.PolicyRef, error)
	MarkExpired(ctx context.Context, shipmentID string) (bool, error)
}

var _ Mirror = (*store.Store)(nil)

const (
	// DefaultConcurrency is the number of shipments checked at once.
	DefaultConcurrency = 4

	// DefaultCallTimeout bounds every oracle, ledger and mirror call.
	DefaultCallTimeout = 10 * time.Second
)

// Engine runs reconciliation. Safe for concurrent use: a scheduled cycle
// and on-demand checks may overlap.
type Engine struct {
	mirror  Mirror
	ledger  ledger.Ledger
	oracle  oracle.Oracle
	metrics *metrics.Recorder
	ids     IDGenerator
	now     func() time.Time

	concurrency int
	itemDelay   time.Duration
	callTimeout time.Duration
}

// Option configures an Engine.
type Option func(*Engine)

// WithConcurrency sets how many shipments a cycle checks at once.
// Values below 1 mean sequential.
func WithConcurrency(n int) Option {
	return func(e *Engine) {
		if n < 1 {
			n = 1
		}
		e.concurrency = n
	}
}

// WithItemDelay waits d between starting shipments in a cycle, to respect
// external rate limits.
func WithItemDelay(d time.Duration) Option {
	return func(e *Engine) {
		e.itemDelay = d
	}
}

// WithCallTimeout bounds each external call. Exceeding it is a transient
// failure for that shipment only.
func WithCallTimeout(d time.Duration) Option {
	return func(e *Engine) {
		e.callTimeout = d
	}
}

// WithClock overrides the wall clock.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) {
		e.now = now
	}
}

// WithMetrics records cycle and shipment metrics.
func WithMetrics(r *metrics.Recorder) Option {
	return func(e *Engine) {
		e.metrics = r
	}
}

// WithCycleIDs overrides the cycle ID generator.
func WithCycleIDs(g IDGenerator) Option {
	return func(e *Engine) {
		e.ids = g
	}
}

// New creates an Engine. The ledger handle must be bound to the oracle
// identity and should not be shared with any other writer.
//
// Returns a CONFIG error if a dependency is missing.
func New(m Mirror, l ledger.Ledger, o oracle.Oracle, opts ...Option) (*Engine, error) {
	switch {
	case m == nil:
		return nil, newError(CodeConfig, "", errors.New("mirror store is required"))
	case l == nil:
		return nil, newError(CodeConfig, "", errors.New("ledger is required"))
	case o == nil:
		return nil, newError(CodeConfig, "", errors.New("oracle is required"))
	}

	e := &Engine{
		mirror:      m,
		ledger:      l,
		oracle:      o,
		ids:         UUIDv7Generator{},
		now:         time.Now,
		concurrency: DefaultConcurrency,
		callTimeout: DefaultCallTimeout,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e, nil
}

// call derives a context bounded by the call timeout.
// settleCall is call without ctx's cancellation. Once the ledger has
// settled a shipment the mirror write runs until it finishes or times out.
func (e *Engine) settleCall(ctx context.Context) (context.Context, context.CancelFunc) {
	return e.call(context.WithoutCancel(ctx))
}

func (e *Engine) call(ctx context.Context) (context.Context, context.CancelFunc) {
	if e.callTimeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, e.callTimeout)
}
