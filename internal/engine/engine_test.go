package engine

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew_MissingDependencies(t *testing.T) {
	env := newTestEnv(t)

	_, err := New(nil, env.ledger, env.oracle)
	assert.True(t, IsConfigError(err))

	_, err = New(env.mirror, nil, env.oracle)
	assert.True(t, IsConfigError(err))

	_, err = New(env.mirror, env.ledger, nil)
	assert.True(t, IsConfigError(err))
}

func TestNew_Defaults(t *testing.T) {
	env := newTestEnv(t)

	e, err := New(env.mirror, env.ledger, env.oracle)
	require.NoError(t, err)
	assert.Equal(t, DefaultConcurrency, e.concurrency)
	assert.Equal(t, DefaultCallTimeout, e.callTimeout)
	assert.IsType(t, UUIDv7Generator{}, e.ids)

	e, err = New(env.mirror, env.ledger, env.oracle, WithConcurrency(0))
	require.NoError(t, err)
	assert.Equal(t, 1, e.concurrency)
}

func TestReconcileError(t *testing.T) {
	cause := errors.New("boom")
	err := fmt.Errorf("wrapped: %w", newError(CodeInconsistent, "SHIP-1", cause))

	assert.True(t, IsInconsistent(err))
	assert.False(t, IsTransient(err))
	assert.ErrorIs(t, err, cause)
	assert.EqualError(t, err, "wrapped: INCONSISTENT: shipment SHIP-1: boom")
	assert.EqualError(t, newError(CodeConfig, "", cause), "CONFIG: boom")
	assert.Equal(t, "inconsistent", CodeInconsistent.Class())
}

func TestUUIDv7Generator_Unique(t *testing.T) {
	g := UUIDv7Generator{}
	seen := map[string]bool{}
	for i := 0; i < 100; i++ {
		id := g.Generate()
		assert.False(t, seen[id])
		seen[id] = true
	}
}

func TestFixedGenerator(t *testing.T) {
	g := NewFixedGenerator("a", "b")
	assert.Equal(t, "a", g.Generate())
	assert.Equal(t, "b", g.Generate())
	assert.Panics(t, func() { g.Generate() })
}
