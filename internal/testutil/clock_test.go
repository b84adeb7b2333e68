package testutil

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var start = time.Date(2025, 3, 14, 9, 0, 0, 0, time.UTC)

func TestFakeClock_Frozen(t *testing.T) {
	clock := NewFakeClock(start)
	assert.Equal(t, start, clock.Now())
	assert.Equal(t, start, clock.Now())
}

func TestFakeClock_Advance(t *testing.T) {
	clock := NewFakeClock(start)

	got := clock.Advance(time.Hour)
	assert.Equal(t, start.Add(time.Hour), got)
	assert.Equal(t, start.Add(time.Hour), clock.Now())
}

func TestFakeClock_SetConvertsToUTC(t *testing.T) {
	clock := NewFakeClock(start)
	loc := time.FixedZone("ICT", 7*3600)

	clock.Set(time.Date(2025, 1, 1, 7, 0, 0, 0, loc))
	assert.Equal(t, time.UTC, clock.Now().Location())
	assert.True(t, clock.Now().Equal(time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)))
}

func TestFakeClock_ConcurrentAdvance(t *testing.T) {
	clock := NewFakeClock(start)

	var wg sync.WaitGroup
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			clock.Advance(time.Second)
		}()
	}
	wg.Wait()

	require.Equal(t, start.Add(100*time.Second), clock.Now())
}

func TestSequentialIDs(t *testing.T) {
	ids := NewSequentialIDs("cycle")
	assert.Equal(t, "cycle-0001", ids.Generate())
	assert.Equal(t, "cycle-0002", ids.Generate())
	assert.Equal(t, 2, ids.Count())

	assert.Equal(t, "test-0001", NewSequentialIDs("").Generate())
}
