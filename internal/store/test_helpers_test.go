package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/roach88/shipsure/internal/policy"
	"github.com/stretchr/testify/require"
)

var testNow = time.Date(2025, 3, 14, 9, 0, 0, 0, time.UTC)

// createTestStore creates a SQLite mirror in a temp directory with a fixed clock.
func createTestStore(t *testing.T) *Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "mirror.db")
	s, err := Open(path, WithClock(func() time.Time { return testNow }))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

// createTestPolicy builds an Active policy running 30 days from testNow.
func createTestPolicy(id uint64, shipmentID, coverage string) policy.Policy {
	amt := policy.MustAmount(coverage)
	return policy.Policy{
		PolicyID:       id,
		ShipmentID:     shipmentID,
		Holder:         "0xholder",
		CoverageAmount: amt,
		Premium:        policy.Premium(amt),
		StartTime:      testNow.Add(-24 * time.Hour),
		EndTime:        testNow.Add(30 * 24 * time.Hour),
		Status:         policy.Active,
		ShipmentStatus: policy.InTransit,
	}
}

func seedPolicy(t *testing.T, s *Store, p policy.Policy) {
	t.Helper()
	inserted, err := s.UpsertPolicy(context.Background(), p)
	require.NoError(t, err)
	require.True(t, inserted)
}

func observe(shipmentID string, status policy.ShipmentStatus) policy.Observation {
	return policy.Observation{
		ShipmentID: shipmentID,
		Status:     status,
		Location:   "Singapore",
		Note:       policy.StatusNote(status),
		Timestamp:  testNow,
		Outcome:    policy.Observed,
	}
}
