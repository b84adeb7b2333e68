// Package store provides the relational mirror of policy, claim and
// tracking state.
//
// The mirror is a queryable projection. It is never authoritative for funds:
// the ledger decides whether a claim settles, and the mirror records that it
// did. Three tables back it:
//   - policies: one row per insured shipment (shipment_id UNIQUE)
//   - claims: at most one row per policy (policy_id UNIQUE), immutable
//   - tracking: append-only oracle observations, indexed by shipment_id
//
// # Conditional Claim Flip
//
// ApplyObservation performs the Claimed transition as a compare-and-set:
//
//	UPDATE policies SET status = 'Claimed', claim_processed = TRUE
//	WHERE shipment_id = ? AND claim_processed = FALSE AND status = 'Active'
//
// The claim row is inserted only when that update affected exactly one row.
// A concurrent or repeated apply affects zero rows and is a no-op, so the
// row-level guard stands in for a distributed lock.
//
// # Dialects
//
// SQLite (github.com/mattn/go-sqlite3) is the default and is configured with:
//   - WAL mode: Concurrent reads during writes
//   - synchronous=NORMAL: Balance durability/performance
//   - busy_timeout=5000: Wait for locks up to 5 seconds
//   - foreign_keys=ON: Enforce referential integrity
//
// In SQLite, triggers additionally enforce the append-only tracking log, claim
// immutability and monotonic policy status. PostgreSQL (github.com/lib/pq) is
// supported with the same queries; placeholders are rebound to $N.
package store
