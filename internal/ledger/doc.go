// Package ledger is the authoritative funds ledger for insured shipments.
//
// The Ledger interface is what the reconciliation engine talks to. Book is
// the concrete implementation: a contract-style state machine persisted in
// its own SQLite database. Every write runs in one transaction guarded by
// `WHERE status = 'Active'`, so terminal writes for a policy serialize and
// a payout happens at most once.
//
// Writes are bound to a caller identity with Book.As. Status updates and
// expiry are accepted only from the configured oracle identity; changing the
// oracle is owner-only.
//
// Errors split into rejections (sentinels such as ErrUnauthorized and
// ErrInvalidStatus, never retried) and TransientError (busy database,
// cancelled or expired context), which callers may retry on the next cycle.
package ledger
