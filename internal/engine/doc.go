// Package engine reconciles insured shipments across the oracle feed, the
// ledger and the mirror store.
//
// ARCHITECTURE:
//
// One decision function, reconcile, handles a single shipment. RunCycle
// applies it to every policy awaiting a check; CheckShipment applies it to
// one shipment on demand. There is no second code path.
//
// Per shipment:
//  1. Observe the shipment through the Oracle (bounded by the call timeout).
//  2. Unavailable: transient failure, nothing is written.
//  3. InTransit or Delivered: mirror-only update, a tracking row is appended.
//  4. Damaged or Lost: submit to the ledger first. Only after the ledger
//     accepts (or reports the policy already terminal) is the mirror updated,
//     and the mirror's conditional claim flip inserts at most one claim.
//
// If the mirror write fails after a ledger success the policy is left
// ledger-Claimed and mirror-Active. The next observation re-derives the same
// terminal status and the conditional update re-applies the flip.
//
// ERROR CLASSES:
//
//   - TRANSIENT: oracle unavailable, ledger busy or timed out. Retried next cycle.
//   - REJECTED: the ledger refused the call. Logged and skipped.
//   - INCONSISTENT: mirror write failed after the ledger settled. Logged as a warning.
//   - CONFIG: the engine cannot run at all.
//
// A batch never aborts because one shipment failed. Only a failure to load
// the batch from the mirror, or cancellation before it starts, fails RunCycle.
package engine
