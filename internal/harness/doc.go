// Package harness runs reconciliation scenarios end to end against a real
// ledger book, a real mirror store and a scripted oracle.
//
// # Scenario Format
//
// Scenarios are YAML files:
//
//	name: damaged_shipment_pays_claim
//	description: "A Damaged observation pays the coverage exactly once"
//	reserve: "1000"
//	policies:
//	  - shipment: SHIP100
//	    coverage: "2.0"
//	oracle:
//	  SHIP100:
//	    - status: InTransit
//	    - status: Damaged
//	    - error: carrier timeout
//	flow:
//	  - step: cycle
//	    expect: { totalChecked: 1, succeeded: 1 }
//	  - step: check
//	    shipment: SHIP100
//	    expect: { outcome: success, status: Damaged, claimCreated: true }
//	  - step: advance
//	    duration: 720h
//	  - step: expire
//	    expect: { expired: [] }
//	assertions:
//	  - type: policy_state
//	    shipment: SHIP100
//	    expect: { status: Claimed, claimProcessed: true }
//	  - type: claims
//	    shipment: SHIP100
//	    count: 1
//	    amount: "2.0"
//
// The last oracle step for a shipment repeats once the queue drains.
//
// # Assertion Types
//
//   - policy_state: subset match on a policy's status, shipmentStatus and
//     claimProcessed, in the mirror, the ledger, or both (default)
//   - claims: number of mirror claims for a shipment, and optionally the amount
//   - tracking: number of tracking entries for a shipment, optionally only
//     those with a given status
//   - reserve: the ledger's payout reserve
//   - in_sync: every scenario policy agrees between mirror and ledger
//   - oracle_calls: how many times the oracle was asked about a shipment
//
// # Deterministic Testing
//
// Scenarios run on a fake clock, sequential cycle IDs ("cycle-0001", ...)
// and in-memory SQLite databases, so the step trace is stable enough for
// golden comparison. Ledger transaction hashes are left out of the trace.
package harness
