// Package policy defines the shared domain types for shipment insurance:
// policies, claims, tracking entries and oracle observations.
//
// Both the ledger and the mirror store depend on this package so that the
// premium rule and the status enums have exactly one definition.
//
// # Amounts
//
// Amounts are fixed-point with 18 fractional digits (the base unit is 1e-18,
// the same granularity the on-chain contract uses). The premium is computed
// in integer base units:
//
//	premium = coverage * PremiumNumerator / PremiumDenominator
//
// so the ledger and the mirror can never disagree through float rounding.
//
// # Status transitions
//
// Policy status is monotonic: only Active may move, and only to Claimed,
// Expired or Cancelled. ClaimProcessed flips false→true once.
package policy
