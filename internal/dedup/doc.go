// Package dedup is the persisted seen-key set that keeps a ledger event or
// an optimistic notification from being recorded twice.
//
// Keys come in two shapes:
//
//	{txDigest}-{eventSeq}   observed on the ledger
//	{txDigest}-manual       created locally before the ledger event arrived
//
// The set is capped and evicts in insertion order. Every effective insert
// rewrites the whole set to the store under SeenKey.
package dedup
