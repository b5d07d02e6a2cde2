// Package ledger is the boundary to the chain: it models the gifting and
// lixi events the reconciler consumes, queries them over JSON-RPC, and
// reads wallet balances.
//
// Event type tags are resolved into a closed Kind enum here, so nothing
// downstream string-matches on raw Move type identifiers. Tags that don't
// resolve become KindUnknown and are dropped by the reconciler.
package ledger
