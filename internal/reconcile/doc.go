// Package reconcile ties the ledger poll, the dedup set, the classifier and
// the two stores together.
//
// Per event, under one lock:
//
//	seen? -> drop
//	classify -> add notifications and history (each persisted)
//	mark seen (persisted last)
//
// Marking last means a crash between the steps re-announces an event on the
// next run instead of losing it. The optimistic path takes the same lock so
// a locally announced transaction and its polled event cannot both land.
package reconcile
