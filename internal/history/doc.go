// Package history is the running ledger of money moving in and out of the
// user's wallet as seen through gifts and lixi.
package history
