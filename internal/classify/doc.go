// Package classify turns one ledger event into the notifications and
// history entries it means for a particular viewer. It does no I/O.
package classify
