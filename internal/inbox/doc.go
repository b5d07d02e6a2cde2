// Package inbox holds the user's notifications: newest first, capped, with a
// read flag, written back to the store after every change.
package inbox
