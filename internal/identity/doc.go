// Package identity supplies the viewer whose notifications are being
// reconciled.
package identity
