// Package httpapi serves the reconciled state over HTTP for a local wallet
// UI: session, notifications, history, balance, status and a websocket
// stream of bus events.
package httpapi
