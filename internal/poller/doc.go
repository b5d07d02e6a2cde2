// Package poller runs a tick function immediately and then on a fixed
// delay, never overlapping itself. A tick that comes due while the previous
// one is still running is dropped, not queued.
//
// Scheduling rides on robfig/cron with a constant-delay schedule so
// sub-second intervals work in tests.
package poller
