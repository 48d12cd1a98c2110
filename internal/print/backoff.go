// Package print – reconnect backoff for the control channel.
package print

import "time"

const (
	backoffBaseMs = 1000
	backoffCapMs  = 30000
)

// ReconnectDelay returns the wait before reconnect attempt n:
// min(1000 × 2^n, 30000) milliseconds. The attempt counter resets only on
// successful authentication, not on a socket that merely connected.
func ReconnectDelay(attempt int) time.Duration {
	if attempt < 0 {
		attempt = 0
	}
	// 2^15 already exceeds the cap; avoid shifting into overflow.
	if attempt > 15 {
		return backoffCapMs * time.Millisecond
	}
	ms := backoffBaseMs << attempt
	if ms > backoffCapMs {
		ms = backoffCapMs
	}
	return time.Duration(ms) * time.Millisecond
}
