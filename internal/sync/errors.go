// Package sync defines the reconciliation engine and monitor. This file
// centralizes service-level error values so callers can branch on them.
package sync

import "errors"

var (
	// ErrPullInProgress is returned when PullAll is called while a pull is
	// already running. The second call returns immediately; it is not
	// queued behind the first.
	ErrPullInProgress = errors.New("pull already in progress")

	// ErrPushInProgress is the push-side reentrancy guard.
	ErrPushInProgress = errors.New("push already in progress")
)
