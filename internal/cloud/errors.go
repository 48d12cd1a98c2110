// Package cloud implements the HTTP client the agent uses against the
// cloud POS API: configuration pulls, queued-operation replay, and the
// reachability probe.
//
// This file defines the typed error taxonomy. Callers must branch on the
// kind explicitly instead of pattern-matching strings:
//
//   - KindNetwork: timeout/abort/DNS/connection failures. Never permanent;
//     the sync engine halts the current batch and retries next pass.
//   - KindHTTP: the cloud answered with a non-2xx status. The operation is
//     marked failed (retry count incremented) but stays queued.
//   - KindProtocol: the cloud answered 2xx with a body that does not parse.
package cloud

import (
	"errors"
	"fmt"
)

// ErrorKind classifies a cloud call failure.
type ErrorKind int

// Error kinds, in rough order of severity for the sync batch.
const (
	KindNetwork ErrorKind = iota + 1
	KindHTTP
	KindProtocol
)

// String returns the lowercase kind name.
func (k ErrorKind) String() string {
	switch k {
	case KindNetwork:
		return "network"
	case KindHTTP:
		return "http"
	case KindProtocol:
		return "protocol"
	default:
		return "unknown"
	}
}

// Error is the typed failure returned by all Client calls.
type Error struct {
	Kind   ErrorKind
	Op     string // "pull menu-items", "replay create_check", "probe"
	Status int    // HTTP status for KindHTTP, 0 otherwise
	Body   []byte // response body for KindHTTP, passed through by the proxy
	Err    error  // underlying cause, may be nil for KindHTTP
}

// Error implements the error interface.
func (e *Error) Error() string {
	switch e.Kind {
	case KindHTTP:
		return fmt.Sprintf("cloud %s: http %d", e.Op, e.Status)
	default:
		return fmt.Sprintf("cloud %s: %s: %v", e.Op, e.Kind, e.Err)
	}
}

// Unwrap exposes the underlying cause to errors.Is/As.
func (e *Error) Unwrap() error { return e.Err }

// IsNetwork reports whether err is a network-class cloud failure, the
// class that aborts the remaining push batch.
func IsNetwork(err error) bool {
	var ce *Error
	return errors.As(err, &ce) && ce.Kind == KindNetwork
}

// IsHTTP reports whether err is a non-2xx cloud response.
func IsHTTP(err error) bool {
	var ce *Error
	return errors.As(err, &ce) && ce.Kind == KindHTTP
}
