// Package handlers defines HTTP-layer error codes used across the local API.
//
// Codes are lowercase snake_case and stable: terminal software branches on
// them programmatically, in particular offline_unsupported (the operation
// needs the cloud and the cloud is down) and cloud_unreachable (the proxy
// attempt failed mid-flight).
package handlers

const (
	ErrCodeBadRequest       = "bad_request"
	ErrCodeNotFound         = "not_found"
	ErrCodeMethodNotAllowed = "method_not_allowed"
	ErrCodeInternal         = "internal_error"

	// Domain-specific:
	ErrCodeOfflineUnsupported = "offline_unsupported"
	ErrCodeCloudUnreachable   = "cloud_unreachable"
)
