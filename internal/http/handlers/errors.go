// Package handlers defines HTTP-layer error codes used across all API endpoints.
//
// These symbolic constants are mapped to HTTP responses via the fail()
// helper and give clients a stable, machine-readable error taxonomy that
// supplements human-readable messages. Generic codes mirror common HTTP
// status semantics; domain-specific codes cover delivery-pipeline outcomes
// that a status alone cannot convey.
package handlers

const (
	ErrCodeBadRequest   = "bad_request"
	ErrCodeUnauthorized = "unauthorized"
	ErrCodeNotFound     = "not_found"
	ErrCodeConflict     = "conflict"
	ErrCodeRateLimited  = "too_many_requests"
	ErrCodeInternal     = "internal_error"

	// Domain-specific:
	ErrCodeSendInFlight     = "send_in_flight"
	ErrCodeProviderFailed   = "provider_failed"
	ErrCodeListFailed       = "list_failed"
	ErrCodeClearFailed      = "clear_failed"
	ErrCodeMethodNotAllowed = "method_not_allowed"
)
