// Package services implements the delivery pipeline's business logic: the
// delivery orchestrator, the durable offline queue, and the in-memory status
// tracker. This file centralizes common service-level error values so that
// they can be consistently returned by service methods and checked by
// callers.
//
// These errors are intended for internal use by the service layer;
// translation into user-facing messages or HTTP status codes is performed at
// the handler layer.
package services

import "errors"

var (
	// ErrEmptyPayload is returned when a send carries neither text nor
	// attachments. No message, status entry, or notification is produced.
	ErrEmptyPayload = errors.New("payload is empty")

	// ErrPromptTooLong is returned when the prompt exceeds the configured
	// maximum length limit.
	ErrPromptTooLong = errors.New("prompt too long")

	// ErrSendInFlight is returned when a send is attempted while another is
	// still in progress. Sends are single-flight: the second caller retries
	// after the first resolves, nothing is buffered.
	ErrSendInFlight = errors.New("send already in progress")

	// ErrProviderFailure wraps a response provider rejection. Provider
	// failures are reported once and are not queued for background retry:
	// only connectivity-detected offline sends enter the offline queue.
	ErrProviderFailure = errors.New("provider failure")

	// ErrConversationNotFound indicates that the requested conversation does
	// not exist or is not accessible to the current user.
	ErrConversationNotFound = errors.New("conversation not found")
)
