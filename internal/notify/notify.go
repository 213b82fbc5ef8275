// Package notify defines the user-facing notification boundary of the
// delivery pipeline: the toast-style signals the UI layer shows when a send
// is parked offline or a provider call fails. The pipeline only emits; how
// a consumer renders the notification is outside this core.
package notify

import "github.com/rs/zerolog"

// Notifier receives user-visible delivery events tied to a message id.
//
// Info carries recoverable, non-alarming news (e.g., "queued while offline");
// Error carries a failure the user should see. Implementations must be safe
// for concurrent use and must not block the delivery path.
type Notifier interface {
	Info(messageID, text string)
	Error(messageID, text string)
}

// LogNotifier is the default Notifier: it writes structured log events.
// Useful on servers where the real toast surface lives in a client that
// polls message status instead.
type LogNotifier struct {
	Log zerolog.Logger
}

// Info logs an informational notification.
func (n LogNotifier) Info(messageID, text string) {
	n.Log.Info().Str("message_id", messageID).Str("notice", text).Msg("delivery notice")
}

// Error logs an error notification.
func (n LogNotifier) Error(messageID, text string) {
	n.Log.Warn().Str("message_id", messageID).Str("notice", text).Msg("delivery error notice")
}
