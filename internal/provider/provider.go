// Package provider defines the response provider boundary: the external
// system that turns a user prompt plus conversation history into an
// assistant reply. The delivery pipeline treats it as an opaque call that
// either resolves with text or fails with an error; it performs no retries
// of its own and owns its own timeout.
package provider

import (
	"context"

	"github.com/tbourn/go-chat-delivery/internal/domain"
)

// Provider produces an assistant reply for a prompt and its prior history.
//
// Implementations must return a non-nil error on failure rather than
// encoding the failure into the reply text, and should honor ctx
// cancellation. A reply is never partially delivered: callers receive either
// the full text or an error.
type Provider interface {
	Respond(ctx context.Context, text string, history []domain.Message) (string, error)

	// Model identifies the backing model, recorded on new conversations.
	Model() string
}
