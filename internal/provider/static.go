package provider

import (
	"context"
	"fmt"

	"github.com/tbourn/go-chat-delivery/internal/domain"
)

// StaticProvider is a deterministic in-process provider for development and
// tests: it echoes the prompt back with a canned framing and never fails.
type StaticProvider struct{}

// NewStaticProvider returns a ready StaticProvider.
func NewStaticProvider() *StaticProvider { return &StaticProvider{} }

// Model identifies the static provider in conversation metadata.
func (s *StaticProvider) Model() string { return "static" }

// Respond echoes the prompt, mentioning how much history it saw.
func (s *StaticProvider) Respond(_ context.Context, text string, history []domain.Message) (string, error) {
	if len(history) > 0 {
		return fmt.Sprintf("You said %q (after %d earlier messages).", text, len(history)), nil
	}
	return fmt.Sprintf("You said %q.", text), nil
}
