package provider

import (
	"context"
	"testing"

	"github.com/tbourn/go-chat-delivery/internal/domain"
)

func TestStaticProvider_Respond(t *testing.T) {
	p := NewStaticProvider()

	reply, err := p.Respond(context.Background(), "hello", nil)
	if err != nil {
		t.Fatalf("Respond: %v", err)
	}
	if reply != `You said "hello".` {
		t.Fatalf("unexpected reply: %q", reply)
	}

	history := []domain.Message{
		{Role: domain.RoleUser, Content: "a"},
		{Role: domain.RoleAssistant, Content: "b"},
	}
	reply, err = p.Respond(context.Background(), "again", history)
	if err != nil {
		t.Fatalf("Respond with history: %v", err)
	}
	if reply != `You said "again" (after 2 earlier messages).` {
		t.Fatalf("unexpected reply: %q", reply)
	}

	if p.Model() != "static" {
		t.Fatalf("unexpected model: %q", p.Model())
	}
}
