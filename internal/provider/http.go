package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/tbourn/go-chat-delivery/internal/domain"
)

// chatMessage is the wire shape for one history entry.
type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// chatRequest is the JSON payload POSTed to the provider's chat endpoint.
type chatRequest struct {
	Model    string        `json:"model"`
	Messages []chatMessage `json:"messages"`
	Stream   bool          `json:"stream"`
}

// chatResponse is the JSON envelope the provider answers with.
type chatResponse struct {
	Message chatMessage `json:"message"`
	Done    bool        `json:"done"`
}

// HTTPProvider calls a chat-completions style HTTP endpoint (e.g., an Ollama
// or compatible gateway at <base>/api/chat). The request timeout lives here,
// on the provider's own http.Client; the delivery orchestrator deliberately
// carries no timeout or cancellation of its own.
type HTTPProvider struct {
	client  *http.Client
	baseURL string
	model   string
}

// NewHTTPProvider builds a provider against baseURL using model, with the
// given per-request timeout. A timeout <= 0 falls back to 60s.
func NewHTTPProvider(baseURL, model string, timeout time.Duration) *HTTPProvider {
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	return &HTTPProvider{
		client:  &http.Client{Timeout: timeout},
		baseURL: baseURL,
		model:   model,
	}
}

// Model returns the configured model name.
func (p *HTTPProvider) Model() string { return p.model }

// Respond sends the prompt and prior history and returns the reply text.
// Any transport error, non-200 status, or empty reply is returned as an
// error, never as reply text.
func (p *HTTPProvider) Respond(ctx context.Context, text string, history []domain.Message) (string, error) {
	msgs := make([]chatMessage, 0, len(history)+1)
	for _, m := range history {
		msgs = append(msgs, chatMessage{Role: m.Role, Content: m.Content})
	}
	msgs = append(msgs, chatMessage{Role: domain.RoleUser, Content: text})

	body, err := json.Marshal(chatRequest{Model: p.model, Messages: msgs})
	if err != nil {
		return "", fmt.Errorf("provider: marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/api/chat", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("provider: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("provider: request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return "", fmt.Errorf("provider: status %d: %s", resp.StatusCode, string(b))
	}

	var out chatResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("provider: decode response: %w", err)
	}
	if out.Message.Content == "" {
		return "", fmt.Errorf("provider: empty reply")
	}
	return out.Message.Content, nil
}
