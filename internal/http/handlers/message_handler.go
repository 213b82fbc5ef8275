// Message HTTP handlers.
//
// This file exposes the send endpoint (the single entry point of the
// delivery pipeline) and the per-message status lookup:
//   - POST /messages              (run one payload through the pipeline)
//   - GET  /messages/{id}/status  (ephemeral delivery status)
//
// Idempotency:
// If the client supplies an Idempotency-Key header and a previous successful
// result exists for (user, key), the handler returns the recorded result and
// sets `Idempotency-Replayed: true` instead of re-running the pipeline.
package handlers

import (
	"errors"
	"net/http"
	"regexp"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/tbourn/go-chat-delivery/internal/domain"
	"github.com/tbourn/go-chat-delivery/internal/http/middleware"
	"github.com/tbourn/go-chat-delivery/internal/repo"
	"github.com/tbourn/go-chat-delivery/internal/services"
)

//
// DTOs
//

// SendMessageRequest is the JSON payload for submitting a message. Content
// may be empty when Files is non-empty; a payload with neither is rejected.
type SendMessageRequest struct {
	// ConversationID targets an existing session; empty starts a new one.
	ConversationID string `json:"conversation_id,omitempty" example:"7a8d9f4c-1b2a-4c3d-8e9f-0123456789ab"`
	// Content is the user prompt.
	Content string `json:"content" example:"What does the retry budget default to?"`
	// Files are attachment descriptors already uploaded out of band.
	Files []domain.Attachment `json:"files,omitempty"`
}

// SendMessageResponse reports where the send ended up.
type SendMessageResponse struct {
	ConversationID   string                `json:"conversation_id,omitempty"`
	UserMessage      *domain.Message       `json:"user_message"`
	AssistantMessage *domain.Message       `json:"assistant_message,omitempty"`
	Status           domain.DeliveryStatus `json:"status"`
	Queued           bool                  `json:"queued"`
	QueueItemID      string                `json:"queue_item_id,omitempty"`
}

// MessageStatusResponse is the status lookup envelope.
type MessageStatusResponse struct {
	MessageID string                `json:"message_id"`
	Status    domain.DeliveryStatus `json:"status"`
}

//
// Helpers
//

// nlCollapseRE collapses runs of 3+ newlines to two, preserving paragraphs.
var nlCollapseRE = regexp.MustCompile(`\n{3,}`)

// sanitizeContent normalizes user text for consistent downstream behavior:
// CRLF/CR to LF, runs of 3+ LFs collapsed to two, surrounding space trimmed.
func sanitizeContent(raw string) string {
	s := strings.ReplaceAll(raw, "\r\n", "\n")
	s = strings.ReplaceAll(s, "\r", "\n")
	s = nlCollapseRE.ReplaceAllString(s, "\n\n")
	return strings.TrimSpace(s)
}

//
// Handlers
//

// SendMessage godoc
// @ID          sendMessage
// @Summary     Submit a message for delivery
// @Description Runs one payload through the delivery pipeline. While online the
// @Description assistant reply is returned inline; while offline the payload is
// @Description queued durably and the response reports queued=true.
// @Description Supports idempotency via the Idempotency-Key header.
// @Tags        Messages
// @Accept      json
// @Produce     json
//
// @Param       X-User-ID        header  string  true   "Calling user"  example(user123)
// @Param       Idempotency-Key  header  string  false  "Idempotency key for safe retries"
// @Param       body             body    handlers.SendMessageRequest  true  "Send payload"
//
// @Success     200  {object}  handlers.SendMessageResponse  "Delivered exchange"
// @Success     202  {object}  handlers.SendMessageResponse  "Queued while offline"
// @Failure     400  {object}  handlers.ErrorResponse        "Empty or oversized payload"
// @Failure     404  {object}  handlers.ErrorResponse        "Conversation not found"
// @Failure     409  {object}  handlers.ErrorResponse        "A send is already in progress"
// @Failure     502  {object}  handlers.ErrorResponse        "Provider failure"
// @Router      /messages [post]
func (h *Handlers) SendMessage(c *gin.Context) {
	ctx := c.Request.Context()
	userID, okUser := userIDFrom(c)
	if !okUser {
		return
	}

	var req SendMessageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "invalid JSON body")
		return
	}
	req.Content = sanitizeContent(req.Content)

	// Idempotent replay: a recorded key short-circuits the pipeline.
	idemKey := strings.TrimSpace(c.GetHeader("Idempotency-Key"))
	if idemKey != "" {
		if rec, err := repo.GetIdempotency(ctx, h.DB, userID, idemKey, time.Now().UTC()); err == nil {
			h.replayRecorded(c, rec)
			return
		}
	}

	res, err := h.Delivery.Send(ctx, userID, services.SendRequest{
		ConversationID: req.ConversationID,
		Text:           req.Content,
		Files:          req.Files,
	})
	if err != nil {
		switch {
		case errors.Is(err, services.ErrEmptyPayload):
			fail(c, http.StatusBadRequest, ErrCodeBadRequest, "message needs text or at least one file")
		case errors.Is(err, services.ErrPromptTooLong):
			fail(c, http.StatusBadRequest, ErrCodeBadRequest, "message too long")
		case errors.Is(err, services.ErrSendInFlight):
			fail(c, http.StatusConflict, ErrCodeSendInFlight, "a send is already in progress")
		case errors.Is(err, services.ErrConversationNotFound):
			fail(c, http.StatusNotFound, ErrCodeNotFound, "conversation not found")
		case errors.Is(err, services.ErrProviderFailure):
			fail(c, http.StatusBadGateway, ErrCodeProviderFailed, "the assistant could not answer")
		default:
			fail(c, http.StatusInternalServerError, ErrCodeInternal, "send failed")
		}
		return
	}

	status := http.StatusOK
	msgStatus := domain.StatusDelivered
	if res.Queued {
		status = http.StatusAccepted
		msgStatus = domain.StatusFailed // failed-but-recoverable, per queue policy
	}

	if idemKey != "" {
		// Best effort: a lost record only costs one extra replayable send.
		if _, err := repo.CreateIdempotency(ctx, h.DB, userID, idemKey, res.UserMessage.ID, res.ConversationID, status, h.IdempotencyTTL); err != nil && !errors.Is(err, repo.ErrDuplicate) {
			middleware.LoggerFrom(c).Warn().Err(err).Msg("record idempotency key")
		}
	}

	ok(c, status, SendMessageResponse{
		ConversationID:   res.ConversationID,
		UserMessage:      res.UserMessage,
		AssistantMessage: res.AssistantMessage,
		Status:           msgStatus,
		Queued:           res.Queued,
		QueueItemID:      res.QueueItemID,
	})
}

// replayRecorded serves a previously recorded send result for a reused
// Idempotency-Key without re-entering the pipeline.
func (h *Handlers) replayRecorded(c *gin.Context, rec *domain.Idempotency) {
	var userMsg *domain.Message
	if m, err := repo.GetMessage(h.DB, rec.MessageID); err == nil {
		userMsg = m
	}
	st, okSt := h.Delivery.StatusOf(rec.MessageID)
	if !okSt {
		st = domain.StatusDelivered
	}
	c.Header("Idempotency-Replayed", "true")
	ok(c, rec.Status, SendMessageResponse{
		ConversationID: rec.ConversationID,
		UserMessage:    userMsg,
		Status:         st,
		Queued:         rec.Status == http.StatusAccepted,
	})
}

// GetMessageStatus godoc
// @ID          getMessageStatus
// @Summary     Look up a message's delivery status
// @Description Returns the ephemeral lifecycle state for a user message id.
// @Description Unknown ids yield 404: status is a display cache, rebuilt after
// @Description restarts, not a durable record.
// @Tags        Messages
// @Produce     json
//
// @Param       X-User-ID  header  string  true  "Calling user"
// @Param       id         path    string  true  "Message ID (UUID)"  format(uuid)
//
// @Success     200  {object}  handlers.MessageStatusResponse
// @Failure     404  {object}  handlers.ErrorResponse  "No status tracked for this id"
// @Router      /messages/{id}/status [get]
func (h *Handlers) GetMessageStatus(c *gin.Context) {
	if _, okUser := userIDFrom(c); !okUser {
		return
	}
	id := c.Param("id")
	st, okSt := h.Delivery.StatusOf(id)
	if !okSt {
		fail(c, http.StatusNotFound, ErrCodeNotFound, "no status tracked for this message")
		return
	}
	ok(c, http.StatusOK, MessageStatusResponse{MessageID: id, Status: st})
}
