// Package services – DeliveryService
//
// This file implements DeliveryService, the orchestrator that owns one
// outgoing message's full lifecycle: validate the payload, track its status,
// decide the online vs. queued path, invoke the response provider, and
// append the completed exchange to the conversation record.
//
// Failure semantics: a provider rejection while online is reported once and
// never queued for background retry: a provider-level failure (malformed
// request, provider bug) is distinct from a connectivity failure and
// re-sending it could duplicate a provider-side effect. Only sends attempted
// while the network is known-unreachable enter the offline queue.
//
// Observability: public entry points are OpenTelemetry-instrumented; spans
// carry message and conversation identifiers.
package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync/atomic"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/text/language"
	"gorm.io/gorm"

	"github.com/tbourn/go-chat-delivery/internal/domain"
	"github.com/tbourn/go-chat-delivery/internal/notify"
	"github.com/tbourn/go-chat-delivery/internal/provider"
	"github.com/tbourn/go-chat-delivery/internal/repo"
)

// sendOutcomes counts finished sends by terminal outcome.
var sendOutcomes = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "delivery_sends_total",
		Help: "Total send attempts by terminal outcome.",
	},
	[]string{"outcome"}, // delivered | queued | provider_failed | rejected
)

func init() {
	prometheus.MustRegister(sendOutcomes)
}

// Connectivity is the orchestrator's view of the network: a proactive
// reachability answer, consulted before each live send.
type Connectivity interface {
	Online() bool
}

// SendRequest is the payload of one user send. ConversationID may be empty
// to start a new conversation; the store assigns the id in that case.
type SendRequest struct {
	ConversationID string
	Text           string
	Files          []domain.Attachment
}

// SendResult reports where a send ended up.
//
// Exactly one of two shapes comes back on success: a completed exchange
// (AssistantMessage set, Queued false) or a parked payload (Queued true,
// QueueItemID set, AssistantMessage nil).
type SendResult struct {
	ConversationID   string
	UserMessage      *domain.Message
	AssistantMessage *domain.Message
	Queued           bool
	QueueItemID      string
}

// DeliveryService coordinates message delivery end to end.
//
// The single-flight guard is owned here, not trusted to callers: a second
// Send while one is in progress gets ErrSendInFlight. Queue draining runs
// through DeliverQueued, which bypasses the gate; drain exclusivity is the
// queue's own lock, and a live send racing a drain is an accepted
// weak-ordering point (distinct message ids).
type DeliveryService struct {
	DB       *gorm.DB
	Queue    *OfflineQueue
	Provider provider.Provider
	Status   *StatusTracker
	Net      Connectivity
	Notifier notify.Notifier
	Log      zerolog.Logger

	// Optional guards and knobs
	MaxPromptRunes int
	HistoryLimit   int

	// Title generation config
	TitleLocale language.Tag
	TitleMaxLen int

	inFlight atomic.Bool
}

// Send runs one message through the pipeline on behalf of userID.
//
// Lifecycle:
//  1. empty payload → ErrEmptyPayload, no state change;
//  2. another send in progress → ErrSendInFlight;
//  3. status "sending"; offline → enqueue + status "failed" + informational
//     notice, returns a Queued result;
//  4. online → status "sent", provider call; failure → status "failed" +
//     error notice + ErrProviderFailure (no enqueue); success → status
//     "delivered" and the exchange is appended to the conversation record.
//
// The gate is released on every path.
func (s *DeliveryService) Send(ctx context.Context, userID string, req SendRequest) (*SendResult, error) {
	text := strings.TrimSpace(req.Text)
	if text == "" && len(req.Files) == 0 {
		return nil, ErrEmptyPayload
	}
	if s.MaxPromptRunes > 0 && utf8.RuneCountInString(text) > s.MaxPromptRunes {
		return nil, ErrPromptTooLong
	}

	if !s.inFlight.CompareAndSwap(false, true) {
		return nil, ErrSendInFlight
	}
	defer s.inFlight.Store(false)

	tr := otel.Tracer("services/DeliveryService")
	ctx, span := tr.Start(ctx, "Send",
		trace.WithAttributes(
			attribute.String("user.id", userID),
			attribute.String("conversation.id", req.ConversationID),
		),
	)
	defer span.End()

	// Resolve the target conversation up front so a bad id fails before any
	// state is touched.
	var history []domain.Message
	if req.ConversationID != "" {
		if _, err := repo.GetConversation(ctx, s.DB, req.ConversationID, userID); err != nil {
			if errors.Is(err, repo.ErrNotFound) {
				return nil, ErrConversationNotFound
			}
			return nil, fmt.Errorf("load conversation: %w", err)
		}
		var err error
		history, err = repo.ListMessages(s.DB.WithContext(ctx), req.ConversationID, s.HistoryLimit)
		if err != nil {
			return nil, fmt.Errorf("load history: %w", err)
		}
	}

	userMsg := &domain.Message{
		ID:             uuid.NewString(),
		ConversationID: req.ConversationID,
		Role:           domain.RoleUser,
		Content:        text,
		Attachments:    req.Files,
		CreatedAt:      time.Now().UTC(),
	}
	s.Status.Set(userMsg.ID, domain.StatusSending)
	span.SetAttributes(attribute.String("message.id", userMsg.ID))

	if !s.Net.Online() {
		// Deliberate policy: an offline send surfaces immediately as
		// failed-but-recoverable instead of silently pending.
		it, err := s.Queue.Enqueue(ctx, userID, req.ConversationID, userMsg.ID, text, req.Files)
		if err != nil {
			s.Status.Set(userMsg.ID, domain.StatusFailed)
			return nil, err
		}
		s.Status.Set(userMsg.ID, domain.StatusFailed)
		s.Notifier.Info(userMsg.ID, "You appear to be offline. The message was queued and will be sent when the connection returns.")
		sendOutcomes.WithLabelValues("queued").Inc()
		return &SendResult{
			ConversationID: req.ConversationID,
			UserMessage:    userMsg,
			Queued:         true,
			QueueItemID:    it.ID,
		}, nil
	}

	s.Status.Set(userMsg.ID, domain.StatusSent)

	reply, err := s.Provider.Respond(ctx, text, history)
	if err != nil {
		s.Status.Set(userMsg.ID, domain.StatusFailed)
		s.Notifier.Error(userMsg.ID, "The assistant could not answer this message.")
		sendOutcomes.WithLabelValues("provider_failed").Inc()
		s.Log.Warn().Str("message_id", userMsg.ID).Err(err).Msg("provider rejected send")
		return nil, fmt.Errorf("%w: %v", ErrProviderFailure, err)
	}

	convID, assistantMsg, err := s.completeExchange(ctx, userID, userMsg, reply)
	if err != nil {
		// Durable-store failure: the persistence guarantee cannot be
		// honored, so it propagates instead of being masked.
		s.Status.Set(userMsg.ID, domain.StatusFailed)
		return nil, err
	}

	s.Status.Set(userMsg.ID, domain.StatusDelivered)
	sendOutcomes.WithLabelValues("delivered").Inc()
	return &SendResult{
		ConversationID:   convID,
		UserMessage:      userMsg,
		AssistantMessage: assistantMsg,
	}, nil
}

// DeliverQueued attempts delivery of one parked payload. It is the drain
// callback: same provider-and-append path as a live send, but it bypasses
// the single-flight gate and never re-enqueues; the queue's own retry
// bookkeeping decides what happens on failure.
func (s *DeliveryService) DeliverQueued(ctx context.Context, it domain.QueueItem) error {
	tr := otel.Tracer("services/DeliveryService")
	ctx, span := tr.Start(ctx, "DeliverQueued",
		trace.WithAttributes(attribute.String("queue_item.id", it.ID)),
	)
	defer span.End()

	var history []domain.Message
	if it.ConversationID != "" {
		var err error
		history, err = repo.ListMessages(s.DB.WithContext(ctx), it.ConversationID, s.HistoryLimit)
		if err != nil {
			return fmt.Errorf("load history: %w", err)
		}
	}

	reply, err := s.Provider.Respond(ctx, it.Content, history)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrProviderFailure, err)
	}

	userMsg := &domain.Message{
		ID:             it.MessageID,
		ConversationID: it.ConversationID,
		Role:           domain.RoleUser,
		Content:        it.Content,
		Attachments:    it.Attachments,
		CreatedAt:      it.EnqueuedAt,
	}
	if _, _, err := s.completeExchange(ctx, it.UserID, userMsg, reply); err != nil {
		return err
	}
	s.Status.Set(it.MessageID, domain.StatusDelivered)
	return nil
}

// HandleOnline is the connectivity-restored hook: it triggers exactly one
// drain pass replaying queued payloads through DeliverQueued. A pass already
// in progress suppresses this one.
func (s *DeliveryService) HandleOnline(ctx context.Context) {
	drained, err := s.Queue.Drain(ctx, s.DeliverQueued)
	if err != nil {
		s.Log.Error().Err(err).Msg("queue drain aborted")
		return
	}
	if drained {
		s.Log.Info().Msg("offline queue drained")
	}
}

// RestoreStatuses rebuilds the ephemeral status cache after a restart: every
// message still sitting in the durable queue reappears as failed, which is
// the only state reconstructable from the queue alone.
func (s *DeliveryService) RestoreStatuses(ctx context.Context) error {
	items, err := s.Queue.Items(ctx)
	if err != nil {
		return fmt.Errorf("restore statuses: %w", err)
	}
	for _, it := range items {
		s.Status.Set(it.MessageID, domain.StatusFailed)
	}
	return nil
}

// completeExchange persists a finished user/assistant pair in one
// transaction, creating (and auto-titling) the conversation when the send
// started a new session, and refreshing UpdatedAt.
func (s *DeliveryService) completeExchange(ctx context.Context, userID string, userMsg *domain.Message, reply string) (string, *domain.Message, error) {
	convID := userMsg.ConversationID
	var assistantMsg *domain.Message

	err := s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if convID == "" {
			title := clipTitle(titleFromPrompt(userMsg.Content, s.TitleLocale), s.TitleMaxLen)
			if title == "" {
				title = defaultTitleNew
			}
			conv, err := repo.CreateConversation(ctx, tx, userID, title, s.Provider.Model())
			if err != nil {
				return err
			}
			convID = conv.ID
			userMsg.ConversationID = convID
		} else {
			// Retitle a still-placeholder conversation from this prompt.
			var conv domain.Conversation
			if err := tx.Where("id = ?", convID).First(&conv).Error; err == nil && shouldAutoTitle(conv.Title) {
				if gen := clipTitle(titleFromPrompt(userMsg.Content, s.TitleLocale), s.TitleMaxLen); gen != "" {
					tx.Model(&domain.Conversation{}).Where("id = ?", convID).Update("title", gen)
				}
			}
		}

		if err := repo.InsertMessage(tx, userMsg); err != nil {
			return err
		}
		m, err := repo.CreateMessage(tx, convID, domain.RoleAssistant, reply, nil)
		if err != nil {
			return err
		}
		assistantMsg = m

		return repo.TouchConversation(ctx, tx, convID, time.Now())
	})
	if err != nil {
		return "", nil, fmt.Errorf("append exchange: %w", err)
	}
	return convID, assistantMsg, nil
}

// StatusOf exposes the status cache to the transport layer.
func (s *DeliveryService) StatusOf(id string) (domain.DeliveryStatus, bool) {
	return s.Status.Get(id)
}
