package services

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	sqlite "github.com/glebarez/sqlite"
	"github.com/rs/zerolog"
	"golang.org/x/text/language"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/tbourn/go-chat-delivery/internal/domain"
	"github.com/tbourn/go-chat-delivery/internal/repo"
)

// ----- Fakes -----

type fakeProvider struct {
	reply string
	err   error

	calls       int
	lastPrompt  string
	lastHistory []domain.Message
}

func (p *fakeProvider) Respond(ctx context.Context, text string, history []domain.Message) (string, error) {
	p.calls++
	p.lastPrompt = text
	p.lastHistory = history
	if p.err != nil {
		return "", p.err
	}
	return p.reply, nil
}

func (p *fakeProvider) Model() string { return "fake-model" }

type fakeNet struct{ online bool }

func (n *fakeNet) Online() bool { return n.online }

type recordingNotifier struct {
	infos  []string
	errors []string
}

func (r *recordingNotifier) Info(messageID, text string)  { r.infos = append(r.infos, messageID) }
func (r *recordingNotifier) Error(messageID, text string) { r.errors = append(r.errors, messageID) }

// ----- Helpers -----

func newDeliveryTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	dsn := filepath.Join(t.TempDir(), fmt.Sprintf("delivery_svc_test_%d.db", time.Now().UnixNano()))
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			_ = sqlDB.Close()
		}
	})
	if err := db.AutoMigrate(&domain.Conversation{}, &domain.Message{}, &domain.QueueItem{}); err != nil {
		t.Fatalf("automigrate: %v", err)
	}
	return db
}

func newDeliveryService(t *testing.T, db *gorm.DB, prov *fakeProvider, net *fakeNet, not *recordingNotifier) *DeliveryService {
	t.Helper()
	return &DeliveryService{
		DB:          db,
		Queue:       NewOfflineQueue(db, 3, zerolog.Nop()),
		Provider:    prov,
		Status:      NewStatusTracker(),
		Net:         net,
		Notifier:    not,
		Log:         zerolog.Nop(),
		TitleLocale: language.English,
	}
}

// ----- Tests -----

func TestSend_EmptyPayloadRejected(t *testing.T) {
	s := newDeliveryService(t, newDeliveryTestDB(t), &fakeProvider{reply: "ok"}, &fakeNet{online: true}, &recordingNotifier{})

	for _, text := range []string{"", "   ", "\n\t"} {
		if _, err := s.Send(context.Background(), "u1", SendRequest{Text: text}); !errors.Is(err, ErrEmptyPayload) {
			t.Fatalf("text %q: expected ErrEmptyPayload, got %v", text, err)
		}
	}
	if s.Status.Len() != 0 {
		t.Fatalf("rejected send must not touch the status cache")
	}
}

func TestSend_AttachmentOnlyPayloadAccepted(t *testing.T) {
	db := newDeliveryTestDB(t)
	prov := &fakeProvider{reply: "got it"}
	s := newDeliveryService(t, db, prov, &fakeNet{online: true}, &recordingNotifier{})

	att := []domain.Attachment{{Name: "f.txt", Size: 3, Mime: "text/plain", Ref: "blob://f"}}
	res, err := s.Send(context.Background(), "u1", SendRequest{Text: "", Files: att})
	if err != nil {
		t.Fatalf("Send: %v", err)
	}
	if res.Queued || res.AssistantMessage == nil {
		t.Fatalf("expected delivered exchange, got %+v", res)
	}
	if len(res.UserMessage.Attachments) != 1 {
		t.Fatalf("attachments lost: %+v", res.UserMessage)
	}
}

func TestSend_PromptTooLong(t *testing.T) {
	s := newDeliveryService(t, newDeliveryTestDB(t), &fakeProvider{reply: "ok"}, &fakeNet{online: true}, &recordingNotifier{})
	s.MaxPromptRunes = 5

	if _, err := s.Send(context.Background(), "u1", SendRequest{Text: "toolongprompt"}); !errors.Is(err, ErrPromptTooLong) {
		t.Fatalf("expected ErrPromptTooLong, got %v", err)
	}
}

func TestSend_SecondSendWhileInFlight(t *testing.T) {
	s := newDeliveryService(t, newDeliveryTestDB(t), &fakeProvider{reply: "ok"}, &fakeNet{online: true}, &recordingNotifier{})

	s.inFlight.Store(true)
	if _, err := s.Send(context.Background(), "u1", SendRequest{Text: "hi"}); !errors.Is(err, ErrSendInFlight) {
		t.Fatalf("expected ErrSendInFlight, got %v", err)
	}
	s.inFlight.Store(false)

	// Gate released: the next send goes through.
	if _, err := s.Send(context.Background(), "u1", SendRequest{Text: "hi"}); err != nil {
		t.Fatalf("send after release: %v", err)
	}
}

func TestSend_UnknownConversation(t *testing.T) {
	s := newDeliveryService(t, newDeliveryTestDB(t), &fakeProvider{reply: "ok"}, &fakeNet{online: true}, &recordingNotifier{})

	_, err := s.Send(context.Background(), "u1", SendRequest{ConversationID: "nope", Text: "hi"})
	if !errors.Is(err, ErrConversationNotFound) {
		t.Fatalf("expected ErrConversationNotFound, got %v", err)
	}
}

func TestSend_OnlineSuccess_NewConversation(t *testing.T) {
	db := newDeliveryTestDB(t)
	prov := &fakeProvider{reply: "hello back"}
	s := newDeliveryService(t, db, prov, &fakeNet{online: true}, &recordingNotifier{})
	ctx := context.Background()

	res, err := s.Send(ctx, "u1", SendRequest{Text: "plan a trip to lisbon"})
	if err != nil {
		t.Fatalf("Send: %v", err)
	}
	if res.Queued || res.ConversationID == "" || res.AssistantMessage == nil {
		t.Fatalf("unexpected result: %+v", res)
	}
	if res.AssistantMessage.Content != "hello back" || res.AssistantMessage.Role != domain.RoleAssistant {
		t.Fatalf("unexpected assistant message: %+v", res.AssistantMessage)
	}

	// Status reached its terminal state.
	if st, ok := s.StatusOf(res.UserMessage.ID); !ok || st != domain.StatusDelivered {
		t.Fatalf("expected delivered status, got %q ok=%v", st, ok)
	}

	// Both sides of the exchange are durably in the conversation, in order.
	msgs, err := repo.ListMessages(db, res.ConversationID, 0)
	if err != nil {
		t.Fatalf("ListMessages: %v", err)
	}
	if len(msgs) != 2 || msgs[0].Role != domain.RoleUser || msgs[1].Role != domain.RoleAssistant {
		t.Fatalf("unexpected persisted exchange: %+v", msgs)
	}

	// The new conversation was auto-titled from the prompt.
	conv, err := repo.GetConversation(ctx, db, res.ConversationID, "u1")
	if err != nil {
		t.Fatalf("GetConversation: %v", err)
	}
	if conv.Title != "Plan Trip Lisbon" {
		t.Fatalf("unexpected title: %q", conv.Title)
	}
	if conv.Model != "fake-model" {
		t.Fatalf("unexpected model: %q", conv.Model)
	}
}

func TestSend_OnlineSuccess_ExistingConversationGetsHistory(t *testing.T) {
	db := newDeliveryTestDB(t)
	prov := &fakeProvider{reply: "sure"}
	s := newDeliveryService(t, db, prov, &fakeNet{online: true}, &recordingNotifier{})
	ctx := context.Background()

	first, err := s.Send(ctx, "u1", SendRequest{Text: "remember the number forty two"})
	if err != nil {
		t.Fatalf("first send: %v", err)
	}

	if _, err := s.Send(ctx, "u1", SendRequest{ConversationID: first.ConversationID, Text: "what number"}); err != nil {
		t.Fatalf("second send: %v", err)
	}
	// The provider saw the prior exchange as context.
	if len(prov.lastHistory) != 2 {
		t.Fatalf("expected 2 history messages, got %d", len(prov.lastHistory))
	}
	if prov.lastPrompt != "what number" {
		t.Fatalf("unexpected prompt: %q", prov.lastPrompt)
	}
}

func TestSend_OfflineQueuesAndReportsFailed(t *testing.T) {
	db := newDeliveryTestDB(t)
	prov := &fakeProvider{reply: "never called"}
	not := &recordingNotifier{}
	s := newDeliveryService(t, db, prov, &fakeNet{online: false}, not)
	ctx := context.Background()

	res, err := s.Send(ctx, "u1", SendRequest{Text: "hello from the subway"})
	if err != nil {
		t.Fatalf("Send: %v", err)
	}
	if !res.Queued || res.QueueItemID == "" || res.AssistantMessage != nil {
		t.Fatalf("expected queued result, got %+v", res)
	}

	// Surfaced immediately as failed-but-recoverable.
	if st, ok := s.StatusOf(res.UserMessage.ID); !ok || st != domain.StatusFailed {
		t.Fatalf("expected failed status, got %q ok=%v", st, ok)
	}
	if len(not.infos) != 1 || not.infos[0] != res.UserMessage.ID {
		t.Fatalf("expected one informational notice, got %+v", not)
	}
	if prov.calls != 0 {
		t.Fatalf("provider must not be called while offline")
	}

	// The payload is durable.
	items, err := s.Queue.Items(ctx)
	if err != nil {
		t.Fatalf("Items: %v", err)
	}
	if len(items) != 1 || items[0].MessageID != res.UserMessage.ID {
		t.Fatalf("unexpected queue contents: %+v", items)
	}

	// Nothing was appended to the conversation store.
	var count int64
	if err := db.Model(&domain.Message{}).Count(&count).Error; err != nil {
		t.Fatalf("count messages: %v", err)
	}
	if count != 0 {
		t.Fatalf("offline send must not persist messages, got %d", count)
	}
}

func TestSend_ProviderFailureReportedNotQueued(t *testing.T) {
	db := newDeliveryTestDB(t)
	prov := &fakeProvider{err: errors.New("model exploded")}
	not := &recordingNotifier{}
	s := newDeliveryService(t, db, prov, &fakeNet{online: true}, not)
	ctx := context.Background()

	res, err := s.Send(ctx, "u1", SendRequest{Text: "hi"})
	if !errors.Is(err, ErrProviderFailure) {
		t.Fatalf("expected ErrProviderFailure, got %v (res=%+v)", err, res)
	}
	if len(not.errors) != 1 {
		t.Fatalf("expected one error notice, got %+v", not)
	}

	// A provider failure is terminal for this attempt: nothing is parked.
	n, err := s.Queue.Len(ctx)
	if err != nil {
		t.Fatalf("Len: %v", err)
	}
	if n != 0 {
		t.Fatalf("provider failures must not enter the offline queue, depth=%d", n)
	}
}

func TestDeliverQueued_PreservesMessageIdentity(t *testing.T) {
	db := newDeliveryTestDB(t)
	prov := &fakeProvider{reply: "finally"}
	s := newDeliveryService(t, db, prov, &fakeNet{online: true}, &recordingNotifier{})
	ctx := context.Background()

	enqueuedAt := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)
	it := domain.QueueItem{
		ID:         "q1",
		UserID:     "u1",
		MessageID:  "msg-from-before",
		Content:    "park me",
		EnqueuedAt: enqueuedAt,
		MaxRetries: 3,
	}

	if err := s.DeliverQueued(ctx, it); err != nil {
		t.Fatalf("DeliverQueued: %v", err)
	}

	// The user message keeps the id and timestamp it had at send time.
	got, err := repo.GetMessage(db, "msg-from-before")
	if err != nil {
		t.Fatalf("GetMessage: %v", err)
	}
	if !got.CreatedAt.Equal(enqueuedAt) {
		t.Fatalf("expected original timestamp %v, got %v", enqueuedAt, got.CreatedAt)
	}
	if st, ok := s.StatusOf("msg-from-before"); !ok || st != domain.StatusDelivered {
		t.Fatalf("expected delivered status, got %q ok=%v", st, ok)
	}
}

func TestDeliverQueued_ProviderFailurePropagates(t *testing.T) {
	db := newDeliveryTestDB(t)
	prov := &fakeProvider{err: errors.New("still down")}
	s := newDeliveryService(t, db, prov, &fakeNet{online: true}, &recordingNotifier{})

	it := domain.QueueItem{ID: "q1", UserID: "u1", MessageID: "m1", Content: "x", MaxRetries: 3}
	if err := s.DeliverQueued(context.Background(), it); !errors.Is(err, ErrProviderFailure) {
		t.Fatalf("expected ErrProviderFailure, got %v", err)
	}
}

func TestHandleOnline_DrainsQueuedSends(t *testing.T) {
	db := newDeliveryTestDB(t)
	prov := &fakeProvider{reply: "back online"}
	net := &fakeNet{online: false}
	s := newDeliveryService(t, db, prov, net, &recordingNotifier{})
	ctx := context.Background()

	// Two sends while offline, in order.
	first, err := s.Send(ctx, "u1", SendRequest{Text: "first offline send"})
	if err != nil {
		t.Fatalf("first send: %v", err)
	}
	time.Sleep(2 * time.Millisecond)
	second, err := s.Send(ctx, "u1", SendRequest{Text: "second offline send"})
	if err != nil {
		t.Fatalf("second send: %v", err)
	}

	net.online = true
	s.HandleOnline(ctx)

	// Queue emptied, both delivered, statuses updated.
	n, err := s.Queue.Len(ctx)
	if err != nil {
		t.Fatalf("Len: %v", err)
	}
	if n != 0 {
		t.Fatalf("expected drained queue, depth=%d", n)
	}
	for _, res := range []*SendResult{first, second} {
		if st, ok := s.StatusOf(res.UserMessage.ID); !ok || st != domain.StatusDelivered {
			t.Fatalf("message %s: expected delivered, got %q ok=%v", res.UserMessage.ID, st, ok)
		}
	}
	if prov.calls != 2 {
		t.Fatalf("expected 2 provider calls, got %d", prov.calls)
	}
	// FIFO: the second drain call saw the first exchange already appended.
	if prov.lastPrompt != "second offline send" {
		t.Fatalf("unexpected final prompt: %q", prov.lastPrompt)
	}
}

func TestRestoreStatuses_RebuildsFailedFromQueue(t *testing.T) {
	db := newDeliveryTestDB(t)
	ctx := context.Background()

	// Simulate a prior process: items already parked in the durable queue.
	seedQueue := NewOfflineQueue(db, 3, zerolog.Nop())
	if _, err := seedQueue.Enqueue(ctx, "u1", "", "m1", "a", nil); err != nil {
		t.Fatalf("seed m1: %v", err)
	}
	if _, err := seedQueue.Enqueue(ctx, "u1", "", "m2", "b", nil); err != nil {
		t.Fatalf("seed m2: %v", err)
	}

	// Fresh process: empty status cache.
	s := newDeliveryService(t, db, &fakeProvider{reply: "ok"}, &fakeNet{online: true}, &recordingNotifier{})
	if s.Status.Len() != 0 {
		t.Fatalf("fresh tracker expected")
	}
	if err := s.RestoreStatuses(ctx); err != nil {
		t.Fatalf("RestoreStatuses: %v", err)
	}

	for _, id := range []string{"m1", "m2"} {
		if st, ok := s.StatusOf(id); !ok || st != domain.StatusFailed {
			t.Fatalf("%s: expected failed after restore, got %q ok=%v", id, st, ok)
		}
	}
}

func TestSend_RetitlesPlaceholderConversation(t *testing.T) {
	db := newDeliveryTestDB(t)
	s := newDeliveryService(t, db, &fakeProvider{reply: "ok"}, &fakeNet{online: true}, &recordingNotifier{})
	ctx := context.Background()

	conv, err := repo.CreateConversation(ctx, db, "u1", "New conversation", "fake-model")
	if err != nil {
		t.Fatalf("seed conversation: %v", err)
	}

	if _, err := s.Send(ctx, "u1", SendRequest{ConversationID: conv.ID, Text: "compare sqlite and postgres"}); err != nil {
		t.Fatalf("Send: %v", err)
	}

	got, err := repo.GetConversation(ctx, db, conv.ID, "u1")
	if err != nil {
		t.Fatalf("GetConversation: %v", err)
	}
	if got.Title == "New conversation" || got.Title == "" {
		t.Fatalf("placeholder title should have been replaced, got %q", got.Title)
	}
}
