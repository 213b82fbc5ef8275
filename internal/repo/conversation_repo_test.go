package repo

import (
	"context"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	sqlite "github.com/glebarez/sqlite" // pure-Go SQLite
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/tbourn/go-chat-delivery/internal/domain"
)

func newConvRepoDB(t *testing.T, migrate ...any) *gorm.DB {
	t.Helper()

	dsn := filepath.Join(t.TempDir(), fmt.Sprintf("conv_repo_test_%d.db", time.Now().UnixNano()))
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}

	// Ensure the file handle is released before TempDir cleanup (Windows needs this).
	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			_ = sqlDB.Close()
		}
	})

	if len(migrate) > 0 {
		if err := db.AutoMigrate(migrate...); err != nil {
			t.Fatalf("automigrate: %v", err)
		}
	}
	return db
}

func TestCreateConversation_Error_NoTable(t *testing.T) {
	db := newConvRepoDB(t /* no migrations */)
	c, err := CreateConversation(context.Background(), db, "u1", "t", "m")
	if err == nil || c != nil {
		t.Fatalf("expected error creating without table, got conv=%v err=%v", c, err)
	}
}

func TestCreateConversation_Success_PersistsAndSetsFields(t *testing.T) {
	db := newConvRepoDB(t, &domain.Conversation{})

	start := time.Now().UTC().Add(-time.Minute)
	c, err := CreateConversation(context.Background(), db, "u1", "My Conversation", "llama3")
	if err != nil {
		t.Fatalf("CreateConversation: %v", err)
	}
	if c.ID == "" || c.UserID != "u1" || c.Title != "My Conversation" || c.Model != "llama3" {
		t.Fatalf("unexpected Conversation fields: %+v", c)
	}
	if c.CreatedAt.Before(start) {
		t.Fatalf("CreatedAt seems unset/really old: %v", c.CreatedAt)
	}
	// round-trip
	var got domain.Conversation
	if err := db.First(&got, "id = ?", c.ID).Error; err != nil {
		t.Fatalf("load created conversation: %v", err)
	}
	if got.UserID != "u1" || got.Title != "My Conversation" {
		t.Fatalf("round-trip mismatch: %+v", got)
	}
}

func TestListConversations_OrderByUpdatedAtAndFilter(t *testing.T) {
	db := newConvRepoDB(t, &domain.Conversation{})

	t1 := time.Date(2026, 1, 1, 10, 0, 0, 0, time.UTC)
	t2 := t1.Add(1 * time.Hour)
	t3 := t2.Add(1 * time.Hour) // most recently updated for u1
	seed := []domain.Conversation{
		{ID: "c1", UserID: "u1", Title: "A", CreatedAt: t1, UpdatedAt: t1},
		{ID: "c2", UserID: "u1", Title: "B", CreatedAt: t1, UpdatedAt: t3},
		{ID: "c3", UserID: "u1", Title: "C", CreatedAt: t1, UpdatedAt: t2},
		{ID: "cx", UserID: "u2", Title: "Other", CreatedAt: t1, UpdatedAt: t2},
	}
	for _, c := range seed {
		if err := db.Create(&c).Error; err != nil {
			t.Fatalf("seed %s: %v", c.ID, err)
		}
	}

	list, err := ListConversations(context.Background(), db, "u1")
	if err != nil {
		t.Fatalf("ListConversations: %v", err)
	}
	if len(list) != 3 {
		t.Fatalf("expected 3 conversations for u1, got %d", len(list))
	}
	// Descending by UpdatedAt: c2, c3, c1
	if list[0].ID != "c2" || list[1].ID != "c3" || list[2].ID != "c1" {
		t.Fatalf("unexpected order: %#v", list)
	}
}

func TestCountConversations_Success(t *testing.T) {
	db := newConvRepoDB(t, &domain.Conversation{})
	for _, c := range []domain.Conversation{
		{ID: "a", UserID: "u1", Title: "t"},
		{ID: "b", UserID: "u1", Title: "t"},
		{ID: "x", UserID: "u2", Title: "t"},
	} {
		if err := db.Create(&c).Error; err != nil {
			t.Fatalf("seed %s: %v", c.ID, err)
		}
	}

	total, err := CountConversations(context.Background(), db, "u1")
	if err != nil {
		t.Fatalf("CountConversations: %v", err)
	}
	if total != 2 {
		t.Fatalf("expected 2, got %d", total)
	}
}

func TestListConversationsPage_PaginationAndOrder(t *testing.T) {
	db := newConvRepoDB(t, &domain.Conversation{})

	base := time.Date(2026, 2, 1, 12, 0, 0, 0, time.UTC)
	for i := 1; i <= 5; i++ {
		c := domain.Conversation{
			ID:        string(rune('a' + i - 1)),
			UserID:    "u1",
			Title:     "t",
			CreatedAt: base,
			UpdatedAt: base.Add(time.Duration(i) * time.Second),
		}
		if err := db.Create(&c).Error; err != nil {
			t.Fatalf("seed %d: %v", i, err)
		}
	}

	// Offset 1, limit 2 => the 2nd and 3rd most recently updated => 'd','c'
	page, err := ListConversationsPage(context.Background(), db, "u1", 1, 2)
	if err != nil {
		t.Fatalf("ListConversationsPage: %v", err)
	}
	if len(page) != 2 || page[0].ID != "d" || page[1].ID != "c" {
		t.Fatalf("unexpected page slice: %+v", page)
	}
}

func TestGetConversation_FoundAndNotFound(t *testing.T) {
	db := newConvRepoDB(t, &domain.Conversation{})

	if _, err := GetConversation(context.Background(), db, "nope", "u1"); err == nil {
		t.Fatalf("expected ErrRecordNotFound for missing conversation")
	}

	c := &domain.Conversation{ID: "cid", UserID: "owner", Title: "x"}
	if err := db.Create(c).Error; err != nil {
		t.Fatalf("seed conversation: %v", err)
	}
	got, err := GetConversation(context.Background(), db, "cid", "owner")
	if err != nil {
		t.Fatalf("GetConversation: %v", err)
	}
	if got.ID != "cid" || got.UserID != "owner" {
		t.Fatalf("unexpected conversation: %+v", got)
	}

	// Ownership is part of the lookup key.
	if _, err := GetConversation(context.Background(), db, "cid", "intruder"); err == nil {
		t.Fatalf("expected not found for wrong owner")
	}
}

func TestUpdateConversationTitle_SuccessAndNotFound(t *testing.T) {
	db := newConvRepoDB(t, &domain.Conversation{})

	c := &domain.Conversation{ID: "c1", UserID: "u1", Title: "old"}
	if err := db.Create(c).Error; err != nil {
		t.Fatalf("seed: %v", err)
	}

	if err := UpdateConversationTitle(context.Background(), db, "c1", "u1", "new"); err != nil {
		t.Fatalf("UpdateConversationTitle: %v", err)
	}
	var got domain.Conversation
	if err := db.First(&got, "id = ?", "c1").Error; err != nil {
		t.Fatalf("load updated: %v", err)
	}
	if got.Title != "new" {
		t.Fatalf("expected title 'new', got %q", got.Title)
	}

	if err := UpdateConversationTitle(context.Background(), db, "c1", "other", "x"); err == nil {
		t.Fatalf("expected ErrRecordNotFound when user mismatches")
	}
	if err := UpdateConversationTitle(context.Background(), db, "missing", "u1", "x"); err == nil {
		t.Fatalf("expected ErrRecordNotFound when id missing")
	}
}

func TestTouchConversation_UpdatesTimestamp(t *testing.T) {
	db := newConvRepoDB(t, &domain.Conversation{})

	old := time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC)
	c := &domain.Conversation{ID: "c1", UserID: "u1", Title: "t", CreatedAt: old, UpdatedAt: old}
	if err := db.Create(c).Error; err != nil {
		t.Fatalf("seed: %v", err)
	}

	at := old.Add(24 * time.Hour)
	if err := TouchConversation(context.Background(), db, "c1", at); err != nil {
		t.Fatalf("TouchConversation: %v", err)
	}
	var got domain.Conversation
	if err := db.First(&got, "id = ?", "c1").Error; err != nil {
		t.Fatalf("load touched: %v", err)
	}
	if !got.UpdatedAt.Equal(at) {
		t.Fatalf("expected UpdatedAt %v, got %v", at, got.UpdatedAt)
	}

	if err := TouchConversation(context.Background(), db, "missing", at); err == nil {
		t.Fatalf("expected ErrRecordNotFound for missing id")
	}
}

func TestClearConversations_SoftDeletesOwnOnly(t *testing.T) {
	db := newConvRepoDB(t, &domain.Conversation{})

	for _, c := range []domain.Conversation{
		{ID: "a", UserID: "u1", Title: "t"},
		{ID: "b", UserID: "u1", Title: "t"},
		{ID: "x", UserID: "u2", Title: "t"},
	} {
		if err := db.Create(&c).Error; err != nil {
			t.Fatalf("seed %s: %v", c.ID, err)
		}
	}

	n, err := ClearConversations(context.Background(), db, "u1")
	if err != nil {
		t.Fatalf("ClearConversations: %v", err)
	}
	if n != 2 {
		t.Fatalf("expected 2 cleared, got %d", n)
	}

	// u1's conversations are hidden from list queries...
	list, err := ListConversations(context.Background(), db, "u1")
	if err != nil {
		t.Fatalf("ListConversations after clear: %v", err)
	}
	if len(list) != 0 {
		t.Fatalf("expected empty list after clear, got %d", len(list))
	}
	// ...but the rows survive (soft delete).
	var raw int64
	if err := db.Unscoped().Model(&domain.Conversation{}).Where("user_id = ?", "u1").Count(&raw).Error; err != nil {
		t.Fatalf("raw count: %v", err)
	}
	if raw != 2 {
		t.Fatalf("expected 2 soft-deleted rows, got %d", raw)
	}

	// u2 untouched.
	other, err := ListConversations(context.Background(), db, "u2")
	if err != nil {
		t.Fatalf("ListConversations u2: %v", err)
	}
	if len(other) != 1 {
		t.Fatalf("expected u2 to keep 1 conversation, got %d", len(other))
	}
}
