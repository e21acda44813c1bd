package store

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"fortivus/models"
	"fortivus/pkg/session"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func openTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(filepath.Join(t.TempDir(), "test.db")), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	if err := db.AutoMigrate(&models.User{}, &models.Conversation{}, &models.Message{}); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return db
}

func TestCreateRequiresUser(t *testing.T) {
	convs := NewConversations(openTestDB(t))
	_, err := convs.Create(context.Background(), 0, "t")
	if !errors.Is(err, session.ErrAuthRequired) {
		t.Fatalf("expected ErrAuthRequired, got %v", err)
	}
}

func TestListOrderedByRecency(t *testing.T) {
	db := openTestDB(t)
	convs := NewConversations(db)
	ctx := context.Background()

	a, err := convs.Create(ctx, 1, "older")
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	time.Sleep(5 * time.Millisecond)
	b, err := convs.Create(ctx, 1, "newer")
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	list, err := convs.List(ctx, 1, "")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(list) != 2 || list[0].ID != b.ID {
		t.Fatalf("expected newest first, got %+v", list)
	}

	// touching the older one moves it to the top
	time.Sleep(5 * time.Millisecond)
	if err := convs.Touch(ctx, a.ID); err != nil {
		t.Fatalf("touch: %v", err)
	}
	list, err = convs.List(ctx, 1, "")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if list[0].ID != a.ID {
		t.Fatalf("expected touched conversation first, got %+v", list)
	}
}

func TestListScopedToOwner(t *testing.T) {
	db := openTestDB(t)
	convs := NewConversations(db)
	ctx := context.Background()

	if _, err := convs.Create(ctx, 1, "mine"); err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, err := convs.Create(ctx, 2, "theirs"); err != nil {
		t.Fatalf("create: %v", err)
	}

	list, err := convs.List(ctx, 1, "")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(list) != 1 || list[0].Title != "mine" {
		t.Fatalf("listing leaked across owners: %+v", list)
	}
}

func TestListSearchMatchesTitleAndContent(t *testing.T) {
	db := openTestDB(t)
	convs := NewConversations(db)
	msgs := NewMessages(db)
	ctx := context.Background()

	a, _ := convs.Create(ctx, 1, "squat depth")
	b, _ := convs.Create(ctx, 1, "nutrition basics")
	c, _ := convs.Create(ctx, 1, "sleep routine")
	if err := msgs.Append(ctx, b.ID, models.RoleUser, "how deep should I squat"); err != nil {
		t.Fatalf("append: %v", err)
	}

	list, err := convs.List(ctx, 1, "squat")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	got := map[uint]bool{}
	for _, s := range list {
		got[s.ID] = true
	}
	if !got[a.ID] || !got[b.ID] || got[c.ID] {
		t.Fatalf("unexpected search result %+v", list)
	}
}

func TestDeleteCascadesToMessages(t *testing.T) {
	db := openTestDB(t)
	convs := NewConversations(db)
	msgs := NewMessages(db)
	ctx := context.Background()

	conv, _ := convs.Create(ctx, 1, "doomed")
	if err := msgs.Append(ctx, conv.ID, models.RoleUser, "hi"); err != nil {
		t.Fatalf("append: %v", err)
	}
	if err := msgs.Append(ctx, conv.ID, models.RoleAssistant, "hello"); err != nil {
		t.Fatalf("append: %v", err)
	}

	// wrong owner cannot delete
	if err := convs.Delete(ctx, 2, conv.ID); err == nil {
		t.Fatal("expected delete by non-owner to fail")
	}

	if err := convs.Delete(ctx, 1, conv.ID); err != nil {
		t.Fatalf("delete: %v", err)
	}
	var count int64
	db.Model(&models.Message{}).Where("conversation_id = ?", conv.ID).Count(&count)
	if count != 0 {
		t.Fatalf("expected messages removed with conversation, %d left", count)
	}
}

func TestDeleteAll(t *testing.T) {
	db := openTestDB(t)
	convs := NewConversations(db)
	msgs := NewMessages(db)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		conv, _ := convs.Create(ctx, 1, "c")
		_ = msgs.Append(ctx, conv.ID, models.RoleUser, "m")
	}
	keep, _ := convs.Create(ctx, 2, "other user")

	n, err := convs.DeleteAll(ctx, 1)
	if err != nil {
		t.Fatalf("delete all: %v", err)
	}
	if n != 3 {
		t.Fatalf("expected 3 deleted, got %d", n)
	}
	if _, err := convs.Get(ctx, 2, keep.ID); err != nil {
		t.Fatalf("other member's conversation must survive: %v", err)
	}
}

func TestFetchNormalizesRolesAndOrder(t *testing.T) {
	db := openTestDB(t)
	convs := NewConversations(db)
	msgs := NewMessages(db)
	ctx := context.Background()

	conv, _ := convs.Create(ctx, 1, "history")
	base := time.Now().Add(-time.Minute)
	rows := []models.Message{
		{ConversationID: conv.ID, Role: "user", Content: "first", Timestamp: base},
		{ConversationID: conv.ID, Role: "bot", Content: "legacy assistant", Timestamp: base.Add(time.Second)},
		{ConversationID: conv.ID, Role: "weird", Content: "dropped", Timestamp: base.Add(2 * time.Second)},
		{ConversationID: conv.ID, Role: "assistant", Content: "last", Timestamp: base.Add(3 * time.Second)},
	}
	for i := range rows {
		if err := db.Create(&rows[i]).Error; err != nil {
			t.Fatalf("seed: %v", err)
		}
	}

	got, err := msgs.Fetch(ctx, conv.ID)
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("expected unknown role skipped, got %d rows", len(got))
	}
	if got[0].Content != "first" || got[2].Content != "last" {
		t.Fatalf("unexpected order %+v", got)
	}
	if got[1].Role != models.RoleAssistant {
		t.Fatalf("legacy tag not normalized: %+v", got[1])
	}
	for _, m := range got {
		if m.LocalID == "" {
			t.Fatalf("fetched message missing id: %+v", m)
		}
	}
}
