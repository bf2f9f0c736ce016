package sessions

import (
	"context"
	"testing"
	"time"

	"github.com/coreagent/runtime/pkg/models"
)

func newTestSQLiteStore(t *testing.T) *SQLiteStore {
	t.Helper()
	store, err := NewSQLiteStore(&SQLiteConfig{Path: ":memory:"})
	if err != nil {
		t.Fatalf("NewSQLiteStore: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

func TestSQLiteStore_CreateAndGet(t *testing.T) {
	store := newTestSQLiteStore(t)
	ctx := context.Background()

	session := &models.Session{
		ID:        "s1",
		AgentID:   "agent-1",
		Channel:   models.ChannelSlack,
		ChannelID: "c1",
		Key:       "agent-1:slack:c1",
		Metadata:  map[string]any{"k": "v"},
	}
	if err := store.Create(ctx, session); err != nil {
		t.Fatalf("Create: %v", err)
	}

	got, err := store.Get(ctx, "s1")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.AgentID != "agent-1" || got.ChannelID != "c1" {
		t.Errorf("unexpected session: %+v", got)
	}
	if got.Metadata["k"] != "v" {
		t.Errorf("metadata not round-tripped: %+v", got.Metadata)
	}
}

func TestSQLiteStore_GetByKey(t *testing.T) {
	store := newTestSQLiteStore(t)
	ctx := context.Background()

	session := &models.Session{ID: "s1", Channel: models.ChannelDiscord, ChannelID: "c1", Key: "k1"}
	if err := store.Create(ctx, session); err != nil {
		t.Fatalf("Create: %v", err)
	}

	got, err := store.GetByKey(ctx, "k1")
	if err != nil {
		t.Fatalf("GetByKey: %v", err)
	}
	if got.ID != "s1" {
		t.Errorf("ID = %q, want s1", got.ID)
	}
}

func TestSQLiteStore_GetOrCreate_Idempotent(t *testing.T) {
	store := newTestSQLiteStore(t)
	ctx := context.Background()

	first, err := store.GetOrCreate(ctx, "k1", "agent-1", models.ChannelTelegram, "c1")
	if err != nil {
		t.Fatalf("GetOrCreate: %v", err)
	}
	second, err := store.GetOrCreate(ctx, "k1", "agent-1", models.ChannelTelegram, "c1")
	if err != nil {
		t.Fatalf("GetOrCreate (second): %v", err)
	}
	if first.ID != second.ID {
		t.Errorf("GetOrCreate created a second session: %s != %s", first.ID, second.ID)
	}
}

func TestSQLiteStore_Update(t *testing.T) {
	store := newTestSQLiteStore(t)
	ctx := context.Background()

	session := &models.Session{ID: "s1", Channel: models.ChannelHTTP, ChannelID: "c1", Key: "k1"}
	if err := store.Create(ctx, session); err != nil {
		t.Fatalf("Create: %v", err)
	}

	session.Title = "renamed"
	if err := store.Update(ctx, session); err != nil {
		t.Fatalf("Update: %v", err)
	}

	got, err := store.Get(ctx, "s1")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.Title != "renamed" {
		t.Errorf("Title = %q, want renamed", got.Title)
	}
}

func TestSQLiteStore_Delete(t *testing.T) {
	store := newTestSQLiteStore(t)
	ctx := context.Background()

	session := &models.Session{ID: "s1", Channel: models.ChannelCLI, ChannelID: "c1", Key: "k1"}
	if err := store.Create(ctx, session); err != nil {
		t.Fatalf("Create: %v", err)
	}
	if err := store.Delete(ctx, "s1"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if _, err := store.Get(ctx, "s1"); err == nil {
		t.Error("expected error getting deleted session")
	}
}

func TestSQLiteStore_List(t *testing.T) {
	store := newTestSQLiteStore(t)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		s := &models.Session{
			ID:        uuidLike(i),
			AgentID:   "agent-1",
			Channel:   models.ChannelSlack,
			ChannelID: uuidLike(i),
			Key:       uuidLike(i),
		}
		if err := store.Create(ctx, s); err != nil {
			t.Fatalf("Create %d: %v", i, err)
		}
	}

	got, err := store.List(ctx, "agent-1", ListOptions{Limit: 10})
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(got) != 3 {
		t.Errorf("len(got) = %d, want 3", len(got))
	}
}

func TestSQLiteStore_AppendMessageAndGetHistory(t *testing.T) {
	store := newTestSQLiteStore(t)
	ctx := context.Background()

	session := &models.Session{ID: "s1", Channel: models.ChannelSlack, ChannelID: "c1", Key: "k1"}
	if err := store.Create(ctx, session); err != nil {
		t.Fatalf("Create: %v", err)
	}

	for i, content := range []string{"hello", "how are you", "fine thanks"} {
		msg := &models.Message{
			ID:      uuidLike(i),
			Role:    models.RoleUser,
			Content: content,
		}
		if err := store.AppendMessage(ctx, "s1", msg); err != nil {
			t.Fatalf("AppendMessage %d: %v", i, err)
		}
		if msg.SequenceNum != int64(i+1) {
			t.Errorf("SequenceNum = %d, want %d", msg.SequenceNum, i+1)
		}
	}

	history, err := store.GetHistory(ctx, "s1", 10)
	if err != nil {
		t.Fatalf("GetHistory: %v", err)
	}
	if len(history) != 3 {
		t.Fatalf("len(history) = %d, want 3", len(history))
	}
	if history[0].Content != "hello" || history[2].Content != "fine thanks" {
		t.Errorf("history out of order: %+v", history)
	}

	updated, err := store.Get(ctx, "s1")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if !updated.UpdatedAt.After(session.CreatedAt.Add(-time.Second)) {
		t.Error("session UpdatedAt was not advanced by AppendMessage")
	}
}

func TestSQLiteStore_AppendMessage_ToolCallsRoundTrip(t *testing.T) {
	store := newTestSQLiteStore(t)
	ctx := context.Background()

	session := &models.Session{ID: "s1", Channel: models.ChannelSlack, ChannelID: "c1", Key: "k1"}
	if err := store.Create(ctx, session); err != nil {
		t.Fatalf("Create: %v", err)
	}

	msg := &models.Message{
		ID:   "m1",
		Role: models.RoleAssistant,
		ToolCalls: []models.ToolCall{
			{ID: "tc1", Name: "search", Arguments: []byte(`{"q":"weather"}`)},
		},
	}
	if err := store.AppendMessage(ctx, "s1", msg); err != nil {
		t.Fatalf("AppendMessage: %v", err)
	}

	history, err := store.GetHistory(ctx, "s1", 10)
	if err != nil {
		t.Fatalf("GetHistory: %v", err)
	}
	if len(history) != 1 || len(history[0].ToolCalls) != 1 {
		t.Fatalf("unexpected history: %+v", history)
	}
	if history[0].ToolCalls[0].Name != "search" {
		t.Errorf("ToolCalls[0].Name = %q, want search", history[0].ToolCalls[0].Name)
	}
}

func TestSQLiteStore_SearchMessages(t *testing.T) {
	store := newTestSQLiteStore(t)
	ctx := context.Background()

	session := &models.Session{ID: "s1", Channel: models.ChannelSlack, ChannelID: "c1", Key: "k1"}
	if err := store.Create(ctx, session); err != nil {
		t.Fatalf("Create: %v", err)
	}
	other := &models.Session{ID: "s2", Channel: models.ChannelSlack, ChannelID: "c2", Key: "k2"}
	if err := store.Create(ctx, other); err != nil {
		t.Fatalf("Create: %v", err)
	}

	for _, content := range []string{"deploy the service", "check weather report"} {
		if err := store.AppendMessage(ctx, "s1", &models.Message{Role: models.RoleUser, Content: content}); err != nil {
			t.Fatalf("AppendMessage: %v", err)
		}
	}
	if err := store.AppendMessage(ctx, "s2", &models.Message{Role: models.RoleUser, Content: "deploy the other service"}); err != nil {
		t.Fatalf("AppendMessage: %v", err)
	}

	scoped, err := store.SearchMessages(ctx, "deploy", SearchOptions{SessionID: "s1"})
	if err != nil {
		t.Fatalf("SearchMessages: %v", err)
	}
	if len(scoped) != 1 {
		t.Fatalf("scoped search: got %d results, want 1", len(scoped))
	}

	all, err := store.SearchMessages(ctx, "deploy", SearchOptions{})
	if err != nil {
		t.Fatalf("SearchMessages: %v", err)
	}
	if len(all) != 2 {
		t.Fatalf("unscoped search: got %d results, want 2", len(all))
	}
}

func uuidLike(i int) string {
	return string(rune('a' + i))
}
