package conversation

import (
	"context"
	"fmt"
	"testing"
)

func appendMessage(t *testing.T, store Store, conv string, seq int, role Role) {
	t.Helper()
	err := store.Append(context.Background(), &Message{
		ID:             fmt.Sprintf("%s-%d", conv, seq),
		ConversationID: conv,
		Role:           role,
		Content:        fmt.Sprintf("message %d", seq),
		CreatedAt:      int64(1000 + seq),
	})
	if err != nil {
		t.Fatalf("append: %v", err)
	}
}

func TestMemoryStoreHistoryOrderAndLimit(t *testing.T) {
	store := NewMemoryStore()
	for i := 0; i < 5; i++ {
		appendMessage(t, store, "conv-1", i, RoleUser)
	}

	history, err := store.History(context.Background(), "conv-1", 3)
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	if len(history) != 3 {
		t.Fatalf("expected 3 messages, got %d", len(history))
	}
	// Oldest-first within the window: the last three appended.
	if history[0].Content != "message 2" || history[2].Content != "message 4" {
		t.Fatalf("unexpected window: %s .. %s", history[0].Content, history[2].Content)
	}
}

func TestMemoryStoreHistoryUnknownConversation(t *testing.T) {
	store := NewMemoryStore()
	history, err := store.History(context.Background(), "missing", 10)
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	if len(history) != 0 {
		t.Fatalf("expected empty history, got %d", len(history))
	}
}

func TestMemoryStoreRejectsInvalidMessage(t *testing.T) {
	store := NewMemoryStore()
	if err := store.Append(context.Background(), nil); err == nil {
		t.Fatal("expected error for nil message")
	}
	if err := store.Append(context.Background(), &Message{ID: "x"}); err == nil {
		t.Fatal("expected error for missing conversation id")
	}
}

func TestMemoryStoreConversationsSortedByRecency(t *testing.T) {
	store := NewMemoryStore()
	appendMessage(t, store, "old", 1, RoleUser)
	appendMessage(t, store, "new", 9, RoleUser)
	appendMessage(t, store, "mid", 5, RoleUser)

	summaries, err := store.Conversations(context.Background(), 2)
	if err != nil {
		t.Fatalf("conversations: %v", err)
	}
	if len(summaries) != 2 {
		t.Fatalf("expected 2 summaries, got %d", len(summaries))
	}
	if summaries[0].ID != "new" || summaries[1].ID != "mid" {
		t.Fatalf("unexpected order: %s, %s", summaries[0].ID, summaries[1].ID)
	}
	if summaries[0].LastMessage != "message 9" {
		t.Fatalf("unexpected last message: %s", summaries[0].LastMessage)
	}
}
