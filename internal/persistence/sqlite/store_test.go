package sqlite

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/agentplexus/voicebridge/internal/callstate"
	"github.com/agentplexus/voicebridge/internal/persistence"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.db")
	store, err := Open(path)
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

func TestCreateAndGetCall(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	call := &callstate.Call{
		CallID:             "CA123",
		Direction:          callstate.DirectionInbound,
		FromNumber:         "+15551230000",
		ToNumber:           "+15551230001",
		Voice:              "sage",
		Provider:           "openai",
		SystemInstructions: "You are helpful.",
		StartedAt:          time.Now(),
		Status:             callstate.StatusInitiated,
	}

	if err := store.CreateCall(ctx, call); err != nil {
		t.Fatalf("CreateCall() failed: %v", err)
	}

	got, err := store.GetCall(ctx, "CA123")
	if err != nil {
		t.Fatalf("GetCall() failed: %v", err)
	}
	if got.CallID != "CA123" || got.Voice != "sage" {
		t.Errorf("Unexpected call record: %+v", got)
	}
}

func TestGetCall_NotFound(t *testing.T) {
	store := openTestStore(t)
	_, err := store.GetCall(context.Background(), "nonexistent")
	if err != persistence.ErrNotFound {
		t.Errorf("Expected ErrNotFound, got %v", err)
	}
}

func TestMarkInProgress(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	call := &callstate.Call{CallID: "CA1", StartedAt: time.Now(), Status: callstate.StatusInitiated}
	store.CreateCall(ctx, call)

	if err := store.MarkInProgress(ctx, "CA1"); err != nil {
		t.Fatalf("MarkInProgress() failed: %v", err)
	}

	got, _ := store.GetCall(ctx, "CA1")
	if got.Status != callstate.StatusInProgress {
		t.Errorf("Expected status in-progress, got %s", got.Status)
	}
}

func TestUpdateConversationHistory(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	call := &callstate.Call{CallID: "CA1", StartedAt: time.Now(), Status: callstate.StatusInProgress}
	store.CreateCall(ctx, call)

	history := []callstate.Message{
		{Role: callstate.RoleUser, Content: "hello", Timestamp: time.Now()},
		{Role: callstate.RoleAssistant, Content: "hi there", Timestamp: time.Now()},
	}
	if err := store.UpdateConversationHistory(ctx, "CA1", history); err != nil {
		t.Fatalf("UpdateConversationHistory() failed: %v", err)
	}

	got, _ := store.GetCall(ctx, "CA1")
	if len(got.ConversationHistory) != 2 {
		t.Fatalf("Expected 2 history entries, got %d", len(got.ConversationHistory))
	}
	if got.ConversationHistory[0].Content != "hello" {
		t.Errorf("Expected first entry 'hello', got '%s'", got.ConversationHistory[0].Content)
	}
}

func TestFinalize(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	call := &callstate.Call{CallID: "CA1", StartedAt: time.Now(), Status: callstate.StatusInProgress}
	store.CreateCall(ctx, call)

	err := store.Finalize(ctx, "CA1", persistence.FinalizeInput{
		EndedAt:         time.Now().Format(time.RFC3339),
		DurationSeconds: 42.5,
		Status:          callstate.StatusCompleted,
		ConversationHistory: []callstate.Message{
			{Role: callstate.RoleUser, Content: "bye", Timestamp: time.Now()},
		},
	})
	if err != nil {
		t.Fatalf("Finalize() failed: %v", err)
	}

	got, _ := store.GetCall(ctx, "CA1")
	if got.Status != callstate.StatusCompleted {
		t.Errorf("Expected status completed, got %s", got.Status)
	}
	if got.DurationSeconds != 42.5 {
		t.Errorf("Expected duration 42.5, got %v", got.DurationSeconds)
	}
	if len(got.ConversationHistory) != 1 {
		t.Errorf("Expected 1 history entry, got %d", len(got.ConversationHistory))
	}
}

// TestHoldThenResumeRestoresHistoryByteForByte checks the round-trip
// property: persisting history before a hold redirect and loading it back
// on resume must reproduce the same sequence exactly.
func TestHoldThenResumeRestoresHistoryByteForByte(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	call := &callstate.Call{CallID: "CA1", StartedAt: time.Now(), Status: callstate.StatusInProgress}
	store.CreateCall(ctx, call)

	ts := time.Now().Truncate(time.Second)
	history := []callstate.Message{
		{Role: callstate.RoleUser, Content: "what's my balance", Timestamp: ts},
		{Role: callstate.RoleAssistant, Content: "let me check", Timestamp: ts, Truncated: true, TruncatedAt: 700},
	}
	store.UpdateConversationHistory(ctx, "CA1", history)

	got, err := store.GetCall(ctx, "CA1")
	if err != nil {
		t.Fatalf("GetCall() failed: %v", err)
	}
	if len(got.ConversationHistory) != len(history) {
		t.Fatalf("Expected %d entries, got %d", len(history), len(got.ConversationHistory))
	}
	for i := range history {
		if got.ConversationHistory[i].Content != history[i].Content ||
			got.ConversationHistory[i].Truncated != history[i].Truncated ||
			got.ConversationHistory[i].TruncatedAt != history[i].TruncatedAt {
			t.Errorf("Entry %d mismatch: got %+v, want %+v", i, got.ConversationHistory[i], history[i])
		}
	}
}
