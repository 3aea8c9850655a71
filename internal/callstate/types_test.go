package callstate

import "testing"

func newTestCall() *Call {
	return &Call{
		CallID:    "CA123",
		Direction: DirectionInbound,
		Status:    StatusInitiated,
	}
}

func TestNewActiveCallState(t *testing.T) {
	call := newTestCall()
	state := NewActiveCallState(call)

	if state.CallID != "CA123" {
		t.Errorf("Expected CallID 'CA123', got '%s'", state.CallID)
	}
	if state.MarkQueueLen() != 0 {
		t.Errorf("Expected empty mark queue, got length %d", state.MarkQueueLen())
	}
	if state.Status != StatusInitiated {
		t.Errorf("Expected status initiated, got %s", state.Status)
	}
}

func TestEnqueueDequeueMark(t *testing.T) {
	state := NewActiveCallState(newTestCall())

	state.EnqueueMark("tok-1")
	state.EnqueueMark("tok-2")
	if state.MarkQueueLen() != 2 {
		t.Fatalf("Expected mark queue length 2, got %d", state.MarkQueueLen())
	}

	tok, ok := state.DequeueMark()
	if !ok || tok != "tok-1" {
		t.Errorf("Expected to dequeue 'tok-1', got '%s' ok=%v", tok, ok)
	}
	if state.MarkQueueLen() != 1 {
		t.Errorf("Expected mark queue length 1, got %d", state.MarkQueueLen())
	}

	state.DequeueMark()
	_, ok = state.DequeueMark()
	if ok {
		t.Error("Expected DequeueMark on empty queue to return ok=false")
	}
}

func TestResetResponseTracking(t *testing.T) {
	state := NewActiveCallState(newTestCall())
	ts := int64(1000)
	state.ResponseStartTimestampTwilio = &ts
	state.LastAssistantItemID = "item-1"
	state.EnqueueMark("tok-1")

	state.ResetResponseTracking()

	if state.ResponseStartTimestampTwilio != nil {
		t.Error("Expected ResponseStartTimestampTwilio to be nil after reset")
	}
	if state.LastAssistantItemID != "" {
		t.Error("Expected LastAssistantItemID to be empty after reset")
	}
	if state.MarkQueueLen() != 0 {
		t.Error("Expected mark queue to be empty after reset")
	}
}

func TestAppendConversationIsOrdered(t *testing.T) {
	state := NewActiveCallState(newTestCall())

	state.AppendConversation(Message{Role: RoleUser, Content: "hello"})
	state.AppendConversation(Message{Role: RoleAssistant, Content: "hi there"})

	if len(state.Call.ConversationHistory) != 2 {
		t.Fatalf("Expected 2 messages, got %d", len(state.Call.ConversationHistory))
	}
	if state.Call.ConversationHistory[0].Content != "hello" {
		t.Error("Expected first message to be 'hello'")
	}
	if state.Call.ConversationHistory[1].Content != "hi there" {
		t.Error("Expected second message to be 'hi there'")
	}
}

func TestLastAssistantMessageIndex(t *testing.T) {
	state := NewActiveCallState(newTestCall())

	if idx := state.LastAssistantMessageIndex(); idx != -1 {
		t.Errorf("Expected -1 on empty history, got %d", idx)
	}

	state.AppendConversation(Message{Role: RoleUser, Content: "hello"})
	state.AppendConversation(Message{Role: RoleAssistant, Content: "hi"})
	state.AppendConversation(Message{Role: RoleUser, Content: "bye"})

	if idx := state.LastAssistantMessageIndex(); idx != 1 {
		t.Errorf("Expected index 1, got %d", idx)
	}
}

func TestLogEvents(t *testing.T) {
	state := NewActiveCallState(newTestCall())

	state.LogCarrierEvent("media", "{}")
	state.LogProviderEvent("audio", "{}")

	if len(state.Call.CarrierEvents) != 1 {
		t.Errorf("Expected 1 carrier event, got %d", len(state.Call.CarrierEvents))
	}
	if len(state.Call.ProviderEvents) != 1 {
		t.Errorf("Expected 1 provider event, got %d", len(state.Call.ProviderEvents))
	}
}
