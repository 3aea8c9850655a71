// Package callstate holds the durable and ephemeral records for a single
// call: the append-only conversation history and event logs (Call) and the
// in-memory runtime bookkeeping a session mutates on every event
// (ActiveCallState). Both are plain records; mutation discipline (single
// owner, single goroutine) is enforced by internal/session, not here.
package callstate

import (
	"fmt"
	"strings"
	"time"
)

// Direction is which side originated the call.
type Direction string

const (
	DirectionInbound  Direction = "inbound"
	DirectionOutbound Direction = "outbound"
)

// Status is the durable Call's lifecycle state.
type Status string

const (
	StatusInitiated  Status = "initiated"
	StatusInProgress Status = "in-progress"
	StatusOnHold     Status = "on-hold"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
)

// Role identifies the speaker of a conversation turn.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
)

// Message is one entry in a Call's conversationHistory. Append-only except
// for the Truncated/TruncatedAt pair, which may flip false->true exactly
// once on an assistant message during barge-in.
type Message struct {
	Role        Role      `json:"role"`
	Content     string    `json:"content"`
	Timestamp   time.Time `json:"timestamp"`
	Truncated   bool      `json:"truncated,omitempty"`
	TruncatedAt int64     `json:"truncatedAt,omitempty"` // ms, carrier clock
}

// LoggedEvent is one append-only entry in a carrier- or provider-event log.
type LoggedEvent struct {
	Type      string    `json:"type"`
	Data      string    `json:"data"` // raw JSON or a short human summary
	Timestamp time.Time `json:"timestamp"`
}

// Call is the durable record for one end-to-end telephone interaction.
type Call struct {
	CallID              string        `json:"callId"`
	// CarrierCallSid is Twilio's own identifier for the PSTN leg, known
	// once the carrier answers. For inbound calls this equals CallID; for
	// outbound calls CallID is a provisional id minted before dialing, so
	// the two diverge and REST control operations must use this field.
	CarrierCallSid      string        `json:"carrierCallSid,omitempty"`
	Direction           Direction     `json:"direction"`
	FromNumber          string        `json:"fromNumber"`
	ToNumber            string        `json:"toNumber"`
	Voice               string        `json:"voice"`
	Provider            string        `json:"provider"`
	SystemInstructions  string        `json:"systemInstructions"`
	CallInstructions    string        `json:"callInstructions"`
	StartedAt           time.Time     `json:"startedAt"`
	EndedAt             time.Time     `json:"endedAt,omitempty"`
	DurationSeconds     float64       `json:"durationSeconds,omitempty"`
	Status              Status        `json:"status"`
	ErrorMessage        string        `json:"errorMessage,omitempty"`
	ConversationHistory []Message     `json:"conversationHistory"`
	CarrierEvents       []LoggedEvent `json:"carrierEvents"`
	ProviderEvents      []LoggedEvent `json:"providerEvents"`

	// PendingContextRequest mirrors ActiveCallState's field of the same
	// name onto the durable record, so a question the agent asked before
	// going on hold survives the session teardown that hold triggers and
	// can still be answered by an operator after hold music starts.
	PendingContextRequest *PendingContextRequest `json:"pendingContextRequest,omitempty"`

	// PendingResumeContext holds a context block composed while the call
	// was on hold (an operator answer to PendingContextRequest), queued
	// for injection into the provider session that resume() opens next.
	PendingResumeContext string `json:"pendingResumeContext,omitempty"`
}

// PendingContextRequest records that the agent paused to ask the operator
// a question and is waiting for injectContext to supply the answer.
type PendingContextRequest struct {
	Question    string    `json:"question"`
	RequestedBy string    `json:"requestedBy"`
	Timestamp   time.Time `json:"timestamp"`
}

// SummaryExcerptLimit bounds each per-turn excerpt Summarize renders, so a
// composed context block stays a bounded size regardless of call length.
const SummaryExcerptLimit = 100

// Summarize renders a numbered, per-turn excerpt of history for inclusion
// in a composed operator or resume context block.
func Summarize(history []Message) string {
	var b strings.Builder
	for i, msg := range history {
		excerpt := msg.Content
		if len(excerpt) > SummaryExcerptLimit {
			excerpt = excerpt[:SummaryExcerptLimit]
		}
		fmt.Fprintf(&b, "%d. %s: %s\n", i+1, msg.Role, excerpt)
	}
	return b.String()
}

// ActiveCallState is the ephemeral, in-memory runtime record for one live
// session. Created when internal/session instantiates a session, mutated
// only by that session's event loop, destroyed after finalize.
type ActiveCallState struct {
	CallID        string
	CarrierStreamID string

	LatestMediaTimestamp int64 // ms since the carrier stream started

	markQueue []string // ordered tokens awaiting carrier ack

	LastAssistantItemID        string
	ResponseStartTimestampTwilio *int64 // nil when no response is streaming

	HasSeenMedia bool

	PendingContextRequest *PendingContextRequest

	Status Status

	Call *Call // the durable record this state is shadowing
}

// NewActiveCallState creates a fresh ephemeral state wrapping the given
// durable Call record.
func NewActiveCallState(call *Call) *ActiveCallState {
	return &ActiveCallState{
		CallID:    call.CallID,
		markQueue: make([]string, 0, 8),
		Status:    call.Status,
		Call:      call,
	}
}

// AppendConversation appends a message to the durable call's history.
func (s *ActiveCallState) AppendConversation(msg Message) {
	s.Call.ConversationHistory = append(s.Call.ConversationHistory, msg)
}

// LogCarrierEvent appends an entry to the carrier event log.
func (s *ActiveCallState) LogCarrierEvent(eventType, data string) {
	s.Call.CarrierEvents = append(s.Call.CarrierEvents, LoggedEvent{
		Type:      eventType,
		Data:      data,
		Timestamp: time.Now(),
	})
}

// LogProviderEvent appends an entry to the provider event log.
func (s *ActiveCallState) LogProviderEvent(eventType, data string) {
	s.Call.ProviderEvents = append(s.Call.ProviderEvents, LoggedEvent{
		Type:      eventType,
		Data:      data,
		Timestamp: time.Now(),
	})
}

// EnqueueMark pushes a mark token onto the tail of the mark queue. One token
// is enqueued per outbound audio chunk emitted to the carrier.
func (s *ActiveCallState) EnqueueMark(token string) {
	s.markQueue = append(s.markQueue, token)
}

// DequeueMark pops a token off the head of the mark queue and reports
// whether one was present. The carrier's mark acknowledgment only needs
// cardinality, not a matching token.
func (s *ActiveCallState) DequeueMark() (string, bool) {
	if len(s.markQueue) == 0 {
		return "", false
	}
	token := s.markQueue[0]
	s.markQueue = s.markQueue[1:]
	return token, true
}

// MarkQueueLen reports the number of outbound chunks awaiting carrier ack.
func (s *ActiveCallState) MarkQueueLen() int {
	return len(s.markQueue)
}

// ClearMarkQueue empties the mark queue, used during barge-in reset.
func (s *ActiveCallState) ClearMarkQueue() {
	s.markQueue = s.markQueue[:0]
}

// ResetResponseTracking clears the bookkeeping for the currently-streaming
// assistant response. Called at the end of the barge-in algorithm.
func (s *ActiveCallState) ResetResponseTracking() {
	s.ClearMarkQueue()
	s.LastAssistantItemID = ""
	s.ResponseStartTimestampTwilio = nil
}

// LastAssistantMessageIndex returns the index of the most recent assistant
// message in the conversation history, or -1 if there is none.
func (s *ActiveCallState) LastAssistantMessageIndex() int {
	for i := len(s.Call.ConversationHistory) - 1; i >= 0; i-- {
		if s.Call.ConversationHistory[i].Role == RoleAssistant {
			return i
		}
	}
	return -1
}
