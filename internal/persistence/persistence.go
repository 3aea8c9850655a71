// Package persistence defines the Persistence Gateway interface through
// which internal/session loads prior conversation state on resume and
// durably records calls. Concrete stores live in subpackages (see
// persistence/sqlite); internal/session only ever depends on Gateway.
package persistence

import (
	"context"
	"errors"

	"github.com/agentplexus/voicebridge/internal/callstate"
)

// ErrNotFound is returned by GetCall when no record exists for the given
// callId: the "no prior record" branch of session startup.
var ErrNotFound = errors.New("persistence: call not found")

// FinalizeInput carries every field set at call finalization in one
// request, so the Gateway can persist them as a single atomic write.
type FinalizeInput struct {
	EndedAt             string
	DurationSeconds     float64
	Status              callstate.Status
	ConversationHistory []callstate.Message
	CarrierEvents       []callstate.LoggedEvent
	ProviderEvents      []callstate.LoggedEvent
	ErrorMessage        string
}

// Gateway is the durable store interface the session loop writes through.
// Every method is expected to be called at most once per logical
// transition from a single session's event loop; the sqlite store retries
// a failed write once itself (via internal/resilience), and callers never
// treat a StorageError as a fatal condition for their own callers.
type Gateway interface {
	// CreateCall persists a brand-new Call record with status=initiated.
	CreateCall(ctx context.Context, call *callstate.Call) error

	// MarkInProgress transitions a call's durable status to in-progress.
	MarkInProgress(ctx context.Context, callID string) error

	// SetCarrierCallSid records the carrier's own identifier for the
	// call, once known. Outbound calls learn it only after origination
	// returns; inbound calls know it immediately from the start event.
	SetCarrierCallSid(ctx context.Context, callID, callSid string) error

	// GetCall returns the durable record for callID, or ErrNotFound if
	// none exists, the signal that this is a brand-new call rather than
	// a resume-from-hold.
	GetCall(ctx context.Context, callID string) (*callstate.Call, error)

	// UpdateConversationHistory replaces the stored conversation history
	// wholesale, used before a hold redirect so the record reflects
	// exactly what the caller heard up to that point.
	UpdateConversationHistory(ctx context.Context, callID string, history []callstate.Message) error

	// Finalize writes every terminal field in one call, marking the
	// durable record complete.
	Finalize(ctx context.Context, callID string, in FinalizeInput) error

	// SetPendingContextRequest records (or, passed nil, clears) a question
	// the agent raised via request_operator_context. Persisted durably so
	// the question survives a hold teardown, which destroys the session
	// that raised it before an operator necessarily gets to answer.
	SetPendingContextRequest(ctx context.Context, callID string, req *callstate.PendingContextRequest) error

	// SetPendingResumeContext records (or, passed "", clears) a composed
	// context block queued for injection into the next provider session
	// opened for this call, the mechanism hold-then-inject-then-resume
	// uses to hand an operator's answer to a rehydrated session.
	SetPendingResumeContext(ctx context.Context, callID, text string) error
}
