package session

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/agentplexus/voicebridge/internal/apperrors"
	"github.com/agentplexus/voicebridge/internal/callstate"
	"github.com/agentplexus/voicebridge/internal/observability"
)

// injectContextLocked implements the operator context injection
// operation. Runs on the session's own goroutine via Session.post.
//
// The pending-request check runs before the on-hold check: a call can be
// on hold with a question still outstanding (the agent asked, then the
// operator put the caller on hold before answering), and that combination
// must auto-resume rather than just persist the note, per the
// hold-then-inject-then-auto-resume flow. Plain on-hold-with-no-question
// falls through to the persist-only branch.
func (s *Session) injectContextLocked(text string) (bool, error) {
	if strings.TrimSpace(text) == "" {
		return false, apperrors.New(apperrors.KindInvalidArgument, "context text must not be empty")
	}

	note := callstate.Message{Role: callstate.RoleSystem, Content: "Operator note: " + text, Timestamp: time.Now()}

	if s.state.PendingContextRequest != nil {
		s.state.PendingContextRequest = nil
		s.state.Call.PendingContextRequest = nil
		s.state.AppendConversation(note)
		s.clearPersistedPendingRequest()

		if s.state.Status == callstate.StatusOnHold {
			return s.autoResumeWithContext(text)
		}

		if s.adapter != nil {
			s.adapter.SendContextualUpdate(text)
		}
		observability.RecordContextInjection(true)
		return true, nil
	}

	if s.state.Status == callstate.StatusOnHold {
		s.state.AppendConversation(note)
		observability.RecordContextInjection(false)
		return false, nil
	}

	s.state.AppendConversation(note)
	composed := fmt.Sprintf("OPERATOR INSTRUCTION:\n%s\n\nCONVERSATION SUMMARY:\n%s", text, callstate.Summarize(s.state.Call.ConversationHistory))
	if s.adapter != nil {
		s.adapter.SendContextualUpdate(composed)
	}
	observability.RecordContextInjection(false)
	return false, nil
}

// autoResumeWithContext handles the narrow in-session race where a
// pending-request answer arrives while the session is still alive but
// already marked on-hold (the carrier teardown that normally tears the
// session down following a hold redirect hasn't landed yet). It composes
// the same combined block the post-teardown, persistence-backed fallback
// in the control plane would compose, and redirects the carrier leg back
// to the stream so a fresh session picks it up and injects it at OnReady.
func (s *Session) autoResumeWithContext(text string) (bool, error) {
	composed := fmt.Sprintf("OPERATOR INSTRUCTION:\n%s\n\nCONVERSATION SUMMARY:\n%s", text, callstate.Summarize(s.state.Call.ConversationHistory))

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.deps.Persistence.SetPendingResumeContext(ctx, s.state.CallID, composed); err != nil {
		return false, apperrors.Wrap(apperrors.KindStorage, "persisting resume context", err)
	}

	if s.deps.Control != nil {
		if err := s.deps.Control.RedirectToStream(s.callSid, s.state.CallID, s.state.Call.Voice, s.state.Call.SystemInstructions, s.state.Call.CallInstructions); err != nil {
			return false, apperrors.Wrap(apperrors.KindTransport, "redirecting to stream", err)
		}
	}

	observability.RecordContextInjection(true)
	observability.RecordResume()
	return true, nil
}

func (s *Session) clearPersistedPendingRequest() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	s.deps.Persistence.SetPendingContextRequest(ctx, s.state.CallID, nil)
}
