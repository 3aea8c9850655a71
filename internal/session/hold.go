package session

import (
	"context"
	"time"

	"github.com/agentplexus/voicebridge/internal/apperrors"
	"github.com/agentplexus/voicebridge/internal/callstate"
	"github.com/agentplexus/voicebridge/internal/observability"
)

// holdLocked implements the hold operation. The status transition and the
// history persist both happen before the carrier redirect goes out, so a
// crash between the two never leaves the durable record behind what the
// caller actually heard.
func (s *Session) holdLocked() error {
	if s.ending || s.holding {
		return apperrors.New(apperrors.KindInvalidArgument, "call is not active")
	}

	s.state.Status = callstate.StatusOnHold
	s.state.Call.Status = callstate.StatusOnHold

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.deps.Persistence.UpdateConversationHistory(ctx, s.state.CallID, s.state.Call.ConversationHistory); err != nil {
		return apperrors.Wrap(apperrors.KindStorage, "persisting history before hold", err)
	}

	s.holding = true

	if s.deps.Control != nil {
		if err := s.deps.Control.RedirectToHold(s.callSid); err != nil {
			return apperrors.Wrap(apperrors.KindTransport, "redirecting to hold", err)
		}
	}

	observability.RecordHold()
	s.deps.Events.PublishStatusChanged(s.state.CallID, string(callstate.StatusOnHold))
	return nil
}

// holdTeardownLocked runs when the carrier tears down the media stream
// following a hold redirect. It is not a finalize: the durable record
// stays on-hold, and a brand-new Session picks it back up when Twilio
// reconnects for resume.
func (s *Session) holdTeardownLocked() {
	if s.adapter != nil {
		s.adapter.Close()
	}
	if s.pacer != nil {
		s.pacer.Stop()
	}
	s.deps.Manager.Unregister(s.state.CallID)
	s.ending = true
}
