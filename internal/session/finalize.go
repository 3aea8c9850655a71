package session

import (
	"context"
	"time"

	"github.com/agentplexus/voicebridge/internal/callstate"
	"github.com/agentplexus/voicebridge/internal/observability"
	"github.com/agentplexus/voicebridge/internal/persistence"
)

// finalizeLocked implements call finalization. Guarded by s.ending so
// every trigger path (carrier stop, provider close, goodbye timeout,
// control-plane hangup, duration cap) converges on exactly one finalize
// regardless of which fires first or how many fire.
func (s *Session) finalizeLocked(status callstate.Status, errMsg string) error {
	if s.ending {
		return nil
	}
	s.ending = true

	if s.durationTimer != nil {
		s.durationTimer.Stop()
	}
	if s.goodbyeTimer != nil {
		s.goodbyeTimer.Stop()
	}
	if s.pacer != nil {
		s.pacer.Stop()
	}

	endedAt := time.Now()
	duration := endedAt.Sub(s.state.Call.StartedAt).Seconds()
	s.state.Call.EndedAt = endedAt
	s.state.Call.DurationSeconds = duration
	s.state.Call.Status = status
	s.state.Call.ErrorMessage = errMsg

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.deps.Persistence.Finalize(ctx, s.state.CallID, persistence.FinalizeInput{
		EndedAt:             endedAt.Format(time.RFC3339),
		DurationSeconds:     duration,
		Status:              status,
		ConversationHistory: s.state.Call.ConversationHistory,
		CarrierEvents:       s.state.Call.CarrierEvents,
		ProviderEvents:      s.state.Call.ProviderEvents,
		ErrorMessage:        errMsg,
	}); err != nil {
		observability.RecordError("finalize_persist_failed", "session")
	}

	s.deps.Events.PublishStatusChanged(s.state.CallID, string(status))

	metrics := observability.NewCallMetrics(s.state.CallID)
	metrics.RecordCallEnd(string(status))

	s.deps.Manager.Unregister(s.state.CallID)

	if s.deps.Control != nil && s.callSid != "" {
		if err := s.deps.Control.Hangup(s.callSid); err != nil {
			observability.WithCallID(s.state.CallID).Warn().Err(err).Msg("hangup redirect failed")
		}
	}

	grace := s.deps.FinalizeGrace
	if grace <= 0 {
		grace = 5 * time.Second
	}
	adapter := s.adapter
	stream := s.stream
	time.AfterFunc(grace, func() {
		if adapter != nil {
			adapter.Close()
		}
		stream.Close()
	})

	return nil
}
