package session

import (
	"time"

	"github.com/agentplexus/voicebridge/internal/apperrors"
	"github.com/agentplexus/voicebridge/internal/callstate"
	"github.com/agentplexus/voicebridge/internal/carrier"
)

// sendDTMFLocked implements the operator-initiated sendDTMF control plane
// operation: synthesize tones and play them into the live call.
func (s *Session) sendDTMFLocked(digits string) error {
	if !carrier.ValidateDigits(digits) {
		return apperrors.New(apperrors.KindInvalidArgument, "digits must match [0-9*#A-DwW ]+")
	}

	s.state.AppendConversation(callstate.Message{
		Role:      callstate.RoleSystem,
		Content:   "Operator sent DTMF: " + digits,
		Timestamp: time.Now(),
	})
	s.state.LogCarrierEvent("dtmf_sent_operator", digits)
	return s.stream.SendMedia(carrier.SynthesizeDigits(digits))
}
