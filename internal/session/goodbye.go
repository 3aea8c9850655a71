package session

import (
	"time"

	"github.com/agentplexus/voicebridge/internal/callstate"
	"github.com/agentplexus/voicebridge/internal/observability"
)

// goodbyePhrases are matched as lowercase substrings of a final user or
// assistant transcript. Any match starts the goodbye grace timer rather
// than ending the call immediately, so the last audio can finish playing;
// once armed, the timer always finalizes the call.
var goodbyePhrases = []string{
	"goodbye now",
	"bye bye",
	"talk to you later",
	"gotta go",
	"have to go now",
	"need to go",
	"end the call",
	"hang up now",
}

func (s *Session) armGoodbyeTimer() {
	if s.goodbyeTimer != nil {
		return
	}
	observability.RecordGoodbyeDetected()
	grace := s.deps.GoodbyeGrace
	if grace <= 0 {
		grace = 2 * time.Second
	}
	s.goodbyeTimer = time.AfterFunc(grace, func() {
		s.post(func() { s.finalizeLocked(callstate.StatusCompleted, "goodbye detected") })
	})
}
