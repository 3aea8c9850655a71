package session

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/agentplexus/voicebridge/internal/callstate"
	"github.com/agentplexus/voicebridge/internal/carrier"
	"github.com/agentplexus/voicebridge/internal/eventbus"
	"github.com/agentplexus/voicebridge/internal/observability"
	"github.com/agentplexus/voicebridge/internal/provider"
)

// handleCarrierEvent processes one inbound event from the carrier stream.
// Always runs on the session's own goroutine.
func (s *Session) handleCarrierEvent(evt carrier.Event) {
	switch evt.Kind {
	case carrier.EventMedia:
		s.state.LatestMediaTimestamp = evt.MediaTimestampMs
		s.state.HasSeenMedia = true
		s.forwardAudioToProvider(evt.AudioPayload)

	case carrier.EventMark:
		s.state.DequeueMark()

	case carrier.EventDTMF:
		s.state.LogCarrierEvent("dtmf", evt.DTMFDigit)
		if s.adapter != nil {
			s.adapter.SendContextualUpdate(fmt.Sprintf("The caller pressed the keypad digit: %s", evt.DTMFDigit))
		}

	case carrier.EventStop:
		s.state.LogCarrierEvent("stop", "")
		s.handleStreamTeardown()

	case carrier.EventClosed:
		s.handleCarrierClosed()
	}
}

func (s *Session) handleCarrierClosed() {
	s.handleStreamTeardown()
}

// handleStreamTeardown is reached both when Twilio sends an explicit stop
// event and when the WebSocket itself drops. A teardown while a hold
// redirect is in flight is expected and handled separately; any other
// teardown ends the call.
func (s *Session) handleStreamTeardown() {
	if s.ending {
		return
	}
	if s.holding {
		s.holdTeardownLocked()
		return
	}
	s.finalizeLocked(callstate.StatusCompleted, "")
}

// forwardAudioToProvider buffers caller audio until the provider signals
// readiness, then drains the buffer in order before forwarding live.
func (s *Session) forwardAudioToProvider(payload []byte) {
	if s.adapter == nil {
		return
	}
	if !s.providerReady {
		s.audioBuffer = append(s.audioBuffer, payload)
		return
	}
	s.adapter.SendAudio(payload)
}

func (s *Session) flushAudioBuffer() {
	for _, chunk := range s.audioBuffer {
		s.adapter.SendAudio(chunk)
	}
	s.audioBuffer = nil
}

// providerCallbacks builds the Callbacks set wired into adapter.Connect.
// Every handler re-serializes onto the session's inbox: these run on the
// adapter's own read goroutine and must never touch session state
// directly.
func (s *Session) providerCallbacks(metrics *observability.CallMetrics) provider.Callbacks {
	return provider.Callbacks{
		OnReady: func() {
			s.post(func() {
				s.providerReady = true
				metrics.RecordProviderReady(s.adapter.Name())
				s.flushAudioBuffer()
				if s.resumeContext != "" {
					s.adapter.SendContextualUpdate(s.resumeContext)
					s.resumeContext = ""
				}
			})
		},
		OnAudio: func(itemID string, audio []byte) {
			s.post(func() { s.onProviderAudio(itemID, audio, metrics) })
		},
		OnUserTranscript: func(text string, isFinal bool) {
			s.post(func() { s.onUserTranscript(text, isFinal) })
		},
		OnAgentTranscript: func(text string, isFinal bool) {
			s.post(func() { s.onAgentTranscript(text, isFinal) })
		},
		OnSpeechStarted: func() {
			s.post(func() { s.onBargeIn() })
		},
		OnInterruption: func() {
			s.post(func() { s.state.LogProviderEvent("interruption", "") })
		},
		OnError: func(err error) {
			s.post(func() {
				metrics.RecordError("provider_error", "provider")
				s.state.LogProviderEvent("error", err.Error())
				observability.WithCallID(s.state.CallID).Warn().Err(err).Msg("provider error")
			})
		},
		OnClose: func() {
			s.post(func() {
				s.state.LogProviderEvent("closed", "")
				s.finalizeLocked(callstate.StatusCompleted, "")
			})
		},
		OnToolCall: func(call provider.ToolCall) {
			s.post(func() { s.onToolCall(call) })
		},
	}
}

// onProviderAudio emits one outbound chunk to the carrier, pacing it
// through the session's Pacer and tracking the bookkeeping the barge-in
// algorithm depends on: the first chunk of a new response stamps
// responseStartTimestampTwilio at the carrier's current clock.
func (s *Session) onProviderAudio(itemID string, audio []byte, metrics *observability.CallMetrics) {
	if s.state.ResponseStartTimestampTwilio == nil {
		ts := s.state.LatestMediaTimestamp
		s.state.ResponseStartTimestampTwilio = &ts
	}
	s.state.LastAssistantItemID = itemID

	metrics.RecordAudioBytes("outbound", int64(len(audio)))
	if accepted := s.pacer.Write(audio); accepted < len(audio) {
		dropped := len(audio) - accepted
		observability.RecordAudioBackpressureDrop(dropped)
		observability.WithCallID(s.state.CallID).Warn().Int("dropped_bytes", dropped).Msg("pacing buffer full, dropping outbound audio")
	}
	s.state.EnqueueMark(fmt.Sprintf("%s-%d", itemID, s.state.MarkQueueLen()))
	s.stream.SendMark(itemID)
}

func (s *Session) onUserTranscript(text string, isFinal bool) {
	s.publishTranscript("user", text, !isFinal, false)
	if !isFinal {
		return
	}
	s.state.AppendConversation(callstate.Message{Role: callstate.RoleUser, Content: text, Timestamp: time.Now()})
	if containsGoodbyePhrase(text) {
		s.armGoodbyeTimer()
	}
}

func (s *Session) onAgentTranscript(text string, isFinal bool) {
	s.publishTranscript("assistant", text, !isFinal, false)
	if !isFinal {
		return
	}
	s.state.AppendConversation(callstate.Message{Role: callstate.RoleAssistant, Content: text, Timestamp: time.Now()})
	if containsGoodbyePhrase(text) {
		s.armGoodbyeTimer()
	}
}

// onBargeIn implements the barge-in algorithm exactly: three guard
// conditions must all hold before anything happens, then the provider is
// told where playback was truncated, the carrier is told to drop whatever
// audio it has buffered, and the in-progress-response bookkeeping resets.
func (s *Session) onBargeIn() {
	if s.state.MarkQueueLen() == 0 {
		return
	}
	if s.state.ResponseStartTimestampTwilio == nil {
		return
	}
	if s.state.LastAssistantItemID == "" {
		return
	}

	elapsed := s.state.LatestMediaTimestamp - *s.state.ResponseStartTimestampTwilio
	s.adapter.Truncate(s.state.LastAssistantItemID, elapsed)
	s.pacer.Drop()
	s.stream.SendClear()

	if idx := s.state.LastAssistantMessageIndex(); idx >= 0 {
		s.state.Call.ConversationHistory[idx].Truncated = true
		s.state.Call.ConversationHistory[idx].TruncatedAt = elapsed
	}

	s.publishTranscript("assistant", "", false, true)
	observability.RecordBargeIn()
	s.state.ResetResponseTracking()
}

func (s *Session) onToolCall(call provider.ToolCall) {
	switch call.Name {
	case "request_operator_context":
		question, _ := call.Arguments["question"].(string)
		req := &callstate.PendingContextRequest{
			Question:    question,
			RequestedBy: "assistant",
			Timestamp:   time.Now(),
		}
		s.state.PendingContextRequest = req
		s.state.Call.PendingContextRequest = req
		s.persistPendingRequest(req)
		s.deps.Events.PublishContextRequest(eventbus.ContextRequest{
			CallID:      s.state.CallID,
			Question:    question,
			RequestedBy: "assistant",
			Timestamp:   time.Now(),
		})
	case "send_dtmf":
		digits, _ := call.Arguments["digits"].(string)
		if carrier.ValidateDigits(digits) {
			s.stream.SendMedia(carrier.SynthesizeDigits(digits))
			s.state.LogCarrierEvent("dtmf_sent", digits)
		}
	}
}

// persistPendingRequest durably records a question the agent raised so it
// survives a hold teardown, which destroys this Session and its
// ActiveCallState before an operator might get a chance to answer.
func (s *Session) persistPendingRequest(req *callstate.PendingContextRequest) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.deps.Persistence.SetPendingContextRequest(ctx, s.state.CallID, req); err != nil {
		observability.WithCallID(s.state.CallID).Warn().Err(err).Msg("persisting pending context request")
	}
}

func (s *Session) publishTranscript(speaker, text string, isPartial, isInterruption bool) {
	s.deps.Events.PublishTranscript(eventbus.TranscriptUpdate{
		CallID:         s.state.CallID,
		Speaker:        speaker,
		Text:           text,
		Timestamp:      time.Now(),
		IsPartial:      isPartial,
		IsInterruption: isInterruption,
	})
}

func containsGoodbyePhrase(text string) bool {
	lower := strings.ToLower(text)
	for _, phrase := range goodbyePhrases {
		if strings.Contains(lower, phrase) {
			return true
		}
	}
	return false
}
