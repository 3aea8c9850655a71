package session

import (
	"context"
	"errors"
	"time"

	"github.com/agentplexus/voicebridge/internal/apperrors"
	"github.com/agentplexus/voicebridge/internal/audio"
	"github.com/agentplexus/voicebridge/internal/callstate"
	"github.com/agentplexus/voicebridge/internal/carrier"
	"github.com/agentplexus/voicebridge/internal/observability"
	"github.com/agentplexus/voicebridge/internal/persistence"
	"github.com/agentplexus/voicebridge/internal/provider"
	"github.com/agentplexus/voicebridge/internal/resilience"
)

// toolSchemas are offered to every provider session. requestOperatorContext
// lets the assistant pause and hand control to a human without hanging up;
// sendDTMFTool lets it navigate an IVR it's been bridged into.
var toolSchemas = []provider.ToolSchema{
	{
		Name:        "request_operator_context",
		Description: "Pause and ask a human operator for information needed to continue the call.",
		Parameters: map[string]any{
			"type":       "object",
			"properties": map[string]any{"question": map[string]any{"type": "string"}},
			"required":   []string{"question"},
		},
	},
	{
		Name:        "send_dtmf",
		Description: "Emit DTMF keypad tones on the active call, e.g. to navigate an automated phone menu.",
		Parameters: map[string]any{
			"type":       "object",
			"properties": map[string]any{"digits": map[string]any{"type": "string"}},
			"required":   []string{"digits"},
		},
	},
}

// startup runs the Session Runtime's startup sequence: wait for the
// carrier's start event, consult the persistence gateway, create-or-restore
// the Call, open the provider with the system prompt inline, then register
// with the session manager under its admission caps.
func (s *Session) startup(ctx context.Context) error {
	params, callSid, streamSid, err := s.waitForStart()
	if err != nil {
		return err
	}
	s.callSid = callSid

	if params.SystemInstructions == "" {
		return apperrors.New(apperrors.KindInvalidArgument, "systemInstructions is required to start a session")
	}

	callID := params.CallID
	if callID == "" {
		callID = callSid
	}

	call, resuming, err := s.loadOrCreateCall(ctx, callID, params)
	if err != nil {
		return err
	}
	if call.CarrierCallSid != callSid {
		if err := s.deps.Persistence.SetCarrierCallSid(ctx, call.CallID, callSid); err != nil {
			return apperrors.Wrap(apperrors.KindStorage, "recording carrier call sid", err)
		}
		call.CarrierCallSid = callSid
	}
	s.direction = call.Direction
	s.state = callstate.NewActiveCallState(call)
	s.state.CarrierStreamID = streamSid
	s.state.Status = callstate.StatusInProgress

	providerName := call.Provider
	if providerName == "" {
		providerName = s.deps.DefaultProvider
	}
	adapter, err := s.deps.Providers(providerName)
	if err != nil {
		return apperrors.Wrap(apperrors.KindProviderUnavailable, "constructing provider adapter", err)
	}
	s.adapter = adapter

	metrics := observability.NewCallMetrics(call.CallID)
	metrics.RecordProviderConnectStart()

	cfg := provider.SessionConfig{
		Voice:              nonEmpty(call.Voice, s.deps.DefaultVoice),
		Temperature:        0.8,
		SystemInstructions: call.SystemInstructions,
		CallInstructions:   call.CallInstructions,
		VADEnabled:         true,
		Tools:              toolSchemas,
	}
	if resuming {
		// The context block is not folded into the system prompt sent with
		// this session.update: it is injected separately once the
		// provider signals OnReady (see providerCallbacks), so it reads
		// as a distinct turn rather than part of the initial instructions.
		if call.PendingResumeContext != "" {
			s.resumeContext = call.PendingResumeContext
			if err := s.deps.Persistence.SetPendingResumeContext(ctx, call.CallID, ""); err != nil {
				return apperrors.Wrap(apperrors.KindStorage, "clearing pending resume context", err)
			}
		} else {
			s.resumeContext = resumeSummary(call.ConversationHistory)
		}
	}

	// The very first connection attempt gets a short, bounded retry of its
	// own: a provider WebSocket handshake can fail transiently before the
	// caller has even said hello, and there's no in-progress conversation
	// yet to lose by retrying.
	reconnectCfg := resilience.DefaultReconnectConfig()
	reconnectCfg.MaxAttempts = 3
	reconnectCfg.Label = providerName
	connectErr := resilience.Reconnect(ctx, func() error {
		return adapter.Connect(ctx, cfg, s.providerCallbacks(metrics))
	}, reconnectCfg)
	if connectErr != nil {
		metrics.RecordProviderConnectError(providerName)
		return apperrors.Wrap(apperrors.KindProviderUnavailable, "connecting to provider", connectErr)
	}

	if !s.deps.Manager.TryRegister(call.CallID, call.Direction, s) {
		adapter.Close()
		if s.deps.Control != nil {
			s.deps.Control.Hangup(callSid)
		}
		return apperrors.New(apperrors.KindCapacityExceeded, "at capacity")
	}

	s.deps.Events.PublishStatusChanged(call.CallID, string(callstate.StatusInProgress))
	metrics.RecordCallStart(string(call.Direction))

	s.pacer = audio.NewPacer(s.audioBufferSize(), 20*time.Millisecond, func(frame []byte) error {
		return s.stream.SendMedia(frame)
	})

	s.armDurationTimer()

	return nil
}

func (s *Session) audioBufferSize() int {
	if s.deps.AudioBufferSize > 0 {
		return s.deps.AudioBufferSize
	}
	return 8192
}

// waitForStart blocks on the carrier stream until a start event arrives,
// discarding any other frame Twilio happens to send first.
func (s *Session) waitForStart() (carrier.StartParams, string, string, error) {
	for {
		evt, err := s.stream.Next()
		if err != nil {
			return carrier.StartParams{}, "", "", apperrors.Wrap(apperrors.KindTransport, "waiting for start event", err)
		}
		switch evt.Kind {
		case carrier.EventStart:
			return *evt.Start, evt.CallSid, evt.StreamSid, nil
		case carrier.EventClosed:
			return carrier.StartParams{}, "", "", apperrors.New(apperrors.KindTransport, "carrier closed before start")
		default:
			// media/mark/dtmf arriving before start would be a carrier
			// protocol violation; drop and keep waiting.
			continue
		}
	}
}

// loadOrCreateCall consults the persistence gateway for an existing
// record. Three cases: no record at all (a brand-new inbound call, create
// one); a record with status on-hold (a genuine resume, restore history
// into the new provider session); a record with any other status, an
// outbound call's very first connection. The control plane already
// created it before dialing, so reuse it without treating it as a resume.
func (s *Session) loadOrCreateCall(ctx context.Context, callID string, params carrier.StartParams) (*callstate.Call, bool, error) {
	existing, err := s.deps.Persistence.GetCall(ctx, callID)
	if err == nil {
		resuming := existing.Status == callstate.StatusOnHold
		if err := s.deps.Persistence.MarkInProgress(ctx, callID); err != nil {
			return nil, false, apperrors.Wrap(apperrors.KindStorage, "marking call in progress", err)
		}
		existing.Status = callstate.StatusInProgress
		return existing, resuming, nil
	}
	if !errors.Is(err, persistence.ErrNotFound) {
		return nil, false, apperrors.Wrap(apperrors.KindStorage, "loading call record", err)
	}

	call := &callstate.Call{
		CallID:             callID,
		Direction:          callstate.DirectionInbound,
		FromNumber:         params.FromNumber,
		ToNumber:           params.ToNumber,
		Voice:              params.Voice,
		Provider:           s.deps.DefaultProvider,
		SystemInstructions: params.SystemInstructions,
		CallInstructions:   params.CallInstructions,
		StartedAt:          time.Now(),
		Status:             callstate.StatusInitiated,
	}
	if err := s.deps.Persistence.CreateCall(ctx, call); err != nil {
		return nil, false, apperrors.Wrap(apperrors.KindStorage, "creating call record", err)
	}
	if err := s.deps.Persistence.MarkInProgress(ctx, callID); err != nil {
		return nil, false, apperrors.Wrap(apperrors.KindStorage, "marking call in progress", err)
	}
	call.Status = callstate.StatusInProgress
	return call, false, nil
}

func (s *Session) armDurationTimer() {
	max := s.deps.MaxIncomingDuration
	if s.direction == callstate.DirectionOutbound {
		max = s.deps.MaxOutgoingDuration
	}
	if max <= 0 {
		return
	}
	s.durationTimer = time.AfterFunc(max, func() {
		s.post(func() { s.finalizeLocked(callstate.StatusCompleted, "max call duration reached") })
	})
}

func nonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

// resumeSummary composes the text injected into a freshly reopened
// provider session on resume, per the design decision that every resume
// opens a brand-new provider connection re-seeded from history rather
// than assuming any provider can resume server-side state.
func resumeSummary(history []callstate.Message) string {
	return "Resuming call from hold. Continue the conversation naturally.\n\n" + callstate.Summarize(history)
}
