// Package session implements the Session Runtime: the single-threaded
// actor that owns one live call end to end, bridging a carrier.Stream and
// a provider.Adapter and mutating a callstate.ActiveCallState. Every
// mutation to that state happens on the session's own goroutine; external
// callers (the control plane) interact only through the narrow
// sessionmanager.SessionHandle methods, each of which posts a closure
// onto the session's inbox and waits for it to run.
package session

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/agentplexus/voicebridge/internal/audio"
	"github.com/agentplexus/voicebridge/internal/callstate"
	"github.com/agentplexus/voicebridge/internal/carrier"
	"github.com/agentplexus/voicebridge/internal/eventbus"
	"github.com/agentplexus/voicebridge/internal/observability"
	"github.com/agentplexus/voicebridge/internal/persistence"
	"github.com/agentplexus/voicebridge/internal/provider"
	"github.com/agentplexus/voicebridge/internal/sessionmanager"
)

// Deps bundles every collaborator a Session needs, supplied by
// cmd/voicebridge at startup and shared across all sessions.
type Deps struct {
	Persistence persistence.Gateway
	Providers   provider.Factory
	Events      *eventbus.Bus
	Manager     *sessionmanager.Manager
	Control     *carrier.ControlClient

	DefaultProvider string
	DefaultVoice    string

	GoodbyeGrace        time.Duration
	FinalizeGrace       time.Duration
	MaxOutgoingDuration time.Duration
	MaxIncomingDuration time.Duration

	AudioBufferSize int
}

// Session is the Session Runtime for one live call.
type Session struct {
	deps   Deps
	stream *carrier.Stream

	adapter provider.Adapter
	pacer   *audio.Pacer

	state     *callstate.ActiveCallState
	direction callstate.Direction
	callSid   string

	inbox chan func()
	done  chan struct{}
	alive atomic.Bool

	audioBuffer   [][]byte
	providerReady bool
	resumeContext string

	durationTimer *time.Timer
	goodbyeTimer  *time.Timer
	ending        bool
	holding       bool
}

var _ sessionmanager.SessionHandle = (*Session)(nil)

// New creates a Session bound to an already-upgraded carrier stream. The
// session does no work until Run is called.
func New(stream *carrier.Stream, deps Deps) *Session {
	return &Session{
		deps:   deps,
		stream: stream,
		inbox:  make(chan func(), 16),
		done:   make(chan struct{}),
	}
}

// post submits fn to run on the session's own goroutine, returning once
// either fn has been accepted or the session has already ended. It never
// blocks a caller forever on a dead session.
func (s *Session) post(fn func()) {
	select {
	case s.inbox <- fn:
	case <-s.done:
	}
}

// Run drives the session to completion: the startup sequence, then the
// main event loop, until the call finalizes or the carrier connection
// drops. It returns once the session is fully torn down.
func (s *Session) Run(ctx context.Context) {
	defer close(s.done)
	defer s.alive.Store(false)

	if err := s.startup(ctx); err != nil {
		observability.GetLogger().Error().Err(err).Msg("session startup failed")
		s.stream.Close()
		if s.adapter != nil {
			s.adapter.Close()
		}
		return
	}

	s.alive.Store(true)

	carrierEvents := make(chan carrier.Event, 32)
	go s.pumpCarrier(carrierEvents)

	for {
		select {
		case evt, ok := <-carrierEvents:
			if !ok {
				s.handleCarrierClosed()
			} else {
				s.handleCarrierEvent(evt)
			}
		case fn := <-s.inbox:
			fn()
		}

		if s.ending {
			return
		}
	}
}

func (s *Session) pumpCarrier(out chan<- carrier.Event) {
	defer close(out)
	for {
		evt, err := s.stream.Next()
		if err != nil {
			var te *carrier.TransportError
			if ok := asTransportError(err, &te); ok {
				observability.RecordError("transport_error", "carrier")
				observability.GetLogger().Warn().Err(err).Msg("dropping malformed carrier frame")
				continue
			}
			return
		}
		select {
		case out <- evt:
		case <-s.done:
			return
		}
		if evt.Kind == carrier.EventClosed {
			return
		}
	}
}

func asTransportError(err error, target **carrier.TransportError) bool {
	te, ok := err.(*carrier.TransportError)
	if ok {
		*target = te
	}
	return ok
}

// IsAlive implements sessionmanager.SessionHandle.
func (s *Session) IsAlive() bool {
	return s.alive.Load()
}

// InjectContext implements sessionmanager.SessionHandle.
func (s *Session) InjectContext(text string) (bool, error) {
	type result struct {
		resumed bool
		err     error
	}
	resp := make(chan result, 1)
	s.post(func() {
		resumed, err := s.injectContextLocked(text)
		resp <- result{resumed, err}
	})
	select {
	case r := <-resp:
		return r.resumed, r.err
	case <-s.done:
		return false, fmt.Errorf("session: call already ended")
	}
}

// Hold implements sessionmanager.SessionHandle.
func (s *Session) Hold() error {
	resp := make(chan error, 1)
	s.post(func() { resp <- s.holdLocked() })
	select {
	case err := <-resp:
		return err
	case <-s.done:
		return fmt.Errorf("session: call already ended")
	}
}

// SendDTMF implements sessionmanager.SessionHandle.
func (s *Session) SendDTMF(digits string) error {
	resp := make(chan error, 1)
	s.post(func() { resp <- s.sendDTMFLocked(digits) })
	select {
	case err := <-resp:
		return err
	case <-s.done:
		return fmt.Errorf("session: call already ended")
	}
}

// EndCall implements sessionmanager.SessionHandle.
func (s *Session) EndCall() error {
	resp := make(chan error, 1)
	s.post(func() { resp <- s.finalizeLocked(callstate.StatusCompleted, "") })
	select {
	case err := <-resp:
		return err
	case <-s.done:
		return nil
	}
}
