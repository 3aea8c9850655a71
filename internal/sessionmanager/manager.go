// Package sessionmanager is the process-wide registry of active call
// sessions: a callId -> SessionHandle map enforcing the concurrency caps
// from the concurrency and resource model, atomically under one mutex.
package sessionmanager

import (
	"fmt"
	"sync"

	"github.com/agentplexus/voicebridge/internal/callstate"
	"github.com/agentplexus/voicebridge/internal/observability"
)

// SessionHandle is the narrow interface a registered session exposes to
// the rest of the process. The session owns all other state; the manager
// never reaches past this handle.
type SessionHandle interface {
	InjectContext(text string) (resumed bool, err error)
	Hold() error
	SendDTMF(digits string) error
	EndCall() error
	IsAlive() bool
}

// Caps holds the admission limits from the concurrency and resource
// model (§5), independently configurable.
type Caps struct {
	MaxConcurrentCalls         int
	MaxConcurrentOutgoingCalls int
	MaxConcurrentIncomingCalls int
}

type entry struct {
	handle    SessionHandle
	direction callstate.Direction
}

// Manager is the thread-safe callId -> SessionHandle registry.
type Manager struct {
	mu      sync.Mutex
	caps    Caps
	entries map[string]entry
}

// New creates a Manager enforcing the given caps.
func New(caps Caps) *Manager {
	return &Manager{
		caps:    caps,
		entries: make(map[string]entry),
	}
}

// CanAccept reports whether a new call of the given direction would keep
// the process within all three caps. The answer is advisory only: a
// concurrent admission can change it, so admitting a call goes through
// TryRegister, which repeats the check and registers under one lock.
func (m *Manager) CanAccept(direction callstate.Direction) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.canAcceptLocked(direction)
}

func (m *Manager) canAcceptLocked(direction callstate.Direction) bool {
	if len(m.entries) >= m.caps.MaxConcurrentCalls {
		return false
	}

	outgoing, incoming := m.directionalCountsLocked()
	switch direction {
	case callstate.DirectionOutbound:
		return outgoing < m.caps.MaxConcurrentOutgoingCalls
	case callstate.DirectionInbound:
		return incoming < m.caps.MaxConcurrentIncomingCalls
	default:
		return false
	}
}

func (m *Manager) directionalCountsLocked() (outgoing, incoming int) {
	for _, e := range m.entries {
		switch e.direction {
		case callstate.DirectionOutbound:
			outgoing++
		case callstate.DirectionInbound:
			incoming++
		}
	}
	return
}

// TryRegister atomically checks admission and, if accepted, registers the
// handle under callID. This is the only way to admit a new call; a
// separate CanAccept result races against concurrent admissions.
func (m *Manager) TryRegister(callID string, direction callstate.Direction, handle SessionHandle) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.canAcceptLocked(direction) {
		observability.RecordAdmissionRejection(string(direction))
		return false
	}

	m.entries[callID] = entry{handle: handle, direction: direction}
	return true
}

// Unregister removes callID from the registry. A no-op if not present.
func (m *Manager) Unregister(callID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.entries, callID)
}

// Get looks up the handle for callID.
func (m *Manager) Get(callID string) (SessionHandle, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.entries[callID]
	if !ok {
		return nil, false
	}
	return e.handle, true
}

// ListActive returns the call ids of every currently registered session.
func (m *Manager) ListActive() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	ids := make([]string, 0, len(m.entries))
	for id := range m.entries {
		ids = append(ids, id)
	}
	return ids
}

// Stats summarizes current admission state, surfaced on 429 responses so
// the caller can see why a call was refused.
type Stats struct {
	TotalCalls    int `json:"totalCalls"`
	OutgoingCalls int `json:"outgoingCalls"`
	IncomingCalls int `json:"incomingCalls"`
}

// Stats reports the current call counts.
func (m *Manager) Stats() Stats {
	m.mu.Lock()
	defer m.mu.Unlock()
	outgoing, incoming := m.directionalCountsLocked()
	return Stats{
		TotalCalls:    len(m.entries),
		OutgoingCalls: outgoing,
		IncomingCalls: incoming,
	}
}

// ShutdownReport summarizes the outcome of EmergencyShutdown.
type ShutdownReport struct {
	TerminatedCount int      `json:"terminatedCount"`
	FailedCount     int      `json:"failedCount"`
	TerminatedCalls []string `json:"terminatedCalls"`
	FailedCalls     []string `json:"failedCalls,omitempty"`
}

// EmergencyShutdown invokes EndCall on every registered session and
// collects a per-call success/failure report. Sessions are responsible
// for unregistering themselves from the manager as part of EndCall's
// finalize path; this method does not remove entries directly so a
// session's own idempotent finalize remains the single source of truth.
func (m *Manager) EmergencyShutdown() ShutdownReport {
	m.mu.Lock()
	handles := make(map[string]SessionHandle, len(m.entries))
	for id, e := range m.entries {
		handles[id] = e.handle
	}
	m.mu.Unlock()

	report := ShutdownReport{
		TerminatedCalls: make([]string, 0, len(handles)),
	}

	for callID, handle := range handles {
		if err := handle.EndCall(); err != nil {
			report.FailedCount++
			report.FailedCalls = append(report.FailedCalls, callID)
			observability.RecordError("emergency_shutdown_failed", "sessionmanager")
			continue
		}
		report.TerminatedCount++
		report.TerminatedCalls = append(report.TerminatedCalls, callID)
	}

	return report
}

// NotFound is returned by operations addressed at an unregistered callId.
type NotFound struct {
	CallID string
}

func (e *NotFound) Error() string {
	return fmt.Sprintf("sessionmanager: no active session for call %q", e.CallID)
}
