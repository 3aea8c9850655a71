package sessionmanager

import (
	"testing"

	"github.com/agentplexus/voicebridge/internal/callstate"
)

type fakeHandle struct {
	injectErr error
	resumed   bool
	endErr    error
	alive     bool
}

func (f *fakeHandle) InjectContext(text string) (bool, error) { return f.resumed, f.injectErr }
func (f *fakeHandle) Hold() error                               { return nil }
func (f *fakeHandle) SendDTMF(digits string) error              { return nil }
func (f *fakeHandle) EndCall() error                            { return f.endErr }
func (f *fakeHandle) IsAlive() bool                             { return f.alive }

func TestTryRegister_RespectsTotalCap(t *testing.T) {
	m := New(Caps{MaxConcurrentCalls: 1, MaxConcurrentOutgoingCalls: 5, MaxConcurrentIncomingCalls: 5})

	ok := m.TryRegister("CA1", callstate.DirectionInbound, &fakeHandle{alive: true})
	if !ok {
		t.Fatal("Expected first registration to succeed")
	}

	ok = m.TryRegister("CA2", callstate.DirectionInbound, &fakeHandle{alive: true})
	if ok {
		t.Error("Expected second registration to fail due to total cap")
	}
}

func TestTryRegister_RespectsDirectionalCaps(t *testing.T) {
	m := New(Caps{MaxConcurrentCalls: 10, MaxConcurrentOutgoingCalls: 1, MaxConcurrentIncomingCalls: 5})

	if !m.TryRegister("CA1", callstate.DirectionOutbound, &fakeHandle{alive: true}) {
		t.Fatal("Expected first outbound registration to succeed")
	}
	if m.TryRegister("CA2", callstate.DirectionOutbound, &fakeHandle{alive: true}) {
		t.Error("Expected second outbound registration to fail due to outgoing cap")
	}
	if !m.TryRegister("CA3", callstate.DirectionInbound, &fakeHandle{alive: true}) {
		t.Error("Expected inbound registration to succeed independently")
	}
}

func TestUnregisterFreesCapacity(t *testing.T) {
	m := New(Caps{MaxConcurrentCalls: 1, MaxConcurrentOutgoingCalls: 5, MaxConcurrentIncomingCalls: 5})

	m.TryRegister("CA1", callstate.DirectionInbound, &fakeHandle{alive: true})
	m.Unregister("CA1")

	if !m.TryRegister("CA2", callstate.DirectionInbound, &fakeHandle{alive: true}) {
		t.Error("Expected registration to succeed after unregistering")
	}
}

func TestGet(t *testing.T) {
	m := New(Caps{MaxConcurrentCalls: 10, MaxConcurrentOutgoingCalls: 5, MaxConcurrentIncomingCalls: 5})
	handle := &fakeHandle{alive: true}
	m.TryRegister("CA1", callstate.DirectionInbound, handle)

	got, ok := m.Get("CA1")
	if !ok || got != handle {
		t.Error("Expected to retrieve the registered handle")
	}

	_, ok = m.Get("nonexistent")
	if ok {
		t.Error("Expected Get on unknown callId to report not found")
	}
}

func TestListActive(t *testing.T) {
	m := New(Caps{MaxConcurrentCalls: 10, MaxConcurrentOutgoingCalls: 5, MaxConcurrentIncomingCalls: 5})
	m.TryRegister("CA1", callstate.DirectionInbound, &fakeHandle{alive: true})
	m.TryRegister("CA2", callstate.DirectionOutbound, &fakeHandle{alive: true})

	active := m.ListActive()
	if len(active) != 2 {
		t.Errorf("Expected 2 active sessions, got %d", len(active))
	}
}

func TestStats(t *testing.T) {
	m := New(Caps{MaxConcurrentCalls: 10, MaxConcurrentOutgoingCalls: 5, MaxConcurrentIncomingCalls: 5})
	m.TryRegister("CA1", callstate.DirectionInbound, &fakeHandle{alive: true})
	m.TryRegister("CA2", callstate.DirectionOutbound, &fakeHandle{alive: true})

	stats := m.Stats()
	if stats.TotalCalls != 2 || stats.IncomingCalls != 1 || stats.OutgoingCalls != 1 {
		t.Errorf("Unexpected stats: %+v", stats)
	}
}

func TestEmergencyShutdown(t *testing.T) {
	m := New(Caps{MaxConcurrentCalls: 10, MaxConcurrentOutgoingCalls: 5, MaxConcurrentIncomingCalls: 5})
	m.TryRegister("CA1", callstate.DirectionInbound, &fakeHandle{alive: true})
	m.TryRegister("CA2", callstate.DirectionInbound, &fakeHandle{alive: true})
	m.TryRegister("CA3", callstate.DirectionInbound, &fakeHandle{alive: true, endErr: errFail})

	report := m.EmergencyShutdown()

	if report.TerminatedCount != 2 {
		t.Errorf("Expected 2 terminated, got %d", report.TerminatedCount)
	}
	if report.FailedCount != 1 {
		t.Errorf("Expected 1 failed, got %d", report.FailedCount)
	}
}

var errFail = &NotFound{CallID: "simulated-failure"}
