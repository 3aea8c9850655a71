// Package provider defines the semantic interface through which
// internal/session drives a realtime LLM provider connection, independent
// of whether the concrete backend is OpenAI's Realtime API or ElevenLabs'
// Conversational AI. Concrete adapters live in provider/openai and
// provider/elevenlabs; no provider-specific type may be exposed above
// the Adapter interface.
package provider

import "context"

// SessionConfig carries the settings a session sends when opening a
// provider connection, inlined into the provider's initial handshake so
// the assistant can start responding with the lowest possible latency.
type SessionConfig struct {
	Voice              string
	Temperature        float64
	SystemInstructions string
	CallInstructions   string
	VADEnabled         bool
	Tools              []ToolSchema
}

// ToolSchema describes a tool the provider may invoke mid-conversation
// (e.g. send_dtmf). Kept deliberately thin; the session doesn't interpret
// tool schemas beyond forwarding them at session-open time. The OpenAI
// adapter sends them in its session.update; the ElevenLabs adapter does
// not send them.
type ToolSchema struct {
	Name        string
	Description string
	Parameters  map[string]any
}

// ToolCall is a provider-initiated request to invoke a named tool.
type ToolCall struct {
	ID        string
	Name      string
	Arguments map[string]any
}

// Callbacks is the semantic event sink a session registers with an
// Adapter. Handlers run on the adapter's read goroutine and must not
// block; the session loop re-serializes them onto its own event channel.
type Callbacks struct {
	OnAudio           func(itemID string, audio []byte)
	OnUserTranscript  func(text string, isFinal bool)
	OnAgentTranscript func(text string, isFinal bool)
	OnSpeechStarted   func()
	OnInterruption    func()
	OnReady           func()
	OnError           func(err error)
	OnClose           func()
	OnToolCall        func(call ToolCall)
}

// Adapter is a bidirectional realtime connection to an LLM provider,
// exposed through a callback set shared by every concrete backend. It is
// safe to call Send* methods before OnReady fires; implementations buffer
// and flush at the earliest opportunity so the system prompt reaches the
// provider without an extra round trip.
type Adapter interface {
	// Connect opens the underlying transport and begins dispatching events
	// to the given callbacks. It does not block for OnReady.
	Connect(ctx context.Context, cfg SessionConfig, cb Callbacks) error

	// SendAudio forwards one chunk of caller audio (already in the
	// carrier's native encoding) to the provider.
	SendAudio(audio []byte) error

	// Truncate tells the provider to treat the response identified by
	// itemID as having ended at audioEndMs of playback, per the barge-in
	// algorithm.
	Truncate(itemID string, audioEndMs int64) error

	// SendContextualUpdate injects a text item into the conversation
	// (operator notes, conversation summaries, resume markers) without the
	// caller having spoken it.
	SendContextualUpdate(text string) error

	// Name identifies the backend for logging and metrics ("openai",
	// "elevenlabs"). It is never exposed to session logic as a behavioral
	// switch.
	Name() string

	// Close tears down the connection. Idempotent.
	Close() error
}

// Factory constructs a fresh Adapter for a given provider name. Session
// startup and hold/resume both go through this so every resume opens a
// brand-new provider connection: no provider is assumed to retain
// conversation state across a close.
type Factory func(name string) (Adapter, error)
