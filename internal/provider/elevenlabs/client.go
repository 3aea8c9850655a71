// Package elevenlabs adapts ElevenLabs' Conversational AI WebSocket
// protocol onto the shared provider.Adapter interface.
package elevenlabs

import (
	"context"
	"encoding/base64"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"

	"github.com/agentplexus/voicebridge/internal/observability"
	"github.com/agentplexus/voicebridge/internal/provider"
	"github.com/agentplexus/voicebridge/internal/resilience"
)

const defaultConversationalURL = "wss://api.elevenlabs.io/v1/convai/conversation"

// Client is the ElevenLabs Conversational AI adapter.
type Client struct {
	apiKey  string
	agentID string
	url     string

	mu      sync.Mutex
	conn    *websocket.Conn
	ready   bool
	pending [][]byte

	cb provider.Callbacks

	breaker *resilience.CircuitBreaker

	closeOnce sync.Once
	done      chan struct{}
}

// NewClient creates an ElevenLabs Conversational AI adapter for the given
// API key and agent id.
func NewClient(apiKey, agentID string) *Client {
	return &Client{
		apiKey:  apiKey,
		agentID: agentID,
		url:     defaultConversationalURL,
		breaker: resilience.NewCircuitBreaker("elevenlabs-convai", 5, 30*time.Second),
		done:    make(chan struct{}),
	}
}

// Name implements provider.Adapter.
func (c *Client) Name() string { return "elevenlabs" }

// Connect implements provider.Adapter.
func (c *Client) Connect(ctx context.Context, cfg provider.SessionConfig, cb provider.Callbacks) error {
	c.mu.Lock()
	c.cb = cb
	c.mu.Unlock()

	dialURL := fmt.Sprintf("%s?agent_id=%s", c.url, c.agentID)
	header := map[string][]string{
		"xi-api-key": {c.apiKey},
	}

	conn, _, err := websocket.DefaultDialer.DialContext(ctx, dialURL, header)
	if err != nil {
		observability.RecordError("connect_failed", "provider.elevenlabs")
		return fmt.Errorf("elevenlabs convai dial: %w", err)
	}

	c.mu.Lock()
	c.conn = conn
	c.mu.Unlock()

	if err := c.sendConversationInit(cfg); err != nil {
		conn.Close()
		return fmt.Errorf("elevenlabs convai conversation_initiation: %w", err)
	}

	go c.readLoop()

	return nil
}

func (c *Client) sendConversationInit(cfg provider.SessionConfig) error {
	instructions := cfg.SystemInstructions
	if cfg.CallInstructions != "" {
		instructions = instructions + "\n\n" + cfg.CallInstructions
	}

	payload := `{"type":"conversation_initiation_client_data"}`
	payload, _ = sjson.Set(payload, "conversation_config_override.agent.prompt.prompt", instructions)
	payload, _ = sjson.Set(payload, "conversation_config_override.tts.voice_id", cfg.Voice)

	return c.writeRaw([]byte(payload))
}

// SendAudio implements provider.Adapter.
func (c *Client) SendAudio(audio []byte) error {
	payload, _ := sjson.Set(`{"user_audio_chunk":""}`, "user_audio_chunk", base64.StdEncoding.EncodeToString(audio))
	return c.write([]byte(payload))
}

// Truncate implements provider.Adapter. ElevenLabs Conversational AI does
// not expose a server-side truncate-by-offset primitive; the agent-side
// interruption signal is driven by the carrier's `clear` instead, so this
// is a documented no-op rather than an error, keeping the session's
// barge-in algorithm provider-agnostic.
func (c *Client) Truncate(itemID string, audioEndMs int64) error {
	return nil
}

// SendContextualUpdate implements provider.Adapter.
func (c *Client) SendContextualUpdate(text string) error {
	payload, _ := sjson.Set(`{"type":"contextual_update"}`, "text", text)
	return c.write([]byte(payload))
}

func (c *Client) write(payload []byte) error {
	c.mu.Lock()
	if c.conn == nil {
		c.pending = append(c.pending, payload)
		c.mu.Unlock()
		return nil
	}
	c.mu.Unlock()
	return c.writeRaw(payload)
}

func (c *Client) writeRaw(payload []byte) error {
	err := c.breaker.Call(func() error {
		c.mu.Lock()
		conn := c.conn
		c.mu.Unlock()
		if conn == nil {
			return fmt.Errorf("elevenlabs convai: not connected")
		}
		return conn.WriteMessage(websocket.TextMessage, payload)
	})
	observability.UpdateCircuitBreakerState(c.breaker.Name(), int(c.breaker.GetState()))
	if err != nil {
		observability.IncrementCircuitBreakerFailures(c.breaker.Name())
	}
	return err
}

func (c *Client) flushPending() {
	c.mu.Lock()
	pending := c.pending
	c.pending = nil
	c.mu.Unlock()
	for _, p := range pending {
		c.writeRaw(p)
	}
}

func (c *Client) readLoop() {
	defer func() {
		c.mu.Lock()
		cb := c.cb
		c.mu.Unlock()
		if cb.OnClose != nil {
			cb.OnClose()
		}
	}()

	for {
		c.mu.Lock()
		conn := c.conn
		c.mu.Unlock()
		if conn == nil {
			return
		}

		_, message, err := conn.ReadMessage()
		if err != nil {
			c.mu.Lock()
			cb := c.cb
			c.mu.Unlock()
			if cb.OnError != nil {
				cb.OnError(fmt.Errorf("elevenlabs convai read: %w", err))
			}
			return
		}

		c.dispatch(message)
	}
}

// dispatch maps ElevenLabs' event vocabulary onto the shared callback
// interface. ElevenLabs and OpenAI name conceptually identical events
// differently (e.g. "agent_response" vs "response.audio_transcript.done");
// gjson keeps this mapping a flat switch instead of two struct trees.
func (c *Client) dispatch(message []byte) {
	c.mu.Lock()
	cb := c.cb
	c.mu.Unlock()

	eventType := gjson.GetBytes(message, "type").String()

	switch eventType {
	case "conversation_initiation_metadata":
		if !c.setReady() {
			return
		}
		c.flushPending()
		if cb.OnReady != nil {
			cb.OnReady()
		}

	case "audio":
		itemID := gjson.GetBytes(message, "audio_event.event_id").String()
		encoded := gjson.GetBytes(message, "audio_event.audio_base_64").String()
		audio, err := base64.StdEncoding.DecodeString(encoded)
		if err != nil {
			return
		}
		if cb.OnAudio != nil {
			cb.OnAudio(itemID, audio)
		}

	case "user_transcript":
		text := gjson.GetBytes(message, "user_transcription_event.user_transcript").String()
		if cb.OnUserTranscript != nil {
			cb.OnUserTranscript(text, true)
		}

	case "agent_response":
		text := gjson.GetBytes(message, "agent_response_event.agent_response").String()
		if cb.OnAgentTranscript != nil {
			cb.OnAgentTranscript(text, true)
		}

	case "agent_response_correction":
		// ElevenLabs emits a correction event when it truncates its own
		// response after detecting caller speech; treat it as the
		// provider-side echo of an interruption.
		if cb.OnInterruption != nil {
			cb.OnInterruption()
		}

	case "vad_score":
		score := gjson.GetBytes(message, "vad_score_event.vad_score").Float()
		if score > 0.8 && cb.OnSpeechStarted != nil {
			cb.OnSpeechStarted()
		}

	case "client_tool_call":
		call := provider.ToolCall{
			ID:   gjson.GetBytes(message, "client_tool_call.tool_call_id").String(),
			Name: gjson.GetBytes(message, "client_tool_call.tool_name").String(),
		}
		if args, ok := gjson.GetBytes(message, "client_tool_call.parameters").Value().(map[string]any); ok {
			call.Arguments = args
		}
		if cb.OnToolCall != nil {
			cb.OnToolCall(call)
		}

	case "error":
		if cb.OnError != nil {
			cb.OnError(fmt.Errorf("elevenlabs convai error: %s", gjson.GetBytes(message, "message").String()))
		}
	}
}

func (c *Client) setReady() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.ready {
		return false
	}
	c.ready = true
	return true
}

// Close implements provider.Adapter.
func (c *Client) Close() error {
	var err error
	c.closeOnce.Do(func() {
		close(c.done)
		c.mu.Lock()
		conn := c.conn
		c.mu.Unlock()
		if conn != nil {
			err = conn.Close()
		}
	})
	return err
}
