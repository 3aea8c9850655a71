// Package openai adapts OpenAI's Realtime API (a WebSocket, JSON-event
// protocol) onto the shared provider.Adapter interface.
package openai

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

const defaultRealtimeURL = "wss://api.openai.com/v1/realtime"

// Client is the OpenAI Realtime API adapter.
type Client struct {
	apiKey string
	model  string
	url    string

	mu     sync.Mutex
	conn   *websocket.Conn
	ready  bool
	pending [][]byte // messages queued before the socket exists

	cb provider.Callbacks

	breaker *resilience.CircuitBreaker

	closeOnce sync.Once
	done      chan struct{}
}

// NewClient creates an OpenAI Realtime adapter for the given API key and
// model (e.g. "gpt-4o-realtime-preview").
func NewClient(apiKey, model string) *Client {
	if model == "" {
		model = "gpt-4o-realtime-preview"
	}
	return &Client{
		apiKey:  apiKey,
		model:   model,
		url:     defaultRealtimeURL,
		breaker: resilience.NewCircuitBreaker("openai-realtime", 5, 30*time.Second),
		done:    make(chan struct{}),
	}
}

// Name implements provider.Adapter.
func (c *Client) Name() string { return "openai" }

// Connect implements provider.Adapter.
func (c *Client) Connect(ctx context.Context, cfg provider.SessionConfig, cb provider.Callbacks) error {
	c.mu.Lock()
	c.cb = cb
	c.mu.Unlock()

	header := map[string][]string{
		"Authorization": {"Bearer " + c.apiKey},
		"OpenAI-Beta":   {"realtime=v1"},
	}
	dialURL := fmt.Sprintf("%s?model=%s", c.url, c.model)

	conn, _, err := websocket.DefaultDialer.DialContext(ctx, dialURL, header)
	if err != nil {
		observability.RecordError("connect_failed", "provider.openai")
		return fmt.Errorf("openai realtime dial: %w", err)
	}

	c.mu.Lock()
	c.conn = conn
	c.mu.Unlock()

	if err := c.sendSessionUpdate(cfg); err != nil {
		conn.Close()
		return fmt.Errorf("openai realtime session.update: %w", err)
	}

	go c.readLoop()

	return nil
}

// sendSessionUpdate sends the initial session.update with the system
// prompt inlined, so the assistant can answer with the lowest possible
// first-audio latency.
func (c *Client) sendSessionUpdate(cfg provider.SessionConfig) error {
	instructions := cfg.SystemInstructions
	if cfg.CallInstructions != "" {
		instructions = instructions + "\n\n" + cfg.CallInstructions
	}

	payload := `{"type":"session.update","session":{}}`
	payload, _ = sjson.Set(payload, "session.voice", cfg.Voice)
	payload, _ = sjson.Set(payload, "session.instructions", instructions)
	payload, _ = sjson.Set(payload, "session.modalities", []string{"audio", "text"})
	payload, _ = sjson.Set(payload, "session.input_audio_format", "g711_ulaw")
	payload, _ = sjson.Set(payload, "session.output_audio_format", "g711_ulaw")
	payload, _ = sjson.Set(payload, "session.turn_detection.type", "server_vad")
	if cfg.Temperature > 0 {
		payload, _ = sjson.Set(payload, "session.temperature", cfg.Temperature)
	}
	for i, t := range cfg.Tools {
		payload, _ = sjson.Set(payload, fmt.Sprintf("session.tools.%d.type", i), "function")
		payload, _ = sjson.Set(payload, fmt.Sprintf("session.tools.%d.name", i), t.Name)
		payload, _ = sjson.Set(payload, fmt.Sprintf("session.tools.%d.description", i), t.Description)
		if t.Parameters != nil {
			payload, _ = sjson.Set(payload, fmt.Sprintf("session.tools.%d.parameters", i), t.Parameters)
		}
	}

	return c.writeRaw([]byte(payload))
}

// SendAudio implements provider.Adapter.
func (c *Client) SendAudio(audio []byte) error {
	payload, _ := sjson.Set(`{"type":"input_audio_buffer.append"}`, "audio", base64.StdEncoding.EncodeToString(audio))
	return c.write([]byte(payload))
}

// Truncate implements provider.Adapter.
func (c *Client) Truncate(itemID string, audioEndMs int64) error {
	payload := `{"type":"conversation.item.truncate","content_index":0}`
	payload, _ = sjson.Set(payload, "item_id", itemID)
	payload, _ = sjson.Set(payload, "audio_end_ms", audioEndMs)
	return c.write([]byte(payload))
}

// SendContextualUpdate implements provider.Adapter.
func (c *Client) SendContextualUpdate(text string) error {
	payload := `{"type":"conversation.item.create","item":{"type":"message","role":"user","content":[{"type":"input_text"}]}}`
	payload, _ = sjson.Set(payload, "item.content.0.text", text)
	if err := c.write([]byte(payload)); err != nil {
		return err
	}
	return c.write([]byte(`{"type":"response.create"}`))
}

// write sends a payload, buffering it if the socket isn't open yet so
// callers may use the adapter before OnReady fires.
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
			return fmt.Errorf("openai realtime: not connected")
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

// readLoop dispatches OpenAI Realtime server events onto the shared
// callback interface. gjson lets us reach into the provider's own event
// shape without declaring a struct for every event type.
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
				cb.OnError(fmt.Errorf("openai realtime read: %w", err))
			}
			return
		}

		c.dispatch(message)
	}
}

func (c *Client) dispatch(message []byte) {
	c.mu.Lock()
	cb := c.cb
	c.mu.Unlock()

	eventType := gjson.GetBytes(message, "type").String()

	switch eventType {
	case "session.created", "session.updated":
		if !c.setReady() {
			return
		}
		c.flushPending()
		if cb.OnReady != nil {
			cb.OnReady()
		}

	case "response.audio.delta":
		itemID := gjson.GetBytes(message, "item_id").String()
		encoded := gjson.GetBytes(message, "delta").String()
		audio, err := base64.StdEncoding.DecodeString(encoded)
		if err != nil {
			return
		}
		if cb.OnAudio != nil {
			cb.OnAudio(itemID, audio)
		}

	case "conversation.item.input_audio_transcription.completed":
		text := gjson.GetBytes(message, "transcript").String()
		if cb.OnUserTranscript != nil {
			cb.OnUserTranscript(text, true)
		}

	case "conversation.item.input_audio_transcription.delta":
		text := gjson.GetBytes(message, "delta").String()
		if cb.OnUserTranscript != nil {
			cb.OnUserTranscript(text, false)
		}

	case "response.audio_transcript.delta":
		text := gjson.GetBytes(message, "delta").String()
		if cb.OnAgentTranscript != nil {
			cb.OnAgentTranscript(text, false)
		}

	case "response.audio_transcript.done":
		text := gjson.GetBytes(message, "transcript").String()
		if cb.OnAgentTranscript != nil {
			cb.OnAgentTranscript(text, true)
		}

	case "input_audio_buffer.speech_started":
		if cb.OnSpeechStarted != nil {
			cb.OnSpeechStarted()
		}

	case "response.cancelled":
		if cb.OnInterruption != nil {
			cb.OnInterruption()
		}

	case "response.function_call_arguments.done":
		call := provider.ToolCall{
			ID:   gjson.GetBytes(message, "call_id").String(),
			Name: gjson.GetBytes(message, "name").String(),
		}
		if args, ok := gjson.Parse(gjson.GetBytes(message, "arguments").String()).Value().(map[string]any); ok {
			call.Arguments = args
		}
		if cb.OnToolCall != nil {
			cb.OnToolCall(call)
		}

	case "error":
		if cb.OnError != nil {
			cb.OnError(fmt.Errorf("openai realtime error: %s", gjson.GetBytes(message, "error.message").String()))
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
