package openai

import (
	"testing"

	"github.com/agentplexus/voicebridge/internal/provider"
)

func TestDispatch_SessionCreatedFiresOnReadyOnce(t *testing.T) {
	c := NewClient("test-key", "")
	readyCount := 0
	c.cb = provider.Callbacks{
		OnReady: func() { readyCount++ },
	}

	c.dispatch([]byte(`{"type":"session.created"}`))
	c.dispatch([]byte(`{"type":"session.updated"}`))

	if readyCount != 1 {
		t.Errorf("Expected OnReady to fire exactly once, fired %d times", readyCount)
	}
}

func TestDispatch_AudioDelta(t *testing.T) {
	c := NewClient("test-key", "")
	var gotItemID string
	var gotAudio []byte
	c.cb = provider.Callbacks{
		OnAudio: func(itemID string, audio []byte) {
			gotItemID = itemID
			gotAudio = audio
		},
	}

	// base64 of "hi"
	c.dispatch([]byte(`{"type":"response.audio.delta","item_id":"item-1","delta":"aGk="}`))

	if gotItemID != "item-1" {
		t.Errorf("Expected item-1, got %s", gotItemID)
	}
	if string(gotAudio) != "hi" {
		t.Errorf("Expected decoded audio 'hi', got %q", gotAudio)
	}
}

func TestDispatch_SpeechStarted(t *testing.T) {
	c := NewClient("test-key", "")
	fired := false
	c.cb = provider.Callbacks{
		OnSpeechStarted: func() { fired = true },
	}

	c.dispatch([]byte(`{"type":"input_audio_buffer.speech_started"}`))

	if !fired {
		t.Error("Expected OnSpeechStarted to fire")
	}
}

func TestDispatch_AgentTranscriptFinal(t *testing.T) {
	c := NewClient("test-key", "")
	var text string
	var final bool
	c.cb = provider.Callbacks{
		OnAgentTranscript: func(t string, isFinal bool) {
			text = t
			final = isFinal
		},
	}

	c.dispatch([]byte(`{"type":"response.audio_transcript.done","transcript":"hello there"}`))

	if text != "hello there" || !final {
		t.Errorf("Expected final transcript 'hello there', got %q final=%v", text, final)
	}
}

func TestDispatch_Error(t *testing.T) {
	c := NewClient("test-key", "")
	var gotErr error
	c.cb = provider.Callbacks{
		OnError: func(err error) { gotErr = err },
	}

	c.dispatch([]byte(`{"type":"error","error":{"message":"boom"}}`))

	if gotErr == nil {
		t.Fatal("Expected OnError to fire")
	}
}

func TestSendAudio_BuffersBeforeConnect(t *testing.T) {
	c := NewClient("test-key", "")

	if err := c.SendAudio([]byte{1, 2, 3}); err != nil {
		t.Fatalf("SendAudio before connect should buffer, not error: %v", err)
	}
	if len(c.pending) != 1 {
		t.Errorf("Expected 1 pending message, got %d", len(c.pending))
	}
}

func TestName(t *testing.T) {
	c := NewClient("test-key", "")
	if c.Name() != "openai" {
		t.Errorf("Expected name 'openai', got %s", c.Name())
	}
}
