package elevenlabs

import (
	"testing"

	"github.com/agentplexus/voicebridge/internal/provider"
)

func TestDispatch_ConversationInitiationFiresOnReadyOnce(t *testing.T) {
	c := NewClient("test-key", "agent-1")
	readyCount := 0
	c.cb = provider.Callbacks{
		OnReady: func() { readyCount++ },
	}

	c.dispatch([]byte(`{"type":"conversation_initiation_metadata"}`))
	c.dispatch([]byte(`{"type":"conversation_initiation_metadata"}`))

	if readyCount != 1 {
		t.Errorf("Expected OnReady to fire exactly once, fired %d times", readyCount)
	}
}

func TestDispatch_Audio(t *testing.T) {
	c := NewClient("test-key", "agent-1")
	var gotAudio []byte
	c.cb = provider.Callbacks{
		OnAudio: func(itemID string, audio []byte) {
			gotAudio = audio
		},
	}

	c.dispatch([]byte(`{"type":"audio","audio_event":{"event_id":"1","audio_base_64":"aGk="}}`))

	if string(gotAudio) != "hi" {
		t.Errorf("Expected decoded audio 'hi', got %q", gotAudio)
	}
}

func TestDispatch_UserTranscript(t *testing.T) {
	c := NewClient("test-key", "agent-1")
	var text string
	c.cb = provider.Callbacks{
		OnUserTranscript: func(t string, isFinal bool) { text = t },
	}

	c.dispatch([]byte(`{"type":"user_transcript","user_transcription_event":{"user_transcript":"hello"}}`))

	if text != "hello" {
		t.Errorf("Expected 'hello', got %q", text)
	}
}

func TestDispatch_VadScoreThreshold(t *testing.T) {
	c := NewClient("test-key", "agent-1")
	fired := false
	c.cb = provider.Callbacks{
		OnSpeechStarted: func() { fired = true },
	}

	c.dispatch([]byte(`{"type":"vad_score","vad_score_event":{"vad_score":0.3}}`))
	if fired {
		t.Error("Expected OnSpeechStarted not to fire below threshold")
	}

	c.dispatch([]byte(`{"type":"vad_score","vad_score_event":{"vad_score":0.95}}`))
	if !fired {
		t.Error("Expected OnSpeechStarted to fire above threshold")
	}
}

func TestTruncate_IsNoOp(t *testing.T) {
	c := NewClient("test-key", "agent-1")
	if err := c.Truncate("item-1", 700); err != nil {
		t.Errorf("Expected Truncate to be a no-op, got error: %v", err)
	}
}

func TestName(t *testing.T) {
	c := NewClient("test-key", "agent-1")
	if c.Name() != "elevenlabs" {
		t.Errorf("Expected name 'elevenlabs', got %s", c.Name())
	}
}
