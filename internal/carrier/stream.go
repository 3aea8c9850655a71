package carrier

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"sync"

	"github.com/gorilla/websocket"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		// Twilio does not send an Origin header consistent with browser
		// CORS semantics; validation happens via the shared-secret check
		// at the control-plane boundary, not here.
		return true
	},
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
}

// EventKind tags the inbound events a Stream surfaces to its caller.
type EventKind int

const (
	EventStart EventKind = iota
	EventMedia
	EventMark
	EventDTMF
	EventStop
	EventClosed
)

// Event is a single inbound occurrence on a carrier stream, preserving the
// order in which Twilio delivered it.
type Event struct {
	Kind EventKind

	StreamSid string
	CallSid   string

	Start *StartParams

	AudioPayload     []byte
	MediaTimestampMs int64

	MarkName string

	DTMFDigit string
}

// Stream is a single Twilio Media Streams duplex connection. Reads are
// drained via Next in the order Twilio sent them; Send* methods may be
// called concurrently with Next and with each other (the session loop and
// the Pacer's drain goroutine both write), and writes are serialized on mu.
type Stream struct {
	conn *websocket.Conn

	mu        sync.Mutex
	streamSid string

	closeOnce sync.Once
}

// Upgrade upgrades an inbound HTTP request to a Twilio Media Streams
// WebSocket connection and wraps it in a Stream.
func Upgrade(w http.ResponseWriter, r *http.Request) (*Stream, error) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return nil, fmt.Errorf("carrier: websocket upgrade: %w", err)
	}
	return &Stream{conn: conn}, nil
}

// Next blocks for the next inbound event. Malformed frames are surfaced
// as a *TransportError without ending the stream; the caller should log
// and continue calling Next. A failed read leaves the connection unusable
// and is returned as a plain error, never a *TransportError.
func (s *Stream) Next() (Event, error) {
	_, raw, err := s.conn.ReadMessage()
	if err != nil {
		if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) ||
			websocket.IsCloseError(err, websocket.CloseNormalClosure) {
			return Event{Kind: EventClosed}, nil
		}
		return Event{}, fmt.Errorf("carrier: read failed: %w", err)
	}

	var msg StreamMessage
	if err := json.Unmarshal(raw, &msg); err != nil {
		return Event{}, &TransportError{Reason: "malformed frame", Cause: err}
	}

	switch msg.Event {
	case "start":
		if msg.Start == nil {
			return Event{}, &TransportError{Reason: "start event missing payload"}
		}
		s.mu.Lock()
		s.streamSid = msg.Start.StreamSid
		s.mu.Unlock()
		params := ParseStartParams(msg.Start.CustomParameters)
		return Event{
			Kind:      EventStart,
			StreamSid: msg.Start.StreamSid,
			CallSid:   msg.Start.CallSid,
			Start:     &params,
		}, nil

	case "media":
		if msg.Media == nil {
			return Event{}, &TransportError{Reason: "media event missing payload"}
		}
		chunk := msg.Media.Payload
		if chunk == "" {
			chunk = msg.Media.Chunk
		}
		audio, err := base64.StdEncoding.DecodeString(chunk)
		if err != nil {
			return Event{}, &TransportError{Reason: "invalid base64 media payload", Cause: err}
		}
		var ts int64
		if msg.Media.Timestamp != "" {
			ts, _ = strconv.ParseInt(msg.Media.Timestamp, 10, 64)
		}
		return Event{
			Kind:             EventMedia,
			StreamSid:        msg.StreamSid,
			AudioPayload:     audio,
			MediaTimestampMs: ts,
		}, nil

	case "mark":
		if msg.Mark == nil {
			return Event{}, &TransportError{Reason: "mark event missing payload"}
		}
		return Event{Kind: EventMark, StreamSid: msg.StreamSid, MarkName: msg.Mark.Name}, nil

	case "dtmf":
		if msg.DTMF == nil {
			return Event{}, &TransportError{Reason: "dtmf event missing payload"}
		}
		return Event{Kind: EventDTMF, StreamSid: msg.StreamSid, DTMFDigit: msg.DTMF.Digit}, nil

	case "stop":
		return Event{Kind: EventStop, StreamSid: msg.StreamSid}, nil

	case "connected":
		// Handshake acknowledgment preceding "start"; nothing for the
		// session to act on, so read the next frame instead of surfacing
		// a no-op event kind.
		return s.Next()

	default:
		return Event{}, &TransportError{Reason: fmt.Sprintf("unknown event kind %q", msg.Event)}
	}
}

// SendMedia emits an outbound audio chunk destined for the caller.
func (s *Stream) SendMedia(payload []byte) error {
	return s.writeJSON(StreamMessage{
		Event:     "media",
		StreamSid: s.currentStreamSid(),
		Media:     &MediaPayload{Payload: base64.StdEncoding.EncodeToString(payload)},
	})
}

// SendMark emits a mark token the caller echoes back once the preceding
// audio has been played.
func (s *Stream) SendMark(name string) error {
	return s.writeJSON(StreamMessage{
		Event:     "mark",
		StreamSid: s.currentStreamSid(),
		Mark:      &MarkPayload{Name: name},
	})
}

// SendClear instructs the carrier to discard any buffered outbound audio
// not yet played: the barge-in primitive.
func (s *Stream) SendClear() error {
	return s.writeJSON(StreamMessage{
		Event:     "clear",
		StreamSid: s.currentStreamSid(),
	})
}

func (s *Stream) currentStreamSid() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.streamSid
}

func (s *Stream) writeJSON(msg StreamMessage) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conn.WriteJSON(msg)
}

// Close closes the underlying WebSocket connection. Idempotent.
func (s *Stream) Close() error {
	var err error
	s.closeOnce.Do(func() {
		err = s.conn.Close()
	})
	return err
}
