// Package carrier adapts Twilio Media Streams (the duplex WebSocket
// carrying call audio) and the Twilio REST API (call origination and
// redirects) onto the plain event/command surface internal/session drives.
package carrier

import "fmt"

// TransportError wraps a malformed or unreadable carrier frame. Per the
// spec, a TransportError drops the offending frame and logs it; it never
// ends the call on its own.
type TransportError struct {
	Reason string
	Cause  error
}

func (e *TransportError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("carrier transport error: %s: %v", e.Reason, e.Cause)
	}
	return fmt.Sprintf("carrier transport error: %s", e.Reason)
}

func (e *TransportError) Unwrap() error { return e.Cause }

// StreamMessage is the wire shape of every Twilio Media Streams event,
// inbound and outbound. Event-specific payloads are carried in the
// pointer fields left nil for events that don't use them.
type StreamMessage struct {
	Event     string      `json:"event"`
	StreamSid string      `json:"streamSid,omitempty"`
	Sequence  string      `json:"sequenceNumber,omitempty"`
	Media     *MediaPayload `json:"media,omitempty"`
	Start     *StartPayload `json:"start,omitempty"`
	Stop      *StopPayload  `json:"stop,omitempty"`
	Mark      *MarkPayload  `json:"mark,omitempty"`
	DTMF      *DTMFPayload  `json:"dtmf,omitempty"`
}

// MediaPayload carries one chunk of base64-encoded audio and its
// monotonically increasing timestamp in milliseconds since stream start.
type MediaPayload struct {
	Track     string `json:"track,omitempty"`
	Chunk     string `json:"chunk,omitempty"`
	Timestamp string `json:"timestamp,omitempty"`
	Payload   string `json:"payload,omitempty"` // used on outbound media + some inbound variants
}

// StartPayload carries the call identifiers and custom parameters Twilio
// attaches when a media stream begins.
type StartPayload struct {
	AccountSid       string            `json:"accountSid"`
	CallSid          string            `json:"callSid"`
	StreamSid        string            `json:"streamSid"`
	Tracks           []string          `json:"tracks,omitempty"`
	CustomParameters map[string]string `json:"customParameters,omitempty"`
}

// StopPayload carries the identifiers present on a stream-stop event.
type StopPayload struct {
	AccountSid string `json:"accountSid"`
	CallSid    string `json:"callSid"`
}

// MarkPayload identifies which outbound mark is being acknowledged. The
// session only cares about cardinality, not which name came back, but the
// name is preserved for event logging.
type MarkPayload struct {
	Name string `json:"name"`
}

// DTMFPayload carries a single keypad digit the caller pressed.
type DTMFPayload struct {
	Digit string `json:"digit"`
}

// StartParams is the parsed, typed form of a start event's custom
// parameters, consulted by internal/session on every `start`.
type StartParams struct {
	// CallID is the control plane's provisional ULID for an outbound
	// call, round-tripped through the TwiML custom parameters. Empty for
	// inbound calls, which have no pre-minted identity. The session falls
	// back to the carrier's own CallSid for those.
	CallID             string
	FromNumber         string
	ToNumber           string
	Voice              string
	SystemInstructions string
	CallInstructions   string
}

// ParseStartParams extracts the typed fields out of a start event's
// customParameters map. Dynamic key-value maps like this one are the
// carrier's own doing, not ours; the rest of the system only ever sees
// this typed struct.
func ParseStartParams(params map[string]string) StartParams {
	return StartParams{
		CallID:             params["callId"],
		FromNumber:         params["fromNumber"],
		ToNumber:           params["toNumber"],
		Voice:              params["voice"],
		SystemInstructions: params["systemInstructions"],
		CallInstructions:   params["callInstructions"],
	}
}
