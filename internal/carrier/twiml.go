package carrier

import (
	"encoding/xml"
	"net/http"
	"net/url"
)

func urlEscape(s string) string {
	return url.QueryEscape(s)
}

// twiMLResponse mirrors the small subset of TwiML this service emits:
// a single <Connect><Stream> verb for media streams, or a <Play loop>
// for hold audio.
type twiMLResponse struct {
	XMLName xml.Name      `xml:"Response"`
	Connect *twiMLConnect `xml:"Connect,omitempty"`
	Play    *twiMLPlay    `xml:"Play,omitempty"`
}

type twiMLConnect struct {
	Stream twiMLStream `xml:"Stream"`
}

type twiMLStream struct {
	URL        string          `xml:"url,attr"`
	Parameters []twiMLParam    `xml:"Parameter"`
}

type twiMLParam struct {
	Name  string `xml:"name,attr"`
	Value string `xml:"value,attr"`
}

type twiMLPlay struct {
	Loop int    `xml:"loop,attr"`
	URL  string `xml:",chardata"`
}

// StreamTwiMLHandler answers Twilio's webhook fetch for a new or resumed
// call by returning a <Connect><Stream> document pointing back at this
// service's WebSocket endpoint, carrying the call's identifying
// parameters as Twilio custom parameters so they round-trip onto the
// stream's `start` event.
func StreamTwiMLHandler(wsBaseURL string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()

		doc := twiMLResponse{
			Connect: &twiMLConnect{
				Stream: twiMLStream{
					URL: wsBaseURL + "/streams/twilio",
					Parameters: []twiMLParam{
						{Name: "callId", Value: q.Get("callId")},
						{Name: "fromNumber", Value: q.Get("fromNumber")},
						{Name: "toNumber", Value: q.Get("toNumber")},
						{Name: "voice", Value: q.Get("voice")},
						{Name: "systemInstructions", Value: q.Get("systemInstructions")},
						{Name: "callInstructions", Value: q.Get("callInstructions")},
					},
				},
			},
		}

		writeTwiML(w, doc)
	}
}

// HoldTwiMLHandler answers Twilio's webhook fetch during a hold redirect
// with a looping hold-audio document. Twilio fetches the audio from
// holdAudioURL itself; this package does not serve that asset. Looping
// indefinitely is intentional:
// the call leg is pulled off hold by a subsequent redirect, not by the
// hold TwiML completing.
func HoldTwiMLHandler(holdAudioURL string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		doc := twiMLResponse{
			Play: &twiMLPlay{Loop: 0, URL: holdAudioURL}, // loop=0 means "forever" in TwiML
		}
		writeTwiML(w, doc)
	}
}

func writeTwiML(w http.ResponseWriter, doc twiMLResponse) {
	w.Header().Set("Content-Type", "text/xml")
	w.Write([]byte(xml.Header))
	enc := xml.NewEncoder(w)
	enc.Encode(doc)
}
