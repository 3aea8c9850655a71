package carrier

import (
	"fmt"
	"time"

	"github.com/twilio/twilio-go"
	twilioapi "github.com/twilio/twilio-go/rest/api/v2010"

	"github.com/agentplexus/voicebridge/internal/resilience"
)

// ControlClient issues the REST operations Twilio exposes for a live
// call: originate, redirect to a new TwiML document (used for both hold
// and resume), and hang up.
type ControlClient struct {
	client     *twilio.RestClient
	fromNumber string
	publicURL  string
}

// NewControlClient creates a Twilio REST control client. publicURL is this
// service's externally reachable base URL, used to compose the TwiML
// webhook URLs Twilio will fetch for origination and redirects.
func NewControlClient(accountSid, authToken, fromNumber, publicURL string) *ControlClient {
	client := twilio.NewRestClientWithParams(twilio.ClientParams{
		Username: accountSid,
		Password: authToken,
	})
	return &ControlClient{client: client, fromNumber: fromNumber, publicURL: publicURL}
}

// Originate places an outbound call and points it at the media-stream
// TwiML webhook, carrying callId and the per-call parameters through as
// query parameters so the inbound TwiML handler can echo them back as
// customParameters on the stream's `start` event.
func (c *ControlClient) Originate(to, callID, voice, systemInstructions, callInstructions string) (string, error) {
	from := c.fromNumber

	params := &twilioapi.CreateCallParams{}
	params.SetTo(to)
	params.SetFrom(from)
	params.SetUrl(c.streamTwiMLURL(callID, voice, systemInstructions, callInstructions))
	params.SetMethod("POST")

	resp, err := c.client.Api.CreateCall(params)
	if err != nil {
		return "", fmt.Errorf("carrier: originate call: %w", err)
	}
	if resp.Sid == nil {
		return "", fmt.Errorf("carrier: originate call: no call sid returned")
	}
	return *resp.Sid, nil
}

// redirectRetryConfig governs the REST calls below: redirecting or hanging
// up a leg that's already live is safe to retry (UpdateCall is idempotent,
// it just reapplies the same TwiML/status), unlike Originate which would
// place a second call on retry.
var redirectRetryConfig = &resilience.RetryConfig{
	MaxAttempts:       3,
	InitialBackoff:    200 * time.Millisecond,
	MaxBackoff:        2 * time.Second,
	BackoffMultiplier: 2.0,
	Jitter:            true,
}

// RedirectToHold redirects a live call leg to hold-audio TwiML (looping
// playback), used when a human operator places the call on hold.
func (c *ControlClient) RedirectToHold(callSid string) error {
	params := &twilioapi.UpdateCallParams{}
	params.SetUrl(c.holdTwiMLURL())
	params.SetMethod("POST")

	err := resilience.Retry(func() error {
		_, err := c.client.Api.UpdateCall(callSid, params)
		return err
	}, redirectRetryConfig, resilience.IsRetryableNetworkError)
	if err != nil {
		return fmt.Errorf("carrier: redirect to hold: %w", err)
	}
	return nil
}

// RedirectToStream redirects a live call leg back to a fresh media
// stream, which produces a new `start` event the session uses to resume.
func (c *ControlClient) RedirectToStream(callSid, callID, voice, systemInstructions, callInstructions string) error {
	params := &twilioapi.UpdateCallParams{}
	params.SetUrl(c.streamTwiMLURL(callID, voice, systemInstructions, callInstructions))
	params.SetMethod("POST")

	err := resilience.Retry(func() error {
		_, err := c.client.Api.UpdateCall(callSid, params)
		return err
	}, redirectRetryConfig, resilience.IsRetryableNetworkError)
	if err != nil {
		return fmt.Errorf("carrier: redirect to stream: %w", err)
	}
	return nil
}

// Hangup marks the call leg completed.
func (c *ControlClient) Hangup(callSid string) error {
	params := &twilioapi.UpdateCallParams{}
	params.SetStatus("completed")

	err := resilience.Retry(func() error {
		_, err := c.client.Api.UpdateCall(callSid, params)
		return err
	}, redirectRetryConfig, resilience.IsRetryableNetworkError)
	if err != nil {
		return fmt.Errorf("carrier: hangup: %w", err)
	}
	return nil
}

func (c *ControlClient) streamTwiMLURL(callID, voice, systemInstructions, callInstructions string) string {
	return fmt.Sprintf("%s/twiml/stream?callId=%s&voice=%s&systemInstructions=%s&callInstructions=%s",
		c.publicURL, urlEscape(callID), urlEscape(voice), urlEscape(systemInstructions), urlEscape(callInstructions))
}

func (c *ControlClient) holdTwiMLURL() string {
	return fmt.Sprintf("%s/twiml/hold", c.publicURL)
}
