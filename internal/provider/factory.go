package provider

import "fmt"

// Names of the two supported realtime backends.
const (
	NameOpenAI     = "openai"
	NameElevenLabs = "elevenlabs"
)

// NewFactory builds a Factory closed over the credentials needed to
// construct either backend. internal/session never imports
// provider/openai or provider/elevenlabs directly; it only calls through
// this factory, so it has no way to branch on provider name.
func NewFactory(openaiAdapter func() Adapter, elevenlabsAdapter func() Adapter) Factory {
	return func(name string) (Adapter, error) {
		switch name {
		case NameOpenAI:
			if openaiAdapter == nil {
				return nil, fmt.Errorf("provider %q is not configured", name)
			}
			return openaiAdapter(), nil
		case NameElevenLabs:
			if elevenlabsAdapter == nil {
				return nil, fmt.Errorf("provider %q is not configured", name)
			}
			return elevenlabsAdapter(), nil
		default:
			return nil, fmt.Errorf("unknown provider %q", name)
		}
	}
}
