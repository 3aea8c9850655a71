package config

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

// Config holds all configuration for the voice bridge service.
type Config struct {
	// Server configuration
	Port string `envconfig:"PORT" default:"8080"`

	// PublicURL is this service's externally reachable base URL, used to
	// compose carrier callback URLs (TwiML webhooks, media-stream URLs).
	// Optional; if unset, callback URLs are built on http://localhost:PORT.
	PublicURL string `envconfig:"PUBLIC_URL" default:""`

	// APISecret gates the control plane's HTTP surface.
	APISecret string `envconfig:"API_SECRET" required:"true"`

	// Twilio carrier configuration
	TwilioAccountSID  string `envconfig:"TWILIO_ACCOUNT_SID" required:"true"`
	TwilioAuthToken   string `envconfig:"TWILIO_AUTH_TOKEN" required:"true"`
	TwilioPhoneNumber string `envconfig:"TWILIO_PHONE_NUMBER" default:""`

	// Provider selection. DefaultProvider picks which realtime LLM backend
	// handles a call when the control plane doesn't specify one explicitly.
	DefaultProvider string `envconfig:"DEFAULT_PROVIDER" default:"openai"` // openai, elevenlabs

	OpenAIAPIKey        string `envconfig:"OPENAI_API_KEY" default:""`
	OpenAIRealtimeModel string `envconfig:"OPENAI_REALTIME_MODEL" default:"gpt-4o-realtime-preview"`

	ElevenLabsAPIKey  string `envconfig:"ELEVENLABS_API_KEY" default:""`
	ElevenLabsAgentID string `envconfig:"ELEVENLABS_AGENT_ID" default:""`

	DefaultVoice string `envconfig:"DEFAULT_VOICE" default:"sage"`

	// Concurrency governor (§5 caps)
	MaxConcurrentCalls         int `envconfig:"MAX_CONCURRENT_CALLS" default:"10"`
	MaxConcurrentOutgoingCalls int `envconfig:"MAX_CONCURRENT_OUTGOING_CALLS" default:"5"`
	MaxConcurrentIncomingCalls int `envconfig:"MAX_CONCURRENT_INCOMING_CALLS" default:"5"`
	MaxOutgoingCallDuration    int `envconfig:"MAX_OUTGOING_CALL_DURATION" default:"600"`  // seconds
	MaxIncomingCallDuration    int `envconfig:"MAX_INCOMING_CALL_DURATION" default:"1800"` // seconds

	// Audio buffering
	AudioBufferSize int `envconfig:"AUDIO_BUFFER_SIZE" default:"8192"` // ring buffer size in bytes

	// Resilience configuration
	CircuitBreakerMaxFailures  int `envconfig:"CIRCUIT_BREAKER_MAX_FAILURES" default:"5"`   // failures before opening circuit
	CircuitBreakerResetTimeout int `envconfig:"CIRCUIT_BREAKER_RESET_TIMEOUT" default:"30"` // seconds before attempting recovery
	RetryMaxAttempts           int `envconfig:"RETRY_MAX_ATTEMPTS" default:"3"`             // maximum retry attempts
	RetryInitialBackoff        int `envconfig:"RETRY_INITIAL_BACKOFF" default:"100"`        // initial backoff in milliseconds
	ReconnectMaxAttempts       int `envconfig:"RECONNECT_MAX_ATTEMPTS" default:"5"`         // maximum reconnection attempts
	ReconnectBackoff           int `envconfig:"RECONNECT_BACKOFF" default:"1000"`           // reconnection backoff in milliseconds

	// Call-flow timing
	GoodbyeGraceSeconds  int `envconfig:"GOODBYE_GRACE_SECONDS" default:"2"`  // grace before finalize after goodbye detected
	FinalizeGraceSeconds int `envconfig:"FINALIZE_GRACE_SECONDS" default:"5"` // grace before transports are closed on finalize

	// Persistence
	DatabasePath string `envconfig:"DATABASE_PATH" default:"voicebridge.db"`

	// Observability configuration
	LogLevel       string `envconfig:"LOG_LEVEL" default:"info"`       // debug, info, warn, error
	LogPretty      bool   `envconfig:"LOG_PRETTY" default:"false"`     // pretty print logs (for development)
	MetricsEnabled bool   `envconfig:"METRICS_ENABLED" default:"true"` // enable Prometheus metrics
}

// Load reads configuration from environment variables.
// It first attempts to load from a .env file if one exists, then from the
// process environment.
func Load() (*Config, error) {
	_ = godotenv.Load()
	return LoadFromEnv()
}

// LoadFromEnv loads configuration directly from environment variables
// without attempting to load a .env file (useful for containerized
// deployments).
func LoadFromEnv() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// Validate checks that the configuration is internally consistent and that
// the selected provider has credentials configured.
func (c *Config) Validate() error {
	if c.APISecret == "" {
		return fmt.Errorf("API_SECRET is required")
	}
	if c.TwilioAccountSID == "" {
		return fmt.Errorf("TWILIO_ACCOUNT_SID is required")
	}
	if c.TwilioAuthToken == "" {
		return fmt.Errorf("TWILIO_AUTH_TOKEN is required")
	}

	switch c.DefaultProvider {
	case "openai":
		if c.OpenAIAPIKey == "" {
			return fmt.Errorf("OPENAI_API_KEY is required when DEFAULT_PROVIDER=openai")
		}
	case "elevenlabs":
		if c.ElevenLabsAPIKey == "" {
			return fmt.Errorf("ELEVENLABS_API_KEY is required when DEFAULT_PROVIDER=elevenlabs")
		}
	default:
		return fmt.Errorf("DEFAULT_PROVIDER must be one of openai, elevenlabs (got %q)", c.DefaultProvider)
	}

	return nil
}

// GetEnv returns the value of an environment variable or a default value.
func GetEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
