package config

import (
	"os"
	"testing"
)

func setRequiredEnv(t *testing.T) {
	t.Helper()
	os.Setenv("API_SECRET", "test-secret")
	os.Setenv("TWILIO_ACCOUNT_SID", "ACxxxx")
	os.Setenv("TWILIO_AUTH_TOKEN", "test-token")
	os.Setenv("OPENAI_API_KEY", "test-openai-key")
	t.Cleanup(func() {
		os.Unsetenv("API_SECRET")
		os.Unsetenv("TWILIO_ACCOUNT_SID")
		os.Unsetenv("TWILIO_AUTH_TOKEN")
		os.Unsetenv("OPENAI_API_KEY")
	})
}

func TestLoad(t *testing.T) {
	setRequiredEnv(t)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() failed: %v", err)
	}

	if cfg.APISecret != "test-secret" {
		t.Errorf("Expected APISecret 'test-secret', got '%s'", cfg.APISecret)
	}
	if cfg.TwilioAccountSID != "ACxxxx" {
		t.Errorf("Expected TwilioAccountSID 'ACxxxx', got '%s'", cfg.TwilioAccountSID)
	}
}

func TestLoad_MissingRequired(t *testing.T) {
	os.Unsetenv("API_SECRET")
	os.Unsetenv("TWILIO_ACCOUNT_SID")
	os.Unsetenv("TWILIO_AUTH_TOKEN")
	os.Unsetenv("OPENAI_API_KEY")
	os.Unsetenv("ELEVENLABS_API_KEY")

	_, err := Load()
	if err == nil {
		t.Error("Expected error when required keys are missing")
	}
}

func TestLoad_MissingProviderKey(t *testing.T) {
	os.Setenv("API_SECRET", "test-secret")
	os.Setenv("TWILIO_ACCOUNT_SID", "ACxxxx")
	os.Setenv("TWILIO_AUTH_TOKEN", "test-token")
	os.Unsetenv("OPENAI_API_KEY")
	os.Unsetenv("ELEVENLABS_API_KEY")
	defer func() {
		os.Unsetenv("API_SECRET")
		os.Unsetenv("TWILIO_ACCOUNT_SID")
		os.Unsetenv("TWILIO_AUTH_TOKEN")
	}()

	_, err := Load()
	if err == nil {
		t.Error("Expected error when the default provider has no API key")
	}
}

func TestLoad_Defaults(t *testing.T) {
	setRequiredEnv(t)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() failed: %v", err)
	}

	if cfg.Port != "8080" {
		t.Errorf("Expected default Port '8080', got '%s'", cfg.Port)
	}
	if cfg.DefaultProvider != "openai" {
		t.Errorf("Expected default DefaultProvider 'openai', got '%s'", cfg.DefaultProvider)
	}
	if cfg.DefaultVoice != "sage" {
		t.Errorf("Expected default DefaultVoice 'sage', got '%s'", cfg.DefaultVoice)
	}
	if cfg.MaxConcurrentCalls != 10 {
		t.Errorf("Expected default MaxConcurrentCalls 10, got %d", cfg.MaxConcurrentCalls)
	}
	if cfg.MaxConcurrentOutgoingCalls != 5 {
		t.Errorf("Expected default MaxConcurrentOutgoingCalls 5, got %d", cfg.MaxConcurrentOutgoingCalls)
	}
	if cfg.MaxConcurrentIncomingCalls != 5 {
		t.Errorf("Expected default MaxConcurrentIncomingCalls 5, got %d", cfg.MaxConcurrentIncomingCalls)
	}
	if cfg.MaxOutgoingCallDuration != 600 {
		t.Errorf("Expected default MaxOutgoingCallDuration 600, got %d", cfg.MaxOutgoingCallDuration)
	}
	if cfg.MaxIncomingCallDuration != 1800 {
		t.Errorf("Expected default MaxIncomingCallDuration 1800, got %d", cfg.MaxIncomingCallDuration)
	}
	if cfg.GoodbyeGraceSeconds != 2 {
		t.Errorf("Expected default GoodbyeGraceSeconds 2, got %d", cfg.GoodbyeGraceSeconds)
	}
	if cfg.FinalizeGraceSeconds != 5 {
		t.Errorf("Expected default FinalizeGraceSeconds 5, got %d", cfg.FinalizeGraceSeconds)
	}
}

func TestLoadFromEnv(t *testing.T) {
	setRequiredEnv(t)

	cfg, err := LoadFromEnv()
	if err != nil {
		t.Fatalf("LoadFromEnv() failed: %v", err)
	}

	if cfg.APISecret != "test-secret" {
		t.Errorf("Expected APISecret 'test-secret', got '%s'", cfg.APISecret)
	}
}

func TestGetEnv(t *testing.T) {
	os.Setenv("TEST_KEY", "test-value")
	defer os.Unsetenv("TEST_KEY")

	value := GetEnv("TEST_KEY", "default")
	if value != "test-value" {
		t.Errorf("Expected 'test-value', got '%s'", value)
	}

	value = GetEnv("NON_EXISTENT_KEY", "default")
	if value != "default" {
		t.Errorf("Expected 'default', got '%s'", value)
	}
}

func TestConfig_ResilienceDefaults(t *testing.T) {
	setRequiredEnv(t)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() failed: %v", err)
	}

	if cfg.CircuitBreakerMaxFailures != 5 {
		t.Errorf("Expected default CircuitBreakerMaxFailures 5, got %d", cfg.CircuitBreakerMaxFailures)
	}
	if cfg.CircuitBreakerResetTimeout != 30 {
		t.Errorf("Expected default CircuitBreakerResetTimeout 30, got %d", cfg.CircuitBreakerResetTimeout)
	}
	if cfg.RetryMaxAttempts != 3 {
		t.Errorf("Expected default RetryMaxAttempts 3, got %d", cfg.RetryMaxAttempts)
	}
	if cfg.RetryInitialBackoff != 100 {
		t.Errorf("Expected default RetryInitialBackoff 100, got %d", cfg.RetryInitialBackoff)
	}
	if cfg.ReconnectMaxAttempts != 5 {
		t.Errorf("Expected default ReconnectMaxAttempts 5, got %d", cfg.ReconnectMaxAttempts)
	}
	if cfg.ReconnectBackoff != 1000 {
		t.Errorf("Expected default ReconnectBackoff 1000, got %d", cfg.ReconnectBackoff)
	}
}

func TestConfig_ObservabilityDefaults(t *testing.T) {
	setRequiredEnv(t)
	os.Unsetenv("LOG_LEVEL")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() failed: %v", err)
	}

	if cfg.LogLevel != "info" {
		t.Errorf("Expected default LogLevel 'info', got '%s'", cfg.LogLevel)
	}
	if cfg.LogPretty {
		t.Error("Expected default LogPretty false, got true")
	}
	if !cfg.MetricsEnabled {
		t.Error("Expected default MetricsEnabled true, got false")
	}
}
