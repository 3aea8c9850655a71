// Command voicebridge runs the voice bridge daemon: the HTTP/WebSocket
// server that bridges Twilio Media Streams calls to a realtime LLM
// provider, plus a small CLI for operating it from outside the process.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/agentplexus/voicebridge/internal/carrier"
	"github.com/agentplexus/voicebridge/internal/config"
	"github.com/agentplexus/voicebridge/internal/controlplane"
	"github.com/agentplexus/voicebridge/internal/eventbus"
	"github.com/agentplexus/voicebridge/internal/observability"
	"github.com/agentplexus/voicebridge/internal/persistence"
	"github.com/agentplexus/voicebridge/internal/persistence/sqlite"
	"github.com/agentplexus/voicebridge/internal/provider"
	"github.com/agentplexus/voicebridge/internal/provider/elevenlabs"
	"github.com/agentplexus/voicebridge/internal/provider/openai"
	"github.com/agentplexus/voicebridge/internal/session"
	"github.com/agentplexus/voicebridge/internal/sessionmanager"
)

func main() {
	root := &cobra.Command{
		Use:   "voicebridge",
		Short: "Bridges Twilio Media Streams calls to a realtime LLM provider",
	}
	root.AddCommand(serveCmd(), emergencyShutdownCmd())

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the voice bridge HTTP/WebSocket server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe()
		},
	}
}

// emergencyShutdownCmd hits a running instance's control plane rather than
// acting on local state: the admission governor it needs to drain lives
// in that process's memory, not on disk.
func emergencyShutdownCmd() *cobra.Command {
	var controlPlaneURL, apiSecret string
	cmd := &cobra.Command{
		Use:   "emergency-shutdown",
		Short: "Terminate every active call on a running voicebridge instance",
		RunE: func(cmd *cobra.Command, args []string) error {
			req, err := http.NewRequest(http.MethodPost, controlPlaneURL+"/emergency-shutdown?secret="+apiSecret, nil)
			if err != nil {
				return err
			}
			resp, err := http.DefaultClient.Do(req)
			if err != nil {
				return fmt.Errorf("emergency shutdown request failed: %w", err)
			}
			defer resp.Body.Close()
			fmt.Printf("emergency shutdown requested: status %s\n", resp.Status)
			return nil
		},
	}
	cmd.Flags().StringVar(&controlPlaneURL, "url", "http://localhost:8080", "base URL of the running voicebridge instance")
	cmd.Flags().StringVar(&apiSecret, "secret", "", "control plane API secret")
	return cmd
}

func runServe() error {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	observability.InitLogger(cfg.LogLevel, cfg.LogPretty)
	logger := observability.GetLogger()

	logger.Info().
		Str("port", cfg.Port).
		Str("default_provider", cfg.DefaultProvider).
		Msg("voicebridge starting")

	store, err := sqlite.Open(cfg.DatabasePath)
	if err != nil {
		return fmt.Errorf("opening persistence store: %w", err)
	}
	defer store.Close()

	bus := eventbus.New()

	manager := sessionmanager.New(sessionmanager.Caps{
		MaxConcurrentCalls:         cfg.MaxConcurrentCalls,
		MaxConcurrentOutgoingCalls: cfg.MaxConcurrentOutgoingCalls,
		MaxConcurrentIncomingCalls: cfg.MaxConcurrentIncomingCalls,
	})

	publicURL := cfg.PublicURL
	if publicURL == "" {
		publicURL = "http://localhost:" + cfg.Port
	}
	control := carrier.NewControlClient(cfg.TwilioAccountSID, cfg.TwilioAuthToken, cfg.TwilioPhoneNumber, publicURL)

	providers := provider.NewFactory(
		func() provider.Adapter { return openai.NewClient(cfg.OpenAIAPIKey, cfg.OpenAIRealtimeModel) },
		func() provider.Adapter { return elevenlabs.NewClient(cfg.ElevenLabsAPIKey, cfg.ElevenLabsAgentID) },
	)

	sessionDeps := session.Deps{
		Persistence:         store,
		Providers:           providers,
		Events:              bus,
		Manager:             manager,
		Control:             control,
		DefaultProvider:     cfg.DefaultProvider,
		DefaultVoice:        cfg.DefaultVoice,
		GoodbyeGrace:        time.Duration(cfg.GoodbyeGraceSeconds) * time.Second,
		FinalizeGrace:       time.Duration(cfg.FinalizeGraceSeconds) * time.Second,
		MaxOutgoingDuration: time.Duration(cfg.MaxOutgoingCallDuration) * time.Second,
		MaxIncomingDuration: time.Duration(cfg.MaxIncomingCallDuration) * time.Second,
		AudioBufferSize:     cfg.AudioBufferSize,
	}

	mux := http.NewServeMux()

	mux.HandleFunc("/streams/twilio", func(w http.ResponseWriter, r *http.Request) {
		stream, err := carrier.Upgrade(w, r)
		if err != nil {
			logger.Warn().Err(err).Msg("media stream upgrade failed")
			return
		}
		sess := session.New(stream, sessionDeps)
		go sess.Run(context.Background())
	})

	mux.HandleFunc("/twiml/stream", carrier.StreamTwiMLHandler(wsURL(publicURL)))
	mux.HandleFunc("/twiml/hold", carrier.HoldTwiMLHandler(publicURL+"/hold-audio"))

	mux.Handle("/", controlplane.Router(controlplane.Deps{
		Manager:         manager,
		Persistence:     store,
		Control:         control,
		Events:          bus,
		APISecret:       cfg.APISecret,
		DefaultProvider: cfg.DefaultProvider,
		DefaultVoice:    cfg.DefaultVoice,
	}))

	mux.HandleFunc("/health", observability.HealthCheckHandler())

	carrierCheck := func(ctx context.Context) (bool, error) {
		return cfg.TwilioAccountSID != "" && cfg.TwilioAuthToken != "", nil
	}
	providerCheck := func(ctx context.Context) (bool, error) {
		_, err := providers(cfg.DefaultProvider)
		return err == nil, err
	}
	persistenceCheck := func(ctx context.Context) (bool, error) {
		_, err := store.GetCall(ctx, "__readiness_probe__")
		if err != nil && err != persistence.ErrNotFound {
			return false, err
		}
		return true, nil
	}
	mux.HandleFunc("/ready", observability.ReadinessHandler(carrierCheck, providerCheck, persistenceCheck))

	if cfg.MetricsEnabled {
		mux.Handle("/metrics", promhttp.Handler())
	}

	server := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      mux,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		logger.Info().Str("addr", server.Addr).Msg("server listening")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal().Err(err).Msg("server failed to start")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info().Msg("shutting down")

	report := manager.EmergencyShutdown()
	logger.Info().Int("terminated", report.TerminatedCount).Int("failed", report.FailedCount).Msg("active calls drained")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		return fmt.Errorf("server forced to shutdown: %w", err)
	}

	logger.Info().Msg("server exited gracefully")
	return nil
}

func wsURL(publicURL string) string {
	if len(publicURL) >= 5 && publicURL[:5] == "https" {
		return "wss" + publicURL[5:]
	}
	if len(publicURL) >= 4 && publicURL[:4] == "http" {
		return "ws" + publicURL[4:]
	}
	return publicURL
}
