package observability

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Session metrics
	activeSessions = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "voicebridge_active_sessions",
		Help: "Number of active call sessions",
	})

	totalCalls = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "voicebridge_calls_total",
		Help: "Total number of calls handled",
	}, []string{"direction"}) // direction: "inbound" or "outbound"

	callDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "voicebridge_call_duration_seconds",
		Help:    "Duration of phone calls in seconds",
		Buckets: []float64{1, 5, 10, 30, 60, 120, 300, 600, 1200, 1800},
	})

	callsFinalized = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "voicebridge_calls_finalized_total",
		Help: "Total number of calls finalized, by terminal status",
	}, []string{"status"}) // status: "completed" or "failed"

	// Barge-in / conversational dynamics metrics
	bargeInsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "voicebridge_barge_ins_total",
		Help: "Total number of caller barge-ins (speech-started interruptions) handled",
	})

	goodbyesDetected = promauto.NewCounter(prometheus.CounterOpts{
		Name: "voicebridge_goodbyes_detected_total",
		Help: "Total number of goodbye phrases detected in user or assistant transcripts",
	})

	// Hold/resume metrics
	holdsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "voicebridge_holds_total",
		Help: "Total number of calls placed on hold",
	})

	resumesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "voicebridge_resumes_total",
		Help: "Total number of calls resumed from hold",
	})

	contextInjectionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "voicebridge_context_injections_total",
		Help: "Total number of operator context injections",
	}, []string{"auto_resumed"}) // "true" or "false"

	// Admission control metrics
	admissionRejectionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "voicebridge_admission_rejections_total",
		Help: "Total number of calls rejected at admission due to capacity",
	}, []string{"direction"})

	// Provider metrics
	providerConnectsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "voicebridge_provider_connects_total",
		Help: "Total number of provider realtime connections opened",
	}, []string{"provider", "status"})

	providerLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "voicebridge_provider_ready_latency_seconds",
		Help:    "Latency from provider connect to onReady in seconds",
		Buckets: []float64{0.1, 0.25, 0.5, 1.0, 2.0, 5.0},
	}, []string{"provider"})

	// Persistence metrics
	persistenceWritesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "voicebridge_persistence_writes_total",
		Help: "Total number of persistence gateway writes",
	}, []string{"operation", "status"})

	// Error metrics
	errorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "voicebridge_errors_total",
		Help: "Total number of errors",
	}, []string{"type", "component"})

	// Circuit breaker metrics
	circuitBreakerState = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "voicebridge_circuit_breaker_state",
		Help: "Circuit breaker state (0=closed, 1=open, 2=half-open)",
	}, []string{"service"})

	circuitBreakerFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "voicebridge_circuit_breaker_failures_total",
		Help: "Total circuit breaker failures",
	}, []string{"service"})

	// Audio metrics
	audioBytesProcessed = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "voicebridge_audio_bytes_total",
		Help: "Total audio bytes relayed between carrier and provider",
	}, []string{"direction"}) // direction: "outbound" (provider audio sent to the carrier); inbound audio is not counted

	audioBackpressureDropsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "voicebridge_audio_backpressure_drops_total",
		Help: "Total outbound audio bytes dropped because the pacing buffer was full",
	})
)

// CallMetrics tracks metrics scoped to a single call session's lifetime.
type CallMetrics struct {
	callID            string
	startTime         time.Time
	providerConnectAt time.Time
	mu                sync.Mutex
}

// NewCallMetrics creates a new metrics tracker for a call.
func NewCallMetrics(callID string) *CallMetrics {
	return &CallMetrics{
		callID:    callID,
		startTime: time.Now(),
	}
}

// RecordCallStart records the start of a call.
func (m *CallMetrics) RecordCallStart(direction string) {
	activeSessions.Inc()
	totalCalls.WithLabelValues(direction).Inc()
}

// RecordCallEnd records session teardown and the call's terminal status.
func (m *CallMetrics) RecordCallEnd(status string) {
	activeSessions.Dec()
	duration := time.Since(m.startTime).Seconds()
	callDuration.Observe(duration)
	callsFinalized.WithLabelValues(status).Inc()
}

// RecordProviderConnectStart marks when a provider connection attempt began.
func (m *CallMetrics) RecordProviderConnectStart() {
	m.mu.Lock()
	m.providerConnectAt = time.Now()
	m.mu.Unlock()
}

// RecordProviderReady records provider connect success and onReady latency.
func (m *CallMetrics) RecordProviderReady(provider string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.providerConnectAt.IsZero() {
		providerLatency.WithLabelValues(provider).Observe(time.Since(m.providerConnectAt).Seconds())
	}
	providerConnectsTotal.WithLabelValues(provider, "success").Inc()
}

// RecordProviderConnectError records a failed provider connection attempt.
func (m *CallMetrics) RecordProviderConnectError(provider string) {
	providerConnectsTotal.WithLabelValues(provider, "error").Inc()
}

// RecordBargeIn increments the barge-in counter.
func RecordBargeIn() {
	bargeInsTotal.Inc()
}

// RecordGoodbyeDetected increments the goodbye-phrase-detected counter.
func RecordGoodbyeDetected() {
	goodbyesDetected.Inc()
}

// RecordHold increments the hold counter.
func RecordHold() {
	holdsTotal.Inc()
}

// RecordResume increments the resume counter.
func RecordResume() {
	resumesTotal.Inc()
}

// RecordContextInjection records an operator context injection, noting
// whether it triggered an automatic resume from hold.
func RecordContextInjection(autoResumed bool) {
	label := "false"
	if autoResumed {
		label = "true"
	}
	contextInjectionsTotal.WithLabelValues(label).Inc()
}

// RecordAdmissionRejection increments the admission-rejection counter for a
// call direction that was refused due to capacity limits.
func RecordAdmissionRejection(direction string) {
	admissionRejectionsTotal.WithLabelValues(direction).Inc()
}

// RecordPersistenceWrite records a persistence gateway write outcome.
func RecordPersistenceWrite(operation string, success bool) {
	status := "success"
	if !success {
		status = "error"
	}
	persistenceWritesTotal.WithLabelValues(operation, status).Inc()
}

// RecordError records an error.
func (m *CallMetrics) RecordError(errorType, component string) {
	errorsTotal.WithLabelValues(errorType, component).Inc()
}

// RecordError records an error outside the scope of a single call.
func RecordError(errorType, component string) {
	errorsTotal.WithLabelValues(errorType, component).Inc()
}

// RecordAudioBytes records audio bytes relayed between carrier and provider.
func (m *CallMetrics) RecordAudioBytes(direction string, bytes int64) {
	audioBytesProcessed.WithLabelValues(direction).Add(float64(bytes))
}

// RecordAudioBackpressureDrop records outbound audio bytes dropped because
// the pacing buffer was already full.
func RecordAudioBackpressureDrop(bytes int) {
	audioBackpressureDropsTotal.Add(float64(bytes))
}

// UpdateCircuitBreakerState updates the circuit breaker state metric.
func UpdateCircuitBreakerState(service string, state int) {
	circuitBreakerState.WithLabelValues(service).Set(float64(state))
}

// IncrementCircuitBreakerFailures increments the circuit breaker failure counter.
func IncrementCircuitBreakerFailures(service string) {
	circuitBreakerFailures.WithLabelValues(service).Inc()
}
