package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/zap"

	"github.com/voiceagent/runtime/types"
)

// Collector registers and records the Prometheus series a voice agent
// worker exposes: job lifecycle, session outcomes, per-stage turn
// latency, tool execution, and resilience events (spec.md §4.8).
type Collector struct {
	jobsDispatchedTotal *prometheus.CounterVec
	jobOutcomesTotal    *prometheus.CounterVec

	sessionsActive    prometheus.Gauge
	sessionDuration   prometheus.Histogram
	sessionTurnCount  prometheus.Histogram

	turnLatencyTotal     prometheus.Histogram
	turnLatencyToFirstTok prometheus.Histogram
	turnLatencyToFirstByte prometheus.Histogram
	turnsInterruptedTotal prometheus.Counter
	turnErrorsTotal       *prometheus.CounterVec

	toolExecutionsTotal    *prometheus.CounterVec
	toolExecutionDuration  *prometheus.HistogramVec

	providerErrorsTotal     *prometheus.CounterVec
	circuitBreakerTripsTotal *prometheus.CounterVec

	events chan Event
	logger *zap.Logger
}

// NewCollector registers a new metric set under namespace. Call once per
// process; a second call with the same namespace panics (promauto's
// behavior), mirroring Prometheus's own single-registration rule.
func NewCollector(namespace string, logger *zap.Logger) *Collector {
	c := &Collector{
		events: make(chan Event, eventBufferSize),
		logger: logger.With(zap.String("component", "metrics")),
	}

	c.jobsDispatchedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "jobs_dispatched_total",
		Help:      "Total number of jobs accepted from the job server.",
	}, []string{"job_type"})

	c.jobOutcomesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "job_outcomes_total",
		Help:      "Total number of completed jobs by outcome reason.",
	}, []string{"reason"})

	c.sessionsActive = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "sessions_active",
		Help:      "Number of call sessions currently in progress.",
	})

	c.sessionDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "session_duration_seconds",
		Help:      "Session duration from Listening entry to Terminated.",
		Buckets:   []float64{5, 15, 30, 60, 120, 300, 600, 1200},
	})

	c.sessionTurnCount = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "session_turn_count",
		Help:      "Number of conversation turns completed per session.",
		Buckets:   []float64{1, 2, 3, 5, 8, 13, 21, 34},
	})

	c.turnLatencyTotal = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "turn_latency_seconds",
		Help:      "End-to-end turn latency: sttFinalAt to ttsFirstByteAt.",
		Buckets:   []float64{.1, .2, .3, .5, .75, 1, 1.5, 2, 3, 5},
	})

	c.turnLatencyToFirstTok = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "turn_llm_ttft_seconds",
		Help:      "Time from sttFinalAt to the LLM's first streamed token.",
		Buckets:   []float64{.05, .1, .2, .3, .5, .75, 1, 1.5, 2},
	})

	c.turnLatencyToFirstByte = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "turn_tts_ttfb_seconds",
		Help:      "Time from llmFirstTokenAt to the TTS's first audio byte.",
		Buckets:   []float64{.05, .1, .2, .3, .5, .75, 1, 1.5, 2},
	})

	c.turnsInterruptedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "turns_interrupted_total",
		Help:      "Total number of turns cut short by barge-in.",
	})

	c.turnErrorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "turn_errors_total",
		Help:      "Total number of turns that ended in an error, by kind.",
	}, []string{"error_kind"})

	c.toolExecutionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "tool_executions_total",
		Help:      "Total number of tool calls dispatched, by tool name and outcome.",
	}, []string{"tool", "outcome"})

	c.toolExecutionDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "tool_execution_duration_seconds",
		Help:      "Tool call duration by tool name.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"tool"})

	c.providerErrorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "provider_errors_total",
		Help:      "Total number of provider errors, by component and error code.",
	}, []string{"component", "code"})

	c.circuitBreakerTripsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "circuit_breaker_trips_total",
		Help:      "Total number of times a provider circuit breaker opened.",
	}, []string{"component"})

	c.logger.Info("metrics collector initialized", zap.String("namespace", namespace))

	return c
}

func (c *Collector) RecordJobDispatched(jobType string) {
	c.jobsDispatchedTotal.WithLabelValues(jobType).Inc()
}

func (c *Collector) RecordJobOutcome(reason types.JobOutcomeReason) {
	c.jobOutcomesTotal.WithLabelValues(string(reason)).Inc()
}

// SessionStarted increments the active-session gauge and emits a
// sessionStarted event (spec.md §6) for sessionID/jobID.
func (c *Collector) SessionStarted(sessionID, jobID string) {
	c.sessionsActive.Inc()
	c.emit(Event{SessionStarted: &SessionStartedEvent{SessionID: sessionID, JobID: jobID}})
}

// SessionEnded records the session's final duration and turn count,
// decrements the active-session gauge, and emits a sessionEnded event.
func (c *Collector) SessionEnded(outcome types.SessionOutcome) {
	c.sessionsActive.Dec()
	c.sessionDuration.Observe(float64(outcome.DurationMs) / 1000)
	c.sessionTurnCount.Observe(float64(outcome.TurnCount))
	c.emit(Event{SessionEnded: &outcome})
}

// RecordTurn records a completed turn's latency breakdown (spec.md §4.8)
// and emits it as an event. Turns that ended via interruption or error
// still contribute to the interrupted/error counters even when their
// latency fields are unset.
func (c *Collector) RecordTurn(t types.TurnRecord) {
	if t.Interrupted {
		c.turnsInterruptedTotal.Inc()
	}
	if t.ErrorKind != "" {
		c.turnErrorsTotal.WithLabelValues(t.ErrorKind).Inc()
	}
	if t.STTFinalAt != nil && t.TTSFirstByteAt != nil {
		c.turnLatencyTotal.Observe(t.TTSFirstByteAt.Sub(*t.STTFinalAt).Seconds())
	}
	if t.STTFinalAt != nil && t.LLMFirstTokenAt != nil {
		c.turnLatencyToFirstTok.Observe(t.LLMFirstTokenAt.Sub(*t.STTFinalAt).Seconds())
	}
	if t.LLMFirstTokenAt != nil && t.TTSFirstByteAt != nil {
		c.turnLatencyToFirstByte.Observe(t.TTSFirstByteAt.Sub(*t.LLMFirstTokenAt).Seconds())
	}
	c.emit(Event{Turn: &t})
}

func (c *Collector) RecordToolExecution(tool, outcome string, duration time.Duration) {
	c.toolExecutionsTotal.WithLabelValues(tool, outcome).Inc()
	c.toolExecutionDuration.WithLabelValues(tool).Observe(duration.Seconds())
}

func (c *Collector) RecordProviderError(component string, code types.ErrorCode) {
	c.providerErrorsTotal.WithLabelValues(component, string(code)).Inc()
}

func (c *Collector) RecordCircuitBreakerTrip(component string) {
	c.circuitBreakerTripsTotal.WithLabelValues(component).Inc()
}
