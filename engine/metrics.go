package engine

import (
	"errors"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/hupe1980/researchmesh/core"
)

// Metrics exposes Prometheus collectors that report scheduler activity.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	runs               *prometheus.CounterVec
	runDuration        *prometheus.HistogramVec
	runsActive         prometheus.Gauge
	rounds             *prometheus.CounterVec
	modelCalls         *prometheus.CounterVec
	toolCalls          *prometheus.CounterVec
	malformedDecisions prometheus.Counter
}

var (
	defaultMetricsOnce sync.Once
	sharedMetrics      *Metrics
)

// DefaultMetrics returns the package-level metrics registered with the
// global Prometheus registry. The collectors are created once so that
// building several schedulers does not panic on duplicate registration.
func DefaultMetrics() *Metrics {
	defaultMetricsOnce.Do(func() {
		sharedMetrics = MustNewMetrics(prometheus.DefaultRegisterer)
	})
	return sharedMetrics
}

// MustNewMetrics constructs a Metrics instance using the provided registerer.
// Collectors that are already registered are reused; any other registration
// error panics.
func MustNewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	return &Metrics{
		runs: register(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "researchmesh",
			Subsystem: "scheduler",
			Name:      "runs_total",
			Help:      "Finished runs by final status.",
		}, []string{"status"})),
		runDuration: register(reg, prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "researchmesh",
			Subsystem: "scheduler",
			Name:      "run_duration_seconds",
			Help:      "Wall time of a run by final status.",
			Buckets:   []float64{1, 5, 15, 30, 60, 120, 300, 600},
		}, []string{"status"})),
		runsActive: register(reg, prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "researchmesh",
			Subsystem: "scheduler",
			Name:      "runs_active",
			Help:      "Runs currently executing.",
		})),
		rounds: register(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "researchmesh",
			Subsystem: "scheduler",
			Name:      "rounds_total",
			Help:      "Completed rounds by speaker.",
		}, []string{"speaker"})),
		modelCalls: register(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "researchmesh",
			Subsystem: "scheduler",
			Name:      "model_calls_total",
			Help:      "Model calls by agent and outcome.",
		}, []string{"agent", "outcome"})),
		toolCalls: register(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "researchmesh",
			Subsystem: "scheduler",
			Name:      "tool_calls_total",
			Help:      "Tool requests by tool and result code.",
		}, []string{"tool", "code"})),
		malformedDecisions: register(reg, prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "researchmesh",
			Subsystem: "scheduler",
			Name:      "malformed_decisions_total",
			Help:      "Orchestrator decisions replaced by the fallback speaker.",
		})),
	}
}

func register[T prometheus.Collector](reg prometheus.Registerer, c T) T {
	if err := reg.Register(c); err != nil {
		var already prometheus.AlreadyRegisteredError
		if errors.As(err, &already) {
			if existing, ok := already.ExistingCollector.(T); ok {
				return existing
			}
		}
		panic(err)
	}
	return c
}

func (m *Metrics) runStarted() {
	if m == nil {
		return
	}
	m.runsActive.Inc()
}

func (m *Metrics) runFinished(status core.Status, d time.Duration) {
	if m == nil {
		return
	}
	m.runsActive.Dec()
	m.runs.WithLabelValues(string(status)).Inc()
	m.runDuration.WithLabelValues(string(status)).Observe(d.Seconds())
}

func (m *Metrics) roundCompleted(speaker core.AgentID) {
	if m == nil {
		return
	}
	m.rounds.WithLabelValues(string(speaker)).Inc()
}

func (m *Metrics) modelCall(agent core.AgentID, err error) {
	if m == nil {
		return
	}
	outcome := "success"
	if err != nil {
		outcome = "error"
	}
	m.modelCalls.WithLabelValues(string(agent), outcome).Inc()
}

func (m *Metrics) toolCall(res core.ToolResult) {
	if m == nil {
		return
	}
	code := string(res.ErrorCode)
	if res.Success {
		code = "ok"
	}
	m.toolCalls.WithLabelValues(res.ToolName, code).Inc()
}

func (m *Metrics) malformedDecision() {
	if m == nil {
		return
	}
	m.malformedDecisions.Inc()
}
