package telemetry

import (
	"io"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/common/expfmt"
)

// Metrics holds the counters recorded while serving tool calls.
type Metrics struct {
	registry *prometheus.Registry

	toolCalls   *prometheus.CounterVec
	resolutions *prometheus.CounterVec
	upstream    *prometheus.CounterVec
}

var (
	defaultOnce    sync.Once
	defaultMetrics *Metrics
)

// New registers a fresh set of counters on their own registry.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		toolCalls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "lendtools_tool_calls_total",
			Help: "Tool invocations by tool and outcome.",
		}, []string{"tool", "outcome"}),
		resolutions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "lendtools_resolution_attempts_total",
			Help: "Resolution strategy attempts by kind, strategy and outcome.",
		}, []string{"kind", "strategy", "outcome"}),
		upstream: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "lendtools_upstream_requests_total",
			Help: "Upstream fetches by source and outcome.",
		}, []string{"source", "outcome"}),
	}
	m.registry.MustRegister(m.toolCalls, m.resolutions, m.upstream)
	return m
}

// Default returns the process-wide metrics.
func Default() *Metrics {
	defaultOnce.Do(func() {
		defaultMetrics = New()
	})
	return defaultMetrics
}

// OrDefault returns m, or the process-wide metrics when m is nil.
func OrDefault(m *Metrics) *Metrics {
	if m != nil {
		return m
	}
	return Default()
}

func (m *Metrics) ToolCall(tool, outcome string) {
	m.toolCalls.WithLabelValues(tool, outcome).Inc()
}

func (m *Metrics) Resolution(kind, strategy, outcome string) {
	m.resolutions.WithLabelValues(kind, strategy, outcome).Inc()
}

func (m *Metrics) Upstream(source, outcome string) {
	m.upstream.WithLabelValues(source, outcome).Inc()
}

func (m *Metrics) ToolCallsVec() *prometheus.CounterVec   { return m.toolCalls }
func (m *Metrics) ResolutionsVec() *prometheus.CounterVec { return m.resolutions }
func (m *Metrics) UpstreamVec() *prometheus.CounterVec    { return m.upstream }

// Registry exposes the underlying registry for gathering.
func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

// WriteText dumps every gathered family in the prometheus text format.
func (m *Metrics) WriteText(w io.Writer) error {
	families, err := m.registry.Gather()
	if err != nil {
		return err
	}
	for _, family := range families {
		if _, err := expfmt.MetricFamilyToText(w, family); err != nil {
			return err
		}
	}
	return nil
}
