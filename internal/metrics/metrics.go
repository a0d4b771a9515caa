package metrics

import (
	"time"

	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/mickamy/xprofile/internal/analyzer"
	"github.com/mickamy/xprofile/internal/model"
	"github.com/mickamy/xprofile/internal/parser"
)

const (
	StatusOK     = "ok"
	StatusFailed = "failed"
)

var severities = []model.Severity{
	model.SeverityCritical,
	model.SeverityHigh,
	model.SeverityMedium,
	model.SeverityLow,
}

// Metrics holds the Prometheus collectors describing profile processing.
type Metrics struct {
	ProfilesParsed *prometheus.CounterVec
	ParseFailures  *prometheus.CounterVec
	ParseDuration  prometheus.Histogram
	Nodes          prometheus.Gauge
	Hotspots       *prometheus.GaugeVec
}

// NewMetrics creates and registers all metrics with the provided registry.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	parsed := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "profiles_parsed_total",
		Help: "Total profiles processed, by outcome",
	}, []string{"status"})

	failures := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "profile_parse_failures_total",
		Help: "Total profiles rejected, by parser error kind",
	}, []string{"reason"})

	duration := prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "profile_parse_duration_seconds",
		Help:    "Time spent parsing and analyzing a profile",
		Buckets: prometheus.ExponentialBuckets(0.001, 4, 8),
	})

	nodes := prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "profile_nodes",
		Help: "Execution graph nodes in the last analyzed profile",
	})

	hotspots := prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "profile_hotspots",
		Help: "Hotspots in the last analyzed profile, by severity",
	}, []string{"severity"})

	reg.MustRegister(parsed, failures, duration, nodes, hotspots)

	return &Metrics{
		ProfilesParsed: parsed,
		ParseFailures:  failures,
		ParseDuration:  duration,
		Nodes:          nodes,
		Hotspots:       hotspots,
	}
}

// Observe records a successfully analyzed profile.
func (m *Metrics) Observe(analysis *analyzer.ProfileAnalysis, elapsed time.Duration) {
	m.ProfilesParsed.WithLabelValues(StatusOK).Inc()
	m.ParseDuration.Observe(elapsed.Seconds())
	if analysis == nil {
		return
	}
	m.Nodes.Set(float64(analysis.NodeCount))

	counts := make(map[model.Severity]int, len(severities))
	for _, hot := range analysis.Hotspots {
		counts[hot.Severity]++
	}
	for _, sev := range severities {
		m.Hotspots.WithLabelValues(string(sev)).Set(float64(counts[sev]))
	}
}

// ObserveFailure records a profile that could not be parsed or analyzed.
func (m *Metrics) ObserveFailure(err error) {
	m.ProfilesParsed.WithLabelValues(StatusFailed).Inc()
	m.ParseFailures.WithLabelValues(Reason(err)).Inc()
}

// Reason maps an error to the failure label: the parser error kind, or
// "other" for anything else.
func Reason(err error) string {
	var perr *parser.Error
	if errors.As(err, &perr) {
		return perr.Kind.String()
	}
	return "other"
}
