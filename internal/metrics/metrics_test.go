package metrics_test

import (
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"

	"github.com/mickamy/xprofile/internal/metrics"
	"github.com/mickamy/xprofile/internal/parser"
	"github.com/mickamy/xprofile/test"
)

func TestMetrics_Observe(t *testing.T) {
	m := metrics.NewMetrics(prometheus.NewRegistry())
	analysis := test.LoadSampleAnalysis(t, "tpch_join.profile.txt")

	m.Observe(analysis, 20*time.Millisecond)
	m.Observe(analysis, 30*time.Millisecond)

	require.Equal(t, float64(2), testutil.ToFloat64(m.ProfilesParsed.WithLabelValues(metrics.StatusOK)))
	require.Equal(t, float64(15), testutil.ToFloat64(m.Nodes))
	require.Equal(t, float64(1), testutil.ToFloat64(m.Hotspots.WithLabelValues("critical")))
	require.Equal(t, float64(0), testutil.ToFloat64(m.Hotspots.WithLabelValues("high")))
	require.Equal(t, float64(1), testutil.ToFloat64(m.Hotspots.WithLabelValues("medium")))
	require.Equal(t, float64(2), testutil.ToFloat64(m.Hotspots.WithLabelValues("low")))
	require.Equal(t, 1, testutil.CollectAndCount(m.ParseDuration))
}

func TestMetrics_ObserveFailure(t *testing.T) {
	m := metrics.NewMetrics(prometheus.NewRegistry())

	_, err := parser.Parse("")
	require.Error(t, err)
	m.ObserveFailure(errors.Wrap(err, "report"))
	m.ObserveFailure(errors.New("disk full"))

	require.Equal(t, float64(2), testutil.ToFloat64(m.ProfilesParsed.WithLabelValues(metrics.StatusFailed)))
	require.Equal(t, float64(1), testutil.ToFloat64(m.ParseFailures.WithLabelValues("invalid_format")))
	require.Equal(t, float64(1), testutil.ToFloat64(m.ParseFailures.WithLabelValues("other")))
}

func TestReason(t *testing.T) {
	require.Equal(t, "missing_field", metrics.Reason(&parser.Error{Kind: parser.KindMissingField}))
	require.Equal(t, "io", metrics.Reason(errors.WithMessage(parser.ErrIO, "read stdin")))
	require.Equal(t, "other", metrics.Reason(errors.New("boom")))
}

func TestMetrics_Registration(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := metrics.NewMetrics(reg)

	m.Observe(test.LoadSampleAnalysis(t, "tpch_join.profile.txt"), time.Millisecond)
	m.ObserveFailure(errors.New("boom"))

	families, err := reg.Gather()
	require.NoError(t, err)

	names := make(map[string]bool)
	for _, mf := range families {
		names[mf.GetName()] = true
	}
	require.Len(t, names, 5)
	require.True(t, names["profiles_parsed_total"])
	require.True(t, names["profile_parse_failures_total"])
	require.True(t, names["profile_parse_duration_seconds"])
	require.True(t, names["profile_nodes"])
	require.True(t, names["profile_hotspots"])
}
