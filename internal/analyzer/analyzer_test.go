package analyzer_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/mickamy/xprofile/internal/analyzer"
	"github.com/mickamy/xprofile/internal/config"
	"github.com/mickamy/xprofile/internal/model"
	"github.com/mickamy/xprofile/test"
)

func TestAnalyzeSample(t *testing.T) {
	analysis := test.LoadSampleAnalysis(t, "tpch_join.profile.txt")

	require.Equal(t, 15, analysis.NodeCount)
	require.Equal(t, "RESULT_SINK_OPERATOR", analysis.Root.OperatorName)
	require.InDelta(t, 6512.0, analysis.TotalTimeMs, 1e-9)
	require.InDelta(t, 3996.426466, analysis.OperatorTimeMs, 1e-6)

	require.Len(t, analysis.Hotspots, 4)
	first := analysis.Hotspots[0]
	require.Equal(t, model.SeverityCritical, first.Severity)
	require.Equal(t, "OLAP_SCAN_OPERATOR", first.OperatorName)
	require.Equal(t, "Fragment 1 > Pipeline 2 > OLAP_SCAN_OPERATOR (Plan Node 2)", first.NodePath)
	require.Equal(t, "OLAP_SCAN_OPERATOR operator consuming 52.7% of total execution time", first.Description)
	require.Equal(t, "Critical impact on query performance. Scan operation is the primary bottleneck.", first.Impact)

	severities := make([]model.Severity, 0, len(analysis.Hotspots))
	for _, h := range analysis.Hotspots {
		severities = append(severities, h.Severity)
	}
	require.Equal(t, []model.Severity{
		model.SeverityCritical,
		model.SeverityMedium,
		model.SeverityLow,
		model.SeverityLow,
	}, severities)
	require.Equal(t, "HASH_JOIN_OPERATOR", analysis.Hotspots[1].OperatorName)
	require.Equal(t, "Join operation may be processing large datasets or using suboptimal join strategy.", analysis.Hotspots[1].Impact)
	require.Equal(t, "AGGREGATION_SINK_OPERATOR", analysis.Hotspots[2].OperatorName, "equal ranks keep node order")

	require.Len(t, analysis.TopConsumers, 2)
	require.Equal(t, "Fragment 1-Pipeline 2-id2", analysis.TopConsumers[0].ID)
	require.Equal(t, "Fragment 1-Pipeline 1-id5", analysis.TopConsumers[1].ID)

	require.Equal(t, 45, analysis.Score)
	require.Equal(t, "poor", analysis.ScoreCategory)
	require.Equal(t,
		"Query completed in 6.51s with 1 critical performance bottleneck(s) and 4 total issue(s) detected. Immediate attention recommended.",
		analysis.Conclusion,
	)
}

func TestAnalyzeChildren(t *testing.T) {
	analysis := test.LoadSampleAnalysis(t, "tpch_join.profile.txt")

	join, ok := analysis.Node("Fragment 1-Pipeline 1-id5")
	require.True(t, ok)
	children := analysis.Children(join)
	require.Len(t, children, 2)
	require.Equal(t, "LOCAL_EXCHANGE_OPERATOR", children[0].OperatorName)
	require.Equal(t, "HASH_JOIN_SINK_OPERATOR", children[1].OperatorName)

	_, ok = analysis.Node("missing")
	require.False(t, ok)
	require.Nil(t, analysis.Children(nil))
}

func TestAnalyzeUsesConfigThresholds(t *testing.T) {
	t.Cleanup(func() { config.Use(config.Default()) })
	cfg := config.Default()
	cfg.Analysis.HighPercent = 25
	cfg.Analysis.LowPercent = 10
	config.Use(cfg)

	analysis := test.LoadSampleAnalysis(t, "tpch_join.profile.txt")
	require.Len(t, analysis.Hotspots, 4, "parser severities still mark nodes below the configured floor")
	require.Equal(t, model.SeverityHigh, analysis.Hotspots[1].Severity)
	require.Equal(t, 100-30-20-5-5-5, analysis.Score)
	require.Equal(t, "poor", analysis.ScoreCategory)
	require.Contains(t, analysis.Conclusion, "1 critical performance bottleneck(s)")
}

func TestAnalyzeNoHotspots(t *testing.T) {
	profile := &model.Profile{
		Summary: model.ProfileSummary{QueryID: "idle", TotalTimeMs: 12},
		ExecutionTree: &model.ExecutionTree{
			Root: model.ExecutionTreeNode{ID: "root", OperatorName: "UNKNOWN", NodeType: model.NodeUnknown, Severity: model.SeverityNone},
		},
	}
	analysis, err := analyzer.Analyze(profile)
	require.NoError(t, err)
	require.Empty(t, analysis.Hotspots)
	require.Equal(t, 95, analysis.Score)
	require.Equal(t, "excellent", analysis.ScoreCategory)
	require.Equal(t, "Query completed in 12.00ms with no significant performance issues detected.", analysis.Conclusion)
	require.Equal(t, "root", analysis.Root.ID)
}

func TestAnalyzeMissingTree(t *testing.T) {
	_, err := analyzer.Analyze(nil)
	require.Error(t, err)
	_, err = analyzer.Analyze(&model.Profile{})
	require.Error(t, err)
}

func TestScorePenaltiesAndCategories(t *testing.T) {
	pct := func(v float64) *float64 { return &v }
	ns := func(v int64) *int64 { return &v }
	build := func(totalMs float64, pcts ...float64) *model.Profile {
		tree := &model.ExecutionTree{}
		for i, p := range pcts {
			tree.Nodes = append(tree.Nodes, model.ExecutionTreeNode{
				ID:             string(rune('a' + i)),
				OperatorName:   "SORT_OPERATOR",
				NodeType:       model.NodeSort,
				Severity:       model.SeverityNone,
				TimePercentage: pct(p),
				Metrics:        model.OperatorMetrics{ExecTimeNs: ns(1_000_000)},
			})
		}
		tree.Root = tree.Nodes[0]
		return &model.Profile{Summary: model.ProfileSummary{TotalTimeMs: totalMs}, ExecutionTree: tree}
	}

	cases := []struct {
		name     string
		profile  *model.Profile
		score    int
		category string
		prefix   string
	}{
		{"critical and low", build(100, 6, 94), 65, "fair", "Query completed in 100.00ms with 1 critical"},
		{"high", build(11_000, 35, 1), 70, "good", "Query completed in 11s with 1 high-severity issue(s)"},
		{"low only", build(900, 5, 4), 95, "excellent", "Query completed in 900.00ms with 1 minor performance issue(s)"},
		{"clamped", build(120_000, 60, 55, 50, 49), 0, "critical", "Query completed in 2m 0s with 3 critical"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			analysis, err := analyzer.Analyze(tc.profile)
			require.NoError(t, err)
			require.Equal(t, tc.score, analysis.Score)
			require.Equal(t, tc.category, analysis.ScoreCategory)
			require.Contains(t, analysis.Conclusion, tc.prefix)
		})
	}
}

func TestFormatMs(t *testing.T) {
	require.Equal(t, "850.20ms", analyzer.FormatMs(850.2))
	require.Equal(t, "6.51s", analyzer.FormatMs(6512))
	require.Equal(t, "2m 5s", analyzer.FormatMs(125_000))
}
