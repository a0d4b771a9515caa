package tui_test

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/mickamy/xprofile/internal/analyzer"
	"github.com/mickamy/xprofile/internal/model"
	"github.com/mickamy/xprofile/internal/render/tui"
	"github.com/mickamy/xprofile/test"
)

func TestRenderSampleTUI(t *testing.T) {
	analysis := test.LoadSampleAnalysis(t, "tpch_join.profile.txt")

	var buf bytes.Buffer
	err := tui.Render(&buf, analysis, tui.Options{ShowInsights: true})
	require.NoError(t, err)

	output := buf.String()
	require.Contains(t, output, "Query 8a1f3c2d9e4b4c11-a0b1c2d3e4f50617")
	require.Contains(t, output, "Nodes 15 | Hotspots 4 | Score 45 (poor)")
	require.Contains(t, output, "Insights:\n  - 🔥 Hot spot: OLAP_SCAN_OPERATOR orders #2")
	require.Contains(t, output, "OLAP_SCAN_OPERATOR orders #2 | self ")
	require.Contains(t, output, "mem 1.4 GiB [critical]")
	require.Contains(t, output, analysis.Conclusion)
	require.NotContains(t, output, "(see above)")
	require.NotContains(t, output, "\033[")
}

func TestRenderMaxDepth(t *testing.T) {
	analysis := test.LoadSampleAnalysis(t, "tpch_join.profile.txt")

	var buf bytes.Buffer
	require.NoError(t, tui.Render(&buf, analysis, tui.Options{MaxDepth: 2}))

	output := buf.String()
	require.Contains(t, output, "`-- ... (12 more nodes)")
	require.NotContains(t, output, "OLAP_SCAN_OPERATOR")
	require.NotContains(t, output, "Insights:")
}

func TestRenderSharedChildren(t *testing.T) {
	pct := 50.0
	ns := int64(2_000_000)
	profile := &model.Profile{
		Summary: model.ProfileSummary{QueryID: "shared", State: "OK", TotalTimeMs: 4},
		ExecutionTree: &model.ExecutionTree{
			Nodes: []model.ExecutionTreeNode{
				{ID: "r", OperatorName: "RESULT_SINK_OPERATOR", Severity: model.SeverityNone, Children: []string{"a", "b"}},
				{ID: "a", OperatorName: "UNION_OPERATOR", Severity: model.SeverityNone, Children: []string{"c"}},
				{ID: "b", OperatorName: "SORT_OPERATOR", Severity: model.SeverityNone, Children: []string{"c", "r"}},
				{
					ID: "c", OperatorName: "EXCHANGE_OPERATOR", Severity: model.SeverityCritical,
					TimePercentage: &pct, Metrics: model.OperatorMetrics{ExecTimeNs: &ns},
				},
			},
			Anomalies: []model.Anomaly{{NodeID: "c", Parents: []string{"a", "b"}}},
		},
	}
	profile.ExecutionTree.Root = profile.ExecutionTree.Nodes[0]
	analysis, err := analyzer.Analyze(profile)
	require.NoError(t, err)

	var buf bytes.Buffer
	require.NoError(t, tui.Render(&buf, analysis, tui.Options{BarWidth: 10}))

	lines := strings.Split(buf.String(), "\n")
	require.Contains(t, lines, "|-- UNION_OPERATOR | self 0.00ms |   0.0% | ----------")
	require.Contains(t, lines, "|   `-- EXCHANGE_OPERATOR | self 2.00ms |  50.0% | #####----- [critical]")
	require.Contains(t, lines, "`-- SORT_OPERATOR | self 0.00ms |   0.0% | ----------")
	require.Contains(t, lines, "    |-- EXCHANGE_OPERATOR (see above)")
	require.Contains(t, lines, "    `-- RESULT_SINK_OPERATOR (see above)")
}

func TestRenderColor(t *testing.T) {
	analysis := test.LoadSampleAnalysis(t, "tpch_join.profile.txt")

	var buf bytes.Buffer
	require.NoError(t, tui.Render(&buf, analysis, tui.Options{EnableColor: true}))
	require.Contains(t, buf.String(), "\033[31m")
	require.Contains(t, buf.String(), "\033[36m")
}

func TestRenderRejectsEmptyAnalysis(t *testing.T) {
	var buf bytes.Buffer
	require.Error(t, tui.Render(&buf, nil, tui.Options{}))
	require.Error(t, tui.Render(nil, &analyzer.ProfileAnalysis{}, tui.Options{}))
}
