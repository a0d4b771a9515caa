package insight_test

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/mickamy/xprofile/internal/analyzer"
	"github.com/mickamy/xprofile/internal/config"
	"github.com/mickamy/xprofile/internal/insight"
	"github.com/mickamy/xprofile/internal/model"
	"github.com/mickamy/xprofile/test"
)

func TestBuildMessagesSample(t *testing.T) {
	analysis := test.LoadSampleAnalysis(t, "tpch_join.profile.txt")
	msgs := insight.BuildMessages(analysis)
	require.Len(t, msgs, 3)

	hot := msgs[0]
	require.Equal(t, insight.SeverityCritical, hot.Severity)
	require.True(t, strings.HasPrefix(hot.Text, "Hot spot: OLAP_SCAN_OPERATOR orders #2 self "), hot.Text)
	require.Contains(t, hot.Text, "(52.7%)")
	require.Contains(t, hot.Text, "peak memory 1.4 GiB")
	require.Equal(t, "node-fragment-1-pipeline-2-id2", hot.Anchor)

	skew := msgs[1]
	require.Equal(t, insight.SeverityWarning, skew.Severity)
	require.Contains(t, skew.Text, "Skew: OLAP_SCAN_OPERATOR orders #2 slowest instance 4.88s")
	require.Contains(t, skew.Text, "(x2.32)")
	require.Contains(t, skew.Text, "across 8 instances")

	mem := msgs[2]
	require.Equal(t, insight.SeverityWarning, mem.Severity)
	require.Equal(t, "Memory: OLAP_SCAN_OPERATOR orders #2 peaked at 1.4 GiB summed across instances", mem.Text)
}

func TestBuildMessagesRespectsConfig(t *testing.T) {
	t.Cleanup(func() { config.Use(config.Default()) })
	cfg := config.Default()
	cfg.Insights.SkewRatio = 1.25
	cfg.Insights.MaxSkewMessages = 3
	cfg.Insights.MemoryWarningBytes = 4 << 30
	config.Use(cfg)

	analysis := test.LoadSampleAnalysis(t, "tpch_join.profile.txt")
	var skews []insight.Message
	for _, msg := range insight.BuildMessages(analysis) {
		require.False(t, strings.HasPrefix(msg.Text, "Memory:"), "1.4 GiB is below the raised floor")
		if strings.HasPrefix(msg.Text, "Skew:") {
			skews = append(skews, msg)
		}
	}
	require.Len(t, skews, 3)
	require.Contains(t, skews[0].Text, "OLAP_SCAN_OPERATOR orders")
	require.Equal(t, insight.SeverityWarning, skews[0].Severity)
	require.Contains(t, skews[1].Text, "HASH_JOIN_OPERATOR #5")
	require.Contains(t, skews[2].Text, "AGGREGATION_SINK_OPERATOR #7")
}

func TestBuildMessagesAnomaly(t *testing.T) {
	pct := 100.0
	profile := &model.Profile{
		ExecutionTree: &model.ExecutionTree{
			Nodes: []model.ExecutionTreeNode{
				{ID: "F0-P0-id1", OperatorName: "NESTED_LOOP_JOIN_OPERATOR", Severity: model.SeverityNone, Children: []string{"F0-P1-id2"}},
				{ID: "F0-P1-id2", OperatorName: "NESTED_LOOP_JOIN_BUILD_SINK_OPERATOR", Severity: model.SeverityNone, TimePercentage: &pct},
			},
			Anomalies: []model.Anomaly{{NodeID: "F0-P1-id2", Parents: []string{"F0-P0-id1", "F0-P2-id3"}}},
		},
	}
	analysis, err := analyzer.Analyze(profile)
	require.NoError(t, err)

	msgs := insight.BuildMessages(analysis)
	last := msgs[len(msgs)-1]
	require.Equal(t, insight.SeverityInfo, last.Severity)
	require.Equal(t,
		"Graph: 1 node(s) linked under more than one parent; NESTED_LOOP_JOIN_BUILD_SINK_OPERATOR is fed to F0-P0-id1, F0-P2-id3",
		last.Text,
	)
	require.Equal(t, "node-f0-p1-id2", last.Anchor)
}

func TestBuildMessagesNil(t *testing.T) {
	require.Nil(t, insight.BuildMessages(nil))
}

func TestLabels(t *testing.T) {
	planID := 3
	node := &model.ExecutionTreeNode{
		ID:            "Fragment 2-Pipeline 0-id3",
		OperatorName:  "OLAP_SCAN_OPERATOR",
		PlanNodeID:    &planID,
		UniqueMetrics: map[string]string{"table_name": "customer"},
	}
	require.Equal(t, "OLAP_SCAN_OPERATOR customer #3", insight.NodeLabel(node))
	require.Equal(t, "node-fragment-2-pipeline-0-id3", insight.AnchorID(node))

	sink := &model.ExecutionTreeNode{
		ID:            "Fragment 2-Pipeline 0-dest4",
		OperatorName:  "DATA_STREAM_SINK_OPERATOR",
		UniqueMetrics: map[string]string{"dest_id": "4"},
	}
	require.Equal(t, "DATA_STREAM_SINK_OPERATOR -> 4", insight.NodeLabel(sink))

	long := &model.ExecutionTreeNode{OperatorName: strings.Repeat("X", 80)}
	require.Len(t, insight.CompactLabel(long), 60)
	require.Equal(t, "", insight.NodeLabel(nil))

	require.Equal(t, "0 B", insight.HumanizeBytes(0))
	require.Equal(t, "96 MiB", insight.HumanizeBytes(96<<20))
}
