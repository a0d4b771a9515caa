package diff_test

import (
	"strings"
	"testing"

	jsoniter "github.com/json-iterator/go"
	"github.com/stretchr/testify/require"

	"github.com/mickamy/xprofile/internal/config"
	"github.com/mickamy/xprofile/internal/diff"
	"github.com/mickamy/xprofile/internal/model"
	"github.com/mickamy/xprofile/test"
)

func TestCompareDetectsJoinRegression(t *testing.T) {
	base := test.LoadSampleAnalysis(t, "tpch_join.profile.txt")
	target := test.LoadSampleAnalysis(t, "tpch_join_slow.profile.txt")

	report, err := diff.Compare(base, target, diff.Options{})
	require.NoError(t, err)

	require.Len(t, report.Regressions, 1)
	reg := report.Regressions[0]
	require.Equal(t, "HASH_JOIN_OPERATOR", reg.Signature)
	require.InDelta(t, 1112.0, reg.BaseSelfMs, 1e-6)
	require.InDelta(t, 3005.0, reg.TargetSelfMs, 1e-6)
	require.InDelta(t, 1893.0, reg.DeltaSelfMs, 1e-6)
	require.Equal(t, model.SeverityMedium, reg.BaseSeverity)
	require.Equal(t, model.SeverityCritical, reg.TargetSeverity)
	require.Equal(t, int64(1_500_000), reg.TargetRows)
	require.Empty(t, report.Improvements)

	require.InDelta(t, 1898.0, report.Summary.DeltaTotalMs, 1e-9)
	require.Equal(t, 45, report.Summary.BaseScore)
	require.Equal(t, 35, report.Summary.TargetScore)

	require.Len(t, report.Insights, 2)
	require.Equal(t, "critical", report.Insights[0].Severity)
	require.True(t, strings.HasPrefix(report.Insights[0].Message, "HASH_JOIN_OPERATOR self +1893.00 ms"))
	require.Equal(t, "HASH_JOIN_OPERATOR became a critical hotspot (was medium)", report.Insights[1].Message)
}

func TestCompareImprovementAndMarkdown(t *testing.T) {
	base := test.LoadSampleAnalysis(t, "tpch_join_slow.profile.txt")
	target := test.LoadSampleAnalysis(t, "tpch_join.profile.txt")

	report, err := diff.Compare(base, target, diff.Options{})
	require.NoError(t, err)
	require.Empty(t, report.Regressions)
	require.Len(t, report.Improvements, 1)
	require.Equal(t, "✅", report.Insights[0].Icon)

	md := report.Markdown()
	require.Contains(t, md, "# xprofile diff")
	require.Contains(t, md, "- Queries: `8a1f3c2d9e4b4c11-a0b1c2d3e4f50999` → `8a1f3c2d9e4b4c11-a0b1c2d3e4f50617`")
	require.Contains(t, md, "- Score: 35 → 45")
	require.Contains(t, md, "| HASH_JOIN_OPERATOR | 3005.00 | 1112.00 | -1893.00 |")
	require.Contains(t, md, "### Regressions\n- None above threshold")
}

func TestCompareJSON(t *testing.T) {
	base := test.LoadSampleAnalysis(t, "tpch_join.profile.txt")
	target := test.LoadSampleAnalysis(t, "tpch_join_slow.profile.txt")
	report, err := diff.Compare(base, target, diff.Options{})
	require.NoError(t, err)

	out, err := report.JSON()
	require.NoError(t, err)

	var decoded map[string]any
	require.NoError(t, jsoniter.Unmarshal(out, &decoded))
	require.Contains(t, decoded, "summary")
	require.Len(t, decoded["regressions"], 1)
	require.NotContains(t, decoded, "Options")
}

func TestCompareThresholds(t *testing.T) {
	base := test.LoadSampleAnalysis(t, "tpch_join.profile.txt")
	target := test.LoadSampleAnalysis(t, "tpch_join_slow.profile.txt")

	report, err := diff.Compare(base, target, diff.Options{MinSelfTimeDeltaMs: 5000})
	require.NoError(t, err)
	require.Empty(t, report.Regressions)
	require.Equal(t, 8, report.Options.MaxItems)

	t.Cleanup(func() { config.Use(config.Default()) })
	cfg := config.Default()
	cfg.Diff.CriticalDeltaMs = 10_000
	config.Use(cfg)

	report, err = diff.Compare(base, target, diff.Options{})
	require.NoError(t, err)
	require.Equal(t, "warning", report.Insights[0].Severity)
}

func TestCompareMissingAnalysis(t *testing.T) {
	analysis := test.LoadSampleAnalysis(t, "tpch_join.profile.txt")
	_, err := diff.Compare(nil, analysis, diff.Options{})
	require.Error(t, err)
	_, err = diff.Compare(analysis, nil, diff.Options{})
	require.Error(t, err)
}
