package diff

import (
	"fmt"
	"math"
	"sort"
	"strings"

	jsoniter "github.com/json-iterator/go"
	"github.com/pkg/errors"

	"github.com/mickamy/xprofile/internal/analyzer"
	"github.com/mickamy/xprofile/internal/config"
	"github.com/mickamy/xprofile/internal/insight"
	"github.com/mickamy/xprofile/internal/model"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Options configures the diff sensitivity.
type Options struct {
	MinSelfTimeDeltaMs float64
	MinPercentChange   float64
	MaxItems           int
}

// Report summarises the delta between two profile analyses.
type Report struct {
	Summary      SummaryDiff      `json:"summary"`
	Regressions  []Entry          `json:"regressions"`
	Improvements []Entry          `json:"improvements"`
	Insights     []insightMessage `json:"insights"`
	Options      Options          `json:"-"`
}

// SummaryDiff covers query-level differences.
type SummaryDiff struct {
	BaseQueryID      string  `json:"base_query_id"`
	TargetQueryID    string  `json:"target_query_id"`
	BaseTotalMs      float64 `json:"base_total_ms"`
	TargetTotalMs    float64 `json:"target_total_ms"`
	DeltaTotalMs     float64 `json:"delta_total_ms"`
	PercentTotal     float64 `json:"percent_total"`
	BaseOperatorMs   float64 `json:"base_operator_ms"`
	TargetOperatorMs float64 `json:"target_operator_ms"`
	DeltaOperatorMs  float64 `json:"delta_operator_ms"`
	PercentOperator  float64 `json:"percent_operator"`
	BaseScore        int     `json:"base_score"`
	TargetScore      int     `json:"target_score"`
}

// Entry captures the delta for a set of operators with the same signature.
type Entry struct {
	Signature      string         `json:"signature"`
	BaseSelfMs     float64        `json:"base_self_ms"`
	TargetSelfMs   float64        `json:"target_self_ms"`
	DeltaSelfMs    float64        `json:"delta_self_ms"`
	PercentChange  float64        `json:"percent_change"`
	BaseRows       int64          `json:"base_rows"`
	TargetRows     int64          `json:"target_rows"`
	BaseMemory     int64          `json:"base_memory_bytes"`
	TargetMemory   int64          `json:"target_memory_bytes"`
	DeltaMemory    int64          `json:"delta_memory_bytes"`
	BaseSeverity   model.Severity `json:"base_severity"`
	TargetSeverity model.Severity `json:"target_severity"`
}

type insightMessage struct {
	Severity string `json:"severity"`
	Icon     string `json:"icon"`
	Message  string `json:"message"`
}

// Compare builds a diff report for two profile analyses.
func Compare(base, target *analyzer.ProfileAnalysis, opts Options) (*Report, error) {
	if base == nil || base.Root == nil {
		return nil, errors.New("diff: base analysis missing")
	}
	if target == nil || target.Root == nil {
		return nil, errors.New("diff: target analysis missing")
	}

	opts = applyDefaults(opts)

	baseAgg := aggregate(base)
	targetAgg := aggregate(target)

	var regressions, improvements []Entry
	for _, sig := range unionKeys(baseAgg, targetAgg) {
		entry := buildEntry(sig, baseAgg[sig], targetAgg[sig])
		if passesRegression(entry, opts) {
			regressions = append(regressions, entry)
		} else if passesImprovement(entry, opts) {
			improvements = append(improvements, entry)
		}
	}

	sort.SliceStable(regressions, func(i, j int) bool {
		return regressions[i].DeltaSelfMs > regressions[j].DeltaSelfMs
	})
	sort.SliceStable(improvements, func(i, j int) bool {
		return improvements[i].DeltaSelfMs < improvements[j].DeltaSelfMs
	})

	if opts.MaxItems > 0 {
		if len(regressions) > opts.MaxItems {
			regressions = regressions[:opts.MaxItems]
		}
		if len(improvements) > opts.MaxItems {
			improvements = improvements[:opts.MaxItems]
		}
	}

	report := &Report{
		Summary: SummaryDiff{
			BaseQueryID:      base.Summary.QueryID,
			TargetQueryID:    target.Summary.QueryID,
			BaseTotalMs:      base.TotalTimeMs,
			TargetTotalMs:    target.TotalTimeMs,
			DeltaTotalMs:     target.TotalTimeMs - base.TotalTimeMs,
			PercentTotal:     percentChange(base.TotalTimeMs, target.TotalTimeMs),
			BaseOperatorMs:   base.OperatorTimeMs,
			TargetOperatorMs: target.OperatorTimeMs,
			DeltaOperatorMs:  target.OperatorTimeMs - base.OperatorTimeMs,
			PercentOperator:  percentChange(base.OperatorTimeMs, target.OperatorTimeMs),
			BaseScore:        base.Score,
			TargetScore:      target.Score,
		},
		Regressions:  regressions,
		Improvements: improvements,
		Options:      opts,
	}
	report.Insights = synthesizeInsights(report, baseAgg, targetAgg)
	return report, nil
}

// Markdown renders the report as a Markdown document.
func (r *Report) Markdown() string {
	var b strings.Builder
	b.WriteString("# xprofile diff\n\n")
	b.WriteString("## Summary\n")
	if r.Summary.BaseQueryID != "" || r.Summary.TargetQueryID != "" {
		_, _ = fmt.Fprintf(&b, "- Queries: `%s` → `%s`\n", r.Summary.BaseQueryID, r.Summary.TargetQueryID)
	}
	_, _ = fmt.Fprintf(&b, "- Total: %.3f ms → %.3f ms (%+.3f ms, %+.1f%%)\n",
		r.Summary.BaseTotalMs, r.Summary.TargetTotalMs,
		r.Summary.DeltaTotalMs, r.Summary.PercentTotal)
	_, _ = fmt.Fprintf(&b, "- Operator time: %.3f ms → %.3f ms (%+.3f ms, %+.1f%%)\n",
		r.Summary.BaseOperatorMs, r.Summary.TargetOperatorMs,
		r.Summary.DeltaOperatorMs, r.Summary.PercentOperator)
	_, _ = fmt.Fprintf(&b, "- Score: %d → %d\n\n", r.Summary.BaseScore, r.Summary.TargetScore)

	b.WriteString("### Insights\n")
	if len(r.Insights) == 0 {
		b.WriteString("- No notable profile changes detected\n")
	} else {
		for _, msg := range r.Insights {
			_, _ = fmt.Fprintf(&b, "- %s %s\n", msg.Icon, msg.Message)
		}
	}

	b.WriteString("\n### Regressions\n")
	writeEntries(&b, r.Regressions)
	b.WriteString("\n### Improvements\n")
	writeEntries(&b, r.Improvements)
	return b.String()
}

func writeEntries(b *strings.Builder, entries []Entry) {
	if len(entries) == 0 {
		b.WriteString("- None above threshold\n")
		return
	}
	b.WriteString("| Operator | Base self (ms) | Target self (ms) | Δ self (ms) | Δ % | Rows | Peak memory |\n")
	b.WriteString("|---|---:|---:|---:|---:|---|---|\n")
	for _, entry := range entries {
		_, _ = fmt.Fprintf(b, "| %s | %.2f | %.2f | %+.2f | %+.1f%% | %d → %d | %s → %s |\n",
			entry.Signature,
			entry.BaseSelfMs,
			entry.TargetSelfMs,
			entry.DeltaSelfMs,
			entry.PercentChange,
			entry.BaseRows,
			entry.TargetRows,
			insight.HumanizeBytes(entry.BaseMemory),
			insight.HumanizeBytes(entry.TargetMemory))
	}
}

// JSON marshals the diff report into an indented JSON document.
func (r *Report) JSON() ([]byte, error) {
	if r == nil {
		return nil, errors.New("nil report")
	}
	type alias Report
	out, err := json.MarshalIndent((*alias)(r), "", "  ")
	if err != nil {
		return nil, errors.Wrap(err, "marshal diff report")
	}
	return out, nil
}

func synthesizeInsights(r *Report, baseAgg, targetAgg map[string]aggregated) []insightMessage {
	var insights []insightMessage
	maxItems := 3
	diffCfg := config.Active().Diff

	for i, entry := range r.Regressions {
		if i >= maxItems {
			break
		}
		text := fmt.Sprintf("%s self +%.2f ms (+%.1f%%)", entry.Signature, entry.DeltaSelfMs, entry.PercentChange)
		if entry.DeltaMemory > 0 {
			text += ", peak memory +" + insight.HumanizeBytes(entry.DeltaMemory)
		}
		icon, level := "🔥", "critical"
		switch {
		case entry.DeltaSelfMs < diffCfg.WarningDeltaMs:
			icon, level = "ℹ️", "info"
		case entry.DeltaSelfMs < diffCfg.CriticalDeltaMs:
			icon, level = "⚠️", "warning"
		}
		insights = append(insights, insightMessage{Severity: level, Icon: icon, Message: text})
	}

	for i, entry := range r.Improvements {
		if i >= maxItems {
			break
		}
		text := fmt.Sprintf("%s self %.2f ms (%.1f%%)", entry.Signature, entry.DeltaSelfMs, entry.PercentChange)
		if entry.DeltaMemory < 0 {
			text += ", peak memory -" + insight.HumanizeBytes(-entry.DeltaMemory)
		}
		insights = append(insights, insightMessage{Severity: "improvement", Icon: "✅", Message: text})
	}

	for _, sig := range unionKeys(baseAgg, targetAgg) {
		before, after := baseAgg[sig].Severity, targetAgg[sig].Severity
		if after.Rank() <= before.Rank() || after.Rank() < model.SeverityHigh.Rank() {
			continue
		}
		text := fmt.Sprintf("%s became a %s hotspot (was %s)", sig, after, displaySeverity(before))
		insights = append(insights, insightMessage{Severity: "warning", Icon: "⚠️", Message: text})
	}

	return insights
}

func displaySeverity(sev model.Severity) string {
	if sev == "" {
		return string(model.SeverityNone)
	}
	return string(sev)
}

type aggregated struct {
	SelfMs   float64
	Rows     int64
	Memory   int64
	Severity model.Severity
}

func aggregate(analysis *analyzer.ProfileAnalysis) map[string]aggregated {
	result := map[string]aggregated{}
	for _, node := range analysis.Nodes {
		sig := signature(node)
		entry := result[sig]
		entry.SelfMs += analyzer.ExecTimeMs(node)
		if rows := node.Metrics.RowsProduced; rows != nil {
			entry.Rows += *rows
		}
		if mem := node.Metrics.PeakMemoryBytes; mem != nil {
			entry.Memory += *mem
		}
		if node.Severity.Rank() > entry.Severity.Rank() || entry.Severity == "" {
			entry.Severity = node.Severity
		}
		result[sig] = entry
	}
	return result
}

func signature(node *model.ExecutionTreeNode) string {
	parts := []string{node.OperatorName}
	if table := node.UniqueMetrics["table_name"]; table != "" {
		parts = append(parts, table)
	}
	return strings.Join(parts, " · ")
}

func unionKeys(base, target map[string]aggregated) []string {
	seen := map[string]struct{}{}
	for k := range base {
		seen[k] = struct{}{}
	}
	for k := range target {
		seen[k] = struct{}{}
	}
	all := make([]string, 0, len(seen))
	for k := range seen {
		all = append(all, k)
	}
	sort.Strings(all)
	return all
}

func buildEntry(sig string, base, target aggregated) Entry {
	return Entry{
		Signature:      sig,
		BaseSelfMs:     base.SelfMs,
		TargetSelfMs:   target.SelfMs,
		DeltaSelfMs:    target.SelfMs - base.SelfMs,
		PercentChange:  percentChange(base.SelfMs, target.SelfMs),
		BaseRows:       base.Rows,
		TargetRows:     target.Rows,
		BaseMemory:     base.Memory,
		TargetMemory:   target.Memory,
		DeltaMemory:    target.Memory - base.Memory,
		BaseSeverity:   base.Severity,
		TargetSeverity: target.Severity,
	}
}

func passesRegression(entry Entry, opts Options) bool {
	return entry.DeltaSelfMs >= opts.MinSelfTimeDeltaMs && entry.PercentChange >= opts.MinPercentChange
}

func passesImprovement(entry Entry, opts Options) bool {
	return entry.DeltaSelfMs <= -opts.MinSelfTimeDeltaMs && entry.PercentChange <= -opts.MinPercentChange
}

func percentChange(base, target float64) float64 {
	const eps = 1e-9
	if math.Abs(base) <= eps {
		if math.Abs(target) <= eps {
			return 0
		}
		if target > 0 {
			return 100
		}
		return -100
	}
	return (target - base) / base * 100
}

func applyDefaults(opts Options) Options {
	cfg := config.Active().Diff
	if opts.MinSelfTimeDeltaMs <= 0 {
		opts.MinSelfTimeDeltaMs = cfg.MinSelfDeltaMs
	}
	if opts.MinPercentChange <= 0 {
		opts.MinPercentChange = cfg.MinPercentChange
	}
	if opts.MaxItems <= 0 {
		opts.MaxItems = cfg.MaxItems
	}
	return opts
}
