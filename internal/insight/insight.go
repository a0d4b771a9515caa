package insight

import (
	"fmt"
	"sort"
	"strings"

	"github.com/dustin/go-humanize"

	"github.com/mickamy/xprofile/internal/analyzer"
	"github.com/mickamy/xprofile/internal/config"
	"github.com/mickamy/xprofile/internal/model"
	"github.com/mickamy/xprofile/internal/parser"
)

// Severity expresses the urgency of an insight message.
type Severity string

const (
	SeverityInfo     Severity = "info"
	SeverityWarning  Severity = "warning"
	SeverityCritical Severity = "critical"
)

// Message represents an actionable observation about a profile.
type Message struct {
	Severity Severity `json:"severity"`
	Text     string   `json:"text"`
	Anchor   string   `json:"anchor,omitempty"`
}

// BuildMessages derives human-readable insight messages for a profile.
func BuildMessages(analysis *analyzer.ProfileAnalysis) []Message {
	if analysis == nil {
		return nil
	}
	var out []Message

	if msg := hotspotMessage(analysis); msg != nil {
		out = append(out, *msg)
	}

	out = append(out, skewMessages(analysis)...)

	if msg := memoryMessage(analysis); msg != nil {
		out = append(out, *msg)
	}

	if msg := anomalyMessage(analysis); msg != nil {
		out = append(out, *msg)
	}

	return out
}

func hotspotMessage(analysis *analyzer.ProfileAnalysis) *Message {
	if len(analysis.Hotspots) == 0 {
		return nil
	}
	hot := analysis.Hotspots[0]
	node := hot.Node
	text := fmt.Sprintf("Hot spot: %s self %s (%.1f%%)", CompactLabel(node), analyzer.FormatMs(analyzer.ExecTimeMs(node)), hot.TimePercentage)
	if mem := node.Metrics.PeakMemoryBytes; mem != nil && *mem > 0 {
		text += ", peak memory " + HumanizeBytes(*mem)
	}
	text += ". " + hot.Impact
	return &Message{Severity: severityForHotspot(hot.Severity), Text: text, Anchor: AnchorID(node)}
}

func severityForHotspot(sev model.Severity) Severity {
	switch sev {
	case model.SeverityCritical:
		return SeverityCritical
	case model.SeverityHigh:
		return SeverityWarning
	default:
		return SeverityInfo
	}
}

type skewCandidate struct {
	node  *model.ExecutionTreeNode
	avgNs int64
	maxNs int64
	ratio float64
}

// skewMessages flags operators whose slowest instance is far behind the
// average one.
func skewMessages(analysis *analyzer.ProfileAnalysis) []Message {
	cfg := config.Active().Insights
	var candidates []skewCandidate
	for _, node := range analysis.Nodes {
		if analyzer.Percent(node) < cfg.SkewMinPercent {
			continue
		}
		raw, ok := counterValue(node.CommonCounters, "ExecTime")
		if !ok {
			continue
		}
		agg := parser.DecodeAggregate(raw)
		if agg.Avg == nil || agg.Max == nil || *agg.Avg <= 0 {
			continue
		}
		ratio := float64(*agg.Max) / float64(*agg.Avg)
		if ratio < cfg.SkewRatio {
			continue
		}
		candidates = append(candidates, skewCandidate{node: node, avgNs: *agg.Avg, maxNs: *agg.Max, ratio: ratio})
	}
	if len(candidates) == 0 {
		return nil
	}
	sort.SliceStable(candidates, func(i, j int) bool {
		return candidates[i].ratio > candidates[j].ratio
	})

	limit := cfg.MaxSkewMessages
	if limit <= 0 || len(candidates) < limit {
		limit = len(candidates)
	}
	msgs := make([]Message, 0, limit)
	for _, c := range candidates[:limit] {
		text := fmt.Sprintf("Skew: %s slowest instance %s vs avg %s (x%.2f)",
			CompactLabel(c.node), analyzer.FormatMs(float64(c.maxNs)/1e6), analyzer.FormatMs(float64(c.avgNs)/1e6), c.ratio)
		if instances := instanceCount(analysis, c.node); instances != "" {
			text += " across " + instances + " instances"
		}
		text += ". Check data distribution or bucketing"
		severity := SeverityWarning
		if c.ratio >= cfg.SkewRatio*2 {
			severity = SeverityCritical
		}
		msgs = append(msgs, Message{Severity: severity, Text: text, Anchor: AnchorID(c.node)})
	}
	return msgs
}

func instanceCount(analysis *analyzer.ProfileAnalysis, node *model.ExecutionTreeNode) string {
	if analysis.Profile == nil {
		return ""
	}
	for _, fragment := range analysis.Profile.Fragments {
		if fragment.ID != node.FragmentID {
			continue
		}
		for _, pipeline := range fragment.Pipelines {
			if pipeline.ID == node.PipelineID {
				return pipeline.Counters["instance_num"]
			}
		}
	}
	return ""
}

func memoryMessage(analysis *analyzer.ProfileAnalysis) *Message {
	cfg := config.Active().Insights
	var candidate *model.ExecutionTreeNode
	var peak int64
	for _, node := range analysis.Nodes {
		mem := node.Metrics.PeakMemoryBytes
		if mem == nil || *mem <= peak {
			continue
		}
		candidate, peak = node, *mem
	}
	if candidate == nil || peak < cfg.MemoryWarningBytes {
		return nil
	}
	severity := SeverityWarning
	if peak >= cfg.MemoryCriticalBytes {
		severity = SeverityCritical
	}
	text := fmt.Sprintf("Memory: %s peaked at %s summed across instances", CompactLabel(candidate), HumanizeBytes(peak))
	return &Message{Severity: severity, Text: text, Anchor: AnchorID(candidate)}
}

func anomalyMessage(analysis *analyzer.ProfileAnalysis) *Message {
	if len(analysis.Anomalies) == 0 {
		return nil
	}
	first := analysis.Anomalies[0]
	label := first.NodeID
	anchor := ""
	if node, ok := analysis.Node(first.NodeID); ok {
		label = CompactLabel(node)
		anchor = AnchorID(node)
	}
	text := fmt.Sprintf("Graph: %d node(s) linked under more than one parent; %s is fed to %s",
		len(analysis.Anomalies), label, strings.Join(first.Parents, ", "))
	return &Message{Severity: SeverityInfo, Text: text, Anchor: anchor}
}

func counterValue(items []model.MetricItem, key string) (string, bool) {
	for _, item := range items {
		if item.Key == key {
			return item.Value, true
		}
	}
	return "", false
}

// NodeLabel builds a descriptive label for an execution node.
func NodeLabel(node *model.ExecutionTreeNode) string {
	if node == nil {
		return ""
	}
	label := node.OperatorName
	if table := node.UniqueMetrics["table_name"]; table != "" {
		label = fmt.Sprintf("%s %s", label, table)
	}
	if kind := node.UniqueMetrics["exchange_type"]; kind != "" {
		label = fmt.Sprintf("%s (%s)", label, kind)
	}
	if node.PlanNodeID != nil {
		label = fmt.Sprintf("%s #%d", label, *node.PlanNodeID)
	} else if dest := node.UniqueMetrics["dest_id"]; dest != "" {
		label = fmt.Sprintf("%s -> %s", label, dest)
	}
	return label
}

// CompactLabel shortens long labels for inline summaries.
func CompactLabel(node *model.ExecutionTreeNode) string {
	label := NodeLabel(node)
	if len(label) > 60 {
		return label[:57] + "..."
	}
	return label
}

// HumanizeBytes renders a byte count with binary units.
func HumanizeBytes(n int64) string {
	if n <= 0 {
		return "0 B"
	}
	return humanize.IBytes(uint64(n))
}

// NormalizeWhitespace collapses whitespace for use in HTML or text.
func NormalizeWhitespace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

// AnchorID derives a stable HTML anchor from a node id.
func AnchorID(node *model.ExecutionTreeNode) string {
	if node == nil {
		return ""
	}
	id := strings.ToLower(node.ID)
	id = strings.NewReplacer(" ", "-", "#", "-", "/", "-").Replace(id)
	return "node-" + id
}
