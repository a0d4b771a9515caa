package analyzer

import (
	"fmt"
	"sort"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/pkg/errors"

	"github.com/mickamy/xprofile/internal/config"
	"github.com/mickamy/xprofile/internal/model"
)

// ProfileAnalysis contains derived metrics for a parsed profile.
type ProfileAnalysis struct {
	Profile *model.Profile
	Summary model.ProfileSummary
	// Root points into Nodes, or at the tree's placeholder root when the
	// graph is empty.
	Root           *model.ExecutionTreeNode
	Nodes          []*model.ExecutionTreeNode
	NodeCount      int
	TotalTimeMs    float64
	OperatorTimeMs float64
	Hotspots       []Hotspot
	TopConsumers   []*model.ExecutionTreeNode
	Anomalies      []model.Anomaly
	Score          int
	ScoreCategory  string
	Conclusion     string

	index map[string]*model.ExecutionTreeNode
}

// Hotspot is a node that consumes a notable share of execution time.
type Hotspot struct {
	Node           *model.ExecutionTreeNode `json:"-"`
	NodeID         string                   `json:"node_id"`
	NodePath       string                   `json:"node_path"`
	OperatorName   string                   `json:"operator_name"`
	Severity       model.Severity           `json:"severity"`
	TimePercentage float64                  `json:"time_percentage"`
	Description    string                   `json:"description"`
	Impact         string                   `json:"impact"`
}

// Analyze derives hotspots, the performance score and a conclusion for the
// provided profile.
func Analyze(profile *model.Profile) (*ProfileAnalysis, error) {
	if profile == nil || profile.ExecutionTree == nil {
		return nil, errors.New("analyze: missing execution tree")
	}
	tree := profile.ExecutionTree

	analysis := &ProfileAnalysis{
		Profile:     profile,
		Summary:     profile.Summary,
		NodeCount:   len(tree.Nodes),
		TotalTimeMs: profile.Summary.TotalTimeMs,
		Anomalies:   tree.Anomalies,
		index:       make(map[string]*model.ExecutionTreeNode, len(tree.Nodes)),
	}
	for i := range tree.Nodes {
		node := &tree.Nodes[i]
		analysis.Nodes = append(analysis.Nodes, node)
		analysis.index[node.ID] = node
		if node.Metrics.ExecTimeNs != nil {
			analysis.OperatorTimeMs += float64(*node.Metrics.ExecTimeNs) / 1e6
		}
	}
	if root, ok := analysis.index[tree.Root.ID]; ok {
		analysis.Root = root
	} else {
		analysis.Root = &tree.Root
	}
	if analysis.TotalTimeMs == 0 {
		analysis.TotalTimeMs = analysis.OperatorTimeMs
	}

	analysis.Hotspots = detectHotspots(analysis.Nodes)
	analysis.TopConsumers = topConsumers(analysis.Nodes)
	analysis.Score = score(analysis.Hotspots, analysis.TotalTimeMs)
	analysis.ScoreCategory = Category(analysis.Score)
	analysis.Conclusion = conclusion(analysis.Hotspots, analysis.TotalTimeMs)

	return analysis, nil
}

// Node returns the node with the given id.
func (a *ProfileAnalysis) Node(id string) (*model.ExecutionTreeNode, bool) {
	node, ok := a.index[id]
	return node, ok
}

// Children resolves the child ids of node. Ids that do not resolve are
// skipped.
func (a *ProfileAnalysis) Children(node *model.ExecutionTreeNode) []*model.ExecutionTreeNode {
	if node == nil {
		return nil
	}
	out := make([]*model.ExecutionTreeNode, 0, len(node.Children))
	for _, id := range node.Children {
		if child, ok := a.index[id]; ok {
			out = append(out, child)
		}
	}
	return out
}

// ExecTimeMs returns the node's own execution time in milliseconds.
func ExecTimeMs(node *model.ExecutionTreeNode) float64 {
	if node == nil || node.Metrics.ExecTimeNs == nil {
		return 0
	}
	return float64(*node.Metrics.ExecTimeNs) / 1e6
}

// Percent returns the node's share of total operator time, or 0.
func Percent(node *model.ExecutionTreeNode) float64 {
	if node == nil || node.TimePercentage == nil {
		return 0
	}
	return *node.TimePercentage
}

func detectHotspots(nodes []*model.ExecutionTreeNode) []Hotspot {
	cfg := config.Active().Analysis
	var out []Hotspot
	for _, node := range nodes {
		pct := Percent(node)
		severity := severityFor(pct, cfg)
		if severity == model.SeverityNone {
			severity = node.Severity
		}
		if severity == model.SeverityNone || severity == "" {
			continue
		}
		out = append(out, Hotspot{
			Node:           node,
			NodeID:         node.ID,
			NodePath:       NodePath(node),
			OperatorName:   node.OperatorName,
			Severity:       severity,
			TimePercentage: pct,
			Description:    fmt.Sprintf("%s operator consuming %.1f%% of total execution time", node.OperatorName, pct),
			Impact:         impactFor(node.NodeType, severity),
		})
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Severity.Rank() > out[j].Severity.Rank()
	})
	return out
}

func severityFor(pct float64, cfg config.AnalysisConfig) model.Severity {
	switch {
	case pct >= cfg.CriticalPercent:
		return model.SeverityCritical
	case pct >= cfg.HighPercent:
		return model.SeverityHigh
	case pct >= cfg.MediumPercent:
		return model.SeverityMedium
	case pct >= cfg.LowPercent:
		return model.SeverityLow
	default:
		return model.SeverityNone
	}
}

// NodePath locates a node inside the profile, e.g.
// "Fragment 1 > Pipeline 2 > OLAP_SCAN_OPERATOR (Plan Node 2)".
func NodePath(node *model.ExecutionTreeNode) string {
	var parts []string
	if node.FragmentID != "" {
		parts = append(parts, node.FragmentID)
	}
	if node.PipelineID != "" {
		parts = append(parts, node.PipelineID)
	}
	name := node.OperatorName
	if node.PlanNodeID != nil {
		name = fmt.Sprintf("%s (Plan Node %d)", name, *node.PlanNodeID)
	}
	parts = append(parts, name)
	return strings.Join(parts, " > ")
}

func impactFor(kind model.NodeType, severity model.Severity) string {
	switch kind {
	case model.NodeTableScan:
		switch severity {
		case model.SeverityCritical:
			return "Critical impact on query performance. Scan operation is the primary bottleneck."
		case model.SeverityHigh:
			return "High impact on query performance. Consider optimizing scan filters."
		default:
			return "Moderate impact on query performance."
		}
	case model.NodeHashJoin:
		return "Join operation may be processing large datasets or using suboptimal join strategy."
	case model.NodeAggregate:
		return "Aggregation operation may be processing many distinct values or large datasets."
	case model.NodeSort:
		return "Sort operation may be processing large datasets."
	case model.NodeExchange:
		return "Data shuffle between nodes may be causing network bottleneck."
	default:
		return "This operator is consuming significant execution time."
	}
}

func topConsumers(nodes []*model.ExecutionTreeNode) []*model.ExecutionTreeNode {
	var most, second *model.ExecutionTreeNode
	for _, node := range nodes {
		switch {
		case node.IsMostConsuming:
			most = node
		case node.IsSecondMostConsuming:
			second = node
		}
	}
	var out []*model.ExecutionTreeNode
	if most != nil {
		out = append(out, most)
	}
	if second != nil {
		out = append(out, second)
	}
	return out
}

func score(hotspots []Hotspot, totalMs float64) int {
	cfg := config.Active().Analysis
	if len(hotspots) == 0 {
		return cfg.NoHotspotScore
	}
	s := 100
	for _, h := range hotspots {
		switch h.Severity {
		case model.SeverityCritical:
			s -= cfg.CriticalPenalty
		case model.SeverityHigh:
			s -= cfg.HighPenalty
		case model.SeverityMedium:
			s -= cfg.MediumPenalty
		case model.SeverityLow:
			s -= cfg.LowPenalty
		}
	}
	switch {
	case totalMs > cfg.VeryLongQueryMs:
		s -= cfg.VeryLongQueryPenalty
	case totalMs > cfg.LongQueryMs:
		s -= cfg.LongQueryPenalty
	case totalMs > cfg.SlowQueryMs:
		s -= cfg.SlowQueryPenalty
	}
	if s < 0 {
		return 0
	}
	if s > 100 {
		return 100
	}
	return s
}

// Category maps a performance score to its band name.
func Category(score int) string {
	cfg := config.Active().Analysis
	switch {
	case score >= cfg.ScoreExcellent:
		return "excellent"
	case score >= cfg.ScoreGood:
		return "good"
	case score >= cfg.ScoreFair:
		return "fair"
	case score >= cfg.ScorePoor:
		return "poor"
	default:
		return "critical"
	}
}

func conclusion(hotspots []Hotspot, totalMs float64) string {
	total := FormatMs(totalMs)
	if len(hotspots) == 0 {
		return fmt.Sprintf("Query completed in %s with no significant performance issues detected.", total)
	}
	var critical, high int
	for _, h := range hotspots {
		switch h.Severity {
		case model.SeverityCritical:
			critical++
		case model.SeverityHigh:
			high++
		}
	}
	switch {
	case critical > 0:
		return fmt.Sprintf("Query completed in %s with %d critical performance bottleneck(s) and %d total issue(s) detected. Immediate attention recommended.",
			total, critical, len(hotspots))
	case high > 0:
		return fmt.Sprintf("Query completed in %s with %d high-severity issue(s) and %d total issue(s) detected. Optimization recommended.",
			total, high, len(hotspots))
	default:
		return fmt.Sprintf("Query completed in %s with %d minor performance issue(s) detected.", total, len(hotspots))
	}
}

// FormatMs renders a millisecond value for reports: "850.20ms" below one
// second, "6.51s" below a minute, "2m 5s" beyond that.
func FormatMs(ms float64) string {
	switch {
	case ms < 1000:
		return fmt.Sprintf("%.2fms", ms)
	case ms < 60_000:
		return humanize.FtoaWithDigits(ms/1000, 2) + "s"
	default:
		minutes := int(ms / 60_000)
		seconds := int(ms/1000) % 60
		return fmt.Sprintf("%dm %ds", minutes, seconds)
	}
}
