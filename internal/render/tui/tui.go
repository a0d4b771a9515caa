package tui

import (
	"fmt"
	"io"
	"math"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/pkg/errors"

	"github.com/mickamy/xprofile/internal/analyzer"
	"github.com/mickamy/xprofile/internal/insight"
	"github.com/mickamy/xprofile/internal/model"
)

// Options controls how the TUI renderer behaves.
type Options struct {
	EnableColor bool
	// MaxDepth limits how many levels below the root are printed; 0 prints all.
	MaxDepth     int
	ShowInsights bool
	BarWidth     int
}

// Render prints an ASCII walk of the execution graph that highlights hot
// operators. Nodes reachable through more than one parent are printed once
// and referenced with "(see above)" afterwards.
func Render(w io.Writer, analysis *analyzer.ProfileAnalysis, opts Options) error {
	if w == nil {
		return errors.New("tui: writer is nil")
	}
	if analysis == nil || analysis.Root == nil {
		return errors.New("tui: empty analysis")
	}

	if opts.BarWidth <= 0 {
		opts.BarWidth = 20
	}

	summary := analysis.Summary
	_, _ = fmt.Fprintf(w, "Query %s (%s) total %s, operator time %s\n",
		orDash(summary.QueryID), orDash(summary.State), analyzer.FormatMs(analysis.TotalTimeMs), analyzer.FormatMs(analysis.OperatorTimeMs))
	_, _ = fmt.Fprintf(w, "Nodes %d | Hotspots %d | Score %d (%s)\n\n",
		analysis.NodeCount, len(analysis.Hotspots), analysis.Score, analysis.ScoreCategory)

	if opts.ShowInsights {
		renderInsights(w, analysis)
	}

	p := &printer{w: w, analysis: analysis, opts: opts, seen: map[string]bool{}}
	p.seen[analysis.Root.ID] = true
	_, _ = fmt.Fprintf(w, "%s\n", renderLine(analysis.Root, opts))
	p.printChildren(analysis.Root, "", 0)

	if analysis.Conclusion != "" {
		_, _ = fmt.Fprintf(w, "\n%s\n", analysis.Conclusion)
	}
	return nil
}

type printer struct {
	w        io.Writer
	analysis *analyzer.ProfileAnalysis
	opts     Options
	seen     map[string]bool
}

func (p *printer) printChildren(parent *model.ExecutionTreeNode, prefix string, level int) {
	children := p.analysis.Children(parent)
	for i, child := range children {
		p.renderBranch(child, prefix, i == len(children)-1, level+1)
	}
}

func (p *printer) renderBranch(node *model.ExecutionTreeNode, prefix string, isLast bool, level int) {
	connector := "|-- "
	childPrefix := prefix + "|   "
	if isLast {
		connector = "`-- "
		childPrefix = prefix + "    "
	}

	if p.seen[node.ID] {
		_, _ = fmt.Fprintf(p.w, "%s%s%s (see above)\n", prefix, connector, insight.NodeLabel(node))
		return
	}
	p.seen[node.ID] = true

	_, _ = fmt.Fprintf(p.w, "%s%s%s\n", prefix, connector, renderLine(node, p.opts))

	if p.opts.MaxDepth > 0 && level >= p.opts.MaxDepth {
		if hidden := p.countUnseen(node); hidden > 0 {
			_, _ = fmt.Fprintf(p.w, "%s`-- ... (%d more nodes)\n", childPrefix, hidden)
		}
		return
	}

	p.printChildren(node, childPrefix, level)
}

// countUnseen counts descendants that have not been printed yet.
func (p *printer) countUnseen(node *model.ExecutionTreeNode) int {
	visited := map[string]bool{node.ID: true}
	total := 0
	var walk func(*model.ExecutionTreeNode)
	walk = func(n *model.ExecutionTreeNode) {
		for _, child := range p.analysis.Children(n) {
			if visited[child.ID] || p.seen[child.ID] {
				continue
			}
			visited[child.ID] = true
			total++
			walk(child)
		}
	}
	walk(node)
	return total
}

func renderLine(node *model.ExecutionTreeNode, opts Options) string {
	label := insight.NodeLabel(node)
	pct := analyzer.Percent(node)

	self := "self " + analyzer.FormatMs(analyzer.ExecTimeMs(node))
	share := fmt.Sprintf("%5.1f%%", pct)

	bar := drawBar(pct/100, opts.BarWidth)
	if opts.EnableColor {
		bar = applyColor(bar, pickColor(node.Severity))
	}

	parts := []string{label, self, share, bar}
	if rows := node.Metrics.RowsProduced; rows != nil && *rows > 0 {
		parts = append(parts, "rows "+humanize.Comma(*rows))
	}
	if mem := node.Metrics.PeakMemoryBytes; mem != nil && *mem > 0 {
		parts = append(parts, "mem "+insight.HumanizeBytes(*mem))
	}

	line := strings.Join(parts, " | ")
	if node.Severity != "" && node.Severity != model.SeverityNone {
		tag := " [" + string(node.Severity) + "]"
		if opts.EnableColor {
			tag = applyColor(tag, pickColor(node.Severity))
		}
		line += tag
	}
	return line
}

func renderInsights(w io.Writer, analysis *analyzer.ProfileAnalysis) {
	messages := insight.BuildMessages(analysis)
	if len(messages) == 0 {
		return
	}
	_, _ = fmt.Fprintln(w, "Insights:")
	for _, msg := range messages {
		_, _ = fmt.Fprintf(w, "  - %s %s\n", severityIcon(msg.Severity), msg.Text)
	}
	_, _ = fmt.Fprintln(w)
}

func drawBar(ratio float64, width int) string {
	if width <= 0 {
		return ""
	}
	clamped := math.Max(0, math.Min(1, ratio))
	fill := int(math.Round(clamped * float64(width)))
	if clamped > 0 && fill == 0 {
		fill = 1
	}
	return strings.Repeat("#", fill) + strings.Repeat("-", width-fill)
}

func pickColor(sev model.Severity) string {
	switch sev {
	case model.SeverityCritical:
		return "red"
	case model.SeverityHigh, model.SeverityMedium:
		return "yellow"
	case model.SeverityLow:
		return "cyan"
	default:
		return ""
	}
}

func applyColor(text, color string) string {
	code := ""
	switch color {
	case "red":
		code = "\033[31m"
	case "yellow":
		code = "\033[33m"
	case "cyan":
		code = "\033[36m"
	default:
		return text
	}
	return code + text + "\033[0m"
}

func severityIcon(sev insight.Severity) string {
	switch sev {
	case insight.SeverityCritical:
		return "🔥"
	case insight.SeverityWarning:
		return "⚠️"
	default:
		return "ℹ️"
	}
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
