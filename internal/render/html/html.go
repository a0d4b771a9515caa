package html

import (
	"fmt"
	"html/template"
	"io"
	"math"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/pkg/errors"

	"github.com/mickamy/xprofile/internal/analyzer"
	"github.com/mickamy/xprofile/internal/insight"
	"github.com/mickamy/xprofile/internal/model"
)

// Options configures the HTML renderer.
type Options struct {
	Title         string
	IncludeStyles bool
}

// Render writes an HTML report containing the profile summary, hotspots,
// insights and the annotated execution graph.
func Render(w io.Writer, analysis *analyzer.ProfileAnalysis, opts Options) error {
	if analysis == nil || analysis.Root == nil {
		return errors.New("html render: empty analysis")
	}
	if opts.Title == "" {
		opts.Title = "xprofile report"
	}
	data := buildTemplateData(analysis, opts)
	tpl, err := template.New("report").Funcs(template.FuncMap{"join": strings.Join}).Parse(reportTemplate)
	if err != nil {
		return errors.Wrap(err, "html render: compile template")
	}
	if err := tpl.Execute(w, data); err != nil {
		return errors.Wrap(err, "html render: execute template")
	}
	return nil
}

type templateData struct {
	Title         string
	IncludeStyles bool
	Summary       summaryView
	Root          *nodeView
	Hotspots      []hotspotView
	Insights      []insightView
}

type summaryView struct {
	QueryID       string
	State         string
	User          string
	Database      string
	StartTime     string
	TotalTime     string
	OperatorTime  string
	NodeCount     int
	HotspotCount  int
	Score         int
	ScoreCategory string
	Conclusion    string
	SQL           string
}

type hotspotView struct {
	Label    string
	Anchor   string
	Path     string
	Severity string
	Self     string
	Share    string
	Impact   string
}

type insightView struct {
	Icon     string
	Severity string
	Text     string
	Anchor   string
}

type nodeView struct {
	Label    string
	Anchor   string
	Self     string
	Share    string
	BarWidth float64
	Heat     float64
	Severity string
	Meta     []string
	// Repeat marks a node already drawn under another parent; it links back
	// instead of expanding again.
	Repeat   bool
	Children []*nodeView
}

func buildTemplateData(analysis *analyzer.ProfileAnalysis, opts Options) templateData {
	messages := insight.BuildMessages(analysis)
	insights := make([]insightView, 0, len(messages))
	for _, msg := range messages {
		insights = append(insights, insightView{
			Icon:     severityIcon(msg.Severity),
			Severity: string(msg.Severity),
			Text:     msg.Text,
			Anchor:   msg.Anchor,
		})
	}

	hotspots := make([]hotspotView, 0, len(analysis.Hotspots))
	for _, hot := range analysis.Hotspots {
		hotspots = append(hotspots, hotspotView{
			Label:    insight.NodeLabel(hot.Node),
			Anchor:   insight.AnchorID(hot.Node),
			Path:     hot.NodePath,
			Severity: string(hot.Severity),
			Self:     analyzer.FormatMs(analyzer.ExecTimeMs(hot.Node)),
			Share:    fmt.Sprintf("%.1f%%", hot.TimePercentage),
			Impact:   hot.Impact,
		})
	}

	summary := analysis.Summary
	seen := map[string]bool{}
	return templateData{
		Title:         opts.Title,
		IncludeStyles: opts.IncludeStyles,
		Summary: summaryView{
			QueryID:       summary.QueryID,
			State:         summary.State,
			User:          summary.User,
			Database:      summary.Database,
			StartTime:     summary.StartTime,
			TotalTime:     analyzer.FormatMs(analysis.TotalTimeMs),
			OperatorTime:  analyzer.FormatMs(analysis.OperatorTimeMs),
			NodeCount:     analysis.NodeCount,
			HotspotCount:  len(analysis.Hotspots),
			Score:         analysis.Score,
			ScoreCategory: analysis.ScoreCategory,
			Conclusion:    analysis.Conclusion,
			SQL:           insight.NormalizeWhitespace(summary.SQL),
		},
		Root:     buildNodeView(analysis, analysis.Root, seen),
		Hotspots: hotspots,
		Insights: insights,
	}
}

func buildNodeView(analysis *analyzer.ProfileAnalysis, node *model.ExecutionTreeNode, seen map[string]bool) *nodeView {
	view := &nodeView{
		Label:  insight.NodeLabel(node),
		Anchor: insight.AnchorID(node),
	}
	if seen[node.ID] {
		view.Repeat = true
		return view
	}
	seen[node.ID] = true

	pct := analyzer.Percent(node)
	view.Self = analyzer.FormatMs(analyzer.ExecTimeMs(node))
	view.Share = fmt.Sprintf("%.1f%%", pct)
	view.BarWidth = math.Min(100, math.Max(0, pct))
	view.Heat = clamp(pct/40, 0, 1)
	if node.Severity != model.SeverityNone {
		view.Severity = string(node.Severity)
	}
	view.Meta = nodeMeta(node)

	for _, child := range analysis.Children(node) {
		view.Children = append(view.Children, buildNodeView(analysis, child, seen))
	}
	return view
}

func nodeMeta(node *model.ExecutionTreeNode) []string {
	var meta []string
	if node.FragmentID != "" || node.PipelineID != "" {
		meta = append(meta, strings.TrimSpace(node.FragmentID+" "+node.PipelineID))
	}
	if rows := node.Metrics.RowsProduced; rows != nil {
		meta = append(meta, "rows "+humanize.Comma(*rows))
	}
	if rows := node.Metrics.RowsConsumed; rows != nil {
		meta = append(meta, "input "+humanize.Comma(*rows))
	}
	if mem := node.Metrics.PeakMemoryBytes; mem != nil && *mem > 0 {
		meta = append(meta, "peak memory "+insight.HumanizeBytes(*mem))
	}
	return meta
}

func clamp(value, lo, hi float64) float64 {
	if value < lo {
		return lo
	}
	if value > hi {
		return hi
	}
	return value
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

const reportTemplate = `<!DOCTYPE html>
<html lang="en">
<head>
	<meta charset="utf-8">
	<title>{{.Title}}</title>
	{{- if .IncludeStyles }}
	<style>
		body { font-family: -apple-system, BlinkMacSystemFont, "Segoe UI", Helvetica, Arial, sans-serif; margin: 0; background: #f4f5f7; color: #1d2330; }
		header { background: #1b2433; color: #f4f5f7; padding: 28px 24px; }
		header h1 { margin: 0 0 6px; font-size: 26px; }
		header p { margin: 4px 0; opacity: 0.85; }
		main { max-width: 1000px; margin: 0 auto; padding: 28px 24px 48px; }
		section { margin-top: 28px; }
		section h2 { font-size: 19px; margin-bottom: 12px; }
		pre.sql { background: #fff; border-radius: 10px; padding: 14px; white-space: pre-wrap; box-shadow: 0 4px 12px rgba(13,28,39,0.10); }
		.tiles { display: grid; grid-template-columns: repeat(auto-fit, minmax(170px, 1fr)); gap: 12px; }
		.tile { background: #fff; border-radius: 10px; padding: 14px 16px; box-shadow: 0 6px 16px rgba(13,28,39,0.10); }
		.tile strong { display: block; font-size: 12px; text-transform: uppercase; letter-spacing: 0.05em; color: #5b6b80; margin-bottom: 6px; }
		.tile span { font-size: 18px; font-weight: 600; }
		.score-excellent span, .score-good span { color: #1f8a4c; }
		.score-fair span { color: #b27a00; }
		.score-poor span, .score-critical span { color: #c53030; }
		table.hotspots { width: 100%; border-collapse: collapse; background: #fff; border-radius: 10px; overflow: hidden; box-shadow: 0 4px 12px rgba(13,28,39,0.10); }
		table.hotspots th, table.hotspots td { text-align: left; padding: 10px 12px; font-size: 14px; border-bottom: 1px solid rgba(91,107,128,0.15); }
		table.hotspots td.sev-critical { color: #c53030; font-weight: 600; }
		table.hotspots td.sev-high { color: #d05c00; font-weight: 600; }
		table.hotspots td.sev-medium { color: #b27a00; }
		.insights { list-style: none; margin: 0; padding: 0; display: flex; flex-direction: column; gap: 10px; }
		.insights li { background: #fff; border-radius: 10px; padding: 12px 14px; box-shadow: 0 4px 12px rgba(13,28,39,0.10); display: flex; gap: 10px; align-items: center; font-size: 14px; }
		.insights li.severity-critical { border-left: 4px solid #e53e3e; }
		.insights li.severity-warning { border-left: 4px solid #f6ad55; }
		.insights li.severity-info { border-left: 4px solid rgba(27,36,51,0.15); }
		.insights a { color: inherit; }
		.graph, .graph ul { list-style: none; margin: 0; padding: 0; }
		.graph ul { margin-left: 22px; border-left: 1px dashed rgba(27,36,51,0.18); padding-left: 18px; }
		.node { background: #fff; border-radius: 10px; margin-bottom: 10px; padding: 12px 16px; position: relative; box-shadow: 0 6px 16px rgba(16,37,58,0.10); }
		.node::after { content: ""; position: absolute; inset: 0; border-radius: inherit; background: linear-gradient(90deg, rgba(229,62,62,var(--heat)) 0%, rgba(229,62,62,0) 70%); opacity: 0.3; pointer-events: none; }
		.node-head { display: flex; justify-content: space-between; gap: 12px; align-items: baseline; }
		.node-label { font-weight: 600; font-size: 15px; }
		.node-time { font-size: 13px; color: #5b6b80; }
		.node-bar { margin-top: 8px; background: rgba(27,36,51,0.08); border-radius: 999px; height: 7px; overflow: hidden; }
		.node-bar span { display: block; height: 100%; background: linear-gradient(90deg, #e53e3e 0%, #f6ad55 100%); width: calc(var(--width) * 1%); }
		.node-meta { margin-top: 8px; font-size: 13px; color: #3a4a60; display: flex; flex-wrap: wrap; gap: 10px 16px; }
		.node-badge { font-weight: 600; text-transform: uppercase; font-size: 11px; color: #c53030; }
		.node-repeat { font-size: 13px; color: #5b6b80; margin-bottom: 10px; }
	</style>
	{{- end }}
</head>
<body>
	<header>
		<h1>{{.Title}}</h1>
		<p>Query {{.Summary.QueryID}}{{if .Summary.State}} · {{.Summary.State}}{{end}}{{if .Summary.StartTime}} · started {{.Summary.StartTime}}{{end}}</p>
		<p>{{.Summary.Conclusion}}</p>
	</header>
	<main>
		<section>
			<h2>Summary</h2>
			<div class="tiles">
				<div class="tile score-{{.Summary.ScoreCategory}}">
					<strong>Score</strong>
					<span>{{.Summary.Score}} ({{.Summary.ScoreCategory}})</span>
				</div>
				<div class="tile">
					<strong>Total time</strong>
					<span>{{.Summary.TotalTime}}</span>
				</div>
				<div class="tile">
					<strong>Operator time</strong>
					<span>{{.Summary.OperatorTime}}</span>
				</div>
				<div class="tile">
					<strong>Nodes / Hotspots</strong>
					<span>{{.Summary.NodeCount}} / {{.Summary.HotspotCount}}</span>
				</div>
				{{- if .Summary.User }}
				<div class="tile">
					<strong>User</strong>
					<span>{{.Summary.User}}{{if .Summary.Database}}@{{.Summary.Database}}{{end}}</span>
				</div>
				{{- end }}
			</div>
			{{- if .Summary.SQL }}
			<pre class="sql">{{.Summary.SQL}}</pre>
			{{- end }}
		</section>

		{{- if .Insights }}
		<section>
			<h2>Insights</h2>
			<ul class="insights">
				{{- range .Insights }}
				<li class="severity-{{.Severity}}"><span>{{.Icon}}</span><span>
					{{- if .Anchor -}}
						<a href="#{{.Anchor}}">{{.Text}}</a>
					{{- else -}}
						{{.Text}}
					{{- end -}}
				</span></li>
				{{- end }}
			</ul>
		</section>
		{{- end }}

		<section>
			<h2>Hotspots</h2>
			{{- if .Hotspots }}
			<table class="hotspots">
				<thead><tr><th>Operator</th><th>Severity</th><th>Self</th><th>Share</th><th>Impact</th></tr></thead>
				<tbody>
				{{- range .Hotspots }}
					<tr>
						<td><a href="#{{.Anchor}}" title="{{.Path}}">{{.Label}}</a></td>
						<td class="sev-{{.Severity}}">{{.Severity}}</td>
						<td>{{.Self}}</td>
						<td>{{.Share}}</td>
						<td>{{.Impact}}</td>
					</tr>
				{{- end }}
				</tbody>
			</table>
			{{- else }}
			<p>No hotspots above threshold</p>
			{{- end }}
		</section>

		<section>
			<h2>Execution Graph</h2>
			<ul class="graph">
				{{ template "node" .Root }}
			</ul>
		</section>
	</main>

	{{ define "node" }}
	<li>
		{{- if .Repeat }}
		<div class="node-repeat">{{.Label}} (<a href="#{{.Anchor}}">see above</a>)</div>
		{{- else }}
		<div class="node" id="{{.Anchor}}" style="--heat: {{printf "%.3f" .Heat}};">
			<div class="node-head">
				<span class="node-label">{{.Label}}</span>
				<span class="node-time">{{.Self}} · {{.Share}}</span>
			</div>
			<div class="node-bar"><span style="--width: {{printf "%.2f" .BarWidth}};"></span></div>
			<div class="node-meta">
				{{- if .Severity }}<span class="node-badge">{{.Severity}}</span>{{- end }}
				{{- if .Meta }}<span>{{ join .Meta " · " }}</span>{{- end }}
			</div>
		</div>
		{{- if .Children }}
		<ul>
			{{- range .Children }}
				{{ template "node" . }}
			{{- end }}
		</ul>
		{{- end }}
		{{- end }}
	</li>
	{{ end }}
</body>
</html>
`
