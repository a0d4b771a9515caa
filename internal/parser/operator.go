package parser

import (
	"strconv"
	"strings"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"

	"github.com/mickamy/xprofile/internal/model"
)

// parsedOperator is an operator block as read from the text, before it
// becomes a graph node.
type parsedOperator struct {
	name         string
	id           int
	nereidsID    *int
	destID       *int
	exchangeType string
	tableName    string

	planInfo       []model.MetricItem
	commonCounters []model.MetricItem
	customCounters []model.MetricItem
}

type metricSection int

const (
	sectionNone metricSection = iota
	sectionPlan
	sectionCommon
	sectionCustom
)

func isOperatorHeader(trimmed string) bool {
	if trimmed == "" || strings.HasPrefix(trimmed, "-") {
		return false
	}
	for _, prefix := range []string{"CommonCounters", "CustomCounters", "RuntimeFilterInfo"} {
		if strings.HasPrefix(trimmed, prefix) {
			return false
		}
	}
	return dataStreamSinkPattern.MatchString(trimmed) ||
		localExchangePattern.MatchString(trimmed) ||
		standardHeaderPattern.MatchString(trimmed) ||
		alternateHeaderPattern.MatchString(trimmed)
}

func isSegmentHeader(trimmed string) bool {
	return pipelineHeaderPattern.MatchString(trimmed) || fragmentHeaderPattern.MatchString(trimmed)
}

// segmentOperators splits pipeline lines into operator blocks. Operators
// nested deeper than their predecessor are segmented too.
func segmentOperators(lines []string, logger log.Logger) []parsedOperator {
	var ops []parsedOperator
	for i := 0; i < len(lines); i++ {
		trimmed := strings.TrimSpace(lines[i])
		if !isOperatorHeader(trimmed) {
			continue
		}
		op, err := parseOperatorHeader(trimmed)
		if err != nil {
			_ = level.Debug(logger).Log("msg", "skipping operator", "header", trimmed, "err", err)
			continue
		}
		end := operatorBlockEnd(lines, i)
		op.readSections(lines[i+1 : end])
		ops = append(ops, op)
	}
	return ops
}

func operatorBlockEnd(lines []string, header int) int {
	base := indentOf(lines[header])
	for j := header + 1; j < len(lines); j++ {
		trimmed := strings.TrimSpace(lines[j])
		if trimmed == "" {
			continue
		}
		if isSegmentHeader(trimmed) {
			return j
		}
		if indentOf(lines[j]) <= base && isOperatorHeader(trimmed) {
			return j
		}
	}
	return len(lines)
}

func parseOperatorHeader(header string) (parsedOperator, error) {
	if m := dataStreamSinkPattern.FindStringSubmatch(header); m != nil {
		dest, err := atoi(m[2], header)
		if err != nil {
			return parsedOperator{}, err
		}
		return parsedOperator{name: m[1], id: -1, destID: &dest}, nil
	}
	if m := localExchangePattern.FindStringSubmatch(header); m != nil {
		id, err := atoi(m[3], header)
		if err != nil {
			return parsedOperator{}, err
		}
		return parsedOperator{name: m[1], id: id, exchangeType: m[2]}, nil
	}
	if m := standardHeaderPattern.FindStringSubmatch(header); m != nil {
		return headerWithIDs(header, m[1], m[3], m[2])
	}
	if m := alternateHeaderPattern.FindStringSubmatch(header); m != nil {
		return headerWithIDs(header, m[1], m[2], m[3])
	}
	return parsedOperator{}, newError(KindParseValue, "unrecognized operator header %q", header)
}

func headerWithIDs(header, name, rawID, rawNereids string) (parsedOperator, error) {
	id, err := atoi(rawID, header)
	if err != nil {
		return parsedOperator{}, err
	}
	op := parsedOperator{name: name, id: id}
	if rawNereids != "" {
		nereids, err := atoi(rawNereids, header)
		if err != nil {
			return parsedOperator{}, err
		}
		op.nereidsID = &nereids
	}
	if m := tableNamePattern.FindStringSubmatch(header); m != nil {
		op.tableName = strings.TrimSpace(m[1])
	}
	return op, nil
}

func atoi(s, header string) (int, error) {
	n, err := strconv.Atoi(s)
	if err != nil {
		return 0, wrapError(KindParseValue, err, "operator header %q", header)
	}
	return n, nil
}

// readSections fills the plan info and counter trees from the body of an
// operator block. It stops at a nested operator header.
func (op *parsedOperator) readSections(body []string) {
	trees := map[metricSection]*metricTree{
		sectionPlan:   {},
		sectionCommon: {},
		sectionCustom: {},
	}
	section := sectionNone
	for _, line := range body {
		trimmed := strings.TrimSpace(line)
		switch {
		case trimmed == "":
			continue
		case isOperatorHeader(trimmed):
			op.assignSections(trees)
			return
		case strings.HasPrefix(trimmed, "CommonCounters:"):
			section = sectionCommon
			continue
		case strings.HasPrefix(trimmed, "CustomCounters:"):
			section = sectionCustom
			continue
		case strings.HasPrefix(trimmed, "RuntimeFilterInfo:"):
			section = sectionCustom
			continue
		case strings.HasPrefix(trimmed, "- PlanInfo"):
			section = sectionPlan
			continue
		}
		if section == sectionNone {
			continue
		}
		m := metricLinePattern.FindStringSubmatch(trimmed)
		if m == nil {
			continue
		}
		trees[section].add(indentOf(line), strings.TrimSpace(m[1]), strings.TrimSpace(m[2]))
	}
	op.assignSections(trees)
}

func (op *parsedOperator) assignSections(trees map[metricSection]*metricTree) {
	op.planInfo = trees[sectionPlan].items()
	op.commonCounters = trees[sectionCommon].items()
	op.customCounters = trees[sectionCustom].items()
}

// uniqueMetrics flattens every section into one map; header-derived fields
// take precedence.
func (op *parsedOperator) uniqueMetrics() map[string]string {
	out := map[string]string{}
	for _, items := range [][]model.MetricItem{op.planInfo, op.commonCounters, op.customCounters} {
		flattenMetrics(items, out)
	}
	if op.nereidsID != nil {
		out["nereids_id"] = strconv.Itoa(*op.nereidsID)
	}
	if op.destID != nil {
		out["dest_id"] = strconv.Itoa(*op.destID)
	}
	if op.exchangeType != "" {
		out["exchange_type"] = op.exchangeType
	}
	if op.tableName != "" {
		out["table_name"] = op.tableName
	}
	return out
}

func (op *parsedOperator) toModel() model.Operator {
	return model.Operator{
		Name:           op.name,
		ID:             op.id,
		Metrics:        op.uniqueMetrics(),
		PlanInfo:       op.planInfo,
		CommonCounters: op.commonCounters,
		CustomCounters: op.customCounters,
	}
}

// findMetric returns the value of the first item named key, searching
// common counters before custom counters and parents before children.
func (op *parsedOperator) findMetric(key string) (string, bool) {
	if v, ok := findItem(op.commonCounters, key); ok {
		return v, true
	}
	return findItem(op.customCounters, key)
}

func findItem(items []model.MetricItem, key string) (string, bool) {
	for _, item := range items {
		if item.Key == key {
			return item.Value, true
		}
	}
	for _, item := range items {
		if v, ok := findItem(item.Children, key); ok {
			return v, true
		}
	}
	return "", false
}

func flattenMetrics(items []model.MetricItem, into map[string]string) {
	for _, item := range items {
		into[item.Key] = item.Value
		flattenMetrics(item.Children, into)
	}
}

// metricTree nests "- Key: Value" lines by indentation, one level per two
// columns relative to the first line of the section.
type metricTree struct {
	roots []*metricNode
	stack []*metricNode
	base  int
}

type metricNode struct {
	key      string
	value    string
	children []*metricNode
}

func (t *metricTree) add(indent int, key, value string) {
	node := &metricNode{key: key, value: value}
	if len(t.roots) == 0 {
		t.base = indent
	}
	depth := (indent - t.base) / 2
	if depth <= 0 || len(t.stack) == 0 {
		t.roots = append(t.roots, node)
		t.stack = []*metricNode{node}
		return
	}
	if depth > len(t.stack) {
		depth = len(t.stack)
	}
	parent := t.stack[depth-1]
	parent.children = append(parent.children, node)
	t.stack = append(t.stack[:depth], node)
}

func (t *metricTree) items() []model.MetricItem {
	return convertNodes(t.roots)
}

func convertNodes(nodes []*metricNode) []model.MetricItem {
	if len(nodes) == 0 {
		return nil
	}
	out := make([]model.MetricItem, 0, len(nodes))
	for _, n := range nodes {
		out = append(out, model.MetricItem{Key: n.key, Value: n.value, Children: convertNodes(n.children)})
	}
	return out
}

func indentOf(line string) int {
	return len(line) - len(strings.TrimLeft(line, " \t"))
}
