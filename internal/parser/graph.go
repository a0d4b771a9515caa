package parser

import (
	"fmt"
	"sort"
	"strings"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"

	"github.com/mickamy/xprofile/internal/model"
)

const (
	criticalPercent = 50.0
	highPercent     = 30.0
	mediumPercent   = 15.0
	lowPercent      = 5.0
)

var nodeTypeRules = []struct {
	needles []string
	kind    model.NodeType
}{
	{[]string{"SCAN"}, model.NodeTableScan},
	{[]string{"EXCHANGE"}, model.NodeExchange},
	{[]string{"HASH_JOIN"}, model.NodeHashJoin},
	{[]string{"AGGREGATE", "AGGREGATION"}, model.NodeAggregate},
	{[]string{"SORT"}, model.NodeSort},
	{[]string{"LIMIT"}, model.NodeLimit},
	{[]string{"PROJECT"}, model.NodeProject},
	{[]string{"FILTER"}, model.NodeFilter},
	{[]string{"UNION"}, model.NodeUnion},
	{[]string{"RESULT_SINK"}, model.NodeResultSink},
	{[]string{"DATA_STREAM_SINK", "STREAM_SINK"}, model.NodeDataStreamSink},
}

// ClassifyNode maps an operator name to its node type.
func ClassifyNode(name string) model.NodeType {
	upper := strings.ToUpper(name)
	for _, rule := range nodeTypeRules {
		for _, needle := range rule.needles {
			if strings.Contains(upper, needle) {
				return rule.kind
			}
		}
	}
	return model.NodeUnknown
}

// SeverityFor grades a time percentage; thresholds are inclusive.
func SeverityFor(percent float64) model.Severity {
	switch {
	case percent >= criticalPercent:
		return model.SeverityCritical
	case percent >= highPercent:
		return model.SeverityHigh
	case percent >= mediumPercent:
		return model.SeverityMedium
	case percent >= lowPercent:
		return model.SeverityLow
	default:
		return model.SeverityNone
	}
}

type graphBuilder struct {
	logger log.Logger
	nodes  []model.ExecutionTreeNode
	ops    []parsedOperator
	groups [][]int
}

// BuildExecutionTree links the operators of every pipeline into an
// execution graph and annotates it with depth, time share and severity.
func BuildExecutionTree(fragments []model.Fragment, logger log.Logger) *model.ExecutionTree {
	if logger == nil {
		logger = log.NewNopLogger()
	}
	b := &graphBuilder{logger: logger}
	b.materialize(fragments)

	b.linkPipelineChains()
	b.linkSinksByName()
	b.linkExchanges()
	b.linkLocalExchanges()
	anomalies := b.multiParentAnomalies()

	root := b.selectRoot()
	b.assignDepths(root)
	b.assignTimeShares()

	tree := &model.ExecutionTree{Nodes: b.nodes, Anomalies: anomalies}
	if root >= 0 {
		tree.Root = b.nodes[root].Clone()
	} else {
		tree.Root = model.ExecutionTreeNode{
			ID:           "root",
			OperatorName: "UNKNOWN",
			NodeType:     model.NodeUnknown,
			Children:     []string{},
			Severity:     model.SeverityNone,
		}
	}
	return tree
}

func (b *graphBuilder) materialize(fragments []model.Fragment) {
	seen := map[string]int{}
	for _, fragment := range fragments {
		for _, pipeline := range fragment.Pipelines {
			var group []int
			for _, op := range segmentOperators(strings.Split(pipeline.RawText, "\n"), b.logger) {
				id := nodeID(fragment.ID, pipeline.ID, op)
				if n := seen[id]; n > 0 {
					seen[id] = n + 1
					id = fmt.Sprintf("%s#%d", id, n+1)
				} else {
					seen[id] = 1
				}

				node := model.ExecutionTreeNode{
					ID:             id,
					OperatorName:   op.name,
					NodeType:       ClassifyNode(op.name),
					Metrics:        operatorMetrics(&op),
					Children:       []string{},
					Severity:       model.SeverityNone,
					FragmentID:     fragment.ID,
					PipelineID:     pipeline.ID,
					UniqueMetrics:  op.uniqueMetrics(),
					PlanInfo:       op.planInfo,
					CommonCounters: op.commonCounters,
					CustomCounters: op.customCounters,
				}
				if op.destID == nil {
					planID := op.id
					node.PlanNodeID = &planID
				}

				group = append(group, len(b.nodes))
				b.nodes = append(b.nodes, node)
				b.ops = append(b.ops, op)
			}
			b.groups = append(b.groups, group)
		}
	}
}

func nodeID(fragment, pipeline string, op parsedOperator) string {
	if op.destID != nil {
		return fmt.Sprintf("%s-%s-dest%d", fragment, pipeline, *op.destID)
	}
	return fmt.Sprintf("%s-%s-id%d", fragment, pipeline, op.id)
}

func operatorMetrics(op *parsedOperator) model.OperatorMetrics {
	var m model.OperatorMetrics
	if raw, ok := op.findMetric("ExecTime"); ok {
		m.ExecTimeRaw = FirstValue(raw)
		if agg := DecodeAggregate(raw); agg.Avg != nil {
			m.ExecTimeNs = agg.Avg
		} else if ns, ok := DecodeDuration(raw); ok {
			m.ExecTimeNs = &ns
		}
	}
	if raw, ok := op.findMetric("RowsProduced"); ok {
		m.RowsProduced = sumOrAvg(DecodeAggregate(raw), raw, DecodeCount)
	}
	if raw, ok := op.findMetric("InputRows"); ok {
		m.RowsConsumed = sumOrAvg(DecodeAggregate(raw), raw, DecodeCount)
	}
	if raw, ok := op.findMetric("MemoryUsagePeak"); ok {
		m.PeakMemoryBytes = sumOrAvg(DecodeByteAggregate(raw), raw, DecodeBytes)
	}
	return m
}

func sumOrAvg(agg Aggregate, raw string, plain func(string) (int64, bool)) *int64 {
	switch {
	case agg.Sum != nil:
		return agg.Sum
	case agg.Avg != nil:
		return agg.Avg
	}
	if v, ok := plain(raw); ok {
		return &v
	}
	return nil
}

func (b *graphBuilder) addChild(parent, child int) {
	id := b.nodes[child].ID
	for _, existing := range b.nodes[parent].Children {
		if existing == id {
			return
		}
	}
	b.nodes[parent].Children = append(b.nodes[parent].Children, id)
}

// linkPipelineChains makes each operator the parent of the next one in its
// pipeline.
func (b *graphBuilder) linkPipelineChains() {
	for _, group := range b.groups {
		for k := 0; k+1 < len(group); k++ {
			b.addChild(group[k], group[k+1])
		}
	}
}

// linkSinksByName pairs an operator with the sink that feeds it from another
// pipeline of the same fragment, by name convention first and nereids id
// second.
func (b *graphBuilder) linkSinksByName() {
	for i := range b.nodes {
		name := b.nodes[i].OperatorName
		if strings.Contains(name, "SINK") {
			continue
		}
		if j := b.findNamedSink(i, expectedSinkName(name)); j >= 0 {
			b.addChild(i, j)
			continue
		}
		if j := b.findNereidsSink(i); j >= 0 {
			b.addChild(i, j)
		}
	}
}

func expectedSinkName(name string) string {
	if base, ok := strings.CutSuffix(name, "_OPERATOR"); ok {
		return base + "_SINK_OPERATOR"
	}
	return name + "_SINK"
}

func (b *graphBuilder) findNamedSink(i int, expected string) int {
	for j := range b.nodes {
		if !b.sameFragmentOtherPipeline(i, j) {
			continue
		}
		if b.nodes[j].OperatorName == expected && b.ops[j].id == b.ops[i].id {
			return j
		}
	}
	return -1
}

func (b *graphBuilder) findNereidsSink(i int) int {
	nereids := b.ops[i].nereidsID
	if nereids == nil {
		return -1
	}
	for j := range b.nodes {
		if !b.sameFragmentOtherPipeline(i, j) {
			continue
		}
		other := b.ops[j].nereidsID
		if other == nil || *other != *nereids {
			continue
		}
		name := b.nodes[j].OperatorName
		if strings.Contains(name, "SINK") &&
			!strings.Contains(name, "RESULT_SINK") &&
			!strings.Contains(name, "DATA_STREAM_SINK") {
			return j
		}
	}
	return -1
}

func (b *graphBuilder) sameFragmentOtherPipeline(i, j int) bool {
	return i != j &&
		b.nodes[i].FragmentID == b.nodes[j].FragmentID &&
		b.nodes[i].PipelineID != b.nodes[j].PipelineID
}

// linkExchanges connects an exchange to the data stream sink whose
// destination id is the exchange's id, across fragments.
func (b *graphBuilder) linkExchanges() {
	exchanges := map[int]int{}
	sinks := map[int]int{}
	var dests []int
	for i, node := range b.nodes {
		name := node.OperatorName
		switch {
		case strings.Contains(name, "DATA_STREAM_SINK") && b.ops[i].destID != nil:
			dest := *b.ops[i].destID
			if _, ok := sinks[dest]; !ok {
				dests = append(dests, dest)
			}
			sinks[dest] = i
		case strings.Contains(name, "EXCHANGE_OPERATOR") &&
			!strings.Contains(name, "SINK") &&
			!strings.Contains(name, "LOCAL"):
			exchanges[b.ops[i].id] = i
		}
	}
	for _, dest := range dests {
		if ex, ok := exchanges[dest]; ok {
			b.addChild(ex, sinks[dest])
		}
	}
}

type localKey struct {
	fragment string
	id       int
}

// linkLocalExchanges connects local exchanges to their sinks within a
// fragment.
func (b *graphBuilder) linkLocalExchanges() {
	exchanges := map[localKey]int{}
	sinks := map[localKey]int{}
	var keys []localKey
	for i, node := range b.nodes {
		key := localKey{fragment: node.FragmentID, id: b.ops[i].id}
		switch {
		case strings.Contains(node.OperatorName, "LOCAL_EXCHANGE_SINK"):
			sinks[key] = i
		case strings.Contains(node.OperatorName, "LOCAL_EXCHANGE_OPERATOR"):
			if _, ok := exchanges[key]; !ok {
				keys = append(keys, key)
			}
			exchanges[key] = i
		}
	}
	for _, key := range keys {
		if sink, ok := sinks[key]; ok {
			b.addChild(exchanges[key], sink)
		}
	}
}

// multiParentAnomalies reports children linked under more than one parent.
// The graph is left untouched.
func (b *graphBuilder) multiParentAnomalies() []model.Anomaly {
	parents := map[string][]string{}
	for _, node := range b.nodes {
		for _, child := range node.Children {
			parents[child] = append(parents[child], node.ID)
		}
	}
	var anomalies []model.Anomaly
	for _, node := range b.nodes {
		ps := parents[node.ID]
		if len(ps) < 2 {
			continue
		}
		_ = level.Warn(b.logger).Log(
			"msg", "node has multiple parents",
			"node", node.ID,
			"operator", node.OperatorName,
			"parents", strings.Join(ps, ","),
		)
		anomalies = append(anomalies, model.Anomaly{NodeID: node.ID, Parents: ps})
	}
	if len(anomalies) == 0 {
		_ = level.Debug(b.logger).Log("msg", "execution graph has no multi-parent nodes", "nodes", len(b.nodes))
	}
	return anomalies
}

func (b *graphBuilder) selectRoot() int {
	for i, node := range b.nodes {
		if strings.Contains(node.OperatorName, "RESULT_SINK") {
			return i
		}
	}
	for i, node := range b.nodes {
		if node.FragmentID == "Fragment 0" && node.PipelineID == "Pipeline 0" {
			return i
		}
	}
	if len(b.nodes) > 0 {
		return 0
	}
	return -1
}

// assignDepths sets each node reachable from root to its BFS distance.
func (b *graphBuilder) assignDepths(root int) {
	if root < 0 {
		return
	}
	index := make(map[string]int, len(b.nodes))
	for i, node := range b.nodes {
		index[node.ID] = i
	}
	visited := make([]bool, len(b.nodes))
	visited[root] = true
	b.nodes[root].Depth = 0
	queue := []int{root}
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		for _, childID := range b.nodes[cur].Children {
			child, ok := index[childID]
			if !ok || visited[child] {
				continue
			}
			visited[child] = true
			b.nodes[child].Depth = b.nodes[cur].Depth + 1
			queue = append(queue, child)
		}
	}
}

// assignTimeShares computes each node's share of the summed execution time,
// its severity and the top two consumers.
func (b *graphBuilder) assignTimeShares() {
	var total int64
	for _, node := range b.nodes {
		if node.Metrics.ExecTimeNs != nil {
			total += *node.Metrics.ExecTimeNs
		}
	}
	if total == 0 {
		return
	}

	for i := range b.nodes {
		ns := b.nodes[i].Metrics.ExecTimeNs
		if ns == nil {
			continue
		}
		pct := float64(*ns) / float64(total) * 100
		b.nodes[i].TimePercentage = &pct
		b.nodes[i].Severity = SeverityFor(pct)
		b.nodes[i].IsHotspot = b.nodes[i].Severity != model.SeverityNone
	}

	ranked := make([]int, len(b.nodes))
	for i := range ranked {
		ranked[i] = i
	}
	sort.SliceStable(ranked, func(x, y int) bool {
		return execTime(b.nodes[ranked[x]]) > execTime(b.nodes[ranked[y]])
	})
	if len(ranked) > 0 {
		b.nodes[ranked[0]].IsMostConsuming = true
	}
	if len(ranked) > 1 {
		b.nodes[ranked[1]].IsSecondMostConsuming = true
	}
}

func execTime(node model.ExecutionTreeNode) int64 {
	if node.Metrics.ExecTimeNs == nil {
		return 0
	}
	return *node.Metrics.ExecTimeNs
}
