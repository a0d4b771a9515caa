package model

// Profile is the parsed form of a single engine profile dump.
type Profile struct {
	Summary       ProfileSummary `json:"summary"`
	Fragments     []Fragment     `json:"fragments"`
	ExecutionTree *ExecutionTree `json:"execution_tree"`
}

// ProfileSummary captures query identity and metadata from the Summary block.
type ProfileSummary struct {
	QueryID       string  `json:"query_id"`
	QueryType     string  `json:"query_type,omitempty"`
	StartTime     string  `json:"start_time"`
	EndTime       string  `json:"end_time"`
	TotalTime     string  `json:"total_time"`
	TotalTimeMs   float64 `json:"total_time_ms"`
	State         string  `json:"query_state"`
	SQL           string  `json:"sql_statement"`
	User          string  `json:"user,omitempty"`
	Database      string  `json:"default_db,omitempty"`
	EngineVersion string  `json:"engine_version,omitempty"`
	// SessionVariables is the raw ChangedSessionVariables payload.
	SessionVariables []map[string]string `json:"session_variables,omitempty"`
	// Variables maps VarName to CurrentValue.
	Variables map[string]string `json:"variables,omitempty"`
}

// Fragment is one physical execution unit of the distributed plan.
type Fragment struct {
	ID        string     `json:"id"`
	Pipelines []Pipeline `json:"pipelines"`
}

// Pipeline is a chain of operators executed together inside a fragment.
type Pipeline struct {
	ID        string            `json:"id"`
	Counters  map[string]string `json:"counters"`
	Operators []Operator        `json:"operators"`
	RawText   string            `json:"-"`
}

// Operator is the model-level view of an operator block.
type Operator struct {
	Name           string            `json:"name"`
	ID             int               `json:"id"`
	Metrics        map[string]string `json:"metrics"`
	PlanInfo       []MetricItem      `json:"plan_info,omitempty"`
	CommonCounters []MetricItem      `json:"common_counters,omitempty"`
	CustomCounters []MetricItem      `json:"custom_counters,omitempty"`
}

// MetricItem is a single "- Key: Value" line and its indented sub-statistics.
type MetricItem struct {
	Key      string       `json:"key"`
	Value    string       `json:"value"`
	Children []MetricItem `json:"children,omitempty"`
}

// NodeType classifies an execution node by its operator name.
type NodeType string

const (
	NodeTableScan      NodeType = "table_scan"
	NodeExchange       NodeType = "exchange"
	NodeHashJoin       NodeType = "hash_join"
	NodeAggregate      NodeType = "aggregate"
	NodeSort           NodeType = "sort"
	NodeLimit          NodeType = "limit"
	NodeProject        NodeType = "project"
	NodeFilter         NodeType = "filter"
	NodeUnion          NodeType = "union"
	NodeResultSink     NodeType = "result_sink"
	NodeDataStreamSink NodeType = "data_stream_sink"
	NodeUnknown        NodeType = "unknown"
)

// Severity grades how much of the total execution time a node consumes.
type Severity string

const (
	SeverityCritical Severity = "critical"
	SeverityHigh     Severity = "high"
	SeverityMedium   Severity = "medium"
	SeverityLow      Severity = "low"
	SeverityNone     Severity = "none"
)

// Rank orders severities; higher is more severe.
func (s Severity) Rank() int {
	switch s {
	case SeverityCritical:
		return 4
	case SeverityHigh:
		return 3
	case SeverityMedium:
		return 2
	case SeverityLow:
		return 1
	default:
		return 0
	}
}

// OperatorMetrics holds the decoded headline metrics of a node.
// Nil pointers mean the counter was absent or could not be decoded.
type OperatorMetrics struct {
	ExecTimeNs      *int64 `json:"exec_time_ns,omitempty"`
	ExecTimeRaw     string `json:"exec_time_raw,omitempty"`
	RowsProduced    *int64 `json:"rows_produced,omitempty"`
	RowsConsumed    *int64 `json:"rows_consumed,omitempty"`
	PeakMemoryBytes *int64 `json:"peak_memory_bytes,omitempty"`
}

// ExecutionTreeNode is one operator in the reconstructed execution graph.
type ExecutionTreeNode struct {
	ID                    string            `json:"id"`
	OperatorName          string            `json:"operator_name"`
	NodeType              NodeType          `json:"node_type"`
	PlanNodeID            *int              `json:"plan_node_id,omitempty"`
	Metrics               OperatorMetrics   `json:"metrics"`
	Children              []string          `json:"children"`
	Depth                 int               `json:"depth"`
	IsHotspot             bool              `json:"is_hotspot"`
	Severity              Severity          `json:"hotspot_severity"`
	FragmentID            string            `json:"fragment_id,omitempty"`
	PipelineID            string            `json:"pipeline_id,omitempty"`
	TimePercentage        *float64          `json:"time_percentage,omitempty"`
	IsMostConsuming       bool              `json:"is_most_consuming"`
	IsSecondMostConsuming bool              `json:"is_second_most_consuming"`
	UniqueMetrics         map[string]string `json:"unique_metrics,omitempty"`
	PlanInfo              []MetricItem      `json:"plan_info,omitempty"`
	CommonCounters        []MetricItem      `json:"common_counters,omitempty"`
	CustomCounters        []MetricItem      `json:"custom_counters,omitempty"`
}

// Clone returns a copy that shares no slices or maps with n.
func (n ExecutionTreeNode) Clone() ExecutionTreeNode {
	out := n
	out.Children = append([]string(nil), n.Children...)
	if n.PlanNodeID != nil {
		id := *n.PlanNodeID
		out.PlanNodeID = &id
	}
	if n.TimePercentage != nil {
		pct := *n.TimePercentage
		out.TimePercentage = &pct
	}
	out.Metrics = n.Metrics.clone()
	if n.UniqueMetrics != nil {
		out.UniqueMetrics = make(map[string]string, len(n.UniqueMetrics))
		for k, v := range n.UniqueMetrics {
			out.UniqueMetrics[k] = v
		}
	}
	out.PlanInfo = cloneItems(n.PlanInfo)
	out.CommonCounters = cloneItems(n.CommonCounters)
	out.CustomCounters = cloneItems(n.CustomCounters)
	return out
}

func (m OperatorMetrics) clone() OperatorMetrics {
	cp := func(v *int64) *int64 {
		if v == nil {
			return nil
		}
		x := *v
		return &x
	}
	return OperatorMetrics{
		ExecTimeNs:      cp(m.ExecTimeNs),
		ExecTimeRaw:     m.ExecTimeRaw,
		RowsProduced:    cp(m.RowsProduced),
		RowsConsumed:    cp(m.RowsConsumed),
		PeakMemoryBytes: cp(m.PeakMemoryBytes),
	}
}

func cloneItems(items []MetricItem) []MetricItem {
	if items == nil {
		return nil
	}
	out := make([]MetricItem, len(items))
	for i, item := range items {
		out[i] = MetricItem{Key: item.Key, Value: item.Value, Children: cloneItems(item.Children)}
	}
	return out
}

// Anomaly records a node that was linked under more than one parent.
type Anomaly struct {
	NodeID  string   `json:"node_id"`
	Parents []string `json:"parents"`
}

// ExecutionTree is the reconstructed operator graph. Despite the name it is
// not guaranteed to be a strict tree; see Anomalies.
type ExecutionTree struct {
	Root      ExecutionTreeNode   `json:"root"`
	Nodes     []ExecutionTreeNode `json:"nodes"`
	Anomalies []Anomaly           `json:"anomalies,omitempty"`
}
