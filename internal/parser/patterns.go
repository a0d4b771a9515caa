package parser

import "github.com/grafana/regexp"

// Recognizers are compiled once and shared read-only by every parse.
var (
	summaryLinePattern     = regexp.MustCompile(`^\s*-\s+([^:]+):\s*(.*)$`)
	execSummaryLinePattern = regexp.MustCompile(`^\s+-\s+([^:]+):\s*(.*)$`)

	fragmentHeaderPattern = regexp.MustCompile(`^Fragment\s+(\d+):`)
	pipelineHeaderPattern = regexp.MustCompile(`^Pipeline\s+(\d+)\(instance_num=(\d+)\):`)

	dataStreamSinkPattern  = regexp.MustCompile(`^([A-Z][A-Z0-9_]*)\(dest_id=(\d+)\)`)
	localExchangePattern   = regexp.MustCompile(`^(LOCAL_EXCHANGE_(?:SINK_)?OPERATOR)\(([A-Z_]+)\)\(id=(-?\d+)\)`)
	standardHeaderPattern  = regexp.MustCompile(`^([A-Z][A-Z0-9_]*)(?:\(nereids_id=(\d+)\))?\(id=(-?\d+)`)
	alternateHeaderPattern = regexp.MustCompile(`^([A-Z][A-Z0-9_]*)\s+\(id=(-?\d+)\.?\s*(?:nereids_id=(\d+))?`)
	tableNamePattern       = regexp.MustCompile(`table name = ([^)]*)\)`)

	metricLinePattern = regexp.MustCompile(`^-\s+([^:]+):\s*(.*)$`)

	durationTermPattern    = regexp.MustCompile(`(\d+(?:\.\d+)?)\s*(hour|min|sec|ms|us|ns|s)`)
	durationCompactPattern = regexp.MustCompile(`^(?:\d+(?:\.\d+)?\s*(?:hour|min|sec|ms|us|ns|s)\s*)+$`)
	decimalPattern         = regexp.MustCompile(`^\d+(?:\.\d+)?$`)
	bytesPattern           = regexp.MustCompile(`^(\d+(?:\.\d+)?)\s*(B|KB|MB|GB|TB)$`)
	countPattern           = regexp.MustCompile(`^(\d+(?:\.\d+)?)\s*([KMB])?(?:\s*\((\d+)\))?$`)
	aggregatePattern       = regexp.MustCompile(`\b(sum|avg|max|min)\s+([^,]+)`)
)
