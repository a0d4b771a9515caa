package parser

import (
	"strings"

	"github.com/go-kit/log"

	"github.com/mickamy/xprofile/internal/model"
)

// ExtractFragments segments a MergedProfile body into fragments and their
// pipelines.
func ExtractFragments(text string) []model.Fragment {
	return extractFragments(text, log.NewNopLogger())
}

func extractFragments(text string, logger log.Logger) []model.Fragment {
	lines := strings.Split(text, "\n")

	start := 0
	for i, line := range lines {
		if strings.TrimSpace(line) == "Fragments:" {
			start = i + 1
			break
		}
	}

	var fragments []model.Fragment
	for i := start; i < len(lines); i++ {
		m := fragmentHeaderPattern.FindStringSubmatch(strings.TrimSpace(lines[i]))
		if m == nil {
			continue
		}
		end := blockEnd(lines, i, isFragmentHeader)
		fragments = append(fragments, model.Fragment{
			ID:        "Fragment " + m[1],
			Pipelines: extractPipelines(lines[i+1:end], logger),
		})
		i = end - 1
	}
	return fragments
}

func extractPipelines(lines []string, logger log.Logger) []model.Pipeline {
	pipelines := []model.Pipeline{}
	for i := 0; i < len(lines); i++ {
		m := pipelineHeaderPattern.FindStringSubmatch(strings.TrimSpace(lines[i]))
		if m == nil {
			continue
		}
		end := blockEnd(lines, i, isSegmentHeader)
		block := lines[i:end]

		ops := segmentOperators(block, logger)
		operators := make([]model.Operator, 0, len(ops))
		for _, op := range ops {
			operators = append(operators, op.toModel())
		}

		pipelines = append(pipelines, model.Pipeline{
			ID:        "Pipeline " + m[1],
			Counters:  pipelineCounters(block, m[2]),
			Operators: operators,
			RawText:   strings.Join(block, "\n"),
		})
		i = end - 1
	}
	return pipelines
}

// pipelineCounters reads the "- Key: Value" lines between the pipeline
// header and its first operator.
func pipelineCounters(block []string, instances string) map[string]string {
	counters := map[string]string{"instance_num": instances}
	for _, line := range block[1:] {
		trimmed := strings.TrimSpace(line)
		if isOperatorHeader(trimmed) {
			break
		}
		if m := metricLinePattern.FindStringSubmatch(trimmed); m != nil {
			counters[strings.TrimSpace(m[1])] = strings.TrimSpace(m[2])
		}
	}
	return counters
}

// blockEnd returns the index of the first line after header that is indented
// no deeper than header and satisfies terminates, or len(lines).
func blockEnd(lines []string, header int, terminates func(string) bool) int {
	base := indentOf(lines[header])
	for j := header + 1; j < len(lines); j++ {
		trimmed := strings.TrimSpace(lines[j])
		if trimmed == "" {
			continue
		}
		if indentOf(lines[j]) <= base && terminates(trimmed) {
			return j
		}
	}
	return len(lines)
}

func isFragmentHeader(trimmed string) bool {
	return fragmentHeaderPattern.MatchString(trimmed)
}
