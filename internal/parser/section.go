package parser

import (
	"fmt"
	"strings"

	"github.com/grafana/regexp"
	jsoniter "github.com/json-iterator/go"

	"github.com/mickamy/xprofile/internal/model"
)

const (
	markerSummary          = "Summary:"
	markerExecutionSummary = "Execution Summary:"
	markerSessionVariables = "ChangedSessionVariables:"
	markerMergedProfile    = "MergedProfile:"
)

var topLevelMarkers = []string{
	markerSummary,
	markerExecutionSummary,
	markerSessionVariables,
	markerMergedProfile,
}

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// ExtractSection returns the text following marker up to the next top-level
// section header.
func ExtractSection(doc, marker string) (string, error) {
	start := strings.Index(doc, marker)
	if start < 0 {
		return "", newError(KindMissingField, "%s", strings.TrimSuffix(marker, ":"))
	}
	remaining := doc[start+len(marker):]
	if remaining == "" {
		return "", newError(KindUnexpectedEOF, "%s has no body", strings.TrimSuffix(marker, ":"))
	}

	offset := 0
	first := true
	for _, line := range strings.SplitAfter(remaining, "\n") {
		if first {
			first = false
			offset += len(line)
			continue
		}
		if isTopLevelHeader(strings.TrimSpace(line)) {
			return remaining[:offset], nil
		}
		offset += len(line)
	}
	return remaining, nil
}

func isTopLevelHeader(trimmed string) bool {
	if trimmed == "" {
		return false
	}
	switch trimmed[0] {
	case '-', '[', '{':
		return false
	}
	for _, marker := range topLevelMarkers {
		if strings.HasPrefix(trimmed, marker) {
			return true
		}
	}
	return false
}

// ParseSummary reads the Summary block, overlaid with the Execution Summary
// block when present.
func ParseSummary(doc string) (model.ProfileSummary, error) {
	section, err := ExtractSection(doc, markerSummary)
	if err != nil {
		return model.ProfileSummary{}, err
	}

	fields := map[string]string{}
	collectFields(section, summaryLinePattern, fields)
	if exec, err := ExtractSection(doc, markerExecutionSummary); err == nil {
		collectFields(exec, execSummaryLinePattern, fields)
	}

	summary := model.ProfileSummary{
		QueryID:       fields["Profile ID"],
		QueryType:     fields["Task Type"],
		StartTime:     fields["Start Time"],
		EndTime:       fields["End Time"],
		TotalTime:     fields["Total"],
		State:         fields["Task State"],
		SQL:           fields["Sql Statement"],
		User:          fields["User"],
		Database:      fields["Default Db"],
		EngineVersion: fields["Doris Version"],
	}
	if ms, ok := DecodeDurationMs(summary.TotalTime); ok {
		summary.TotalTimeMs = ms
	}
	return summary, nil
}

func collectFields(section string, pattern *regexp.Regexp, into map[string]string) {
	for _, line := range strings.Split(section, "\n") {
		m := pattern.FindStringSubmatch(line)
		if m == nil {
			continue
		}
		into[strings.TrimSpace(m[1])] = strings.TrimSpace(m[2])
	}
}

// ParseSessionVariables decodes the JSON array that follows the
// ChangedSessionVariables marker.
func ParseSessionVariables(doc string) ([]map[string]string, error) {
	idx := strings.Index(doc, markerSessionVariables)
	if idx < 0 {
		return nil, newError(KindMissingField, "ChangedSessionVariables")
	}
	rest := doc[idx+len(markerSessionVariables):]
	open := strings.IndexByte(rest, '[')
	if open < 0 {
		return nil, newError(KindInvalidFormat, "session variables: no JSON array")
	}
	end, ok := matchBracket(rest, open)
	if !ok {
		return nil, newError(KindInvalidFormat, "session variables: unbalanced JSON bracket")
	}

	var raw []map[string]any
	dec := json.NewDecoder(strings.NewReader(rest[open : end+1]))
	dec.UseNumber()
	if err := dec.Decode(&raw); err != nil {
		return nil, wrapError(KindInvalidFormat, err, "session variables")
	}
	out := make([]map[string]string, 0, len(raw))
	for _, entry := range raw {
		vars := make(map[string]string, len(entry))
		for k, v := range entry {
			if v == nil {
				vars[k] = ""
				continue
			}
			if s, ok := v.(string); ok {
				vars[k] = s
				continue
			}
			vars[k] = fmt.Sprint(v)
		}
		out = append(out, vars)
	}
	return out, nil
}

// matchBracket returns the index of the ']' closing the '[' at open.
// Brackets inside JSON string literals are ignored.
func matchBracket(s string, open int) (int, bool) {
	depth := 0
	inString := false
	escaped := false
	for i := open; i < len(s); i++ {
		c := s[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			continue
		}
		switch c {
		case '"':
			inString = true
		case '[':
			depth++
		case ']':
			depth--
			if depth == 0 {
				return i, true
			}
		}
	}
	return 0, false
}

// ExtractMergedProfile returns the MergedProfile body.
func ExtractMergedProfile(doc string) (string, error) {
	return ExtractSection(doc, markerMergedProfile)
}

func sessionVariableMap(vars []map[string]string) map[string]string {
	if len(vars) == 0 {
		return nil
	}
	out := make(map[string]string, len(vars))
	for _, v := range vars {
		name, ok := v["VarName"]
		if !ok {
			continue
		}
		out[name] = v["CurrentValue"]
	}
	return out
}
