package parser_test

import (
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/mickamy/xprofile/internal/parser"
)

const sectionDoc = `Summary:
   - Profile ID: 5c0e1d7a-44aa
   - Task Type: QUERY
   - Start Time: 2025-12-15 19:55:24
   - End Time: 2025-12-15 19:55:25
   - Total: 1sec240ms
   - Task State: EOF
   - User: root
   - Default Db: tpcds
   - Doris Version: doris-2.1.7
   - Sql Statement: SELECT 1
   - Unrelated Key: dropped
Execution Summary:
   - Workload Group: normal
   - Task State: OK
ChangedSessionVariables:
[
  {"VarName": "exec_mem_limit", "CurrentValue": "[8GB]", "DefaultValue": "2GB"},
  {"VarName": "parallel_pipeline_task_num", "CurrentValue": 8, "DefaultValue": 0}
]
MergedProfile:
     Fragments:
       Fragment 0:
`

func TestExtractSection(t *testing.T) {
	body, err := parser.ExtractSection(sectionDoc, "Summary:")
	require.NoError(t, err)
	require.Contains(t, body, "Profile ID: 5c0e1d7a-44aa")
	require.NotContains(t, body, "Workload Group")

	exec, err := parser.ExtractSection(sectionDoc, "Execution Summary:")
	require.NoError(t, err)
	require.Contains(t, exec, "Workload Group")
	require.NotContains(t, exec, "VarName")

	merged, err := parser.ExtractMergedProfile(sectionDoc)
	require.NoError(t, err)
	require.Contains(t, merged, "Fragment 0:")
}

func TestExtractSectionMissingMarker(t *testing.T) {
	_, err := parser.ExtractSection("Summary:\n   - Profile ID: x\n", "MergedProfile:")
	require.Error(t, err)
	require.True(t, errors.Is(err, parser.ErrMissingField))
}

func TestExtractSectionMarkerAtEOF(t *testing.T) {
	_, err := parser.ExtractSection("Summary:\n   - Profile ID: x\nMergedProfile:", "MergedProfile:")
	require.True(t, errors.Is(err, parser.ErrUnexpectedEOF))
}

func TestExtractSectionIgnoresDashAndBracketLines(t *testing.T) {
	doc := "Summary:\n   - MergedProfile: not a header\n{MergedProfile:}\nMergedProfile:\n  body\n"
	body, err := parser.ExtractSection(doc, "Summary:")
	require.NoError(t, err)
	require.Contains(t, body, "not a header")
	require.Contains(t, body, "{MergedProfile:}")
	require.NotContains(t, body, "body")
}

func TestParseSummary(t *testing.T) {
	summary, err := parser.ParseSummary(sectionDoc)
	require.NoError(t, err)

	require.Equal(t, "5c0e1d7a-44aa", summary.QueryID)
	require.Equal(t, "QUERY", summary.QueryType)
	require.Equal(t, "2025-12-15 19:55:24", summary.StartTime)
	require.Equal(t, "2025-12-15 19:55:25", summary.EndTime)
	require.Equal(t, "1sec240ms", summary.TotalTime)
	require.InDelta(t, 1240.0, summary.TotalTimeMs, 1e-9)
	require.Equal(t, "OK", summary.State, "execution summary overrides the metadata block")
	require.Equal(t, "root", summary.User)
	require.Equal(t, "tpcds", summary.Database)
	require.Equal(t, "doris-2.1.7", summary.EngineVersion)
	require.Equal(t, "SELECT 1", summary.SQL)
}

func TestParseSummaryMissing(t *testing.T) {
	_, err := parser.ParseSummary("MergedProfile:\n  Fragment 0:\n")
	require.True(t, errors.Is(err, parser.ErrMissingField))
}

func TestParseSessionVariables(t *testing.T) {
	vars, err := parser.ParseSessionVariables(sectionDoc)
	require.NoError(t, err)
	require.Len(t, vars, 2)
	require.Equal(t, "[8GB]", vars[0]["CurrentValue"])
	require.Equal(t, "8", vars[1]["CurrentValue"])
	require.Equal(t, "parallel_pipeline_task_num", vars[1]["VarName"])
}

func TestParseSessionVariablesErrors(t *testing.T) {
	t.Run("missing marker", func(t *testing.T) {
		_, err := parser.ParseSessionVariables("Summary:\n")
		require.True(t, errors.Is(err, parser.ErrMissingField))
	})
	t.Run("no array", func(t *testing.T) {
		_, err := parser.ParseSessionVariables("ChangedSessionVariables:\nnone\n")
		require.True(t, errors.Is(err, parser.ErrInvalidFormat))
	})
	t.Run("unbalanced", func(t *testing.T) {
		_, err := parser.ParseSessionVariables("ChangedSessionVariables:\n[ {\"VarName\": \"a\"}\n")
		require.True(t, errors.Is(err, parser.ErrInvalidFormat))
		require.True(t, strings.Contains(err.Error(), "unbalanced"))
	})
	t.Run("bad json", func(t *testing.T) {
		_, err := parser.ParseSessionVariables("ChangedSessionVariables:\n[ {VarName: a} ]\n")
		require.True(t, errors.Is(err, parser.ErrInvalidFormat))
	})
}
