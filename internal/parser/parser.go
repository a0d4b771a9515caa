package parser

import (
	"io"
	"strings"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"

	"github.com/mickamy/xprofile/internal/model"
)

// Composer runs the full profile pipeline: summary, session variables,
// fragments and the execution graph. It holds no per-parse state and is
// safe for concurrent use.
type Composer struct {
	logger log.Logger
}

// NewComposer returns a Composer that reports diagnostics to logger.
func NewComposer(logger log.Logger) *Composer {
	if logger == nil {
		logger = log.NewNopLogger()
	}
	return &Composer{logger: logger}
}

// Parse parses a profile dump without diagnostic logging.
func Parse(text string) (*model.Profile, error) {
	return NewComposer(nil).Parse(text)
}

// ParseReader reads the whole of r and parses it.
func ParseReader(r io.Reader) (*model.Profile, error) {
	return NewComposer(nil).ParseReader(r)
}

// ParseReader reads the whole of r and parses it.
func (c *Composer) ParseReader(r io.Reader) (*model.Profile, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, wrapError(KindIO, err, "read profile")
	}
	return c.Parse(string(data))
}

// Parse parses a profile dump. Missing Summary or MergedProfile sections and
// bodies without fragments are fatal; unreadable session variables are not.
func (c *Composer) Parse(text string) (*model.Profile, error) {
	if strings.TrimSpace(text) == "" {
		return nil, newError(KindInvalidFormat, "empty profile")
	}

	summary, err := ParseSummary(text)
	if err != nil {
		return nil, err
	}

	if vars, err := ParseSessionVariables(text); err != nil {
		_ = level.Debug(c.logger).Log("msg", "session variables unavailable", "err", err)
	} else {
		summary.SessionVariables = vars
		summary.Variables = sessionVariableMap(vars)
	}

	merged, err := ExtractMergedProfile(text)
	if err != nil {
		return nil, err
	}

	fragments := extractFragments(merged, c.logger)
	if len(fragments) == 0 {
		return nil, newError(KindInvalidFormat, "no fragments found in MergedProfile")
	}

	tree := BuildExecutionTree(fragments, c.logger)
	_ = level.Debug(c.logger).Log(
		"msg", "profile parsed",
		"query_id", summary.QueryID,
		"fragments", len(fragments),
		"nodes", len(tree.Nodes),
	)

	return &model.Profile{
		Summary:       summary,
		Fragments:     fragments,
		ExecutionTree: tree,
	}, nil
}
