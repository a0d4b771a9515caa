package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"runtime/debug"
	"strings"
	"time"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
	jsoniter "github.com/json-iterator/go"
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/mickamy/xprofile/internal/analyzer"
	"github.com/mickamy/xprofile/internal/config"
	"github.com/mickamy/xprofile/internal/diff"
	"github.com/mickamy/xprofile/internal/insight"
	"github.com/mickamy/xprofile/internal/metrics"
	"github.com/mickamy/xprofile/internal/model"
	"github.com/mickamy/xprofile/internal/parser"
	"github.com/mickamy/xprofile/internal/render/html"
	"github.com/mickamy/xprofile/internal/render/tui"
	"github.com/mickamy/xprofile/internal/store"
)

var version = "dev"

var json = jsoniter.ConfigCompatibleWithStandardLibrary

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(1)
	}

	cmd := os.Args[1]
	args := os.Args[2:]

	var err error
	switch cmd {
	case "report":
		err = reportCommand(args)
	case "diff":
		err = diffCommand(args)
	case "archive":
		err = archiveCommand(args)
	case "version":
		err = versionCommand(args)
	case "help", "-h", "--help":
		usage()
		return
	default:
		_, _ = fmt.Fprintf(os.Stderr, "Unknown command %q\n\n", cmd)
		usage()
		os.Exit(1)
	}

	if err != nil {
		_, _ = fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func usage() {
	fmt.Println(`xprofile - Doris query profile analyzer

Usage:
  xprofile <command> [options]

Commands:
  report   Parse a profile and render a report (TUI, HTML or JSON)
  diff     Compare two profiles and emit a Markdown or JSON summary
  archive  Store a profile analysis in PostgreSQL
  version  Show CLI version information

Use "xprofile <command> -h" for command-specific help.`)
}

// commonFlags are shared by every command that reads profiles.
type commonFlags struct {
	configPath  *string
	logLevel    *string
	metricsFile *string
}

func registerCommon(fs *flag.FlagSet) commonFlags {
	return commonFlags{
		configPath:  fs.String("config", "", "Path to configuration file (YAML or JSON). Falls back to $XPROFILE_CONFIG"),
		logLevel:    fs.String("log-level", "warn", "Log level: debug, info, warn, error or none"),
		metricsFile: fs.String("metrics-file", "", "Write Prometheus metrics to this textfile after the run"),
	}
}

// session carries the per-command logger and metrics sink.
type session struct {
	logger      log.Logger
	metrics     *metrics.Metrics
	registry    *prometheus.Registry
	metricsFile string
}

func (c commonFlags) open() (*session, error) {
	if err := applyConfigPath(*c.configPath); err != nil {
		return nil, err
	}
	logger, err := newLogger(*c.logLevel)
	if err != nil {
		return nil, err
	}
	s := &session{logger: logger, metricsFile: strings.TrimSpace(*c.metricsFile)}
	if s.metricsFile != "" {
		s.registry = prometheus.NewRegistry()
		s.metrics = metrics.NewMetrics(s.registry)
	}
	return s, nil
}

// close flushes metrics to the textfile when one was requested.
func (s *session) close() error {
	if s.registry == nil {
		return nil
	}
	if err := prometheus.WriteToTextfile(s.metricsFile, s.registry); err != nil {
		return errors.Wrap(err, "write metrics")
	}
	_ = level.Debug(s.logger).Log("msg", "metrics written", "path", s.metricsFile)
	return nil
}

func newLogger(name string) (log.Logger, error) {
	var option level.Option
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "debug":
		option = level.AllowDebug()
	case "info":
		option = level.AllowInfo()
	case "", "warn", "warning":
		option = level.AllowWarn()
	case "error":
		option = level.AllowError()
	case "none":
		option = level.AllowNone()
	default:
		return nil, errors.Errorf("unknown log level %q", name)
	}
	logger := log.NewLogfmtLogger(log.NewSyncWriter(os.Stderr))
	logger = level.NewFilter(logger, option)
	logger = log.With(logger, "ts", log.DefaultTimestampUTC)
	return logger, nil
}

func applyConfigPath(path string) error {
	path = strings.TrimSpace(path)
	if path == "" {
		path = strings.TrimSpace(os.Getenv("XPROFILE_CONFIG"))
	}
	return config.Apply(path)
}

func parseFlags(fs *flag.FlagSet, args []string) (bool, error) {
	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			fs.SetOutput(os.Stdout)
			fs.Usage()
			return true, nil
		}
		return false, err
	}
	return false, nil
}

func reportCommand(args []string) (err error) {
	fs := flag.NewFlagSet("report", flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	fs.Usage = func() {
		_, _ = fmt.Fprintf(os.Stdout, "Usage: xprofile report --input profile.txt [--mode tui|html|json] [--out file]\n\nOptions:\n")
		fs.PrintDefaults()
	}

	var (
		input      = fs.String("input", "", "Path to the profile text (- for stdin)")
		output     = fs.String("out", "", "Output path (stdout if omitted)")
		mode       = fs.String("mode", "tui", "Output mode: tui, html or json")
		title      = fs.String("title", "xprofile report", "Report title (HTML)")
		color      = fs.Bool("color", true, "Enable ANSI colors for TUI output")
		maxDepth   = fs.Int("max-depth", 0, "Limit graph depth (TUI)")
		insights   = fs.Bool("insights", true, "Show insights (TUI)")
		includeCSS = fs.Bool("css", true, "Include inline styles (HTML)")
		common     = registerCommon(fs)
	)

	if help, err := parseFlags(fs, args); help || err != nil {
		return err
	}
	if *input == "" {
		return errors.New("--input is required")
	}
	s, err := common.open()
	if err != nil {
		return err
	}
	defer func() {
		if cerr := s.close(); err == nil {
			err = cerr
		}
	}()

	analysis, err := s.loadAnalysis(*input)
	if err != nil {
		return err
	}

	target, closeTarget, err := openOutput(*output)
	if err != nil {
		return err
	}
	defer closeTarget()

	switch *mode {
	case "tui":
		return tui.Render(target, analysis, tui.Options{
			EnableColor:  *color,
			MaxDepth:     *maxDepth,
			ShowInsights: *insights,
		})
	case "html":
		return html.Render(target, analysis, html.Options{
			Title:         *title,
			IncludeStyles: *includeCSS,
		})
	case "json":
		return writeJSONReport(target, analysis)
	default:
		return errors.Errorf("unknown mode %q (expected tui, html or json)", *mode)
	}
}

type jsonReport struct {
	Profile       *model.Profile     `json:"profile"`
	TotalTimeMs   float64            `json:"total_time_ms"`
	OperatorMs    float64            `json:"operator_time_ms"`
	Score         int                `json:"performance_score"`
	ScoreCategory string             `json:"score_category"`
	Conclusion    string             `json:"conclusion"`
	Hotspots      []analyzer.Hotspot `json:"hotspots"`
	Insights      []insight.Message  `json:"insights"`
}

func writeJSONReport(w io.Writer, analysis *analyzer.ProfileAnalysis) error {
	payload, err := json.MarshalIndent(jsonReport{
		Profile:       analysis.Profile,
		TotalTimeMs:   analysis.TotalTimeMs,
		OperatorMs:    analysis.OperatorTimeMs,
		Score:         analysis.Score,
		ScoreCategory: analysis.ScoreCategory,
		Conclusion:    analysis.Conclusion,
		Hotspots:      analysis.Hotspots,
		Insights:      insight.BuildMessages(analysis),
	}, "", "  ")
	if err != nil {
		return errors.Wrap(err, "encode report")
	}
	payload = append(payload, '\n')
	_, err = w.Write(payload)
	return err
}

func diffCommand(args []string) (err error) {
	fs := flag.NewFlagSet("diff", flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	fs.Usage = func() {
		_, _ = fmt.Fprintf(os.Stdout, "Usage: xprofile diff --base base.txt --target target.txt [--format md|json]\n\nOptions:\n")
		fs.PrintDefaults()
	}

	var (
		basePath   = fs.String("base", "", "Path to the baseline profile")
		targetPath = fs.String("target", "", "Path to the target profile")
		format     = fs.String("format", "md", "Output format: md or json")
		output     = fs.String("out", "", "Output path (stdout if omitted)")
		minDelta   = fs.Float64("min-delta", 0, "Minimum self-time delta in ms to report (default from config)")
		minPct     = fs.Float64("min-percent", 0, "Minimum percent change to report (default from config)")
		maxItems   = fs.Int("limit", 0, "Maximum rows per section (default from config)")
		common     = registerCommon(fs)
	)

	if help, err := parseFlags(fs, args); help || err != nil {
		return err
	}
	if *basePath == "" || *targetPath == "" {
		return errors.New("--base and --target are required")
	}
	s, err := common.open()
	if err != nil {
		return err
	}
	defer func() {
		if cerr := s.close(); err == nil {
			err = cerr
		}
	}()

	baseAnalysis, err := s.loadAnalysis(*basePath)
	if err != nil {
		return errors.Wrap(err, "load base")
	}
	targetAnalysis, err := s.loadAnalysis(*targetPath)
	if err != nil {
		return errors.Wrap(err, "load target")
	}

	report, err := diff.Compare(baseAnalysis, targetAnalysis, diff.Options{
		MinSelfTimeDeltaMs: *minDelta,
		MinPercentChange:   *minPct,
		MaxItems:           *maxItems,
	})
	if err != nil {
		return err
	}

	var payload []byte
	switch *format {
	case "md", "markdown":
		payload = []byte(report.Markdown())
	case "json":
		payload, err = report.JSON()
		if err != nil {
			return err
		}
		payload = append(payload, '\n')
	default:
		return errors.Errorf("unsupported format %q", *format)
	}

	target, closeTarget, err := openOutput(*output)
	if err != nil {
		return err
	}
	defer closeTarget()
	_, err = target.Write(payload)
	return err
}

func archiveCommand(args []string) (err error) {
	fs := flag.NewFlagSet("archive", flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	fs.Usage = func() {
		_, _ = fmt.Fprintf(os.Stdout, "Usage: xprofile archive --url <url> --input profile.txt\n\nOptions:\n")
		fs.PrintDefaults()
	}

	envURL := os.Getenv("DATABASE_URL")

	var (
		urlFlag = fs.String("url", envURL, "PostgreSQL connection string; defaults to $DATABASE_URL")
		input   = fs.String("input", "", "Path to the profile text (- for stdin)")
		timeout = fs.Duration("timeout", 30*time.Second, "Database timeout, e.g. 45s")
		common  = registerCommon(fs)
	)

	if help, err := parseFlags(fs, args); help || err != nil {
		return err
	}
	connection := strings.TrimSpace(*urlFlag)
	if connection == "" {
		return errors.New("--url is required or set $DATABASE_URL")
	}
	if *input == "" {
		return errors.New("--input is required")
	}
	s, err := common.open()
	if err != nil {
		return err
	}
	defer func() {
		if cerr := s.close(); err == nil {
			err = cerr
		}
	}()

	analysis, err := s.loadAnalysis(*input)
	if err != nil {
		return err
	}

	id, err := store.Save(context.Background(), connection, analysis, store.Options{Timeout: *timeout})
	if err != nil {
		return err
	}
	_ = level.Info(s.logger).Log("msg", "analysis archived", "id", id, "query_id", analysis.Summary.QueryID)
	fmt.Println(id)
	return nil
}

func versionCommand(args []string) error {
	fs := flag.NewFlagSet("version", flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	short := fs.Bool("short", false, "Print only the version number")

	if help, err := parseFlags(fs, args); help || err != nil {
		return err
	}

	v, meta := resolveVersion()
	if *short {
		fmt.Println(v)
		return nil
	}
	if meta != "" {
		fmt.Printf("xprofile %s (%s)\n", v, meta)
	} else {
		fmt.Printf("xprofile %s\n", v)
	}
	return nil
}

func resolveVersion() (string, string) {
	v := strings.TrimSpace(version)
	if v == "" {
		v = "dev"
	}

	var commit, buildTime string
	var dirty bool
	if info, ok := debug.ReadBuildInfo(); ok {
		if (v == "dev" || v == "(devel)") &&
			info.Main.Version != "" &&
			info.Main.Version != "(devel)" &&
			!strings.HasPrefix(info.Main.Version, "v0.0.0-") {
			v = info.Main.Version
		}
		for _, setting := range info.Settings {
			switch setting.Key {
			case "vcs.revision":
				commit = setting.Value
			case "vcs.time":
				buildTime = setting.Value
			case "vcs.modified":
				dirty = setting.Value == "true"
			}
		}
	}

	var details []string
	if commit != "" {
		short := commit
		if len(short) > 12 {
			short = short[:12]
		}
		if dirty {
			short += "*"
		}
		details = append(details, "commit "+short)
	}
	if buildTime != "" {
		details = append(details, "built "+buildTime)
	}

	return v, strings.Join(details, ", ")
}

// loadAnalysis reads, parses and analyzes one profile, recording the
// outcome in the session metrics.
func (s *session) loadAnalysis(path string) (*analyzer.ProfileAnalysis, error) {
	var r io.Reader = os.Stdin
	if path != "-" {
		file, err := os.Open(path)
		if err != nil {
			return nil, errors.Wrapf(err, "open %s", path)
		}
		defer func() {
			_ = file.Close()
		}()
		r = file
	}

	start := time.Now()
	analysis, err := s.analyze(r)
	if err != nil {
		if s.metrics != nil {
			s.metrics.ObserveFailure(err)
		}
		_ = level.Error(s.logger).Log("msg", "profile rejected", "path", path, "reason", metrics.Reason(err), "err", err)
		return nil, err
	}
	elapsed := time.Since(start)
	if s.metrics != nil {
		s.metrics.Observe(analysis, elapsed)
	}
	_ = level.Info(s.logger).Log(
		"msg", "profile analyzed",
		"path", path,
		"query_id", analysis.Summary.QueryID,
		"nodes", analysis.NodeCount,
		"hotspots", len(analysis.Hotspots),
		"elapsed", elapsed,
	)
	return analysis, nil
}

func (s *session) analyze(r io.Reader) (*analyzer.ProfileAnalysis, error) {
	profile, err := parser.NewComposer(s.logger).ParseReader(r)
	if err != nil {
		return nil, err
	}
	return analyzer.Analyze(profile)
}

func openOutput(path string) (io.Writer, func(), error) {
	if path == "" {
		return os.Stdout, func() {}, nil
	}
	file, err := os.Create(path)
	if err != nil {
		return nil, nil, errors.Wrap(err, "create output")
	}
	return file, func() { _ = file.Close() }, nil
}
