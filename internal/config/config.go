package config

import (
	"os"
	"sync"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

// Config holds tunable thresholds for hotspot scoring, insights and diff reporting.
type Config struct {
	Analysis AnalysisConfig `json:"analysis" yaml:"analysis"`
	Insights InsightConfig  `json:"insights" yaml:"insights"`
	Diff     DiffConfig     `json:"diff" yaml:"diff"`
}

// AnalysisConfig defines hotspot thresholds and the performance score rules.
type AnalysisConfig struct {
	CriticalPercent float64 `json:"critical_percent" yaml:"critical_percent"`
	HighPercent     float64 `json:"high_percent" yaml:"high_percent"`
	MediumPercent   float64 `json:"medium_percent" yaml:"medium_percent"`
	LowPercent      float64 `json:"low_percent" yaml:"low_percent"`

	NoHotspotScore  int `json:"no_hotspot_score" yaml:"no_hotspot_score"`
	CriticalPenalty int `json:"critical_penalty" yaml:"critical_penalty"`
	HighPenalty     int `json:"high_penalty" yaml:"high_penalty"`
	MediumPenalty   int `json:"medium_penalty" yaml:"medium_penalty"`
	LowPenalty      int `json:"low_penalty" yaml:"low_penalty"`

	VeryLongQueryMs      float64 `json:"very_long_query_ms" yaml:"very_long_query_ms"`
	VeryLongQueryPenalty int     `json:"very_long_query_penalty" yaml:"very_long_query_penalty"`
	LongQueryMs          float64 `json:"long_query_ms" yaml:"long_query_ms"`
	LongQueryPenalty     int     `json:"long_query_penalty" yaml:"long_query_penalty"`
	SlowQueryMs          float64 `json:"slow_query_ms" yaml:"slow_query_ms"`
	SlowQueryPenalty     int     `json:"slow_query_penalty" yaml:"slow_query_penalty"`

	ScoreExcellent int `json:"score_excellent" yaml:"score_excellent"`
	ScoreGood      int `json:"score_good" yaml:"score_good"`
	ScoreFair      int `json:"score_fair" yaml:"score_fair"`
	ScorePoor      int `json:"score_poor" yaml:"score_poor"`
}

// InsightConfig defines thresholds for insight generation.
type InsightConfig struct {
	SkewRatio           float64 `json:"skew_ratio" yaml:"skew_ratio"`
	SkewMinPercent      float64 `json:"skew_min_percent" yaml:"skew_min_percent"`
	MemoryWarningBytes  int64   `json:"memory_warning_bytes" yaml:"memory_warning_bytes"`
	MemoryCriticalBytes int64   `json:"memory_critical_bytes" yaml:"memory_critical_bytes"`
	MaxSkewMessages     int     `json:"max_skew_messages" yaml:"max_skew_messages"`
}

// DiffConfig defines thresholds for diff summaries.
type DiffConfig struct {
	MinSelfDeltaMs   float64 `json:"min_self_delta_ms" yaml:"min_self_delta_ms"`
	MinPercentChange float64 `json:"min_percent_change" yaml:"min_percent_change"`
	MaxItems         int     `json:"max_items" yaml:"max_items"`
	CriticalDeltaMs  float64 `json:"critical_delta_ms" yaml:"critical_delta_ms"`
	WarningDeltaMs   float64 `json:"warning_delta_ms" yaml:"warning_delta_ms"`
}

var (
	mu     sync.RWMutex
	active = Default()
)

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		Analysis: AnalysisConfig{
			CriticalPercent:      50,
			HighPercent:          30,
			MediumPercent:        15,
			LowPercent:           5,
			NoHotspotScore:       95,
			CriticalPenalty:      30,
			HighPenalty:          20,
			MediumPenalty:        10,
			LowPenalty:           5,
			VeryLongQueryMs:      60000,
			VeryLongQueryPenalty: 15,
			LongQueryMs:          10000,
			LongQueryPenalty:     10,
			SlowQueryMs:          5000,
			SlowQueryPenalty:     5,
			ScoreExcellent:       90,
			ScoreGood:            70,
			ScoreFair:            50,
			ScorePoor:            30,
		},
		Insights: InsightConfig{
			SkewRatio:           2.0,
			SkewMinPercent:      5,
			MemoryWarningBytes:  1 << 30,
			MemoryCriticalBytes: 8 << 30,
			MaxSkewMessages:     2,
		},
		Diff: DiffConfig{
			MinSelfDeltaMs:   5.0,
			MinPercentChange: 5.0,
			MaxItems:         8,
			CriticalDeltaMs:  500.0,
			WarningDeltaMs:   50.0,
		},
	}
}

// Active returns the currently applied configuration.
func Active() Config {
	mu.RLock()
	defer mu.RUnlock()
	return active
}

// Use replaces the active configuration.
func Use(cfg Config) {
	mu.Lock()
	active = cfg
	mu.Unlock()
}

// Apply loads configuration from the provided path. YAML and JSON files are
// both accepted. Empty path resets to default.
func Apply(path string) error {
	if path == "" {
		Use(Default())
		return nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return errors.Wrap(err, "read config")
	}
	cfg := Default()
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return errors.Wrap(err, "parse config")
	}
	Use(cfg)
	return nil
}
