package test

import (
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/mickamy/xprofile/internal/analyzer"
	"github.com/mickamy/xprofile/internal/model"
	"github.com/mickamy/xprofile/internal/parser"
)

var (
	rootPath string
	once     sync.Once
)

// RootPath resolves the repository root (where go.mod resides).
func RootPath(t *testing.T) string {
	t.Helper()
	once.Do(func() {
		wd, err := os.Getwd()
		if err != nil {
			t.Fatalf("getwd: %v", err)
		}
		for {
			if _, err := os.Stat(filepath.Join(wd, "go.mod")); err == nil {
				rootPath = wd
				break
			}
			next := filepath.Dir(wd)
			if next == wd {
				t.Fatalf("go.mod not found from %s", wd)
			}
			wd = next
		}
	})
	return rootPath
}

// ReadSample returns the contents of a file under samples/.
func ReadSample(t *testing.T, rel string) string {
	t.Helper()
	data, err := os.ReadFile(filepath.Join(RootPath(t), "samples", rel))
	if err != nil {
		t.Fatalf("read sample: %v", err)
	}
	return string(data)
}

// LoadSampleProfile parses a profile dump under samples/.
func LoadSampleProfile(t *testing.T, rel string) *model.Profile {
	t.Helper()
	profile, err := parser.Parse(ReadSample(t, rel))
	if err != nil {
		t.Fatalf("parse profile: %v", err)
	}
	return profile
}

// LoadSampleAnalysis parses and analyzes a profile dump under samples/.
func LoadSampleAnalysis(t *testing.T, rel string) *analyzer.ProfileAnalysis {
	t.Helper()
	analysis, err := analyzer.Analyze(LoadSampleProfile(t, rel))
	if err != nil {
		t.Fatalf("analyze profile: %v", err)
	}
	return analysis
}
