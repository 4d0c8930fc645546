package harness

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// ScenarioResult summarizes one scenario file inside a suite run.
type ScenarioResult struct {
	Path     string   `json:"path"`
	Scenario string   `json:"scenario,omitempty"`
	Pass     bool     `json:"pass"`
	Failures []string `json:"failures,omitempty"`
	// Error is set when the scenario could not be loaded or executed at
	// all, as opposed to running and failing assertions.
	Error string `json:"error,omitempty"`
}

// SuiteResult aggregates a directory or file-list run.
type SuiteResult struct {
	Total   int              `json:"total"`
	Passed  int              `json:"passed"`
	Failed  int              `json:"failed"`
	Results []ScenarioResult `json:"results"`
}

// Pass reports whether every scenario in the suite passed.
func (r *SuiteResult) Pass() bool { return r.Failed == 0 }

// FindScenarios returns the scenario files under root, sorted. A file
// path is returned as-is; a directory is walked recursively for .yaml
// and .yml files, skipping golden fixtures.
func FindScenarios(root string) ([]string, error) {
	info, err := os.Stat(root)
	if err != nil {
		return nil, fmt.Errorf("find scenarios: %w", err)
	}
	if !info.IsDir() {
		return []string{root}, nil
	}

	var files []string
	err = filepath.WalkDir(root, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			if d.Name() == "golden" {
				return filepath.SkipDir
			}
			return nil
		}
		switch strings.ToLower(filepath.Ext(p)) {
		case ".yaml", ".yml":
			files = append(files, p)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("find scenarios: %w", err)
	}
	sort.Strings(files)
	return files, nil
}

// RunFiles executes the given scenario files in order and aggregates the
// outcomes. Load and execution errors count as failures; they never
// abort the rest of the suite.
func RunFiles(files []string, opts ...Option) *SuiteResult {
	suite := &SuiteResult{}
	for _, file := range files {
		suite.Total++
		res := ScenarioResult{Path: file}

		sc, err := LoadScenario(file)
		if err != nil {
			res.Error = err.Error()
			suite.Failed++
			suite.Results = append(suite.Results, res)
			continue
		}
		res.Scenario = sc.Name

		run, err := Run(sc, opts...)
		if err != nil {
			res.Error = err.Error()
			suite.Failed++
			suite.Results = append(suite.Results, res)
			continue
		}

		res.Pass = run.Pass
		res.Failures = run.Failures
		if run.Pass {
			suite.Passed++
		} else {
			suite.Failed++
		}
		suite.Results = append(suite.Results, res)
	}
	return suite
}

// RunDir discovers and executes every scenario under root.
func RunDir(root string, opts ...Option) (*SuiteResult, error) {
	files, err := FindScenarios(root)
	if err != nil {
		return nil, err
	}
	if len(files) == 0 {
		return nil, fmt.Errorf("no scenario files under %s", root)
	}
	return RunFiles(files, opts...), nil
}
