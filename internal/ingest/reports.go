// Package ingest loads probe reports and reads and appends run history.
package ingest

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sort"

	"golang.org/x/sync/errgroup"

	"github.com/dejo1307/envmap/internal/graph"
)

// DefaultWorkers bounds concurrent report decoding when callers pass 0.
const DefaultWorkers = 8

// ExpandPatterns resolves glob patterns to a sorted, de-duplicated file list.
// A pattern naming a directory expands to the *.json files inside it.
func ExpandPatterns(patterns []string) ([]string, error) {
	seen := make(map[string]bool)
	var files []string
	add := func(p string) {
		if !seen[p] {
			seen[p] = true
			files = append(files, p)
		}
	}
	for _, pattern := range patterns {
		if info, err := os.Stat(pattern); err == nil && info.IsDir() {
			pattern = filepath.Join(pattern, "*.json")
		}
		matches, err := filepath.Glob(pattern)
		if err != nil {
			return nil, fmt.Errorf("bad pattern %q: %w", pattern, err)
		}
		for _, m := range matches {
			if info, err := os.Stat(m); err == nil && !info.IsDir() {
				add(m)
			}
		}
	}
	sort.Strings(files)
	return files, nil
}

// LoadReports decodes every file matched by patterns using up to workers
// goroutines. Each file holds one report object or an array of them. Reports
// come back ordered by file path, then by position within the file. The
// returned sources are the files read.
func LoadReports(ctx context.Context, patterns []string, workers int) ([]graph.EnvironmentReport, []string, error) {
	files, err := ExpandPatterns(patterns)
	if err != nil {
		return nil, nil, err
	}
	if workers <= 0 {
		workers = DefaultWorkers
	}

	perFile := make([][]graph.EnvironmentReport, len(files))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)
	for i, path := range files {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			reports, err := ReadReportFile(path)
			if err != nil {
				return err
			}
			perFile[i] = reports
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, nil, err
	}

	var all []graph.EnvironmentReport
	for _, reports := range perFile {
		all = append(all, reports...)
	}
	log.Printf("[ingest] loaded %d reports from %d files", len(all), len(files))
	return all, files, nil
}

// ReadReportFile decodes one report file.
func ReadReportFile(path string) ([]graph.EnvironmentReport, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}
	reports, err := DecodeReports(data)
	if err != nil {
		return nil, &DecodeError{Path: path, Line: lineOf(data, err), Err: err}
	}
	return reports, nil
}

// DecodeReports decodes a single report object or an array of reports.
// Reports without a path are dropped.
func DecodeReports(data []byte) ([]graph.EnvironmentReport, error) {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 {
		return nil, nil
	}

	var reports []graph.EnvironmentReport
	if trimmed[0] == '[' {
		if err := json.Unmarshal(data, &reports); err != nil {
			return nil, err
		}
	} else {
		var r graph.EnvironmentReport
		if err := json.Unmarshal(data, &r); err != nil {
			return nil, err
		}
		reports = append(reports, r)
	}

	out := reports[:0]
	for _, r := range reports {
		if r.Path != "" {
			out = append(out, r)
		}
	}
	return out, nil
}
