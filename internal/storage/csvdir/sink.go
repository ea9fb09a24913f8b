// Package csvdir writes a run's export as a directory of CSV files:
//
//	<path>/datapoints/datapoints_0000.csv  one per variable, zero-padded index
//	<path>/variables.csv
//	<path>/datasets.csv
package csvdir

import (
	"context"
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"

	"sdgetl/internal/storage"
)

const defaultIndexWidth = 4

// Sink implements storage.Sink on the local filesystem.
type Sink struct {
	dir        string
	indexWidth int
}

func init() {
	storage.RegisterSink("csv", New)
}

// New creates the output directory tree and returns a Sink writing into it.
// Datapoints files left by an earlier run are removed so every file on disk
// has an index listed in variables.csv; the summaries are overwritten.
func New(ctx context.Context, cfg storage.SinkConfig) (storage.Sink, error) {
	if cfg.Path == "" {
		return nil, fmt.Errorf("csv sink: path is required")
	}
	width := cfg.IndexWidth
	if width <= 0 {
		width = defaultIndexWidth
	}
	dpDir := filepath.Join(cfg.Path, "datapoints")
	if err := os.MkdirAll(dpDir, 0o755); err != nil {
		return nil, fmt.Errorf("csv sink: %w", err)
	}
	if err := removeStale(dpDir); err != nil {
		return nil, fmt.Errorf("csv sink: %w", err)
	}
	return &Sink{dir: cfg.Path, indexWidth: width}, nil
}

// removeStale deletes datapoints_*.csv files in dir. Other files are left alone.
func removeStale(dir string) error {
	old, err := filepath.Glob(filepath.Join(dir, "datapoints_*.csv"))
	if err != nil {
		return err
	}
	for _, p := range old {
		if err := os.Remove(p); err != nil {
			return fmt.Errorf("remove stale %s: %w", filepath.Base(p), err)
		}
	}
	return nil
}

// DatapointsPath returns the file a variable's datapoints are written to.
func (s *Sink) DatapointsPath(variableID int) string {
	return filepath.Join(s.dir, "datapoints", fmt.Sprintf("datapoints_%0*d.csv", s.indexWidth, variableID))
}

func (s *Sink) WriteDatapoints(ctx context.Context, variableID int, rows []storage.Datapoint) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	recs := make([][]string, 0, len(rows))
	for _, r := range rows {
		recs = append(recs, r.Record())
	}
	return writeFile(s.DatapointsPath(variableID), storage.DatapointColumns, recs)
}

func (s *Sink) WriteVariables(ctx context.Context, vars []storage.Variable) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	recs := make([][]string, 0, len(vars))
	for _, v := range vars {
		recs = append(recs, v.Record())
	}
	return writeFile(filepath.Join(s.dir, "variables.csv"), storage.VariableColumns, recs)
}

func (s *Sink) WriteDatasets(ctx context.Context, sets []storage.Dataset) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	recs := make([][]string, 0, len(sets))
	for _, d := range sets {
		recs = append(recs, d.Record())
	}
	return writeFile(filepath.Join(s.dir, "datasets.csv"), storage.DatasetColumns, recs)
}

// Close is a no-op: every file is complete once its Write call returns.
func (s *Sink) Close() error { return nil }

func writeFile(path string, header []string, recs [][]string) (err error) {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("csv sink: %w", err)
	}
	defer func() {
		if cerr := f.Close(); cerr != nil && err == nil {
			err = fmt.Errorf("csv sink: close %s: %w", path, cerr)
		}
	}()

	w := csv.NewWriter(f)
	if err := w.Write(header); err != nil {
		return fmt.Errorf("csv sink: write %s: %w", path, err)
	}
	if err := w.WriteAll(recs); err != nil {
		return fmt.Errorf("csv sink: write %s: %w", path, err)
	}
	return nil
}
