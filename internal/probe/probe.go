// Package probe samples the head of a UN SDG export and reports what a full
// run would see: which dimension columns the header carries, how populated
// they are, and which indicators fall inside the allow-list. It can also emit
// a starter pipeline config for the file.
package probe

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"sdgetl/internal/config"
	"sdgetl/internal/dataset"
	csvparser "sdgetl/internal/parser/csv"
)

// DefaultMaxBytes is the sample size used when Options.MaxBytes is unset.
const DefaultMaxBytes = 1 << 20

// Options control the sampling and output behavior.
type Options struct {
	// Path of the source export.
	Path string
	// MaxBytes to sample from the start of the file.
	MaxBytes int
	// Parser options forwarded to the CSV reader (encoding, comma, header_map).
	Parser config.Options
	// Indicators replaces config.DefaultIndicators when non-empty.
	Indicators []string
	// Name is used as the job name of the emitted config.
	Name string
	// OutputJSON toggles JSON config output; otherwise a text summary is returned.
	OutputJSON bool
}

// DimensionStat summarizes one dimension column over the sample.
type DimensionStat struct {
	Name      string
	Populated int // rows with a non-null value
	Distinct  int // distinct non-null values
}

// IndicatorStat counts sampled rows of one indicator.
type IndicatorStat struct {
	Code    string
	Rows    int
	Allowed bool
}

// Report is what the sample showed.
type Report struct {
	SampleRows  int
	AllowedRows int
	Series      int // distinct allow-listed series keys
	Areas       int // distinct geographic area codes among allowed rows
	Dimensions  []DimensionStat
	Indicators  []IndicatorStat
}

// Result holds the rendered output and the report it was built from.
type Result struct {
	Body   []byte
	Report Report
}

// peekFn reads the first n bytes of path. Tests replace it to avoid disk I/O.
var peekFn = func(ctx context.Context, path string, n int) ([]byte, error) {
	if n <= 0 {
		return nil, fmt.Errorf("peek: n must be > 0")
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var buf bytes.Buffer
	if _, err := io.Copy(&buf, io.LimitReader(f, int64(n))); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// Probe samples opt.Path and renders either a summary or a starter config.
// A header missing any required column fails the probe, as it would fail a run.
func Probe(ctx context.Context, opt Options) (Result, error) {
	var res Result
	if strings.TrimSpace(opt.Path) == "" {
		return res, fmt.Errorf("probe: path is required")
	}

	n := opt.MaxBytes
	if n <= 0 {
		n = DefaultMaxBytes
	}
	b, err := peekFn(ctx, opt.Path, n)
	if err != nil {
		return res, fmt.Errorf("peek: %w", err)
	}

	// Cut sample at last newline to avoid a half-line record at the end.
	if len(b) >= n {
		if i := bytes.LastIndexByte(b, '\n'); i > 0 {
			b = b[:i+1]
		}
	}

	codes := opt.Indicators
	if len(codes) == 0 {
		codes = config.DefaultIndicators
	}
	rep, err := sample(ctx, b, opt.Parser, config.AllowSet(codes))
	if err != nil {
		return res, err
	}
	res.Report = rep

	if !opt.OutputJSON {
		res.Body = renderSummary(rep)
		return res, nil
	}

	cfg := starterConfig(opt)
	jb, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return res, err
	}
	res.Body = append(jb, '\n')
	return res, nil
}

func sample(ctx context.Context, b []byte, opt config.Options, allow func(string) bool) (Report, error) {
	var (
		rep      Report
		dims     []string
		perInd   = map[string]int{}
		series   = map[dataset.SeriesKey]struct{}{}
		areas    = map[string]struct{}{}
		distinct []map[string]struct{}
	)

	err := csvparser.StreamRows(ctx, io.NopCloser(bytes.NewReader(b)), opt,
		func(l csvparser.Layout) {
			dims = l.Dimensions
			rep.Dimensions = make([]DimensionStat, len(dims))
			distinct = make([]map[string]struct{}, len(dims))
			for i, d := range dims {
				rep.Dimensions[i].Name = d
				distinct[i] = map[string]struct{}{}
			}
		},
		func(r *dataset.Row) error {
			rep.SampleRows++
			perInd[r.Indicator]++
			if !allow(r.Indicator) {
				return nil
			}
			rep.AllowedRows++
			series[r.Key()] = struct{}{}
			areas[r.GeoAreaCode] = struct{}{}
			for i, c := range r.Dims {
				if !c.Valid {
					continue
				}
				rep.Dimensions[i].Populated++
				distinct[i][c.S] = struct{}{}
			}
			return nil
		},
	)
	if err != nil {
		return rep, fmt.Errorf("read sample: %w", err)
	}

	for i := range rep.Dimensions {
		rep.Dimensions[i].Distinct = len(distinct[i])
	}
	rep.Series = len(series)
	rep.Areas = len(areas)

	rep.Indicators = make([]IndicatorStat, 0, len(perInd))
	for code, n := range perInd {
		rep.Indicators = append(rep.Indicators, IndicatorStat{Code: code, Rows: n, Allowed: allow(code)})
	}
	sort.Slice(rep.Indicators, func(i, j int) bool { return rep.Indicators[i].Code < rep.Indicators[j].Code })
	return rep, nil
}

func renderSummary(rep Report) []byte {
	var b strings.Builder
	fmt.Fprintf(&b, "sample_rows=%d\n", rep.SampleRows)
	fmt.Fprintf(&b, "allowed_rows=%d\n", rep.AllowedRows)
	fmt.Fprintf(&b, "series=%d\n", rep.Series)
	fmt.Fprintf(&b, "areas=%d\n", rep.Areas)
	fmt.Fprintf(&b, "dimension,populated,distinct\n")
	for _, d := range rep.Dimensions {
		fmt.Fprintf(&b, "%s,%d,%d\n", d.Name, d.Populated, d.Distinct)
	}
	fmt.Fprintf(&b, "indicator,rows,allowed\n")
	for _, s := range rep.Indicators {
		fmt.Fprintf(&b, "%s,%d,%t\n", s.Code, s.Rows, s.Allowed)
	}
	return []byte(b.String())
}

// starterConfig lays the run's artifacts out next to each other under out/.
func starterConfig(opt Options) config.Pipeline {
	job := strings.TrimSpace(opt.Name)
	if job == "" {
		job = strings.TrimSuffix(filepath.Base(opt.Path), filepath.Ext(opt.Path))
	}
	return config.Pipeline{
		Job: job,
		Source: config.Source{
			Kind: "file",
			File: &config.FileSource{Path: opt.Path},
		},
		Parser:     config.Parser{Kind: "csv", Options: opt.Parser},
		Indicators: opt.Indicators,
		Entities: config.Entities{
			ExportPath:  filepath.Join("out", job+"_entities.csv"),
			MappingPath: filepath.Join("out", job+"_entities_reconciled.csv"),
		},
		Output: config.Output{
			Kind: "csv",
			Path: filepath.Join("out", job),
		},
	}
}
