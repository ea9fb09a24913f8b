// Package export turns a partitioned run into variables and hands them to a
// storage.Sink: one datapoints table per variable, then the variables and
// datasets summaries.
package export

import (
	"context"
	"fmt"
	"io"
	"log"
	"strings"
	"time"

	"sdgetl/internal/config"
	"sdgetl/internal/dataset"
	"sdgetl/internal/metrics"
	"sdgetl/internal/partition"
	"sdgetl/internal/storage"
)

// Logger is the minimal logging interface used by the exporter.
// *log.Logger satisfies this interface.
type Logger interface {
	Printf(format string, v ...any)
}

const (
	DefaultSeparator = config.DefaultSeparator
	DefaultNullLabel = config.DefaultNullLabel
)

// Exporter writes every variable of a run to Sink. Separator and NullLabel
// are used verbatim; New fills in the defaults.
type Exporter struct {
	Sink storage.Sink

	// Separator joins the series description and the combination values.
	Separator string

	// NullLabel renders a null combination value.
	NullLabel string

	Logger Logger
}

// New returns an Exporter writing to sink with the default separator and
// null label.
func New(sink storage.Sink) *Exporter {
	return &Exporter{Sink: sink, Separator: DefaultSeparator, NullLabel: DefaultNullLabel}
}

// Summary counts what Run exported.
type Summary struct {
	Datasets   int
	Variables  int
	Combined   int // variables keyed by a dimension combination
	Empty      int // variables with zero datapoints
	Datapoints int
}

// Run exports every series key of run in key order. Variable ids are
// assigned from 0 in emission order: series order, then combination order
// within a series. Combinations that match no row still get an id and a
// (header-only) datapoints table.
//
// A series key carrying more than one (description, units) pair is an error:
// the variable label would depend on row order.
func (e *Exporter) Run(ctx context.Context, run *partition.Run) (Summary, error) {
	var sum Summary
	if e.Sink == nil {
		return sum, fmt.Errorf("export: Sink is required")
	}
	logf := e.logger()
	sep, null := e.Separator, e.NullLabel

	keys := run.Keys()
	datasets := make([]storage.Dataset, 0, len(keys))
	var variables []storage.Variable

	for _, key := range keys {
		if err := ctx.Err(); err != nil {
			return sum, err
		}
		keyStart := time.Now()

		p := run.Partition(key)
		desc, units, err := seriesLabel(key, p.Signature.Rows)
		if err != nil {
			return sum, err
		}
		datasets = append(datasets, storage.Dataset{
			Indicator:         key.Indicator,
			SeriesCode:        key.Series,
			SeriesDescription: desc,
		})

		for _, s := range p.Slices {
			id := len(variables)
			name := desc
			if s.Combination != nil {
				name = desc + sep + strings.Join(s.Combination.Labels(null), sep)
			}

			points := Datapoints(s.Table)
			if err := e.Sink.WriteDatapoints(ctx, id, points); err != nil {
				return sum, fmt.Errorf("export: write datapoints %d (%s): %w", id, key, err)
			}

			variables = append(variables, storage.Variable{
				ID:         id,
				Indicator:  key.Indicator,
				SeriesCode: key.Series,
				Name:       name,
				Unit:       units,
			})
			sum.Datapoints += len(points)
			if s.Combination != nil {
				sum.Combined++
			}
			if len(points) == 0 {
				sum.Empty++
			}
		}

		logf("stage=export_series key=%s dims=%v variables=%d duration=%s",
			key, p.Signature.Dimensions, len(p.Slices), durMS(keyStart))
	}

	if err := e.Sink.WriteVariables(ctx, variables); err != nil {
		return sum, fmt.Errorf("export: write variables: %w", err)
	}
	if err := e.Sink.WriteDatasets(ctx, datasets); err != nil {
		return sum, fmt.Errorf("export: write datasets: %w", err)
	}

	sum.Datasets = len(datasets)
	sum.Variables = len(variables)

	metrics.RecordVariables("combined", sum.Combined)
	metrics.RecordVariables("plain", sum.Variables-sum.Combined)
	metrics.RecordVariables("empty", sum.Empty)
	metrics.RecordRows("exported", sum.Datapoints)

	logf("stage=export ok datasets=%d variables=%d combined=%d empty=%d datapoints=%d",
		sum.Datasets, sum.Variables, sum.Combined, sum.Empty, sum.Datapoints)
	return sum, nil
}

// Datapoints projects t onto the datapoints columns, in row order.
func Datapoints(t *dataset.Table) []storage.Datapoint {
	out := make([]storage.Datapoint, 0, t.Len())
	for _, r := range t.Rows {
		out = append(out, storage.Datapoint{
			Value:      r.Value,
			Year:       r.TimePeriod,
			TimeDetail: r.TimeDetail,
			Source:     r.Source,
			FootNote:   r.FootNote,
			Nature:     r.Nature,
			EntityID:   r.EntityID,
		})
	}
	return out
}

type label struct {
	desc  string
	units string
}

// seriesLabel returns the single (description, units) pair of a series.
func seriesLabel(key dataset.SeriesKey, t *dataset.Table) (string, string, error) {
	pairs := dataset.Distinct(t.Rows, func(r *dataset.Row) label {
		return label{desc: r.SeriesDescription, units: r.Units}
	})
	switch len(pairs) {
	case 0:
		return "", "", fmt.Errorf("export: series %s has no rows", key)
	case 1:
		return pairs[0].desc, pairs[0].units, nil
	default:
		return "", "", fmt.Errorf("export: series %s has %d description/units pairs, first %q/%q and %q/%q",
			key, len(pairs), pairs[0].desc, pairs[0].units, pairs[1].desc, pairs[1].units)
	}
}

func (e *Exporter) logger() func(format string, v ...any) {
	if e.Logger == nil {
		return log.New(io.Discard, "", 0).Printf
	}
	return e.Logger.Printf
}

func durMS(start time.Time) time.Duration { return time.Since(start).Truncate(time.Millisecond) }
