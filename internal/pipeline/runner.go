// Package pipeline wires the transform together. A run is one of two stages:
//
//	entities  load → extract → write the entity export for reconciliation
//	export    load → reconcile → join → partition → export to the sink
//
// Nothing is written to the output sink unless load, reconcile and join all
// succeed.
package pipeline

import (
	"context"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"strings"
	"time"

	"sdgetl/internal/config"
	"sdgetl/internal/dataset"
	"sdgetl/internal/entities"
	"sdgetl/internal/export"
	"sdgetl/internal/metrics"
	parsercsv "sdgetl/internal/parser/csv"
	"sdgetl/internal/partition"
	"sdgetl/internal/storage"
)

// Logger is the minimal logging interface used by the runner.
// *log.Logger satisfies this interface.
type Logger interface {
	Printf(format string, v ...any)
}

// Stage names accepted by Run.
const (
	StageEntities = "entities"
	StageExport   = "export"
)

// Stages lists every stage in pipeline order.
var Stages = []string{StageEntities, StageExport}

// maxLoggedUnmatched bounds the area codes printed by the join log line.
const maxLoggedUnmatched = 10

// Runner executes one stage against a pipeline config. The function fields
// are seams; NewDefaultRunner fills them with the production implementations.
type Runner struct {
	Logger Logger

	// OpenSource opens the input export.
	OpenSource func(ctx context.Context, path string) (io.ReadCloser, error)

	// NewReconciler returns the collaborator that maps area codes to entity ids.
	NewReconciler func(cfg config.Entities) entities.Reconciler

	// NewSink opens the output sink. Called only after the join succeeded.
	NewSink func(ctx context.Context, cfg storage.SinkConfig) (storage.Sink, error)
}

func NewDefaultRunner(logger Logger) *Runner {
	return &Runner{
		Logger: logger,
		OpenSource: func(_ context.Context, path string) (io.ReadCloser, error) {
			return os.Open(path)
		},
		NewReconciler: func(cfg config.Entities) entities.Reconciler {
			return entities.FileReconciler{
				Path:         cfg.MappingPath,
				IDColumn:     cfg.IDColumn,
				EntityColumn: cfg.EntityColumn,
			}
		},
		NewSink: storage.NewSink,
	}
}

// Run validates cfg, applies its defaults and executes stage.
func (r *Runner) Run(ctx context.Context, cfg config.Pipeline, stage string) error {
	issues := config.ValidatePipeline(cfg)
	logf := r.logger()
	for _, iss := range issues {
		if iss.Severity == config.SeverityWarning {
			logf("config: %s", iss)
		}
	}
	if config.HasErrors(issues) {
		return fmt.Errorf("invalid config: %s", joinIssues(issues, config.SeverityError))
	}
	cfg = cfg.WithDefaults()

	switch stage {
	case StageEntities:
		_, err := r.Entities(ctx, cfg)
		return err
	case StageExport:
		_, err := r.Export(ctx, cfg)
		return err
	default:
		return fmt.Errorf("unknown stage %q (want %s)", stage, strings.Join(Stages, "|"))
	}
}

// Entities loads the source and writes its distinct areas to
// cfg.Entities.ExportPath. cfg must already have its defaults applied.
func (r *Runner) Entities(ctx context.Context, cfg config.Pipeline) (ents []entities.Entity, err error) {
	logf := r.logger()

	t, err := r.load(ctx, cfg)
	if err != nil {
		return nil, err
	}

	start := time.Now()
	defer func() { metrics.RecordStep("entities", start, err) }()

	ents = entities.Extract(t)
	if err := writeFileAtomic(cfg.Entities.ExportPath, func(w io.Writer) error {
		return entities.WriteExport(w, ents)
	}); err != nil {
		return nil, fmt.Errorf("entities: %w", err)
	}
	logf("stage=entities ok entities=%d path=%s duration=%s", len(ents), cfg.Entities.ExportPath, durMS(start))
	return ents, nil
}

// Export runs the full transform and writes every variable to the sink.
// cfg must already have its defaults applied.
func (r *Runner) Export(ctx context.Context, cfg config.Pipeline) (export.Summary, error) {
	logf := r.logger()

	t, err := r.load(ctx, cfg)
	if err != nil {
		return export.Summary{}, err
	}

	joined, err := r.join(ctx, cfg, t)
	if err != nil {
		return export.Summary{}, err
	}

	start := time.Now()
	sum, err := r.export(ctx, cfg, partition.NewRun(joined))
	metrics.RecordStep("export", start, err)
	if err != nil {
		return sum, err
	}
	logf("stage=export_total ok duration=%s", durMS(start))
	return sum, nil
}

func (r *Runner) load(ctx context.Context, cfg config.Pipeline) (t *dataset.Table, err error) {
	logf := r.logger()
	start := time.Now()
	defer func() { metrics.RecordStep("load", start, err) }()

	path := cfg.SourcePath()
	src, err := r.OpenSource(ctx, path)
	if err != nil {
		return nil, fmt.Errorf("load: open source: %w", err)
	}

	t, stats, err := parsercsv.Load(ctx, src, cfg.Parser.Options, config.AllowSet(cfg.AllowList()))
	if err != nil {
		return nil, fmt.Errorf("load %s: %w", path, err)
	}

	metrics.RecordRows("read", stats.Read)
	metrics.RecordRows("kept", stats.Kept)
	metrics.RecordRows("skipped", stats.Skipped)
	logf("stage=load ok read=%d kept=%d skipped=%d dimensions=%d duration=%s",
		stats.Read, stats.Kept, stats.Skipped, len(t.Dimensions), durMS(start))
	return t, nil
}

func (r *Runner) join(ctx context.Context, cfg config.Pipeline, t *dataset.Table) (out *dataset.Table, err error) {
	logf := r.logger()
	start := time.Now()
	defer func() { metrics.RecordStep("join", start, err) }()

	rec := r.NewReconciler(cfg.Entities)
	m, err := rec.Reconcile(ctx, entities.Extract(t))
	if err != nil {
		return nil, fmt.Errorf("reconcile: %w", err)
	}

	out, stats := entities.Join(t, m)
	metrics.RecordRows("joined", stats.Kept)
	metrics.RecordRows("dropped", stats.Dropped)

	if stats.Dropped > 0 {
		shown := stats.Unmatched
		more := ""
		if len(shown) > maxLoggedUnmatched {
			more = fmt.Sprintf(" (+%d more)", len(shown)-maxLoggedUnmatched)
			shown = shown[:maxLoggedUnmatched]
		}
		logf("stage=join warn dropped=%d unmatched_areas=%d codes=%s%s",
			stats.Dropped, len(stats.Unmatched), strings.Join(shown, ","), more)
	}
	logf("stage=join ok mapped=%d kept=%d dropped=%d duration=%s", len(m), stats.Kept, stats.Dropped, durMS(start))
	return out, nil
}

func (r *Runner) export(ctx context.Context, cfg config.Pipeline, run *partition.Run) (sum export.Summary, err error) {
	sink, err := r.NewSink(ctx, storage.SinkConfig{
		Kind:       cfg.Output.Kind,
		Path:       cfg.Output.Path,
		IndexWidth: cfg.Output.IndexWidth,
	})
	if err != nil {
		return sum, fmt.Errorf("open sink: %w", err)
	}
	defer func() {
		if cerr := sink.Close(); cerr != nil && err == nil {
			err = fmt.Errorf("close sink: %w", cerr)
		}
	}()

	e := export.New(sink)
	e.Logger = r.Logger
	if cfg.Output.Separator != nil {
		e.Separator = *cfg.Output.Separator
	}
	if cfg.Output.NullLabel != nil {
		e.NullLabel = *cfg.Output.NullLabel
	}
	return e.Run(ctx, run)
}

func (r *Runner) logger() func(format string, v ...any) {
	if r.Logger == nil {
		return log.New(io.Discard, "", 0).Printf
	}
	return r.Logger.Printf
}

// writeFileAtomic writes path through a temp file in the same directory and
// renames it into place, creating parent directories as needed.
func writeFileAtomic(path string, write func(io.Writer) error) (err error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	f, err := os.CreateTemp(dir, "."+filepath.Base(path)+".*")
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			_ = f.Close()
			_ = os.Remove(f.Name())
		}
	}()

	if err = write(f); err != nil {
		return err
	}
	if err = f.Close(); err != nil {
		return err
	}
	return os.Rename(f.Name(), path)
}

func joinIssues(issues []config.Issue, sev config.Severity) string {
	var parts []string
	for _, iss := range issues {
		if iss.Severity == sev {
			parts = append(parts, iss.Path+": "+iss.Message)
		}
	}
	return strings.Join(parts, "; ")
}

func durMS(start time.Time) time.Duration { return time.Since(start).Truncate(time.Millisecond) }
