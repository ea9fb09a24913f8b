// Command sdg transforms a UN SDG wide export into per-variable tables.
//
// Usage:
//
//	sdg -config pipeline.json -stage entities   # write the entity list for reconciliation
//	sdg -config pipeline.json                   # full export (default stage)
//
// Exit codes: 0 success (prints "ok"), 1 failure, 2 usage error.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/google/uuid"

	"sdgetl/internal/config"
	"sdgetl/internal/metrics"
	"sdgetl/internal/metrics/datadog"
	"sdgetl/internal/pipeline"

	// register all sink backends with the storage factory.
	_ "sdgetl/internal/storage/all"
)

const usage = "usage: sdg -config path/to/pipeline.json [-stage entities|export] [-metrics-backend none|datadog] [-validate] [-v]"

// runner is the part of *pipeline.Runner the CLI depends on.
type runner interface {
	Run(ctx context.Context, cfg config.Pipeline, stage string) error
}

// metricsBackend is a metrics backend the CLI owns and must close.
type metricsBackend interface {
	metrics.Backend
	Close() error
}

// appDeps are the external seams of runMain.
type appDeps struct {
	readFile    func(path string) ([]byte, error)
	unmarshal   func(data []byte, v any) error
	newRunID    func() string
	initMetrics func(ctx context.Context, jobName, runID, backendName string) (func(), error)
	newRunner   func(logger pipeline.Logger) runner
}

func defaultDeps() appDeps {
	return appDeps{
		readFile:    os.ReadFile,
		unmarshal:   json.Unmarshal,
		newRunID:    uuid.NewString,
		initMetrics: initMetrics,
		newRunner: func(logger pipeline.Logger) runner {
			return pipeline.NewDefaultRunner(logger)
		},
	}
}

// Package-level seams used by initMetrics; tests swap them.
var (
	newDatadogBackend = func(ctx context.Context, opts datadog.Options) (metricsBackend, error) {
		return datadog.NewBackend(ctx, opts)
	}
	setMetricsBackend = metrics.SetBackend
	logPrintf         = log.Printf
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	code := runMain(ctx, os.Args[1:], os.Stdout, os.Stderr, defaultDeps())
	stop()
	os.Exit(code)
}

func runMain(ctx context.Context, args []string, stdout, stderr io.Writer, deps appDeps) int {
	fs := flag.NewFlagSet("sdg", flag.ContinueOnError)
	fs.SetOutput(stderr)

	var (
		cfgPath     string
		stage       string
		backendFlag string
		validate    bool
		verbose     bool
	)
	fs.StringVar(&cfgPath, "config", "", "pipeline config JSON path")
	fs.StringVar(&stage, "stage", pipeline.StageExport, "stage to run: "+strings.Join(pipeline.Stages, "|"))
	fs.StringVar(&backendFlag, "metrics-backend", "", "metrics backend: none|datadog (default from METRICS_BACKEND)")
	fs.BoolVar(&validate, "validate", false, "validate the configuration and exit")
	fs.BoolVar(&verbose, "v", false, "enable verbose logs")

	if err := fs.Parse(args); err != nil {
		return 2
	}
	if strings.TrimSpace(cfgPath) == "" {
		fmt.Fprintln(stderr, usage)
		return 2
	}
	if !validStage(stage) {
		fmt.Fprintf(stderr, "unknown stage %q\n%s\n", stage, usage)
		return 2
	}

	raw, err := deps.readFile(cfgPath)
	if err != nil {
		fmt.Fprintf(stderr, "read config: %v\n", err)
		return 1
	}
	var cfg config.Pipeline
	if err := deps.unmarshal(raw, &cfg); err != nil {
		fmt.Fprintf(stderr, "parse config: %v\n", err)
		return 1
	}

	issues := config.ValidatePipeline(cfg)
	for _, iss := range issues {
		fmt.Fprintln(stderr, iss.String())
	}
	if config.HasErrors(issues) {
		fmt.Fprintf(stderr, "invalid config: %s\n", cfgPath)
		return 1
	}
	if validate {
		fmt.Fprintln(stdout, "ok")
		return 0
	}

	backendName := backendFlag
	if backendName == "" {
		backendName = os.Getenv("METRICS_BACKEND")
	}

	runID := deps.newRunID()
	logger := log.New(stderr, "run="+runID+" ", log.LstdFlags|log.Lmsgprefix)

	cleanup, err := deps.initMetrics(ctx, cfg.Job, runID, backendName)
	if err != nil {
		fmt.Fprintf(stderr, "init metrics: %v\n", err)
		return 1
	}
	defer cleanup()

	start := time.Now()
	if verbose {
		logger.Printf("pipeline: job=%s stage=%s source=%s output=%s:%s metrics=%q",
			cfg.Job, stage, cfg.SourcePath(), cfg.Output.Kind, cfg.Output.Path, backendName)
	}

	if err := deps.newRunner(logger).Run(ctx, cfg, stage); err != nil {
		fmt.Fprintf(stderr, "run: %v\n", err)
		return 1
	}

	if verbose {
		logger.Printf("completed in %s", time.Since(start).Truncate(time.Millisecond))
	}
	fmt.Fprintln(stdout, "ok")
	return 0
}

// initMetrics installs the named metrics backend and returns its cleanup.
// The cleanup is never nil and must be called exactly once.
func initMetrics(ctx context.Context, jobName, runID, backendName string) (func(), error) {
	noop := func() {}

	switch strings.ToLower(strings.TrimSpace(backendName)) {
	case "", "none", "nop", "noop":
		return noop, nil

	case "datadog", "dd":
		if jobName == "" {
			jobName = "sdg"
		}
		b, err := newDatadogBackend(ctx, datadog.Options{
			JobName:    jobName,
			RunID:      runID,
			Tags:       datadog.ParseTagsCSV(os.Getenv("METRICS_TAGS")),
			FlushEvery: 60 * time.Second,
		})
		if err != nil {
			return noop, err
		}
		setMetricsBackend(b)

		// Close stops the periodic flush loop and performs a final Flush.
		return func() {
			if err := b.Close(); err != nil {
				logPrintf("metrics: datadog close error: %v", err)
			}
		}, nil

	default:
		return noop, fmt.Errorf("unknown metrics backend %q (want none|datadog)", backendName)
	}
}

func validStage(s string) bool {
	for _, st := range pipeline.Stages {
		if s == st {
			return true
		}
	}
	return false
}
