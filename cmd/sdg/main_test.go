package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"

	"sdgetl/internal/config"
	"sdgetl/internal/metrics"
	"sdgetl/internal/metrics/datadog"
	"sdgetl/internal/pipeline"
)

// fakeRunner records the calls runMain makes and returns a fixed error.
type fakeRunner struct {
	err   error
	calls atomic.Int64

	mu        sync.Mutex
	lastCfg   config.Pipeline
	lastStage string
}

func (r *fakeRunner) Run(ctx context.Context, cfg config.Pipeline, stage string) error {
	r.calls.Add(1)
	r.mu.Lock()
	r.lastCfg = cfg
	r.lastStage = stage
	r.mu.Unlock()
	return r.err
}

type fakeMetricsBackend struct {
	closeErr error
	closed   atomic.Int64
}

func (b *fakeMetricsBackend) IncCounter(string, float64, metrics.Labels)       {}
func (b *fakeMetricsBackend) ObserveHistogram(string, float64, metrics.Labels) {}

func (b *fakeMetricsBackend) Close() error {
	b.closed.Add(1)
	return b.closeErr
}

const validConfig = `{
  "job": "job1",
  "source": {"kind": "file", "file": {"path": "sdg.csv"}},
  "parser": {"kind": "csv"},
  "entities": {"export_path": "entities.csv", "mapping_path": "reconciled.csv"},
  "output": {"kind": "csv", "path": "out"}
}`

func fakeDeps(t *testing.T, fr *fakeRunner) appDeps {
	t.Helper()
	return appDeps{
		readFile:    func(string) ([]byte, error) { return []byte(validConfig), nil },
		unmarshal:   json.Unmarshal,
		newRunID:    func() string { return "run-1" },
		initMetrics: func(context.Context, string, string, string) (func(), error) { return func() {}, nil },
		newRunner:   func(pipeline.Logger) runner { return fr },
	}
}

func TestRunMain_UsageErrors(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name          string
		args          []string
		wantStderrSub string
	}{
		{name: "missing_config_flag", args: []string{}, wantStderrSub: "usage: sdg -config"},
		{name: "empty_config_value", args: []string{"-config", "   "}, wantStderrSub: "usage: sdg -config"},
		{name: "unknown_flag_is_usage_error", args: []string{"-nope"}, wantStderrSub: "flag provided but not defined"},
		{name: "unknown_stage", args: []string{"-config", "cfg.json", "-stage", "partition"}, wantStderrSub: `unknown stage "partition"`},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			var stdout, stderr bytes.Buffer

			// Each seam fatals if called: usage failures short-circuit before
			// any side effect.
			code := runMain(context.Background(), tc.args, &stdout, &stderr, appDeps{
				readFile: func(string) ([]byte, error) {
					t.Fatalf("readFile must not be called on usage errors")
					return nil, nil
				},
				unmarshal: func([]byte, any) error {
					t.Fatalf("unmarshal must not be called on usage errors")
					return nil
				},
				newRunID: func() string {
					t.Fatalf("newRunID must not be called on usage errors")
					return ""
				},
				newRunner: func(pipeline.Logger) runner {
					t.Fatalf("newRunner must not be called on usage errors")
					return &fakeRunner{}
				},
				initMetrics: func(context.Context, string, string, string) (func(), error) {
					t.Fatalf("initMetrics must not be called on usage errors")
					return func() {}, nil
				},
			})

			if code != 2 {
				t.Fatalf("exit code=%d, want 2; stderr=%q", code, stderr.String())
			}
			if !strings.Contains(stderr.String(), tc.wantStderrSub) {
				t.Fatalf("stderr=%q, want contains %q", stderr.String(), tc.wantStderrSub)
			}
			if stdout.Len() != 0 {
				t.Fatalf("stdout=%q, want empty", stdout.String())
			}
		})
	}
}

func TestRunMain_ReadParseMetricsRun_FullFlow(t *testing.T) {
	t.Parallel()

	// Error precedence is read -> parse -> validate -> initMetrics -> run, and
	// cleanup runs exactly once whenever initMetrics succeeded.
	tests := []struct {
		name             string
		readErr          error
		unmarshalErr     error
		body             string
		initMetricsErr   error
		runErr           error
		wantCode         int
		wantStderrSub    string
		wantStdout       string
		wantRunnerCalls  int64
		wantCleanupCalls int64
	}{
		{
			name:          "read_config_error",
			readErr:       errors.New("no such file"),
			wantCode:      1,
			wantStderrSub: "read config:",
		},
		{
			name:          "parse_config_error",
			unmarshalErr:  errors.New("bad json"),
			wantCode:      1,
			wantStderrSub: "parse config:",
		},
		{
			name:          "invalid_config",
			body:          `{"job":"job1"}`,
			wantCode:      1,
			wantStderrSub: "invalid config: cfg.json",
		},
		{
			name:           "init_metrics_error",
			initMetricsErr: errors.New("metrics unavailable"),
			wantCode:       1,
			wantStderrSub:  "init metrics:",
		},
		{
			name:             "runner_error_runs_cleanup",
			runErr:           errors.New("sink failed"),
			wantCode:         1,
			wantStderrSub:    "run: sink failed",
			wantRunnerCalls:  1,
			wantCleanupCalls: 1,
		},
		{
			name:             "success",
			wantCode:         0,
			wantStdout:       "ok\n",
			wantRunnerCalls:  1,
			wantCleanupCalls: 1,
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			var stdout, stderr bytes.Buffer
			fr := &fakeRunner{err: tc.runErr}

			var cleanupCalls atomic.Int64
			cleanup := func() { cleanupCalls.Add(1) }

			deps := fakeDeps(t, fr)
			deps.readFile = func(path string) ([]byte, error) {
				if path != "cfg.json" {
					t.Fatalf("readFile path=%q, want %q", path, "cfg.json")
				}
				if tc.readErr != nil {
					return nil, tc.readErr
				}
				if tc.body != "" {
					return []byte(tc.body), nil
				}
				return []byte(validConfig), nil
			}
			deps.unmarshal = func(data []byte, v any) error {
				if tc.unmarshalErr != nil {
					return tc.unmarshalErr
				}
				return json.Unmarshal(data, v)
			}
			deps.initMetrics = func(_ context.Context, jobName, runID, backendName string) (func(), error) {
				if jobName != "job1" || runID != "run-1" || backendName != "none" {
					t.Fatalf("initMetrics(%q, %q, %q)", jobName, runID, backendName)
				}
				if tc.initMetricsErr != nil {
					return func() {}, tc.initMetricsErr
				}
				return cleanup, nil
			}

			code := runMain(
				context.Background(),
				[]string{"-config", "cfg.json", "-metrics-backend", "none"},
				&stdout,
				&stderr,
				deps,
			)

			if code != tc.wantCode {
				t.Fatalf("exit code=%d, want %d; stderr=%q", code, tc.wantCode, stderr.String())
			}
			if tc.wantStderrSub != "" && !strings.Contains(stderr.String(), tc.wantStderrSub) {
				t.Fatalf("stderr=%q, want contains %q", stderr.String(), tc.wantStderrSub)
			}
			if got := stdout.String(); got != tc.wantStdout {
				t.Fatalf("stdout=%q, want %q", got, tc.wantStdout)
			}
			if got := fr.calls.Load(); got != tc.wantRunnerCalls {
				t.Fatalf("runner calls=%d, want %d", got, tc.wantRunnerCalls)
			}
			if got := cleanupCalls.Load(); got != tc.wantCleanupCalls {
				t.Fatalf("cleanup calls=%d, want %d", got, tc.wantCleanupCalls)
			}
		})
	}
}

func TestRunMain_StageIsForwarded(t *testing.T) {
	t.Parallel()

	for _, stage := range pipeline.Stages {
		fr := &fakeRunner{}
		var stdout, stderr bytes.Buffer
		code := runMain(context.Background(), []string{"-config", "cfg.json", "-stage", stage}, &stdout, &stderr, fakeDeps(t, fr))
		if code != 0 {
			t.Fatalf("stage %s: code=%d stderr=%q", stage, code, stderr.String())
		}
		if fr.lastStage != stage {
			t.Fatalf("runner stage=%q, want %q", fr.lastStage, stage)
		}
		if fr.lastCfg.Job != "job1" {
			t.Fatalf("runner cfg.Job=%q", fr.lastCfg.Job)
		}
	}

	fr := &fakeRunner{}
	var stdout, stderr bytes.Buffer
	if code := runMain(context.Background(), []string{"-config", "cfg.json"}, &stdout, &stderr, fakeDeps(t, fr)); code != 0 {
		t.Fatalf("code=%d", code)
	}
	if fr.lastStage != pipeline.StageExport {
		t.Fatalf("default stage=%q, want %q", fr.lastStage, pipeline.StageExport)
	}
}

func TestRunMain_ValidateOnly(t *testing.T) {
	t.Parallel()

	fr := &fakeRunner{}
	deps := fakeDeps(t, fr)
	deps.initMetrics = func(context.Context, string, string, string) (func(), error) {
		t.Fatalf("initMetrics must not be called with -validate")
		return nil, nil
	}

	var stdout, stderr bytes.Buffer
	code := runMain(context.Background(), []string{"-config", "cfg.json", "-validate"}, &stdout, &stderr, deps)
	if code != 0 || stdout.String() != "ok\n" {
		t.Fatalf("code=%d stdout=%q stderr=%q", code, stdout.String(), stderr.String())
	}
	if fr.calls.Load() != 0 {
		t.Fatalf("runner called with -validate")
	}
}

func TestRunMain_VerboseLogsCarryRunID(t *testing.T) {
	t.Parallel()

	var stdout, stderr bytes.Buffer
	code := runMain(context.Background(), []string{"-config", "cfg.json", "-v"}, &stdout, &stderr, fakeDeps(t, &fakeRunner{}))
	if code != 0 {
		t.Fatalf("code=%d stderr=%q", code, stderr.String())
	}
	if !strings.Contains(stderr.String(), "run=run-1 ") || !strings.Contains(stderr.String(), "pipeline: job=job1 stage=export") {
		t.Fatalf("stderr=%q", stderr.String())
	}
}

func TestRunMain_EndToEnd(t *testing.T) {
	dir := t.TempDir()
	write := func(name, body string) string {
		p := filepath.Join(dir, name)
		if err := os.WriteFile(p, []byte(body), 0o644); err != nil {
			t.Fatalf("write %s: %v", name, err)
		}
		return p
	}
	src := write("sdg.csv",
		"Indicator,SeriesCode,SeriesDescription,GeoAreaCode,GeoAreaName,TimePeriod,Value,Time_Detail,Source,FootNote,Nature,Units,[Sex]\n"+
			"1.1.1,SI_POV_DAY1,Poverty,4,Afghanistan,2015,10,2015,WB,,E,PERCENT,MALE\n"+
			"1.1.1,SI_POV_DAY1,Poverty,4,Afghanistan,2015,12,2015,WB,,E,PERCENT,FEMALE\n")
	mapping := write("reconciled.csv", "id,entity_id\n4,13\n")
	cfg := fmt.Sprintf(`{
  "job": "e2e",
  "source": {"kind": "file", "file": {"path": %q}},
  "parser": {"kind": "csv"},
  "entities": {"export_path": %q, "mapping_path": %q},
  "output": {"kind": "csv", "path": %q}
}`, src, filepath.Join(dir, "entities.csv"), mapping, filepath.Join(dir, "out"))
	cfgPath := write("pipeline.json", cfg)

	for _, stage := range []string{pipeline.StageEntities, pipeline.StageExport} {
		var stdout, stderr bytes.Buffer
		code := runMain(context.Background(), []string{"-config", cfgPath, "-stage", stage, "-metrics-backend", "none"}, &stdout, &stderr, defaultDeps())
		if code != 0 {
			t.Fatalf("stage %s: code=%d stderr=%q", stage, code, stderr.String())
		}
	}

	if b, err := os.ReadFile(filepath.Join(dir, "entities.csv")); err != nil || string(b) != "id,name\n4,Afghanistan\n" {
		t.Fatalf("entities.csv=%q err=%v", b, err)
	}
	b, err := os.ReadFile(filepath.Join(dir, "out", "variables.csv"))
	if err != nil {
		t.Fatalf("variables.csv: %v", err)
	}
	want := "indicator,series_code,name,unit,id\n1.1.1,SI_POV_DAY1,Poverty - MALE,PERCENT,0\n1.1.1,SI_POV_DAY1,Poverty - FEMALE,PERCENT,1\n"
	if string(b) != want {
		t.Fatalf("variables.csv=%q, want %q", b, want)
	}
	if _, err := os.Stat(filepath.Join(dir, "out", "datapoints", "datapoints_0001.csv")); err != nil {
		t.Fatalf("datapoints_0001.csv: %v", err)
	}
}

// The initMetrics tests swap package-level seams and so do not run in parallel.

func TestInitMetrics_None_DoesNotMutateGlobalState(t *testing.T) {
	oldSet := setMetricsBackend
	defer func() { setMetricsBackend = oldSet }()

	setMetricsBackend = func(metrics.Backend) {
		t.Fatalf("setMetricsBackend must not be called for none/noop")
	}

	for _, name := range []string{"", "none", "noop", " NOP "} {
		cleanup, err := initMetrics(context.Background(), "job", "run", name)
		if err != nil {
			t.Fatalf("initMetrics(%q) err=%v, want nil", name, err)
		}
		if cleanup == nil {
			t.Fatalf("cleanup=nil, want non-nil")
		}
		cleanup()
	}
}

func TestInitMetrics_Datadog_WiresBackendAndCloses(t *testing.T) {
	b := &fakeMetricsBackend{}

	var (
		newCalls atomic.Int64
		setCalls atomic.Int64
		gotOpts  datadog.Options
	)

	oldNew, oldSet, oldLog := newDatadogBackend, setMetricsBackend, logPrintf
	defer func() {
		newDatadogBackend = oldNew
		setMetricsBackend = oldSet
		logPrintf = oldLog
	}()

	newDatadogBackend = func(_ context.Context, opts datadog.Options) (metricsBackend, error) {
		newCalls.Add(1)
		gotOpts = opts
		return b, nil
	}
	setMetricsBackend = func(metrics.Backend) { setCalls.Add(1) }

	var logged bytes.Buffer
	logPrintf = func(format string, v ...any) {
		fmt.Fprintf(&logged, format, v...)
	}

	cleanup, err := initMetrics(context.Background(), "jobA", "run-42", "datadog")
	if err != nil {
		t.Fatalf("initMetrics err=%v, want nil", err)
	}
	if gotOpts.JobName != "jobA" || gotOpts.RunID != "run-42" {
		t.Fatalf("datadog options=%+v", gotOpts)
	}
	if newCalls.Load() != 1 || setCalls.Load() != 1 {
		t.Fatalf("new calls=%d set calls=%d, want 1/1", newCalls.Load(), setCalls.Load())
	}

	cleanup()
	if b.closed.Load() != 1 {
		t.Fatalf("backend closed=%d, want 1", b.closed.Load())
	}
	if logged.Len() != 0 {
		t.Fatalf("unexpected log output: %q", logged.String())
	}
}

func TestInitMetrics_Datadog_DefaultJobName(t *testing.T) {
	oldNew, oldSet := newDatadogBackend, setMetricsBackend
	defer func() {
		newDatadogBackend = oldNew
		setMetricsBackend = oldSet
	}()

	var gotOpts datadog.Options
	newDatadogBackend = func(_ context.Context, opts datadog.Options) (metricsBackend, error) {
		gotOpts = opts
		return &fakeMetricsBackend{}, nil
	}
	setMetricsBackend = func(metrics.Backend) {}

	cleanup, err := initMetrics(context.Background(), "", "run", "dd")
	if err != nil {
		t.Fatalf("initMetrics err=%v", err)
	}
	cleanup()
	if gotOpts.JobName != "sdg" {
		t.Fatalf("JobName=%q, want sdg", gotOpts.JobName)
	}
}

func TestInitMetrics_Datadog_CloseErrorIsLogged(t *testing.T) {
	b := &fakeMetricsBackend{closeErr: errors.New("flush failed")}

	oldNew, oldSet, oldLog := newDatadogBackend, setMetricsBackend, logPrintf
	defer func() {
		newDatadogBackend = oldNew
		setMetricsBackend = oldSet
		logPrintf = oldLog
	}()

	newDatadogBackend = func(context.Context, datadog.Options) (metricsBackend, error) { return b, nil }
	setMetricsBackend = func(metrics.Backend) {}

	var logged bytes.Buffer
	logPrintf = func(format string, v ...any) {
		fmt.Fprintf(&logged, format, v...)
	}

	cleanup, err := initMetrics(context.Background(), "job", "run", "dd")
	if err != nil {
		t.Fatalf("initMetrics err=%v, want nil", err)
	}
	cleanup()

	if b.closed.Load() != 1 {
		t.Fatalf("backend closed=%d, want 1", b.closed.Load())
	}
	if !strings.Contains(logged.String(), "metrics: datadog close error") || !strings.Contains(logged.String(), "flush failed") {
		t.Fatalf("log=%q", logged.String())
	}
}

func TestInitMetrics_Datadog_ConstructorError(t *testing.T) {
	oldNew, oldSet := newDatadogBackend, setMetricsBackend
	defer func() {
		newDatadogBackend = oldNew
		setMetricsBackend = oldSet
	}()

	newDatadogBackend = func(context.Context, datadog.Options) (metricsBackend, error) {
		return nil, errors.New("no api key")
	}
	setMetricsBackend = func(metrics.Backend) {
		t.Fatalf("setMetricsBackend must not be called when construction fails")
	}

	cleanup, err := initMetrics(context.Background(), "job", "run", "datadog")
	if err == nil {
		t.Fatalf("initMetrics err=nil, want error")
	}
	cleanup()
}

func TestInitMetrics_UnknownBackendErrors(t *testing.T) {
	cleanup, err := initMetrics(context.Background(), "job", "run", "pushgateway")
	if err == nil || !strings.Contains(err.Error(), "unknown metrics backend") {
		t.Fatalf("initMetrics err=%v, want unknown backend error", err)
	}
	if cleanup == nil {
		t.Fatalf("cleanup=nil, want non-nil")
	}
	cleanup()
}
