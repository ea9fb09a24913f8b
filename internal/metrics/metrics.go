// Package metrics is the process-wide metrics facade. Pipeline code records
// through the package-level helpers; the CLI installs a concrete Backend at
// startup. Until then every call goes to a no-op backend.
package metrics

import (
	"sync"
	"time"
)

// Labels are the dimensions of one observation.
type Labels map[string]string

// Backend receives observations. Implementations must be safe for concurrent
// use and must ignore metric names they do not know.
type Backend interface {
	IncCounter(name string, delta float64, labels Labels)
	ObserveHistogram(name string, value float64, labels Labels)
}

// Flusher is implemented by backends that buffer observations.
type Flusher interface {
	Flush() error
}

// Metric names.
const (
	StepTotal           = "sdg_step_total"
	StepDurationSeconds = "sdg_step_duration_seconds"
	RowsTotal           = "sdg_rows_total"
	VariablesTotal      = "sdg_variables_total"
)

type nopBackend struct{}

func (nopBackend) IncCounter(string, float64, Labels)       {}
func (nopBackend) ObserveHistogram(string, float64, Labels) {}

var (
	mu      sync.RWMutex
	backend Backend = nopBackend{}
)

// SetBackend installs b as the process backend. A nil b restores the no-op
// backend.
func SetBackend(b Backend) {
	if b == nil {
		b = nopBackend{}
	}
	mu.Lock()
	backend = b
	mu.Unlock()
}

func current() Backend {
	mu.RLock()
	defer mu.RUnlock()
	return backend
}

func IncCounter(name string, delta float64, labels Labels) {
	current().IncCounter(name, delta, labels)
}

func ObserveHistogram(name string, value float64, labels Labels) {
	current().ObserveHistogram(name, value, labels)
}

// Flush flushes the installed backend if it buffers.
func Flush() error {
	if f, ok := current().(Flusher); ok {
		return f.Flush()
	}
	return nil
}

// RecordStep counts one pipeline step and observes its duration, with
// status "ok" or "error" depending on err.
func RecordStep(step string, start time.Time, err error) {
	status := "ok"
	if err != nil {
		status = "error"
	}
	l := Labels{"step": step, "status": status}
	IncCounter(StepTotal, 1, l)
	ObserveHistogram(StepDurationSeconds, time.Since(start).Seconds(), l)
}

// RecordRows counts n rows of the given kind (read, kept, skipped, dropped,
// exported).
func RecordRows(kind string, n int) {
	if n <= 0 {
		return
	}
	IncCounter(RowsTotal, float64(n), Labels{"kind": kind})
}

// RecordVariables counts n exported variables of the given shape (combined,
// plain, empty).
func RecordVariables(shape string, n int) {
	if n <= 0 {
		return
	}
	IncCounter(VariablesTotal, float64(n), Labels{"shape": shape})
}
