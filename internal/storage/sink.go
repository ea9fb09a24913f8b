package storage

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
)

// SinkConfig is the minimal configuration needed to open an export sink.
//
// When to use:
//   - Build a SinkConfig from the pipeline's output section and pass it to NewSink.
//
// Edge cases:
//   - Kind must be non-empty and must match a registered backend kind.
//   - Path is interpreted by the backend (a directory for csv, a file for sqlite).
//   - IndexWidth <= 0 means the backend default.
type SinkConfig struct {
	Kind       string
	Path       string
	IndexWidth int
}

// Sink receives the exported tables of one run.
//
// IMPORTANT: the exporter calls WriteDatapoints once per variable, in index
// order, then WriteVariables and WriteDatasets once each. Backends may rely on
// that order but must not assume a variable has any rows: empty combinations
// are exported as zero-row tables.
type Sink interface {
	// WriteDatapoints stores the datapoints table of one variable.
	WriteDatapoints(ctx context.Context, variableID int, rows []Datapoint) error

	// WriteVariables stores the variables summary.
	WriteVariables(ctx context.Context, vars []Variable) error

	// WriteDatasets stores the datasets summary.
	WriteDatasets(ctx context.Context, sets []Dataset) error

	// Close flushes and releases backend resources.
	//
	// Edge cases:
	//   - Callers treat Close as "call once" at the end of the run.
	//   - A Close error means the output may be incomplete.
	Close() error
}

type sinkFactory func(ctx context.Context, cfg SinkConfig) (Sink, error)

var (
	sinkMu        sync.RWMutex
	sinkFactories = map[string]sinkFactory{}
)

// RegisterSink registers a sink backend under a kind (e.g. "csv", "sqlite").
//
// When to use:
//   - Call RegisterSink from an init() function in a backend package.
//
// Panics:
//   - If kind is empty.
//   - If f is nil.
//   - If kind is already registered. Failing fast avoids ambiguous backend
//     selection.
func RegisterSink(kind string, f sinkFactory) {
	sinkMu.Lock()
	defer sinkMu.Unlock()

	if kind == "" {
		panic("storage: RegisterSink called with empty kind")
	}
	if f == nil {
		panic("storage: RegisterSink called with nil factory")
	}
	if _, exists := sinkFactories[kind]; exists {
		panic(fmt.Sprintf("storage: sink factory already registered for kind=%q", kind))
	}

	sinkFactories[kind] = f
}

// NewSink constructs a Sink using the registered backend factory.
//
// Errors:
//   - Returns an error if cfg.Kind is empty or unsupported.
//   - Returns whatever error the registered factory returns.
func NewSink(ctx context.Context, cfg SinkConfig) (Sink, error) {
	if cfg.Kind == "" {
		return nil, fmt.Errorf("storage: missing sink kind")
	}

	sinkMu.RLock()
	f := sinkFactories[cfg.Kind]
	sinkMu.RUnlock()

	if f == nil {
		return nil, fmt.Errorf("unsupported output.kind=%s (registered: %s)", cfg.Kind, strings.Join(Kinds(), "|"))
	}
	return f(ctx, cfg)
}

// Kinds lists the registered sink kinds, sorted.
func Kinds() []string {
	sinkMu.RLock()
	defer sinkMu.RUnlock()

	out := make([]string, 0, len(sinkFactories))
	for k := range sinkFactories {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
