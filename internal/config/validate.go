package config

import (
	"fmt"
	"strings"
)

type Severity string

const (
	SeverityError   Severity = "error"
	SeverityWarning Severity = "warning"
)

// Issue is one finding from ValidatePipeline. Path is a JSON-ish location such
// as "output.kind".
type Issue struct {
	Severity Severity
	Path     string
	Message  string
}

func (i Issue) String() string {
	return fmt.Sprintf("%s: %s: %s", i.Severity, i.Path, i.Message)
}

// OutputKinds lists the sink kinds a config may name.
var OutputKinds = []string{"csv", "sqlite"}

// ValidatePipeline checks p for structural problems. Any SeverityError issue
// means the pipeline must not run.
func ValidatePipeline(p Pipeline) []Issue {
	var issues []Issue
	add := func(sev Severity, path, format string, a ...any) {
		issues = append(issues, Issue{Severity: sev, Path: path, Message: fmt.Sprintf(format, a...)})
	}

	if strings.TrimSpace(p.Job) == "" {
		add(SeverityWarning, "job", "job name is empty; metrics will use the default")
	}

	if p.Source.Kind != "file" {
		add(SeverityError, "source.kind", "must be %q, got %q", "file", p.Source.Kind)
	}
	if p.Source.File == nil || strings.TrimSpace(p.Source.File.Path) == "" {
		add(SeverityError, "source.file.path", "is required")
	}

	if p.Parser.Kind != "csv" {
		add(SeverityError, "parser.kind", "must be %q, got %q", "csv", p.Parser.Kind)
	}

	seen := make(map[string]struct{}, len(p.Indicators))
	for i, code := range p.Indicators {
		path := fmt.Sprintf("indicators[%d]", i)
		if strings.TrimSpace(code) == "" {
			add(SeverityError, path, "empty indicator code")
			continue
		}
		if code != strings.TrimSpace(code) {
			add(SeverityError, path, "indicator code %q has surrounding space and would never match", code)
		}
		if _, dup := seen[code]; dup {
			add(SeverityWarning, path, "duplicate indicator code %q", code)
		}
		seen[code] = struct{}{}
	}

	if strings.TrimSpace(p.Entities.ExportPath) == "" {
		add(SeverityError, "entities.export_path", "is required")
	}
	if strings.TrimSpace(p.Entities.MappingPath) == "" {
		add(SeverityError, "entities.mapping_path", "is required")
	}
	if p.Entities.IDColumn != "" && p.Entities.IDColumn == p.Entities.EntityColumn {
		add(SeverityError, "entities.entity_column", "must differ from id_column")
	}

	if !contains(OutputKinds, p.Output.Kind) {
		add(SeverityError, "output.kind", "must be one of %s, got %q", strings.Join(OutputKinds, "|"), p.Output.Kind)
	}
	if strings.TrimSpace(p.Output.Path) == "" {
		add(SeverityError, "output.path", "is required")
	}
	if p.Output.IndexWidth < 0 {
		add(SeverityError, "output.index_width", "must not be negative")
	}
	if p.Output.Separator != nil && *p.Output.Separator == "" {
		add(SeverityWarning, "output.separator", "empty separator makes combination descriptions ambiguous")
	}

	return issues
}

// HasErrors reports whether any issue is an error.
func HasErrors(issues []Issue) bool {
	for _, iss := range issues {
		if iss.Severity == SeverityError {
			return true
		}
	}
	return false
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
