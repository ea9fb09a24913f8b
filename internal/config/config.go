// Package config defines the JSON pipeline configuration for the SDG export
// transform and its validation.
package config

import "os"

// Pipeline is the top-level JSON config.
//
// Example:
//
//	{
//	  "job": "un_sdg",
//	  "source": {"kind": "file", "file": {"path": "data/SDG.csv"}},
//	  "parser": {"kind": "csv", "options": {"encoding": "utf-8"}},
//	  "entities": {"export_path": "out/entities.csv", "mapping_path": "out/entities_reconciled.csv"},
//	  "output": {"kind": "csv", "path": "out/grapher", "index_width": 4}
//	}
type Pipeline struct {
	Job    string `json:"job"`
	Source Source `json:"source"`
	Parser Parser `json:"parser"`

	// Indicators replaces DefaultIndicators when non-empty.
	Indicators []string `json:"indicators,omitempty"`

	Entities Entities `json:"entities"`
	Output   Output   `json:"output"`
}

type Source struct {
	Kind string      `json:"kind"`
	File *FileSource `json:"file,omitempty"`
}

type FileSource struct {
	Path string `json:"path"`
}

type Parser struct {
	Kind    string  `json:"kind"`
	Options Options `json:"options"`
}

// Entities configures the hand-off to and from the external reconciliation step.
type Entities struct {
	// ExportPath receives the id,name list for reconciliation.
	ExportPath string `json:"export_path"`

	// MappingPath is the curated file produced by the reconciliation step.
	MappingPath string `json:"mapping_path"`

	// IDColumn and EntityColumn name the mapping file columns.
	// Defaults: "id" and "entity_id".
	IDColumn     string `json:"id_column,omitempty"`
	EntityColumn string `json:"entity_column,omitempty"`
}

// Output configures the export sink.
type Output struct {
	// Kind: "csv" | "sqlite"
	Kind string `json:"kind"`
	Path string `json:"path"`

	// IndexWidth is the zero-padding width of datapoints file names. Default 4.
	IndexWidth int `json:"index_width,omitempty"`

	// Separator joins a series description with its combination values.
	// Default " - ".
	Separator *string `json:"separator,omitempty"`

	// NullLabel stands in for a missing dimension value in descriptions.
	// Default "nan".
	NullLabel *string `json:"null_label,omitempty"`
}

const (
	DefaultIDColumn     = "id"
	DefaultEntityColumn = "entity_id"
	DefaultIndexWidth   = 4
	DefaultSeparator    = " - "
	DefaultNullLabel    = "nan"
)

// AllowList returns the indicator allow-list in effect.
func (p Pipeline) AllowList() []string {
	if len(p.Indicators) > 0 {
		return p.Indicators
	}
	return DefaultIndicators
}

// SourcePath returns the input path with environment variables expanded.
func (p Pipeline) SourcePath() string {
	if p.Source.File == nil {
		return ""
	}
	return os.ExpandEnv(p.Source.File.Path)
}

// WithDefaults returns a copy of p with empty optional fields filled in and
// paths expanded.
func (p Pipeline) WithDefaults() Pipeline {
	if p.Entities.IDColumn == "" {
		p.Entities.IDColumn = DefaultIDColumn
	}
	if p.Entities.EntityColumn == "" {
		p.Entities.EntityColumn = DefaultEntityColumn
	}
	p.Entities.ExportPath = os.ExpandEnv(p.Entities.ExportPath)
	p.Entities.MappingPath = os.ExpandEnv(p.Entities.MappingPath)

	if p.Output.IndexWidth <= 0 {
		p.Output.IndexWidth = DefaultIndexWidth
	}
	if p.Output.Separator == nil {
		s := DefaultSeparator
		p.Output.Separator = &s
	}
	if p.Output.NullLabel == nil {
		s := DefaultNullLabel
		p.Output.NullLabel = &s
	}
	p.Output.Path = os.ExpandEnv(p.Output.Path)
	return p
}
