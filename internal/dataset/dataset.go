// Package dataset holds the in-memory working table of a run: one Row per
// observation of the UN SDG export, the fixed columns as typed fields and the
// optional dimension columns as nullable cells.
package dataset

import "strings"

// Source column names of the wide UN SDG export that the transform relies on.
const (
	ColIndicator         = "Indicator"
	ColSeriesCode        = "SeriesCode"
	ColSeriesDescription = "SeriesDescription"
	ColUnits             = "Units"
	ColGeoAreaCode       = "GeoAreaCode"
	ColGeoAreaName       = "GeoAreaName"
	ColTimePeriod        = "TimePeriod"
	ColValue             = "Value"
	ColTimeDetail        = "Time_Detail"
	ColSource            = "Source"
	ColFootNote          = "FootNote"
	ColNature            = "Nature"
)

// RequiredColumns must all be present in the input header.
var RequiredColumns = []string{
	ColIndicator,
	ColSeriesCode,
	ColSeriesDescription,
	ColUnits,
	ColGeoAreaCode,
	ColGeoAreaName,
	ColTimePeriod,
	ColValue,
	ColTimeDetail,
	ColSource,
	ColFootNote,
	ColNature,
}

// passThroughColumns are carried by the UN export but are neither required nor
// dimensions. They are read past and never partition the output.
var passThroughColumns = []string{
	"Goal",
	"Target",
	"SeriesID",
	"UpperBound",
	"LowerBound",
	"BasePeriod",
	"GeoInfoUrl",
	"Reporting Type",
	"Observation Status",
	"Type",
}

var nonDimension = func() map[string]struct{} {
	m := make(map[string]struct{}, len(RequiredColumns)+len(passThroughColumns))
	for _, c := range RequiredColumns {
		m[c] = struct{}{}
	}
	for _, c := range passThroughColumns {
		m[c] = struct{}{}
	}
	return m
}()

// IsDimension reports whether a header names an optional dimension column.
// Bracket-delimited headers ("[Sex]") always are; otherwise anything outside
// the known non-dimension set is.
func IsDimension(header string) bool {
	if len(header) >= 2 && strings.HasPrefix(header, "[") && strings.HasSuffix(header, "]") {
		return true
	}
	_, ok := nonDimension[header]
	return !ok
}

// Cell is a nullable categorical value.
type Cell struct {
	S     string
	Valid bool
}

// Null is the missing-value cell.
var Null = Cell{}

// Str returns a non-null cell holding s.
func Str(s string) Cell { return Cell{S: s, Valid: true} }

// Label renders the cell, using null for a missing value.
func (c Cell) Label(null string) string {
	if !c.Valid {
		return null
	}
	return c.S
}

// Matches is the partition predicate for one dimension: a null cell matches
// only null, a valid cell matches an equal valid cell.
func (c Cell) Matches(other Cell) bool {
	if !c.Valid {
		return !other.Valid
	}
	return other.Valid && c.S == other.S
}

// Row is one observation.
type Row struct {
	Line int // 1-based record number in the source file

	Indicator         string
	SeriesCode        string
	SeriesDescription string
	Units             string
	GeoAreaCode       string
	GeoAreaName       string
	TimePeriod        string
	Value             string
	TimeDetail        string
	Source            string
	FootNote          string
	Nature            string

	// EntityID is the canonical entity id, set by the entity join.
	EntityID string

	// Dims holds one cell per Table.Dimensions entry.
	Dims []Cell
}

// Key returns the row's series key.
func (r *Row) Key() SeriesKey {
	return SeriesKey{Indicator: r.Indicator, Series: r.SeriesCode}
}

// SeriesKey identifies one logical metric.
type SeriesKey struct {
	Indicator string
	Series    string
}

func (k SeriesKey) String() string { return k.Indicator + "/" + k.Series }

// Less orders keys by indicator, then series code.
func (k SeriesKey) Less(o SeriesKey) bool {
	if k.Indicator != o.Indicator {
		return k.Indicator < o.Indicator
	}
	return k.Series < o.Series
}

// Table is an ordered sequence of rows sharing the same dimension columns.
type Table struct {
	Dimensions []string
	Rows       []*Row
}

// DimIndex returns the position of a dimension column, or -1.
func (t *Table) DimIndex(name string) int {
	for i, d := range t.Dimensions {
		if d == name {
			return i
		}
	}
	return -1
}

// Len returns the number of rows.
func (t *Table) Len() int { return len(t.Rows) }

// Filter returns a table with the rows matching pred, in order. Rows are shared
// with t.
func (t *Table) Filter(pred func(*Row) bool) *Table {
	out := &Table{Dimensions: t.Dimensions, Rows: make([]*Row, 0)}
	for _, r := range t.Rows {
		if pred(r) {
			out.Rows = append(out.Rows, r)
		}
	}
	return out
}

// Drop returns a projection of t without the named dimension columns. Rows are
// shallow copies; t and its rows are left untouched. Unknown names are ignored.
func (t *Table) Drop(names ...string) *Table {
	drop := make(map[string]struct{}, len(names))
	for _, n := range names {
		drop[n] = struct{}{}
	}

	keep := make([]int, 0, len(t.Dimensions))
	dims := make([]string, 0, len(t.Dimensions))
	for i, d := range t.Dimensions {
		if _, ok := drop[d]; ok {
			continue
		}
		keep = append(keep, i)
		dims = append(dims, d)
	}

	out := &Table{Dimensions: dims, Rows: make([]*Row, len(t.Rows))}
	for i, r := range t.Rows {
		cp := *r
		cp.Dims = make([]Cell, len(keep))
		for j, k := range keep {
			cp.Dims[j] = r.Dims[k]
		}
		out.Rows[i] = &cp
	}
	return out
}
