// The export record types live here so the exporter and every sink backend can
// share them without import cycles.
package storage

import "strconv"

// Datapoint is one row of a variable's datapoints table.
type Datapoint struct {
	Value      string
	Year       string
	TimeDetail string
	Source     string
	FootNote   string
	Nature     string
	EntityID   string
}

// Variable is one row of the variables summary.
type Variable struct {
	ID         int
	Indicator  string
	SeriesCode string
	Name       string
	Unit       string
}

// Dataset is one row of the datasets summary: one per series key.
type Dataset struct {
	Indicator         string
	SeriesCode        string
	SeriesDescription string
}

// Output column names, shared by every backend.
var (
	DatapointColumns = []string{"value", "year", "time_detail", "source", "footnote", "nature", "entity_id"}
	VariableColumns  = []string{"indicator", "series_code", "name", "unit", "id"}
	DatasetColumns   = []string{"indicator", "series_code", "series_description"}
)

// Record renders d in DatapointColumns order.
func (d Datapoint) Record() []string {
	return []string{d.Value, d.Year, d.TimeDetail, d.Source, d.FootNote, d.Nature, d.EntityID}
}

// Record renders v in VariableColumns order.
func (v Variable) Record() []string {
	return []string{v.Indicator, v.SeriesCode, v.Name, v.Unit, strconv.Itoa(v.ID)}
}

// Record renders d in DatasetColumns order.
func (d Dataset) Record() []string {
	return []string{d.Indicator, d.SeriesCode, d.SeriesDescription}
}
