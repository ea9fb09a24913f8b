// Package partition splits the rows of each (indicator, series) pair into one
// table per combination of that series' informative dimension values.
//
// A Run is the single execution context of one transform. It owns the joined
// dataset and memoizes the per-series analysis and partition; both are built
// on first access and returned by pointer on every later call. A Run must not
// outlive the transform it was built for.
package partition

import (
	"sort"

	"sdgetl/internal/dataset"
)

// Signature is the dimension analysis of one series key.
type Signature struct {
	Key dataset.SeriesKey

	// Rows is the series subset of the run's table, in input order.
	Rows *dataset.Table

	// Dimensions are the populated, non-constant dimension columns in table
	// order. Values[i] holds the distinct cells of Dimensions[i], null
	// included, in first-seen order.
	Dimensions []string
	Values     [][]dataset.Cell

	dimIx []int
}

// Combination assigns one cell to every dimension of a signature.
type Combination []dataset.Cell

// Labels renders the combination, nulls as null.
func (c Combination) Labels(null string) []string {
	out := make([]string, len(c))
	for i, cell := range c {
		out[i] = cell.Label(null)
	}
	return out
}

// Slice is one output table of a partition.
type Slice struct {
	// Combination is nil when the series has no informative dimensions.
	Combination Combination
	Table       *dataset.Table
}

// Partition is the full split of one series key.
type Partition struct {
	Signature *Signature
	Slices    []Slice
}

// Combined reports whether the partition is keyed by dimension combinations.
func (p *Partition) Combined() bool { return len(p.Signature.Dimensions) > 0 }

// Run holds one transform's dataset and its memoized analysis.
type Run struct {
	data *dataset.Table

	keys     []dataset.SeriesKey
	bySeries map[dataset.SeriesKey][]*dataset.Row

	signatures map[dataset.SeriesKey]*Signature
	partitions map[dataset.SeriesKey]*Partition
}

// NewRun indexes data by series key. data must not be modified afterwards.
func NewRun(data *dataset.Table) *Run {
	r := &Run{
		data:       data,
		bySeries:   make(map[dataset.SeriesKey][]*dataset.Row),
		signatures: make(map[dataset.SeriesKey]*Signature),
		partitions: make(map[dataset.SeriesKey]*Partition),
	}
	for _, row := range data.Rows {
		k := row.Key()
		if _, ok := r.bySeries[k]; !ok {
			r.keys = append(r.keys, k)
		}
		r.bySeries[k] = append(r.bySeries[k], row)
	}
	sort.Slice(r.keys, func(i, j int) bool { return r.keys[i].Less(r.keys[j]) })
	return r
}

// Keys returns every series key of the run, ordered by indicator then series.
func (r *Run) Keys() []dataset.SeriesKey {
	return append([]dataset.SeriesKey(nil), r.keys...)
}

// Table returns the run's dataset.
func (r *Run) Table() *dataset.Table { return r.data }

// Analyze returns the dimension signature of key. A dimension column is kept
// when some row of the series has a value in it and it holds more than one
// distinct value, null counting as a value. Unknown keys yield an empty
// signature over zero rows.
func (r *Run) Analyze(key dataset.SeriesKey) *Signature {
	if s, ok := r.signatures[key]; ok {
		return s
	}

	rows := r.bySeries[key]
	if rows == nil {
		rows = []*dataset.Row{}
	}
	s := &Signature{
		Key:  key,
		Rows: &dataset.Table{Dimensions: r.data.Dimensions, Rows: rows},
	}
	for i, name := range r.data.Dimensions {
		if !dataset.Populated(rows, i) {
			continue
		}
		values := dataset.DistinctCells(rows, i)
		if len(values) < 2 {
			continue
		}
		s.Dimensions = append(s.Dimensions, name)
		s.Values = append(s.Values, values)
		s.dimIx = append(s.dimIx, i)
	}

	r.signatures[key] = s
	return s
}

// Partition returns the split of key. With no informative dimensions there is
// a single slice holding the series rows unchanged. Otherwise there is one
// slice per element of the Cartesian product of the signature values, in
// product order, each without the signature's dimension columns. Slices
// whose combination matches no row are kept with zero rows.
func (r *Run) Partition(key dataset.SeriesKey) *Partition {
	if p, ok := r.partitions[key]; ok {
		return p
	}

	sig := r.Analyze(key)
	p := &Partition{Signature: sig}

	if len(sig.Dimensions) == 0 {
		p.Slices = []Slice{{Table: sig.Rows}}
		r.partitions[key] = p
		return p
	}

	combos := Product(sig.Values)
	p.Slices = make([]Slice, 0, len(combos))
	for _, c := range combos {
		match := sig.Rows.Filter(func(row *dataset.Row) bool {
			for j, ix := range sig.dimIx {
				if !c[j].Matches(row.Dims[ix]) {
					return false
				}
			}
			return true
		})
		p.Slices = append(p.Slices, Slice{
			Combination: c,
			Table:       match.Drop(sig.Dimensions...),
		})
	}

	r.partitions[key] = p
	return p
}

// Product enumerates the Cartesian product of values: the first list varies
// slowest. An empty input yields no combinations; so does any empty list.
func Product(values [][]dataset.Cell) []Combination {
	if len(values) == 0 {
		return nil
	}
	total := 1
	for _, v := range values {
		total *= len(v)
	}
	if total == 0 {
		return nil
	}

	out := make([]Combination, 0, total)
	idx := make([]int, len(values))
	for {
		c := make(Combination, len(values))
		for i, j := range idx {
			c[i] = values[i][j]
		}
		out = append(out, c)

		// Odometer increment, last position fastest.
		i := len(idx) - 1
		for ; i >= 0; i-- {
			idx[i]++
			if idx[i] < len(values[i]) {
				break
			}
			idx[i] = 0
		}
		if i < 0 {
			return out
		}
	}
}
