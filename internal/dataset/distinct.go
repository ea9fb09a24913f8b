package dataset

// Distinct returns the distinct keys of rows in first-seen order.
func Distinct[K comparable](rows []*Row, key func(*Row) K) []K {
	seen := make(map[K]struct{})
	out := make([]K, 0)
	for _, r := range rows {
		k := key(r)
		if _, ok := seen[k]; ok {
			continue
		}
		seen[k] = struct{}{}
		out = append(out, k)
	}
	return out
}

// DistinctCells returns the distinct values of dimension column dim within
// rows, null included, in first-seen order.
func DistinctCells(rows []*Row, dim int) []Cell {
	return Distinct(rows, func(r *Row) Cell { return r.Dims[dim] })
}

// Populated reports whether any row has a non-null value in dimension dim.
func Populated(rows []*Row, dim int) bool {
	for _, r := range rows {
		if r.Dims[dim].Valid {
			return true
		}
	}
	return false
}
