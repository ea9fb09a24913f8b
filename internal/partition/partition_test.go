package partition

import (
	"reflect"
	"testing"

	"sdgetl/internal/dataset"
)

var (
	null = dataset.Null
	str  = dataset.Str
)

func row(ind, series, value string, dims ...dataset.Cell) *dataset.Row {
	return &dataset.Row{
		Indicator:         ind,
		SeriesCode:        series,
		SeriesDescription: "desc " + series,
		Units:             "PERCENT",
		GeoAreaCode:       "4",
		TimePeriod:        "2015",
		Value:             value,
		Dims:              dims,
	}
}

// povertyTable has one series with a varying [Sex], a constant [Age] and an
// all-null [Location].
func povertyTable() *dataset.Table {
	return &dataset.Table{
		Dimensions: []string{"[Sex]", "[Age]", "[Location]"},
		Rows: []*dataset.Row{
			row("1.1.1", "SI_POV_DAY1", "1", str("Male"), str("ALLAGE"), null),
			row("1.1.1", "SI_POV_DAY1", "2", str("Female"), str("ALLAGE"), null),
			row("1.1.1", "SI_POV_DAY1", "3", str("Male"), str("ALLAGE"), null),
		},
	}
}

var povertyKey = dataset.SeriesKey{Indicator: "1.1.1", Series: "SI_POV_DAY1"}

func TestAnalyze_DropsConstantAndAllNullDimensions(t *testing.T) {
	run := NewRun(povertyTable())
	sig := run.Analyze(povertyKey)

	if want := []string{"[Sex]"}; !reflect.DeepEqual(sig.Dimensions, want) {
		t.Fatalf("Dimensions=%v, want %v", sig.Dimensions, want)
	}
	if want := [][]dataset.Cell{{str("Male"), str("Female")}}; !reflect.DeepEqual(sig.Values, want) {
		t.Fatalf("Values=%v, want %v", sig.Values, want)
	}
	if sig.Rows.Len() != 3 {
		t.Fatalf("rows=%d, want 3", sig.Rows.Len())
	}
}

func TestAnalyze_NullCountsAsDistinctValue(t *testing.T) {
	tb := &dataset.Table{
		Dimensions: []string{"[Sex]"},
		Rows: []*dataset.Row{
			row("1.1.1", "S", "1", str("Male")),
			row("1.1.1", "S", "2", null),
		},
	}
	sig := NewRun(tb).Analyze(dataset.SeriesKey{Indicator: "1.1.1", Series: "S"})

	if want := [][]dataset.Cell{{str("Male"), null}}; !reflect.DeepEqual(sig.Values, want) {
		t.Fatalf("Values=%v, want %v", sig.Values, want)
	}
}

func TestAnalyze_IsScopedToSeriesKey(t *testing.T) {
	// [Sex] varies across series but is constant within each one.
	tb := &dataset.Table{
		Dimensions: []string{"[Sex]"},
		Rows: []*dataset.Row{
			row("1.1.1", "A", "1", str("Male")),
			row("1.1.1", "B", "2", str("Female")),
			row("1.1.1", "A", "3", str("Male")),
		},
	}
	run := NewRun(tb)
	for _, s := range []string{"A", "B"} {
		sig := run.Analyze(dataset.SeriesKey{Indicator: "1.1.1", Series: s})
		if len(sig.Dimensions) != 0 {
			t.Fatalf("series %s: Dimensions=%v, want none", s, sig.Dimensions)
		}
	}
}

func TestAnalyze_UnknownKey(t *testing.T) {
	sig := NewRun(povertyTable()).Analyze(dataset.SeriesKey{Indicator: "9.9.9", Series: "X"})
	if sig.Rows.Len() != 0 || len(sig.Dimensions) != 0 {
		t.Fatalf("unknown key: rows=%d dims=%v", sig.Rows.Len(), sig.Dimensions)
	}
	p := NewRun(povertyTable()).Partition(dataset.SeriesKey{Indicator: "9.9.9", Series: "X"})
	if len(p.Slices) != 1 || p.Slices[0].Table.Len() != 0 {
		t.Fatalf("unknown key partition: %+v", p.Slices)
	}
}

func TestRun_MemoizesByKey(t *testing.T) {
	run := NewRun(povertyTable())

	s1 := run.Analyze(povertyKey)
	s2 := run.Analyze(povertyKey)
	if s1 != s2 {
		t.Fatalf("Analyze returned different pointers for the same key")
	}

	p1 := run.Partition(povertyKey)
	p2 := run.Partition(povertyKey)
	if p1 != p2 {
		t.Fatalf("Partition returned different pointers for the same key")
	}
	if p1.Signature != s1 {
		t.Fatalf("Partition did not reuse the memoized signature")
	}

	other := NewRun(povertyTable())
	if other.Analyze(povertyKey) == s1 {
		t.Fatalf("signature shared across runs")
	}
}

func TestPartition_SexScenario(t *testing.T) {
	p := NewRun(povertyTable()).Partition(povertyKey)

	if !p.Combined() {
		t.Fatalf("Combined=false, want true")
	}
	if len(p.Slices) != 2 {
		t.Fatalf("slices=%d, want 2", len(p.Slices))
	}

	male, female := p.Slices[0], p.Slices[1]
	if !reflect.DeepEqual(male.Combination, Combination{str("Male")}) ||
		!reflect.DeepEqual(female.Combination, Combination{str("Female")}) {
		t.Fatalf("combinations=%v,%v", male.Combination, female.Combination)
	}
	if got := values(male.Table); !reflect.DeepEqual(got, []string{"1", "3"}) {
		t.Fatalf("male values=%v", got)
	}
	if got := values(female.Table); !reflect.DeepEqual(got, []string{"2"}) {
		t.Fatalf("female values=%v", got)
	}

	for _, s := range p.Slices {
		if s.Table.DimIndex("[Sex]") != -1 {
			t.Fatalf("signature dimension not dropped: %v", s.Table.Dimensions)
		}
		for _, r := range s.Table.Rows {
			if len(r.Dims) != len(s.Table.Dimensions) {
				t.Fatalf("row dims %v do not match table dims %v", r.Dims, s.Table.Dimensions)
			}
		}
	}
}

func TestPartition_NoDimensionsReturnsSubsetUnchanged(t *testing.T) {
	tb := &dataset.Table{
		Dimensions: []string{"[Sex]"},
		Rows: []*dataset.Row{
			row("3.1.1", "SH_STA_MORT", "10", null),
			row("3.1.1", "SH_STA_MORT", "11", null),
			row("1.1.1", "OTHER", "12", str("Male")),
		},
	}
	run := NewRun(tb)
	key := dataset.SeriesKey{Indicator: "3.1.1", Series: "SH_STA_MORT"}
	p := run.Partition(key)

	if p.Combined() || len(p.Slices) != 1 || p.Slices[0].Combination != nil {
		t.Fatalf("expected one uncombined slice, got %+v", p.Slices)
	}
	if p.Slices[0].Table != run.Analyze(key).Rows {
		t.Fatalf("uncombined slice must be the filtered subset itself")
	}
	if got := values(p.Slices[0].Table); !reflect.DeepEqual(got, []string{"10", "11"}) {
		t.Fatalf("values=%v", got)
	}
}

func TestPartition_ProductIncludesEmptyCombinations(t *testing.T) {
	// Observed pairs: (M,Y) (F,O) (nil,Y). Product is 3x2=6 with 3 empty.
	tb := &dataset.Table{
		Dimensions: []string{"[Sex]", "[Age]"},
		Rows: []*dataset.Row{
			row("1.1.1", "S", "1", str("M"), str("Y")),
			row("1.1.1", "S", "2", str("F"), str("O")),
			row("1.1.1", "S", "3", null, str("Y")),
		},
	}
	run := NewRun(tb)
	key := dataset.SeriesKey{Indicator: "1.1.1", Series: "S"}
	p := run.Partition(key)

	want := []struct {
		combo Combination
		vals  []string
	}{
		{Combination{str("M"), str("Y")}, []string{"1"}},
		{Combination{str("M"), str("O")}, []string{}},
		{Combination{str("F"), str("Y")}, []string{}},
		{Combination{str("F"), str("O")}, []string{"2"}},
		{Combination{null, str("Y")}, []string{"3"}},
		{Combination{null, str("O")}, []string{}},
	}
	if len(p.Slices) != len(want) {
		t.Fatalf("slices=%d, want %d", len(p.Slices), len(want))
	}
	for i, w := range want {
		s := p.Slices[i]
		if !reflect.DeepEqual(s.Combination, w.combo) {
			t.Fatalf("slice %d combination=%v, want %v", i, s.Combination, w.combo)
		}
		if got := values(s.Table); !reflect.DeepEqual(got, w.vals) {
			t.Fatalf("slice %d values=%v, want %v", i, got, w.vals)
		}
	}

	assertDisjointCover(t, run.Analyze(key).Rows, p)
}

func TestPartition_RoundTripSignature(t *testing.T) {
	tb := povertyTable()
	run := NewRun(tb)
	p := run.Partition(povertyKey)

	// Re-derive the signature from the original rows in a fresh run.
	again := NewRun(tb).Analyze(povertyKey)
	if !reflect.DeepEqual(again.Dimensions, p.Signature.Dimensions) ||
		!reflect.DeepEqual(again.Values, p.Signature.Values) {
		t.Fatalf("signature not reproducible: %v/%v vs %v/%v",
			again.Dimensions, again.Values, p.Signature.Dimensions, p.Signature.Values)
	}
	if got := Product(again.Values); len(got) != len(p.Slices) {
		t.Fatalf("combination count=%d, want %d", len(got), len(p.Slices))
	}
	assertDisjointCover(t, run.Analyze(povertyKey).Rows, p)
}

func TestRunKeys_Sorted(t *testing.T) {
	tb := &dataset.Table{
		Rows: []*dataset.Row{
			row("3.1.1", "B", "1"),
			row("1.1.1", "Z", "1"),
			row("1.1.1", "A", "1"),
			row("3.1.1", "B", "2"),
		},
	}
	got := NewRun(tb).Keys()
	want := []dataset.SeriesKey{
		{Indicator: "1.1.1", Series: "A"},
		{Indicator: "1.1.1", Series: "Z"},
		{Indicator: "3.1.1", Series: "B"},
	}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("Keys=%v, want %v", got, want)
	}
}

func TestProduct(t *testing.T) {
	if got := Product(nil); got != nil {
		t.Fatalf("Product(nil)=%v, want nil", got)
	}
	if got := Product([][]dataset.Cell{{str("a")}, {}}); got != nil {
		t.Fatalf("Product with empty list=%v, want nil", got)
	}

	got := Product([][]dataset.Cell{{str("a"), str("b")}, {str("1"), null, str("3")}})
	if len(got) != 6 {
		t.Fatalf("len=%d, want 6", len(got))
	}
	labels := make([]string, len(got))
	for i, c := range got {
		l := c.Labels("nan")
		labels[i] = l[0] + l[1]
	}
	if want := []string{"a1", "anan", "a3", "b1", "bnan", "b3"}; !reflect.DeepEqual(labels, want) {
		t.Fatalf("order=%v, want %v", labels, want)
	}
}

func values(t *dataset.Table) []string {
	out := make([]string, 0, t.Len())
	for _, r := range t.Rows {
		out = append(out, r.Value)
	}
	return out
}

// assertDisjointCover checks every subset row lands in exactly one slice.
func assertDisjointCover(t *testing.T, subset *dataset.Table, p *Partition) {
	t.Helper()
	seen := map[string]int{}
	total := 0
	for _, s := range p.Slices {
		for _, r := range s.Table.Rows {
			seen[r.Value]++
			total++
		}
	}
	if total != subset.Len() {
		t.Fatalf("slices hold %d rows, subset has %d", total, subset.Len())
	}
	for _, r := range subset.Rows {
		if seen[r.Value] != 1 {
			t.Fatalf("row %s appears %d times", r.Value, seen[r.Value])
		}
	}
}
