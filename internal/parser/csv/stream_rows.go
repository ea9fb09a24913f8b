package csv

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strings"

	"golang.org/x/text/encoding/charmap"
	"golang.org/x/text/encoding/unicode"
	"golang.org/x/text/transform"

	"sdgetl/internal/config"
	"sdgetl/internal/dataset"
)

// ErrMissingColumn is returned when the header lacks a required column.
var ErrMissingColumn = errors.New("missing required column")

// Layout describes where the columns of the UN export sit in a record.
type Layout struct {
	// fixed maps each dataset.RequiredColumns entry to its record index.
	fixed map[string]int

	// Dimensions are the dimension headers in file order; dimIx their indices.
	Dimensions []string
	dimIx      []int
}

// StreamRows decodes src into dataset rows, calling onLayout once after the
// header is read and emit for every record, in file order.
//
// Options (parser.options):
//   - encoding: utf-8 (default) | utf-16 | latin1 | windows-1252
//   - comma: field delimiter, default ','
//   - trim_space: trim edge whitespace from data fields, default false;
//     headers are always trimmed
//   - lazy_quotes: csv.Reader.LazyQuotes, default false
//   - fields_per_record: csv.Reader.FieldsPerRecord, default 0 (header width)
//   - header_map: rename source headers before column matching
//
// Any read error, including a record with the wrong field count, aborts the
// stream: a run must not continue on a partially understood file.
func StreamRows(
	ctx context.Context,
	src io.ReadCloser,
	opt config.Options,
	onLayout func(Layout),
	emit func(*dataset.Row) error,
) error {
	defer src.Close()

	dec, err := decodeReader(src, opt.String("encoding", "utf-8"))
	if err != nil {
		return err
	}

	trim := opt.Bool("trim_space", false)
	hm := opt.StringMap("header_map")

	cr := csv.NewReader(dec)
	cr.Comma = opt.Rune("comma", ',')
	cr.LazyQuotes = opt.Bool("lazy_quotes", false)
	cr.FieldsPerRecord = opt.Int("fields_per_record", 0)

	var line int
	readRec := func() ([]string, error) {
		line++
		return cr.Read()
	}

	hdr, err := readRec()
	if err != nil {
		if err == io.EOF {
			return fmt.Errorf("read header: empty input")
		}
		return fmt.Errorf("read header: %w", err)
	}

	layout, err := buildLayout(hdr, hm)
	if err != nil {
		return err
	}
	if onLayout != nil {
		onLayout(layout)
	}

	field := func(rec []string, i int) string {
		if i < 0 || i >= len(rec) {
			return ""
		}
		v := rec[i]
		if trim && hasEdgeSpace(v) {
			v = strings.TrimSpace(v)
		}
		return v
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		rec, err := readRec()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return fmt.Errorf("csv read line %d: %w", line, err)
		}

		fx := layout.fixed
		row := &dataset.Row{
			Line:              line,
			Indicator:         field(rec, fx[dataset.ColIndicator]),
			SeriesCode:        field(rec, fx[dataset.ColSeriesCode]),
			SeriesDescription: field(rec, fx[dataset.ColSeriesDescription]),
			Units:             field(rec, fx[dataset.ColUnits]),
			GeoAreaCode:       field(rec, fx[dataset.ColGeoAreaCode]),
			GeoAreaName:       field(rec, fx[dataset.ColGeoAreaName]),
			TimePeriod:        field(rec, fx[dataset.ColTimePeriod]),
			Value:             field(rec, fx[dataset.ColValue]),
			TimeDetail:        field(rec, fx[dataset.ColTimeDetail]),
			Source:            field(rec, fx[dataset.ColSource]),
			FootNote:          field(rec, fx[dataset.ColFootNote]),
			Nature:            field(rec, fx[dataset.ColNature]),
			Dims:              make([]dataset.Cell, len(layout.dimIx)),
		}
		for d, si := range layout.dimIx {
			if v := field(rec, si); v != "" {
				row.Dims[d] = dataset.Str(v)
			}
		}

		if err := emit(row); err != nil {
			return err
		}
	}
}

func buildLayout(hdr []string, hm map[string]string) (Layout, error) {
	l := Layout{fixed: make(map[string]int, len(dataset.RequiredColumns))}
	seen := make(map[string]int, len(hdr))

	for i, h := range hdr {
		if hasEdgeSpace(h) {
			h = strings.TrimSpace(h)
		}
		if i == 0 {
			h = strings.TrimPrefix(h, "\uFEFF")
		}
		if mapped, ok := hm[h]; ok {
			h = mapped
		}
		if prev, dup := seen[h]; dup {
			return Layout{}, fmt.Errorf("read header: duplicate column %q at positions %d and %d", h, prev+1, i+1)
		}
		seen[h] = i

		if dataset.IsDimension(h) {
			l.Dimensions = append(l.Dimensions, h)
			l.dimIx = append(l.dimIx, i)
		}
	}

	var missing []string
	for _, c := range dataset.RequiredColumns {
		i, ok := seen[c]
		if !ok {
			missing = append(missing, c)
			continue
		}
		l.fixed[c] = i
	}
	if len(missing) > 0 {
		return Layout{}, fmt.Errorf("read header: %w: %s", ErrMissingColumn, strings.Join(missing, ", "))
	}
	return l, nil
}

// decodeReader wraps r so the CSV reader always sees UTF-8. A leading BOM is
// honored (and stripped) for the UTF-8 and UTF-16 cases.
func decodeReader(r io.Reader, enc string) (io.Reader, error) {
	switch strings.ToLower(strings.ReplaceAll(strings.TrimSpace(enc), "_", "-")) {
	case "", "utf-8", "utf8":
		return transform.NewReader(r, unicode.BOMOverride(unicode.UTF8.NewDecoder())), nil
	case "utf-16", "utf16":
		return transform.NewReader(r, unicode.UTF16(unicode.LittleEndian, unicode.UseBOM).NewDecoder()), nil
	case "latin1", "latin-1", "iso-8859-1":
		return transform.NewReader(r, charmap.ISO8859_1.NewDecoder()), nil
	case "windows-1252", "cp1252":
		return transform.NewReader(r, charmap.Windows1252.NewDecoder()), nil
	default:
		return nil, fmt.Errorf("parser: unsupported encoding %q", enc)
	}
}

func hasEdgeSpace(s string) bool {
	if s == "" {
		return false
	}
	return isSpace(s[0]) || isSpace(s[len(s)-1])
}

func isSpace(b byte) bool {
	return b == ' ' || b == '\t' || b == '\n' || b == '\r' || b == '\v' || b == '\f'
}
