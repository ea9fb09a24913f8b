// Package entities handles the geographic entity hand-off around the external
// reconciliation step: extracting the distinct areas of a run, writing them out
// for curation, reading the curated mapping back and joining it into the data.
package entities

import (
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"strings"

	"sdgetl/internal/dataset"
)

// Entity is one geographic area as named in the source export.
type Entity struct {
	Code string
	Name string
}

// Mapping maps a geographic area code to a canonical entity id.
type Mapping map[string]string

// Reconciler is the external collaborator that matches area names against the
// canonical entity list.
type Reconciler interface {
	Reconcile(ctx context.Context, ents []Entity) (Mapping, error)
}

// Extract returns the distinct (code, name) pairs of t in first-seen order.
func Extract(t *dataset.Table) []Entity {
	return dataset.Distinct(t.Rows, func(r *dataset.Row) Entity {
		return Entity{Code: r.GeoAreaCode, Name: r.GeoAreaName}
	})
}

// WriteExport writes ents as an id,name CSV for the reconciliation step.
func WriteExport(w io.Writer, ents []Entity) error {
	cw := csv.NewWriter(w)
	if err := cw.Write([]string{"id", "name"}); err != nil {
		return err
	}
	for _, e := range ents {
		if err := cw.Write([]string{e.Code, e.Name}); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

// LoadMapping reads a curated reconciliation file. The header must contain
// idCol and entityCol; other columns are ignored. Rows with an empty entity id
// are treated as unmatched. The same id mapped to two different entities is an
// error.
func LoadMapping(r io.Reader, idCol, entityCol string) (Mapping, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1

	hdr, err := cr.Read()
	if err != nil {
		if err == io.EOF {
			return nil, fmt.Errorf("mapping: empty input")
		}
		return nil, fmt.Errorf("mapping: read header: %w", err)
	}

	idIx, entIx := -1, -1
	for i, h := range hdr {
		h = strings.TrimSpace(strings.TrimPrefix(h, "\uFEFF"))
		switch h {
		case idCol:
			idIx = i
		case entityCol:
			entIx = i
		}
	}
	if idIx < 0 || entIx < 0 {
		return nil, fmt.Errorf("mapping: header must contain %q and %q, got %v", idCol, entityCol, hdr)
	}

	m := Mapping{}
	line := 1
	for {
		rec, err := cr.Read()
		line++
		if err == io.EOF {
			return m, nil
		}
		if err != nil {
			return nil, fmt.Errorf("mapping: line %d: %w", line, err)
		}
		if idIx >= len(rec) || entIx >= len(rec) {
			return nil, fmt.Errorf("mapping: line %d: short record", line)
		}

		id := strings.TrimSpace(rec[idIx])
		ent := strings.TrimSpace(rec[entIx])
		if id == "" || ent == "" {
			continue
		}
		if prev, ok := m[id]; ok && prev != ent {
			return nil, fmt.Errorf("mapping: line %d: id %q mapped to both %q and %q", line, id, prev, ent)
		}
		m[id] = ent
	}
}

// FileReconciler reads the mapping produced offline by the curation step.
// It ignores the entity list it is given: the curated file is the answer.
type FileReconciler struct {
	Path         string
	IDColumn     string
	EntityColumn string
}

func (f FileReconciler) Reconcile(ctx context.Context, _ []Entity) (Mapping, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	fh, err := os.Open(f.Path)
	if err != nil {
		return nil, fmt.Errorf("open mapping: %w", err)
	}
	defer fh.Close()
	return LoadMapping(fh, f.IDColumn, f.EntityColumn)
}

// JoinStats reports the effect of Join.
type JoinStats struct {
	Kept      int
	Dropped   int
	Unmatched []string // area codes with no mapping, first-seen order
}

// Join inner-joins t with m on area code. Matched rows get their EntityID
// set; rows whose area code has no mapping are dropped. The returned table
// shares rows with t.
func Join(t *dataset.Table, m Mapping) (*dataset.Table, JoinStats) {
	var stats JoinStats
	missing := map[string]struct{}{}

	out := t.Filter(func(r *dataset.Row) bool {
		ent, ok := m[r.GeoAreaCode]
		if !ok {
			stats.Dropped++
			if _, seen := missing[r.GeoAreaCode]; !seen {
				missing[r.GeoAreaCode] = struct{}{}
				stats.Unmatched = append(stats.Unmatched, r.GeoAreaCode)
			}
			return false
		}
		r.EntityID = ent
		stats.Kept++
		return true
	})
	return out, stats
}
