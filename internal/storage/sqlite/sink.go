package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	_ "modernc.org/sqlite"

	"sdgetl/internal/storage"
)

// Sink implements storage.Sink as a single SQLite file.
//
// Layout:
//   - datasets(indicator, series_code, series_description)
//   - variables(id INTEGER PRIMARY KEY, indicator, series_code, name, unit)
//   - datapoints(variable_id, value, year, ...), one row per datapoint of
//     every variable; a variable with no rows simply has none here.
//
// Every column except the ids is TEXT: values are exported verbatim, nulls as
// empty strings, matching the csv backend.
type Sink struct {
	db *sql.DB
}

// insertBatch bounds the rows per INSERT so the bound-parameter count stays
// well below SQLITE_MAX_VARIABLE_NUMBER.
const insertBatch = 500

func init() {
	storage.RegisterSink("sqlite", New)
}

// New opens (or creates) the database at cfg.Path and resets the export
// tables. cfg.IndexWidth is ignored: variable ids are stored as integers.
func New(ctx context.Context, cfg storage.SinkConfig) (storage.Sink, error) {
	if strings.TrimSpace(cfg.Path) == "" {
		return nil, fmt.Errorf("sqlite sink: path is required")
	}
	db, err := sql.Open("sqlite", cfg.Path)
	if err != nil {
		return nil, err
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	// One connection: a second pooled connection to the same file would see
	// SQLITE_BUSY under concurrent writes.
	db.SetMaxOpenConns(1)

	s := &Sink{db: db}
	if err := s.ensureTables(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Sink) Close() error { return s.db.Close() }

// ensureTables drops and recreates the export tables so a rerun replaces the
// previous export instead of appending to it.
func (s *Sink) ensureTables(ctx context.Context) error {
	stmts := []string{
		`DROP TABLE IF EXISTS datapoints`,
		`DROP TABLE IF EXISTS variables`,
		`DROP TABLE IF EXISTS datasets`,
		createTableSQL("datasets", "", storage.DatasetColumns),
		createTableSQL("variables", "id INTEGER PRIMARY KEY", without(storage.VariableColumns, "id")),
		createTableSQL("datapoints", "variable_id INTEGER NOT NULL", storage.DatapointColumns),
		`CREATE INDEX IF NOT EXISTS datapoints_variable_id ON datapoints (variable_id)`,
	}
	for _, q := range stmts {
		if _, err := s.db.ExecContext(ctx, q); err != nil {
			return fmt.Errorf("sqlite sink: %s: %w", q, err)
		}
	}
	return nil
}

func (s *Sink) WriteDatapoints(ctx context.Context, variableID int, rows []storage.Datapoint) error {
	cols := append([]string{"variable_id"}, storage.DatapointColumns...)
	vals := make([][]any, 0, len(rows))
	for _, r := range rows {
		row := []any{variableID}
		for _, v := range r.Record() {
			row = append(row, v)
		}
		vals = append(vals, row)
	}
	return s.insert(ctx, "datapoints", cols, vals)
}

func (s *Sink) WriteVariables(ctx context.Context, vars []storage.Variable) error {
	cols := []string{"id", "indicator", "series_code", "name", "unit"}
	vals := make([][]any, 0, len(vars))
	for _, v := range vars {
		vals = append(vals, []any{v.ID, v.Indicator, v.SeriesCode, v.Name, v.Unit})
	}
	return s.insert(ctx, "variables", cols, vals)
}

func (s *Sink) WriteDatasets(ctx context.Context, sets []storage.Dataset) error {
	vals := make([][]any, 0, len(sets))
	for _, d := range sets {
		vals = append(vals, []any{d.Indicator, d.SeriesCode, d.SeriesDescription})
	}
	return s.insert(ctx, "datasets", storage.DatasetColumns, vals)
}

// insert writes rows in multi-row INSERT batches inside one transaction.
func (s *Sink) insert(ctx context.Context, table string, columns []string, rows [][]any) error {
	if len(rows) == 0 {
		return ctx.Err()
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	for start := 0; start < len(rows); start += insertBatch {
		end := min(start+insertBatch, len(rows))
		q, args := buildInsertSQL(table, columns, rows[start:end])
		if _, err := tx.ExecContext(ctx, q, args...); err != nil {
			return fmt.Errorf("sqlite sink: insert %s: %w", table, err)
		}
	}
	return tx.Commit()
}

func buildInsertSQL(table string, columns []string, rows [][]any) (string, []any) {
	colList := make([]string, 0, len(columns))
	for _, c := range columns {
		colList = append(colList, sqlIdent(c))
	}
	placeholders := "(" + strings.TrimRight(strings.Repeat("?,", len(columns)), ",") + ")"

	var b strings.Builder
	b.WriteString("INSERT INTO ")
	b.WriteString(sqlIdent(table))
	b.WriteString(" (")
	b.WriteString(strings.Join(colList, ", "))
	b.WriteString(") VALUES ")

	args := make([]any, 0, len(rows)*len(columns))
	for i, row := range rows {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString(placeholders)
		args = append(args, row...)
	}
	return b.String(), args
}

func createTableSQL(table, lead string, textColumns []string) string {
	parts := make([]string, 0, len(textColumns)+1)
	if lead != "" {
		parts = append(parts, lead)
	}
	for _, c := range textColumns {
		parts = append(parts, sqlIdent(c)+" TEXT NOT NULL")
	}
	return fmt.Sprintf("CREATE TABLE IF NOT EXISTS %s (\n  %s\n)", sqlIdent(table), strings.Join(parts, ",\n  "))
}

func without(cols []string, drop string) []string {
	out := make([]string, 0, len(cols))
	for _, c := range cols {
		if c != drop {
			out = append(out, c)
		}
	}
	return out
}

func sqlIdent(id string) string {
	// SQLite supports "quoted identifiers"
	return `"` + strings.ReplaceAll(id, `"`, `""`) + `"`
}
