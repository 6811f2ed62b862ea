package kg

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	_ "github.com/marcboeker/go-duckdb"
)

// DuckDBSampler implements RowSampler by delegating the sample to DuckDB's
// read_csv. For multi-gigabyte sources this avoids pulling the file through
// encoding/csv just to look at the first rows; DuckDB reads only what the
// LIMIT needs.
//
// Every column is read as VARCHAR (all_varchar=true) so sampled values are
// byte-for-byte what the file contains, matching CSVReader.
type DuckDBSampler struct {
	// MemoryLimit is passed to DuckDB (e.g. "128MB"). Zero value keeps the
	// engine default.
	MemoryLimit string
}

func (d *DuckDBSampler) Sample(ctx context.Context, path string, limit int) (*TableSample, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = defaultSampleRows
	}

	db, err := sql.Open("duckdb", "")
	if err != nil {
		return nil, fmt.Errorf("open duckdb: %w", err)
	}
	defer db.Close()

	if d.MemoryLimit != "" {
		if _, err := db.ExecContext(ctx, fmt.Sprintf("SET memory_limit='%s'", d.MemoryLimit)); err != nil {
			return nil, fmt.Errorf("set duckdb memory limit: %w", err)
		}
	}

	// read_csv infers the header; all_varchar keeps values untyped.
	rows, err := db.QueryContext(ctx,
		"SELECT * FROM read_csv(?, header=true, all_varchar=true) LIMIT ?",
		path, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("duckdb sample %s: %w", path, err)
	}
	defer rows.Close()

	columns, err := rows.Columns()
	if err != nil {
		return nil, fmt.Errorf("duckdb sample %s: columns: %w", path, err)
	}

	sample := &TableSample{Header: columns}
	for rows.Next() {
		values := make([]sql.NullString, len(columns))
		scan := make([]any, len(columns))
		for i := range values {
			scan[i] = &values[i]
		}
		if err := rows.Scan(scan...); err != nil {
			return nil, fmt.Errorf("duckdb sample %s: scan: %w", path, err)
		}

		row := make([]string, len(columns))
		for i, v := range values {
			if v.Valid {
				row[i] = strings.TrimSpace(v.String)
			}
		}
		sample.Rows = append(sample.Rows, row)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("duckdb sample %s: %w", path, err)
	}
	return sample, nil
}

var _ RowSampler = (*DuckDBSampler)(nil)
