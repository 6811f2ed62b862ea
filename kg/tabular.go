// tabular.go defines the contract for delimited tabular sources.
//
// The only structural signal used anywhere downstream is the header row plus
// a bounded sample of values, so the contract is intentionally small:
//
//   - RowSampler: bounded sample for structural analysis. Reading a sample
//     instead of the whole file keeps analysis cost flat for large sources.
//   - RowStreamer: batched full-file iteration for graph materialization.
//
// CSVReader is the stdlib implementation of both. DuckDBSampler
// (tabular_duckdb.go) is an alternative sampler that pushes the sampling into
// DuckDB's read_csv for sources too large to scan row by row.

package kg

import (
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"os"
)

// TableSample is a bounded sample of a delimited source.
type TableSample struct {
	Header []string
	Rows   [][]string
}

// RowSampler reads at most limit data rows plus the header.
type RowSampler interface {
	Sample(ctx context.Context, path string, limit int) (*TableSample, error)
}

// RowStreamer iterates every data row in batches of keyed values.
type RowStreamer interface {
	Stream(ctx context.Context, path string, batchSize int, fn func(rows []map[string]any) error) error
}

// CSVReader reads comma-delimited files with a header row.
type CSVReader struct {
	// Comma overrides the field delimiter. Zero means ','.
	Comma rune
}

func (r *CSVReader) open(path string) (*os.File, *csv.Reader, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, nil, fmt.Errorf("open tabular source %s: %w", path, err)
	}
	cr := csv.NewReader(f)
	cr.FieldsPerRecord = -1
	cr.TrimLeadingSpace = true
	if r.Comma != 0 {
		cr.Comma = r.Comma
	}
	return f, cr, nil
}

// Sample implements RowSampler.
func (r *CSVReader) Sample(ctx context.Context, path string, limit int) (*TableSample, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = defaultSampleRows
	}

	f, cr, err := r.open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	header, err := cr.Read()
	if err != nil {
		if err == io.EOF {
			return nil, fmt.Errorf("tabular source %s: empty file", path)
		}
		return nil, fmt.Errorf("tabular source %s: read header: %w", path, err)
	}

	sample := &TableSample{Header: header}
	for len(sample.Rows) < limit {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		row, err := cr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("tabular source %s: read row: %w", path, err)
		}
		sample.Rows = append(sample.Rows, row)
	}
	return sample, nil
}

// Stream implements RowStreamer. Rows are delivered as header-keyed maps so
// they can be passed straight to the graph store as query parameters. Short
// rows leave trailing columns unset; extra cells are dropped.
func (r *CSVReader) Stream(ctx context.Context, path string, batchSize int, fn func(rows []map[string]any) error) error {
	if batchSize <= 0 {
		batchSize = defaultWriteBatchSize
	}

	f, cr, err := r.open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	header, err := cr.Read()
	if err != nil {
		if err == io.EOF {
			return nil
		}
		return fmt.Errorf("tabular source %s: read header: %w", path, err)
	}

	batch := make([]map[string]any, 0, batchSize)
	flush := func() error {
		if len(batch) == 0 {
			return nil
		}
		if err := fn(batch); err != nil {
			return err
		}
		batch = make([]map[string]any, 0, batchSize)
		return nil
	}

	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		row, err := cr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return fmt.Errorf("tabular source %s: read row: %w", path, err)
		}

		keyed := make(map[string]any, len(header))
		for i, name := range header {
			if i < len(row) {
				keyed[name] = row[i]
			}
		}
		batch = append(batch, keyed)
		if len(batch) >= batchSize {
			if err := flush(); err != nil {
				return err
			}
		}
	}
	return flush()
}

var (
	_ RowSampler  = (*CSVReader)(nil)
	_ RowStreamer = (*CSVReader)(nil)
)
