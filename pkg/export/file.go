package export

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
)

// TableDumper provides the raw table shape needed for file exports.
type TableDumper interface {
	TableColumns(ctx context.Context, table string) ([]string, error)
	TableRows(ctx context.Context, table string) ([]map[string]any, error)
}

// WriteCSV dumps a table as CSV, columns in schema order. The header row
// is written even when the table is empty.
func WriteCSV(ctx context.Context, dumper TableDumper, table string, w io.Writer) error {
	cols, err := dumper.TableColumns(ctx, table)
	if err != nil {
		return fmt.Errorf("columns of %s: %w", table, err)
	}
	rows, err := dumper.TableRows(ctx, table)
	if err != nil {
		return fmt.Errorf("rows of %s: %w", table, err)
	}

	cw := csv.NewWriter(w)
	if err := cw.Write(cols); err != nil {
		return fmt.Errorf("write header: %w", err)
	}
	record := make([]string, len(cols))
	for _, row := range rows {
		for i, col := range cols {
			if v, ok := row[col]; ok && v != nil {
				record[i] = asString(v)
			} else {
				record[i] = ""
			}
		}
		if err := cw.Write(record); err != nil {
			return fmt.Errorf("write row: %w", err)
		}
	}
	cw.Flush()
	return cw.Error()
}

// WriteJSON dumps a table as an indented JSON array of row objects.
func WriteJSON(ctx context.Context, dumper TableDumper, table string, w io.Writer) error {
	rows, err := dumper.TableRows(ctx, table)
	if err != nil {
		return fmt.Errorf("rows of %s: %w", table, err)
	}
	if rows == nil {
		rows = []map[string]any{}
	}
	data, err := json.MarshalIndent(rows, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal rows: %w", err)
	}
	if _, err := w.Write(append(data, '\n')); err != nil {
		return fmt.Errorf("write json: %w", err)
	}
	return nil
}
