package output

import (
	"fmt"
	"io"
	"strings"
	"text/tabwriter"
)

// TableWriter aligns Tabular results into columns. The header is taken
// from the first result.
type TableWriter struct {
	tw     *tabwriter.Writer
	header bool
}

// NewTableWriter creates a table writer.
func NewTableWriter(w io.Writer) *TableWriter {
	return &TableWriter{tw: tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)}
}

// Write adds v as a row.
func (w *TableWriter) Write(v any) error {
	row, ok := v.(Tabular)
	if !ok {
		return fmt.Errorf("%T cannot be shown as a table; use --format json", v)
	}
	if !w.header {
		if _, err := fmt.Fprintln(w.tw, strings.Join(row.Columns(), "\t")); err != nil {
			return err
		}
		w.header = true
	}
	cells := row.Row()
	for i, c := range cells {
		cells[i] = strings.NewReplacer("\t", " ", "\n", " ").Replace(c)
	}
	_, err := fmt.Fprintln(w.tw, strings.Join(cells, "\t"))
	return err
}

// Close flushes the aligned table.
func (w *TableWriter) Close() error {
	return w.tw.Flush()
}
