// Package output renders command results as JSON, JSONL, YAML or an
// aligned text table.
package output

import (
	"fmt"
	"io"
	"strings"
)

// Format represents output format types.
type Format string

const (
	FormatJSON  Format = "json"
	FormatJSONL Format = "jsonl"
	FormatYAML  Format = "yaml"
	FormatTable Format = "table"
)

// Formats lists every supported format.
var Formats = []Format{FormatTable, FormatJSON, FormatJSONL, FormatYAML}

// ParseFormat converts a flag value to a Format.
func ParseFormat(s string) (Format, error) {
	f := Format(strings.ToLower(strings.TrimSpace(s)))
	for _, known := range Formats {
		if f == known {
			return f, nil
		}
	}
	return "", fmt.Errorf("unsupported output format %q", s)
}

// Writer serializes results. Close must be called to emit buffered output.
type Writer interface {
	Write(v any) error
	Close() error
}

// Tabular is implemented by results that can be shown as a table row.
type Tabular interface {
	Columns() []string
	Row() []string
}

// NewWriter creates a writer for the specified format.
func NewWriter(w io.Writer, format Format) (Writer, error) {
	switch format {
	case FormatJSON:
		return NewJSONWriter(w, "  "), nil
	case FormatJSONL:
		return NewJSONLWriter(w), nil
	case FormatYAML:
		return NewYAMLWriter(w), nil
	case FormatTable:
		return NewTableWriter(w), nil
	default:
		return nil, fmt.Errorf("unsupported output format %q", format)
	}
}

// WriteAll writes every item then closes the writer.
func WriteAll[T any](w Writer, items []T) error {
	for _, item := range items {
		if err := w.Write(item); err != nil {
			return err
		}
	}
	return w.Close()
}
