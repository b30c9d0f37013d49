package output

import (
	"encoding/json"
	"io"
)

// JSONWriter buffers results and writes them on Close: a single result
// as an object, anything else as an array.
type JSONWriter struct {
	w      io.Writer
	indent string
	items  []any
}

// NewJSONWriter creates a JSON writer. An empty indent writes compact output.
func NewJSONWriter(w io.Writer, indent string) *JSONWriter {
	return &JSONWriter{w: w, indent: indent}
}

// Write buffers v.
func (w *JSONWriter) Write(v any) error {
	w.items = append(w.items, v)
	return nil
}

// Close writes the buffered results.
func (w *JSONWriter) Close() error {
	enc := json.NewEncoder(w.w)
	enc.SetIndent("", w.indent)

	var v any = w.items
	switch len(w.items) {
	case 0:
		v = []any{}
	case 1:
		v = w.items[0]
	}
	w.items = nil
	return enc.Encode(v)
}

// JSONLWriter writes one JSON document per line as results arrive.
type JSONLWriter struct {
	enc *json.Encoder
}

// NewJSONLWriter creates a JSONL writer.
func NewJSONLWriter(w io.Writer) *JSONLWriter {
	return &JSONLWriter{enc: json.NewEncoder(w)}
}

// Write encodes v as a single line.
func (w *JSONLWriter) Write(v any) error {
	return w.enc.Encode(v)
}

// Close is a no-op; every line is written by Write.
func (w *JSONLWriter) Close() error {
	return nil
}
