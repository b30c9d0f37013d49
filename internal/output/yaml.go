package output

import (
	"io"

	"gopkg.in/yaml.v3"
)

// YAMLWriter writes each result as its own YAML document.
type YAMLWriter struct {
	enc *yaml.Encoder
}

// NewYAMLWriter creates a YAML writer with two-space indentation.
func NewYAMLWriter(w io.Writer) *YAMLWriter {
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	return &YAMLWriter{enc: enc}
}

// Write encodes v as a document, separated from the previous one by ---.
func (w *YAMLWriter) Write(v any) error {
	return w.enc.Encode(v)
}

// Close flushes the encoder.
func (w *YAMLWriter) Close() error {
	return w.enc.Close()
}
