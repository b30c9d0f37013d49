package output

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"testing"

	"gopkg.in/yaml.v3"
)

type priceRow struct {
	Name  string  `json:"name" yaml:"name"`
	Price float64 `json:"price" yaml:"price"`
}

func (priceRow) Columns() []string { return []string{"NAME", "PRICE"} }

func (r priceRow) Row() []string {
	return []string{r.Name, strconv.FormatFloat(r.Price, 'f', -1, 64)}
}

func TestParseFormat(t *testing.T) {
	tests := []struct {
		in      string
		want    Format
		wantErr bool
	}{
		{"json", FormatJSON, false},
		{" YAML ", FormatYAML, false},
		{"jsonl", FormatJSONL, false},
		{"table", FormatTable, false},
		{"csv", "", true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseFormat(tt.in)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ParseFormat(%q) error = %v, wantErr %v", tt.in, err, tt.wantErr)
			}
			if got != tt.want {
				t.Errorf("ParseFormat(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}

func TestNewWriter(t *testing.T) {
	tests := []struct {
		format Format
		want   string
	}{
		{FormatJSON, "*output.JSONWriter"},
		{FormatJSONL, "*output.JSONLWriter"},
		{FormatYAML, "*output.YAMLWriter"},
		{FormatTable, "*output.TableWriter"},
	}
	for _, tt := range tests {
		w, err := NewWriter(&bytes.Buffer{}, tt.format)
		if err != nil {
			t.Fatalf("NewWriter(%s) error = %v", tt.format, err)
		}
		if got := fmt.Sprintf("%T", w); got != tt.want {
			t.Errorf("NewWriter(%s) = %s, want %s", tt.format, got, tt.want)
		}
	}

	if _, err := NewWriter(&bytes.Buffer{}, Format("xml")); err == nil {
		t.Error("NewWriter(xml) should fail")
	}
}

func TestJSONWriter_SingleResultIsObject(t *testing.T) {
	buf := &bytes.Buffer{}
	w := NewJSONWriter(buf, "  ")
	if err := WriteAll(w, []priceRow{{Name: "Widget", Price: 19.9}}); err != nil {
		t.Fatalf("WriteAll() error = %v", err)
	}

	var got priceRow
	if err := json.Unmarshal(buf.Bytes(), &got); err != nil {
		t.Fatalf("output is not an object: %v\n%s", err, buf.String())
	}
	if got.Name != "Widget" || got.Price != 19.9 {
		t.Errorf("got %+v", got)
	}
	if !strings.Contains(buf.String(), "\n  \"name\"") {
		t.Errorf("expected indented output, got %q", buf.String())
	}
}

func TestJSONWriter_ManyResultsAreArray(t *testing.T) {
	buf := &bytes.Buffer{}
	w := NewJSONWriter(buf, "")
	if err := WriteAll(w, []priceRow{{Name: "a", Price: 1}, {Name: "b", Price: 2}}); err != nil {
		t.Fatalf("WriteAll() error = %v", err)
	}

	var got []priceRow
	if err := json.Unmarshal(buf.Bytes(), &got); err != nil {
		t.Fatalf("output is not an array: %v", err)
	}
	if len(got) != 2 || got[1].Name != "b" {
		t.Errorf("got %+v", got)
	}
	if n := strings.Count(strings.TrimSpace(buf.String()), "\n"); n != 0 {
		t.Errorf("compact output spans %d extra lines", n)
	}
}

func TestJSONWriter_EmptyIsEmptyArray(t *testing.T) {
	buf := &bytes.Buffer{}
	if err := NewJSONWriter(buf, "").Close(); err != nil {
		t.Fatal(err)
	}
	if got := strings.TrimSpace(buf.String()); got != "[]" {
		t.Errorf("empty output = %q, want []", got)
	}
}

func TestJSONLWriter_WritesLinesImmediately(t *testing.T) {
	buf := &bytes.Buffer{}
	w := NewJSONLWriter(buf)

	if err := w.Write(priceRow{Name: "a", Price: 1}); err != nil {
		t.Fatal(err)
	}
	if buf.Len() == 0 {
		t.Fatal("JSONL should write before Close")
	}
	if err := w.Write(priceRow{Name: "b", Price: 2}); err != nil {
		t.Fatal(err)
	}
	if err := w.Close(); err != nil {
		t.Fatal(err)
	}

	lines := strings.Split(strings.TrimSuffix(buf.String(), "\n"), "\n")
	if len(lines) != 2 {
		t.Fatalf("got %d lines, want 2: %q", len(lines), buf.String())
	}
	for i, line := range lines {
		var r priceRow
		if err := json.Unmarshal([]byte(line), &r); err != nil {
			t.Errorf("line %d is not valid JSON: %v", i, err)
		}
	}
}

func TestYAMLWriter_DocumentPerResult(t *testing.T) {
	buf := &bytes.Buffer{}
	if err := WriteAll(NewYAMLWriter(buf), []priceRow{{Name: "a", Price: 1}, {Name: "b", Price: 2.5}}); err != nil {
		t.Fatalf("WriteAll() error = %v", err)
	}

	dec := yaml.NewDecoder(bytes.NewReader(buf.Bytes()))
	var got []priceRow
	for {
		var r priceRow
		if err := dec.Decode(&r); err != nil {
			break
		}
		got = append(got, r)
	}
	if len(got) != 2 || got[1].Price != 2.5 {
		t.Errorf("decoded %+v from %q", got, buf.String())
	}
	if !strings.Contains(buf.String(), "---") {
		t.Errorf("expected document separator, got %q", buf.String())
	}
}

func TestTableWriter(t *testing.T) {
	buf := &bytes.Buffer{}
	rows := []priceRow{{Name: "Widget", Price: 19.5}, {Name: "Gadget\tPro", Price: 250}}
	if err := WriteAll(NewTableWriter(buf), rows); err != nil {
		t.Fatalf("WriteAll() error = %v", err)
	}

	lines := strings.Split(strings.TrimSuffix(buf.String(), "\n"), "\n")
	if len(lines) != 3 {
		t.Fatalf("got %d lines, want header plus 2 rows: %q", len(lines), buf.String())
	}
	if !strings.HasPrefix(lines[0], "NAME") {
		t.Errorf("header = %q", lines[0])
	}
	if !strings.Contains(lines[2], "Gadget Pro") {
		t.Errorf("tab in cell not replaced: %q", lines[2])
	}
	if strings.Index(lines[1], "19.5") != strings.Index(lines[0], "PRICE") {
		t.Errorf("columns not aligned:\n%s", buf.String())
	}
}

func TestTableWriter_RejectsPlainValues(t *testing.T) {
	w := NewTableWriter(&bytes.Buffer{})
	if err := w.Write(map[string]int{"a": 1}); err == nil {
		t.Error("Write() of a non-Tabular value should fail")
	}
}
