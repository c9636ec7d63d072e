// Package render writes command results as json, yaml or a table.
//
// Without --format, a terminal gets a table and anything else gets json.
// --no-color only changes table output.
package render

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"reflect"
	"slices"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
	"github.com/urfave/cli/v2"
	"gopkg.in/yaml.v3"

	"github.com/pithecene-io/sluice/cli/tui"
)

// Format represents an output format.
type Format string

// Supported formats.
const (
	FormatJSON  Format = "json"
	FormatTable Format = "table"
	FormatYAML  Format = "yaml"
)

// ParseFormat parses a format string, returning an error for invalid formats.
func ParseFormat(s string) (Format, error) {
	switch strings.ToLower(s) {
	case "json":
		return FormatJSON, nil
	case "table":
		return FormatTable, nil
	case "yaml":
		return FormatYAML, nil
	case "":
		return "", nil // Let caller decide default
	default:
		return "", fmt.Errorf("invalid format: %q (must be json, table, or yaml)", s)
	}
}

// Renderer handles output formatting.
type Renderer struct {
	format  Format
	noColor bool
	out     io.Writer
}

// NewRenderer creates a renderer from CLI context.
func NewRenderer(c *cli.Context) (*Renderer, error) {
	formatStr := c.String("format")
	format, err := ParseFormat(formatStr)
	if err != nil {
		return nil, err
	}

	// Apply default format based on TTY detection
	if format == "" {
		if isTTY(os.Stdout) {
			format = FormatTable
		} else {
			format = FormatJSON
		}
	}

	var out io.Writer = os.Stdout
	if c.App != nil && c.App.Writer != nil {
		out = c.App.Writer
	}
	return &Renderer{
		format:  format,
		noColor: c.Bool("no-color"),
		out:     out,
	}, nil
}

// NewRendererWithWriter creates a renderer with a custom writer (for testing).
func NewRendererWithWriter(format Format, noColor bool, out io.Writer) *Renderer {
	return &Renderer{
		format:  format,
		noColor: noColor,
		out:     out,
	}
}

// Render outputs the data in the configured format.
func (r *Renderer) Render(data any) error {
	switch r.format {
	case FormatJSON:
		return r.renderJSON(data)
	case FormatTable:
		return r.renderTable(data)
	case FormatYAML:
		return r.renderYAML(data)
	default:
		return fmt.Errorf("unknown format: %s", r.format)
	}
}

// RenderTUI initiates TUI mode for the given view type.
func (r *Renderer) RenderTUI(viewType string, data any) error {
	if !tui.IsTUISupported(viewType) {
		return fmt.Errorf("--tui is not supported for %s", viewType)
	}
	return tui.Run(viewType, data)
}

// Format returns the selected output format.
func (r *Renderer) Format() Format {
	return r.format
}

// Line writes one preformatted line. Streaming commands use it for table
// output, where each event is rendered as it arrives.
func (r *Renderer) Line(format string, args ...any) {
	fmt.Fprintf(r.out, format+"\n", args...)
}

func (r *Renderer) renderJSON(data any) error {
	enc := json.NewEncoder(r.out)
	enc.SetIndent("", "  ")
	return enc.Encode(data)
}

func (r *Renderer) renderYAML(data any) error {
	enc := yaml.NewEncoder(r.out)
	enc.SetIndent(2)
	return enc.Encode(data)
}

// renderTable draws slices as one row per element and anything else as
// key/value pairs.
func (r *Renderer) renderTable(data any) error {
	v := reflect.Indirect(reflect.ValueOf(data))
	var headers []string
	var rows [][]string
	switch v.Kind() {
	case reflect.Slice, reflect.Array:
		if v.Len() == 0 {
			_, err := fmt.Fprintln(r.out, "(no results)")
			return err
		}
		headers, rows = r.sliceRows(v)
	case reflect.Struct, reflect.Map:
		rows = r.pairRows(v)
	default:
		_, err := fmt.Fprintf(r.out, "%v\n", data)
		return err
	}

	t := table.New().
		Border(lipgloss.HiddenBorder()).
		BorderTop(false).
		BorderBottom(false).
		BorderLeft(false).
		BorderRight(false).
		BorderHeader(false).
		Rows(rows...).
		StyleFunc(r.cellStyle)
	if headers != nil {
		t.Headers(headers...)
	}
	_, err := fmt.Fprintln(r.out, strings.TrimRight(t.String(), " \n"))
	return err
}

func (r *Renderer) cellStyle(row, _ int) lipgloss.Style {
	s := lipgloss.NewStyle().PaddingRight(2)
	if r.noColor {
		return s
	}
	if row == table.HeaderRow {
		return s.Bold(true)
	}
	return s
}

// sliceRows takes headers from the first element. Elements that are not
// structs or maps render as a single value column.
func (r *Renderer) sliceRows(v reflect.Value) ([]string, [][]string) {
	first := reflect.Indirect(v.Index(0))
	var headers []string
	switch first.Kind() {
	case reflect.Struct:
		for _, f := range exportedFields(first.Type()) {
			headers = append(headers, fieldName(f))
		}
	case reflect.Map:
		headers, _ = mapEntries(first)
	default:
		headers = []string{"value"}
	}

	rows := make([][]string, 0, v.Len())
	for i := range v.Len() {
		e := reflect.Indirect(v.Index(i))
		row := make([]string, 0, len(headers))
		switch e.Kind() {
		case reflect.Struct:
			for _, f := range exportedFields(e.Type()) {
				row = append(row, formatValue(e.FieldByIndex(f.Index)))
			}
		case reflect.Map:
			_, vals := mapEntries(e)
			for _, h := range headers {
				row = append(row, formatValue(vals[h]))
			}
		default:
			row = append(row, formatValue(e))
		}
		rows = append(rows, row)
	}
	return headers, rows
}

// pairRows lists struct fields in declaration order and map entries by key.
func (r *Renderer) pairRows(v reflect.Value) [][]string {
	var rows [][]string
	if v.Kind() == reflect.Struct {
		for _, f := range exportedFields(v.Type()) {
			rows = append(rows, []string{fieldName(f) + ":", formatValue(v.FieldByIndex(f.Index))})
		}
		return rows
	}
	keys, vals := mapEntries(v)
	for _, k := range keys {
		rows = append(rows, []string{k + ":", formatValue(vals[k])})
	}
	return rows
}

// exportedFields lists the top-level exported fields of t.
func exportedFields(t reflect.Type) []reflect.StructField {
	var out []reflect.StructField
	for i := range t.NumField() {
		if f := t.Field(i); f.IsExported() {
			out = append(out, f)
		}
	}
	return out
}

// mapEntries returns the printed keys of m in order and its values by
// printed key.
func mapEntries(m reflect.Value) ([]string, map[string]reflect.Value) {
	keys := make([]string, 0, m.Len())
	vals := make(map[string]reflect.Value, m.Len())
	iter := m.MapRange()
	for iter.Next() {
		k := fmt.Sprint(iter.Key().Interface())
		keys = append(keys, k)
		vals[k] = iter.Value()
	}
	slices.Sort(keys)
	return keys, vals
}

// fieldName prefers the json tag name.
func fieldName(f reflect.StructField) string {
	if name, _, _ := strings.Cut(f.Tag.Get("json"), ","); name != "" && name != "-" {
		return name
	}
	return strings.ToLower(f.Name)
}

func formatValue(v reflect.Value) string {
	if !v.IsValid() {
		return ""
	}
	if v.Kind() == reflect.Pointer {
		if v.IsNil() {
			return ""
		}
		v = v.Elem()
	}
	if v.CanInterface() {
		if s, ok := v.Interface().(fmt.Stringer); ok {
			return s.String()
		}
	}

	switch v.Kind() {
	case reflect.Slice, reflect.Array:
		if v.Len() == 0 {
			return "[]"
		}
		return fmt.Sprintf("[%d items]", v.Len())
	case reflect.Map:
		if v.Len() == 0 {
			return "{}"
		}
		keys, vals := mapEntries(v)
		parts := make([]string, 0, len(keys))
		for _, k := range keys {
			parts = append(parts, k+"="+formatValue(vals[k]))
		}
		return strings.Join(parts, " ")
	case reflect.Struct:
		return "{...}"
	default:
		return fmt.Sprint(v.Interface())
	}
}

// isTTY returns true if the writer is a TTY.
func isTTY(f *os.File) bool {
	info, err := f.Stat()
	if err != nil {
		return false
	}
	return (info.Mode() & os.ModeCharDevice) != 0
}
