package dataset

import (
	"fmt"
	"strconv"
	"strings"
	"time"
	"unicode"
)

// ColumnType is the inferred logical type of a column.
type ColumnType string

const (
	TypeText     ColumnType = "text"
	TypeInteger  ColumnType = "integer"
	TypeFloat    ColumnType = "float"
	TypeBoolean  ColumnType = "boolean"
	TypeDatetime ColumnType = "datetime"
)

var dateLayouts = []string{
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02 15:04",
	"2006-01-02",
	"2006/01/02",
}

// Column describes one column of the active dataset.
type Column struct {
	Name    string     `json:"name"`
	Type    ColumnType `json:"type"`
	Samples []string   `json:"samples"`
}

// Schema is the grounding context derived from a dataset.
type Schema struct {
	Table      string     `json:"table"`
	Columns    []Column   `json:"columns"`
	SampleRows [][]string `json:"sample_rows"`
	RowCount   int        `json:"row_count"`
}

// SchemaOptions bounds the samples carried into prompts.
type SchemaOptions struct {
	TableName    string
	SampleValues int
	SampleRows   int
}

// ExtractSchema infers a type per column and samples values. It is a pure
// function of the dataset and options.
func ExtractSchema(ds *Dataset, opts SchemaOptions) *Schema {
	s := &Schema{
		Table:    opts.TableName,
		Columns:  make([]Column, len(ds.Columns)),
		RowCount: len(ds.Rows),
	}
	for i, name := range ds.Columns {
		s.Columns[i] = Column{
			Name:    name,
			Type:    inferType(ds.Rows, i),
			Samples: distinctSamples(ds.Rows, i, opts.SampleValues),
		}
	}
	n := min(opts.SampleRows, len(ds.Rows))
	if n > 0 {
		s.SampleRows = make([][]string, n)
		for i := range n {
			s.SampleRows[i] = append([]string(nil), ds.Rows[i]...)
		}
	}
	return s
}

// Lookup finds a column by name using FoldName.
func (s *Schema) Lookup(name string) (Column, bool) {
	folded := FoldName(name)
	for _, c := range s.Columns {
		if FoldName(c.Name) == folded {
			return c, true
		}
	}
	return Column{}, false
}

// ColumnNames returns the column names in dataset order.
func (s *Schema) ColumnNames() []string {
	names := make([]string, len(s.Columns))
	for i, c := range s.Columns {
		names[i] = c.Name
	}
	return names
}

// Parse converts a raw cell into the Go value stored for this type. Blank
// cells are NULL.
func (t ColumnType) Parse(raw string) (any, error) {
	v := strings.TrimSpace(raw)
	if v == "" {
		return nil, nil
	}
	switch t {
	case TypeInteger:
		return strconv.ParseInt(v, 10, 64)
	case TypeFloat:
		return strconv.ParseFloat(v, 64)
	case TypeBoolean:
		return strings.EqualFold(v, "true"), nil
	case TypeDatetime:
		if ts, ok := parseTime(v); ok {
			return ts, nil
		}
		return nil, fmt.Errorf("unrecognised datetime %q", v)
	default:
		return raw, nil
	}
}

func inferType(rows [][]string, col int) ColumnType {
	isInt, isFloat, isBool, isDate := true, true, true, true
	seen := false
	for _, row := range rows {
		v := strings.TrimSpace(row[col])
		if v == "" {
			continue
		}
		seen = true
		if isInt {
			if _, err := strconv.ParseInt(v, 10, 64); err != nil {
				isInt = false
			}
		}
		if isFloat && !isNumeric(v) {
			isFloat = false
		}
		if isBool && !strings.EqualFold(v, "true") && !strings.EqualFold(v, "false") {
			isBool = false
		}
		if isDate {
			if _, ok := parseTime(v); !ok {
				isDate = false
			}
		}
		if !isInt && !isFloat && !isBool && !isDate {
			return TypeText
		}
	}
	switch {
	case !seen:
		return TypeText
	case isInt:
		return TypeInteger
	case isFloat:
		return TypeFloat
	case isBool:
		return TypeBoolean
	case isDate:
		return TypeDatetime
	}
	return TypeText
}

// isNumeric accepts decimal and exponent forms but not NaN or Inf spellings.
func isNumeric(s string) bool {
	for _, r := range s {
		if unicode.IsLetter(r) && r != 'e' && r != 'E' {
			return false
		}
	}
	_, err := strconv.ParseFloat(s, 64)
	return err == nil
}

func parseTime(s string) (time.Time, bool) {
	for _, layout := range dateLayouts {
		if ts, err := time.Parse(layout, s); err == nil {
			return ts, true
		}
	}
	return time.Time{}, false
}

func distinctSamples(rows [][]string, col, limit int) []string {
	if limit <= 0 {
		return nil
	}
	seen := make(map[string]bool)
	out := make([]string, 0, limit)
	for _, row := range rows {
		v := strings.TrimSpace(row[col])
		if v == "" || seen[v] {
			continue
		}
		seen[v] = true
		out = append(out, v)
		if len(out) == limit {
			break
		}
	}
	return out
}
