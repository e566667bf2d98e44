package models

import (
	"fmt"
	"math"
)

// Row is one record of a tabular dataset. A nil value is a null cell.
type Row map[string]any

// Table is a tabular dataset as returned by a data provider.
type Table struct {
	Name    string   `json:"name" yaml:"name"`
	Columns []string `json:"columns" yaml:"columns"`
	Rows    []Row    `json:"rows" yaml:"rows"`
}

// HasColumn reports whether the table declares col.
func (t *Table) HasColumn(col string) bool {
	for _, c := range t.Columns {
		if c == col {
			return true
		}
	}
	return false
}

// RequireColumns returns an error naming the first declared column that is missing.
func (t *Table) RequireColumns(cols ...string) error {
	for _, c := range cols {
		if !t.HasColumn(c) {
			return fmt.Errorf("table %q has no column %q", t.Name, c)
		}
	}
	return nil
}

// RequireNumeric returns an error naming the first non-null, non-numeric cell
// in any of the given columns. Columns absent from the table are ignored.
func (t *Table) RequireNumeric(cols ...string) error {
	for _, c := range cols {
		if !t.HasColumn(c) {
			continue
		}
		for i, r := range t.Rows {
			if r.IsNull(c) {
				continue
			}
			if _, ok := r.Float(c); !ok {
				return fmt.Errorf("table %q column %q row %d: non-numeric value %v", t.Name, c, i, r[c])
			}
		}
	}
	return nil
}

// Clone deep-copies the table so the caller may mutate it freely.
func (t *Table) Clone() *Table {
	if t == nil {
		return nil
	}
	out := &Table{
		Name:    t.Name,
		Columns: append([]string(nil), t.Columns...),
		Rows:    make([]Row, len(t.Rows)),
	}
	for i, r := range t.Rows {
		nr := make(Row, len(r))
		for k, v := range r {
			nr[k] = v
		}
		out.Rows[i] = nr
	}
	return out
}

// Filter returns a new table holding the rows for which keep returns true.
func (t *Table) Filter(keep func(Row) bool) *Table {
	out := &Table{Name: t.Name, Columns: append([]string(nil), t.Columns...)}
	for _, r := range t.Rows {
		if keep(r) {
			out.Rows = append(out.Rows, r)
		}
	}
	return out
}

// Floats returns the column as float64s with NaN for null cells. Callers
// reject non-numeric cells with RequireNumeric first; those also read as NaN.
func (t *Table) Floats(col string) []float64 {
	out := make([]float64, len(t.Rows))
	for i, r := range t.Rows {
		v, ok := r.Float(col)
		if !ok {
			v = math.NaN()
		}
		out[i] = v
	}
	return out
}

// IsNull reports whether the cell is missing, nil or NaN.
func (r Row) IsNull(col string) bool {
	v, ok := r[col]
	if !ok || v == nil {
		return true
	}
	if f, isFloat := v.(float64); isFloat && math.IsNaN(f) {
		return true
	}
	return false
}

// Float returns the cell as float64. ok is false for nulls and non-numeric values.
func (r Row) Float(col string) (float64, bool) {
	if r.IsNull(col) {
		return 0, false
	}
	switch v := r[col].(type) {
	case float64:
		return v, true
	case float32:
		return float64(v), true
	case int:
		return float64(v), true
	case int64:
		return float64(v), true
	case int32:
		return float64(v), true
	case uint64:
		return float64(v), true
	default:
		return 0, false
	}
}

// String returns the cell formatted as text, "" for nulls.
func (r Row) String(col string) string {
	if r.IsNull(col) {
		return ""
	}
	switch v := r[col].(type) {
	case string:
		return v
	default:
		return fmt.Sprint(v)
	}
}
