package features

import (
	"time"

	"gonum.org/v1/gonum/mat"
)

// RowKey identifies the series and date a feature row was built from.
type RowKey struct {
	Route     string
	TrainType string
	Date      time.Time
}

// Table is the output of a build: one row per input record in
// (route, train_type, date) order, the target kept apart from the features.
type Table struct {
	Columns  []string
	Rows     [][]float64
	Target   []float64
	Keys     []RowKey
	Encoders Encoders
}

func (t *Table) Len() int { return len(t.Rows) }

// ColumnIndex returns the position of name, or -1.
func (t *Table) ColumnIndex(name string) int {
	for i, c := range t.Columns {
		if c == name {
			return i
		}
	}
	return -1
}

// Column copies one feature column out of the table.
func (t *Table) Column(name string) ([]float64, bool) {
	idx := t.ColumnIndex(name)
	if idx < 0 {
		return nil, false
	}
	out := make([]float64, len(t.Rows))
	for i, row := range t.Rows {
		out[i] = row[idx]
	}
	return out, true
}

// Matrix returns the features in the table's own column order.
func (t *Table) Matrix() *mat.Dense {
	return t.Align(t.Columns)
}

// Align lays the rows out in the given column order. Columns the table
// does not have are zero; columns it has but the caller did not ask for are
// dropped.
func (t *Table) Align(columns []string) *mat.Dense {
	if len(t.Rows) == 0 || len(columns) == 0 {
		return &mat.Dense{}
	}
	pos := make(map[string]int, len(t.Columns))
	for i, c := range t.Columns {
		pos[c] = i
	}
	m := mat.NewDense(len(t.Rows), len(columns), nil)
	for j, c := range columns {
		src, ok := pos[c]
		if !ok {
			continue
		}
		for i, row := range t.Rows {
			m.Set(i, j, row[src])
		}
	}
	return m
}
