package datasets

import (
	"fmt"
)

type Shape struct {
	Rows    int `yaml:"rows" json:"rows"`
	Columns int `yaml:"columns" json:"columns"`
}

func (s Shape) String() string {
	return fmt.Sprintf("(%d, %d)", s.Rows, s.Columns)
}

// Table is a cells-by-features matrix with per-row string metadata. Feature
// values are stored column-major.
type Table struct {
	ObsNames []string
	Obs      map[string][]string
	VarNames []string
	X        [][]float64
	rows     int
}

// NewTable checks that every metadata and feature column has the same length.
func NewTable(obsNames []string, obs map[string][]string, varNames []string, x [][]float64) (*Table, error) {
	if len(varNames) != len(x) {
		return nil, fmt.Errorf("%w: %d feature names for %d feature columns", ErrDatasetFormat, len(varNames), len(x))
	}
	rows := -1
	check := func(kind string, name string, n int) error {
		if rows < 0 {
			rows = n
			return nil
		}
		if n != rows {
			return fmt.Errorf("%w: %s column %q has %d rows, expected %d", ErrDatasetFormat, kind, name, n, rows)
		}
		return nil
	}
	for _, name := range obsNames {
		values, ok := obs[name]
		if !ok {
			return nil, fmt.Errorf("%w: metadata column %q has no values", ErrDatasetFormat, name)
		}
		if err := check("metadata", name, len(values)); err != nil {
			return nil, err
		}
	}
	for idx, name := range varNames {
		if err := check("feature", name, len(x[idx])); err != nil {
			return nil, err
		}
	}
	if rows < 0 {
		rows = 0
	}
	return &Table{ObsNames: obsNames, Obs: obs, VarNames: varNames, X: x, rows: rows}, nil
}

func (t *Table) Shape() Shape {
	return Shape{Rows: t.rows, Columns: len(t.VarNames)}
}

func (t *Table) ObsColumn(name string) ([]string, bool) {
	values, ok := t.Obs[name]
	return values, ok
}

func (t *Table) ColumnSums() []float64 {
	sums := make([]float64, len(t.X))
	for j, column := range t.X {
		for _, value := range column {
			sums[j] += value
		}
	}
	return sums
}

// SelectRows returns a copy holding the rows where keep is true.
func (t *Table) SelectRows(keep []bool) *Table {
	idx := make([]int, 0, len(keep))
	for i, ok := range keep {
		if ok {
			idx = append(idx, i)
		}
	}
	obs := make(map[string][]string, len(t.Obs))
	for _, name := range t.ObsNames {
		source := t.Obs[name]
		values := make([]string, len(idx))
		for k, i := range idx {
			values[k] = source[i]
		}
		obs[name] = values
	}
	x := make([][]float64, len(t.X))
	for j, source := range t.X {
		column := make([]float64, len(idx))
		for k, i := range idx {
			column[k] = source[i]
		}
		x[j] = column
	}
	return &Table{
		ObsNames: append([]string(nil), t.ObsNames...),
		Obs:      obs,
		VarNames: append([]string(nil), t.VarNames...),
		X:        x,
		rows:     len(idx),
	}
}

// SelectColumns returns a table holding the feature columns where keep is
// true. Metadata is shared with t.
func (t *Table) SelectColumns(keep []bool) *Table {
	varNames := make([]string, 0, len(t.VarNames))
	x := make([][]float64, 0, len(t.X))
	for j, ok := range keep {
		if ok {
			varNames = append(varNames, t.VarNames[j])
			x = append(x, t.X[j])
		}
	}
	return &Table{ObsNames: t.ObsNames, Obs: t.Obs, VarNames: varNames, X: x, rows: t.rows}
}
