package datasets

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
)

const DefaultMinCount = 10.0

// Filter narrows a loaded table for the requested dataset version.
type Filter interface {
	Apply(table *Table, version string) (*Table, error)
}

type FilterFunc func(table *Table, version string) (*Table, error)

func (f FilterFunc) Apply(table *Table, version string) (*Table, error) {
	return f(table, version)
}

// Predicate compares the numeric suffix of a row identifier with Value.
type Predicate struct {
	Op    string `yaml:"op"`
	Value int64  `yaml:"value"`
}

func (p Predicate) Match(n int64) bool {
	switch p.Op {
	case "lt":
		return n < p.Value
	case "le":
		return n <= p.Value
	case "gt":
		return n > p.Value
	case "ge":
		return n >= p.Value
	case "eq":
		return n == p.Value
	default:
		return false
	}
}

func (p Predicate) validate() error {
	switch p.Op {
	case "lt", "le", "gt", "ge", "eq":
		return nil
	default:
		return fmt.Errorf("unsupported predicate op %q", p.Op)
	}
}

// VersionFilter keeps rows whose identifier suffix (the text after the last
// Separator in Column) satisfies the predicate of the requested version, then
// drops feature columns summing to less than MinCount over the kept rows.
type VersionFilter struct {
	Column         string               `yaml:"column"`
	Separator      string               `yaml:"separator"`
	MinCount       *float64             `yaml:"min_count,omitempty"`
	DefaultVersion string               `yaml:"default_version,omitempty"`
	Versions       map[string]Predicate `yaml:"versions"`
}

func (f *VersionFilter) validate() error {
	if strings.TrimSpace(f.Column) == "" {
		return fmt.Errorf("version filter column is required")
	}
	if len(f.Versions) == 0 {
		return fmt.Errorf("version filter declares no versions")
	}
	for name, pred := range f.Versions {
		if err := pred.validate(); err != nil {
			return fmt.Errorf("version %q: %w", name, err)
		}
	}
	if f.DefaultVersion != "" {
		if _, ok := f.Versions[f.DefaultVersion]; !ok {
			return fmt.Errorf("default version %q is not declared", f.DefaultVersion)
		}
	}
	return nil
}

func (f *VersionFilter) minCount() float64 {
	if f.MinCount == nil {
		return DefaultMinCount
	}
	return *f.MinCount
}

func (f *VersionFilter) VersionNames() []string {
	names := make([]string, 0, len(f.Versions))
	for name := range f.Versions {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func (f *VersionFilter) Apply(table *Table, version string) (*Table, error) {
	if version == "" {
		version = f.DefaultVersion
	}
	pred, ok := f.Versions[version]
	if !ok {
		return nil, &InvalidVersionError{Version: version, Valid: f.VersionNames()}
	}
	ids, ok := table.ObsColumn(f.Column)
	if !ok {
		return nil, fmt.Errorf("%w: metadata column %q not found", ErrDatasetFormat, f.Column)
	}

	keepRows := make([]bool, len(ids))
	for i, id := range ids {
		suffix, err := f.suffix(id)
		if err != nil {
			return nil, err
		}
		keepRows[i] = pred.Match(suffix)
	}
	filtered := table.SelectRows(keepRows)

	threshold := f.minCount()
	sums := filtered.ColumnSums()
	keepColumns := make([]bool, len(sums))
	for j, sum := range sums {
		keepColumns[j] = sum >= threshold
	}
	return filtered.SelectColumns(keepColumns), nil
}

func (f *VersionFilter) suffix(id string) (int64, error) {
	tail := id
	if f.Separator != "" {
		parts := strings.Split(id, f.Separator)
		tail = parts[len(parts)-1]
	}
	n, err := strconv.ParseInt(strings.TrimSpace(tail), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: %s %q has no numeric suffix", ErrDatasetFormat, f.Column, id)
	}
	return n, nil
}
