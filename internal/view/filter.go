package view

import (
	"sort"
	"strings"
)

// FilterSet maps a column name to a substring pattern. A missing key or an
// empty pattern places no constraint on that column.
type FilterSet map[string]string

// Match reports whether a record satisfies every non-empty pattern.
//
// Matching is a case-insensitive substring test on the display form of the
// value. A missing column or a null value never matches a non-empty pattern.
func (f FilterSet) Match(r Record) bool {
	for col, pattern := range f {
		if pattern == "" {
			continue
		}
		v, ok := r.Get(col)
		if !ok || v == nil {
			return false
		}
		if !strings.Contains(strings.ToLower(FormatValue(v)), strings.ToLower(pattern)) {
			return false
		}
	}
	return true
}

// ApplyFilters returns the records of batch that match f, in order.
func ApplyFilters(batch []Record, f FilterSet) []Record {
	if !f.HasActive() {
		return batch
	}
	out := make([]Record, 0, len(batch))
	for _, r := range batch {
		if f.Match(r) {
			out = append(out, r)
		}
	}
	return out
}

// HasActive reports whether any pattern is non-empty.
func (f FilterSet) HasActive() bool {
	for _, p := range f {
		if p != "" {
			return true
		}
	}
	return false
}

// Active returns a copy without the empty patterns.
func (f FilterSet) Active() FilterSet {
	out := make(FilterSet, len(f))
	for col, p := range f {
		if p != "" {
			out[col] = p
		}
	}
	return out
}

// Clone returns an independent copy. A nil set clones to an empty set.
func (f FilterSet) Clone() FilterSet {
	out := make(FilterSet, len(f))
	for col, p := range f {
		out[col] = p
	}
	return out
}

// With returns a copy with one column's pattern replaced.
func (f FilterSet) With(column, pattern string) FilterSet {
	out := f.Clone()
	out[column] = pattern
	return out
}

// Columns returns the filtered column names in sorted order.
func (f FilterSet) Columns() []string {
	cols := make([]string, 0, len(f))
	for col := range f {
		cols = append(cols, col)
	}
	sort.Strings(cols)
	return cols
}

// Equal reports whether two sets hold the same columns and patterns.
func (f FilterSet) Equal(other FilterSet) bool {
	if len(f) != len(other) {
		return false
	}
	for col, p := range f {
		if op, ok := other[col]; !ok || op != p {
			return false
		}
	}
	return true
}
