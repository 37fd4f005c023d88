package view

import (
	"regexp"
	"sort"
	"strings"
)

// ColumnOrder is the ordered list of column names a view renders.
type ColumnOrder []string

var numericColumn = regexp.MustCompile(`^col(\d+)$`)

// InferColumns derives the column order of a batch.
//
// Only the first record's keys are used: columns that appear in later records
// but not in record 0 are never rendered, and columns absent from later
// records render as blanks. Keys of the form col<N> come first, sorted by N;
// the remaining keys keep their first-seen order.
//
// An empty batch returns nil; use NextColumnOrder to keep the previous order.
func InferColumns(batch []Record) ColumnOrder {
	if len(batch) == 0 {
		return nil
	}

	var numeric, other []string
	for _, key := range batch[0].Keys() {
		if numericColumn.MatchString(key) {
			numeric = append(numeric, key)
		} else {
			other = append(other, key)
		}
	}

	sort.SliceStable(numeric, func(i, j int) bool {
		return lessColumnIndex(numeric[i][3:], numeric[j][3:])
	})

	order := make(ColumnOrder, 0, len(numeric)+len(other))
	order = append(order, numeric...)
	order = append(order, other...)
	return order
}

// NextColumnOrder returns the order for a newly arrived batch, or prev when
// the batch is empty so headers don't flicker on empty pages.
func NextColumnOrder(prev ColumnOrder, batch []Record) ColumnOrder {
	if len(batch) == 0 {
		return prev
	}
	return InferColumns(batch)
}

// lessColumnIndex compares two decimal strings numerically without
// converting them, so arbitrarily long indexes cannot overflow.
func lessColumnIndex(a, b string) bool {
	a = strings.TrimLeft(a, "0")
	b = strings.TrimLeft(b, "0")
	if len(a) != len(b) {
		return len(a) < len(b)
	}
	return a < b
}

// Contains reports whether the order includes a column.
func (o ColumnOrder) Contains(name string) bool {
	for _, c := range o {
		if c == name {
			return true
		}
	}
	return false
}

// Clone returns a copy that does not share storage with o.
func (o ColumnOrder) Clone() ColumnOrder {
	if o == nil {
		return nil
	}
	out := make(ColumnOrder, len(o))
	copy(out, o)
	return out
}
