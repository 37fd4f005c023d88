package view

import (
	"reflect"
	"testing"
)

func keysRecord(keys ...string) Record {
	var r Record
	for _, k := range keys {
		r.Set(k, "v")
	}
	return r
}

func TestInferColumns(t *testing.T) {
	tests := []struct {
		name  string
		batch []Record
		want  ColumnOrder
	}{
		{
			name:  "numeric columns sort numerically before others",
			batch: []Record{keysRecord("col2", "col1", "name", "col10")},
			want:  ColumnOrder{"col1", "col2", "col10", "name"},
		},
		{
			name:  "other columns keep first-seen order",
			batch: []Record{keysRecord("zeta", "id", "col3", "alpha")},
			want:  ColumnOrder{"col3", "zeta", "id", "alpha"},
		},
		{
			name:  "only first record defines columns",
			batch: []Record{keysRecord("col1", "name"), keysRecord("col1", "name", "extra")},
			want:  ColumnOrder{"col1", "name"},
		},
		{
			name:  "near-miss names are not numeric",
			batch: []Record{keysRecord("colA", "Col1", "col", "col1x", "col1")},
			want:  ColumnOrder{"col1", "colA", "Col1", "col", "col1x"},
		},
		{
			name:  "indexes longer than int64 do not overflow",
			batch: []Record{keysRecord("col99999999999999999999", "col2")},
			want:  ColumnOrder{"col2", "col99999999999999999999"},
		},
		{
			name:  "leading zeros compare by value",
			batch: []Record{keysRecord("col010", "col9")},
			want:  ColumnOrder{"col9", "col010"},
		},
		{
			name:  "empty batch",
			batch: nil,
			want:  nil,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := InferColumns(tt.batch)
			if !reflect.DeepEqual(got, tt.want) {
				t.Errorf("InferColumns() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestNextColumnOrder_EmptyBatchKeepsPrevious(t *testing.T) {
	prev := InferColumns([]Record{keysRecord("col2", "col1")})

	got := NextColumnOrder(prev, nil)
	if !reflect.DeepEqual(got, prev) {
		t.Errorf("NextColumnOrder(prev, nil) = %v, want %v", got, prev)
	}

	got = NextColumnOrder(prev, []Record{})
	if !reflect.DeepEqual(got, prev) {
		t.Errorf("NextColumnOrder(prev, []) = %v, want %v", got, prev)
	}

	got = NextColumnOrder(prev, []Record{keysRecord("name")})
	if !reflect.DeepEqual(got, ColumnOrder{"name"}) {
		t.Errorf("NextColumnOrder(prev, batch) = %v, want [name]", got)
	}
}

func TestColumnOrder_Contains(t *testing.T) {
	o := ColumnOrder{"col1", "name"}
	if !o.Contains("name") {
		t.Error("Contains(name) = false, want true")
	}
	if o.Contains("zip") {
		t.Error("Contains(zip) = true, want false")
	}
}
