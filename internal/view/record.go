package view

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
)

// Field is a single column/value pair of a Record.
type Field struct {
	Name  string
	Value any
}

// Record is one row of data: an ordered mapping from column name to a scalar
// value (string, json.Number, int64, float64, bool or nil).
//
// Key order is preserved as received. Rows inside one batch may have
// different key sets.
type Record struct {
	keys   []string
	values map[string]any
}

// NewRecord builds a Record from fields in order. A repeated name overwrites
// the earlier value but keeps its original position.
func NewRecord(fields ...Field) Record {
	var r Record
	for _, f := range fields {
		r.Set(f.Name, f.Value)
	}
	return r
}

// Set assigns a value, appending the column if it is new.
func (r *Record) Set(name string, value any) {
	if r.values == nil {
		r.values = make(map[string]any)
	}
	if _, ok := r.values[name]; !ok {
		r.keys = append(r.keys, name)
	}
	r.values[name] = value
}

// Get returns the value for a column and whether the column is present.
func (r Record) Get(name string) (any, bool) {
	v, ok := r.values[name]
	return v, ok
}

// Keys returns the column names in order. The slice must not be modified.
func (r Record) Keys() []string {
	return r.keys
}

// Len returns the number of columns.
func (r Record) Len() int {
	return len(r.keys)
}

// Text returns the display form of a column; missing and null values are "".
func (r Record) Text(name string) string {
	v, ok := r.values[name]
	if !ok {
		return ""
	}
	return FormatValue(v)
}

// FormatValue renders a scalar the way it is displayed and matched.
func FormatValue(v any) string {
	switch val := v.(type) {
	case nil:
		return ""
	case string:
		return val
	case json.Number:
		return val.String()
	case int64:
		return strconv.FormatInt(val, 10)
	case int:
		return strconv.Itoa(val)
	case float64:
		return strconv.FormatFloat(val, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(val)
	case []byte:
		return string(val)
	default:
		return fmt.Sprintf("%v", val)
	}
}

// MarshalJSON encodes the record as a JSON object in column order.
func (r Record) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, k := range r.keys {
		if i > 0 {
			buf.WriteByte(',')
		}
		kb, err := json.Marshal(k)
		if err != nil {
			return nil, err
		}
		buf.Write(kb)
		buf.WriteByte(':')
		vb, err := json.Marshal(r.values[k])
		if err != nil {
			return nil, fmt.Errorf("column %s: %w", k, err)
		}
		buf.Write(vb)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// UnmarshalJSON decodes a flat JSON object, keeping key order. Numbers are
// kept as json.Number so their text form survives; nested values are rejected.
func (r *Record) UnmarshalJSON(data []byte) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()

	tok, err := dec.Token()
	if err != nil {
		return fmt.Errorf("decode record: %w", err)
	}
	if delim, ok := tok.(json.Delim); !ok || delim != '{' {
		return fmt.Errorf("decode record: expected object, got %v", tok)
	}

	*r = Record{}
	for dec.More() {
		keyTok, err := dec.Token()
		if err != nil {
			return fmt.Errorf("decode record: %w", err)
		}
		key, ok := keyTok.(string)
		if !ok {
			return fmt.Errorf("decode record: unexpected key %v", keyTok)
		}

		valTok, err := dec.Token()
		if err != nil {
			return fmt.Errorf("decode record %s: %w", key, err)
		}
		if _, nested := valTok.(json.Delim); nested {
			return fmt.Errorf("decode record %s: nested values are not supported", key)
		}
		r.Set(key, valTok)
	}

	if _, err := dec.Token(); err != nil {
		return fmt.Errorf("decode record: %w", err)
	}
	return nil
}
