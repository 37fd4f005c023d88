package view

import (
	"net/url"
	"strconv"
	"strings"
)

// FilterParamPrefix starts every filter parameter: filter_<column>=<value>.
const FilterParamPrefix = "filter_"

const pageParam = "page"

// ViewState is the unit of truth synchronized with the URL: the active
// filters and the current page.
type ViewState struct {
	Filters FilterSet
	Page    PageCursor
}

// Clone returns a copy whose FilterSet is independent of s.
func (s ViewState) Clone() ViewState {
	return ViewState{Filters: s.Filters.Clone(), Page: s.Page}
}

// Equal compares filters and page.
func (s ViewState) Equal(other ViewState) bool {
	return s.Page.Page() == other.Page.Page() && s.Filters.Equal(other.Filters)
}

// Encode serializes a state as a query string: one filter_<column>=<value>
// per filter (empty values included) and page=<n>. Parameters are emitted in
// sorted key order, so the filters always precede page.
func Encode(s ViewState) string {
	return EncodeValues(s).Encode()
}

// EncodeValues is Encode before query-string serialization.
func EncodeValues(s ViewState) url.Values {
	v := make(url.Values, len(s.Filters)+1)
	for col, pattern := range s.Filters {
		v.Set(FilterParamPrefix+col, pattern)
	}
	v.Set(pageParam, strconv.Itoa(s.Page.Page()))
	return v
}

// Decode parses a query string into a state. Fields absent from the query
// are taken from fallback. A malformed query decodes as if it were empty.
func Decode(query string, fallback ViewState) ViewState {
	v, err := url.ParseQuery(strings.TrimPrefix(query, "?"))
	if err != nil {
		return DecodeValues(nil, fallback)
	}
	return DecodeValues(v, fallback)
}

// DecodeValues is Decode for already parsed parameters.
//
// The filters count as present when any filter_ parameter or the page
// parameter appears: Encode always writes page, so an encoded state fully
// replaces the fallback filters, including an empty FilterSet. A query with
// neither (a bare view-to-view handoff) keeps the fallback filters.
func DecodeValues(v url.Values, fallback ViewState) ViewState {
	out := ViewState{Page: fallback.Page}

	filters := make(FilterSet)
	sawFilter := false
	for key, vals := range v {
		if !strings.HasPrefix(key, FilterParamPrefix) || len(vals) == 0 {
			continue
		}
		col := strings.TrimPrefix(key, FilterParamPrefix)
		if col == "" {
			continue
		}
		sawFilter = true
		filters[col] = vals[len(vals)-1]
	}

	_, hasPage := v[pageParam]
	if sawFilter || hasPage {
		out.Filters = filters
	} else {
		out.Filters = fallback.Filters.Clone()
	}

	if hasPage {
		out.Page.Set(ParsePage(v.Get(pageParam)))
	}
	return out
}

// NormalizeQuery re-encodes a raw query with sorted keys so two queries can
// be compared. Unparseable input normalizes to "".
func NormalizeQuery(raw string) string {
	v, err := url.ParseQuery(strings.TrimPrefix(raw, "?"))
	if err != nil {
		return ""
	}
	return v.Encode()
}
