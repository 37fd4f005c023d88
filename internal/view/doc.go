// Package view is the stateful table view engine behind the CSV browser.
//
// It is independent of any transport or UI: the web front end and the
// terminal client both drive the same [Controller] and only differ in how
// they render a [Snapshot] and where they read and write the URL form of
// the state.
//
// # Data Model
//
//   - [Record]: one row, an ordered column→scalar mapping.
//   - [ColumnOrder]: render order derived from the first record of a batch
//     by [InferColumns]; col<N> columns first, numerically sorted.
//   - [FilterSet]: per-column, case-insensitive substring patterns.
//   - [PageCursor]: 1-based page index that never drops below 1.
//   - [ViewState]: filters plus page, the unit synchronized with the URL.
//
// # URL State
//
// [Encode] and [Decode] convert a ViewState to and from a query string of
// filter_<column>=<value> parameters and page=<n>:
//
//	view.Encode(view.ViewState{Filters: view.FilterSet{"city": "bos"}, Page: view.NewPageCursor(3)})
//	// filter_city=bos&page=3
//
// # Two Views
//
// [NewUnfiltered] fetches raw pages and filters the current page in memory;
// filter edits never fetch. [NewFiltered] sends the filters to the row
// service, shows its total match count and can [Controller.Export] the full
// filtered set. The "filter all data" action moves filters between them as an
// [Intent].
//
// # Failures
//
// Fetch failures never clear the view. They become [Notice] values mapped by
// [MapError]; [ErrUnauthorized] additionally invalidates the [Session].
package view
