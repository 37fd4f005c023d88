// Package templates holds the front end's HTML components. The .templ files
// are the sources; run `templ generate` after editing them.
package templates

import (
	"fmt"

	"github.com/JonMunkholm/csvview/internal/view"
)

// LayoutParams describes the page shell.
type LayoutParams struct {
	Title string
	User  string // empty on the login and register pages

	// Refresh asks the browser to reload after the given number of seconds,
	// used while rows are still loading.
	Refresh int
}

// LoginParams holds the login form state.
type LoginParams struct {
	Username string
	Error    string
	Notice   string
}

// RegisterParams holds the registration form state.
type RegisterParams struct {
	Username     string
	Email        string
	MobileNumber string
	Error        string
}

// TableParams is everything the table page needs from a controller.
type TableParams struct {
	Title    string
	BasePath string // "/data" or "/filtered"
	User     string
	Snapshot view.Snapshot
	Flash    string
}

func (p TableParams) layout() LayoutParams {
	lp := LayoutParams{Title: p.Title, User: p.User}
	if p.Snapshot.Loading {
		lp.Refresh = 1
	}
	return lp
}

func (p TableParams) filtered() bool {
	return p.Snapshot.Mode == view.ModeFiltered
}

// hiddenFilters returns the filtered columns the current page does not show,
// so their patterns survive a filter submit.
func hiddenFilters(snap view.Snapshot) []string {
	var out []string
	for _, col := range snap.State.Filters.Columns() {
		if !snap.Columns.Contains(col) {
			out = append(out, col)
		}
	}
	return out
}

func summaryText(snap view.Snapshot) string {
	s := ""
	if snap.HasTotal {
		s = fmt.Sprintf("Total records: %d. ", snap.Total)
	}
	s += fmt.Sprintf("Page %d.", snap.State.Page.Page())
	if snap.Mode == view.ModeUnfiltered && snap.State.Filters.HasActive() {
		s += fmt.Sprintf(" Showing %d of %d rows on this page.", len(snap.Rows), snap.PageRows)
	}
	return s
}

const styleTag = `<style>
body{font-family:system-ui,sans-serif;margin:0;color:#1f2933}
header{display:flex;gap:1rem;align-items:center;padding:.5rem 1rem;background:#243b53;color:#fff}
header a{color:#fff;text-decoration:none;font-weight:600}
header .user{margin-left:auto}
main{padding:1rem}
.inline{display:inline}
.alert{border:1px solid #e12d39;background:#ffe3e3;padding:.5rem;margin:.5rem 0}
.flash{border:1px solid #27ab83;background:#e3f9e5;padding:.5rem;margin:.5rem 0}
.toolbar{display:flex;gap:.5rem;flex-wrap:wrap;align-items:center;margin:.5rem 0}
table{border-collapse:collapse;width:100%;font-size:.9rem}
th,td{border:1px solid #d9e2ec;padding:.25rem .5rem;text-align:left}
th input{width:100%;box-sizing:border-box}
.muted{color:#627d98}
.loading{color:#f0b429}
</style>`
