package tui

import (
	"fmt"
	"strings"

	"github.com/JonMunkholm/csvview/internal/view"
	"github.com/charmbracelet/lipgloss"
)

func (m *Model) View() string {
	if m.screen == screenLogin {
		return m.viewLogin()
	}
	return m.viewTable()
}

func (m *Model) viewLogin() string {
	var b strings.Builder
	b.WriteString(m.styles.Title.Render("csvview"))
	b.WriteString("\n\n")
	b.WriteString(m.username.View())
	b.WriteString("\n")
	b.WriteString(m.password.View())
	b.WriteString("\n\n")
	switch {
	case m.loggingIn:
		b.WriteString(m.styles.Status.Render("Logging in…"))
	case m.loginErr != "":
		b.WriteString(m.styles.Notice.Render(m.loginErr))
	}
	b.WriteString("\n")
	b.WriteString(m.styles.Help.Render("tab switch field · enter log in · esc quit"))

	box := m.styles.Box.Render(b.String())
	if m.width > 0 && m.height > 0 {
		return lipgloss.Place(m.width, m.height, lipgloss.Center, lipgloss.Center, box)
	}
	return box
}

func (m *Model) viewTable() string {
	snap := m.snap
	filtered := snap.Mode == view.ModeFiltered

	var b strings.Builder

	tabs := []string{m.styles.TabInactive.Render("All data"), m.styles.TabInactive.Render("Filtered")}
	if filtered {
		tabs[1] = m.styles.TabActive.Render("Filtered")
	} else {
		tabs[0] = m.styles.TabActive.Render("All data")
	}
	user := ""
	if m.sess != nil {
		user = m.styles.Status.Render("  " + m.sess.Username())
	}
	b.WriteString(m.styles.Title.Render("csvview") + "  " + strings.Join(tabs, " | ") + user)
	b.WriteString("\n")

	b.WriteString(m.styles.Status.Render(summaryLine(snap)))
	if snap.Loading {
		b.WriteString(" " + m.spin.View())
	}
	if snap.Exporting {
		b.WriteString(m.styles.Status.Render(" exporting…"))
	}
	b.WriteString("\n")

	if active := snap.State.Filters.Active(); len(active) > 0 {
		parts := make([]string, 0, len(active))
		for _, col := range active.Columns() {
			parts = append(parts, col+"="+active[col])
		}
		b.WriteString(m.styles.Status.Render("Filters: " + strings.Join(parts, ", ")))
		b.WriteString("\n")
	}

	for _, n := range snap.Notices {
		b.WriteString(m.styles.Notice.Render(n.String()))
		b.WriteString("\n")
	}

	if len(snap.Columns) == 0 {
		if !snap.Loading {
			b.WriteString("No rows to show.\n")
		}
	} else {
		b.WriteString(m.tbl.View())
		b.WriteString("\n")
		if len(snap.Rows) == 0 {
			b.WriteString(m.styles.Status.Render("No matching rows on this page."))
			b.WriteString("\n")
		}
	}

	switch {
	case m.inputMode != inputNone:
		b.WriteString(m.styles.Input.Render(m.input.View()))
	case m.status != "":
		b.WriteString(m.styles.Flash.Render(m.status))
	}
	b.WriteString("\n")
	b.WriteString(m.styles.Help.Render(m.keymap.helpLine(filtered)))
	return b.String()
}

func summaryLine(snap view.Snapshot) string {
	s := fmt.Sprintf("Page %d", snap.State.Page.Page())
	if snap.HasTotal {
		s += fmt.Sprintf(" · Total records: %d", snap.Total)
	}
	if snap.Mode == view.ModeUnfiltered && snap.State.Filters.HasActive() {
		s += fmt.Sprintf(" · Showing %d of %d rows on this page", len(snap.Rows), snap.PageRows)
	}
	return s
}
