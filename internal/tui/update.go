package tui

import (
	"errors"
	"fmt"
	"strings"

	"github.com/JonMunkholm/csvview/internal/rowclient"
	"github.com/JonMunkholm/csvview/internal/view"
	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/table"
	tea "github.com/charmbracelet/bubbletea"
)

const maxColumnWidth = 30

func (m *Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width, m.height = msg.Width, msg.Height
		// Title, tabs, status, filters, input and help lines.
		h := msg.Height - 8
		if h < 3 {
			h = 3
		}
		m.tbl.SetHeight(h)
		m.tbl.SetWidth(msg.Width)
		return m, nil

	case loginMsg:
		m.loggingIn = false
		if msg.err != nil {
			m.loginErr = loginError(msg.err)
			m.logger.Warn("login failed", "error", msg.err)
			return m, nil
		}
		m.loginErr = ""
		m.startSession(msg.res)
		return m, tea.Batch(m.waitEvent(), m.spin.Tick)

	case changedMsg:
		if m.screen != screenTable {
			return m, nil
		}
		m.refresh()
		if m.sess == nil {
			return m, nil
		}
		return m, m.waitEvent()

	case exportDoneMsg:
		if msg.err != nil {
			m.logger.Warn("export failed", "path", msg.path, "error", msg.err)
			if view.IsUnauthorized(msg.err) {
				m.expire()
				return m, nil
			}
			m.status = "Export failed: " + view.FormatUserError(msg.err)
		} else {
			m.logger.Info("export written", "path", msg.path, "bytes", msg.bytes)
			m.status = fmt.Sprintf("Exported %d bytes to %s", msg.bytes, msg.path)
		}
		m.refresh()
		return m, nil

	case spinner.TickMsg:
		if m.screen != screenTable {
			return m, nil
		}
		var cmd tea.Cmd
		m.spin, cmd = m.spin.Update(msg)
		return m, cmd

	case tea.KeyMsg:
		if msg.Type == tea.KeyCtrlC {
			return m, tea.Quit
		}
		if m.screen == screenLogin {
			return m.updateLogin(msg)
		}
		if m.inputMode != inputNone {
			return m.updateInput(msg)
		}
		return m.updateTable(msg)
	}
	return m, nil
}

func loginError(err error) string {
	if errors.Is(err, rowclient.ErrInvalidCredentials) {
		return "Invalid username or password"
	}
	return view.FormatUserError(err)
}

func (m *Model) updateLogin(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.Type {
	case tea.KeyEsc:
		return m, tea.Quit
	case tea.KeyTab, tea.KeyShiftTab, tea.KeyUp, tea.KeyDown:
		m.toggleLoginFocus()
		return m, nil
	case tea.KeyEnter:
		if m.loggingIn {
			return m, nil
		}
		if strings.TrimSpace(m.username.Value()) == "" || m.password.Value() == "" {
			if m.username.Focused() {
				m.toggleLoginFocus()
			}
			return m, nil
		}
		m.loggingIn = true
		m.loginErr = ""
		return m, m.loginCmd()
	}

	var cmd tea.Cmd
	if m.username.Focused() {
		m.username, cmd = m.username.Update(msg)
	} else {
		m.password, cmd = m.password.Update(msg)
	}
	return m, cmd
}

func (m *Model) toggleLoginFocus() {
	if m.username.Focused() {
		m.username.Blur()
		m.password.Focus()
		return
	}
	m.password.Blur()
	m.username.Focus()
}

func (m *Model) updateTable(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	km := m.keymap
	c := m.ctrl()

	switch {
	case keyMatches(msg, km.Quit):
		return m, tea.Quit
	case keyMatches(msg, km.NextPage), msg.Type == tea.KeyPgDown:
		c.Next()
	case keyMatches(msg, km.PrevPage), msg.Type == tea.KeyPgUp:
		if !c.Prev() {
			m.status = "Already on the first page"
		}
	case keyMatches(msg, km.GotoPage):
		m.openInput(inputPage, "Page: ", "")
	case keyMatches(msg, km.PrevColumn):
		if m.selCol > 0 {
			m.selCol--
		}
	case keyMatches(msg, km.NextColumn):
		if m.selCol < len(m.snap.Columns)-1 {
			m.selCol++
		}
	case keyMatches(msg, km.Filter):
		col := m.selectedColumn()
		if col == "" {
			m.status = "No column to filter"
			break
		}
		m.inputCol = col
		m.openInput(inputFilter, "Filter "+col+": ", m.snap.State.Filters[col])
	case keyMatches(msg, km.Clear):
		c.ClearFilters()
	case keyMatches(msg, km.Reload):
		c.Reload()
	case keyMatches(msg, km.Dismiss):
		c.DismissNotices()
		m.status = ""
	case keyMatches(msg, km.SwitchView):
		m.switchView()
	case keyMatches(msg, km.Export):
		if m.mode != view.ModeFiltered {
			m.status = "Export is only available on the filtered view (tab)"
			break
		}
		m.openInput(inputExport, "Export to: ", m.opts.ExportPath)
	default:
		var cmd tea.Cmd
		m.tbl, cmd = m.tbl.Update(msg)
		return m, cmd
	}

	m.refresh()
	return m, nil
}

// switchView hands the current filters to the other view, like the "filter
// all data" and "back to home" actions.
func (m *Model) switchView() {
	intent := m.ctrl().Handoff()
	if m.mode == view.ModeFiltered {
		m.mode = view.ModeUnfiltered
	} else {
		m.mode = view.ModeFiltered
	}
	m.ctrl().Navigate("", &intent)
	m.selCol = 0
	m.status = ""
}

func (m *Model) openInput(mode inputMode, prompt, value string) {
	m.inputMode = mode
	m.input.Prompt = prompt
	m.input.SetValue(value)
	m.input.CursorEnd()
	m.input.Focus()
}

func (m *Model) closeInput() {
	m.inputMode = inputNone
	m.input.Blur()
	m.input.SetValue("")
}

func (m *Model) updateInput(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.Type {
	case tea.KeyEsc:
		m.closeInput()
		return m, nil
	case tea.KeyEnter:
		value := strings.TrimSpace(m.input.Value())
		mode := m.inputMode
		m.closeInput()
		cmd := m.applyInput(mode, value)
		m.refresh()
		return m, cmd
	}

	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	return m, cmd
}

func (m *Model) applyInput(mode inputMode, value string) tea.Cmd {
	c := m.ctrl()
	switch mode {
	case inputFilter:
		c.SetFilter(m.inputCol, value)
	case inputPage:
		c.SetPage(view.ParsePage(value))
	case inputExport:
		if value == "" {
			value = m.opts.ExportPath
		}
		m.status = "Exporting to " + value + "…"
		return m.exportCmd(c, value)
	}
	return nil
}

func (m *Model) selectedColumn() string {
	if m.selCol < 0 || m.selCol >= len(m.snap.Columns) {
		return ""
	}
	return m.snap.Columns[m.selCol]
}

// refresh copies the active controller's snapshot into the table.
func (m *Model) refresh() {
	if m.sess != nil && m.sess.Credential() == "" {
		m.expire()
		return
	}
	c := m.ctrl()
	if c == nil {
		return
	}
	m.snap = c.Snapshot()
	if m.selCol >= len(m.snap.Columns) {
		m.selCol = max(len(m.snap.Columns)-1, 0)
	}

	cols := make([]table.Column, len(m.snap.Columns))
	for i, name := range m.snap.Columns {
		title := name
		if v := m.snap.State.Filters[name]; v != "" {
			title += "*"
		}
		if i == m.selCol {
			title = "[" + title + "]"
		}
		cols[i] = table.Column{Title: title, Width: len(title)}
	}

	rows := make([]table.Row, len(m.snap.Rows))
	for i, rec := range m.snap.Rows {
		row := make(table.Row, len(m.snap.Columns))
		for j, name := range m.snap.Columns {
			row[j] = rec.Text(name)
			if w := min(len(row[j]), maxColumnWidth); w > cols[j].Width {
				cols[j].Width = w
			}
		}
		rows[i] = row
	}

	// Rows must never be wider than the columns.
	m.tbl.SetRows(nil)
	m.tbl.SetColumns(cols)
	m.tbl.SetRows(rows)
}
