// Package tui is the terminal client: a login screen, then the two table
// views driven by the same view controllers the web front end uses.
package tui

import (
	"context"
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/JonMunkholm/csvview/internal/rowclient"
	"github.com/JonMunkholm/csvview/internal/view"
	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/table"
	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
)

// Backend is the row service as the terminal client uses it.
// *rowclient.Client implements it.
type Backend interface {
	view.RowFetcher
	view.FilteredRowFetcher

	Login(ctx context.Context, username, password string) (*rowclient.LoginResult, error)
	Logout(ctx context.Context, sess view.Session) error
}

var _ Backend = (*rowclient.Client)(nil)

// Options configures the terminal client.
type Options struct {
	Username   string        // prefilled on the login screen
	Timeout    time.Duration // per fetch
	ExportPath string        // default file for exports
	Dark       bool
	Logger     *slog.Logger
}

type screen int

const (
	screenLogin screen = iota
	screenTable
)

type inputMode int

const (
	inputNone inputMode = iota
	inputFilter
	inputPage
	inputExport
)

// Messages
type (
	loginMsg struct {
		res *rowclient.LoginResult
		err error
	}
	// changedMsg reports that a controller settled a fetch.
	changedMsg struct{}
	exportDoneMsg struct {
		path  string
		bytes int64
		err   error
	}
)

// Model is the bubbletea model of the terminal client.
type Model struct {
	ctx     context.Context
	backend Backend
	opts    Options
	logger  *slog.Logger

	screen screen
	keymap KeyMap
	styles Styles

	// Login
	username  textinput.Model
	password  textinput.Model
	loginErr  string
	loggingIn bool

	// Table
	sess   *session
	ctrls  map[view.Mode]*view.Controller
	mode   view.Mode
	events chan tea.Msg
	snap   view.Snapshot
	tbl    table.Model
	spin   spinner.Model
	selCol int

	input     textinput.Model
	inputMode inputMode
	inputCol  string
	status    string

	width, height int
}

// New builds the model. ctx bounds every fetch.
func New(ctx context.Context, backend Backend, opts Options) *Model {
	if opts.ExportPath == "" {
		opts.ExportPath = "filtered_data.csv"
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}

	m := &Model{
		ctx:     ctx,
		backend: backend,
		opts:    opts,
		logger:  opts.Logger,
		keymap:  DefaultKeyMap(),
		styles:  NewStyles(opts.Dark),
		events:  make(chan tea.Msg, 16),
		spin:    spinner.New(),
		input:   textinput.New(),
	}
	m.spin.Spinner = spinner.Dot

	m.username = textinput.New()
	m.username.Placeholder = "username"
	m.username.Prompt = "Username: "
	m.username.CharLimit = 64
	m.username.SetValue(opts.Username)

	m.password = textinput.New()
	m.password.Placeholder = "password"
	m.password.Prompt = "Password: "
	m.password.EchoMode = textinput.EchoPassword
	m.password.EchoCharacter = '•'
	m.password.CharLimit = 72

	if opts.Username == "" {
		m.username.Focus()
	} else {
		m.password.Focus()
	}

	m.input.CharLimit = 256

	m.tbl = table.New(table.WithFocused(true), table.WithHeight(20))
	ts := table.DefaultStyles()
	ts.Header = lipgloss.NewStyle().Bold(true).PaddingRight(1)
	ts.Cell = lipgloss.NewStyle().PaddingRight(1)
	ts.Selected = m.styles.Selected
	m.tbl.SetStyles(ts)
	return m
}

// Run starts the terminal client and logs out when it exits.
func Run(ctx context.Context, backend Backend, opts Options) error {
	m := New(ctx, backend, opts)
	p := tea.NewProgram(m, tea.WithContext(ctx), tea.WithAltScreen())
	_, err := p.Run()

	if m.sess != nil && m.sess.Credential() != "" {
		lctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if lerr := backend.Logout(lctx, m.sess); lerr != nil {
			m.logger.Warn("logout failed", "error", lerr)
		}
		cancel()
	}
	m.closeSession()
	return err
}

func (m *Model) Init() tea.Cmd {
	return textinput.Blink
}

// ctrl returns the controller of the active view.
func (m *Model) ctrl() *view.Controller {
	return m.ctrls[m.mode]
}

func (m *Model) loginCmd() tea.Cmd {
	user, pass := m.username.Value(), m.password.Value()
	return func() tea.Msg {
		res, err := m.backend.Login(m.ctx, user, pass)
		return loginMsg{res: res, err: err}
	}
}

// startSession creates both controllers for a fresh login and mounts the
// unfiltered view.
func (m *Model) startSession(res *rowclient.LoginResult) {
	m.sess = newSession(res.Username, res.Token)

	opts := view.Options{
		Logger:  m.logger.With("user", res.Username),
		Timeout: m.opts.Timeout,
	}
	m.ctrls = map[view.Mode]*view.Controller{
		view.ModeUnfiltered: view.NewUnfiltered(m.sess, m.backend, opts),
		view.ModeFiltered:   view.NewFiltered(m.sess, m.backend, opts),
	}
	for _, c := range m.ctrls {
		c.OnChange(m.notify)
	}

	m.mode = view.ModeUnfiltered
	m.selCol = 0
	m.status = ""
	m.screen = screenTable
	m.ctrl().Navigate("", nil)
	m.refresh()
}

// notify runs on fetch goroutines. A full queue already holds a pending
// redraw, so dropping is fine.
func (m *Model) notify() {
	select {
	case m.events <- changedMsg{}:
	default:
	}
}

// waitEvent delivers the next controller event to Update.
func (m *Model) waitEvent() tea.Cmd {
	return func() tea.Msg {
		select {
		case msg := <-m.events:
			return msg
		case <-m.ctx.Done():
			return nil
		}
	}
}

func (m *Model) closeSession() {
	for _, c := range m.ctrls {
		c.Close()
	}
	m.ctrls = nil
}

// expire returns to the login screen after the service rejected the token.
func (m *Model) expire() {
	m.closeSession()
	m.sess = nil
	m.screen = screenLogin
	m.inputMode = inputNone
	m.loginErr = view.FormatUserError(view.ErrUnauthorized)
	m.password.SetValue("")
	m.username.Blur()
	m.password.Focus()
}

func (m *Model) exportCmd(c *view.Controller, path string) tea.Cmd {
	return func() tea.Msg {
		task, err := c.Export(m.ctx)
		if err != nil {
			return exportDoneMsg{path: path, err: err}
		}
		defer task.Close()

		n, err := writeExport(path, task)
		return exportDoneMsg{path: path, bytes: n, err: err}
	}
}

// writeExport copies the export stream to a new file at path.
func writeExport(path string, r io.Reader) (int64, error) {
	f, err := os.Create(path)
	if err != nil {
		return 0, err
	}
	n, err := io.Copy(f, r)
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	return n, err
}
