package tui

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/JonMunkholm/csvview/internal/rowclient"
	"github.com/JonMunkholm/csvview/internal/view"
	tea "github.com/charmbracelet/bubbletea"
)

type fakeBackend struct {
	mu           sync.Mutex
	pages        map[int][]view.Record
	total        int64
	unauthorized bool
	exportBody   string
	filterCalls  []view.FilterSet
	rowCalls     int
}

func newFakeBackend() *fakeBackend {
	rec := func(a, b string) view.Record {
		return view.NewRecord(view.Field{Name: "col1", Value: a}, view.Field{Name: "col2", Value: b})
	}
	return &fakeBackend{
		pages: map[int][]view.Record{
			1: {rec("a", "x"), rec("b", "y")},
			2: {rec("c", "bz")},
		},
		total:      3,
		exportBody: "name,city\nc,bz\n",
	}
}

func (f *fakeBackend) err() error {
	if f.unauthorized {
		return fmt.Errorf("rows: %w", view.ErrUnauthorized)
	}
	return nil
}

func (f *fakeBackend) FetchRows(_ context.Context, _ view.Session, page int) ([]view.Record, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.rowCalls++
	if err := f.err(); err != nil {
		return nil, err
	}
	return f.pages[page], nil
}

func (f *fakeBackend) FetchCount(context.Context, view.Session) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.total, f.err()
}

func (f *fakeBackend) FetchFilteredRows(_ context.Context, _ view.Session, filters view.FilterSet, page int) ([]view.Record, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.filterCalls = append(f.filterCalls, filters.Clone())
	if err := f.err(); err != nil {
		return nil, err
	}
	return f.pages[page], nil
}

func (f *fakeBackend) FetchFilteredCount(context.Context, view.Session, view.FilterSet) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.total, f.err()
}

func (f *fakeBackend) ExportFiltered(context.Context, view.Session, view.FilterSet) (io.ReadCloser, error) {
	return io.NopCloser(strings.NewReader(f.exportBody)), nil
}

func (f *fakeBackend) Login(_ context.Context, username, password string) (*rowclient.LoginResult, error) {
	if password != "pw" {
		return nil, rowclient.ErrInvalidCredentials
	}
	return &rowclient.LoginResult{Token: "tok-" + username, Username: username}, nil
}

func (f *fakeBackend) Logout(context.Context, view.Session) error {
	return nil
}

func (f *fakeBackend) rowCallCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.rowCalls
}

func (f *fakeBackend) lastFilters() view.FilterSet {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.filterCalls) == 0 {
		return nil
	}
	return f.filterCalls[len(f.filterCalls)-1]
}

func runes(s string) tea.KeyMsg {
	return tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune(s)}
}

func key(t tea.KeyType) tea.KeyMsg {
	return tea.KeyMsg{Type: t}
}

// settle waits for every controller to go idle, then delivers a change
// event and whatever the controllers queued. Listeners run after the idle
// signal, so the explicit event keeps the test from racing them.
func settle(t *testing.T, m *Model) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	for _, c := range m.ctrls {
		if err := c.Wait(ctx); err != nil {
			t.Fatalf("Wait: %v", err)
		}
	}
	m.Update(changedMsg{})
	for {
		select {
		case msg := <-m.events:
			m.Update(msg)
		default:
			return
		}
	}
}

func loggedIn(t *testing.T, fb *fakeBackend) *Model {
	t.Helper()
	m := New(context.Background(), fb, Options{Username: "alice", Timeout: time.Second})
	t.Cleanup(m.closeSession)

	m.password.SetValue("pw")
	_, cmd := m.Update(key(tea.KeyEnter))
	if cmd == nil {
		t.Fatal("Enter on the login screen returned no command")
	}
	m.Update(cmd())
	if m.screen != screenTable {
		t.Fatalf("screen = %v after login, want table", m.screen)
	}
	settle(t, m)
	return m
}

func TestLogin(t *testing.T) {
	fb := newFakeBackend()
	m := loggedIn(t, fb)

	if got := len(m.tbl.Rows()); got != 2 {
		t.Errorf("table rows = %d, want 2", got)
	}
	if !m.snap.HasTotal || m.snap.Total != 3 {
		t.Errorf("total = %d (has %v), want 3", m.snap.Total, m.snap.HasTotal)
	}
	if v := m.View(); !strings.Contains(v, "Total records: 3") || !strings.Contains(v, "alice") {
		t.Errorf("View() missing summary or user:\n%s", v)
	}
}

func TestLogin_InvalidCredentials(t *testing.T) {
	m := New(context.Background(), newFakeBackend(), Options{Username: "alice"})
	m.password.SetValue("wrong")

	_, cmd := m.Update(key(tea.KeyEnter))
	m.Update(cmd())

	if m.screen != screenLogin {
		t.Errorf("screen = %v, want login", m.screen)
	}
	if m.loginErr != "Invalid username or password" {
		t.Errorf("loginErr = %q", m.loginErr)
	}
	if m.loggingIn {
		t.Error("loggingIn still set after the reply")
	}
}

func TestLogin_EmptyFieldsMoveFocus(t *testing.T) {
	m := New(context.Background(), newFakeBackend(), Options{})
	m.username.SetValue("alice")

	_, cmd := m.Update(key(tea.KeyEnter))
	if cmd != nil {
		t.Error("Enter without a password should not log in")
	}
	if !m.password.Focused() {
		t.Error("Enter on the username field should focus the password")
	}
}

func TestPagingAndFilter(t *testing.T) {
	fb := newFakeBackend()
	m := loggedIn(t, fb)

	m.Update(runes("n"))
	settle(t, m)
	if got := m.snap.State.Page.Page(); got != 2 {
		t.Fatalf("page = %d after n, want 2", got)
	}
	if got := len(m.tbl.Rows()); got != 1 {
		t.Errorf("table rows = %d on page 2, want 1", got)
	}

	m.Update(key(tea.KeyRight))
	if m.selectedColumn() != "col2" {
		t.Fatalf("selected column = %q, want col2", m.selectedColumn())
	}

	calls := fb.rowCallCount()
	m.Update(runes("f"))
	if m.inputMode != inputFilter {
		t.Fatalf("inputMode = %v after f, want filter", m.inputMode)
	}
	m.input.SetValue("b")
	m.Update(key(tea.KeyEnter))
	settle(t, m)

	if got := m.ctrl().State().Filters["col2"]; got != "b" {
		t.Errorf("filter col2 = %q, want b", got)
	}
	if fb.rowCallCount() != calls {
		t.Errorf("unfiltered filter edit fetched: %d calls, want %d", fb.rowCallCount(), calls)
	}
	if !strings.Contains(m.View(), "Filters: col2=b") {
		t.Error("View() missing the active filter")
	}

	m.Update(runes("p"))
	settle(t, m)
	if got := m.snap.State.Page.Page(); got != 1 {
		t.Errorf("page = %d after p, want 1", got)
	}

	m.Update(runes("p"))
	if m.status != "Already on the first page" {
		t.Errorf("status = %q at page 1", m.status)
	}
}

func TestGotoPage(t *testing.T) {
	m := loggedIn(t, newFakeBackend())

	m.Update(runes("g"))
	m.input.SetValue("2")
	m.Update(key(tea.KeyEnter))
	settle(t, m)
	if got := m.snap.State.Page.Page(); got != 2 {
		t.Errorf("page = %d, want 2", got)
	}

	m.Update(runes("g"))
	m.input.SetValue("9")
	m.Update(key(tea.KeyEsc))
	if m.inputMode != inputNone || m.snap.State.Page.Page() != 2 {
		t.Errorf("Esc should cancel: mode %v, page %d", m.inputMode, m.snap.State.Page.Page())
	}
}

func TestSwitchViewCarriesFilters(t *testing.T) {
	fb := newFakeBackend()
	m := loggedIn(t, fb)

	m.Update(runes("n"))
	m.ctrl().SetFilter("col2", "y")
	settle(t, m)

	m.Update(key(tea.KeyTab))
	settle(t, m)

	if m.mode != view.ModeFiltered {
		t.Fatalf("mode = %v after tab, want filtered", m.mode)
	}
	st := m.ctrl().State()
	if st.Page.Page() != 1 || st.Filters["col2"] != "y" {
		t.Errorf("filtered state = page %d filters %v, want page 1 col2=y", st.Page.Page(), st.Filters)
	}
	if got := fb.lastFilters(); got["col2"] != "y" {
		t.Errorf("filtered fetch filters = %v, want col2=y", got)
	}

	m.Update(runes("c"))
	settle(t, m)
	if m.ctrl().State().Filters.HasActive() {
		t.Error("c should clear the filters")
	}

	m.Update(key(tea.KeyTab))
	settle(t, m)
	if m.mode != view.ModeUnfiltered {
		t.Errorf("mode = %v after second tab, want unfiltered", m.mode)
	}
	if m.ctrl().State().Filters.HasActive() {
		t.Error("cleared filters should carry back to the unfiltered view")
	}
}

func TestExport(t *testing.T) {
	fb := newFakeBackend()
	m := loggedIn(t, fb)

	m.Update(runes("x"))
	if m.inputMode != inputNone || !strings.Contains(m.status, "only available") {
		t.Errorf("export from the unfiltered view: mode %v status %q", m.inputMode, m.status)
	}

	m.Update(key(tea.KeyTab))
	settle(t, m)

	path := filepath.Join(t.TempDir(), "out.csv")
	m.Update(runes("x"))
	if m.inputMode != inputExport {
		t.Fatalf("inputMode = %v after x, want export", m.inputMode)
	}
	m.input.SetValue(path)
	_, cmd := m.Update(key(tea.KeyEnter))
	if cmd == nil {
		t.Fatal("export returned no command")
	}
	m.Update(cmd())

	if !strings.HasPrefix(m.status, "Exported") {
		t.Errorf("status = %q, want Exported...", m.status)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	if string(data) != fb.exportBody {
		t.Errorf("export file = %q, want %q", data, fb.exportBody)
	}
	if m.snap.Exporting {
		t.Error("snapshot still exporting after the task finished")
	}
}

func TestSessionExpired(t *testing.T) {
	fb := newFakeBackend()
	fb.unauthorized = true

	m := New(context.Background(), fb, Options{Username: "alice", Timeout: time.Second})
	m.password.SetValue("pw")
	_, cmd := m.Update(key(tea.KeyEnter))
	m.Update(cmd())
	ctrls := m.ctrls
	settle(t, m)

	if m.screen != screenLogin {
		t.Fatalf("screen = %v, want login after rejected credential", m.screen)
	}
	if !strings.Contains(m.loginErr, "AUTH001") {
		t.Errorf("loginErr = %q, want AUTH001", m.loginErr)
	}
	if m.ctrls != nil || m.sess != nil {
		t.Error("session state not cleared")
	}
	if len(ctrls) != 2 {
		t.Errorf("controllers before expiry = %d, want 2", len(ctrls))
	}
}

func TestQuit(t *testing.T) {
	m := loggedIn(t, newFakeBackend())
	_, cmd := m.Update(runes("q"))
	if cmd == nil {
		t.Fatal("q returned no command")
	}
	if _, ok := cmd().(tea.QuitMsg); !ok {
		t.Error("q should quit")
	}
}
