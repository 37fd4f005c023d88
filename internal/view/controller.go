package view

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
)

// DefaultFetchTimeout bounds a single fetch when Options.Timeout is unset.
const DefaultFetchTimeout = 30 * time.Second

// ErrExportUnsupported is returned by Export on an unfiltered controller.
var ErrExportUnsupported = errors.New("export is only available on the filtered view")

// RowFetcher is the unfiltered row capability of the row service.
type RowFetcher interface {
	FetchRows(ctx context.Context, sess Session, page int) ([]Record, error)
	FetchCount(ctx context.Context, sess Session) (int64, error)
}

// FilteredRowFetcher is the server-side filtering capability of the row service.
type FilteredRowFetcher interface {
	FetchFilteredRows(ctx context.Context, sess Session, filters FilterSet, page int) ([]Record, error)
	FetchFilteredCount(ctx context.Context, sess Session, filters FilterSet) (int64, error)
	ExportFiltered(ctx context.Context, sess Session, filters FilterSet) (io.ReadCloser, error)
}

// Mode selects which of the two views a controller drives.
type Mode int

const (
	// ModeUnfiltered fetches raw pages and filters the current page in memory.
	ModeUnfiltered Mode = iota
	// ModeFiltered delegates filtering and counting to the row service.
	ModeFiltered
)

func (m Mode) String() string {
	if m == ModeFiltered {
		return "filtered"
	}
	return "unfiltered"
}

// Options configures a controller.
type Options struct {
	Logger  *slog.Logger
	Timeout time.Duration // per fetch, default DefaultFetchTimeout
}

// Snapshot is a consistent copy of what a view should render.
type Snapshot struct {
	Mode       Mode
	State      ViewState
	Query      string      // URL form of State
	Columns    ColumnOrder // render order, kept across empty pages
	Rows       []Record    // rows to display (client-filtered in unfiltered mode)
	PageRows   int         // rows in the fetched page before client filtering
	Total      int64       // total reported by the row service
	HasTotal   bool        // false until a count has been fetched
	Loading    bool
	Exporting  bool
	Notices    []Notice
	Generation uint64 // number of fetches issued so far
}

// Controller is the table view engine for one view. It owns the ViewState,
// keeps the URL form in step with it, and fetches rows whenever a
// fetch-relevant part of the state changes.
//
// Fetches run on their own goroutines and never block state changes. Each
// fetch carries a generation number; a response older than the latest issued
// fetch is discarded, so a slow reply cannot overwrite newer state. A failed
// fetch leaves the previous rows, columns and total in place and adds a Notice.
type Controller struct {
	mode     Mode
	sess     Session
	rows     RowFetcher
	filtered FilteredRowFetcher
	logger   *slog.Logger
	timeout  time.Duration

	ctx    context.Context
	cancel context.CancelFunc

	mu        sync.Mutex
	mounted   bool
	state     ViewState
	query     string
	batch     []Record
	columns   ColumnOrder
	total     int64
	hasTotal  bool
	gen       uint64
	inflight  int
	idle      chan struct{}
	exporting int
	notices   []Notice
	listeners []func()
}

// NewUnfiltered returns the controller for the unfiltered, client-filtered view.
func NewUnfiltered(sess Session, rows RowFetcher, opts Options) *Controller {
	c := newController(ModeUnfiltered, sess, opts)
	c.rows = rows
	return c
}

// NewFiltered returns the controller for the server-filtered view.
func NewFiltered(sess Session, filtered FilteredRowFetcher, opts Options) *Controller {
	c := newController(ModeFiltered, sess, opts)
	c.filtered = filtered
	return c
}

func newController(mode Mode, sess Session, opts Options) *Controller {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = DefaultFetchTimeout
	}

	idle := make(chan struct{})
	close(idle)

	ctx, cancel := context.WithCancel(context.Background())
	c := &Controller{
		mode:    mode,
		sess:    sess,
		logger:  logger.With("view", mode.String()),
		timeout: timeout,
		ctx:     ctx,
		cancel:  cancel,
		idle:    idle,
		state:   ViewState{Filters: FilterSet{}},
	}
	c.query = Encode(c.state)
	return c
}

// Mode returns which view this controller drives.
func (c *Controller) Mode() Mode {
	return c.mode
}

// Navigate reads the state from a URL query, as on mount, reload or
// back/forward navigation. Fields missing from the query come from the
// intent's filters when an intent is handed over, otherwise from the current
// state. The first call always fetches; later calls fetch only when a
// fetch-relevant part of the state changed.
func (c *Controller) Navigate(query string, intent *Intent) {
	c.mu.Lock()
	defer c.mu.Unlock()

	fallback := c.state
	if intent != nil {
		fallback = ViewState{Filters: intent.Filters.Clone()}
	}
	next := Decode(query, fallback)

	fetch := !c.mounted || c.needsFetch(next)
	c.commit(next, fetch)
}

// SetFilter changes one column's pattern. In the unfiltered view this is a
// pure view transform over the fetched page: no fetch, page unchanged.
func (c *Controller) SetFilter(column, pattern string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	next := c.state.Clone()
	next.Filters[column] = pattern
	c.commit(next, c.needsFetch(next))
}

// SetFilters replaces the whole FilterSet.
func (c *Controller) SetFilters(filters FilterSet) {
	c.mu.Lock()
	defer c.mu.Unlock()

	next := ViewState{Filters: filters.Clone(), Page: c.state.Page}
	c.commit(next, c.needsFetch(next))
}

// ClearFilters drops every filter. The filtered view also returns to page 1
// because its result set changes.
func (c *Controller) ClearFilters() {
	c.mu.Lock()
	defer c.mu.Unlock()

	next := ViewState{Filters: FilterSet{}, Page: c.state.Page}
	if c.mode == ModeFiltered {
		next.Page.Set(1)
	}
	c.commit(next, c.needsFetch(next))
}

// Next moves to the following page and fetches it.
func (c *Controller) Next() {
	c.mu.Lock()
	defer c.mu.Unlock()

	next := c.state.Clone()
	next.Page.Next()
	c.commit(next, true)
}

// Prev moves to the previous page. At page 1 it is a no-op and returns false.
func (c *Controller) Prev() bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	next := c.state.Clone()
	if !next.Page.Prev() {
		return false
	}
	c.commit(next, true)
	return true
}

// SetPage jumps to page n, clamped to at least 1.
func (c *Controller) SetPage(n int) {
	c.mu.Lock()
	defer c.mu.Unlock()

	next := c.state.Clone()
	next.Page.Set(n)
	c.commit(next, next.Page.Page() != c.state.Page.Page())
}

// Reload fetches the current state again, e.g. after an upload.
func (c *Controller) Reload() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.mounted = true
	c.refreshLocked(true)
}

// Handoff returns the navigation intent for the sibling view: "filter all
// data" from the unfiltered view, "back to home" from the filtered one.
func (c *Controller) Handoff() Intent {
	c.mu.Lock()
	defer c.mu.Unlock()
	return Intent{Filters: c.state.Filters.Clone()}
}

// FilterAll is the unfiltered view's "filter all data" action: it hands the
// current filters to the filtered view.
func (c *Controller) FilterAll() Intent {
	return c.Handoff()
}

// Home is the filtered view's "back to home" action.
func (c *Controller) Home() Intent {
	return c.Handoff()
}

// State returns a copy of the committed ViewState.
func (c *Controller) State() ViewState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state.Clone()
}

// Query returns the URL form of the most recently committed state. It is
// updated synchronously with every state change, whatever order fetches
// complete in.
func (c *Controller) Query() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.query
}

// Snapshot returns what the view should render right now. While a fetch is
// in flight the previous rows stay visible and Loading is set.
func (c *Controller) Snapshot() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()

	rows := c.batch
	if c.mode == ModeUnfiltered {
		rows = ApplyFilters(c.batch, c.state.Filters)
	}
	visible := make([]Record, len(rows))
	copy(visible, rows)

	notices := make([]Notice, len(c.notices))
	copy(notices, c.notices)

	return Snapshot{
		Mode:       c.mode,
		State:      c.state.Clone(),
		Query:      c.query,
		Columns:    c.columns.Clone(),
		Rows:       visible,
		PageRows:   len(c.batch),
		Total:      c.total,
		HasTotal:   c.hasTotal,
		Loading:    c.inflight > 0,
		Exporting:  c.exporting > 0,
		Notices:    notices,
		Generation: c.gen,
	}
}

// DismissNotices clears the reported notices.
func (c *Controller) DismissNotices() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.notices = nil
}

// Wait blocks until no fetch is in flight or ctx is done.
func (c *Controller) Wait(ctx context.Context) error {
	c.mu.Lock()
	idle := c.idle
	c.mu.Unlock()

	select {
	case <-idle:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// OnChange registers a callback run after every settled fetch.
func (c *Controller) OnChange(fn func()) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.listeners = append(c.listeners, fn)
}

// Close cancels in-flight fetches. The controller must not be used afterwards.
func (c *Controller) Close() {
	c.cancel()
}

// needsFetch reports whether moving to next changes what the service returns.
// Must hold c.mu.
func (c *Controller) needsFetch(next ViewState) bool {
	if next.Page.Page() != c.state.Page.Page() {
		return true
	}
	return c.mode == ModeFiltered && !next.Filters.Equal(c.state.Filters)
}

// commit installs next as the current state, rewrites the URL form and, if
// asked, issues a fetch. Must hold c.mu.
func (c *Controller) commit(next ViewState, fetch bool) {
	if next.Filters == nil {
		next.Filters = FilterSet{}
	}
	// The dataset total does not depend on the page, so the unfiltered view
	// counts only on mount, on reload, or when it has no total yet.
	withCount := c.mode == ModeFiltered || !c.mounted || !c.hasTotal
	c.mounted = true
	c.state = next
	c.query = Encode(next)
	if fetch {
		c.refreshLocked(withCount)
	}
}

// refreshLocked issues one fetch for the current state. Must hold c.mu.
func (c *Controller) refreshLocked(withCount bool) {
	c.gen++
	gen := c.gen
	state := c.state.Clone()

	if c.inflight == 0 {
		c.idle = make(chan struct{})
	}
	c.inflight++

	go c.fetch(gen, state, withCount)
}

// fetchResult holds the outcome of the two requests behind one fetch. Each
// half fails independently.
type fetchResult struct {
	rows     []Record
	rowsErr  error
	total    int64
	countErr error
	counted  bool
}

func (c *Controller) fetch(gen uint64, state ViewState, withCount bool) {
	ctx, cancel := context.WithTimeout(c.ctx, c.timeout)
	defer cancel()

	// Loading is released whatever happens below, panics included.
	defer func() {
		if r := recover(); r != nil {
			c.logger.Error("fetch panicked", "generation", gen, "panic", r)
		}
		for _, fn := range c.finish() {
			fn()
		}
	}()

	res := c.load(ctx, state, withCount)

	if c.settle(gen, state, res) && c.sess != nil {
		c.sess.Invalidate()
	}
}

func (c *Controller) load(ctx context.Context, state ViewState, withCount bool) fetchResult {
	res := fetchResult{counted: withCount}
	if c.sess == nil || c.sess.Credential() == "" {
		res.rowsErr, res.countErr = ErrNoSession, ErrNoSession
		return res
	}

	page := state.Page.Page()

	var g errgroup.Group
	g.Go(func() error {
		if c.mode == ModeFiltered {
			res.rows, res.rowsErr = c.filtered.FetchFilteredRows(ctx, c.sess, state.Filters, page)
		} else {
			res.rows, res.rowsErr = c.rows.FetchRows(ctx, c.sess, page)
		}
		return res.rowsErr
	})
	if withCount {
		g.Go(func() error {
			if c.mode == ModeFiltered {
				res.total, res.countErr = c.filtered.FetchFilteredCount(ctx, c.sess, state.Filters)
			} else {
				res.total, res.countErr = c.rows.FetchCount(ctx, c.sess)
			}
			return res.countErr
		})
	}
	// Each half records its own error; neither cancels the other.
	_ = g.Wait()

	return res
}

// settle applies a fetch result if it is still the latest. It reports
// whether the session was rejected.
func (c *Controller) settle(gen uint64, state ViewState, res fetchResult) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if gen != c.gen {
		c.logger.Debug("discarding stale fetch",
			"generation", gen,
			"latest", c.gen,
			"page", state.Page.Page(),
		)
		return false
	}

	c.notices = nil

	if res.rowsErr != nil {
		c.report("rows", res.rowsErr, state)
	} else {
		c.batch = res.rows
		c.columns = NextColumnOrder(c.columns, res.rows)
	}

	switch {
	case !res.counted:
	case res.countErr != nil:
		c.report("count", res.countErr, state)
	default:
		c.total = res.total
		c.hasTotal = true
	}

	return IsUnauthorized(res.rowsErr) || IsUnauthorized(res.countErr)
}

// finish releases the loading flag of one fetch, stale or not, and returns
// the change listeners to notify.
func (c *Controller) finish() []func() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.inflight--
	if c.inflight == 0 {
		close(c.idle)
	}
	return append([]func(){}, c.listeners...)
}

// report logs a failure and records a notice, keeping one notice per code.
// Must hold c.mu.
func (c *Controller) report(op string, err error, state ViewState) {
	c.logger.Warn("fetch failed",
		"op", op,
		"page", state.Page.Page(),
		"filters", len(state.Filters),
		"error", err,
	)

	msg := MapError(err)
	for _, n := range c.notices {
		if n.Code == msg.Code {
			return
		}
	}
	c.notices = append(c.notices, Notice{UserMessage: msg, Op: op})
}
