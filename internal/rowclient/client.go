// Package rowclient is the HTTP client for the row service.
//
// Client implements both fetch capabilities the view controllers consume
// (view.RowFetcher and view.FilteredRowFetcher) plus the account and upload
// calls the front ends need. The session credential is attached as a bearer
// token and never inspected.
//
// Failures come back in the view package's taxonomy: a 401 on a data call
// wraps view.ErrUnauthorized, every other network or HTTP failure is a
// *view.TransportError.
package rowclient

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/JonMunkholm/csvview/internal/view"
)

// Account errors returned by Register and Login.
var (
	ErrInvalidCredentials = errors.New("invalid username or password")
	ErrUserExists         = errors.New("user with this username or email already exists")
)

// maxErrorBody caps how much of an error response is read.
const maxErrorBody = 64 << 10

// Client talks to one row service.
type Client struct {
	base   *url.URL
	http   *http.Client
	logger *slog.Logger
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the underlying http.Client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.http = hc }
}

// WithTimeout sets the per-request timeout of the default http.Client.
// Exports are bounded by their context instead.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) { c.http.Timeout = d }
}

// WithLogger sets the client's logger.
func WithLogger(l *slog.Logger) Option {
	return func(c *Client) { c.logger = l }
}

// New returns a client for the service at baseURL.
func New(baseURL string, opts ...Option) (*Client, error) {
	u, err := url.Parse(strings.TrimRight(baseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("parse row service url: %w", err)
	}
	if u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("row service url %q must be absolute", baseURL)
	}

	c := &Client{
		base:   u,
		http:   &http.Client{},
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

var (
	_ view.RowFetcher         = (*Client)(nil)
	_ view.FilteredRowFetcher = (*Client)(nil)
)

// pageResponse is the body of /table-data and /filtered-data.
type pageResponse struct {
	TotalRecords int64         `json:"total_records"`
	Data         []view.Record `json:"data"`
}

type countResponse struct {
	TotalRecords int64 `json:"total_records"`
}

// FetchRows returns one unfiltered page.
func (c *Client) FetchRows(ctx context.Context, sess view.Session, page int) ([]view.Record, error) {
	q := url.Values{"page": {strconv.Itoa(page)}}

	var resp pageResponse
	if err := c.getJSON(ctx, "rows", sess, "/table-data", q, &resp); err != nil {
		return nil, err
	}
	return resp.Data, nil
}

// FetchCount returns the size of the whole dataset.
func (c *Client) FetchCount(ctx context.Context, sess view.Session) (int64, error) {
	var resp countResponse
	if err := c.getJSON(ctx, "count", sess, "/total-records", nil, &resp); err != nil {
		return 0, err
	}
	return resp.TotalRecords, nil
}

// FetchFilteredRows returns one page of rows matching filters.
func (c *Client) FetchFilteredRows(ctx context.Context, sess view.Session, filters view.FilterSet, page int) ([]view.Record, error) {
	q, err := filterQuery(filters)
	if err != nil {
		return nil, &view.TransportError{Op: "filtered rows", Err: err}
	}
	q.Set("page", strconv.Itoa(page))

	var resp pageResponse
	if err := c.getJSON(ctx, "filtered rows", sess, "/filtered-data", q, &resp); err != nil {
		return nil, err
	}
	return resp.Data, nil
}

// FetchFilteredCount returns how many rows match filters.
func (c *Client) FetchFilteredCount(ctx context.Context, sess view.Session, filters view.FilterSet) (int64, error) {
	q, err := filterQuery(filters)
	if err != nil {
		return 0, &view.TransportError{Op: "filtered count", Err: err}
	}

	var resp countResponse
	if err := c.getJSON(ctx, "filtered count", sess, "/total-filter-records", q, &resp); err != nil {
		return 0, err
	}
	return resp.TotalRecords, nil
}

// ExportFiltered opens a CSV stream of every row matching filters. The
// caller must close the returned body.
func (c *Client) ExportFiltered(ctx context.Context, sess view.Session, filters view.FilterSet) (io.ReadCloser, error) {
	q, err := filterQuery(filters)
	if err != nil {
		return nil, &view.TransportError{Op: "export", Err: err}
	}

	req, err := c.newUserRequest(ctx, http.MethodGet, sess, "/download-filtered-file", q, nil)
	if err != nil {
		return nil, &view.TransportError{Op: "export", Err: err}
	}

	// The stream may outlive the per-request timeout; only ctx bounds it.
	hc := *c.http
	hc.Timeout = 0

	resp, err := c.do(&hc, "export", req)
	if err != nil {
		return nil, err
	}
	return resp.Body, nil
}

// Health checks the service's liveness endpoint.
func (c *Client) Health(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.endpoint("/healthz", nil), nil)
	if err != nil {
		return &view.TransportError{Op: "health", Err: err}
	}
	resp, err := c.do(c.http, "health", req)
	if err != nil {
		return err
	}
	resp.Body.Close()
	return nil
}

// filterQuery encodes the active filters as the service's filters parameter.
func filterQuery(filters view.FilterSet) (url.Values, error) {
	q := url.Values{}
	active := filters.Active()
	if len(active) == 0 {
		return q, nil
	}
	data, err := json.Marshal(active)
	if err != nil {
		return nil, fmt.Errorf("encode filters: %w", err)
	}
	q.Set("filters", string(data))
	return q, nil
}

func (c *Client) getJSON(ctx context.Context, op string, sess view.Session, path string, q url.Values, out any) error {
	req, err := c.newUserRequest(ctx, http.MethodGet, sess, path, q, nil)
	if err != nil {
		return &view.TransportError{Op: op, Err: err}
	}

	resp, err := c.do(c.http, op, req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return &view.TransportError{Op: op, Status: resp.StatusCode, Err: fmt.Errorf("decode response: %w", err)}
	}
	return nil
}

// newUserRequest builds a request for a per-user route, /path/{user}.
func (c *Client) newUserRequest(ctx context.Context, method string, sess view.Session, path string, q url.Values, body io.Reader) (*http.Request, error) {
	if sess == nil || sess.Credential() == "" {
		return nil, view.ErrNoSession
	}

	endpoint := c.endpoint(path+"/"+url.PathEscape(sess.Username()), q)
	req, err := http.NewRequestWithContext(ctx, method, endpoint, body)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+sess.Credential())
	req.Header.Set("Accept", "application/json")
	return req, nil
}

func (c *Client) endpoint(path string, q url.Values) string {
	u := *c.base
	u.Path = strings.TrimRight(u.Path, "/") + path
	u.RawPath = ""
	if len(q) > 0 {
		u.RawQuery = q.Encode()
	}
	return u.String()
}

// do sends req and turns any non-2xx response into an error. On success the
// caller owns resp.Body.
func (c *Client) do(hc *http.Client, op string, req *http.Request) (*http.Response, error) {
	start := time.Now()
	resp, err := hc.Do(req)
	if err != nil {
		c.logger.Debug("row service request failed", "op", op, "error", err)
		return nil, &view.TransportError{Op: op, Err: err}
	}

	c.logger.Debug("row service request",
		"op", op,
		"status", resp.StatusCode,
		"duration_ms", time.Since(start).Milliseconds(),
	)

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return resp, nil
	}
	defer resp.Body.Close()

	msg := readErrorMessage(resp.Body)
	if resp.StatusCode == http.StatusUnauthorized {
		return nil, fmt.Errorf("%s: %w", op, view.ErrUnauthorized)
	}
	return nil, &view.TransportError{Op: op, Status: resp.StatusCode, Err: errors.New(msg)}
}

// readErrorMessage extracts {"error": "..."} from a failed response, falling
// back to the raw body text.
func readErrorMessage(r io.Reader) string {
	data, _ := io.ReadAll(io.LimitReader(r, maxErrorBody))

	var body struct {
		Error string `json:"error"`
	}
	if err := json.Unmarshal(data, &body); err == nil && body.Error != "" {
		return body.Error
	}
	if text := strings.TrimSpace(string(data)); text != "" {
		return text
	}
	return "no response body"
}
