package rowservice

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/JonMunkholm/csvview/internal/config"
	"github.com/JonMunkholm/csvview/internal/rowclient"
	"github.com/JonMunkholm/csvview/internal/view"
	"golang.org/x/crypto/bcrypt"
)

type testSession struct {
	token string
	user  string
}

func (s *testSession) Credential() string { return s.token }
func (s *testSession) Username() string { return s.user }
func (s *testSession) Invalidate() { s.token = "" }
func (s *testSession) OnUnauthorized(func()) {}

func testConfig() *config.Config {
	cfg := &config.Config{}
	cfg.Upload.MaxFileSize = 1 << 20
	cfg.Server.ReadTimeout = 5 * time.Second
	return cfg
}

// newTestServer starts the row service over a temp SQLite database and
// returns a client for it.
func newTestServer(t *testing.T, cfg *config.Config) (*httptest.Server, *rowclient.Client) {
	t.Helper()
	svc := NewService(newTestStore(t), NewTokenStore(time.Hour), NewUploadLimiter(2, time.Second), Options{
		PageSize:   2,
		BcryptCost: bcrypt.MinCost,
	})
	s := NewServer(svc, cfg)
	t.Cleanup(func() { s.Shutdown(context.Background()) })

	srv := httptest.NewServer(s.Router())
	t.Cleanup(srv.Close)

	c, err := rowclient.New(srv.URL)
	if err != nil {
		t.Fatalf("rowclient.New: %v", err)
	}
	return srv, c
}

// loginAs registers and logs in a user, returning its session.
func loginAs(t *testing.T, c *rowclient.Client, user string) *testSession {
	t.Helper()
	ctx := context.Background()
	err := c.Register(ctx, rowclient.RegisterRequest{Username: user, Email: user + "@example.com", Password: "pw"})
	if err != nil {
		t.Fatalf("Register: %v", err)
	}
	res, err := c.Login(ctx, user, "pw")
	if err != nil {
		t.Fatalf("Login: %v", err)
	}
	if res.Username != user {
		t.Errorf("Login username = %q, want %q", res.Username, user)
	}
	return &testSession{token: res.Token, user: user}
}

func TestServer_EndToEnd(t *testing.T) {
	ctx := context.Background()
	_, c := newTestServer(t, testConfig())
	sess := loginAs(t, c, "alice")

	_, err := c.FetchCount(ctx, sess)
	var te *view.TransportError
	if !errors.As(err, &te) || te.Status != http.StatusNotFound {
		t.Fatalf("FetchCount before upload err = %v, want 404", err)
	}
	if got := view.MapError(err).Code; got != "SVC001" {
		t.Errorf("MapError code = %s, want SVC001", got)
	}

	up, err := c.Upload(ctx, sess, "cities.csv", strings.NewReader(citiesCSV))
	if err != nil {
		t.Fatalf("Upload: %v", err)
	}
	if up.Rows != 4 {
		t.Errorf("Upload rows = %d, want 4", up.Rows)
	}

	rows, err := c.FetchRows(ctx, sess, 2)
	if err != nil {
		t.Fatalf("FetchRows: %v", err)
	}
	if len(rows) != 2 || rows[0].Text("col1") != "cy" {
		t.Errorf("FetchRows(2) = %d rows, first %q; want 2 starting at cy", len(rows), firstCol1(rows))
	}
	if got := view.InferColumns(rows); strings.Join(got, ",") != "col1,col2,col3,id" {
		t.Errorf("columns = %v, want col1,col2,col3,id", got)
	}

	total, err := c.FetchCount(ctx, sess)
	if err != nil || total != 4 {
		t.Errorf("FetchCount = %d, %v; want 4", total, err)
	}

	filters := view.FilterSet{"col2": "bos", "col1": ""}
	frows, err := c.FetchFilteredRows(ctx, sess, filters, 1)
	if err != nil {
		t.Fatalf("FetchFilteredRows: %v", err)
	}
	if len(frows) != 2 {
		t.Errorf("FetchFilteredRows = %d rows, want 2", len(frows))
	}
	ftotal, err := c.FetchFilteredCount(ctx, sess, filters)
	if err != nil || ftotal != 2 {
		t.Errorf("FetchFilteredCount = %d, %v; want 2", ftotal, err)
	}

	body, err := c.ExportFiltered(ctx, sess, view.FilterSet{"col1": "cy"})
	if err != nil {
		t.Fatalf("ExportFiltered: %v", err)
	}
	data, _ := io.ReadAll(body)
	body.Close()
	if want := "name,city,score\ncy,Austin,7\n"; string(data) != want {
		t.Errorf("export = %q, want %q", data, want)
	}

	if err := c.Logout(ctx, sess); err != nil {
		t.Fatalf("Logout: %v", err)
	}
	if _, err := c.FetchCount(ctx, sess); !errors.Is(err, view.ErrUnauthorized) {
		t.Errorf("FetchCount after logout err = %v, want ErrUnauthorized", err)
	}
}

func firstCol1(rows []view.Record) string {
	if len(rows) == 0 {
		return ""
	}
	return rows[0].Text("col1")
}

func TestServer_AccountErrors(t *testing.T) {
	ctx := context.Background()
	_, c := newTestServer(t, testConfig())
	loginAs(t, c, "alice")

	err := c.Register(ctx, rowclient.RegisterRequest{Username: "alice", Email: "x@example.com", Password: "pw"})
	if !errors.Is(err, rowclient.ErrUserExists) {
		t.Errorf("duplicate Register err = %v, want ErrUserExists", err)
	}
	if _, err := c.Login(ctx, "alice", "nope"); !errors.Is(err, rowclient.ErrInvalidCredentials) {
		t.Errorf("bad Login err = %v, want ErrInvalidCredentials", err)
	}
}

func TestServer_OtherUsersData(t *testing.T) {
	ctx := context.Background()
	_, c := newTestServer(t, testConfig())
	alice := loginAs(t, c, "alice")
	loginAs(t, c, "bob")

	// Alice's token used on Bob's routes.
	spoof := &testSession{token: alice.token, user: "bob"}
	_, err := c.FetchCount(ctx, spoof)

	var te *view.TransportError
	if !errors.As(err, &te) || te.Status != http.StatusForbidden {
		t.Errorf("err = %v, want 403", err)
	}
}

func TestServer_BadToken(t *testing.T) {
	_, c := newTestServer(t, testConfig())
	_, err := c.FetchRows(context.Background(), &testSession{token: "forged", user: "alice"}, 1)
	if !errors.Is(err, view.ErrUnauthorized) {
		t.Errorf("err = %v, want ErrUnauthorized", err)
	}
}

func TestServer_RequestValidation(t *testing.T) {
	srv, c := newTestServer(t, testConfig())
	sess := loginAs(t, c, "alice")

	tests := []struct {
		name   string
		method string
		path   string
		body   string
		ctype  string
		want   int
	}{
		{"bad page", http.MethodGet, "/table-data/alice?page=abc", "", "", http.StatusBadRequest},
		{"zero page", http.MethodGet, "/table-data/alice?page=0", "", "", http.StatusBadRequest},
		{"bad filters", http.MethodGet, "/filtered-data/alice?filters=%5B1%5D", "", "", http.StatusBadRequest},
		{"not multipart", http.MethodPost, "/upload-csv/alice", "a,b", "text/csv", http.StatusBadRequest},
		{
			"wrong extension", http.MethodPost, "/upload-csv/alice",
			"--X\r\nContent-Disposition: form-data; name=\"file\"; filename=\"a.txt\"\r\n\r\na,b\r\n--X--\r\n",
			"multipart/form-data; boundary=X", http.StatusBadRequest,
		},
		{
			"no file part", http.MethodPost, "/upload-csv/alice",
			"--X\r\nContent-Disposition: form-data; name=\"other\"\r\n\r\nv\r\n--X--\r\n",
			"multipart/form-data; boundary=X", http.StatusBadRequest,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req, err := http.NewRequest(tt.method, srv.URL+tt.path, strings.NewReader(tt.body))
			if err != nil {
				t.Fatal(err)
			}
			req.Header.Set("Authorization", "Bearer "+sess.token)
			if tt.ctype != "" {
				req.Header.Set("Content-Type", tt.ctype)
			}
			resp, err := http.DefaultClient.Do(req)
			if err != nil {
				t.Fatal(err)
			}
			defer resp.Body.Close()

			if resp.StatusCode != tt.want {
				t.Errorf("status = %d, want %d", resp.StatusCode, tt.want)
			}
			if ct := resp.Header.Get("Content-Type"); !strings.HasPrefix(ct, "application/json") {
				t.Errorf("Content-Type = %q, want JSON error", ct)
			}
		})
	}
}

func TestServer_UploadTooLarge(t *testing.T) {
	cfg := testConfig()
	cfg.Upload.MaxFileSize = 256
	_, c := newTestServer(t, cfg)
	sess := loginAs(t, c, "alice")

	big := "a,b\n" + strings.Repeat("xxxxxxxx,yyyyyyyy\n", 100)
	_, err := c.Upload(context.Background(), sess, "big.csv", strings.NewReader(big))

	var te *view.TransportError
	if !errors.As(err, &te) || te.Status != http.StatusRequestEntityTooLarge {
		t.Fatalf("err = %v, want 413", err)
	}
	if got := view.MapError(err).Code; got != "FILE001" {
		t.Errorf("MapError code = %s, want FILE001", got)
	}
}

func TestServer_Health(t *testing.T) {
	_, c := newTestServer(t, testConfig())
	if err := c.Health(context.Background()); err != nil {
		t.Errorf("Health: %v", err)
	}
}

func TestServer_RateLimit(t *testing.T) {
	cfg := testConfig()
	cfg.Rate.Enabled = true
	cfg.Rate.RequestsPerMinute = 100
	cfg.Rate.UploadLimit = 1
	srv, _ := newTestServer(t, cfg)

	var last int
	for i := 0; i < 2; i++ {
		resp, err := http.Post(srv.URL+"/login", "application/json", strings.NewReader(`{"username":"x","password":"y"}`))
		if err != nil {
			t.Fatal(err)
		}
		resp.Body.Close()
		last = resp.StatusCode
	}
	if last != http.StatusTooManyRequests {
		t.Errorf("second login status = %d, want 429", last)
	}
}
