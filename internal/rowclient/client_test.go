package rowclient

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/JonMunkholm/csvview/internal/view"
)

type staticSession struct {
	token string
	user  string
}

func (s *staticSession) Credential() string { return s.token }
func (s *staticSession) Username() string { return s.user }
func (s *staticSession) Invalidate() { s.token = "" }
func (s *staticSession) OnUnauthorized(func()) {}

func newTestClient(t *testing.T, h http.Handler) *Client {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)

	c, err := New(srv.URL)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	return c
}

func TestNew_RejectsRelativeURL(t *testing.T) {
	if _, err := New("/rows"); err == nil {
		t.Error("New(relative) expected error")
	}
}

func TestFetchRows(t *testing.T) {
	var gotAuth, gotPath, gotPage string
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		gotPath = r.URL.Path
		gotPage = r.URL.Query().Get("page")
		w.Header().Set("Content-Type", "application/json")
		io.WriteString(w, `{"total_records":2,"data":[{"id":1,"col2":"b","col1":"a"},{"id":2,"col2":"d","col1":"c"}]}`)
	}))

	rows, err := c.FetchRows(context.Background(), &staticSession{token: "tok", user: "alice"}, 2)
	if err != nil {
		t.Fatalf("FetchRows() error = %v", err)
	}

	if gotAuth != "Bearer tok" {
		t.Errorf("Authorization = %q, want %q", gotAuth, "Bearer tok")
	}
	if gotPath != "/table-data/alice" {
		t.Errorf("path = %q, want /table-data/alice", gotPath)
	}
	if gotPage != "2" {
		t.Errorf("page = %q, want 2", gotPage)
	}
	if len(rows) != 2 {
		t.Fatalf("len(rows) = %d, want 2", len(rows))
	}
	if keys := rows[0].Keys(); strings.Join(keys, ",") != "id,col2,col1" {
		t.Errorf("Keys() = %v, want server order id,col2,col1", keys)
	}
}

func TestFetchFilteredRows_SendsActiveFilters(t *testing.T) {
	var gotFilters string
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotFilters = r.URL.Query().Get("filters")
		io.WriteString(w, `{"total_records":0,"data":[]}`)
	}))

	filters := view.FilterSet{"city": "bos", "zip": ""}
	if _, err := c.FetchFilteredRows(context.Background(), &staticSession{token: "t", user: "u"}, filters, 1); err != nil {
		t.Fatalf("FetchFilteredRows() error = %v", err)
	}

	var decoded map[string]string
	if err := json.Unmarshal([]byte(gotFilters), &decoded); err != nil {
		t.Fatalf("filters param %q is not JSON: %v", gotFilters, err)
	}
	if len(decoded) != 1 || decoded["city"] != "bos" {
		t.Errorf("filters = %v, want only city=bos", decoded)
	}
}

func TestFetchFilteredCount(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/total-filter-records/u" {
			http.NotFound(w, r)
			return
		}
		io.WriteString(w, `{"total_records":137}`)
	}))

	n, err := c.FetchFilteredCount(context.Background(), &staticSession{token: "t", user: "u"}, view.FilterSet{"status": "open"})
	if err != nil {
		t.Fatalf("FetchFilteredCount() error = %v", err)
	}
	if n != 137 {
		t.Errorf("count = %d, want 137", n)
	}
}

func TestErrorMapping(t *testing.T) {
	tests := []struct {
		name       string
		status     int
		body       string
		wantUnauth bool
		wantStatus int
		wantMsg    string
	}{
		{"unauthorized", http.StatusUnauthorized, `{"error":"token expired"}`, true, 0, ""},
		{"server error json", http.StatusInternalServerError, `{"error":"boom"}`, false, 500, "boom"},
		{"not found plain", http.StatusNotFound, "no dataset\n", false, 404, "no dataset"},
		{"rate limited", http.StatusTooManyRequests, "", false, 429, "no response body"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				io.WriteString(w, tt.body)
			}))

			_, err := c.FetchCount(context.Background(), &staticSession{token: "t", user: "u"})
			if err == nil {
				t.Fatal("FetchCount() expected error")
			}
			if got := errors.Is(err, view.ErrUnauthorized); got != tt.wantUnauth {
				t.Errorf("errors.Is(ErrUnauthorized) = %v, want %v", got, tt.wantUnauth)
			}
			if tt.wantUnauth {
				return
			}

			var te *view.TransportError
			if !errors.As(err, &te) {
				t.Fatalf("error %v is not a TransportError", err)
			}
			if te.Status != tt.wantStatus {
				t.Errorf("Status = %d, want %d", te.Status, tt.wantStatus)
			}
			if te.Err.Error() != tt.wantMsg {
				t.Errorf("message = %q, want %q", te.Err.Error(), tt.wantMsg)
			}
		})
	}
}

func TestNetworkError(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	addr := srv.URL
	srv.Close()

	c, err := New(addr)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	_, err = c.FetchRows(context.Background(), &staticSession{token: "t", user: "u"}, 1)
	var te *view.TransportError
	if !errors.As(err, &te) {
		t.Fatalf("error = %v, want TransportError", err)
	}
	if te.Status != 0 {
		t.Errorf("Status = %d, want 0", te.Status)
	}
	if msg := view.MapError(err); msg.Code != "NET001" {
		t.Errorf("MapError code = %q, want NET001", msg.Code)
	}
}

func TestNoCredential(t *testing.T) {
	called := false
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
	}))

	_, err := c.FetchRows(context.Background(), &staticSession{user: "u"}, 1)
	if !view.IsUnauthorized(err) {
		t.Errorf("error = %v, want unauthorized", err)
	}
	if called {
		t.Error("request sent without a credential")
	}
}

func TestExportFiltered(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/csv")
		io.WriteString(w, "city\nBoston\n")
	}))

	body, err := c.ExportFiltered(context.Background(), &staticSession{token: "t", user: "u"}, view.FilterSet{"city": "bos"})
	if err != nil {
		t.Fatalf("ExportFiltered() error = %v", err)
	}
	defer body.Close()

	data, err := io.ReadAll(body)
	if err != nil {
		t.Fatalf("ReadAll() error = %v", err)
	}
	if string(data) != "city\nBoston\n" {
		t.Errorf("body = %q", data)
	}
}

func TestLogin(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var in map[string]string
		json.NewDecoder(r.Body).Decode(&in)
		if in["password"] != "secret" {
			w.WriteHeader(http.StatusUnauthorized)
			io.WriteString(w, `{"error":"Invalid username or password"}`)
			return
		}
		io.WriteString(w, `{"message":"Login successful","token":"abc","user":{"username":"alice","email":"a@example.com"}}`)
	}))

	res, err := c.Login(context.Background(), "alice", "secret")
	if err != nil {
		t.Fatalf("Login() error = %v", err)
	}
	if res.Token != "abc" || res.Username != "alice" || res.Email != "a@example.com" {
		t.Errorf("Login() = %+v", res)
	}

	if _, err := c.Login(context.Background(), "alice", "wrong"); !errors.Is(err, ErrInvalidCredentials) {
		t.Errorf("Login(wrong) error = %v, want ErrInvalidCredentials", err)
	}
}

func TestRegister_Conflict(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusConflict)
		io.WriteString(w, `{"error":"exists"}`)
	}))

	err := c.Register(context.Background(), RegisterRequest{Username: "alice", Email: "a@example.com", Password: "pw"})
	if !errors.Is(err, ErrUserExists) {
		t.Errorf("Register() error = %v, want ErrUserExists", err)
	}
}

func TestUpload(t *testing.T) {
	var gotName, gotBody string
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		f, hdr, err := r.FormFile("file")
		if err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		defer f.Close()
		data, _ := io.ReadAll(f)
		gotName, gotBody = hdr.Filename, string(data)
		io.WriteString(w, `{"message":"File processed and data uploaded successfully","rows":1}`)
	}))

	res, err := c.Upload(context.Background(), &staticSession{token: "t", user: "u"}, "/tmp/people.csv", strings.NewReader("name\nann\n"))
	if err != nil {
		t.Fatalf("Upload() error = %v", err)
	}
	if gotName != "people.csv" {
		t.Errorf("filename = %q, want people.csv", gotName)
	}
	if gotBody != "name\nann\n" {
		t.Errorf("body = %q", gotBody)
	}
	if res.Rows != 1 {
		t.Errorf("Rows = %d, want 1", res.Rows)
	}
}
