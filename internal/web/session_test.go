package web

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/JonMunkholm/csvview/internal/view"
)

func TestSessionStore_CreateGet(t *testing.T) {
	st := NewSessionStore(time.Hour)
	s := st.Create("alice", "tok")

	got, ok := st.Get(s.ID)
	if !ok || got != s {
		t.Fatalf("Get(%q) = %v, %v; want the created session", s.ID, got, ok)
	}
	if got.Username() != "alice" || got.Credential() != "tok" {
		t.Errorf("session = %s/%s, want alice/tok", got.Username(), got.Credential())
	}
	if _, ok := st.Get("missing"); ok {
		t.Error("Get(missing) ok = true, want false")
	}
}

func TestSessionStore_Expiry(t *testing.T) {
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	st := NewSessionStore(time.Minute)
	st.now = func() time.Time { return now }

	a := st.Create("alice", "a")
	now = now.Add(30 * time.Second)
	b := st.Create("bob", "b")

	now = now.Add(30 * time.Second)
	if _, ok := st.Get(a.ID); ok {
		t.Error("Get(expired) ok = true, want false")
	}
	if st.Len() != 1 {
		t.Errorf("Len() = %d, want 1 after expired Get", st.Len())
	}

	now = now.Add(time.Minute)
	if n := st.Sweep(); n != 1 {
		t.Errorf("Sweep() = %d, want 1", n)
	}
	if _, ok := st.Get(b.ID); ok {
		t.Error("Get(swept) ok = true, want false")
	}
}

func TestSession_InvalidateRemovesFromStore(t *testing.T) {
	st := NewSessionStore(time.Hour)
	s := st.Create("alice", "tok")

	fired := 0
	s.OnUnauthorized(func() { fired++ })

	s.Invalidate()
	s.Invalidate()

	if s.Credential() != "" {
		t.Errorf("Credential() = %q after Invalidate, want empty", s.Credential())
	}
	if fired != 1 {
		t.Errorf("callback fired %d times, want 1", fired)
	}
	if st.Len() != 0 {
		t.Errorf("Len() = %d, want 0", st.Len())
	}
}

func TestSession_IntentAndFlash(t *testing.T) {
	s := &Session{}

	s.setIntent(view.ModeFiltered, view.Intent{Filters: view.FilterSet{"col1": "a"}})
	if in := s.takeIntent(view.ModeUnfiltered); in != nil {
		t.Errorf("takeIntent(other view) = %v, want nil", in)
	}
	in := s.takeIntent(view.ModeFiltered)
	if in == nil || in.Filters["col1"] != "a" {
		t.Fatalf("takeIntent = %v, want filters col1=a", in)
	}
	if in := s.takeIntent(view.ModeFiltered); in != nil {
		t.Errorf("second takeIntent = %v, want nil", in)
	}

	s.setFlash("done")
	if got := s.takeFlash(); got != "done" {
		t.Errorf("takeFlash() = %q, want done", got)
	}
	if got := s.takeFlash(); got != "" {
		t.Errorf("second takeFlash() = %q, want empty", got)
	}
}

func TestSessionFromRequest(t *testing.T) {
	st := NewSessionStore(time.Hour)
	s := st.Create("alice", "tok")

	tests := []struct {
		name   string
		cookie *http.Cookie
		want   bool
	}{
		{"no cookie", nil, false},
		{"empty", &http.Cookie{Name: sessionCookie, Value: ""}, false},
		{"unknown", &http.Cookie{Name: sessionCookie, Value: "nope"}, false},
		{"valid", &http.Cookie{Name: sessionCookie, Value: s.ID}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/data", nil)
			if tt.cookie != nil {
				req.AddCookie(tt.cookie)
			}
			if _, ok := st.sessionFromRequest(req); ok != tt.want {
				t.Errorf("sessionFromRequest() ok = %v, want %v", ok, tt.want)
			}
		})
	}
}
