package rowservice

import (
	"bytes"
	"context"
	"errors"
	"math"
	"strings"
	"testing"
	"time"

	"golang.org/x/crypto/bcrypt"
)

func newTestService(t *testing.T, pageSize int) *Service {
	t.Helper()
	return NewService(newTestStore(t), NewTokenStore(time.Hour), NewUploadLimiter(2, time.Second), Options{
		PageSize:   pageSize,
		BcryptCost: bcrypt.MinCost,
	})
}

func registerAlice(t *testing.T, s *Service) {
	t.Helper()
	err := s.Register(context.Background(), Registration{
		Username: "alice",
		Email:    "alice@example.com",
		Password: "s3cret",
	})
	if err != nil {
		t.Fatalf("Register: %v", err)
	}
}

func TestService_Register(t *testing.T) {
	ctx := context.Background()
	s := newTestService(t, 10)
	registerAlice(t, s)

	tests := []struct {
		name string
		in   Registration
		want error
	}{
		{"duplicate username", Registration{Username: "alice", Email: "a2@example.com", Password: "x"}, ErrUserExists},
		{"duplicate email", Registration{Username: "al", Email: "alice@example.com", Password: "x"}, ErrUserExists},
		{"missing username", Registration{Username: "  ", Email: "b@example.com", Password: "x"}, ErrInvalidInput},
		{"bad email", Registration{Username: "bob", Email: "bob", Password: "x"}, ErrInvalidInput},
		{"missing password", Registration{Username: "bob", Email: "bob@example.com"}, ErrInvalidInput},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := s.Register(ctx, tt.in); !errors.Is(err, tt.want) {
				t.Errorf("Register err = %v, want %v", err, tt.want)
			}
		})
	}
}

func TestService_Login(t *testing.T) {
	ctx := context.Background()
	s := newTestService(t, 10)
	registerAlice(t, s)

	sess, err := s.Login(ctx, "alice", "s3cret")
	if err != nil {
		t.Fatalf("Login: %v", err)
	}
	if sess.User.Email != "alice@example.com" {
		t.Errorf("User.Email = %q", sess.User.Email)
	}
	if user, ok := s.Authenticate(sess.Token); !ok || user != "alice" {
		t.Errorf("Authenticate = %q, %v; want alice, true", user, ok)
	}

	if _, err := s.Login(ctx, "alice", "wrong"); !errors.Is(err, ErrInvalidCredentials) {
		t.Errorf("wrong password err = %v, want ErrInvalidCredentials", err)
	}
	if _, err := s.Login(ctx, "nobody", "s3cret"); !errors.Is(err, ErrInvalidCredentials) {
		t.Errorf("unknown user err = %v, want ErrInvalidCredentials", err)
	}

	s.Logout(sess.Token)
	if _, ok := s.Authenticate(sess.Token); ok {
		t.Error("token valid after Logout")
	}
}

func TestService_RowsPaging(t *testing.T) {
	ctx := context.Background()
	s := newTestService(t, 2)
	registerAlice(t, s)

	n, err := s.Upload(ctx, "alice", strings.NewReader(citiesCSV))
	if err != nil {
		t.Fatalf("Upload: %v", err)
	}
	if n != 4 {
		t.Errorf("Upload rows = %d, want 4", n)
	}

	tests := []struct {
		page      int
		filters   map[string]string
		wantTotal int64
		wantFirst string
		wantLen   int
	}{
		{page: 1, wantTotal: 4, wantFirst: "ann", wantLen: 2},
		{page: 2, wantTotal: 4, wantFirst: "cy", wantLen: 2},
		{page: 3, wantTotal: 4, wantLen: 0},
		{page: 0, wantTotal: 4, wantFirst: "ann", wantLen: 2},
		{page: math.MaxInt, wantTotal: 4, wantLen: 0},
		{page: math.MaxInt/2 + 2, wantTotal: 4, wantLen: 0},
		{page: 1, filters: map[string]string{"col2": "boston"}, wantTotal: 2, wantFirst: "ann", wantLen: 2},
	}

	for _, tt := range tests {
		p, err := s.Rows(ctx, "alice", tt.filters, tt.page)
		if err != nil {
			t.Fatalf("Rows(page %d): %v", tt.page, err)
		}
		if p.Total != tt.wantTotal {
			t.Errorf("Rows(page %d).Total = %d, want %d", tt.page, p.Total, tt.wantTotal)
		}
		if len(p.Rows) != tt.wantLen {
			t.Fatalf("len(Rows(page %d)) = %d, want %d", tt.page, len(p.Rows), tt.wantLen)
		}
		if tt.wantLen > 0 && p.Rows[0].Text("col1") != tt.wantFirst {
			t.Errorf("Rows(page %d)[0].col1 = %q, want %q", tt.page, p.Rows[0].Text("col1"), tt.wantFirst)
		}
	}
}

func TestService_Export(t *testing.T) {
	ctx := context.Background()
	s := newTestService(t, 2)
	registerAlice(t, s)

	if _, err := s.Upload(ctx, "alice", strings.NewReader(citiesCSV)); err != nil {
		t.Fatalf("Upload: %v", err)
	}

	var buf bytes.Buffer
	n, err := s.Export(ctx, "alice", map[string]string{"col2": "BOSTON"}, &buf, nil)
	if err != nil {
		t.Fatalf("Export: %v", err)
	}
	if n != 2 {
		t.Errorf("Export rows = %d, want 2", n)
	}

	want := "name,city,score\nann,Boston,50%\nbob,boston,500\n"
	if buf.String() != want {
		t.Errorf("Export =\n%s\nwant\n%s", buf.String(), want)
	}
}

func TestService_ExportNoDataset(t *testing.T) {
	s := newTestService(t, 2)
	registerAlice(t, s)

	var buf bytes.Buffer
	if _, err := s.Export(context.Background(), "alice", nil, &buf, nil); !errors.Is(err, ErrNoDataset) {
		t.Errorf("Export err = %v, want ErrNoDataset", err)
	}
	if buf.Len() != 0 {
		t.Errorf("Export wrote %d bytes before failing", buf.Len())
	}
}

func TestService_UploadInvalid(t *testing.T) {
	s := newTestService(t, 2)
	registerAlice(t, s)

	if _, err := s.Upload(context.Background(), "alice", strings.NewReader("")); !errors.Is(err, ErrInvalidCSV) {
		t.Errorf("Upload(empty) err = %v, want ErrInvalidCSV", err)
	}
	if got := s.limiter.Active(); got != 0 {
		t.Errorf("limiter Active = %d after failed upload, want 0", got)
	}
}
