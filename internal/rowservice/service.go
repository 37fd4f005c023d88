package rowservice

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"net/mail"
	"strings"
	"time"

	"github.com/JonMunkholm/csvview/internal/view"
	"golang.org/x/crypto/bcrypt"
)

// Service errors.
var (
	ErrInvalidCredentials = errors.New("invalid username or password")
	ErrInvalidInput       = errors.New("invalid input")
)

// Registration is a new account request.
type Registration struct {
	Username     string
	Email        string
	Password     string
	MobileNumber string
}

// Session is a successful login.
type Session struct {
	Token   string
	Expires time.Time
	User    User
}

// Page is one page of rows plus the size of the whole (filtered) set.
type Page struct {
	Total int64
	Rows  []view.Record
}

// Options configures a Service. Zero values fall back to defaults.
type Options struct {
	PageSize      int
	UploadTimeout time.Duration
	BcryptCost    int
	Logger        *slog.Logger
}

// Service implements the row service operations on top of a Store.
type Service struct {
	store   Store
	tokens  *TokenStore
	limiter *UploadLimiter

	pageSize      int
	uploadTimeout time.Duration
	bcryptCost    int
	logger        *slog.Logger
}

// NewService wires a Service.
func NewService(store Store, tokens *TokenStore, limiter *UploadLimiter, opts Options) *Service {
	s := &Service{
		store:         store,
		tokens:        tokens,
		limiter:       limiter,
		pageSize:      opts.PageSize,
		uploadTimeout: opts.UploadTimeout,
		bcryptCost:    opts.BcryptCost,
		logger:        opts.Logger,
	}
	if s.pageSize <= 0 {
		s.pageSize = 1000
	}
	if s.uploadTimeout <= 0 {
		s.uploadTimeout = 10 * time.Minute
	}
	if s.bcryptCost == 0 {
		s.bcryptCost = bcrypt.DefaultCost
	}
	if s.logger == nil {
		s.logger = slog.Default()
	}
	return s
}

// PageSize returns the number of rows per page.
func (s *Service) PageSize() int {
	return s.pageSize
}

// Register validates and stores a new account.
func (s *Service) Register(ctx context.Context, in Registration) error {
	in.Username = strings.TrimSpace(in.Username)
	in.Email = strings.TrimSpace(in.Email)

	var problems []string
	if in.Username == "" {
		problems = append(problems, "username is required")
	} else if len(in.Username) > 64 {
		problems = append(problems, "username must be at most 64 characters")
	}
	if _, err := mail.ParseAddress(in.Email); err != nil {
		problems = append(problems, "email is not valid")
	}
	if in.Password == "" {
		problems = append(problems, "password is required")
	} else if len(in.Password) > 72 {
		problems = append(problems, "password must be at most 72 bytes")
	}
	if len(problems) > 0 {
		return fmt.Errorf("%w: %s", ErrInvalidInput, strings.Join(problems, "; "))
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(in.Password), s.bcryptCost)
	if err != nil {
		return fmt.Errorf("hash password: %w", err)
	}

	err = s.store.CreateUser(ctx, User{
		Username:     in.Username,
		Email:        in.Email,
		MobileNumber: strings.TrimSpace(in.MobileNumber),
		PasswordHash: hash,
		CreatedAt:    time.Now().UTC(),
	})
	if err != nil {
		return err
	}

	s.logger.Info("user registered", "username", in.Username)
	return nil
}

// Login checks a password and issues a bearer token.
func (s *Service) Login(ctx context.Context, username, password string) (*Session, error) {
	u, err := s.store.FindUser(ctx, strings.TrimSpace(username))
	if errors.Is(err, ErrUserNotFound) {
		return nil, ErrInvalidCredentials
	}
	if err != nil {
		return nil, err
	}
	if err := bcrypt.CompareHashAndPassword(u.PasswordHash, []byte(password)); err != nil {
		return nil, ErrInvalidCredentials
	}

	token, expires := s.tokens.Issue(u.Username)
	s.logger.Info("user logged in", "username", u.Username)
	return &Session{Token: token, Expires: expires, User: u}, nil
}

// Authenticate resolves a bearer token to its user.
func (s *Service) Authenticate(token string) (string, bool) {
	return s.tokens.Lookup(token)
}

// Logout revokes a token.
func (s *Service) Logout(token string) {
	s.tokens.Revoke(token)
}

// Rows returns page (1-based) of the owner's rows matching filters, and the
// number of matching rows.
func (s *Service) Rows(ctx context.Context, owner string, filters map[string]string, page int) (*Page, error) {
	if page < 1 {
		page = 1
	}

	total, err := s.store.CountRows(ctx, owner, filters)
	if err != nil {
		return nil, err
	}
	// Pages past the largest representable offset are empty.
	if page-1 > math.MaxInt/s.pageSize {
		return &Page{Total: total, Rows: []view.Record{}}, nil
	}
	rows, err := s.store.PageRows(ctx, owner, filters, s.pageSize, (page-1)*s.pageSize)
	if err != nil {
		return nil, err
	}
	return &Page{Total: total, Rows: rows}, nil
}

// Count returns the number of the owner's rows matching filters.
func (s *Service) Count(ctx context.Context, owner string, filters map[string]string) (int64, error) {
	return s.store.CountRows(ctx, owner, filters)
}

// Export writes every matching row as CSV under the original header. flush,
// if not nil, is called every flushEvery rows so the client sees progress.
func (s *Service) Export(ctx context.Context, owner string, filters map[string]string, w io.Writer, flush func()) (int64, error) {
	ds, err := s.store.Dataset(ctx, owner)
	if err != nil {
		return 0, err
	}

	const flushEvery = 1000
	cw := csv.NewWriter(w)
	if err := cw.Write(ds.Header); err != nil {
		return 0, fmt.Errorf("write header: %w", err)
	}

	var n int64
	err = s.store.StreamRows(ctx, owner, filters, func(values []string) error {
		if err := cw.Write(values); err != nil {
			return fmt.Errorf("write row: %w", err)
		}
		n++
		if n%flushEvery == 0 {
			cw.Flush()
			if err := cw.Error(); err != nil {
				return fmt.Errorf("flush csv: %w", err)
			}
			if flush != nil {
				flush()
			}
		}
		return nil
	})
	if err != nil {
		return n, err
	}

	cw.Flush()
	if err := cw.Error(); err != nil {
		return n, fmt.Errorf("flush csv: %w", err)
	}
	return n, nil
}

// Upload replaces the owner's dataset with the CSV read from r.
func (s *Service) Upload(ctx context.Context, owner string, r io.Reader) (int64, error) {
	if err := s.limiter.Acquire(ctx); err != nil {
		return 0, err
	}
	defer s.limiter.Release()

	ctx, cancel := context.WithTimeout(ctx, s.uploadTimeout)
	defer cancel()

	start := time.Now()
	header, rows, err := openCSV(r)
	if err != nil {
		return 0, err
	}

	n, err := s.store.ReplaceDataset(ctx, owner, header, rows)
	if err != nil {
		return 0, err
	}

	s.logger.Info("dataset replaced",
		"owner", owner,
		"columns", len(header),
		"rows", n,
		"duration_ms", time.Since(start).Milliseconds(),
	)
	return n, nil
}

// Ping checks the store.
func (s *Service) Ping(ctx context.Context) error {
	return s.store.Ping(ctx)
}

// DrainUploads waits for in-progress uploads on shutdown.
func (s *Service) DrainUploads(ctx context.Context) error {
	return s.limiter.WaitForDrain(ctx)
}
