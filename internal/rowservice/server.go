package rowservice

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/JonMunkholm/csvview/internal/config"
	"github.com/JonMunkholm/csvview/internal/logging"
	"github.com/JonMunkholm/csvview/internal/view"
	"github.com/JonMunkholm/csvview/internal/web/middleware"
	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
)

// maxJSONBody bounds register/login request bodies.
const maxJSONBody = 1 << 20

var (
	errNoFile       = errors.New("no file provided")
	errNotCSV       = errors.New("invalid file format, expected a .csv file")
	errBadPage      = errors.New("page must be a positive integer")
	errBadFilters   = errors.New("filters must be a JSON object of column to text")
	errForbidden    = errors.New("token does not belong to this user")
	errFileTooLarge = errors.New("file too large")
)

// Server is the row service's HTTP server.
type Server struct {
	svc    *Service
	cfg    *config.Config
	router *chi.Mux
	server *http.Server

	limiters []*middleware.RateLimiter
	stop     context.CancelFunc
}

// NewServer builds the router for svc.
func NewServer(svc *Service, cfg *config.Config) *Server {
	s := &Server{
		svc:    svc,
		cfg:    cfg,
		router: chi.NewRouter(),
	}
	s.setupMiddleware()
	s.setupRoutes()

	ctx, cancel := context.WithCancel(context.Background())
	s.stop = cancel
	for _, rl := range s.limiters {
		go rl.Run(ctx)
	}
	return s
}

func (s *Server) setupMiddleware() {
	s.router.Use(chimw.RequestID)
	s.router.Use(middleware.TrustedRealIP(s.cfg.Security.TrustedProxies))
	s.router.Use(middleware.Logger)
	s.router.Use(chimw.Recoverer)
	s.router.Use(middleware.SecurityHeaders(false))

	s.router.Use(s.rateLimit(s.cfg.Rate.RequestsPerMinute))
}

// rateLimit returns a per-IP limiter middleware; a no-op when limiting is off.
func (s *Server) rateLimit(perMinute int) func(http.Handler) http.Handler {
	if !s.cfg.Rate.Enabled {
		return func(next http.Handler) http.Handler { return next }
	}
	rl := middleware.NewRateLimiter(perMinute, time.Minute)
	s.limiters = append(s.limiters, rl)
	return rl.Handler
}

func (s *Server) setupRoutes() {
	s.router.Get("/healthz", s.handleHealth)

	// Account endpoints share the stricter limit with uploads.
	s.router.Group(func(r chi.Router) {
		r.Use(s.rateLimit(s.cfg.Rate.UploadLimit))
		r.Post("/register", s.handleRegister)
		r.Post("/login", s.handleLogin)
	})

	s.router.Group(func(r chi.Router) {
		r.Use(middleware.BearerAuth(s.svc.Authenticate))

		r.Post("/logout", s.handleLogout)

		r.Group(func(r chi.Router) {
			r.Use(requireOwner)

			r.Get("/table-data/{user}", s.handleTableData)
			r.Get("/total-records/{user}", s.handleTotalRecords)
			r.Get("/filtered-data/{user}", s.handleFilteredData)
			r.Get("/total-filter-records/{user}", s.handleTotalFilterRecords)
			r.Get("/download-filtered-file/{user}", s.handleDownload)

			r.With(s.rateLimit(s.cfg.Rate.UploadLimit)).Post("/upload-csv/{user}", s.handleUpload)
		})
	})
}

// requireOwner rejects requests for another user's data with 403.
func requireOwner(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user, _ := middleware.UserFromContext(r.Context())
		if chi.URLParam(r, "user") != user {
			writeError(w, http.StatusForbidden, errForbidden.Error())
			return
		}
		next.ServeHTTP(w, r)
	})
}

// Start listens on addr until Shutdown.
func (s *Server) Start(addr string) error {
	s.server = &http.Server{
		Addr:         addr,
		Handler:      s.router,
		ReadTimeout:  s.cfg.Server.ReadTimeout,
		WriteTimeout: 0, // exports stream for as long as they need
		IdleTimeout:  s.cfg.Server.IdleTimeout,
	}
	return s.server.ListenAndServe()
}

// Shutdown stops accepting requests, then waits for uploads to finish.
func (s *Server) Shutdown(ctx context.Context) error {
	s.stop()
	if s.server == nil {
		return nil
	}
	if err := s.server.Shutdown(ctx); err != nil {
		return err
	}
	return s.svc.DrainUploads(ctx)
}

// Router returns the underlying chi router for testing.
func (s *Server) Router() *chi.Mux {
	return s.router
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	if err := s.svc.Ping(ctx); err != nil {
		logging.FromContext(r.Context()).Error("health check failed", "error", err)
		writeError(w, http.StatusServiceUnavailable, "database unavailable")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type registerRequest struct {
	Username     string `json:"username"`
	Email        string `json:"email"`
	Password     string `json:"password"`
	MobileNumber string `json:"mobile_number"`
}

func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if err := decodeJSON(w, r, &req); err != nil {
		s.respondError(w, r, err)
		return
	}

	err := s.svc.Register(r.Context(), Registration{
		Username:     req.Username,
		Email:        req.Email,
		Password:     req.Password,
		MobileNumber: req.MobileNumber,
	})
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]string{"message": "User registered successfully"})
}

type loginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type loginUser struct {
	Username string `json:"username"`
	Email    string `json:"email"`
}

type loginResponse struct {
	Message   string    `json:"message"`
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expires_at"`
	User      loginUser `json:"user"`
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := decodeJSON(w, r, &req); err != nil {
		s.respondError(w, r, err)
		return
	}

	sess, err := s.svc.Login(r.Context(), req.Username, req.Password)
	if err != nil {
		s.respondError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, loginResponse{
		Message:   "Login successful",
		Token:     sess.Token,
		ExpiresAt: sess.Expires,
		User:      loginUser{Username: sess.User.Username, Email: sess.User.Email},
	})
}

func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	if token, ok := middleware.BearerToken(r); ok {
		s.svc.Logout(token)
	}
	w.WriteHeader(http.StatusNoContent)
}

type pageResponse struct {
	TotalRecords int64         `json:"total_records"`
	Data         []view.Record `json:"data"`
}

type countResponse struct {
	TotalRecords int64 `json:"total_records"`
}

func (s *Server) handleTableData(w http.ResponseWriter, r *http.Request) {
	s.servePage(w, r, nil)
}

func (s *Server) handleFilteredData(w http.ResponseWriter, r *http.Request) {
	filters, err := parseFilters(r)
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	s.servePage(w, r, filters)
}

func (s *Server) servePage(w http.ResponseWriter, r *http.Request, filters map[string]string) {
	page, err := parsePage(r)
	if err != nil {
		s.respondError(w, r, err)
		return
	}

	p, err := s.svc.Rows(r.Context(), chi.URLParam(r, "user"), filters, page)
	if err != nil {
		s.respondError(w, r, err)
		return
	}

	rows := p.Rows
	if rows == nil {
		rows = []view.Record{}
	}
	writeJSON(w, http.StatusOK, pageResponse{TotalRecords: p.Total, Data: rows})
}

func (s *Server) handleTotalRecords(w http.ResponseWriter, r *http.Request) {
	s.serveCount(w, r, nil)
}

func (s *Server) handleTotalFilterRecords(w http.ResponseWriter, r *http.Request) {
	filters, err := parseFilters(r)
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	s.serveCount(w, r, filters)
}

func (s *Server) serveCount(w http.ResponseWriter, r *http.Request, filters map[string]string) {
	total, err := s.svc.Count(r.Context(), chi.URLParam(r, "user"), filters)
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, countResponse{TotalRecords: total})
}

func (s *Server) handleDownload(w http.ResponseWriter, r *http.Request) {
	filters, err := parseFilters(r)
	if err != nil {
		s.respondError(w, r, err)
		return
	}

	cw := &countingWriter{w: w}
	flusher, _ := w.(http.Flusher)
	flush := func() {
		if flusher != nil {
			flusher.Flush()
		}
	}

	w.Header().Set("Content-Type", "text/csv; charset=utf-8")
	w.Header().Set("Content-Disposition", `attachment; filename="filtered_data.csv"`)

	n, err := s.svc.Export(r.Context(), chi.URLParam(r, "user"), filters, cw, flush)
	if err != nil {
		if cw.n == 0 {
			w.Header().Del("Content-Disposition")
			s.respondError(w, r, err)
			return
		}
		// Headers are gone; the truncated body is all the client gets.
		logging.FromContext(r.Context()).Error("export interrupted", "rows", n, "error", err)
		return
	}
	logging.FromContext(r.Context()).Debug("export finished", "rows", n)
}

type countingWriter struct {
	w io.Writer
	n int64
}

func (c *countingWriter) Write(p []byte) (int, error) {
	n, err := c.w.Write(p)
	c.n += int64(n)
	return n, err
}

type uploadResponse struct {
	Message string `json:"message"`
	Rows    int64  `json:"rows"`
}

func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, s.cfg.Upload.MaxFileSize)

	part, err := csvPart(r)
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	defer part.Close()

	n, err := s.svc.Upload(r.Context(), chi.URLParam(r, "user"), part)
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, uploadResponse{
		Message: "File processed and data uploaded successfully",
		Rows:    n,
	})
}

// csvPart finds the "file" part of a multipart upload without buffering it.
func csvPart(r *http.Request) (*multipart.Part, error) {
	mr, err := r.MultipartReader()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", errNoFile, err)
	}
	for {
		part, err := mr.NextPart()
		if err == io.EOF {
			return nil, errNoFile
		}
		if err != nil {
			return nil, err
		}
		if part.FormName() != "file" {
			part.Close()
			continue
		}
		if part.FileName() == "" {
			part.Close()
			return nil, errNoFile
		}
		if !strings.EqualFold(filepath.Ext(part.FileName()), ".csv") {
			part.Close()
			return nil, errNotCSV
		}
		return part, nil
	}
}

// parsePage reads ?page=, defaulting to 1.
func parsePage(r *http.Request) (int, error) {
	raw := r.URL.Query().Get("page")
	if raw == "" {
		return 1, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 1 {
		return 0, errBadPage
	}
	return n, nil
}

// parseFilters reads ?filters= as a JSON object. Numbers and booleans are
// accepted and matched by their text form; empty values are dropped.
func parseFilters(r *http.Request) (map[string]string, error) {
	raw := r.URL.Query().Get("filters")
	if raw == "" {
		return nil, nil
	}

	var in map[string]any
	if err := json.Unmarshal([]byte(raw), &in); err != nil {
		return nil, errBadFilters
	}

	out := make(map[string]string, len(in))
	for col, v := range in {
		var text string
		switch val := v.(type) {
		case nil:
			continue
		case string:
			text = val
		case float64:
			text = strconv.FormatFloat(val, 'f', -1, 64)
		case bool:
			text = strconv.FormatBool(val)
		default:
			return nil, errBadFilters
		}
		if text != "" {
			out[col] = text
		}
	}
	return out, nil
}

func decodeJSON(w http.ResponseWriter, r *http.Request, v any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxJSONBody))
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("%w: malformed JSON body", ErrInvalidInput)
	}
	return nil
}

// statusFor maps service errors to HTTP status codes.
func statusFor(err error) int {
	var maxBytes *http.MaxBytesError
	switch {
	case errors.As(err, &maxBytes):
		return http.StatusRequestEntityTooLarge
	case errors.Is(err, ErrInvalidInput),
		errors.Is(err, ErrInvalidCSV),
		errors.Is(err, errNoFile),
		errors.Is(err, errNotCSV),
		errors.Is(err, errBadPage),
		errors.Is(err, errBadFilters):
		return http.StatusBadRequest
	case errors.Is(err, ErrInvalidCredentials):
		return http.StatusUnauthorized
	case errors.Is(err, errForbidden):
		return http.StatusForbidden
	case errors.Is(err, ErrNoDataset), errors.Is(err, ErrUserNotFound):
		return http.StatusNotFound
	case errors.Is(err, ErrUserExists):
		return http.StatusConflict
	case errors.Is(err, ErrTooManyUploads):
		return http.StatusTooManyRequests
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

// respondError logs err with the request id and writes a JSON error. 5xx
// bodies carry a generic message; the details stay in the log.
func (s *Server) respondError(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	logger := logging.FromContext(r.Context())

	msg := err.Error()
	if status == http.StatusRequestEntityTooLarge {
		msg = errFileTooLarge.Error()
	}
	if status >= 500 {
		logger.Error("request failed", "path", r.URL.Path, "status", status, "error", err)
		msg = "internal server error"
		if status == http.StatusGatewayTimeout {
			msg = "operation timed out"
		}
	} else {
		logger.Warn("request rejected", "path", r.URL.Path, "status", status, "error", err)
	}

	if status == http.StatusTooManyRequests {
		w.Header().Set("Retry-After", "30")
	}
	writeError(w, status, msg)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("json encode error", "error", err)
	}
}
