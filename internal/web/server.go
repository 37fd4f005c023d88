// Package web is the csvview front end: a server-rendered UI over the row
// service with an unfiltered view at /data and a filtered view at /filtered.
// Each logged-in browser gets its own pair of view controllers; the URL query
// of each page is the controller's state.
package web

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/JonMunkholm/csvview/internal/config"
	"github.com/JonMunkholm/csvview/internal/rowclient"
	"github.com/JonMunkholm/csvview/internal/view"
	"github.com/JonMunkholm/csvview/internal/web/middleware"
	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
)

// Backend is the row service as the front end uses it. *rowclient.Client
// implements it.
type Backend interface {
	view.RowFetcher
	view.FilteredRowFetcher

	Register(ctx context.Context, in rowclient.RegisterRequest) error
	Login(ctx context.Context, username, password string) (*rowclient.LoginResult, error)
	Logout(ctx context.Context, sess view.Session) error
	Upload(ctx context.Context, sess view.Session, filename string, r io.Reader) (*rowclient.UploadResult, error)
	Health(ctx context.Context) error
}

var _ Backend = (*rowclient.Client)(nil)

// Server is the front end's HTTP server.
type Server struct {
	cfg      *config.Config
	backend  Backend
	sessions *SessionStore
	router   *chi.Mux
	server   *http.Server

	limiters []*middleware.RateLimiter
	stop     context.CancelFunc
}

// NewServer creates a Server talking to backend.
func NewServer(cfg *config.Config, backend Backend) *Server {
	s := &Server{
		cfg:      cfg,
		backend:  backend,
		sessions: NewSessionStore(cfg.Session.TTL),
		router:   chi.NewRouter(),
	}
	s.setupMiddleware()
	s.setupRoutes()

	ctx, cancel := context.WithCancel(context.Background())
	s.stop = cancel
	go s.sessions.Run(ctx, time.Minute)
	for _, rl := range s.limiters {
		go rl.Run(ctx)
	}
	return s
}

// setupMiddleware configures middleware for all routes.
func (s *Server) setupMiddleware() {
	s.router.Use(chimw.RequestID)
	s.router.Use(middleware.TrustedRealIP(s.cfg.Security.TrustedProxies))
	s.router.Use(middleware.Logger)
	s.router.Use(chimw.Recoverer)
	s.router.Use(chimw.Compress(5))
	s.router.Use(middleware.SecurityHeaders(s.cfg.Security.EnableCSP))
	s.router.Use(s.rateLimit(s.cfg.Rate.RequestsPerMinute))
}

func (s *Server) rateLimit(perMinute int) func(http.Handler) http.Handler {
	if !s.cfg.Rate.Enabled {
		return func(next http.Handler) http.Handler { return next }
	}
	rl := middleware.NewRateLimiter(perMinute, time.Minute)
	s.limiters = append(s.limiters, rl)
	return rl.Handler
}

// timeout bounds page requests; exports are left to run.
func (s *Server) timeout() func(http.Handler) http.Handler {
	if s.cfg.Server.RequestTimeout <= 0 {
		return func(next http.Handler) http.Handler { return next }
	}
	return chimw.Timeout(s.cfg.Server.RequestTimeout)
}

// setupRoutes configures all HTTP routes.
func (s *Server) setupRoutes() {
	s.router.Get("/healthz", s.handleHealth)
	s.router.Get("/", func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, "/data", http.StatusFound)
	})

	// Accounts
	s.router.Group(func(r chi.Router) {
		r.Use(s.timeout())
		r.Get("/login", s.handleLoginPage)
		r.Get("/register", s.handleRegisterPage)
		r.With(s.rateLimit(s.cfg.Rate.UploadLimit)).Post("/login", s.handleLogin)
		r.With(s.rateLimit(s.cfg.Rate.UploadLimit)).Post("/register", s.handleRegister)
	})

	s.router.Group(func(r chi.Router) {
		r.Use(s.requireSession)

		// Streams and uploads run as long as they take.
		r.Get("/filtered/export", s.handleExport)
		r.With(s.rateLimit(s.cfg.Rate.UploadLimit)).Post("/upload", s.handleUpload)

		r.Group(func(r chi.Router) {
			r.Use(s.timeout())

			r.Post("/logout", s.handleLogout)

			r.Route("/data", func(r chi.Router) {
				s.viewRoutes(r, view.ModeUnfiltered)
				r.Post("/filter-all", s.handleFilterAll)
			})
			r.Route("/filtered", func(r chi.Router) {
				s.viewRoutes(r, view.ModeFiltered)
				r.Post("/home", s.handleHome)
			})
		})
	})
}

// viewRoutes registers the page and the state-changing actions shared by
// both views. Every action redirects back to the page with the new query.
func (s *Server) viewRoutes(r chi.Router, mode view.Mode) {
	r.Get("/", s.handleView(mode))
	r.Post("/filter", s.action(mode, applyFilterForm))
	r.Post("/clear", s.action(mode, func(c *view.Controller, _ *http.Request) { c.ClearFilters() }))
	r.Post("/next", s.action(mode, func(c *view.Controller, _ *http.Request) { c.Next() }))
	r.Post("/prev", s.action(mode, func(c *view.Controller, _ *http.Request) { c.Prev() }))
	r.Post("/page", s.action(mode, func(c *view.Controller, r *http.Request) {
		c.SetPage(view.ParsePage(r.PostFormValue("page")))
	}))
	r.Post("/reload", s.action(mode, func(c *view.Controller, _ *http.Request) { c.Reload() }))
	r.Post("/dismiss", s.action(mode, func(c *view.Controller, _ *http.Request) { c.DismissNotices() }))
}

// Start begins listening for HTTP requests.
func (s *Server) Start(addr string) error {
	s.server = &http.Server{
		Addr:         addr,
		Handler:      s.router,
		ReadTimeout:  s.cfg.Server.ReadTimeout,
		WriteTimeout: s.cfg.Server.WriteTimeout,
		IdleTimeout:  s.cfg.Server.IdleTimeout,
	}

	slog.Info("starting server", "addr", addr)
	return s.server.ListenAndServe()
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.stop()
	if s.server == nil {
		return nil
	}
	return s.server.Shutdown(ctx)
}

// Router returns the underlying chi router for testing.
func (s *Server) Router() *chi.Mux {
	return s.router
}

// Sessions returns the session store.
func (s *Server) Sessions() *SessionStore {
	return s.sessions
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	if err := s.backend.Health(ctx); err != nil {
		s.respondError(w, r, err, http.StatusServiceUnavailable)
		return
	}
	writeJSON(w, map[string]string{"status": "ok"})
}

// requireSession loads the cookie session or sends the browser to /login.
func (s *Server) requireSession(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		sess, ok := s.sessions.sessionFromRequest(r)
		if !ok {
			clearSessionCookie(w, s.cfg.Session.CookieSecure)
			http.Redirect(w, r, "/login", http.StatusSeeOther)
			return
		}
		next.ServeHTTP(w, r.WithContext(withSession(r.Context(), sess)))
	})
}

// controller returns the session's controller for mode.
func (s *Server) controller(sess *Session, mode view.Mode) *view.Controller {
	data, filtered := sess.controllers(s.newControllers)
	if mode == view.ModeFiltered {
		return filtered
	}
	return data
}

func (s *Server) newControllers(sess *Session) (*view.Controller, *view.Controller) {
	opts := view.Options{
		Logger:  slog.Default().With("user", sess.Username()),
		Timeout: s.cfg.RowService.Timeout,
	}
	return view.NewUnfiltered(sess, s.backend, opts), view.NewFiltered(sess, s.backend, opts)
}

func setSessionCookie(w http.ResponseWriter, sess *Session, ttl time.Duration, secure bool) {
	http.SetCookie(w, &http.Cookie{
		Name:     sessionCookie,
		Value:    sess.ID,
		Path:     "/",
		MaxAge:   int(ttl.Seconds()),
		HttpOnly: true,
		Secure:   secure,
		SameSite: http.SameSiteLaxMode,
	})
}

func clearSessionCookie(w http.ResponseWriter, secure bool) {
	http.SetCookie(w, &http.Cookie{
		Name:     sessionCookie,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   secure,
		SameSite: http.SameSiteLaxMode,
	})
}
