package web

import (
	"errors"
	"net/http"
	"strings"

	"github.com/JonMunkholm/csvview/internal/logging"
	"github.com/JonMunkholm/csvview/internal/rowclient"
	"github.com/JonMunkholm/csvview/internal/view"
	"github.com/JonMunkholm/csvview/internal/web/templates"
)

func (s *Server) handleLoginPage(w http.ResponseWriter, r *http.Request) {
	if _, ok := s.sessions.sessionFromRequest(r); ok {
		http.Redirect(w, r, "/data", http.StatusFound)
		return
	}

	p := templates.LoginParams{}
	switch {
	case r.URL.Query().Has("registered"):
		p.Notice = "Registration successful. Log in to continue."
	case r.URL.Query().Has("expired"):
		p.Notice = "Your session has expired. Log in again."
	}
	renderPage(w, r, http.StatusOK, templates.LoginPage(p))
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		renderPage(w, r, http.StatusBadRequest, templates.LoginPage(templates.LoginParams{Error: badForm.Message}))
		return
	}
	username := strings.TrimSpace(r.PostFormValue("username"))
	password := r.PostFormValue("password")

	res, err := s.backend.Login(r.Context(), username, password)
	if err != nil {
		status, msg := http.StatusUnauthorized, "Invalid username or password"
		if !errors.Is(err, rowclient.ErrInvalidCredentials) {
			status, msg = statusFor(err), view.FormatUserError(err)
			logging.FromContext(r.Context()).Error("login failed", "error", err)
		}
		renderPage(w, r, status, templates.LoginPage(templates.LoginParams{Username: username, Error: msg}))
		return
	}

	sess := s.sessions.Create(res.Username, res.Token)
	setSessionCookie(w, sess, s.cfg.Session.TTL, s.cfg.Session.CookieSecure)
	logging.FromContext(r.Context()).Info("user logged in", "user", res.Username)
	http.Redirect(w, r, "/data", http.StatusSeeOther)
}

func (s *Server) handleRegisterPage(w http.ResponseWriter, r *http.Request) {
	renderPage(w, r, http.StatusOK, templates.RegisterPage(templates.RegisterParams{}))
}

func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		renderPage(w, r, http.StatusBadRequest, templates.RegisterPage(templates.RegisterParams{Error: badForm.Message}))
		return
	}
	in := rowclient.RegisterRequest{
		Username:     strings.TrimSpace(r.PostFormValue("username")),
		Email:        strings.TrimSpace(r.PostFormValue("email")),
		Password:     r.PostFormValue("password"),
		MobileNumber: strings.TrimSpace(r.PostFormValue("mobile_number")),
	}
	p := templates.RegisterParams{Username: in.Username, Email: in.Email, MobileNumber: in.MobileNumber}

	err := s.backend.Register(r.Context(), in)
	if err == nil {
		http.Redirect(w, r, "/login?registered=1", http.StatusSeeOther)
		return
	}

	status := statusFor(err)
	var te *view.TransportError
	switch {
	case errors.Is(err, rowclient.ErrUserExists):
		status, p.Error = http.StatusConflict, "A user with this username or email already exists"
	case errors.As(err, &te) && te.Status == http.StatusBadRequest:
		p.Error = "Check the form: " + te.Err.Error()
	default:
		p.Error = view.FormatUserError(err)
		logging.FromContext(r.Context()).Error("register failed", "error", err)
	}
	renderPage(w, r, status, templates.RegisterPage(p))
}

func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	sess := sessionFrom(r.Context())
	if err := s.backend.Logout(r.Context(), sess); err != nil {
		// The local session ends either way.
		logging.FromContext(r.Context()).Warn("logout", "error", err)
	}
	s.sessions.Delete(sess.ID)
	clearSessionCookie(w, s.cfg.Session.CookieSecure)
	http.Redirect(w, r, "/login", http.StatusSeeOther)
}
