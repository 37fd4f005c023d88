package web

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/JonMunkholm/csvview/internal/logging"
	"github.com/JonMunkholm/csvview/internal/view"
	"github.com/JonMunkholm/csvview/internal/web/templates"
)

const exportFilename = "filtered_data.csv"

func basePath(mode view.Mode) string {
	if mode == view.ModeFiltered {
		return "/filtered"
	}
	return "/data"
}

func pageTitle(mode view.Mode) string {
	if mode == view.ModeFiltered {
		return "Filtered data"
	}
	return "All data"
}

// handleView renders one of the table views. The request query is the view
// state; a non-canonical query is redirected to its canonical form so the
// address bar always matches what is shown.
func (s *Server) handleView(mode view.Mode) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		sess := sessionFrom(r.Context())
		ctrl := s.controller(sess, mode)

		ctrl.Navigate(r.URL.RawQuery, sess.takeIntent(mode))
		if q := ctrl.Query(); view.NormalizeQuery(r.URL.RawQuery) != q {
			http.Redirect(w, r, viewURL(mode, q), http.StatusFound)
			return
		}

		if wait := s.cfg.Server.RenderWait; wait > 0 {
			ctx, cancel := context.WithTimeout(r.Context(), wait)
			ctrl.Wait(ctx)
			cancel()
		}

		if sess.Credential() == "" {
			s.sessionExpired(w, r)
			return
		}

		renderPage(w, r, http.StatusOK, templates.TablePage(templates.TableParams{
			Title:    pageTitle(mode),
			BasePath: basePath(mode),
			User:     sess.Username(),
			Snapshot: ctrl.Snapshot(),
			Flash:    sess.takeFlash(),
		}))
	}
}

// action applies fn to the view's controller and sends the browser back to
// the page under its new URL.
func (s *Server) action(mode view.Mode, fn func(*view.Controller, *http.Request)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseForm(); err != nil {
			respondMessage(w, r, badForm, http.StatusBadRequest)
			return
		}

		sess := sessionFrom(r.Context())
		ctrl := s.controller(sess, mode)
		fn(ctrl, r)
		http.Redirect(w, r, viewURL(mode, ctrl.Query()), http.StatusSeeOther)
	}
}

var badForm = view.UserMessage{
	Message: "The form could not be read",
	Action:  "Reload the page and try again",
	Code:    "WEB001",
}

// applyFilterForm replaces the filters with the filter_ fields of the form.
// Empty fields are dropped.
func applyFilterForm(c *view.Controller, r *http.Request) {
	filters := view.FilterSet{}
	for key, values := range r.PostForm {
		col, ok := strings.CutPrefix(key, view.FilterParamPrefix)
		if !ok || col == "" || len(values) == 0 {
			continue
		}
		if v := strings.TrimSpace(values[0]); v != "" {
			filters[col] = v
		}
	}
	c.SetFilters(filters)
}

// handleFilterAll carries the unfiltered view's filters to the filtered view.
func (s *Server) handleFilterAll(w http.ResponseWriter, r *http.Request) {
	sess := sessionFrom(r.Context())
	intent := s.controller(sess, view.ModeUnfiltered).FilterAll()
	sess.setIntent(view.ModeFiltered, intent)
	http.Redirect(w, r, "/filtered", http.StatusSeeOther)
}

// handleHome returns to the unfiltered view with the current filters.
func (s *Server) handleHome(w http.ResponseWriter, r *http.Request) {
	sess := sessionFrom(r.Context())
	intent := s.controller(sess, view.ModeFiltered).Home()
	sess.setIntent(view.ModeUnfiltered, intent)
	http.Redirect(w, r, "/data", http.StatusSeeOther)
}

// handleExport streams every row matching the filtered view's filters.
func (s *Server) handleExport(w http.ResponseWriter, r *http.Request) {
	sess := sessionFrom(r.Context())
	ctrl := s.controller(sess, view.ModeFiltered)

	task, err := ctrl.Export(r.Context())
	if err != nil {
		if view.IsUnauthorized(err) || sess.Credential() == "" {
			s.sessionExpired(w, r)
			return
		}
		s.respondError(w, r, err, statusFor(err))
		return
	}
	defer task.Close()

	log := logging.WithFields(r.Context(), "export_id", task.ID, "filters", len(task.Filters))
	log.Info("export started")

	w.Header().Set("Content-Type", "text/csv; charset=utf-8")
	w.Header().Set("Content-Disposition", `attachment; filename="`+exportFilename+`"`)
	n, err := io.Copy(w, task)
	if err != nil {
		// Headers are gone; the client sees a truncated file.
		log.Warn("export interrupted", "bytes", n, "error", err)
		return
	}
	log.Info("export finished", "bytes", n)
}

// sessionExpired drops the browser's session and sends it to the login page.
func (s *Server) sessionExpired(w http.ResponseWriter, r *http.Request) {
	if sess := sessionFrom(r.Context()); sess != nil {
		s.sessions.Delete(sess.ID)
	}
	clearSessionCookie(w, s.cfg.Session.CookieSecure)
	http.Redirect(w, r, "/login?expired=1", http.StatusSeeOther)
}

// statusFor picks the response status for a row service error.
func statusFor(err error) int {
	var te *view.TransportError
	if !errors.As(err, &te) {
		return http.StatusInternalServerError
	}
	if te.Status >= 400 && te.Status < 500 {
		return te.Status
	}
	return http.StatusBadGateway
}

func viewURL(mode view.Mode, query string) string {
	if query == "" {
		return basePath(mode)
	}
	return basePath(mode) + "?" + query
}
