package web

// errors.go maps failures to responses. The technical error is logged with
// the request ID; the client gets the view.MapError message as JSON or as an
// HTML error page.

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"

	"github.com/JonMunkholm/csvview/internal/logging"
	"github.com/JonMunkholm/csvview/internal/view"
	"github.com/JonMunkholm/csvview/internal/web/templates"
	"github.com/a-h/templ"
	"github.com/go-chi/chi/v5/middleware"
)

// ErrorResponse is the JSON error body.
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
	Action  string `json:"action,omitempty"`
	Code    string `json:"code"`
}

// respondError logs err and writes a user-facing error with statusCode.
func (s *Server) respondError(w http.ResponseWriter, r *http.Request, err error, statusCode int) {
	userMsg := view.MapError(err)

	logging.FromContext(r.Context()).Error("request error",
		"path", r.URL.Path,
		"method", r.Method,
		"status", statusCode,
		"error", err.Error(),
		"code", userMsg.Code,
		"request_id", middleware.GetReqID(r.Context()),
	)

	respondMessage(w, r, userMsg, statusCode)
}

// respondMessage writes msg in the format the client asked for.
func respondMessage(w http.ResponseWriter, r *http.Request, msg view.UserMessage, statusCode int) {
	if wantsJSON(r) {
		respondErrorJSON(w, msg, statusCode)
		return
	}
	respondErrorHTML(w, r, msg, statusCode)
}

// renderPage writes a full HTML page with status.
func renderPage(w http.ResponseWriter, r *http.Request, status int, page templ.Component) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(status)
	if err := page.Render(r.Context(), w); err != nil {
		logging.FromContext(r.Context()).Error("render page", "error", err)
	}
}

func respondErrorJSON(w http.ResponseWriter, msg view.UserMessage, statusCode int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(ErrorResponse{
		Error:   msg.Message,
		Message: msg.Message,
		Action:  msg.Action,
		Code:    msg.Code,
	})
}

func respondErrorHTML(w http.ResponseWriter, r *http.Request, msg view.UserMessage, statusCode int) {
	renderPage(w, r, statusCode, templates.ErrorPage(http.StatusText(statusCode), msg.Message, msg.Action, msg.Code))
}

// wantsJSON checks if the client prefers a JSON response.
func wantsJSON(r *http.Request) bool {
	if strings.Contains(r.Header.Get("Accept"), "application/json") {
		return true
	}
	return strings.Contains(r.Header.Get("Content-Type"), "application/json")
}

// writeJSON writes v as a 200 JSON response.
func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("encode response", "error", err)
	}
}
