// Package middleware provides HTTP middleware shared by the front end and
// the row service.
package middleware

import (
	"net/http"
	"time"

	"github.com/JonMunkholm/csvview/internal/logging"
)

// Logger logs one structured line per request once the handler returns.
//
// Log fields:
//   - method, path, status
//   - bytes: response body size
//   - duration_ms
//   - ip: r.RemoteAddr, already resolved by TrustedRealIP
//   - user: the authenticated user, when BearerAuth ran
//
// chi's request id is attached by logging.FromContext.
func Logger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := &responseWriter{ResponseWriter: w, status: http.StatusOK}

		// BearerAuth runs further down the chain; it fills this slot so the
		// user is known here after the handler returns.
		slot := &userSlot{}
		r = r.WithContext(withUserSlot(r.Context(), slot))

		next.ServeHTTP(ww, r)

		attrs := []any{
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.status,
			"bytes", ww.bytes,
			"duration_ms", time.Since(start).Milliseconds(),
			"ip", r.RemoteAddr,
		}
		if slot.user != "" {
			attrs = append(attrs, "user", slot.user)
		}

		logger := logging.FromContext(r.Context())
		switch {
		case ww.status >= 500:
			logger.Error("request", attrs...)
		case ww.status >= 400:
			logger.Warn("request", attrs...)
		default:
			logger.Info("request", attrs...)
		}
	})
}

// responseWriter records the status code and body size.
type responseWriter struct {
	http.ResponseWriter
	status      int
	bytes       int64
	wroteHeader bool
}

func (w *responseWriter) WriteHeader(status int) {
	if w.wroteHeader {
		return
	}
	w.status = status
	w.wroteHeader = true
	w.ResponseWriter.WriteHeader(status)
}

func (w *responseWriter) Write(b []byte) (int, error) {
	if !w.wroteHeader {
		w.WriteHeader(http.StatusOK)
	}
	n, err := w.ResponseWriter.Write(b)
	w.bytes += int64(n)
	return n, err
}

// Flush lets streaming handlers (CSV export) push data through the wrapper.
func (w *responseWriter) Flush() {
	if f, ok := w.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

// Unwrap exposes the underlying writer to http.ResponseController.
func (w *responseWriter) Unwrap() http.ResponseWriter {
	return w.ResponseWriter
}
