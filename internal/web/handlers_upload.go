package web

import (
	"context"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"path/filepath"
	"strings"

	"github.com/JonMunkholm/csvview/internal/logging"
	"github.com/JonMunkholm/csvview/internal/view"
)

// Local upload failures; view.MapError recognises their text.
var (
	errNoFile   = errors.New("no file provided")
	errTooLarge = errors.New("file too large")
	errNotCSV   = errors.New("invalid csv: only .csv files can be uploaded")
)

// handleUpload streams the posted CSV to the row service, which replaces the
// user's dataset. Both views reload afterwards.
func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	sess := sessionFrom(r.Context())
	log := logging.FromContext(r.Context())

	// Leave room for the multipart envelope around the file.
	r.Body = http.MaxBytesReader(w, r.Body, s.cfg.Upload.MaxFileSize+64<<10)

	part, err := filePart(r)
	if err != nil {
		if isTooLarge(err) {
			s.respondError(w, r, errTooLarge, http.StatusRequestEntityTooLarge)
			return
		}
		s.respondError(w, r, fmt.Errorf("%w: %v", errNoFile, err), http.StatusBadRequest)
		return
	}
	defer part.Close()

	name := filepath.Base(part.FileName())
	if !strings.EqualFold(filepath.Ext(name), ".csv") {
		s.respondError(w, r, errNotCSV, http.StatusBadRequest)
		return
	}

	ctx := r.Context()
	if s.cfg.Upload.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.cfg.Upload.Timeout)
		defer cancel()
	}

	res, err := s.backend.Upload(ctx, sess, name, part)
	switch {
	case err == nil:
	case view.IsUnauthorized(err):
		s.sessionExpired(w, r)
		return
	case isTooLarge(err):
		s.respondError(w, r, fmt.Errorf("%w: %v", errTooLarge, err), http.StatusRequestEntityTooLarge)
		return
	default:
		s.respondError(w, r, err, statusFor(err))
		return
	}

	log.Info("dataset uploaded", "file", name, "rows", res.Rows)

	data, filtered := sess.controllers(s.newControllers)
	data.Reload()
	filtered.Reload()

	sess.setFlash(fmt.Sprintf("%s (%d rows from %s)", res.Message, res.Rows, name))
	http.Redirect(w, r, "/data", http.StatusSeeOther)
}

// filePart returns the multipart part named "file" without buffering it.
func filePart(r *http.Request) (*multipart.Part, error) {
	mr, err := r.MultipartReader()
	if err != nil {
		return nil, err
	}
	for {
		part, err := mr.NextPart()
		if err == io.EOF {
			return nil, http.ErrMissingFile
		}
		if err != nil {
			return nil, err
		}
		if part.FormName() == "file" && part.FileName() != "" {
			return part, nil
		}
		part.Close()
	}
}

func isTooLarge(err error) bool {
	var mbe *http.MaxBytesError
	if errors.As(err, &mbe) {
		return true
	}
	var te *view.TransportError
	return errors.As(err, &te) && te.Status == http.StatusRequestEntityTooLarge
}
