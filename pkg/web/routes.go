package web

import (
	"context"
	"io/ioutil"
	"net/http"
	"strconv"

	"github.com/felixge/httpsnoop"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	jsoniter "github.com/json-iterator/go"
	"github.com/oneconcern/relstore/pkg/errors"
	"github.com/oneconcern/relstore/pkg/filestore"
	"github.com/oneconcern/relstore/pkg/filestore/status"
	keyfsstatus "github.com/oneconcern/relstore/pkg/keyfs/status"
	"go.uber.org/zap"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// InitRouter builds the routes of the server
func InitRouter(srv *Server) chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(srv.logRequests)
	r.Use(middleware.Recoverer)

	r.Get("/+changelog/{serial}", srv.HandleChangelog())
	r.Put("/{user}/{index}/+upload/{basename}", srv.HandleUpload())
	r.Get("/*", srv.HandleFile())
	r.Head("/*", srv.HandleFile())

	return r
}

func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		m := httpsnoop.CaptureMetrics(next, w, r)
		s.l.Info("request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", m.Code),
			zap.Int64("bytes", m.Written),
			zap.Duration("elapsed", m.Duration),
			zap.String("request_id", middleware.GetReqID(r.Context())),
		)
	})
}

// HandleFile serves the content of a release file.
//
// Missing content is fetched first: from its origin on a primary, by waiting for replication on a replica.
// Responses carry the serial of the state they reflect.
func (s *Server) HandleFile() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		relpath := chi.URLParam(r, "*")
		ctx, cancel := context.WithTimeout(r.Context(), s.fetchTimeout)
		defer cancel()

		headers, content, err := s.resolve(ctx, relpath, r.Method != http.MethodHead)
		if err != nil {
			s.writeError(w, r, err)
			return
		}

		for k, v := range headers {
			w.Header()[k] = v
		}
		w.Header().Set(SerialHeader, strconv.FormatInt(s.kfs.Serial(), 10))
		w.WriteHeader(http.StatusOK)
		if r.Method != http.MethodHead {
			_, _ = w.Write(content)
		}
	}
}

// resolve reads an entry, fetching missing content first.
//
// A primary downloads from the origin within a read transaction and only takes the writer lock
// to store the result, so that a slow origin does not hold up uploads or other fetches.
func (s *Server) resolve(ctx context.Context, relpath string, withContent bool) (http.Header, []byte, error) {
	tx, err := s.kfs.Begin(ctx, false)
	if err != nil {
		return nil, nil, err
	}
	defer func() { _ = tx.Rollback() }()

	entry, exists, err := s.lookup(tx, relpath)
	if err != nil {
		return nil, nil, err
	}
	if !exists && s.files.Role() == filestore.Replica {
		if entry, err = s.files.Fetch(ctx, entry); err != nil {
			return nil, nil, err
		}
		exists = true
	}
	if exists {
		return read(entry, withContent)
	}

	rc, err := s.files.Download(ctx, entry)
	if err != nil {
		return nil, nil, err
	}
	_ = tx.Rollback()

	wtx, err := s.kfs.Begin(ctx, true)
	if err != nil {
		return nil, nil, err
	}
	defer func() { _ = wtx.Rollback() }()

	// another request may have stored it meanwhile
	if entry, exists, err = s.lookup(wtx, relpath); err != nil {
		return nil, nil, err
	}
	if !exists {
		if err = s.files.WriteRemote(ctx, entry, rc); err != nil {
			return nil, nil, err
		}
	}
	headers, content, err := read(entry, withContent)
	if err != nil {
		return nil, nil, err
	}
	if err = wtx.Commit(); err != nil {
		return nil, nil, err
	}
	return headers, content, nil
}

func (s *Server) lookup(tx filestore.Tx, relpath string) (*filestore.FileEntry, bool, error) {
	entry, err := s.files.GetFileEntry(tx, relpath)
	if err != nil {
		return nil, false, err
	}
	if entry == nil {
		return nil, false, status.ErrLookup.Wrapf("%q", relpath)
	}
	exists, err := entry.Exists()
	if err != nil {
		return nil, false, err
	}
	return entry, exists, nil
}

func read(entry *filestore.FileEntry, withContent bool) (http.Header, []byte, error) {
	headers, err := entry.HTTPHeaders()
	if err != nil {
		return nil, nil, err
	}
	if !withContent {
		return headers, nil, nil
	}
	content, err := entry.Content()
	if err != nil {
		return nil, nil, err
	}
	return headers, content, nil
}

type uploadResponse struct {
	Relpath  string `json:"relpath"`
	HashSpec string `json:"hash_spec"`
	Serial   int64  `json:"serial"`
}

// HandleUpload stores an uploaded release file on a primary.
//
// The content is verified against the hash spec header when given.
// The "project" and "version" query parameters are recorded along with the file.
func (s *Server) HandleUpload() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if s.files.Role() != filestore.Primary {
			s.writeError(w, r, status.ErrPrecondition.Wrapf("uploads go to the primary"))
			return
		}

		content, err := ioutil.ReadAll(http.MaxBytesReader(w, r.Body, s.maxUploadSize))
		if err != nil {
			s.writeError(w, r, err)
			return
		}

		tx, err := s.kfs.Begin(r.Context(), true)
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		defer func() { _ = tx.Rollback() }()

		entry, err := s.files.Store(tx,
			chi.URLParam(r, "user"), chi.URLParam(r, "index"), chi.URLParam(r, "basename"),
			content, r.Header.Get(HashSpecHeader),
		)
		if err != nil {
			if errors.Is(err, status.ErrValidation) {
				// the client sent content which does not match its own hash spec
				http.Error(w, err.Error(), http.StatusBadRequest)
				return
			}
			s.writeError(w, r, err)
			return
		}
		if err = entry.SetProject(r.URL.Query().Get("project")); err != nil {
			s.writeError(w, r, err)
			return
		}
		if err = entry.SetVersion(r.URL.Query().Get("version")); err != nil {
			s.writeError(w, r, err)
			return
		}
		if err = tx.Commit(); err != nil {
			s.writeError(w, r, err)
			return
		}

		serial := s.kfs.Serial()
		w.Header().Set("Location", "/"+entry.Relpath())
		w.Header().Set(SerialHeader, strconv.FormatInt(serial, 10))
		s.writeJSON(w, http.StatusCreated, uploadResponse{
			Relpath:  entry.Relpath(),
			HashSpec: entry.HashSpec(),
			Serial:   serial,
		})
	}
}

// HandleChangelog serves the change set committed at some serial
func (s *Server) HandleChangelog() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		serial, err := strconv.ParseInt(chi.URLParam(r, "serial"), 10, 64)
		if err != nil {
			s.writeError(w, r, status.ErrFormat.Wrapf("invalid serial: %v", err))
			return
		}
		cs, err := s.kfs.Changes(r.Context(), serial)
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		w.Header().Set(SerialHeader, strconv.FormatInt(s.kfs.Serial(), 10))
		s.writeJSON(w, http.StatusOK, cs)
	}
}

func (s *Server) writeJSON(w http.ResponseWriter, code int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.l.Warn("writing response", zap.Error(err))
	}
}

func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	code := statusCode(err)
	if code >= http.StatusInternalServerError {
		s.l.Error("serving request", zap.String("path", r.URL.Path), zap.Int("status", code), zap.Error(err))
	}
	http.Error(w, err.Error(), code)
}

func statusCode(err error) int {
	var tooLarge *http.MaxBytesError
	switch {
	case errors.Is(err, status.ErrGateway), errors.Is(err, status.ErrValidation):
		return http.StatusBadGateway
	case errors.Is(err, status.ErrFormat), errors.Is(err, keyfsstatus.ErrUnknownKey):
		return http.StatusBadRequest
	case errors.Is(err, status.ErrLookup), errors.Is(err, keyfsstatus.ErrKeyNotFound):
		return http.StatusNotFound
	case errors.Is(err, status.ErrPrecondition):
		return http.StatusConflict
	case errors.As(err, &tooLarge):
		return http.StatusRequestEntityTooLarge
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}
