package web

import (
	"time"

	"github.com/oneconcern/relstore/pkg/dlogger"
	"github.com/oneconcern/relstore/pkg/filestore"
	"github.com/oneconcern/relstore/pkg/keyfs"
	"go.uber.org/zap"
)

// Headers exchanged with clients and replicas
const (
	HashSpecHeader = "X-Relstore-Hash-Spec"
	SerialHeader   = filestore.SerialHeader
)

// Server serves release files
type Server struct {
	kfs           *keyfs.KeyFS
	files         *filestore.FileStore
	l             *zap.Logger
	maxUploadSize int64
	fetchTimeout  time.Duration
}

// Option for the server
type Option func(*Server)

// Logger for the server
func Logger(l *zap.Logger) Option {
	return func(s *Server) {
		if l != nil {
			s.l = l
		}
	}
}

// MaxUploadSize in bytes
func MaxUploadSize(size int64) Option {
	return func(s *Server) {
		if size > 0 {
			s.maxUploadSize = size
		}
	}
}

// FetchTimeout bounds the time spent fetching missing content for a request,
// either from a remote origin or by waiting for replication
func FetchTimeout(d time.Duration) Option {
	return func(s *Server) {
		if d > 0 {
			s.fetchTimeout = d
		}
	}
}

// NewServer of release files
func NewServer(kfs *keyfs.KeyFS, files *filestore.FileStore, opts ...Option) *Server {
	s := &Server{
		kfs:           kfs,
		files:         files,
		l:             dlogger.MustGetLogger("info"),
		maxUploadSize: 512 * 1024 * 1024,
		fetchTimeout:  5 * time.Minute,
	}
	for _, apply := range opts {
		apply(s)
	}
	return s
}
