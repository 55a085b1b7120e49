package filestore

import (
	"net/http"
	"time"

	"github.com/oneconcern/relstore/pkg/dlogger"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// Role of a node
type Role string

// Node roles
const (
	Primary Role = "primary"
	Replica Role = "replica"
)

// Default namespace for mirrored release files
const (
	DefaultMirrorUser  = "root"
	DefaultMirrorIndex = "pypi"
)

type defaultsOption struct {
	logger      *zap.Logger
	client      HTTPClient
	notifier    Notifier
	role        Role
	primaryURL  string
	mirrorUser  string
	mirrorIndex string
	registerer  prometheus.Registerer
	fetchLimit  rate.Limit
	fetchBurst  int
	dlTimeout   time.Duration
}

// Option for the file store
type Option func(*defaultsOption)

// Logger for the file store
func Logger(l *zap.Logger) Option {
	return func(o *defaultsOption) {
		if l != nil {
			o.logger = l
		}
	}
}

// Client fetching remote files and querying the primary
func Client(client HTTPClient) Option {
	return func(o *defaultsOption) {
		if client != nil {
			o.client = client
		}
	}
}

// AsReplica makes the store fetch missing content through replication from a primary
func AsReplica(primaryURL string, notifier Notifier) Option {
	return func(o *defaultsOption) {
		o.role = Replica
		o.primaryURL = primaryURL
		o.notifier = notifier
	}
}

// MirrorIndex sets the namespace of mirrored release files
func MirrorIndex(user, index string) Option {
	return func(o *defaultsOption) {
		o.mirrorUser = user
		o.mirrorIndex = index
	}
}

// Registerer for prometheus metrics. Metrics are not exported by default.
func Registerer(r prometheus.Registerer) Option {
	return func(o *defaultsOption) {
		o.registerer = r
	}
}

// FetchRate caps the rate of downloads from remote origins, in fetches per second.
// A zero limit means no cap.
func FetchRate(limit rate.Limit, burst int) Option {
	return func(o *defaultsOption) {
		o.fetchLimit = limit
		o.fetchBurst = burst
	}
}

// DownloadTimeout bounds a download from a remote origin.
// Downloads are shared by concurrent callers and outlive any single caller.
func DownloadTimeout(d time.Duration) Option {
	return func(o *defaultsOption) {
		if d > 0 {
			o.dlTimeout = d
		}
	}
}

func defaultOptions(opts []Option) *defaultsOption {
	o := &defaultsOption{
		logger:      dlogger.MustGetLogger("info"),
		client:      http.DefaultClient,
		role:        Primary,
		mirrorUser:  DefaultMirrorUser,
		mirrorIndex: DefaultMirrorIndex,
		dlTimeout:   5 * time.Minute,
	}
	for _, apply := range opts {
		apply(o)
	}
	return o
}

type contentOptions struct {
	lastModified     string
	skipLastModified bool
	hashSpec         string
}

// ContentOption alters how content is written
type ContentOption func(*contentOptions)

// WithLastModified records an HTTP date as the modification date. An empty date means now.
func WithLastModified(httpDate string) ContentOption {
	return func(o *contentOptions) {
		o.lastModified = httpDate
	}
}

// SkipLastModified leaves the modification date untouched, as replicated
func SkipLastModified() ContentOption {
	return func(o *contentOptions) {
		o.skipLastModified = true
	}
}

// WithHashSpec verifies content against a hash spec, and records it
func WithHashSpec(spec string) ContentOption {
	return func(o *contentOptions) {
		o.hashSpec = spec
	}
}

func contentOptionsWithDefaults(opts []ContentOption) *contentOptions {
	o := new(contentOptions)
	for _, apply := range opts {
		apply(o)
	}
	return o
}
