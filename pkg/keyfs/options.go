package keyfs

import (
	"time"

	"github.com/oneconcern/relstore/pkg/dlogger"
	"github.com/oneconcern/relstore/pkg/storage"
	"go.uber.org/zap"
)

type defaultsOption struct {
	dir         string
	inMemory    bool
	blobs       storage.Store
	logger      *zap.Logger
	retryPeriod time.Duration
}

// Option for the key/value store
type Option func(*defaultsOption)

// Dir where the badger database lives
func Dir(dir string) Option {
	return func(o *defaultsOption) {
		o.dir = dir
	}
}

// InMemory keeps the badger database in memory
func InMemory() Option {
	return func(o *defaultsOption) {
		o.inMemory = true
	}
}

// Blobs sets the store for file contents
func Blobs(store storage.Store) Option {
	return func(o *defaultsOption) {
		o.blobs = store
	}
}

// Logger for the key/value store
func Logger(l *zap.Logger) Option {
	return func(o *defaultsOption) {
		if l != nil {
			o.logger = l
		}
	}
}

// CommitRetryPeriod sets the interval between commit attempts on a write conflict
func CommitRetryPeriod(d time.Duration) Option {
	return func(o *defaultsOption) {
		o.retryPeriod = d
	}
}

func defaultOptions(opts []Option) *defaultsOption {
	o := &defaultsOption{
		logger:      dlogger.MustGetLogger("info"),
		retryPeriod: 10 * time.Millisecond,
	}
	for _, apply := range opts {
		apply(o)
	}
	return o
}
