package filestore

import (
	"context"
	"io"
	"net/http"

	"github.com/oneconcern/relstore/pkg/keyfs"
)

// Tx is the ambient transaction entries are bound to
type Tx interface {
	Get(keyfs.Key) ([]byte, error)
	Set(keyfs.Key, []byte) error
	Delete(keyfs.Key) error
	DeriveKey(relpath string) (keyfs.Key, error)

	FileExists(relpath string) (bool, error)
	FileOpen(relpath string) (io.ReadCloser, error)
	FileGet(relpath string) ([]byte, error)
	FileSet(relpath string, content []byte) error
	FileDelete(relpath string) error
	FileSize(relpath string) (int64, error)
	FileOSPath(relpath string) (string, error)

	// Refresh the read view to the latest committed state
	Refresh() error

	// IsWrite tells if changes may be staged
	IsWrite() bool
}

// Notifier lets a replica wait for replication to reach some serial
type Notifier interface {
	WaitTxSerial(ctx context.Context, serial int64) error
}

// HTTPClient fetches remote files. An *http.Client follows redirects.
type HTTPClient interface {
	Do(*http.Request) (*http.Response, error)
}

var (
	_ Tx       = &keyfs.Tx{}
	_ Notifier = &keyfs.Notifier{}
)
