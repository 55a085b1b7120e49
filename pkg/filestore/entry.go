package filestore

import (
	"io"
	"net/http"
	"path"
	"strconv"
	"time"

	jsoniter "github.com/json-iterator/go"
	"github.com/oneconcern/relstore/pkg/errors"
	"github.com/oneconcern/relstore/pkg/filestore/status"
	"github.com/oneconcern/relstore/pkg/hashspec"
	"github.com/oneconcern/relstore/pkg/keyfs"
	keyfsstatus "github.com/oneconcern/relstore/pkg/keyfs/status"
	"go.uber.org/zap"
)

var (
	json = jsoniter.ConfigCompatibleWithStandardLibrary

	// now is replaced in tests
	now = time.Now
)

// FileEntry binds a storage key to its metadata record and file content.
//
// Metadata is loaded when the entry is resolved. Setters persist the whole record
// within the entry's transaction whenever a value changes.
type FileEntry struct {
	tx   Tx
	key  keyfs.Key
	meta Meta
	l    *zap.Logger
}

func newFileEntry(tx Tx, key keyfs.Key, l *zap.Logger) (*FileEntry, error) {
	e := &FileEntry{
		tx:  tx,
		key: key,
		l:   l,
	}

	raw, err := tx.Get(key)
	switch {
	case errors.Is(err, keyfsstatus.ErrKeyNotFound):
		return e, nil
	case err != nil:
		return nil, err
	}
	if err = json.Unmarshal(raw, &e.meta); err != nil {
		return nil, status.ErrFormat.Wrapf("metadata record of %s: %v", key.Relpath, err)
	}
	return e, nil
}

// Key of the entry, usable as a map key
func (e *FileEntry) Key() keyfs.Key {
	return e.key
}

// Relpath is the logical path of the entry
func (e *FileEntry) Relpath() string {
	return e.key.Relpath
}

// Basename of the release file
func (e *FileEntry) Basename() string {
	return path.Base(e.key.Relpath)
}

// Meta returns a copy of the metadata record
func (e *FileEntry) Meta() Meta {
	return e.meta
}

// HashSpec of the content, e.g. "sha256=<hex digest>"
func (e *FileEntry) HashSpec() string { return e.meta.HashSpec }

// EggFragment marker of the origin URL
func (e *FileEntry) EggFragment() string { return e.meta.EggFragment }

// LastModified as an HTTP date
func (e *FileEntry) LastModified() string { return e.meta.LastModified }

// URL of the origin, without fragment
func (e *FileEntry) URL() string { return e.meta.URL }

// Project the release file belongs to
func (e *FileEntry) Project() string { return e.meta.Project }

// Version of the release
func (e *FileEntry) Version() string { return e.meta.Version }

// SetHashSpec persists a new hash spec
func (e *FileEntry) SetHashSpec(v string) error { return e.set(&e.meta.HashSpec, v) }

// SetEggFragment persists a new egg fragment
func (e *FileEntry) SetEggFragment(v string) error { return e.set(&e.meta.EggFragment, v) }

// SetLastModified persists a new modification date
func (e *FileEntry) SetLastModified(v string) error { return e.set(&e.meta.LastModified, v) }

// SetURL persists a new origin URL
func (e *FileEntry) SetURL(v string) error { return e.set(&e.meta.URL, v) }

// SetProject persists a new project name
func (e *FileEntry) SetProject(v string) error { return e.set(&e.meta.Project, v) }

// SetVersion persists a new version
func (e *FileEntry) SetVersion(v string) error { return e.set(&e.meta.Version, v) }

// set compares then persists
func (e *FileEntry) set(field *string, v string) error {
	if *field == v {
		return nil
	}
	*field = v
	return e.persist()
}

func (e *FileEntry) persist() error {
	raw, err := json.Marshal(e.meta)
	if err != nil {
		return err
	}
	return e.tx.Set(e.key, raw)
}

// Exists tells if the content is stored
func (e *FileEntry) Exists() (bool, error) {
	return e.tx.FileExists(e.key.Relpath)
}

// Size of the content
func (e *FileEntry) Size() (int64, error) {
	return e.tx.FileSize(e.key.Relpath)
}

// Open the content for reading
func (e *FileEntry) Open() (io.ReadCloser, error) {
	return e.tx.FileOpen(e.key.Relpath)
}

// Content reads the whole content
func (e *FileEntry) Content() ([]byte, error) {
	return e.tx.FileGet(e.key.Relpath)
}

// OSPath of the content, for blob stores on the local file system
func (e *FileEntry) OSPath() (string, error) {
	return e.tx.FileOSPath(e.key.Relpath)
}

// DeleteContent removes the content, leaving metadata untouched
func (e *FileEntry) DeleteContent() error {
	return e.tx.FileDelete(e.key.Relpath)
}

// SetContent writes some content along with its metadata record.
//
// With WithHashSpec, the content is verified first and nothing is written on a mismatch.
// Otherwise the default hash spec of the content is recorded.
//
// The metadata record is always written, even when unchanged: a replica replays
// a change set through its records, and content must never change without one.
func (e *FileEntry) SetContent(content []byte, opts ...ContentOption) error {
	o := contentOptionsWithDefaults(opts)

	hashSpec := o.hashSpec
	if hashSpec != "" {
		if err := hashspec.Verify(content, hashSpec); err != nil {
			e.l.Error("refusing content", zap.String("relpath", e.key.Relpath), zap.Error(err))
			return err
		}
	} else {
		hashSpec = hashspec.Default(content)
	}

	if !o.skipLastModified {
		lastModified := o.lastModified
		if lastModified == "" {
			lastModified = now().UTC().Format(http.TimeFormat)
		}
		e.meta.LastModified = lastModified
	}
	e.meta.HashSpec = hashSpec

	if err := e.tx.FileSet(e.key.Relpath, content); err != nil {
		return err
	}
	return e.persist()
}

// HTTPHeaders to serve the content with.
//
// It fails with status.ErrPrecondition when the content is not stored.
// Content-Type is omitted when the file name has no known MIME type.
func (e *FileEntry) HTTPHeaders() (http.Header, error) {
	exists, err := e.Exists()
	if err != nil {
		return nil, err
	}
	if !exists {
		return nil, status.ErrPrecondition.Wrapf("%s: no content", e.key.Relpath)
	}
	size, err := e.Size()
	if err != nil {
		return nil, err
	}

	headers := make(http.Header, 3)
	if e.meta.LastModified != "" {
		headers.Set("Last-Modified", e.meta.LastModified)
	}
	if contentType := guessType(e.Basename()); contentType != "" {
		headers.Set("Content-Type", contentType)
	}
	headers.Set("Content-Length", strconv.FormatInt(size, 10))
	return headers, nil
}

// Delete the metadata record and the content
func (e *FileEntry) Delete() error {
	if err := e.tx.Delete(e.key); err != nil {
		return err
	}
	e.meta = Meta{}
	return e.DeleteContent()
}

// Equal entries have the same relative path and key
func (e *FileEntry) Equal(other *FileEntry) bool {
	if e == nil || other == nil {
		return e == other
	}
	return e.key.Relpath == other.key.Relpath && e.key == other.key
}

func (e *FileEntry) String() string {
	return "<FileEntry " + e.key.String() + ">"
}
