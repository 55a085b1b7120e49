package filestore

import (
	"regexp"
	"strings"
	"time"

	"github.com/oneconcern/relstore/pkg/errors"
	"github.com/oneconcern/relstore/pkg/filestore/status"
	"github.com/oneconcern/relstore/pkg/hashspec"
	"github.com/oneconcern/relstore/pkg/keyfs"
	keyfsstatus "github.com/oneconcern/relstore/pkg/keyfs/status"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
	"golang.org/x/time/rate"
)

var unsafeDirChars = regexp.MustCompile(`[^a-zA-Z0-9_.-]`)

// FileStore resolves file entries and populates their content
type FileStore struct {
	l           *zap.Logger
	client      HTTPClient
	notifier    Notifier
	role        Role
	primaryURL  string
	mirrorUser  string
	mirrorIndex string
	m           *metrics
	flight      singleflight.Group
	limiter     *rate.Limiter
	dlTimeout   time.Duration
}

// New file store. By default, the store acts as a primary.
func New(opts ...Option) (*FileStore, error) {
	o := defaultOptions(opts)
	if o.role == Replica {
		if o.primaryURL == "" {
			return nil, status.ErrPrecondition.Wrapf("a replica requires the URL of its primary")
		}
		if o.notifier == nil {
			return nil, status.ErrPrecondition.Wrapf("a replica requires a serial notifier")
		}
	}

	var limiter *rate.Limiter
	if o.fetchLimit > 0 {
		burst := o.fetchBurst
		if burst < 1 {
			burst = 1
		}
		limiter = rate.NewLimiter(o.fetchLimit, burst)
	}

	return &FileStore{
		limiter:     limiter,
		dlTimeout:   o.dlTimeout,
		l:           o.logger,
		client:      o.client,
		notifier:    o.notifier,
		role:        o.role,
		primaryURL:  strings.TrimSuffix(o.primaryURL, "/"),
		mirrorUser:  o.mirrorUser,
		mirrorIndex: o.mirrorIndex,
		m:           newMetrics(o.registerer),
	}, nil
}

// Role of this store
func (s *FileStore) Role() Role {
	return s.role
}

// MapLink resolves the entry of a remote link, recording its origin URL and hash spec.
//
// Links with a hash spec map to a key sharded by digest, others to a key derived from the URL path.
// When the link hash spec does not match content cached before any hash spec was recorded,
// that content is deleted so that a later fetch repairs it.
func (s *FileStore) MapLink(tx Tx, link LinkDescriptor) (*FileEntry, error) {
	key, err := s.linkKey(link)
	if err != nil {
		return nil, err
	}

	entry, err := newFileEntry(tx, key, s.l)
	if err != nil {
		return nil, err
	}
	if err = entry.SetURL(link.URLNoFragment()); err != nil {
		return nil, err
	}
	if err = entry.SetEggFragment(link.EggFragment()); err != nil {
		return nil, err
	}

	linkSpec := link.HashSpec()
	if linkSpec == "" {
		return entry, nil
	}

	if entry.HashSpec() == "" {
		if err = s.repair(entry, linkSpec); err != nil {
			return nil, err
		}
	}
	if err = entry.SetHashSpec(linkSpec); err != nil {
		return nil, err
	}
	return entry, nil
}

func (s *FileStore) repair(entry *FileEntry, linkSpec string) error {
	exists, err := entry.Exists()
	if err != nil || !exists {
		return err
	}

	s.l.Debug("verifying checksum", zap.String("relpath", entry.Relpath()))
	content, err := entry.Content()
	if err != nil {
		return err
	}
	msg, err := hashspec.ChecksumError(content, linkSpec)
	if err != nil {
		return err
	}
	if msg == "" {
		return nil
	}

	s.l.Error("deleting corrupted file",
		zap.String("relpath", entry.Relpath()),
		zap.String("url", entry.URL()),
		zap.String("mismatch", msg),
	)
	s.m.checksumRepairs.Inc()
	return entry.DeleteContent()
}

func (s *FileStore) linkKey(link LinkDescriptor) (keyfs.Key, error) {
	var (
		key keyfs.Key
		err error
	)
	if spec := link.HashSpec(); spec != "" {
		var a, b string
		a, b, err = hashspec.Shard(spec)
		if err != nil {
			return keyfs.Key{}, err
		}
		key, err = keyfs.StageFile.Key(map[string]string{
			"user":      s.mirrorUser,
			"index":     s.mirrorIndex,
			"hashdir_a": a,
			"hashdir_b": b,
			"filename":  link.Basename(),
		})
	} else {
		parts := strings.Split(link.RelPath(), "/")
		if len(parts) < 2 {
			return keyfs.Key{}, status.ErrFormat.Wrapf("link path %q has no directory", link.RelPath())
		}
		key, err = keyfs.MirrorFile.Key(map[string]string{
			"user":     s.mirrorUser,
			"index":    s.mirrorIndex,
			"dirname":  unsafeDirChars.ReplaceAllString(strings.Join(parts[:len(parts)-1], "_"), "_"),
			"basename": parts[len(parts)-1],
		})
	}
	if err != nil {
		return keyfs.Key{}, status.ErrFormat.Wrap(err)
	}
	return key, nil
}

// GetFileEntry resolves the entry of a known relative path. It returns nil when the path is unknown.
func (s *FileStore) GetFileEntry(tx Tx, relpath string) (*FileEntry, error) {
	key, err := tx.DeriveKey(relpath)
	if err != nil {
		if errors.Is(err, keyfsstatus.ErrKeyNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return newFileEntry(tx, key, s.l)
}

// Store uploaded content under a key sharded by its hash spec.
//
// Without a hash spec, the default hash spec of the content is used. Otherwise the content
// is verified against it.
func (s *FileStore) Store(tx Tx, user, index, basename string, content []byte, hashSpec string) (*FileEntry, error) {
	var opts []ContentOption
	if hashSpec == "" {
		hashSpec = hashspec.Default(content)
	} else {
		opts = append(opts, WithHashSpec(hashSpec))
	}
	a, b, err := hashspec.Shard(hashSpec)
	if err != nil {
		return nil, err
	}
	key, err := keyfs.StageFile.Key(map[string]string{
		"user":      user,
		"index":     index,
		"hashdir_a": a,
		"hashdir_b": b,
		"filename":  basename,
	})
	if err != nil {
		return nil, status.ErrFormat.Wrap(err)
	}

	entry, err := newFileEntry(tx, key, s.l)
	if err != nil {
		return nil, err
	}
	if err = entry.SetContent(content, opts...); err != nil {
		return nil, err
	}
	return entry, nil
}
