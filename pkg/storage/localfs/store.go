// Copyright © 2018 One Concern

package localfs

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/oneconcern/relstore/pkg/storage"
	"github.com/oneconcern/relstore/pkg/storage/status"
	"github.com/spf13/afero"
)

// staging area for atomic puts: files are written there, then renamed into place
const nestedPutStageName = ".put-stage"

var _ storage.OSPather = &localFS{}

// New creates a new local file system backed storage model.
//
// Puts are atomic: objects are first written to a staging area within the same file system,
// then renamed to their final location.
func New(fs afero.Fs) storage.Store {
	if fs == nil {
		fs = afero.NewBasePathFs(afero.NewOsFs(), filepath.Join(".relstore", "files"))
	}
	return &localFS{
		fs: fs,
	}
}

type localFS struct {
	fs afero.Fs
}

func (l *localFS) Has(ctx context.Context, key string) (bool, error) {
	if err := maybeInvalidKey(key); err != nil {
		return false, err
	}

	fi, err := l.fs.Stat(key)
	if err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, err
	}

	return !fi.IsDir(), nil
}

func (l *localFS) Get(ctx context.Context, key string) (io.ReadCloser, error) {
	has, err := l.Has(ctx, key)
	if err != nil {
		return nil, err
	}
	if !has {
		return nil, status.ErrNotExists.Wrapf("%q", key)
	}
	return l.fs.Open(key)
}

func (l *localFS) GetAttr(ctx context.Context, key string) (storage.Attributes, error) {
	if err := maybeInvalidKey(key); err != nil {
		return storage.Attributes{}, err
	}

	fi, err := l.fs.Stat(key)
	if err != nil {
		if os.IsNotExist(err) {
			return storage.Attributes{}, status.ErrNotExists.Wrapf("%q", key)
		}
		return storage.Attributes{}, err
	}
	if fi.IsDir() {
		return storage.Attributes{}, status.ErrNotExists.Wrapf("%q is a directory", key)
	}

	return storage.Attributes{
		Created: fi.ModTime(),
		Updated: fi.ModTime(),
		Size:    fi.Size(),
	}, nil
}

func (l *localFS) Put(ctx context.Context, key string, source io.Reader, exclusive bool) error {
	if err := maybeInvalidKey(key); err != nil {
		return err
	}
	if exclusive {
		has, err := l.Has(ctx, key)
		if err != nil {
			return err
		}
		if has {
			return status.ErrExists.Wrapf("%q", key)
		}
	}

	putStageKey := filepath.Join(nestedPutStageName, key)
	if err := l.write(putStageKey, source); err != nil {
		return err
	}

	// Rename() doesn't create directories automatically
	if err := l.fs.MkdirAll(filepath.Dir(key), 0700); err != nil {
		return fmt.Errorf("ensuring directories for %q: %v", key, err)
	}
	return l.fs.Rename(putStageKey, key)
}

func (l *localFS) write(key string, source io.Reader) error {
	if err := l.fs.MkdirAll(filepath.Dir(key), 0700); err != nil {
		return fmt.Errorf("ensuring directories for %q: %v", key, err)
	}

	target, err := l.fs.OpenFile(key, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0600)
	if err != nil {
		return fmt.Errorf("create record for %q: %v", key, err)
	}

	if _, err = io.Copy(target, source); err != nil {
		_ = target.Close()
		_ = l.fs.Remove(key)
		return fmt.Errorf("write record for %q: %v", key, err)
	}

	return target.Close()
}

func (l *localFS) Delete(ctx context.Context, key string) error {
	if err := maybeInvalidKey(key); err != nil {
		return err
	}
	if err := l.fs.Remove(key); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("removing %q: %v", key, err)
	}
	return nil
}

func (l *localFS) Keys(ctx context.Context) ([]string, error) {
	const root = "."
	var res []string
	e := afero.Walk(l.fs, root, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if path == root {
			return nil
		}
		if info.IsDir() {
			if info.Name() == nestedPutStageName {
				return filepath.SkipDir
			}
			return nil
		}
		res = append(res, filepath.ToSlash(path))
		return nil
	})
	if e != nil {
		return nil, e
	}
	return res, nil
}

func (l *localFS) Clear(ctx context.Context) error {
	return l.fs.RemoveAll("/")
}

// OSPath resolves the real path of a key, for stores rooted on the OS file system
func (l *localFS) OSPath(key string) (string, error) {
	switch fs := l.fs.(type) {
	case *afero.BasePathFs:
		return fs.RealPath(key)
	case *afero.OsFs:
		return filepath.Abs(key)
	default:
		return "", status.ErrNotSupported.Wrapf("%s has no OS path for %q", l, key)
	}
}

func (l *localFS) String() string {
	const localfs = "localfs"
	switch fs := l.fs.(type) {
	case *afero.BasePathFs:
		pp, err := fs.RealPath("")
		if err != nil {
			return localfs
		}
		return localfs + "@" + pp
	default:
		return localfs
	}
}

func maybeInvalidKey(key string) error {
	const pathSepString = "/"
	pathComponents := strings.Split(strings.TrimLeft(filepath.ToSlash(key), pathSepString), pathSepString)
	if pathComponents[0] == nestedPutStageName {
		return status.ErrInvalidResource.Wrapf("key %q conflicts with put staging area name %q", key, nestedPutStageName)
	}
	for _, component := range pathComponents {
		if component == ".." {
			return status.ErrInvalidResource.Wrapf("key %q escapes the store", key)
		}
	}
	return nil
}
