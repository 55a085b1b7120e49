// Copyright © 2018 One Concern

package storage

import (
	"context"
	"io"
	"io/ioutil"
	"time"

	"github.com/oneconcern/relstore/pkg/storage/status"
)

// MaxObjectSizeInMemory is the largest object ReadAll accepts
const MaxObjectSizeInMemory = 2 * 1024 * 1024 * 1024 // 2 gigs

const (
	// NoOverWrite makes Put fail with status.ErrExists when the key already exists
	NoOverWrite = true

	// OverWrite makes Put replace any existing object
	OverWrite = false
)

// Attributes of a stored object
type Attributes struct {
	Created time.Time
	Updated time.Time
	Size    int64
}

// Store implementations know how to write entries to a K/V model.
//
// Typically this is something file system-like. Examples are S3, local FS, NFS, ...
// Implementations of this interface are assumed to be fairly simple.
type Store interface {
	String() string
	Has(context.Context, string) (bool, error)
	Get(context.Context, string) (io.ReadCloser, error)
	GetAttr(context.Context, string) (Attributes, error)
	Put(context.Context, string, io.Reader, bool) error
	Delete(context.Context, string) error
	Keys(context.Context) ([]string, error)
	Clear(context.Context) error
}

// OSPather is implemented by stores which keep objects as files on the local file system
type OSPather interface {
	OSPath(string) (string, error)
}

// OSPath resolves the local file system path of an object, when the store supports it
func OSPath(store Store, key string) (string, error) {
	pather, ok := store.(OSPather)
	if !ok {
		return "", status.ErrNotSupported.Wrapf("%s does not expose local paths", store)
	}
	return pather.OSPath(key)
}

// ReadAll reads a whole object in memory
func ReadAll(ctx context.Context, store Store, key string) ([]byte, error) {
	attr, err := store.GetAttr(ctx, key)
	if err != nil {
		return nil, err
	}
	if attr.Size > MaxObjectSizeInMemory {
		return nil, status.ErrObjectTooBig.Wrapf("%q has %d bytes", key, attr.Size)
	}

	reader, err := store.Get(ctx, key)
	if err != nil {
		return nil, err
	}
	defer reader.Close()

	return ioutil.ReadAll(reader)
}
