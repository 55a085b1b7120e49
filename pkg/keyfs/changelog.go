package keyfs

import (
	"context"
	"fmt"

	"github.com/dgraph-io/badger/v3"
	jsoniter "github.com/json-iterator/go"
	"github.com/oneconcern/relstore/pkg/errors"
	"github.com/oneconcern/relstore/pkg/hashspec"
	"github.com/oneconcern/relstore/pkg/keyfs/status"
	"github.com/oneconcern/relstore/pkg/storage"
	storagestatus "github.com/oneconcern/relstore/pkg/storage/status"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// ChangeSet holds all changes committed at some serial
type ChangeSet struct {
	Serial int64        `json:"serial"`
	Keys   []KeyChange  `json:"keys,omitempty"`
	Files  []FileChange `json:"files,omitempty"`
}

// KeyChange is a record set or deleted
type KeyChange struct {
	Key     Key    `json:"key"`
	Value   []byte `json:"value,omitempty"`
	Deleted bool   `json:"deleted,omitempty"`
}

// FileChange is some file content set or deleted.
//
// The changelog only records relative paths and the digest of the content committed.
// Content is filled in from the blob store when a change set is served, unless
// a later serial changed or deleted it.
type FileChange struct {
	Relpath string `json:"relpath"`
	Digest  string `json:"digest,omitempty"`
	Content []byte `json:"content,omitempty"`
	Deleted bool   `json:"deleted,omitempty"`
}

// IsEmpty tells if the change set carries no change
func (c *ChangeSet) IsEmpty() bool {
	return len(c.Keys) == 0 && len(c.Files) == 0
}

func changelogKey(serial int64) []byte {
	return []byte(fmt.Sprintf("%s%016x", changelogPrefix, serial))
}

// Changes returns the change set committed at some serial, with the contents of changed files.
//
// Files superseded by a later serial come without content.
//
// It fails with status.ErrKeyNotFound when this serial has not been committed yet.
func (k *KeyFS) Changes(ctx context.Context, serial int64) (*ChangeSet, error) {
	if serial < 0 || serial > k.Serial() {
		return nil, status.ErrKeyNotFound.Wrapf("no changes committed at serial %d", serial)
	}

	var raw []byte
	err := k.db.View(func(txn *badger.Txn) error {
		item, e := txn.Get(changelogKey(serial))
		if e != nil {
			return e
		}
		raw, e = item.ValueCopy(nil)
		return e
	})
	if err != nil {
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil, status.ErrKeyNotFound.Wrapf("changelog at serial %d", serial)
		}
		return nil, err
	}

	cs := new(ChangeSet)
	if err = json.Unmarshal(raw, cs); err != nil {
		return nil, fmt.Errorf("decoding changelog at serial %d: %w", serial, err)
	}

	for i, file := range cs.Files {
		if file.Deleted {
			continue
		}
		content, err := storage.ReadAll(ctx, k.blobs, blobPath(file.Relpath))
		if err != nil {
			if errors.Is(err, storagestatus.ErrNotExists) {
				// deleted by a later serial
				continue
			}
			return nil, err
		}
		if file.Digest != "" && hashspec.Default(content) != file.Digest {
			// changed by a later serial
			continue
		}
		cs.Files[i].Content = content
	}
	return cs, nil
}
