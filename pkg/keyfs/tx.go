package keyfs

import (
	"bytes"
	"context"
	"io"
	"io/ioutil"

	"github.com/cenkalti/backoff/v4"
	"github.com/dgraph-io/badger/v3"
	"github.com/oneconcern/relstore/pkg/errors"
	"github.com/oneconcern/relstore/pkg/hashspec"
	"github.com/oneconcern/relstore/pkg/keyfs/status"
	"github.com/oneconcern/relstore/pkg/storage"
	storagestatus "github.com/oneconcern/relstore/pkg/storage/status"
	"go.uber.org/zap"
)

const maxCommitRetries = 10

type staged struct {
	value   []byte
	deleted bool
}

// Tx is a transaction over records and file contents.
//
// Reads see a snapshot taken when the transaction began (or was last refreshed),
// overlaid with the changes staged by this transaction. A Tx must not be shared by goroutines.
type Tx struct {
	kfs   *KeyFS
	ctx   context.Context
	write bool
	txn   *badger.Txn
	at    int64

	keys      map[Key]staged
	keyOrder  []Key
	files     map[string]staged
	fileOrder []string

	importSerial int64
	closed       bool
}

func newTx(ctx context.Context, k *KeyFS, write bool) *Tx {
	return &Tx{
		kfs:          k,
		ctx:          ctx,
		write:        write,
		keys:         make(map[Key]staged),
		files:        make(map[string]staged),
		importSerial: -1,
	}
}

func (t *Tx) open() error {
	t.txn = t.kfs.db.NewTransaction(false)
	serial, err := readSerial(t.txn)
	if err != nil {
		return err
	}
	t.at = serial
	return nil
}

func (t *Tx) close() {
	if t.closed {
		return
	}
	t.closed = true
	if t.txn != nil {
		t.txn.Discard()
	}
	if t.write {
		t.kfs.writeMu.Unlock()
	}
}

// IsWrite tells if this is a write transaction
func (t *Tx) IsWrite() bool {
	return t.write
}

// AtSerial is the serial of the snapshot this transaction reads from
func (t *Tx) AtSerial() int64 {
	return t.at
}

// IsDirty tells if some changes are staged
func (t *Tx) IsDirty() bool {
	return len(t.keyOrder) > 0 || len(t.fileOrder) > 0
}

func (t *Tx) checkOpen() error {
	if t.closed {
		return status.ErrTxClosed
	}
	return nil
}

func (t *Tx) checkWrite() error {
	if err := t.checkOpen(); err != nil {
		return err
	}
	if !t.write {
		return status.ErrReadOnly
	}
	return nil
}

// Get the record stored under a key, failing with status.ErrKeyNotFound when there is none
func (t *Tx) Get(key Key) ([]byte, error) {
	if err := t.checkOpen(); err != nil {
		return nil, err
	}
	if s, ok := t.keys[key]; ok {
		if s.deleted {
			return nil, status.ErrKeyNotFound.Wrapf("%v", key)
		}
		return append([]byte(nil), s.value...), nil
	}

	item, err := t.txn.Get([]byte(recordPrefix + key.Relpath))
	if err != nil {
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil, status.ErrKeyNotFound.Wrapf("%v", key)
		}
		return nil, err
	}
	return item.ValueCopy(nil)
}

// Exists tells if a record is stored under a key
func (t *Tx) Exists(key Key) (bool, error) {
	_, err := t.Get(key)
	if err != nil {
		if errors.Is(err, status.ErrKeyNotFound) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

// Set the record stored under a key
func (t *Tx) Set(key Key, value []byte) error {
	if err := t.checkWrite(); err != nil {
		return err
	}
	if key.IsZero() {
		return status.ErrUnknownKey.Wrapf("empty key")
	}
	t.stageKey(key, staged{value: append([]byte(nil), value...)})
	return nil
}

// Delete the record stored under a key
func (t *Tx) Delete(key Key) error {
	if err := t.checkWrite(); err != nil {
		return err
	}
	t.stageKey(key, staged{deleted: true})
	return nil
}

func (t *Tx) stageKey(key Key, s staged) {
	if _, ok := t.keys[key]; !ok {
		t.keyOrder = append(t.keyOrder, key)
	}
	t.keys[key] = s
}

// DeriveKey finds the key of a stored record from its relative path.
//
// It fails with status.ErrKeyNotFound if the relative path fits no key pattern or if no record is stored.
func (t *Tx) DeriveKey(relpath string) (Key, error) {
	key, err := MatchKey(relpath)
	if err != nil {
		return Key{}, status.ErrKeyNotFound.Wrap(err)
	}
	exists, err := t.Exists(key)
	if err != nil {
		return Key{}, err
	}
	if !exists {
		return Key{}, status.ErrKeyNotFound.Wrapf("%q", relpath)
	}
	return key, nil
}

// FileExists tells if some content is stored at a relative path
func (t *Tx) FileExists(relpath string) (bool, error) {
	if err := t.checkOpen(); err != nil {
		return false, err
	}
	if s, ok := t.files[relpath]; ok {
		return !s.deleted, nil
	}
	return t.kfs.blobs.Has(t.ctx, blobPath(relpath))
}

// FileOpen opens the content stored at a relative path
func (t *Tx) FileOpen(relpath string) (io.ReadCloser, error) {
	if err := t.checkOpen(); err != nil {
		return nil, err
	}
	if s, ok := t.files[relpath]; ok {
		if s.deleted {
			return nil, storagestatus.ErrNotExists.Wrapf("%q", relpath)
		}
		return ioutil.NopCloser(bytes.NewReader(s.value)), nil
	}
	return t.kfs.blobs.Get(t.ctx, blobPath(relpath))
}

// FileGet reads the whole content stored at a relative path
func (t *Tx) FileGet(relpath string) ([]byte, error) {
	if err := t.checkOpen(); err != nil {
		return nil, err
	}
	if s, ok := t.files[relpath]; ok {
		if s.deleted {
			return nil, storagestatus.ErrNotExists.Wrapf("%q", relpath)
		}
		return append([]byte(nil), s.value...), nil
	}
	return storage.ReadAll(t.ctx, t.kfs.blobs, blobPath(relpath))
}

// FileSize of the content stored at a relative path
func (t *Tx) FileSize(relpath string) (int64, error) {
	if err := t.checkOpen(); err != nil {
		return 0, err
	}
	if s, ok := t.files[relpath]; ok {
		if s.deleted {
			return 0, storagestatus.ErrNotExists.Wrapf("%q", relpath)
		}
		return int64(len(s.value)), nil
	}
	attr, err := t.kfs.blobs.GetAttr(t.ctx, blobPath(relpath))
	if err != nil {
		return 0, err
	}
	return attr.Size, nil
}

// FileOSPath resolves the local path of committed content, for blob stores on the local file system
func (t *Tx) FileOSPath(relpath string) (string, error) {
	if err := t.checkOpen(); err != nil {
		return "", err
	}
	if _, ok := t.files[relpath]; ok {
		return "", storagestatus.ErrNotExists.Wrapf("%q has pending changes", relpath)
	}
	return storage.OSPath(t.kfs.blobs, blobPath(relpath))
}

// FileSet stages some content at a relative path
func (t *Tx) FileSet(relpath string, content []byte) error {
	if err := t.checkWrite(); err != nil {
		return err
	}
	t.stageFile(relpath, staged{value: append([]byte(nil), content...)})
	return nil
}

// FileDelete stages the removal of the content at a relative path
func (t *Tx) FileDelete(relpath string) error {
	if err := t.checkWrite(); err != nil {
		return err
	}
	t.stageFile(relpath, staged{deleted: true})
	return nil
}

func (t *Tx) stageFile(relpath string, s staged) {
	if _, ok := t.files[relpath]; !ok {
		t.fileOrder = append(t.fileOrder, relpath)
	}
	t.files[relpath] = s
}

// Refresh the snapshot to the latest committed state
func (t *Tx) Refresh() error {
	if err := t.checkOpen(); err != nil {
		return err
	}
	if t.IsDirty() {
		return status.ErrDirtyRefresh
	}
	t.txn.Discard()
	return t.open()
}

// Rollback discards all staged changes. Rolling back a closed transaction is a no-op.
func (t *Tx) Rollback() error {
	t.close()
	return nil
}

// Commit staged changes.
//
// File contents are written to the blob store first, then all records are written along
// with the changelog of the new serial, in one database update.
// A transaction without changes does not create a serial.
func (t *Tx) Commit() error {
	if err := t.checkOpen(); err != nil {
		return err
	}
	defer t.close()

	if !t.write || (!t.IsDirty() && t.importSerial < 0) {
		return nil
	}

	cs := &ChangeSet{}
	for _, relpath := range t.fileOrder {
		s := t.files[relpath]
		if s.deleted {
			if err := t.kfs.blobs.Delete(t.ctx, blobPath(relpath)); err != nil {
				return err
			}
		} else if err := t.kfs.blobs.Put(t.ctx, blobPath(relpath), bytes.NewReader(s.value), storage.OverWrite); err != nil {
			return err
		}
		change := FileChange{Relpath: relpath, Deleted: s.deleted}
		if !s.deleted {
			change.Digest = hashspec.Default(s.value)
		}
		cs.Files = append(cs.Files, change)
	}
	for _, key := range t.keyOrder {
		s := t.keys[key]
		cs.Keys = append(cs.Keys, KeyChange{Key: key, Value: s.value, Deleted: s.deleted})
	}

	var next int64
	err := backoff.Retry(func() error {
		return t.kfs.db.Update(func(txn *badger.Txn) error {
			current, e := readSerial(txn)
			if e != nil {
				return backoff.Permanent(e)
			}
			next = current + 1
			if t.importSerial >= 0 && t.importSerial != next {
				return backoff.Permanent(
					status.ErrSerialMismatch.Wrapf("cannot import serial %d on top of serial %d", t.importSerial, current),
				)
			}
			cs.Serial = next

			for _, change := range cs.Keys {
				k := []byte(recordPrefix + change.Key.Relpath)
				if change.Deleted {
					e = txn.Delete(k)
				} else {
					e = txn.Set(k, change.Value)
				}
				if e != nil {
					return retryable(e)
				}
			}

			record, e := json.Marshal(cs)
			if e != nil {
				return backoff.Permanent(e)
			}
			if e = txn.Set(changelogKey(next), record); e != nil {
				return retryable(e)
			}
			return retryable(txn.Set([]byte(serialKey), encodeSerial(next)))
		})
	},
		backoff.WithContext(backoff.WithMaxRetries(backoff.NewConstantBackOff(t.kfs.retryPeriod), maxCommitRetries), t.ctx),
	)
	if err != nil {
		return err
	}

	t.kfs.serial.Store(next)
	t.kfs.notifier.Notify(next)
	t.kfs.l.Debug("keyfs commit",
		zap.Int64("serial", next),
		zap.Int("keys", len(cs.Keys)),
		zap.Int("files", len(cs.Files)),
	)
	return nil
}

func retryable(err error) error {
	if err == nil || errors.Is(err, badger.ErrConflict) {
		return err
	}
	return backoff.Permanent(err)
}
