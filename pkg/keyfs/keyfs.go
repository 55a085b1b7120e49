package keyfs

import (
	"context"
	"encoding/binary"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dgraph-io/badger/v3"
	"github.com/oneconcern/relstore/pkg/errors"
	"github.com/oneconcern/relstore/pkg/keyfs/status"
	"github.com/oneconcern/relstore/pkg/storage"
	"github.com/oneconcern/relstore/pkg/storage/localfs"
	"github.com/spf13/afero"
	"go.uber.org/zap"
)

const (
	recordPrefix    = "k/"
	changelogPrefix = "c/"
	serialKey       = "s"

	// FilesRoot is the root of all file contents in the blob store
	FilesRoot = "+files"
)

// KeyFS is a transactional key/value store for records and file contents
type KeyFS struct {
	db          *badger.DB
	blobs       storage.Store
	l           *zap.Logger
	notifier    *Notifier
	retryPeriod time.Duration

	writeMu sync.Mutex
	serial  atomic.Int64
}

// New key/value store.
//
// Unless InMemory is set, records are stored in a badger database under <dir>/keys, and
// file contents under <dir>/files when no blob store is given.
func New(opts ...Option) (*KeyFS, error) {
	o := defaultOptions(opts)

	var bopts badger.Options
	if o.inMemory {
		bopts = badger.DefaultOptions("").WithInMemory(true)
		if o.blobs == nil {
			o.blobs = localfs.New(afero.NewMemMapFs())
		}
	} else {
		if o.dir == "" {
			return nil, fmt.Errorf("keyfs: a base directory is required")
		}
		keysDir := filepath.Join(o.dir, "keys")
		if err := os.MkdirAll(keysDir, 0700); err != nil {
			return nil, fmt.Errorf("keyfs: mkdir: %w", err)
		}
		bopts = badger.DefaultOptions(keysDir)
		if o.blobs == nil {
			o.blobs = localfs.New(afero.NewBasePathFs(afero.NewOsFs(), filepath.Join(o.dir, "files")))
		}
	}

	db, err := badger.Open(bopts.WithLoggingLevel(badger.WARNING))
	if err != nil {
		return nil, fmt.Errorf("keyfs: opening badger: %w", err)
	}

	k := &KeyFS{
		db:          db,
		blobs:       o.blobs,
		l:           o.logger,
		retryPeriod: o.retryPeriod,
	}

	var serial int64
	err = db.View(func(txn *badger.Txn) error {
		var e error
		serial, e = readSerial(txn)
		return e
	})
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	k.serial.Store(serial)
	k.notifier = NewNotifier(serial)

	k.l.Info("keyfs opened", zap.Int64("serial", serial), zap.Stringer("blobs", k.blobs))
	return k, nil
}

// Close the underlying database
func (k *KeyFS) Close() error {
	return k.db.Close()
}

// Serial of the last commit, or -1 when nothing has been committed yet
func (k *KeyFS) Serial() int64 {
	return k.serial.Load()
}

// Notifier of committed serials
func (k *KeyFS) Notifier() *Notifier {
	return k.notifier
}

// Blobs is the store of file contents
func (k *KeyFS) Blobs() storage.Store {
	return k.blobs
}

// Begin a transaction. Write transactions are serialized: Begin blocks until any other
// write transaction is committed or rolled back.
//
// The context applies to all blob operations of the transaction.
func (k *KeyFS) Begin(ctx context.Context, write bool) (*Tx, error) {
	if write {
		k.writeMu.Lock()
	}
	tx := newTx(ctx, k, write)
	if err := tx.open(); err != nil {
		tx.close()
		return nil, err
	}
	return tx, nil
}

// BeginImport opens a write transaction which commits exactly at serial.
//
// This is how replicas apply change sets: serial must follow the last committed serial.
func (k *KeyFS) BeginImport(ctx context.Context, serial int64) (*Tx, error) {
	tx, err := k.Begin(ctx, true)
	if err != nil {
		return nil, err
	}
	if current := tx.at; serial != current+1 {
		_ = tx.Rollback()
		return nil, status.ErrSerialMismatch.Wrapf("cannot import serial %d on top of serial %d", serial, current)
	}
	tx.importSerial = serial
	return tx, nil
}

func readSerial(txn *badger.Txn) (int64, error) {
	item, err := txn.Get([]byte(serialKey))
	if err != nil {
		if errors.Is(err, badger.ErrKeyNotFound) {
			return -1, nil
		}
		return 0, err
	}
	var serial int64
	err = item.Value(func(val []byte) error {
		if len(val) != 8 {
			return fmt.Errorf("keyfs: corrupted serial record")
		}
		serial = int64(binary.BigEndian.Uint64(val))
		return nil
	})
	return serial, err
}

func encodeSerial(serial int64) []byte {
	buf := make([]byte, 8)
	binary.BigEndian.PutUint64(buf, uint64(serial))
	return buf
}

func blobPath(relpath string) string {
	return FilesRoot + "/" + relpath
}
