package replica

import (
	"context"

	"github.com/oneconcern/relstore/pkg/filestore"
	"github.com/oneconcern/relstore/pkg/keyfs"
	"go.uber.org/zap"
)

// Importer applies change sets committed by a primary
type Importer struct {
	kfs   *keyfs.KeyFS
	files *filestore.FileStore
	l     *zap.Logger
}

// NewImporter for a replica key/value store
func NewImporter(kfs *keyfs.KeyFS, files *filestore.FileStore, l *zap.Logger) *Importer {
	if l == nil {
		l = zap.NewNop()
	}
	return &Importer{kfs: kfs, files: files, l: l}
}

// Import a change set at exactly its serial.
//
// Records are applied first. File contents are then written through their entries,
// verified against the replicated hash spec and keeping the replicated modification date.
// Nothing is committed if any file fails verification.
func (i *Importer) Import(ctx context.Context, cs *keyfs.ChangeSet) error {
	tx, err := i.kfs.BeginImport(ctx, cs.Serial)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	for _, change := range cs.Keys {
		if change.Deleted {
			err = tx.Delete(change.Key)
		} else {
			err = tx.Set(change.Key, change.Value)
		}
		if err != nil {
			return err
		}
	}

	for _, file := range cs.Files {
		if err = i.importFile(tx, file); err != nil {
			i.l.Error("importing file",
				zap.Int64("serial", cs.Serial),
				zap.String("relpath", file.Relpath),
				zap.Error(err),
			)
			return err
		}
	}

	if err = tx.Commit(); err != nil {
		return err
	}
	i.l.Debug("imported change set",
		zap.Int64("serial", cs.Serial),
		zap.Int("keys", len(cs.Keys)),
		zap.Int("files", len(cs.Files)),
	)
	return nil
}

func (i *Importer) importFile(tx *keyfs.Tx, file keyfs.FileChange) error {
	if file.Deleted {
		return tx.FileDelete(file.Relpath)
	}
	if file.Content == nil {
		// changed or deleted on the primary at a later serial
		return nil
	}

	entry, err := i.files.GetFileEntry(tx, file.Relpath)
	if err != nil {
		return err
	}
	if entry == nil {
		i.l.Warn("replicated file without metadata", zap.String("relpath", file.Relpath))
		return tx.FileSet(file.Relpath, file.Content)
	}

	opts := []filestore.ContentOption{filestore.SkipLastModified()}
	if spec := entry.HashSpec(); spec != "" {
		opts = append(opts, filestore.WithHashSpec(spec))
	}
	return entry.SetContent(file.Content, opts...)
}
