package filestore

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/oneconcern/relstore/pkg/filestore/status"
	"go.uber.org/zap"
)

// SerialHeader carries the serial at which a primary committed the state it serves
const SerialHeader = "X-Relstore-Serial"

// FetchViaReplica waits for the content of an entry to be replicated from the primary.
//
// The primary is asked, with a HEAD request on the entry's path, at which serial it holds the content.
// The call blocks until local replication reaches that serial, or the context is done.
// The entry is then resolved again from a refreshed read view and returned.
//
// It fails with status.ErrPrecondition when the entry has no origin URL yet,
// and with status.ErrGateway when the primary fails or the content did not arrive.
func (s *FileStore) FetchViaReplica(ctx context.Context, entry *FileEntry) (*FileEntry, error) {
	relpath := entry.Relpath()
	if entry.URL() == "" {
		return nil, status.ErrPrecondition.Wrapf("%s: metadata not replicated yet", relpath)
	}
	if s.role != Replica {
		return nil, status.ErrPrecondition.Wrapf("%s: not a replica", relpath)
	}
	s.l.Info("replica doesn't have file", zap.String("relpath", relpath))

	u := s.primaryURL + "/" + relpath
	serial, err := s.primarySerial(ctx, u)
	if err != nil {
		s.l.Error("asking primary", zap.String("relpath", relpath), zap.String("url", u), zap.Error(err))
		s.m.replicaWaits.WithLabelValues(outcomeGateway).Inc()
		return nil, err
	}

	start := time.Now()
	if err = s.notifier.WaitTxSerial(ctx, serial); err != nil {
		s.m.replicaWaits.WithLabelValues(outcomeCanceled).Inc()
		return nil, err
	}
	s.m.replicaWaitTime.Observe(time.Since(start).Seconds())

	if err = entry.tx.Refresh(); err != nil {
		return nil, err
	}
	fresh, err := s.GetFileEntry(entry.tx, relpath)
	if err != nil {
		return nil, err
	}
	exists := false
	if fresh != nil {
		if exists, err = fresh.Exists(); err != nil {
			return nil, err
		}
	}
	if !exists {
		err = status.ErrGateway.Wrapf("%s: did not get file after waiting for serial %d", u, serial)
		s.l.Error("replicated file missing", zap.String("relpath", relpath), zap.Int64("serial", serial), zap.Error(err))
		s.m.replicaWaits.WithLabelValues(outcomeGateway).Inc()
		return nil, err
	}

	s.m.replicaWaits.WithLabelValues(outcomeOK).Inc()
	return fresh, nil
}

func (s *FileStore) primarySerial(ctx context.Context, u string) (int64, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodHead, u, nil)
	if err != nil {
		return 0, status.ErrFormat.Wrapf("%s: %v", u, err)
	}
	res, err := s.client.Do(req)
	if err != nil {
		return 0, status.ErrGateway.Wrapf("%s: %v", u, err)
	}
	_ = res.Body.Close()

	if res.StatusCode != http.StatusOK {
		return 0, status.ErrGateway.Wrapf("%s: received %d from primary", u, res.StatusCode)
	}
	serial, err := strconv.ParseInt(res.Header.Get(SerialHeader), 10, 64)
	if err != nil {
		return 0, status.ErrGateway.Wrapf("%s: invalid %s header from primary: %q", u, SerialHeader, res.Header.Get(SerialHeader))
	}
	return serial, nil
}
