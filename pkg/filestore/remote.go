package filestore

import (
	"context"
	"fmt"
	"io"
	"io/ioutil"
	"net/http"
	"strconv"

	units "github.com/docker/go-units"
	"github.com/oneconcern/relstore/pkg/errors"
	"github.com/oneconcern/relstore/pkg/filestore/status"
	"github.com/oneconcern/relstore/pkg/hashspec"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

// RemoteContent is content downloaded from the origin of an entry, validated but not yet stored
type RemoteContent struct {
	url          string
	hashSpec     string
	content      []byte
	lastModified string
}

// FetchRemote downloads the content of an entry from its origin URL, and writes it through the entry.
//
// The content length announced by the origin and the recorded hash spec are checked
// before anything is written. Egg fragment entries are not checked against a hash spec.
//
// Concurrent fetches of the same URL share a single download. Each caller writes
// the content through its own entry.
func (s *FileStore) FetchRemote(ctx context.Context, entry *FileEntry) error {
	if !entry.tx.IsWrite() {
		return status.ErrPrecondition.Wrapf("%s: fetching requires a write transaction", entry.Relpath())
	}
	rc, err := s.Download(ctx, entry)
	if err != nil {
		return err
	}
	return rc.writeTo(entry)
}

// WriteRemote writes content downloaded earlier through an entry.
//
// When the entry no longer points to the same origin and hash spec as the download, it is fetched again.
func (s *FileStore) WriteRemote(ctx context.Context, entry *FileEntry, rc *RemoteContent) error {
	if rc == nil || rc.url != entry.URL() || rc.hashSpec != checkedHashSpec(entry) {
		return s.FetchRemote(ctx, entry)
	}
	if !entry.tx.IsWrite() {
		return status.ErrPrecondition.Wrapf("%s: writing requires a write transaction", entry.Relpath())
	}
	return rc.writeTo(entry)
}

// Download the content of an entry from its origin URL, without writing it.
//
// The entry may be bound to a read transaction: the download does not hold any write lock.
// The download itself runs detached from ctx, bounded by the DownloadTimeout of the store,
// so that a caller giving up does not fail the other callers sharing it.
func (s *FileStore) Download(ctx context.Context, entry *FileEntry) (*RemoteContent, error) {
	u := entry.URL()
	if u == "" {
		return nil, status.ErrPrecondition.Wrapf("%s: no origin URL", entry.Relpath())
	}
	hashSpec := checkedHashSpec(entry)
	relpath := entry.Relpath()

	ch := s.flight.DoChan(u+"#"+hashSpec, func() (interface{}, error) {
		dctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.dlTimeout)
		defer cancel()
		return s.download(dctx, relpath, u, hashSpec)
	})
	var res singleflight.Result
	select {
	case res = <-ch:
	case <-ctx.Done():
		s.m.remoteFetches.WithLabelValues(outcomeCanceled).Inc()
		return nil, ctx.Err()
	}
	if res.Err != nil {
		return nil, res.Err
	}
	return res.Val.(*RemoteContent), nil
}

func (rc *RemoteContent) writeTo(entry *FileEntry) error {
	opts := []ContentOption{WithLastModified(rc.lastModified)}
	if rc.hashSpec != "" {
		opts = append(opts, WithHashSpec(rc.hashSpec))
	}
	return entry.SetContent(rc.content, opts...)
}

// checkedHashSpec is the hash spec downloads of an entry are verified against, if any
func checkedHashSpec(entry *FileEntry) string {
	if entry.EggFragment() != "" {
		return ""
	}
	return entry.HashSpec()
}

func (s *FileStore) download(ctx context.Context, relpath, u, hashSpec string) (*RemoteContent, error) {
	if s.limiter != nil {
		if err := s.limiter.Wait(ctx); err != nil {
			s.m.remoteFetches.WithLabelValues(outcomeCanceled).Inc()
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			// the deadline would pass before a fetch slot frees up
			return nil, fmt.Errorf("throttled fetching %s: %v: %w", u, err, context.DeadlineExceeded)
		}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, status.ErrFormat.Wrapf("%s: %v", u, err)
	}
	res, err := s.client.Do(req)
	if err != nil {
		s.l.Error("fetching remote file", zap.String("relpath", relpath), zap.String("url", u), zap.Error(err))
		s.m.remoteFetches.WithLabelValues(outcomeGateway).Inc()
		return nil, status.ErrGateway.Wrapf("getting %s: %v", u, err)
	}
	defer res.Body.Close()

	if res.StatusCode != http.StatusOK {
		err = status.ErrGateway.Wrapf("error %d getting %s", res.StatusCode, u)
		s.l.Error("fetching remote file", zap.String("relpath", relpath), zap.String("url", u), zap.Error(err))
		s.m.remoteFetches.WithLabelValues(outcomeGateway).Inc()
		return nil, err
	}

	final := u
	if res.Request != nil && res.Request.URL != nil {
		final = res.Request.URL.String()
	}
	announced := res.Header.Get("Content-Length")

	content, err := ioutil.ReadAll(res.Body)
	if err != nil {
		if errors.Is(err, io.ErrUnexpectedEOF) && (announced != "" || res.ContentLength > 0) {
			// the transport stops short of the announced length
			if announced == "" {
				announced = strconv.FormatInt(res.ContentLength, 10)
			}
			err = lengthError(relpath, final, announced, len(content))
			s.l.Error("invalid remote file", zap.String("relpath", relpath), zap.String("url", u), zap.Error(err))
			s.m.remoteFetches.WithLabelValues(outcomeValidation).Inc()
			return nil, err
		}
		s.l.Error("reading remote file", zap.String("relpath", relpath), zap.String("url", u), zap.Error(err))
		s.m.remoteFetches.WithLabelValues(outcomeGateway).Inc()
		return nil, status.ErrGateway.Wrapf("reading %s: %v", u, err)
	}
	s.l.Info("reading remote",
		zap.String("url", final),
		zap.String("relpath", relpath),
		zap.String("size", units.HumanSize(float64(len(content)))),
	)

	if err = checkDownload(relpath, final, announced, content, hashSpec); err != nil {
		s.l.Error("invalid remote file", zap.String("relpath", relpath), zap.String("url", u), zap.Error(err))
		s.m.remoteFetches.WithLabelValues(outcomeValidation).Inc()
		return nil, err
	}

	s.m.remoteFetches.WithLabelValues(outcomeOK).Inc()
	s.m.remoteBytes.Add(float64(len(content)))
	return &RemoteContent{
		url:          u,
		hashSpec:     hashSpec,
		content:      content,
		lastModified: res.Header.Get("Last-Modified"),
	}, nil
}

func lengthError(relpath, final, announced string, got int) error {
	return status.ErrValidation.Wrapf("%s: got %d bytes of %q from remote, expected %s",
		relpath, got, final, announced)
}

func checkDownload(relpath, final, announced string, content []byte, hashSpec string) error {
	if announced != "" {
		size, err := strconv.ParseInt(announced, 10, 64)
		if err != nil || size != int64(len(content)) {
			return lengthError(relpath, final, announced, len(content))
		}
	}
	if hashSpec == "" {
		return nil
	}
	msg, err := hashspec.ChecksumError(content, hashSpec)
	if err != nil {
		return err
	}
	if msg != "" {
		return status.ErrValidation.Wrapf("%s: %s", relpath, msg)
	}
	return nil
}

// Fetch populates the content of an entry: from its origin on a primary, through replication on a replica.
//
// The returned entry reflects the state after the fetch.
func (s *FileStore) Fetch(ctx context.Context, entry *FileEntry) (*FileEntry, error) {
	if s.role == Replica {
		return s.FetchViaReplica(ctx, entry)
	}
	if err := s.FetchRemote(ctx, entry); err != nil {
		return nil, err
	}
	return entry, nil
}
