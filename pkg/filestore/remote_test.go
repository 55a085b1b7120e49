package filestore

import (
	"bytes"
	"context"
	"io/ioutil"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/oneconcern/relstore/pkg/errors"
	"github.com/oneconcern/relstore/pkg/filestore/status"
	"github.com/oneconcern/relstore/pkg/hashspec"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
	"golang.org/x/time/rate"
)

func origin(t testing.TB, content []byte, hits *int32) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/packages/pkg-1.0.tar.gz", func(w http.ResponseWriter, r *http.Request) {
		if hits != nil {
			atomic.AddInt32(hits, 1)
		}
		w.Header().Set("Last-Modified", testHTTPDate)
		_, _ = w.Write(content)
	})
	mux.HandleFunc("/moved/pkg-1.0.tar.gz", func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, "/packages/pkg-1.0.tar.gz", http.StatusFound)
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func TestFetchRemote(t *testing.T) {
	content := []byte("remote content")
	srv := origin(t, content, nil)
	k := newTestKeyFS(t)
	reg := prometheus.NewPedanticRegistry()
	s := newTestStore(t, Client(srv.Client()), Registerer(reg))

	for _, pth := range []string{"/packages/pkg-1.0.tar.gz", "/moved/pkg-1.0.tar.gz"} {
		tx := begin(t, k, true)
		link, err := ParseLink(srv.URL + pth + "#" + hashspec.Default(content))
		require.NoError(t, err)
		entry, err := s.MapLink(tx, link)
		require.NoError(t, err)

		require.NoError(t, s.FetchRemote(context.Background(), entry))
		read, err := entry.Content()
		require.NoError(t, err)
		assert.Equal(t, content, read)
		assert.Equal(t, testHTTPDate, entry.LastModified())
		assert.Equal(t, link.HashSpec(), entry.HashSpec())
		require.NoError(t, tx.Commit())
	}

	assert.Equal(t, float64(2), testutil.ToFloat64(s.m.remoteFetches.WithLabelValues(outcomeOK)))
	assert.Equal(t, float64(2*len(content)), testutil.ToFloat64(s.m.remoteBytes))
}

func TestFetchRemoteGateway(t *testing.T) {
	srv := origin(t, []byte("x"), nil)
	k := newTestKeyFS(t)
	s := newTestStore(t, Client(srv.Client()))
	tx := begin(t, k, true)

	link, err := ParseLink(srv.URL + "/missing/pkg-1.0.tar.gz")
	require.NoError(t, err)
	entry, err := s.MapLink(tx, link)
	require.NoError(t, err)

	err = s.FetchRemote(context.Background(), entry)
	require.Error(t, err)
	assert.True(t, errors.Is(err, status.ErrGateway))
	assert.Contains(t, err.Error(), "error 404")

	exists, err := entry.Exists()
	require.NoError(t, err)
	assert.False(t, exists)
}

func TestFetchRemoteChecksum(t *testing.T) {
	srv := origin(t, []byte("tampered"), nil)
	k := newTestKeyFS(t)
	s := newTestStore(t, Client(srv.Client()))
	tx := begin(t, k, true)

	link, err := ParseLink(srv.URL + "/packages/pkg-1.0.tar.gz#" + hashspec.Default([]byte("genuine")))
	require.NoError(t, err)
	entry, err := s.MapLink(tx, link)
	require.NoError(t, err)

	err = s.FetchRemote(context.Background(), entry)
	require.Error(t, err)
	assert.True(t, errors.Is(err, status.ErrValidation))

	exists, err := entry.Exists()
	require.NoError(t, err)
	assert.False(t, exists)
}

func TestFetchRemoteEgg(t *testing.T) {
	srv := origin(t, []byte("checkout"), nil)
	k := newTestKeyFS(t)
	s := newTestStore(t, Client(srv.Client()))
	tx := begin(t, k, true)

	link, err := ParseLink(srv.URL + "/packages/pkg-1.0.tar.gz#egg=pkg-dev")
	require.NoError(t, err)
	entry, err := s.MapLink(tx, link)
	require.NoError(t, err)
	// a hash spec recorded on an egg entry is not checked
	require.NoError(t, entry.SetHashSpec(hashspec.Default([]byte("something else"))))

	require.NoError(t, s.FetchRemote(context.Background(), entry))
	assert.Equal(t, hashspec.Default([]byte("checkout")), entry.HashSpec())
}

func TestFetchRemoteContentLength(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/packages/pkg-1.0.tar.gz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Length", "100")
		_, _ = w.Write([]byte("0123456789"))
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	k := newTestKeyFS(t)
	core, logs := observer.New(zap.ErrorLevel)
	s := newTestStore(t, Client(srv.Client()), Logger(zap.New(core)))
	tx := begin(t, k, true)

	link, err := ParseLink(srv.URL + "/packages/pkg-1.0.tar.gz")
	require.NoError(t, err)
	entry, err := s.MapLink(tx, link)
	require.NoError(t, err)

	err = s.FetchRemote(context.Background(), entry)
	require.Error(t, err)
	assert.True(t, errors.Is(err, status.ErrValidation))
	assert.False(t, errors.Is(err, status.ErrGateway))
	assert.Contains(t, err.Error(), "got 10 bytes")
	assert.Contains(t, err.Error(), "expected 100")

	assert.Equal(t, float64(1), testutil.ToFloat64(s.m.remoteFetches.WithLabelValues(outcomeValidation)))
	assert.Equal(t, float64(0), testutil.ToFloat64(s.m.remoteFetches.WithLabelValues(outcomeGateway)))
	assert.Equal(t, 1, logs.FilterMessage("invalid remote file").Len())

	exists, err := entry.Exists()
	require.NoError(t, err)
	assert.False(t, exists)
}

func TestFetchRemoteContentLengthMismatch(t *testing.T) {
	// a client which does not enforce the announced length itself
	k := newTestKeyFS(t)
	client := clientFunc(func(req *http.Request) (*http.Response, error) {
		return &http.Response{
			StatusCode: http.StatusOK,
			Header:     http.Header{"Content-Length": []string{"100"}},
			Body:       ioutil.NopCloser(bytes.NewBufferString("short")),
			Request:    req,
		}, nil
	})
	s := newTestStore(t, Client(client))
	tx := begin(t, k, true)

	link, err := ParseLink("https://example.com/packages/pkg-1.0.tar.gz")
	require.NoError(t, err)
	entry, err := s.MapLink(tx, link)
	require.NoError(t, err)

	err = s.FetchRemote(context.Background(), entry)
	require.Error(t, err)
	assert.True(t, errors.Is(err, status.ErrValidation))
	assert.Contains(t, err.Error(), "got 5 bytes")
}

func TestFetchRemoteReadOnly(t *testing.T) {
	content := []byte("remote content")
	var hits int32
	srv := origin(t, content, &hits)
	k := newTestKeyFS(t)
	s := newTestStore(t, Client(srv.Client()))

	link, err := ParseLink(srv.URL + "/packages/pkg-1.0.tar.gz#" + hashspec.Default(content))
	require.NoError(t, err)
	wtx := begin(t, k, true)
	_, err = s.MapLink(wtx, link)
	require.NoError(t, err)
	require.NoError(t, wtx.Commit())

	rtx := begin(t, k, false)
	key, err := s.linkKey(link)
	require.NoError(t, err)
	entry, err := s.GetFileEntry(rtx, key.Relpath)
	require.NoError(t, err)
	require.NotNil(t, entry)

	err = s.FetchRemote(context.Background(), entry)
	require.Error(t, err)
	assert.True(t, errors.Is(err, status.ErrPrecondition))
	assert.Equal(t, int32(0), atomic.LoadInt32(&hits))

	// downloading does not need a write transaction
	rc, err := s.Download(context.Background(), entry)
	require.NoError(t, err)
	err = s.WriteRemote(context.Background(), entry, rc)
	assert.True(t, errors.Is(err, status.ErrPrecondition))
	require.NoError(t, rtx.Rollback())

	wtx = begin(t, k, true)
	entry, err = s.GetFileEntry(wtx, key.Relpath)
	require.NoError(t, err)
	require.NoError(t, s.WriteRemote(context.Background(), entry, rc))
	read, err := entry.Content()
	require.NoError(t, err)
	assert.Equal(t, content, read)
	assert.Equal(t, int32(1), atomic.LoadInt32(&hits))
}

func TestWriteRemoteStale(t *testing.T) {
	content := []byte("remote content")
	var hits int32
	srv := origin(t, content, &hits)
	k := newTestKeyFS(t)
	s := newTestStore(t, Client(srv.Client()))
	tx := begin(t, k, true)

	first, err := ParseLink(srv.URL + "/packages/pkg-1.0.tar.gz")
	require.NoError(t, err)
	entry, err := s.MapLink(tx, first)
	require.NoError(t, err)
	rc, err := s.Download(context.Background(), entry)
	require.NoError(t, err)

	// the entry now points elsewhere: the earlier download is not written
	second, err := ParseLink(srv.URL + "/moved/pkg-1.0.tar.gz")
	require.NoError(t, err)
	require.NoError(t, entry.SetURL(second.URLNoFragment()))
	require.NoError(t, s.WriteRemote(context.Background(), entry, rc))
	assert.Equal(t, int32(2), atomic.LoadInt32(&hits))

	read, err := entry.Content()
	require.NoError(t, err)
	assert.Equal(t, content, read)
}

func TestFetchRemotePrecondition(t *testing.T) {
	k := newTestKeyFS(t)
	s := newTestStore(t)
	entry := testEntry(t, begin(t, k, true), "pkg-1.0.tar.gz")

	err := s.FetchRemote(context.Background(), entry)
	assert.True(t, errors.Is(err, status.ErrPrecondition))
}

func TestFetchRemoteSingleFlight(t *testing.T) {
	content := []byte("shared content")
	var hits int32
	release := make(chan struct{})
	mux := http.NewServeMux()
	mux.HandleFunc("/packages/pkg-1.0.tar.gz", func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&hits, 1)
		<-release
		_, _ = w.Write(content)
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	s := newTestStore(t, Client(srv.Client()))
	link, err := ParseLink(srv.URL + "/packages/pkg-1.0.tar.gz#" + hashspec.Default(content))
	require.NoError(t, err)

	// concurrent callers, each with its own transaction
	const callers = 3
	var wg sync.WaitGroup
	errs := make(chan error, callers)
	for i := 0; i < callers; i++ {
		tx := begin(t, newTestKeyFS(t), true)
		entry, err := s.MapLink(tx, link)
		require.NoError(t, err)

		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := s.FetchRemote(context.Background(), entry); err != nil {
				errs <- err
				return
			}
			read, err := entry.Content()
			if err == nil && !bytes.Equal(read, content) {
				err = errors.New("unexpected content")
			}
			errs <- err
		}()
	}

	time.Sleep(100 * time.Millisecond)
	close(release)
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}
	assert.Equal(t, int32(1), atomic.LoadInt32(&hits))
}

func TestFetchRemoteSharedCanceled(t *testing.T) {
	content := []byte("shared content")
	var hits int32
	release := make(chan struct{})
	mux := http.NewServeMux()
	mux.HandleFunc("/packages/pkg-1.0.tar.gz", func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&hits, 1)
		<-release
		_, _ = w.Write(content)
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()
	defer func() {
		select {
		case <-release:
		default:
			close(release)
		}
	}()

	s := newTestStore(t, Client(srv.Client()))
	link, err := ParseLink(srv.URL + "/packages/pkg-1.0.tar.gz#" + hashspec.Default(content))
	require.NoError(t, err)

	entryA, err := s.MapLink(begin(t, newTestKeyFS(t), true), link)
	require.NoError(t, err)
	entryB, err := s.MapLink(begin(t, newTestKeyFS(t), true), link)
	require.NoError(t, err)

	ctxA, cancelA := context.WithCancel(context.Background())
	errA := make(chan error, 1)
	go func() { errA <- s.FetchRemote(ctxA, entryA) }()
	require.Eventually(t, func() bool { return atomic.LoadInt32(&hits) == 1 }, 5*time.Second, 10*time.Millisecond)

	errB := make(chan error, 1)
	go func() { errB <- s.FetchRemote(context.Background(), entryB) }()
	time.Sleep(50 * time.Millisecond)

	// the first caller gives up while the download is in flight
	cancelA()
	assert.True(t, errors.Is(<-errA, context.Canceled))

	close(release)
	require.NoError(t, <-errB)
	read, err := entryB.Content()
	require.NoError(t, err)
	assert.Equal(t, content, read)
	assert.Equal(t, int32(1), atomic.LoadInt32(&hits))

	exists, err := entryA.Exists()
	require.NoError(t, err)
	assert.False(t, exists)
}

func TestDownloadTimeout(t *testing.T) {
	release := make(chan struct{})
	defer close(release)
	mux := http.NewServeMux()
	mux.HandleFunc("/packages/pkg-1.0.tar.gz", func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	s := newTestStore(t, Client(srv.Client()), DownloadTimeout(100*time.Millisecond))
	link, err := ParseLink(srv.URL + "/packages/pkg-1.0.tar.gz")
	require.NoError(t, err)
	entry, err := s.MapLink(begin(t, newTestKeyFS(t), true), link)
	require.NoError(t, err)

	err = s.FetchRemote(context.Background(), entry)
	require.Error(t, err)
	assert.True(t, errors.Is(err, status.ErrGateway))
}

func TestFetchRemoteThrottled(t *testing.T) {
	content := []byte("throttled content")
	var hits int32
	srv := origin(t, content, &hits)
	k := newTestKeyFS(t)
	s := newTestStore(t, Client(srv.Client()), FetchRate(rate.Every(time.Hour), 1))

	tx := begin(t, k, true)
	first, err := ParseLink(srv.URL + "/packages/pkg-1.0.tar.gz")
	require.NoError(t, err)
	entry, err := s.MapLink(tx, first)
	require.NoError(t, err)
	require.NoError(t, s.FetchRemote(context.Background(), entry))

	second, err := ParseLink(srv.URL + "/moved/pkg-1.0.tar.gz")
	require.NoError(t, err)
	entry, err = s.MapLink(tx, second)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	err = s.FetchRemote(ctx, entry)
	require.Error(t, err)
	assert.True(t, errors.Is(err, context.DeadlineExceeded))
	assert.Equal(t, int32(1), atomic.LoadInt32(&hits), "the throttled fetch never reaches the origin")

	exists, err := entry.Exists()
	require.NoError(t, err)
	assert.False(t, exists)
}
