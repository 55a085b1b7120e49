package filestore

import (
	"context"
	"net/http"
	"testing"

	"github.com/oneconcern/relstore/pkg/keyfs"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newTestKeyFS(t testing.TB) *keyfs.KeyFS {
	t.Helper()
	k, err := keyfs.New(keyfs.InMemory(), keyfs.Logger(zap.NewNop()))
	require.NoError(t, err)
	t.Cleanup(func() { _ = k.Close() })
	return k
}

func newTestStore(t testing.TB, opts ...Option) *FileStore {
	t.Helper()
	s, err := New(append([]Option{Logger(zap.NewNop())}, opts...)...)
	require.NoError(t, err)
	return s
}

func begin(t testing.TB, k *keyfs.KeyFS, write bool) *keyfs.Tx {
	t.Helper()
	tx, err := k.Begin(context.Background(), write)
	require.NoError(t, err)
	t.Cleanup(func() { _ = tx.Rollback() })
	return tx
}

// countingTx counts record writes
type countingTx struct {
	*keyfs.Tx
	sets int
}

func (c *countingTx) Set(key keyfs.Key, value []byte) error {
	c.sets++
	return c.Tx.Set(key, value)
}

// clientFunc is an HTTPClient answering with canned responses
type clientFunc func(*http.Request) (*http.Response, error)

func (f clientFunc) Do(req *http.Request) (*http.Response, error) {
	return f(req)
}
