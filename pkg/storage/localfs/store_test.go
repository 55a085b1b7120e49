// Copyright © 2018 One Concern

package localfs

import (
	"bytes"
	"context"
	"io/ioutil"
	"path/filepath"
	"testing"

	"github.com/oneconcern/relstore/pkg/errors"
	"github.com/oneconcern/relstore/pkg/storage"
	"github.com/oneconcern/relstore/pkg/storage/status"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHas(t *testing.T) {
	bs := setupStore(t)

	has, err := bs.Has(context.Background(), "sixteentons")
	require.NoError(t, err)
	require.True(t, has)

	has, err = bs.Has(context.Background(), "+files/abc/def/seventeentons")
	require.NoError(t, err)
	require.True(t, has)

	has, err = bs.Has(context.Background(), "fifteentons")
	require.NoError(t, err)
	require.False(t, has)

	has, err = bs.Has(context.Background(), "+files/abc")
	require.NoError(t, err)
	require.False(t, has, "directories are not objects")
}

func TestGet(t *testing.T) {
	bs := setupStore(t)

	rdr, err := bs.Get(context.Background(), "sixteentons")
	require.NoError(t, err)
	b, err := ioutil.ReadAll(rdr)
	require.NoError(t, err)
	require.NoError(t, rdr.Close())
	assert.Equal(t, "this is the text", string(b))

	b, err = storage.ReadAll(context.Background(), bs, "+files/abc/def/seventeentons")
	require.NoError(t, err)
	assert.Equal(t, "this is the text for another thing", string(b))

	_, err = bs.Get(context.Background(), "fifteentons")
	require.Error(t, err)
	assert.True(t, errors.Is(err, status.ErrNotExists))
}

func TestGetAttr(t *testing.T) {
	bs := setupStore(t)

	attr, err := bs.GetAttr(context.Background(), "sixteentons")
	require.NoError(t, err)
	assert.Equal(t, int64(len("this is the text")), attr.Size)

	_, err = bs.GetAttr(context.Background(), "fifteentons")
	assert.True(t, errors.Is(err, status.ErrNotExists))
}

func TestKeys(t *testing.T) {
	bs := setupStore(t)

	keys, err := bs.Keys(context.Background())
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"sixteentons", "+files/abc/def/seventeentons"}, keys)
}

func TestDelete(t *testing.T) {
	bs := setupStore(t)

	require.NoError(t, bs.Delete(context.Background(), "+files/abc/def/seventeentons"))
	k, _ := bs.Keys(context.Background())
	assert.Len(t, k, 1)

	// deleting twice is not an error
	require.NoError(t, bs.Delete(context.Background(), "+files/abc/def/seventeentons"))
}

func TestClear(t *testing.T) {
	bs := setupStore(t)

	require.NoError(t, bs.Clear(context.Background()))
	k, _ := bs.Keys(context.Background())
	require.Empty(t, k)
}

func TestPut(t *testing.T) {
	bs := setupStore(t)

	content := bytes.NewBufferString("here we go once again")
	err := bs.Put(context.Background(), "+files/012/3456/eighteentons", content, storage.NoOverWrite)
	require.NoError(t, err)

	b, err := storage.ReadAll(context.Background(), bs, "+files/012/3456/eighteentons")
	require.NoError(t, err)
	assert.Equal(t, "here we go once again", string(b))

	k, _ := bs.Keys(context.Background())
	assert.Len(t, k, 3, "the staging area is not listed")

	err = bs.Put(context.Background(), "+files/012/3456/eighteentons", bytes.NewBufferString("again"), storage.NoOverWrite)
	assert.True(t, errors.Is(err, status.ErrExists))

	err = bs.Put(context.Background(), "+files/012/3456/eighteentons", bytes.NewBufferString("again"), storage.OverWrite)
	require.NoError(t, err)
	b, err = storage.ReadAll(context.Background(), bs, "+files/012/3456/eighteentons")
	require.NoError(t, err)
	assert.Equal(t, "again", string(b))
}

func TestInvalidKeys(t *testing.T) {
	bs := setupStore(t)

	err := bs.Put(context.Background(), nestedPutStageName+"/x", bytes.NewBufferString("x"), storage.OverWrite)
	assert.True(t, errors.Is(err, status.ErrInvalidResource))

	_, err = bs.Has(context.Background(), "../outside")
	assert.True(t, errors.Is(err, status.ErrInvalidResource))
}

func TestOSPath(t *testing.T) {
	dir := t.TempDir()
	bs := New(afero.NewBasePathFs(afero.NewOsFs(), dir))
	require.NoError(t, bs.Put(context.Background(), "+files/a/b/c.tar.gz", bytes.NewBufferString("x"), storage.OverWrite))

	pth, err := storage.OSPath(bs, "+files/a/b/c.tar.gz")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "+files", "a", "b", "c.tar.gz"), pth)

	b, err := ioutil.ReadFile(pth)
	require.NoError(t, err)
	assert.Equal(t, "x", string(b))

	_, err = storage.OSPath(setupStore(t), "sixteentons")
	assert.True(t, errors.Is(err, status.ErrNotSupported))
}

func setupStore(t testing.TB) storage.Store {
	t.Helper()

	fs := afero.NewMemMapFs()
	require.NoError(t, afero.WriteFile(fs, "sixteentons", []byte("this is the text"), 0600))
	require.NoError(t, fs.MkdirAll("+files/abc/def", 0700))
	require.NoError(t, afero.WriteFile(fs, "+files/abc/def/seventeentons", []byte("this is the text for another thing"), 0600))

	return New(fs)
}
