package errors

import (
	stderr "errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestError(t *testing.T) {
	e1 := New("cause1")
	e2 := New("cause2").Wrap(e1)
	e := New("dummy").Wrap(e2)
	e3 := e.Unwrap()
	assert.True(t, Is(e, e1))
	assert.True(t, Is(e, e2))
	assert.True(t, e3 == e2)
}

func TestWrapKeepsSentinel(t *testing.T) {
	sentinel := New("not found")
	cause := stderr.New("no such key")

	wrapped := sentinel.Wrap(cause)
	require.NotSame(t, sentinel, wrapped)

	assert.Nil(t, sentinel.Unwrap(), "the sentinel must not be mutated")
	assert.Equal(t, "not found", sentinel.Error())
	assert.Equal(t, "not found: no such key", wrapped.Error())

	assert.True(t, Is(wrapped, sentinel))
	assert.True(t, Is(wrapped, cause))
	assert.False(t, Is(wrapped, New("not found")), "sentinels compare by identity")

	outer := fmt.Errorf("looking up: %w", wrapped)
	assert.True(t, Is(outer, sentinel))

	var target *Error
	require.True(t, As(outer, &target))
	assert.Equal(t, wrapped, target)
}

func TestWrapf(t *testing.T) {
	sentinel := New("bad gateway")
	err := sentinel.Wrapf("error %d getting %s", 404, "http://example.com/x")

	assert.True(t, Is(err, sentinel))
	assert.Equal(t, "bad gateway: error 404 getting http://example.com/x", err.Error())

	rewrapped := err.Wrap(stderr.New("other"))
	assert.True(t, Is(rewrapped, sentinel))
}
