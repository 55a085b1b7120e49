// Copyright © 2018 One Concern

package storage_test

import (
	"bytes"
	"context"
	"testing"

	"github.com/oneconcern/relstore/pkg/storage"
	"github.com/oneconcern/relstore/pkg/storage/localfs"
	opentracing "github.com/opentracing/opentracing-go"
	"github.com/opentracing/opentracing-go/mocktracer"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestInstrument(t *testing.T) {
	tr := mocktracer.New()
	core, logs := observer.New(zapcore.DebugLevel)
	bs := storage.Instrument(tr, zap.New(core), localfs.New(afero.NewMemMapFs()))

	parent := tr.StartSpan("request")
	ctx := opentracing.ContextWithSpan(context.Background(), parent)

	require.NoError(t, bs.Put(ctx, "+files/a/b/c.zip", bytes.NewBufferString("zip"), storage.NoOverWrite))
	has, err := bs.Has(ctx, "+files/a/b/c.zip")
	require.NoError(t, err)
	assert.True(t, has)
	b, err := storage.ReadAll(ctx, bs, "+files/a/b/c.zip")
	require.NoError(t, err)
	assert.Equal(t, "zip", string(b))
	parent.Finish()

	spans := tr.FinishedSpans()
	require.NotEmpty(t, spans)
	parentID := parent.Context().(mocktracer.MockSpanContext).SpanID
	for _, span := range spans[:len(spans)-1] {
		assert.Equal(t, parentID, span.ParentID, span.OperationName)
	}
	assert.Equal(t, "storage.localfs.Put", spans[0].OperationName)

	assert.NotZero(t, logs.FilterMessage("storage put").Len())
	assert.Equal(t, "localfs", logs.All()[0].ContextMap()["store"])

	_, err = storage.OSPath(bs, "+files/a/b/c.zip")
	require.Error(t, err, "in-memory stores have no OS path")

	tr.Reset()
	_, err = bs.Get(context.Background(), "+files/missing")
	require.Error(t, err)
	spans = tr.FinishedSpans()
	require.Len(t, spans, 1)
	assert.Equal(t, true, spans[0].Tag("error"))
	assert.Equal(t, 0, spans[0].ParentID)
}
