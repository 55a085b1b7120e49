// Copyright © 2018 One Concern

package storage

import (
	"context"
	"io"
	"strings"

	opentracing "github.com/opentracing/opentracing-go"
	"github.com/opentracing/opentracing-go/ext"
	tracelog "github.com/opentracing/opentracing-go/log"
	"go.uber.org/zap"
)

// Instrument decorates a store with a tracing span and a debug log for every operation.
//
// Spans are children of the span carried by the context, if any. Failed operations are tagged as errors.
func Instrument(tr opentracing.Tracer, l *zap.Logger, store Store) Store {
	if l == nil {
		l = zap.NewNop()
	}
	return &instrumentedStore{
		store: store,
		tr:    tr,
		l:     l.With(zap.String("store", store.String())),
	}
}

type instrumentedStore struct {
	store Store
	tr    opentracing.Tracer
	l     *zap.Logger
}

// trace starts a span for an operation. The returned func finishes it, recording the error if any.
func (i *instrumentedStore) trace(ctx context.Context, op string, fields ...zap.Field) func(*error) {
	opts := []opentracing.StartSpanOption{ext.SpanKindRPCClient}
	if parent := opentracing.SpanFromContext(ctx); parent != nil {
		opts = append(opts, opentracing.ChildOf(parent.Context()))
	}
	span := i.tr.StartSpan(strings.Join([]string{"storage", i.store.String(), op}, "."), opts...)
	ext.Component.Set(span, "storage")
	i.l.Debug("storage "+strings.ToLower(op), fields...)

	return func(errp *error) {
		if err := *errp; err != nil {
			ext.Error.Set(span, true)
			span.LogFields(tracelog.Error(err))
		}
		span.Finish()
	}
}

func (i *instrumentedStore) Has(ctx context.Context, key string) (has bool, err error) {
	defer i.trace(ctx, "Has", zap.String("key", key))(&err)
	return i.store.Has(ctx, key)
}

func (i *instrumentedStore) Get(ctx context.Context, key string) (rdr io.ReadCloser, err error) {
	defer i.trace(ctx, "Get", zap.String("key", key))(&err)
	return i.store.Get(ctx, key)
}

func (i *instrumentedStore) GetAttr(ctx context.Context, key string) (attr Attributes, err error) {
	defer i.trace(ctx, "GetAttr", zap.String("key", key))(&err)
	return i.store.GetAttr(ctx, key)
}

func (i *instrumentedStore) Put(ctx context.Context, key string, rdr io.Reader, exclusive bool) (err error) {
	defer i.trace(ctx, "Put", zap.String("key", key), zap.Bool("exclusive", exclusive))(&err)
	return i.store.Put(ctx, key, rdr, exclusive)
}

func (i *instrumentedStore) Delete(ctx context.Context, key string) (err error) {
	defer i.trace(ctx, "Delete", zap.String("key", key))(&err)
	return i.store.Delete(ctx, key)
}

func (i *instrumentedStore) Keys(ctx context.Context) (keys []string, err error) {
	defer i.trace(ctx, "Keys")(&err)
	return i.store.Keys(ctx)
}

func (i *instrumentedStore) Clear(ctx context.Context) (err error) {
	defer i.trace(ctx, "Clear")(&err)
	return i.store.Clear(ctx)
}

// OSPath passes through to the decorated store
func (i *instrumentedStore) OSPath(key string) (string, error) {
	return OSPath(i.store, key)
}

func (i *instrumentedStore) String() string {
	return i.store.String()
}
