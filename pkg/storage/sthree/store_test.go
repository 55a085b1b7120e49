// Copyright © 2018 One Concern

package sthree

import (
	"bytes"
	"context"
	"os"
	"testing"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/credentials"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/s3"
	"github.com/oneconcern/relstore/internal/rand"
	"github.com/oneconcern/relstore/pkg/errors"
	"github.com/oneconcern/relstore/pkg/storage"
	"github.com/oneconcern/relstore/pkg/storage/status"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// these tests run against a minio server, e.g. RELSTORE_TEST_S3_ENDPOINT=http://127.0.0.1:9000
const endpointEnv = "RELSTORE_TEST_S3_ENDPOINT"

func TestS3Store(t *testing.T) {
	bs, cleanup := setupStore(t)
	defer cleanup()
	ctx := context.Background()

	has, err := bs.Has(ctx, "+f/abc/def/sixteentons")
	require.NoError(t, err)
	require.True(t, has)

	has, err = bs.Has(ctx, "fifteentons")
	require.NoError(t, err)
	require.False(t, has)

	b, err := storage.ReadAll(ctx, bs, "+f/abc/def/sixteentons")
	require.NoError(t, err)
	assert.Equal(t, "this is the text", string(b))

	_, err = bs.GetAttr(ctx, "fifteentons")
	assert.True(t, errors.Is(err, status.ErrNotExists))

	err = bs.Put(ctx, "+f/abc/def/sixteentons", bytes.NewBufferString("again"), storage.NoOverWrite)
	assert.True(t, errors.Is(err, status.ErrExists))

	require.NoError(t, bs.Put(ctx, "eighteentons", bytes.NewBufferString("here we go once again"), storage.NoOverWrite))
	keys, err := bs.Keys(ctx)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"+f/abc/def/sixteentons", "eighteentons"}, keys)

	require.NoError(t, bs.Delete(ctx, "eighteentons"))
	require.NoError(t, bs.Clear(ctx))
	keys, _ = bs.Keys(ctx)
	assert.Empty(t, keys)
}

func setupStore(t testing.TB) (storage.Store, func()) {
	t.Helper()

	endpoint := os.Getenv(endpointEnv)
	if endpoint == "" {
		t.Skipf("%s is not set", endpointEnv)
	}

	bucket := aws.String(rand.LetterString(15))
	minioConfig := &aws.Config{
		Credentials:      credentials.NewStaticCredentials("access-key", "secret-key-thing", ""),
		Region:           aws.String("us-west-2"),
		Endpoint:         aws.String(endpoint),
		S3ForcePathStyle: aws.Bool(true),
	}
	sess, err := session.NewSession(minioConfig)
	require.NoError(t, err)

	cl := s3.New(sess)
	_, err = cl.CreateBucket(&s3.CreateBucketInput{
		Bucket: bucket,
		CreateBucketConfiguration: &s3.CreateBucketConfiguration{
			LocationConstraint: aws.String("us-west-2"),
		},
	})
	require.NoError(t, err)

	cleanup := func() {
		_, _ = cl.DeleteBucket(&s3.DeleteBucketInput{Bucket: bucket})
	}

	bs, err := New(Bucket(*bucket), AWSConfig(minioConfig), Prefix("files/"))
	require.NoError(t, err)
	require.NoError(t, bs.Put(context.Background(), "+f/abc/def/sixteentons", bytes.NewBufferString("this is the text"), storage.OverWrite))

	return bs, cleanup
}
