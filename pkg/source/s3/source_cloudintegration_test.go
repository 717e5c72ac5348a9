//go:build cloudintegration

package s3_test

import (
	"context"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/3leaps/filecast/pkg/source"
	s3src "github.com/3leaps/filecast/pkg/source/s3"
	"github.com/3leaps/filecast/test/cloudtest"
)

func TestSource_OpenFromMoto(t *testing.T) {
	cloudtest.SkipIfUnavailable(t)
	ctx := context.Background()

	bucket := cloudtest.CreateBucket(t, ctx)
	cloudtest.PutObject(t, ctx, bucket, "clips/intro.mp4", []byte("not really a video"), "video/mp4")

	src, err := s3src.New(ctx, cloudtest.SourceConfig())
	require.NoError(t, err)
	defer func() { _ = src.Close() }()

	obj, err := src.Open(ctx, "s3://"+bucket+"/clips/intro.mp4")
	require.NoError(t, err)
	defer func() { _ = obj.Body.Close() }()

	assert.Equal(t, "intro.mp4", obj.Name)
	assert.Equal(t, int64(18), obj.Size)
	assert.Equal(t, "video/mp4", obj.ContentType)

	data, err := io.ReadAll(obj.Body)
	require.NoError(t, err)
	assert.Equal(t, "not really a video", string(data))
}

func TestSource_MissingObjectFromMoto(t *testing.T) {
	cloudtest.SkipIfUnavailable(t)
	ctx := context.Background()

	bucket := cloudtest.CreateBucket(t, ctx)
	src, err := s3src.New(ctx, cloudtest.SourceConfig())
	require.NoError(t, err)

	_, err = src.Open(ctx, "s3://"+bucket+"/absent.pdf")
	require.Error(t, err)
	assert.True(t, source.IsNotFound(err), "got %v", err)
}

func TestSource_MissingBucketFromMoto(t *testing.T) {
	cloudtest.SkipIfUnavailable(t)
	ctx := context.Background()

	src, err := s3src.New(ctx, cloudtest.SourceConfig())
	require.NoError(t, err)

	_, err = src.Open(ctx, "s3://filecast-no-such-bucket-7f3a/a.txt")
	require.Error(t, err)
	assert.ErrorIs(t, err, source.ErrBucketNotFound)
}
