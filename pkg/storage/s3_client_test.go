package storage

import (
	"context"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryS3Client(t *testing.T) {
	ctx := context.Background()
	client := NewMemoryS3Client()

	require.NoError(t, client.Upload(ctx, "bucket", "farms/1/photo.jpg", "image/jpeg", strings.NewReader("jpeg")))

	reader, err := client.Download(ctx, "bucket", "farms/1/photo.jpg")
	require.NoError(t, err)
	data, err := io.ReadAll(reader)
	require.NoError(t, err)
	assert.Equal(t, "jpeg", string(data))

	url, err := client.GetPresignedURL(ctx, "bucket", "farms/1/photo.jpg", time.Minute)
	require.NoError(t, err)
	assert.Contains(t, url, "bucket/")

	require.NoError(t, client.Delete(ctx, "bucket", "farms/1/photo.jpg"))
	_, err = client.Download(ctx, "bucket", "farms/1/photo.jpg")
	assert.ErrorIs(t, err, ErrObjectNotFound)
}
