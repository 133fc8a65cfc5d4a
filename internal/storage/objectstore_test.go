package storage

import (
	"context"
	"io"
	"os"
	"strings"
	"testing"

	"github.com/minio/minio-go/v7"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMinIOExporter(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	endpoint := os.Getenv("TEST_MINIO_ENDPOINT")
	if endpoint == "" {
		t.Skip("TEST_MINIO_ENDPOINT not set")
	}

	ctx := context.Background()
	exporter, err := NewMinIOExporter(ctx, MinIOOptions{
		Endpoint:  endpoint,
		AccessKey: os.Getenv("TEST_MINIO_ACCESS_KEY"),
		SecretKey: os.Getenv("TEST_MINIO_SECRET_KEY"),
		Bucket:    "transcripts-test",
		Prefix:    "/tests/",
	})
	require.NoError(t, err)

	location, err := exporter.Export(ctx, completedJob())
	require.NoError(t, err)
	require.True(t, strings.HasPrefix(location, "s3://transcripts-test/tests/"), location)

	key := strings.TrimPrefix(location, "s3://transcripts-test/")
	obj, err := exporter.client.GetObject(ctx, "transcripts-test", key, minio.GetObjectOptions{})
	require.NoError(t, err)
	defer obj.Close()

	body, err := io.ReadAll(obj)
	require.NoError(t, err)
	assert.Equal(t, "hello there world", string(body))
}
