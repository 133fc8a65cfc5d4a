package storage

import (
	"bytes"
	"context"
	"fmt"
	"path"
	"strings"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"github.com/codebuildervaibhav/transcription-pipeline/internal/types"
)

// MinIOOptions configures the S3-compatible transcript exporter.
type MinIOOptions struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	Bucket    string
	Region    string
	UseSSL    bool
	Prefix    string
}

// MinIOExporter writes transcripts to an S3-compatible bucket.
type MinIOExporter struct {
	client *minio.Client
	bucket string
	prefix string
}

// NewMinIOExporter connects to the endpoint and makes sure the bucket exists.
func NewMinIOExporter(ctx context.Context, opts MinIOOptions) (*MinIOExporter, error) {
	client, err := minio.New(opts.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(opts.AccessKey, opts.SecretKey, ""),
		Secure: opts.UseSSL,
		Region: opts.Region,
	})
	if err != nil {
		return nil, fmt.Errorf("minio connection: %w", err)
	}

	exists, err := client.BucketExists(ctx, opts.Bucket)
	if err != nil {
		return nil, fmt.Errorf("minio bucket check: %w", err)
	}
	if !exists {
		if err := client.MakeBucket(ctx, opts.Bucket, minio.MakeBucketOptions{Region: opts.Region}); err != nil {
			return nil, fmt.Errorf("minio make bucket %s: %w", opts.Bucket, err)
		}
	}

	return &MinIOExporter{
		client: client,
		bucket: opts.Bucket,
		prefix: strings.Trim(opts.Prefix, "/"),
	}, nil
}

func (m *MinIOExporter) Name() string { return "minio" }

// Export stores <prefix>/<yyyy>/<mm>/<dd>/<base>.txt and _meta.json and
// returns the s3:// location of the text object.
func (m *MinIOExporter) Export(ctx context.Context, job *types.Job) (string, error) {
	now := time.Now().UTC()
	dir := path.Join(m.prefix, now.Format("2006/01/02"))
	base := transcriptBaseName(now, job)

	text := []byte(deref(job.FullText))
	txtKey := path.Join(dir, base+".txt")
	if err := m.put(ctx, txtKey, text, "text/plain; charset=utf-8"); err != nil {
		return "", err
	}

	meta, err := transcriptMetadata(job)
	if err != nil {
		return "", err
	}
	if err := m.put(ctx, path.Join(dir, base+"_meta.json"), meta, "application/json"); err != nil {
		return "", err
	}

	return fmt.Sprintf("s3://%s/%s", m.bucket, txtKey), nil
}

func (m *MinIOExporter) put(ctx context.Context, key string, data []byte, contentType string) error {
	_, err := m.client.PutObject(ctx, m.bucket, key, bytes.NewReader(data), int64(len(data)), minio.PutObjectOptions{
		ContentType: contentType,
	})
	if err != nil {
		return fmt.Errorf("minio put %s: %w", key, err)
	}
	return nil
}
