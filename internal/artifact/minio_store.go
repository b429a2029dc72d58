package artifact

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"github.com/pavetsu14/dockhand/internal/config"
)

// MinioStore keeps artifacts in an S3-compatible bucket under
// <run-id>/<artifact-name>.
type MinioStore struct {
	client *minio.Client
	bucket string
}

// NewMinioStore connects to the configured endpoint and ensures the bucket
// exists.
func NewMinioStore(ctx context.Context, cfg config.ArtifactStoreConfig) (*MinioStore, error) {
	if strings.TrimSpace(cfg.Endpoint) == "" {
		return nil, fmt.Errorf("s3 endpoint is required")
	}
	if strings.Contains(cfg.Endpoint, "://") {
		return nil, fmt.Errorf("s3 endpoint must not include scheme: %q", cfg.Endpoint)
	}
	if strings.TrimSpace(cfg.AccessKey) == "" || strings.TrimSpace(cfg.SecretKey) == "" {
		return nil, fmt.Errorf("s3 credentials are required")
	}
	if strings.TrimSpace(cfg.Bucket) == "" {
		return nil, fmt.Errorf("s3 bucket is required")
	}

	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
		Region: cfg.Region,
	})
	if err != nil {
		return nil, fmt.Errorf("create s3 client: %w", err)
	}

	exists, err := client.BucketExists(ctx, cfg.Bucket)
	if err != nil {
		return nil, fmt.Errorf("check bucket %s: %w", cfg.Bucket, err)
	}
	if !exists {
		if err := client.MakeBucket(ctx, cfg.Bucket, minio.MakeBucketOptions{Region: cfg.Region}); err != nil {
			return nil, fmt.Errorf("create bucket %s: %w", cfg.Bucket, err)
		}
	}
	return &MinioStore{client: client, bucket: cfg.Bucket}, nil
}

// Put uploads the file at sourcePath as <runID>/<name>.
func (s *MinioStore) Put(ctx context.Context, runID, name, sourcePath string) (Record, error) {
	if err := validateKey(runID, name); err != nil {
		return Record{}, err
	}
	src, err := os.Stat(sourcePath)
	if err != nil {
		if os.IsNotExist(err) {
			return Record{}, fmt.Errorf("%w: %s", ErrSourceMissing, sourcePath)
		}
		return Record{}, fmt.Errorf("stat artifact source: %w", err)
	}
	if src.IsDir() {
		return Record{}, fmt.Errorf("artifact source %s is a directory", sourcePath)
	}
	info, err := s.client.FPutObject(ctx, s.bucket, objectKey(runID, name), sourcePath, minio.PutObjectOptions{
		ContentType: "application/octet-stream",
	})
	if err != nil {
		return Record{}, fmt.Errorf("upload artifact: %w", err)
	}
	return Record{RunID: runID, Name: name, Size: info.Size, StoredAt: info.LastModified.UTC()}, nil
}

// Open streams the stored artifact bytes.
func (s *MinioStore) Open(ctx context.Context, runID, name string) (io.ReadCloser, error) {
	if err := validateKey(runID, name); err != nil {
		return nil, err
	}
	key := objectKey(runID, name)
	if _, err := s.client.StatObject(ctx, s.bucket, key, minio.StatObjectOptions{}); err != nil {
		resp := minio.ToErrorResponse(err)
		if resp.Code == "NoSuchKey" {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, key)
		}
		return nil, fmt.Errorf("stat artifact: %w", err)
	}
	obj, err := s.client.GetObject(ctx, s.bucket, key, minio.GetObjectOptions{})
	if err != nil {
		return nil, fmt.Errorf("get artifact: %w", err)
	}
	return obj, nil
}

// List returns artifacts stored under the run prefix.
func (s *MinioStore) List(ctx context.Context, runID string) ([]Record, error) {
	if runID == "" {
		return nil, fmt.Errorf("run id cannot be empty")
	}
	var records []Record
	prefix := runID + "/"
	for obj := range s.client.ListObjects(ctx, s.bucket, minio.ListObjectsOptions{Prefix: prefix, Recursive: true}) {
		if obj.Err != nil {
			return nil, fmt.Errorf("list artifacts: %w", obj.Err)
		}
		records = append(records, Record{
			RunID:    runID,
			Name:     strings.TrimPrefix(obj.Key, prefix),
			Size:     obj.Size,
			StoredAt: obj.LastModified.UTC(),
		})
	}
	return records, nil
}

func objectKey(runID, name string) string {
	return runID + "/" + name
}
