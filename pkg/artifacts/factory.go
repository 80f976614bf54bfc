package artifacts

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
)

// StoreType selects the blob backend.
type StoreType string

const (
	StoreTypeFS  StoreType = "fs"
	StoreTypeS3  StoreType = "s3"
	StoreTypeGCS StoreType = "gcs"
)

// NewStoreFromEnv builds a blob store from environment variables.
//
//   - MESHPLANE_ARTIFACT_BACKEND: "fs" (default), "s3", or "gcs"
//   - MESHPLANE_DATA_DIR: base directory for the fs backend (default "data")
//
// S3 backend:
//   - MESHPLANE_S3_BUCKET (required)
//   - MESHPLANE_S3_REGION or AWS_REGION
//   - MESHPLANE_S3_ENDPOINT (optional, MinIO/LocalStack)
//   - MESHPLANE_S3_PREFIX (optional)
//
// GCS backend (requires the gcp build tag):
//   - MESHPLANE_GCS_BUCKET (required)
//   - MESHPLANE_GCS_PREFIX (optional)
func NewStoreFromEnv(ctx context.Context) (Store, error) {
	backend := StoreType(os.Getenv("MESHPLANE_ARTIFACT_BACKEND"))
	if backend == "" {
		backend = StoreTypeFS
	}
	switch backend {
	case StoreTypeFS:
		dataDir := os.Getenv("MESHPLANE_DATA_DIR")
		if dataDir == "" {
			dataDir = "data"
		}
		return NewFileStore(filepath.Join(dataDir, "artifacts"))
	case StoreTypeS3:
		return newS3StoreFromEnv(ctx)
	case StoreTypeGCS:
		return newGCSStoreFromEnv(ctx)
	default:
		return nil, fmt.Errorf("unsupported artifact backend: %s", backend)
	}
}

func newS3StoreFromEnv(ctx context.Context) (Store, error) {
	bucket := os.Getenv("MESHPLANE_S3_BUCKET")
	if bucket == "" {
		return nil, fmt.Errorf("MESHPLANE_S3_BUCKET is required for the s3 backend")
	}
	region := os.Getenv("MESHPLANE_S3_REGION")
	if region == "" {
		region = os.Getenv("AWS_REGION")
	}
	if region == "" {
		region = "us-east-1"
	}
	return NewS3Store(ctx, S3StoreConfig{
		Bucket:   bucket,
		Region:   region,
		Endpoint: os.Getenv("MESHPLANE_S3_ENDPOINT"),
		Prefix:   os.Getenv("MESHPLANE_S3_PREFIX"),
	})
}
