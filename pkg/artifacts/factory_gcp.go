//go:build gcp

package artifacts

import (
	"context"
	"fmt"
	"os"
)

func newGCSStoreFromEnv(ctx context.Context) (Store, error) {
	bucket := os.Getenv("MESHPLANE_GCS_BUCKET")
	if bucket == "" {
		return nil, fmt.Errorf("MESHPLANE_GCS_BUCKET is required for the gcs backend")
	}
	return NewGCSStore(ctx, GCSStoreConfig{
		Bucket: bucket,
		Prefix: os.Getenv("MESHPLANE_GCS_PREFIX"),
	})
}
