package blobsink

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
)

// SinkType selects the blob storage backend.
type SinkType string

const (
	SinkTypeNone SinkType = "none"
	SinkTypeFS   SinkType = "fs"
	SinkTypeS3   SinkType = "s3"
	SinkTypeGCS  SinkType = "gcs"
)

// NewFromEnv creates a sink from environment variables, or (nil, nil)
// when archiving is disabled.
//
//   - BLOB_SINK: "none" (default), "fs", "s3", or "gcs"
//   - DATA_DIR: base directory for the fs sink (default "data")
//   - BLOB_S3_BUCKET, BLOB_S3_REGION (or AWS_REGION), BLOB_S3_ENDPOINT, BLOB_S3_PREFIX
//   - BLOB_GCS_BUCKET, BLOB_GCS_PREFIX
func NewFromEnv(ctx context.Context) (Sink, error) {
	sinkType := SinkType(os.Getenv("BLOB_SINK"))
	if sinkType == "" {
		sinkType = SinkTypeNone
	}

	switch sinkType {
	case SinkTypeNone:
		return nil, nil
	case SinkTypeFS:
		dataDir := os.Getenv("DATA_DIR")
		if dataDir == "" {
			dataDir = "data"
		}
		return NewFileSink(filepath.Join(dataDir, "blobs"))
	case SinkTypeS3:
		bucket := os.Getenv("BLOB_S3_BUCKET")
		if bucket == "" {
			return nil, fmt.Errorf("BLOB_S3_BUCKET is required for the s3 sink")
		}
		region := os.Getenv("BLOB_S3_REGION")
		if region == "" {
			region = os.Getenv("AWS_REGION")
		}
		return NewS3Sink(ctx, S3Config{
			Bucket:   bucket,
			Region:   region,
			Endpoint: os.Getenv("BLOB_S3_ENDPOINT"),
			Prefix:   os.Getenv("BLOB_S3_PREFIX"),
		})
	case SinkTypeGCS:
		bucket := os.Getenv("BLOB_GCS_BUCKET")
		if bucket == "" {
			return nil, fmt.Errorf("BLOB_GCS_BUCKET is required for the gcs sink")
		}
		return NewGCSSink(ctx, GCSConfig{
			Bucket: bucket,
			Prefix: os.Getenv("BLOB_GCS_PREFIX"),
		})
	default:
		return nil, fmt.Errorf("unsupported blob sink type: %s", sinkType)
	}
}
