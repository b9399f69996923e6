package blobsink

import (
	"context"
	"errors"
	"fmt"
	"io"

	gcstorage "cloud.google.com/go/storage"
)

// GCSSink stores blobs in a Google Cloud Storage bucket.
type GCSSink struct {
	client *gcstorage.Client
	bucket string
	prefix string
}

// GCSConfig holds configuration for GCSSink.
type GCSConfig struct {
	Bucket string
	Prefix string
}

// NewGCSSink creates a GCS-backed sink using application default
// credentials.
func NewGCSSink(ctx context.Context, cfg GCSConfig) (*GCSSink, error) {
	client, err := gcstorage.NewClient(ctx)
	if err != nil {
		return nil, fmt.Errorf("create GCS client: %w", err)
	}
	return &GCSSink{client: client, bucket: cfg.Bucket, prefix: cfg.Prefix}, nil
}

func (s *GCSSink) object(hexDigest string) *gcstorage.ObjectHandle {
	return s.client.Bucket(s.bucket).Object(s.prefix + hexDigest + ".blob")
}

func (s *GCSSink) Put(ctx context.Context, data []byte) (string, error) {
	addr, hexDigest := address(data)
	obj := s.object(hexDigest)

	if _, err := obj.Attrs(ctx); err == nil {
		return addr, nil
	}

	w := obj.NewWriter(ctx)
	w.ContentType = "application/octet-stream"
	if _, err := w.Write(data); err != nil {
		_ = w.Close()
		return "", fmt.Errorf("gcs write: %w", err)
	}
	if err := w.Close(); err != nil {
		return "", fmt.Errorf("gcs close: %w", err)
	}
	return addr, nil
}

func (s *GCSSink) Get(ctx context.Context, addr string) ([]byte, error) {
	hexDigest, err := parseAddress(addr)
	if err != nil {
		return nil, err
	}

	r, err := s.object(hexDigest).NewReader(ctx)
	if err != nil {
		return nil, fmt.Errorf("gcs get %s: %w", addr, err)
	}
	defer func() { _ = r.Close() }()

	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("gcs read %s: %w", addr, err)
	}
	return data, nil
}

func (s *GCSSink) Exists(ctx context.Context, addr string) (bool, error) {
	hexDigest, err := parseAddress(addr)
	if err != nil {
		return false, err
	}
	_, err = s.object(hexDigest).Attrs(ctx)
	if err == nil {
		return true, nil
	}
	if errors.Is(err, gcstorage.ErrObjectNotExist) {
		return false, nil
	}
	return false, fmt.Errorf("gcs attrs %s: %w", addr, err)
}

func (s *GCSSink) Delete(ctx context.Context, addr string) error {
	hexDigest, err := parseAddress(addr)
	if err != nil {
		return err
	}
	if err := s.object(hexDigest).Delete(ctx); err != nil && !errors.Is(err, gcstorage.ErrObjectNotExist) {
		return fmt.Errorf("gcs delete %s: %w", addr, err)
	}
	return nil
}
