// Package blobsink offloads committed encoding bytes to content-addressed
// blob storage. The sink is an archive beside the record store: blobs are
// keyed by their SHA-256 digest, so identical content across assets and
// encodings is stored once.
package blobsink

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"github.com/veriserve/veriserve/pkg/storage"
)

// Sink is the contract for content-addressed blob storage.
type Sink interface {
	// Put persists data and returns its "sha256:<hex>" content address.
	Put(ctx context.Context, data []byte) (string, error)
	// Get retrieves data by content address.
	Get(ctx context.Context, address string) ([]byte, error)
	// Exists checks whether a content address is stored.
	Exists(ctx context.Context, address string) (bool, error)
	// Delete removes a blob by content address.
	Delete(ctx context.Context, address string) error
}

const addressPrefix = "sha256:"

func address(data []byte) (addr, hexDigest string) {
	digest := sha256.Sum256(data)
	hexDigest = hex.EncodeToString(digest[:])
	return addressPrefix + hexDigest, hexDigest
}

func parseAddress(addr string) (string, error) {
	if len(addr) <= len(addressPrefix) || addr[:len(addressPrefix)] != addressPrefix {
		return "", fmt.Errorf("invalid content address: %s", addr)
	}
	return addr[len(addressPrefix):], nil
}

// FileSink stores blobs on the local filesystem.
type FileSink struct {
	baseDir string
	mu      sync.RWMutex
}

// NewFileSink creates a file-backed sink rooted at baseDir.
func NewFileSink(baseDir string) (*FileSink, error) {
	if err := os.MkdirAll(baseDir, 0o750); err != nil {
		return nil, fmt.Errorf("ensure blob dir: %w", err)
	}
	return &FileSink{baseDir: baseDir}, nil
}

func (s *FileSink) Put(ctx context.Context, data []byte) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	addr, hexDigest := address(data)
	path := filepath.Join(s.baseDir, hexDigest+".blob")
	if _, err := os.Stat(path); err == nil {
		return addr, nil
	}

	// Write to temp, then rename, so readers never see a partial blob.
	tmpPath := path + ".tmp"
	if err := os.WriteFile(tmpPath, data, 0o640); err != nil {
		return "", fmt.Errorf("write blob: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		_ = os.Remove(tmpPath)
		return "", fmt.Errorf("publish blob: %w", err)
	}
	return addr, nil
}

func (s *FileSink) Get(ctx context.Context, addr string) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	hexDigest, err := parseAddress(addr)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(filepath.Join(s.baseDir, hexDigest+".blob"))
	if err != nil {
		return nil, fmt.Errorf("read blob %s: %w", addr, err)
	}
	return data, nil
}

func (s *FileSink) Exists(ctx context.Context, addr string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	hexDigest, err := parseAddress(addr)
	if err != nil {
		return false, err
	}
	_, err = os.Stat(filepath.Join(s.baseDir, hexDigest+".blob"))
	if err == nil {
		return true, nil
	}
	if os.IsNotExist(err) {
		return false, nil
	}
	return false, fmt.Errorf("stat blob %s: %w", addr, err)
}

func (s *FileSink) Delete(ctx context.Context, addr string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	hexDigest, err := parseAddress(addr)
	if err != nil {
		return err
	}
	if err := os.Remove(filepath.Join(s.baseDir, hexDigest+".blob")); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("delete blob %s: %w", addr, err)
	}
	return nil
}

// Archiver mirrors committed encoding bytes into a Sink. Like the record
// store it is best-effort: archive failures are logged, never propagated.
type Archiver struct {
	sink   Sink
	logger *slog.Logger
}

// NewArchiver wraps a Sink as a storage.CommitObserver.
func NewArchiver(sink Sink, logger *slog.Logger) *Archiver {
	if logger == nil {
		logger = slog.Default()
	}
	return &Archiver{sink: sink, logger: logger}
}

func (a *Archiver) AssetCommitted(ctx context.Context, asset storage.Asset) {
	for encodingType, enc := range asset.Encodings {
		if _, err := a.sink.Put(ctx, enc.Content()); err != nil {
			a.logger.Error("archive encoding failed",
				"full_path", asset.Key.FullPath, "encoding", encodingType, "error", err)
		}
	}
}

// AssetDeleted is a no-op: blobs are content-addressed and may back other
// assets, so deletion is left to out-of-band retention.
func (a *Archiver) AssetDeleted(ctx context.Context, fullPath storage.FullPath) {}
