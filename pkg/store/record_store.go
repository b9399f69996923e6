// Package store persists committed assets. It is the durability
// collaborator of the content store: the engine mutates in memory and
// notifies a Recorder, and at startup the saved assets are replayed into
// the engine, which re-certifies them. Certification leaves are a pure
// function of saved assets, so roots agree across restarts by
// construction.
package store

import (
	"context"
	"log/slog"

	"github.com/veriserve/veriserve/pkg/storage"
)

// RecordStore is the contract for persisting committed assets.
type RecordStore interface {
	// SaveAsset upserts an asset with all of its encodings.
	SaveAsset(ctx context.Context, asset storage.Asset) error
	// DeleteAsset removes an asset and its encodings.
	DeleteAsset(ctx context.Context, fullPath storage.FullPath) error
	// LoadAssets returns every saved asset.
	LoadAssets(ctx context.Context) ([]storage.Asset, error)
	Close() error
}

// Recorder bridges the engine's commit notifications to a RecordStore.
// Persistence failures are logged, not propagated: the in-memory state
// stays authoritative for the current process.
type Recorder struct {
	records RecordStore
	logger  *slog.Logger
}

// NewRecorder wraps a RecordStore as a storage.CommitObserver.
func NewRecorder(records RecordStore, logger *slog.Logger) *Recorder {
	if logger == nil {
		logger = slog.Default()
	}
	return &Recorder{records: records, logger: logger}
}

func (r *Recorder) AssetCommitted(ctx context.Context, asset storage.Asset) {
	if err := r.records.SaveAsset(ctx, asset); err != nil {
		r.logger.Error("persist asset failed", "full_path", asset.Key.FullPath, "error", err)
	}
}

func (r *Recorder) AssetDeleted(ctx context.Context, fullPath storage.FullPath) {
	if err := r.records.DeleteAsset(ctx, fullPath); err != nil {
		r.logger.Error("delete persisted asset failed", "full_path", fullPath, "error", err)
	}
}

// RestoreAssets replays every saved asset into the engine. Called once at
// startup before the HTTP surface comes up.
func RestoreAssets(ctx context.Context, records RecordStore, engine *storage.Engine) (int, error) {
	assets, err := records.LoadAssets(ctx)
	if err != nil {
		return 0, err
	}
	for _, asset := range assets {
		if err := engine.Restore(asset); err != nil {
			return 0, err
		}
	}
	return len(assets), nil
}
