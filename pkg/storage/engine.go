package storage

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// DefaultBatchTTL is the sliding expiry applied to upload sessions.
const DefaultBatchTTL = 5 * time.Minute

// Certifier is the certification engine as seen from the content store.
// Update must be fallible-first: the engine calls it before publishing the
// asset mutation it certifies, so a failing Update leaves no partial state.
type Certifier interface {
	Update(fullPath FullPath, encodingType EncodingType, headers []HeaderField, contentHash Hash) error
	Delete(fullPath FullPath, encodingType EncodingType)
}

// CommitObserver is notified after an asset mutation has been published
// together with its certification update. Observers are best-effort
// collaborators (durable record stores, blob sinks); their failures are
// logged, never propagated, and never roll back the commit.
type CommitObserver interface {
	AssetCommitted(ctx context.Context, asset Asset)
	AssetDeleted(ctx context.Context, fullPath FullPath)
}

// Engine owns the asset table and the upload session arena, and keeps the
// certification tree synchronized with every mutation.
type Engine struct {
	mu sync.RWMutex

	assets  map[FullPath]Asset
	batches map[uint64]Batch
	chunks  map[uint64]Chunk

	nextBatchID uint64
	nextChunkID uint64

	certifier Certifier
	observers []CommitObserver

	ttl    time.Duration
	now    func() time.Time
	logger *slog.Logger
}

// Option configures an Engine.
type Option func(*Engine)

// WithBatchTTL overrides the sliding upload-session TTL.
func WithBatchTTL(ttl time.Duration) Option {
	return func(e *Engine) { e.ttl = ttl }
}

// WithClock injects the time source.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

// WithObserver registers a post-commit observer.
func WithObserver(obs CommitObserver) Option {
	return func(e *Engine) { e.observers = append(e.observers, obs) }
}

// WithLogger sets the engine logger.
func WithLogger(logger *slog.Logger) Option {
	return func(e *Engine) { e.logger = logger }
}

// NewEngine creates an engine bound to a certification engine.
func NewEngine(certifier Certifier, opts ...Option) *Engine {
	e := &Engine{
		assets:    make(map[FullPath]Asset),
		batches:   make(map[uint64]Batch),
		chunks:    make(map[uint64]Chunk),
		certifier: certifier,
		ttl:       DefaultBatchTTL,
		now:       time.Now,
		logger:    slog.Default(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Asset returns the asset stored at fullPath.
func (e *Engine) Asset(fullPath FullPath) (Asset, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	asset, ok := e.assets[fullPath]
	return asset, ok
}

// Get returns the asset at fullPath or ErrNotFound.
func (e *Engine) Get(fullPath FullPath) (Asset, error) {
	asset, ok := e.Asset(fullPath)
	if !ok {
		return Asset{}, fmt.Errorf("%w: %s", ErrNotFound, fullPath)
	}
	return asset, nil
}

// GetNoContent returns the metadata-only projection of the asset at
// fullPath or ErrNotFound.
func (e *Engine) GetNoContent(fullPath FullPath) (AssetNoContent, error) {
	asset, err := e.Get(fullPath)
	if err != nil {
		return AssetNoContent{}, err
	}
	return asset.NoContent(), nil
}

// List returns metadata-only projections of stored assets. An empty
// collection matches every asset.
func (e *Engine) List(collection string) []AssetNoContent {
	e.mu.RLock()
	defer e.mu.RUnlock()

	out := make([]AssetNoContent, 0, len(e.assets))
	for _, asset := range e.assets {
		if collection != "" && asset.Key.Collection != collection {
			continue
		}
		out = append(out, asset.NoContent())
	}
	return out
}

// Delete removes the asset at fullPath and drops its certification
// leaves. Fails with ErrNotFound when the path is absent.
func (e *Engine) Delete(ctx context.Context, fullPath FullPath) error {
	e.mu.Lock()
	asset, ok := e.assets[fullPath]
	if !ok {
		e.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrNotFound, fullPath)
	}
	for encodingType := range asset.Encodings {
		e.certifier.Delete(fullPath, encodingType)
	}
	delete(e.assets, fullPath)
	e.mu.Unlock()

	for _, obs := range e.observers {
		obs.AssetDeleted(ctx, fullPath)
	}
	e.logger.Info("asset deleted", "full_path", fullPath)
	return nil
}

// Restore republishes an asset without bumping its version, re-certifying
// every encoding. Used by the durability collaborator at startup.
func (e *Engine) Restore(asset Asset) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	for encodingType, enc := range asset.Encodings {
		if err := e.certifier.Update(asset.Key.FullPath, encodingType, asset.Headers, enc.SHA256); err != nil {
			return fmt.Errorf("restore %s (%s): %w", asset.Key.FullPath, encodingType, err)
		}
	}
	e.assets[asset.Key.FullPath] = asset
	return nil
}

// NoContent projects an Asset to its metadata-only form.
func (a Asset) NoContent() AssetNoContent {
	encodings := make(map[EncodingType]AssetEncodingNoContent, len(a.Encodings))
	for encodingType, enc := range a.Encodings {
		encodings[encodingType] = AssetEncodingNoContent{
			Modified:    enc.Modified,
			TotalLength: enc.TotalLength,
			SHA256:      fmt.Sprintf("%x", enc.SHA256),
		}
	}
	return AssetNoContent{
		Key:       a.Key,
		Headers:   a.Headers,
		Encodings: encodings,
		CreatedAt: a.CreatedAt,
		UpdatedAt: a.UpdatedAt,
		Version:   a.Version,
	}
}
