package storage

import (
	"context"
	"crypto/sha256"
	"fmt"
	"time"
)

// InitUpload opens a new upload session targeting the given key and
// returns its batch id. Fails with ErrInvalidKey when the key is
// malformed.
func (e *Engine) InitUpload(init InitAssetKey) (uint64, error) {
	key, err := ValidateInitKey(init)
	if err != nil {
		return 0, err
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	e.nextBatchID++
	batchID := e.nextBatchID
	e.batches[batchID] = Batch{
		Key:          key,
		ExpiresAt:    e.now().Add(e.ttl),
		EncodingType: init.EncodingType,
	}

	e.logger.Debug("upload initialized", "batch_id", batchID, "full_path", key.FullPath)
	return batchID, nil
}

// UploadChunk stores one content fragment in an Open batch and returns the
// chunk id. The batch TTL slides forward on every accepted chunk so slow
// multi-chunk uploads are tolerated. An expired batch is evicted as part
// of the failing call.
func (e *Engine) UploadChunk(batchID uint64, content []byte, orderID *uint64) (uint64, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	batch, ok := e.batches[batchID]
	if !ok {
		return 0, fmt.Errorf("%w: %d", ErrUnknownBatch, batchID)
	}
	if e.now().After(batch.ExpiresAt) {
		e.evictBatchLocked(batchID)
		return 0, fmt.Errorf("%w: %d", ErrExpired, batchID)
	}

	e.nextChunkID++
	chunkID := e.nextChunkID

	order := chunkID
	if orderID != nil {
		order = *orderID
	}
	e.chunks[chunkID] = Chunk{
		BatchID: batchID,
		OrderID: order,
		Content: append([]byte(nil), content...),
	}

	batch.ExpiresAt = e.now().Add(e.ttl)
	e.batches[batchID] = batch

	return chunkID, nil
}

// Commit finalizes a batch into a durable asset encoding. The chunk id
// ordering defines the byte order of the encoding; chunks uploaded but not
// listed are discarded (left for the TTL sweep). Commit is atomic: the
// asset mutation and its certification update land together or not at all.
// On validation failure the batch stays Open so the caller may retry.
func (e *Engine) Commit(ctx context.Context, cb CommitBatch) (AssetNoContent, error) {
	e.mu.Lock()

	batch, ok := e.batches[cb.BatchID]
	if !ok {
		e.mu.Unlock()
		return AssetNoContent{}, fmt.Errorf("%w: %d", ErrUnknownBatch, cb.BatchID)
	}
	if e.now().After(batch.ExpiresAt) {
		e.evictBatchLocked(cb.BatchID)
		e.mu.Unlock()
		return AssetNoContent{}, fmt.Errorf("%w: %d expired before commit", ErrUnknownBatch, cb.BatchID)
	}

	chunks, err := e.resolveCommitChunksLocked(batch, cb)
	if err != nil {
		e.mu.Unlock()
		return AssetNoContent{}, err
	}

	encoding := buildEncoding(chunks, e.now())
	encodingType := batch.EncodingType
	if encodingType == "" {
		encodingType = EncodingIdentity
	}

	// Build the full new asset value off to the side; nothing below may
	// touch shared state until certification has succeeded.
	next := e.nextAssetLocked(batch.Key, cb.Headers, encodingType, encoding)

	if err := e.certifyLocked(next); err != nil {
		e.mu.Unlock()
		return AssetNoContent{}, err
	}

	e.assets[next.Key.FullPath] = next
	delete(e.batches, cb.BatchID)
	for _, id := range cb.ChunkIDs {
		delete(e.chunks, id)
	}
	e.mu.Unlock()

	for _, obs := range e.observers {
		obs.AssetCommitted(ctx, next)
	}

	e.logger.Info("batch committed",
		"batch_id", cb.BatchID,
		"full_path", next.Key.FullPath,
		"encoding", encodingType,
		"total_length", encoding.TotalLength,
		"version", next.Version)
	return next.NoContent(), nil
}

// resolveCommitChunksLocked validates the chunk id sequence against the
// batch's uploaded chunks: every id must resolve to a chunk owned by this
// batch and no id may repeat.
func (e *Engine) resolveCommitChunksLocked(batch Batch, cb CommitBatch) ([]Chunk, error) {
	if len(cb.ChunkIDs) == 0 {
		return nil, fmt.Errorf("%w: batch %d commit lists no chunks", ErrCommitMismatch, cb.BatchID)
	}

	seen := make(map[uint64]struct{}, len(cb.ChunkIDs))
	chunks := make([]Chunk, 0, len(cb.ChunkIDs))
	for _, id := range cb.ChunkIDs {
		if _, dup := seen[id]; dup {
			return nil, fmt.Errorf("%w: chunk %d listed twice", ErrCommitMismatch, id)
		}
		seen[id] = struct{}{}

		chunk, ok := e.chunks[id]
		if !ok || chunk.BatchID != cb.BatchID {
			return nil, fmt.Errorf("%w: chunk %d does not belong to batch %d", ErrCommitMismatch, id, cb.BatchID)
		}
		chunks = append(chunks, chunk)
	}
	return chunks, nil
}

func buildEncoding(chunks []Chunk, now time.Time) AssetEncoding {
	hasher := sha256.New()
	content := make([][]byte, len(chunks))
	var totalLength uint64
	for i, chunk := range chunks {
		hasher.Write(chunk.Content)
		content[i] = chunk.Content
		totalLength += uint64(len(chunk.Content))
	}

	var digest Hash
	copy(digest[:], hasher.Sum(nil))

	return AssetEncoding{
		Modified:      now,
		ContentChunks: content,
		TotalLength:   totalLength,
		SHA256:        digest,
	}
}

// nextAssetLocked computes the asset value a commit would publish, leaving
// the stored asset untouched.
func (e *Engine) nextAssetLocked(key AssetKey, headers []HeaderField, encodingType EncodingType, encoding AssetEncoding) Asset {
	now := e.now()

	prev, existed := e.assets[key.FullPath]
	if !existed {
		return Asset{
			Key:       key,
			Headers:   headers,
			Encodings: map[EncodingType]AssetEncoding{encodingType: encoding},
			CreatedAt: now,
			UpdatedAt: now,
			Version:   1,
		}
	}

	encodings := make(map[EncodingType]AssetEncoding, len(prev.Encodings)+1)
	for t, enc := range prev.Encodings {
		encodings[t] = enc
	}
	encodings[encodingType] = encoding

	return Asset{
		Key:       key,
		Headers:   headers,
		Encodings: encodings,
		CreatedAt: prev.CreatedAt,
		UpdatedAt: now,
		Version:   prev.Version + 1,
	}
}

// certifyLocked re-certifies every encoding of the asset value about to be
// published (header changes invalidate the leaves of sibling encodings
// too). A mid-loop failure restores the previously certified leaves so the
// tree never reflects an asset that was not published.
func (e *Engine) certifyLocked(next Asset) error {
	fullPath := next.Key.FullPath
	prev, existed := e.assets[fullPath]

	updated := make([]EncodingType, 0, len(next.Encodings))
	for encodingType, enc := range next.Encodings {
		if err := e.certifier.Update(fullPath, encodingType, next.Headers, enc.SHA256); err != nil {
			for _, t := range updated {
				if existed {
					if prevEnc, ok := prev.Encodings[t]; ok {
						// Restoring a previously accepted leaf cannot fail.
						_ = e.certifier.Update(fullPath, t, prev.Headers, prevEnc.SHA256)
						continue
					}
				}
				e.certifier.Delete(fullPath, t)
			}
			return fmt.Errorf("certify %s (%s): %w", fullPath, encodingType, err)
		}
		updated = append(updated, encodingType)
	}
	return nil
}

// evictBatchLocked removes a batch and every chunk it owns.
func (e *Engine) evictBatchLocked(batchID uint64) {
	delete(e.batches, batchID)
	for id, chunk := range e.chunks {
		if chunk.BatchID == batchID {
			delete(e.chunks, id)
		}
	}
}

// CollectExpired sweeps the session arena: batches past their expiry are
// removed with their chunks, as are chunks orphaned by an earlier commit.
// This sweep is the only reclamation path for abandoned uploads.
func (e *Engine) CollectExpired() int {
	e.mu.Lock()
	defer e.mu.Unlock()

	now := e.now()
	removed := 0
	for id, batch := range e.batches {
		if now.After(batch.ExpiresAt) {
			e.evictBatchLocked(id)
			removed++
		}
	}
	for id, chunk := range e.chunks {
		if _, ok := e.batches[chunk.BatchID]; !ok {
			delete(e.chunks, id)
		}
	}

	if removed > 0 {
		e.logger.Info("expired batches collected", "count", removed)
	}
	return removed
}

// RunGC sweeps expired batches at the given interval until ctx is done.
func (e *Engine) RunGC(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			e.CollectExpired()
		}
	}
}

// OpenBatch reports whether a batch id currently references an Open batch.
func (e *Engine) OpenBatch(batchID uint64) bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	_, ok := e.batches[batchID]
	return ok
}
