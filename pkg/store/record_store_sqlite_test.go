package store

import (
	"context"
	"crypto/sha256"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/veriserve/veriserve/pkg/storage"
)

func openTestStore(t *testing.T) *SQLiteRecordStore {
	t.Helper()
	s, err := OpenSQLite(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func sampleAsset(path string) storage.Asset {
	modified := time.Date(2025, 6, 1, 12, 0, 0, 123456789, time.UTC)
	return storage.Asset{
		Key: storage.AssetKey{
			Name:        "file.txt",
			FullPath:    path,
			Collection:  "docs",
			Owner:       "alice",
			Token:       "t0k",
			Description: "sample",
		},
		Headers: []storage.HeaderField{{Name: "Content-Type", Value: "text/plain"}},
		Encodings: map[storage.EncodingType]storage.AssetEncoding{
			storage.EncodingIdentity: {
				Modified:      modified,
				ContentChunks: [][]byte{[]byte("hello "), []byte("world")},
				TotalLength:   11,
				SHA256:        sha256.Sum256([]byte("hello world")),
			},
		},
		CreatedAt: modified,
		UpdatedAt: modified,
		Version:   1,
	}
}

func TestSQLiteSaveLoadRoundTrip(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	want := sampleAsset("/docs/file.txt")
	require.NoError(t, s.SaveAsset(ctx, want))

	assets, err := s.LoadAssets(ctx)
	require.NoError(t, err)
	require.Len(t, assets, 1)

	got := assets[0]
	assert.Equal(t, want.Key, got.Key)
	assert.Equal(t, want.Headers, got.Headers)
	assert.Equal(t, want.Version, got.Version)
	assert.True(t, want.CreatedAt.Equal(got.CreatedAt))

	enc, ok := got.Encodings[storage.EncodingIdentity]
	require.True(t, ok)
	assert.Equal(t, []byte("hello world"), enc.Content(), "chunks collapse to one on reload")
	assert.Equal(t, want.Encodings[storage.EncodingIdentity].SHA256, enc.SHA256)
	assert.Equal(t, uint64(11), enc.TotalLength)
}

func TestSQLiteSaveReplacesEncodings(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	asset := sampleAsset("/a")
	require.NoError(t, s.SaveAsset(ctx, asset))

	// Second save drops the identity encoding and carries gzip only; the
	// stored state must mirror the asset exactly, not accumulate.
	asset.Encodings = map[storage.EncodingType]storage.AssetEncoding{
		"gzip": {
			Modified:      time.Now().UTC(),
			ContentChunks: [][]byte{[]byte("gz")},
			TotalLength:   2,
			SHA256:        sha256.Sum256([]byte("gz")),
		},
	}
	asset.Version = 2
	require.NoError(t, s.SaveAsset(ctx, asset))

	assets, err := s.LoadAssets(ctx)
	require.NoError(t, err)
	require.Len(t, assets, 1)
	assert.Len(t, assets[0].Encodings, 1)
	_, hasGzip := assets[0].Encodings["gzip"]
	assert.True(t, hasGzip)
	assert.Equal(t, uint64(2), assets[0].Version)
}

func TestSQLiteDeleteAsset(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.SaveAsset(ctx, sampleAsset("/a")))
	require.NoError(t, s.SaveAsset(ctx, sampleAsset("/b")))

	require.NoError(t, s.DeleteAsset(ctx, "/a"))

	assets, err := s.LoadAssets(ctx)
	require.NoError(t, err)
	require.Len(t, assets, 1)
	assert.Equal(t, "/b", assets[0].Key.FullPath)

	// Deleting an absent path is not an error.
	assert.NoError(t, s.DeleteAsset(ctx, "/missing"))
}

func TestRestoreAssets(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.SaveAsset(ctx, sampleAsset("/a")))
	require.NoError(t, s.SaveAsset(ctx, sampleAsset("/b")))

	cert := &recordingCertifier{leaves: make(map[string]storage.Hash)}
	engine := storage.NewEngine(cert)

	count, err := RestoreAssets(ctx, s, engine)
	require.NoError(t, err)
	assert.Equal(t, 2, count)

	asset, err := engine.Get("/a")
	require.NoError(t, err)
	assert.Equal(t, uint64(1), asset.Version)
	assert.Len(t, cert.leaves, 2, "restore must re-certify every encoding")
}

func TestRecorderSwallowsFailures(t *testing.T) {
	// A recorder over a closed store must log, not panic or propagate.
	s := openTestStore(t)
	require.NoError(t, s.Close())

	rec := NewRecorder(s, nil)
	rec.AssetCommitted(context.Background(), sampleAsset("/a"))
	rec.AssetDeleted(context.Background(), "/a")
}

type recordingCertifier struct {
	leaves map[string]storage.Hash
}

func (c *recordingCertifier) Update(fullPath storage.FullPath, encodingType storage.EncodingType, _ []storage.HeaderField, contentHash storage.Hash) error {
	c.leaves[fullPath+"\x00"+encodingType] = contentHash
	return nil
}

func (c *recordingCertifier) Delete(fullPath storage.FullPath, encodingType storage.EncodingType) {
	delete(c.leaves, fullPath+"\x00"+encodingType)
}
