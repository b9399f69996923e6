// Package storage implements the content store and the batch/chunk upload
// protocol: assets keyed by full path, multi-call upload sessions with a
// sliding TTL, and atomic commit of finished encodings together with their
// certification leaves.
package storage

import (
	"crypto/sha256"
	"time"
)

// FullPath is the relative path of an asset, e.g. "/images/logo.png".
// It is the canonical identity of an asset: at most one asset exists per
// full path at any time.
type FullPath = string

// EncodingType names one stored representation of an asset's content,
// e.g. "identity" or "gzip".
type EncodingType = string

// EncodingIdentity is the encoding used when a batch does not name one.
const EncodingIdentity EncodingType = "identity"

// Hash is a SHA-256 digest.
type Hash = [sha256.Size]byte

// HeaderField is one response header attached to an asset.
type HeaderField struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

// AssetKey identifies an asset and carries its access metadata.
type AssetKey struct {
	// Name is the file name, e.g. "logo.png".
	Name string `json:"name"`
	// FullPath is the unique path, e.g. "/images/logo.png".
	FullPath FullPath `json:"full_path"`
	// Token gates resolution of the asset. Empty means public. A request
	// for a token-protected asset without the matching token resolves
	// exactly like a missing asset.
	Token string `json:"token,omitempty"`
	// Collection is the namespace used for list and write access checks.
	Collection string `json:"collection"`
	// Owner is the principal that created the asset.
	Owner string `json:"owner"`
	// Description is free text, useful for search.
	Description string `json:"description,omitempty"`
}

// AssetEncoding is one finished representation of an asset's content.
type AssetEncoding struct {
	Modified time.Time `json:"modified"`
	// ContentChunks holds the content in commit order. Concatenated they
	// form the full body; SHA256 is the digest of that concatenation and
	// TotalLength its byte length.
	ContentChunks [][]byte `json:"-"`
	TotalLength   uint64   `json:"total_length"`
	SHA256        Hash     `json:"-"`
}

// Content returns the full body of the encoding.
func (e AssetEncoding) Content() []byte {
	out := make([]byte, 0, e.TotalLength)
	for _, c := range e.ContentChunks {
		out = append(out, c...)
	}
	return out
}

// Asset is a stored asset with all of its encodings.
type Asset struct {
	Key       AssetKey                       `json:"key"`
	Headers   []HeaderField                  `json:"headers"`
	Encodings map[EncodingType]AssetEncoding `json:"encodings"`
	CreatedAt time.Time                      `json:"created_at"`
	UpdatedAt time.Time                      `json:"updated_at"`
	// Version increments on every successful commit and serves as an
	// optimistic-concurrency token. Zero means never committed.
	Version uint64 `json:"version"`
}

// Batch is an in-progress upload session targeting one asset encoding.
// A batch is Open for as long as it is present in the session arena; commit
// and expiry both remove it.
type Batch struct {
	Key          AssetKey     `json:"key"`
	ExpiresAt    time.Time    `json:"expires_at"`
	EncodingType EncodingType `json:"encoding_type,omitempty"`
}

// Chunk is one ordered fragment of content scoped to a batch.
type Chunk struct {
	BatchID uint64 `json:"batch_id"`
	OrderID uint64 `json:"order_id"`
	Content []byte `json:"content"`
}

// InitAssetKey is the init_upload request: the target key plus the
// encoding the batch will produce.
type InitAssetKey struct {
	Name         string       `json:"name"`
	FullPath     FullPath     `json:"full_path"`
	Token        string       `json:"token,omitempty"`
	Collection   string       `json:"collection"`
	Owner        string       `json:"owner"`
	EncodingType EncodingType `json:"encoding_type,omitempty"`
	Description  string       `json:"description,omitempty"`
}

// CommitBatch finalizes a batch. ChunkIDs defines the byte order of the
// resulting encoding; chunks uploaded to the batch but not listed are
// discarded.
type CommitBatch struct {
	BatchID  uint64        `json:"batch_id"`
	Headers  []HeaderField `json:"headers"`
	ChunkIDs []uint64      `json:"chunk_ids"`
}

// AssetEncodingNoContent is the metadata-only projection of an encoding.
type AssetEncodingNoContent struct {
	Modified    time.Time `json:"modified"`
	TotalLength uint64    `json:"total_length"`
	SHA256      string    `json:"sha256"`
}

// AssetNoContent is the metadata-only projection of an asset, used
// whenever content bytes are not required.
type AssetNoContent struct {
	Key       AssetKey                                `json:"key"`
	Headers   []HeaderField                           `json:"headers"`
	Encodings map[EncodingType]AssetEncodingNoContent `json:"encodings"`
	CreatedAt time.Time                               `json:"created_at"`
	UpdatedAt time.Time                               `json:"updated_at"`
	Version   uint64                                  `json:"version"`
}
