package storage

import "errors"

// Error kinds surfaced by the upload protocol and the content store. All
// failures are returned synchronously to the immediate caller; nothing is
// retried internally.
var (
	// ErrInvalidKey reports a malformed full path or collection at init.
	ErrInvalidKey = errors.New("invalid asset key")
	// ErrUnknownBatch reports a batch id that is not Open (never existed,
	// already committed, or evicted).
	ErrUnknownBatch = errors.New("unknown batch")
	// ErrExpired reports an access to a batch whose TTL has elapsed. The
	// batch is evicted as part of the failing call.
	ErrExpired = errors.New("batch expired")
	// ErrCommitMismatch reports a chunk set or ordering inconsistency at
	// commit. The batch stays Open; the asset is untouched.
	ErrCommitMismatch = errors.New("commit mismatch")
	// ErrNotFound reports an absent asset or encoding.
	ErrNotFound = errors.New("asset not found")
)
