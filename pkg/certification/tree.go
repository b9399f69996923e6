// Package certification maintains the verifiable hash structure over
// committed assets. Each leaf binds a response identity (full path ×
// encoding plus a canonical header fingerprint) to a content digest; the
// aggregate root is a pure function of the leaf set, so two stores holding
// identical assets produce identical roots regardless of commit order.
package certification

import (
	"bytes"
	"crypto/sha256"
	"sort"
	"sync"

	"github.com/veriserve/veriserve/pkg/canonicalize"
	"github.com/veriserve/veriserve/pkg/storage"
)

// Domain-separation prefixes keep leaf and interior-node preimages
// disjoint.
const (
	leafDomainPrefix = "veriserve:leaf:v1"
	nodeDomainPrefix = "veriserve:node:v1"
)

// Hash is a SHA-256 digest.
type Hash = storage.Hash

// Leaf is one certified response identity.
type Leaf struct {
	FullPath    string
	Encoding    string
	Digest      Hash
	ContentHash Hash
}

// Tree is the certification engine. The zero root (all-zero digest)
// denotes an empty tree.
type Tree struct {
	mu     sync.RWMutex
	leaves map[string]Leaf

	// Rebuilt after every mutation; keys holds the sorted leaf keys in
	// level-0 order so witnesses can locate their leaf index.
	keys   []string
	levels [][]Hash
	root   Hash
}

// New creates an empty certification tree.
func New() *Tree {
	return &Tree{leaves: make(map[string]Leaf)}
}

func leafKey(fullPath, encodingType string) string {
	return fullPath + "\x00" + encodingType
}

// Update inserts or replaces the leaf for (fullPath, encodingType) and
// recomputes the root. The leaf digest covers the canonical header set, so
// a header change re-keys the leaf even when content bytes are unchanged.
// Update is called by the content store strictly before it publishes the
// asset mutation being certified.
func (t *Tree) Update(fullPath storage.FullPath, encodingType storage.EncodingType, headers []storage.HeaderField, contentHash storage.Hash) error {
	pairs := make([]canonicalize.HeaderPair, len(headers))
	for i, h := range headers {
		pairs[i] = canonicalize.HeaderPair{Name: h.Name, Value: h.Value}
	}
	headersDigest, err := canonicalize.HeadersDigest(pairs)
	if err != nil {
		return err
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	t.leaves[leafKey(fullPath, encodingType)] = Leaf{
		FullPath:    fullPath,
		Encoding:    encodingType,
		Digest:      leafDigest(fullPath, encodingType, headersDigest, contentHash),
		ContentHash: contentHash,
	}
	t.rebuildLocked()
	return nil
}

// Delete removes the leaf for (fullPath, encodingType) and recomputes the
// root. Deleting an absent leaf is a no-op.
func (t *Tree) Delete(fullPath storage.FullPath, encodingType storage.EncodingType) {
	t.mu.Lock()
	defer t.mu.Unlock()

	key := leafKey(fullPath, encodingType)
	if _, ok := t.leaves[key]; !ok {
		return
	}
	delete(t.leaves, key)
	t.rebuildLocked()
}

// Root returns the current aggregate root.
func (t *Tree) Root() Hash {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.root
}

// Len returns the number of certified leaves.
func (t *Tree) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.leaves)
}

// Leaves returns the current leaf set sorted by key.
func (t *Tree) Leaves() []Leaf {
	t.mu.RLock()
	defer t.mu.RUnlock()

	out := make([]Leaf, 0, len(t.leaves))
	for _, key := range t.keys {
		out = append(out, t.leaves[key])
	}
	return out
}

// rebuildLocked recomputes the level cache and root from the leaf set:
// sorted leaf digests at level 0, duplicate-last padding on odd levels,
// domain-separated node hashing above.
func (t *Tree) rebuildLocked() {
	t.keys = t.keys[:0]
	for key := range t.leaves {
		t.keys = append(t.keys, key)
	}
	sort.Strings(t.keys)

	if len(t.keys) == 0 {
		t.levels = nil
		t.root = Hash{}
		return
	}

	level := make([]Hash, len(t.keys))
	for i, key := range t.keys {
		level[i] = t.leaves[key].Digest
	}

	t.levels = [][]Hash{level}
	for len(level) > 1 {
		level = buildNextLevel(level)
		t.levels = append(t.levels, level)
	}
	t.root = level[0]
}

func buildNextLevel(level []Hash) []Hash {
	count := len(level)
	if count%2 != 0 {
		level = append(level[:count:count], level[count-1])
		count++
	}
	next := make([]Hash, count/2)
	for i := 0; i < count; i += 2 {
		next[i/2] = nodeHash(level[i], level[i+1])
	}
	return next
}

func leafDigest(fullPath, encodingType string, headersDigest, contentHash Hash) Hash {
	var buf bytes.Buffer
	buf.WriteString(leafDomainPrefix)
	buf.WriteByte(0)
	buf.WriteString(fullPath)
	buf.WriteByte(0)
	buf.WriteString(encodingType)
	buf.WriteByte(0)
	buf.Write(headersDigest[:])
	buf.Write(contentHash[:])
	return sha256.Sum256(buf.Bytes())
}

func nodeHash(left, right Hash) Hash {
	var buf bytes.Buffer
	buf.WriteString(nodeDomainPrefix)
	buf.WriteByte(0)
	buf.Write(left[:])
	buf.Write(right[:])
	return sha256.Sum256(buf.Bytes())
}
