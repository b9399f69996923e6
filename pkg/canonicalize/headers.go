// Package canonicalize produces RFC 8785 (JSON Canonicalization Scheme)
// canonical forms for deterministic hashing. Certification leaves embed a
// digest of the response header set; canonicalization guarantees that
// re-serializing or re-ordering headers never changes that digest.
package canonicalize

import (
	"crypto/sha256"
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/gowebpki/jcs"
)

// HeaderPair is one (name, value) header entry.
type HeaderPair struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

// Headers returns the canonical JSON form of a header set. Names are
// lower-cased and the set is sorted by (name, value), so any permutation
// of the same logical headers yields identical bytes.
func Headers(pairs []HeaderPair) ([]byte, error) {
	normalized := make([]HeaderPair, len(pairs))
	for i, p := range pairs {
		normalized[i] = HeaderPair{
			Name:  strings.ToLower(strings.TrimSpace(p.Name)),
			Value: strings.TrimSpace(p.Value),
		}
	}
	sort.Slice(normalized, func(i, j int) bool {
		if normalized[i].Name != normalized[j].Name {
			return normalized[i].Name < normalized[j].Name
		}
		return normalized[i].Value < normalized[j].Value
	})

	raw, err := json.Marshal(normalized)
	if err != nil {
		return nil, fmt.Errorf("canonicalize: marshal headers: %w", err)
	}
	canonical, err := jcs.Transform(raw)
	if err != nil {
		return nil, fmt.Errorf("canonicalize: jcs transform: %w", err)
	}
	return canonical, nil
}

// HeadersDigest returns the SHA-256 digest of the canonical header form.
func HeadersDigest(pairs []HeaderPair) ([sha256.Size]byte, error) {
	canonical, err := Headers(pairs)
	if err != nil {
		return [sha256.Size]byte{}, err
	}
	return sha256.Sum256(canonical), nil
}
