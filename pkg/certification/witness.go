package certification

import (
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
)

// ErrNotCertified reports a witness request for a response identity that
// has no leaf in the tree.
var ErrNotCertified = errors.New("not certified")

// ProofStep is one level of an inclusion proof. Side names the position
// of the sibling: "L" when the sibling hash is the left input of the
// parent node, "R" when it is the right input.
type ProofStep struct {
	Side    string `json:"side"`
	Sibling string `json:"sibling"`
}

// Witness is a compact proof that a specific response identity is bound
// to the current root. A client holding the root out of band can detect a
// substituted response without trusting the serving node.
type Witness struct {
	FullPath string      `json:"full_path"`
	Encoding string      `json:"encoding"`
	LeafHash string      `json:"leaf_hash"`
	Root     string      `json:"root"`
	Path     []ProofStep `json:"path"`
}

// Witness produces an inclusion proof for (fullPath, encodingType)
// against the current root. Witnesses go stale on the next mutation of
// the tree; callers compute one immediately before responding.
func (t *Tree) Witness(fullPath, encodingType string) (Witness, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	key := leafKey(fullPath, encodingType)
	leaf, ok := t.leaves[key]
	if !ok {
		return Witness{}, fmt.Errorf("%w: %s (%s)", ErrNotCertified, fullPath, encodingType)
	}

	index := 0
	for i, k := range t.keys {
		if k == key {
			index = i
			break
		}
	}

	var path []ProofStep
	// The last level holds only the root and contributes no step.
	for _, level := range t.levels[:len(t.levels)-1] {
		var step ProofStep
		if index%2 == 0 {
			sibling := index + 1
			if sibling >= len(level) {
				// Odd level: the last node is paired with itself.
				sibling = index
			}
			step = ProofStep{Side: "R", Sibling: hex.EncodeToString(level[sibling][:])}
		} else {
			step = ProofStep{Side: "L", Sibling: hex.EncodeToString(level[index-1][:])}
		}
		path = append(path, step)
		index /= 2
	}

	return Witness{
		FullPath: fullPath,
		Encoding: encodingType,
		LeafHash: hex.EncodeToString(leaf.Digest[:]),
		Root:     hex.EncodeToString(t.root[:]),
		Path:     path,
	}, nil
}

// Verify recomputes the proof path and checks it against expectedRoot.
func Verify(w Witness, expectedRoot Hash) bool {
	current, err := hexToHash(w.LeafHash)
	if err != nil {
		return false
	}
	for _, step := range w.Path {
		sibling, err := hexToHash(step.Sibling)
		if err != nil {
			return false
		}
		switch step.Side {
		case "L":
			current = nodeHash(sibling, current)
		case "R":
			current = nodeHash(current, sibling)
		default:
			return false
		}
	}

	root, err := hexToHash(w.Root)
	if err != nil {
		return false
	}
	return current == root && current == expectedRoot
}

// Encode serializes the witness for transport in a response header.
func (w Witness) Encode() (string, error) {
	raw, err := json.Marshal(w)
	if err != nil {
		return "", fmt.Errorf("encode witness: %w", err)
	}
	return base64.StdEncoding.EncodeToString(raw), nil
}

// DecodeWitness reverses Encode.
func DecodeWitness(s string) (Witness, error) {
	raw, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		return Witness{}, fmt.Errorf("decode witness: %w", err)
	}
	var w Witness
	if err := json.Unmarshal(raw, &w); err != nil {
		return Witness{}, fmt.Errorf("decode witness: %w", err)
	}
	return w, nil
}

func hexToHash(s string) (Hash, error) {
	var h Hash
	raw, err := hex.DecodeString(s)
	if err != nil {
		return h, err
	}
	if len(raw) != len(h) {
		return h, fmt.Errorf("bad digest length %d", len(raw))
	}
	copy(h[:], raw)
	return h, nil
}
