package certification

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWitnessVerifies(t *testing.T) {
	tree := New()
	for i := 0; i < 7; i++ {
		mustUpdate(t, tree, fmt.Sprintf("/f/%d", i), "identity", nil, fmt.Sprintf("content-%d", i))
	}

	root := tree.Root()
	for i := 0; i < 7; i++ {
		path := fmt.Sprintf("/f/%d", i)
		w, err := tree.Witness(path, "identity")
		require.NoError(t, err)
		assert.True(t, Verify(w, root), "witness for %s must chain to the root", path)
	}
}

func TestWitnessSingleLeaf(t *testing.T) {
	tree := New()
	mustUpdate(t, tree, "/only", "identity", nil, "X")

	w, err := tree.Witness("/only", "identity")
	require.NoError(t, err)
	assert.Empty(t, w.Path, "a single leaf is its own root")
	assert.Equal(t, w.LeafHash, w.Root)
	assert.True(t, Verify(w, tree.Root()))
}

func TestWitnessUncertifiedIdentity(t *testing.T) {
	tree := New()
	mustUpdate(t, tree, "/a", "identity", nil, "X")

	_, err := tree.Witness("/b", "identity")
	assert.ErrorIs(t, err, ErrNotCertified)

	_, err = tree.Witness("/a", "gzip")
	assert.ErrorIs(t, err, ErrNotCertified)
}

func TestWitnessGoesStaleOnMutation(t *testing.T) {
	tree := New()
	mustUpdate(t, tree, "/a", "identity", nil, "A")
	mustUpdate(t, tree, "/b", "identity", nil, "B")

	w, err := tree.Witness("/a", "identity")
	require.NoError(t, err)
	oldRoot := tree.Root()

	mustUpdate(t, tree, "/c", "identity", nil, "C")

	assert.True(t, Verify(w, oldRoot), "witness stays valid against the root it was issued for")
	assert.False(t, Verify(w, tree.Root()), "witness must not verify against a newer root")
}

func TestVerifyRejectsTampering(t *testing.T) {
	tree := New()
	mustUpdate(t, tree, "/a", "identity", nil, "A")
	mustUpdate(t, tree, "/b", "identity", nil, "B")
	mustUpdate(t, tree, "/c", "identity", nil, "C")
	root := tree.Root()

	w, err := tree.Witness("/b", "identity")
	require.NoError(t, err)
	require.True(t, Verify(w, root))

	tampered := w
	tampered.LeafHash = w.Root
	assert.False(t, Verify(tampered, root))

	require.NotEmpty(t, w.Path)
	tampered = w
	tampered.Path = append([]ProofStep(nil), w.Path...)
	tampered.Path[0].Side = map[string]string{"L": "R", "R": "L"}[w.Path[0].Side]
	assert.False(t, Verify(tampered, root))

	tampered = w
	tampered.Path = append([]ProofStep(nil), w.Path...)
	tampered.Path[0].Sibling = w.LeafHash
	assert.False(t, Verify(tampered, root))

	garbage := w
	garbage.LeafHash = "zz"
	assert.False(t, Verify(garbage, root))
}

func TestWitnessEncodeRoundTrip(t *testing.T) {
	tree := New()
	mustUpdate(t, tree, "/a", "identity", nil, "A")
	mustUpdate(t, tree, "/b", "identity", nil, "B")

	w, err := tree.Witness("/a", "identity")
	require.NoError(t, err)

	encoded, err := w.Encode()
	require.NoError(t, err)

	decoded, err := DecodeWitness(encoded)
	require.NoError(t, err)
	assert.Equal(t, w, decoded)
	assert.True(t, Verify(decoded, tree.Root()))

	_, err = DecodeWitness("not base64 ***")
	assert.Error(t, err)
}
