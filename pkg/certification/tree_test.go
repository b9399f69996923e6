package certification

import (
	"crypto/sha256"
	"fmt"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/veriserve/veriserve/pkg/storage"
)

func contentHash(s string) Hash {
	return sha256.Sum256([]byte(s))
}

func mustUpdate(t *testing.T, tree *Tree, fullPath, encoding string, headers []storage.HeaderField, content string) {
	t.Helper()
	require.NoError(t, tree.Update(fullPath, encoding, headers, contentHash(content)))
}

func TestEmptyTreeHasZeroRoot(t *testing.T) {
	tree := New()
	assert.Equal(t, Hash{}, tree.Root())
	assert.Zero(t, tree.Len())
}

func TestRootChangesOnEveryMutation(t *testing.T) {
	tree := New()

	mustUpdate(t, tree, "/a", "identity", nil, "A")
	r1 := tree.Root()
	assert.NotEqual(t, Hash{}, r1)

	mustUpdate(t, tree, "/b", "identity", nil, "B")
	r2 := tree.Root()
	assert.NotEqual(t, r1, r2)

	// Replacing a leaf with different content moves the root again.
	mustUpdate(t, tree, "/a", "identity", nil, "A2")
	r3 := tree.Root()
	assert.NotEqual(t, r2, r3)

	tree.Delete("/b", "identity")
	r4 := tree.Root()
	assert.NotEqual(t, r3, r4)
}

func TestRootIsPureFunctionOfLeafSet(t *testing.T) {
	build := func(order []string) Hash {
		tree := New()
		for _, p := range order {
			mustUpdate(t, tree, p, "identity", nil, "content-"+p)
		}
		return tree.Root()
	}

	forward := build([]string{"/a", "/b", "/c", "/d", "/e"})
	reverse := build([]string{"/e", "/d", "/c", "/b", "/a"})
	shuffled := build([]string{"/c", "/a", "/e", "/b", "/d"})

	assert.Equal(t, forward, reverse)
	assert.Equal(t, forward, shuffled)
}

func TestRootConvergesAfterChurn(t *testing.T) {
	// A tree that saw inserts, replacements, and deletes must match a
	// fresh tree built from the surviving leaf set.
	churned := New()
	mustUpdate(t, churned, "/a", "identity", nil, "old")
	mustUpdate(t, churned, "/tmp", "identity", nil, "ephemeral")
	mustUpdate(t, churned, "/b", "identity", nil, "B")
	mustUpdate(t, churned, "/a", "identity", nil, "A")
	churned.Delete("/tmp", "identity")

	fresh := New()
	mustUpdate(t, fresh, "/a", "identity", nil, "A")
	mustUpdate(t, fresh, "/b", "identity", nil, "B")

	assert.Equal(t, fresh.Root(), churned.Root())
}

func TestDeleteAbsentLeafIsNoOp(t *testing.T) {
	tree := New()
	mustUpdate(t, tree, "/a", "identity", nil, "A")
	root := tree.Root()

	tree.Delete("/missing", "identity")
	tree.Delete("/a", "gzip")

	assert.Equal(t, root, tree.Root())
	assert.Equal(t, 1, tree.Len())
}

func TestDistinctLeavesPerEncoding(t *testing.T) {
	tree := New()
	mustUpdate(t, tree, "/a", "identity", nil, "plain")
	mustUpdate(t, tree, "/a", "gzip", nil, "gz")
	assert.Equal(t, 2, tree.Len())
}

func TestSameContentDifferentPathsYieldDifferentLeaves(t *testing.T) {
	tree := New()
	mustUpdate(t, tree, "/a", "identity", nil, "same")
	mustUpdate(t, tree, "/b", "identity", nil, "same")

	leaves := tree.Leaves()
	require.Len(t, leaves, 2)
	assert.Equal(t, leaves[0].ContentHash, leaves[1].ContentHash)
	assert.NotEqual(t, leaves[0].Digest, leaves[1].Digest, "leaf digest must bind the path, not just the content")
}

func TestHeaderChangeRekeysLeaf(t *testing.T) {
	tree := New()
	mustUpdate(t, tree, "/a", "identity", []storage.HeaderField{{Name: "Cache-Control", Value: "max-age=60"}}, "X")
	r1 := tree.Root()

	mustUpdate(t, tree, "/a", "identity", []storage.HeaderField{{Name: "Cache-Control", Value: "no-store"}}, "X")
	r2 := tree.Root()

	assert.NotEqual(t, r1, r2, "identical content under different headers must produce a different leaf")
}

func TestHeaderOrderDoesNotAffectLeaf(t *testing.T) {
	tree := New()
	mustUpdate(t, tree, "/a", "identity", []storage.HeaderField{
		{Name: "Cache-Control", Value: "max-age=60"},
		{Name: "Content-Type", Value: "text/plain"},
	}, "X")
	r1 := tree.Root()

	tree2 := New()
	mustUpdate(t, tree2, "/a", "identity", []storage.HeaderField{
		{Name: "Content-Type", Value: "text/plain"},
		{Name: "Cache-Control", Value: "max-age=60"},
	}, "X")

	assert.Equal(t, r1, tree2.Root())
}

func TestRootOrderIndependenceProperty(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 50

	properties := gopter.NewProperties(parameters)

	properties.Property("insertion order never changes the root", prop.ForAll(
		func(n int, seed int64) bool {
			paths := make([]string, n)
			for i := range paths {
				paths[i] = fmt.Sprintf("/p/%d", i)
			}

			forward := New()
			for _, p := range paths {
				if err := forward.Update(p, "identity", nil, contentHash(p)); err != nil {
					return false
				}
			}

			// Deterministic shuffle from the seed.
			shuffledOrder := make([]string, len(paths))
			copy(shuffledOrder, paths)
			r := seed
			for i := len(shuffledOrder) - 1; i > 0; i-- {
				r = r*6364136223846793005 + 1442695040888963407
				j := int(uint64(r) % uint64(i+1))
				shuffledOrder[i], shuffledOrder[j] = shuffledOrder[j], shuffledOrder[i]
			}
			shuffled := New()
			for _, p := range shuffledOrder {
				if err := shuffled.Update(p, "identity", nil, contentHash(p)); err != nil {
					return false
				}
			}

			return forward.Root() == shuffled.Root()
		},
		gen.IntRange(1, 40),
		gen.Int64(),
	))

	properties.TestingRun(t)
}
