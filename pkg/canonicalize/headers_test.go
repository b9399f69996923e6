package canonicalize

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHeadersOrderIndependent(t *testing.T) {
	a, err := Headers([]HeaderPair{
		{Name: "Content-Type", Value: "text/plain"},
		{Name: "Cache-Control", Value: "max-age=60"},
	})
	require.NoError(t, err)

	b, err := Headers([]HeaderPair{
		{Name: "Cache-Control", Value: "max-age=60"},
		{Name: "Content-Type", Value: "text/plain"},
	})
	require.NoError(t, err)

	assert.Equal(t, a, b)
}

func TestHeadersNormalizesNamesAndWhitespace(t *testing.T) {
	a, err := Headers([]HeaderPair{{Name: "Content-Type", Value: "text/plain"}})
	require.NoError(t, err)

	b, err := Headers([]HeaderPair{{Name: "  content-type ", Value: " text/plain "}})
	require.NoError(t, err)

	assert.Equal(t, a, b)
}

func TestHeadersValueSensitive(t *testing.T) {
	a, err := Headers([]HeaderPair{{Name: "Cache-Control", Value: "max-age=60"}})
	require.NoError(t, err)

	b, err := Headers([]HeaderPair{{Name: "Cache-Control", Value: "no-store"}})
	require.NoError(t, err)

	assert.NotEqual(t, a, b)
}

func TestHeadersRepeatedName(t *testing.T) {
	// Repeated names with distinct values are distinct entries; their
	// relative input order must not matter.
	a, err := Headers([]HeaderPair{
		{Name: "Set-Cookie", Value: "a=1"},
		{Name: "Set-Cookie", Value: "b=2"},
	})
	require.NoError(t, err)

	b, err := Headers([]HeaderPair{
		{Name: "Set-Cookie", Value: "b=2"},
		{Name: "Set-Cookie", Value: "a=1"},
	})
	require.NoError(t, err)

	assert.Equal(t, a, b)
}

func TestHeadersDigestStable(t *testing.T) {
	pairs := []HeaderPair{{Name: "X-Custom", Value: "v"}}

	d1, err := HeadersDigest(pairs)
	require.NoError(t, err)
	d2, err := HeadersDigest(pairs)
	require.NoError(t, err)

	assert.Equal(t, d1, d2)

	empty, err := HeadersDigest(nil)
	require.NoError(t, err)
	assert.NotEqual(t, d1, empty)
}
