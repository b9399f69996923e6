package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/veriserve/veriserve/pkg/storage"
)

const sampleConfig = `
headers:
  "/*":
    - name: Cache-Control
      value: "public, max-age=3600"
  "/fonts/*":
    - name: Access-Control-Allow-Origin
      value: "*"
rewrites:
  "/*": "/index.html"
redirects:
  "/old":
    location: "/new"
    status_code: 301
iframe: same-origin
raw_access: deny
`

func TestParseStorage(t *testing.T) {
	cfg, err := ParseStorage([]byte(sampleConfig))
	require.NoError(t, err)

	assert.Equal(t, IFrameSameOrigin, cfg.IFrameOrDefault())
	assert.Equal(t, RawAccessDeny, cfg.RawAccessOrDefault())

	redirect, ok := cfg.Redirect("/old")
	require.True(t, ok)
	assert.Equal(t, "/new", redirect.Location)
	assert.Equal(t, 301, redirect.StatusCode)

	dest, source, ok := cfg.MatchRewrite("/app/route")
	require.True(t, ok)
	assert.Equal(t, "/index.html", dest)
	assert.Equal(t, "/*", source)
}

func TestParseStorageRejectsInvalid(t *testing.T) {
	cases := []struct {
		name string
		yaml string
	}{
		{"unknown key", "unknown_key: true"},
		{"bad iframe", "iframe: maybe"},
		{"bad raw_access", "raw_access: sometimes"},
		{"redirect without location", "redirects:\n  \"/old\":\n    status_code: 301"},
		{"redirect status out of range", "redirects:\n  \"/old\":\n    location: \"/new\"\n    status_code: 200"},
		{"relative rewrite destination", "rewrites:\n  \"/*\": \"index.html\""},
		{"header without name", "headers:\n  \"/*\":\n    - value: x"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := ParseStorage([]byte(tc.yaml))
			assert.Error(t, err)
		})
	}
}

func TestParseStorageEmpty(t *testing.T) {
	cfg, err := ParseStorage([]byte(""))
	require.NoError(t, err)

	assert.Equal(t, IFrameDeny, cfg.IFrameOrDefault())
	assert.Equal(t, RawAccessAllow, cfg.RawAccessOrDefault())
	_, ok := cfg.Redirect("/anything")
	assert.False(t, ok)
}

func TestLoadStorage(t *testing.T) {
	path := filepath.Join(t.TempDir(), "storage.yaml")
	require.NoError(t, os.WriteFile(path, []byte(sampleConfig), 0o600))

	cfg, err := LoadStorage(path)
	require.NoError(t, err)
	assert.Equal(t, IFrameSameOrigin, cfg.IFrame)

	_, err = LoadStorage(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestMatchRewritePrecedence(t *testing.T) {
	cfg := &Storage{Rewrites: map[string]string{
		"/*":        "/index.html",
		"/docs/*":   "/docs.html",
		"/docs/faq": "/faq.html",
	}}

	dest, source, ok := cfg.MatchRewrite("/docs/faq")
	require.True(t, ok)
	assert.Equal(t, "/faq.html", dest, "exact source wins over wildcards")
	assert.Equal(t, "/docs/faq", source)

	dest, _, ok = cfg.MatchRewrite("/docs/guide")
	require.True(t, ok)
	assert.Equal(t, "/docs.html", dest, "longest wildcard prefix wins")

	dest, _, ok = cfg.MatchRewrite("/other")
	require.True(t, ok)
	assert.Equal(t, "/index.html", dest)

	_, _, ok = (&Storage{}).MatchRewrite("/anything")
	assert.False(t, ok)
}

func TestMatchHeadersMergesPatterns(t *testing.T) {
	cfg := &Storage{Headers: map[string][]storage.HeaderField{
		"/*":          {{Name: "Cache-Control", Value: "max-age=60"}},
		"/fonts/*":    {{Name: "Access-Control-Allow-Origin", Value: "*"}},
		"/exact.html": {{Name: "X-Exact", Value: "1"}},
	}}

	got := cfg.MatchHeaders("/fonts/a.woff2")
	assert.Len(t, got, 2)

	got = cfg.MatchHeaders("/exact.html")
	assert.Len(t, got, 2)

	got = cfg.MatchHeaders("/other")
	assert.Len(t, got, 1)
}

func TestMatchPattern(t *testing.T) {
	assert.True(t, matchPattern("/*", "/anything"))
	assert.True(t, matchPattern("/docs/*", "/docs/a"))
	assert.True(t, matchPattern("/docs/*", "/docs"))
	assert.False(t, matchPattern("/docs/*", "/docsish"))
	assert.False(t, matchPattern("/docs", "/docs"), "patterns without /* never prefix-match")
}
