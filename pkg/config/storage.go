package config

import (
	_ "embed"
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"
	"gopkg.in/yaml.v3"

	"github.com/veriserve/veriserve/pkg/storage"
)

// IFramePolicy controls whether served assets may be embedded in frames.
type IFramePolicy string

const (
	IFrameDeny       IFramePolicy = "deny"
	IFrameSameOrigin IFramePolicy = "same-origin"
	IFrameAllowAny   IFramePolicy = "allow-any"
)

// RawAccessPolicy controls whether uncertified raw serving is allowed.
type RawAccessPolicy string

const (
	RawAccessDeny  RawAccessPolicy = "deny"
	RawAccessAllow RawAccessPolicy = "allow"
)

// Redirect is one entry of the redirect table.
type Redirect struct {
	Location   string `yaml:"location" json:"location"`
	StatusCode int    `yaml:"status_code" json:"status_code"`
}

// Storage is the process-wide routing and serving policy. It is owned by
// the operator and read-only from the engine's perspective.
type Storage struct {
	// Headers maps a path pattern (exact, or prefix ending in "/*") to
	// extra response headers merged into matching responses.
	Headers map[string][]storage.HeaderField `yaml:"headers" json:"headers"`
	// Rewrites maps a source pattern (exact, or prefix ending in "/*")
	// to a destination full path.
	Rewrites map[string]string `yaml:"rewrites" json:"rewrites"`
	// Redirects maps an exact path to a redirect target. Redirects are
	// terminal: a redirected path need not exist as an asset.
	Redirects map[string]Redirect `yaml:"redirects" json:"redirects"`
	IFrame    IFramePolicy        `yaml:"iframe" json:"iframe"`
	RawAccess RawAccessPolicy     `yaml:"raw_access" json:"raw_access"`
}

//go:embed storage_schema.json
var storageSchema string

// LoadStorage reads, schema-validates, and decodes a storage policy file.
func LoadStorage(path string) (*Storage, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("load storage config %q: %w", path, err)
	}
	return ParseStorage(data)
}

// ParseStorage validates YAML bytes against the embedded schema and
// decodes them.
func ParseStorage(data []byte) (*Storage, error) {
	var generic any
	if err := yaml.Unmarshal(data, &generic); err != nil {
		return nil, fmt.Errorf("storage config: %w", err)
	}

	// Round-trip through JSON so the schema validator sees the value
	// shapes it expects.
	raw, err := json.Marshal(generic)
	if err != nil {
		return nil, fmt.Errorf("storage config: %w", err)
	}
	var doc any
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("storage config: %w", err)
	}

	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource("storage_schema.json", strings.NewReader(storageSchema)); err != nil {
		return nil, fmt.Errorf("storage config schema: %w", err)
	}
	schema, err := compiler.Compile("storage_schema.json")
	if err != nil {
		return nil, fmt.Errorf("storage config schema: %w", err)
	}
	if err := schema.Validate(doc); err != nil {
		return nil, fmt.Errorf("storage config invalid: %w", err)
	}

	var cfg Storage
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("storage config: %w", err)
	}
	return &cfg, nil
}

// IFrameOrDefault returns the configured iframe policy, defaulting to
// deny.
func (s *Storage) IFrameOrDefault() IFramePolicy {
	if s == nil || s.IFrame == "" {
		return IFrameDeny
	}
	return s.IFrame
}

// RawAccessOrDefault returns the configured raw-access policy, defaulting
// to allow.
func (s *Storage) RawAccessOrDefault() RawAccessPolicy {
	if s == nil || s.RawAccess == "" {
		return RawAccessAllow
	}
	return s.RawAccess
}

// Redirect returns the redirect table entry for an exact path.
func (s *Storage) Redirect(path string) (Redirect, bool) {
	if s == nil {
		return Redirect{}, false
	}
	r, ok := s.Redirects[path]
	return r, ok
}

// MatchRewrite tests path against the rewrite table. Exact sources win
// over wildcard sources; among wildcard sources the longest prefix wins.
func (s *Storage) MatchRewrite(path string) (destination, source string, ok bool) {
	if s == nil {
		return "", "", false
	}
	if dest, exact := s.Rewrites[path]; exact {
		return dest, path, true
	}

	sources := make([]string, 0, len(s.Rewrites))
	for src := range s.Rewrites {
		sources = append(sources, src)
	}
	sort.Slice(sources, func(i, j int) bool { return len(sources[i]) > len(sources[j]) })

	for _, src := range sources {
		if matchPattern(src, path) {
			return s.Rewrites[src], src, true
		}
	}
	return "", "", false
}

// MatchHeaders returns the extra headers configured for a path, merging
// every matching pattern.
func (s *Storage) MatchHeaders(path string) []storage.HeaderField {
	if s == nil {
		return nil
	}
	var out []storage.HeaderField
	for pattern, headers := range s.Headers {
		if pattern == path || matchPattern(pattern, path) {
			out = append(out, headers...)
		}
	}
	return out
}

// matchPattern matches a "/*"-suffixed pattern as a path prefix.
func matchPattern(pattern, path string) bool {
	prefix, ok := strings.CutSuffix(pattern, "/*")
	if !ok {
		return false
	}
	return prefix == "" || path == prefix || strings.HasPrefix(path, prefix+"/")
}
