package api

import (
	"encoding/hex"
	"net/http"
	"sort"
	"strconv"
	"strings"

	"github.com/veriserve/veriserve/pkg/config"
	"github.com/veriserve/veriserve/pkg/routing"
	"github.com/veriserve/veriserve/pkg/storage"
)

// WitnessHeader carries the base64 certification witness on served
// responses; clients verify it against the pinned root from /v1/root.
const WitnessHeader = "X-Veriserve-Witness"

// RawHeader flags a request that arrived on the uncertified raw surface.
// The fronting transport sets it when it recognizes a raw host.
const RawHeader = "X-Veriserve-Raw"

// HandleServe resolves a request path against the content store and the
// storage policy and serves the outcome.
func (s *Service) HandleServe(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet && r.Method != http.MethodHead {
		WriteMethodNotAllowed(w)
		return
	}

	raw := r.Header.Get(RawHeader) == "true"
	outcome := routing.Resolve(routing.Request{URL: r.URL.RequestURI(), Raw: raw}, s.Engine, s.Policy)
	s.Metrics.RoutingResolved(r.Context(), routing.Variant(outcome))

	switch o := outcome.(type) {
	case routing.RedirectRaw:
		s.writeIFrame(w)
		w.Header().Set("Location", o.RedirectURL)
		w.WriteHeader(http.StatusPermanentRedirect)

	case routing.Redirect:
		s.writeIFrame(w)
		status := o.Redirect.StatusCode
		if status == 0 {
			status = http.StatusMovedPermanently
		}
		w.Header().Set("Location", o.Redirect.Location)
		w.WriteHeader(status)

	case routing.Rewrite:
		s.serveAsset(w, r, o.URL, o.Asset, o.StatusCode, raw)

	case routing.Default:
		if o.Asset == nil {
			WriteNotFound(w, "No asset at "+o.URL)
			return
		}
		s.serveAsset(w, r, o.URL, o.Asset, http.StatusOK, raw)
	}
}

// serveAsset writes one asset encoding with its headers, the configured
// per-path headers, and, unless serving raw, a certification witness
// computed against the root current at response time.
func (s *Service) serveAsset(w http.ResponseWriter, r *http.Request, url string, asset *storage.Asset, status int, raw bool) {
	encodingType, encoding, ok := selectEncoding(r.Header.Get("Accept-Encoding"), asset)
	if !ok {
		WriteNotFound(w, "No servable encoding at "+url)
		return
	}

	for _, h := range asset.Headers {
		w.Header().Set(h.Name, h.Value)
	}
	for _, h := range s.Policy.MatchHeaders(asset.Key.FullPath) {
		w.Header().Set(h.Name, h.Value)
	}
	s.writeIFrame(w)

	if encodingType != storage.EncodingIdentity {
		w.Header().Set("Content-Encoding", encodingType)
	}
	w.Header().Set("Content-Length", strconv.FormatUint(encoding.TotalLength, 10))
	w.Header().Set("X-Content-Type-Options", "nosniff")

	if !raw {
		witness, err := s.Tree.Witness(asset.Key.FullPath, encodingType)
		if err != nil {
			// A served asset without a leaf means the store and the
			// tree diverged; refuse rather than serve unverifiable.
			WriteDomainError(w, err)
			return
		}
		encoded, err := witness.Encode()
		if err != nil {
			WriteInternal(w, err)
			return
		}
		w.Header().Set(WitnessHeader, encoded)
	}

	w.WriteHeader(status)
	if r.Method == http.MethodHead {
		return
	}
	for _, chunk := range encoding.ContentChunks {
		if _, err := w.Write(chunk); err != nil {
			return
		}
	}
}

// selectEncoding picks the encoding to serve: a client-accepted
// compressed encoding first, then identity, then the lexicographically
// first remaining encoding so selection is deterministic.
func selectEncoding(acceptEncoding string, asset *storage.Asset) (storage.EncodingType, storage.AssetEncoding, bool) {
	accepted := make(map[string]bool)
	for _, part := range strings.Split(acceptEncoding, ",") {
		name := strings.TrimSpace(strings.SplitN(part, ";", 2)[0])
		if name != "" {
			accepted[name] = true
		}
	}

	for _, candidate := range []storage.EncodingType{"br", "gzip"} {
		if accepted[candidate] {
			if enc, ok := asset.Encodings[candidate]; ok {
				return candidate, enc, true
			}
		}
	}
	if enc, ok := asset.Encodings[storage.EncodingIdentity]; ok {
		return storage.EncodingIdentity, enc, true
	}

	types := make([]string, 0, len(asset.Encodings))
	for t := range asset.Encodings {
		types = append(types, t)
	}
	if len(types) == 0 {
		return "", storage.AssetEncoding{}, false
	}
	sort.Strings(types)
	return types[0], asset.Encodings[types[0]], true
}

func (s *Service) writeIFrame(w http.ResponseWriter) {
	switch s.Policy.IFrameOrDefault() {
	case config.IFrameDeny:
		w.Header().Set("X-Frame-Options", "DENY")
		w.Header().Set("Content-Security-Policy", "frame-ancestors 'none'")
	case config.IFrameSameOrigin:
		w.Header().Set("X-Frame-Options", "SAMEORIGIN")
		w.Header().Set("Content-Security-Policy", "frame-ancestors 'self'")
	case config.IFrameAllowAny:
		// No frame restriction headers.
	}
}

func hexDigest(h storage.Hash) string {
	return hex.EncodeToString(h[:])
}
