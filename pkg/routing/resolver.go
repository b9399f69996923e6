package routing

import (
	"net/http"

	"github.com/veriserve/veriserve/pkg/config"
	"github.com/veriserve/veriserve/pkg/storage"
)

// AssetSource is the read-only view of the content store the resolver
// needs.
type AssetSource interface {
	Asset(fullPath storage.FullPath) (storage.Asset, bool)
}

// Request is one inbound request to resolve. Raw flags a request that
// arrived on the uncertified raw-serving surface; the transport layer
// decides what counts as raw (e.g. a ".raw." host segment).
type Request struct {
	URL string
	Raw bool
}

// Resolve maps a request to its routing outcome. First match wins:
// raw-access denial, then the redirect table, then direct asset lookup,
// then the rewrite table. When nothing matches, a Default with a nil
// asset is returned and the caller renders not-found.
func Resolve(req Request, src AssetSource, cfg *config.Storage) Routing {
	mapped := ParseURL(req.URL)

	if req.Raw && cfg.RawAccessOrDefault() == config.RawAccessDeny {
		return RedirectRaw{
			RedirectURL: req.URL,
			IFrame:      cfg.IFrameOrDefault(),
		}
	}

	// Redirects are terminal and checked before any asset lookup: a
	// redirected path need not exist as an asset.
	if redirect, ok := cfg.Redirect(mapped.Path); ok {
		return Redirect{
			URL:      mapped.Path,
			Redirect: redirect,
			IFrame:   cfg.IFrameOrDefault(),
		}
	}

	if asset, ok := lookup(src, mapped.Path, mapped.Token); ok {
		return Default{URL: mapped.Path, Asset: asset}
	}

	if destination, source, ok := cfg.MatchRewrite(mapped.Path); ok {
		if asset, resolved := lookup(src, destination, mapped.Token); resolved {
			return Rewrite{
				URL:        destination,
				Asset:      asset,
				Source:     source,
				StatusCode: http.StatusOK,
			}
		}
	}

	return Default{URL: mapped.Path, Asset: nil}
}

// lookup finds a servable asset at fullPath. A token-protected asset with
// a missing or mismatched token behaves exactly like an absent asset so
// unlisted assets leak no existence signal.
func lookup(src AssetSource, fullPath storage.FullPath, token string) (*storage.Asset, bool) {
	asset, ok := src.Asset(fullPath)
	if !ok || len(asset.Encodings) == 0 {
		return nil, false
	}
	if asset.Key.Token != "" && asset.Key.Token != token {
		return nil, false
	}
	return &asset, true
}
