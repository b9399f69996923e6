// Package routing resolves an inbound request path to a routing outcome:
// serve an asset directly, rewrite to another asset, redirect, or bounce a
// denied raw-access request. Resolution is a pure function of the request,
// the content store, and the storage policy.
package routing

import (
	"net/url"
	"strings"

	"github.com/veriserve/veriserve/pkg/config"
	"github.com/veriserve/veriserve/pkg/storage"
)

// Routing is the resolved outcome for one request. Exactly one variant is
// returned per resolution; there is no partial or ambiguous result.
type Routing interface {
	routing()
}

// Default serves the asset at URL as-is. A nil Asset means nothing
// resolved and the caller renders its not-found outcome.
type Default struct {
	URL   string
	Asset *storage.Asset
}

// Rewrite serves a different asset than the one addressed. Source is the
// matched rewrite pattern; StatusCode lets a single-page-application
// fallback signal 200 for unmatched routes.
type Rewrite struct {
	URL        string
	Asset      *storage.Asset
	Source     string
	StatusCode int
}

// Redirect bounces the request per the redirect table.
type Redirect struct {
	URL      string
	Redirect config.Redirect
	IFrame   config.IFramePolicy
}

// RedirectRaw bounces a raw-access request that policy denies, pointing
// at the non-raw equivalent URL.
type RedirectRaw struct {
	RedirectURL string
	IFrame      config.IFramePolicy
}

func (Default) routing()     {}
func (Rewrite) routing()     {}
func (Redirect) routing()    {}
func (RedirectRaw) routing() {}

// Variant names an outcome for logs and metrics.
func Variant(r Routing) string {
	switch r.(type) {
	case Default:
		return "default"
	case Rewrite:
		return "rewrite"
	case Redirect:
		return "redirect"
	case RedirectRaw:
		return "redirect_raw"
	default:
		return "unknown"
	}
}

// MapURL is a request URL split into the asset path and the access token
// carried in the query.
type MapURL struct {
	Path  string
	Token string
}

// ParseURL strips the query from a request URL and extracts the "token"
// parameter. The remaining path is the candidate full path.
func ParseURL(rawURL string) MapURL {
	path := rawURL
	token := ""
	if i := strings.IndexByte(rawURL, '?'); i >= 0 {
		path = rawURL[:i]
		if values, err := url.ParseQuery(rawURL[i+1:]); err == nil {
			token = values.Get("token")
		}
	}
	if path == "" {
		path = "/"
	}
	return MapURL{Path: path, Token: token}
}
