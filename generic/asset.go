package generic

import (
	"net/url"
	"path"
	"strings"
)

// =============================================================================
// ASSET REFERENCE RESOLVER
// =============================================================================

// AssetResolver canonicalizes a photo/document reference into one fetchable
// URL. The backend stores references in several fields and several forms:
// absolute URLs, data: URIs, "uploads/photos/42.png", "/uploads//photos/42.png",
// "42.png", or an object with a url/path inside.
type AssetResolver struct {
	// BaseOrigin is prefixed to path fragments, e.g. "https://api.example.com".
	BaseOrigin string
	// DefaultDir holds bare filenames, e.g. "uploads/photos".
	DefaultDir string
	// Fields are consulted in priority order.
	Fields []string
}

var assetObjectKeys = []string{"url", "secure_url", "path", "src"}

// Resolve returns the URL of the first usable field. Records are consulted in
// the order given, so pass the authoritative record (e.g. the one from the
// database) before locally cached ones. ok is false when nothing is usable;
// callers render their own placeholder.
func (ar AssetResolver) Resolve(records ...Record) (string, bool) {
	for _, rec := range records {
		for _, f := range ar.Fields {
			v, found := Lookup(rec, f)
			if !found {
				continue
			}
			if u, ok := ar.ResolveRef(v); ok {
				return u, true
			}
		}
	}
	return "", false
}

// ResolveRef classifies a single reference value.
func (ar AssetResolver) ResolveRef(v any) (string, bool) {
	if obj, ok := asObject(v); ok {
		for _, k := range assetObjectKeys {
			if inner, ok := obj[k]; ok && inner != nil {
				if u, ok := ar.ResolveRef(inner); ok {
					return u, true
				}
			}
		}
		return "", false
	}

	s, ok := v.(string)
	if !ok {
		return "", false
	}
	ref := strings.TrimSpace(s)
	if ref == "" || strings.EqualFold(ref, "null") || strings.EqualFold(ref, "undefined") {
		return "", false
	}

	switch {
	case isAbsoluteURL(ref):
		return ref, true
	case isDataURI(ref):
		return ref, true
	}

	ref = strings.ReplaceAll(ref, `\`, "/")
	if strings.Contains(strings.Trim(ref, "/"), "/") {
		return ar.join(ref), true
	}
	name := strings.Trim(ref, "/")
	if name == "" {
		return "", false
	}
	return ar.join(ar.DefaultDir + "/" + name), true
}

func (ar AssetResolver) join(p string) string {
	clean := path.Clean("/" + p)
	base := strings.TrimRight(strings.TrimSpace(ar.BaseOrigin), "/")
	return base + clean
}

func isAbsoluteURL(s string) bool {
	u, err := url.Parse(s)
	if err != nil {
		return false
	}
	switch strings.ToLower(u.Scheme) {
	case "http", "https":
		return u.Host != ""
	case "blob":
		return true
	}
	return false
}

func isDataURI(s string) bool {
	return len(s) > 5 && strings.EqualFold(s[:5], "data:")
}
