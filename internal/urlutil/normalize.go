// Package urlutil turns a discovered link into the canonical form the
// frontier and dedup layers use as their key: §4.1's admission
// pipeline calls Normalizer.Normalize before anything else runs, so
// every later stage — dedup, depth tracking, site-rule matching — sees
// the same string for what is really the same page.
package urlutil

import (
	"net/url"
	"regexp"
	"sort"
	"strings"
)

// Normalizer canonicalizes URLs for dedup-key purposes.
type Normalizer struct {
	// exactIgnore is the literal tracking-param names to strip (from
	// cfg.IgnoreQueryParams); ignorePrefixes additionally strips any
	// param whose name starts with one of these, so a site adding a
	// new utm_* variant doesn't need a config change to be caught.
	exactIgnore    map[string]struct{}
	ignorePrefixes []string

	RemoveTrailingSlash bool
	RemoveDefaultPort   bool
	RemoveFragment      bool
	LowercaseSchemeHost bool
	SortQueryParams     bool
	RemoveWWW           bool
}

// defaultIgnorePrefixes catches tracking-param families even when a
// specific variant isn't named in cfg.IgnoreQueryParams.
var defaultIgnorePrefixes = []string{"utm_"}

// DefaultNormalizer builds a Normalizer that strips ignoreParams (plus
// anything matching defaultIgnorePrefixes) and applies the crawler's
// standard canonicalization rules.
func DefaultNormalizer(ignoreParams []string) *Normalizer {
	exact := make(map[string]struct{}, len(ignoreParams))
	for _, p := range ignoreParams {
		exact[strings.ToLower(p)] = struct{}{}
	}

	return &Normalizer{
		exactIgnore:         exact,
		ignorePrefixes:      defaultIgnorePrefixes,
		RemoveTrailingSlash: true,
		RemoveDefaultPort:   true,
		RemoveFragment:      true,
		LowercaseSchemeHost: true,
		SortQueryParams:     true,
	}
}

// IsTrackingParam reports whether key should be stripped from the
// query string: an exact match against the configured ignore list, or
// a prefix match against a known tracking-param family.
func (n *Normalizer) IsTrackingParam(key string) bool {
	key = strings.ToLower(key)
	if _, ok := n.exactIgnore[key]; ok {
		return true
	}
	for _, prefix := range n.ignorePrefixes {
		if strings.HasPrefix(key, prefix) {
			return true
		}
	}
	return false
}

// Normalize canonicalizes rawURL: lowercases scheme/host, drops
// default ports and the fragment, strips tracking params, sorts the
// remaining query, and collapses path segments. Calling Normalize on
// an already-normalized URL returns it unchanged.
func (n *Normalizer) Normalize(rawURL string) (string, error) {
	u, err := url.Parse(strings.TrimSpace(rawURL))
	if err != nil {
		return "", err
	}

	if n.LowercaseSchemeHost {
		u.Scheme = strings.ToLower(u.Scheme)
		u.Host = strings.ToLower(u.Host)
	}

	if n.RemoveDefaultPort {
		switch {
		case u.Scheme == "http" && strings.HasSuffix(u.Host, ":80"):
			u.Host = strings.TrimSuffix(u.Host, ":80")
		case u.Scheme == "https" && strings.HasSuffix(u.Host, ":443"):
			u.Host = strings.TrimSuffix(u.Host, ":443")
		}
	}

	if n.RemoveWWW {
		u.Host = strings.TrimPrefix(u.Host, "www.")
	}

	if n.RemoveFragment {
		u.Fragment = ""
	}

	u.Path = collapsePath(stripRepeatSlashes(withLeadingSlash(u.Path)))
	if n.RemoveTrailingSlash && len(u.Path) > 1 && strings.HasSuffix(u.Path, "/") {
		u.Path = strings.TrimSuffix(u.Path, "/")
	}

	if u.RawQuery != "" {
		u.RawQuery = n.canonicalQuery(u.Query())
	}

	return u.String(), nil
}

func withLeadingSlash(path string) string {
	if path == "" {
		return "/"
	}
	return path
}

var repeatSlash = regexp.MustCompile(`/+`)

func stripRepeatSlashes(path string) string {
	return repeatSlash.ReplaceAllString(path, "/")
}

// collapsePath resolves "." and ".." path segments the way a browser
// would before issuing the request.
func collapsePath(path string) string {
	segments := strings.Split(path, "/")
	kept := segments[:0]
	for _, seg := range segments {
		switch seg {
		case ".":
		case "..":
			if len(kept) > 0 && kept[len(kept)-1] != "" {
				kept = kept[:len(kept)-1]
			}
		default:
			kept = append(kept, seg)
		}
	}
	if joined := strings.Join(kept, "/"); joined != "" {
		return joined
	}
	return "/"
}

// canonicalQuery drops tracking params and empty-valued duplicates,
// then sorts or re-encodes what remains so two URLs differing only in
// query-param order canonicalize to the same string.
func (n *Normalizer) canonicalQuery(query url.Values) string {
	kept := url.Values{}
	for key, values := range query {
		if n.IsTrackingParam(key) {
			continue
		}
		for _, v := range values {
			if v != "" || len(values) == 1 {
				kept.Add(key, v)
			}
		}
	}

	if n.SortQueryParams {
		return sortedQueryString(kept)
	}
	return kept.Encode()
}

func sortedQueryString(query url.Values) string {
	if len(query) == 0 {
		return ""
	}

	keys := make([]string, 0, len(query))
	for k := range query {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var parts []string
	for _, k := range keys {
		values := query[k]
		sort.Strings(values)
		for _, v := range values {
			if v == "" {
				parts = append(parts, url.QueryEscape(k))
			} else {
				parts = append(parts, url.QueryEscape(k)+"="+url.QueryEscape(v))
			}
		}
	}
	return strings.Join(parts, "&")
}

// ExtractHost returns the lowercased host (with port, if any) of rawURL.
func ExtractHost(rawURL string) (string, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "", err
	}
	return strings.ToLower(u.Host), nil
}

// ExtractDomain returns the registrable domain (last two labels) of a
// host. publicsuffix-aware extraction would be more accurate for
// multi-part TLDs (co.uk, com.au) but no such library is used anywhere
// in the example corpus.
func ExtractDomain(host string) string {
	if idx := strings.LastIndex(host, ":"); idx != -1 {
		if !strings.Contains(host, "]") || idx > strings.LastIndex(host, "]") {
			host = host[:idx]
		}
	}

	parts := strings.Split(host, ".")
	if len(parts) >= 2 {
		return strings.Join(parts[len(parts)-2:], ".")
	}
	return host
}

// IsAbsoluteURL reports whether rawURL is an absolute URL.
func IsAbsoluteURL(rawURL string) bool {
	u, err := url.Parse(rawURL)
	return err == nil && u.IsAbs()
}

// ResolveURL resolves ref against base, the way a browser resolves an
// anchor's href against the document it's embedded in.
func ResolveURL(base, ref string) (string, error) {
	baseURL, err := url.Parse(base)
	if err != nil {
		return "", err
	}
	refURL, err := url.Parse(ref)
	if err != nil {
		return "", err
	}
	return baseURL.ResolveReference(refURL).String(), nil
}

// IsSameHost reports whether url1 and url2 share a host.
func IsSameHost(url1, url2 string) bool {
	host1, err1 := ExtractHost(url1)
	host2, err2 := ExtractHost(url2)
	return err1 == nil && err2 == nil && host1 == host2
}

// IsSameDomain reports whether url1 and url2 share a registrable domain.
func IsSameDomain(url1, url2 string) bool {
	host1, err1 := ExtractHost(url1)
	host2, err2 := ExtractHost(url2)
	if err1 != nil || err2 != nil {
		return false
	}
	return ExtractDomain(host1) == ExtractDomain(host2)
}
