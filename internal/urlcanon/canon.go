// Package urlcanon normalizes and validates crawl URLs so the frontier can
// compare them for deduplication.
package urlcanon

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
)

// ErrInvalidURL reports a URL that cannot be crawled: unparsable, not http(s),
// or missing a host.
var ErrInvalidURL = errors.New("invalid url")

// Canonicalize returns the comparable form of rawURL. It lower-cases the
// scheme and host, drops default ports and the fragment, and strips trailing
// slashes from any path other than the root. Query strings are kept verbatim.
//
// Canonicalize is idempotent. Input that does not parse is returned unchanged;
// use IsValid to reject it.
func Canonicalize(rawURL string) string {
	u, err := url.Parse(strings.TrimSpace(rawURL))
	if err != nil || u.Opaque != "" {
		return rawURL
	}

	u.Scheme = strings.ToLower(u.Scheme)
	u.Host = strings.ToLower(u.Host)
	switch {
	case u.Scheme == "http" && strings.HasSuffix(u.Host, ":80"):
		u.Host = strings.TrimSuffix(u.Host, ":80")
	case u.Scheme == "https" && strings.HasSuffix(u.Host, ":443"):
		u.Host = strings.TrimSuffix(u.Host, ":443")
	}

	u.Fragment = ""
	u.RawFragment = ""

	if u.Host != "" {
		u.Path = trimTrailingSlashes(u.Path)
		if u.RawPath != "" {
			u.RawPath = trimTrailingSlashes(u.RawPath)
		}
	}
	return u.String()
}

// trimTrailingSlashes keeps "/" for the root and for empty paths.
func trimTrailingSlashes(p string) string {
	trimmed := strings.TrimRight(p, "/")
	if trimmed == "" {
		return "/"
	}
	return trimmed
}

// IsValid reports whether rawURL is an absolute http or https URL with a host.
// It never panics on malformed input.
func IsValid(rawURL string) bool {
	_, err := Parse(rawURL)
	return err == nil
}

// Parse parses rawURL and checks it is crawlable.
func Parse(rawURL string) (*url.URL, error) {
	u, err := url.Parse(strings.TrimSpace(rawURL))
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidURL, err)
	}
	scheme := strings.ToLower(u.Scheme)
	if scheme != "http" && scheme != "https" {
		return nil, fmt.Errorf("%w: unsupported scheme %q", ErrInvalidURL, u.Scheme)
	}
	if u.Hostname() == "" {
		return nil, fmt.Errorf("%w: missing host", ErrInvalidURL)
	}
	return u, nil
}

// Domain returns the lower-cased host (with any non-default port) of rawURL,
// or "" when the URL does not parse.
func Domain(rawURL string) string {
	u, err := url.Parse(Canonicalize(rawURL))
	if err != nil {
		return ""
	}
	return u.Host
}

// Resolve resolves ref against base and canonicalizes the result. It returns
// ErrInvalidURL when the resolved URL is not crawlable.
func Resolve(base *url.URL, ref string) (string, error) {
	refURL, err := url.Parse(strings.TrimSpace(ref))
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrInvalidURL, err)
	}
	resolved := refURL
	if base != nil {
		resolved = base.ResolveReference(refURL)
	}
	canonical := Canonicalize(resolved.String())
	if !IsValid(canonical) {
		return "", fmt.Errorf("%w: %s", ErrInvalidURL, canonical)
	}
	return canonical, nil
}
