package core

import (
	"fmt"
	"net/url"
	"strings"
)

// JoinURL appends a slash-separated relative path to a base URL.
func JoinURL(base *url.URL, relPath string) string {
	b := strings.TrimSuffix(base.String(), "/")
	return b + "/" + strings.TrimPrefix(relPath, "/")
}

// RemoveBaseURL strips base from u, returning the relative path. Fails with
// ErrInvalidURL if u is not under base.
func RemoveBaseURL(u, base *url.URL) (string, error) {
	b := strings.TrimSuffix(base.String(), "/") + "/"
	s := u.String()
	if !strings.HasPrefix(s, b) {
		return "", fmt.Errorf("%w: %s is not under %s", ErrInvalidURL, s, b)
	}
	return strings.TrimPrefix(s, b), nil
}

// ReplaceBaseURL rebases u from base0 onto base1, preserving the relative
// path. Used to compute the peer URL of an entry on the other side of a
// mapping.
func ReplaceBaseURL(u, base0, base1 *url.URL) (*url.URL, error) {
	rel, err := RemoveBaseURL(u, base0)
	if err != nil {
		return nil, err
	}
	out, err := url.Parse(JoinURL(base1, rel))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidURL, err)
	}
	return out, nil
}

// GroupURLs buckets URLs by scheme so callers can construct one endpoint per
// backend and batch work against it.
func GroupURLs(urls []*url.URL) map[string][]*url.URL {
	groups := make(map[string][]*url.URL)
	for _, u := range urls {
		groups[u.Scheme] = append(groups[u.Scheme], u)
	}
	return groups
}
