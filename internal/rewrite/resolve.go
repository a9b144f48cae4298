package rewrite

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
)

// ErrUnsupportedScheme is returned when a reference resolves to something the
// proxy cannot fetch (about:, ftp:, blob:, ...).
var ErrUnsupportedScheme = errors.New("unsupported scheme")

// Resolve turns ref into an absolute http(s) URL using base.
//
// Precedence: empty reference, absolute http(s) URL, protocol-relative URL
// (always promoted to https), root-relative path, then RFC 3986 relative
// resolution against base. Resolve does no I/O.
func Resolve(ref string, base *url.URL) (string, error) {
	ref = strings.TrimSpace(ref)
	if ref == "" {
		return base.String(), nil
	}

	var abs string
	switch {
	case hasPrefixFold(ref, "http://"), hasPrefixFold(ref, "https://"):
		abs = ref
	case strings.HasPrefix(ref, "//"):
		abs = "https:" + ref
	case strings.HasPrefix(ref, "/"):
		abs = base.Scheme + "://" + base.Host + ref
	default:
		u, err := base.Parse(ref)
		if err != nil {
			return "", fmt.Errorf("resolve %q: %w", ref, err)
		}
		abs = u.String()
	}

	u, err := url.Parse(abs)
	if err != nil {
		return "", fmt.Errorf("resolve %q: %w", ref, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return "", fmt.Errorf("resolve %q: %w", ref, ErrUnsupportedScheme)
	}
	if u.Host == "" {
		return "", fmt.Errorf("resolve %q: missing host", ref)
	}
	return abs, nil
}

func hasPrefixFold(s, prefix string) bool {
	return len(s) >= len(prefix) && strings.EqualFold(s[:len(prefix)], prefix)
}
