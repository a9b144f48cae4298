// Package rewrite locates URL references in HTML, CSS and JavaScript payloads
// and points them back at the proxy.
//
// The engine is pattern based rather than a full parser. Every candidate goes
// through the same steps: skip classification, resolution against the page
// URL, then percent-encoding under the proxy base. A candidate that cannot be
// resolved is emitted unchanged.
package rewrite

import (
	"fmt"
	"net/url"
	"regexp"
	"strings"
)

// skipPrefixes are reference prefixes that are never proxied.
var skipPrefixes = []string{"javascript:", "mailto:", "tel:", "data:", "#"}

// Rewriter rewrites references in text payloads to go through ProxyBase.
// It holds no mutable state and is safe for concurrent use.
type Rewriter struct {
	proxyBase string
	proxyHost string
}

// New creates a Rewriter for the given absolute proxy base, e.g.
// "https://proxy.example.com/proxy/".
func New(proxyBase string) (*Rewriter, error) {
	u, err := url.Parse(proxyBase)
	if err != nil {
		return nil, fmt.Errorf("parse proxy base: %w", err)
	}
	if (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return nil, fmt.Errorf("proxy base must be an absolute http(s) URL; got %q", proxyBase)
	}
	if !strings.HasSuffix(proxyBase, "/") {
		proxyBase += "/"
	}
	return &Rewriter{
		proxyBase: proxyBase,
		proxyHost: strings.ToLower(u.Host),
	}, nil
}

// ProxyBase returns the prefix under which rewritten URLs are nested.
func (r *Rewriter) ProxyBase() string {
	return r.proxyBase
}

// ShouldSkip reports whether ref must be left as it is: pseudo-URLs, inline
// data, fragment-only links, and anything already pointing at the proxy.
func (r *Rewriter) ShouldSkip(ref string) bool {
	lower := strings.ToLower(strings.TrimSpace(ref))
	for _, p := range skipPrefixes {
		if strings.HasPrefix(lower, p) {
			return true
		}
	}
	return strings.Contains(lower, r.proxyHost)
}

// Proxify returns the proxy URL for ref resolved against base. The boolean is
// false when ref is skipped or cannot be resolved.
func (r *Rewriter) Proxify(ref string, base *url.URL) (string, bool) {
	if r.ShouldSkip(ref) {
		return "", false
	}
	abs, err := Resolve(ref, base)
	if err != nil {
		return "", false
	}
	return r.proxyBase + encodeComponent(abs), true
}

// encodeComponent escapes everything but unreserved characters, so the result
// is safe inside attributes, CSS strings and JS literals alike.
func encodeComponent(s string) string {
	return strings.ReplaceAll(url.QueryEscape(s), "+", "%20")
}

// submatch is one regexp match inside a larger string.
type submatch struct {
	s   string
	loc []int
}

// group returns submatch i, or "" when the group did not participate.
func (m submatch) group(i int) string {
	if m.loc[2*i] < 0 {
		return ""
	}
	return m.s[m.loc[2*i]:m.loc[2*i+1]]
}

// matched reports whether group i participated in the match, which tells
// apart an empty quoted value from an alternative that was not taken.
func (m submatch) matched(i int) bool {
	return m.loc[2*i] >= 0
}

// replaceSubmatches calls fn for every match of re in s and splices in the
// returned text.
func replaceSubmatches(re *regexp.Regexp, s string, fn func(m submatch) string) string {
	matches := re.FindAllStringSubmatchIndex(s, -1)
	if len(matches) == 0 {
		return s
	}

	var b strings.Builder
	b.Grow(len(s))
	last := 0
	for _, loc := range matches {
		b.WriteString(s[last:loc[0]])
		b.WriteString(fn(submatch{s: s, loc: loc}))
		last = loc[1]
	}
	b.WriteString(s[last:])
	return b.String()
}
