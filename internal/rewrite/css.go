package rewrite

import (
	"net/url"
	"regexp"

	"golang.org/x/net/html"
)

var (
	// cssURLPattern matches url(...) with double, single, entity-encoded or no quotes.
	cssURLPattern = regexp.MustCompile(`(?i)url\(\s*(?:"([^"]*)"|'([^']*)'|&quot;(.*?)&quot;|([^)\s'"]*))\s*\)`)

	// cssImportPattern matches the string form of @import; the url() form is
	// covered by cssURLPattern.
	cssImportPattern = regexp.MustCompile(`(?i)(@import\s+)(?:"([^"]*)"|'([^']*)')`)
)

// CSS rewrites url(...) references and @import strings in a stylesheet.
func (r *Rewriter) CSS(content string, base *url.URL) string {
	content = r.cssURLs(content, base, `"`)
	return r.cssImports(content, base)
}

// cssURLs rewrites every url(...) in content, quoting the new URL with quote.
// Inside a double-quoted style attribute the caller passes a single quote.
func (r *Rewriter) cssURLs(content string, base *url.URL, quote string) string {
	return replaceSubmatches(cssURLPattern, content, func(m submatch) string {
		var ref string
		switch {
		case m.matched(1):
			ref = m.group(1)
		case m.matched(2):
			ref = m.group(2)
		case m.matched(3):
			ref = html.UnescapeString(m.group(3))
		default:
			ref = m.group(4)
		}

		proxied, ok := r.Proxify(ref, base)
		if !ok {
			return m.group(0)
		}
		return "url(" + quote + proxied + quote + ")"
	})
}

func (r *Rewriter) cssImports(content string, base *url.URL) string {
	return replaceSubmatches(cssImportPattern, content, func(m submatch) string {
		ref, quote := m.group(2), `"`
		if m.matched(3) {
			ref, quote = m.group(3), `'`
		}

		proxied, ok := r.Proxify(ref, base)
		if !ok {
			return m.group(0)
		}
		return m.group(1) + quote + proxied + quote
	})
}
