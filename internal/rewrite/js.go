package rewrite

import (
	"net/url"
	"regexp"
)

var (
	// jsAbsolutePattern matches quoted absolute http(s) literals.
	jsAbsolutePattern = regexp.MustCompile(`(?i)"(https?://[^"\\\s]*)"|'(https?://[^'\\\s]*)'`)

	// jsLiteralPattern additionally matches protocol-relative literals such as '//cdn.example.com/a.js'.
	jsLiteralPattern = regexp.MustCompile(`(?i)"((?:https?:)?//[a-z0-9\[][^"\\\s]*)"|'((?:https?:)?//[a-z0-9\[][^'\\\s]*)'`)
)

// JS rewrites quoted absolute and protocol-relative URL literals in a script.
// URLs assembled by concatenation or template interpolation are not found.
func (r *Rewriter) JS(content string, base *url.URL) string {
	return r.jsLiterals(jsLiteralPattern, content, base)
}

// inlineScript rewrites absolute literals only; it runs on <script> bodies.
func (r *Rewriter) inlineScript(content string, base *url.URL) string {
	return r.jsLiterals(jsAbsolutePattern, content, base)
}

func (r *Rewriter) jsLiterals(re *regexp.Regexp, content string, base *url.URL) string {
	return replaceSubmatches(re, content, func(m submatch) string {
		ref, quote := m.group(1), `"`
		if m.matched(2) {
			ref, quote = m.group(2), `'`
		}

		proxied, ok := r.Proxify(ref, base)
		if !ok {
			return m.group(0)
		}
		return quote + proxied + quote
	})
}
