package rewrite

import (
	"net/url"
	"regexp"
	"strings"

	"golang.org/x/net/html"
)

// urlAttributes hold a single URL.
var urlAttributes = map[string]bool{
	"href":       true,
	"src":        true,
	"action":     true,
	"formaction": true,
	"data":       true,
	"cite":       true,
	"background": true,
	"poster":     true,
	"data-src":   true,
	"data-href":  true,
}

var (
	// tagPattern matches a start tag, keeping quoted attribute values intact so
	// that a '>' inside a value does not end the tag.
	tagPattern = regexp.MustCompile(`<([a-zA-Z][a-zA-Z0-9:-]*)((?:\s*[^\s"'>/=]+(?:\s*=\s*(?:"[^"]*"|'[^']*'|[^\s"'>]+))?|\s*/)*)\s*>`)

	// attrPattern matches one name=value attribute; bare names without a value never match.
	attrPattern = regexp.MustCompile(`(\s*)([^\s"'>/=]+)(\s*=\s*)(?:"([^"]*)"|'([^']*)'|([^\s"'>]+))`)

	metaRefreshPattern = regexp.MustCompile(`(?i)^(\s*\d+(?:\.\d*)?\s*[;,]\s*url\s*=\s*)(.*?)(\s*)$`)

	scriptEnd = regexp.MustCompile(`(?i)</script`)
	styleEnd  = regexp.MustCompile(`(?i)</style`)
)

// HTML rewrites URL-bearing attributes, srcset lists, inline styles, meta
// refresh targets, url(...) in markup and <style> blocks, and absolute string
// literals in inline scripts. A <base href> changes the base for the
// references that follow it, as it does in a browser.
func (r *Rewriter) HTML(content string, base *url.URL) string {
	var b strings.Builder
	b.Grow(len(content) + len(content)/4)

	rest := content
	comments := newCommentFinder(rest)
	for {
		loc := tagPattern.FindStringSubmatchIndex(rest)
		if c := comments.next(rest); c >= 0 && (loc == nil || c < loc[0]) {
			b.WriteString(r.cssURLs(rest[:c], base, `"`))
			comment, tail := splitComment(rest[c:])
			b.WriteString(comment)
			rest = tail
			continue
		}
		if loc == nil {
			b.WriteString(r.cssURLs(rest, base, `"`))
			return b.String()
		}

		b.WriteString(r.cssURLs(rest[:loc[0]], base, `"`))

		name := strings.ToLower(rest[loc[2]:loc[3]])
		tag := rest[loc[0]:loc[1]]
		attrs, next := r.rewriteAttrs(name, rest[loc[4]:loc[5]], base)
		b.WriteString(rest[loc[0]:loc[4]])
		b.WriteString(attrs)
		b.WriteString(rest[loc[5]:loc[1]])
		if next != nil {
			base = next
		}
		rest = rest[loc[1]:]

		if strings.HasSuffix(tag, "/>") {
			continue
		}
		switch name {
		case "script":
			body, tail := splitRawText(rest, scriptEnd)
			b.WriteString(r.inlineScript(body, base))
			rest = tail
		case "style":
			body, tail := splitRawText(rest, styleEnd)
			b.WriteString(r.CSS(body, base))
			rest = tail
		}
	}
}

// commentFinder locates the next "<!--" in a shrinking suffix of one document
// without rescanning text it has already passed.
type commentFinder struct {
	total int // length of the whole document
	at    int // absolute offset of the next comment, or -1 for none
}

func newCommentFinder(doc string) *commentFinder {
	return &commentFinder{total: len(doc), at: strings.Index(doc, "<!--")}
}

// next returns the offset of the next comment within rest, or -1.
func (f *commentFinder) next(rest string) int {
	if f.at < 0 {
		return -1
	}
	consumed := f.total - len(rest)
	if f.at < consumed {
		i := strings.Index(rest, "<!--")
		if i < 0 {
			f.at = -1
			return -1
		}
		f.at = consumed + i
	}
	return f.at - consumed
}

// splitComment splits a leading <!-- ... --> from the rest of the document.
// An unterminated comment runs to the end, as it does in a browser.
func splitComment(s string) (string, string) {
	end := strings.Index(s[len("<!--"):], "-->")
	if end < 0 {
		return s, ""
	}
	n := len("<!--") + end + len("-->")
	return s[:n], s[n:]
}

// splitRawText splits the body of a raw text element from the rest of the document.
func splitRawText(s string, end *regexp.Regexp) (string, string) {
	loc := end.FindStringIndex(s)
	if loc == nil {
		return s, ""
	}
	return s[:loc[0]], s[loc[0]:]
}

// rewriteAttrs rewrites the attribute list of one start tag. For a <base>
// tag it also returns the new document base.
func (r *Rewriter) rewriteAttrs(name, attrs string, base *url.URL) (string, *url.URL) {
	var next *url.URL

	rewritten := replaceSubmatches(attrPattern, attrs, func(m submatch) string {
		attr := strings.ToLower(m.group(2))

		raw, quote := m.group(6), ""
		switch {
		case m.matched(4):
			raw, quote = m.group(4), `"`
		case m.matched(5):
			raw, quote = m.group(5), `'`
		}

		if name == "base" && attr == "href" && !r.ShouldSkip(raw) {
			if abs, err := Resolve(html.UnescapeString(raw), base); err == nil {
				next, _ = url.Parse(abs)
			}
		}

		value, ok := r.rewriteAttr(attr, raw, quote, base)
		if !ok || value == raw {
			return m.group(0)
		}
		if quote == "" {
			quote = `"`
		}
		return m.group(1) + m.group(2) + m.group(3) + quote + value + quote
	})

	return rewritten, next
}

// rewriteAttr returns the new raw value of an attribute, or false when a URL
// attribute cannot be proxied. Attributes without a dedicated rule still get
// their url(...) references rewritten.
func (r *Rewriter) rewriteAttr(attr, raw, quote string, base *url.URL) (string, bool) {
	switch {
	case urlAttributes[attr]:
		return r.Proxify(html.UnescapeString(raw), base)
	case attr == "srcset" || attr == "imagesrcset":
		return r.srcset(raw, base), true
	case attr == "content":
		if value, ok := r.metaRefresh(raw, base); ok {
			return value, true
		}
	}

	inner := `'`
	if quote == `'` {
		inner = `"`
	}
	return r.cssURLs(raw, base, inner), true
}

// metaRefresh rewrites the URL part of "N; url=..." and keeps the delay and
// separator exactly as written.
func (r *Rewriter) metaRefresh(raw string, base *url.URL) (string, bool) {
	m := metaRefreshPattern.FindStringSubmatch(raw)
	if m == nil {
		return "", false
	}

	target, q := m[2], ""
	if len(target) >= 2 && (target[0] == '\'' || target[0] == '"') && target[len(target)-1] == target[0] {
		q = target[:1]
		target = target[1 : len(target)-1]
	}

	proxied, ok := r.Proxify(html.UnescapeString(target), base)
	if !ok {
		return "", false
	}
	return m[1] + q + proxied + q + m[3], true
}

type srcsetCandidate struct {
	url        string
	descriptor string
}

// srcset rewrites each candidate URL and joins the list with ", ".
func (r *Rewriter) srcset(raw string, base *url.URL) string {
	candidates := splitSrcset(raw)
	parts := make([]string, 0, len(candidates))
	for _, c := range candidates {
		u := c.url
		if proxied, ok := r.Proxify(html.UnescapeString(c.url), base); ok {
			u = proxied
		}
		if c.descriptor != "" {
			u += " " + c.descriptor
		}
		parts = append(parts, u)
	}
	return strings.Join(parts, ", ")
}

// splitSrcset splits a srcset value into candidates. A URL is a run of
// non-space characters, so commas inside a URL survive; descriptors run to
// the next top-level comma.
func splitSrcset(s string) []srcsetCandidate {
	var out []srcsetCandidate
	i := 0
	for i < len(s) {
		for i < len(s) && (isSpace(s[i]) || s[i] == ',') {
			i++
		}
		if i >= len(s) {
			break
		}

		start := i
		for i < len(s) && !isSpace(s[i]) {
			i++
		}
		u := s[start:i]
		if strings.HasSuffix(u, ",") {
			out = append(out, srcsetCandidate{url: strings.TrimRight(u, ",")})
			continue
		}

		start = i
		depth := 0
		for ; i < len(s); i++ {
			c := s[i]
			if c == '(' {
				depth++
			} else if c == ')' && depth > 0 {
				depth--
			} else if c == ',' && depth == 0 {
				break
			}
		}
		out = append(out, srcsetCandidate{url: u, descriptor: strings.TrimSpace(s[start:i])})
	}
	return out
}

func isSpace(c byte) bool {
	return c == ' ' || c == '\t' || c == '\n' || c == '\r' || c == '\f'
}
