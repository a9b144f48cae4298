package rewrite

import "testing"

func TestCSS(t *testing.T) {
	r := newTestRewriter(t)
	base := mustParse(t, "https://example.com/css/site.css")

	tests := []struct {
		name string
		in   string
		want string
	}{
		{
			name: "bare",
			in:   `a{background:url(img/a.png)}`,
			want: `a{background:url("` + proxied("https://example.com/css/img/a.png") + `")}`,
		},
		{
			name: "single quoted",
			in:   `a{background:url('/a.png')}`,
			want: `a{background:url("` + proxied("https://example.com/a.png") + `")}`,
		},
		{
			name: "double quoted with padding",
			in:   `a{background:url( "../a.png" )}`,
			want: `a{background:url("` + proxied("https://example.com/a.png") + `")}`,
		},
		{
			name: "uppercase function",
			in:   `a{background:URL(/a.png)}`,
			want: `a{background:url("` + proxied("https://example.com/a.png") + `")}`,
		},
		{
			name: "font sources",
			in:   `@font-face{src:url(f.woff2) format("woff2"),url(//fonts.example.net/f.woff) format("woff")}`,
			want: `@font-face{src:url("` + proxied("https://example.com/css/f.woff2") + `") format("woff2"),url("` + proxied("https://fonts.example.net/f.woff") + `") format("woff")}`,
		},
		{
			name: "import string",
			in:   `@import "theme.css";`,
			want: `@import "` + proxied("https://example.com/css/theme.css") + `";`,
		},
		{
			name: "import single quoted",
			in:   `@import 'theme.css' screen;`,
			want: `@import '` + proxied("https://example.com/css/theme.css") + `' screen;`,
		},
		{
			name: "import url form",
			in:   `@import url(theme.css);`,
			want: `@import url("` + proxied("https://example.com/css/theme.css") + `");`,
		},
		{
			name: "data uri kept",
			in:   `a{background:url(data:image/svg+xml;utf8,<svg></svg>)}`,
			want: `a{background:url(data:image/svg+xml;utf8,<svg></svg>)}`,
		},
		{
			name: "fragment kept",
			in:   `a{filter:url(#blur)}`,
			want: `a{filter:url(#blur)}`,
		},
		{
			name: "proxy URL kept",
			in:   `a{background:url("https://proxy.test/proxy/https%3A%2F%2Fexample.com%2Fa.png")}`,
			want: `a{background:url("https://proxy.test/proxy/https%3A%2F%2Fexample.com%2Fa.png")}`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := r.CSS(tt.in, base); got != tt.want {
				t.Errorf("CSS(%q)\n got = %q\nwant = %q", tt.in, got, tt.want)
			}
		})
	}
}

func TestCSS_Idempotent(t *testing.T) {
	r := newTestRewriter(t)
	base := mustParse(t, "https://example.com/css/site.css")

	in := `@import "reset.css";
@import url('print.css') print;
body { background: #fff url(bg.png) repeat-x; }
.icon { mask: url(#m); background-image: url("data:image/png;base64,AAAA"); }
@font-face { src: url(/fonts/a.woff2); }`

	once := r.CSS(in, base)
	if once == in {
		t.Fatal("first pass did not rewrite anything")
	}
	if twice := r.CSS(once, base); twice != once {
		t.Errorf("second pass changed output\nonce  = %q\ntwice = %q", once, twice)
	}
}
