package handler

import (
	"bytes"
	_ "embed"
	"html/template"
	"net/http"
	"net/url"
	"strings"

	"github.com/labstack/echo/v4"

	"github.com/hypnotixx0/purgewisp/internal/config"
	"github.com/hypnotixx0/purgewisp/internal/rewrite"
)

//go:embed templates/landing.html
var landingHTML string

var landingTemplate = template.Must(template.New("landing").Parse(landingHTML))

type landingData struct {
	Name      string
	ProxyBase string
	Example   string
	Version   string
	Error     string
}

// LandingHandler serves the informational page for every path outside the proxy.
type LandingHandler struct {
	rewriter *rewrite.Rewriter
	name     string
	version  Version
}

// NewLandingHandler creates a LandingHandler.
func NewLandingHandler(rw *rewrite.Rewriter, cfg *config.Config, v Version) *LandingHandler {
	return &LandingHandler{rewriter: rw, name: cfg.Proxy.ServerName, version: v}
}

// Serve renders the landing page. On the root path a ?url= query redirects to
// the proxied form of that URL, so the page's form works without JavaScript.
func (h *LandingHandler) Serve(c echo.Context) error {
	data := landingData{
		Name:      h.name,
		ProxyBase: h.rewriter.ProxyBase(),
		Version:   string(h.version),
	}
	data.Example, _ = h.proxyURL("https://example.com/")

	if raw := strings.TrimSpace(c.QueryParam("url")); raw != "" && c.Request().URL.Path == "/" {
		if target, ok := h.proxyURL(raw); ok {
			return c.Redirect(http.StatusFound, target)
		}
		data.Error = "Cannot open " + raw + " through the proxy."
	}

	var buf bytes.Buffer
	if err := landingTemplate.Execute(&buf, data); err != nil {
		return err
	}
	return c.HTMLBlob(http.StatusOK, buf.Bytes())
}

// proxyURL turns user input such as "example.com/a" into a proxy URL.
func (h *LandingHandler) proxyURL(raw string) (string, bool) {
	if !strings.Contains(raw, "://") {
		raw = "https://" + raw
	}
	u, err := url.Parse(raw)
	if err != nil {
		return "", false
	}
	return h.rewriter.Proxify(raw, u)
}
