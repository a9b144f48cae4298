package middleware

import (
	"github.com/labstack/echo/v4"
)

// hopByHopHeaders apply to a single connection and are dropped from inbound requests.
var hopByHopHeaders = []string{
	"Connection",
	"Keep-Alive",
	"Proxy-Authenticate",
	"Proxy-Authorization",
	"Proxy-Connection",
	"TE",
	"Trailer",
	"Transfer-Encoding",
	"Upgrade",
}

// ProxyHeaders returns an Echo middleware that strips hop-by-hop headers from
// the inbound request and identifies the proxy on every response. It never
// sets X-Frame-Options or X-Content-Type-Options.
func ProxyHeaders(serverName string) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			for _, h := range hopByHopHeaders {
				c.Request().Header.Del(h)
			}

			// Set before next so streamed responses carry it too.
			c.Response().Header().Set("X-Proxy-Server", serverName)

			return next(c)
		}
	}
}
