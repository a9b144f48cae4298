package handler

import (
	"github.com/labstack/echo/v4"
)

// RegisterRoutes wires all route handlers onto the Echo instance.
// Any path not matched here renders the landing page.
func RegisterRoutes(e *echo.Echo, proxy *ProxyHandler, health *HealthHandler, landing *LandingHandler) {
	e.GET("/healthz", health.Healthz)
	e.GET("/status", health.Status)

	e.Any(ProxyPrefix+"*", proxy.Handle)

	e.GET("/", landing.Serve)
	e.RouteNotFound("/*", landing.Serve)
}
