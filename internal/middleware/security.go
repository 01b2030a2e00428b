package middleware

import (
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"
)

// hopByHopHeaders are headers that should not be forwarded by proxies.
var hopByHopHeaders = []string{
	"Connection",
	"Keep-Alive",
	"Proxy-Authenticate",
	"Proxy-Authorization",
	"TE",
	"Trailer",
	"Transfer-Encoding",
	"Upgrade",
}

// decisionHeader marks /intercept responses; "served" ones carry upstream
// headers that must reach the rendering surface untouched.
const (
	decisionHeader = "X-Intercept-Decision"
	decisionServed = "served"
)

// SecurityHeaders returns an Echo middleware that strips hop-by-hop headers
// from requests and adds security headers to the gateway's own responses.
// WebSocket handshakes keep their upgrade headers, and refetched resources
// are left exactly as the upstream sent them.
func SecurityHeaders() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if !isWebSocketUpgrade(c.Request()) {
				for _, h := range hopByHopHeaders {
					c.Request().Header.Del(h)
				}
			}

			res := c.Response()
			res.Before(func() {
				if res.Header().Get(decisionHeader) == decisionServed {
					return
				}
				res.Header().Set("X-Content-Type-Options", "nosniff")
				res.Header().Set("X-Frame-Options", "DENY")
			})

			return next(c)
		}
	}
}

func isWebSocketUpgrade(r *http.Request) bool {
	return strings.EqualFold(r.Header.Get("Upgrade"), "websocket") &&
		strings.Contains(strings.ToLower(r.Header.Get("Connection")), "upgrade")
}
