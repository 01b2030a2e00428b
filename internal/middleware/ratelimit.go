package middleware

import (
	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"golang.org/x/time/rate"
)

// RateLimit returns a per-IP limiter for the gateway's control routes.
// Intercept calls are exempt: one page load fans out into many of them and
// throttling would break rendering rather than protect anything.
func RateLimit(rps float64) echo.MiddlewareFunc {
	return echomw.RateLimiterWithConfig(echomw.RateLimiterConfig{
		Skipper: func(c echo.Context) bool {
			return c.Request().URL.Path == "/intercept"
		},
		Store: echomw.NewRateLimiterMemoryStore(rate.Limit(rps)),
	})
}
