package middleware

import (
	"errors"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"

	"webgate/internal/metrics"
)

const (
	eventsPath    = "/events"
	interceptPath = "/intercept"
)

// MetricsMiddleware returns an Echo middleware that records Prometheus metrics
// for each inbound request.
//
// Event streams live as long as their subscriber: they are tracked by the
// subscriber gauge and kept out of the latency histogram. Served intercepts
// also add their relayed body size to the served bytes counter.
func MetricsMiddleware(m *metrics.Metrics) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			path := metrics.NormalizePath(c.Request().URL.Path)
			method := metrics.NormalizeMethod(c.Request().Method)

			if path == eventsPath {
				m.EventSubscribers.Inc()
				defer m.EventSubscribers.Dec()
			} else {
				m.RequestsInFlight.Inc()
				defer m.RequestsInFlight.Dec()
			}

			start := time.Now()
			err := next(c)
			elapsed := time.Since(start)

			status := strconv.Itoa(responseStatus(c, err))
			m.RequestsTotal.WithLabelValues(method, status, path).Inc()

			switch path {
			case eventsPath:
			case interceptPath:
				if c.Response().Header().Get(decisionHeader) == decisionServed {
					m.ServedBytes.Add(float64(c.Response().Size))
				}
				fallthrough
			default:
				m.RequestDuration.WithLabelValues(method, status, path).Observe(elapsed.Seconds())
			}
			return err
		}
	}
}

// responseStatus returns the status the client will see. An *echo.HTTPError
// is written later by Echo's error handler, so its code wins over the
// response status recorded so far.
func responseStatus(c echo.Context, err error) int {
	var he *echo.HTTPError
	if err != nil && errors.As(err, &he) {
		return he.Code
	}
	return c.Response().Status
}
