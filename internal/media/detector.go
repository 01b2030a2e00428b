// Package media spots streaming-media requests on their way out of the
// refetch client and reports them to the host.
package media

import (
	"log/slog"
	"net/http"
	"strings"

	"webgate/internal/metrics"
	"webgate/internal/notify"
)

// markers are the URL substrings treated as streaming media.
var markers = []string{".mp4", ".m3u8"}

// Match reports whether url looks like a streaming-media request.
func Match(url string) bool {
	for _, m := range markers {
		if strings.Contains(url, m) {
			return true
		}
	}
	return false
}

// Detector reports media requests together with the current page URL.
type Detector struct {
	pageURL func() string
	poster  notify.Poster
	logger  *slog.Logger
	metrics *metrics.Metrics
}

// NewDetector creates a Detector. pageURL supplies the current page at
// report time. The metrics parameter is optional.
func NewDetector(pageURL func() string, poster notify.Poster, logger *slog.Logger, m *metrics.Metrics) *Detector {
	return &Detector{
		pageURL: pageURL,
		poster:  poster,
		logger:  logger.With("component", "media_detector"),
		metrics: m,
	}
}

// Observe checks url and posts a video-request-detected event on a match.
// It never panics into the caller.
func (d *Detector) Observe(url string) {
	defer func() {
		if r := recover(); r != nil {
			d.logger.Warn("media detection failed", "panic", r, "url", url)
		}
	}()

	if !Match(url) {
		return
	}
	if d.metrics != nil {
		d.metrics.MediaDetections.Inc()
	}
	d.poster.Post(notify.KindVideoRequest, map[string]string{
		"currentUrl": d.pageURL(),
		"url":        url,
	})
}

// Wrap returns an http.RoundTripper that observes every request it carries,
// including redirect hops, before passing it to next.
func (d *Detector) Wrap(next http.RoundTripper) http.RoundTripper {
	if next == nil {
		next = http.DefaultTransport
	}
	return roundTripper{detector: d, next: next}
}

type roundTripper struct {
	detector *Detector
	next     http.RoundTripper
}

func (rt roundTripper) RoundTrip(req *http.Request) (*http.Response, error) {
	rt.detector.Observe(req.URL.String())
	return rt.next.RoundTrip(req)
}
