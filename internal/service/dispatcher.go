// Package service implements the interception policy: which requests are
// refetched, how the refetch is issued and what is handed back.
package service

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"webgate/internal/config"
	"webgate/internal/metrics"
	"webgate/internal/model"
	"webgate/internal/navigation"
	"webgate/internal/notify"
)

// Intercept decisions, used as metric labels.
const (
	DecisionServed      = "served"
	DecisionNative      = "native"
	DecisionWrite       = "write_method"
	DecisionBypass      = "bypass"
	DecisionUnsupported = "unsupported"
	DecisionIOError     = "io_error"
	DecisionFault       = "fault"
)

// ProxySettings is the read side of the settings collaborator.
type ProxySettings interface {
	Proxy() model.ProxyConfig
}

// ClientSource hands out the client for a proxy config.
type ClientSource interface {
	Get(p model.ProxyConfig) (*http.Client, error)
}

// Observer sees request URLs that never reach the client pipeline.
type Observer interface {
	Observe(url string)
}

// refetchableMethods can be re-issued without a request body.
var refetchableMethods = map[string]bool{
	http.MethodGet:     true,
	http.MethodHead:    true,
	http.MethodOptions: true,
}

// skippedRequestHeaders are never copied onto the re-issued request.
var skippedRequestHeaders = map[string]bool{
	"Connection":          true,
	"Keep-Alive":          true,
	"Proxy-Authenticate":  true,
	"Proxy-Authorization": true,
	"Proxy-Connection":    true,
	"Te":                  true,
	"Trailer":             true,
	"Transfer-Encoding":   true,
	"Upgrade":             true,
	"Host":                true,
	"Content-Length":      true,
	"Accept-Encoding":     true,
}

var navigationHeaders = [][2]string{
	{"sec-fetch-mode", "navigate"},
	{"sec-fetch-site", "none"},
	{"sec-fetch-user", "?1"},
}

// Dispatcher decides per resource request whether to refetch it and adapts
// the result. Intercept never returns an error: nil means the rendering
// surface should fetch natively.
type Dispatcher struct {
	settings ProxySettings
	clients  ClientSource
	tracker  *navigation.Tracker
	poster   notify.Poster
	observer Observer

	noProxyMode  string
	reasonPhrase string
	bypass       []model.RequestTemplate

	logger  *slog.Logger
	metrics *metrics.Metrics
}

// NewDispatcher creates a Dispatcher. The observer and metrics parameters
// are optional.
func NewDispatcher(
	cfg *config.Config,
	settings ProxySettings,
	clients ClientSource,
	tracker *navigation.Tracker,
	poster notify.Poster,
	observer Observer,
	logger *slog.Logger,
	m *metrics.Metrics,
) *Dispatcher {
	return &Dispatcher{
		settings:     settings,
		clients:      clients,
		tracker:      tracker,
		poster:       poster,
		observer:     observer,
		noProxyMode:  cfg.Intercept.NoProxyMode,
		reasonPhrase: cfg.Intercept.ReasonPhrase,
		bypass:       cfg.Intercept.Bypass,
		logger:       logger.With("component", "dispatcher"),
		metrics:      m,
	}
}

// OnMainFrameNavigationStarted records url as the current page.
func (d *Dispatcher) OnMainFrameNavigationStarted(url string) {
	d.tracker.Set(url)
	d.logger.Debug("main frame navigation", "url", url)
}

// CurrentPage returns the most recent main-frame navigation URL.
func (d *Dispatcher) CurrentPage() string {
	return d.tracker.Current()
}

// Intercept handles one resource request. It returns the adapted refetch, or
// nil when the request should be left to native handling. The caller owns
// the returned body and must close it.
func (d *Dispatcher) Intercept(ctx context.Context, req *model.RequestDescriptor) (out *model.FetchedResponse) {
	defer func() {
		if r := recover(); r != nil {
			d.logger.Error("intercept fault", "panic", r)
			d.decide(DecisionFault)
			if out != nil {
				_ = out.Body.Close()
			}
			out = nil
		}
	}()

	if req == nil {
		return nil
	}
	if !refetchableMethods[strings.ToUpper(req.Method)] {
		d.observeSkipped(req.URL)
		d.decide(DecisionWrite)
		return nil
	}
	if req.IsMainFrameNavigation {
		d.OnMainFrameNavigationStarted(req.URL)
	}

	target, err := url.Parse(req.URL)
	if err != nil || (target.Scheme != "http" && target.Scheme != "https") {
		d.observeSkipped(req.URL)
		d.decide(DecisionUnsupported)
		return nil
	}
	if d.bypassed(target) {
		d.observeSkipped(req.URL)
		d.decide(DecisionBypass)
		return nil
	}

	p := d.settings.Proxy()
	httpClient, err := d.clients.Get(p)
	if err != nil {
		d.logger.Error("client unavailable", "error", err, "proxy_host", p.Host, "proxy_port", p.Port)
		d.observeSkipped(req.URL)
		d.decide(DecisionFault)
		return nil
	}

	upstream, err := newUpstreamRequest(ctx, req, target)
	if err != nil {
		d.logger.Error("build upstream request", "error", err, "url", req.URL)
		d.observeSkipped(req.URL)
		d.decide(DecisionFault)
		return nil
	}

	d.logger.Debug("refetching", "method", upstream.Method, "url", req.URL, "proxy", p.Enabled())

	start := time.Now()
	resp, err := httpClient.Do(upstream)
	d.observeUpstream(upstream.Method, resp, start)
	if err != nil {
		d.reportIOError(err, req.URL)
		d.decide(DecisionIOError)
		return nil
	}

	if !p.Enabled() && d.noProxyMode != config.NoProxyServe {
		_ = resp.Body.Close()
		d.decide(DecisionNative)
		return nil
	}

	d.decide(DecisionServed)
	return Adapt(resp, d.reasonPhrase)
}

// observeSkipped reports a dispatch that never reaches the client pipeline,
// whose media stage would otherwise have observed it.
func (d *Dispatcher) observeSkipped(rawURL string) {
	if d.observer != nil {
		d.observer.Observe(rawURL)
	}
}

func (d *Dispatcher) bypassed(u *url.URL) bool {
	for _, t := range d.bypass {
		if t.Matches(u) {
			return true
		}
	}
	return false
}

func (d *Dispatcher) reportIOError(err error, rawURL string) {
	d.logger.Warn("refetch failed", "error", err, "url", rawURL)
	d.poster.Post(notify.KindIOException, map[string]string{
		"errorText":  err.Error(),
		"currentUrl": d.tracker.Current(),
		"url":        rawURL,
	})
}

func (d *Dispatcher) decide(decision string) {
	if d.metrics != nil {
		d.metrics.InterceptDecisions.WithLabelValues(decision).Inc()
	}
}

func (d *Dispatcher) observeUpstream(method string, resp *http.Response, start time.Time) {
	if d.metrics == nil {
		return
	}
	method = metrics.NormalizeMethod(method)
	d.metrics.UpstreamDuration.WithLabelValues(method).Observe(time.Since(start).Seconds())
	if resp != nil {
		d.metrics.UpstreamResponses.WithLabelValues(method, strconv.Itoa(resp.StatusCode)).Inc()
	}
}

// newUpstreamRequest copies the descriptor onto an outgoing request. Headers
// keep their order, hop-by-hop headers and the caller's Accept-Encoding are
// dropped, and the navigation posture is applied last.
func newUpstreamRequest(ctx context.Context, req *model.RequestDescriptor, target *url.URL) (*http.Request, error) {
	r, err := http.NewRequestWithContext(ctx, strings.ToUpper(req.Method), target.String(), http.NoBody)
	if err != nil {
		return nil, fmt.Errorf("new request: %w", err)
	}

	if req.Headers != nil {
		for pair := req.Headers.Oldest(); pair != nil; pair = pair.Next() {
			if skippedRequestHeaders[http.CanonicalHeaderKey(pair.Key)] {
				continue
			}
			r.Header.Add(pair.Key, pair.Value)
		}
	}
	for _, h := range navigationHeaders {
		r.Header.Set(h[0], h[1])
	}
	r.Header.Set("Accept-Encoding", "gzip")

	return r, nil
}
