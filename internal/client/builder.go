// Package client builds the HTTP clients used to refetch intercepted
// requests and caches the current one per proxy signature.
package client

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/gregjones/httpcache"
	"golang.org/x/net/proxy"

	"webgate/internal/cache"
	"webgate/internal/config"
	"webgate/internal/media"
	"webgate/internal/metrics"
	"webgate/internal/model"
	"webgate/internal/resolver"
	"webgate/internal/transcode"
)

// Builder constructs refetch clients. It owns the on-disk response cache,
// which is shared by every client it builds.
type Builder struct {
	cfg      *config.Config
	store    httpcache.Cache
	detector *media.Detector
	logger   *slog.Logger
	metrics  *metrics.Metrics
}

// NewBuilder creates a Builder and opens the response cache when enabled.
// The metrics parameter is optional.
func NewBuilder(cfg *config.Config, detector *media.Detector, logger *slog.Logger, m *metrics.Metrics) (*Builder, error) {
	b := &Builder{
		cfg:      cfg,
		detector: detector,
		logger:   logger.With("component", "client_builder"),
		metrics:  m,
	}

	if cfg.Cache.CacheEnabled() {
		store, err := cache.Open(cfg.Cache.Dir, cfg.Cache.MaxBytes, logger)
		if err != nil {
			return nil, fmt.Errorf("open response cache: %w", err)
		}
		b.store = store
	}

	return b, nil
}

// Build returns a client for p. Without a proxy host the client dials
// directly with the system resolver. With one, every connection goes through
// the SOCKS5 proxy and hostnames are resolved over DNS-over-HTTPS reached
// through that same proxy.
func (b *Builder) Build(p model.ProxyConfig) (*http.Client, error) {
	transport := b.baseTransport()
	closers := []func(){transport.CloseIdleConnections}

	if p.Enabled() {
		dial, err := socksDial(p, b.connectTimeout())
		if err != nil {
			return nil, err
		}

		res, err := resolver.New(resolver.Options{
			Endpoint:  resolver.DefaultEndpoint,
			Bootstrap: resolver.DefaultBootstrap,
			Dial:      dial,
			Timeout:   b.connectTimeout() + b.headerTimeout(),
		}, b.logger, b.metrics)
		if err != nil {
			return nil, fmt.Errorf("build resolver: %w", err)
		}

		transport.DialContext = res.DialContext(dial)
		closers = append(closers, res.Close)
	}

	var rt http.RoundTripper = transport
	if b.store != nil {
		rt = withResponseCache(rt, b.store, b.cfg.Cache.MaxBytes)
	}
	if b.detector != nil {
		rt = b.detector.Wrap(rt)
	}
	rt = transcode.NewTransport(rt)

	return &http.Client{Transport: &handleTransport{RoundTripper: rt, closers: closers}}, nil
}

// handleTransport lets http.Client.CloseIdleConnections reach the base
// transport and the resolver through the wrapping stages.
type handleTransport struct {
	http.RoundTripper
	closers []func()
}

func (t *handleTransport) CloseIdleConnections() {
	for _, c := range t.closers {
		c()
	}
}

// baseTransport has no total deadline so long media bodies can stream;
// connect and response-header timeouts bound a hung upstream.
func (b *Builder) baseTransport() *http.Transport {
	return &http.Transport{
		Proxy: nil,
		DialContext: (&net.Dialer{
			Timeout:   b.connectTimeout(),
			KeepAlive: 30 * time.Second,
		}).DialContext,
		MaxIdleConns:          b.cfg.Upstream.IdleConnections,
		MaxIdleConnsPerHost:   b.cfg.Upstream.IdleConnections,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   b.connectTimeout(),
		ResponseHeaderTimeout: b.headerTimeout(),
		ExpectContinueTimeout: 1 * time.Second,
		ForceAttemptHTTP2:     true,
	}
}

func (b *Builder) connectTimeout() time.Duration {
	return time.Duration(b.cfg.Upstream.ConnectTimeoutSeconds) * time.Second
}

func (b *Builder) headerTimeout() time.Duration {
	return time.Duration(b.cfg.Upstream.ResponseHeaderTimeoutSeconds) * time.Second
}

// socksDial returns a dial func through the SOCKS5 proxy in p, carrying p's
// credentials. Each call is bounded by timeout, including the SOCKS handshake.
func socksDial(p model.ProxyConfig, timeout time.Duration) (resolver.DialFunc, error) {
	var auth *proxy.Auth
	if p.Username != "" || p.Password != "" {
		auth = &proxy.Auth{User: p.Username, Password: p.Password}
	}

	d, err := proxy.SOCKS5("tcp", p.Addr(), auth, &net.Dialer{
		Timeout:   timeout,
		KeepAlive: 30 * time.Second,
	})
	if err != nil {
		return nil, fmt.Errorf("socks5 dialer %s: %w", p.Addr(), err)
	}
	cd, ok := d.(proxy.ContextDialer)
	if !ok {
		return nil, errors.New("socks5 dialer does not support contexts")
	}

	return func(ctx context.Context, network, addr string) (net.Conn, error) {
		if timeout > 0 {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, timeout)
			defer cancel()
		}
		return cd.DialContext(ctx, network, addr)
	}, nil
}
