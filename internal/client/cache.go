package client

import (
	"fmt"
	"log/slog"
	"net/http"
	"sync"

	"webgate/internal/metrics"
	"webgate/internal/model"
)

// BuildFunc constructs a client for a proxy config.
type BuildFunc func(model.ProxyConfig) (*http.Client, error)

type handle struct {
	client    *http.Client
	signature model.ProxySignature
}

// Cache holds the single live client and rebuilds it whenever the proxy
// signature changes. A handle is never returned for a signature other than
// the one it was built against.
type Cache struct {
	build   BuildFunc
	logger  *slog.Logger
	metrics *metrics.Metrics

	mu     sync.Mutex
	handle *handle
}

// NewCache creates a Cache backed by b.
func NewCache(b *Builder, logger *slog.Logger, m *metrics.Metrics) *Cache {
	return NewCacheFunc(b.Build, logger, m)
}

// NewCacheFunc creates a Cache around an arbitrary build function.
// The metrics parameter is optional.
func NewCacheFunc(build BuildFunc, logger *slog.Logger, m *metrics.Metrics) *Cache {
	return &Cache{
		build:   build,
		logger:  logger.With("component", "client_cache"),
		metrics: m,
	}
}

// Get returns the client for p, building it first when none exists yet or
// the cached one was built for a different (host, port).
//
// The lock covers check and build so concurrent callers observing the same
// change build once. A failed build leaves no handle behind and the next
// call retries.
func (c *Cache) Get(p model.ProxyConfig) (*http.Client, error) {
	sig := p.Signature()

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.handle != nil && c.handle.signature == sig {
		return c.handle.client, nil
	}

	old := c.handle
	c.handle = nil
	if old != nil {
		old.client.CloseIdleConnections()
	}

	client, err := c.build(p)
	if err != nil {
		c.count("failed")
		return nil, fmt.Errorf("build client for %q: %w", p.Host, err)
	}

	c.handle = &handle{client: client, signature: sig}

	mode := "direct"
	if p.Enabled() {
		mode = "proxy"
	}
	c.count(mode)
	c.logger.Info("client rebuilt", "mode", mode, "proxy_host", p.Host, "proxy_port", p.Port)

	return client, nil
}

// Signature reports the signature of the live client, if any.
func (c *Cache) Signature() (model.ProxySignature, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.handle == nil {
		return model.ProxySignature{}, false
	}
	return c.handle.signature, true
}

func (c *Cache) count(mode string) {
	if c.metrics != nil {
		c.metrics.ClientRebuilds.WithLabelValues(mode).Inc()
	}
}
