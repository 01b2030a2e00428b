// Package resolver resolves hostnames over DNS-over-HTTPS.
//
// The resolver's own HTTP client reaches the DoH endpoint through a fixed set
// of bootstrap IP addresses, so resolving the endpoint's hostname never
// depends on the resolver being built.
package resolver

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/netip"
	"net/url"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/miekg/dns"

	"webgate/internal/metrics"
)

// DefaultEndpoint is the DoH query URL used by the gateway.
const DefaultEndpoint = "https://dns.google/dns-query"

// DefaultBootstrap holds the literal addresses of DefaultEndpoint's host.
var DefaultBootstrap = []string{"8.8.4.4", "8.8.8.8"}

const (
	dnsMessageContentType = "application/dns-message"
	maxMessageSize        = 65535

	defaultTimeout   = 10 * time.Second
	defaultCacheSize = 512
	defaultCacheTTL  = 60 * time.Second
)

var (
	// ErrBootstrap is returned when fewer than two valid bootstrap addresses are given.
	ErrBootstrap = errors.New("resolver: at least two bootstrap IP addresses are required")
	// ErrNoAddresses is returned when a name resolves to no A or AAAA records.
	ErrNoAddresses = errors.New("resolver: no addresses found")
)

// DialFunc matches net.Dialer.DialContext.
type DialFunc func(ctx context.Context, network, addr string) (net.Conn, error)

// Options configures a Resolver.
type Options struct {
	Endpoint  string
	Bootstrap []string
	// Dial opens connections to the endpoint's bootstrap addresses,
	// typically through the SOCKS proxy.
	Dial      DialFunc
	Timeout   time.Duration
	CacheSize int
	CacheTTL  time.Duration
}

// Resolver performs A/AAAA lookups against a DoH endpoint.
type Resolver struct {
	endpoint string
	client   *http.Client
	cache    *expirable.LRU[string, answer]
	cacheTTL time.Duration
	now      func() time.Time
	logger   *slog.Logger
	metrics  *metrics.Metrics
}

// answer is a cached lookup. It expires at the smallest record TTL, which
// may be sooner than the LRU's own TTL.
type answer struct {
	addrs   []netip.Addr
	expires time.Time
}

// New builds a Resolver. It performs no network I/O.
// The metrics parameter is optional.
func New(opts Options, logger *slog.Logger, m *metrics.Metrics) (*Resolver, error) {
	u, err := url.Parse(opts.Endpoint)
	if err != nil {
		return nil, fmt.Errorf("resolver: parse endpoint: %w", err)
	}
	if (u.Scheme != "https" && u.Scheme != "http") || u.Hostname() == "" {
		return nil, fmt.Errorf("resolver: endpoint must be an absolute http(s) URL; got %q", opts.Endpoint)
	}

	bootstrap := make([]netip.Addr, 0, len(opts.Bootstrap))
	for _, s := range opts.Bootstrap {
		addr, err := netip.ParseAddr(s)
		if err != nil {
			return nil, fmt.Errorf("%w: %q is not an IP address", ErrBootstrap, s)
		}
		bootstrap = append(bootstrap, addr)
	}
	if len(bootstrap) < 2 {
		return nil, ErrBootstrap
	}

	if opts.Dial == nil {
		opts.Dial = (&net.Dialer{Timeout: defaultTimeout}).DialContext
	}
	if opts.Timeout <= 0 {
		opts.Timeout = defaultTimeout
	}
	if opts.CacheSize <= 0 {
		opts.CacheSize = defaultCacheSize
	}
	if opts.CacheTTL <= 0 {
		opts.CacheTTL = defaultCacheTTL
	}

	port := u.Port()
	if port == "" {
		port = "443"
		if u.Scheme == "http" {
			port = "80"
		}
	}

	transport := &http.Transport{
		DialContext:         pinnedDial(u.Hostname(), port, bootstrap, opts.Dial),
		ForceAttemptHTTP2:   true,
		MaxIdleConns:        4,
		IdleConnTimeout:     30 * time.Second,
		TLSHandshakeTimeout: opts.Timeout,
		DisableCompression:  true,
	}

	return &Resolver{
		endpoint: opts.Endpoint,
		client:   &http.Client{Transport: transport, Timeout: opts.Timeout},
		cache:    expirable.NewLRU[string, answer](opts.CacheSize, nil, opts.CacheTTL),
		cacheTTL: opts.CacheTTL,
		now:      time.Now,
		logger:   logger.With("component", "doh_resolver"),
		metrics:  m,
	}, nil
}

// pinnedDial dials only the endpoint host, substituting each bootstrap
// address in order until one connects.
func pinnedDial(host, port string, bootstrap []netip.Addr, dial DialFunc) DialFunc {
	return func(ctx context.Context, network, addr string) (net.Conn, error) {
		h, _, err := net.SplitHostPort(addr)
		if err != nil {
			return nil, err
		}
		if h != host {
			return nil, fmt.Errorf("resolver: refusing to dial %q outside the DoH endpoint", addr)
		}

		var errs []error
		for _, ip := range bootstrap {
			conn, err := dial(ctx, network, net.JoinHostPort(ip.String(), port))
			if err == nil {
				return conn, nil
			}
			errs = append(errs, err)
			if ctx.Err() != nil {
				break
			}
		}
		return nil, fmt.Errorf("resolver: dial bootstrap: %w", errors.Join(errs...))
	}
}

// LookupIP resolves host to its addresses, IPv4 first.
// IP literals are returned without a query.
func (r *Resolver) LookupIP(ctx context.Context, host string) ([]netip.Addr, error) {
	if addr, err := netip.ParseAddr(host); err == nil {
		return []netip.Addr{addr}, nil
	}

	if a, ok := r.cache.Get(host); ok {
		if r.now().Before(a.expires) {
			r.count("hit")
			return a.addrs, nil
		}
		r.cache.Remove(host)
	}

	var addrs []netip.Addr
	var errs []error
	ttl := r.cacheTTL
	for _, qtype := range []uint16{dns.TypeA, dns.TypeAAAA} {
		got, minTTL, err := r.query(ctx, host, qtype)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if len(got) > 0 {
			ttl = min(ttl, minTTL)
		}
		addrs = append(addrs, got...)
	}

	if len(addrs) == 0 {
		r.count("error")
		if len(errs) > 0 {
			return nil, fmt.Errorf("resolve %s: %w", host, errors.Join(errs...))
		}
		return nil, fmt.Errorf("resolve %s: %w", host, ErrNoAddresses)
	}

	r.count("ok")
	if ttl > 0 {
		r.cache.Add(host, answer{addrs: addrs, expires: r.now().Add(ttl)})
	}
	r.logger.Debug("resolved", "host", host, "addrs", len(addrs), "ttl", ttl)
	return addrs, nil
}

// query returns the addresses in one answer and the smallest TTL among them.
func (r *Resolver) query(ctx context.Context, host string, qtype uint16) ([]netip.Addr, time.Duration, error) {
	msg := new(dns.Msg)
	msg.SetQuestion(dns.Fqdn(host), qtype)
	msg.Id = 0 // RFC 8484 §4.1: cache-friendly

	packed, err := msg.Pack()
	if err != nil {
		return nil, 0, fmt.Errorf("pack %s query: %w", dns.TypeToString[qtype], err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.endpoint, bytes.NewReader(packed))
	if err != nil {
		return nil, 0, fmt.Errorf("build DoH request: %w", err)
	}
	req.Header.Set("Content-Type", dnsMessageContentType)
	req.Header.Set("Accept", dnsMessageContentType)

	resp, err := r.client.Do(req)
	if err != nil {
		return nil, 0, fmt.Errorf("DoH request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return nil, 0, fmt.Errorf("DoH request failed with status: %d", resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxMessageSize))
	if err != nil {
		return nil, 0, fmt.Errorf("read DoH response: %w", err)
	}

	reply := new(dns.Msg)
	if err := reply.Unpack(body); err != nil {
		return nil, 0, fmt.Errorf("unpack DNS response: %w", err)
	}
	if reply.Rcode != dns.RcodeSuccess {
		return nil, 0, fmt.Errorf("DNS %s query for %s: %s", dns.TypeToString[qtype], host, dns.RcodeToString[reply.Rcode])
	}

	var addrs []netip.Addr
	var minTTL uint32
	for _, rr := range reply.Answer {
		var addr netip.Addr
		var ok bool
		switch v := rr.(type) {
		case *dns.A:
			addr, ok = netip.AddrFromSlice(v.A.To4())
		case *dns.AAAA:
			addr, ok = netip.AddrFromSlice(v.AAAA.To16())
		}
		if !ok {
			continue
		}
		if len(addrs) == 0 || rr.Header().Ttl < minTTL {
			minTTL = rr.Header().Ttl
		}
		addrs = append(addrs, addr)
	}
	return addrs, time.Duration(minTTL) * time.Second, nil
}

// DialContext returns a dial func that resolves the target host through the
// resolver and connects to the resulting literal addresses with dial, so the
// hostname is never handed to dial itself.
func (r *Resolver) DialContext(dial DialFunc) DialFunc {
	return func(ctx context.Context, network, addr string) (net.Conn, error) {
		host, port, err := net.SplitHostPort(addr)
		if err != nil {
			return nil, err
		}

		addrs, err := r.LookupIP(ctx, host)
		if err != nil {
			return nil, err
		}

		var errs []error
		for _, ip := range addrs {
			conn, err := dial(ctx, network, net.JoinHostPort(ip.String(), port))
			if err == nil {
				return conn, nil
			}
			errs = append(errs, err)
			if ctx.Err() != nil {
				break
			}
		}
		return nil, fmt.Errorf("dial %s: %w", addr, errors.Join(errs...))
	}
}

// Close releases idle connections to the DoH endpoint.
func (r *Resolver) Close() {
	r.client.CloseIdleConnections()
}

func (r *Resolver) count(result string) {
	if r.metrics != nil {
		r.metrics.DoHQueries.WithLabelValues(result).Inc()
	}
}
