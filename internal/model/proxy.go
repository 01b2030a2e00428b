// Package model defines shared types for the gateway.
package model

import (
	"io"
	"net"
	"net/url"
	"strconv"

	orderedmap "github.com/wk8/go-ordered-map/v2"
)

// RequestDescriptor is one resource request issued by the rendering surface.
type RequestDescriptor struct {
	Method                string
	URL                   string
	Headers               *orderedmap.OrderedMap[string, string]
	IsMainFrameNavigation bool
}

// NewRequestDescriptor returns a descriptor with an empty header map.
func NewRequestDescriptor(method, rawURL string) *RequestDescriptor {
	return &RequestDescriptor{
		Method:  method,
		URL:     rawURL,
		Headers: orderedmap.New[string, string](),
	}
}

// ProxyConfig is a snapshot of the host's proxy settings.
type ProxyConfig struct {
	Host     string `json:"host"`
	Port     int    `json:"port"`
	Username string `json:"username,omitempty"`
	Password string `json:"password,omitempty"`
}

// ProxySignature identifies the network stack a client was built for.
// Credentials are deliberately not part of it.
type ProxySignature struct {
	Host string
	Port int
}

// Signature returns the (host, port) tuple of the config.
func (p ProxyConfig) Signature() ProxySignature {
	return ProxySignature{Host: p.Host, Port: p.Port}
}

// Enabled reports whether a proxy host is configured.
func (p ProxyConfig) Enabled() bool {
	return p.Host != ""
}

// Addr returns the proxy endpoint as host:port.
func (p ProxyConfig) Addr() string {
	return net.JoinHostPort(p.Host, strconv.Itoa(p.Port))
}

// FetchedResponse is a refetched response adapted for the rendering surface.
// Closing Body closes the underlying transport body exactly once.
type FetchedResponse struct {
	StatusCode   int
	ReasonPhrase string
	ContentType  string // empty when the upstream sent none
	Charset      string
	Header       map[string]string
	Body         io.ReadCloser
}

// RequestTemplate matches request URLs by scheme, host and path.
// Empty fields match anything.
type RequestTemplate struct {
	Scheme string `toml:"scheme" json:"scheme,omitempty"`
	Host   string `toml:"host" json:"host,omitempty"`
	Path   string `toml:"path" json:"path,omitempty"`
}

// Matches reports whether u satisfies every non-empty field of the template.
func (t RequestTemplate) Matches(u *url.URL) bool {
	if u == nil {
		return false
	}
	if t.Scheme != "" && t.Scheme != u.Scheme {
		return false
	}
	if t.Host != "" && t.Host != u.Hostname() {
		return false
	}
	if t.Path != "" && t.Path != u.Path {
		return false
	}
	return true
}
