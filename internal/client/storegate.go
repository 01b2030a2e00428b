package client

import (
	"net/http"
	"strings"

	"github.com/gregjones/httpcache"
)

// storeGateHeader carries the upstream Cache-Control across the cache stage
// while the gate has replaced it with no-store.
const storeGateHeader = "X-Webgate-Upstream-Cache-Control"

// withResponseCache puts the httpcache stage over next. httpcache buffers
// every storable body in memory until EOF, so responses the store could
// never keep (unknown length or larger than maxBytes) are marked no-store
// below the cache and restored above it. Those bodies stream unbuffered.
func withResponseCache(next http.RoundTripper, store httpcache.Cache, maxBytes int64) http.RoundTripper {
	return &storeRestore{
		next: &httpcache.Transport{
			Transport:           &storeGate{next: next, maxBytes: maxBytes},
			Cache:               store,
			MarkCachedResponses: true,
		},
	}
}

type storeGate struct {
	next     http.RoundTripper
	maxBytes int64
}

func (g *storeGate) RoundTrip(req *http.Request) (*http.Response, error) {
	resp, err := g.next.RoundTrip(req)
	if err != nil {
		return nil, err
	}
	if resp.ContentLength >= 0 && resp.ContentLength <= g.maxBytes {
		return resp, nil
	}
	resp.Header = resp.Header.Clone()
	if resp.Header == nil {
		resp.Header = http.Header{}
	}
	resp.Header.Set(storeGateHeader, strings.Join(resp.Header.Values("Cache-Control"), ", "))
	resp.Header.Set("Cache-Control", "no-store")
	return resp, nil
}

type storeRestore struct {
	next http.RoundTripper
}

func (s *storeRestore) RoundTrip(req *http.Request) (*http.Response, error) {
	resp, err := s.next.RoundTrip(req)
	if err != nil {
		return nil, err
	}
	if _, gated := resp.Header[storeGateHeader]; !gated {
		return resp, nil
	}
	orig := resp.Header.Get(storeGateHeader)
	resp.Header.Del(storeGateHeader)
	if orig == "" {
		resp.Header.Del("Cache-Control")
	} else {
		resp.Header.Set("Cache-Control", orig)
	}
	return resp, nil
}
