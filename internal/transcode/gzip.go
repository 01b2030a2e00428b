// Package transcode removes transport encodings from refetched responses so
// the rendering surface always receives decoded bytes.
package transcode

import (
	"errors"
	"io"
	"net/http"
	"strings"
	"sync"

	"github.com/klauspost/compress/gzip"
)

// Transport is an http.RoundTripper stage that unwraps gzip-encoded bodies.
type Transport struct {
	next http.RoundTripper
}

// NewTransport wraps next. A nil next uses http.DefaultTransport.
func NewTransport(next http.RoundTripper) *Transport {
	if next == nil {
		next = http.DefaultTransport
	}
	return &Transport{next: next}
}

// RoundTrip implements http.RoundTripper.
func (t *Transport) RoundTrip(req *http.Request) (*http.Response, error) {
	resp, err := t.next.RoundTrip(req)
	if err != nil {
		return nil, err
	}
	return Unzip(resp), nil
}

// Unzip rewrites resp in place when its Content-Encoding is gzip: the body
// is decompressed lazily and the encoding and length headers are dropped.
// Other encodings are returned untouched.
func Unzip(resp *http.Response) *http.Response {
	if resp == nil || resp.Body == nil || resp.Body == http.NoBody {
		return resp
	}
	if !strings.EqualFold(strings.TrimSpace(resp.Header.Get("Content-Encoding")), "gzip") {
		return resp
	}

	header := resp.Header.Clone()
	header.Del("Content-Encoding")
	header.Del("Content-Length")

	resp.Header = header
	resp.ContentLength = -1
	resp.Uncompressed = true
	resp.Body = &gzipBody{src: resp.Body}
	return resp
}

// gzipBody defers reading the gzip header until the first Read, so an empty
// body (HEAD, 304) decodes to EOF instead of failing up front.
type gzipBody struct {
	src io.ReadCloser

	zr        *gzip.Reader
	err       error
	closeOnce sync.Once
	closeErr  error
}

func (b *gzipBody) Read(p []byte) (int, error) {
	if b.err != nil {
		return 0, b.err
	}
	if b.zr == nil {
		zr, err := gzip.NewReader(b.src)
		if err != nil {
			if errors.Is(err, io.EOF) {
				err = io.EOF
			}
			b.err = err
			return 0, err
		}
		b.zr = zr
	}
	n, err := b.zr.Read(p)
	if err != nil {
		b.err = err
	}
	return n, err
}

// Close closes the underlying transport body exactly once.
func (b *gzipBody) Close() error {
	b.closeOnce.Do(func() {
		if b.zr != nil {
			_ = b.zr.Close()
		}
		b.closeErr = b.src.Close()
	})
	return b.closeErr
}
