package service

import (
	"io"
	"mime"
	"net/http"
	"strings"
	"sync"

	"webgate/internal/config"
	"webgate/internal/model"
)

// DefaultCharset is reported when the upstream names a content type but no
// charset.
const DefaultCharset = "UTF-8"

// Adapt maps an upstream response into a FetchedResponse. A nil response
// adapts to nil. The returned body closes resp.Body exactly once.
func Adapt(resp *http.Response, reasonPhrase string) *model.FetchedResponse {
	if resp == nil {
		return nil
	}

	contentType, charset := parseContentType(resp.Header.Get("Content-Type"))

	body := resp.Body
	if body == nil {
		body = http.NoBody
	}

	return &model.FetchedResponse{
		StatusCode:   resp.StatusCode,
		ReasonPhrase: reasonFor(reasonPhrase, resp.StatusCode),
		ContentType:  contentType,
		Charset:      charset,
		Header:       flattenHeader(resp.Header),
		Body:         &onceCloser{ReadCloser: body},
	}
}

func parseContentType(v string) (string, string) {
	if strings.TrimSpace(v) == "" {
		return "", ""
	}

	mediaType, params, err := mime.ParseMediaType(v)
	if mediaType == "" {
		// Unparseable: keep whatever precedes the first parameter.
		mediaType = strings.ToLower(strings.TrimSpace(strings.SplitN(v, ";", 2)[0]))
	}
	charset := ""
	if err == nil {
		charset = params["charset"]
	}
	if charset == "" {
		charset = DefaultCharset
	}
	return mediaType, charset
}

func reasonFor(policy string, status int) string {
	switch policy {
	case "":
		return "OK"
	case config.ReasonPhraseStatus:
		if text := http.StatusText(status); text != "" {
			return text
		}
		return "OK"
	default:
		return policy
	}
}

// flattenHeader joins multi-valued headers with ", ".
func flattenHeader(h http.Header) map[string]string {
	out := make(map[string]string, len(h))
	for k, vals := range h {
		out[k] = strings.Join(vals, ", ")
	}
	return out
}

type onceCloser struct {
	io.ReadCloser
	once sync.Once
	err  error
}

func (c *onceCloser) Close() error {
	c.once.Do(func() { c.err = c.ReadCloser.Close() })
	return c.err
}
