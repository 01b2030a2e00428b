package handler

import (
	"context"
	"io"
	"log/slog"
	"mime"
	"net/http"
	"sort"
	"strings"

	"github.com/labstack/echo/v4"

	"webgate/internal/model"
)

// Gateway headers on /intercept.
const (
	HeaderMainFrame    = "X-Main-Frame"
	HeaderDecision     = "X-Intercept-Decision"
	HeaderReasonPhrase = "X-Reason-Phrase"
)

// Interceptor is the dispatch entry point.
type Interceptor interface {
	Intercept(ctx context.Context, req *model.RequestDescriptor) *model.FetchedResponse
}

// gatewayRequestHeaders describe the gateway call, not the resource request.
var gatewayRequestHeaders = map[string]bool{
	HeaderMainFrame: true,
	"Content-Length": true,
}

// servedResponseHeaders are rewritten by the gateway when streaming a
// refetched body.
var servedResponseHeaders = map[string]bool{
	"Content-Length":    true,
	"Content-Type":      true,
	"Transfer-Encoding": true,
	"Connection":        true,
}

// InterceptHandler exposes the dispatcher to the rendering surface.
type InterceptHandler struct {
	dispatcher Interceptor
	logger     *slog.Logger
}

// NewInterceptHandler creates an InterceptHandler.
func NewInterceptHandler(d Interceptor, logger *slog.Logger) *InterceptHandler {
	return &InterceptHandler{
		dispatcher: d,
		logger:     logger.With("component", "intercept_handler"),
	}
}

// Handle runs one resource request through the dispatcher. A refetched
// response is streamed back with its status and headers; otherwise the
// surface gets 204 and fetches natively.
func (h *InterceptHandler) Handle(c echo.Context) error {
	req := c.Request()

	target := c.QueryParam("url")
	if target == "" {
		return c.JSON(http.StatusBadRequest, map[string]string{
			"error": "url query parameter is required",
		})
	}

	desc := model.NewRequestDescriptor(req.Method, target)
	desc.IsMainFrameNavigation = strings.EqualFold(req.Header.Get(HeaderMainFrame), "true")

	// net/http does not keep wire order; sort for a stable upstream request.
	keys := make([]string, 0, len(req.Header))
	for k := range req.Header {
		if !gatewayRequestHeaders[k] {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	for _, k := range keys {
		desc.Headers.Set(k, strings.Join(req.Header[k], ", "))
	}

	resp := h.dispatcher.Intercept(req.Context(), desc)
	if resp == nil {
		c.Response().Header().Set(HeaderDecision, "native")
		return c.NoContent(http.StatusNoContent)
	}
	defer func() { _ = resp.Body.Close() }()

	out := c.Response().Header()
	for k, v := range resp.Header {
		if servedResponseHeaders[http.CanonicalHeaderKey(k)] {
			continue
		}
		out.Set(k, v)
	}
	if resp.ContentType != "" {
		ct := resp.ContentType
		if resp.Charset != "" {
			if formatted := mime.FormatMediaType(ct, map[string]string{"charset": resp.Charset}); formatted != "" {
				ct = formatted
			}
		}
		out.Set(echo.HeaderContentType, ct)
	}
	out.Set(HeaderReasonPhrase, resp.ReasonPhrase)
	out.Set(HeaderDecision, "served")

	c.Response().WriteHeader(resp.StatusCode)

	// Status is already sent, so a mid-stream failure leaves the surface
	// with a truncated body.
	if _, err := io.Copy(c.Response(), resp.Body); err != nil {
		h.logger.Warn("streaming refetched body", "err", err, "url", target)
	}
	return nil
}
