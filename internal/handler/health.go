package handler

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"webgate/internal/config"
	"webgate/internal/model"
)

// Version is a string type for dependency injection of the build version.
type Version string

// ClientState reports the signature of the live refetch client.
type ClientState interface {
	Signature() (model.ProxySignature, bool)
}

// HealthHandler serves health and status endpoints.
type HealthHandler struct {
	cfg     *config.Config
	version Version
	store   ProxyStore
	clients ClientState
}

// NewHealthHandler creates a HealthHandler.
func NewHealthHandler(cfg *config.Config, v Version, store ProxyStore, clients ClientState) *HealthHandler {
	return &HealthHandler{cfg: cfg, version: v, store: store, clients: clients}
}

// Healthz returns a simple OK response for liveness probes.
func (h *HealthHandler) Healthz(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{
		"status": "ok",
	})
}

type clientStatus struct {
	Built     bool   `json:"built"`
	ProxyHost string `json:"proxy_host,omitempty"`
	ProxyPort int    `json:"proxy_port,omitempty"`
}

type gatewayStatus struct {
	Status       string       `json:"status"`
	Version      string       `json:"version"`
	ProxyEnabled bool         `json:"proxy_enabled"`
	NoProxyMode  string       `json:"no_proxy_mode"`
	CacheEnabled bool         `json:"cache_enabled"`
	Client       clientStatus `json:"client"`
}

// Status reports the active proxy settings and the state of the refetch
// client.
func (h *HealthHandler) Status(c echo.Context) error {
	out := gatewayStatus{
		Status:       "ok",
		Version:      string(h.version),
		ProxyEnabled: h.store.Proxy().Enabled(),
		NoProxyMode:  h.cfg.Intercept.NoProxyMode,
		CacheEnabled: h.cfg.Cache.CacheEnabled(),
	}
	if sig, ok := h.clients.Signature(); ok {
		out.Client = clientStatus{Built: true, ProxyHost: sig.Host, ProxyPort: sig.Port}
	}
	return c.JSON(http.StatusOK, out)
}
