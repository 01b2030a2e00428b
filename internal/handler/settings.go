package handler

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/labstack/echo/v4"

	"webgate/internal/model"
	"webgate/internal/settings"
)

// ProxyStore is the settings collaborator.
type ProxyStore interface {
	Proxy() model.ProxyConfig
	SetProxy(p model.ProxyConfig) error
}

// proxyView is the public shape of the proxy settings. The password is never
// returned.
type proxyView struct {
	Host        string `json:"host"`
	Port        int    `json:"port"`
	Username    string `json:"username,omitempty"`
	PasswordSet bool   `json:"password_set"`
	Enabled     bool   `json:"enabled"`
}

func newProxyView(p model.ProxyConfig) proxyView {
	return proxyView{
		Host:        p.Host,
		Port:        p.Port,
		Username:    p.Username,
		PasswordSet: p.Password != "",
		Enabled:     p.Enabled(),
	}
}

// SettingsHandler reads and replaces the live proxy settings.
type SettingsHandler struct {
	store  ProxyStore
	logger *slog.Logger
}

// NewSettingsHandler creates a SettingsHandler.
func NewSettingsHandler(store ProxyStore, logger *slog.Logger) *SettingsHandler {
	return &SettingsHandler{
		store:  store,
		logger: logger.With("component", "settings_handler"),
	}
}

// GetProxy returns the current proxy settings.
func (h *SettingsHandler) GetProxy(c echo.Context) error {
	return c.JSON(http.StatusOK, newProxyView(h.store.Proxy()))
}

// PutProxy replaces the proxy settings. The next intercepted request picks
// them up.
func (h *SettingsHandler) PutProxy(c echo.Context) error {
	var p model.ProxyConfig
	if err := c.Bind(&p); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "invalid JSON body"})
	}

	if err := h.store.SetProxy(p); err != nil {
		if errors.Is(err, settings.ErrInvalidPort) || errors.Is(err, settings.ErrCredentialsWithoutHost) {
			return c.JSON(http.StatusBadRequest, map[string]string{"error": err.Error()})
		}
		h.logger.Error("update proxy settings", "err", err)
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": "failed to update proxy settings"})
	}

	return c.JSON(http.StatusOK, newProxyView(h.store.Proxy()))
}
