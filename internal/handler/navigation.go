package handler

import (
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"
)

// Navigator tracks main-frame navigations.
type Navigator interface {
	OnMainFrameNavigationStarted(url string)
	CurrentPage() string
}

type navigationRequest struct {
	URL string `json:"url"`
}

// NavigationHandler reports main-frame navigations from the rendering surface.
type NavigationHandler struct {
	nav Navigator
}

// NewNavigationHandler creates a NavigationHandler.
func NewNavigationHandler(nav Navigator) *NavigationHandler {
	return &NavigationHandler{nav: nav}
}

// Started records the start of a main-frame navigation.
func (h *NavigationHandler) Started(c echo.Context) error {
	var body navigationRequest
	if err := c.Bind(&body); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "invalid JSON body"})
	}
	body.URL = strings.TrimSpace(body.URL)
	if body.URL == "" {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "url is required"})
	}

	h.nav.OnMainFrameNavigationStarted(body.URL)
	return c.NoContent(http.StatusNoContent)
}

// Current returns the current page URL.
func (h *NavigationHandler) Current(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{"url": h.nav.CurrentPage()})
}
