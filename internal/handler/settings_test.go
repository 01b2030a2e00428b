package handler

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/labstack/echo/v4"

	"webgate/internal/config"
	"webgate/internal/model"
	"webgate/internal/settings"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type fakeStore struct {
	mu sync.Mutex
	p  model.ProxyConfig
}

func (f *fakeStore) Proxy() model.ProxyConfig {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.p
}

func (f *fakeStore) SetProxy(p model.ProxyConfig) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.p = p
	return nil
}

func TestSettingsHandler_GetProxyRedactsPassword(t *testing.T) {
	store := &fakeStore{p: model.ProxyConfig{Host: "10.0.0.1", Port: 1080, Username: "alice", Password: "s3cret"}}
	h := NewSettingsHandler(store, discardLogger())

	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/settings/proxy", http.NoBody)
	rec := httptest.NewRecorder()
	if err := h.GetProxy(e.NewContext(req, rec)); err != nil {
		t.Fatalf("GetProxy() error = %v", err)
	}

	if strings.Contains(rec.Body.String(), "s3cret") {
		t.Fatalf("response leaks the password: %s", rec.Body.String())
	}
	var body proxyView
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if body.Host != "10.0.0.1" || body.Port != 1080 || body.Username != "alice" {
		t.Errorf("body = %+v", body)
	}
	if !body.PasswordSet || !body.Enabled {
		t.Errorf("password_set = %v, enabled = %v; want true, true", body.PasswordSet, body.Enabled)
	}
}

func TestSettingsHandler_PutProxy(t *testing.T) {
	tests := []struct {
		name       string
		body       string
		wantStatus int
		wantHost   string
	}{
		{"valid", `{"host":"192.168.1.5","port":9050,"username":"u","password":"p"}`, http.StatusOK, "192.168.1.5"},
		{"disable", `{"host":""}`, http.StatusOK, ""},
		{"bad port", `{"host":"192.168.1.5","port":0}`, http.StatusBadRequest, "10.0.0.1"},
		{"credentials without host", `{"username":"u"}`, http.StatusBadRequest, "10.0.0.1"},
		{"malformed JSON", `{"host":`, http.StatusBadRequest, "10.0.0.1"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := settings.NewStore(&config.Config{Proxy: config.ProxyConfig{Host: "10.0.0.1", Port: 1080}}, discardLogger())
			h := NewSettingsHandler(store, discardLogger())

			e := echo.New()
			req := httptest.NewRequest(http.MethodPut, "/settings/proxy", strings.NewReader(tt.body))
			req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
			rec := httptest.NewRecorder()
			if err := h.PutProxy(e.NewContext(req, rec)); err != nil {
				t.Fatalf("PutProxy() error = %v", err)
			}

			if rec.Code != tt.wantStatus {
				t.Errorf("status = %d, want %d (body %s)", rec.Code, tt.wantStatus, rec.Body.String())
			}
			if got := store.Proxy().Host; got != tt.wantHost {
				t.Errorf("stored host = %q, want %q", got, tt.wantHost)
			}
			if strings.Contains(rec.Body.String(), `"password"`) {
				t.Errorf("response echoes the password field: %s", rec.Body.String())
			}
		})
	}
}
