// Package settings holds the live proxy settings the gateway reads on every
// dispatch.
package settings

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync/atomic"

	"webgate/internal/config"
	"webgate/internal/model"
)

var (
	// ErrInvalidPort is returned for a proxy host without a usable port.
	ErrInvalidPort = errors.New("settings: proxy port must be 1-65535 when a host is set")
	// ErrCredentialsWithoutHost is returned when credentials are given with no host.
	ErrCredentialsWithoutHost = errors.New("settings: proxy credentials require a host")
)

// Store is a read-mostly holder of the current ProxyConfig.
type Store struct {
	current atomic.Pointer[model.ProxyConfig]
	logger  *slog.Logger
}

// NewStore seeds a Store from the [proxy] config section.
func NewStore(cfg *config.Config, logger *slog.Logger) *Store {
	s := &Store{logger: logger.With("component", "settings")}
	initial := cfg.InitialProxy()
	s.current.Store(&initial)
	return s
}

// Proxy returns a snapshot of the current proxy settings.
func (s *Store) Proxy() model.ProxyConfig {
	return *s.current.Load()
}

// SetProxy validates and replaces the proxy settings.
func (s *Store) SetProxy(p model.ProxyConfig) error {
	p.Host = strings.TrimSpace(p.Host)
	if p.Host == "" {
		if p.Username != "" || p.Password != "" {
			return ErrCredentialsWithoutHost
		}
		p.Port = 0
	} else if p.Port <= 0 || p.Port > 65535 {
		return fmt.Errorf("%w; got %d", ErrInvalidPort, p.Port)
	}

	old := s.current.Swap(&p)
	if old.Signature() != p.Signature() {
		s.logger.Info("proxy settings changed",
			"old_host", old.Host, "old_port", old.Port,
			"host", p.Host, "port", p.Port,
		)
	}
	return nil
}
