// Package auth provides reference AuthProvider implementations that feed
// the engine's read-only §6 auth context contract. The engine itself never
// mints or verifies credentials; something ahead of it must resolve an
// inbound request to a models.AuthContext. This package is that something
// for the OSS HTTP surface: an API key provider and a bearer-JWT service
// account provider, chained and tried in registration order.
package auth

import (
	"net/http"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/agentoven/mcpgateway/pkg/contracts"
	"github.com/agentoven/mcpgateway/pkg/models"
)

// NamedProvider is a contracts.AuthProvider that also identifies itself,
// so the chain can log which provider resolved (or rejected) a request and
// skip disabled providers without touching the request path.
type NamedProvider interface {
	contracts.AuthProvider
	Name() string
	Enabled() bool
}

// Chain tries registered providers in order until one resolves an
// AuthContext.
//
// Contract per provider:
//   - (*AuthContext, nil) → authenticated, stop walking
//   - (nil, nil)          → provider doesn't apply to this request, try next
//   - (nil, error)        → auth was attempted and failed, reject immediately
type Chain struct {
	mu        sync.RWMutex
	providers []NamedProvider
}

// NewChain creates an empty auth provider chain.
func NewChain() *Chain {
	return &Chain{}
}

// RegisterProvider appends a provider to the chain.
func (c *Chain) RegisterProvider(p NamedProvider) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.providers = append(c.providers, p)
	log.Info().Str("provider", p.Name()).Bool("enabled", p.Enabled()).Msg("auth provider registered")
}

// Authenticate implements contracts.AuthProvider by walking the chain.
func (c *Chain) Authenticate(r *http.Request) (*models.AuthContext, error) {
	c.mu.RLock()
	providers := make([]NamedProvider, len(c.providers))
	copy(providers, c.providers)
	c.mu.RUnlock()

	for _, p := range providers {
		if !p.Enabled() {
			continue
		}
		authCtx, err := p.Authenticate(r)
		if err != nil {
			log.Debug().Str("provider", p.Name()).Err(err).Msg("auth provider rejected request")
			return nil, err
		}
		if authCtx != nil {
			log.Debug().Str("provider", p.Name()).Str("subject", authCtx.Subject).Msg("request authenticated")
			return authCtx, nil
		}
	}
	// No provider matched: anonymous request. Callers enforce required
	// scopes against a nil AuthContext, which HasScope reports as false.
	return nil, nil
}

// ListProviders returns the registered provider names, for diagnostics.
func (c *Chain) ListProviders() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	names := make([]string, len(c.providers))
	for i, p := range c.providers {
		names[i] = p.Name()
	}
	return names
}

var _ contracts.AuthProvider = (*Chain)(nil)
