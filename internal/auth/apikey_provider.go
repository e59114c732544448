package auth

import (
	"crypto/sha256"
	"crypto/subtle"
	"fmt"
	"net/http"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/agentoven/mcpgateway/pkg/models"
)

// APIKeyProvider validates static API keys presented via the
// Authorization: Bearer <key>, X-API-Key header, or api_key query
// parameter (the last form exists for websocket/SSE connections, which
// cannot set arbitrary headers during the handshake in every client).
//
// Config: MCPGATEWAY_API_KEYS env var, comma-separated. Every valid key
// maps to the same scope set, configured via MCPGATEWAY_API_KEY_SCOPES.
type APIKeyProvider struct {
	mu      sync.RWMutex
	keys    map[string]bool
	scopes  []string
	enabled bool
}

// NewAPIKeyProvider builds an API key provider from environment config.
func NewAPIKeyProvider() *APIKeyProvider {
	p := &APIKeyProvider{keys: map[string]bool{}}

	if s := os.Getenv("MCPGATEWAY_API_KEY_SCOPES"); s != "" {
		for _, sc := range strings.Split(s, ",") {
			if sc = strings.TrimSpace(sc); sc != "" {
				p.scopes = append(p.scopes, sc)
			}
		}
	} else {
		p.scopes = []string{"tools:call", "tools:list"}
	}

	for _, key := range strings.Split(os.Getenv("MCPGATEWAY_API_KEYS"), ",") {
		if key = strings.TrimSpace(key); key != "" {
			p.keys[key] = true
			p.enabled = true
		}
	}
	return p
}

func (p *APIKeyProvider) Name() string { return "apikey" }

func (p *APIKeyProvider) Enabled() bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.enabled
}

// Authenticate returns (nil, nil) when no key is present on the request,
// deferring to the next provider in the chain; it returns an error only
// when a key is present and invalid.
func (p *APIKeyProvider) Authenticate(r *http.Request) (*models.AuthContext, error) {
	key := extractAPIKey(r)
	if key == "" {
		return nil, nil
	}
	if !p.validate(key) {
		return nil, fmt.Errorf("invalid API key")
	}
	hash := fmt.Sprintf("%x", sha256.Sum256([]byte(key)))
	return &models.AuthContext{
		Subject: "apikey:" + hash[:16],
		Scopes:  append([]string(nil), p.scopes...),
		Expiry:  time.Now().Add(24 * time.Hour),
	}, nil
}

func (p *APIKeyProvider) validate(candidate string) bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	for key := range p.keys {
		if subtle.ConstantTimeCompare([]byte(candidate), []byte(key)) == 1 {
			return true
		}
	}
	return false
}

// AddKey registers a key at runtime (used by tests and admin tooling).
func (p *APIKeyProvider) AddKey(key string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.keys[key] = true
	p.enabled = true
}

func extractAPIKey(r *http.Request) string {
	if v := r.Header.Get("Authorization"); strings.HasPrefix(v, "Bearer ") {
		return strings.TrimPrefix(v, "Bearer ")
	}
	if v := r.Header.Get("X-API-Key"); v != "" {
		return v
	}
	return r.URL.Query().Get("api_key")
}
