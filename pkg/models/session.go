package models

import (
	"context"
	"time"
)

// TransportKind names the framing a session arrived over.
type TransportKind string

const (
	TransportStdio           TransportKind = "stdio"
	TransportStreamableHTTP  TransportKind = "streamable-http"
	TransportWebSocket       TransportKind = "websocket"
	TransportHTTPSSE         TransportKind = "http-sse"
)

// AuthContext is the opaque, read-only identity handed to the engine by the
// external auth module (§6). The engine never mints or verifies these
// itself; it consumes whatever the auth front door attaches to the request.
type AuthContext struct {
	Subject          string    `json:"subject"`
	Scopes           []string  `json:"scopes"`
	ResourceAudience string    `json:"resource_audience,omitempty"`
	Expiry           time.Time `json:"expiry"`
}

// HasScope reports whether the context carries the given scope.
func (a *AuthContext) HasScope(scope string) bool {
	if a == nil {
		return false
	}
	for _, s := range a.Scopes {
		if s == scope {
			return true
		}
	}
	return false
}

// PendingRequest tracks one in-flight request a session is waiting on, so
// that notifications/cancelled can look it up and trigger its abort handle.
type PendingRequest struct {
	ID       string
	Deadline time.Time
	Cancel   context.CancelFunc
}

// SessionState is the per-session protocol state machine position (§4.G).
type SessionState string

const (
	SessionConnected    SessionState = "connected"
	SessionInitializing SessionState = "initializing"
	SessionInitialized  SessionState = "initialized"
	SessionServing       SessionState = "serving"
	SessionClosing       SessionState = "closing"
	SessionClosed        SessionState = "closed"
)

// Session represents one connected client, independent of which transport
// framing it arrived over.
type Session struct {
	ID              string
	TransportKind   TransportKind
	State           SessionState
	ProtocolVersion string
	Capabilities    map[string]interface{}
	AuthContext     *AuthContext
	LastSeenVersion uint64
	CreatedAt       time.Time

	// Subscriptions is the set of resource URIs this session has
	// subscribed to via resources/subscribe.
	Subscriptions map[string]struct{}
}

// NewSession constructs a freshly connected session awaiting initialize.
func NewSession(id string, kind TransportKind, now time.Time) *Session {
	return &Session{
		ID:            id,
		TransportKind: kind,
		State:         SessionConnected,
		CreatedAt:     now,
		Subscriptions: map[string]struct{}{},
	}
}
