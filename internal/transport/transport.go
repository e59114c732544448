// Package transport implements the four MCP framings of §4.H: stdio,
// streamable-http (preferred), websocket, and http-sse (deprecated,
// retained for compatibility). Each normalises raw bytes into parsed
// models.RPCMessage values before handing them to the Protocol Core, and
// registers its session with the Notification Broker so registry changes,
// progress, and server-initiated requests can reach the client.
//
// Grounded on pkg/server/server.go's HTTP server wiring (chi router, CORS,
// graceful shutdown) for the HTTP-backed framings, and on
// github.com/gorilla/websocket for the websocket framing instead of a
// hand-rolled upgrade handshake.
package transport

import (
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/agentoven/mcpgateway/internal/broker"
	"github.com/agentoven/mcpgateway/internal/config"
	"github.com/agentoven/mcpgateway/internal/protocol"
	"github.com/agentoven/mcpgateway/pkg/contracts"
	"github.com/agentoven/mcpgateway/pkg/models"
)

// maxMessageBytes is the default message size cap (§4.H: 16 MiB).
const maxMessageBytes = 16 * 1024 * 1024

// SessionIDHeader correlates a streamable-http or http-sse request with its
// session, per §4.H ("one session per logical stream identified by a
// session header").
const SessionIDHeader = "Mcp-Session-Id"

// Server wires the Protocol Core, Broker, and auth provider to the three
// HTTP-backed framings (streamable-http, websocket, http-sse) plus /health.
// Run it behind a stdio framing too via RunStdio for process-lifetime
// clients.
type Server struct {
	handler   *protocol.Handler
	broker    *broker.Broker
	auth      contracts.AuthProvider
	cfg       config.TransportsConfig
	version   string
	startedAt time.Time
}

func NewServer(h *protocol.Handler, b *broker.Broker, auth contracts.AuthProvider, cfg config.TransportsConfig, version string) *Server {
	return &Server{handler: h, broker: b, auth: auth, cfg: cfg, version: version, startedAt: time.Now()}
}

// Router builds the chi-based HTTP handler for the transports enabled in
// cfg.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(chimw.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   corsOrigins(),
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", SessionIDHeader},
		ExposedHeaders:   []string{SessionIDHeader},
		AllowCredentials: !isWildcardOrigins(),
		MaxAge:           300,
	}))

	r.Get("/health", s.handleHealth)

	if s.cfg.StreamableHTTP {
		r.Post("/mcp/streamable", s.handleStreamable)
	}
	if s.cfg.WebSocket {
		r.Get("/mcp/ws", s.handleWebSocket)
	}
	if s.cfg.SSE {
		r.Get("/mcp/sse", s.handleSSEStream)
		r.Post("/mcp/sse/messages", s.handleSSEMessage)
	}

	return r
}

func corsOrigins() []string {
	v := os.Getenv("MCPGATEWAY_CORS_ORIGINS")
	if v == "" {
		return []string{"*"}
	}
	var out []string
	for _, o := range strings.Split(v, ",") {
		o = strings.TrimSpace(o)
		if o != "" {
			out = append(out, o)
		}
	}
	if len(out) == 0 {
		return []string{"*"}
	}
	return out
}

func isWildcardOrigins() bool {
	o := corsOrigins()
	return len(o) == 1 && o[0] == "*"
}

// authenticate resolves r to an AuthContext via the configured provider. A
// nil provider (no auth configured) yields a nil AuthContext, which the
// engine treats as "no identity" rather than rejecting the request —
// authorization decisions are the capability loader/router's to make.
func (s *Server) authenticate(r *http.Request) (*models.AuthContext, error) {
	if s.auth == nil {
		return nil, nil
	}
	return s.auth.Authenticate(r)
}
