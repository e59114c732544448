// Package protocol implements the MCP Protocol Core (§4.G): the JSON-RPC
// 2.0 method-dispatch switch and per-session state machine that every
// transport framing (stdio, streamable-http, websocket, http-sse) hands
// parsed messages to, covering the full MCP method set and a real
// per-session lifecycle.
package protocol

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/agentoven/mcpgateway/internal/mcperr"
	"github.com/agentoven/mcpgateway/internal/registry"
	"github.com/agentoven/mcpgateway/pkg/models"
)

const protocolVersion = "2025-06-18"

// supportedProtocolVersions lists every protocolVersion the gateway accepts
// in an initialize request (§4.G, §6). The most recent is echoed back when
// the client doesn't name one at all.
var supportedProtocolVersions = []string{"2024-11-05", "2025-03-26", "2025-06-18"}

func isSupportedProtocolVersion(v string) bool {
	for _, s := range supportedProtocolVersions {
		if s == v {
			return true
		}
	}
	return false
}

// Broker is the Protocol Core's view of the Notification Broker (§4.I):
// the per-session outbound channel it pushes server-initiated messages
// (notifications, progress, sampling/elicitation requests) onto. Kept as
// an interface so this package has no import-cycle dependency on the
// concrete broker implementation.
type Broker interface {
	Send(sessionID string, msg *models.RPCMessage) bool
}

// Discoverer is the Protocol Core's view of the Smart Discovery Engine
// (§4.E), exposed over the wire as the gateway-specific extension method
// "x-mcpgateway/discover" since base MCP defines no discovery method.
type Discoverer interface {
	Resolve(ctx context.Context, req models.DiscoveryRequest) (*models.DiscoveryResult, error)
}

// Dispatcher is the Protocol Core's view of the Agent Router.
type Dispatcher interface {
	Dispatch(ctx context.Context, name string, arguments map[string]interface{}, timeout time.Duration) ([]models.ContentBlock, error)
}

// ToolTimeout bounds a single tools/call dispatch when the request carries
// no explicit deadline of its own.
const ToolTimeout = 30 * time.Second

// Handler is the Protocol Core: one instance serves every session.
type Handler struct {
	registry   *registry.Registry
	router     Dispatcher
	sessions   *SessionStore
	broker     Broker
	discoverer Discoverer
}

// New constructs a Handler. broker and discoverer may be nil; a nil broker
// means progress/notifications are silently dropped (useful in tests), a
// nil discoverer makes "x-mcpgateway/discover" respond MethodNotFound.
func New(reg *registry.Registry, router Dispatcher, broker Broker, discoverer Discoverer) *Handler {
	return &Handler{
		registry:   reg,
		router:     router,
		sessions:   NewSessionStore(),
		broker:     broker,
		discoverer: discoverer,
	}
}

// Sessions exposes the session store for the transport layer to open and
// close sessions as connections arrive and go away.
func (h *Handler) Sessions() *SessionStore { return h.sessions }

// Handle processes one inbound JSON-RPC message for sess and returns the
// response to send back, or nil if msg was a notification (no response
// expected) or was itself a response to a server-initiated request.
func (h *Handler) Handle(ctx context.Context, sess *models.Session, msg *models.RPCMessage) *models.RPCMessage {
	if msg.IsResponse() {
		h.sessions.deliverResponse(sess.ID, msg)
		return nil
	}

	if !h.stateAllows(sess, msg.Method) {
		if msg.IsNotification() {
			return nil
		}
		return errorResponse(msg.ID, mcperr.InvalidRequest("session has not completed initialization"))
	}

	if msg.IsNotification() {
		h.handleNotification(ctx, sess, msg)
		return nil
	}

	switch msg.Method {
	case "initialize":
		return h.handleInitialize(sess, msg)
	case "ping":
		return okResponse(msg.ID, map[string]string{"status": "pong"})
	case "tools/list":
		return h.handleToolsList(msg)
	case "tools/call":
		return h.handleToolsCall(ctx, sess, msg)
	case "resources/list":
		return h.handleResourcesList(msg)
	case "resources/read":
		return h.handleResourcesRead(msg)
	case "resources/subscribe":
		return h.handleResourcesSubscribe(sess, msg, true)
	case "resources/unsubscribe":
		return h.handleResourcesSubscribe(sess, msg, false)
	case "prompts/list":
		return h.handlePromptsList(msg)
	case "prompts/get":
		return h.handlePromptsGet(msg)
	case "completion/complete":
		return h.handleCompletionComplete(msg)
	case "logging/setLevel":
		return h.handleLoggingSetLevel(msg)
	case "x-mcpgateway/discover":
		return h.handleDiscover(ctx, msg)
	default:
		return errorResponse(msg.ID, mcperr.MethodNotFound(msg.Method))
	}
}

// stateAllows enforces §4.G's "until Initialized, only initialize/ping are
// accepted" gate.
func (h *Handler) stateAllows(sess *models.Session, method string) bool {
	if sess.State == models.SessionInitialized || sess.State == models.SessionServing {
		return true
	}
	switch method {
	case "initialize", "ping", "notifications/initialized", "notifications/cancelled":
		return true
	default:
		return false
	}
}

func (h *Handler) handleNotification(ctx context.Context, sess *models.Session, msg *models.RPCMessage) {
	switch msg.Method {
	case "notifications/initialized":
		h.sessions.setState(sess.ID, models.SessionInitialized)
		log.Debug().Str("session", sess.ID).Msg("mcp session initialized")
	case "notifications/cancelled":
		h.handleCancelled(sess, msg)
	default:
		log.Debug().Str("session", sess.ID).Str("method", msg.Method).Msg("unhandled notification")
	}
}

func (h *Handler) handleInitialize(sess *models.Session, msg *models.RPCMessage) *models.RPCMessage {
	var params struct {
		ProtocolVersion string                 `json:"protocolVersion"`
		Capabilities    map[string]interface{} `json:"capabilities"`
	}
	if len(msg.Params) > 0 {
		if err := json.Unmarshal(msg.Params, &params); err != nil {
			return errorResponse(msg.ID, mcperr.InvalidParams(err.Error()))
		}
	}

	negotiated := protocolVersion
	if params.ProtocolVersion != "" {
		if !isSupportedProtocolVersion(params.ProtocolVersion) {
			return errorResponse(msg.ID, mcperr.UnsupportedProtocolVersion(params.ProtocolVersion, supportedProtocolVersions))
		}
		negotiated = params.ProtocolVersion
	}

	h.sessions.setState(sess.ID, models.SessionInitializing)
	sess.ProtocolVersion = negotiated
	sess.Capabilities = params.Capabilities

	return okResponse(msg.ID, map[string]interface{}{
		"protocolVersion": negotiated,
		"capabilities": map[string]interface{}{
			"tools":     map[string]bool{"listChanged": true},
			"resources": map[string]bool{"listChanged": true, "subscribe": true},
			"prompts":   map[string]bool{"listChanged": true},
			"logging":   map[string]bool{},
		},
		"serverInfo": map[string]string{"name": "mcpgateway", "version": "1"},
	})
}

func (h *Handler) handleCancelled(sess *models.Session, msg *models.RPCMessage) {
	var params struct {
		RequestID json.RawMessage `json:"requestId"`
	}
	if err := json.Unmarshal(msg.Params, &params); err != nil {
		return
	}
	if p, ok := h.sessions.resolvePending(sess.ID, rawIDString(params.RequestID)); ok && p.Cancel != nil {
		p.Cancel()
	}
}

func okResponse(id json.RawMessage, result interface{}) *models.RPCMessage {
	b, err := json.Marshal(result)
	if err != nil {
		return errorResponse(id, mcperr.InternalError(err.Error()))
	}
	return &models.RPCMessage{JSONRPC: "2.0", ID: id, Result: b}
}

func errorResponse(id json.RawMessage, err error) *models.RPCMessage {
	mcpErr, ok := err.(*mcperr.Error)
	if !ok {
		mcpErr = mcperr.InternalError(err.Error())
	}
	return &models.RPCMessage{
		JSONRPC: "2.0",
		ID:      id,
		Error:   &models.RPCError{Code: mcpErr.Code, Message: mcpErr.Message, Data: mcpErr.Data},
	}
}

func newRequestID() string { return uuid.New().String() }
