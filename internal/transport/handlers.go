package transport

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/agentoven/mcpgateway/internal/mcperr"
	"github.com/agentoven/mcpgateway/pkg/models"
)

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]interface{}{
		"status":         "ok",
		"version":        s.version,
		"uptime_seconds": int(time.Since(s.startedAt).Seconds()),
	})
}

// handleStreamable implements the preferred streamable-http framing: one
// POST per client message, with the response (and anything the Broker
// queued for this session meanwhile) streamed back as NDJSON.
func (s *Server) handleStreamable(w http.ResponseWriter, r *http.Request) {
	ac, err := s.authenticate(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusUnauthorized)
		return
	}

	sess := s.sessionForRequest(r, models.TransportStreamableHTTP)
	sess.AuthContext = ac

	r.Body = http.MaxBytesReader(w, r.Body, maxMessageBytes)
	var msg models.RPCMessage
	if err := json.NewDecoder(r.Body).Decode(&msg); err != nil {
		http.Error(w, mcperr.ParseError(err.Error()).Error(), http.StatusBadRequest)
		return
	}

	outbox := s.broker.Register(sess.ID)
	defer s.broker.Unregister(sess.ID)

	w.Header().Set("Content-Type", "application/x-ndjson")
	w.Header().Set(SessionIDHeader, sess.ID)
	w.WriteHeader(http.StatusOK)
	flusher, _ := w.(http.Flusher)

	resp := s.handler.Handle(r.Context(), sess, &msg)
	if resp != nil {
		writeNDJSON(w, resp)
	}
	drainOutboxNonBlocking(w, outbox)
	if flusher != nil {
		flusher.Flush()
	}
}

func writeNDJSON(w http.ResponseWriter, msg *models.RPCMessage) {
	b, err := json.Marshal(msg)
	if err != nil {
		return
	}
	w.Write(b)
	w.Write([]byte("\n"))
}

func drainOutboxNonBlocking(w http.ResponseWriter, outbox <-chan *models.RPCMessage) {
	for {
		select {
		case msg, ok := <-outbox:
			if !ok {
				return
			}
			writeNDJSON(w, msg)
		default:
			return
		}
	}
}

// sessionForRequest reuses the session named by the Mcp-Session-Id header
// if one is open, or opens a new one.
func (s *Server) sessionForRequest(r *http.Request, kind models.TransportKind) *models.Session {
	if id := r.Header.Get(SessionIDHeader); id != "" {
		if sess, ok := s.handler.Sessions().Get(id); ok {
			return sess
		}
	}
	return s.handler.Sessions().Open(kind)
}

func (s *Server) closeSession(ctx context.Context, sessionID string) {
	s.broker.Unregister(sessionID)
	s.handler.Sessions().Close(sessionID)
}

func logTransportError(kind, sessionID string, err error) {
	log.Warn().Str("transport", kind).Str("session", sessionID).Err(err).Msg("transport: framing error, closing session")
}
