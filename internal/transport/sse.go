package transport

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/agentoven/mcpgateway/internal/mcperr"
	"github.com/agentoven/mcpgateway/pkg/models"
)

// handleSSEStream implements the deprecated http-sse framing's server→client
// half (§4.H: "GET /sse for server->client"). The client correlates its
// POSTed messages to this stream via the session header returned on the
// first event.
func (s *Server) handleSSEStream(w http.ResponseWriter, r *http.Request) {
	ac, err := s.authenticate(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusUnauthorized)
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	sess := s.handler.Sessions().Open(models.TransportHTTPSSE)
	sess.AuthContext = ac
	outbox := s.broker.Register(sess.ID)

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set(SessionIDHeader, sess.ID)
	w.WriteHeader(http.StatusOK)

	writeSSEEvent(w, "endpoint", []byte(`"`+sess.ID+`"`))
	flusher.Flush()

	ctx := r.Context()
	for {
		select {
		case <-ctx.Done():
			s.closeSession(context.Background(), sess.ID)
			return
		case msg, ok := <-outbox:
			if !ok {
				return
			}
			b, err := json.Marshal(msg)
			if err != nil {
				continue
			}
			writeSSEEvent(w, "message", b)
			flusher.Flush()
		}
	}
}

func writeSSEEvent(w http.ResponseWriter, event string, data []byte) {
	w.Write([]byte("event: " + event + "\n"))
	w.Write([]byte("data: "))
	w.Write(data)
	w.Write([]byte("\n\n"))
}

// handleSSEMessage implements the client→server half of the deprecated
// http-sse framing (§4.H: "POST /sse/messages for client->server"),
// correlated to an open stream by the session header.
func (s *Server) handleSSEMessage(w http.ResponseWriter, r *http.Request) {
	sessionID := r.Header.Get(SessionIDHeader)
	if sessionID == "" {
		http.Error(w, mcperr.InvalidRequest("missing "+SessionIDHeader+" header").Error(), http.StatusBadRequest)
		return
	}
	sess, ok := s.handler.Sessions().Get(sessionID)
	if !ok {
		http.Error(w, mcperr.InvalidRequest("unknown session").Error(), http.StatusNotFound)
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, maxMessageBytes)
	var msg models.RPCMessage
	if err := json.NewDecoder(r.Body).Decode(&msg); err != nil {
		http.Error(w, mcperr.ParseError(err.Error()).Error(), http.StatusBadRequest)
		return
	}

	resp := s.handler.Handle(r.Context(), sess, &msg)
	if resp != nil {
		// The response is delivered asynchronously over the SSE stream, not
		// in this POST's body, matching the legacy SSE transport's decoupled
		// request/response correlation. Pushing it through the Broker reuses
		// the same outbound path server-initiated messages take.
		s.broker.Send(sessionID, resp)
	}
	w.WriteHeader(http.StatusAccepted)
}
