package transport

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/agentoven/mcpgateway/internal/mcperr"
	"github.com/agentoven/mcpgateway/pkg/models"
)

// toRPCError converts a mcperr.Error (or any error) into the JSON-RPC
// error object shape, the way the protocol core's unexported
// errorResponse does for the request/response path; transports that write
// a framing-level error directly to the wire (rather than going through
// Handle) need the same conversion here.
func toRPCError(err error) *models.RPCError {
	if mcpErr, ok := err.(*mcperr.Error); ok {
		return &models.RPCError{Code: mcpErr.Code, Message: mcpErr.Message, Data: mcpErr.Data}
	}
	return &models.RPCError{Code: mcperr.CodeParseError, Message: err.Error()}
}

const (
	wsWriteWait  = 10 * time.Second
	wsPongWait   = 60 * time.Second
	wsPingPeriod = wsPongWait * 9 / 10
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// handleWebSocket implements the websocket framing: one session per
// connection, authentication in the handshake via headers, ping/pong at
// the frame level (§4.H).
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	ac, err := s.authenticate(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusUnauthorized)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	conn.SetReadLimit(maxMessageBytes)

	sess := s.handler.Sessions().Open(models.TransportWebSocket)
	sess.AuthContext = ac
	outbox := s.broker.Register(sess.ID)

	var writeMu sync.Mutex
	var inflight sync.WaitGroup
	done := make(chan struct{})
	go s.wsWriteLoop(conn, &writeMu, sess.ID, outbox, done)
	s.wsReadLoop(conn, &writeMu, &inflight, sess)

	inflight.Wait()
	close(done)
	conn.Close()
	s.closeSession(r.Context(), sess.ID)
}

// wsReadLoop never blocks on Handle: every inbound message is dispatched on
// its own goroutine, guarded by writeMu for the response write, so a
// notifications/cancelled arriving while a tools/call is in flight is read
// and processed immediately instead of queueing behind it (§8 invariant #4).
func (s *Server) wsReadLoop(conn *websocket.Conn, writeMu *sync.Mutex, inflight *sync.WaitGroup, sess *models.Session) {
	conn.SetReadDeadline(time.Now().Add(wsPongWait))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(wsPongWait))
		return nil
	})

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			logTransportError("websocket", sess.ID, err)
			return
		}
		var msg models.RPCMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			errMsg := &models.RPCMessage{JSONRPC: "2.0", Error: toRPCError(mcperr.ParseError(err.Error()))}
			wsWriteJSON(conn, writeMu, errMsg)
			continue
		}

		inflight.Add(1)
		go func(m models.RPCMessage) {
			defer inflight.Done()
			if resp := s.handler.Handle(context.Background(), sess, &m); resp != nil {
				wsWriteJSON(conn, writeMu, resp)
			}
		}(msg)
	}
}

func wsWriteJSON(conn *websocket.Conn, writeMu *sync.Mutex, v interface{}) error {
	writeMu.Lock()
	defer writeMu.Unlock()
	conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
	return conn.WriteJSON(v)
}

func (s *Server) wsWriteLoop(conn *websocket.Conn, writeMu *sync.Mutex, sessionID string, outbox <-chan *models.RPCMessage, done <-chan struct{}) {
	ticker := time.NewTicker(wsPingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-done:
			return
		case msg, ok := <-outbox:
			if !ok {
				return
			}
			if err := wsWriteJSON(conn, writeMu, msg); err != nil {
				logTransportError("websocket", sessionID, err)
				return
			}
		case <-ticker.C:
			writeMu.Lock()
			conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			err := conn.WriteMessage(websocket.PingMessage, nil)
			writeMu.Unlock()
			if err != nil {
				return
			}
		}
	}
}
