package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentoven/mcpgateway/internal/broker"
	"github.com/agentoven/mcpgateway/internal/config"
	"github.com/agentoven/mcpgateway/internal/protocol"
	"github.com/agentoven/mcpgateway/internal/registry"
	"github.com/agentoven/mcpgateway/pkg/models"
)

func newTestServer() *Server {
	reg := registry.New()
	nb := broker.New(16)
	h := protocol.New(reg, nil, nb, nil)
	cfg := config.TransportsConfig{StreamableHTTP: true, WebSocket: true, SSE: true}
	return NewServer(h, nb, nil, cfg, "test")
}

func TestHealthEndpointReportsOK(t *testing.T) {
	srv := newTestServer()
	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	w := httptest.NewRecorder()
	srv.Router().ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, "ok", body["status"])
}

func TestStreamableHandshakeAssignsSessionID(t *testing.T) {
	srv := newTestServer()
	payload, _ := json.Marshal(models.RPCMessage{JSONRPC: "2.0", ID: json.RawMessage(`"1"`), Method: "initialize"})
	req := httptest.NewRequest(http.MethodPost, "/mcp/streamable", bytes.NewReader(payload))
	w := httptest.NewRecorder()
	srv.Router().ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.NotEmpty(t, w.Header().Get(SessionIDHeader))

	var resp models.RPCMessage
	require.NoError(t, json.Unmarshal(bytes.TrimSpace(w.Body.Bytes()), &resp))
	assert.Nil(t, resp.Error)
}

func TestStreamableRejectsMalformedBody(t *testing.T) {
	srv := newTestServer()
	req := httptest.NewRequest(http.MethodPost, "/mcp/streamable", bytes.NewReader([]byte("not json")))
	w := httptest.NewRecorder()
	srv.Router().ServeHTTP(w, req)

	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestSSEStreamEmitsEndpointEvent(t *testing.T) {
	srv := newTestServer()
	ctx, cancel := context.WithCancel(context.Background())
	req := httptest.NewRequest(http.MethodGet, "/mcp/sse", nil).WithContext(ctx)
	w := httptest.NewRecorder()

	done := make(chan struct{})
	go func() {
		srv.Router().ServeHTTP(w, req)
		close(done)
	}()

	// The handler blocks draining the broker outbox for the life of the
	// stream; cancel the request context once the initial event has had
	// time to land, the same way a dropped client connection would end it.
	time.Sleep(20 * time.Millisecond)
	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("sse handler did not return after context cancellation")
	}

	assert.Contains(t, w.Body.String(), "event: endpoint")
	assert.NotEmpty(t, w.Header().Get(SessionIDHeader))
}
