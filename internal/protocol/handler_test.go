package protocol

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentoven/mcpgateway/internal/mcperr"
	"github.com/agentoven/mcpgateway/internal/registry"
	"github.com/agentoven/mcpgateway/pkg/models"
)

type fakeDispatcher struct {
	content []models.ContentBlock
	err     error
}

func (f *fakeDispatcher) Dispatch(ctx context.Context, name string, arguments map[string]interface{}, timeout time.Duration) ([]models.ContentBlock, error) {
	return f.content, f.err
}

func rpcRequest(id, method string, params interface{}) *models.RPCMessage {
	b, _ := json.Marshal(params)
	return &models.RPCMessage{JSONRPC: "2.0", ID: quotedID(id), Method: method, Params: b}
}

func newTestHandler() (*Handler, *registry.Registry, *models.Session) {
	reg := registry.New()
	h := New(reg, &fakeDispatcher{content: []models.ContentBlock{models.TextContent("ok")}}, nil, nil)
	sess := h.Sessions().Open(models.TransportStdio)
	return h, reg, sess
}

func TestInitializeTransitionsSessionState(t *testing.T) {
	h, _, sess := newTestHandler()
	resp := h.Handle(context.Background(), sess, rpcRequest("1", "initialize", map[string]interface{}{"protocolVersion": protocolVersion}))
	require.NotNil(t, resp)
	require.Nil(t, resp.Error)

	updated, ok := h.Sessions().Get(sess.ID)
	require.True(t, ok)
	assert.Equal(t, models.SessionInitializing, updated.State)
}

func TestInitializeEchoesRequestedSupportedVersion(t *testing.T) {
	h, _, sess := newTestHandler()
	resp := h.Handle(context.Background(), sess, rpcRequest("1", "initialize", map[string]interface{}{"protocolVersion": "2025-03-26"}))
	require.NotNil(t, resp)
	require.Nil(t, resp.Error)

	var result struct {
		ProtocolVersion string `json:"protocolVersion"`
	}
	require.NoError(t, json.Unmarshal(resp.Result, &result))
	assert.Equal(t, "2025-03-26", result.ProtocolVersion)

	updated, ok := h.Sessions().Get(sess.ID)
	require.True(t, ok)
	assert.Equal(t, "2025-03-26", updated.ProtocolVersion)
}

func TestInitializeDefaultsVersionWhenOmitted(t *testing.T) {
	h, _, sess := newTestHandler()
	resp := h.Handle(context.Background(), sess, rpcRequest("1", "initialize", map[string]interface{}{}))
	require.NotNil(t, resp)
	require.Nil(t, resp.Error)

	var result struct {
		ProtocolVersion string `json:"protocolVersion"`
	}
	require.NoError(t, json.Unmarshal(resp.Result, &result))
	assert.Equal(t, protocolVersion, result.ProtocolVersion)
}

func TestInitializeRejectsUnsupportedVersion(t *testing.T) {
	h, _, sess := newTestHandler()
	resp := h.Handle(context.Background(), sess, rpcRequest("1", "initialize", map[string]interface{}{"protocolVersion": "1999-01-01"}))
	require.NotNil(t, resp)
	require.NotNil(t, resp.Error)
	assert.Equal(t, mcperr.CodeUnsupportedProtocolVersion, resp.Error.Code)
}

func TestMethodsRejectedBeforeInitialized(t *testing.T) {
	h, _, sess := newTestHandler()
	resp := h.Handle(context.Background(), sess, rpcRequest("1", "tools/list", nil))
	require.NotNil(t, resp)
	require.NotNil(t, resp.Error)
	assert.Equal(t, mcperr.CodeInvalidRequest, resp.Error.Code)
}

func TestToolsListAfterInitializedReturnsVisibleTools(t *testing.T) {
	h, reg, sess := newTestHandler()
	_, err := reg.Apply([]registry.Mutation{{UpsertTool: &models.Tool{
		Name: "ping", Description: "ping a host", Agent: models.AgentSubprocess,
		AgentParams: map[string]interface{}{"command": "/bin/ping"}, Enabled: true,
	}}})
	require.NoError(t, err)

	h.sessions.setState(sess.ID, models.SessionInitialized)
	resp := h.Handle(context.Background(), sess, rpcRequest("2", "tools/list", nil))
	require.NotNil(t, resp)
	require.Nil(t, resp.Error)

	var result struct {
		Tools []map[string]interface{} `json:"tools"`
	}
	require.NoError(t, json.Unmarshal(resp.Result, &result))
	require.Len(t, result.Tools, 1)
	assert.Equal(t, "ping", result.Tools[0]["name"])
}

func TestToolsCallDispatchesAndWrapsContent(t *testing.T) {
	h, _, sess := newTestHandler()
	h.sessions.setState(sess.ID, models.SessionInitialized)

	resp := h.Handle(context.Background(), sess, rpcRequest("3", "tools/call", map[string]interface{}{"name": "ping", "arguments": map[string]interface{}{}}))
	require.NotNil(t, resp)
	require.Nil(t, resp.Error)

	var result struct {
		Content []models.ContentBlock `json:"content"`
		IsError bool                  `json:"isError"`
	}
	require.NoError(t, json.Unmarshal(resp.Result, &result))
	assert.False(t, result.IsError)
	require.Len(t, result.Content, 1)
	assert.Equal(t, "ok", result.Content[0].Text)
}

func TestToolsCallSurfacesToolErrorAsIsError(t *testing.T) {
	reg := registry.New()
	h := New(reg, &fakeDispatcher{err: mcperr.ToolExecutionFailed("boom")}, nil, nil)
	sess := h.Sessions().Open(models.TransportStdio)
	h.sessions.setState(sess.ID, models.SessionInitialized)

	resp := h.Handle(context.Background(), sess, rpcRequest("4", "tools/call", map[string]interface{}{"name": "x"}))
	require.NotNil(t, resp)
	require.Nil(t, resp.Error)

	var result struct {
		IsError bool `json:"isError"`
	}
	require.NoError(t, json.Unmarshal(resp.Result, &result))
	assert.True(t, result.IsError)
}

// blockingDispatcher simulates a slow tool call: it reports back on
// started, then blocks until ctx is cancelled.
type blockingDispatcher struct {
	started chan struct{}
}

func (b *blockingDispatcher) Dispatch(ctx context.Context, name string, arguments map[string]interface{}, timeout time.Duration) ([]models.ContentBlock, error) {
	close(b.started)
	<-ctx.Done()
	return nil, ctx.Err()
}

func TestCancelledToolCallSuppressesResponse(t *testing.T) {
	reg := registry.New()
	dispatcher := &blockingDispatcher{started: make(chan struct{})}
	h := New(reg, dispatcher, nil, nil)
	sess := h.Sessions().Open(models.TransportStdio)
	h.sessions.setState(sess.ID, models.SessionInitialized)

	respCh := make(chan *models.RPCMessage, 1)
	go func() {
		respCh <- h.Handle(context.Background(), sess, rpcRequest("7", "tools/call", map[string]interface{}{"name": "slow"}))
	}()

	<-dispatcher.started

	cancelNotif := &models.RPCMessage{JSONRPC: "2.0", Method: "notifications/cancelled", Params: mustJSON(map[string]interface{}{"requestId": "7"})}
	resp := h.Handle(context.Background(), sess, cancelNotif)
	assert.Nil(t, resp)

	select {
	case got := <-respCh:
		assert.Nil(t, got, "a cancelled tools/call must produce no response at all")
	case <-time.After(2 * time.Second):
		t.Fatal("handleToolsCall did not return after cancellation")
	}
}

func mustJSON(v interface{}) json.RawMessage {
	b, err := json.Marshal(v)
	if err != nil {
		panic(err)
	}
	return b
}

func TestPingAllowedBeforeInitialized(t *testing.T) {
	h, _, sess := newTestHandler()
	resp := h.Handle(context.Background(), sess, rpcRequest("5", "ping", nil))
	require.NotNil(t, resp)
	require.Nil(t, resp.Error)
}

func TestNotificationsInitializedTransitionsToInitialized(t *testing.T) {
	h, _, sess := newTestHandler()
	notif := &models.RPCMessage{JSONRPC: "2.0", Method: "notifications/initialized"}
	resp := h.Handle(context.Background(), sess, notif)
	assert.Nil(t, resp)

	updated, _ := h.Sessions().Get(sess.ID)
	assert.Equal(t, models.SessionInitialized, updated.State)
}

func TestUnknownMethodReturnsMethodNotFound(t *testing.T) {
	h, _, sess := newTestHandler()
	h.sessions.setState(sess.ID, models.SessionInitialized)
	resp := h.Handle(context.Background(), sess, rpcRequest("6", "tools/frobnicate", nil))
	require.NotNil(t, resp)
	require.NotNil(t, resp.Error)
	assert.Equal(t, mcperr.CodeMethodNotFound, resp.Error.Code)
}
