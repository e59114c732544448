package supervisor

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

// fakeClient is an in-process contracts.ExternalClient double: it answers
// fixed responses keyed by method, so the ingestion and dispatch paths can
// be exercised without a real subprocess or socket.
type fakeClient struct {
	responses map[string]json.RawMessage
	errs      map[string]error
	calls     []string
}

func (f *fakeClient) Call(ctx context.Context, method string, params interface{}) ([]byte, error) {
	f.calls = append(f.calls, method)
	if err, ok := f.errs[method]; ok {
		return nil, err
	}
	return f.responses[method], nil
}

func (f *fakeClient) Notify(ctx context.Context, method string, params interface{}) error {
	f.calls = append(f.calls, method)
	return nil
}

func (f *fakeClient) Close() error { return nil }

func newTestServer(id string, reg *registry.Registry) *managedServer {
	def := ServerDef{
		ID:            id,
		ToolPrefix:    id + "_",
		RestartPolicy: models.DefaultRestartPolicy(),
	}
	return newManagedServer(def, reg, make(chan struct{}, 8))
}

func TestIngestCapabilitiesMergesIntoRegistry(t *testing.T) {
	reg := registry.New()
	ms := newTestServer("files", reg)

	client := &fakeClient{responses: map[string]json.RawMessage{
		"tools/list": json.RawMessage(`{"tools":[{"name":"read_file","description":"reads a file","inputSchema":{}}]}`),
	}}

	err := ms.ingestCapabilities(context.Background(), client)
	require.NoError(t, err)

	tool, ok := reg.GetTool("files_read_file")
	require.True(t, ok)
	assert.Equal(t, models.AgentExternalMCP, tool.Agent)
	assert.Equal(t, "files", tool.AgentParams["server_id"])
	assert.Equal(t, "files_", tool.AgentParams["tool_prefix"])
	assert.Equal(t, "external_mcp:files", tool.Provenance.SourceSystem)
}

func TestIngestCapabilitiesPagesCursor(t *testing.T) {
	reg := registry.New()
	ms := newTestServer("paged", reg)

	call := 0
	pages := []json.RawMessage{
		json.RawMessage(`{"tools":[{"name":"a"}],"nextCursor":"p2"}`),
		json.RawMessage(`{"tools":[{"name":"b"}]}`),
	}
	pagingClient := &pagingFakeClient{pages: pages, counter: &call}

	err := ms.ingestCapabilities(context.Background(), pagingClient)
	require.NoError(t, err)

	_, ok := reg.GetTool("paged_a")
	assert.True(t, ok)
	_, ok = reg.GetTool("paged_b")
	assert.True(t, ok)
}

type pagingFakeClient struct {
	pages   []json.RawMessage
	counter *int
}

func (p *pagingFakeClient) Call(ctx context.Context, method string, params interface{}) ([]byte, error) {
	if method != "tools/list" {
		return nil, nil
	}
	idx := *p.counter
	*p.counter++
	if idx >= len(p.pages) {
		return json.RawMessage(`{"tools":[]}`), nil
	}
	return p.pages[idx], nil
}

func (p *pagingFakeClient) Notify(ctx context.Context, method string, params interface{}) error { return nil }
func (p *pagingFakeClient) Close() error                                                        { return nil }

func TestCallToolRejectsWhenNotReady(t *testing.T) {
	reg := registry.New()
	ms := newTestServer("down", reg)

	_, err := ms.callTool(context.Background(), "anything", nil)
	require.Error(t, err)
	mcpErr, ok := err.(*mcperr.Error)
	require.True(t, ok)
	assert.Equal(t, mcperr.Transient, mcpErr.Class)
}

func TestCallToolSucceedsWhenReady(t *testing.T) {
	reg := registry.New()
	ms := newTestServer("up", reg)

	client := &fakeClient{responses: map[string]json.RawMessage{
		"tools/call": json.RawMessage(`{"content":[{"type":"text","text":"ok"}]}`),
	}}
	ms.mu.Lock()
	ms.client = client
	ms.state = models.ServerReady
	ms.mu.Unlock()

	content, err := ms.callTool(context.Background(), "do_thing", map[string]interface{}{"x": 1})
	require.NoError(t, err)
	require.Len(t, content, 1)
	assert.Equal(t, "ok", content[0].Text)
}

func TestCallToolServesWhileDegraded(t *testing.T) {
	reg := registry.New()
	ms := newTestServer("wobbly", reg)

	client := &fakeClient{responses: map[string]json.RawMessage{
		"tools/call": json.RawMessage(`{"content":[{"type":"text","text":"ok"}]}`),
	}}
	ms.mu.Lock()
	ms.client = client
	ms.state = models.ServerDegraded
	ms.mu.Unlock()

	content, err := ms.callTool(context.Background(), "do_thing", nil)
	require.NoError(t, err, "a Degraded server must keep forwarding calls on its existing client while a reconnect is attempted in parallel")
	require.Len(t, content, 1)
	assert.Equal(t, "ok", content[0].Text)
}

func TestCallToolRejectsWhenBackoff(t *testing.T) {
	reg := registry.New()
	ms := newTestServer("down", reg)

	client := &fakeClient{responses: map[string]json.RawMessage{
		"tools/call": json.RawMessage(`{"content":[{"type":"text","text":"ok"}]}`),
	}}
	ms.mu.Lock()
	ms.client = client
	ms.state = models.ServerBackoff
	ms.mu.Unlock()

	_, err := ms.callTool(context.Background(), "do_thing", nil)
	require.Error(t, err)
	mcpErr, ok := err.(*mcperr.Error)
	require.True(t, ok)
	assert.Equal(t, mcperr.Transient, mcpErr.Class)
}

func TestBackoffPolicyPersistsAndEscalatesAcrossCalls(t *testing.T) {
	reg := registry.New()
	def := ServerDef{
		ID: "flaky",
		RestartPolicy: models.RestartPolicy{
			BaseBackoff:  10 * time.Millisecond,
			Ceiling:      time.Second,
			DegradeAfter: 3,
		},
	}
	ms := newManagedServer(def, reg, make(chan struct{}, 1))

	first := ms.backoffPolicy.NextBackOff()
	second := ms.backoffPolicy.NextBackOff()
	assert.Greater(t, second, first, "reusing one *backoff.ExponentialBackOff across calls must escalate the interval instead of resetting to ~base every time")
}

func TestWaitBackoffReusesPersistedPolicy(t *testing.T) {
	reg := registry.New()
	def := ServerDef{
		ID: "flaky2",
		RestartPolicy: models.RestartPolicy{
			BaseBackoff:  1 * time.Millisecond,
			Ceiling:      time.Second,
			DegradeAfter: 3,
		},
	}
	ms := newManagedServer(def, reg, make(chan struct{}, 1))
	before := ms.backoffPolicy

	stopped := ms.waitBackoff(context.Background())
	require.False(t, stopped)

	assert.Same(t, before, ms.backoffPolicy, "waitBackoff must reuse the server's persisted backoff policy, not construct a fresh one each call")
}

func TestCallToolReturnsToolErrorOnIsError(t *testing.T) {
	reg := registry.New()
	ms := newTestServer("erroring", reg)

	client := &fakeClient{responses: map[string]json.RawMessage{
		"tools/call": json.RawMessage(`{"content":[{"type":"text","text":"bad"}],"isError":true}`),
	}}
	ms.mu.Lock()
	ms.client = client
	ms.state = models.ServerReady
	ms.mu.Unlock()

	_, err := ms.callTool(context.Background(), "do_thing", nil)
	require.Error(t, err)
	mcpErr := err.(*mcperr.Error)
	assert.Equal(t, mcperr.ToolError, mcpErr.Class)
}
