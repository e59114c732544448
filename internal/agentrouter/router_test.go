package agentrouter

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentoven/mcpgateway/internal/mcperr"
	"github.com/agentoven/mcpgateway/pkg/models"
)

type fakeLookup struct {
	tools map[string]models.Tool
}

func (f *fakeLookup) GetTool(name string) (models.Tool, bool) {
	t, ok := f.tools[name]
	return t, ok
}

type fakeDriver struct {
	kind    models.AgentKind
	content []models.ContentBlock
	err     error
	calls   int
}

func (d *fakeDriver) Kind() models.AgentKind { return d.kind }
func (d *fakeDriver) Dispatch(ctx context.Context, tool models.Tool, arguments map[string]interface{}) ([]models.ContentBlock, error) {
	d.calls++
	return d.content, d.err
}

func TestDispatchToolNotFound(t *testing.T) {
	r := New(&fakeLookup{tools: map[string]models.Tool{}})
	_, err := r.Dispatch(context.Background(), "missing", nil, time.Second)
	require.Error(t, err)
	mcpErr, ok := err.(*mcperr.Error)
	require.True(t, ok)
	assert.Equal(t, mcperr.CodeToolNotFound, mcpErr.Code)
}

func TestDispatchDisabledTool(t *testing.T) {
	tool := models.Tool{Name: "shell_run", Agent: models.AgentSubprocess, Enabled: false, AgentParams: map[string]interface{}{"command": "ls"}}
	r := New(&fakeLookup{tools: map[string]models.Tool{"shell_run": tool}})
	_, err := r.Dispatch(context.Background(), "shell_run", map[string]interface{}{"cmd": "ls"}, time.Second)
	require.Error(t, err)
	mcpErr := err.(*mcperr.Error)
	assert.Equal(t, mcperr.PolicyError, mcpErr.Class)
}

func TestDispatchValidatesArguments(t *testing.T) {
	schema := json.RawMessage(`{"type":"object","required":["name"],"properties":{"name":{"type":"string"}}}`)
	tool := models.Tool{
		Name:        "greet",
		Agent:       models.AgentHTTP,
		Enabled:     true,
		InputSchema: schema,
		AgentParams: map[string]interface{}{"url": "http://example.invalid/greet"},
	}
	r := New(&fakeLookup{tools: map[string]models.Tool{"greet": tool}})
	driver := &fakeDriver{kind: models.AgentHTTP, content: []models.ContentBlock{models.TextContent("ok")}}
	r.RegisterDriver(driver)

	_, err := r.Dispatch(context.Background(), "greet", map[string]interface{}{}, time.Second)
	require.Error(t, err)
	assert.Equal(t, 0, driver.calls, "driver must not run when arguments fail schema validation")

	_, err = r.Dispatch(context.Background(), "greet", map[string]interface{}{"name": "ada"}, time.Second)
	require.NoError(t, err)
	assert.Equal(t, 1, driver.calls)
}

func TestDispatchUsesPerToolTimeoutOverride(t *testing.T) {
	tool := models.Tool{
		Name:           "slow",
		Agent:          models.AgentSubprocess,
		Enabled:        true,
		TimeoutSeconds: 1,
		AgentParams:    map[string]interface{}{"command": "/bin/sleep"},
	}
	r := New(&fakeLookup{tools: map[string]models.Tool{"slow": tool}})
	driver := &deadlineCapturingDriver{kind: models.AgentSubprocess, content: []models.ContentBlock{models.TextContent("ok")}}
	r.RegisterDriver(driver)

	// The default deadline argument (1 hour) would dwarf the per-tool
	// 1s override; the driver records how much time its ctx actually had
	// left so the test can assert the override won, not the default.
	_, err := r.Dispatch(context.Background(), "slow", map[string]interface{}{}, time.Hour)
	require.NoError(t, err)
	assert.LessOrEqual(t, driver.remaining, time.Second)
	assert.Greater(t, driver.remaining, time.Duration(0))
}

func TestDispatchCapsAtParentContextDeadline(t *testing.T) {
	tool := models.Tool{
		Name: "echo", Agent: models.AgentSubprocess, Enabled: true,
		AgentParams: map[string]interface{}{"command": "/bin/echo"},
	}
	r := New(&fakeLookup{tools: map[string]models.Tool{"echo": tool}})
	driver := &deadlineCapturingDriver{kind: models.AgentSubprocess, content: []models.ContentBlock{models.TextContent("ok")}}
	r.RegisterDriver(driver)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	// The per-call default deadline (30s) must not override a shorter
	// deadline already carried on the parent (session-scoped) context.
	_, err := r.Dispatch(ctx, "echo", map[string]interface{}{}, 30*time.Second)
	require.NoError(t, err)
	assert.LessOrEqual(t, driver.remaining, 50*time.Millisecond)
}

type deadlineCapturingDriver struct {
	kind      models.AgentKind
	content   []models.ContentBlock
	remaining time.Duration
}

func (d *deadlineCapturingDriver) Kind() models.AgentKind { return d.kind }
func (d *deadlineCapturingDriver) Dispatch(ctx context.Context, tool models.Tool, arguments map[string]interface{}) ([]models.ContentBlock, error) {
	if dl, ok := ctx.Deadline(); ok {
		d.remaining = time.Until(dl)
	}
	return d.content, nil
}

func TestDispatchSucceeds(t *testing.T) {
	tool := models.Tool{
		Name:        "echo",
		Agent:       models.AgentSubprocess,
		Enabled:     true,
		AgentParams: map[string]interface{}{"command": "/bin/echo"},
	}
	r := New(&fakeLookup{tools: map[string]models.Tool{"echo": tool}})
	r.RegisterDriver(&fakeDriver{kind: models.AgentSubprocess, content: []models.ContentBlock{models.TextContent("hi")}})

	content, err := r.Dispatch(context.Background(), "echo", map[string]interface{}{}, time.Second)
	require.NoError(t, err)
	require.Len(t, content, 1)
	assert.Equal(t, "hi", content[0].Text)
}
