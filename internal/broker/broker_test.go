package broker

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentoven/mcpgateway/internal/registry"
	"github.com/agentoven/mcpgateway/pkg/models"
)

func TestSendToUnregisteredSessionFails(t *testing.T) {
	b := New(4)
	ok := b.Send("nobody", &models.RPCMessage{Method: "notifications/progress"})
	assert.False(t, ok)
}

func TestSendDeliversToRegisteredSession(t *testing.T) {
	b := New(4)
	ch := b.Register("s1")
	ok := b.Send("s1", &models.RPCMessage{Method: "ping"})
	require.True(t, ok)
	msg := <-ch
	assert.Equal(t, "ping", msg.Method)
}

func TestProgressDroppedWhenBufferFull(t *testing.T) {
	b := New(1)
	b.Register("s1")
	require.True(t, b.Send("s1", &models.RPCMessage{Method: "notifications/progress"}))
	ok := b.Send("s1", &models.RPCMessage{Method: "notifications/progress"})
	assert.False(t, ok, "second progress notification should be dropped once the buffer is full")
}

func TestListChangedEvictsLowerPriorityToMakeRoom(t *testing.T) {
	b := New(1)
	ch := b.Register("s1")
	require.True(t, b.Send("s1", &models.RPCMessage{Method: "notifications/progress"}))

	ok := b.Send("s1", &models.RPCMessage{Method: "notifications/tools/list_changed"})
	assert.True(t, ok, "list_changed must never be dropped")

	msg := <-ch
	assert.Equal(t, "notifications/tools/list_changed", msg.Method)
}

func TestUnregisterClosesChannel(t *testing.T) {
	b := New(4)
	ch := b.Register("s1")
	b.Unregister("s1")
	_, open := <-ch
	assert.False(t, open)
}

func TestBroadcastReachesAllSessions(t *testing.T) {
	b := New(4)
	ch1 := b.Register("s1")
	ch2 := b.Register("s2")
	b.Broadcast(&models.RPCMessage{Method: "notifications/tools/list_changed"})

	assert.Equal(t, "notifications/tools/list_changed", (<-ch1).Method)
	assert.Equal(t, "notifications/tools/list_changed", (<-ch2).Method)
}

func TestWatchRegistryBroadcastsOnChange(t *testing.T) {
	b := New(4)
	ch := b.Register("s1")
	reg := registry.New()
	reg.OnChange(WatchRegistry(b))

	_, err := reg.Apply([]registry.Mutation{{UpsertTool: &models.Tool{
		Name: "t", Agent: models.AgentSubprocess, AgentParams: map[string]interface{}{"command": "/bin/true"}, Enabled: true,
	}}})
	require.NoError(t, err)

	msg := <-ch
	assert.Equal(t, "notifications/tools/list_changed", msg.Method)
}
