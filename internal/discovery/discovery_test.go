package discovery

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentoven/mcpgateway/internal/config"
	"github.com/agentoven/mcpgateway/internal/registry"
	"github.com/agentoven/mcpgateway/pkg/models"
)

type fakeChatDriver struct {
	replies []string
	calls   int
}

func (f *fakeChatDriver) Kind() string { return "fake" }

func (f *fakeChatDriver) Complete(ctx context.Context, systemPrompt, userPrompt string) (string, error) {
	i := f.calls
	if i >= len(f.replies) {
		i = len(f.replies) - 1
	}
	f.calls++
	return f.replies[i], nil
}

func pingTool() models.Tool {
	schema, _ := json.Marshal(map[string]interface{}{
		"type":       "object",
		"properties": map[string]interface{}{"host": map[string]interface{}{"type": "string"}},
		"required":   []string{"host"},
	})
	return models.Tool{
		Name: "ping", Description: "ping a host", Agent: models.AgentSubprocess,
		AgentParams: map[string]interface{}{"command": "/bin/ping"}, Enabled: true, InputSchema: schema,
	}
}

func newTestRegistry(t *testing.T) *registry.Registry {
	reg := registry.New()
	_, err := reg.Apply([]registry.Mutation{{UpsertTool: ref(pingTool())}})
	require.NoError(t, err)
	return reg
}

func ref(t models.Tool) *models.Tool { return &t }

func TestRuleOnlyMatchAboveThresholdSucceeds(t *testing.T) {
	reg := newTestRegistry(t)
	cfg := config.SmartDiscoveryConfig{
		ToolSelectionMode:       "rule_only",
		DefaultConfidenceThresh: 0.6,
		Rules:                   []config.RulePattern{{Tool: "ping", Match: `text contains "ping"`, Confidence: 0.9}},
	}
	// The rule selects ping with empty arguments; the schema requires host,
	// so the single LLM repair pass supplies it.
	driver := &fakeChatDriver{replies: []string{`{"tool_name":"ping","arguments":{"host":"the-host"},"confidence":0.9,"reasoning":"repaired"}`}}
	engine, errs := New(reg, cfg, nil, driver)
	require.Empty(t, errs)

	result, err := engine.Resolve(context.Background(), models.DiscoveryRequest{Text: "please ping the host"})
	require.NoError(t, err)
	require.NotNil(t, result.Tool)
	assert.Equal(t, "ping", result.Tool.Name)
	assert.Equal(t, "rule", result.StrategyUsed)
}

func TestNoConfidentMatchReturnsTopCandidates(t *testing.T) {
	reg := newTestRegistry(t)
	cfg := config.SmartDiscoveryConfig{ToolSelectionMode: "rule_only", DefaultConfidenceThresh: 0.6}
	engine, _ := New(reg, cfg, nil, nil)

	result, err := engine.Resolve(context.Background(), models.DiscoveryRequest{Text: "do something unrelated"})
	require.Error(t, err)
	assert.Nil(t, result.Tool)
	assert.Len(t, result.Candidates, 1)
}

func TestLLMOnlySelectsAndSynthesisesArguments(t *testing.T) {
	reg := newTestRegistry(t)
	driver := &fakeChatDriver{replies: []string{`{"tool_name":"ping","arguments":{"host":"example.com"},"confidence":0.95,"reasoning":"matches"}`}}
	cfg := config.SmartDiscoveryConfig{ToolSelectionMode: "llm_only", DefaultConfidenceThresh: 0.6}
	engine, _ := New(reg, cfg, nil, driver)

	result, err := engine.Resolve(context.Background(), models.DiscoveryRequest{Text: "ping example.com"})
	require.NoError(t, err)
	require.NotNil(t, result.Tool)
	assert.Equal(t, "ping", result.Tool.Name)
	assert.Equal(t, "example.com", result.Tool.Arguments["host"])
}

func TestLLMRepairPassRecoversFromBadFirstReply(t *testing.T) {
	reg := newTestRegistry(t)
	driver := &fakeChatDriver{replies: []string{
		"not json at all",
		`{"tool_name":"ping","arguments":{"host":"example.com"},"confidence":0.8,"reasoning":"fixed"}`,
	}}
	cfg := config.SmartDiscoveryConfig{ToolSelectionMode: "llm_only", DefaultConfidenceThresh: 0.6}
	engine, _ := New(reg, cfg, nil, driver)

	result, err := engine.Resolve(context.Background(), models.DiscoveryRequest{Text: "ping example.com"})
	require.NoError(t, err)
	require.NotNil(t, result.Tool)
	assert.Equal(t, 2, driver.calls)
}

func TestArgumentSchemaMismatchTriggersRepairThenFails(t *testing.T) {
	reg := newTestRegistry(t)
	driver := &fakeChatDriver{replies: []string{
		`{"tool_name":"ping","arguments":{},"confidence":0.95,"reasoning":"missing host"}`,
		`{"tool_name":"ping","arguments":{},"confidence":0.95,"reasoning":"still missing host"}`,
	}}
	cfg := config.SmartDiscoveryConfig{ToolSelectionMode: "llm_only", DefaultConfidenceThresh: 0.6}
	engine, _ := New(reg, cfg, nil, driver)

	_, err := engine.Resolve(context.Background(), models.DiscoveryRequest{Text: "ping something"})
	require.Error(t, err)
}
