package registry

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentoven/mcpgateway/pkg/models"
)

func newTool(name string, enabled, hidden bool) models.Tool {
	return models.Tool{
		Name:        name,
		Description: "test tool " + name,
		InputSchema: json.RawMessage(`{}`),
		Agent:       models.AgentSubprocess,
		AgentParams: map[string]interface{}{"command": "/bin/true"},
		Enabled:     enabled,
		Hidden:      hidden,
	}
}

func TestApplyVersionMonotonic(t *testing.T) {
	r := New()
	v0 := r.Snapshot().Version
	v1, err := r.Apply([]Mutation{{UpsertTool: ptr(newTool("a", true, false))}})
	require.NoError(t, err)
	assert.Greater(t, v1, v0)

	v2, err := r.Apply([]Mutation{{UpsertTool: ptr(newTool("b", true, false))}})
	require.NoError(t, err)
	assert.Greater(t, v2, v1)
}

func TestListVisibleFiltersEnabledAndHidden(t *testing.T) {
	r := New()
	_, err := r.Apply([]Mutation{
		{UpsertTool: ptr(newTool("visible", true, false))},
		{UpsertTool: ptr(newTool("disabled", false, false))},
		{UpsertTool: ptr(newTool("hidden", true, true))},
	})
	require.NoError(t, err)

	_, visible := r.ListVisible()
	require.Len(t, visible, 1)
	assert.Equal(t, "visible", visible[0].Name)

	all := r.ListAll()
	assert.Len(t, all, 3)
}

func TestApplyRejectsUnroutableTool(t *testing.T) {
	r := New()
	bad := newTool("bad", true, false)
	bad.AgentParams = nil
	_, err := r.Apply([]Mutation{{UpsertTool: &bad}})
	require.Error(t, err)

	// Current snapshot must be untouched by the rejected mutation.
	_, ok := r.GetTool("bad")
	assert.False(t, ok)
}

func TestMergeExternalReplacesSourceFully(t *testing.T) {
	r := New()
	tool1 := newTool("fs_read", true, false)
	tool1.Provenance = models.Provenance{SourceSystem: "external_mcp:filesystem"}
	tool2 := newTool("fs_write", true, false)
	tool2.Provenance = models.Provenance{SourceSystem: "external_mcp:filesystem"}

	r.MergeExternal("external_mcp:filesystem", []models.Tool{tool1, tool2}, nil, nil)
	assert.Len(t, r.ListAll(), 2)

	// Second merge with only one tool must drop the orphaned one.
	r.MergeExternal("external_mcp:filesystem", []models.Tool{tool1}, nil, nil)
	all := r.ListAll()
	require.Len(t, all, 1)
	assert.Equal(t, "fs_read", all[0].Name)
}

func TestDisableSourceMarksToolsUnavailable(t *testing.T) {
	r := New()
	tool := newTool("svc_tool", true, false)
	tool.Provenance = models.Provenance{SourceSystem: "external_mcp:svc"}
	r.MergeExternal("external_mcp:svc", []models.Tool{tool}, nil, nil)

	r.DisableSource("external_mcp:svc", false)
	got, ok := r.GetTool("svc_tool")
	require.True(t, ok)
	assert.False(t, got.Enabled)
}

func TestReloadFromPreservesExternalContributions(t *testing.T) {
	r := New()
	ext := newTool("ext_tool", true, false)
	ext.Provenance = models.Provenance{SourceSystem: "external_mcp:svc"}
	r.MergeExternal("external_mcp:svc", []models.Tool{ext}, nil, nil)

	loaded := models.EmptySnapshot()
	loaded.Tools["file_tool"] = newTool("file_tool", true, false)
	loaded.Tools["file_tool"] = withProvenance(loaded.Tools["file_tool"], "capability_loader")

	r.ReloadFrom(loaded)

	_, ok := r.GetTool("ext_tool")
	assert.True(t, ok, "external contribution must survive a capability reload")
	_, ok = r.GetTool("file_tool")
	assert.True(t, ok)
}

func withProvenance(t models.Tool, src string) models.Tool {
	t.Provenance.SourceSystem = src
	return t
}

func ptr(t models.Tool) *models.Tool { return &t }
