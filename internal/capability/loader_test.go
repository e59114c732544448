package capability

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, dir, name, content string) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(content), 0o644))
}

func TestLoader_LoadsToolsResourcesPrompts(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "tools.yaml", `
entries:
  - kind: tool
    name: http_fetch
    description: fetches a URL
    input_schema:
      type: object
      properties:
        url: {type: string}
    agent: http
    agent_params:
      url: "https://example.com/{id}"
    enabled: true
  - kind: resource
    uri: "file:///etc/hosts"
    mime_type: text/plain
    name: hosts
  - kind: prompt
    name: greeting
    template: "Hello {{name}}"
`)

	l := New([]string{dir}, true)
	snap, warnings, err := l.Load()
	require.NoError(t, err)
	require.Empty(t, warnings)
	require.Len(t, snap.Tools, 1)
	require.Len(t, snap.Resources, 1)
	require.Len(t, snap.Prompts, 1)

	tool := snap.Tools["http_fetch"]
	require.True(t, tool.Enabled)
	require.False(t, tool.Hidden)
	require.True(t, tool.Routable())
}

func TestLoader_DuplicateNameAcrossFiles(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "a.yaml", `
entries:
  - kind: tool
    name: dup_tool
    agent: http
    agent_params: {url: "https://a"}
`)
	writeFile(t, dir, "b.yaml", `
entries:
  - kind: tool
    name: dup_tool
    agent: http
    agent_params: {url: "https://b"}
`)

	l := New([]string{dir}, true)
	_, _, err := l.Load()
	require.Error(t, err)
	var dup *DuplicateName
	require.ErrorAs(t, err, &dup)
	require.Equal(t, "dup_tool", dup.Name)
}

func TestLoader_InvalidNameRejected(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "bad.yaml", `
entries:
  - kind: tool
    name: "not a valid name!"
    agent: http
    agent_params: {url: "https://a"}
`)

	l := New([]string{dir}, true)
	_, _, err := l.Load()
	require.Error(t, err)
	var invalid *InvalidDefinition
	require.ErrorAs(t, err, &invalid)
}

func TestLoader_MissingAgentParamsRejected(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "bad.yaml", `
entries:
  - kind: tool
    name: broken_http
    agent: http
    agent_params: {}
`)

	l := New([]string{dir}, true)
	_, _, err := l.Load()
	require.Error(t, err)
}
