package supervisor

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentoven/mcpgateway/pkg/models"
)

func writeTempConfig(t *testing.T, contents string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "external_mcp.yaml")
	require.NoError(t, os.WriteFile(path, []byte(contents), 0o644))
	return path
}

func TestLoadServerDefsMissingFileIsNotAnError(t *testing.T) {
	defs, err := LoadServerDefs(filepath.Join(t.TempDir(), "nope.yaml"))
	require.NoError(t, err)
	assert.Empty(t, defs)
}

func TestLoadServerDefsStdio(t *testing.T) {
	path := writeTempConfig(t, `
servers:
  - id: filesystem
    transport: stdio
    command: /usr/bin/mcp-fs
    args: ["--root", "/data"]
`)
	defs, err := LoadServerDefs(path)
	require.NoError(t, err)
	require.Len(t, defs, 1)
	assert.Equal(t, "filesystem", defs[0].ID)
	assert.Equal(t, "filesystem_", defs[0].ToolPrefix)
	assert.Equal(t, models.SpecStdio, defs[0].Transport.Kind)
	assert.Equal(t, "/usr/bin/mcp-fs", defs[0].Transport.Command)
	assert.Equal(t, []string{"--root", "/data"}, defs[0].Transport.Args)
}

func TestLoadServerDefsHTTPWithCustomPrefixAndRestart(t *testing.T) {
	path := writeTempConfig(t, `
servers:
  - id: search
    tool_prefix: "s_"
    transport: http
    base_url: "https://search.example.invalid/rpc"
    auth: "Bearer abc"
    restart:
      base_backoff_s: 2
      ceiling_s: 30
      degrade_after: 5
`)
	defs, err := LoadServerDefs(path)
	require.NoError(t, err)
	require.Len(t, defs, 1)
	d := defs[0]
	assert.Equal(t, "s_", d.ToolPrefix)
	assert.Equal(t, models.SpecHTTP, d.Transport.Kind)
	assert.Equal(t, "https://search.example.invalid/rpc", d.Transport.BaseURL)
	assert.Equal(t, "Bearer abc", d.Transport.AuthHdr)
	assert.Equal(t, 5, d.RestartPolicy.DegradeAfter)
}

func TestLoadServerDefsRejectsMissingRequiredField(t *testing.T) {
	path := writeTempConfig(t, `
servers:
  - id: broken
    transport: http
`)
	_, err := LoadServerDefs(path)
	assert.Error(t, err)
}

func TestLoadServerDefsRejectsUnknownTransport(t *testing.T) {
	path := writeTempConfig(t, `
servers:
  - id: broken
    transport: carrier_pigeon
`)
	_, err := LoadServerDefs(path)
	assert.Error(t, err)
}
