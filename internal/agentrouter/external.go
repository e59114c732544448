package agentrouter

import (
	"context"
	"fmt"
	"strings"

	"github.com/agentoven/mcpgateway/internal/mcperr"
	"github.com/agentoven/mcpgateway/pkg/models"
)

// ExternalDispatcher is the External MCP Supervisor's view from the Agent
// Router: forward a tools/call to whichever external server owns the
// (prefix-stripped) tool name. Kept as an interface so the router package
// has no import-cycle dependency on the supervisor package.
type ExternalDispatcher interface {
	CallTool(ctx context.Context, serverID, toolName string, arguments map[string]interface{}) ([]models.ContentBlock, error)
}

// ExternalProxyDriver implements the "external_mcp_proxy" agent kind
// (§4.C): forward to the Supervisor with the original arguments and the
// prefixed tool name stripped back to what the external server knows it
// as.
type ExternalProxyDriver struct {
	supervisor ExternalDispatcher
}

func NewExternalProxyDriver(supervisor ExternalDispatcher) *ExternalProxyDriver {
	return &ExternalProxyDriver{supervisor: supervisor}
}

func (d *ExternalProxyDriver) Kind() models.AgentKind { return models.AgentExternalMCP }

func (d *ExternalProxyDriver) Dispatch(ctx context.Context, tool models.Tool, arguments map[string]interface{}) ([]models.ContentBlock, error) {
	serverID, _ := tool.AgentParams["server_id"].(string)
	if serverID == "" {
		return nil, mcperr.InternalError(fmt.Sprintf("tool %q: external_mcp_proxy agent missing server_id", tool.Name))
	}
	prefix, _ := tool.AgentParams["tool_prefix"].(string)
	remoteName := strings.TrimPrefix(tool.Name, prefix)

	content, err := d.supervisor.CallTool(ctx, serverID, remoteName, arguments)
	if err != nil {
		return nil, err
	}
	return content, nil
}
