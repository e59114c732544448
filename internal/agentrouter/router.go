// Package agentrouter implements the Agent Router (§4.C): it validates a
// tool call's arguments against the tool's schema, then dispatches to the
// AgentDriver registered for the tool's agent kind, via a mutex-guarded map
// of driver implementations keyed by agent kind.
package agentrouter

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/xeipuuv/gojsonschema"

	"github.com/agentoven/mcpgateway/internal/mcperr"
	"github.com/agentoven/mcpgateway/pkg/contracts"
	"github.com/agentoven/mcpgateway/pkg/models"
)

// ToolLookup is the subset of the Registry the router needs.
type ToolLookup interface {
	GetTool(name string) (models.Tool, bool)
}

// Router dispatches tool calls to the driver registered for the tool's
// agent kind, enforcing the per-call deadline and argument validation
// steps common to every agent kind (§4.C).
type Router struct {
	registry ToolLookup

	mu      sync.RWMutex
	drivers map[models.AgentKind]contracts.AgentDriver
}

// New constructs a Router bound to a tool lookup source (normally the
// Tool Registry).
func New(registry ToolLookup) *Router {
	return &Router{
		registry: registry,
		drivers:  make(map[models.AgentKind]contracts.AgentDriver),
	}
}

// RegisterDriver adds or replaces the driver for one agent kind. OSS
// registers subprocess/http/graphql/sse/websocket/grpc/external_mcp_proxy
// at startup; this is also the extension point for a custom agent kind.
func (r *Router) RegisterDriver(driver contracts.AgentDriver) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.drivers[driver.Kind()] = driver
	log.Info().Str("agent_kind", string(driver.Kind())).Msg("agent driver registered")
}

func (r *Router) driverFor(kind models.AgentKind) contracts.AgentDriver {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.drivers[kind]
}

// Dispatch runs the full §4.C pipeline: lookup, enabled check, schema
// validation, deadline, branch to driver, normalise, retry. defaultDeadline
// is the gateway-wide request deadline (§5: "default 30s"); a tool that
// declares its own TimeoutSeconds overrides it (§5: "per-tool override").
// Either way, context.WithTimeout caps the result at whichever is sooner
// between that duration and ctx's own deadline, so a session-scoped
// deadline already carried on ctx is never exceeded (§4.C: "timeout =
// min(tool_timeout, session_deadline)").
func (r *Router) Dispatch(ctx context.Context, toolName string, arguments map[string]interface{}, defaultDeadline time.Duration) ([]models.ContentBlock, error) {
	tool, ok := r.registry.GetTool(toolName)
	if !ok {
		return nil, mcperr.ToolNotFound(toolName)
	}
	if !tool.Enabled {
		return nil, mcperr.ToolDisabled(toolName)
	}
	if err := validateArguments(tool, arguments); err != nil {
		return nil, err
	}

	driver := r.driverFor(tool.Agent)
	if driver == nil {
		return nil, mcperr.InternalError(fmt.Sprintf("no driver registered for agent kind %q", tool.Agent))
	}

	deadline := defaultDeadline
	if tool.TimeoutSeconds > 0 {
		deadline = time.Duration(tool.TimeoutSeconds) * time.Second
	}
	if deadline <= 0 {
		deadline = 30 * time.Second
	}
	callCtx, cancel := context.WithTimeout(ctx, deadline)
	defer cancel()

	content, err := r.dispatchWithRetry(callCtx, driver, tool, arguments)
	if err != nil {
		return nil, err
	}
	if len(content) == 0 {
		return nil, mcperr.InternalError(fmt.Sprintf("tool %q returned no content blocks", toolName))
	}
	return content, nil
}

// dispatchWithRetry retries a RetryableDriver's transient failures with
// exponential backoff and jitter (§4.C: "default 2 retries, exponential
// backoff with jitter 100-800ms"). Non-retryable drivers, and any
// non-transient error, pass straight through. The router never retries a
// non-idempotent agent unless the tool is explicitly annotated
// idempotent:true, since a retried subprocess or websocket call could
// double an effect the caller didn't ask to repeat.
func (r *Router) dispatchWithRetry(ctx context.Context, driver contracts.AgentDriver, tool models.Tool, arguments map[string]interface{}) ([]models.ContentBlock, error) {
	retryable, ok := driver.(contracts.RetryableDriver)
	maxRetries := 0
	if ok && (tool.Annotations.Idempotent || tool.Agent == models.AgentHTTP || tool.Agent == models.AgentGraphQL) {
		maxRetries = retryable.MaxRetries()
	}

	var lastErr error
	for attempt := 0; attempt <= maxRetries; attempt++ {
		if attempt > 0 {
			if err := sleepBackoff(ctx, attempt); err != nil {
				return nil, err
			}
			log.Info().Str("tool", tool.Name).Int("attempt", attempt).Msg("retrying tool dispatch")
		}

		content, err := driver.Dispatch(ctx, tool, arguments)
		if err == nil {
			return content, nil
		}
		lastErr = err

		if !isTransient(err) {
			return nil, err
		}
	}
	return nil, lastErr
}

func isTransient(err error) bool {
	var e *mcperr.Error
	if as, ok := err.(*mcperr.Error); ok {
		e = as
	}
	if e == nil {
		return false
	}
	return e.Class == mcperr.Transient
}

func validateArguments(tool models.Tool, arguments map[string]interface{}) error {
	if len(tool.InputSchema) == 0 || string(tool.InputSchema) == "null" {
		return nil
	}
	schemaLoader := gojsonschema.NewBytesLoader(tool.InputSchema)
	docLoader := gojsonschema.NewGoLoader(arguments)

	result, err := gojsonschema.Validate(schemaLoader, docLoader)
	if err != nil {
		return mcperr.InvalidParams(fmt.Sprintf("schema error: %v", err))
	}
	if !result.Valid() {
		errs := result.Errors()
		if len(errs) == 0 {
			return mcperr.InvalidParams("arguments do not satisfy schema")
		}
		first := errs[0]
		return mcperr.InvalidParams(first.Description()).WithData(map[string]string{
			"pointer": "/" + first.Field(),
		})
	}
	return nil
}
