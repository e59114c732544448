package protocol

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/agentoven/mcpgateway/internal/mcperr"
	"github.com/agentoven/mcpgateway/pkg/models"
)

const listPageSize = 50

// ── tools ─────────────────────────────────────────────────────

func (h *Handler) handleToolsList(msg *models.RPCMessage) *models.RPCMessage {
	var params struct {
		Cursor string `json:"cursor"`
	}
	_ = json.Unmarshal(msg.Params, &params)

	_, tools := h.registry.ListVisible()
	offset, err := decodeCursor(params.Cursor)
	if err != nil {
		return errorResponse(msg.ID, mcperr.InvalidParams("invalid cursor"))
	}

	page, next := paginate(tools, offset, listPageSize)
	out := make([]map[string]interface{}, 0, len(page))
	for _, t := range page {
		entry := map[string]interface{}{
			"name":        t.Name,
			"description": t.Description,
			"inputSchema": rawOrEmptyObject(t.InputSchema),
		}
		out = append(out, entry)
	}

	result := map[string]interface{}{"tools": out}
	if next >= 0 {
		result["nextCursor"] = encodeCursor(next)
	}
	return okResponse(msg.ID, result)
}

// handleToolsCall registers the call's request id in sess's pending table
// before dispatching, so a concurrently-received notifications/cancelled
// can cancel callCtx (§8 invariant #4: once cancelled, no response is sent
// for that id). The transport read loop must dispatch this on its own
// goroutine rather than blocking the read loop on it, or the cancellation
// notification could never be read off the wire while the call is in flight.
func (h *Handler) handleToolsCall(ctx context.Context, sess *models.Session, msg *models.RPCMessage) *models.RPCMessage {
	var params struct {
		Name          string                 `json:"name"`
		Arguments     map[string]interface{} `json:"arguments"`
		ProgressToken string                 `json:"progressToken,omitempty"`
	}
	if err := json.Unmarshal(msg.Params, &params); err != nil {
		return errorResponse(msg.ID, mcperr.InvalidParams(err.Error()))
	}

	requestID := rawIDString(msg.ID)
	callCtx, cancel := context.WithCancel(ctx)
	h.sessions.registerPending(sess.ID, requestID, models.PendingRequest{ID: requestID, Cancel: cancel})
	defer func() {
		h.sessions.clearPending(sess.ID, requestID)
		cancel()
	}()

	content, err := h.router.Dispatch(callCtx, params.Name, params.Arguments, ToolTimeout)
	if callCtx.Err() == context.Canceled {
		return nil
	}
	if err != nil {
		if mcpErr, ok := err.(*mcperr.Error); ok && mcpErr.Class == mcperr.ToolError {
			// Tool-level failures are reported as a successful RPC response
			// with isError: true, per the MCP content-result convention, not
			// as a JSON-RPC error.
			return okResponse(msg.ID, map[string]interface{}{
				"content": []models.ContentBlock{models.TextContent(mcpErr.Error())},
				"isError": true,
			})
		}
		return errorResponse(msg.ID, err)
	}

	return okResponse(msg.ID, map[string]interface{}{"content": content, "isError": false})
}

// ── resources ─────────────────────────────────────────────────

func (h *Handler) handleResourcesList(msg *models.RPCMessage) *models.RPCMessage {
	_, resources := h.registry.ListVisibleResources()
	out := make([]map[string]interface{}, 0, len(resources))
	for _, r := range resources {
		out = append(out, map[string]interface{}{
			"uri":      r.URI,
			"name":     r.Name,
			"mimeType": r.MimeType,
		})
	}
	return okResponse(msg.ID, map[string]interface{}{"resources": out})
}

func (h *Handler) handleResourcesRead(msg *models.RPCMessage) *models.RPCMessage {
	var params struct {
		URI string `json:"uri"`
	}
	if err := json.Unmarshal(msg.Params, &params); err != nil {
		return errorResponse(msg.ID, mcperr.InvalidParams(err.Error()))
	}
	res, ok := h.registry.GetResource(params.URI)
	if !ok || !res.Visible() {
		return errorResponse(msg.ID, mcperr.ResourceNotFound(params.URI))
	}
	// Only a resource with a ProviderRef can be read, and the provider is
	// not invoked here: the reply carries the resource's uri and mimeType
	// with an empty text body. A resource with no provider ref is list-only.
	if res.ProviderRef == "" {
		return errorResponse(msg.ID, mcperr.ResourceNotFound(params.URI).WithData(map[string]string{"reason": "no content provider configured"}))
	}
	return okResponse(msg.ID, map[string]interface{}{
		"contents": []map[string]string{{"uri": res.URI, "mimeType": res.MimeType, "text": ""}},
	})
}

func (h *Handler) handleResourcesSubscribe(sess *models.Session, msg *models.RPCMessage, subscribe bool) *models.RPCMessage {
	var params struct {
		URI string `json:"uri"`
	}
	if err := json.Unmarshal(msg.Params, &params); err != nil {
		return errorResponse(msg.ID, mcperr.InvalidParams(err.Error()))
	}
	if subscribe {
		sess.Subscriptions[params.URI] = struct{}{}
	} else {
		delete(sess.Subscriptions, params.URI)
	}
	return okResponse(msg.ID, map[string]interface{}{})
}

// ── prompts ───────────────────────────────────────────────────

func (h *Handler) handlePromptsList(msg *models.RPCMessage) *models.RPCMessage {
	_, prompts := h.registry.ListVisiblePrompts()
	out := make([]map[string]interface{}, 0, len(prompts))
	for _, p := range prompts {
		out = append(out, map[string]interface{}{
			"name":           p.Name,
			"argumentSchema": rawOrEmptyObject(p.ArgumentSchema),
		})
	}
	return okResponse(msg.ID, map[string]interface{}{"prompts": out})
}

func (h *Handler) handlePromptsGet(msg *models.RPCMessage) *models.RPCMessage {
	var params struct {
		Name      string                 `json:"name"`
		Arguments map[string]interface{} `json:"arguments"`
	}
	if err := json.Unmarshal(msg.Params, &params); err != nil {
		return errorResponse(msg.ID, mcperr.InvalidParams(err.Error()))
	}
	p, ok := h.registry.GetPrompt(params.Name)
	if !ok || !p.Visible() {
		return errorResponse(msg.ID, mcperr.ToolNotFound(params.Name))
	}
	return okResponse(msg.ID, map[string]interface{}{
		"description": p.Name,
		"messages": []map[string]interface{}{
			{"role": "user", "content": map[string]string{"type": "text", "text": p.Template}},
		},
	})
}

// ── completion / logging ─────────────────────────────────────

func (h *Handler) handleCompletionComplete(msg *models.RPCMessage) *models.RPCMessage {
	var params struct {
		Ref      map[string]interface{} `json:"ref"`
		Argument struct {
			Name  string `json:"name"`
			Value string `json:"value"`
		} `json:"argument"`
	}
	if err := json.Unmarshal(msg.Params, &params); err != nil {
		return errorResponse(msg.ID, mcperr.InvalidParams(err.Error()))
	}
	// No completion providers are wired by default: an empty values list is
	// a valid, well-formed response under the MCP completion spec.
	return okResponse(msg.ID, map[string]interface{}{
		"completion": map[string]interface{}{"values": []string{}, "total": 0, "hasMore": false},
	})
}

func (h *Handler) handleLoggingSetLevel(msg *models.RPCMessage) *models.RPCMessage {
	var params struct {
		Level string `json:"level"`
	}
	if err := json.Unmarshal(msg.Params, &params); err != nil {
		return errorResponse(msg.ID, mcperr.InvalidParams(err.Error()))
	}
	return okResponse(msg.ID, map[string]interface{}{})
}

// ── discovery extension ──────────────────────────────────────

func (h *Handler) handleDiscover(ctx context.Context, msg *models.RPCMessage) *models.RPCMessage {
	if h.discoverer == nil {
		return errorResponse(msg.ID, mcperr.MethodNotFound(msg.Method))
	}
	var req models.DiscoveryRequest
	if err := json.Unmarshal(msg.Params, &req); err != nil {
		return errorResponse(msg.ID, mcperr.InvalidParams(err.Error()))
	}
	result, err := h.discoverer.Resolve(ctx, req)
	if err != nil {
		return errorResponse(msg.ID, err)
	}
	return okResponse(msg.ID, result)
}

// ── pagination helpers ────────────────────────────────────────

func paginate[T any](items []T, offset, size int) ([]T, int) {
	if offset >= len(items) {
		return nil, -1
	}
	end := offset + size
	if end >= len(items) {
		return items[offset:], -1
	}
	return items[offset:end], end
}

func encodeCursor(offset int) string {
	return base64.RawURLEncoding.EncodeToString([]byte(strconv.Itoa(offset)))
}

func decodeCursor(cursor string) (int, error) {
	if cursor == "" {
		return 0, nil
	}
	b, err := base64.RawURLEncoding.DecodeString(cursor)
	if err != nil {
		return 0, fmt.Errorf("decode cursor: %w", err)
	}
	return strconv.Atoi(string(b))
}

func rawOrEmptyObject(raw json.RawMessage) json.RawMessage {
	if len(raw) == 0 {
		return json.RawMessage(`{}`)
	}
	return raw
}
