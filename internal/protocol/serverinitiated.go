package protocol

import (
	"context"
	"encoding/json"

	"github.com/agentoven/mcpgateway/internal/mcperr"
	"github.com/agentoven/mcpgateway/pkg/models"
)

// sendServerRequest pushes a server-initiated request onto sess's outbound
// channel via the Broker and blocks for the client's correlated response,
// per §4.G's sampling/createMessage and elicitation/create ("server-
// initiated toward client"). Used by tool execution paths that need to ask
// the client for an LLM completion or a piece of user input mid-call.
func (h *Handler) sendServerRequest(ctx context.Context, sessionID, method string, params interface{}) (json.RawMessage, error) {
	if h.broker == nil {
		return nil, mcperr.InternalError("no broker configured: cannot send server-initiated request")
	}
	paramsBytes, err := json.Marshal(params)
	if err != nil {
		return nil, mcperr.InternalError(err.Error())
	}
	id := newRequestID()
	msg := &models.RPCMessage{JSONRPC: "2.0", ID: quotedID(id), Method: method, Params: paramsBytes}

	ch := h.sessions.awaitResponse(sessionID, id)
	if !h.broker.Send(sessionID, msg) {
		return nil, mcperr.ServerBusy(sessionID)
	}

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case resp, ok := <-ch:
		if !ok {
			return nil, mcperr.InternalError("session closed while awaiting client response")
		}
		if resp.Error != nil {
			return nil, mcperr.ToolExecutionFailed(resp.Error.Message)
		}
		return resp.Result, nil
	}
}

// CreateMessage asks the client to sample an LLM completion on the
// gateway's behalf (sampling/createMessage).
func (h *Handler) CreateMessage(ctx context.Context, sessionID string, params interface{}) (json.RawMessage, error) {
	return h.sendServerRequest(ctx, sessionID, "sampling/createMessage", params)
}

// Elicit asks the client to collect structured input from its user
// (elicitation/create).
func (h *Handler) Elicit(ctx context.Context, sessionID string, params interface{}) (json.RawMessage, error) {
	return h.sendServerRequest(ctx, sessionID, "elicitation/create", params)
}
