package agentrouter

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/agentoven/mcpgateway/internal/mcperr"
	"github.com/agentoven/mcpgateway/pkg/models"
)

// jsonCodec lets the gRPC driver invoke arbitrary unary methods without a
// generated client stub: arguments and results travel as JSON bytes on
// the wire, the same "JSON over gRPC" shape grpc-gateway bridges for REST
// callers, just without the HTTP hop.
type jsonCodec struct{}

func (jsonCodec) Marshal(v interface{}) ([]byte, error) {
	if b, ok := v.(json.RawMessage); ok {
		return b, nil
	}
	return json.Marshal(v)
}

func (jsonCodec) Unmarshal(data []byte, v interface{}) error {
	if out, ok := v.(*json.RawMessage); ok {
		*out = append((*out)[:0], data...)
		return nil
	}
	return json.Unmarshal(data, v)
}

func (jsonCodec) Name() string { return "json" }

// GRPCDriver executes "grpc" agent tools: a unary call to a declared
// target/method, with arguments and result marshalled as JSON instead of
// a codegen'd protobuf message, per the tool's agent_params.
type GRPCDriver struct {
	mu    sync.Mutex
	conns map[string]*grpc.ClientConn
}

func NewGRPCDriver() *GRPCDriver {
	return &GRPCDriver{conns: map[string]*grpc.ClientConn{}}
}

func (d *GRPCDriver) Kind() models.AgentKind { return models.AgentGRPC }

func (d *GRPCDriver) Dispatch(ctx context.Context, tool models.Tool, arguments map[string]interface{}) ([]models.ContentBlock, error) {
	target, _ := tool.AgentParams["target"].(string)
	method, _ := tool.AgentParams["method"].(string)
	if target == "" || method == "" {
		return nil, mcperr.InternalError(fmt.Sprintf("tool %q: grpc agent requires target and method", tool.Name))
	}

	conn, err := d.connFor(target)
	if err != nil {
		return nil, mcperr.ServerBusy(tool.Name).Wrap(err)
	}

	reqBytes, err := json.Marshal(arguments)
	if err != nil {
		return nil, mcperr.InvalidParams(fmt.Sprintf("marshal arguments: %v", err))
	}
	var reply json.RawMessage
	if err := conn.Invoke(ctx, method, json.RawMessage(reqBytes), &reply, grpc.CallContentSubtype((jsonCodec{}).Name())); err != nil {
		return nil, mcperr.ToolExecutionFailed(fmt.Sprintf("grpc call %s: %v", method, err)).Wrap(err)
	}
	return []models.ContentBlock{models.TextContent(string(reply))}, nil
}

func (d *GRPCDriver) connFor(target string) (*grpc.ClientConn, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if c, ok := d.conns[target]; ok {
		return c, nil
	}
	c, err := grpc.NewClient(target, grpc.WithTransportCredentials(insecure.NewCredentials()), grpc.WithDefaultCallOptions(grpc.ForceCodec(jsonCodec{})))
	if err != nil {
		return nil, err
	}
	d.conns[target] = c
	return c, nil
}
