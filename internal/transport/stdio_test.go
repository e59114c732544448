package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentoven/mcpgateway/internal/broker"
	"github.com/agentoven/mcpgateway/internal/config"
	"github.com/agentoven/mcpgateway/internal/protocol"
	"github.com/agentoven/mcpgateway/internal/registry"
	"github.com/agentoven/mcpgateway/pkg/models"
)

func TestRunStdioEchoesResponsePerLine(t *testing.T) {
	reg := registry.New()
	nb := broker.New(16)
	h := protocol.New(reg, nil, nb, nil)
	srv := NewServer(h, nb, nil, config.TransportsConfig{Stdio: true}, "test")

	req, _ := json.Marshal(models.RPCMessage{JSONRPC: "2.0", ID: json.RawMessage(`"1"`), Method: "initialize"})
	in := bytes.NewReader(append(req, '\n'))
	var out bytes.Buffer

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	err := srv.RunStdio(ctx, in, &out)
	require.NoError(t, err)

	line := strings.TrimSpace(out.String())
	require.NotEmpty(t, line)
	var resp models.RPCMessage
	require.NoError(t, json.Unmarshal([]byte(line), &resp))
	assert.Nil(t, resp.Error)
}

func TestRunStdioRepliesParseErrorOnBadLine(t *testing.T) {
	reg := registry.New()
	nb := broker.New(16)
	h := protocol.New(reg, nil, nb, nil)
	srv := NewServer(h, nb, nil, config.TransportsConfig{Stdio: true}, "test")

	in := strings.NewReader("not json\n")
	var out bytes.Buffer

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, srv.RunStdio(ctx, in, &out))

	var resp models.RPCMessage
	require.NoError(t, json.Unmarshal(bytes.TrimSpace(out.Bytes()), &resp))
	require.NotNil(t, resp.Error)
}
