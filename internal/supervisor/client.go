// Package supervisor implements the External MCP Supervisor (§4.D): it
// spawns and supervises child-process and remote MCP servers, multiplexes
// JSON-RPC requests over each one's connection, tracks per-server health
// and backoff, and merges ingested capabilities back into the Tool
// Registry. The per-server worker/lifecycle idiom (spawn, health poll,
// restart) is generalised across stdio/http/sse/ws transport variants
// instead of a single local-process model.
package supervisor

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/exec"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/agentoven/mcpgateway/pkg/contracts"
	"github.com/agentoven/mcpgateway/pkg/models"
)

// newClient builds the contracts.ExternalClient for one server's
// transport spec. The returned client owns the underlying connection;
// Close tears it down.
func newClient(ctx context.Context, spec models.TransportSpec) (contracts.ExternalClient, error) {
	switch spec.Kind {
	case models.SpecStdio:
		return newStdioClient(ctx, spec)
	case models.SpecHTTP:
		return newHTTPClient(spec), nil
	case models.SpecSSE:
		return newSSEClient(spec), nil
	case models.SpecWS:
		return newWSClient(ctx, spec)
	default:
		return nil, fmt.Errorf("unsupported transport kind %q", spec.Kind)
	}
}

// ── stdio ─────────────────────────────────────────────────────

// stdioClient speaks newline-delimited JSON-RPC over a child process's
// stdin/stdout, the way the Transport Layer's stdio framing does for the
// gateway's own client-facing surface (§4.H), but here the gateway is the
// client and the child process is the server.
type stdioClient struct {
	cmd    *exec.Cmd
	stdin  io.WriteCloser
	nextID atomic.Uint64

	mu    sync.Mutex
	pend  map[string]chan rpcResult
	readErr error
}

type rpcResult struct {
	result []byte
	err    *models.RPCError
}

func newStdioClient(ctx context.Context, spec models.TransportSpec) (*stdioClient, error) {
	cmd := exec.CommandContext(ctx, spec.Command, spec.Args...)
	cmd.Dir = spec.Cwd
	env := os.Environ()
	for k, v := range spec.Env {
		env = append(env, fmt.Sprintf("%s=%s", k, v))
	}
	cmd.Env = env
	cmd.Stderr = os.Stderr

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("stdin pipe: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("stdout pipe: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("start external mcp server: %w", err)
	}

	c := &stdioClient{cmd: cmd, stdin: stdin, pend: map[string]chan rpcResult{}}
	go c.readLoop(stdout)
	return c, nil
}

func (c *stdioClient) readLoop(stdout io.Reader) {
	scanner := bufio.NewScanner(stdout)
	scanner.Buffer(make([]byte, 64*1024), 16<<20)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(bytes.TrimSpace(line)) == 0 {
			continue
		}
		var msg models.RPCMessage
		if err := json.Unmarshal(line, &msg); err != nil {
			continue // malformed frame from child: drop and keep reading
		}
		if msg.IsResponse() {
			c.deliver(strings.Trim(string(msg.ID), `"`), msg.Result, msg.Error)
		}
		// Notifications from the child (e.g. tools/list_changed) are
		// dropped: this client only correlates requests with responses.
	}
	c.mu.Lock()
	c.readErr = io.ErrClosedPipe
	for id, ch := range c.pend {
		ch <- rpcResult{err: &models.RPCError{Code: -32000, Message: "connection closed"}}
		delete(c.pend, id)
	}
	c.mu.Unlock()
}

func (c *stdioClient) deliver(id string, result []byte, rpcErr *models.RPCError) {
	c.mu.Lock()
	ch, ok := c.pend[id]
	if ok {
		delete(c.pend, id)
	}
	c.mu.Unlock()
	if !ok {
		return // orphan response: dropped without logging
	}
	ch <- rpcResult{result: result, err: rpcErr}
}

func (c *stdioClient) Call(ctx context.Context, method string, params interface{}) ([]byte, error) {
	id := fmt.Sprintf("%d", c.nextID.Add(1))
	paramsBytes, err := json.Marshal(params)
	if err != nil {
		return nil, err
	}
	msg := models.RPCMessage{JSONRPC: "2.0", ID: json.RawMessage(`"` + id + `"`), Method: method, Params: paramsBytes}
	line, err := json.Marshal(msg)
	if err != nil {
		return nil, err
	}

	ch := make(chan rpcResult, 1)
	c.mu.Lock()
	if c.readErr != nil {
		c.mu.Unlock()
		return nil, io.ErrClosedPipe
	}
	c.pend[id] = ch
	c.mu.Unlock()

	if _, err := c.stdin.Write(append(line, '\n')); err != nil {
		c.mu.Lock()
		delete(c.pend, id)
		c.mu.Unlock()
		return nil, err
	}

	select {
	case <-ctx.Done():
		// Best-effort cancellation notice; the child may still reply, in
		// which case the orphaned response is dropped by deliver above.
		_ = c.Notify(context.Background(), "notifications/cancelled", map[string]string{"requestId": id})
		c.mu.Lock()
		delete(c.pend, id)
		c.mu.Unlock()
		return nil, ctx.Err()
	case r := <-ch:
		if r.err != nil {
			return nil, fmt.Errorf("rpc error %d: %s", r.err.Code, r.err.Message)
		}
		return r.result, nil
	}
}

func (c *stdioClient) Notify(ctx context.Context, method string, params interface{}) error {
	paramsBytes, err := json.Marshal(params)
	if err != nil {
		return err
	}
	msg := models.RPCMessage{JSONRPC: "2.0", Method: method, Params: paramsBytes}
	line, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	_, err = c.stdin.Write(append(line, '\n'))
	return err
}

func (c *stdioClient) Close() error {
	c.stdin.Close()
	if c.cmd.Process != nil {
		_ = c.cmd.Process.Kill()
	}
	return c.cmd.Wait()
}

// ── http (streamable-http-style request/response) ───────────────

type httpClient struct {
	baseURL string
	auth    string
	client  *http.Client
	nextID  atomic.Uint64
}

func newHTTPClient(spec models.TransportSpec) *httpClient {
	return &httpClient{baseURL: spec.BaseURL, auth: spec.AuthHdr, client: &http.Client{}}
}

func (c *httpClient) Call(ctx context.Context, method string, params interface{}) ([]byte, error) {
	id := fmt.Sprintf("%d", c.nextID.Add(1))
	paramsBytes, err := json.Marshal(params)
	if err != nil {
		return nil, err
	}
	msg := models.RPCMessage{JSONRPC: "2.0", ID: json.RawMessage(`"` + id + `"`), Method: method, Params: paramsBytes}
	body, err := json.Marshal(msg)
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	if c.auth != "" {
		req.Header.Set("Authorization", c.auth)
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	respBody, err := io.ReadAll(io.LimitReader(resp.Body, 16<<20))
	if err != nil {
		return nil, err
	}
	if resp.StatusCode >= 400 {
		return nil, fmt.Errorf("external mcp server returned http %d", resp.StatusCode)
	}
	var out models.RPCMessage
	if err := json.Unmarshal(respBody, &out); err != nil {
		return nil, fmt.Errorf("parse response: %w", err)
	}
	if out.Error != nil {
		return nil, fmt.Errorf("rpc error %d: %s", out.Error.Code, out.Error.Message)
	}
	return out.Result, nil
}

func (c *httpClient) Notify(ctx context.Context, method string, params interface{}) error {
	_, err := c.Call(ctx, method, params)
	return err
}

func (c *httpClient) Close() error { return nil }

// ── sse ───────────────────────────────────────────────────────

// sseClient POSTs each request to the configured endpoint and reads the
// JSON-RPC response from the POST reply body, exactly like httpClient. It
// does not open the GET event stream, so responses delivered only on that
// stream and server-initiated notifications are not received.
type sseClient struct {
	*httpClient
}

func newSSEClient(spec models.TransportSpec) *sseClient {
	return &sseClient{httpClient: newHTTPClient(models.TransportSpec{BaseURL: spec.Endpoint, AuthHdr: spec.AuthHdr})}
}

// ── websocket ─────────────────────────────────────────────────

type wsClient struct {
	conn   *websocket.Conn
	nextID atomic.Uint64

	mu   sync.Mutex
	pend map[string]chan rpcResult
}

func newWSClient(ctx context.Context, spec models.TransportSpec) (*wsClient, error) {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, spec.URL, httpHeaderFor(spec.AuthHdr))
	if err != nil {
		return nil, err
	}
	c := &wsClient{conn: conn, pend: map[string]chan rpcResult{}}
	go c.readLoop()
	return c, nil
}

func httpHeaderFor(auth string) http.Header {
	h := http.Header{}
	if auth != "" {
		h.Set("Authorization", auth)
	}
	return h
}

func (c *wsClient) readLoop() {
	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			c.mu.Lock()
			for id, ch := range c.pend {
				ch <- rpcResult{err: &models.RPCError{Code: -32000, Message: "connection closed"}}
				delete(c.pend, id)
			}
			c.mu.Unlock()
			return
		}
		var msg models.RPCMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			continue
		}
		if msg.IsResponse() {
			id := strings.Trim(string(msg.ID), `"`)
			c.mu.Lock()
			ch, ok := c.pend[id]
			if ok {
				delete(c.pend, id)
			}
			c.mu.Unlock()
			if ok {
				ch <- rpcResult{result: msg.Result, err: msg.Error}
			}
		}
	}
}

func (c *wsClient) Call(ctx context.Context, method string, params interface{}) ([]byte, error) {
	id := fmt.Sprintf("%d", c.nextID.Add(1))
	paramsBytes, err := json.Marshal(params)
	if err != nil {
		return nil, err
	}
	msg := models.RPCMessage{JSONRPC: "2.0", ID: json.RawMessage(`"` + id + `"`), Method: method, Params: paramsBytes}
	data, err := json.Marshal(msg)
	if err != nil {
		return nil, err
	}

	ch := make(chan rpcResult, 1)
	c.mu.Lock()
	c.pend[id] = ch
	c.mu.Unlock()

	if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
		c.mu.Lock()
		delete(c.pend, id)
		c.mu.Unlock()
		return nil, err
	}

	select {
	case <-ctx.Done():
		c.mu.Lock()
		delete(c.pend, id)
		c.mu.Unlock()
		return nil, ctx.Err()
	case r := <-ch:
		if r.err != nil {
			return nil, fmt.Errorf("rpc error %d: %s", r.err.Code, r.err.Message)
		}
		return r.result, nil
	}
}

func (c *wsClient) Notify(ctx context.Context, method string, params interface{}) error {
	paramsBytes, err := json.Marshal(params)
	if err != nil {
		return err
	}
	msg := models.RPCMessage{JSONRPC: "2.0", Method: method, Params: paramsBytes}
	data, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	return c.conn.WriteMessage(websocket.TextMessage, data)
}

func (c *wsClient) Close() error { return c.conn.Close() }
