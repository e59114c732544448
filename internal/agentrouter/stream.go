package agentrouter

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"sync"

	"github.com/gorilla/websocket"

	"github.com/agentoven/mcpgateway/internal/mcperr"
	"github.com/agentoven/mcpgateway/pkg/models"
)

// sseEndMarker is the sentinel line an SSE-backed tool emits to signal the
// end of its response stream (§4.C: "collect until 'end' marker or
// deadline").
const sseEndMarker = "[DONE]"

// SSEDriver executes "sse" agent tools: it POSTs the request and reads a
// server-sent event stream, concatenating data lines until the end marker
// or the call deadline.
type SSEDriver struct {
	client *http.Client
}

func NewSSEDriver() *SSEDriver { return &SSEDriver{client: &http.Client{}} }

func (d *SSEDriver) Kind() models.AgentKind { return models.AgentSSE }

func (d *SSEDriver) Dispatch(ctx context.Context, tool models.Tool, arguments map[string]interface{}) ([]models.ContentBlock, error) {
	endpoint, _ := tool.AgentParams["endpoint"].(string)
	if endpoint == "" {
		return nil, mcperr.InternalError(fmt.Sprintf("tool %q: sse agent missing endpoint", tool.Name))
	}
	payload, err := json.Marshal(arguments)
	if err != nil {
		return nil, mcperr.InvalidParams(fmt.Sprintf("marshal arguments: %v", err))
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(string(payload)))
	if err != nil {
		return nil, mcperr.InternalError(fmt.Sprintf("build sse request: %v", err)).Wrap(err)
	}
	req.Header.Set("Accept", "text/event-stream")
	req.Header.Set("Content-Type", "application/json")

	resp, err := d.client.Do(req)
	if err != nil {
		return nil, mcperr.ServerBusy(tool.Name).Wrap(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		return nil, mcperr.ToolExecutionFailed(fmt.Sprintf("sse endpoint returned %d", resp.StatusCode))
	}

	var buf strings.Builder
	scanner := bufio.NewScanner(resp.Body)
	for scanner.Scan() {
		select {
		case <-ctx.Done():
			return nil, mcperr.Timeout(fmt.Sprintf("tool %q: sse stream cancelled", tool.Name))
		default:
		}
		line := scanner.Text()
		data, ok := strings.CutPrefix(line, "data: ")
		if !ok {
			continue
		}
		if data == sseEndMarker {
			break
		}
		buf.WriteString(data)
		buf.WriteByte('\n')
	}
	if err := scanner.Err(); err != nil {
		return nil, mcperr.ToolExecutionFailed(fmt.Sprintf("read sse stream: %v", err)).Wrap(err)
	}
	return []models.ContentBlock{models.TextContent(strings.TrimRight(buf.String(), "\n"))}, nil
}

// WebSocketDriver executes "websocket" agent tools: it dials (or reuses) a
// connection, writes one request frame, and reads frames until an "end"
// marker frame or the call deadline.
type WebSocketDriver struct {
	dialer *websocket.Dialer

	mu    sync.Mutex
	conns map[string]*websocket.Conn // keyed by url, reused across calls
}

func NewWebSocketDriver() *WebSocketDriver {
	return &WebSocketDriver{dialer: websocket.DefaultDialer, conns: map[string]*websocket.Conn{}}
}

func (d *WebSocketDriver) Kind() models.AgentKind { return models.AgentWebSocket }

func (d *WebSocketDriver) Dispatch(ctx context.Context, tool models.Tool, arguments map[string]interface{}) ([]models.ContentBlock, error) {
	wsURL, _ := tool.AgentParams["url"].(string)
	if wsURL == "" {
		return nil, mcperr.InternalError(fmt.Sprintf("tool %q: websocket agent missing url", tool.Name))
	}

	conn, err := d.connFor(ctx, wsURL)
	if err != nil {
		return nil, mcperr.ServerBusy(tool.Name).Wrap(err)
	}

	payload, err := json.Marshal(arguments)
	if err != nil {
		return nil, mcperr.InvalidParams(fmt.Sprintf("marshal arguments: %v", err))
	}
	if err := conn.WriteMessage(websocket.TextMessage, payload); err != nil {
		d.drop(wsURL)
		return nil, mcperr.ServerBusy(tool.Name).Wrap(err)
	}

	type result struct {
		text string
		err  error
	}
	done := make(chan result, 1)
	go func() {
		var buf strings.Builder
		for {
			_, msg, err := conn.ReadMessage()
			if err != nil {
				done <- result{err: err}
				return
			}
			text := string(msg)
			if text == sseEndMarker {
				done <- result{text: buf.String()}
				return
			}
			buf.WriteString(text)
		}
	}()

	select {
	case <-ctx.Done():
		d.drop(wsURL)
		return nil, mcperr.Timeout(fmt.Sprintf("tool %q: websocket call cancelled", tool.Name))
	case r := <-done:
		if r.err != nil {
			d.drop(wsURL)
			return nil, mcperr.ToolExecutionFailed(fmt.Sprintf("websocket read: %v", r.err)).Wrap(r.err)
		}
		return []models.ContentBlock{models.TextContent(r.text)}, nil
	}
}

func (d *WebSocketDriver) connFor(ctx context.Context, wsURL string) (*websocket.Conn, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if c, ok := d.conns[wsURL]; ok {
		return c, nil
	}
	c, _, err := d.dialer.DialContext(ctx, wsURL, nil)
	if err != nil {
		return nil, err
	}
	d.conns[wsURL] = c
	return c, nil
}

func (d *WebSocketDriver) drop(wsURL string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if c, ok := d.conns[wsURL]; ok {
		c.Close()
		delete(d.conns, wsURL)
	}
}
