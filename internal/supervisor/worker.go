package supervisor

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/rs/zerolog/log"

	"github.com/agentoven/mcpgateway/internal/mcperr"
	"github.com/agentoven/mcpgateway/internal/registry"
	"github.com/agentoven/mcpgateway/pkg/contracts"
	"github.com/agentoven/mcpgateway/pkg/models"
)

const (
	pingInterval   = 15 * time.Second
	handshakeGrace = 10 * time.Second
)

// managedServer runs the state machine for one external MCP server and
// owns its current client connection. One goroutine (run) drives every
// state transition; callTool and snapshot are safe to call concurrently
// from other goroutines.
type managedServer struct {
	def ServerDef
	reg *registry.Registry
	sem chan struct{}

	mu            sync.RWMutex
	state         models.ExternalServerState
	client        contracts.ExternalClient
	consecutive   int
	backoffUntil  time.Time
	lastPing      time.Time
	reconnecting  bool
	backoffPolicy *backoff.ExponentialBackOff

	cancel context.CancelFunc
	done   chan struct{}
}

func newManagedServer(def ServerDef, reg *registry.Registry, sem chan struct{}) *managedServer {
	return &managedServer{
		def:           def,
		reg:           reg,
		sem:           sem,
		state:         models.ServerStopped,
		done:          make(chan struct{}),
		backoffPolicy: newBackOff(def.RestartPolicy),
	}
}

func (m *managedServer) start(ctx context.Context) {
	runCtx, cancel := context.WithCancel(ctx)
	m.cancel = cancel
	go m.run(runCtx)
}

func (m *managedServer) stop() {
	m.setState(models.ServerStopping)
	if m.cancel != nil {
		m.cancel()
	}
	<-m.done
	m.mu.Lock()
	if m.client != nil {
		_ = m.client.Close()
		m.client = nil
	}
	m.state = models.ServerStopped
	m.mu.Unlock()
}

func (m *managedServer) currentState() models.ExternalServerState {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state
}

func (m *managedServer) snapshot() models.ExternalServer {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return models.ExternalServer{
		ID:            m.def.ID,
		TransportSpec: m.def.Transport,
		State:         m.state,
		BackoffUntil:  m.backoffUntil,
		ToolPrefix:    m.def.ToolPrefix,
		LastPing:      m.lastPing,
		Consecutive:   m.consecutive,
		RestartPolicy: m.def.RestartPolicy,
	}
}

func (m *managedServer) setState(s models.ExternalServerState) {
	m.mu.Lock()
	prev := m.state
	m.state = s
	m.mu.Unlock()
	if prev != s {
		logStateTransition(m.def.ID, prev, s)
	}
}

// run drives Stopped -> Starting -> Ready -> (Degraded <-> Ready) ->
// Backoff -> Starting, exiting only when ctx is cancelled (Stopping).
func (m *managedServer) run(ctx context.Context) {
	defer close(m.done)
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		m.setState(models.ServerStarting)
		client, err := newClient(ctx, m.def.Transport)
		if err != nil {
			log.Warn().Err(err).Str("server", m.def.ID).Msg("external mcp server failed to start")
			if m.waitBackoff(ctx) {
				return
			}
			continue
		}

		hctx, hcancel := context.WithTimeout(ctx, handshakeGrace)
		err = m.handshakeAndIngest(hctx, client)
		hcancel()
		if err != nil {
			log.Warn().Err(err).Str("server", m.def.ID).Msg("external mcp server handshake failed")
			_ = client.Close()
			if m.waitBackoff(ctx) {
				return
			}
			continue
		}

		m.mu.Lock()
		m.client = client
		m.consecutive = 0
		m.mu.Unlock()
		m.setState(models.ServerReady)

		// Serve until a parallel reconnect attempt exhausts its restart
		// budget or the context is cancelled.
		if stop := m.healthLoop(ctx, client); stop {
			return
		}

		m.mu.Lock()
		if m.client != nil {
			_ = m.client.Close()
			m.client = nil
		}
		m.mu.Unlock()

		if m.waitBackoff(ctx) {
			return
		}
	}
}

// handshakeAndIngest performs the MCP initialize handshake and pulls the
// server's tools (tools/list) into the Registry under its source-system
// tag, per §4.D's "on Ready transition" ingestion trigger. Resources and
// prompts are not ingested, and the server's list_changed notifications
// do not trigger a re-ingest.
func (m *managedServer) handshakeAndIngest(ctx context.Context, client contracts.ExternalClient) error {
	initParams := map[string]interface{}{
		"protocolVersion": "2024-11-05",
		"clientInfo":      map[string]string{"name": "mcpgateway", "version": "1"},
		"capabilities":    map[string]interface{}{},
	}
	if _, err := client.Call(ctx, "initialize", initParams); err != nil {
		return fmt.Errorf("initialize: %w", err)
	}
	if err := client.Notify(ctx, "notifications/initialized", map[string]interface{}{}); err != nil {
		return fmt.Errorf("initialized notification: %w", err)
	}
	return m.ingestCapabilities(ctx, client)
}

func (m *managedServer) ingestCapabilities(ctx context.Context, client contracts.ExternalClient) error {
	tools, err := listTools(ctx, client, m.prefixed)
	if err != nil {
		return fmt.Errorf("tools/list: %w", err)
	}
	for i := range tools {
		tools[i].Provenance = models.Provenance{SourceSystem: sourceSystem(m.def.ID)}
		tools[i].AgentParams = map[string]interface{}{
			"server_id":   m.def.ID,
			"tool_prefix": m.def.ToolPrefix,
		}
		tools[i].Agent = models.AgentExternalMCP
	}

	_, ev := m.reg.MergeExternal(sourceSystem(m.def.ID), tools, nil, nil)
	names := make([]string, 0, len(tools))
	for _, t := range tools {
		names = append(names, t.Name)
	}
	m.mu.Lock()
	m.backoffUntil = time.Time{}
	m.mu.Unlock()
	m.backoffPolicy.Reset()
	log.Info().Str("server", m.def.ID).Int("added", len(ev.Added)).Int("removed", len(ev.Removed)).Msg("ingested external mcp capabilities")
	return nil
}

func (m *managedServer) prefixed(name string) string {
	if m.def.ToolPrefix == "" {
		return m.def.ID + "_" + name
	}
	return m.def.ToolPrefix + name
}

// listTools calls tools/list, paging through cursors if the server
// advertises one, and renames each tool via rename before returning.
func listTools(ctx context.Context, client contracts.ExternalClient, rename func(string) string) ([]models.Tool, error) {
	var out []models.Tool
	cursor := ""
	for {
		params := map[string]interface{}{}
		if cursor != "" {
			params["cursor"] = cursor
		}
		raw, err := client.Call(ctx, "tools/list", params)
		if err != nil {
			return nil, err
		}
		var page struct {
			Tools []struct {
				Name        string          `json:"name"`
				Description string          `json:"description"`
				InputSchema json.RawMessage `json:"inputSchema"`
			} `json:"tools"`
			NextCursor string `json:"nextCursor"`
		}
		if err := json.Unmarshal(raw, &page); err != nil {
			return nil, fmt.Errorf("parse tools/list response: %w", err)
		}
		for _, t := range page.Tools {
			out = append(out, models.Tool{
				Name:        rename(t.Name),
				Description: t.Description,
				InputSchema: t.InputSchema,
				Enabled:     true,
			})
		}
		if page.NextCursor == "" {
			break
		}
		cursor = page.NextCursor
	}
	return out, nil
}

// healthLoop pings the server on an interval. Crossing K (DegradeAfter)
// consecutive failures moves Ready -> Degraded: the existing client keeps
// serving callTool while triggerReconnect dials a replacement in parallel
// (§4.D). Only a reconnect loop that exhausts M (RestartPolicy.MaxRestarts)
// consecutive attempts gives up on this connection entirely, signalled back
// here on giveUp so the caller can tear down and move to Backoff. Returns
// true if the caller should exit entirely (ctx cancelled).
func (m *managedServer) healthLoop(ctx context.Context, client contracts.ExternalClient) bool {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()
	giveUp := make(chan struct{})
	for {
		select {
		case <-ctx.Done():
			return true
		case <-giveUp:
			return false
		case <-ticker.C:
			pctx, cancel := context.WithTimeout(ctx, 5*time.Second)
			_, err := client.Call(pctx, "ping", map[string]interface{}{})
			cancel()
			if err != nil {
				m.mu.Lock()
				m.consecutive++
				n := m.consecutive
				m.mu.Unlock()
				if n >= m.def.RestartPolicy.DegradeAfter {
					if m.currentState() != models.ServerDegraded {
						m.setState(models.ServerDegraded)
					}
					m.triggerReconnect(ctx, giveUp)
				}
				continue
			}
			m.mu.Lock()
			m.consecutive = 0
			m.lastPing = time.Now()
			m.mu.Unlock()
			if m.currentState() == models.ServerDegraded {
				m.setState(models.ServerReady)
				m.reg.DisableSource(sourceSystem(m.def.ID), true)
				m.backoffPolicy.Reset()
			}
		}
	}
}

// triggerReconnect dials a fresh client for a Degraded server in the
// background while the stale one keeps serving callTool (§4.D: "continues
// to serve but triggers reconnect attempt in parallel"). At most one
// reconnect attempt loop runs per Degraded episode. A successful handshake
// swaps the new client in and returns the server to Ready; each failed
// attempt paces itself with the shared, escalating backoff policy, and
// once RestartPolicy.MaxRestarts (M) consecutive attempts have failed, the
// loop closes giveUp so the caller tears the connection down and moves to
// Backoff. MaxRestarts <= 0 means retry indefinitely without ever giving up.
func (m *managedServer) triggerReconnect(ctx context.Context, giveUp chan struct{}) {
	m.mu.Lock()
	if m.reconnecting {
		m.mu.Unlock()
		return
	}
	m.reconnecting = true
	m.mu.Unlock()

	go func() {
		defer func() {
			m.mu.Lock()
			m.reconnecting = false
			m.mu.Unlock()
		}()

		failures := 0
		for {
			if ctx.Err() != nil || m.currentState() != models.ServerDegraded {
				return
			}

			wait := m.backoffPolicy.NextBackOff()
			t := time.NewTimer(wait)
			select {
			case <-ctx.Done():
				t.Stop()
				return
			case <-t.C:
			}

			client, err := newClient(ctx, m.def.Transport)
			if err == nil {
				hctx, hcancel := context.WithTimeout(ctx, handshakeGrace)
				err = m.handshakeAndIngest(hctx, client)
				hcancel()
			}
			if err != nil {
				if client != nil {
					_ = client.Close()
				}
				failures++
				log.Warn().Err(err).Str("server", m.def.ID).Int("attempt", failures).Msg("external mcp server reconnect attempt failed")
				if m.def.RestartPolicy.MaxRestarts > 0 && failures >= m.def.RestartPolicy.MaxRestarts {
					close(giveUp)
					return
				}
				continue
			}

			m.mu.Lock()
			old := m.client
			m.client = client
			m.consecutive = 0
			m.mu.Unlock()
			if old != nil {
				_ = old.Close()
			}
			m.setState(models.ServerReady)
			m.reg.DisableSource(sourceSystem(m.def.ID), true)
			return
		}
	}()
}

// waitBackoff transitions to Backoff, sleeps the computed interval (or
// until ctx is cancelled), and returns true if the caller should exit. It
// reuses the server's persisted backoff policy rather than constructing a
// fresh one, so the wait interval keeps escalating across consecutive
// restart cycles instead of resetting to ~base every time; only a
// successful Ready transition resets it.
func (m *managedServer) waitBackoff(ctx context.Context) bool {
	m.setState(models.ServerBackoff)
	m.reg.DisableSource(sourceSystem(m.def.ID), false)
	wait := m.backoffPolicy.NextBackOff()
	m.mu.Lock()
	m.backoffUntil = time.Now().Add(wait)
	m.mu.Unlock()

	t := time.NewTimer(wait)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return true
	case <-t.C:
		return false
	}
}

// callTool sends a tools/call for toolName (already prefix-stripped by
// the caller) and normalises the result into content blocks. Rejects
// immediately when the server is neither Ready nor Degraded, and bounds
// the number of concurrent in-flight calls across all servers via the
// shared semaphore.
func (m *managedServer) callTool(ctx context.Context, toolName string, arguments map[string]interface{}) ([]models.ContentBlock, error) {
	m.mu.RLock()
	client := m.client
	state := m.state
	m.mu.RUnlock()
	// Degraded still forwards calls on the existing client while a
	// reconnect is attempted in parallel (§4.D); only Backoff (and earlier
	// unready states) reject outright.
	if (state != models.ServerReady && state != models.ServerDegraded) || client == nil {
		return nil, mcperr.ServerUnavailable(m.def.ID)
	}

	select {
	case m.sem <- struct{}{}:
		defer func() { <-m.sem }()
	case <-ctx.Done():
		return nil, ctx.Err()
	default:
		return nil, mcperr.ServerBusy(m.def.ID)
	}

	raw, err := client.Call(ctx, "tools/call", map[string]interface{}{"name": toolName, "arguments": arguments})
	if err != nil {
		return nil, mcperr.ToolExecutionFailed(fmt.Sprintf("external tool %q: %v", toolName, err)).Wrap(err)
	}

	var result struct {
		Content []models.ContentBlock `json:"content"`
		IsError bool                  `json:"isError"`
	}
	if err := json.Unmarshal(raw, &result); err != nil {
		return nil, mcperr.ToolExecutionFailed(fmt.Sprintf("parse tools/call response: %v", err)).Wrap(err)
	}
	if result.IsError {
		return nil, mcperr.ToolExecutionFailed(fmt.Sprintf("external tool %q reported an error", toolName))
	}
	return result.Content, nil
}
