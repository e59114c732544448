package supervisor

import (
	"context"
	"fmt"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/agentoven/mcpgateway/internal/mcperr"
	"github.com/agentoven/mcpgateway/internal/registry"
	"github.com/agentoven/mcpgateway/pkg/models"
)

// Supervisor owns every managed external MCP server connection (§4.D). It
// drives each server's state machine, ingests the capabilities it
// advertises into the Tool Registry, and serves as the Agent Router's
// ExternalDispatcher for the external_mcp_proxy agent kind.
type Supervisor struct {
	registry *registry.Registry

	mu      sync.RWMutex
	servers map[string]*managedServer

	outstanding chan struct{} // global concurrency semaphore across all servers
}

// ServerDef is one entry from the external MCP servers config file,
// distinct from the runtime models.ExternalServer record the Supervisor
// maintains internally.
type ServerDef struct {
	ID            string
	Transport     models.TransportSpec
	ToolPrefix    string
	RestartPolicy models.RestartPolicy
	QueueDepth    int
}

// New constructs a Supervisor backed by reg, with maxConcurrent total
// in-flight external calls across every managed server (§5 default 256
// per-server / 2048 global is enforced at the Broker layer; this cap
// protects the Supervisor's own outbound fan-out).
func New(reg *registry.Registry, maxConcurrent int) *Supervisor {
	if maxConcurrent <= 0 {
		maxConcurrent = 256
	}
	return &Supervisor{
		registry:    reg,
		servers:     map[string]*managedServer{},
		outstanding: make(chan struct{}, maxConcurrent),
	}
}

// RegisterServer adds a server definition and starts its supervising
// goroutine. Calling RegisterServer twice for the same ID replaces the
// prior definition only after the prior server has been stopped.
func (s *Supervisor) RegisterServer(ctx context.Context, def ServerDef) error {
	s.mu.Lock()
	if prev, exists := s.servers[def.ID]; exists && prev.currentState() != models.ServerStopped {
		s.mu.Unlock()
		return fmt.Errorf("external mcp server %q already registered", def.ID)
	}
	if def.QueueDepth <= 0 {
		def.QueueDepth = 256
	}
	if def.RestartPolicy == (models.RestartPolicy{}) {
		def.RestartPolicy = models.DefaultRestartPolicy()
	}
	ms := newManagedServer(def, s.registry, s.outstanding)
	s.servers[def.ID] = ms
	s.mu.Unlock()

	ms.start(ctx)
	return nil
}

// StopServer transitions a server to Stopping and tears down its
// connection, reachable from any live state per §4.D.
func (s *Supervisor) StopServer(id string) error {
	s.mu.Lock()
	ms, ok := s.servers[id]
	s.mu.Unlock()
	if !ok {
		return fmt.Errorf("external mcp server %q not registered", id)
	}
	ms.stop()
	s.registry.DisableSource(sourceSystem(id), false)
	return nil
}

// StopAll stops every managed server, for graceful gateway shutdown.
func (s *Supervisor) StopAll() {
	s.mu.RLock()
	all := make([]*managedServer, 0, len(s.servers))
	for _, ms := range s.servers {
		all = append(all, ms)
	}
	s.mu.RUnlock()
	for _, ms := range all {
		ms.stop()
	}
}

// State reports one server's current state machine position, for the
// management surface and readiness probes.
func (s *Supervisor) State(id string) (models.ExternalServerState, bool) {
	s.mu.RLock()
	ms, ok := s.servers[id]
	s.mu.RUnlock()
	if !ok {
		return "", false
	}
	return ms.currentState(), true
}

// ListServers returns every registered server's runtime snapshot.
func (s *Supervisor) ListServers() []models.ExternalServer {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]models.ExternalServer, 0, len(s.servers))
	for _, ms := range s.servers {
		out = append(out, ms.snapshot())
	}
	return out
}

// CallTool implements agentrouter.ExternalDispatcher: forward a tools/call
// to the named server if it is Ready or Degraded, rejecting with a transient error
// otherwise so the Agent Router's retry policy can decide whether to
// retry.
func (s *Supervisor) CallTool(ctx context.Context, serverID, toolName string, arguments map[string]interface{}) ([]models.ContentBlock, error) {
	s.mu.RLock()
	ms, ok := s.servers[serverID]
	s.mu.RUnlock()
	if !ok {
		return nil, mcperr.ServerUnavailable(serverID)
	}
	return ms.callTool(ctx, toolName, arguments)
}

func sourceSystem(serverID string) string {
	return "external_mcp:" + serverID
}

func logStateTransition(id string, from, to models.ExternalServerState) {
	log.Info().Str("server", id).Str("from", string(from)).Str("to", string(to)).Msg("external mcp server state transition")
}
