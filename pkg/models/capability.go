// Package models holds the data shapes shared across the gateway: tool,
// resource, and prompt definitions, registry snapshots, sessions, external
// MCP server records, discovery requests/results, embedding cache entries,
// and the JSON-RPC envelope.
package models

import "encoding/json"

// ── Agent kind ───────────────────────────────────────────────

// AgentKind names the execution backend a tool dispatches to.
type AgentKind string

const (
	AgentSubprocess  AgentKind = "subprocess"
	AgentHTTP        AgentKind = "http"
	AgentGraphQL     AgentKind = "graphql"
	AgentSSE         AgentKind = "sse"
	AgentWebSocket   AgentKind = "websocket"
	AgentGRPC        AgentKind = "grpc"
	AgentExternalMCP AgentKind = "external_mcp_proxy"
)

// ── Tool Definition ──────────────────────────────────────────

// Annotations describe tool execution hints used by the router and discovery.
type Annotations struct {
	Destructive bool `json:"destructive,omitempty" yaml:"destructive,omitempty"`
	ReadOnly    bool `json:"read_only,omitempty" yaml:"read_only,omitempty"`
	Idempotent  bool `json:"idempotent,omitempty" yaml:"idempotent,omitempty"`
}

// Provenance records where a capability entry came from, for diagnostics
// and for the Registry's replace-by-source merge semantics.
type Provenance struct {
	SourceFile   string `json:"source_file,omitempty" yaml:"-"`
	SourceSystem string `json:"source_system,omitempty" yaml:"-"`
}

// Tool is a single dispatchable capability: a name, a description, an input
// schema, and the agent configuration used to execute it.
type Tool struct {
	Name        string                 `json:"name" yaml:"name"`
	Description string                 `json:"description" yaml:"description"`
	InputSchema json.RawMessage        `json:"input_schema" yaml:"input_schema"`
	Agent       AgentKind              `json:"agent" yaml:"agent"`
	AgentParams map[string]interface{} `json:"agent_params,omitempty" yaml:"agent_params,omitempty"`
	Enabled     bool                   `json:"enabled" yaml:"enabled"`
	Hidden      bool                   `json:"hidden,omitempty" yaml:"hidden,omitempty"`
	Category    string                 `json:"category,omitempty" yaml:"category,omitempty"`
	Annotations Annotations            `json:"annotations,omitempty" yaml:"annotations,omitempty"`
	// TimeoutSeconds overrides the gateway's default tool-call timeout for
	// this tool alone (§4.C, §5 "per-tool override"). Zero means "use the
	// gateway default."
	TimeoutSeconds int        `json:"timeout_seconds,omitempty" yaml:"timeout_seconds,omitempty"`
	Provenance     Provenance `json:"provenance" yaml:"-"`
}

// Routable reports whether the tool carries a recognised agent variant and
// the parameters it needs, per the Registry's "every publicly visible tool
// has a routable agent" invariant.
func (t Tool) Routable() bool {
	switch t.Agent {
	case AgentSubprocess:
		_, ok := t.AgentParams["command"]
		return ok
	case AgentHTTP, AgentGraphQL:
		_, ok := t.AgentParams["url"]
		return ok
	case AgentSSE:
		_, ok := t.AgentParams["endpoint"]
		return ok
	case AgentWebSocket:
		_, ok := t.AgentParams["url"]
		return ok
	case AgentGRPC:
		_, ok := t.AgentParams["target"]
		return ok
	case AgentExternalMCP:
		_, ok := t.AgentParams["server_id"]
		return ok
	default:
		return false
	}
}

// Visible reports whether the tool should appear in tools/list results.
func (t Tool) Visible() bool {
	return t.Enabled && !t.Hidden
}

// ── Resource Definition ──────────────────────────────────────

type Resource struct {
	URI        string     `json:"uri" yaml:"uri"`
	MimeType   string     `json:"mime_type" yaml:"mime_type"`
	Name       string     `json:"name" yaml:"name"`
	ProviderRef string    `json:"provider_ref,omitempty" yaml:"provider_ref,omitempty"`
	Enabled    bool       `json:"enabled" yaml:"enabled"`
	Hidden     bool       `json:"hidden,omitempty" yaml:"hidden,omitempty"`
	Provenance Provenance `json:"provenance" yaml:"-"`
}

func (r Resource) Visible() bool { return r.Enabled && !r.Hidden }

// ── Prompt Definition ────────────────────────────────────────

type Prompt struct {
	Name           string          `json:"name" yaml:"name"`
	ArgumentSchema json.RawMessage `json:"argument_schema,omitempty" yaml:"argument_schema,omitempty"`
	Template       string          `json:"template,omitempty" yaml:"template,omitempty"`
	ProviderRef    string          `json:"provider_ref,omitempty" yaml:"provider_ref,omitempty"`
	Enabled        bool            `json:"enabled" yaml:"enabled"`
	Hidden         bool            `json:"hidden,omitempty" yaml:"hidden,omitempty"`
	Provenance     Provenance      `json:"provenance" yaml:"-"`
}

func (p Prompt) Visible() bool { return p.Enabled && !p.Hidden }

// ── Registry Snapshot ────────────────────────────────────────

// Snapshot is an immutable view of the registry at a point in time. It is
// never mutated after construction; the Registry swaps a pointer to a new
// Snapshot on every change.
type Snapshot struct {
	Version   uint64
	Tools     map[string]Tool
	Resources map[string]Resource
	Prompts   map[string]Prompt
}

// EmptySnapshot returns the zero-version, zero-entry snapshot used before
// the first load completes.
func EmptySnapshot() *Snapshot {
	return &Snapshot{
		Version:   0,
		Tools:     map[string]Tool{},
		Resources: map[string]Resource{},
		Prompts:   map[string]Prompt{},
	}
}

// VisibleTools returns the tools that satisfy enabled ∧ ¬hidden, sorted by
// the caller (Snapshot itself makes no ordering guarantee).
func (s *Snapshot) VisibleTools() []Tool {
	out := make([]Tool, 0, len(s.Tools))
	for _, t := range s.Tools {
		if t.Visible() {
			out = append(out, t)
		}
	}
	return out
}
