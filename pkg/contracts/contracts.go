// Package contracts defines the pluggable extensibility seam for the
// gateway: discovery strategies, embedding backends, vector stores, and
// agent dispatch drivers.
//
// This repo ships the concrete default ("community") implementation of
// each interface — rule-based discovery, the OpenAI/Ollama embedding
// drivers, the in-memory vector store, the built-in agent drivers. An
// enterprise build can register enhanced drivers (a hosted vector DB, a
// licensed LLM judge, a custom agent kind) through the same registration
// points without touching the request path.
package contracts

import (
	"context"
	"net/http"

	"github.com/agentoven/mcpgateway/pkg/models"
)

// ── Agent Driver ─────────────────────────────────────────────

// AgentDriver executes a tool call for one agent kind. OSS ships drivers for
// subprocess, http, graphql, sse, websocket, grpc, and external_mcp_proxy.
// A driver is registered in the Agent Router via RegisterDriver.
type AgentDriver interface {
	// Kind returns the models.AgentKind this driver handles.
	Kind() models.AgentKind

	// Dispatch executes the tool call and returns normalised content blocks.
	Dispatch(ctx context.Context, tool models.Tool, arguments map[string]interface{}) ([]models.ContentBlock, error)
}

// RetryableDriver is an optional interface an AgentDriver may implement to
// advertise that network/5xx failures are safe to retry (http, graphql).
// Drivers that don't implement it are never retried by the router.
type RetryableDriver interface {
	MaxRetries() int
}

// ── Embedding Driver ─────────────────────────────────────────

// EmbeddingDriver generates vector embeddings from text. OSS ships
// local_model (stub), remote_openai_like, remote_ollama, and disabled.
type EmbeddingDriver interface {
	Kind() string
	Embed(ctx context.Context, texts []string) ([][]float32, error)
	Dimensions() int
	MaxBatchSize() int
	HealthCheck(ctx context.Context) error
}

// ── Vector Store Driver ──────────────────────────────────────

// VectorStoreDriver stores and queries tool-description embeddings by
// cosine similarity. OSS ships an in-memory brute-force implementation.
type VectorStoreDriver interface {
	Upsert(ctx context.Context, name string, vector []float32) error
	Remove(ctx context.Context, name string) error
	Query(ctx context.Context, vector []float32, k int) ([]models.ScoredTool, error)
	Count() int
}

// ── Discovery Strategy ───────────────────────────────────────

// DiscoveryStrategy produces a tool selection for one of the Smart
// Discovery Engine's strategies (rule, semantic, LLM). The engine composes
// these per the configured tool_selection_mode.
type DiscoveryStrategy interface {
	Name() string
	Select(ctx context.Context, req models.DiscoveryRequest, candidates []models.Tool) (*models.SelectedTool, []string, error)
}

// ── Chat LLM Driver ──────────────────────────────────────────

// ChatDriver sends a structured selection prompt to a chat LLM for the
// discovery engine's LLM-selection strategy.
type ChatDriver interface {
	Kind() string
	Complete(ctx context.Context, systemPrompt, userPrompt string) (string, error)
}

// ── MCP Client Transport (Supervisor) ────────────────────────

// ExternalClient is the Supervisor's view of one connection to an external
// MCP server: a thin JSON-RPC request/notify surface independent of
// whether the underlying transport is stdio, http, sse, or ws.
type ExternalClient interface {
	// Call sends a request and waits for its correlated response.
	Call(ctx context.Context, method string, params interface{}) (result []byte, err error)

	// Notify sends a notification; no response is expected.
	Notify(ctx context.Context, method string, params interface{}) error

	// Close tears down the underlying connection/process.
	Close() error
}

// ── Tier / Auth plumbing ──────────────────────────────────────────────

// TierEnforcer is HTTP middleware enforcing request-level policy ahead of
// the transport layer. OSS ships a pass-through; enterprise builds can
// enforce quotas here without touching transport code.
type TierEnforcer interface {
	Middleware(next http.Handler) http.Handler
}

// CommunityTierEnforcer is a no-op middleware, the OSS default.
type CommunityTierEnforcer struct{}

func (e *CommunityTierEnforcer) Middleware(next http.Handler) http.Handler { return next }

// AuthProvider resolves an inbound HTTP request to an opaque AuthContext.
// OSS ships static API key and bearer-JWT providers chained together; see
// internal/auth.
type AuthProvider interface {
	Authenticate(r *http.Request) (*models.AuthContext, error)
}

// RateLimiter decides whether a subject's request is admitted. No transport
// in this repo consults one; OSS ships a no-op limiter.
type RateLimiter interface {
	Allow(subject string) bool
}

// NopRateLimiter never rejects a request.
type NopRateLimiter struct{}

func (NopRateLimiter) Allow(string) bool { return true }
