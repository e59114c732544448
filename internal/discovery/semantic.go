package discovery

import (
	"context"
	"fmt"

	"github.com/agentoven/mcpgateway/pkg/models"
)

// Searcher is the Smart Discovery Engine's view of the Semantic Search
// Service (§4.F): embed the request and return the top-k candidates by
// cosine similarity. Declared locally instead of importing internal/semantic
// directly so discovery can be unit-tested against a fake without pulling
// in an embedding backend.
type Searcher interface {
	Query(ctx context.Context, text string, k int) ([]models.ScoredTool, error)
}

// SemanticStrategy narrows the candidate set via the Semantic Search
// Service and returns the top hit as a provisional selection (empty
// arguments; the LLM or caller fills them in). With no searcher configured
// (semantic.backend = disabled) it reports no match rather than erroring,
// so hybrid mode degrades to rule + LLM only.
type SemanticStrategy struct {
	searcher Searcher
	topK     int
}

func NewSemanticStrategy(searcher Searcher, topK int) *SemanticStrategy {
	if topK <= 0 {
		topK = 5
	}
	return &SemanticStrategy{searcher: searcher, topK: topK}
}

func (s *SemanticStrategy) Name() string { return "semantic" }

func (s *SemanticStrategy) Select(ctx context.Context, req models.DiscoveryRequest, candidates []models.Tool) (*models.SelectedTool, []string, error) {
	if s.searcher == nil {
		return nil, []string{"semantic: no backend configured"}, nil
	}
	hits, err := s.searcher.Query(ctx, req.Text, s.topK)
	if err != nil {
		return nil, []string{fmt.Sprintf("semantic: query failed: %v", err)}, nil
	}
	allowed := make(map[string]bool, len(candidates))
	for _, c := range candidates {
		allowed[c.Name] = true
	}
	var best *models.ScoredTool
	for i := range hits {
		if allowed[hits[i].Name] {
			best = &hits[i]
			break
		}
	}
	if best == nil {
		return nil, []string{"semantic: no candidates returned"}, nil
	}
	reasoning := []string{fmt.Sprintf("semantic: top match %q score=%.3f", best.Name, best.Score)}
	return &models.SelectedTool{Name: best.Name, Arguments: map[string]interface{}{}, Confidence: best.Score}, reasoning, nil
}

// Candidates returns up to k tool names ranked by semantic similarity, used
// by the hybrid strategy to narrow the candidate list handed to the LLM
// selection step.
func (s *SemanticStrategy) Candidates(ctx context.Context, text string, k int) ([]models.ScoredTool, error) {
	if s.searcher == nil {
		return nil, nil
	}
	return s.searcher.Query(ctx, text, k)
}
