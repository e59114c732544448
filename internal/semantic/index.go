package semantic

import (
	"context"
	"math"
	"sort"
	"sync"

	"github.com/agentoven/mcpgateway/pkg/models"
)

// index is a brute-force in-memory cosine-similarity nearest-neighbour
// store, sized for the tool-catalog scale this engine targets (hundreds to
// low thousands of entries, not a large-scale RAG workload — so no capacity
// cap here). It implements contracts.VectorStoreDriver.
type index struct {
	mu      sync.RWMutex
	vectors map[string][]float32
}

func newIndex() *index {
	return &index{vectors: map[string][]float32{}}
}

func (x *index) Upsert(ctx context.Context, name string, vector []float32) error {
	x.mu.Lock()
	defer x.mu.Unlock()
	cp := make([]float32, len(vector))
	copy(cp, vector)
	x.vectors[name] = cp
	return nil
}

func (x *index) Remove(ctx context.Context, name string) error {
	x.mu.Lock()
	defer x.mu.Unlock()
	delete(x.vectors, name)
	return nil
}

func (x *index) Query(ctx context.Context, vector []float32, k int) ([]models.ScoredTool, error) {
	x.mu.RLock()
	defer x.mu.RUnlock()

	type scored struct {
		name  string
		score float64
	}
	candidates := make([]scored, 0, len(x.vectors))
	for name, v := range x.vectors {
		if len(v) != len(vector) {
			continue
		}
		candidates = append(candidates, scored{name: name, score: cosineSimilarity(vector, v)})
	}
	sort.Slice(candidates, func(i, j int) bool { return candidates[i].score > candidates[j].score })

	if k > len(candidates) {
		k = len(candidates)
	}
	out := make([]models.ScoredTool, k)
	for i := 0; i < k; i++ {
		out[i] = models.ScoredTool{Name: candidates[i].name, Score: candidates[i].score}
	}
	return out, nil
}

func (x *index) Count() int {
	x.mu.RLock()
	defer x.mu.RUnlock()
	return len(x.vectors)
}

// snapshot returns a copy of all entries, used when serialising the disk
// cache.
func (x *index) snapshot() map[string][]float32 {
	x.mu.RLock()
	defer x.mu.RUnlock()
	out := make(map[string][]float32, len(x.vectors))
	for k, v := range x.vectors {
		cp := make([]float32, len(v))
		copy(cp, v)
		out[k] = cp
	}
	return out
}

// load replaces the index contents, used when restoring from the disk
// cache.
func (x *index) load(entries map[string][]float32) {
	x.mu.Lock()
	defer x.mu.Unlock()
	x.vectors = entries
}

func cosineSimilarity(a, b []float32) float64 {
	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}
