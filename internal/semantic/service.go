package semantic

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/agentoven/mcpgateway/pkg/contracts"
	"github.com/agentoven/mcpgateway/pkg/models"
)

// NewDriver constructs the embedding backend named by variant (§4.F:
// local_model, remote_openai_like, remote_ollama, disabled). Backend
// selection is static per process.
func NewDriver(variant, apiKey, model, endpoint string) contracts.EmbeddingDriver {
	switch variant {
	case "local_model":
		return newLocalModelDriver()
	case "remote_openai_like":
		return newRemoteOpenAILikeDriver(apiKey, model, endpoint)
	case "remote_ollama":
		return newRemoteOllamaDriver(endpoint, model)
	default:
		return disabledDriver{}
	}
}

// Service is the Semantic Search Service: tool_name -> (content_hash,
// vector), a nearest-neighbour index, and a disk-persisted cache keyed by
// the embedding model identifier.
type Service struct {
	mu       sync.Mutex
	driver   contracts.EmbeddingDriver
	idx      *index
	hashes   map[string]string
	pending  map[string]string // name -> content, queued while the backend is down
	cacheDir string
}

func NewService(driver contracts.EmbeddingDriver, cacheDir string) *Service {
	if driver == nil {
		driver = disabledDriver{}
	}
	return &Service{driver: driver, idx: newIndex(), hashes: map[string]string{}, pending: map[string]string{}, cacheDir: cacheDir}
}

// ModelIdentifier names the backend+dimensionality combination the cache
// was built for; a cache built for a different identifier is rejected.
func (s *Service) ModelIdentifier() string {
	return fmt.Sprintf("%s:%d", s.driver.Kind(), s.driver.Dimensions())
}

// LoadCache restores the index from disk if a cache exists for this
// service's current model identifier; a mismatched or absent cache is not
// an error — the index simply starts empty and rebuilds on first upsert.
func (s *Service) LoadCache() {
	if s.cacheDir == "" {
		return
	}
	hashes, vectors, err := loadCache(s.cacheDir, s.ModelIdentifier())
	if err != nil || vectors == nil {
		return
	}
	s.mu.Lock()
	s.hashes = hashes
	s.mu.Unlock()
	s.idx.load(vectors)
	log.Info().Int("entries", len(vectors)).Msg("semantic: restored vector cache from disk")
}

// SaveCache serialises the current index to disk.
func (s *Service) SaveCache() error {
	if s.cacheDir == "" {
		return nil
	}
	s.mu.Lock()
	hashesCopy := make(map[string]string, len(s.hashes))
	for k, v := range s.hashes {
		hashesCopy[k] = v
	}
	s.mu.Unlock()
	return saveCache(s.cacheDir, s.ModelIdentifier(), hashesCopy, s.idx.snapshot())
}

func contentHash(content string) string {
	sum := sha256.Sum256([]byte(content))
	return hex.EncodeToString(sum[:])
}

// Upsert recomputes the content hash; if unchanged since the last embed,
// the existing vector is reused. Otherwise it calls the embedding backend
// and updates the index. A backend failure does not propagate as a hard
// error: the entry is queued in pending and retried by FlushPending, per
// §4.F's "failures of a remote backend must not crash the engine".
func (s *Service) Upsert(ctx context.Context, name, content string) error {
	hash := contentHash(content)

	s.mu.Lock()
	unchanged := s.hashes[name] == hash
	s.mu.Unlock()
	if unchanged {
		return nil
	}

	vectors, err := s.driver.Embed(ctx, []string{content})
	if err != nil || len(vectors) == 0 {
		s.mu.Lock()
		s.pending[name] = content
		s.mu.Unlock()
		log.Warn().Str("tool", name).Err(err).Msg("semantic: embedding backend unavailable, upsert queued")
		return nil
	}

	if err := s.idx.Upsert(ctx, name, vectors[0]); err != nil {
		return err
	}
	s.mu.Lock()
	s.hashes[name] = hash
	delete(s.pending, name)
	s.mu.Unlock()
	return nil
}

// Remove drops name from the index and its tracked content hash.
func (s *Service) Remove(ctx context.Context, name string) error {
	s.mu.Lock()
	delete(s.hashes, name)
	delete(s.pending, name)
	s.mu.Unlock()
	return s.idx.Remove(ctx, name)
}

// Query embeds text and returns the top-k nearest tools by cosine
// similarity. Implements discovery.Searcher.
func (s *Service) Query(ctx context.Context, text string, k int) ([]models.ScoredTool, error) {
	vectors, err := s.driver.Embed(ctx, []string{text})
	if err != nil || len(vectors) == 0 {
		return nil, fmt.Errorf("semantic: query embedding failed: %w", err)
	}
	return s.idx.Query(ctx, vectors[0], k)
}

// FlushPending retries every queued upsert that failed because the
// backend was unreachable, returning how many succeeded.
func (s *Service) FlushPending(ctx context.Context) int {
	s.mu.Lock()
	snapshot := make(map[string]string, len(s.pending))
	for k, v := range s.pending {
		snapshot[k] = v
	}
	s.mu.Unlock()

	recovered := 0
	for name, content := range snapshot {
		if err := s.Upsert(ctx, name, content); err == nil {
			s.mu.Lock()
			_, stillPending := s.pending[name]
			s.mu.Unlock()
			if !stillPending {
				recovered++
			}
		}
	}
	return recovered
}

// RebuildFromSnapshot diffs the given tools against what's
// already indexed (by name) and upserts only affected entries, per §4.F's
// "on registry version change, compute the diff and upsert only affected
// entries". Tools no longer present are removed from the index.
func (s *Service) RebuildFromSnapshot(ctx context.Context, tools []models.Tool) {
	seen := map[string]bool{}
	for _, t := range tools {
		seen[t.Name] = true
		content := t.Name + " " + t.Description
		if err := s.Upsert(ctx, t.Name, content); err != nil {
			log.Warn().Str("tool", t.Name).Err(err).Msg("semantic: rebuild upsert failed")
		}
	}
	s.mu.Lock()
	var stale []string
	for name := range s.hashes {
		if !seen[name] {
			stale = append(stale, name)
		}
	}
	s.mu.Unlock()
	for _, name := range stale {
		_ = s.Remove(ctx, name)
	}
}

// Count returns the number of indexed vectors.
func (s *Service) Count() int { return s.idx.Count() }
