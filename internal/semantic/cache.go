package semantic

import (
	"encoding/json"
	"os"
	"path/filepath"

	"github.com/rs/zerolog/log"
)

const cacheFileName = "semantic_vector_cache.json"

// diskCache is the serialised form of the vector index, keyed by the
// embedding model identifier it was built for (§4.F: "loading a cache
// built for a different model is rejected, force full rebuild"), mirroring
// internal/catalog/catalog.go's disk-persisted-cache-keyed-by-identifier.
type diskCache struct {
	ModelIdentifier string                `json:"model_identifier"`
	Hashes          map[string]string     `json:"hashes"` // tool name -> content hash
	Vectors         map[string][]float32  `json:"vectors"`
}

func loadCache(dir, modelIdentifier string) (map[string]string, map[string][]float32, error) {
	path := filepath.Join(dir, cacheFileName)
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, nil, err
	}
	var c diskCache
	if err := json.Unmarshal(data, &c); err != nil {
		return nil, nil, err
	}
	if c.ModelIdentifier != modelIdentifier {
		log.Info().Str("cached_model", c.ModelIdentifier).Str("current_model", modelIdentifier).
			Msg("semantic: cache built for a different model, forcing full rebuild")
		return nil, nil, nil
	}
	return c.Hashes, c.Vectors, nil
}

func saveCache(dir, modelIdentifier string, hashes map[string]string, vectors map[string][]float32) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	data, err := json.Marshal(diskCache{ModelIdentifier: modelIdentifier, Hashes: hashes, Vectors: vectors})
	if err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(dir, cacheFileName), data, 0o644)
}
