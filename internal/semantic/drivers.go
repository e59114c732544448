// Package semantic implements the Semantic Search Service (§4.F):
// maintains tool_name → (content_hash, vector) and a nearest-neighbour
// index, backed by a pluggable embedding driver.
//
// Grounded directly on internal/embeddings/{openai.go,ollama.go,registry.go,
// provider_adapter.go} (functional-options driver construction, batch
// embedding with index-based reordering) and internal/vectorstore/
// {embedded.go,registry.go} (in-memory cosine-similarity index) and
// internal/catalog/catalog.go's disk-persisted-cache-keyed-by-identifier
// pattern.
package semantic

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"net/http"
	"time"
)

// disabledDriver implements contracts.EmbeddingDriver as a no-op: every
// call fails, so the Searcher degrades to "no candidates" rather than
// erroring (§4.F: "Backend selection is static per process").
type disabledDriver struct{}

func (disabledDriver) Kind() string                                          { return "disabled" }
func (disabledDriver) Dimensions() int                                       { return 0 }
func (disabledDriver) MaxBatchSize() int                                     { return 0 }
func (disabledDriver) HealthCheck(ctx context.Context) error                 { return fmt.Errorf("semantic search disabled") }
func (disabledDriver) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	return nil, fmt.Errorf("semantic search disabled")
}

// localModelDriver is a deterministic stand-in for an in-process embedding
// model: it hashes text into a fixed-size vector. It exists so local_model
// can run with no external dependency and no network call, for zero-config
// defaults.
type localModelDriver struct {
	dims int
}

func newLocalModelDriver() *localModelDriver { return &localModelDriver{dims: 256} }

func (d *localModelDriver) Kind() string      { return "local_model" }
func (d *localModelDriver) Dimensions() int   { return d.dims }
func (d *localModelDriver) MaxBatchSize() int { return 256 }
func (d *localModelDriver) HealthCheck(ctx context.Context) error { return nil }

func (d *localModelDriver) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, t := range texts {
		out[i] = hashEmbed(t, d.dims)
	}
	return out, nil
}

// hashEmbed folds text bytes into a fixed-size vector via a simple rolling
// hash, then L2-normalises it so cosine similarity behaves sensibly.
func hashEmbed(text string, dims int) []float32 {
	v := make([]float32, dims)
	var h uint32 = 2166136261
	for i := 0; i < len(text); i++ {
		h ^= uint32(text[i])
		h *= 16777619
		v[int(h)%dims] += 1
	}
	var norm float32
	for _, x := range v {
		norm += x * x
	}
	if norm == 0 {
		return v
	}
	inv := float32(1 / math.Sqrt(float64(norm)))
	for i := range v {
		v[i] *= inv
	}
	return v
}

// remoteOpenAILikeDriver calls an OpenAI-compatible /v1/embeddings endpoint
// (OpenAI itself, or any proxy implementing the same contract). Grounded
// on embeddings.OpenAIDriver, adapted to the [][]float32 shape contracts
// requires.
type remoteOpenAILikeDriver struct {
	apiKey   string
	model    string
	endpoint string
	dims     int
	client   *http.Client
}

func newRemoteOpenAILikeDriver(apiKey, model, endpoint string) *remoteOpenAILikeDriver {
	if endpoint == "" {
		endpoint = "https://api.openai.com/v1/embeddings"
	}
	dims := 1536
	if model == "text-embedding-3-large" {
		dims = 3072
	}
	return &remoteOpenAILikeDriver{apiKey: apiKey, model: model, endpoint: endpoint, dims: dims, client: &http.Client{Timeout: 60 * time.Second}}
}

func (d *remoteOpenAILikeDriver) Kind() string      { return "remote_openai_like" }
func (d *remoteOpenAILikeDriver) Dimensions() int   { return d.dims }
func (d *remoteOpenAILikeDriver) MaxBatchSize() int { return 2048 }

type openAIEmbedRequest struct {
	Input []string `json:"input"`
	Model string   `json:"model"`
}

type openAIEmbedResponse struct {
	Data []struct {
		Embedding []float32 `json:"embedding"`
		Index     int       `json:"index"`
	} `json:"data"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

func (d *remoteOpenAILikeDriver) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	body, err := json.Marshal(openAIEmbedRequest{Input: texts, Model: d.model})
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, d.endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+d.apiKey)

	resp, err := d.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("http request: %w", err)
	}
	defer resp.Body.Close()
	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("embeddings endpoint returned %d: %s", resp.StatusCode, string(respBody))
	}
	var result openAIEmbedResponse
	if err := json.Unmarshal(respBody, &result); err != nil {
		return nil, fmt.Errorf("unmarshal response: %w", err)
	}
	if result.Error != nil {
		return nil, fmt.Errorf("embeddings API error: %s", result.Error.Message)
	}
	vectors := make([][]float32, len(texts))
	for _, d := range result.Data {
		if d.Index < len(vectors) {
			vectors[d.Index] = d.Embedding
		}
	}
	return vectors, nil
}

func (d *remoteOpenAILikeDriver) HealthCheck(ctx context.Context) error {
	_, err := d.Embed(ctx, []string{"health check"})
	return err
}

// remoteOllamaDriver calls a local or remote Ollama /api/embed endpoint.
// Grounded on embeddings.OllamaDriver, adapted to [][]float32.
type remoteOllamaDriver struct {
	endpoint string
	model    string
	dims     int
	client   *http.Client
}

func newRemoteOllamaDriver(endpoint, model string) *remoteOllamaDriver {
	if endpoint == "" {
		endpoint = "http://localhost:11434"
	}
	dims := 768
	switch model {
	case "mxbai-embed-large":
		dims = 1024
	case "all-minilm", "all-minilm:l6-v2":
		dims = 384
	}
	return &remoteOllamaDriver{endpoint: endpoint, model: model, dims: dims, client: &http.Client{Timeout: 120 * time.Second}}
}

func (d *remoteOllamaDriver) Kind() string      { return "remote_ollama" }
func (d *remoteOllamaDriver) Dimensions() int   { return d.dims }
func (d *remoteOllamaDriver) MaxBatchSize() int { return 512 }

type ollamaEmbedRequest struct {
	Model string `json:"model"`
	Input any    `json:"input"`
}

type ollamaEmbedResponse struct {
	Embeddings [][]float32 `json:"embeddings"`
}

func (d *remoteOllamaDriver) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	body, err := json.Marshal(ollamaEmbedRequest{Model: d.model, Input: texts})
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, d.endpoint+"/api/embed", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := d.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("http request: %w", err)
	}
	defer resp.Body.Close()
	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("ollama embed API returned %d: %s", resp.StatusCode, string(respBody))
	}
	var result ollamaEmbedResponse
	if err := json.Unmarshal(respBody, &result); err != nil {
		return nil, fmt.Errorf("unmarshal response: %w", err)
	}
	if len(result.Embeddings) != len(texts) {
		return nil, fmt.Errorf("expected %d embeddings, got %d", len(texts), len(result.Embeddings))
	}
	return result.Embeddings, nil
}

func (d *remoteOllamaDriver) HealthCheck(ctx context.Context) error {
	_, err := d.Embed(ctx, []string{"health check"})
	return err
}
