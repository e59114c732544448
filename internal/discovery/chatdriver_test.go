package discovery

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOpenAILikeChatDriverSendsBearerAndParsesContent(t *testing.T) {
	t.Setenv("MCPGATEWAY_LLM_API_KEY", "test-key")

	var gotAuth, gotPath string
	var gotBody chatCompletionRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		gotPath = r.URL.Path
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotBody))
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(chatCompletionResponse{
			Choices: []struct {
				Message struct {
					Content string `json:"content"`
				} `json:"message"`
			}{{Message: struct {
				Content string `json:"content"`
			}{Content: `{"tool_name":"ping","arguments":{},"confidence":0.9,"reasoning":"matched"}`}}},
		})
	}))
	defer srv.Close()

	d := NewOpenAILikeChatDriver("openai", "gpt-test", srv.URL, 0)
	out, err := d.Complete(context.Background(), "system prompt", "user prompt")
	require.NoError(t, err)

	assert.Equal(t, "Bearer test-key", gotAuth)
	assert.Equal(t, "/chat/completions", gotPath)
	assert.Equal(t, "gpt-test", gotBody.Model)
	require.Len(t, gotBody.Messages, 2)
	assert.Equal(t, "system", gotBody.Messages[0].Role)
	assert.Equal(t, "system prompt", gotBody.Messages[0].Content)
	assert.Contains(t, out, "ping")
}

func TestOpenAILikeChatDriverUsesAPIKeyHeaderForAzure(t *testing.T) {
	t.Setenv("MCPGATEWAY_LLM_API_KEY", "azure-key")

	var gotAPIKeyHeader, gotAuthHeader string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAPIKeyHeader = r.Header.Get("api-key")
		gotAuthHeader = r.Header.Get("Authorization")
		json.NewEncoder(w).Encode(chatCompletionResponse{})
	}))
	defer srv.Close()

	d := NewOpenAILikeChatDriver("azure-openai", "gpt-test", srv.URL, 0)
	_, err := d.Complete(context.Background(), "s", "u")
	require.Error(t, err) // empty choices

	assert.Equal(t, "azure-key", gotAPIKeyHeader)
	assert.Empty(t, gotAuthHeader)
}

func TestOpenAILikeChatDriverRequiresAPIKey(t *testing.T) {
	os.Unsetenv("MCPGATEWAY_LLM_API_KEY")
	d := NewOpenAILikeChatDriver("openai", "gpt-test", "https://example.invalid", 0)
	_, err := d.Complete(context.Background(), "s", "u")
	require.Error(t, err)
}
