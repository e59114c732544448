package discovery

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	"github.com/agentoven/mcpgateway/pkg/contracts"
)

// OpenAILikeChatDriver implements contracts.ChatDriver against any
// OpenAI-compatible /chat/completions endpoint (OpenAI itself, Azure
// OpenAI, or a self-hosted gateway speaking the same wire shape), narrowed
// to the single-turn system+user completion the discovery engine's LLM
// selection strategy needs.
type OpenAILikeChatDriver struct {
	client   *http.Client
	endpoint string
	apiKey   string
	model    string
	isAzure  bool
}

// NewOpenAILikeChatDriver builds a driver for smart_discovery.llm
// (§6): provider selects the auth header shape, model names the
// completion model, and timeout bounds every call (default 15s per §5).
func NewOpenAILikeChatDriver(provider, model, endpoint string, timeout time.Duration) *OpenAILikeChatDriver {
	if endpoint == "" {
		endpoint = "https://api.openai.com/v1"
	}
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &OpenAILikeChatDriver{
		client:   &http.Client{Timeout: timeout},
		endpoint: endpoint,
		apiKey:   os.Getenv("MCPGATEWAY_LLM_API_KEY"),
		model:    model,
		isAzure:  provider == "azure-openai",
	}
}

func (d *OpenAILikeChatDriver) Kind() string { return "openai_like" }

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatCompletionRequest struct {
	Model    string        `json:"model"`
	Messages []chatMessage `json:"messages"`
}

type chatCompletionResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
}

// Complete sends a single system+user turn and returns the assistant's raw
// text content, which the LLM selection strategy then parses as the fixed
// selection JSON schema.
func (d *OpenAILikeChatDriver) Complete(ctx context.Context, systemPrompt, userPrompt string) (string, error) {
	if d.apiKey == "" {
		return "", fmt.Errorf("openai_like chat driver: MCPGATEWAY_LLM_API_KEY not set")
	}

	body, err := json.Marshal(chatCompletionRequest{
		Model: d.model,
		Messages: []chatMessage{
			{Role: "system", Content: systemPrompt},
			{Role: "user", Content: userPrompt},
		},
	})
	if err != nil {
		return "", fmt.Errorf("openai_like: encode request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, d.endpoint+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("openai_like: create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if d.isAzure {
		req.Header.Set("api-key", d.apiKey)
	} else {
		req.Header.Set("Authorization", "Bearer "+d.apiKey)
	}

	resp, err := d.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("openai_like: request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(resp.Body)
		return "", fmt.Errorf("openai_like: status %d: %s", resp.StatusCode, string(respBody))
	}

	var parsed chatCompletionResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return "", fmt.Errorf("openai_like: decode response: %w", err)
	}
	if len(parsed.Choices) == 0 {
		return "", fmt.Errorf("openai_like: empty choices in response")
	}
	return parsed.Choices[0].Message.Content, nil
}
