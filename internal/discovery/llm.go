package discovery

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/agentoven/mcpgateway/internal/mcperr"
	"github.com/agentoven/mcpgateway/pkg/contracts"
	"github.com/agentoven/mcpgateway/pkg/models"
)

// llmSelection is the fixed JSON schema the chat LLM must return, per
// §4.E's "structured selection {tool_name, arguments, confidence,
// reasoning}".
type llmSelection struct {
	ToolName   string                 `json:"tool_name"`
	Arguments  map[string]interface{} `json:"arguments"`
	Confidence float64                `json:"confidence"`
	Reasoning  string                 `json:"reasoning"`
}

// LLMStrategy prompts a configured chat LLM with the request and a
// candidate list, parsing its reply against llmSelection. A reply that
// fails to parse as that schema is retried once with a repair reprompt
// that echoes the parse error back to the model (§4.E).
type LLMStrategy struct {
	driver contracts.ChatDriver
}

func NewLLMStrategy(driver contracts.ChatDriver) *LLMStrategy {
	return &LLMStrategy{driver: driver}
}

func (s *LLMStrategy) Name() string { return "llm" }

func (s *LLMStrategy) Select(ctx context.Context, req models.DiscoveryRequest, candidates []models.Tool) (*models.SelectedTool, []string, error) {
	if s.driver == nil {
		return nil, []string{"llm: no chat driver configured"}, nil
	}
	if len(candidates) == 0 {
		return nil, []string{"llm: no candidates to select from"}, nil
	}

	system := systemPrompt()
	user := userPrompt(req, candidates)

	reply, err := s.driver.Complete(ctx, system, user)
	if err != nil {
		return nil, nil, mcperr.ToolExecutionFailed(fmt.Sprintf("llm selection call failed: %v", err)).Wrap(err)
	}

	sel, parseErr := parseSelection(reply)
	reasoning := []string{fmt.Sprintf("llm: candidates=%d", len(candidates))}
	if parseErr != nil {
		repairUser := user + "\n\nYour previous reply failed to parse as the required JSON schema: " + parseErr.Error() + "\nReply again with ONLY the corrected JSON object."
		reply, err = s.driver.Complete(ctx, system, repairUser)
		if err != nil {
			return nil, reasoning, mcperr.ToolExecutionFailed(fmt.Sprintf("llm repair call failed: %v", err)).Wrap(err)
		}
		sel, parseErr = parseSelection(reply)
		if parseErr != nil {
			return nil, append(reasoning, "llm: repair pass also failed to parse"), mcperr.ArgumentSynthesisFailed("<unselected>", parseErr.Error())
		}
		reasoning = append(reasoning, "llm: repair pass succeeded")
	}

	if !toolInCandidates(sel.ToolName, candidates) {
		return nil, append(reasoning, fmt.Sprintf("llm: selected tool %q is not in the candidate set", sel.ToolName)),
			mcperr.ArgumentSynthesisFailed(sel.ToolName, "not among offered candidates")
	}

	reasoning = append(reasoning, "llm: "+sel.Reasoning)
	return &models.SelectedTool{Name: sel.ToolName, Arguments: sel.Arguments, Confidence: sel.Confidence}, reasoning, nil
}

func toolInCandidates(name string, candidates []models.Tool) bool {
	for _, c := range candidates {
		if c.Name == name {
			return true
		}
	}
	return false
}

func systemPrompt() string {
	return "You select exactly one tool to satisfy a user request and produce its call arguments. " +
		"Reply with ONLY a single JSON object matching this schema: " +
		`{"tool_name": string, "arguments": object, "confidence": number between 0 and 1, "reasoning": string}. ` +
		"No markdown fences, no prose outside the JSON object."
}

func userPrompt(req models.DiscoveryRequest, candidates []models.Tool) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Request: %s\n\nCandidate tools:\n", req.Text)
	for _, c := range candidates {
		fmt.Fprintf(&b, "- %s: %s\n  schema: %s\n", c.Name, c.Description, string(c.InputSchema))
	}
	return b.String()
}

// parseSelection strips common code-fence wrapping an LLM may add despite
// instructions and unmarshals the remainder.
func parseSelection(reply string) (*llmSelection, error) {
	trimmed := strings.TrimSpace(reply)
	trimmed = strings.TrimPrefix(trimmed, "```json")
	trimmed = strings.TrimPrefix(trimmed, "```")
	trimmed = strings.TrimSuffix(trimmed, "```")
	trimmed = strings.TrimSpace(trimmed)

	var sel llmSelection
	if err := json.Unmarshal([]byte(trimmed), &sel); err != nil {
		return nil, err
	}
	if sel.ToolName == "" {
		return nil, fmt.Errorf("missing tool_name")
	}
	if sel.Arguments == nil {
		sel.Arguments = map[string]interface{}{}
	}
	return &sel, nil
}
