// Package discovery implements the Smart Discovery Engine (§4.E): given a
// free-form request, select one tool and synthesise its arguments by
// composing a rule-based fast path, a semantic-search narrowing step, and
// an LLM selection step according to the configured tool_selection_mode.
//
// Grounded on internal/resolver/resolver.go's validate-then-resolve-with-
// collected-errors idiom (applied here to discovery candidates instead of
// agent ingredients) and internal/router/router.go's chat-completion
// driver dispatch for the LLM selection step.
package discovery

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/rs/zerolog/log"

	"github.com/agentoven/mcpgateway/internal/config"
	"github.com/agentoven/mcpgateway/internal/mcperr"
	"github.com/agentoven/mcpgateway/internal/registry"
	"github.com/agentoven/mcpgateway/pkg/contracts"
	"github.com/agentoven/mcpgateway/pkg/models"
)

const defaultThreshold = 0.6

// Engine composes the configured discovery strategies and applies the
// decision contract from §4.E. It implements protocol.Discoverer.
type Engine struct {
	registry  *registry.Registry
	mode      models.ToolSelectionMode
	threshold float64

	rule     *RuleStrategy
	semantic *SemanticStrategy
	llm      *LLMStrategy
}

// New constructs an Engine. semantic/llm may be nil (e.g. semantic.backend
// = disabled, or no chat driver configured); the engine degrades each
// strategy to "no match" rather than failing when its backend is absent.
func New(reg *registry.Registry, cfg config.SmartDiscoveryConfig, semantic *SemanticStrategy, chatDriver contracts.ChatDriver) (*Engine, []error) {
	rule, ruleErrs := NewRuleStrategy(cfg.Rules)
	for _, e := range ruleErrs {
		log.Warn().Err(e).Msg("discovery: rule pattern failed to compile, skipping")
	}

	threshold := cfg.DefaultConfidenceThresh
	if threshold <= 0 {
		threshold = defaultThreshold
	}

	return &Engine{
		registry:  reg,
		mode:      models.ToolSelectionMode(cfg.ToolSelectionMode),
		threshold: threshold,
		rule:      rule,
		semantic:  semantic,
		llm:       NewLLMStrategy(chatDriver),
	}, ruleErrs
}

// Resolve implements protocol.Discoverer. It is pure over (request,
// registry snapshot, embedding index, LLM): no registry mutations occur
// and every strategy's reasoning is captured in the result for audit.
func (e *Engine) Resolve(ctx context.Context, req models.DiscoveryRequest) (*models.DiscoveryResult, error) {
	threshold := e.threshold
	if req.ConfidenceThreshold > 0 {
		threshold = req.ConfidenceThreshold
	}

	_, allTools := e.registry.ListVisible()
	candidates := allTools
	if req.PreferredTool != "" {
		candidates = filterByName(allTools, req.PreferredTool)
	}

	var reasoning []string
	var best *models.SelectedTool
	strategyUsed := "none"

	switch e.mode {
	case models.ModeRuleOnly:
		best, reasoning, strategyUsed = e.runRule(ctx, req, candidates, reasoning)
	case models.ModeSemanticOnly:
		best, reasoning, strategyUsed = e.runSemanticThenLLM(ctx, req, candidates, reasoning)
	case models.ModeLLMOnly:
		sel, steps, err := e.llm.Select(ctx, req, candidates)
		reasoning = append(reasoning, steps...)
		if err != nil {
			return nil, err
		}
		best, strategyUsed = sel, "llm"
	default: // hybrid (also the zero-value default per §6)
		best, reasoning, _ = e.runHybrid(ctx, req, candidates, reasoning)
		strategyUsed = "hybrid"
	}

	if best == nil || best.Confidence < threshold {
		top3 := topCandidates(candidates, 3)
		reasoning = append(reasoning, fmt.Sprintf("decision: best confidence below threshold %.2f", threshold))
		return &models.DiscoveryResult{Candidates: top3, ReasoningSteps: reasoning, StrategyUsed: strategyUsed},
			mcperr.NoConfidentMatch(top3)
	}

	tool, ok := e.registry.GetTool(best.Name)
	if !ok {
		return nil, mcperr.ToolNotFound(best.Name)
	}

	if err := validateArguments(tool, best.Arguments); err != nil {
		repaired, repairErr := e.repairArguments(ctx, tool, best, err)
		if repairErr != nil {
			reasoning = append(reasoning, "decision: argument synthesis failed after repair pass: "+repairErr.Error())
			return &models.DiscoveryResult{ReasoningSteps: reasoning, StrategyUsed: strategyUsed}, repairErr
		}
		best = repaired
		reasoning = append(reasoning, "decision: arguments repaired to satisfy schema")
	}

	reasoning = append(reasoning, fmt.Sprintf("decision: selected %q confidence=%.2f via %s", best.Name, best.Confidence, strategyUsed))
	return &models.DiscoveryResult{Tool: best, ReasoningSteps: reasoning, StrategyUsed: strategyUsed}, nil
}

func (e *Engine) runRule(ctx context.Context, req models.DiscoveryRequest, candidates []models.Tool, reasoning []string) (*models.SelectedTool, []string, string) {
	sel, steps, _ := e.rule.Select(ctx, req, candidates)
	return sel, append(reasoning, steps...), "rule"
}

func (e *Engine) runSemanticThenLLM(ctx context.Context, req models.DiscoveryRequest, candidates []models.Tool, reasoning []string) (*models.SelectedTool, []string, string) {
	if e.semantic == nil {
		return nil, append(reasoning, "semantic: unavailable"), "semantic"
	}
	sel, steps, _ := e.semantic.Select(ctx, req, candidates)
	return sel, append(reasoning, steps...), "semantic"
}

// runHybrid implements §4.E's default mode: rule first; if below
// threshold, narrow via semantic search, then let the LLM choose among the
// narrowed candidates. Confidence is max(rule_conf, llm_conf).
func (e *Engine) runHybrid(ctx context.Context, req models.DiscoveryRequest, candidates []models.Tool, reasoning []string) (*models.SelectedTool, []string, string) {
	ruleSel, ruleSteps, _ := e.rule.Select(ctx, req, candidates)
	reasoning = append(reasoning, ruleSteps...)
	if ruleSel != nil && ruleSel.Confidence >= e.threshold {
		return ruleSel, reasoning, "rule"
	}

	narrowed := candidates
	if e.semantic != nil {
		if scored, err := e.semantic.Candidates(ctx, req.Text, e.semantic.topK); err == nil && len(scored) > 0 {
			narrowed = filterByScored(candidates, scored)
			reasoning = append(reasoning, fmt.Sprintf("semantic: narrowed to %d candidates", len(narrowed)))
		}
	}

	llmSel, llmSteps, err := e.llm.Select(ctx, req, narrowed)
	reasoning = append(reasoning, llmSteps...)
	if err != nil || llmSel == nil {
		return ruleSel, reasoning, "rule"
	}

	ruleConf := 0.0
	if ruleSel != nil {
		ruleConf = ruleSel.Confidence
	}
	if llmSel.Confidence >= ruleConf {
		return llmSel, reasoning, "llm"
	}
	return ruleSel, reasoning, "rule"
}

// repairArguments asks the LLM to correct arguments that failed schema
// validation, per §4.E's "single repair pass ... then hard-fail with
// ArgumentSynthesisFailed".
func (e *Engine) repairArguments(ctx context.Context, tool models.Tool, sel *models.SelectedTool, validationErr error) (*models.SelectedTool, error) {
	if e.llm == nil || e.llm.driver == nil {
		return nil, mcperr.ArgumentSynthesisFailed(tool.Name, validationErr.Error())
	}

	argsJSON, _ := json.Marshal(sel.Arguments)
	system := systemPrompt()
	user := fmt.Sprintf(
		"Tool %q expects arguments matching schema: %s\nYou previously proposed: %s\nThat failed validation: %s\nReply with ONLY the corrected JSON object in the {tool_name, arguments, confidence, reasoning} shape, keeping tool_name as %q.",
		tool.Name, string(tool.InputSchema), string(argsJSON), validationErr.Error(), tool.Name,
	)

	reply, err := e.llm.driver.Complete(ctx, system, user)
	if err != nil {
		return nil, mcperr.ArgumentSynthesisFailed(tool.Name, validationErr.Error())
	}
	repaired, parseErr := parseSelection(reply)
	if parseErr != nil || repaired.ToolName != tool.Name {
		return nil, mcperr.ArgumentSynthesisFailed(tool.Name, validationErr.Error())
	}
	if err := validateArguments(tool, repaired.Arguments); err != nil {
		return nil, mcperr.ArgumentSynthesisFailed(tool.Name, err.Error())
	}
	return &models.SelectedTool{Name: tool.Name, Arguments: repaired.Arguments, Confidence: sel.Confidence}, nil
}

func filterByName(tools []models.Tool, name string) []models.Tool {
	for _, t := range tools {
		if t.Name == name {
			return []models.Tool{t}
		}
	}
	return tools
}

func filterByScored(tools []models.Tool, scored []models.ScoredTool) []models.Tool {
	wanted := make(map[string]bool, len(scored))
	for _, s := range scored {
		wanted[s.Name] = true
	}
	out := make([]models.Tool, 0, len(scored))
	for _, t := range tools {
		if wanted[t.Name] {
			out = append(out, t)
		}
	}
	if len(out) == 0 {
		return tools
	}
	return out
}

func topCandidates(tools []models.Tool, n int) []models.ScoredTool {
	if len(tools) > n {
		tools = tools[:n]
	}
	out := make([]models.ScoredTool, 0, len(tools))
	for _, t := range tools {
		out = append(out, models.ScoredTool{Name: t.Name, Score: 0})
	}
	return out
}
