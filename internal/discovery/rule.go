package discovery

import (
	"context"
	"strings"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"

	"github.com/agentoven/mcpgateway/internal/config"
	"github.com/agentoven/mcpgateway/pkg/models"
)

// ruleEnv is the expr evaluation environment for a rule pattern: lowercased
// request text plus the raw context map, so a pattern can write either
// `text contains "restart"` or `context.urgent == true`.
type ruleEnv struct {
	Text    string                 `expr:"text"`
	Context map[string]interface{} `expr:"context"`
}

type compiledRule struct {
	tool       string
	confidence float64
	program    *vm.Program
}

// RuleStrategy evaluates a small set of config-declared keyword/regex-style
// expressions against the request and returns the first match, per §4.E's
// "rule-based fast path". Uses expr-lang/expr as the pattern evaluator
// instead of a hand-rolled matcher.
type RuleStrategy struct {
	rules []compiledRule
}

// NewRuleStrategy compiles the configured patterns once at construction;
// a pattern that fails to compile is skipped and its error returned to the
// caller, which logs it as a warning, rather than aborting startup.
func NewRuleStrategy(patterns []config.RulePattern) (*RuleStrategy, []error) {
	var errs []error
	rs := &RuleStrategy{}
	for _, p := range patterns {
		program, err := expr.Compile(p.Match, expr.Env(ruleEnv{}), expr.AsBool())
		if err != nil {
			errs = append(errs, err)
			continue
		}
		rs.rules = append(rs.rules, compiledRule{tool: p.Tool, confidence: p.Confidence, program: program})
	}
	return rs, errs
}

func (s *RuleStrategy) Name() string { return "rule" }

// Select evaluates each compiled rule in declaration order and returns the
// first one whose expression is true, with empty arguments (rules fire on
// a high-precision subset of requests that the caller re-synthesises
// arguments for downstream, typically via the LLM repair pass).
func (s *RuleStrategy) Select(ctx context.Context, req models.DiscoveryRequest, candidates []models.Tool) (*models.SelectedTool, []string, error) {
	env := ruleEnv{Text: strings.ToLower(req.Text), Context: req.Context}
	for _, r := range s.rules {
		out, err := expr.Run(r.program, env)
		if err != nil {
			continue
		}
		matched, ok := out.(bool)
		if !ok || !matched {
			continue
		}
		return &models.SelectedTool{Name: r.tool, Arguments: map[string]interface{}{}, Confidence: r.confidence},
			[]string{"rule: matched pattern for tool " + r.tool}, nil
	}
	return nil, []string{"rule: no pattern matched"}, nil
}
