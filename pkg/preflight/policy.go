package preflight

import (
	"fmt"
	"sync"

	"github.com/google/cel-go/cel"
)

// PolicyCheckName labels the policy verdict in gate results.
const PolicyCheckName CheckName = "fleet_policy"

// Policy holds compiled CEL deny rules evaluated against the check
// outcomes. Rules are deny-only: any rule that evaluates to true blocks
// the operation, and a rule that fails to evaluate blocks it too. A
// policy can never approve an operation a failed check already denied.
type Policy struct {
	env   *cel.Env
	mu    sync.RWMutex
	cache map[string]cel.Program
	rules []string
}

// NewPolicy compiles deny rules. Each rule sees a single "input" map of
// check name to boolean outcome, e.g.
// `input["quorum_evidence"] == false && input["mesh_transport_active"] == false`.
func NewPolicy(rules []string) (*Policy, error) {
	env, err := cel.NewEnv(
		cel.Variable("input", cel.MapType(cel.StringType, cel.DynType)),
	)
	if err != nil {
		return nil, fmt.Errorf("create CEL env: %w", err)
	}
	p := &Policy{
		env:   env,
		cache: make(map[string]cel.Program),
		rules: rules,
	}
	for _, rule := range rules {
		if _, err := p.compile(rule); err != nil {
			return nil, err
		}
	}
	return p, nil
}

func (p *Policy) compile(rule string) (cel.Program, error) {
	p.mu.RLock()
	prg, hit := p.cache[rule]
	p.mu.RUnlock()
	if hit {
		return prg, nil
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if prg, hit = p.cache[rule]; hit {
		return prg, nil
	}
	ast, issues := p.env.Compile(rule)
	if issues != nil && issues.Err() != nil {
		return nil, fmt.Errorf("compile policy rule %q: %w", rule, issues.Err())
	}
	prg, err := p.env.Program(ast)
	if err != nil {
		return nil, fmt.Errorf("build policy rule %q: %w", rule, err)
	}
	p.cache[rule] = prg
	return prg, nil
}

// Evaluate runs every deny rule over the check outcomes. It returns
// false with a detail string as soon as one rule denies or errors.
func (p *Policy) Evaluate(checks []CheckResult) (bool, string) {
	input := make(map[string]interface{}, len(checks))
	for _, c := range checks {
		input[string(c.Name)] = c.Passed
	}
	activation := map[string]interface{}{"input": input}

	for _, rule := range p.rules {
		prg, err := p.compile(rule)
		if err != nil {
			return false, err.Error()
		}
		out, _, err := prg.Eval(activation)
		if err != nil {
			return false, fmt.Sprintf("policy rule %q: %v", rule, err)
		}
		denied, ok := out.Value().(bool)
		if !ok {
			return false, fmt.Sprintf("policy rule %q did not return bool", rule)
		}
		if denied {
			return false, fmt.Sprintf("denied by rule %q", rule)
		}
	}
	return true, ""
}
