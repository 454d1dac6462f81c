// Package notify evaluates operator-configured rules against inbound
// messages to decide which conversations get flagged in the console.
// Rules are CEL expressions over the message and its conversation; a
// rule that fails to compile or evaluate is logged and skipped, never
// fatal.
package notify

import (
	"log/slog"

	"github.com/google/cel-go/cel"
	"github.com/google/cel-go/common/types"

	"github.com/sanjay8views/whatsapp-bsp-ui-nexus/internal/logging"
	"github.com/sanjay8views/whatsapp-bsp-ui-nexus/internal/model"
)

// Rule is one operator-configured alert rule.
type Rule struct {
	// Name identifies the rule in alerts and logs.
	Name string `yaml:"name"`
	// When is a CEL expression over content, direction, customer_phone
	// and customer_name. A message matching it raises an alert.
	When string `yaml:"when"`
}

type compiledRule struct {
	name    string
	program cel.Program
}

// Engine holds the compiled rule set.
// It is immutable after construction and safe for concurrent use.
type Engine struct {
	rules  []compiledRule
	logger *slog.Logger
}

// NewEngine compiles the rule set. Broken rules are logged and skipped.
func NewEngine(rules []Rule) *Engine {
	logger := logging.Notify()

	env, err := cel.NewEnv(
		cel.Variable("content", cel.StringType),
		cel.Variable("direction", cel.StringType),
		cel.Variable("customer_phone", cel.StringType),
		cel.Variable("customer_name", cel.StringType),
	)
	if err != nil {
		logger.Error("notify rule environment unavailable", "error", err)
		return &Engine{logger: logger}
	}

	e := &Engine{logger: logger}
	for _, r := range rules {
		ast, issues := env.Compile(r.When)
		if issues != nil && issues.Err() != nil {
			logger.Warn("skipping broken notify rule", "rule", r.Name, "error", issues.Err())
			continue
		}
		if ast.OutputType() != cel.BoolType {
			logger.Warn("skipping non-boolean notify rule", "rule", r.Name)
			continue
		}
		program, err := env.Program(ast)
		if err != nil {
			logger.Warn("skipping unprogrammable notify rule", "rule", r.Name, "error", err)
			continue
		}
		e.rules = append(e.rules, compiledRule{name: r.Name, program: program})
	}
	return e
}

// Len returns the number of usable rules.
func (e *Engine) Len() int {
	return len(e.rules)
}

// Match evaluates the rules in order and returns the name of the first
// one the message satisfies.
func (e *Engine) Match(conv model.Conversation, msg model.Message) (string, bool) {
	if len(e.rules) == 0 {
		return "", false
	}

	input := map[string]any{
		"content":        msg.Content,
		"direction":      string(msg.Direction),
		"customer_phone": conv.CustomerPhone,
		"customer_name":  conv.CustomerName,
	}

	for _, r := range e.rules {
		out, _, err := r.program.Eval(input)
		if err != nil {
			e.logger.Warn("notify rule evaluation failed", "rule", r.name, "error", err)
			continue
		}
		if out == types.True {
			return r.name, true
		}
	}
	return "", false
}
