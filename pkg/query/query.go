// Package query evaluates user-supplied filter expressions against tracker
// entities. Expressions are compiled once and cached, then run per entity
// with the entity's fields exposed as variables.
//
// Examples:
//
//	amount > 10 && kind == "business"
//	contacted && hasPrefix(email, "sales@")
package query

import (
	"fmt"
	"sync"

	exprlang "github.com/expr-lang/expr"
	exprvm "github.com/expr-lang/expr/vm"

	"tallycore/pkg/domain"
)

// Engine compiles and caches filter expressions.
type Engine struct {
	mu    sync.Mutex
	cache map[string]*exprvm.Program
}

// NewEngine returns an Engine with an empty program cache.
func NewEngine() *Engine {
	return &Engine{cache: make(map[string]*exprvm.Program)}
}

func (e *Engine) loadOrCompile(expression string) (*exprvm.Program, error) {
	if expression == "" {
		return nil, fmt.Errorf("expression must not be empty")
	}
	e.mu.Lock()
	program, ok := e.cache[expression]
	e.mu.Unlock()
	if ok {
		return program, nil
	}
	program, err := exprlang.Compile(expression,
		exprlang.Env(map[string]any{}),
		exprlang.AllowUndefinedVariables(),
		exprlang.AsBool(),
	)
	if err != nil {
		return nil, fmt.Errorf("compile %q: %w", expression, err)
	}
	e.mu.Lock()
	e.cache[expression] = program
	e.mu.Unlock()
	return program, nil
}

func (e *Engine) matches(program *exprvm.Program, env map[string]any) (bool, error) {
	out, err := exprlang.Run(program, env)
	if err != nil {
		return false, err
	}
	b, ok := out.(bool)
	if !ok {
		return false, fmt.Errorf("expression did not evaluate to bool, got %T", out)
	}
	return b, nil
}

// ExpenseEnv exposes an expense's fields as expression variables.
func ExpenseEnv(e domain.Expense) map[string]any {
	env := map[string]any{
		"id":         e.ID,
		"name":       e.Name,
		"kind":       string(e.Kind),
		"amount":     e.Amount,
		"note":       "",
		"created_at": e.CreatedAt,
		"updated_at": e.UpdatedAt,
	}
	if e.Note != nil {
		env["note"] = *e.Note
	}
	return env
}

// ProspectEnv exposes a prospect's fields as expression variables.
func ProspectEnv(p domain.Prospect) map[string]any {
	return map[string]any{
		"id":         p.ID,
		"name":       p.Name,
		"email":      p.Email,
		"contacted":  p.Contacted,
		"created_at": p.CreatedAt,
		"updated_at": p.UpdatedAt,
	}
}

// FilterExpenses returns the expenses matching expression, preserving input order.
func (e *Engine) FilterExpenses(expression string, in []domain.Expense) ([]domain.Expense, error) {
	program, err := e.loadOrCompile(expression)
	if err != nil {
		return nil, err
	}
	out := make([]domain.Expense, 0, len(in))
	for _, item := range in {
		ok, err := e.matches(program, ExpenseEnv(item))
		if err != nil {
			return nil, fmt.Errorf("evaluate %q: %w", expression, err)
		}
		if ok {
			out = append(out, item)
		}
	}
	return out, nil
}

// FilterProspects returns the prospects matching expression, preserving input order.
func (e *Engine) FilterProspects(expression string, in []domain.Prospect) ([]domain.Prospect, error) {
	program, err := e.loadOrCompile(expression)
	if err != nil {
		return nil, err
	}
	out := make([]domain.Prospect, 0, len(in))
	for _, item := range in {
		ok, err := e.matches(program, ProspectEnv(item))
		if err != nil {
			return nil, fmt.Errorf("evaluate %q: %w", expression, err)
		}
		if ok {
			out = append(out, item)
		}
	}
	return out, nil
}
