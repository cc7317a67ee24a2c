package domain

import (
	"context"
	"fmt"
	"strings"
)

// Check defines an evaluation executed within a transaction boundary.
// Checks see the post-mutation snapshot plus the accumulated change list and
// report violations; a blocking violation aborts the commit.
type Check interface {
	Name() string
	Evaluate(ctx context.Context, view TransactionView, changes []Change) (Result, error)
}

// CheckEngine orchestrates check evaluation.
type CheckEngine struct {
	checks []Check
}

// NewCheckEngine constructs an empty engine. Entities carry no validation of
// their own; callers opt in to policy by registering checks.
func NewCheckEngine() *CheckEngine {
	return &CheckEngine{}
}

// NewDefaultCheckEngine builds an engine with the built-in policy set.
func NewDefaultCheckEngine() *CheckEngine {
	engine := NewCheckEngine()
	engine.Register(NewExpenseAmountCheck())
	engine.Register(NewProspectEmailCheck())
	return engine
}

// Register appends a check to the engine.
func (e *CheckEngine) Register(check Check) {
	e.checks = append(e.checks, check)
}

// Evaluate executes all registered checks and aggregates their results.
func (e *CheckEngine) Evaluate(ctx context.Context, view TransactionView, changes []Change) (Result, error) {
	var combined Result
	for _, check := range e.checks {
		res, err := check.Evaluate(ctx, view, changes)
		if err != nil {
			return Result{}, err
		}
		combined.Merge(res)
	}
	return combined, nil
}

type expenseAmountCheck struct{}

// NewExpenseAmountCheck blocks commits that would store an expense with a
// negative amount.
func NewExpenseAmountCheck() Check { return expenseAmountCheck{} }

func (expenseAmountCheck) Name() string { return "expense_amount_non_negative" }

func (expenseAmountCheck) Evaluate(_ context.Context, _ TransactionView, changes []Change) (Result, error) {
	var res Result
	for _, change := range changes {
		if change.Entity != EntityExpense || change.Action == ActionDelete {
			continue
		}
		expense, ok := change.After.(Expense)
		if !ok {
			continue
		}
		if expense.Amount < 0 {
			res.Violations = append(res.Violations, Violation{
				Check:    "expense_amount_non_negative",
				Severity: SeverityBlock,
				Message:  fmt.Sprintf("expense %q has negative amount %.2f", expense.Name, expense.Amount),
				Entity:   EntityExpense,
				EntityID: expense.ID,
			})
		}
	}
	return res, nil
}

type prospectEmailCheck struct{}

// NewProspectEmailCheck warns when a prospect is stored without an email
// address. The commit still goes through.
func NewProspectEmailCheck() Check { return prospectEmailCheck{} }

func (prospectEmailCheck) Name() string { return "prospect_email_present" }

func (prospectEmailCheck) Evaluate(_ context.Context, _ TransactionView, changes []Change) (Result, error) {
	var res Result
	for _, change := range changes {
		if change.Entity != EntityProspect || change.Action == ActionDelete {
			continue
		}
		prospect, ok := change.After.(Prospect)
		if !ok {
			continue
		}
		if strings.TrimSpace(prospect.Email) == "" {
			res.Violations = append(res.Violations, Violation{
				Check:    "prospect_email_present",
				Severity: SeverityWarn,
				Message:  fmt.Sprintf("prospect %q has no email", prospect.Name),
				Entity:   EntityProspect,
				EntityID: prospect.ID,
			})
		}
	}
	return res, nil
}
