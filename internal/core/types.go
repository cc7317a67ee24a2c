// Package core exposes the service layer and derived views over the tracker
// domain, plus storage backend selection and observability wiring.
package core

import "tallycore/pkg/domain"

type (
	EntityType          = domain.EntityType
	ExpenseKind         = domain.ExpenseKind
	Base                = domain.Base
	Expense             = domain.Expense
	Prospect            = domain.Prospect
	Favorite            = domain.Favorite
	Change              = domain.Change
	Action              = domain.Action
	Severity            = domain.Severity
	Violation           = domain.Violation
	Result              = domain.Result
	CheckEngine         = domain.CheckEngine
	CheckViolationError = domain.CheckViolationError
	Event               = domain.Event
	Hub                 = domain.Hub
	Transaction         = domain.Transaction
	TransactionView     = domain.TransactionView
	PersistentStore     = domain.PersistentStore
	PersistenceError    = domain.PersistenceError
	NotFoundError       = domain.NotFoundError
)

const (
	EntityExpense  = domain.EntityExpense
	EntityProspect = domain.EntityProspect
	EntityFavorite = domain.EntityFavorite
)

const (
	ExpensePersonal = domain.ExpensePersonal
	ExpenseBusiness = domain.ExpenseBusiness
)

const (
	ActionCreate = domain.ActionCreate
	ActionUpdate = domain.ActionUpdate
	ActionDelete = domain.ActionDelete
)

const (
	SeverityBlock = domain.SeverityBlock
	SeverityWarn  = domain.SeverityWarn
	SeverityLog   = domain.SeverityLog
)

// NewCheckEngine re-exports the empty engine constructor.
var NewCheckEngine = domain.NewCheckEngine

// NewDefaultCheckEngine re-exports the built-in policy set constructor.
var NewDefaultCheckEngine = domain.NewDefaultCheckEngine
