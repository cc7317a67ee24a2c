package domain

import "context"

// Transaction exposes the domain operations that a persistence implementation
// must support within an atomic scope.
type Transaction interface {
	Snapshot() TransactionView
	AddExpense(Expense) (Expense, error)
	UpdateExpense(id string, mutator func(*Expense) error) (Expense, error)
	RemoveExpense(id string) bool
	AddProspect(Prospect) (Prospect, error)
	UpdateProspect(id string, mutator func(*Prospect) error) (Prospect, error)
	RemoveProspect(id string) bool
	ToggleProspectContacted(id string) (Prospect, error)
	ToggleFavorite(key string) (favorited bool, err error)
	RemoveFavorite(key string) bool
}

// TransactionView provides read-only access to snapshot data for checks and
// derived views.
type TransactionView interface {
	ListExpenses() []Expense
	ListProspects() []Prospect
	ListFavorites() []Favorite
	FindExpense(id string) (Expense, bool)
	FindProspect(id string) (Prospect, bool)
	ContainsFavorite(key string) bool
}

// PersistentStore is a minimal abstraction over durable backends. It mirrors
// the subset of store capabilities used directly by higher layers.
type PersistentStore interface {
	RunInTransaction(ctx context.Context, fn func(Transaction) error) (Result, error)
	View(ctx context.Context, fn func(TransactionView) error) error
	GetExpense(id string) (Expense, bool)
	ListExpenses() []Expense
	ContainsExpense(id string) bool
	GetProspect(id string) (Prospect, bool)
	ListProspects() []Prospect
	ContainsProspect(id string) bool
	ListFavorites() []Favorite
	ContainsFavorite(key string) bool
	Events() *Hub
}
