// Package domain defines the persistent entities, change records, check
// primitives, and persistence contracts used by tallycore.
package domain

import (
	"time"

	"github.com/google/uuid"
)

// EntityType identifies the type of record stored in the core domain.
type EntityType string

// Supported entity type identifiers used in Change records and persistence buckets.
const (
	// EntityExpense identifies an expense item record.
	EntityExpense EntityType = "expense"
	// EntityProspect identifies a prospect record.
	EntityProspect EntityType = "prospect"
	// EntityFavorite identifies a favorited-key record.
	EntityFavorite EntityType = "favorite"
)

// ExpenseKind partitions expenses the way the tracker surfaces them.
type ExpenseKind string

// Canonical expense kinds.
const (
	ExpensePersonal ExpenseKind = "personal"
	ExpenseBusiness ExpenseKind = "business"
)

// Base contains common fields for all domain records.
type Base struct {
	ID        string    `json:"id"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Expense represents a single tracked expense item.
type Expense struct {
	Base
	Name   string      `json:"name"`
	Kind   ExpenseKind `json:"kind"`
	Amount float64     `json:"amount"`
	Note   *string     `json:"note,omitempty"`
}

// Prospect represents a contact whose outreach state is tracked.
type Prospect struct {
	Base
	Name      string `json:"name"`
	Email     string `json:"email"`
	Contacted bool   `json:"contacted"`
}

// Favorite marks an external key (for example a resort or article id) as
// favorited. Membership is de-duplicated by Key, not by ID.
type Favorite struct {
	Base
	Key string `json:"key"`
}

// NewID returns a fresh entity identifier. Identifiers are generated once at
// creation and never reassigned.
func NewID() string {
	return uuid.NewString()
}
