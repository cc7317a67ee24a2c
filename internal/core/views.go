package core

import (
	"sort"
	"strings"
)

// Derived views are pure projections recomputed on every read. Nothing here
// caches: the committed collection is the single source of truth and callers
// re-run the projection after each change notification.

// SortExpensesNewestFirst orders expenses by creation time descending with ID
// as the tie-break, giving list UIs the newest-entry-on-top convention.
func SortExpensesNewestFirst(items []Expense) []Expense {
	out := append([]Expense(nil), items...)
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// FilterExpensesByName keeps expenses whose name contains criterion,
// case-insensitively. An empty criterion keeps everything.
func FilterExpensesByName(items []Expense, criterion string) []Expense {
	if criterion == "" {
		return append([]Expense(nil), items...)
	}
	needle := strings.ToLower(criterion)
	out := make([]Expense, 0, len(items))
	for _, e := range items {
		if strings.Contains(strings.ToLower(e.Name), needle) {
			out = append(out, e)
		}
	}
	return out
}

// FilterExpensesByKind keeps expenses of the given kind.
func FilterExpensesByKind(items []Expense, kind ExpenseKind) []Expense {
	out := make([]Expense, 0, len(items))
	for _, e := range items {
		if e.Kind == kind {
			out = append(out, e)
		}
	}
	return out
}

// FilterProspectsByContacted keeps prospects whose contacted flag equals the
// argument.
func FilterProspectsByContacted(items []Prospect, contacted bool) []Prospect {
	out := make([]Prospect, 0, len(items))
	for _, p := range items {
		if p.Contacted == contacted {
			out = append(out, p)
		}
	}
	return out
}

// SortProspectsByName orders prospects by name ascending, breaking ties on
// email.
func SortProspectsByName(items []Prospect) []Prospect {
	out := append([]Prospect(nil), items...)
	sort.Slice(out, func(i, j int) bool {
		if out[i].Name != out[j].Name {
			return out[i].Name < out[j].Name
		}
		return out[i].Email < out[j].Email
	})
	return out
}

// FavoriteKeys returns the favorited keys in ascending order.
func FavoriteKeys(items []Favorite) []string {
	out := make([]string, 0, len(items))
	for _, f := range items {
		out = append(out, f.Key)
	}
	sort.Strings(out)
	return out
}

// FilteredExpenses projects the committed expenses through the name filter,
// newest first.
func (s *Service) FilteredExpenses(criterion string) []Expense {
	return FilterExpensesByName(SortExpensesNewestFirst(s.store.ListExpenses()), criterion)
}

// ExpensesByKind projects the committed expenses of one kind, newest first.
func (s *Service) ExpensesByKind(kind ExpenseKind) []Expense {
	return FilterExpensesByKind(SortExpensesNewestFirst(s.store.ListExpenses()), kind)
}

// ProspectsByContacted projects prospects by contacted state, sorted by name.
func (s *Service) ProspectsByContacted(contacted bool) []Prospect {
	return FilterProspectsByContacted(SortProspectsByName(s.store.ListProspects()), contacted)
}

// SortedProspects projects all prospects sorted by name then email.
func (s *Service) SortedProspects() []Prospect {
	return SortProspectsByName(s.store.ListProspects())
}

// FavoriteKeys projects the favorites set as sorted keys.
func (s *Service) FavoriteKeys() []string {
	return FavoriteKeys(s.store.ListFavorites())
}
