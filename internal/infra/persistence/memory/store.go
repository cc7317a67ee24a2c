// Package memory provides the in-memory transactional store that every
// durable backend builds upon. State is copy-on-write: a transaction works on
// a cloned state and the store swaps the clone in on commit, so change
// detection is structural and subscribers never observe partial mutations.
package memory

import (
	"context"
	"fmt"
	"sync"
	"time"

	"tallycore/pkg/domain"
)

type memoryState struct {
	expenses  map[string]domain.Expense
	prospects map[string]domain.Prospect
	favorites map[string]domain.Favorite // keyed by Favorite.Key
}

func newMemoryState() memoryState {
	return memoryState{
		expenses:  map[string]domain.Expense{},
		prospects: map[string]domain.Prospect{},
		favorites: map[string]domain.Favorite{},
	}
}

func (s memoryState) clone() memoryState {
	cloned := newMemoryState()
	for k, v := range s.expenses {
		cloned.expenses[k] = cloneExpense(v)
	}
	for k, v := range s.prospects {
		cloned.prospects[k] = v
	}
	for k, v := range s.favorites {
		cloned.favorites[k] = v
	}
	return cloned
}

func cloneExpense(e domain.Expense) domain.Expense {
	cp := e
	if e.Note != nil {
		note := *e.Note
		cp.Note = &note
	}
	return cp
}

// Snapshot is the serialisable representation of the in-memory state.
type Snapshot struct {
	Expenses  map[string]domain.Expense  `json:"expenses"`
	Prospects map[string]domain.Prospect `json:"prospects"`
	Favorites map[string]domain.Favorite `json:"favorites"`
}

// Store is an in-memory transactional store for the tracker domain.
type Store struct {
	mu     sync.RWMutex
	state  memoryState
	engine *domain.CheckEngine
	hub    *domain.Hub
	nowFn  func() time.Time
}

// NewStore constructs an in-memory store backed by the provided check engine.
// A nil engine means no checks run.
func NewStore(engine *domain.CheckEngine) *Store {
	if engine == nil {
		engine = domain.NewCheckEngine()
	}
	return &Store{
		state:  newMemoryState(),
		engine: engine,
		hub:    domain.NewHub(0),
		nowFn:  func() time.Time { return time.Now().UTC() },
	}
}

// Events returns the hub announcing committed transactions.
func (s *Store) Events() *domain.Hub { return s.hub }

// SetNowFunc overrides the clock used for record timestamps. Intended for tests.
func (s *Store) SetNowFunc(fn func() time.Time) {
	if fn != nil {
		s.nowFn = fn
	}
}

// Tx represents a mutation set applied to the store state.
type Tx struct {
	state   memoryState
	changes []domain.Change
	now     time.Time
}

// View exposes a read-only snapshot of transactional state.
type View struct {
	state *memoryState
}

func newView(state *memoryState) View { return View{state: state} }

// ListExpenses returns all expenses within the snapshot.
func (v View) ListExpenses() []domain.Expense {
	out := make([]domain.Expense, 0, len(v.state.expenses))
	for _, e := range v.state.expenses {
		out = append(out, cloneExpense(e))
	}
	return out
}

// ListProspects returns all prospects within the snapshot.
func (v View) ListProspects() []domain.Prospect {
	out := make([]domain.Prospect, 0, len(v.state.prospects))
	for _, p := range v.state.prospects {
		out = append(out, p)
	}
	return out
}

// ListFavorites returns all favorites within the snapshot.
func (v View) ListFavorites() []domain.Favorite {
	out := make([]domain.Favorite, 0, len(v.state.favorites))
	for _, f := range v.state.favorites {
		out = append(out, f)
	}
	return out
}

// FindExpense retrieves an expense by ID from the snapshot.
func (v View) FindExpense(id string) (domain.Expense, bool) {
	e, ok := v.state.expenses[id]
	if !ok {
		return domain.Expense{}, false
	}
	return cloneExpense(e), true
}

// FindProspect retrieves a prospect by ID from the snapshot.
func (v View) FindProspect(id string) (domain.Prospect, bool) {
	p, ok := v.state.prospects[id]
	return p, ok
}

// ContainsFavorite reports whether key is favorited in the snapshot.
func (v View) ContainsFavorite(key string) bool {
	_, ok := v.state.favorites[key]
	return ok
}

// RunInTransaction executes fn within a transactional copy of the store
// state. On success the clone is committed and a single event carrying the
// change list is published after the commit, outside the store lock.
func (s *Store) RunInTransaction(ctx context.Context, fn func(domain.Transaction) error) (domain.Result, error) {
	s.mu.Lock()

	tx := &Tx{
		state: s.state.clone(),
		now:   s.nowFn(),
	}

	if err := fn(tx); err != nil {
		s.mu.Unlock()
		return domain.Result{}, err
	}

	var result domain.Result
	if s.engine != nil {
		view := newView(&tx.state)
		res, err := s.engine.Evaluate(ctx, view, tx.changes)
		if err != nil {
			s.mu.Unlock()
			return domain.Result{}, err
		}
		result = res
		if res.HasBlocking() {
			s.mu.Unlock()
			return res, domain.CheckViolationError{Result: res}
		}
	}

	s.state = tx.state
	changes := tx.changes
	s.mu.Unlock()

	if len(changes) > 0 {
		s.hub.Publish(changes)
	}
	return result, nil
}

// View executes fn against a read-only snapshot of the store state.
func (s *Store) View(_ context.Context, fn func(domain.TransactionView) error) error {
	s.mu.RLock()
	snapshot := s.state.clone()
	s.mu.RUnlock()
	view := newView(&snapshot)
	return fn(view)
}

func (tx *Tx) recordChange(change domain.Change) {
	tx.changes = append(tx.changes, change)
}

// Snapshot returns a read-only view of the transactional state.
func (tx *Tx) Snapshot() domain.TransactionView {
	return newView(&tx.state)
}

// AddExpense stores a new expense within the transaction.
func (tx *Tx) AddExpense(e domain.Expense) (domain.Expense, error) {
	if e.ID == "" {
		e.ID = domain.NewID()
	}
	if _, exists := tx.state.expenses[e.ID]; exists {
		return domain.Expense{}, fmt.Errorf("expense %q already exists", e.ID)
	}
	e.CreatedAt = tx.now
	e.UpdatedAt = tx.now
	tx.state.expenses[e.ID] = cloneExpense(e)
	tx.recordChange(domain.Change{Entity: domain.EntityExpense, Action: domain.ActionCreate, After: cloneExpense(e)})
	return cloneExpense(e), nil
}

// UpdateExpense replaces an expense using the provided mutator function.
func (tx *Tx) UpdateExpense(id string, mutator func(*domain.Expense) error) (domain.Expense, error) {
	current, ok := tx.state.expenses[id]
	if !ok {
		return domain.Expense{}, domain.NotFoundError{Entity: domain.EntityExpense, ID: id}
	}
	before := cloneExpense(current)
	if err := mutator(&current); err != nil {
		return domain.Expense{}, err
	}
	current.ID = id
	current.UpdatedAt = tx.now
	tx.state.expenses[id] = cloneExpense(current)
	tx.recordChange(domain.Change{Entity: domain.EntityExpense, Action: domain.ActionUpdate, Before: before, After: cloneExpense(current)})
	return cloneExpense(current), nil
}

// RemoveExpense deletes an expense. Removing an absent ID is a silent no-op;
// the return value reports whether anything was removed.
func (tx *Tx) RemoveExpense(id string) bool {
	current, ok := tx.state.expenses[id]
	if !ok {
		return false
	}
	delete(tx.state.expenses, id)
	tx.recordChange(domain.Change{Entity: domain.EntityExpense, Action: domain.ActionDelete, Before: cloneExpense(current)})
	return true
}

// AddProspect stores a new prospect within the transaction.
func (tx *Tx) AddProspect(p domain.Prospect) (domain.Prospect, error) {
	if p.ID == "" {
		p.ID = domain.NewID()
	}
	if _, exists := tx.state.prospects[p.ID]; exists {
		return domain.Prospect{}, fmt.Errorf("prospect %q already exists", p.ID)
	}
	p.CreatedAt = tx.now
	p.UpdatedAt = tx.now
	tx.state.prospects[p.ID] = p
	tx.recordChange(domain.Change{Entity: domain.EntityProspect, Action: domain.ActionCreate, After: p})
	return p, nil
}

// UpdateProspect replaces a prospect using the provided mutator function.
func (tx *Tx) UpdateProspect(id string, mutator func(*domain.Prospect) error) (domain.Prospect, error) {
	current, ok := tx.state.prospects[id]
	if !ok {
		return domain.Prospect{}, domain.NotFoundError{Entity: domain.EntityProspect, ID: id}
	}
	before := current
	if err := mutator(&current); err != nil {
		return domain.Prospect{}, err
	}
	current.ID = id
	current.UpdatedAt = tx.now
	tx.state.prospects[id] = current
	tx.recordChange(domain.Change{Entity: domain.EntityProspect, Action: domain.ActionUpdate, Before: before, After: current})
	return current, nil
}

// RemoveProspect deletes a prospect; absent IDs are a silent no-op.
func (tx *Tx) RemoveProspect(id string) bool {
	current, ok := tx.state.prospects[id]
	if !ok {
		return false
	}
	delete(tx.state.prospects, id)
	tx.recordChange(domain.Change{Entity: domain.EntityProspect, Action: domain.ActionDelete, Before: current})
	return true
}

// ToggleProspectContacted flips exactly the Contacted field of an existing
// prospect. The store is the single choke point for this flip; no caller can
// mutate a stored prospect in place and skip change signaling.
func (tx *Tx) ToggleProspectContacted(id string) (domain.Prospect, error) {
	return tx.UpdateProspect(id, func(p *domain.Prospect) error {
		p.Contacted = !p.Contacted
		return nil
	})
}

// ToggleFavorite adds key to the favorites set when absent and removes it when
// present. Returns true when the key ends up favorited.
func (tx *Tx) ToggleFavorite(key string) (bool, error) {
	if key == "" {
		return false, fmt.Errorf("favorite key must not be empty")
	}
	if current, ok := tx.state.favorites[key]; ok {
		delete(tx.state.favorites, key)
		tx.recordChange(domain.Change{Entity: domain.EntityFavorite, Action: domain.ActionDelete, Before: current})
		return false, nil
	}
	fav := domain.Favorite{Key: key}
	fav.ID = domain.NewID()
	fav.CreatedAt = tx.now
	fav.UpdatedAt = tx.now
	tx.state.favorites[key] = fav
	tx.recordChange(domain.Change{Entity: domain.EntityFavorite, Action: domain.ActionCreate, After: fav})
	return true, nil
}

// RemoveFavorite deletes key from the favorites set; absent keys are a silent
// no-op.
func (tx *Tx) RemoveFavorite(key string) bool {
	current, ok := tx.state.favorites[key]
	if !ok {
		return false
	}
	delete(tx.state.favorites, key)
	tx.recordChange(domain.Change{Entity: domain.EntityFavorite, Action: domain.ActionDelete, Before: current})
	return true
}

// Read helpers ---------------------------------------------------------------

// GetExpense retrieves an expense by ID from committed state.
func (s *Store) GetExpense(id string) (domain.Expense, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.state.expenses[id]
	if !ok {
		return domain.Expense{}, false
	}
	return cloneExpense(e), true
}

// ListExpenses returns all expenses from committed state.
func (s *Store) ListExpenses() []domain.Expense {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]domain.Expense, 0, len(s.state.expenses))
	for _, e := range s.state.expenses {
		out = append(out, cloneExpense(e))
	}
	return out
}

// ContainsExpense reports whether an expense with the given ID is committed.
func (s *Store) ContainsExpense(id string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.state.expenses[id]
	return ok
}

// GetProspect retrieves a prospect by ID from committed state.
func (s *Store) GetProspect(id string) (domain.Prospect, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.state.prospects[id]
	return p, ok
}

// ListProspects returns all prospects from committed state.
func (s *Store) ListProspects() []domain.Prospect {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]domain.Prospect, 0, len(s.state.prospects))
	for _, p := range s.state.prospects {
		out = append(out, p)
	}
	return out
}

// ContainsProspect reports whether a prospect with the given ID is committed.
func (s *Store) ContainsProspect(id string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.state.prospects[id]
	return ok
}

// ListFavorites returns all favorites from committed state.
func (s *Store) ListFavorites() []domain.Favorite {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]domain.Favorite, 0, len(s.state.favorites))
	for _, f := range s.state.favorites {
		out = append(out, f)
	}
	return out
}

// ContainsFavorite reports whether key is favorited in committed state.
func (s *Store) ContainsFavorite(key string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.state.favorites[key]
	return ok
}

// ExportState returns a serialisable snapshot of committed state.
func (s *Store) ExportState() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	snap := Snapshot{
		Expenses:  make(map[string]domain.Expense, len(s.state.expenses)),
		Prospects: make(map[string]domain.Prospect, len(s.state.prospects)),
		Favorites: make(map[string]domain.Favorite, len(s.state.favorites)),
	}
	for k, v := range s.state.expenses {
		snap.Expenses[k] = cloneExpense(v)
	}
	for k, v := range s.state.prospects {
		snap.Prospects[k] = v
	}
	for k, v := range s.state.favorites {
		snap.Favorites[k] = v
	}
	return snap
}

// ImportState replaces committed state with the snapshot contents and
// publishes a reload event so observers re-read derived views.
func (s *Store) ImportState(snap Snapshot) {
	s.mu.Lock()
	state := newMemoryState()
	for k, v := range snap.Expenses {
		state.expenses[k] = cloneExpense(v)
	}
	for k, v := range snap.Prospects {
		state.prospects[k] = v
	}
	for k, v := range snap.Favorites {
		state.favorites[k] = v
	}
	s.state = state
	s.mu.Unlock()

	s.hub.Publish(nil)
}

var _ domain.PersistentStore = (*Store)(nil)
var _ domain.Transaction = (*Tx)(nil)
var _ domain.TransactionView = View{}
