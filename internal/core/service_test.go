package core

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"tallycore/internal/infra/persistence/memory"
	"tallycore/pkg/domain"
)

type metricsCall struct {
	operation string
	success   bool
	duration  time.Duration
}

type captureMetrics struct {
	mu    sync.Mutex
	calls []metricsCall
}

func (m *captureMetrics) Observe(_ context.Context, operation string, success bool, duration time.Duration) {
	m.mu.Lock()
	m.calls = append(m.calls, metricsCall{operation: operation, success: success, duration: duration})
	m.mu.Unlock()
}

func (m *captureMetrics) last(t *testing.T) metricsCall {
	t.Helper()
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.calls) == 0 {
		t.Fatalf("expected at least one metrics observation")
	}
	return m.calls[len(m.calls)-1]
}

type spanRecord struct {
	operation string
	err       error
	ended     bool
}

type captureTracer struct {
	mu    sync.Mutex
	spans []*spanRecord
}

func (tr *captureTracer) Start(ctx context.Context, operation string) (context.Context, TraceSpan) {
	rec := &spanRecord{operation: operation}
	tr.mu.Lock()
	tr.spans = append(tr.spans, rec)
	tr.mu.Unlock()
	return ctx, captureSpan{rec: rec}
}

type captureSpan struct {
	rec *spanRecord
}

func (s captureSpan) End(err error) {
	s.rec.err = err
	s.rec.ended = true
}

// steppingClock advances a fixed amount per Now call so operation durations
// are deterministic.
func steppingClock(step time.Duration) Clock {
	base := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	var mu sync.Mutex
	var ticks int
	return ClockFunc(func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		now := base.Add(time.Duration(ticks) * step)
		ticks++
		return now
	})
}

func newTestService(t *testing.T, engine *CheckEngine) (*Service, *captureMetrics, *captureTracer) {
	t.Helper()
	metrics := &captureMetrics{}
	tracer := &captureTracer{}
	svc := NewService(memory.NewStore(engine),
		WithMetricsRecorder(metrics),
		WithTracer(tracer),
		WithClock(steppingClock(5*time.Millisecond)),
	)
	return svc, metrics, tracer
}

func TestAddExpenseRecordsMetricsAndTrace(t *testing.T) {
	svc, metrics, tracer := newTestService(t, nil)

	created, res, err := svc.AddExpense(context.Background(), Expense{Name: "Coffee", Kind: ExpensePersonal, Amount: 3.50})
	if err != nil {
		t.Fatalf("AddExpense: %v", err)
	}
	if created.ID == "" {
		t.Fatalf("expected generated ID")
	}
	if len(res.Violations) != 0 {
		t.Fatalf("unexpected violations: %v", res.Violations)
	}

	call := metrics.last(t)
	if call.operation != "add_expense" {
		t.Fatalf("operation = %q, want add_expense", call.operation)
	}
	if !call.success {
		t.Fatalf("expected success observation")
	}
	if call.duration != 5*time.Millisecond {
		t.Fatalf("duration = %v, want 5ms", call.duration)
	}

	if len(tracer.spans) != 1 {
		t.Fatalf("spans = %d, want 1", len(tracer.spans))
	}
	span := tracer.spans[0]
	if span.operation != "add_expense" || !span.ended || span.err != nil {
		t.Fatalf("unexpected span: %+v", span)
	}
}

func TestUpdateExpenseMissingSurfacesNotFound(t *testing.T) {
	svc, metrics, tracer := newTestService(t, nil)

	_, _, err := svc.UpdateExpense(context.Background(), "no-such-id", func(e *Expense) error {
		e.Amount = 9
		return nil
	})
	if err == nil {
		t.Fatalf("expected error for missing expense")
	}
	var nf domain.NotFoundError
	if !errors.As(err, &nf) {
		t.Fatalf("expected NotFoundError, got %v", err)
	}
	if nf.Entity != EntityExpense {
		t.Fatalf("entity = %s, want expense", nf.Entity)
	}

	call := metrics.last(t)
	if call.operation != "update_expense" || call.success {
		t.Fatalf("unexpected metrics observation: %+v", call)
	}
	if span := tracer.spans[len(tracer.spans)-1]; span.err == nil || !span.ended {
		t.Fatalf("expected ended span carrying the error")
	}
}

func TestBlockingViolationAbortsCommit(t *testing.T) {
	svc, metrics, _ := newTestService(t, NewDefaultCheckEngine())

	_, res, err := svc.AddExpense(context.Background(), Expense{Name: "Refund gone wrong", Kind: ExpensePersonal, Amount: -12})
	if err == nil {
		t.Fatalf("expected blocking violation error")
	}
	var cv CheckViolationError
	if !errors.As(err, &cv) {
		t.Fatalf("expected CheckViolationError, got %v", err)
	}
	if !res.HasBlocking() {
		t.Fatalf("expected blocking violation in result")
	}
	if got := len(svc.FilteredExpenses("")); got != 0 {
		t.Fatalf("expected no committed expenses, got %d", got)
	}
	if call := metrics.last(t); call.success {
		t.Fatalf("blocked commit should observe as error")
	}
}

func TestWarnViolationStillCommits(t *testing.T) {
	svc, _, _ := newTestService(t, NewDefaultCheckEngine())

	created, res, err := svc.AddProspect(context.Background(), Prospect{Name: "Ada"})
	if err != nil {
		t.Fatalf("AddProspect: %v", err)
	}
	if len(res.Violations) != 1 {
		t.Fatalf("violations = %d, want 1", len(res.Violations))
	}
	if res.Violations[0].Severity != SeverityWarn {
		t.Fatalf("severity = %s, want warn", res.Violations[0].Severity)
	}
	if !svc.ContainsProspect(created.ID) {
		t.Fatalf("warn violation must not abort the commit")
	}
}

func TestRemoveAbsentIsNoOp(t *testing.T) {
	svc, metrics, _ := newTestService(t, nil)

	removed, _, err := svc.RemoveExpense(context.Background(), "missing")
	if err != nil {
		t.Fatalf("RemoveExpense: %v", err)
	}
	if removed {
		t.Fatalf("removing an absent expense must report false")
	}
	if call := metrics.last(t); !call.success {
		t.Fatalf("no-op removal should still observe success")
	}

	removed, _, err = svc.RemoveProspect(context.Background(), "missing")
	if err != nil || removed {
		t.Fatalf("RemoveProspect absent: removed=%v err=%v", removed, err)
	}
	removed, _, err = svc.RemoveFavorite(context.Background(), "missing")
	if err != nil || removed {
		t.Fatalf("RemoveFavorite absent: removed=%v err=%v", removed, err)
	}
}

func TestToggleFavoriteFlipsMembership(t *testing.T) {
	svc, _, _ := newTestService(t, nil)
	ctx := context.Background()

	on, _, err := svc.ToggleFavorite(ctx, "resort:42")
	if err != nil || !on {
		t.Fatalf("first toggle: on=%v err=%v", on, err)
	}
	if !svc.ContainsFavorite("resort:42") {
		t.Fatalf("expected key favorited after first toggle")
	}

	on, _, err = svc.ToggleFavorite(ctx, "resort:42")
	if err != nil || on {
		t.Fatalf("second toggle: on=%v err=%v", on, err)
	}
	if svc.ContainsFavorite("resort:42") {
		t.Fatalf("expected key cleared after second toggle")
	}

	if _, _, err := svc.ToggleFavorite(ctx, "resort:42"); err != nil {
		t.Fatalf("third toggle: %v", err)
	}
	removed, _, err := svc.RemoveFavorite(ctx, "resort:42")
	if err != nil || !removed {
		t.Fatalf("RemoveFavorite: removed=%v err=%v", removed, err)
	}
}

func TestToggleProspectContacted(t *testing.T) {
	svc, _, _ := newTestService(t, nil)
	ctx := context.Background()

	created, _, err := svc.AddProspect(ctx, Prospect{Name: "Grace", Email: "grace@example.com"})
	if err != nil {
		t.Fatalf("AddProspect: %v", err)
	}
	toggled, _, err := svc.ToggleProspectContacted(ctx, created.ID)
	if err != nil {
		t.Fatalf("ToggleProspectContacted: %v", err)
	}
	if !toggled.Contacted {
		t.Fatalf("expected contacted=true after toggle")
	}
	toggled, _, err = svc.ToggleProspectContacted(ctx, created.ID)
	if err != nil || toggled.Contacted {
		t.Fatalf("second toggle: contacted=%v err=%v", toggled.Contacted, err)
	}

	_, _, err = svc.ToggleProspectContacted(ctx, "missing")
	var nf domain.NotFoundError
	if !errors.As(err, &nf) {
		t.Fatalf("expected NotFoundError for missing prospect, got %v", err)
	}
}

func TestEventsPublishedAfterCommit(t *testing.T) {
	svc, _, _ := newTestService(t, nil)

	var mu sync.Mutex
	var seen []Event
	unsubscribe := svc.Events().Subscribe(func(ev Event) {
		mu.Lock()
		seen = append(seen, ev)
		mu.Unlock()
	})
	defer unsubscribe()

	created, _, err := svc.AddExpense(context.Background(), Expense{Name: "Taxi", Kind: ExpenseBusiness, Amount: 18})
	if err != nil {
		t.Fatalf("AddExpense: %v", err)
	}

	mu.Lock()
	defer mu.Unlock()
	if len(seen) != 1 {
		t.Fatalf("events = %d, want 1", len(seen))
	}
	if len(seen[0].Changes) != 1 {
		t.Fatalf("unexpected event payload: %+v", seen[0])
	}
	change := seen[0].Changes[0]
	if change.Entity != EntityExpense || change.Action != ActionCreate {
		t.Fatalf("unexpected change: %+v", change)
	}
	if after, ok := change.After.(Expense); !ok || after.ID != created.ID {
		t.Fatalf("change.After = %+v, want created expense", change.After)
	}
	// The handler runs after commit, so the entity is already visible.
	if !svc.ContainsExpense(created.ID) {
		t.Fatalf("expected committed expense visible to subscribers")
	}
}
