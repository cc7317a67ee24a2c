package domain

import (
	"fmt"
	"testing"
)

func TestHubRecentReturnsNewestFirst(t *testing.T) {
	hub := NewHub(3)
	for i := 1; i <= 5; i++ {
		hub.Publish([]Change{{Entity: EntityExpense, Action: ActionCreate, After: Expense{Name: fmt.Sprintf("e%d", i)}}})
	}

	recent := hub.Recent(3)
	if len(recent) != 3 {
		t.Fatalf("recent = %d, want 3", len(recent))
	}
	if recent[0].Seq != 5 || recent[1].Seq != 4 || recent[2].Seq != 3 {
		t.Fatalf("unexpected sequence order: %d %d %d", recent[0].Seq, recent[1].Seq, recent[2].Seq)
	}

	if got := hub.Recent(10); len(got) != 3 {
		t.Fatalf("recent beyond capacity = %d, want 3", len(got))
	}
	if got := hub.Recent(0); got != nil {
		t.Fatalf("Recent(0) = %v, want nil", got)
	}
}

func TestHubSequenceIsMonotonic(t *testing.T) {
	hub := NewHub(2)
	first := hub.Publish(nil)
	second := hub.Publish(nil)
	if first.Seq != 1 || second.Seq != 2 {
		t.Fatalf("sequences = %d, %d", first.Seq, second.Seq)
	}
	if second.OccurredAt.Before(first.OccurredAt) {
		t.Fatalf("event timestamps went backwards")
	}
}

func TestUnsubscribeStopsDelivery(t *testing.T) {
	hub := NewHub(0)
	var calls int
	unsubscribe := hub.Subscribe(func(Event) { calls++ })

	hub.Publish([]Change{{Entity: EntityFavorite, Action: ActionCreate}})
	if calls != 1 {
		t.Fatalf("calls = %d, want 1", calls)
	}

	unsubscribe()
	hub.Publish([]Change{{Entity: EntityFavorite, Action: ActionDelete}})
	if calls != 1 {
		t.Fatalf("handler ran after unsubscribe")
	}

	unsubscribe() // second call is a no-op
}

func TestSubscribeFilteredByEntity(t *testing.T) {
	hub := NewHub(0)
	var prospectEvents, allEvents int
	hub.SubscribeFiltered(FilterEntity(EntityProspect), func(Event) { prospectEvents++ })
	hub.Subscribe(func(Event) { allEvents++ })

	hub.Publish([]Change{{Entity: EntityExpense, Action: ActionCreate}})
	hub.Publish([]Change{{Entity: EntityProspect, Action: ActionUpdate}})
	hub.Publish([]Change{
		{Entity: EntityExpense, Action: ActionDelete},
		{Entity: EntityProspect, Action: ActionCreate},
	})

	if prospectEvents != 2 {
		t.Fatalf("prospect events = %d, want 2", prospectEvents)
	}
	if allEvents != 3 {
		t.Fatalf("all events = %d, want 3", allEvents)
	}
}

func TestPublishCopiesChangeList(t *testing.T) {
	hub := NewHub(0)
	changes := []Change{{Entity: EntityExpense, Action: ActionCreate}}
	ev := hub.Publish(changes)

	changes[0].Action = ActionDelete
	if ev.Changes[0].Action != ActionCreate {
		t.Fatalf("published event shares the caller's slice")
	}
	if got := hub.Recent(1)[0].Changes[0].Action; got != ActionCreate {
		t.Fatalf("retained event shares the caller's slice")
	}
}
