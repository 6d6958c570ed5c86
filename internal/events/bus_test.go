package events

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/google/uuid"
)

type memStore struct {
	inserted []Event
	err      error
}

func (m *memStore) InsertEvent(ctx context.Context, ev Event) (Event, error) {
	if m.err != nil {
		return Event{}, m.err
	}
	m.inserted = append(m.inserted, ev)
	return ev, nil
}

type recordingNotifier struct {
	seen []Event
	err  error
}

func (n *recordingNotifier) Notify(ctx context.Context, ev Event) error {
	n.seen = append(n.seen, ev)
	return n.err
}

func TestEmitPersistsAndNotifies(t *testing.T) {
	store := &memStore{}
	notifier := &recordingNotifier{}
	bus := &Bus{Store: store, Notifiers: []Notifier{notifier}}

	ev, err := bus.Emit(context.Background(), TopicCartUpdated, uuid.New(), map[string]any{"total": 1200})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(store.inserted) != 1 {
		t.Fatalf("expected one persisted event, got %d", len(store.inserted))
	}
	if len(notifier.seen) != 1 || notifier.seen[0].Topic != TopicCartUpdated {
		t.Fatalf("notifier did not observe the event: %+v", notifier.seen)
	}
	if !json.Valid(ev.Payload) {
		t.Fatal("payload must be valid json")
	}
}

func TestEmitRequiresTopicAndAggregate(t *testing.T) {
	bus := &Bus{Store: &memStore{}}
	if _, err := bus.Emit(context.Background(), "  ", uuid.New(), nil); err == nil {
		t.Fatal("expected error for blank topic")
	}
	if _, err := bus.Emit(context.Background(), TopicCartUpdated, uuid.Nil, nil); err == nil {
		t.Fatal("expected error for nil aggregate id")
	}
}

func TestEmitNotifierFailureDoesNotDropEvent(t *testing.T) {
	store := &memStore{}
	bus := &Bus{Store: store, Notifiers: []Notifier{&recordingNotifier{err: errors.New("boom")}}}

	_, err := bus.Emit(context.Background(), TopicPromotionApplied, uuid.New(), nil)
	if err == nil {
		t.Fatal("expected joined notifier error")
	}
	if len(store.inserted) != 1 {
		t.Fatal("event must persist even when a notifier fails")
	}
}

func TestEmitRejectsInvalidRawPayload(t *testing.T) {
	bus := &Bus{Store: &memStore{}}
	if _, err := bus.Emit(context.Background(), TopicCartUpdated, uuid.New(), []byte("{broken")); err == nil {
		t.Fatal("expected error for invalid json payload")
	}
}
