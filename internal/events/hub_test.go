package events

import (
	"sync"
	"testing"
)

func TestHubPublishToSubscribers(t *testing.T) {
	hub := NewHub(4)

	a := hub.Subscribe("s1")
	b := hub.Subscribe("s1")
	other := hub.Subscribe("s2")

	hub.Publish("s1", Event{Type: TypeSessionUpdated})

	for name, ch := range map[string]chan Event{"a": a, "b": b} {
		select {
		case event := <-ch:
			if event.Type != TypeSessionUpdated {
				t.Errorf("subscriber %s got %s", name, event.Type)
			}
		default:
			t.Errorf("subscriber %s received nothing", name)
		}
	}

	select {
	case event := <-other:
		t.Errorf("subscriber on another session received %s", event.Type)
	default:
	}
}

func TestHubUnsubscribeClosesChannel(t *testing.T) {
	hub := NewHub(4)
	ch := hub.Subscribe("s1")

	hub.Unsubscribe("s1", ch)

	if _, open := <-ch; open {
		t.Error("unsubscribed channel should be closed")
	}
	if hub.SubscriberCount("s1") != 0 {
		t.Errorf("subscriber count = %d after unsubscribe", hub.SubscriberCount("s1"))
	}

	// Publishing after the last unsubscribe is a no-op.
	hub.Publish("s1", Event{Type: TypeEvidenceAttached})

	// Double unsubscribe must not close twice.
	hub.Unsubscribe("s1", ch)
}

func TestHubSlowSubscriberLosesEvents(t *testing.T) {
	hub := NewHub(1)
	ch := hub.Subscribe("s1")

	hub.Publish("s1", Event{Type: TypeSessionUpdated})
	hub.Publish("s1", Event{Type: TypeAnalysisCompleted})

	first := <-ch
	if first.Type != TypeSessionUpdated {
		t.Errorf("first event = %s", first.Type)
	}
	select {
	case event := <-ch:
		t.Errorf("overflow event %s should have been dropped", event.Type)
	default:
	}
}

func TestHubConcurrentPublish(t *testing.T) {
	hub := NewHub(256)
	ch := hub.Subscribe("s1")

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 16; j++ {
				hub.Publish("s1", Event{Type: TypeEvidenceAttached})
			}
		}()
	}
	wg.Wait()

	if got := len(ch); got != 128 {
		t.Errorf("received %d events, want 128", got)
	}

	hub.Unsubscribe("s1", ch)
}
