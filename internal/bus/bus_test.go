package bus

import "testing"

func TestEmitFansOutToAllSubscribers(t *testing.T) {
	b := New()
	var gotA, gotB Event
	b.Subscribe("a", func(e Event) { gotA = e })
	b.Subscribe("b", func(e Event) { gotB = e })

	b.Emit(Event{Name: EventMessageReceived, Fields: map[string]any{"channel": "discord"}})

	if gotA.Name != EventMessageReceived || gotB.Name != EventMessageReceived {
		t.Fatalf("expected both subscribers to receive the event, got %+v %+v", gotA, gotB)
	}
}

func TestUnsubscribeStopsDelivery(t *testing.T) {
	b := New()
	calls := 0
	b.Subscribe("a", func(e Event) { calls++ })
	b.Unsubscribe("a")
	b.Emit(Event{Name: EventAgentRouted})
	if calls != 0 {
		t.Fatalf("expected 0 calls after unsubscribe, got %d", calls)
	}
}

func TestPanickingSubscriberDoesNotAffectOthers(t *testing.T) {
	b := New()
	gotSecond := false
	b.Subscribe("broken", func(e Event) { panic("boom") })
	b.Subscribe("fine", func(e Event) { gotSecond = true })

	b.Emit(Event{Name: EventResponseReady})

	if !gotSecond {
		t.Fatal("expected the second subscriber to still fire despite the first panicking")
	}
}

func TestEmitWithNoSubscribersIsNoop(t *testing.T) {
	b := New()
	b.Emit(Event{Name: EventProcessorStart})
}
