package events

import (
	"testing"
	"time"
)

func TestBusSubscribePublish(t *testing.T) {
	b := NewBus()
	ch, unsub := b.Subscribe(TopicSignal, 4)
	defer unsub()

	want := SignalEvent{Symbol: "ETHUSDT", Direction: "long", Directional: 0.15}
	b.Publish(TopicSignal, want)

	select {
	case got := <-ch:
		ev, ok := got.(SignalEvent)
		if !ok {
			t.Fatalf("unexpected payload type %T", got)
		}
		if ev.Symbol != "ETHUSDT" || ev.Direction != "long" {
			t.Errorf("unexpected event: %+v", ev)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for event")
	}
}

func TestBusDropsWhenSubscriberFull(t *testing.T) {
	b := NewBus()
	ch, unsub := b.Subscribe(TopicOrderFilled, 1)
	defer unsub()

	b.Publish(TopicOrderFilled, OrderEvent{IntentKey: "a"})
	b.Publish(TopicOrderFilled, OrderEvent{IntentKey: "b"}) // dropped, buffer full

	first := <-ch
	if first.(OrderEvent).IntentKey != "a" {
		t.Errorf("expected first event, got %+v", first)
	}
	select {
	case extra := <-ch:
		t.Errorf("expected second publish to be dropped, got %+v", extra)
	default:
	}
}

func TestBusUnsubscribeClosesChannel(t *testing.T) {
	b := NewBus()
	ch, unsub := b.Subscribe(TopicRiskAlert, 1)
	unsub()

	if _, open := <-ch; open {
		t.Error("expected channel closed after unsubscribe")
	}

	// publishing after unsubscribe must not panic
	b.Publish(TopicRiskAlert, RiskEvent{Kind: "breach"})
}

func TestBusFanOut(t *testing.T) {
	b := NewBus()
	ch1, unsub1 := b.Subscribe(TopicHealthChange, 1)
	ch2, unsub2 := b.Subscribe(TopicHealthChange, 1)
	defer unsub1()
	defer unsub2()

	b.Publish(TopicHealthChange, HealthEvent{From: "healthy", To: "degraded"})

	for i, ch := range []<-chan any{ch1, ch2} {
		select {
		case got := <-ch:
			if got.(HealthEvent).To != "degraded" {
				t.Errorf("subscriber %d: unexpected event %+v", i, got)
			}
		case <-time.After(time.Second):
			t.Fatalf("subscriber %d: timed out", i)
		}
	}
}
