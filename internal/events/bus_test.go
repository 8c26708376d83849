package events

import (
	"testing"
	"time"
)

func TestBusDeliversToSubscribers(t *testing.T) {
	bus := NewBus()
	a, unsubA := bus.Subscribe(TopicTrade, 4)
	defer unsubA()
	b, unsubB := bus.Subscribe(TopicTrade, 4)
	defer unsubB()

	bus.Publish(TopicTrade, Trade{Symbol: "BTCUSDT", Price: 100})

	for _, ch := range []<-chan any{a, b} {
		select {
		case raw := <-ch:
			tr, ok := raw.(Trade)
			if !ok || tr.Price != 100 {
				t.Errorf("payload = %#v", raw)
			}
		case <-time.After(time.Second):
			t.Fatal("no delivery")
		}
	}
}

func TestBusTopicIsolation(t *testing.T) {
	bus := NewBus()
	trades, unsub := bus.Subscribe(TopicTrade, 4)
	defer unsub()

	bus.Publish(TopicTicker, Ticker{Symbol: "BTCUSDT"})

	select {
	case raw := <-trades:
		t.Errorf("trade subscriber got %#v from ticker topic", raw)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestBusDropsWhenSubscriberFull(t *testing.T) {
	bus := NewBus()
	ch, unsub := bus.Subscribe(TopicTrade, 1)
	defer unsub()

	// Second publish must not block even though the buffer is full.
	done := make(chan struct{})
	go func() {
		bus.Publish(TopicTrade, 1)
		bus.Publish(TopicTrade, 2)
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Publish blocked on a full subscriber")
	}

	if got := <-ch; got != 1 {
		t.Errorf("got %v, want the first payload", got)
	}
	select {
	case got := <-ch:
		t.Errorf("got %v, want the overflow dropped", got)
	default:
	}
}

func TestBusUnsubscribeClosesChannel(t *testing.T) {
	bus := NewBus()
	ch, unsub := bus.Subscribe(TopicOrder, 1)
	unsub()

	if _, ok := <-ch; ok {
		t.Error("channel still open after unsubscribe")
	}
	// Publishing after unsubscribe must not panic.
	bus.Publish(TopicOrder, OrderUpdate{})
}
