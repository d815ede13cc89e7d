// events/events_test.go
package events

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBusDeliversToAllSubscribers(t *testing.T) {
	bus := NewBus()
	ch1, cancel1 := bus.Subscribe(4)
	ch2, cancel2 := bus.Subscribe(4)
	defer cancel1()
	defer cancel2()

	bus.Publish(OrderPlaced{BotID: "b1", Symbol: "ETHUSDT", Side: "BUY", Price: 2345.20})

	for _, ch := range []<-chan Event{ch1, ch2} {
		select {
		case ev := <-ch:
			placed, ok := ev.(OrderPlaced)
			require.True(t, ok)
			assert.Equal(t, "ETHUSDT", placed.Symbol)
			assert.Equal(t, "order_placed", ev.Kind())
		case <-time.After(time.Second):
			t.Fatal("event not delivered")
		}
	}
}

func TestBusDropsWhenSubscriberFull(t *testing.T) {
	bus := NewBus()
	ch, cancel := bus.Subscribe(1)
	defer cancel()

	// The second publish must not block even though the buffer is full.
	done := make(chan struct{})
	go func() {
		bus.Publish(StatsUpdated{BotID: "b1"})
		bus.Publish(StatsUpdated{BotID: "b2"})
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("publish blocked on a full subscriber")
	}
	assert.Len(t, ch, 1)
}

func TestSubscribeCancelClosesChannel(t *testing.T) {
	bus := NewBus()
	ch, cancel := bus.Subscribe(1)
	cancel()
	// A canceled subscription's channel is closed; double cancel is safe.
	cancel()

	_, open := <-ch
	assert.False(t, open)

	// Publishing after cancel must not panic.
	bus.Publish(Log{Level: "info", Message: "after cancel"})
}

func TestEventKinds(t *testing.T) {
	kinds := map[string]Event{
		"log":                  Log{},
		"stats_updated":        StatsUpdated{},
		"order_placed":         OrderPlaced{},
		"orders_batch_placed":  OrdersBatchPlaced{},
		"market_data_updated":  MarketDataUpdated{},
		"risk_metrics_updated": RiskMetricsUpdated{},
		"margin_call":          MarginCall{},
		"agent_stopped":        AgentStopped{},
	}
	for want, ev := range kinds {
		assert.Equal(t, want, ev.Kind())
	}
}
