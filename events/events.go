// events/events.go
package events

import (
	"sync"
	"time"
)

// Event is the sealed union of everything the system broadcasts. Each
// variant is a concrete struct; consumers switch on the type instead of
// inspecting a stringly-typed payload.
type Event interface {
	isEvent()
	// Kind returns a stable name for logging and filtering.
	Kind() string
}

// Log is a structured log line surfaced to observers.
type Log struct {
	BotID   string
	Level   string
	Message string
	At      time.Time
}

// StatsUpdated announces a fresh stats snapshot for a bot.
type StatsUpdated struct {
	BotID string
	At    time.Time
}

// OrderPlaced announces one accepted order.
type OrderPlaced struct {
	BotID         string
	Symbol        string
	Side          string
	Price         float64
	Quantity      float64
	ClientOrderID string
	At            time.Time
}

// OrdersBatchPlaced announces a batch submission result.
type OrdersBatchPlaced struct {
	BotID     string
	Symbol    string
	Submitted int
	Accepted  int
	At        time.Time
}

// MarketDataUpdated announces a reference price refresh.
type MarketDataUpdated struct {
	BotID    string
	Symbol   string
	RefPrice float64
	At       time.Time
}

// RiskMetricsUpdated announces one risk sweep result for an agent.
type RiskMetricsUpdated struct {
	AgentID    string
	Balance    float64
	PnL        float64
	PnLPercent float64
	At         time.Time
}

// MarginCall announces a venue margin call push.
type MarginCall struct {
	BotID  string
	Symbol string
	At     time.Time
}

// AgentStopped announces that the risk monitor halted an agent.
type AgentStopped struct {
	AgentID string
	Reason  string
	Err     string
	At      time.Time
}

func (Log) isEvent()               {}
func (StatsUpdated) isEvent()      {}
func (OrderPlaced) isEvent()       {}
func (OrdersBatchPlaced) isEvent() {}
func (MarketDataUpdated) isEvent() {}
func (RiskMetricsUpdated) isEvent() {}
func (MarginCall) isEvent()        {}
func (AgentStopped) isEvent()      {}

func (Log) Kind() string               { return "log" }
func (StatsUpdated) Kind() string      { return "stats_updated" }
func (OrderPlaced) Kind() string       { return "order_placed" }
func (OrdersBatchPlaced) Kind() string { return "orders_batch_placed" }
func (MarketDataUpdated) Kind() string { return "market_data_updated" }
func (RiskMetricsUpdated) Kind() string { return "risk_metrics_updated" }
func (MarginCall) Kind() string        { return "margin_call" }
func (AgentStopped) Kind() string      { return "agent_stopped" }

// Bus fans events out to subscribers. Publish never blocks the producer: a
// subscriber whose buffer is full drops the event rather than stalling the
// trading loop.
type Bus struct {
	mu   sync.RWMutex
	subs map[int]chan Event
	next int
}

func NewBus() *Bus {
	return &Bus{subs: make(map[int]chan Event)}
}

// Subscribe registers a buffered subscriber. The returned cancel function
// removes the subscription and closes the channel.
func (b *Bus) Subscribe(buffer int) (<-chan Event, func()) {
	if buffer <= 0 {
		buffer = 64
	}
	ch := make(chan Event, buffer)

	b.mu.Lock()
	id := b.next
	b.next++
	b.subs[id] = ch
	b.mu.Unlock()

	cancel := func() {
		b.mu.Lock()
		if sub, ok := b.subs[id]; ok {
			delete(b.subs, id)
			close(sub)
		}
		b.mu.Unlock()
	}
	return ch, cancel
}

// Publish delivers the event to every subscriber with room in its buffer.
func (b *Bus) Publish(ev Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, ch := range b.subs {
		select {
		case ch <- ev:
		default:
		}
	}
}
