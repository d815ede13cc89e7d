// store/store.go
package store

import (
	"errors"
	"time"

	"aster-volume-bot/config"
)

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = errors.New("store: record not found")

// BotStatus is the lifecycle state of a bot or agent instance.
type BotStatus string

const (
	StatusStopped BotStatus = "stopped"
	StatusRunning BotStatus = "running"
	StatusPaused  BotStatus = "paused"
	StatusError   BotStatus = "error"
)

// BotInstance is the persisted identity of a volume bot. At most one
// instance per market may be running or paused at a time.
type BotInstance struct {
	ID           string           `json:"id"`
	Symbol       string           `json:"symbol"`
	Status       BotStatus        `json:"status"`
	Config       config.BotConfig `json:"config"`
	SessionStart time.Time        `json:"sessionStart"`
	LastUpdate   time.Time        `json:"lastUpdate"`
}

// BotStats is the mutable aggregate per bot. It is merged, never replaced
// wholesale.
type BotStats struct {
	BotID         string    `json:"botId"`
	TotalVolume   float64   `json:"totalVolume"`
	TotalTrades   int64     `json:"totalTrades"`
	TotalFees     float64   `json:"totalFees"`
	PnL           float64   `json:"pnl"`
	ActiveOrders  int       `json:"activeOrders"`
	FilledOrders  int64     `json:"filledOrders"`
	TotalOrders   int64     `json:"totalOrders"`
	FillRate      float64   `json:"fillRate"`
	HourlyVolume  float64   `json:"hourlyVolume"`
	UptimeSeconds float64   `json:"uptimeSeconds"`
	UpdatedAt     time.Time `json:"updatedAt"`
}

// OrderStatus is the local order record state machine:
// PENDING -> NEW -> {PARTIALLY_FILLED -> FILLED | CANCELED | REJECTED | EXPIRED | FAILED}.
// PENDING records exist before submission as a crash-recovery audit trail;
// every later transition comes from a confirmed exchange response or stream event.
type OrderStatus string

const (
	OrderPending         OrderStatus = "PENDING"
	OrderNew             OrderStatus = "NEW"
	OrderPartiallyFilled OrderStatus = "PARTIALLY_FILLED"
	OrderFilled          OrderStatus = "FILLED"
	OrderCanceled        OrderStatus = "CANCELED"
	OrderRejected        OrderStatus = "REJECTED"
	OrderExpired         OrderStatus = "EXPIRED"
	OrderFailed          OrderStatus = "FAILED"
)

// OrderRecord is the engine-owned audit record of one submitted quote.
type OrderRecord struct {
	ID             string      `json:"id"`
	BotID          string      `json:"botId"`
	ClientOrderID  string      `json:"clientOrderId"`
	ExchangeID     int64       `json:"exchangeId"`
	Symbol         string      `json:"symbol"`
	Side           string      `json:"side"`
	Type           string      `json:"type"`
	Price          float64     `json:"price"`
	Quantity       float64     `json:"quantity"`
	FilledQuantity float64     `json:"filledQuantity"`
	Status         OrderStatus `json:"status"`
	CreatedAt      time.Time   `json:"createdAt"`
	UpdatedAt      time.Time   `json:"updatedAt"`
}

// ActivityType classifies activity log entries.
type ActivityType string

const (
	ActivityFill    ActivityType = "fill"
	ActivityError   ActivityType = "error"
	ActivityInfo    ActivityType = "info"
	ActivityCancel  ActivityType = "cancel"
	ActivityWarning ActivityType = "warning"
	ActivitySuccess ActivityType = "success"
)

// ActivityEntry is one append-only activity log record; ordering is append order.
type ActivityEntry struct {
	ID        string       `json:"id"`
	BotID     string       `json:"botId"`
	Type      ActivityType `json:"type"`
	Message   string       `json:"message"`
	CreatedAt time.Time    `json:"createdAt"`
}

// HourlyVolume is one trailing-volume bucket.
type HourlyVolume struct {
	BotID     string    `json:"botId"`
	HourStart time.Time `json:"hourStart"`
	Volume    float64   `json:"volume"`
	Trades    int64     `json:"trades"`
}

// AgentConfig holds the risk thresholds of an autonomous agent. Nil pointer
// means the threshold is not armed.
type AgentConfig struct {
	StartingCapital     float64  `json:"startingCapital"`
	TargetProfitUSDT    *float64 `json:"targetProfitUsdt,omitempty"`
	TargetProfitPercent *float64 `json:"targetProfitPercent,omitempty"`
	MaxLossUSDT         *float64 `json:"maxLossUsdt,omitempty"`
	MaxLossPercent      *float64 `json:"maxLossPercent,omitempty"`
}

// AgentInstance is written by the external agent-decision process and read
// by the risk monitor, which only ever marks it stopped or error.
type AgentInstance struct {
	ID             string      `json:"id"`
	Status         BotStatus   `json:"status"`
	Config         AgentConfig `json:"config"`
	CurrentBalance float64     `json:"currentBalance"`
	TotalPnL       float64     `json:"totalPnl"`
	LastUpdate     time.Time   `json:"lastUpdate"`
}

// AgentTrade is one trade executed on behalf of an agent.
type AgentTrade struct {
	ID        string    `json:"id"`
	AgentID   string    `json:"agentId"`
	Symbol    string    `json:"symbol"`
	Side      string    `json:"side"`
	Quantity  float64   `json:"quantity"`
	Price     float64   `json:"price"`
	PnL       float64   `json:"pnl"`
	CreatedAt time.Time `json:"createdAt"`
}

// AgentReasoning is one audit record explaining a monitor or agent decision.
type AgentReasoning struct {
	ID        string    `json:"id"`
	AgentID   string    `json:"agentId"`
	Decision  string    `json:"decision"`
	Reasoning string    `json:"reasoning"`
	CreatedAt time.Time `json:"createdAt"`
}

// Store abstracts persistence for bots, their trading records, and agents.
// Implementations must be safe for concurrent use.
type Store interface {
	SaveBot(bot *BotInstance) error
	GetBot(id string) (*BotInstance, error)
	ListBots() ([]*BotInstance, error)
	DeleteBot(id string) error

	SaveStats(stats *BotStats) error
	GetStats(botID string) (*BotStats, error)

	SaveOrder(order *OrderRecord) error
	GetOrder(botID, clientOrderID string) (*OrderRecord, error)
	ListOrders(botID string) ([]*OrderRecord, error)

	AppendActivity(entry *ActivityEntry) error
	ListActivity(botID string, limit int) ([]*ActivityEntry, error)

	SaveHourlyVolume(bucket *HourlyVolume) error
	ListHourlyVolume(botID string) ([]*HourlyVolume, error)

	SaveAgent(agent *AgentInstance) error
	GetAgent(id string) (*AgentInstance, error)
	ListAgents() ([]*AgentInstance, error)

	AppendAgentTrade(trade *AgentTrade) error
	ListAgentTrades(agentID string) ([]*AgentTrade, error)

	AppendAgentReasoning(rec *AgentReasoning) error
	ListAgentReasoning(agentID string) ([]*AgentReasoning, error)

	Close() error
}
