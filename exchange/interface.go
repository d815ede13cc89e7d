// exchange/interface.go
package exchange

import "context"

// Client abstracts the exchange REST surface so the engine, orchestrator and
// risk monitor can be tested against a mock.
type Client interface {
	// Connectivity and clock
	Ping(ctx context.Context) error
	GetServerTime(ctx context.Context) (int64, error)
	SyncTime(ctx context.Context) error

	// Market data
	GetExchangeInfo(ctx context.Context) (*ExchangeInfo, error)
	GetOrderBook(ctx context.Context, symbol string, limit int) (*OrderBook, error)
	GetTicker24h(ctx context.Context, symbol string) (*Ticker24h, error)
	GetMarkPrice(ctx context.Context, symbol string) (*PremiumIndex, error)

	// Trading
	PlaceOrder(ctx context.Context, req *NewOrderRequest) (*Order, error)
	BatchPlaceOrders(ctx context.Context, reqs []*NewOrderRequest) ([]*Order, error)
	CancelOrder(ctx context.Context, symbol, clientOrderID string) (*Order, error)
	CancelAllOpenOrders(ctx context.Context, symbol string) error
	GetOpenOrders(ctx context.Context, symbol string) ([]Order, error)
	SetLeverage(ctx context.Context, symbol string, leverage int) error

	// Account
	GetPositionRisk(ctx context.Context, symbol string) ([]PositionRisk, error)
	GetAccountInfo(ctx context.Context) (*AccountInfo, error)
	GetUserTrades(ctx context.Context, symbol string, startTime int64) ([]UserTrade, error)
	GetCommissionRate(ctx context.Context, symbol string) (*CommissionRate, error)
	GetADLQuantile(ctx context.Context, symbol string) ([]ADLQuantile, error)
	GetLeverageBracket(ctx context.Context, symbol string) ([]LeverageBracket, error)

	// User data stream lifecycle
	StartUserDataStream(ctx context.Context) (string, error)
	KeepaliveUserDataStream(ctx context.Context, listenKey string) error
	CloseUserDataStream(ctx context.Context, listenKey string) error

	// Local budget state
	ShouldBackoff() bool
	RateLimits() (weight, orders Budget)
}
