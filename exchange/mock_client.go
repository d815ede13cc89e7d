// exchange/mock_client.go
package exchange

import (
	"context"
	"sync"
)

// MockClient is a scriptable Client used by package tests. Behaviour is
// overridden per test through the *Func fields; calls and submitted orders
// are recorded for assertions.
type MockClient struct {
	mu sync.Mutex

	// Call counters keyed by method name.
	Calls map[string]int

	// Orders submitted through PlaceOrder and BatchPlaceOrders, in order.
	PlacedOrders []*NewOrderRequest
	// Cancel requests recorded as clientOrderIDs.
	CanceledOrders []string

	PingFunc                func(ctx context.Context) error
	GetServerTimeFunc       func(ctx context.Context) (int64, error)
	GetExchangeInfoFunc     func(ctx context.Context) (*ExchangeInfo, error)
	GetOrderBookFunc        func(ctx context.Context, symbol string, limit int) (*OrderBook, error)
	GetTicker24hFunc        func(ctx context.Context, symbol string) (*Ticker24h, error)
	GetMarkPriceFunc        func(ctx context.Context, symbol string) (*PremiumIndex, error)
	PlaceOrderFunc          func(ctx context.Context, req *NewOrderRequest) (*Order, error)
	BatchPlaceOrdersFunc    func(ctx context.Context, reqs []*NewOrderRequest) ([]*Order, error)
	CancelOrderFunc         func(ctx context.Context, symbol, clientOrderID string) (*Order, error)
	CancelAllOpenOrdersFunc func(ctx context.Context, symbol string) error
	GetOpenOrdersFunc       func(ctx context.Context, symbol string) ([]Order, error)
	SetLeverageFunc         func(ctx context.Context, symbol string, leverage int) error
	GetPositionRiskFunc     func(ctx context.Context, symbol string) ([]PositionRisk, error)
	GetAccountInfoFunc      func(ctx context.Context) (*AccountInfo, error)
	GetUserTradesFunc       func(ctx context.Context, symbol string, startTime int64) ([]UserTrade, error)
	GetCommissionRateFunc   func(ctx context.Context, symbol string) (*CommissionRate, error)
	GetADLQuantileFunc      func(ctx context.Context, symbol string) ([]ADLQuantile, error)
	GetLeverageBracketFunc  func(ctx context.Context, symbol string) ([]LeverageBracket, error)
	StartUserDataStreamFunc func(ctx context.Context) (string, error)
	KeepaliveFunc           func(ctx context.Context, listenKey string) error
	CloseUserDataStreamFunc func(ctx context.Context, listenKey string) error
	ShouldBackoffFunc       func() bool
}

var _ Client = (*MockClient)(nil)

func NewMockClient() *MockClient {
	return &MockClient{Calls: make(map[string]int)}
}

func (m *MockClient) record(method string) {
	m.mu.Lock()
	m.Calls[method]++
	m.mu.Unlock()
}

// CallCount returns how many times the named method was invoked.
func (m *MockClient) CallCount(method string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.Calls[method]
}

func (m *MockClient) Ping(ctx context.Context) error {
	m.record("Ping")
	if m.PingFunc != nil {
		return m.PingFunc(ctx)
	}
	return nil
}

func (m *MockClient) GetServerTime(ctx context.Context) (int64, error) {
	m.record("GetServerTime")
	if m.GetServerTimeFunc != nil {
		return m.GetServerTimeFunc(ctx)
	}
	return 0, nil
}

func (m *MockClient) SyncTime(ctx context.Context) error {
	m.record("SyncTime")
	return nil
}

func (m *MockClient) GetExchangeInfo(ctx context.Context) (*ExchangeInfo, error) {
	m.record("GetExchangeInfo")
	if m.GetExchangeInfoFunc != nil {
		return m.GetExchangeInfoFunc(ctx)
	}
	return &ExchangeInfo{}, nil
}

func (m *MockClient) GetOrderBook(ctx context.Context, symbol string, limit int) (*OrderBook, error) {
	m.record("GetOrderBook")
	if m.GetOrderBookFunc != nil {
		return m.GetOrderBookFunc(ctx, symbol, limit)
	}
	return &OrderBook{}, nil
}

func (m *MockClient) GetTicker24h(ctx context.Context, symbol string) (*Ticker24h, error) {
	m.record("GetTicker24h")
	if m.GetTicker24hFunc != nil {
		return m.GetTicker24hFunc(ctx, symbol)
	}
	return &Ticker24h{Symbol: symbol}, nil
}

func (m *MockClient) GetMarkPrice(ctx context.Context, symbol string) (*PremiumIndex, error) {
	m.record("GetMarkPrice")
	if m.GetMarkPriceFunc != nil {
		return m.GetMarkPriceFunc(ctx, symbol)
	}
	return &PremiumIndex{Symbol: symbol}, nil
}

func (m *MockClient) PlaceOrder(ctx context.Context, req *NewOrderRequest) (*Order, error) {
	m.record("PlaceOrder")
	m.mu.Lock()
	m.PlacedOrders = append(m.PlacedOrders, req)
	m.mu.Unlock()
	if m.PlaceOrderFunc != nil {
		return m.PlaceOrderFunc(ctx, req)
	}
	return &Order{
		Symbol:        req.Symbol,
		ClientOrderID: req.ClientOrderID,
		Price:         req.Price,
		OrigQty:       req.Quantity,
		Status:        New,
		Side:          req.Side,
		Type:          req.Type,
	}, nil
}

func (m *MockClient) BatchPlaceOrders(ctx context.Context, reqs []*NewOrderRequest) ([]*Order, error) {
	m.record("BatchPlaceOrders")
	m.mu.Lock()
	m.PlacedOrders = append(m.PlacedOrders, reqs...)
	m.mu.Unlock()
	if m.BatchPlaceOrdersFunc != nil {
		return m.BatchPlaceOrdersFunc(ctx, reqs)
	}
	orders := make([]*Order, 0, len(reqs))
	for _, req := range reqs {
		orders = append(orders, &Order{
			Symbol:        req.Symbol,
			ClientOrderID: req.ClientOrderID,
			Price:         req.Price,
			OrigQty:       req.Quantity,
			Status:        New,
			Side:          req.Side,
			Type:          req.Type,
		})
	}
	return orders, nil
}

func (m *MockClient) CancelOrder(ctx context.Context, symbol, clientOrderID string) (*Order, error) {
	m.record("CancelOrder")
	m.mu.Lock()
	m.CanceledOrders = append(m.CanceledOrders, clientOrderID)
	m.mu.Unlock()
	if m.CancelOrderFunc != nil {
		return m.CancelOrderFunc(ctx, symbol, clientOrderID)
	}
	return &Order{Symbol: symbol, ClientOrderID: clientOrderID, Status: Canceled}, nil
}

func (m *MockClient) CancelAllOpenOrders(ctx context.Context, symbol string) error {
	m.record("CancelAllOpenOrders")
	if m.CancelAllOpenOrdersFunc != nil {
		return m.CancelAllOpenOrdersFunc(ctx, symbol)
	}
	return nil
}

func (m *MockClient) GetOpenOrders(ctx context.Context, symbol string) ([]Order, error) {
	m.record("GetOpenOrders")
	if m.GetOpenOrdersFunc != nil {
		return m.GetOpenOrdersFunc(ctx, symbol)
	}
	return nil, nil
}

func (m *MockClient) SetLeverage(ctx context.Context, symbol string, leverage int) error {
	m.record("SetLeverage")
	if m.SetLeverageFunc != nil {
		return m.SetLeverageFunc(ctx, symbol, leverage)
	}
	return nil
}

func (m *MockClient) GetPositionRisk(ctx context.Context, symbol string) ([]PositionRisk, error) {
	m.record("GetPositionRisk")
	if m.GetPositionRiskFunc != nil {
		return m.GetPositionRiskFunc(ctx, symbol)
	}
	return nil, nil
}

func (m *MockClient) GetAccountInfo(ctx context.Context) (*AccountInfo, error) {
	m.record("GetAccountInfo")
	if m.GetAccountInfoFunc != nil {
		return m.GetAccountInfoFunc(ctx)
	}
	return &AccountInfo{}, nil
}

func (m *MockClient) GetUserTrades(ctx context.Context, symbol string, startTime int64) ([]UserTrade, error) {
	m.record("GetUserTrades")
	if m.GetUserTradesFunc != nil {
		return m.GetUserTradesFunc(ctx, symbol, startTime)
	}
	return nil, nil
}

func (m *MockClient) GetCommissionRate(ctx context.Context, symbol string) (*CommissionRate, error) {
	m.record("GetCommissionRate")
	if m.GetCommissionRateFunc != nil {
		return m.GetCommissionRateFunc(ctx, symbol)
	}
	return &CommissionRate{Symbol: symbol, MakerCommissionRate: "0.0002", TakerCommissionRate: "0.0005"}, nil
}

func (m *MockClient) GetADLQuantile(ctx context.Context, symbol string) ([]ADLQuantile, error) {
	m.record("GetADLQuantile")
	if m.GetADLQuantileFunc != nil {
		return m.GetADLQuantileFunc(ctx, symbol)
	}
	return nil, nil
}

func (m *MockClient) GetLeverageBracket(ctx context.Context, symbol string) ([]LeverageBracket, error) {
	m.record("GetLeverageBracket")
	if m.GetLeverageBracketFunc != nil {
		return m.GetLeverageBracketFunc(ctx, symbol)
	}
	return nil, nil
}

func (m *MockClient) StartUserDataStream(ctx context.Context) (string, error) {
	m.record("StartUserDataStream")
	if m.StartUserDataStreamFunc != nil {
		return m.StartUserDataStreamFunc(ctx)
	}
	return "mock-listen-key", nil
}

func (m *MockClient) KeepaliveUserDataStream(ctx context.Context, listenKey string) error {
	m.record("KeepaliveUserDataStream")
	if m.KeepaliveFunc != nil {
		return m.KeepaliveFunc(ctx, listenKey)
	}
	return nil
}

func (m *MockClient) CloseUserDataStream(ctx context.Context, listenKey string) error {
	m.record("CloseUserDataStream")
	if m.CloseUserDataStreamFunc != nil {
		return m.CloseUserDataStreamFunc(ctx, listenKey)
	}
	return nil
}

func (m *MockClient) ShouldBackoff() bool {
	m.record("ShouldBackoff")
	if m.ShouldBackoffFunc != nil {
		return m.ShouldBackoffFunc()
	}
	return false
}

func (m *MockClient) RateLimits() (weight, orders Budget) {
	m.record("RateLimits")
	return Budget{}, Budget{}
}
