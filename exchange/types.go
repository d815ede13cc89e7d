// exchange/types.go
package exchange

import (
	"errors"
	"fmt"
	"strconv"
)

// APIError is the exchange's structured error body ({"code":..,"msg":..}).
type APIError struct {
	Code int    `json:"code"`
	Msg  string `json:"msg"`
}

func (e *APIError) Error() string {
	return fmt.Sprintf("API error: %s (code: %d)", e.Msg, e.Code)
}

// ErrBanned signals an HTTP 418 IP ban. The client refuses all further
// requests once this is seen; the caller must stop using the client.
var ErrBanned = errors.New("exchange: IP banned (HTTP 418), stop issuing requests")

// ErrRateLimited signals a second consecutive HTTP 429 after the single
// bounded retry was consumed.
var ErrRateLimited = errors.New("exchange: rate limited (HTTP 429)")

// OrderSide defines the order direction (BUY or SELL).
type OrderSide string

const (
	Buy  OrderSide = "BUY"
	Sell OrderSide = "SELL"
)

// OrderType defines the order type.
type OrderType string

const (
	Limit  OrderType = "LIMIT"
	Market OrderType = "MARKET"
)

// OrderStatus is the status reported by the venue.
type OrderStatus string

const (
	New             OrderStatus = "NEW"
	PartiallyFilled OrderStatus = "PARTIALLY_FILLED"
	Filled          OrderStatus = "FILLED"
	Canceled        OrderStatus = "CANCELED"
	Rejected        OrderStatus = "REJECTED"
	Expired         OrderStatus = "EXPIRED"
)

// NewOrderRequest carries everything needed to submit one order.
type NewOrderRequest struct {
	Symbol        string
	Side          OrderSide
	Type          OrderType
	TimeInForce   string // GTC, or GTX for post-only
	Price         string
	Quantity      string
	ReduceOnly    bool
	ClientOrderID string
}

// Order represents the venue's view of an order.
type Order struct {
	Symbol        string      `json:"symbol"`
	OrderID       int64       `json:"orderId"`
	ClientOrderID string      `json:"clientOrderId"`
	Price         string      `json:"price"`
	OrigQty       string      `json:"origQty"`
	ExecutedQty   string      `json:"executedQty"`
	CumQuote      string      `json:"cumQuote"`
	Status        OrderStatus `json:"status"`
	TimeInForce   string      `json:"timeInForce"`
	Type          OrderType   `json:"type"`
	Side          OrderSide   `json:"side"`
	ReduceOnly    bool        `json:"reduceOnly"`
	AvgPrice      string      `json:"avgPrice"`
	UpdateTime    int64       `json:"updateTime"`
}

// SymbolInfo holds trading rules for a single symbol.
type SymbolInfo struct {
	Symbol            string   `json:"symbol"`
	Status            string   `json:"status"`
	BaseAsset         string   `json:"baseAsset"`
	QuoteAsset        string   `json:"quoteAsset"`
	PricePrecision    int      `json:"pricePrecision"`
	QuantityPrecision int      `json:"quantityPrecision"`
	Filters           []Filter `json:"filters"`
}

// Filter holds filter data; the venue's filter array is heterogeneous so a
// map stays the honest representation.
type Filter map[string]interface{}

// TickSize extracts the PRICE_FILTER tick size from the symbol's filters.
func (s *SymbolInfo) TickSize() float64 {
	for _, f := range s.Filters {
		if t, ok := f["filterType"].(string); ok && t == "PRICE_FILTER" {
			if raw, ok := f["tickSize"].(string); ok {
				if v, err := strconv.ParseFloat(raw, 64); err == nil {
					return v
				}
			}
		}
	}
	return 0
}

// ExchangeInfo holds the full exchange information response.
type ExchangeInfo struct {
	ServerTime int64        `json:"serverTime"`
	Symbols    []SymbolInfo `json:"symbols"`
}

// OrderBook is the depth snapshot; bids/asks are [price, qty] string pairs.
type OrderBook struct {
	LastUpdateID int64      `json:"lastUpdateId"`
	Bids         [][]string `json:"bids"`
	Asks         [][]string `json:"asks"`
}

// BestBid returns the top-of-book bid price, or an error if the book is empty.
func (b *OrderBook) BestBid() (float64, error) {
	if len(b.Bids) == 0 || len(b.Bids[0]) < 2 {
		return 0, errors.New("order book has no bids")
	}
	return strconv.ParseFloat(b.Bids[0][0], 64)
}

// BestAsk returns the top-of-book ask price, or an error if the book is empty.
func (b *OrderBook) BestAsk() (float64, error) {
	if len(b.Asks) == 0 || len(b.Asks[0]) < 2 {
		return 0, errors.New("order book has no asks")
	}
	return strconv.ParseFloat(b.Asks[0][0], 64)
}

// Ticker24h is the rolling 24 hour statistics for one symbol.
type Ticker24h struct {
	Symbol             string `json:"symbol"`
	PriceChangePercent string `json:"priceChangePercent"`
	LastPrice          string `json:"lastPrice"`
	Volume             string `json:"volume"`
	QuoteVolume        string `json:"quoteVolume"`
	HighPrice          string `json:"highPrice"`
	LowPrice           string `json:"lowPrice"`
}

// PremiumIndex carries the mark price and funding data for one symbol.
type PremiumIndex struct {
	Symbol          string `json:"symbol"`
	MarkPrice       string `json:"markPrice"`
	IndexPrice      string `json:"indexPrice"`
	LastFundingRate string `json:"lastFundingRate"`
	NextFundingTime int64  `json:"nextFundingTime"`
}

// PositionRisk is one entry of the position risk endpoint.
type PositionRisk struct {
	Symbol           string `json:"symbol"`
	PositionAmt      string `json:"positionAmt"`
	EntryPrice       string `json:"entryPrice"`
	MarkPrice        string `json:"markPrice"`
	UnRealizedProfit string `json:"unRealizedProfit"`
	LiquidationPrice string `json:"liquidationPrice"`
	Leverage         string `json:"leverage"`
	MarginType       string `json:"marginType"`
	PositionSide     string `json:"positionSide"`
	Notional         string `json:"notional"`
}

// Amount parses the signed position amount.
func (p *PositionRisk) Amount() float64 {
	v, _ := strconv.ParseFloat(p.PositionAmt, 64)
	return v
}

// AccountInfo is the subset of account data the bots need.
type AccountInfo struct {
	TotalWalletBalance    string `json:"totalWalletBalance"`
	TotalUnrealizedProfit string `json:"totalUnrealizedProfit"`
	TotalMarginBalance    string `json:"totalMarginBalance"`
	AvailableBalance      string `json:"availableBalance"`
}

// UserTrade is one fill from the user trade history.
type UserTrade struct {
	Symbol     string `json:"symbol"`
	ID         int64  `json:"id"`
	OrderID    int64  `json:"orderId"`
	Side       string `json:"side"`
	Price      string `json:"price"`
	Qty        string `json:"qty"`
	QuoteQty   string `json:"quoteQty"`
	Commission string `json:"commission"`
	Maker      bool   `json:"maker"`
	Time       int64  `json:"time"`
}

// CommissionRate is the account's maker/taker rates for one symbol.
type CommissionRate struct {
	Symbol              string `json:"symbol"`
	MakerCommissionRate string `json:"makerCommissionRate"`
	TakerCommissionRate string `json:"takerCommissionRate"`
}

// ADLQuantile is the auto-deleveraging ranking for one symbol.
type ADLQuantile struct {
	Symbol      string `json:"symbol"`
	AdlQuantile struct {
		Long  int `json:"LONG"`
		Short int `json:"SHORT"`
		Both  int `json:"BOTH"`
	} `json:"adlQuantile"`
}

// LeverageBracket is the notional bracket table for one symbol.
type LeverageBracket struct {
	Symbol   string `json:"symbol"`
	Brackets []struct {
		Bracket          int     `json:"bracket"`
		InitialLeverage  int     `json:"initialLeverage"`
		NotionalCap      float64 `json:"notionalCap"`
		NotionalFloor    float64 `json:"notionalFloor"`
		MaintMarginRatio float64 `json:"maintMarginRatio"`
	} `json:"brackets"`
}

// listenKeyResponse is the body of POST /fapi/v1/listenKey.
type listenKeyResponse struct {
	ListenKey string `json:"listenKey"`
}

// serverTimeResponse is the body of GET /fapi/v1/time.
type serverTimeResponse struct {
	ServerTime int64 `json:"serverTime"`
}
