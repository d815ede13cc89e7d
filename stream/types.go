// stream/types.go
package stream

import "encoding/json"

// EventType names a user-data push message class.
type EventType string

const (
	EventOrderTradeUpdate EventType = "ORDER_TRADE_UPDATE"
	EventAccountUpdate    EventType = "ACCOUNT_UPDATE"
	EventMarginCall       EventType = "MARGIN_CALL"
	EventListenKeyExpired EventType = "listenKeyExpired"

	// EventAny subscribes to every message regardless of type.
	EventAny EventType = "*"
)

// Envelope carries one classified message. Raw is the full frame so handlers
// can decode the typed payload they care about.
type Envelope struct {
	Type EventType
	Raw  json.RawMessage
}

// eventHeader is the minimal probe used to classify incoming frames.
type eventHeader struct {
	EventType string `json:"e"`
	EventTime int64  `json:"E"`
}

// OrderTradeUpdate is the push sent for every order state transition.
type OrderTradeUpdate struct {
	EventType string `json:"e"`
	EventTime int64  `json:"E"`
	Order     struct {
		Symbol          string `json:"s"`
		ClientOrderID   string `json:"c"`
		Side            string `json:"S"`
		OrderType       string `json:"o"`
		OrigQty         string `json:"q"`
		Price           string `json:"p"`
		AvgPrice        string `json:"ap"`
		ExecutionType   string `json:"x"`
		Status          string `json:"X"`
		OrderID         int64  `json:"i"`
		LastFilledQty   string `json:"l"`
		CumFilledQty    string `json:"z"`
		LastFilledPrice string `json:"L"`
		Commission      string `json:"n"`
		CommissionAsset string `json:"N"`
		TradeTime       int64  `json:"T"`
		IsMaker         bool   `json:"m"`
		RealizedProfit  string `json:"rp"`
	} `json:"o"`
}

// AccountUpdate is the push sent when balances or positions change.
type AccountUpdate struct {
	EventType string `json:"e"`
	EventTime int64  `json:"E"`
	Data      struct {
		Reason   string `json:"m"`
		Balances []struct {
			Asset              string `json:"a"`
			WalletBalance      string `json:"wb"`
			CrossWalletBalance string `json:"cw"`
		} `json:"B"`
		Positions []struct {
			Symbol         string `json:"s"`
			PositionAmt    string `json:"pa"`
			EntryPrice     string `json:"ep"`
			UnrealizedPnL  string `json:"up"`
			PositionSide   string `json:"ps"`
		} `json:"P"`
	} `json:"a"`
}

// MarginCallUpdate is the push sent when a position approaches liquidation.
type MarginCallUpdate struct {
	EventType string `json:"e"`
	EventTime int64  `json:"E"`
	Positions []struct {
		Symbol        string `json:"s"`
		PositionSide  string `json:"ps"`
		PositionAmt   string `json:"pa"`
		MarkPrice     string `json:"mp"`
		UnrealizedPnL string `json:"up"`
	} `json:"p"`
}
