package bybit

import (
	"encoding/json"

	"github.com/shopspring/decimal"
)

// envelope is the common wrapper of every v2 REST response.
type envelope struct {
	RetCode          int             `json:"ret_code"`
	RetMsg           string          `json:"ret_msg"`
	ExtCode          string          `json:"ext_code"`
	Result           json.RawMessage `json:"result"`
	TimeNow          string          `json:"time_now"`
	RateLimitStatus  int             `json:"rate_limit_status"`
	RateLimitResetMs int64           `json:"rate_limit_reset_ms"`
	RateLimit        int             `json:"rate_limit"`
}

// Bybit mezcla strings y números para los mismos campos según el endpoint;
// decimal.Decimal acepta ambos.

type tickerResult struct {
	Symbol    string          `json:"symbol"`
	BidPrice  decimal.Decimal `json:"bid_price"`
	AskPrice  decimal.Decimal `json:"ask_price"`
	LastPrice decimal.Decimal `json:"last_price"`
}

type positionResult struct {
	Symbol        string          `json:"symbol"`
	Side          string          `json:"side"`
	Size          int             `json:"size"`
	EntryPrice    string          `json:"entry_price"`
	LiqPrice      decimal.Decimal `json:"liq_price"`
	BustPrice     decimal.Decimal `json:"bust_price"`
	OccClosingFee decimal.Decimal `json:"occ_closing_fee"`
	OrderMargin   decimal.Decimal `json:"order_margin"`
	WalletBalance decimal.Decimal `json:"wallet_balance"`
	Leverage      decimal.Decimal `json:"leverage"`
}

type orderResult struct {
	OrderID      string          `json:"order_id"`
	OrderLinkID  string          `json:"order_link_id"`
	Symbol       string          `json:"symbol"`
	Side         string          `json:"side"`
	OrderType    string          `json:"order_type"`
	Price        decimal.Decimal `json:"price"`
	Qty          decimal.Decimal `json:"qty"`
	TimeInForce  string          `json:"time_in_force"`
	OrderStatus  string          `json:"order_status"`
	LeavesQty    decimal.Decimal `json:"leaves_qty"`
	CumExecQty   decimal.Decimal `json:"cum_exec_qty"`
	RejectReason string          `json:"reject_reason"`
}

type orderListResult struct {
	Data   []orderResult `json:"data"`
	Cursor string        `json:"cursor"`
}

// wsRequest is an outgoing realtime command (auth, subscribe, ping).
type wsRequest struct {
	Op   string `json:"op"`
	Args []any  `json:"args,omitempty"`
}

// wsMessage covers both command responses and topic pushes.
type wsMessage struct {
	Success *bool           `json:"success,omitempty"`
	RetMsg  string          `json:"ret_msg,omitempty"`
	Request *wsRequest      `json:"request,omitempty"`
	Topic   string          `json:"topic,omitempty"`
	Data    json.RawMessage `json:"data,omitempty"`
}
