package common

import "github.com/unkuseni/rs-smm-v2/internal/events"

// OrderType denotes the supported order types.
type OrderType string

const (
	OrderTypeLimit  OrderType = "LIMIT"
	OrderTypeMarket OrderType = "MARKET"
)

// TimeInForce captures TIF semantics shared by both venues.
type TimeInForce string

const (
	TIFGTC      TimeInForce = "GTC"
	TIFIOC      TimeInForce = "IOC"
	TIFPostOnly TimeInForce = "POST_ONLY"
)

// OrderRequest captures an order intent to be sent to a venue.
type OrderRequest struct {
	ClientID    string // assigned by the gateway when empty
	Symbol      string
	Side        events.Side
	Type        OrderType
	Price       float64 // required for LIMIT
	Qty         float64
	TimeInForce TimeInForce
	ReduceOnly  bool
}

// OrderAck is the venue acknowledgement of a placed or amended order.
type OrderAck struct {
	ClientID string
	VenueID  string
	Symbol   string
	Status   events.OrderStatus
}

// OrderChanges is the amendable subset of an open order. Zero fields are
// left untouched.
type OrderChanges struct {
	Price float64
	Qty   float64
}

// AmendRequest addresses one open order in a batch amendment. Side is
// optional: venues whose modify call replays the whole order (Binance)
// need it and fall back to an order lookup when it is empty.
type AmendRequest struct {
	VenueID string
	Symbol  string
	Side    events.Side
	Changes OrderChanges
}

// BatchResult is the per-item outcome of a batch call, in input order.
// Exactly one of Ack/Err is meaningful.
type BatchResult struct {
	Ack OrderAck
	Err error
}

// SymbolInfo carries the venue constraints for one symbol.
type SymbolInfo struct {
	Symbol      string
	TickSize    float64
	LotSize     float64
	MinNotional float64
	MinQty      float64
	PostOnlyMax float64
}

// FeeSchedule is the maker/taker fee rates for one symbol, as decimals
// (0.0002 = 2 bps).
type FeeSchedule struct {
	Maker float64
	Taker float64
}
