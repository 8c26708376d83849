package events

import "time"

// Topic enumerates high-level streams inside the connector.
type Topic string

const (
	TopicTrade    Topic = "market.trade"
	TopicBookTop  Topic = "market.book_top"
	TopicTicker   Topic = "market.ticker"
	TopicOrder    Topic = "private.order"
	TopicFill     Topic = "private.fill"
	TopicPosition Topic = "private.position"
	TopicWallet   Topic = "private.wallet"
)

// Side denotes order or trade side.
type Side string

const (
	SideBuy  Side = "BUY"
	SideSell Side = "SELL"
)

// OrderStatus normalizes venue order states into a small set.
type OrderStatus string

const (
	StatusNew             OrderStatus = "NEW"
	StatusAcknowledged    OrderStatus = "ACKNOWLEDGED"
	StatusPartiallyFilled OrderStatus = "PARTIALLY_FILLED"
	StatusFilled          OrderStatus = "FILLED"
	StatusCancelled       OrderStatus = "CANCELLED"
	StatusRejected        OrderStatus = "REJECTED"
)

// Terminal reports whether an order in this status can never change again.
func (s OrderStatus) Terminal() bool {
	switch s {
	case StatusFilled, StatusCancelled, StatusRejected:
		return true
	}
	return false
}

// Level is one price level of a book snapshot or delta. Qty == 0 inside a
// delta means the level is to be removed.
type Level struct {
	Price float64
	Qty   float64
}

// MarketEvent is the tagged union delivered on the market path. Exactly one
// of the pointer fields is set.
type MarketEvent struct {
	Venue    string
	Trade    *Trade
	Snapshot *BookSnapshot
	Delta    *BookDelta
	Ticker   *Ticker
}

// Trade is a normalized public trade.
type Trade struct {
	Symbol  string
	Price   float64
	Qty     float64
	Side    Side
	TradeID string
	Time    time.Time
}

// BookSnapshot replaces the whole book at Sequence.
type BookSnapshot struct {
	Symbol   string
	Bids     []Level
	Asks     []Level
	Sequence uint64
	Time     time.Time
}

// BookDelta is an incremental change. Venues with span numbering (Binance)
// fill both SequenceStart and SequenceEnd; single-number venues (Bybit) set
// them equal.
type BookDelta struct {
	Symbol        string
	Bids          []Level
	Asks          []Level
	SequenceStart uint64
	SequenceEnd   uint64
	Time          time.Time
}

// Ticker carries best bid/ask.
type Ticker struct {
	Symbol  string
	BestBid float64
	BestAsk float64
	BidQty  float64
	AskQty  float64
	Time    time.Time
}

// PrivateEvent is the tagged union delivered on the private path.
type PrivateEvent struct {
	Venue    string
	Order    *OrderUpdate
	Fill     *FillUpdate
	Position *PositionUpdate
	Wallet   *WalletUpdate
}

// OrderUpdate reflects a venue-side order state change.
type OrderUpdate struct {
	ClientID  string
	VenueID   string
	Symbol    string
	Side      Side
	Price     float64
	Qty       float64
	FilledQty float64
	AvgPrice  float64
	Status    OrderStatus
	Reason    string
	Time      time.Time
}

// FillUpdate is one execution against an open order.
type FillUpdate struct {
	ClientID string
	VenueID  string
	Symbol   string
	Side     Side
	Price    float64
	Qty      float64
	Fee      float64
	IsMaker  bool
	Time     time.Time
}

// PositionUpdate reflects the venue-reported position for a symbol.
type PositionUpdate struct {
	Symbol        string
	Qty           float64 // signed, negative = short
	EntryPrice    float64
	UnrealizedPnL float64
	Leverage      float64
	Time          time.Time
}

// WalletUpdate reflects a balance change for one asset.
type WalletUpdate struct {
	Asset   string
	Balance float64
	Time    time.Time
}
