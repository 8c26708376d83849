// Package common defines the venue-agnostic exchange capability surface and
// the infrastructure shared by every adapter: time synchronization, rate
// limiting, reconnect supervision and the error taxonomy.
package common

import (
	"context"
	"time"

	"github.com/unkuseni/rs-smm-v2/internal/book"
	"github.com/unkuseni/rs-smm-v2/internal/events"
)

// Exchange is the full capability contract implemented once per venue.
// Adding a venue means implementing the whole set; partial venues are not
// supported.
type Exchange interface {
	// Name identifies the venue in logs and events.
	Name() string

	// SyncTime measures the venue clock offset used to timestamp signed
	// requests.
	SyncTime(ctx context.Context) (time.Duration, error)

	// SymbolInfo fetches tick size, lot size and notional constraints.
	SymbolInfo(ctx context.Context, symbol string) (SymbolInfo, error)

	// Fees fetches the maker/taker schedule for a symbol.
	Fees(ctx context.Context, symbol string) (FeeSchedule, error)

	// SetLeverage configures leverage for a symbol.
	SetLeverage(ctx context.Context, symbol string, leverage int) error

	// PlaceOrder submits one order. Venue rejections come back as
	// *RejectionError.
	PlaceOrder(ctx context.Context, req OrderRequest) (OrderAck, error)

	// AmendOrder modifies price and/or quantity of an open order.
	AmendOrder(ctx context.Context, venueID, symbol string, ch OrderChanges) (OrderAck, error)

	// CancelOrder cancels one open order.
	CancelOrder(ctx context.Context, venueID, symbol string) error

	// CancelAll cancels every open order on a symbol.
	CancelAll(ctx context.Context, symbol string) error

	// BatchOrders submits up to MaxBatchSize orders in one call and returns
	// per-item results in input order.
	BatchOrders(ctx context.Context, reqs []OrderRequest) ([]BatchResult, error)

	// BatchAmends amends up to MaxBatchSize open orders in one call.
	BatchAmends(ctx context.Context, reqs []AmendRequest) ([]BatchResult, error)

	// MaxBatchSize is the venue's per-call batch limit.
	MaxBatchSize() int

	// SequenceRule is the venue's book-delta numbering contract.
	SequenceRule() book.SequenceRule

	// Snapshot fetches a REST order-book snapshot, used to bootstrap and to
	// resynchronize after a gap.
	Snapshot(ctx context.Context, symbol string, depth int) (*events.BookSnapshot, error)

	// SubscribeMarket opens the public stream for the given symbols. The
	// channel stays open across reconnects; stop tears the stream down.
	SubscribeMarket(ctx context.Context, symbols []string) (<-chan events.MarketEvent, func(), error)

	// SubscribePrivate opens the authenticated order/position/wallet stream.
	SubscribePrivate(ctx context.Context) (<-chan events.PrivateEvent, func(), error)
}
