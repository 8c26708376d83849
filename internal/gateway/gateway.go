// Package gateway is the order entry path: local validation against venue
// constraints, batch chunking, client id assignment and order state
// tracking from the private stream.
package gateway

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/unkuseni/rs-smm-v2/internal/events"
	"github.com/unkuseni/rs-smm-v2/internal/logging"
	"github.com/unkuseni/rs-smm-v2/pkg/db"
	"github.com/unkuseni/rs-smm-v2/pkg/exchanges/common"
)

// ErrUnknownSymbol is returned when no constraints could be fetched for the
// order's symbol.
var ErrUnknownSymbol = errors.New("gateway: unknown symbol")

// Order is the gateway's view of one tracked order.
type Order struct {
	Request   common.OrderRequest
	VenueID   string
	Status    events.OrderStatus
	FilledQty float64
	AvgPrice  float64
	UpdatedAt time.Time
}

// Gateway fronts one venue for order entry.
type Gateway struct {
	ex    common.Exchange
	store *db.Store
	bus   *events.Bus
	log   *logging.Logger

	mu      sync.RWMutex
	symbols map[string]common.SymbolInfo
	orders  map[string]*Order // by client id
}

// New creates a gateway over one venue adapter. store may be nil to skip
// persistence.
func New(ex common.Exchange, store *db.Store, bus *events.Bus, log *logging.Logger) *Gateway {
	if log == nil {
		log = logging.Discard()
	}
	return &Gateway{
		ex:      ex,
		store:   store,
		bus:     bus,
		log:     log.With("gateway"),
		symbols: make(map[string]common.SymbolInfo),
		orders:  make(map[string]*Order),
	}
}

// symbolInfo returns the cached constraints for a symbol, fetching them on
// first use.
func (g *Gateway) symbolInfo(ctx context.Context, symbol string) (common.SymbolInfo, error) {
	g.mu.RLock()
	info, ok := g.symbols[symbol]
	g.mu.RUnlock()
	if ok {
		return info, nil
	}
	info, err := g.ex.SymbolInfo(ctx, symbol)
	if err != nil {
		return common.SymbolInfo{}, errors.Join(ErrUnknownSymbol, err)
	}
	g.mu.Lock()
	g.symbols[symbol] = info
	g.mu.Unlock()
	return info, nil
}

// Order returns the tracked state of one order.
func (g *Gateway) Order(clientID string) (Order, bool) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	o, ok := g.orders[clientID]
	if !ok {
		return Order{}, false
	}
	return *o, true
}

// OpenOrders lists every tracked order not yet in a terminal state.
func (g *Gateway) OpenOrders() []Order {
	g.mu.RLock()
	defer g.mu.RUnlock()
	var out []Order
	for _, o := range g.orders {
		if !o.Status.Terminal() {
			out = append(out, *o)
		}
	}
	return out
}

// PlaceOrder validates and submits one order. An empty ClientID gets a
// generated one; the caller finds it in the returned ack.
func (g *Gateway) PlaceOrder(ctx context.Context, req common.OrderRequest) (common.OrderAck, error) {
	info, err := g.symbolInfo(ctx, req.Symbol)
	if err != nil {
		return common.OrderAck{}, err
	}
	if err := validate(req, info); err != nil {
		return common.OrderAck{}, err
	}
	if req.ClientID == "" {
		req.ClientID = uuid.NewString()
	}

	g.track(req)
	ack, err := g.ex.PlaceOrder(ctx, req)
	if err != nil {
		g.markRejected(req.ClientID, err)
		return common.OrderAck{}, err
	}
	g.acknowledge(ack)
	g.persistNew(ctx, req, ack)
	return ack, nil
}

// PlaceBatch validates and submits a batch of any size, splitting it into
// venue-sized chunks in input order. Items that fail validation never reach
// the wire; their slots carry the validation error.
func (g *Gateway) PlaceBatch(ctx context.Context, reqs []common.OrderRequest) []common.BatchResult {
	results := make([]common.BatchResult, len(reqs))

	// Indexes of requests that passed validation, in input order.
	var sendIdx []int
	for i := range reqs {
		info, err := g.symbolInfo(ctx, reqs[i].Symbol)
		if err == nil {
			err = validate(reqs[i], info)
		}
		if err != nil {
			results[i].Err = err
			continue
		}
		if reqs[i].ClientID == "" {
			reqs[i].ClientID = uuid.NewString()
		}
		sendIdx = append(sendIdx, i)
	}

	for _, idxChunk := range chunk(sendIdx, g.ex.MaxBatchSize()) {
		batch := make([]common.OrderRequest, len(idxChunk))
		for j, idx := range idxChunk {
			batch[j] = reqs[idx]
			g.track(reqs[idx])
		}
		acks, err := g.ex.BatchOrders(ctx, batch)
		if err != nil {
			for _, idx := range idxChunk {
				results[idx].Err = err
				g.markRejected(reqs[idx].ClientID, err)
			}
			continue
		}
		for j, idx := range idxChunk {
			results[idx] = acks[j]
			if acks[j].Err != nil {
				g.markRejected(reqs[idx].ClientID, acks[j].Err)
				continue
			}
			g.acknowledge(acks[j].Ack)
			g.persistNew(ctx, reqs[idx], acks[j].Ack)
		}
	}
	return results
}

// AmendOrder validates and submits one amendment, addressed by client id.
func (g *Gateway) AmendOrder(ctx context.Context, clientID string, ch common.OrderChanges) (common.OrderAck, error) {
	g.mu.RLock()
	o, ok := g.orders[clientID]
	g.mu.RUnlock()
	if !ok {
		return common.OrderAck{}, &common.ValidationError{Field: "clientID", Reason: "unknown order"}
	}
	info, err := g.symbolInfo(ctx, o.Request.Symbol)
	if err != nil {
		return common.OrderAck{}, err
	}
	if err := validateAmend(ch, info); err != nil {
		return common.OrderAck{}, err
	}
	return g.ex.AmendOrder(ctx, o.VenueID, o.Request.Symbol, ch)
}

// AmendBatch submits amendments of any size in venue-sized chunks.
func (g *Gateway) AmendBatch(ctx context.Context, reqs []common.AmendRequest) []common.BatchResult {
	results := make([]common.BatchResult, len(reqs))

	var sendIdx []int
	for i := range reqs {
		info, err := g.symbolInfo(ctx, reqs[i].Symbol)
		if err == nil {
			err = validateAmend(reqs[i].Changes, info)
		}
		if err != nil {
			results[i].Err = err
			continue
		}
		sendIdx = append(sendIdx, i)
	}

	for _, idxChunk := range chunk(sendIdx, g.ex.MaxBatchSize()) {
		batch := make([]common.AmendRequest, len(idxChunk))
		for j, idx := range idxChunk {
			batch[j] = reqs[idx]
		}
		acks, err := g.ex.BatchAmends(ctx, batch)
		if err != nil {
			for _, idx := range idxChunk {
				results[idx].Err = err
			}
			continue
		}
		for j, idx := range idxChunk {
			results[idx] = acks[j]
		}
	}
	return results
}

// CancelOrder cancels one order by client id.
func (g *Gateway) CancelOrder(ctx context.Context, clientID string) error {
	g.mu.RLock()
	o, ok := g.orders[clientID]
	g.mu.RUnlock()
	if !ok {
		return &common.ValidationError{Field: "clientID", Reason: "unknown order"}
	}
	return g.ex.CancelOrder(ctx, o.VenueID, o.Request.Symbol)
}

// CancelAll cancels every open order on a symbol.
func (g *Gateway) CancelAll(ctx context.Context, symbol string) error {
	return g.ex.CancelAll(ctx, symbol)
}

// Run consumes the private stream, reconciling tracked order state and
// persisting fills, until ctx is cancelled or the stream ends.
func (g *Gateway) Run(ctx context.Context) error {
	stream, stop, err := g.ex.SubscribePrivate(ctx)
	if err != nil {
		return err
	}
	defer stop()

	g.log.Success("private stream up on %s", g.ex.Name())

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-stream:
			if !ok {
				return errors.New("gateway: private stream closed")
			}
			g.handlePrivate(ctx, ev)
		}
	}
}

func (g *Gateway) handlePrivate(ctx context.Context, ev events.PrivateEvent) {
	switch {
	case ev.Order != nil:
		g.applyOrderUpdate(ctx, ev.Order)
		g.bus.Publish(events.TopicOrder, *ev.Order)
	case ev.Fill != nil:
		g.applyFill(ctx, ev.Fill)
	case ev.Position != nil:
		g.bus.Publish(events.TopicPosition, *ev.Position)
	case ev.Wallet != nil:
		g.bus.Publish(events.TopicWallet, *ev.Wallet)
	}
}

// applyOrderUpdate folds a venue state change into the tracked order.
// Updates arriving after a terminal state are ignored.
func (g *Gateway) applyOrderUpdate(ctx context.Context, u *events.OrderUpdate) {
	g.mu.Lock()
	o, ok := g.orders[u.ClientID]
	if !ok {
		// An order placed outside this process; track it anyway.
		o = &Order{Request: common.OrderRequest{
			ClientID: u.ClientID,
			Symbol:   u.Symbol,
			Side:     u.Side,
			Price:    u.Price,
			Qty:      u.Qty,
		}}
		g.orders[u.ClientID] = o
	}
	if o.Status.Terminal() {
		g.mu.Unlock()
		return
	}
	o.VenueID = u.VenueID
	o.Status = u.Status
	o.FilledQty = u.FilledQty
	o.AvgPrice = u.AvgPrice
	o.UpdatedAt = u.Time
	g.mu.Unlock()

	if u.Status == events.StatusRejected {
		g.log.Warning("order %s rejected: %s", u.ClientID, u.Reason)
	}
	if g.store != nil {
		if err := g.store.UpdateOrderStatus(ctx, u.ClientID, u.VenueID, string(u.Status), u.FilledQty); err != nil && !errors.Is(err, db.ErrNotFound) {
			g.log.Error("persist order update %s: %v", u.ClientID, err)
		}
	}
}

func (g *Gateway) applyFill(ctx context.Context, f *events.FillUpdate) {
	g.bus.Publish(events.TopicFill, *f)
	if g.store == nil {
		return
	}
	err := g.store.InsertFill(ctx, db.Fill{
		ClientID: f.ClientID,
		Symbol:   f.Symbol,
		Side:     string(f.Side),
		Price:    f.Price,
		Qty:      f.Qty,
		Fee:      f.Fee,
		IsMaker:  f.IsMaker,
	})
	if err != nil {
		g.log.Error("persist fill %s: %v", f.ClientID, err)
	}
}

func (g *Gateway) track(req common.OrderRequest) {
	g.mu.Lock()
	g.orders[req.ClientID] = &Order{
		Request:   req,
		Status:    events.StatusNew,
		UpdatedAt: time.Now(),
	}
	g.mu.Unlock()
}

func (g *Gateway) acknowledge(ack common.OrderAck) {
	g.mu.Lock()
	if o, ok := g.orders[ack.ClientID]; ok && !o.Status.Terminal() {
		o.VenueID = ack.VenueID
		o.Status = ack.Status
		o.UpdatedAt = time.Now()
	}
	g.mu.Unlock()
}

func (g *Gateway) markRejected(clientID string, err error) {
	g.mu.Lock()
	if o, ok := g.orders[clientID]; ok {
		o.Status = events.StatusRejected
		o.UpdatedAt = time.Now()
	}
	g.mu.Unlock()
	if common.IsRejection(err) {
		g.log.Warning("order %s rejected by venue: %v", clientID, err)
	}
}

func (g *Gateway) persistNew(ctx context.Context, req common.OrderRequest, ack common.OrderAck) {
	if g.store == nil {
		return
	}
	err := g.store.InsertOrder(ctx, db.Order{
		ClientID: req.ClientID,
		VenueID:  ack.VenueID,
		Venue:    g.ex.Name(),
		Symbol:   req.Symbol,
		Side:     string(req.Side),
		Type:     string(req.Type),
		Price:    req.Price,
		Qty:      req.Qty,
		Status:   string(ack.Status),
	})
	if err != nil {
		g.log.Error("persist order %s: %v", req.ClientID, err)
	}
}

// chunk splits items into consecutive groups of at most size, preserving
// order.
func chunk[T any](items []T, size int) [][]T {
	if size <= 0 {
		size = 1
	}
	var out [][]T
	for len(items) > size {
		out = append(out, items[:size])
		items = items[size:]
	}
	if len(items) > 0 {
		out = append(out, items)
	}
	return out
}
