// Package feed keeps one synchronized local book per subscribed symbol,
// consuming a venue's market stream and recovering from sequence gaps with
// REST snapshots.
package feed

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/unkuseni/rs-smm-v2/internal/book"
	"github.com/unkuseni/rs-smm-v2/internal/events"
	"github.com/unkuseni/rs-smm-v2/internal/logging"
	"github.com/unkuseni/rs-smm-v2/pkg/cache"
	"github.com/unkuseni/rs-smm-v2/pkg/exchanges/common"
)

// pendingCap bounds the per-symbol delta buffer while a snapshot is in
// flight; beyond it the oldest deltas are dropped, which at worst forces one
// more resync.
const pendingCap = 1024

const snapshotTimeout = 10 * time.Second

// Engine owns every book for one venue. All book writes happen on the Run
// goroutine; readers go through Book.
type Engine struct {
	ex     common.Exchange
	bus    *events.Bus
	log    *logging.Logger
	depth  int
	quotes *cache.QuoteCache

	mu    sync.RWMutex
	books map[string]*book.Book

	// single-writer state, touched only inside Run
	pending  map[string][]*events.BookDelta
	inflight map[string]bool
	snapCh   chan snapResult
}

type snapResult struct {
	symbol string
	snap   *events.BookSnapshot
	err    error
}

// New creates a feed engine over one venue adapter. quotes may be nil when
// no last-quote cache is wanted.
func New(ex common.Exchange, bus *events.Bus, depth int, quotes *cache.QuoteCache, log *logging.Logger) *Engine {
	if log == nil {
		log = logging.Discard()
	}
	if depth <= 0 {
		depth = 50
	}
	return &Engine{
		ex:       ex,
		bus:      bus,
		log:      log.With("feed"),
		depth:    depth,
		quotes:   quotes,
		books:    make(map[string]*book.Book),
		pending:  make(map[string][]*events.BookDelta),
		inflight: make(map[string]bool),
		snapCh:   make(chan snapResult, 16),
	}
}

// Book returns the live book for a symbol.
func (e *Engine) Book(symbol string) (*book.Book, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	b, ok := e.books[symbol]
	return b, ok
}

// Symbols lists the currently maintained symbols.
func (e *Engine) Symbols() []string {
	e.mu.RLock()
	defer e.mu.RUnlock()
	out := make([]string, 0, len(e.books))
	for s := range e.books {
		out = append(out, s)
	}
	return out
}

// Run subscribes to the market stream and maintains the books until ctx is
// cancelled or the stream ends. Symbol constraints are fetched up front and
// attached to each book.
func (e *Engine) Run(ctx context.Context, symbols []string) error {
	e.prune(symbols)

	rule := e.ex.SequenceRule()
	for _, s := range symbols {
		b := book.New(e.ex.Name(), s, rule)
		if info, err := e.ex.SymbolInfo(ctx, s); err != nil {
			e.log.Warning("symbol info for %s: %v", s, err)
		} else {
			b.SetMeta(book.Meta{
				TickSize:    info.TickSize,
				LotSize:     info.LotSize,
				MinNotional: info.MinNotional,
				MinQty:      info.MinQty,
				PostOnlyMax: info.PostOnlyMax,
			})
		}
		e.mu.Lock()
		e.books[s] = b
		e.mu.Unlock()
	}
	defer e.closeBooks()

	stream, stop, err := e.ex.SubscribeMarket(ctx, symbols)
	if err != nil {
		return err
	}
	defer stop()

	e.log.Success("market stream up for %d symbols on %s", len(symbols), e.ex.Name())

	for {
		select {
		case <-ctx.Done():
			return nil
		case r := <-e.snapCh:
			e.handleSnapshotResult(ctx, r)
		case ev, ok := <-stream:
			if !ok {
				return errors.New("feed: market stream closed")
			}
			e.dispatch(ctx, ev)
		}
	}
}

// prune drops books left over from a previous run whose symbols are no
// longer subscribed, so restarting with a new symbol set does not leak
// closed books to readers.
func (e *Engine) prune(symbols []string) {
	want := make(map[string]bool, len(symbols))
	for _, s := range symbols {
		want[s] = true
	}
	e.mu.Lock()
	for s, b := range e.books {
		if !want[s] {
			b.Close()
			delete(e.books, s)
			delete(e.pending, s)
			delete(e.inflight, s)
		}
	}
	e.mu.Unlock()
}

func (e *Engine) closeBooks() {
	e.mu.Lock()
	defer e.mu.Unlock()
	for _, b := range e.books {
		b.Close()
	}
}

func (e *Engine) dispatch(ctx context.Context, ev events.MarketEvent) {
	switch {
	case ev.Trade != nil:
		e.quotes.ApplyTrade(ev.Trade.Symbol, ev.Trade.Price, ev.Trade.Qty, ev.Trade.Time)
		e.bus.Publish(events.TopicTrade, *ev.Trade)
	case ev.Ticker != nil:
		e.bus.Publish(events.TopicTicker, *ev.Ticker)
	case ev.Snapshot != nil:
		e.applySnapshot(ctx, ev.Snapshot)
	case ev.Delta != nil:
		e.applyDelta(ctx, ev.Delta)
	}
}

func (e *Engine) applySnapshot(ctx context.Context, s *events.BookSnapshot) {
	b, ok := e.Book(s.Symbol)
	if !ok {
		return
	}
	if err := b.ApplySnapshot(s); err != nil {
		e.log.Error("apply snapshot %s: %v", s.Symbol, err)
		return
	}
	e.replayPending(ctx, s.Symbol, b)
	e.publishTop(b)
}

func (e *Engine) applyDelta(ctx context.Context, d *events.BookDelta) {
	b, ok := e.Book(d.Symbol)
	if !ok {
		return
	}

	if b.State() != book.StateSynced {
		e.buffer(d.Symbol, d)
		e.requestSnapshot(ctx, d.Symbol)
		return
	}

	err := b.ApplyDelta(d)
	switch {
	case err == nil:
		e.publishTop(b)
	case errors.Is(err, book.ErrSequenceGap):
		e.log.Warning("%s %s: %v", b.Venue(), d.Symbol, err)
		e.buffer(d.Symbol, d)
		e.requestSnapshot(ctx, d.Symbol)
	case errors.Is(err, book.ErrClosed):
	default:
		e.log.Error("apply delta %s: %v", d.Symbol, err)
	}
}

func (e *Engine) buffer(symbol string, d *events.BookDelta) {
	q := e.pending[symbol]
	if len(q) >= pendingCap {
		q = q[1:]
	}
	e.pending[symbol] = append(q, d)
}

// requestSnapshot fetches a REST snapshot off the loop goroutine; the result
// comes back through snapCh so book writes stay on one goroutine.
func (e *Engine) requestSnapshot(ctx context.Context, symbol string) {
	if e.inflight[symbol] {
		return
	}
	e.inflight[symbol] = true
	go func() {
		sctx, cancel := context.WithTimeout(ctx, snapshotTimeout)
		defer cancel()
		snap, err := e.ex.Snapshot(sctx, symbol, e.depth)
		select {
		case e.snapCh <- snapResult{symbol: symbol, snap: snap, err: err}:
		case <-ctx.Done():
		}
	}()
}

func (e *Engine) handleSnapshotResult(ctx context.Context, r snapResult) {
	e.inflight[r.symbol] = false
	if r.err != nil {
		e.log.Error("snapshot %s: %v", r.symbol, r.err)
		// The next delta retriggers the request.
		return
	}
	b, ok := e.Book(r.symbol)
	if !ok {
		return
	}
	if err := b.ApplySnapshot(r.snap); err != nil {
		e.log.Error("apply snapshot %s: %v", r.symbol, err)
		return
	}
	e.replayPending(ctx, r.symbol, b)
	if b.State() == book.StateSynced {
		e.log.Success("%s %s resynced at seq %d", b.Venue(), r.symbol, b.LastSequence())
		e.publishTop(b)
	}
}

// replayPending applies the deltas buffered while the snapshot was in
// flight. Pre-snapshot duplicates fall out via the sequence rule; a gap in
// the middle of the buffer restarts the resync.
func (e *Engine) replayPending(ctx context.Context, symbol string, b *book.Book) {
	queue := e.pending[symbol]
	e.pending[symbol] = nil
	for i, d := range queue {
		err := b.ApplyDelta(d)
		if err == nil {
			continue
		}
		if errors.Is(err, book.ErrSequenceGap) {
			e.log.Warning("%s %s: gap during replay: %v", b.Venue(), symbol, err)
			e.pending[symbol] = append(e.pending[symbol], queue[i:]...)
			e.requestSnapshot(ctx, symbol)
			return
		}
		e.log.Error("replay delta %s: %v", symbol, err)
	}
}

func (e *Engine) publishTop(b *book.Book) {
	bid, err := b.BestBid()
	if err != nil {
		return
	}
	ask, err := b.BestAsk()
	if err != nil {
		return
	}
	e.quotes.ApplyTop(b.Symbol(), bid.Price, ask.Price, b.LastUpdate())
	e.bus.Publish(events.TopicBookTop, events.Ticker{
		Symbol:  b.Symbol(),
		BestBid: bid.Price,
		BidQty:  bid.Qty,
		BestAsk: ask.Price,
		AskQty:  ask.Qty,
		Time:    b.LastUpdate(),
	})
}
