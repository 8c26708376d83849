package feed

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/unkuseni/rs-smm-v2/internal/book"
	"github.com/unkuseni/rs-smm-v2/internal/events"
	"github.com/unkuseni/rs-smm-v2/internal/logging"
	"github.com/unkuseni/rs-smm-v2/pkg/cache"
	"github.com/unkuseni/rs-smm-v2/pkg/exchanges/common"
)

// mockExchange feeds canned events and snapshots into the engine.
type mockExchange struct {
	rule      book.SequenceRule
	stream    chan events.MarketEvent
	snapCalls atomic.Int32
	snapFn    func(symbol string) *events.BookSnapshot
}

func (m *mockExchange) Name() string                                      { return "mock" }
func (m *mockExchange) SyncTime(context.Context) (time.Duration, error)   { return 0, nil }
func (m *mockExchange) MaxBatchSize() int                                 { return 10 }
func (m *mockExchange) SequenceRule() book.SequenceRule                   { return m.rule }
func (m *mockExchange) SetLeverage(context.Context, string, int) error    { return nil }
func (m *mockExchange) CancelOrder(context.Context, string, string) error { return nil }
func (m *mockExchange) CancelAll(context.Context, string) error           { return nil }

func (m *mockExchange) SymbolInfo(_ context.Context, symbol string) (common.SymbolInfo, error) {
	return common.SymbolInfo{Symbol: symbol, TickSize: 0.5, LotSize: 0.001, MinQty: 0.001, MinNotional: 5}, nil
}

func (m *mockExchange) Fees(context.Context, string) (common.FeeSchedule, error) {
	return common.FeeSchedule{}, nil
}

func (m *mockExchange) PlaceOrder(context.Context, common.OrderRequest) (common.OrderAck, error) {
	return common.OrderAck{}, nil
}

func (m *mockExchange) AmendOrder(context.Context, string, string, common.OrderChanges) (common.OrderAck, error) {
	return common.OrderAck{}, nil
}

func (m *mockExchange) BatchOrders(context.Context, []common.OrderRequest) ([]common.BatchResult, error) {
	return nil, nil
}

func (m *mockExchange) BatchAmends(context.Context, []common.AmendRequest) ([]common.BatchResult, error) {
	return nil, nil
}

func (m *mockExchange) Snapshot(_ context.Context, symbol string, _ int) (*events.BookSnapshot, error) {
	m.snapCalls.Add(1)
	return m.snapFn(symbol), nil
}

func (m *mockExchange) SubscribeMarket(context.Context, []string) (<-chan events.MarketEvent, func(), error) {
	return m.stream, func() {}, nil
}

func (m *mockExchange) SubscribePrivate(context.Context) (<-chan events.PrivateEvent, func(), error) {
	ch := make(chan events.PrivateEvent)
	return ch, func() { close(ch) }, nil
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not reached in time")
}

func delta(symbol string, start, end uint64, bids, asks []events.Level) events.MarketEvent {
	return events.MarketEvent{
		Venue: "mock",
		Delta: &events.BookDelta{
			Symbol:        symbol,
			Bids:          bids,
			Asks:          asks,
			SequenceStart: start,
			SequenceEnd:   end,
			Time:          time.Now(),
		},
	}
}

func TestBootstrapFromRESTSnapshot(t *testing.T) {
	mock := &mockExchange{
		rule:   book.SpanRule,
		stream: make(chan events.MarketEvent, 16),
		snapFn: func(symbol string) *events.BookSnapshot {
			return &events.BookSnapshot{
				Symbol:   symbol,
				Bids:     []events.Level{{Price: 100, Qty: 1}},
				Asks:     []events.Level{{Price: 101, Qty: 1}},
				Sequence: 10,
				Time:     time.Now(),
			}
		},
	}

	engine := New(mock, events.NewBus(), 50, nil, logging.Discard())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go engine.Run(ctx, []string{"BTCUSDT"})

	// A delta before any snapshot must trigger a REST bootstrap.
	mock.stream <- delta("BTCUSDT", 9, 10, []events.Level{{Price: 99, Qty: 5}}, nil)

	waitFor(t, func() bool {
		b, ok := engine.Book("BTCUSDT")
		return ok && b.State() == book.StateSynced
	})

	b, _ := engine.Book("BTCUSDT")
	// The buffered delta is a pre-snapshot duplicate and must not apply.
	bid, err := b.BestBid()
	if err != nil {
		t.Fatalf("BestBid: %v", err)
	}
	if bid.Price != 100 {
		t.Errorf("best bid = %v, want 100", bid.Price)
	}
	if got := b.Meta().TickSize; got != 0.5 {
		t.Errorf("Meta.TickSize = %v, want 0.5", got)
	}

	// The next covering delta applies normally.
	mock.stream <- delta("BTCUSDT", 11, 11, []events.Level{{Price: 100.5, Qty: 2}}, nil)
	waitFor(t, func() bool {
		bid, err := b.BestBid()
		return err == nil && bid.Price == 100.5
	})
}

func TestGapTriggersResync(t *testing.T) {
	var seq atomic.Uint64
	seq.Store(10)
	mock := &mockExchange{
		rule:   book.SpanRule,
		stream: make(chan events.MarketEvent, 16),
		snapFn: func(symbol string) *events.BookSnapshot {
			return &events.BookSnapshot{
				Symbol:   symbol,
				Bids:     []events.Level{{Price: 100, Qty: 1}},
				Asks:     []events.Level{{Price: 101, Qty: 1}},
				Sequence: seq.Load(),
				Time:     time.Now(),
			}
		},
	}

	engine := New(mock, events.NewBus(), 50, nil, logging.Discard())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go engine.Run(ctx, []string{"BTCUSDT"})

	mock.stream <- delta("BTCUSDT", 10, 10, nil, nil)
	waitFor(t, func() bool {
		b, ok := engine.Book("BTCUSDT")
		return ok && b.State() == book.StateSynced
	})
	if got := mock.snapCalls.Load(); got != 1 {
		t.Fatalf("snapshot calls = %d, want 1", got)
	}

	// Jump far ahead of seq 10: the book must clear and resync from a
	// fresh snapshot covering the gap.
	seq.Store(20)
	mock.stream <- delta("BTCUSDT", 15, 16, []events.Level{{Price: 99, Qty: 1}}, nil)

	waitFor(t, func() bool { return mock.snapCalls.Load() == 2 })
	waitFor(t, func() bool {
		b, _ := engine.Book("BTCUSDT")
		return b.State() == book.StateSynced && b.LastSequence() == 20
	})
}

func TestRestartPrunesRemovedSymbols(t *testing.T) {
	mock := &mockExchange{
		rule:   book.SpanRule,
		stream: make(chan events.MarketEvent, 16),
		snapFn: func(symbol string) *events.BookSnapshot { return &events.BookSnapshot{Symbol: symbol} },
	}
	engine := New(mock, events.NewBus(), 50, nil, logging.Discard())

	ctx1, cancel1 := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		engine.Run(ctx1, []string{"BTCUSDT"})
		close(done)
	}()
	waitFor(t, func() bool {
		_, ok := engine.Book("BTCUSDT")
		return ok
	})
	cancel1()
	<-done

	// A restart with a different symbol set must drop the old book so
	// readers see it as unsubscribed, not closed.
	mock.stream = make(chan events.MarketEvent, 16)
	ctx2, cancel2 := context.WithCancel(context.Background())
	defer cancel2()
	go engine.Run(ctx2, []string{"ETHUSDT"})

	waitFor(t, func() bool {
		_, ok := engine.Book("ETHUSDT")
		return ok
	})
	if _, ok := engine.Book("BTCUSDT"); ok {
		t.Error("stale book survived the restart")
	}
	syms := engine.Symbols()
	if len(syms) != 1 || syms[0] != "ETHUSDT" {
		t.Errorf("Symbols = %v, want [ETHUSDT]", syms)
	}
}

func TestTradesAndTickersReachBus(t *testing.T) {
	mock := &mockExchange{
		rule:   book.SpanRule,
		stream: make(chan events.MarketEvent, 16),
		snapFn: func(symbol string) *events.BookSnapshot { return &events.BookSnapshot{Symbol: symbol} },
	}

	bus := events.NewBus()
	trades, unsub := bus.Subscribe(events.TopicTrade, 8)
	defer unsub()

	quotes := cache.NewQuoteCache()
	engine := New(mock, bus, 50, quotes, logging.Discard())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go engine.Run(ctx, []string{"BTCUSDT"})

	mock.stream <- events.MarketEvent{
		Venue: "mock",
		Trade: &events.Trade{Symbol: "BTCUSDT", Price: 100, Qty: 0.5, Side: events.SideBuy},
	}

	select {
	case raw := <-trades:
		tr, ok := raw.(events.Trade)
		if !ok {
			t.Fatalf("payload type = %T, want events.Trade", raw)
		}
		if tr.Price != 100 || tr.Side != events.SideBuy {
			t.Errorf("trade = %+v", tr)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("no trade on bus")
	}

	waitFor(t, func() bool {
		q, ok := quotes.Get("BTCUSDT")
		return ok && q.LastPrice == 100
	})
}
