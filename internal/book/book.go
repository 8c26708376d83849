package book

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/unkuseni/rs-smm-v2/internal/events"
)

// State tracks where a book is in its synchronization lifecycle.
type State int

const (
	StateUninitialized State = iota
	StateResyncing
	StateSynced
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateUninitialized:
		return "uninitialized"
	case StateResyncing:
		return "resyncing"
	case StateSynced:
		return "synced"
	case StateClosed:
		return "closed"
	}
	return "unknown"
}

var (
	// ErrSequenceGap reports a missed update. The book has already cleared
	// itself and moved to StateResyncing; the caller must fetch a snapshot.
	ErrSequenceGap = errors.New("book: sequence gap detected")
	// ErrNotSynced is returned by metric accessors before the first snapshot
	// or while resynchronizing.
	ErrNotSynced = errors.New("book: not synced")
	// ErrClosed is returned once the book was discarded on unsubscribe.
	ErrClosed = errors.New("book: closed")
	// ErrEmptySide is returned when a best-level metric needs a side that has
	// no levels.
	ErrEmptySide = errors.New("book: empty side")
)

// Meta carries venue symbol constraints, attached at subscribe time.
type Meta struct {
	TickSize    float64
	LotSize     float64
	MinNotional float64
	MinQty      float64
	PostOnlyMax float64
}

// Book is the local replica of one symbol's order book, rebuilt from a
// snapshot and a stream of deltas. It has exactly one writer (the adapter's
// market-stream task); the RWMutex exists so concurrent readers never observe
// a half-applied delta.
type Book struct {
	mu sync.RWMutex

	symbol string
	venue  string
	rule   SequenceRule
	meta   Meta

	bids *Side
	asks *Side

	state   State
	lastSeq uint64
	lastAt  time.Time
}

// New creates a book for symbol and enters StateResyncing: nothing may be
// read until the first snapshot lands.
func New(venue, symbol string, rule SequenceRule) *Book {
	if rule == nil {
		rule = ConsecutiveRule
	}
	return &Book{
		symbol: symbol,
		venue:  venue,
		rule:   rule,
		bids:   NewBidSide(),
		asks:   NewAskSide(),
		state:  StateResyncing,
	}
}

// Symbol returns the book's symbol.
func (b *Book) Symbol() string { return b.symbol }

// Venue returns the owning venue name.
func (b *Book) Venue() string { return b.venue }

// State returns the current synchronization state.
func (b *Book) State() State {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.state
}

// LastSequence returns the last applied sequence number.
func (b *Book) LastSequence() uint64 {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.lastSeq
}

// LastUpdate returns the exchange timestamp of the last applied event.
func (b *Book) LastUpdate() time.Time {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.lastAt
}

// SetMeta attaches symbol constraints. Done once after subscribe, before the
// book is handed to readers.
func (b *Book) SetMeta(m Meta) {
	b.mu.Lock()
	b.meta = m
	b.mu.Unlock()
}

// Meta returns the attached symbol constraints.
func (b *Book) Meta() Meta {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.meta
}

// ApplySnapshot replaces both sides wholesale and transitions to StateSynced.
// Zero-quantity levels in the snapshot are skipped.
func (b *Book) ApplySnapshot(s *events.BookSnapshot) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.state == StateClosed {
		return ErrClosed
	}

	b.bids.Clear()
	b.asks.Clear()
	for _, l := range s.Bids {
		if l.Qty > 0 {
			b.bids.Set(l.Price, l.Qty, s.Sequence)
		}
	}
	for _, l := range s.Asks {
		if l.Qty > 0 {
			b.asks.Set(l.Price, l.Qty, s.Sequence)
		}
	}
	b.lastSeq = s.Sequence
	b.lastAt = s.Time
	b.state = StateSynced
	return nil
}

// ApplyDelta applies one incremental update.
//
// Duplicates (per the venue rule) are a silent no-op. A detected gap clears
// both sides, moves the book to StateResyncing and returns ErrSequenceGap
// without applying any part of the triggering delta; the caller is expected
// to request a fresh snapshot.
func (b *Book) ApplyDelta(d *events.BookDelta) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case StateClosed:
		return ErrClosed
	case StateUninitialized, StateResyncing:
		return ErrNotSynced
	}

	switch b.rule(b.lastSeq, d.SequenceStart, d.SequenceEnd) {
	case VerdictDuplicate:
		return nil
	case VerdictGap:
		b.bids.Clear()
		b.asks.Clear()
		b.state = StateResyncing
		return fmt.Errorf("%w: last=%d incoming=[%d,%d]", ErrSequenceGap, b.lastSeq, d.SequenceStart, d.SequenceEnd)
	}

	for _, l := range d.Bids {
		b.bids.Set(l.Price, l.Qty, d.SequenceEnd)
	}
	for _, l := range d.Asks {
		b.asks.Set(l.Price, l.Qty, d.SequenceEnd)
	}
	b.lastSeq = d.SequenceEnd
	b.lastAt = d.Time
	return nil
}

// Close marks the book discarded. Every later operation fails with ErrClosed.
func (b *Book) Close() {
	b.mu.Lock()
	b.bids.Clear()
	b.asks.Clear()
	b.state = StateClosed
	b.mu.Unlock()
}

// BestBid returns the highest bid level.
func (b *Book) BestBid() (Level, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if err := b.readable(); err != nil {
		return Level{}, err
	}
	l, ok := b.bids.Best()
	if !ok {
		return Level{}, ErrEmptySide
	}
	return l, nil
}

// BestAsk returns the lowest ask level.
func (b *Book) BestAsk() (Level, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if err := b.readable(); err != nil {
		return Level{}, err
	}
	l, ok := b.asks.Best()
	if !ok {
		return Level{}, ErrEmptySide
	}
	return l, nil
}

// Depth copies out the top n levels of both sides in book order.
func (b *Book) Depth(n int) (bids, asks []Level, err error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if err := b.readable(); err != nil {
		return nil, nil, err
	}
	return b.bids.Top(n), b.asks.Top(n), nil
}

// readable must be called with at least the read lock held.
func (b *Book) readable() error {
	switch b.state {
	case StateClosed:
		return ErrClosed
	case StateSynced:
		return nil
	}
	return ErrNotSynced
}

// bba returns both best levels or an error. Caller holds the read lock.
func (b *Book) bba() (bid, ask Level, err error) {
	if err := b.readable(); err != nil {
		return Level{}, Level{}, err
	}
	bb, ok := b.bids.Best()
	if !ok {
		return Level{}, Level{}, ErrEmptySide
	}
	ba, ok := b.asks.Best()
	if !ok {
		return Level{}, Level{}, ErrEmptySide
	}
	return bb, ba, nil
}
