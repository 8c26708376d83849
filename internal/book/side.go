package book

import "sort"

// Level is one stored price level. Qty is always strictly positive; removal
// is expressed by deleting the level, never by storing zero.
type Level struct {
	Price float64
	Qty   float64
	Seq   uint64
}

// Side is a price-ordered ledger of levels with unique prices. Bids are kept
// descending, asks ascending, so the best level is always index zero.
type Side struct {
	levels []Level
	desc   bool
}

// NewBidSide returns a ledger ordered high-to-low.
func NewBidSide() *Side { return &Side{desc: true} }

// NewAskSide returns a ledger ordered low-to-high.
func NewAskSide() *Side { return &Side{desc: false} }

// Len returns the number of stored levels.
func (s *Side) Len() int { return len(s.levels) }

// Best returns the top level. ok is false when the side is empty.
func (s *Side) Best() (Level, bool) {
	if len(s.levels) == 0 {
		return Level{}, false
	}
	return s.levels[0], true
}

// search returns the insertion index for price and whether it is present.
func (s *Side) search(price float64) (int, bool) {
	i := sort.Search(len(s.levels), func(i int) bool {
		if s.desc {
			return s.levels[i].Price <= price
		}
		return s.levels[i].Price >= price
	})
	found := i < len(s.levels) && s.levels[i].Price == price
	return i, found
}

// Set inserts or replaces the level at price. Qty 0 removes it.
func (s *Side) Set(price, qty float64, seq uint64) {
	i, found := s.search(price)
	if qty == 0 {
		if found {
			s.levels = append(s.levels[:i], s.levels[i+1:]...)
		}
		return
	}
	if found {
		s.levels[i].Qty = qty
		s.levels[i].Seq = seq
		return
	}
	s.levels = append(s.levels, Level{})
	copy(s.levels[i+1:], s.levels[i:])
	s.levels[i] = Level{Price: price, Qty: qty, Seq: seq}
}

// Get returns the level at price, if present.
func (s *Side) Get(price float64) (Level, bool) {
	i, found := s.search(price)
	if !found {
		return Level{}, false
	}
	return s.levels[i], true
}

// Top copies out the first n levels in book order.
func (s *Side) Top(n int) []Level {
	if n > len(s.levels) {
		n = len(s.levels)
	}
	out := make([]Level, n)
	copy(out, s.levels[:n])
	return out
}

// Clear drops every level.
func (s *Side) Clear() { s.levels = s.levels[:0] }
