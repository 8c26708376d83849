package book

import "github.com/unkuseni/rs-smm-v2/pkg/num"

// Derived book metrics. All of them require StateSynced and both sides to be
// non-empty; otherwise the not-ready error is returned.

// MidPrice returns (bestBid + bestAsk) / 2.
func (b *Book) MidPrice() (float64, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	bid, ask, err := b.bba()
	if err != nil {
		return 0, err
	}
	return (bid.Price + ask.Price) / 2, nil
}

// Spread returns bestAsk - bestBid.
func (b *Book) Spread() (float64, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	bid, ask, err := b.bba()
	if err != nil {
		return 0, err
	}
	return ask.Price - bid.Price, nil
}

// SpreadInTicks returns the spread divided by the symbol tick size.
func (b *Book) SpreadInTicks() (float64, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	bid, ask, err := b.bba()
	if err != nil {
		return 0, err
	}
	if b.meta.TickSize == 0 {
		return 0, ErrNotSynced
	}
	return (ask.Price - bid.Price) / b.meta.TickSize, nil
}

// Imbalance returns (sum bid qty - sum ask qty) / (sum of both) over the top
// depth levels of each side. Range [-1, 1]; 0 when both sides are empty at
// the requested depth.
func (b *Book) Imbalance(depth int) (float64, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if err := b.readable(); err != nil {
		return 0, err
	}
	var bidQty, askQty float64
	for _, l := range b.bids.Top(depth) {
		bidQty += l.Qty
	}
	for _, l := range b.asks.Top(depth) {
		askQty += l.Qty
	}
	sum := bidQty + askQty
	if sum == 0 {
		return 0, nil
	}
	return (bidQty - askQty) / sum, nil
}

// WeightedMid returns the imbalance-weighted mid price: with w the share of
// decay-weighted bid quantity, bestBid*(1-w) + bestAsk*w. depth <= 0 uses
// only the best levels.
func (b *Book) WeightedMid(depth int) (float64, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	bid, ask, err := b.bba()
	if err != nil {
		return 0, err
	}
	bidQty, askQty := b.weightedQtys(depth, bid, ask)
	sum := bidQty + askQty
	if sum == 0 {
		return (bid.Price + ask.Price) / 2, nil
	}
	w := bidQty / sum
	return bid.Price*(1-w) + ask.Price*w, nil
}

// Microprice returns the quantity-weighted price leaning toward the thin
// side: bestAsk*r + bestBid*(1-r) with r the bid share of weighted quantity.
func (b *Book) Microprice(depth int) (float64, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	bid, ask, err := b.bba()
	if err != nil {
		return 0, err
	}
	bidQty, askQty := b.weightedQtys(depth, bid, ask)
	sum := bidQty + askQty
	if sum == 0 {
		return (bid.Price + ask.Price) / 2, nil
	}
	r := bidQty / sum
	return ask.Price*r + bid.Price*(1-r), nil
}

// EffectiveSpread returns the distance between the touch and the mid: for a
// buy, bestBid - mid; for a sell, mid - bestAsk.
func (b *Book) EffectiveSpread(isBuy bool) (float64, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	bid, ask, err := b.bba()
	if err != nil {
		return 0, err
	}
	mid := (bid.Price + ask.Price) / 2
	if isBuy {
		return bid.Price - mid, nil
	}
	return mid - ask.Price, nil
}

// WeightedBid returns the exponentially decayed bid quantity over the top
// depth levels: sum of qty_i * e^(-rate*i).
func (b *Book) WeightedBid(depth int, decayRate float64) (float64, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if err := b.readable(); err != nil {
		return 0, err
	}
	return decayedQty(b.bids.Top(depth), decayRate), nil
}

// WeightedAsk is the ask-side counterpart of WeightedBid.
func (b *Book) WeightedAsk(depth int, decayRate float64) (float64, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if err := b.readable(); err != nil {
		return 0, err
	}
	return decayedQty(b.asks.Top(depth), decayRate), nil
}

// weightedQtys returns decay-weighted side quantities over depth levels, or
// the raw best quantities when depth <= 0. Caller holds the read lock.
func (b *Book) weightedQtys(depth int, bid, ask Level) (bidQty, askQty float64) {
	if depth <= 0 {
		return bid.Qty, ask.Qty
	}
	return decayedQty(b.bids.Top(depth), 0.5), decayedQty(b.asks.Top(depth), 0.5)
}

func decayedQty(levels []Level, rate float64) float64 {
	var total float64
	for i, l := range levels {
		total += num.Decay(float64(i), rate) * l.Qty
	}
	return total
}
