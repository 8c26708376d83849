// Package cache provides a sharded last-quote cache. The feed engine writes
// on every trade and book-top update; API handlers and strategy code read
// without touching the book's write path.
package cache

import (
	"hash/fnv"
	"sync"
	"time"
)

const shardCount = 16

// Quote is the most recent view of a symbol: last traded price and the top
// of book. Fields that have not been observed yet are zero.
type Quote struct {
	LastPrice float64
	LastQty   float64
	BestBid   float64
	BestAsk   float64
	UpdatedAt time.Time
}

type shard struct {
	mu     sync.RWMutex
	quotes map[string]Quote
}

// QuoteCache is safe for concurrent use. Symbols are spread over a fixed
// number of shards so hot symbols do not contend on one lock.
type QuoteCache struct {
	shards [shardCount]*shard
}

// NewQuoteCache creates an empty cache.
func NewQuoteCache() *QuoteCache {
	c := &QuoteCache{}
	for i := range c.shards {
		c.shards[i] = &shard{quotes: make(map[string]Quote)}
	}
	return c
}

func (c *QuoteCache) shardFor(symbol string) *shard {
	h := fnv.New32a()
	h.Write([]byte(symbol))
	return c.shards[h.Sum32()%shardCount]
}

// ApplyTrade records the last traded price and size for a symbol.
func (c *QuoteCache) ApplyTrade(symbol string, price, qty float64, at time.Time) {
	if c == nil {
		return
	}
	s := c.shardFor(symbol)
	s.mu.Lock()
	q := s.quotes[symbol]
	q.LastPrice = price
	q.LastQty = qty
	q.UpdatedAt = at
	s.quotes[symbol] = q
	s.mu.Unlock()
}

// ApplyTop records the current best bid and ask for a symbol.
func (c *QuoteCache) ApplyTop(symbol string, bid, ask float64, at time.Time) {
	if c == nil {
		return
	}
	s := c.shardFor(symbol)
	s.mu.Lock()
	q := s.quotes[symbol]
	q.BestBid = bid
	q.BestAsk = ask
	q.UpdatedAt = at
	s.quotes[symbol] = q
	s.mu.Unlock()
}

// Get returns the cached quote for a symbol.
func (c *QuoteCache) Get(symbol string) (Quote, bool) {
	if c == nil {
		return Quote{}, false
	}
	s := c.shardFor(symbol)
	s.mu.RLock()
	q, ok := s.quotes[symbol]
	s.mu.RUnlock()
	return q, ok
}

// GetWithAge returns the quote and how long ago it was updated.
func (c *QuoteCache) GetWithAge(symbol string) (Quote, time.Duration, bool) {
	q, ok := c.Get(symbol)
	if !ok {
		return Quote{}, 0, false
	}
	return q, time.Since(q.UpdatedAt), true
}

// Delete removes a symbol, for example after it is unsubscribed.
func (c *QuoteCache) Delete(symbol string) {
	if c == nil {
		return
	}
	s := c.shardFor(symbol)
	s.mu.Lock()
	delete(s.quotes, symbol)
	s.mu.Unlock()
}

// Len reports the number of cached symbols.
func (c *QuoteCache) Len() int {
	if c == nil {
		return 0
	}
	n := 0
	for _, s := range c.shards {
		s.mu.RLock()
		n += len(s.quotes)
		s.mu.RUnlock()
	}
	return n
}
