package cache

import (
	"fmt"
	"sync"
	"testing"
	"time"
)

func TestQuoteCacheTradeAndTop(t *testing.T) {
	c := NewQuoteCache()
	now := time.Now()

	c.ApplyTrade("BTCUSDT", 50000, 0.25, now)
	q, ok := c.Get("BTCUSDT")
	if !ok {
		t.Fatal("expected quote after trade")
	}
	if q.LastPrice != 50000 || q.LastQty != 0.25 {
		t.Errorf("last = %v/%v, want 50000/0.25", q.LastPrice, q.LastQty)
	}

	c.ApplyTop("BTCUSDT", 49999.5, 50000.5, now)
	q, _ = c.Get("BTCUSDT")
	if q.BestBid != 49999.5 || q.BestAsk != 50000.5 {
		t.Errorf("top = %v/%v, want 49999.5/50000.5", q.BestBid, q.BestAsk)
	}
	if q.LastPrice != 50000 {
		t.Errorf("top update clobbered last price: %v", q.LastPrice)
	}
}

func TestQuoteCacheMiss(t *testing.T) {
	c := NewQuoteCache()
	if _, ok := c.Get("ETHUSDT"); ok {
		t.Error("expected miss for unknown symbol")
	}
	if _, _, ok := c.GetWithAge("ETHUSDT"); ok {
		t.Error("expected miss for unknown symbol")
	}
}

func TestQuoteCacheDelete(t *testing.T) {
	c := NewQuoteCache()
	c.ApplyTrade("BTCUSDT", 50000, 1, time.Now())
	c.Delete("BTCUSDT")
	if _, ok := c.Get("BTCUSDT"); ok {
		t.Error("expected miss after delete")
	}
	if c.Len() != 0 {
		t.Errorf("Len = %d, want 0", c.Len())
	}
}

func TestQuoteCacheNilSafe(t *testing.T) {
	var c *QuoteCache
	c.ApplyTrade("BTCUSDT", 1, 1, time.Now())
	c.ApplyTop("BTCUSDT", 1, 2, time.Now())
	c.Delete("BTCUSDT")
	if _, ok := c.Get("BTCUSDT"); ok {
		t.Error("nil cache returned a quote")
	}
	if c.Len() != 0 {
		t.Error("nil cache reported entries")
	}
}

func TestQuoteCacheConcurrent(t *testing.T) {
	c := NewQuoteCache()
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			sym := fmt.Sprintf("SYM%dUSDT", n)
			for j := 0; j < 1000; j++ {
				c.ApplyTrade(sym, float64(j), 1, time.Now())
				c.Get(sym)
			}
		}(i)
	}
	wg.Wait()
	if c.Len() != 8 {
		t.Errorf("Len = %d, want 8", c.Len())
	}
}
