package bybit

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/tidwall/gjson"

	"github.com/unkuseni/rs-smm-v2/internal/events"
	"github.com/unkuseni/rs-smm-v2/pkg/exchanges/common"
)

const pingInterval = 20 * time.Second

// SubscribeMarket opens the public linear stream for the given symbols. The
// returned channel stays open across reconnects; after each reconnect the
// venue replays a fresh book snapshot, so consumers resynchronize without
// any extra signalling.
func (c *Client) SubscribeMarket(ctx context.Context, symbols []string) (<-chan events.MarketEvent, func(), error) {
	if len(symbols) == 0 {
		return nil, nil, fmt.Errorf("bybit: no symbols to subscribe")
	}
	args := make([]string, 0, len(symbols)*3)
	for _, s := range symbols {
		args = append(args,
			"orderbook.50."+s,
			"publicTrade."+s,
			"tickers."+s,
		)
	}

	out := make(chan events.MarketEvent, 256)
	sctx, cancel := context.WithCancel(ctx)
	rc := common.NewReconnector("bybit public", c.log)

	go func() {
		defer close(out)
		rc.Run(sctx, func(ctx context.Context) error {
			return c.runPublic(ctx, rc, args, out)
		})
	}()

	var once sync.Once
	stop := func() { once.Do(cancel) }
	return out, stop, nil
}

func (c *Client) runPublic(ctx context.Context, rc *common.Reconnector, args []string, out chan<- events.MarketEvent) error {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, c.wsPublicURL, nil)
	if err != nil {
		return fmt.Errorf("%w: dial public ws: %v", common.ErrConnection, err)
	}
	defer conn.Close()

	var writeMu sync.Mutex
	writeJSON := func(v any) error {
		writeMu.Lock()
		defer writeMu.Unlock()
		return conn.WriteJSON(v)
	}

	if err := writeJSON(map[string]any{"op": "subscribe", "args": args}); err != nil {
		return fmt.Errorf("%w: subscribe: %v", common.ErrConnection, err)
	}
	rc.SetState(common.ConnAwaitingSnapshot)

	pingCtx, stopPing := context.WithCancel(ctx)
	defer stopPing()
	go func() {
		ticker := time.NewTicker(pingInterval)
		defer ticker.Stop()
		for {
			select {
			case <-pingCtx.Done():
				return
			case <-ticker.C:
				if err := writeJSON(map[string]string{"op": "ping"}); err != nil {
					return
				}
			}
		}
	}()

	// Partial ticker frames are merged into the last full view per symbol.
	tickers := make(map[string]*events.Ticker)

	for {
		if err := ctx.Err(); err != nil {
			return nil
		}
		_, msg, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil || websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) ||
				strings.Contains(err.Error(), "use of closed network connection") {
				return nil
			}
			return fmt.Errorf("%w: read public ws: %v", common.ErrConnection, err)
		}

		for _, ev := range parsePublicFrame(msg, tickers) {
			if ev.Snapshot != nil {
				rc.SetState(common.ConnStreaming)
			}
			select {
			case out <- ev:
			case <-ctx.Done():
				return nil
			}
		}
	}
}

// parsePublicFrame converts one raw public frame into zero or more market
// events. tickers caches the last full ticker per symbol so delta frames,
// which omit unchanged fields, still produce complete events.
func parsePublicFrame(msg []byte, tickers map[string]*events.Ticker) []events.MarketEvent {
	topic := gjson.GetBytes(msg, "topic").String()
	if topic == "" {
		// op acks and pongs
		return nil
	}
	ts := time.UnixMilli(gjson.GetBytes(msg, "ts").Int())
	data := gjson.GetBytes(msg, "data")

	switch {
	case strings.HasPrefix(topic, "orderbook."):
		return parseOrderbookFrame(msg, data, ts)
	case strings.HasPrefix(topic, "publicTrade."):
		return parseTradeFrame(data)
	case strings.HasPrefix(topic, "tickers."):
		return parseTickerFrame(msg, data, ts, tickers)
	}
	return nil
}

func parseOrderbookFrame(msg []byte, data gjson.Result, ts time.Time) []events.MarketEvent {
	symbol := data.Get("s").String()
	seq := data.Get("u").Uint()
	bids := parseWSLevels(data.Get("b"))
	asks := parseWSLevels(data.Get("a"))

	// u == 1 marks a snapshot replay after a venue-side restart.
	if gjson.GetBytes(msg, "type").String() == "snapshot" || seq == 1 {
		return []events.MarketEvent{{
			Venue: "bybit",
			Snapshot: &events.BookSnapshot{
				Symbol:   symbol,
				Bids:     bids,
				Asks:     asks,
				Sequence: seq,
				Time:     ts,
			},
		}}
	}
	return []events.MarketEvent{{
		Venue: "bybit",
		Delta: &events.BookDelta{
			Symbol:        symbol,
			Bids:          bids,
			Asks:          asks,
			SequenceStart: seq,
			SequenceEnd:   seq,
			Time:          ts,
		},
	}}
}

func parseTradeFrame(data gjson.Result) []events.MarketEvent {
	var out []events.MarketEvent
	data.ForEach(func(_, t gjson.Result) bool {
		side := events.SideSell
		if t.Get("S").String() == "Buy" {
			side = events.SideBuy
		}
		out = append(out, events.MarketEvent{
			Venue: "bybit",
			Trade: &events.Trade{
				Symbol:  t.Get("s").String(),
				Price:   t.Get("p").Float(),
				Qty:     t.Get("v").Float(),
				Side:    side,
				TradeID: t.Get("i").String(),
				Time:    time.UnixMilli(t.Get("T").Int()),
			},
		})
		return true
	})
	return out
}

func parseTickerFrame(msg []byte, data gjson.Result, ts time.Time, tickers map[string]*events.Ticker) []events.MarketEvent {
	symbol := data.Get("symbol").String()
	if symbol == "" {
		return nil
	}
	cur, ok := tickers[symbol]
	if !ok {
		cur = &events.Ticker{Symbol: symbol}
		tickers[symbol] = cur
	}
	if v := data.Get("bid1Price"); v.Exists() {
		cur.BestBid = v.Float()
	}
	if v := data.Get("bid1Size"); v.Exists() {
		cur.BidQty = v.Float()
	}
	if v := data.Get("ask1Price"); v.Exists() {
		cur.BestAsk = v.Float()
	}
	if v := data.Get("ask1Size"); v.Exists() {
		cur.AskQty = v.Float()
	}
	cur.Time = ts

	// Delta frames before the first snapshot can be incomplete.
	if gjson.GetBytes(msg, "type").String() == "delta" && (cur.BestBid == 0 || cur.BestAsk == 0) {
		return nil
	}
	snapshot := *cur
	return []events.MarketEvent{{Venue: "bybit", Ticker: &snapshot}}
}

func parseWSLevels(arr gjson.Result) []events.Level {
	var out []events.Level
	arr.ForEach(func(_, lvl gjson.Result) bool {
		raw := lvl.Array()
		if len(raw) < 2 {
			return true
		}
		out = append(out, events.Level{Price: raw[0].Float(), Qty: raw[1].Float()})
		return true
	})
	return out
}
