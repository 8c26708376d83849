package binance

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/unkuseni/rs-smm-v2/internal/events"
	"github.com/unkuseni/rs-smm-v2/pkg/exchanges/common"
)

// SubscribeMarket opens the combined public stream for the given symbols.
// The channel stays open across reconnects. Binance streams carry deltas
// only; book bootstrap goes through Snapshot.
func (c *Client) SubscribeMarket(ctx context.Context, symbols []string) (<-chan events.MarketEvent, func(), error) {
	if len(symbols) == 0 {
		return nil, nil, fmt.Errorf("binance: no symbols to subscribe")
	}
	streams := make([]string, 0, len(symbols)*3)
	for _, s := range symbols {
		ls := strings.ToLower(s)
		streams = append(streams,
			ls+"@depth@100ms",
			ls+"@aggTrade",
			ls+"@bookTicker",
		)
	}
	u := c.wsBaseURL + "/stream?streams=" + strings.Join(streams, "/")

	out := make(chan events.MarketEvent, 256)
	sctx, cancel := context.WithCancel(ctx)
	rc := common.NewReconnector("binance market", c.log)

	go func() {
		defer close(out)
		rc.Run(sctx, func(ctx context.Context) error {
			return c.runMarket(ctx, rc, u, out)
		})
	}()

	var once sync.Once
	stop := func() { once.Do(cancel) }
	return out, stop, nil
}

func (c *Client) runMarket(ctx context.Context, rc *common.Reconnector, u string, out chan<- events.MarketEvent) error {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, u, nil)
	if err != nil {
		return fmt.Errorf("%w: dial market ws: %v", common.ErrConnection, err)
	}
	defer conn.Close()
	// Consumers must re-bootstrap from a REST snapshot after every
	// reconnect; the first delta's span will not cover their stale state.
	rc.SetState(common.ConnAwaitingSnapshot)

	conn.SetPingHandler(func(appData string) error {
		return conn.WriteControl(websocket.PongMessage, []byte(appData), time.Now().Add(time.Second))
	})

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
			return fmt.Errorf("%w: read market ws: %v", common.ErrConnection, err)
		}

		ev, ok := parseMarketFrame(msg)
		if !ok {
			continue
		}
		rc.SetState(common.ConnStreaming)
		select {
		case out <- ev:
		case <-ctx.Done():
			return nil
		}
	}
}

// parseMarketFrame decodes one combined-stream frame. The bool result is
// false for frames that carry no market event.
func parseMarketFrame(msg []byte) (events.MarketEvent, bool) {
	var frame struct {
		Stream string          `json:"stream"`
		Data   json.RawMessage `json:"data"`
	}
	if err := json.Unmarshal(msg, &frame); err != nil || len(frame.Data) == 0 {
		return events.MarketEvent{}, false
	}

	// Both "e" and "E" must be declared: encoding/json matches tags
	// case-insensitively, so without the exact "E" sibling the numeric event
	// time would land in the string field and fail the whole unmarshal.
	var head struct {
		Event     string `json:"e"`
		EventTime int64  `json:"E"`
	}
	if err := json.Unmarshal(frame.Data, &head); err != nil {
		return events.MarketEvent{}, false
	}

	switch head.Event {
	case "depthUpdate":
		return parseDepthUpdate(frame.Data)
	case "aggTrade":
		return parseAggTrade(frame.Data)
	case "bookTicker":
		return parseBookTicker(frame.Data)
	}
	return events.MarketEvent{}, false
}

func parseDepthUpdate(data []byte) (events.MarketEvent, bool) {
	var raw struct {
		Event     string      `json:"e"`
		EventTime int64       `json:"E"`
		Symbol    string      `json:"s"`
		First     uint64      `json:"U"`
		Final     uint64      `json:"u"`
		Bids      [][2]string `json:"b"`
		Asks      [][2]string `json:"a"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return events.MarketEvent{}, false
	}
	return events.MarketEvent{
		Venue: "binance",
		Delta: &events.BookDelta{
			Symbol:        raw.Symbol,
			Bids:          toLevels(raw.Bids),
			Asks:          toLevels(raw.Asks),
			SequenceStart: raw.First,
			SequenceEnd:   raw.Final,
			Time:          time.UnixMilli(raw.EventTime),
		},
	}, true
}

func parseAggTrade(data []byte) (events.MarketEvent, bool) {
	var raw struct {
		Symbol       string `json:"s"`
		AggID        int64  `json:"a"`
		Price        string `json:"p"`
		Qty          string `json:"q"`
		TradeTime    int64  `json:"T"`
		BuyerIsMaker bool   `json:"m"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return events.MarketEvent{}, false
	}
	side := events.SideBuy
	if raw.BuyerIsMaker {
		side = events.SideSell
	}
	return events.MarketEvent{
		Venue: "binance",
		Trade: &events.Trade{
			Symbol:  raw.Symbol,
			Price:   parseFloat(raw.Price),
			Qty:     parseFloat(raw.Qty),
			Side:    side,
			TradeID: fmt.Sprintf("%d", raw.AggID),
			Time:    time.UnixMilli(raw.TradeTime),
		},
	}, true
}

func parseBookTicker(data []byte) (events.MarketEvent, bool) {
	var raw struct {
		Event     string `json:"e"`
		EventTime int64  `json:"E"`
		Symbol    string `json:"s"`
		BidPrice  string `json:"b"`
		BidQty    string `json:"B"`
		AskPrice  string `json:"a"`
		AskQty    string `json:"A"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return events.MarketEvent{}, false
	}
	return events.MarketEvent{
		Venue: "binance",
		Ticker: &events.Ticker{
			Symbol:  raw.Symbol,
			BestBid: parseFloat(raw.BidPrice),
			BidQty:  parseFloat(raw.BidQty),
			BestAsk: parseFloat(raw.AskPrice),
			AskQty:  parseFloat(raw.AskQty),
			Time:    time.UnixMilli(raw.EventTime),
		},
	}, true
}
