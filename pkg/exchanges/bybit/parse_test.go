package bybit

import (
	"errors"
	"testing"

	"github.com/unkuseni/rs-smm-v2/internal/events"
	"github.com/unkuseni/rs-smm-v2/pkg/exchanges/common"
)

func TestParseOrderbookSnapshot(t *testing.T) {
	msg := []byte(`{
		"topic":"orderbook.50.BTCUSDT","type":"snapshot","ts":1672304484978,
		"data":{"s":"BTCUSDT","b":[["16493.50","0.006"],["16493.00","0.100"]],"a":[["16611.00","0.029"]],"u":18521288,"seq":7961638724}
	}`)

	got := parsePublicFrame(msg, map[string]*events.Ticker{})
	if len(got) != 1 {
		t.Fatalf("got %d events, want 1", len(got))
	}
	snap := got[0].Snapshot
	if snap == nil {
		t.Fatal("expected a snapshot event")
	}
	if snap.Symbol != "BTCUSDT" {
		t.Errorf("Symbol = %q, want BTCUSDT", snap.Symbol)
	}
	if snap.Sequence != 18521288 {
		t.Errorf("Sequence = %d, want 18521288", snap.Sequence)
	}
	if len(snap.Bids) != 2 || len(snap.Asks) != 1 {
		t.Fatalf("levels = %d bids / %d asks, want 2/1", len(snap.Bids), len(snap.Asks))
	}
	if snap.Bids[0].Price != 16493.50 || snap.Bids[0].Qty != 0.006 {
		t.Errorf("first bid = %+v", snap.Bids[0])
	}
}

func TestParseOrderbookDelta(t *testing.T) {
	msg := []byte(`{
		"topic":"orderbook.50.BTCUSDT","type":"delta","ts":1687940967466,
		"data":{"s":"BTCUSDT","b":[["30240.00","0"]],"a":[],"u":177400507,"seq":66544703342}
	}`)

	got := parsePublicFrame(msg, map[string]*events.Ticker{})
	if len(got) != 1 || got[0].Delta == nil {
		t.Fatalf("expected one delta event, got %+v", got)
	}
	d := got[0].Delta
	if d.SequenceStart != 177400507 || d.SequenceEnd != 177400507 {
		t.Errorf("sequence = [%d,%d], want both 177400507", d.SequenceStart, d.SequenceEnd)
	}
	if len(d.Bids) != 1 || d.Bids[0].Qty != 0 {
		t.Errorf("expected one zero-qty bid, got %+v", d.Bids)
	}
}

func TestParseOrderbookRestartSnapshot(t *testing.T) {
	// u == 1 is a snapshot even when the frame says delta.
	msg := []byte(`{
		"topic":"orderbook.50.BTCUSDT","type":"delta","ts":1,
		"data":{"s":"BTCUSDT","b":[["1.0","1"]],"a":[["2.0","1"]],"u":1,"seq":2}
	}`)

	got := parsePublicFrame(msg, map[string]*events.Ticker{})
	if len(got) != 1 || got[0].Snapshot == nil {
		t.Fatalf("expected a snapshot event, got %+v", got)
	}
}

func TestParseTrades(t *testing.T) {
	msg := []byte(`{
		"topic":"publicTrade.BTCUSDT","type":"snapshot","ts":1672304486868,
		"data":[
			{"T":1672304486865,"s":"BTCUSDT","S":"Buy","v":"0.001","p":"16578.50","i":"20f43950-d8dd-5b31-9112-a178eb6023af"},
			{"T":1672304486866,"s":"BTCUSDT","S":"Sell","v":"0.030","p":"16578.00","i":"30f43950"}
		]
	}`)

	got := parsePublicFrame(msg, map[string]*events.Ticker{})
	if len(got) != 2 {
		t.Fatalf("got %d events, want 2", len(got))
	}
	first := got[0].Trade
	if first == nil {
		t.Fatal("expected a trade event")
	}
	if first.Side != events.SideBuy || first.Price != 16578.50 || first.Qty != 0.001 {
		t.Errorf("first trade = %+v", first)
	}
	if got[1].Trade.Side != events.SideSell {
		t.Errorf("second trade side = %v, want SELL", got[1].Trade.Side)
	}
}

func TestParseTickerMergesDeltas(t *testing.T) {
	cache := map[string]*events.Ticker{}

	snap := []byte(`{
		"topic":"tickers.BTCUSDT","type":"snapshot","ts":1,
		"data":{"symbol":"BTCUSDT","bid1Price":"100.0","bid1Size":"2","ask1Price":"101.0","ask1Size":"3"}
	}`)
	got := parsePublicFrame(snap, cache)
	if len(got) != 1 || got[0].Ticker == nil {
		t.Fatalf("expected one ticker event, got %+v", got)
	}

	// Delta carries only the changed ask; bid must survive from the cache.
	delta := []byte(`{
		"topic":"tickers.BTCUSDT","type":"delta","ts":2,
		"data":{"symbol":"BTCUSDT","ask1Price":"102.0","ask1Size":"1"}
	}`)
	got = parsePublicFrame(delta, cache)
	if len(got) != 1 {
		t.Fatalf("got %d events, want 1", len(got))
	}
	tick := got[0].Ticker
	if tick.BestBid != 100.0 || tick.BestAsk != 102.0 {
		t.Errorf("ticker = bid %v / ask %v, want 100 / 102", tick.BestBid, tick.BestAsk)
	}
}

func TestParsePrivateOrder(t *testing.T) {
	msg := []byte(`{
		"topic":"order",
		"data":[{
			"symbol":"ETHUSDT","orderId":"5cf98598","orderLinkId":"test-001","side":"Sell",
			"orderStatus":"PartiallyFilled","price":"2687.5","qty":"2.0","cumExecQty":"0.5",
			"avgPrice":"2687.5","rejectReason":"EC_NoError","updatedTime":"1672364262457"
		}]
	}`)

	got := parsePrivateFrame(msg)
	if len(got) != 1 || got[0].Order == nil {
		t.Fatalf("expected one order event, got %+v", got)
	}
	o := got[0].Order
	if o.ClientID != "test-001" || o.VenueID != "5cf98598" {
		t.Errorf("ids = %q/%q", o.ClientID, o.VenueID)
	}
	if o.Status != events.StatusPartiallyFilled {
		t.Errorf("Status = %v, want PARTIALLY_FILLED", o.Status)
	}
	if o.FilledQty != 0.5 {
		t.Errorf("FilledQty = %v, want 0.5", o.FilledQty)
	}
}

func TestParsePrivateExecution(t *testing.T) {
	msg := []byte(`{
		"topic":"execution",
		"data":[{
			"symbol":"ETHUSDT","orderId":"5cf98598","orderLinkId":"test-001","side":"Buy",
			"execPrice":"2688.0","execQty":"0.25","execFee":"0.0134","isMaker":true,"execTime":"1672364174443"
		}]
	}`)

	got := parsePrivateFrame(msg)
	if len(got) != 1 || got[0].Fill == nil {
		t.Fatalf("expected one fill event, got %+v", got)
	}
	f := got[0].Fill
	if !f.IsMaker || f.Price != 2688.0 || f.Qty != 0.25 {
		t.Errorf("fill = %+v", f)
	}
}

func TestParsePrivatePositionSignsQty(t *testing.T) {
	msg := []byte(`{
		"topic":"position",
		"data":[{"symbol":"BTCUSDT","side":"Sell","size":"0.5","entryPrice":"30000","unrealisedPnl":"-12.5","leverage":"10","updatedTime":"1"}]
	}`)

	got := parsePrivateFrame(msg)
	if len(got) != 1 || got[0].Position == nil {
		t.Fatalf("expected one position event, got %+v", got)
	}
	if got[0].Position.Qty != -0.5 {
		t.Errorf("Qty = %v, want -0.5", got[0].Position.Qty)
	}
}

func TestMapRetCode(t *testing.T) {
	tests := []struct {
		code int
		want error
	}{
		{0, nil},
		{10003, common.ErrAuth},
		{10004, common.ErrAuth},
		{33004, common.ErrAuth},
		{10006, common.ErrRateLimited},
		{10016, common.ErrConnection},
	}
	for _, tt := range tests {
		err := mapRetCode(tt.code, "msg")
		if tt.want == nil {
			if err != nil {
				t.Errorf("mapRetCode(%d) = %v, want nil", tt.code, err)
			}
			continue
		}
		if !errors.Is(err, tt.want) {
			t.Errorf("mapRetCode(%d) = %v, want %v", tt.code, err, tt.want)
		}
	}

	// Unknown codes are preserved as rejections.
	err := mapRetCode(110007, "ab not enough for new order")
	var rej *common.RejectionError
	if !errors.As(err, &rej) {
		t.Fatalf("mapRetCode(110007) = %v, want RejectionError", err)
	}
	if rej.Code != 110007 || rej.Reason != "ab not enough for new order" {
		t.Errorf("rejection = %+v", rej)
	}
}

func TestToPayload(t *testing.T) {
	p := toPayload(common.OrderRequest{
		ClientID:    "c-1",
		Symbol:      "BTCUSDT",
		Side:        events.SideBuy,
		Type:        common.OrderTypeLimit,
		Price:       30000.5,
		Qty:         0.01,
		TimeInForce: common.TIFPostOnly,
	})
	if p.Side != "Buy" || p.OrderType != "Limit" {
		t.Errorf("side/type = %q/%q", p.Side, p.OrderType)
	}
	if p.Price != "30000.5" || p.Qty != "0.01" {
		t.Errorf("price/qty = %q/%q", p.Price, p.Qty)
	}
	if p.TimeInForce != "PostOnly" {
		t.Errorf("TimeInForce = %q, want PostOnly", p.TimeInForce)
	}

	m := toPayload(common.OrderRequest{Symbol: "BTCUSDT", Side: events.SideSell, Type: common.OrderTypeMarket, Qty: 1})
	if m.OrderType != "Market" || m.Price != "" || m.TimeInForce != "" {
		t.Errorf("market payload = %+v", m)
	}
}
